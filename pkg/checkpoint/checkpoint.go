package checkpoint

import (
	"context"
	"errors"
	"time"

	"github.com/whizbang-io/whizbang/pkg/types"
)

// ErrNotFound is returned when no checkpoint exists for the pair
var ErrNotFound = errors.New("checkpoint not found")

// Store tracks per-(stream, projection) read-model cursors
type Store interface {
	// Get returns the checkpoint for the pair, or ErrNotFound
	Get(ctx context.Context, streamID, projectionName string) (*types.Checkpoint, error)

	// List returns every checkpoint for the stream. An empty streamID
	// lists all checkpoints.
	List(ctx context.Context, streamID string) ([]types.Checkpoint, error)

	// Complete applies a projection outcome: advances last_event_id
	// monotonically, merges status bits and stamps processed_at
	Complete(ctx context.Context, c types.CheckpointCompletion) error
}

// applyCompletion merges an update into the existing checkpoint state.
//
// last_event_id only advances (event IDs are time ordered, so string
// comparison is chronological). The CatchingUp bit survives updates made
// by the main path while a catch-up job runs, and is cleared once a
// Completed update lands.
func applyCompletion(existing *types.Checkpoint, c types.CheckpointCompletion, now time.Time) types.Checkpoint {
	next := types.Checkpoint{
		StreamID:       c.StreamID,
		ProjectionName: c.ProjectionName,
		LastEventID:    c.LastEventID,
		Status:         c.Status,
		ProcessedAt:    &now,
	}
	if c.Error != "" {
		errMsg := c.Error
		next.Error = &errMsg
	}

	if existing != nil {
		if existing.LastEventID > c.LastEventID {
			next.LastEventID = existing.LastEventID
		}
		if existing.Status.Has(types.StatusCatchingUp) {
			next.Status = next.Status.Set(types.StatusCatchingUp)
		}
	}

	if next.Status.Has(types.StatusCatchingUp) && c.Status.Has(types.StatusCompleted) {
		next.Status = next.Status.Clear(types.StatusCatchingUp)
	}
	return next
}
