package checkpoint

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/whizbang-io/whizbang/pkg/types"
)

const (
	getSQL = `
SELECT stream_id, projection_name, last_event_id, status, processed_at, error
FROM wb_perspective_checkpoints
WHERE stream_id = $1 AND projection_name = $2`

	listSQL = `
SELECT stream_id, projection_name, last_event_id, status, processed_at, error
FROM wb_perspective_checkpoints
WHERE $1 = '' OR stream_id = $1
ORDER BY stream_id, projection_name`

	// Bit 2 = completed, bit 8 = catching up. last_event_id only moves
	// forward; event IDs are time ordered so GREATEST is chronological.
	completeSQL = `
INSERT INTO wb_perspective_checkpoints (
	stream_id, projection_name, last_event_id, status, processed_at, error
) VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (stream_id, projection_name) DO UPDATE SET
	last_event_id = GREATEST(wb_perspective_checkpoints.last_event_id, EXCLUDED.last_event_id),
	status = CASE WHEN EXCLUDED.status & 2 <> 0
		THEN EXCLUDED.status & ~8
		ELSE EXCLUDED.status | (wb_perspective_checkpoints.status & 8) END,
	processed_at = EXCLUDED.processed_at,
	error = EXCLUDED.error`
)

// Complete applies a projection outcome against the given executor, which
// may be a plain connection or a transaction already in flight (the
// coordinator runs it inside the batch transaction)
func Complete(ctx context.Context, ext sqlx.ExtContext, c types.CheckpointCompletion) error {
	var errMsg *string
	if c.Error != "" {
		errMsg = &c.Error
	}
	_, err := ext.ExecContext(ctx, completeSQL,
		c.StreamID, c.ProjectionName, c.LastEventID, c.Status,
		time.Now().UTC(), errMsg,
	)
	if err != nil {
		return fmt.Errorf("failed to complete checkpoint %s/%s: %w", c.StreamID, c.ProjectionName, err)
	}
	return nil
}

// Postgres implements Store over the wb_perspective_checkpoints table
type Postgres struct {
	db *sqlx.DB
}

// NewPostgres creates a Postgres-backed checkpoint store
func NewPostgres(db *sqlx.DB) *Postgres {
	return &Postgres{db: db}
}

func (p *Postgres) Get(ctx context.Context, streamID, projectionName string) (*types.Checkpoint, error) {
	var cp types.Checkpoint
	if err := p.db.GetContext(ctx, &cp, getSQL, streamID, projectionName); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get checkpoint %s/%s: %w", streamID, projectionName, err)
	}
	return &cp, nil
}

func (p *Postgres) List(ctx context.Context, streamID string) ([]types.Checkpoint, error) {
	var checkpoints []types.Checkpoint
	if err := p.db.SelectContext(ctx, &checkpoints, listSQL, streamID); err != nil {
		return nil, fmt.Errorf("failed to list checkpoints: %w", err)
	}
	return checkpoints, nil
}

func (p *Postgres) Complete(ctx context.Context, c types.CheckpointCompletion) error {
	return Complete(ctx, p.db, c)
}
