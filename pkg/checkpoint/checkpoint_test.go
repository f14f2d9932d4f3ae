package checkpoint

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/whizbang-io/whizbang/pkg/envelope"
	"github.com/whizbang-io/whizbang/pkg/types"
)

func TestCompleteCreatesCheckpoint(t *testing.T) {
	store := NewMemory()
	ctx := context.Background()

	eventID := envelope.NewEventID().String()
	require.NoError(t, store.Complete(ctx, types.CheckpointCompletion{
		StreamID:       "order-1",
		ProjectionName: "OrderSummary",
		LastEventID:    eventID,
		Status:         types.StatusCompleted,
	}))

	cp, err := store.Get(ctx, "order-1", "OrderSummary")
	require.NoError(t, err)
	assert.Equal(t, eventID, cp.LastEventID)
	assert.True(t, cp.Status.Has(types.StatusCompleted))
	require.NotNil(t, cp.ProcessedAt)
}

func TestGetUnknownCheckpoint(t *testing.T) {
	store := NewMemory()

	_, err := store.Get(context.Background(), "order-1", "OrderSummary")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestLastEventIDAdvancesMonotonically(t *testing.T) {
	store := NewMemory()
	ctx := context.Background()

	older := envelope.NewEventID().String()
	newer := envelope.NewEventID().String()

	require.NoError(t, store.Complete(ctx, types.CheckpointCompletion{
		StreamID: "order-1", ProjectionName: "OrderSummary",
		LastEventID: newer, Status: types.StatusCompleted,
	}))
	// A straggler reporting an older event must not move the cursor back
	require.NoError(t, store.Complete(ctx, types.CheckpointCompletion{
		StreamID: "order-1", ProjectionName: "OrderSummary",
		LastEventID: older, Status: types.StatusCompleted,
	}))

	cp, err := store.Get(ctx, "order-1", "OrderSummary")
	require.NoError(t, err)
	assert.Equal(t, newer, cp.LastEventID)
}

func TestCatchingUpPreservedThenCleared(t *testing.T) {
	store := NewMemory()
	ctx := context.Background()

	// A catch-up job marks the checkpoint
	require.NoError(t, store.Complete(ctx, types.CheckpointCompletion{
		StreamID: "order-1", ProjectionName: "OrderSummary",
		LastEventID: envelope.NewEventID().String(),
		Status:      types.StatusCatchingUp,
	}))

	// A failed live update must not drop the CatchingUp bit
	require.NoError(t, store.Complete(ctx, types.CheckpointCompletion{
		StreamID: "order-1", ProjectionName: "OrderSummary",
		LastEventID: envelope.NewEventID().String(),
		Status:      types.StatusFailed,
		Error:       "projection panicked",
	}))

	cp, err := store.Get(ctx, "order-1", "OrderSummary")
	require.NoError(t, err)
	assert.True(t, cp.Status.Has(types.StatusCatchingUp))
	assert.True(t, cp.Status.Has(types.StatusFailed))
	require.NotNil(t, cp.Error)

	// A Completed update ends the catch-up
	require.NoError(t, store.Complete(ctx, types.CheckpointCompletion{
		StreamID: "order-1", ProjectionName: "OrderSummary",
		LastEventID: envelope.NewEventID().String(),
		Status:      types.StatusCompleted,
	}))

	cp, err = store.Get(ctx, "order-1", "OrderSummary")
	require.NoError(t, err)
	assert.False(t, cp.Status.Has(types.StatusCatchingUp))
	assert.True(t, cp.Status.Has(types.StatusCompleted))
}

func TestListFiltersByStream(t *testing.T) {
	store := NewMemory()
	ctx := context.Background()

	for _, pair := range []struct{ stream, projection string }{
		{"order-1", "OrderSummary"},
		{"order-1", "OrderAudit"},
		{"order-2", "OrderSummary"},
	} {
		require.NoError(t, store.Complete(ctx, types.CheckpointCompletion{
			StreamID:       pair.stream,
			ProjectionName: pair.projection,
			LastEventID:    envelope.NewEventID().String(),
			Status:         types.StatusCompleted,
		}))
	}

	scoped, err := store.List(ctx, "order-1")
	require.NoError(t, err)
	assert.Len(t, scoped, 2)

	all, err := store.List(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 3)
}
