package storage

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/whizbang-io/whizbang/pkg/types"
)

func newTestStore(t *testing.T) *BoltStore {
	t.Helper()
	store, err := NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestOutboxCRUD(t *testing.T) {
	store := newTestStore(t)

	record := &types.OutboxRecord{
		MessageID:   "m-1",
		Destination: "orders",
		MessageType: "OrderPlaced, Orders",
		MessageData: []byte(`{"OrderId":"42"}`),
		Status:      types.StatusPending,
		CreatedAt:   time.Now().UTC(),
	}
	require.NoError(t, store.PutOutbox(record))

	got, err := store.GetOutbox("m-1")
	require.NoError(t, err)
	assert.Equal(t, record.MessageID, got.MessageID)
	assert.Equal(t, record.MessageType, got.MessageType)
	assert.Equal(t, types.StatusPending, got.Status)

	records, err := store.ListOutbox()
	require.NoError(t, err)
	assert.Len(t, records, 1)

	require.NoError(t, store.DeleteOutbox("m-1"))
	_, err = store.GetOutbox("m-1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestInboxCRUD(t *testing.T) {
	store := newTestStore(t)

	record := &types.InboxRecord{
		MessageID:   "m-2",
		HandlerName: "OrderHandler",
		MessageType: "OrderPlaced, Orders",
		Status:      types.StatusPending,
		ReceivedAt:  time.Now().UTC(),
		CreatedAt:   time.Now().UTC(),
	}
	require.NoError(t, store.PutInbox(record))

	got, err := store.GetInbox("m-2")
	require.NoError(t, err)
	assert.Equal(t, "OrderHandler", got.HandlerName)

	require.NoError(t, store.DeleteInbox("m-2"))
	records, err := store.ListInbox()
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestEventsOrderedBySequence(t *testing.T) {
	store := newTestStore(t)

	// Insert out of order; list must come back in sequence order
	for _, seq := range []int64{3, 1, 2} {
		require.NoError(t, store.PutEvent(&types.EventRecord{
			EventID:        fmt.Sprintf("e-%d", seq),
			StreamID:       "order-42",
			SequenceNumber: seq,
			Version:        seq,
			CreatedAt:      time.Now().UTC(),
		}))
	}

	records, err := store.ListEvents()
	require.NoError(t, err)
	require.Len(t, records, 3)
	for i, record := range records {
		assert.Equal(t, int64(i+1), record.SequenceNumber)
	}
}

func TestCheckpointCompositeKey(t *testing.T) {
	store := newTestStore(t)

	require.NoError(t, store.PutCheckpoint(&types.Checkpoint{
		StreamID:       "order-42",
		ProjectionName: "OrderSummary",
		LastEventID:    "e-1",
		Status:         types.StatusReceptorProcessed,
	}))
	require.NoError(t, store.PutCheckpoint(&types.Checkpoint{
		StreamID:       "order-42",
		ProjectionName: "OrderAudit",
		LastEventID:    "e-2",
	}))

	got, err := store.GetCheckpoint("order-42", "OrderSummary")
	require.NoError(t, err)
	assert.Equal(t, "e-1", got.LastEventID)

	all, err := store.ListCheckpoints()
	require.NoError(t, err)
	assert.Len(t, all, 2)

	_, err = store.GetCheckpoint("order-42", "Missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestInstanceAndStreamCRUD(t *testing.T) {
	store := newTestStore(t)

	require.NoError(t, store.PutInstance(&types.ServiceInstance{
		InstanceID:      "inst-a",
		ServiceName:     "orders",
		LastHeartbeatAt: time.Now().UTC(),
	}))
	instances, err := store.ListInstances()
	require.NoError(t, err)
	assert.Len(t, instances, 1)
	require.NoError(t, store.DeleteInstance("inst-a"))

	require.NoError(t, store.PutStream(&types.ActiveStream{
		StreamID:        "order-42",
		PartitionNumber: 3,
		LastActivityAt:  time.Now().UTC(),
	}))
	streams, err := store.ListStreams()
	require.NoError(t, err)
	assert.Len(t, streams, 1)
	require.NoError(t, store.DeleteStream("order-42"))
}

func TestDedupFirstSeen(t *testing.T) {
	store := newTestStore(t)

	_, err := store.GetDedup("m-1")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, store.PutDedup(&types.DeduplicationRecord{
		MessageID:   "m-1",
		FirstSeenAt: time.Now().UTC(),
	}))

	got, err := store.GetDedup("m-1")
	require.NoError(t, err)
	assert.Equal(t, "m-1", got.MessageID)
}

func TestReopenPersists(t *testing.T) {
	dir := t.TempDir()
	store, err := NewBoltStore(dir)
	require.NoError(t, err)
	require.NoError(t, store.PutOutbox(&types.OutboxRecord{
		MessageID: "m-1",
		Status:    types.StatusPending,
		CreatedAt: time.Now().UTC(),
	}))
	require.NoError(t, store.Close())

	reopened, err := NewBoltStore(dir)
	require.NoError(t, err)
	defer reopened.Close()

	got, err := reopened.GetOutbox("m-1")
	require.NoError(t, err)
	assert.Equal(t, "m-1", got.MessageID)
}
