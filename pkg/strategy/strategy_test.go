package strategy

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/whizbang-io/whizbang/pkg/coordinator"
	"github.com/whizbang-io/whizbang/pkg/envelope"
	"github.com/whizbang-io/whizbang/pkg/types"
)

func testIdentity() Identity {
	return Identity{InstanceID: "inst-1", ServiceName: "orders", Host: "h", PID: 1}
}

func testTopology() Topology {
	return Topology{PartitionCount: 4, LeaseSeconds: 300, StaleThresholdSeconds: 600}
}

func newInboxRecord(streamID string) types.InboxRecord {
	return types.InboxRecord{
		MessageID:   envelope.NewMessageID().String(),
		HandlerName: "OrderReceptor",
		Destination: "orders.events",
		MessageType: "OrderPlaced, Orders",
		MessageData: []byte(`{}`),
		StreamID:    &streamID,
		IsEvent:     true,
	}
}

// recordingCoordinator captures requests and delegates to a memory
// coordinator for realistic batches. failCalls injects transient errors.
type recordingCoordinator struct {
	mu       sync.Mutex
	inner    *coordinator.Memory
	requests []*types.WorkRequest
	failNext int
}

func newRecordingCoordinator() *recordingCoordinator {
	return &recordingCoordinator{inner: coordinator.NewMemory()}
}

func (r *recordingCoordinator) failCalls(n int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failNext = n
}

func (r *recordingCoordinator) ProcessWorkBatch(ctx context.Context, req *types.WorkRequest) (*types.WorkBatch, error) {
	r.mu.Lock()
	r.requests = append(r.requests, req)
	fail := r.failNext > 0
	if fail {
		r.failNext--
	}
	r.mu.Unlock()
	if fail {
		return nil, errors.New("coordinator unavailable")
	}
	return r.inner.ProcessWorkBatch(ctx, req)
}

func (r *recordingCoordinator) calls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.requests)
}

func (r *recordingCoordinator) lastRequest() *types.WorkRequest {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.requests) == 0 {
		return nil
	}
	return r.requests[len(r.requests)-1]
}

func TestImmediateFlushCarriesQueuedOperations(t *testing.T) {
	coord := newRecordingCoordinator()
	s := NewImmediate(coord, testIdentity(), testTopology())

	row := newInboxRecord("order-1")
	s.QueueInbox(row)
	s.QueueCheckpoint(types.CheckpointCompletion{
		StreamID: "order-1", ProjectionName: "OrderSummary",
		LastEventID: envelope.NewEventID().String(), Status: types.StatusCompleted,
	})

	batch, err := s.Flush(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, batch.InboxWork, 1)

	req := coord.lastRequest()
	require.Len(t, req.NewInbox, 1)
	require.Len(t, req.PerspectiveCompletions, 1)
	assert.Equal(t, "inst-1", req.InstanceID)
	assert.Equal(t, 4, req.PartitionCount)

	// Queues reset per call
	batch, err = s.Flush(context.Background(), 0)
	require.NoError(t, err)
	assert.True(t, batch.Empty())
	assert.Empty(t, coord.lastRequest().NewInbox)
}

func TestImmediateFlushAlwaysIssuesHeartbeat(t *testing.T) {
	coord := newRecordingCoordinator()
	s := NewImmediate(coord, testIdentity(), testTopology())

	_, err := s.Flush(context.Background(), 0)
	require.NoError(t, err)
	_, err = s.Flush(context.Background(), 0)
	require.NoError(t, err)

	assert.Equal(t, 2, coord.calls(), "empty queues still heartbeat")
}

func TestImmediateFlushFailureRetainsReports(t *testing.T) {
	coord := newRecordingCoordinator()
	s := NewImmediate(coord, testIdentity(), testTopology())

	messageID := envelope.NewMessageID().String()
	s.QueueCompletion(types.RoleInbox, messageID)

	coord.failCalls(1)
	_, err := s.Flush(context.Background(), 0)
	require.Error(t, err)

	// The completion rides the next flush instead of vanishing
	_, err = s.Flush(context.Background(), 0)
	require.NoError(t, err)
	assert.Contains(t, coord.lastRequest().InboxCompletedIDs, messageID)
}

func TestImmediateFlushFailureRetainsNewRows(t *testing.T) {
	coord := newRecordingCoordinator()
	s := NewImmediate(coord, testIdentity(), testTopology())

	row := newInboxRecord("order-1")
	s.QueueInbox(row)

	coord.failCalls(1)
	_, err := s.Flush(context.Background(), 0)
	require.Error(t, err)

	batch, err := s.Flush(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, batch.InboxWork, 1)
	assert.Equal(t, row.MessageID, batch.InboxWork[0].MessageID)
}

func TestBatchedFlushesOnSizeThreshold(t *testing.T) {
	coord := newRecordingCoordinator()
	s := NewBatched(coord, testIdentity(), testTopology(),
		WithFlushInterval(time.Hour), // timer out of the picture
		WithFlushSize(3),
	)
	defer s.Close()

	for i := 0; i < 3; i++ {
		s.QueueInbox(newInboxRecord("order-1"))
	}

	require.Eventually(t, func() bool {
		return coord.calls() >= 1
	}, time.Second, 5*time.Millisecond, "threshold triggers a background flush")

	req := coord.lastRequest()
	assert.Len(t, req.NewInbox, 3, "one call carries the whole batch")
}

func TestBatchedTimerFlush(t *testing.T) {
	coord := newRecordingCoordinator()
	s := NewBatched(coord, testIdentity(), testTopology(),
		WithFlushInterval(10*time.Millisecond),
	)
	defer s.Close()

	s.QueueCompletion(types.RoleInbox, envelope.NewMessageID().String())

	require.Eventually(t, func() bool {
		return coord.calls() >= 1
	}, time.Second, 5*time.Millisecond, "timer flushes below the size threshold")
}

func TestBatchedExplicitFlushReturnsParkedWork(t *testing.T) {
	coord := newRecordingCoordinator()
	s := NewBatched(coord, testIdentity(), testTopology(),
		WithFlushInterval(10*time.Millisecond),
	)
	defer s.Close()

	row := newInboxRecord("order-1")
	s.QueueInbox(row)

	// The background flush claims the row before the worker asks for it
	require.Eventually(t, func() bool {
		return coord.calls() >= 1
	}, time.Second, 5*time.Millisecond)

	batch, err := s.Flush(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, batch.InboxWork, 1)
	assert.Equal(t, row.MessageID, batch.InboxWork[0].MessageID)
}

func TestBatchedProducersNeverBlock(t *testing.T) {
	coord := newRecordingCoordinator()
	s := NewBatched(coord, testIdentity(), testTopology(),
		WithFlushInterval(time.Hour),
		WithFlushSize(2),
	)
	defer s.Close()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 100; i++ {
			s.QueueCompletion(types.RoleOutbox, envelope.NewMessageID().String())
		}
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("queueing blocked on flush")
	}
}

func TestBatchedFlushFailureRetainsReports(t *testing.T) {
	coord := newRecordingCoordinator()
	s := NewBatched(coord, testIdentity(), testTopology(),
		WithFlushInterval(time.Hour),
	)
	defer s.Close()

	messageID := envelope.NewMessageID().String()
	s.QueueCompletion(types.RoleInbox, messageID)

	coord.failCalls(1)
	_, err := s.Flush(context.Background(), 0)
	require.Error(t, err)

	_, err = s.Flush(context.Background(), 0)
	require.NoError(t, err)
	assert.Contains(t, coord.lastRequest().InboxCompletedIDs, messageID)
}

func TestBatchedBackgroundFlushFailureRetainsReports(t *testing.T) {
	coord := newRecordingCoordinator()
	coord.failCalls(1)
	s := NewBatched(coord, testIdentity(), testTopology(),
		WithFlushInterval(10*time.Millisecond),
	)
	defer s.Close()

	messageID := envelope.NewMessageID().String()
	s.QueueCompletion(types.RoleInbox, messageID)

	// The failed background flush restores the queue; a later one succeeds
	require.Eventually(t, func() bool {
		return coord.calls() >= 2
	}, time.Second, 5*time.Millisecond)
	assert.Contains(t, coord.lastRequest().InboxCompletedIDs, messageID)
}

func TestBatchedBackgroundFlushCarriesExplicitFlags(t *testing.T) {
	coord := newRecordingCoordinator()
	s := NewBatched(coord, testIdentity(), testTopology(),
		WithFlushInterval(time.Hour),
		WithFlushSize(1),
	)
	defer s.Close()

	_, err := s.Flush(context.Background(), types.FlagDebugMode)
	require.NoError(t, err)

	s.QueueCompletion(types.RoleInbox, envelope.NewMessageID().String())
	require.Eventually(t, func() bool {
		return coord.calls() >= 2
	}, time.Second, 5*time.Millisecond)
	assert.True(t, coord.lastRequest().Flags.Has(types.FlagDebugMode),
		"background flush keeps the last explicit flags")
}

func TestBatchedCloseReportsRemainder(t *testing.T) {
	coord := newRecordingCoordinator()
	s := NewBatched(coord, testIdentity(), testTopology(),
		WithFlushInterval(time.Hour),
	)

	s.QueueCompletion(types.RoleInbox, envelope.NewMessageID().String())
	require.NoError(t, s.Close())

	require.GreaterOrEqual(t, coord.calls(), 1)
	req := coord.lastRequest()
	assert.Len(t, req.InboxCompletedIDs, 1)
}
