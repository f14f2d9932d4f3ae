package strategy

import (
	"context"
	"sync"

	"github.com/whizbang-io/whizbang/pkg/coordinator"
	"github.com/whizbang-io/whizbang/pkg/types"
)

// Immediate issues one coordinator call per Flush with whatever has been
// queued since the previous one. Lowest latency, highest database load;
// the worker loop calls Flush after every enqueue and on every tick.
type Immediate struct {
	mu       sync.Mutex
	queues   queues
	coord    coordinator.Coordinator
	identity Identity
	topology Topology
}

// NewImmediate creates the immediate strategy
func NewImmediate(coord coordinator.Coordinator, identity Identity, topology Topology) *Immediate {
	return &Immediate{coord: coord, identity: identity, topology: topology}
}

func (s *Immediate) QueueOutbox(record types.OutboxRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queues.newOutbox = append(s.queues.newOutbox, record)
}

func (s *Immediate) QueueInbox(record types.InboxRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queues.newInbox = append(s.queues.newInbox, record)
}

func (s *Immediate) QueueCompletion(role types.Role, messageID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queues.queueCompletion(role, messageID)
}

func (s *Immediate) QueueFailure(role types.Role, failure types.FailedMessage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queues.queueFailure(role, failure)
}

func (s *Immediate) QueueLeaseRenewal(role types.Role, messageID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queues.queueLeaseRenewal(role, messageID)
}

func (s *Immediate) QueueCheckpoint(completion types.CheckpointCompletion) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queues.checkpoints = append(s.queues.checkpoints, completion)
}

func (s *Immediate) Flush(ctx context.Context, flags types.Flags) (*types.WorkBatch, error) {
	s.mu.Lock()
	req := s.queues.drain(s.identity, s.topology, flags)
	s.mu.Unlock()

	batch, err := s.coord.ProcessWorkBatch(ctx, req)
	if err != nil {
		// Keep the reports for the next flush to resend
		s.mu.Lock()
		s.queues.restore(req)
		s.mu.Unlock()
		return nil, err
	}
	return batch, nil
}

func (s *Immediate) Close() error {
	_, err := s.Flush(context.Background(), 0)
	return err
}
