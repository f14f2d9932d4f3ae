package strategy

import (
	"context"
	"sync"
	"time"

	"github.com/whizbang-io/whizbang/pkg/coordinator"
	"github.com/whizbang-io/whizbang/pkg/log"
	"github.com/whizbang-io/whizbang/pkg/types"
)

const (
	// DefaultFlushInterval is the background flush cadence
	DefaultFlushInterval = 50 * time.Millisecond

	// DefaultFlushSize is the queued-operation count that triggers an
	// early flush
	DefaultFlushSize = 200
)

// Batched accumulates operations and flushes them as one coordinator call
// when either the timer fires or the size threshold is reached. Producers
// never block: the flush happens on a background goroutine, and work
// claimed by a background flush is held until the worker's next explicit
// Flush.
type Batched struct {
	mu       sync.Mutex
	queues   queues
	pending  *types.WorkBatch
	flags    types.Flags
	coord    coordinator.Coordinator
	identity Identity
	topology Topology

	flushInterval time.Duration
	flushSize     int

	flushCh chan struct{}
	stopCh  chan struct{}
	doneCh  chan struct{}
	once    sync.Once
}

// BatchedOption configures the batched strategy
type BatchedOption func(*Batched)

// WithFlushInterval sets the background flush cadence
func WithFlushInterval(d time.Duration) BatchedOption {
	return func(b *Batched) { b.flushInterval = d }
}

// WithFlushSize sets the queued-operation count that triggers a flush
func WithFlushSize(n int) BatchedOption {
	return func(b *Batched) { b.flushSize = n }
}

// NewBatched creates the batched strategy and starts its flush loop
func NewBatched(coord coordinator.Coordinator, identity Identity, topology Topology, opts ...BatchedOption) *Batched {
	b := &Batched{
		coord:         coord,
		identity:      identity,
		topology:      topology,
		flushInterval: DefaultFlushInterval,
		flushSize:     DefaultFlushSize,
		flushCh:       make(chan struct{}, 1),
		stopCh:        make(chan struct{}),
		doneCh:        make(chan struct{}),
	}
	for _, opt := range opts {
		opt(b)
	}
	go b.run()
	return b
}

func (b *Batched) run() {
	defer close(b.doneCh)

	ticker := time.NewTicker(b.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			b.backgroundFlush()
		case <-b.flushCh:
			b.backgroundFlush()
		case <-b.stopCh:
			return
		}
	}
}

// backgroundFlush sends queued operations without an explicit Flush call,
// under the flags of the worker's last explicit flush. Claimed work is
// parked on pending for the worker to pick up.
func (b *Batched) backgroundFlush() {
	b.mu.Lock()
	if b.queues.size() == 0 {
		b.mu.Unlock()
		return
	}
	req := b.queues.drain(b.identity, b.topology, b.flags)
	b.mu.Unlock()

	batch, err := b.coord.ProcessWorkBatch(context.Background(), req)
	if err != nil {
		logger := log.WithComponent("strategy")
		logger.Error().Err(err).Msg("Background flush failed")
		// Keep the reports for the next flush to resend
		b.mu.Lock()
		b.queues.restore(req)
		b.mu.Unlock()
		return
	}

	b.mu.Lock()
	b.pending = merge(b.pending, batch)
	b.mu.Unlock()
}

// signal triggers an early flush when the threshold is reached. Must be
// called with the mutex held.
func (b *Batched) signal() {
	if b.queues.size() < b.flushSize {
		return
	}
	select {
	case b.flushCh <- struct{}{}:
	default:
	}
}

func (b *Batched) QueueOutbox(record types.OutboxRecord) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.queues.newOutbox = append(b.queues.newOutbox, record)
	b.signal()
}

func (b *Batched) QueueInbox(record types.InboxRecord) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.queues.newInbox = append(b.queues.newInbox, record)
	b.signal()
}

func (b *Batched) QueueCompletion(role types.Role, messageID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.queues.queueCompletion(role, messageID)
	b.signal()
}

func (b *Batched) QueueFailure(role types.Role, failure types.FailedMessage) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.queues.queueFailure(role, failure)
	b.signal()
}

func (b *Batched) QueueLeaseRenewal(role types.Role, messageID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.queues.queueLeaseRenewal(role, messageID)
	b.signal()
}

func (b *Batched) QueueCheckpoint(completion types.CheckpointCompletion) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.queues.checkpoints = append(b.queues.checkpoints, completion)
	b.signal()
}

// Flush drains the queues, issues the RPC and returns the claimed work
// merged with anything a background flush claimed in the meantime
func (b *Batched) Flush(ctx context.Context, flags types.Flags) (*types.WorkBatch, error) {
	b.mu.Lock()
	b.flags = flags
	req := b.queues.drain(b.identity, b.topology, flags)
	parked := b.pending
	b.pending = nil
	b.mu.Unlock()

	batch, err := b.coord.ProcessWorkBatch(ctx, req)
	if err != nil {
		// Keep the reports for the next flush, and put parked work back;
		// it is already leased to this instance
		b.mu.Lock()
		b.queues.restore(req)
		b.pending = merge(parked, b.pending)
		b.mu.Unlock()
		return nil, err
	}
	return merge(parked, batch), nil
}

// Close stops the flush loop and reports anything still queued
func (b *Batched) Close() error {
	b.once.Do(func() {
		close(b.stopCh)
	})
	<-b.doneCh

	b.mu.Lock()
	size := b.queues.size()
	b.mu.Unlock()
	if size == 0 {
		return nil
	}
	_, err := b.Flush(context.Background(), 0)
	return err
}
