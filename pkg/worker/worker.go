package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/whizbang-io/whizbang/pkg/dispatcher"
	"github.com/whizbang-io/whizbang/pkg/envelope"
	"github.com/whizbang-io/whizbang/pkg/events"
	"github.com/whizbang-io/whizbang/pkg/executor"
	"github.com/whizbang-io/whizbang/pkg/log"
	"github.com/whizbang-io/whizbang/pkg/metrics"
	"github.com/whizbang-io/whizbang/pkg/strategy"
	"github.com/whizbang-io/whizbang/pkg/types"
)

const (
	// DefaultPollInterval is the loop tick period
	DefaultPollInterval = 500 * time.Millisecond

	// DefaultLeaseDuration matches the coordinator's default lease window.
	// In-flight work older than half of it gets its lease renewed.
	DefaultLeaseDuration = 300 * time.Second

	// DefaultParallelism is the worker count for work without stream affinity
	DefaultParallelism = 4

	// DefaultStreamExecutorTTL is how long an idle per-stream executor is
	// kept before its goroutine is released
	DefaultStreamExecutorTTL = time.Minute
)

// Transport publishes claimed outbox rows to the outside world. Errors may
// carry a failure reason via dispatcher.WithReason; untagged errors are
// recorded as transport exceptions and retried up to the attempt limit.
type Transport interface {
	Publish(ctx context.Context, work types.OutboxWork) error
}

// inflightEntry tracks one claimed row being worked on
type inflightEntry struct {
	role      types.Role
	startedAt time.Time
}

// streamExecutor pairs a stream's serial executor with an in-flight count
// so idle executors can be evicted
type streamExecutor struct {
	exec      *executor.Serial
	active    int
	idleSince time.Time
}

// Loop is the per-instance polling loop. Each tick flushes the strategy
// (results out, heartbeat and claimed work in), hands inbox work to the
// dispatcher on a stream-sticky serial executor, hands outbox work to the
// transport, and queues the outcomes for the next flush.
type Loop struct {
	strategy   strategy.Strategy
	dispatcher *dispatcher.Dispatcher
	transport  Transport
	registry   *envelope.TypeRegistry
	broker     *events.Broker

	pollInterval      time.Duration
	leaseDuration     time.Duration
	channelCapacity   int
	parallelism       int
	streamExecutorTTL time.Duration
	flags             types.Flags

	mu       sync.Mutex
	serials  map[string]*streamExecutor
	inflight map[string]inflightEntry
	parallel *executor.Parallel

	started   bool
	stopCh    chan struct{}
	doneCh    chan struct{}
	startOnce sync.Once
	stopOnce  sync.Once
	wg        sync.WaitGroup
}

// Option configures the loop
type Option func(*Loop)

// WithPollInterval sets the tick period
func WithPollInterval(d time.Duration) Option {
	return func(l *Loop) { l.pollInterval = d }
}

// WithLeaseDuration sets the lease window used to time renewals. It should
// match the topology's lease_seconds.
func WithLeaseDuration(d time.Duration) Option {
	return func(l *Loop) { l.leaseDuration = d }
}

// WithChannelCapacity bounds the per-stream serial executors. Zero or
// negative means unbounded.
func WithChannelCapacity(n int) Option {
	return func(l *Loop) { l.channelCapacity = n }
}

// WithParallelism sets the worker count for work without stream affinity
func WithParallelism(n int) Option {
	return func(l *Loop) { l.parallelism = n }
}

// WithBroker publishes lifecycle events to broker
func WithBroker(broker *events.Broker) Option {
	return func(l *Loop) { l.broker = broker }
}

// WithStreamExecutorTTL sets how long a per-stream executor may sit idle
// before it is stopped and evicted
func WithStreamExecutorTTL(d time.Duration) Option {
	return func(l *Loop) { l.streamExecutorTTL = d }
}

// WithFlags sets the flags sent on every coordinator call
func WithFlags(flags types.Flags) Option {
	return func(l *Loop) { l.flags = flags }
}

// New creates a loop. transport may be nil when the instance handles inbox
// work only; claimed outbox rows are then failed as transport-not-ready.
func New(strat strategy.Strategy, d *dispatcher.Dispatcher, transport Transport, registry *envelope.TypeRegistry, opts ...Option) *Loop {
	l := &Loop{
		strategy:          strat,
		dispatcher:        d,
		transport:         transport,
		registry:          registry,
		pollInterval:      DefaultPollInterval,
		leaseDuration:     DefaultLeaseDuration,
		parallelism:       DefaultParallelism,
		streamExecutorTTL: DefaultStreamExecutorTTL,
		serials:           make(map[string]*streamExecutor),
		inflight:          make(map[string]inflightEntry),
		stopCh:            make(chan struct{}),
		doneCh:            make(chan struct{}),
	}
	for _, opt := range opts {
		opt(l)
	}
	l.parallel = executor.NewParallel(l.parallelism, l.channelCapacity)
	return l
}

// Start launches the polling loop. Idempotent.
func (l *Loop) Start() {
	l.startOnce.Do(func() {
		l.mu.Lock()
		l.started = true
		l.mu.Unlock()

		l.parallel.Start()
		go l.run()
	})
}

// Stop shuts the loop down: no more ticks, executors drained, one final
// flush reporting the outcomes gathered during shutdown
func (l *Loop) Stop(ctx context.Context) error {
	l.stopOnce.Do(func() {
		close(l.stopCh)
	})

	l.mu.Lock()
	started := l.started
	l.mu.Unlock()

	if started {
		select {
		case <-l.doneCh:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	l.mu.Lock()
	serials := make([]*executor.Serial, 0, len(l.serials))
	for _, se := range l.serials {
		serials = append(serials, se.exec)
	}
	l.mu.Unlock()

	l.parallel.Stop()
	for _, s := range serials {
		s.Stop()
	}
	if err := l.parallel.Drain(ctx); err != nil {
		return err
	}
	for _, s := range serials {
		if err := s.Drain(ctx); err != nil {
			return err
		}
	}

	done := make(chan struct{})
	go func() {
		l.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	if _, err := l.strategy.Flush(ctx, l.flags); err != nil {
		return err
	}
	return nil
}

func (l *Loop) run() {
	defer close(l.doneCh)

	ticker := time.NewTicker(l.pollInterval)
	defer ticker.Stop()

	l.cycle()
	for {
		select {
		case <-ticker.C:
			l.cycle()
		case <-l.stopCh:
			return
		}
	}
}

// cycle is one tick: renew leases for long-running work, evict idle
// executors, flush, start the claimed work
func (l *Loop) cycle() {
	now := time.Now().UTC()
	l.queueRenewals(now)
	l.evictIdleExecutors(now)

	timer := metrics.NewTimer()
	batch, err := l.strategy.Flush(context.Background(), l.flags)
	timer.ObserveDuration(metrics.FlushDuration)
	if err != nil {
		logger := log.WithComponent("worker")
		logger.Error().Err(err).Msg("Coordinator flush failed")
		return
	}

	if !batch.Empty() {
		l.publish(&events.Event{
			Type: events.EventBatchFlushed,
			Message: fmt.Sprintf("claimed %d outbox and %d inbox rows",
				len(batch.OutboxWork), len(batch.InboxWork)),
		})
	}

	for _, work := range batch.OutboxWork {
		l.startOutbox(work)
	}
	for _, work := range batch.InboxWork {
		l.startInbox(work)
	}
}

// queueRenewals asks for lease extensions on work in flight longer than
// half the lease window
func (l *Loop) queueRenewals(now time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for messageID, entry := range l.inflight {
		if now.Sub(entry.startedAt) > l.leaseDuration/2 {
			l.strategy.QueueLeaseRenewal(entry.role, messageID)
		}
	}
}

func (l *Loop) startOutbox(work types.OutboxWork) {
	l.track(work.MessageID, types.RoleOutbox)

	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		defer l.untrack(work.MessageID)

		err := l.parallel.Execute(context.Background(), func(ctx context.Context) error {
			if l.transport == nil {
				return dispatcher.WithReason(types.FailureTransportNotReady,
					errors.New("no transport registered"))
			}
			return l.transport.Publish(ctx, work)
		})
		l.report(types.RoleOutbox, work.MessageID, err)
	}()
}

func (l *Loop) startInbox(work types.InboxWork) {
	env, err := envelope.Unmarshal(work.MessageData, work.MessageType, l.registry)
	if err != nil {
		l.strategy.QueueFailure(types.RoleInbox, types.FailedMessage{
			MessageID: work.MessageID,
			Reason:    types.FailureSerializationError,
			Error:     err.Error(),
		})
		l.publish(&events.Event{
			Type:      events.EventMessageFailed,
			Message:   "undecodable inbox message",
			Role:      types.RoleInbox,
			Reason:    types.FailureSerializationError,
			MessageID: work.MessageID,
		})
		return
	}

	exec := l.executorFor(work.StreamID)
	l.track(work.MessageID, types.RoleInbox)

	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		defer l.untrack(work.MessageID)
		defer l.releaseStream(work.StreamID)

		err := exec.Execute(context.Background(), func(ctx context.Context) error {
			timer := metrics.NewTimer()
			outcome := l.dispatcher.Dispatch(ctx, work.MessageType, env)
			timer.ObserveDurationVec(metrics.DispatchDuration, outcome.MessageType)
			if outcome.Failed() {
				return dispatcher.WithReason(outcome.Reason, outcome.Err)
			}
			return nil
		})
		l.report(types.RoleInbox, work.MessageID, err)
	}()
}

// executorFor returns the serial executor owning streamID, creating it on
// first use, and counts the caller as in flight until releaseStream. Work
// without a stream runs on the parallel pool.
func (l *Loop) executorFor(streamID *string) executor.Executor {
	if streamID == nil || *streamID == "" {
		return l.parallel
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	se, ok := l.serials[*streamID]
	if !ok {
		se = &streamExecutor{exec: executor.NewSerial(l.channelCapacity)}
		se.exec.Start()
		l.serials[*streamID] = se
	}
	se.active++
	return se.exec
}

func (l *Loop) releaseStream(streamID *string) {
	if streamID == nil || *streamID == "" {
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if se, ok := l.serials[*streamID]; ok {
		se.active--
		if se.active == 0 {
			se.idleSince = time.Now().UTC()
		}
	}
}

// evictIdleExecutors stops per-stream executors with nothing in flight
// past the idle TTL, so stream cardinality does not pin goroutines for
// the life of the process
func (l *Loop) evictIdleExecutors(now time.Time) {
	l.mu.Lock()
	var evicted []*executor.Serial
	for streamID, se := range l.serials {
		if se.active == 0 && !se.idleSince.IsZero() && now.Sub(se.idleSince) > l.streamExecutorTTL {
			evicted = append(evicted, se.exec)
			delete(l.serials, streamID)
		}
	}
	l.mu.Unlock()

	for _, e := range evicted {
		e.Stop()
	}
}

// report queues the outcome of one work item for the next flush. Work
// interrupted by shutdown is not reported; its lease expires and another
// instance picks it up.
func (l *Loop) report(role types.Role, messageID string, err error) {
	if err == nil {
		l.strategy.QueueCompletion(role, messageID)
		l.publish(&events.Event{
			Type:      events.EventMessageCompleted,
			Message:   "work item completed",
			Role:      role,
			MessageID: messageID,
		})
		return
	}
	if errors.Is(err, executor.ErrStopped) || errors.Is(err, executor.ErrNotStarted) ||
		errors.Is(err, context.Canceled) {
		return
	}

	reason := failureReason(role, err)
	l.strategy.QueueFailure(role, types.FailedMessage{
		MessageID: messageID,
		Reason:    reason,
		Error:     err.Error(),
	})
	l.publish(&events.Event{
		Type:      events.EventMessageFailed,
		Message:   "work item failed",
		Role:      role,
		Reason:    reason,
		MessageID: messageID,
	})

	logger := log.WithComponent("worker")
	logger.Warn().
		Str("message_id", messageID).
		Str("role", string(role)).
		Str("reason", reason.String()).
		Err(err).
		Msg("Work item failed")
}

// failureReason classifies an error for the coordinator. Untagged outbox
// errors count as transport exceptions so they stay retryable.
func failureReason(role types.Role, err error) types.FailureReason {
	var tagged *dispatcher.ReasonError
	if errors.As(err, &tagged) {
		return tagged.Reason
	}
	if role == types.RoleOutbox {
		return types.FailureTransportException
	}
	return types.FailureUnknown
}

func (l *Loop) track(messageID string, role types.Role) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.inflight[messageID] = inflightEntry{role: role, startedAt: time.Now().UTC()}
}

func (l *Loop) untrack(messageID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.inflight, messageID)
}

func (l *Loop) publish(event *events.Event) {
	if l.broker == nil {
		return
	}
	l.broker.Publish(event)
}
