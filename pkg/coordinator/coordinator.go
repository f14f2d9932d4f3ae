package coordinator

import (
	"context"
	"time"

	"github.com/whizbang-io/whizbang/pkg/events"
	"github.com/whizbang-io/whizbang/pkg/types"
)

const (
	// DefaultMaxDeliveryAttempts is the attempt count at which a retryable
	// failure becomes terminal with MaxAttemptsExceeded
	DefaultMaxDeliveryAttempts = 5

	// DefaultClaimQuota bounds how many rows one call claims per partition
	DefaultClaimQuota = 32

	// DefaultIdleStreamTTL is how long a stream may sit without activity
	// before the sweep orphans it
	DefaultIdleStreamTTL = time.Hour
)

// Coordinator is the single batch RPC every instance drives its polling
// cycle through. One call atomically registers the heartbeat, reaps stale
// instances, persists reported completions and failures, inserts new rows
// with dedup, renews leases, claims the next work this instance owns, and
// returns it. The call is idempotent: replaying an identical request after
// a crash between commit and response produces identical side effects.
type Coordinator interface {
	ProcessWorkBatch(ctx context.Context, req *types.WorkRequest) (*types.WorkBatch, error)
}

type options struct {
	maxDeliveryAttempts int
	claimQuota          int
	idleStreamTTL       time.Duration
	broker              *events.Broker
}

func defaultOptions() options {
	return options{
		maxDeliveryAttempts: DefaultMaxDeliveryAttempts,
		claimQuota:          DefaultClaimQuota,
		idleStreamTTL:       DefaultIdleStreamTTL,
	}
}

// Option configures a coordinator implementation
type Option func(*options)

// WithMaxDeliveryAttempts sets the terminal-failure attempt threshold
func WithMaxDeliveryAttempts(n int) Option {
	return func(o *options) { o.maxDeliveryAttempts = n }
}

// WithClaimQuota bounds the rows claimed per partition per call
func WithClaimQuota(n int) Option {
	return func(o *options) { o.claimQuota = n }
}

// WithIdleStreamTTL sets the idle window after which the sweep orphans a
// stream
func WithIdleStreamTTL(ttl time.Duration) Option {
	return func(o *options) { o.idleStreamTTL = ttl }
}

// WithBroker publishes lifecycle events (claims, completions, failures,
// reaps) on the given broker
func WithBroker(b *events.Broker) Option {
	return func(o *options) { o.broker = b }
}

func (o *options) publish(event *events.Event) {
	if o.broker == nil {
		return
	}
	o.broker.Publish(event)
}

// failureOutcome decides how a reported failure lands on the row. A
// non-retryable reason is terminal immediately; a retryable one releases
// the lease for another claim until the attempt budget is spent.
func failureOutcome(reason types.FailureReason, attempts, maxAttempts int) (types.FailureReason, bool) {
	if !reason.Retryable() {
		if reason == types.FailureNone {
			reason = types.FailureUnknown
		}
		return reason, true
	}
	if attempts >= maxAttempts {
		return types.FailureMaxAttemptsExceeded, true
	}
	return reason, false
}
