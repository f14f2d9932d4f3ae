package dispatcher

import (
	"context"
	"sync"

	"github.com/whizbang-io/whizbang/pkg/envelope"
)

// Handler processes an envelope at one lifecycle stage. New envelopes are
// emitted through em rather than published directly, so they join the
// caller's durable outbox batch.
//
// A returned error fails the message. Wrap it with WithReason to pick the
// failure classification: untagged errors are recorded as Unknown, which
// is terminal on the first report, so a handler that wants the message
// redelivered must tag a retryable reason such as TransportException.
type Handler func(ctx context.Context, env *envelope.Envelope, em Emitter) error

// Handle identifies one registration for later removal
type Handle uint64

// registration binds a handler to a (payload type, stage) pair
type registration struct {
	handle      Handle
	payloadType string
	stage       Stage
	name        string
	fn          Handler
}

// Registry holds handler registrations. Registrations and removals are safe
// at any time and take effect for the next dispatched envelope; a dispatch
// already in flight keeps the set it started with.
type Registry struct {
	mu   sync.RWMutex
	next Handle
	regs []registration
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{}
}

// Register binds fn to payloadType at stage under the given handler name.
// An empty payloadType matches every envelope. Handlers for the same
// (type, stage) pair run in registration order.
func (r *Registry) Register(payloadType string, stage Stage, name string, fn Handler) Handle {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.next++
	r.regs = append(r.regs, registration{
		handle:      r.next,
		payloadType: envelope.NormalizeEventType(payloadType),
		stage:       stage,
		name:        name,
		fn:          fn,
	})
	return r.next
}

// Unregister removes a registration. Unknown handles are ignored.
func (r *Registry) Unregister(handle Handle) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i, reg := range r.regs {
		if reg.handle == handle {
			r.regs = append(r.regs[:i], r.regs[i+1:]...)
			return
		}
	}
}

// snapshot copies the current registrations so one dispatch sees a
// consistent set
func (r *Registry) snapshot() []registration {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]registration, len(r.regs))
	copy(out, r.regs)
	return out
}

// match selects the registrations for a payload type at one stage,
// preserving registration order
func match(regs []registration, payloadType string, stage Stage) []registration {
	var out []registration
	for _, reg := range regs {
		if reg.stage != stage {
			continue
		}
		if reg.payloadType == "" || reg.payloadType == payloadType {
			out = append(out, reg)
		}
	}
	return out
}
