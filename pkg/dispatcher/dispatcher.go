package dispatcher

import (
	"context"
	"fmt"

	"github.com/whizbang-io/whizbang/pkg/envelope"
	"github.com/whizbang-io/whizbang/pkg/log"
	"github.com/whizbang-io/whizbang/pkg/types"
)

// Outcome is the result of dispatching one envelope. A zero Err means every
// stage ran to completion; otherwise Stage and Handler locate the failure
// and Reason classifies it for the coordinator.
type Outcome struct {
	MessageID   string
	MessageType string
	Stage       Stage
	Handler     string
	Reason      types.FailureReason
	Err         error
}

// Failed reports whether the dispatch failed
func (o Outcome) Failed() bool {
	return o.Err != nil
}

// Dispatcher routes envelopes through the lifecycle pipeline. Handlers for
// each stage run sequentially in registration order; a handler error fails
// its stage and skips the rest of the pipeline.
type Dispatcher struct {
	registry *Registry
	identity envelope.ServiceIdentity
	emitter  Emitter
}

// New creates a dispatcher over the given registry. The emitter is handed
// to every handler invocation; a nil emitter is valid for pipelines whose
// handlers never emit.
func New(registry *Registry, identity envelope.ServiceIdentity, emitter Emitter) *Dispatcher {
	return &Dispatcher{
		registry: registry,
		identity: identity,
		emitter:  emitter,
	}
}

// Dispatch routes one envelope through every stage. The envelope gets one
// hop for this visit before any handler runs. messageType selects the
// handler set and is normalized first.
func (d *Dispatcher) Dispatch(ctx context.Context, messageType string, env *envelope.Envelope) Outcome {
	outcome := Outcome{
		MessageID:   env.MessageID.String(),
		MessageType: envelope.NormalizeEventType(messageType),
	}

	env.AppendHop(envelope.Hop{
		Type:      envelope.HopCurrent,
		Service:   d.identity,
		Topic:     outcome.MessageType,
		StreamKey: env.StreamKey(),
	})

	regs := d.registry.snapshot()
	for _, stage := range stageOrder {
		if err := ctx.Err(); err != nil {
			outcome.Stage = stage
			outcome.Reason = types.FailureUnknown
			outcome.Err = err
			return outcome
		}

		for _, reg := range match(regs, outcome.MessageType, stage) {
			if err := d.invoke(ctx, reg, env); err != nil {
				outcome.Stage = stage
				outcome.Handler = reg.name
				outcome.Reason = classify(err)
				outcome.Err = err

				logger := log.WithComponent("dispatcher")
				logger.Warn().
					Str("message_id", outcome.MessageID).
					Str("message_type", outcome.MessageType).
					Str("stage", stage.String()).
					Str("handler", reg.name).
					Str("reason", outcome.Reason.String()).
					Err(err).
					Msg("Stage failed")
				return outcome
			}
		}
	}
	return outcome
}

// invoke runs one handler, converting panics into errors so a broken
// handler cannot take the worker down
func (d *Dispatcher) invoke(ctx context.Context, reg registration, env *envelope.Envelope) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler %s panicked: %v", reg.name, r)
		}
	}()
	return reg.fn(ctx, env, d.emitter)
}
