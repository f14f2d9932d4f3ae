package dispatcher

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/whizbang-io/whizbang/pkg/envelope"
	"github.com/whizbang-io/whizbang/pkg/types"
)

type orderPlaced struct {
	OrderID string `json:"OrderId"`
}

func testIdentity() envelope.ServiceIdentity {
	return envelope.ServiceIdentity{
		ServiceName: "orders",
		InstanceID:  "inst-1",
		Host:        "h",
		PID:         1,
	}
}

func newEnvelope(t *testing.T) *envelope.Envelope {
	t.Helper()
	return envelope.New(orderPlaced{OrderID: "o-1"}, testIdentity())
}

// recorder appends a label per handler invocation
func recorder(calls *[]string, label string) Handler {
	return func(ctx context.Context, env *envelope.Envelope, em Emitter) error {
		*calls = append(*calls, label)
		return nil
	}
}

func TestDispatchRunsStagesInOrder(t *testing.T) {
	registry := NewRegistry()
	var calls []string

	// Registered out of pipeline order on purpose
	registry.Register("OrderPlaced", StagePostHandle, "audit", recorder(&calls, "post_handle"))
	registry.Register("OrderPlaced", StagePreValidate, "validate", recorder(&calls, "pre_validate"))
	registry.Register("OrderPlaced", StageReceptorInvoke, "receptor", recorder(&calls, "receptor"))
	registry.Register("OrderPlaced", StageDistribute, "distribute", recorder(&calls, "distribute"))

	d := New(registry, testIdentity(), nil)
	outcome := d.Dispatch(context.Background(), "OrderPlaced", newEnvelope(t))

	require.False(t, outcome.Failed())
	assert.Equal(t, []string{"pre_validate", "distribute", "receptor", "post_handle"}, calls)
}

func TestHandlersRunInRegistrationOrderWithinStage(t *testing.T) {
	registry := NewRegistry()
	var calls []string

	registry.Register("OrderPlaced", StageReceptorInvoke, "first", recorder(&calls, "first"))
	registry.Register("OrderPlaced", StageReceptorInvoke, "second", recorder(&calls, "second"))
	registry.Register("OrderPlaced", StageReceptorInvoke, "third", recorder(&calls, "third"))

	d := New(registry, testIdentity(), nil)
	d.Dispatch(context.Background(), "OrderPlaced", newEnvelope(t))

	assert.Equal(t, []string{"first", "second", "third"}, calls)
}

func TestEmptyTypeMatchesEveryEnvelope(t *testing.T) {
	registry := NewRegistry()
	var calls []string

	registry.Register("", StagePreValidate, "any", recorder(&calls, "any"))
	registry.Register("OrderShipped", StagePreValidate, "shipped", recorder(&calls, "shipped"))

	d := New(registry, testIdentity(), nil)
	d.Dispatch(context.Background(), "OrderPlaced", newEnvelope(t))

	assert.Equal(t, []string{"any"}, calls, "typed handler for another payload stays silent")
}

func TestDecoratedTypeNameMatchesNormalizedRegistration(t *testing.T) {
	registry := NewRegistry()
	var calls []string

	registry.Register("OrderPlaced, Orders", StageReceptorInvoke, "receptor", recorder(&calls, "receptor"))

	d := New(registry, testIdentity(), nil)
	d.Dispatch(context.Background(),
		"OrderPlaced, Orders, Version=1.0.0.0, Culture=neutral", newEnvelope(t))

	assert.Equal(t, []string{"receptor"}, calls)
}

func TestHandlerErrorFailsStageAndSkipsRest(t *testing.T) {
	registry := NewRegistry()
	var calls []string

	registry.Register("OrderPlaced", StagePreValidate, "validate", recorder(&calls, "pre_validate"))
	registry.Register("OrderPlaced", StageDistribute, "distribute",
		func(ctx context.Context, env *envelope.Envelope, em Emitter) error {
			return WithReason(types.FailureValidationError, errors.New("missing order id"))
		})
	registry.Register("OrderPlaced", StageDistribute, "distribute-2", recorder(&calls, "distribute-2"))
	registry.Register("OrderPlaced", StagePostHandle, "audit", recorder(&calls, "post_handle"))

	d := New(registry, testIdentity(), nil)
	outcome := d.Dispatch(context.Background(), "OrderPlaced", newEnvelope(t))

	require.True(t, outcome.Failed())
	assert.Equal(t, StageDistribute, outcome.Stage)
	assert.Equal(t, "distribute", outcome.Handler)
	assert.Equal(t, types.FailureValidationError, outcome.Reason)
	assert.Equal(t, []string{"pre_validate"}, calls,
		"later handlers and stages are skipped")
}

func TestUntaggedErrorClassifiedAsUnknown(t *testing.T) {
	registry := NewRegistry()
	registry.Register("OrderPlaced", StageReceptorInvoke, "receptor",
		func(ctx context.Context, env *envelope.Envelope, em Emitter) error {
			return errors.New("boom")
		})

	d := New(registry, testIdentity(), nil)
	outcome := d.Dispatch(context.Background(), "OrderPlaced", newEnvelope(t))

	require.True(t, outcome.Failed())
	assert.Equal(t, types.FailureUnknown, outcome.Reason)
}

func TestPanicRecoveredAsUnknown(t *testing.T) {
	registry := NewRegistry()
	registry.Register("OrderPlaced", StageReceptorInvoke, "receptor",
		func(ctx context.Context, env *envelope.Envelope, em Emitter) error {
			panic("nil map write")
		})

	d := New(registry, testIdentity(), nil)
	outcome := d.Dispatch(context.Background(), "OrderPlaced", newEnvelope(t))

	require.True(t, outcome.Failed())
	assert.Equal(t, types.FailureUnknown, outcome.Reason)
	assert.Contains(t, outcome.Err.Error(), "panicked")
}

func TestUnregisterTakesEffectNextDispatch(t *testing.T) {
	registry := NewRegistry()
	var calls []string

	handle := registry.Register("OrderPlaced", StageReceptorInvoke, "receptor", recorder(&calls, "receptor"))
	d := New(registry, testIdentity(), nil)

	d.Dispatch(context.Background(), "OrderPlaced", newEnvelope(t))
	require.Len(t, calls, 1)

	registry.Unregister(handle)
	d.Dispatch(context.Background(), "OrderPlaced", newEnvelope(t))
	assert.Len(t, calls, 1)
}

func TestDispatchAppendsExactlyOneHop(t *testing.T) {
	registry := NewRegistry()
	registry.Register("OrderPlaced", StagePreValidate, "validate",
		func(ctx context.Context, env *envelope.Envelope, em Emitter) error { return nil })
	registry.Register("OrderPlaced", StagePostHandle, "audit",
		func(ctx context.Context, env *envelope.Envelope, em Emitter) error { return nil })

	env := newEnvelope(t)
	before := len(env.Hops)

	d := New(registry, testIdentity(), nil)
	d.Dispatch(context.Background(), "OrderPlaced", env)

	require.Len(t, env.Hops, before+1)
	hop := env.Hops[len(env.Hops)-1]
	assert.Equal(t, envelope.HopCurrent, hop.Type)
	assert.Equal(t, "inst-1", hop.Service.InstanceID)
	assert.Equal(t, env.CorrelationID(), hop.CorrelationID, "correlation carries forward")
}

func TestCancelledContextStopsPipeline(t *testing.T) {
	registry := NewRegistry()
	var calls []string
	registry.Register("OrderPlaced", StageReceptorInvoke, "receptor", recorder(&calls, "receptor"))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	d := New(registry, testIdentity(), nil)
	outcome := d.Dispatch(ctx, "OrderPlaced", newEnvelope(t))

	require.True(t, outcome.Failed())
	assert.ErrorIs(t, outcome.Err, context.Canceled)
	assert.Empty(t, calls)
}

// capturingQueue records outbox rows instead of flushing them
type capturingQueue struct {
	records []types.OutboxRecord
}

func (q *capturingQueue) QueueOutbox(record types.OutboxRecord) {
	q.records = append(q.records, record)
}

func TestEmitterQueuesChildEnvelope(t *testing.T) {
	queue := &capturingQueue{}
	emitter := NewQueueEmitter(queue, testIdentity())

	registry := NewRegistry()
	registry.Register("OrderPlaced", StageReceptorInvoke, "receptor",
		func(ctx context.Context, env *envelope.Envelope, em Emitter) error {
			return em.Emit(env, "orders.events", "OrderShipped, Orders",
				map[string]string{"OrderId": "o-1"})
		})

	parent := newEnvelope(t)
	parent.AppendHop(envelope.Hop{
		Type:      envelope.HopCurrent,
		Service:   testIdentity(),
		StreamKey: "order-1",
	})

	d := New(registry, testIdentity(), emitter)
	outcome := d.Dispatch(context.Background(), "OrderPlaced", parent)
	require.False(t, outcome.Failed())

	require.Len(t, queue.records, 1)
	record := queue.records[0]
	assert.Equal(t, "orders.events", record.Destination)
	assert.Equal(t, "OrderShipped, Orders", record.MessageType)
	assert.True(t, record.IsEvent)
	require.NotNil(t, record.StreamID)
	assert.Equal(t, "order-1", *record.StreamID)

	child, err := envelope.Unmarshal(record.MessageData, "", nil)
	require.NoError(t, err)
	assert.Equal(t, record.MessageID, child.MessageID.String())
	assert.Equal(t, parent.CorrelationID(), child.CorrelationID(),
		"children join the parent's conversation")
	assert.Equal(t, parent.MessageID.String(), child.CausationID().String())
	assert.NotEqual(t, parent.MessageID.String(), child.MessageID.String())
}

func TestEmitterCarriesScope(t *testing.T) {
	queue := &capturingQueue{}
	emitter := NewQueueEmitter(queue, testIdentity())

	parent := newEnvelope(t)
	parent.Scope = map[string]string{"tenant": "acme"}

	require.NoError(t, emitter.Emit(parent, "orders.events", "OrderShipped", orderPlaced{OrderID: "o-1"}))

	require.Len(t, queue.records, 1)
	var scope map[string]string
	require.NoError(t, json.Unmarshal(queue.records[0].Scope, &scope))
	assert.Equal(t, "acme", scope["tenant"])
}
