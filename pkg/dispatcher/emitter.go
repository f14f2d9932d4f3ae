package dispatcher

import (
	"encoding/json"
	"fmt"

	"github.com/whizbang-io/whizbang/pkg/envelope"
	"github.com/whizbang-io/whizbang/pkg/types"
)

// Emitter queues envelopes produced by handlers for durable publication.
// Children inherit the parent's correlation ID and scope and set their
// causation ID to the parent's message ID.
type Emitter interface {
	Emit(parent *envelope.Envelope, destination, messageType string, payload any) error
}

// OutboxQueue is the strategy surface the emitter writes to
type OutboxQueue interface {
	QueueOutbox(record types.OutboxRecord)
}

// QueueEmitter builds child envelopes and parks them on the outbox queue.
// The rows become durable on the next strategy flush, in the same
// coordinator call that reports the parent's outcome.
type QueueEmitter struct {
	queue    OutboxQueue
	identity envelope.ServiceIdentity
}

// NewQueueEmitter creates an emitter backed by queue
func NewQueueEmitter(queue OutboxQueue, identity envelope.ServiceIdentity) *QueueEmitter {
	return &QueueEmitter{queue: queue, identity: identity}
}

// Emit queues one child envelope of parent for publication to destination
func (e *QueueEmitter) Emit(parent *envelope.Envelope, destination, messageType string, payload any) error {
	child := envelope.NewChild(parent, payload, e.identity)

	data, err := child.Marshal()
	if err != nil {
		return WithReason(types.FailureSerializationError,
			fmt.Errorf("failed to marshal emitted envelope: %w", err))
	}

	record := types.OutboxRecord{
		MessageID:   child.MessageID.String(),
		Destination: destination,
		MessageType: envelope.NormalizeEventType(messageType),
		MessageData: data,
		IsEvent:     true,
	}
	if key := parent.StreamKey(); !key.IsZero() {
		s := key.String()
		record.StreamID = &s
	}
	if len(child.Scope) > 0 {
		scope, err := json.Marshal(child.Scope)
		if err != nil {
			return WithReason(types.FailureSerializationError,
				fmt.Errorf("failed to marshal scope: %w", err))
		}
		record.Scope = scope
	}

	e.queue.QueueOutbox(record)
	return nil
}
