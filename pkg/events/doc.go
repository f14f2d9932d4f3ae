/*
Package events provides an in-memory broker for Whizbang's lifecycle events.

The events package implements a lightweight bus that broadcasts processing
lifecycle events (claims, completions, failures, lease transitions,
checkpoint advances, instance reaping) to interested in-process
subscribers. Delivery is asynchronous and best effort: the broker never
blocks a publisher, and slow subscribers skip events rather than stall the
worker loop. Durable signals live in the database; this broker exists for
metrics, diagnostics and embedding applications that want to observe the
instance without polling it.

# Event Flow

 1. Publisher calls broker.Publish(event)
 2. Event is buffered on the main channel (non-blocking)
 3. The broadcast loop fans the event out to every subscriber channel
 4. Full subscriber buffers are skipped

# Usage

	broker := events.NewBroker()
	broker.Start()
	defer broker.Stop()

	sub := broker.Subscribe()
	defer broker.Unsubscribe(sub)

	go func() {
		for event := range sub {
			switch event.Type {
			case events.EventMessageFailed:
				alert(event)
			}
		}
	}()

	broker.Publish(&events.Event{
		Type:      events.EventMessageClaimed,
		Message:   "claimed inbox message",
		Role:      types.RoleInbox,
		MessageID: id.String(),
		StreamID:  "order-42",
	})

# Integration Points

  - pkg/worker publishes claim/dispatch/completion events per cycle
  - pkg/strategy publishes batch.flushed with queue depths
  - pkg/metrics subscribes and translates events into prometheus counters

# Limitations

In-memory only, no persistence, no replay, no guaranteed delivery. Anything
that must survive a restart belongs in the outbox, inbox or event store, not
here.
*/
package events
