package metrics

import (
	"github.com/whizbang-io/whizbang/pkg/events"
	"github.com/whizbang-io/whizbang/pkg/types"
)

// Collector turns lifecycle events into metric updates. It subscribes to
// the broker on Start and consumes until Stop.
type Collector struct {
	broker *events.Broker
	sub    events.Subscriber
	stopCh chan struct{}
	doneCh chan struct{}
}

// NewCollector creates a collector over broker
func NewCollector(broker *events.Broker) *Collector {
	return &Collector{
		broker: broker,
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
}

// Start subscribes and begins consuming events
func (c *Collector) Start() {
	c.sub = c.broker.Subscribe()
	go c.run()
}

// Stop unsubscribes and stops the consumer
func (c *Collector) Stop() {
	close(c.stopCh)
	<-c.doneCh
	c.broker.Unsubscribe(c.sub)
}

func (c *Collector) run() {
	defer close(c.doneCh)

	for {
		select {
		case event, ok := <-c.sub:
			if !ok {
				return
			}
			c.observe(event)
		case <-c.stopCh:
			return
		}
	}
}

func (c *Collector) observe(event *events.Event) {
	switch event.Type {
	case events.EventMessageClaimed:
		MessagesClaimed.WithLabelValues(roleLabel(event)).Inc()
	case events.EventMessageCompleted:
		MessagesCompleted.WithLabelValues(roleLabel(event)).Inc()
	case events.EventMessageFailed:
		MessagesFailed.WithLabelValues(reasonLabel(event)).Inc()
	case events.EventMessageDeduplicated:
		MessagesDeduplicated.Inc()
	case events.EventStreamClaimed:
		StreamsClaimed.Inc()
	case events.EventStreamOrphaned:
		StreamsOrphaned.Inc()
	case events.EventInstanceReaped:
		InstancesReaped.Inc()
	case events.EventLeaseRenewed:
		LeasesRenewed.Inc()
	case events.EventLeaseExpired:
		LeasesExpired.Inc()
	case events.EventBatchFlushed:
		BatchesFlushed.Inc()
	case events.EventCheckpointAdvanced:
		CheckpointsAdvanced.Inc()
	}
}

func roleLabel(event *events.Event) string {
	if event.Role == "" {
		return "unknown"
	}
	return string(event.Role)
}

func reasonLabel(event *events.Event) string {
	if event.Reason == types.FailureNone {
		return "unknown"
	}
	return event.Reason.String()
}
