package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/whizbang-io/whizbang/pkg/events"
	"github.com/whizbang-io/whizbang/pkg/types"
)

func startCollector(t *testing.T) *events.Broker {
	t.Helper()

	broker := events.NewBroker()
	broker.Start()
	t.Cleanup(broker.Stop)

	collector := NewCollector(broker)
	collector.Start()
	t.Cleanup(collector.Stop)
	return broker
}

func waitForCount(t *testing.T, counter prometheus.Counter, want float64) {
	t.Helper()
	require.Eventually(t, func() bool {
		return testutil.ToFloat64(counter) >= want
	}, 2*time.Second, 5*time.Millisecond)
}

func TestCollectorCountsCompletionsByRole(t *testing.T) {
	broker := startCollector(t)

	counter := MessagesCompleted.WithLabelValues("inbox")
	before := testutil.ToFloat64(counter)

	broker.Publish(&events.Event{
		Type: events.EventMessageCompleted,
		Role: types.RoleInbox,
	})
	broker.Publish(&events.Event{
		Type: events.EventMessageCompleted,
		Role: types.RoleInbox,
	})

	waitForCount(t, counter, before+2)
}

func TestCollectorCountsFailuresByReason(t *testing.T) {
	broker := startCollector(t)

	counter := MessagesFailed.WithLabelValues("validation_error")
	before := testutil.ToFloat64(counter)

	broker.Publish(&events.Event{
		Type:   events.EventMessageFailed,
		Reason: types.FailureValidationError,
	})

	waitForCount(t, counter, before+1)
}

func TestCollectorDefaultsMissingLabels(t *testing.T) {
	broker := startCollector(t)

	counter := MessagesClaimed.WithLabelValues("unknown")
	before := testutil.ToFloat64(counter)

	broker.Publish(&events.Event{Type: events.EventMessageClaimed})

	waitForCount(t, counter, before+1)
}

func TestCollectorUsesTypedRoleAndReason(t *testing.T) {
	broker := startCollector(t)

	claimed := MessagesClaimed.WithLabelValues(string(types.RoleOutbox))
	failed := MessagesFailed.WithLabelValues(types.FailureLeaseExpired.String())
	claimedBefore := testutil.ToFloat64(claimed)
	failedBefore := testutil.ToFloat64(failed)

	broker.Publish(&events.Event{
		Type: events.EventMessageClaimed,
		Role: types.RoleOutbox,
	})
	broker.Publish(&events.Event{
		Type:   events.EventMessageFailed,
		Role:   types.RoleOutbox,
		Reason: types.FailureLeaseExpired,
	})

	waitForCount(t, claimed, claimedBefore+1)
	waitForCount(t, failed, failedBefore+1)
}

func TestCollectorCountsCoordinationEvents(t *testing.T) {
	broker := startCollector(t)

	reaped := testutil.ToFloat64(InstancesReaped)
	advanced := testutil.ToFloat64(CheckpointsAdvanced)

	broker.Publish(&events.Event{Type: events.EventInstanceReaped})
	broker.Publish(&events.Event{Type: events.EventCheckpointAdvanced})

	waitForCount(t, InstancesReaped, reaped+1)
	waitForCount(t, CheckpointsAdvanced, advanced+1)
}
