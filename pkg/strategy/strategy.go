package strategy

import (
	"context"

	"github.com/whizbang-io/whizbang/pkg/types"
)

// Identity is the caller identity every work request carries for
// heartbeat and registration
type Identity struct {
	InstanceID  string
	ServiceName string
	Host        string
	PID         int
	Metadata    []byte
}

// Topology is the coordination parameters every work request carries
type Topology struct {
	PartitionCount        int
	LeaseSeconds          int
	StaleThresholdSeconds int
}

// Strategy accumulates the results and new work a polling cycle produces
// and turns them into coordinator calls. Queue methods never block the
// producing handler; Flush issues the RPC and returns the next batch of
// claimed work.
type Strategy interface {
	QueueOutbox(record types.OutboxRecord)
	QueueInbox(record types.InboxRecord)
	QueueCompletion(role types.Role, messageID string)
	QueueFailure(role types.Role, failure types.FailedMessage)
	QueueLeaseRenewal(role types.Role, messageID string)
	QueueCheckpoint(completion types.CheckpointCompletion)

	// Flush drains every queue into one work request, issues the RPC and
	// returns the claimed work. The heartbeat rides on every call, so
	// Flush fires even when all queues are empty.
	Flush(ctx context.Context, flags types.Flags) (*types.WorkBatch, error)

	// Close stops background flushing and reports anything still queued
	Close() error
}

// queues holds the per-category buffers both strategies drain into a
// work request
type queues struct {
	newOutbox         []types.OutboxRecord
	newInbox          []types.InboxRecord
	outboxCompleted   []string
	inboxCompleted    []string
	outboxFailed      []types.FailedMessage
	inboxFailed       []types.FailedMessage
	renewOutboxLeases []string
	renewInboxLeases  []string
	checkpoints       []types.CheckpointCompletion
}

func (q *queues) size() int {
	return len(q.newOutbox) + len(q.newInbox) +
		len(q.outboxCompleted) + len(q.inboxCompleted) +
		len(q.outboxFailed) + len(q.inboxFailed) +
		len(q.renewOutboxLeases) + len(q.renewInboxLeases) +
		len(q.checkpoints)
}

// drain moves the queued operations into a work request and resets the
// buffers
func (q *queues) drain(identity Identity, topology Topology, flags types.Flags) *types.WorkRequest {
	req := &types.WorkRequest{
		InstanceID:             identity.InstanceID,
		ServiceName:            identity.ServiceName,
		Host:                   identity.Host,
		PID:                    identity.PID,
		Metadata:               identity.Metadata,
		OutboxCompletedIDs:     q.outboxCompleted,
		InboxCompletedIDs:      q.inboxCompleted,
		OutboxFailed:           q.outboxFailed,
		InboxFailed:            q.inboxFailed,
		NewOutbox:              q.newOutbox,
		NewInbox:               q.newInbox,
		RenewOutboxLeaseIDs:    q.renewOutboxLeases,
		RenewInboxLeaseIDs:     q.renewInboxLeases,
		PerspectiveCompletions: q.checkpoints,
		Flags:                  flags,
		PartitionCount:         topology.PartitionCount,
		LeaseSeconds:           topology.LeaseSeconds,
		StaleThresholdSeconds:  topology.StaleThresholdSeconds,
	}
	*q = queues{}
	return req
}

// restore puts a drained request's contents back at the head of the
// queues after a failed call. The batch call is idempotent, so the next
// flush resends the same reports without losing anything queued since.
func (q *queues) restore(req *types.WorkRequest) {
	q.newOutbox = append(req.NewOutbox, q.newOutbox...)
	q.newInbox = append(req.NewInbox, q.newInbox...)
	q.outboxCompleted = append(req.OutboxCompletedIDs, q.outboxCompleted...)
	q.inboxCompleted = append(req.InboxCompletedIDs, q.inboxCompleted...)
	q.outboxFailed = append(req.OutboxFailed, q.outboxFailed...)
	q.inboxFailed = append(req.InboxFailed, q.inboxFailed...)
	q.renewOutboxLeases = append(req.RenewOutboxLeaseIDs, q.renewOutboxLeases...)
	q.renewInboxLeases = append(req.RenewInboxLeaseIDs, q.renewInboxLeases...)
	q.checkpoints = append(req.PerspectiveCompletions, q.checkpoints...)
}

func (q *queues) queueCompletion(role types.Role, messageID string) {
	if role == types.RoleOutbox {
		q.outboxCompleted = append(q.outboxCompleted, messageID)
	} else {
		q.inboxCompleted = append(q.inboxCompleted, messageID)
	}
}

func (q *queues) queueFailure(role types.Role, failure types.FailedMessage) {
	if role == types.RoleOutbox {
		q.outboxFailed = append(q.outboxFailed, failure)
	} else {
		q.inboxFailed = append(q.inboxFailed, failure)
	}
}

func (q *queues) queueLeaseRenewal(role types.Role, messageID string) {
	if role == types.RoleOutbox {
		q.renewOutboxLeases = append(q.renewOutboxLeases, messageID)
	} else {
		q.renewInboxLeases = append(q.renewInboxLeases, messageID)
	}
}

// merge appends b's work onto a
func merge(a, b *types.WorkBatch) *types.WorkBatch {
	if a == nil {
		return b
	}
	a.OutboxWork = append(a.OutboxWork, b.OutboxWork...)
	a.InboxWork = append(a.InboxWork, b.InboxWork...)
	return a
}
