package coordinator

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/whizbang-io/whizbang/pkg/checkpoint"
	"github.com/whizbang-io/whizbang/pkg/events"
	"github.com/whizbang-io/whizbang/pkg/log"
	"github.com/whizbang-io/whizbang/pkg/partition"
	"github.com/whizbang-io/whizbang/pkg/storage"
	"github.com/whizbang-io/whizbang/pkg/types"
)

// Memory is the coordinator for the embedded single-process deployment
// mode and for scenario tests. One mutex serializes every batch call, so
// each call observes and produces a consistent snapshot, which is the same
// atomicity the Postgres coordinator gets from its transaction. When a
// storage.Store is attached, durable state survives restarts.
type Memory struct {
	mu          sync.Mutex
	opts        options
	outbox      map[string]*types.OutboxRecord
	inbox       map[string]*types.InboxRecord
	dedup       map[string]time.Time
	instances   map[string]*types.ServiceInstance
	assignments []types.PartitionAssignment
	streams     map[string]*types.ActiveStream
	checkpoints *checkpoint.Memory
	store       storage.Store
	clock       func() time.Time
}

// NewMemory creates an embedded coordinator with no durability
func NewMemory(opts ...Option) *Memory {
	m := &Memory{
		opts:        defaultOptions(),
		outbox:      make(map[string]*types.OutboxRecord),
		inbox:       make(map[string]*types.InboxRecord),
		dedup:       make(map[string]time.Time),
		instances:   make(map[string]*types.ServiceInstance),
		streams:     make(map[string]*types.ActiveStream),
		checkpoints: checkpoint.NewMemory(),
		clock:       func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(&m.opts)
	}
	return m
}

// NewMemoryWithStore creates an embedded coordinator that persists its
// durable state (rows, instances, streams, checkpoints) through the given
// record store, loading whatever a previous run left behind
func NewMemoryWithStore(store storage.Store, opts ...Option) (*Memory, error) {
	m := NewMemory(opts...)
	m.store = store

	outbox, err := store.ListOutbox()
	if err != nil {
		return nil, fmt.Errorf("failed to load outbox: %w", err)
	}
	for _, r := range outbox {
		m.outbox[r.MessageID] = r
		m.dedup[r.MessageID] = r.CreatedAt
	}

	inbox, err := store.ListInbox()
	if err != nil {
		return nil, fmt.Errorf("failed to load inbox: %w", err)
	}
	for _, r := range inbox {
		m.inbox[r.MessageID] = r
		m.dedup[r.MessageID] = r.CreatedAt
	}

	instances, err := store.ListInstances()
	if err != nil {
		return nil, fmt.Errorf("failed to load instances: %w", err)
	}
	for _, r := range instances {
		m.instances[r.InstanceID] = r
	}

	streams, err := store.ListStreams()
	if err != nil {
		return nil, fmt.Errorf("failed to load streams: %w", err)
	}
	for _, r := range streams {
		m.streams[r.StreamID] = r
	}

	checkpoints, err := checkpoint.NewMemoryWithStore(store)
	if err != nil {
		return nil, err
	}
	m.checkpoints = checkpoints
	return m, nil
}

// Checkpoints exposes the coordinator's checkpoint store
func (m *Memory) Checkpoints() checkpoint.Store {
	return m.checkpoints
}

// ProcessWorkBatch runs one full coordination cycle under the mutex
func (m *Memory) ProcessWorkBatch(ctx context.Context, req *types.WorkRequest) (*types.WorkBatch, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if req.InstanceID == "" {
		return nil, errors.New("work request missing instance id")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clock()
	partitionCount := req.PartitionCount
	if partitionCount <= 0 {
		partitionCount = partition.DefaultCount
	}
	lease := req.LeaseDuration()
	if lease <= 0 {
		lease = 300 * time.Second
	}
	staleThreshold := req.StaleThreshold()
	if staleThreshold <= 0 {
		staleThreshold = 600 * time.Second
	}

	if err := m.heartbeat(req, now); err != nil {
		return nil, err
	}
	if err := m.reapStale(now, staleThreshold); err != nil {
		return nil, err
	}
	m.rebalance(partitionCount, now)

	if err := m.persistResults(ctx, req, now); err != nil {
		return nil, err
	}
	if err := m.insertNewRows(req, partitionCount, now); err != nil {
		return nil, err
	}
	if err := m.renewLeases(req, now, lease); err != nil {
		return nil, err
	}
	m.sweepIdleStreams(now)

	batch, err := m.claim(req, now, lease)
	if err != nil {
		return nil, err
	}

	m.opts.publish(&events.Event{
		Type:       events.EventBatchFlushed,
		Message:    "work batch processed",
		InstanceID: req.InstanceID,
		Metadata: map[string]string{
			"outbox": fmt.Sprintf("%d", len(batch.OutboxWork)),
			"inbox":  fmt.Sprintf("%d", len(batch.InboxWork)),
		},
	})
	return batch, nil
}

func (m *Memory) heartbeat(req *types.WorkRequest, now time.Time) error {
	instance, ok := m.instances[req.InstanceID]
	if !ok {
		instance = &types.ServiceInstance{
			InstanceID:  req.InstanceID,
			ServiceName: req.ServiceName,
			HostName:    req.Host,
			ProcessID:   req.PID,
			StartedAt:   now,
		}
		m.instances[req.InstanceID] = instance
	}
	instance.LastHeartbeatAt = now
	instance.Metadata = req.Metadata

	if m.store != nil {
		if err := m.store.PutInstance(instance); err != nil {
			return fmt.Errorf("failed to persist instance: %w", err)
		}
	}
	return nil
}

func (m *Memory) reapStale(now time.Time, threshold time.Duration) error {
	for id, instance := range m.instances {
		if !instance.Stale(now, threshold) {
			continue
		}
		delete(m.instances, id)
		if m.store != nil {
			if err := m.store.DeleteInstance(id); err != nil {
				return fmt.Errorf("failed to delete reaped instance: %w", err)
			}
		}

		// A reaped instance's leases are released so step 6 sees its
		// rows as orphaned immediately
		for _, r := range m.outbox {
			if r.InstanceID != nil && *r.InstanceID == id && !r.Status.Terminal(types.RoleOutbox) {
				r.InstanceID = nil
				r.LeaseExpiry = nil
				if err := m.persistOutbox(r); err != nil {
					return err
				}
			}
		}
		for _, r := range m.inbox {
			if r.InstanceID != nil && *r.InstanceID == id && !r.Status.Terminal(types.RoleInbox) {
				r.InstanceID = nil
				r.LeaseExpiry = nil
				if err := m.persistInbox(r); err != nil {
					return err
				}
			}
		}
		for _, s := range m.streams {
			if s.AssignedInstanceID != nil && *s.AssignedInstanceID == id {
				s.AssignedInstanceID = nil
				s.LeaseExpiry = nil
				if err := m.persistStream(s); err != nil {
					return err
				}
			}
		}

		logger := log.WithInstanceID(id)
		logger.Warn().Msg("Reaped stale instance")
		m.opts.publish(&events.Event{
			Type:       events.EventInstanceReaped,
			Message:    "stale instance reaped",
			InstanceID: id,
		})
	}
	return nil
}

func (m *Memory) rebalance(partitionCount int, now time.Time) {
	live := make([]string, 0, len(m.instances))
	for id := range m.instances {
		live = append(live, id)
	}
	m.assignments = partition.Balance(partitionCount, live, now)
}

func (m *Memory) persistResults(ctx context.Context, req *types.WorkRequest, now time.Time) error {
	for _, id := range req.OutboxCompletedIDs {
		r, ok := m.outbox[id]
		if !ok || r.InstanceID == nil || *r.InstanceID != req.InstanceID {
			// The lease moved on; this report is stale
			continue
		}
		r.Status = r.Status.Set(types.StatusPublished)
		if r.PublishedAt == nil {
			published := now
			r.PublishedAt = &published
		}
		processed := now
		r.ProcessedAt = &processed
		if err := m.persistOutbox(r); err != nil {
			return err
		}
		m.opts.publish(&events.Event{
			Type:      events.EventMessageCompleted,
			Message:   "outbox message published",
			Role:      types.RoleOutbox,
			MessageID: id,
		})
	}

	inboxCompleted := req.InboxCompletedIDs
	for _, rc := range req.ReceptorCompletions {
		if rc.Error == "" {
			inboxCompleted = append(inboxCompleted, rc.MessageID)
		}
	}
	for _, id := range inboxCompleted {
		r, ok := m.inbox[id]
		if !ok || r.InstanceID == nil || *r.InstanceID != req.InstanceID {
			continue
		}
		r.Status = r.Status.Set(types.StatusReceptorProcessed)
		processed := now
		r.ProcessedAt = &processed
		if err := m.persistInbox(r); err != nil {
			return err
		}
		m.opts.publish(&events.Event{
			Type:      events.EventMessageCompleted,
			Message:   "inbox message handled",
			Role:      types.RoleInbox,
			MessageID: id,
		})
	}

	for _, f := range req.OutboxFailed {
		r, ok := m.outbox[f.MessageID]
		if !ok || r.InstanceID == nil || *r.InstanceID != req.InstanceID {
			continue
		}
		reason, terminal := failureOutcome(f.Reason, r.Attempts, m.opts.maxDeliveryAttempts)
		m.applyFailure(&r.Status, &r.FailureReason, &r.Error, &r.InstanceID, &r.LeaseExpiry, reason, terminal, f.Error)
		if err := m.persistOutbox(r); err != nil {
			return err
		}
		m.opts.publish(&events.Event{
			Type:      events.EventMessageFailed,
			Message:   "outbox message failed",
			Role:      types.RoleOutbox,
			Reason:    reason,
			MessageID: f.MessageID,
		})
	}

	inboxFailed := req.InboxFailed
	for _, rf := range req.ReceptorFailures {
		inboxFailed = append(inboxFailed, types.FailedMessage{
			MessageID: rf.MessageID,
			Reason:    types.FailureUnknown,
			Error:     rf.Error,
		})
	}
	for _, f := range inboxFailed {
		r, ok := m.inbox[f.MessageID]
		if !ok || r.InstanceID == nil || *r.InstanceID != req.InstanceID {
			continue
		}
		reason, terminal := failureOutcome(f.Reason, r.Attempts, m.opts.maxDeliveryAttempts)
		m.applyFailure(&r.Status, &r.FailureReason, &r.Error, &r.InstanceID, &r.LeaseExpiry, reason, terminal, f.Error)
		if err := m.persistInbox(r); err != nil {
			return err
		}
		m.opts.publish(&events.Event{
			Type:      events.EventMessageFailed,
			Message:   "inbox message failed",
			Role:      types.RoleInbox,
			Reason:    reason,
			MessageID: f.MessageID,
		})
	}

	for _, c := range req.PerspectiveCompletions {
		if err := m.checkpoints.Complete(ctx, c); err != nil {
			return err
		}
		m.opts.publish(&events.Event{
			Type:     events.EventCheckpointAdvanced,
			Message:  "checkpoint advanced",
			StreamID: c.StreamID,
			Metadata: map[string]string{"projection": c.ProjectionName},
		})
	}
	for _, c := range req.PerspectiveFailures {
		if err := m.checkpoints.Complete(ctx, c); err != nil {
			return err
		}
	}
	return nil
}

func (m *Memory) applyFailure(status *types.Status, failureReason *types.FailureReason, errMsg **string, instanceID **string, leaseExpiry **time.Time, reason types.FailureReason, terminal bool, message string) {
	*failureReason = reason
	if message != "" {
		msg := message
		*errMsg = &msg
	}
	if terminal {
		*status = status.Set(types.StatusFailed)
	}
	// Release the lease either way: a terminal row is never claimable
	// again, a retryable one goes back in the pool
	*instanceID = nil
	*leaseExpiry = nil
}

func (m *Memory) insertNewRows(req *types.WorkRequest, partitionCount int, now time.Time) error {
	// Nanosecond offsets keep the relative order of rows inserted in one
	// call even on a coarse clock
	for i := range req.NewOutbox {
		record := req.NewOutbox[i]
		if m.seen(record.MessageID) {
			m.opts.publish(&events.Event{
				Type:      events.EventMessageDeduplicated,
				Message:   "duplicate outbox message ignored",
				Role:      types.RoleOutbox,
				MessageID: record.MessageID,
			})
			continue
		}
		createdAt := now.Add(time.Duration(i))
		if record.Status == 0 {
			record.Status = types.StatusPending
		}
		if record.CreatedAt.IsZero() {
			record.CreatedAt = createdAt
		}
		if record.StreamID != nil && record.PartitionNumber == nil {
			pn := partition.Compute(*record.StreamID, partitionCount)
			record.PartitionNumber = &pn
		}
		m.outbox[record.MessageID] = &record
		if err := m.recordDedup(record.MessageID, now); err != nil {
			return err
		}
		if err := m.persistOutbox(&record); err != nil {
			return err
		}
	}

	for i := range req.NewInbox {
		record := req.NewInbox[i]
		if m.seen(record.MessageID) {
			m.opts.publish(&events.Event{
				Type:      events.EventMessageDeduplicated,
				Message:   "duplicate inbox message ignored",
				Role:      types.RoleInbox,
				MessageID: record.MessageID,
			})
			continue
		}
		createdAt := now.Add(time.Duration(i))
		if record.Status == 0 {
			record.Status = types.StatusPending
		}
		if record.CreatedAt.IsZero() {
			record.CreatedAt = createdAt
		}
		if record.ReceivedAt.IsZero() {
			record.ReceivedAt = createdAt
		}
		if record.StreamID != nil && record.PartitionNumber == nil {
			pn := partition.Compute(*record.StreamID, partitionCount)
			record.PartitionNumber = &pn
		}
		m.inbox[record.MessageID] = &record
		if err := m.recordDedup(record.MessageID, now); err != nil {
			return err
		}
		if err := m.persistInbox(&record); err != nil {
			return err
		}
	}
	return nil
}

func (m *Memory) seen(messageID string) bool {
	if _, ok := m.dedup[messageID]; ok {
		return true
	}
	if m.store != nil {
		if _, err := m.store.GetDedup(messageID); err == nil {
			return true
		}
	}
	return false
}

func (m *Memory) recordDedup(messageID string, now time.Time) error {
	m.dedup[messageID] = now
	if m.store != nil {
		if err := m.store.PutDedup(&types.DeduplicationRecord{MessageID: messageID, FirstSeenAt: now}); err != nil {
			return fmt.Errorf("failed to persist dedup record: %w", err)
		}
	}
	return nil
}

func (m *Memory) renewLeases(req *types.WorkRequest, now time.Time, lease time.Duration) error {
	expiry := now.Add(lease)
	for _, id := range req.RenewOutboxLeaseIDs {
		r, ok := m.outbox[id]
		if !ok || r.InstanceID == nil || *r.InstanceID != req.InstanceID {
			continue
		}
		r.LeaseExpiry = &expiry
		if err := m.persistOutbox(r); err != nil {
			return err
		}
		m.opts.publish(&events.Event{
			Type:      events.EventLeaseRenewed,
			Message:   "outbox lease renewed",
			Role:      types.RoleOutbox,
			MessageID: id,
		})
	}
	for _, id := range req.RenewInboxLeaseIDs {
		r, ok := m.inbox[id]
		if !ok || r.InstanceID == nil || *r.InstanceID != req.InstanceID {
			continue
		}
		r.LeaseExpiry = &expiry
		if err := m.persistInbox(r); err != nil {
			return err
		}
		m.opts.publish(&events.Event{
			Type:      events.EventLeaseRenewed,
			Message:   "inbox lease renewed",
			Role:      types.RoleInbox,
			MessageID: id,
		})
	}
	return nil
}

func (m *Memory) sweepIdleStreams(now time.Time) {
	cutoff := now.Add(-m.opts.idleStreamTTL)
	for _, s := range m.streams {
		if s.AssignedInstanceID != nil && s.LastActivityAt.Before(cutoff) {
			s.AssignedInstanceID = nil
			s.LeaseExpiry = nil
			_ = m.persistStream(s)
			m.opts.publish(&events.Event{
				Type:     events.EventStreamOrphaned,
				Message:  "idle stream orphaned",
				StreamID: s.StreamID,
			})
		}
	}
}

// streamBlocked reports whether another instance currently owns the stream
func (m *Memory) streamBlocked(streamID, caller string, now time.Time) bool {
	s, ok := m.streams[streamID]
	if !ok || s.AssignedInstanceID == nil || *s.AssignedInstanceID == caller {
		return false
	}
	return s.LeaseExpiry != nil && s.LeaseExpiry.After(now)
}

func (m *Memory) claim(req *types.WorkRequest, now time.Time, lease time.Duration) (*types.WorkBatch, error) {
	owned := partition.Owned(m.assignments, req.InstanceID)
	expiry := now.Add(lease)
	batch := &types.WorkBatch{}

	outboxClaims, err := m.claimOutbox(req.InstanceID, owned, now, expiry)
	if err != nil {
		return nil, err
	}
	for _, r := range outboxClaims {
		batch.OutboxWork = append(batch.OutboxWork, types.OutboxWork{
			MessageID: r.MessageID, Destination: r.Destination,
			MessageType: r.MessageType, MessageData: r.MessageData,
			Metadata: r.Metadata, Scope: r.Scope, StreamID: r.StreamID,
			PartitionNumber: r.PartitionNumber, IsEvent: r.IsEvent,
			Attempts: r.Attempts,
		})
	}

	inboxClaims, err := m.claimInbox(req.InstanceID, owned, now, expiry)
	if err != nil {
		return nil, err
	}
	for _, r := range inboxClaims {
		batch.InboxWork = append(batch.InboxWork, types.InboxWork{
			MessageID: r.MessageID, HandlerName: r.HandlerName,
			Destination: r.Destination, MessageType: r.MessageType,
			MessageData: r.MessageData, Metadata: r.Metadata, Scope: r.Scope,
			StreamID: r.StreamID, PartitionNumber: r.PartitionNumber,
			IsEvent: r.IsEvent, Attempts: r.Attempts,
		})
	}
	return batch, nil
}

// headOfStream reports whether no earlier row for the same stream is still
// non-terminal. created-at order with the message ID as tiebreaker matches
// the claim ordering, so exactly one row per stream can pass.
func headOfOutboxStream(rows map[string]*types.OutboxRecord, r *types.OutboxRecord) bool {
	if r.StreamID == nil {
		return true
	}
	for _, prior := range rows {
		if prior.StreamID == nil || *prior.StreamID != *r.StreamID || prior.MessageID == r.MessageID {
			continue
		}
		if prior.Status.Terminal(types.RoleOutbox) {
			continue
		}
		if prior.CreatedAt.Before(r.CreatedAt) ||
			(prior.CreatedAt.Equal(r.CreatedAt) && prior.MessageID < r.MessageID) {
			return false
		}
	}
	return true
}

func headOfInboxStream(rows map[string]*types.InboxRecord, r *types.InboxRecord) bool {
	if r.StreamID == nil {
		return true
	}
	for _, prior := range rows {
		if prior.StreamID == nil || *prior.StreamID != *r.StreamID || prior.MessageID == r.MessageID {
			continue
		}
		if prior.Status.Terminal(types.RoleInbox) {
			continue
		}
		if prior.CreatedAt.Before(r.CreatedAt) ||
			(prior.CreatedAt.Equal(r.CreatedAt) && prior.MessageID < r.MessageID) {
			return false
		}
	}
	return true
}

func (m *Memory) claimOutbox(caller string, owned map[int]bool, now, expiry time.Time) ([]*types.OutboxRecord, error) {
	var candidates []*types.OutboxRecord
	for _, r := range m.outbox {
		if !r.Claimable(now) {
			continue
		}
		// An expired lease (instance still set) marks an abandoned claim;
		// any instance may rescue it regardless of partition ownership
		orphaned := r.InstanceID != nil
		if r.PartitionNumber != nil && !owned[*r.PartitionNumber] && !orphaned {
			continue
		}
		if r.StreamID != nil && m.streamBlocked(*r.StreamID, caller, now) {
			continue
		}
		if !headOfOutboxStream(m.outbox, r) {
			continue
		}
		candidates = append(candidates, r)
	}
	sortOutboxClaims(candidates)

	claimed := make([]*types.OutboxRecord, 0, len(candidates))
	perPartition := make(map[int]int)
	for _, r := range candidates {
		p := -1
		if r.PartitionNumber != nil {
			p = *r.PartitionNumber
		}
		if perPartition[p] >= m.opts.claimQuota {
			continue
		}
		perPartition[p]++

		instanceID := caller
		leaseExpiry := expiry
		r.InstanceID = &instanceID
		r.LeaseExpiry = &leaseExpiry
		r.Attempts++
		if err := m.persistOutbox(r); err != nil {
			return nil, err
		}
		if r.StreamID != nil {
			if err := m.touchStream(*r.StreamID, r.PartitionNumber, caller, now, expiry); err != nil {
				return nil, err
			}
		}
		m.opts.publish(&events.Event{
			Type:       events.EventMessageClaimed,
			Message:    "outbox message claimed",
			Role:       types.RoleOutbox,
			MessageID:  r.MessageID,
			InstanceID: caller,
		})
		claimed = append(claimed, r)
	}
	return claimed, nil
}

func (m *Memory) claimInbox(caller string, owned map[int]bool, now, expiry time.Time) ([]*types.InboxRecord, error) {
	var candidates []*types.InboxRecord
	for _, r := range m.inbox {
		if !r.Claimable(now) {
			continue
		}
		orphaned := r.InstanceID != nil
		if r.PartitionNumber != nil && !owned[*r.PartitionNumber] && !orphaned {
			continue
		}
		if r.StreamID != nil && m.streamBlocked(*r.StreamID, caller, now) {
			continue
		}
		if !headOfInboxStream(m.inbox, r) {
			continue
		}
		candidates = append(candidates, r)
	}
	sortInboxClaims(candidates)

	claimed := make([]*types.InboxRecord, 0, len(candidates))
	perPartition := make(map[int]int)
	for _, r := range candidates {
		p := -1
		if r.PartitionNumber != nil {
			p = *r.PartitionNumber
		}
		if perPartition[p] >= m.opts.claimQuota {
			continue
		}
		perPartition[p]++

		instanceID := caller
		leaseExpiry := expiry
		r.InstanceID = &instanceID
		r.LeaseExpiry = &leaseExpiry
		r.Attempts++
		if err := m.persistInbox(r); err != nil {
			return nil, err
		}
		if r.StreamID != nil {
			if err := m.touchStream(*r.StreamID, r.PartitionNumber, caller, now, expiry); err != nil {
				return nil, err
			}
		}
		m.opts.publish(&events.Event{
			Type:       events.EventMessageClaimed,
			Message:    "inbox message claimed",
			Role:       types.RoleInbox,
			MessageID:  r.MessageID,
			InstanceID: caller,
		})
		claimed = append(claimed, r)
	}
	return claimed, nil
}

func sortOutboxClaims(rows []*types.OutboxRecord) {
	sort.Slice(rows, func(i, j int) bool {
		si, sj := "", ""
		if rows[i].StreamID != nil {
			si = *rows[i].StreamID
		}
		if rows[j].StreamID != nil {
			sj = *rows[j].StreamID
		}
		if si != sj {
			return si < sj
		}
		if !rows[i].CreatedAt.Equal(rows[j].CreatedAt) {
			return rows[i].CreatedAt.Before(rows[j].CreatedAt)
		}
		return rows[i].MessageID < rows[j].MessageID
	})
}

func sortInboxClaims(rows []*types.InboxRecord) {
	sort.Slice(rows, func(i, j int) bool {
		si, sj := "", ""
		if rows[i].StreamID != nil {
			si = *rows[i].StreamID
		}
		if rows[j].StreamID != nil {
			sj = *rows[j].StreamID
		}
		if si != sj {
			return si < sj
		}
		if !rows[i].CreatedAt.Equal(rows[j].CreatedAt) {
			return rows[i].CreatedAt.Before(rows[j].CreatedAt)
		}
		return rows[i].MessageID < rows[j].MessageID
	})
}

func (m *Memory) touchStream(streamID string, partitionNumber *int, caller string, now, expiry time.Time) error {
	s, ok := m.streams[streamID]
	if !ok {
		s = &types.ActiveStream{StreamID: streamID, CreatedAt: now}
		if partitionNumber != nil {
			s.PartitionNumber = *partitionNumber
		}
		m.streams[streamID] = s
		m.opts.publish(&events.Event{
			Type:       events.EventStreamClaimed,
			Message:    "stream claimed",
			StreamID:   streamID,
			InstanceID: caller,
		})
	}
	instanceID := caller
	leaseExpiry := expiry
	s.AssignedInstanceID = &instanceID
	s.LeaseExpiry = &leaseExpiry
	s.LastActivityAt = now
	return m.persistStream(s)
}

func (m *Memory) persistOutbox(r *types.OutboxRecord) error {
	if m.store == nil {
		return nil
	}
	if err := m.store.PutOutbox(r); err != nil {
		return fmt.Errorf("failed to persist outbox row: %w", err)
	}
	return nil
}

func (m *Memory) persistInbox(r *types.InboxRecord) error {
	if m.store == nil {
		return nil
	}
	if err := m.store.PutInbox(r); err != nil {
		return fmt.Errorf("failed to persist inbox row: %w", err)
	}
	return nil
}

func (m *Memory) persistStream(s *types.ActiveStream) error {
	if m.store == nil {
		return nil
	}
	if err := m.store.PutStream(s); err != nil {
		return fmt.Errorf("failed to persist stream: %w", err)
	}
	return nil
}
