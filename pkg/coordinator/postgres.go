package coordinator

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/whizbang-io/whizbang/pkg/checkpoint"
	"github.com/whizbang-io/whizbang/pkg/events"
	"github.com/whizbang-io/whizbang/pkg/log"
	"github.com/whizbang-io/whizbang/pkg/partition"
	"github.com/whizbang-io/whizbang/pkg/types"
)

const (
	heartbeatSQL = `
INSERT INTO wb_service_instances (
	instance_id, service_name, host_name, process_id,
	started_at, last_heartbeat_at, metadata
) VALUES ($1, $2, $3, $4, $5, $5, $6)
ON CONFLICT (instance_id) DO UPDATE SET
	last_heartbeat_at = EXCLUDED.last_heartbeat_at,
	metadata = EXCLUDED.metadata`

	reapInstancesSQL = `
DELETE FROM wb_service_instances
WHERE last_heartbeat_at < $1
RETURNING instance_id`

	releaseOutboxLeasesSQL = `
UPDATE wb_outbox SET instance_id = NULL, lease_expiry = NULL
WHERE instance_id = ANY($1) AND (status_flags & $2) = 0`

	releaseInboxLeasesSQL = `
UPDATE wb_inbox SET instance_id = NULL, lease_expiry = NULL
WHERE instance_id = ANY($1) AND (status_flags & $2) = 0`

	releaseStreamsSQL = `
UPDATE wb_active_streams SET assigned_instance_id = NULL, lease_expiry = NULL
WHERE assigned_instance_id = ANY($1)`

	liveInstancesSQL = `
SELECT instance_id FROM wb_service_instances ORDER BY instance_id`

	upsertAssignmentSQL = `
INSERT INTO wb_partition_assignments (partition_number, instance_id, assigned_at, last_heartbeat)
VALUES ($1, $2, $3, $3)
ON CONFLICT (partition_number) DO UPDATE SET
	instance_id = EXCLUDED.instance_id,
	last_heartbeat = EXCLUDED.last_heartbeat,
	assigned_at = CASE
		WHEN wb_partition_assignments.instance_id <> EXCLUDED.instance_id
		THEN EXCLUDED.assigned_at
		ELSE wb_partition_assignments.assigned_at END`

	completeOutboxSQL = `
UPDATE wb_outbox
SET status_flags = status_flags | $3,
	published_at = COALESCE(published_at, $4),
	processed_at = $4
WHERE message_id = $1 AND instance_id = $2`

	completeInboxSQL = `
UPDATE wb_inbox
SET status_flags = status_flags | $3,
	processed_at = $4
WHERE message_id = $1 AND instance_id = $2`

	selectOutboxAttemptsSQL = `
SELECT attempts FROM wb_outbox WHERE message_id = $1 AND instance_id = $2`

	selectInboxAttemptsSQL = `
SELECT attempts FROM wb_inbox WHERE message_id = $1 AND instance_id = $2`

	failOutboxSQL = `
UPDATE wb_outbox
SET error = $3, failure_reason = $4, status_flags = status_flags | $5,
	instance_id = NULL, lease_expiry = NULL
WHERE message_id = $1 AND instance_id = $2`

	failInboxSQL = `
UPDATE wb_inbox
SET error = $3, failure_reason = $4, status_flags = status_flags | $5,
	instance_id = NULL, lease_expiry = NULL
WHERE message_id = $1 AND instance_id = $2`

	insertDedupSQL = `
INSERT INTO wb_message_deduplication (message_id, first_seen_at)
VALUES ($1, $2)
ON CONFLICT (message_id) DO NOTHING`

	insertOutboxSQL = `
INSERT INTO wb_outbox (
	message_id, destination, message_type, message_data, metadata, scope,
	stream_id, partition_number, is_event, status_flags, attempts,
	failure_reason, scheduled_for, created_at
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`

	insertInboxSQL = `
INSERT INTO wb_inbox (
	message_id, handler_name, destination, message_type, message_data,
	metadata, scope, stream_id, partition_number, is_event, status_flags,
	attempts, failure_reason, scheduled_for, received_at, created_at
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`

	renewOutboxSQL = `
UPDATE wb_outbox SET lease_expiry = $3
WHERE message_id = $1 AND instance_id = $2`

	renewInboxSQL = `
UPDATE wb_inbox SET lease_expiry = $3
WHERE message_id = $1 AND instance_id = $2`

	orphanIdleStreamsSQL = `
UPDATE wb_active_streams
SET assigned_instance_id = NULL, lease_expiry = NULL
WHERE assigned_instance_id IS NOT NULL AND last_activity_at < $1`

	// The claim picks, per partition, the first rows in (stream_id,
	// created_at) order that are claimable and whose stream has no earlier
	// non-terminal row and is not owned by another live instance. SKIP
	// LOCKED keeps concurrent callers from serializing on each other.
	claimOutboxSQL = `
WITH ranked AS (
	SELECT o.message_id,
		ROW_NUMBER() OVER (
			PARTITION BY o.partition_number
			ORDER BY o.stream_id, o.created_at, o.message_id
		) AS rn
	FROM wb_outbox o
	WHERE (o.status_flags & $4) = 0
	AND (o.instance_id IS NULL OR o.lease_expiry <= $2)
	AND (o.scheduled_for IS NULL OR o.scheduled_for <= $2)
	AND (o.partition_number IS NULL
		OR o.partition_number = ANY($3)
		OR o.instance_id IS NOT NULL)
	AND NOT EXISTS (
		SELECT 1 FROM wb_outbox prior
		WHERE prior.stream_id = o.stream_id
		AND (prior.status_flags & $4) = 0
		AND (prior.created_at < o.created_at
			OR (prior.created_at = o.created_at AND prior.message_id < o.message_id))
	)
	AND NOT EXISTS (
		SELECT 1 FROM wb_active_streams s
		WHERE s.stream_id = o.stream_id
		AND s.assigned_instance_id IS NOT NULL
		AND s.assigned_instance_id <> $1
		AND s.lease_expiry > $2
	)
), candidate AS (
	SELECT w.message_id FROM wb_outbox w
	JOIN ranked r ON r.message_id = w.message_id
	WHERE r.rn <= $5
	FOR UPDATE OF w SKIP LOCKED
)
UPDATE wb_outbox o
SET instance_id = $1, lease_expiry = $6, attempts = o.attempts + 1
FROM candidate c
WHERE o.message_id = c.message_id
RETURNING o.message_id, o.destination, o.message_type, o.message_data,
	o.metadata, o.scope, o.stream_id, o.partition_number, o.is_event, o.attempts`

	claimInboxSQL = `
WITH ranked AS (
	SELECT i.message_id,
		ROW_NUMBER() OVER (
			PARTITION BY i.partition_number
			ORDER BY i.stream_id, i.created_at, i.message_id
		) AS rn
	FROM wb_inbox i
	WHERE (i.status_flags & $4) = 0
	AND (i.instance_id IS NULL OR i.lease_expiry <= $2)
	AND (i.scheduled_for IS NULL OR i.scheduled_for <= $2)
	AND (i.partition_number IS NULL
		OR i.partition_number = ANY($3)
		OR i.instance_id IS NOT NULL)
	AND NOT EXISTS (
		SELECT 1 FROM wb_inbox prior
		WHERE prior.stream_id = i.stream_id
		AND (prior.status_flags & $4) = 0
		AND (prior.created_at < i.created_at
			OR (prior.created_at = i.created_at AND prior.message_id < i.message_id))
	)
	AND NOT EXISTS (
		SELECT 1 FROM wb_active_streams s
		WHERE s.stream_id = i.stream_id
		AND s.assigned_instance_id IS NOT NULL
		AND s.assigned_instance_id <> $1
		AND s.lease_expiry > $2
	)
), candidate AS (
	SELECT w.message_id FROM wb_inbox w
	JOIN ranked r ON r.message_id = w.message_id
	WHERE r.rn <= $5
	FOR UPDATE OF w SKIP LOCKED
)
UPDATE wb_inbox i
SET instance_id = $1, lease_expiry = $6, attempts = i.attempts + 1
FROM candidate c
WHERE i.message_id = c.message_id
RETURNING i.message_id, i.handler_name, i.destination, i.message_type,
	i.message_data, i.metadata, i.scope, i.stream_id, i.partition_number,
	i.is_event, i.attempts`

	upsertStreamSQL = `
INSERT INTO wb_active_streams (
	stream_id, partition_number, assigned_instance_id, lease_expiry,
	created_at, last_activity_at
) VALUES ($1, $2, $3, $4, $5, $5)
ON CONFLICT (stream_id) DO UPDATE SET
	assigned_instance_id = EXCLUDED.assigned_instance_id,
	lease_expiry = EXCLUDED.lease_expiry,
	last_activity_at = EXCLUDED.last_activity_at`
)

// Postgres is the production coordinator. Every ProcessWorkBatch call is
// one database transaction covering heartbeat, reaping, result
// persistence, inserts, lease renewal and claiming, so completions are
// never lost independently of new-work claims.
type Postgres struct {
	db     *sqlx.DB
	opts   options
	sqlLog *SQLLog
}

// NewPostgres creates the Postgres-backed coordinator
func NewPostgres(db *sqlx.DB, opts ...Option) *Postgres {
	p := &Postgres{db: db, opts: defaultOptions(), sqlLog: NewSQLLog(db)}
	for _, opt := range opts {
		opt(&p.opts)
	}
	return p
}

// ProcessWorkBatch runs one full coordination cycle in one transaction.
// Serialization failures and deadlocks roll the whole call back; the
// caller retries the identical request, which is safe because every input
// is idempotent.
func (p *Postgres) ProcessWorkBatch(ctx context.Context, req *types.WorkRequest) (*types.WorkBatch, error) {
	if req.InstanceID == "" {
		return nil, errors.New("work request missing instance id")
	}

	now := time.Now().UTC()
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

	tx, err := p.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin batch transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, heartbeatSQL,
		req.InstanceID, req.ServiceName, req.Host, req.PID, now, req.Metadata,
	); err != nil {
		return nil, fmt.Errorf("failed to register heartbeat: %w", err)
	}

	if err := p.reapStale(ctx, tx, now.Add(-staleThreshold)); err != nil {
		return nil, err
	}

	owned, err := p.rebalance(ctx, tx, req.InstanceID, partitionCount, now)
	if err != nil {
		return nil, err
	}

	if err := p.persistResults(ctx, tx, req, now); err != nil {
		return nil, err
	}
	if err := p.insertNewRows(ctx, tx, req, partitionCount, now); err != nil {
		return nil, err
	}
	if err := p.renewLeases(ctx, tx, req, now.Add(lease)); err != nil {
		return nil, err
	}

	if _, err := tx.ExecContext(ctx, orphanIdleStreamsSQL, now.Add(-p.opts.idleStreamTTL)); err != nil {
		return nil, fmt.Errorf("failed to orphan idle streams: %w", err)
	}

	batch, err := p.claim(ctx, tx, req, owned, now, now.Add(lease))
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit batch transaction: %w", err)
	}

	if req.Flags.Has(types.FlagDebugMode) {
		p.sqlLog.LogEvent(ctx, LogDebug, "coordinator",
			fmt.Sprintf("batch for %s: %d outbox, %d inbox", req.InstanceID, len(batch.OutboxWork), len(batch.InboxWork)),
			Detail{})
	}
	p.opts.publish(&events.Event{
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

func (p *Postgres) reapStale(ctx context.Context, tx *sqlx.Tx, cutoff time.Time) error {
	var reaped []string
	if err := tx.SelectContext(ctx, &reaped, reapInstancesSQL, cutoff); err != nil {
		return fmt.Errorf("failed to reap stale instances: %w", err)
	}
	if len(reaped) == 0 {
		return nil
	}

	outboxTerminal := types.StatusPublished | types.StatusFailed
	if _, err := tx.ExecContext(ctx, releaseOutboxLeasesSQL, reaped, outboxTerminal); err != nil {
		return fmt.Errorf("failed to release outbox leases: %w", err)
	}
	inboxTerminal := types.StatusReceptorProcessed | types.StatusFailed
	if _, err := tx.ExecContext(ctx, releaseInboxLeasesSQL, reaped, inboxTerminal); err != nil {
		return fmt.Errorf("failed to release inbox leases: %w", err)
	}
	if _, err := tx.ExecContext(ctx, releaseStreamsSQL, reaped); err != nil {
		return fmt.Errorf("failed to release stream assignments: %w", err)
	}

	for _, id := range reaped {
		logger := log.WithInstanceID(id)
		logger.Warn().Msg("Reaped stale instance")
		p.opts.publish(&events.Event{
			Type:       events.EventInstanceReaped,
			Message:    "stale instance reaped",
			InstanceID: id,
		})
	}
	return nil
}

func (p *Postgres) rebalance(ctx context.Context, tx *sqlx.Tx, caller string, partitionCount int, now time.Time) ([]int, error) {
	var live []string
	if err := tx.SelectContext(ctx, &live, liveInstancesSQL); err != nil {
		return nil, fmt.Errorf("failed to list live instances: %w", err)
	}

	assignments := partition.Balance(partitionCount, live, now)
	var owned []int
	for _, a := range assignments {
		if _, err := tx.ExecContext(ctx, upsertAssignmentSQL, a.PartitionNumber, a.InstanceID, now); err != nil {
			return nil, fmt.Errorf("failed to assign partition %d: %w", a.PartitionNumber, err)
		}
		if a.InstanceID == caller {
			owned = append(owned, a.PartitionNumber)
		}
	}
	return owned, nil
}

func (p *Postgres) persistResults(ctx context.Context, tx *sqlx.Tx, req *types.WorkRequest, now time.Time) error {
	for _, id := range req.OutboxCompletedIDs {
		if _, err := tx.ExecContext(ctx, completeOutboxSQL, id, req.InstanceID, types.StatusPublished, now); err != nil {
			return fmt.Errorf("failed to complete outbox message %s: %w", id, err)
		}
		p.opts.publish(&events.Event{
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
		if _, err := tx.ExecContext(ctx, completeInboxSQL, id, req.InstanceID, types.StatusReceptorProcessed, now); err != nil {
			return fmt.Errorf("failed to complete inbox message %s: %w", id, err)
		}
		p.opts.publish(&events.Event{
			Type:      events.EventMessageCompleted,
			Message:   "inbox message handled",
			Role:      types.RoleInbox,
			MessageID: id,
		})
	}

	for _, f := range req.OutboxFailed {
		if err := p.failOne(ctx, tx, selectOutboxAttemptsSQL, failOutboxSQL, req.InstanceID, types.RoleOutbox, f); err != nil {
			return err
		}
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
		if err := p.failOne(ctx, tx, selectInboxAttemptsSQL, failInboxSQL, req.InstanceID, types.RoleInbox, f); err != nil {
			return err
		}
	}

	for _, c := range req.PerspectiveCompletions {
		if err := checkpoint.Complete(ctx, tx, c); err != nil {
			return err
		}
		p.opts.publish(&events.Event{
			Type:     events.EventCheckpointAdvanced,
			Message:  "checkpoint advanced",
			StreamID: c.StreamID,
			Metadata: map[string]string{"projection": c.ProjectionName},
		})
	}
	for _, c := range req.PerspectiveFailures {
		if err := checkpoint.Complete(ctx, tx, c); err != nil {
			return err
		}
	}
	return nil
}

func (p *Postgres) failOne(ctx context.Context, tx *sqlx.Tx, selectSQL, failSQL, caller string, role types.Role, f types.FailedMessage) error {
	var attempts int
	if err := tx.GetContext(ctx, &attempts, selectSQL, f.MessageID, caller); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			// The lease moved on; this report is stale
			return nil
		}
		return fmt.Errorf("failed to read attempts for %s: %w", f.MessageID, err)
	}

	reason, terminal := failureOutcome(f.Reason, attempts, p.opts.maxDeliveryAttempts)
	var failedBit types.Status
	if terminal {
		failedBit = types.StatusFailed
	}
	if _, err := tx.ExecContext(ctx, failSQL, f.MessageID, caller, f.Error, reason, failedBit); err != nil {
		return fmt.Errorf("failed to record failure for %s: %w", f.MessageID, err)
	}

	p.opts.publish(&events.Event{
		Type:      events.EventMessageFailed,
		Message:   "message failed",
		Role:      role,
		Reason:    reason,
		MessageID: f.MessageID,
	})
	return nil
}

func (p *Postgres) insertNewRows(ctx context.Context, tx *sqlx.Tx, req *types.WorkRequest, partitionCount int, now time.Time) error {
	for i := range req.NewOutbox {
		r := req.NewOutbox[i]
		inserted, err := p.insertDedup(ctx, tx, r.MessageID, now)
		if err != nil {
			return err
		}
		if !inserted {
			p.opts.publish(&events.Event{
				Type:      events.EventMessageDeduplicated,
				Message:   "duplicate outbox message ignored",
				Role:      types.RoleOutbox,
				MessageID: r.MessageID,
			})
			continue
		}

		if r.Status == 0 {
			r.Status = types.StatusPending
		}
		if r.CreatedAt.IsZero() {
			r.CreatedAt = now.Add(time.Duration(i))
		}
		if r.StreamID != nil && r.PartitionNumber == nil {
			pn := partition.Compute(*r.StreamID, partitionCount)
			r.PartitionNumber = &pn
		}
		if _, err := tx.ExecContext(ctx, insertOutboxSQL,
			r.MessageID, r.Destination, r.MessageType, r.MessageData,
			r.Metadata, r.Scope, r.StreamID, r.PartitionNumber, r.IsEvent,
			r.Status, r.Attempts, r.FailureReason, r.ScheduledFor, r.CreatedAt,
		); err != nil {
			return fmt.Errorf("failed to insert outbox row %s: %w", r.MessageID, err)
		}
	}

	for i := range req.NewInbox {
		r := req.NewInbox[i]
		inserted, err := p.insertDedup(ctx, tx, r.MessageID, now)
		if err != nil {
			return err
		}
		if !inserted {
			p.opts.publish(&events.Event{
				Type:      events.EventMessageDeduplicated,
				Message:   "duplicate inbox message ignored",
				Role:      types.RoleInbox,
				MessageID: r.MessageID,
			})
			continue
		}

		if r.Status == 0 {
			r.Status = types.StatusPending
		}
		if r.CreatedAt.IsZero() {
			r.CreatedAt = now.Add(time.Duration(i))
		}
		if r.ReceivedAt.IsZero() {
			r.ReceivedAt = r.CreatedAt
		}
		if r.StreamID != nil && r.PartitionNumber == nil {
			pn := partition.Compute(*r.StreamID, partitionCount)
			r.PartitionNumber = &pn
		}
		if _, err := tx.ExecContext(ctx, insertInboxSQL,
			r.MessageID, r.HandlerName, r.Destination, r.MessageType,
			r.MessageData, r.Metadata, r.Scope, r.StreamID, r.PartitionNumber,
			r.IsEvent, r.Status, r.Attempts, r.FailureReason, r.ScheduledFor,
			r.ReceivedAt, r.CreatedAt,
		); err != nil {
			return fmt.Errorf("failed to insert inbox row %s: %w", r.MessageID, err)
		}
	}
	return nil
}

func (p *Postgres) insertDedup(ctx context.Context, tx *sqlx.Tx, messageID string, now time.Time) (bool, error) {
	res, err := tx.ExecContext(ctx, insertDedupSQL, messageID, now)
	if err != nil {
		return false, fmt.Errorf("failed to record message id %s: %w", messageID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read dedup result: %w", err)
	}
	return n > 0, nil
}

func (p *Postgres) renewLeases(ctx context.Context, tx *sqlx.Tx, req *types.WorkRequest, expiry time.Time) error {
	for _, id := range req.RenewOutboxLeaseIDs {
		if _, err := tx.ExecContext(ctx, renewOutboxSQL, id, req.InstanceID, expiry); err != nil {
			return fmt.Errorf("failed to renew outbox lease %s: %w", id, err)
		}
	}
	for _, id := range req.RenewInboxLeaseIDs {
		if _, err := tx.ExecContext(ctx, renewInboxSQL, id, req.InstanceID, expiry); err != nil {
			return fmt.Errorf("failed to renew inbox lease %s: %w", id, err)
		}
	}
	return nil
}

func (p *Postgres) claim(ctx context.Context, tx *sqlx.Tx, req *types.WorkRequest, owned []int, now, expiry time.Time) (*types.WorkBatch, error) {
	batch := &types.WorkBatch{}
	if len(owned) == 0 {
		return batch, nil
	}

	outboxTerminal := types.StatusPublished | types.StatusFailed
	if err := tx.SelectContext(ctx, &batch.OutboxWork, claimOutboxSQL,
		req.InstanceID, now, owned, outboxTerminal, p.opts.claimQuota, expiry,
	); err != nil {
		return nil, fmt.Errorf("failed to claim outbox work: %w", err)
	}

	inboxTerminal := types.StatusReceptorProcessed | types.StatusFailed
	if err := tx.SelectContext(ctx, &batch.InboxWork, claimInboxSQL,
		req.InstanceID, now, owned, inboxTerminal, p.opts.claimQuota, expiry,
	); err != nil {
		return nil, fmt.Errorf("failed to claim inbox work: %w", err)
	}

	// Sticky stream ownership for everything just claimed
	touched := make(map[string]*int)
	for _, w := range batch.OutboxWork {
		if w.StreamID != nil {
			touched[*w.StreamID] = w.PartitionNumber
		}
	}
	for _, w := range batch.InboxWork {
		if w.StreamID != nil {
			touched[*w.StreamID] = w.PartitionNumber
		}
	}
	for streamID, partitionNumber := range touched {
		pn := 0
		if partitionNumber != nil {
			pn = *partitionNumber
		}
		if _, err := tx.ExecContext(ctx, upsertStreamSQL, streamID, pn, req.InstanceID, expiry, now); err != nil {
			return nil, fmt.Errorf("failed to claim stream %s: %w", streamID, err)
		}
	}

	for _, w := range batch.OutboxWork {
		p.opts.publish(&events.Event{
			Type:       events.EventMessageClaimed,
			Message:    "outbox message claimed",
			Role:       types.RoleOutbox,
			MessageID:  w.MessageID,
			InstanceID: req.InstanceID,
		})
	}
	for _, w := range batch.InboxWork {
		p.opts.publish(&events.Event{
			Type:       events.EventMessageClaimed,
			Message:    "inbox message claimed",
			Role:       types.RoleInbox,
			MessageID:  w.MessageID,
			InstanceID: req.InstanceID,
		})
	}
	return batch, nil
}
