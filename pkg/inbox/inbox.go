package inbox

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/whizbang-io/whizbang/pkg/log"
	"github.com/whizbang-io/whizbang/pkg/partition"
	"github.com/whizbang-io/whizbang/pkg/types"
)

// ErrDuplicate is returned when a message ID was already recorded in the
// deduplication table. The append is a no-op.
var ErrDuplicate = errors.New("message already recorded")

// Store is the durable inbound buffer. The production path persists and
// claims rows through the coordinator; these operations exist for tests
// and for handlers that need a dedup check before work is persisted.
type Store interface {
	// Append inserts the record as Pending, deduplicated by message ID.
	// A repeat append returns ErrDuplicate without touching the table.
	Append(ctx context.Context, record *types.InboxRecord) error

	// HasProcessed reports whether the message reached a terminal state
	// (or was cleaned up after completion).
	HasProcessed(ctx context.Context, messageID string) (bool, error)

	// MarkProcessed sets the receptor-processed bit and stamps
	// processed_at. An empty handlerName matches any handler.
	MarkProcessed(ctx context.Context, messageID, handlerName string) error

	// CleanupExpired deletes handled rows whose processed_at is older
	// than the retention window, returning the number removed.
	CleanupExpired(ctx context.Context, retention time.Duration) (int64, error)
}

const (
	insertDedupSQL = `
INSERT INTO wb_message_deduplication (message_id, first_seen_at)
VALUES ($1, $2)
ON CONFLICT (message_id) DO NOTHING`

	insertRecordSQL = `
INSERT INTO wb_inbox (
	message_id, handler_name, destination, message_type, message_data,
	metadata, scope, stream_id, partition_number, is_event, status_flags,
	attempts, failure_reason, scheduled_for, received_at, created_at
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`

	hasProcessedSQL = `
SELECT EXISTS (
	SELECT 1 FROM wb_message_deduplication d
	WHERE d.message_id = $1
	AND NOT EXISTS (
		SELECT 1 FROM wb_inbox i
		WHERE i.message_id = $1 AND (i.status_flags & $2) = 0
	)
)`

	markProcessedSQL = `
UPDATE wb_inbox
SET status_flags = status_flags | $2,
	processed_at = $3
WHERE message_id = $1
AND ($4 = '' OR handler_name = $4)`

	cleanupSQL = `
DELETE FROM wb_inbox
WHERE (status_flags & $1) <> 0
AND processed_at IS NOT NULL
AND processed_at < $2`
)

// Postgres implements Store over the wb_inbox table
type Postgres struct {
	db             *sqlx.DB
	partitionCount int
}

// Option configures the store
type Option func(*Postgres)

// WithPartitionCount overrides the partition count used when an appended
// record carries a stream ID but no precomputed partition
func WithPartitionCount(n int) Option {
	return func(p *Postgres) { p.partitionCount = n }
}

// NewPostgres creates a Postgres-backed inbox
func NewPostgres(db *sqlx.DB, opts ...Option) *Postgres {
	p := &Postgres{db: db, partitionCount: partition.DefaultCount}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *Postgres) Append(ctx context.Context, record *types.InboxRecord) error {
	now := time.Now().UTC()

	tx, err := p.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin append transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, insertDedupSQL, record.MessageID, now)
	if err != nil {
		return fmt.Errorf("failed to record message id: %w", err)
	}
	inserted, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read dedup result: %w", err)
	}
	if inserted == 0 {
		logger := log.WithMessageID(record.MessageID)
		logger.Debug().Msg("Duplicate inbox append ignored")
		return ErrDuplicate
	}

	if record.Status == 0 {
		record.Status = types.StatusPending
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = now
	}
	if record.ReceivedAt.IsZero() {
		record.ReceivedAt = now
	}
	if record.StreamID != nil && record.PartitionNumber == nil {
		pn := partition.Compute(*record.StreamID, p.partitionCount)
		record.PartitionNumber = &pn
	}

	if _, err := tx.ExecContext(ctx, insertRecordSQL,
		record.MessageID, record.HandlerName, record.Destination,
		record.MessageType, record.MessageData, record.Metadata, record.Scope,
		record.StreamID, record.PartitionNumber, record.IsEvent,
		record.Status, record.Attempts, record.FailureReason,
		record.ScheduledFor, record.ReceivedAt, record.CreatedAt,
	); err != nil {
		return fmt.Errorf("failed to insert inbox row: %w", err)
	}

	return tx.Commit()
}

func (p *Postgres) HasProcessed(ctx context.Context, messageID string) (bool, error) {
	var processed bool
	terminal := types.StatusReceptorProcessed | types.StatusFailed
	if err := p.db.GetContext(ctx, &processed, hasProcessedSQL, messageID, terminal); err != nil {
		return false, fmt.Errorf("failed to check inbox message %s: %w", messageID, err)
	}
	return processed, nil
}

func (p *Postgres) MarkProcessed(ctx context.Context, messageID, handlerName string) error {
	now := time.Now().UTC()
	res, err := p.db.ExecContext(ctx, markProcessedSQL, messageID, types.StatusReceptorProcessed, now, handlerName)
	if err != nil {
		return fmt.Errorf("failed to mark inbox message %s: %w", messageID, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("inbox message %s not found", messageID)
	}
	return nil
}

func (p *Postgres) CleanupExpired(ctx context.Context, retention time.Duration) (int64, error) {
	cutoff := time.Now().UTC().Add(-retention)
	res, err := p.db.ExecContext(ctx, cleanupSQL, types.StatusReceptorProcessed, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to clean up inbox: %w", err)
	}
	removed, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read cleanup result: %w", err)
	}
	if removed > 0 {
		logger := log.WithComponent("inbox")
		logger.Info().Int64("removed", removed).Msg("Cleaned up handled inbox rows")
	}
	return removed, nil
}
