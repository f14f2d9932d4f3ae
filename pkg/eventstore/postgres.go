package eventstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jmoiron/sqlx"

	"github.com/whizbang-io/whizbang/pkg/envelope"
	"github.com/whizbang-io/whizbang/pkg/log"
	"github.com/whizbang-io/whizbang/pkg/types"
)

// SQL statements kept as constants for clarity and reuse
const (
	selectLastVersionSQL = `
SELECT COALESCE(MAX(version), 0)
FROM wb_event_store
WHERE stream_id = $1`

	nextSequenceSQL = `
UPDATE wb_sequences SET value = value + 1
WHERE name = 'event_sequence'
RETURNING value`

	insertEventSQL = `
INSERT INTO wb_event_store (
	event_id, stream_id, aggregate_id, aggregate_type, event_type,
	event_data, metadata, scope, sequence_number, version, created_at
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`

	selectPageSQL = `
SELECT event_id, stream_id, aggregate_id, aggregate_type, event_type,
	event_data, metadata, scope, sequence_number, version, created_at
FROM wb_event_store
WHERE stream_id = $1 AND version > $2
ORDER BY version
LIMIT $3`

	selectVersionAtSQL = `
SELECT COALESCE(MIN(version) - 1, (SELECT COALESCE(MAX(version), 0) FROM wb_event_store WHERE stream_id = $1))
FROM wb_event_store
WHERE stream_id = $1 AND event_id >= $2`

	selectBetweenSQL = `
SELECT event_id, stream_id, aggregate_id, aggregate_type, event_type,
	event_data, metadata, scope, sequence_number, version, created_at
FROM wb_event_store
WHERE stream_id = $1 AND event_id > $2 AND event_id <= $3
ORDER BY version`

	uniqueViolationCode = "23505"
)

// Postgres implements Store over the wb_event_store table. Concurrent
// appends to one stream race on the (stream_id, version) unique index;
// losers retry with exponential backoff.
type Postgres struct {
	db           *sqlx.DB
	maxRetries   int
	retryBackoff time.Duration
	pageSize     int
}

// PostgresOption configures the store
type PostgresOption func(*Postgres)

// WithAppendRetries sets the optimistic-concurrency retry budget
func WithAppendRetries(n int) PostgresOption {
	return func(p *Postgres) { p.maxRetries = n }
}

// WithPageSize sets the cursor fetch size
func WithPageSize(n int) PostgresOption {
	return func(p *Postgres) { p.pageSize = n }
}

// NewPostgres creates a Postgres-backed event store
func NewPostgres(db *sqlx.DB, opts ...PostgresOption) *Postgres {
	p := &Postgres{
		db:           db,
		maxRetries:   5,
		retryBackoff: 10 * time.Millisecond,
		pageSize:     100,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolationCode
}

// Append stores the envelope as the stream's next event
func (p *Postgres) Append(ctx context.Context, streamID string, env *envelope.Envelope, meta Meta) (*types.EventRecord, error) {
	data, err := env.Marshal()
	if err != nil {
		return nil, fmt.Errorf("failed to marshal envelope: %w", err)
	}

	backoff := p.retryBackoff
	for attempt := 0; attempt <= p.maxRetries; attempt++ {
		record, err := p.tryAppend(ctx, streamID, data, meta)
		if err == nil {
			return record, nil
		}
		if !isUniqueViolation(err) {
			return nil, err
		}

		logger := log.WithComponent("eventstore")
		logger.Debug().
			Str("stream_id", streamID).
			Int("attempt", attempt+1).
			Msg("Version collision, retrying append")

		select {
		case <-time.After(backoff):
			backoff *= 2
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	return nil, fmt.Errorf("%w: stream %s after %d attempts", ErrVersionConflict, streamID, p.maxRetries+1)
}

func (p *Postgres) tryAppend(ctx context.Context, streamID string, data []byte, meta Meta) (*types.EventRecord, error) {
	tx, err := p.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin append transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var lastVersion int64
	if err := tx.GetContext(ctx, &lastVersion, selectLastVersionSQL, streamID); err != nil {
		return nil, fmt.Errorf("failed to read last version: %w", err)
	}

	var sequence int64
	if err := tx.GetContext(ctx, &sequence, nextSequenceSQL); err != nil {
		return nil, fmt.Errorf("failed to advance event sequence: %w", err)
	}

	record := types.EventRecord{
		EventID:        envelope.NewEventID().String(),
		StreamID:       streamID,
		AggregateID:    meta.AggregateID,
		AggregateType:  meta.AggregateType,
		EventType:      envelope.NormalizeEventType(meta.EventType),
		EventData:      data,
		Metadata:       meta.Metadata,
		Scope:          meta.Scope,
		SequenceNumber: sequence,
		Version:        lastVersion + 1,
		CreatedAt:      time.Now().UTC(),
	}

	if _, err := tx.ExecContext(ctx, insertEventSQL,
		record.EventID, record.StreamID, record.AggregateID, record.AggregateType,
		record.EventType, record.EventData, record.Metadata, record.Scope,
		record.SequenceNumber, record.Version, record.CreatedAt,
	); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return &record, nil
}

func (p *Postgres) fetchPage(ctx context.Context, streamID string, afterVersion int64, limit int, eventTypes []string) ([]types.EventRecord, error) {
	var records []types.EventRecord
	if len(eventTypes) == 0 {
		if err := p.db.SelectContext(ctx, &records, selectPageSQL, streamID, afterVersion, limit); err != nil {
			return nil, fmt.Errorf("failed to read stream %s: %w", streamID, err)
		}
		return records, nil
	}

	normalized := make([]string, len(eventTypes))
	for i, t := range eventTypes {
		normalized[i] = envelope.NormalizeEventType(t)
	}

	query, args, err := sqlx.In(`
SELECT event_id, stream_id, aggregate_id, aggregate_type, event_type,
	event_data, metadata, scope, sequence_number, version, created_at
FROM wb_event_store
WHERE stream_id = ? AND version > ? AND event_type IN (?)
ORDER BY version
LIMIT ?`, streamID, afterVersion, normalized, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to build polymorphic query: %w", err)
	}

	if err := p.db.SelectContext(ctx, &records, p.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("failed to read stream %s: %w", streamID, err)
	}
	return records, nil
}

// Read returns a cursor over the stream from fromVersion, inclusive
func (p *Postgres) Read(ctx context.Context, streamID string, fromVersion int64) (*Cursor, error) {
	after := fromVersion - 1
	if after < 0 {
		after = 0
	}
	return newCursor(func(ctx context.Context, afterVersion int64, limit int) ([]types.EventRecord, error) {
		return p.fetchPage(ctx, streamID, afterVersion, limit, nil)
	}, after, p.pageSize), nil
}

func (p *Postgres) versionAt(ctx context.Context, streamID string, eventID envelope.EventID) (int64, error) {
	var after sql.NullInt64
	if err := p.db.GetContext(ctx, &after, selectVersionAtSQL, streamID, eventID.String()); err != nil {
		return 0, fmt.Errorf("failed to locate event cursor: %w", err)
	}
	if !after.Valid {
		return 0, nil
	}
	return after.Int64, nil
}

// ReadFrom returns a cursor starting at the given event ID, inclusive
func (p *Postgres) ReadFrom(ctx context.Context, streamID string, fromEventID envelope.EventID) (*Cursor, error) {
	after := int64(0)
	if !fromEventID.IsZero() {
		var err error
		if after, err = p.versionAt(ctx, streamID, fromEventID); err != nil {
			return nil, err
		}
	}
	return newCursor(func(ctx context.Context, afterVersion int64, limit int) ([]types.EventRecord, error) {
		return p.fetchPage(ctx, streamID, afterVersion, limit, nil)
	}, after, p.pageSize), nil
}

// ReadPolymorphic returns a cursor filtered to the given event types
func (p *Postgres) ReadPolymorphic(ctx context.Context, streamID string, fromEventID envelope.EventID, eventTypes []string) (*Cursor, error) {
	after := int64(0)
	if !fromEventID.IsZero() {
		var err error
		if after, err = p.versionAt(ctx, streamID, fromEventID); err != nil {
			return nil, err
		}
	}
	return newCursor(func(ctx context.Context, afterVersion int64, limit int) ([]types.EventRecord, error) {
		return p.fetchPage(ctx, streamID, afterVersion, limit, eventTypes)
	}, after, p.pageSize), nil
}

// EventsBetween returns the ordered events in (afterEventID, upToEventID]
func (p *Postgres) EventsBetween(ctx context.Context, streamID string, afterEventID, upToEventID envelope.EventID) ([]types.EventRecord, error) {
	var records []types.EventRecord
	if err := p.db.SelectContext(ctx, &records, selectBetweenSQL,
		streamID, afterEventID.String(), upToEventID.String()); err != nil {
		return nil, fmt.Errorf("failed to read events between: %w", err)
	}
	return records, nil
}
