package eventstore

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/whizbang-io/whizbang/pkg/envelope"
)

func newMockStore(t *testing.T, opts ...PostgresOption) (*Postgres, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewPostgres(sqlx.NewDb(db, "pgx"), opts...), mock
}

func expectAppendTx(mock sqlmock.Sqlmock, lastVersion, sequence int64) {
	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT COALESCE\(MAX\(version\), 0\)`).
		WithArgs("order-1").
		WillReturnRows(sqlmock.NewRows([]string{"coalesce"}).AddRow(lastVersion))
	mock.ExpectQuery(`UPDATE wb_sequences SET value = value \+ 1`).
		WillReturnRows(sqlmock.NewRows([]string{"value"}).AddRow(sequence))
	mock.ExpectExec(`INSERT INTO wb_event_store`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()
}

func expectAppendConflict(mock sqlmock.Sqlmock, lastVersion, sequence int64) {
	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT COALESCE\(MAX\(version\), 0\)`).
		WithArgs("order-1").
		WillReturnRows(sqlmock.NewRows([]string{"coalesce"}).AddRow(lastVersion))
	mock.ExpectQuery(`UPDATE wb_sequences SET value = value \+ 1`).
		WillReturnRows(sqlmock.NewRows([]string{"value"}).AddRow(sequence))
	mock.ExpectExec(`INSERT INTO wb_event_store`).
		WillReturnError(&pgconn.PgError{Code: uniqueViolationCode})
	mock.ExpectRollback()
}

func TestPostgresAppend(t *testing.T) {
	store, mock := newMockStore(t)

	expectAppendTx(mock, 2, 41)

	env := envelope.New(&orderPlaced{OrderID: "1"}, testIdentity())
	record, err := store.Append(context.Background(), "order-1", env, Meta{
		EventType:     "OrderPlaced, Orders",
		AggregateID:   "order-1",
		AggregateType: "Order",
	})
	require.NoError(t, err)

	assert.Equal(t, int64(3), record.Version)
	assert.Equal(t, int64(41), record.SequenceNumber)
	assert.Equal(t, "OrderPlaced, Orders", record.EventType)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresAppendRetriesOnVersionCollision(t *testing.T) {
	store, mock := newMockStore(t)

	// A competing writer takes version 3 first; the retry lands on 4
	expectAppendConflict(mock, 2, 41)
	expectAppendTx(mock, 3, 43)

	env := envelope.New(&orderPlaced{OrderID: "1"}, testIdentity())
	record, err := store.Append(context.Background(), "order-1", env, Meta{EventType: "OrderPlaced, Orders"})
	require.NoError(t, err)

	assert.Equal(t, int64(4), record.Version)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresAppendExhaustsRetries(t *testing.T) {
	store, mock := newMockStore(t, WithAppendRetries(1))

	expectAppendConflict(mock, 2, 41)
	expectAppendConflict(mock, 2, 42)

	env := envelope.New(&orderPlaced{OrderID: "1"}, testIdentity())
	_, err := store.Append(context.Background(), "order-1", env, Meta{EventType: "OrderPlaced, Orders"})

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrVersionConflict)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresAppendPropagatesOtherErrors(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT COALESCE\(MAX\(version\), 0\)`).
		WithArgs("order-1").
		WillReturnError(assert.AnError)
	mock.ExpectRollback()

	env := envelope.New(&orderPlaced{OrderID: "1"}, testIdentity())
	_, err := store.Append(context.Background(), "order-1", env, Meta{EventType: "OrderPlaced, Orders"})

	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrVersionConflict, "non-collision errors do not burn retries")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func eventRows() *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"event_id", "stream_id", "aggregate_id", "aggregate_type", "event_type",
		"event_data", "metadata", "scope", "sequence_number", "version", "created_at",
	})
}

func TestPostgresReadPages(t *testing.T) {
	store, mock := newMockStore(t, WithPageSize(2))
	now := time.Now().UTC()

	mock.ExpectQuery(`FROM wb_event_store\s+WHERE stream_id = \$1 AND version > \$2`).
		WithArgs("order-1", int64(0), 2).
		WillReturnRows(eventRows().
			AddRow(envelope.NewEventID().String(), "order-1", "order-1", "Order", "OrderPlaced, Orders", []byte(`{}`), nil, nil, 1, 1, now).
			AddRow(envelope.NewEventID().String(), "order-1", "order-1", "Order", "OrderShipped, Orders", []byte(`{}`), nil, nil, 2, 2, now))
	mock.ExpectQuery(`FROM wb_event_store\s+WHERE stream_id = \$1 AND version > \$2`).
		WithArgs("order-1", int64(2), 2).
		WillReturnRows(eventRows().
			AddRow(envelope.NewEventID().String(), "order-1", "order-1", "Order", "OrderPlaced, Orders", []byte(`{}`), nil, nil, 3, 3, now))
	mock.ExpectQuery(`FROM wb_event_store\s+WHERE stream_id = \$1 AND version > \$2`).
		WithArgs("order-1", int64(3), 2).
		WillReturnRows(eventRows())

	cursor, err := store.Read(context.Background(), "order-1", 0)
	require.NoError(t, err)
	records, err := cursor.Collect(context.Background())
	require.NoError(t, err)

	require.Len(t, records, 3)
	assert.Equal(t, int64(3), cursor.LastVersion())
	assert.NoError(t, mock.ExpectationsWereMet())
}
