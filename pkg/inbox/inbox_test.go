package inbox

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/whizbang-io/whizbang/pkg/envelope"
	"github.com/whizbang-io/whizbang/pkg/types"
)

func newMockStore(t *testing.T) (*Postgres, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewPostgres(sqlx.NewDb(db, "pgx")), mock
}

func receivedRecord(streamID string) *types.InboxRecord {
	return &types.InboxRecord{
		MessageID:   envelope.NewMessageID().String(),
		HandlerName: "OrderReceptor",
		Destination: "orders.events",
		MessageType: "OrderPlaced, Orders",
		MessageData: []byte(`{}`),
		StreamID:    &streamID,
		IsEvent:     true,
	}
}

func TestAppendInsertsPendingRow(t *testing.T) {
	store, mock := newMockStore(t)
	record := receivedRecord("order-1")

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO wb_message_deduplication`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO wb_inbox`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, store.Append(context.Background(), record))

	assert.Equal(t, types.StatusPending, record.Status)
	assert.False(t, record.ReceivedAt.IsZero())
	require.NotNil(t, record.PartitionNumber)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAppendDuplicateIsNoOp(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO wb_message_deduplication`).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	err := store.Append(context.Background(), receivedRecord("order-1"))

	assert.ErrorIs(t, err, ErrDuplicate)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestHasProcessedPendingRow(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery(`SELECT EXISTS`).
		WithArgs("m-1", int64(types.StatusReceptorProcessed|types.StatusFailed)).
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))

	processed, err := store.HasProcessed(context.Background(), "m-1")
	require.NoError(t, err)
	assert.False(t, processed, "a pending row is not processed")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMarkProcessedScopedToHandler(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec(`UPDATE wb_inbox`).
		WithArgs("m-1", int64(types.StatusReceptorProcessed), sqlmock.AnyArg(), "OrderReceptor").
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, store.MarkProcessed(context.Background(), "m-1", "OrderReceptor"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCleanupExpired(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec(`DELETE FROM wb_inbox`).
		WillReturnResult(sqlmock.NewResult(0, 3))

	removed, err := store.CleanupExpired(context.Background(), 48*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(3), removed)
	assert.NoError(t, mock.ExpectationsWereMet())
}
