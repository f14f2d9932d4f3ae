package coordinator

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockSQLLog(t *testing.T) (*SQLLog, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewSQLLog(sqlx.NewDb(db, "pgx")), mock
}

func TestLogEventGatedBySetting(t *testing.T) {
	sqlLog, mock := newMockSQLLog(t)

	mock.ExpectQuery(`SELECT value FROM wb_settings`).
		WillReturnRows(sqlmock.NewRows([]string{"value"}).AddRow("2"))

	// Info is below the configured Warning gate: no insert
	require.NoError(t, sqlLog.LogEvent(context.Background(), LogInfo, "coordinator", "claimed batch", Detail{}))

	// Error passes; the gate level is cached, no second settings read
	mock.ExpectExec(`INSERT INTO wb_log`).
		WillReturnResult(sqlmock.NewResult(1, 1))
	require.NoError(t, sqlLog.LogEvent(context.Background(), LogError, "coordinator", "claim failed", Detail{}))

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLogEventDefaultsToInfoWithoutSetting(t *testing.T) {
	sqlLog, mock := newMockSQLLog(t)

	mock.ExpectQuery(`SELECT value FROM wb_settings`).
		WillReturnRows(sqlmock.NewRows([]string{"value"}))

	require.NoError(t, sqlLog.LogEvent(context.Background(), LogDebug, "coordinator", "poll", Detail{}))

	mock.ExpectExec(`INSERT INTO wb_log`).
		WillReturnResult(sqlmock.NewResult(1, 1))
	messageID := "m-1"
	require.NoError(t, sqlLog.LogEvent(context.Background(), LogInfo, "coordinator", "claimed", Detail{MessageID: &messageID}))

	assert.NoError(t, mock.ExpectationsWereMet())
}
