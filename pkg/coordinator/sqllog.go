package coordinator

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/whizbang-io/whizbang/pkg/log"
)

// LogLevel matches the sql_log_level setting values
type LogLevel int

const (
	LogDebug   LogLevel = 0
	LogInfo    LogLevel = 1
	LogWarning LogLevel = 2
	LogError   LogLevel = 3
)

// Detail carries the optional correlation columns of a log row
type Detail struct {
	EventID   *string
	MessageID *string
	EventType *string
	Metadata  []byte
}

const (
	selectLogLevelSQL = `
SELECT value FROM wb_settings WHERE key = 'sql_log_level'`

	insertLogSQL = `
INSERT INTO wb_log (level, source, message, event_id, message_id, event_type, metadata, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`
)

// SQLLog persists level-gated structured log rows in wb_log, next to the
// data they describe, so operators can correlate message state with what
// the coordinator did to it. The gate level comes from the wb_settings
// table and is cached between refreshes.
type SQLLog struct {
	db        *sqlx.DB
	mu        sync.Mutex
	level     LogLevel
	fetchedAt time.Time
	refresh   time.Duration
}

// NewSQLLog creates a log sink over wb_log with a 30 second level cache
func NewSQLLog(db *sqlx.DB) *SQLLog {
	return &SQLLog{db: db, level: LogInfo, refresh: 30 * time.Second}
}

func (l *SQLLog) threshold(ctx context.Context) LogLevel {
	l.mu.Lock()
	defer l.mu.Unlock()

	if time.Since(l.fetchedAt) < l.refresh {
		return l.level
	}
	l.fetchedAt = time.Now()

	var value string
	if err := l.db.GetContext(ctx, &value, selectLogLevelSQL); err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			logger := log.WithComponent("sqllog")
			logger.Debug().Err(err).Msg("Failed to refresh sql_log_level, keeping cached value")
		}
		return l.level
	}
	if parsed, err := strconv.Atoi(value); err == nil {
		l.level = LogLevel(parsed)
	}
	return l.level
}

// LogEvent writes one row if the level passes the configured gate
func (l *SQLLog) LogEvent(ctx context.Context, level LogLevel, source, message string, d Detail) error {
	if level < l.threshold(ctx) {
		return nil
	}
	_, err := l.db.ExecContext(ctx, insertLogSQL,
		int(level), source, message,
		d.EventID, d.MessageID, d.EventType, d.Metadata,
		time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to write log row: %w", err)
	}
	return nil
}
