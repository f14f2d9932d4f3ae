/*
Package log provides structured logging for Whizbang using zerolog.

The log package wraps the zerolog library to provide JSON-structured logging
with component-specific loggers, configurable log levels, and helper functions
for common logging patterns. All logs include timestamps and support filtering
by severity level for production debugging.

# Core Components

Global Logger:
  - Package-level zerolog.Logger instance
  - Initialized once via log.Init()
  - Thread-safe concurrent writes

Log Levels:
  - Debug: Detailed per-cycle coordination information
  - Info: General informational messages (default production level)
  - Warn: Potential issues (missed heartbeats, lease renewals skipped)
  - Error: Operation failures
  - Fatal: Critical errors (process exits)

Context Loggers:
  - WithComponent: Add component name to all logs
  - WithInstanceID: Add service instance ID context
  - WithStreamID: Add stream ID context
  - WithMessageID: Add message ID context

# Usage

Initializing the Logger:

	import "github.com/whizbang-io/whizbang/pkg/log"

	// JSON output (production)
	log.Init(log.Config{
		Level:      log.InfoLevel,
		JSONOutput: true,
		Output:     os.Stdout,
	})

Structured Logging:

	log.Logger.Info().
		Str("stream_id", "order-42").
		Int("partition", 7).
		Msg("Stream claimed")

Component Loggers:

	workerLog := log.WithComponent("worker")
	workerLog.Debug().Str("message_id", id.String()).Msg("Dispatching message")

# Integration Points

This package integrates with:

  - pkg/coordinator: Logs batch RPC cycles and stale-instance reaping
  - pkg/worker: Logs polling, dispatch, and result reporting
  - pkg/executor: Logs lifecycle transitions
  - pkg/strategy: Logs flush cadence and queue depths
  - pkg/eventstore: Logs append retries on version conflicts

# Best Practices

Do:
  - Use Info level for production
  - Use structured fields for queryable data
  - Log errors with .Err() for error objects
  - Include context (instance ID, stream ID, message ID)

Don't:
  - Log message payload contents (may contain tenant data)
  - Use Debug level in production
  - Log in tight dispatch loops without sampling
*/
package log
