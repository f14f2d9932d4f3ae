/*
Package eventstore implements the append-only per-stream event log.

A stream is a totally-ordered sequence of events sharing a stream ID,
usually one aggregate. Every append assigns the stream's next version
(last + 1, starting at 1) and a globally monotonic sequence number. The
(stream_id, version) pair is unique; readers observe every committed write
in version order with no gaps, and replaying a stream from version 0 always
reproduces the same sequence.

# Concurrency

Writers never lock streams. Concurrent appends to one stream race on the
unique (stream_id, version) index; the losing writer retries with
exponential backoff and picks up the next version. After the retry budget
is exhausted the append fails with ErrVersionConflict. The in-memory store
serializes appends behind a mutex instead, which preserves the same
observable ordering.

# Reading

Reads return a Cursor, a lazy pull iterator that page-fetches under the
hood. Cursors are restartable: LastVersion() gives the position to resume
from after a drop, and a drained cursor picks up events committed after it
was created. ReadFrom accepts a time-ordered event ID as the starting
position; ReadPolymorphic additionally filters by event type and pairs with
Decode for projection catch-up:

	cursor, err := store.ReadPolymorphic(ctx, streamID, checkpoint.LastEventID, projectionTypes)
	for {
		record, ok, err := cursor.Next(ctx)
		if err != nil || !ok {
			break
		}
		env, err := eventstore.Decode(record, registry)
		// apply env.Payload to the read model
	}

# Implementations

Postgres stores events in wb_event_store with the global sequence drawn
from wb_sequences. Memory keeps per-stream slices for the embedded mode and
tests, optionally persisting through pkg/storage.
*/
package eventstore
