package eventstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/whizbang-io/whizbang/pkg/envelope"
	"github.com/whizbang-io/whizbang/pkg/types"
)

var (
	// ErrVersionConflict is returned when concurrent appends to one stream
	// exhaust the retry budget
	ErrVersionConflict = errors.New("event store version conflict")

	// ErrStreamNotFound is returned when a read targets an unknown stream
	ErrStreamNotFound = errors.New("stream not found")
)

// Meta carries the event metadata the envelope itself does not know
type Meta struct {
	EventType     string
	AggregateID   string
	AggregateType string
	Scope         []byte
	Metadata      []byte
}

// Store is the append-only per-stream event log.
//
// Invariants: (stream_id, version) is unique; reads for a stream return
// records in version order with no gaps; sequence numbers are globally
// monotonic; replay from version 0 reproduces the same ordered sequence.
type Store interface {
	// Append stores the envelope as the stream's next event (version =
	// last + 1). Concurrent writers race on the version; losers retry
	// internally with backoff and eventually return ErrVersionConflict.
	Append(ctx context.Context, streamID string, env *envelope.Envelope, meta Meta) (*types.EventRecord, error)

	// Read returns a restartable cursor over the stream from the given
	// version, inclusive. Version 0 replays the whole stream.
	Read(ctx context.Context, streamID string, fromVersion int64) (*Cursor, error)

	// ReadFrom is Read with a time-ordered event ID as the starting
	// cursor, inclusive.
	ReadFrom(ctx context.Context, streamID string, fromEventID envelope.EventID) (*Cursor, error)

	// ReadPolymorphic is ReadFrom filtered to the given event types.
	// Used by projection catch-up; pair with Decode to materialize
	// concrete payloads.
	ReadPolymorphic(ctx context.Context, streamID string, fromEventID envelope.EventID, eventTypes []string) (*Cursor, error)

	// EventsBetween returns the ordered events with
	// afterEventID < event_id <= upToEventID.
	EventsBetween(ctx context.Context, streamID string, afterEventID, upToEventID envelope.EventID) ([]types.EventRecord, error)
}

// Decode materializes a stored event back into an envelope with its
// concrete payload type selected from the registry
func Decode(record *types.EventRecord, registry *envelope.TypeRegistry) (*envelope.Envelope, error) {
	env, err := envelope.Unmarshal(record.EventData, record.EventType, registry)
	if err != nil {
		return nil, fmt.Errorf("failed to decode event %s: %w", record.EventID, err)
	}
	return env, nil
}

// fetchFunc pulls the next page of records with version > afterVersion
type fetchFunc func(ctx context.Context, afterVersion int64, limit int) ([]types.EventRecord, error)

// Cursor is a lazy pull iterator over one stream's events. It is
// restartable: resubscribing with the last observed version resumes where
// the previous cursor stopped, and a cursor observes writes committed
// after its creation.
type Cursor struct {
	fetch       fetchFunc
	buffer      []types.EventRecord
	pos         int
	lastVersion int64
	pageSize    int
	drained     bool
}

func newCursor(fetch fetchFunc, afterVersion int64, pageSize int) *Cursor {
	if pageSize <= 0 {
		pageSize = 100
	}
	return &Cursor{fetch: fetch, lastVersion: afterVersion, pageSize: pageSize}
}

// Next returns the next event in version order. ok is false when the
// stream has no further committed events.
func (c *Cursor) Next(ctx context.Context) (*types.EventRecord, bool, error) {
	if c.pos >= len(c.buffer) {
		if c.drained {
			// One more fetch in case new events were committed since
			c.drained = false
		}
		page, err := c.fetch(ctx, c.lastVersion, c.pageSize)
		if err != nil {
			return nil, false, err
		}
		if len(page) == 0 {
			c.drained = true
			return nil, false, nil
		}
		c.buffer = page
		c.pos = 0
	}

	record := c.buffer[c.pos]
	c.pos++
	c.lastVersion = record.Version
	return &record, true, nil
}

// LastVersion returns the version of the most recently returned event,
// usable to restart a new cursor after this one is dropped
func (c *Cursor) LastVersion() int64 {
	return c.lastVersion
}

// Collect drains the cursor into a slice
func (c *Cursor) Collect(ctx context.Context) ([]types.EventRecord, error) {
	var records []types.EventRecord
	for {
		record, ok, err := c.Next(ctx)
		if err != nil {
			return nil, err
		}
		if !ok {
			return records, nil
		}
		records = append(records, *record)
	}
}
