package eventstore

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/whizbang-io/whizbang/pkg/envelope"
	"github.com/whizbang-io/whizbang/pkg/storage"
	"github.com/whizbang-io/whizbang/pkg/types"
)

// Memory is the event store for the embedded deployment mode and for
// tests. A single mutex serializes appends, so version conflicts cannot
// occur in-process; the semantics otherwise match the Postgres store.
// When a storage.Store is attached every append is persisted through it.
type Memory struct {
	mu       sync.RWMutex
	streams  map[string][]types.EventRecord
	sequence int64
	store    storage.Store
}

// NewMemory creates an empty in-memory event store
func NewMemory() *Memory {
	return &Memory{streams: make(map[string][]types.EventRecord)}
}

// NewMemoryWithStore creates a memory event store backed by a record
// store, loading any previously persisted events
func NewMemoryWithStore(store storage.Store) (*Memory, error) {
	m := NewMemory()
	m.store = store

	records, err := store.ListEvents()
	if err != nil {
		return nil, fmt.Errorf("failed to load events: %w", err)
	}
	for _, record := range records {
		m.streams[record.StreamID] = append(m.streams[record.StreamID], *record)
		if record.SequenceNumber > m.sequence {
			m.sequence = record.SequenceNumber
		}
	}
	return m, nil
}

// Append stores the envelope as the stream's next event
func (m *Memory) Append(ctx context.Context, streamID string, env *envelope.Envelope, meta Meta) (*types.EventRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	data, err := env.Marshal()
	if err != nil {
		return nil, fmt.Errorf("failed to marshal envelope: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.sequence++
	record := types.EventRecord{
		EventID:        envelope.NewEventID().String(),
		StreamID:       streamID,
		AggregateID:    meta.AggregateID,
		AggregateType:  meta.AggregateType,
		EventType:      envelope.NormalizeEventType(meta.EventType),
		EventData:      data,
		Metadata:       meta.Metadata,
		Scope:          meta.Scope,
		SequenceNumber: m.sequence,
		Version:        int64(len(m.streams[streamID])) + 1,
		CreatedAt:      time.Now().UTC(),
	}
	m.streams[streamID] = append(m.streams[streamID], record)

	if m.store != nil {
		if err := m.store.PutEvent(&record); err != nil {
			// Roll the in-memory append back so memory and disk agree
			m.streams[streamID] = m.streams[streamID][:len(m.streams[streamID])-1]
			m.sequence--
			return nil, fmt.Errorf("failed to persist event: %w", err)
		}
	}

	return &record, nil
}

func (m *Memory) pageAfter(streamID string, afterVersion int64, limit int, eventTypes []string) []types.EventRecord {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var page []types.EventRecord
	typeSet := make(map[string]bool, len(eventTypes))
	for _, t := range eventTypes {
		typeSet[envelope.NormalizeEventType(t)] = true
	}

	for _, record := range m.streams[streamID] {
		if record.Version <= afterVersion {
			continue
		}
		if len(typeSet) > 0 && !typeSet[record.EventType] {
			continue
		}
		page = append(page, record)
		if len(page) >= limit {
			break
		}
	}
	return page
}

// Read returns a cursor over the stream from fromVersion, inclusive
func (m *Memory) Read(ctx context.Context, streamID string, fromVersion int64) (*Cursor, error) {
	after := fromVersion - 1
	if after < 0 {
		after = 0
	}
	return newCursor(func(ctx context.Context, afterVersion int64, limit int) ([]types.EventRecord, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return m.pageAfter(streamID, afterVersion, limit, nil), nil
	}, after, 0), nil
}

func (m *Memory) versionAt(streamID string, eventID envelope.EventID) int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()

	// The event ID cursor is time ordered; events before it are skipped.
	// Filtering by ID comparison post-fetch mirrors engines without
	// native UUID ordering.
	for _, record := range m.streams[streamID] {
		id, err := envelope.ParseEventID(record.EventID)
		if err != nil {
			continue
		}
		if id.Compare(eventID.ID) >= 0 {
			return record.Version - 1
		}
	}
	return int64(len(m.streams[streamID]))
}

// ReadFrom returns a cursor starting at the given event ID, inclusive
func (m *Memory) ReadFrom(ctx context.Context, streamID string, fromEventID envelope.EventID) (*Cursor, error) {
	after := int64(0)
	if !fromEventID.IsZero() {
		after = m.versionAt(streamID, fromEventID)
	}
	return newCursor(func(ctx context.Context, afterVersion int64, limit int) ([]types.EventRecord, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return m.pageAfter(streamID, afterVersion, limit, nil), nil
	}, after, 0), nil
}

// ReadPolymorphic returns a cursor filtered to the given event types
func (m *Memory) ReadPolymorphic(ctx context.Context, streamID string, fromEventID envelope.EventID, eventTypes []string) (*Cursor, error) {
	after := int64(0)
	if !fromEventID.IsZero() {
		after = m.versionAt(streamID, fromEventID)
	}
	return newCursor(func(ctx context.Context, afterVersion int64, limit int) ([]types.EventRecord, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return m.pageAfter(streamID, afterVersion, limit, eventTypes), nil
	}, after, 0), nil
}

// EventsBetween returns the ordered events in (afterEventID, upToEventID]
func (m *Memory) EventsBetween(ctx context.Context, streamID string, afterEventID, upToEventID envelope.EventID) ([]types.EventRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	var records []types.EventRecord
	for _, record := range m.streams[streamID] {
		id, err := envelope.ParseEventID(record.EventID)
		if err != nil {
			continue
		}
		if !afterEventID.IsZero() && id.Compare(afterEventID.ID) <= 0 {
			continue
		}
		if !upToEventID.IsZero() && id.Compare(upToEventID.ID) > 0 {
			continue
		}
		records = append(records, record)
	}
	return records, nil
}
