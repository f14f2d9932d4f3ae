package envelope

import (
	"bytes"
	"fmt"

	"github.com/google/uuid"
)

// ID is a 128-bit time-ordered identifier (UUID version 7). For v7 IDs the
// byte order is the chronological order, so Compare sorts by creation time.
type ID struct {
	uuid.UUID
}

// NewID generates a new time-ordered ID. IDs produced by the same process
// are monotonically non-decreasing.
func NewID() ID {
	return ID{uuid.Must(uuid.NewV7())}
}

// ParseID parses the canonical string form
func ParseID(s string) (ID, error) {
	u, err := uuid.Parse(s)
	if err != nil {
		return ID{}, fmt.Errorf("failed to parse id %q: %w", s, err)
	}
	return ID{u}, nil
}

// IDFromUUID wraps an externally produced UUID
func IDFromUUID(u uuid.UUID) ID {
	return ID{u}
}

// Compare orders IDs chronologically: -1 if id < other, 0 if equal, 1 if greater
func (id ID) Compare(other ID) int {
	return bytes.Compare(id.UUID[:], other.UUID[:])
}

// IsZero reports whether the ID is the zero value
func (id ID) IsZero() bool {
	return id.UUID == uuid.Nil
}

// MessageID identifies a message envelope
type MessageID struct{ ID }

// NewMessageID generates a new message ID
func NewMessageID() MessageID { return MessageID{NewID()} }

// ParseMessageID parses the canonical string form
func ParseMessageID(s string) (MessageID, error) {
	id, err := ParseID(s)
	return MessageID{id}, err
}

// CorrelationID groups all messages of one logical conversation
type CorrelationID struct{ ID }

// NewCorrelationID generates a new correlation ID
func NewCorrelationID() CorrelationID { return CorrelationID{NewID()} }

// ParseCorrelationID parses the canonical string form
func ParseCorrelationID(s string) (CorrelationID, error) {
	id, err := ParseID(s)
	return CorrelationID{id}, err
}

// CausationID names the message that directly caused this one
type CausationID struct{ ID }

// ParseCausationID parses the canonical string form
func ParseCausationID(s string) (CausationID, error) {
	id, err := ParseID(s)
	return CausationID{id}, err
}

// EventID identifies an event-store record
type EventID struct{ ID }

// NewEventID generates a new event ID
func NewEventID() EventID { return EventID{NewID()} }

// ParseEventID parses the canonical string form
func ParseEventID(s string) (EventID, error) {
	id, err := ParseID(s)
	return EventID{id}, err
}

// StreamKey identifies the totally-ordered stream a message belongs to.
// Unlike the other IDs it is free-form text (usually an aggregate ID).
type StreamKey string

// String returns the key text
func (k StreamKey) String() string { return string(k) }

// IsZero reports whether the key is empty
func (k StreamKey) IsZero() bool { return k == "" }
