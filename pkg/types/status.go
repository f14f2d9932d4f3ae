package types

import "strings"

// Status is the bitmask shared by inbox, outbox and perspective checkpoint rows
type Status uint16

const (
	// StatusPending marks a newly persisted row
	StatusPending Status = 0x0001

	// StatusReceptorProcessed marks an inbox row whose handlers completed
	StatusReceptorProcessed Status = 0x0002

	// StatusPublished marks an outbox row that was transmitted (or an event
	// that was stored)
	StatusPublished Status = 0x0004

	// StatusCompleted marks a perspective checkpoint whose projection has
	// applied every event up to last_event_id. Shares the bit with
	// StatusReceptorProcessed; checkpoint rows never carry that flag.
	StatusCompleted Status = 0x0002

	// StatusCatchingUp marks a perspective checkpoint with a catch-up job running
	StatusCatchingUp Status = 0x0008

	// StatusFailed marks a terminal failure
	StatusFailed Status = 0x8000
)

// Role identifies which durable buffer a row belongs to
type Role string

const (
	RoleOutbox Role = "outbox"
	RoleInbox  Role = "inbox"
)

// CompletionBit returns the completion bit that is terminal for the role
func (r Role) CompletionBit() Status {
	if r == RoleOutbox {
		return StatusPublished
	}
	return StatusReceptorProcessed
}

// Has reports whether all bits in flag are set
func (s Status) Has(flag Status) bool {
	return s&flag == flag
}

// Set returns the status with flag set
func (s Status) Set(flag Status) Status {
	return s | flag
}

// Clear returns the status with flag cleared
func (s Status) Clear(flag Status) Status {
	return s &^ flag
}

// Terminal reports whether the row is in a terminal state for the role
// (completed or failed)
func (s Status) Terminal(role Role) bool {
	return s.Has(StatusFailed) || s.Has(role.CompletionBit())
}

// String renders the set bits for logs
func (s Status) String() string {
	if s == 0 {
		return "none"
	}
	var names []string
	if s.Has(StatusPending) {
		names = append(names, "pending")
	}
	if s.Has(StatusReceptorProcessed) {
		names = append(names, "receptor_processed")
	}
	if s.Has(StatusPublished) {
		names = append(names, "published")
	}
	if s.Has(StatusCatchingUp) {
		names = append(names, "catching_up")
	}
	if s.Has(StatusFailed) {
		names = append(names, "failed")
	}
	return strings.Join(names, "|")
}

// FailureReason explains why a row was marked failed
type FailureReason int

const (
	FailureNone                FailureReason = 0
	FailureTransportNotReady   FailureReason = 1
	FailureTransportException  FailureReason = 2
	FailureSerializationError  FailureReason = 3
	FailureValidationError     FailureReason = 4
	FailureMaxAttemptsExceeded FailureReason = 5
	FailureLeaseExpired        FailureReason = 6
	// Values 7..98 are reserved
	FailureUnknown FailureReason = 99
)

// String returns the reason name
func (f FailureReason) String() string {
	switch f {
	case FailureNone:
		return "none"
	case FailureTransportNotReady:
		return "transport_not_ready"
	case FailureTransportException:
		return "transport_exception"
	case FailureSerializationError:
		return "serialization_error"
	case FailureValidationError:
		return "validation_error"
	case FailureMaxAttemptsExceeded:
		return "max_attempts_exceeded"
	case FailureLeaseExpired:
		return "lease_expired"
	default:
		return "unknown"
	}
}

// ParseFailureReason maps a stored value back to a declared reason.
// Values in the reserved range map to FailureUnknown.
func ParseFailureReason(v int) FailureReason {
	switch FailureReason(v) {
	case FailureNone, FailureTransportNotReady, FailureTransportException,
		FailureSerializationError, FailureValidationError,
		FailureMaxAttemptsExceeded, FailureLeaseExpired:
		return FailureReason(v)
	default:
		return FailureUnknown
	}
}

// Retryable reports whether a failure with this reason may be retried
// before max_delivery_attempts is reached
func (f FailureReason) Retryable() bool {
	switch f {
	case FailureTransportNotReady, FailureTransportException, FailureLeaseExpired:
		return true
	default:
		return false
	}
}
