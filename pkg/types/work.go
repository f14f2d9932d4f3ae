package types

import "time"

// Flags toggles optional coordinator behavior per batch call
type Flags uint32

const (
	// FlagDebugMode asks the coordinator to persist debug-level log rows
	FlagDebugMode Flags = 0x1
)

// Has reports whether all bits in flag are set
func (f Flags) Has(flag Flags) bool {
	return f&flag == flag
}

// FailedMessage reports a message this instance could not process
type FailedMessage struct {
	MessageID string        `json:"MessageId"`
	Reason    FailureReason `json:"Reason"`
	Error     string        `json:"Error"`
}

// ReceptorResult reports a per-handler outcome for an inbox message
type ReceptorResult struct {
	MessageID   string `json:"MessageId"`
	HandlerName string `json:"HandlerName"`
	Error       string `json:"Error,omitempty"`
}

// CheckpointCompletion reports a perspective checkpoint advance
type CheckpointCompletion struct {
	StreamID       string `json:"StreamId"`
	ProjectionName string `json:"ProjectionName"`
	LastEventID    string `json:"LastEventId"`
	Status         Status `json:"Status"`
	Error          string `json:"Error,omitempty"`
}

// WorkRequest carries everything one polling cycle reports and requests.
// All fields are idempotent: replaying an identical request after a crash
// between commit and response produces identical side effects.
type WorkRequest struct {
	// Heartbeat / registration
	InstanceID  string `json:"InstanceId"`
	ServiceName string `json:"ServiceName"`
	Host        string `json:"Host"`
	PID         int    `json:"Pid"`
	Metadata    []byte `json:"Metadata,omitempty"`

	// Results from the previous cycle
	OutboxCompletedIDs     []string               `json:"OutboxCompletedIds,omitempty"`
	OutboxFailed           []FailedMessage        `json:"OutboxFailed,omitempty"`
	InboxCompletedIDs      []string               `json:"InboxCompletedIds,omitempty"`
	InboxFailed            []FailedMessage        `json:"InboxFailed,omitempty"`
	ReceptorCompletions    []ReceptorResult       `json:"ReceptorCompletions,omitempty"`
	ReceptorFailures       []ReceptorResult       `json:"ReceptorFailures,omitempty"`
	PerspectiveCompletions []CheckpointCompletion `json:"PerspectiveCompletions,omitempty"`
	PerspectiveFailures    []CheckpointCompletion `json:"PerspectiveFailures,omitempty"`

	// New rows to persist transactionally
	NewOutbox []OutboxRecord `json:"NewOutbox,omitempty"`
	NewInbox  []InboxRecord  `json:"NewInbox,omitempty"`

	// Long-running work that needs lease extension
	RenewOutboxLeaseIDs []string `json:"RenewOutboxLeaseIds,omitempty"`
	RenewInboxLeaseIDs  []string `json:"RenewInboxLeaseIds,omitempty"`

	Flags Flags `json:"Flags"`

	// Topology parameters
	PartitionCount        int `json:"PartitionCount"`
	LeaseSeconds          int `json:"LeaseSeconds"`
	StaleThresholdSeconds int `json:"StaleThresholdSeconds"`
}

// LeaseDuration returns the lease window as a duration
func (r *WorkRequest) LeaseDuration() time.Duration {
	return time.Duration(r.LeaseSeconds) * time.Second
}

// StaleThreshold returns the heartbeat staleness window as a duration
func (r *WorkRequest) StaleThreshold() time.Duration {
	return time.Duration(r.StaleThresholdSeconds) * time.Second
}

// OutboxWork is a claimed outbox row projected for transmission
type OutboxWork struct {
	MessageID       string  `db:"message_id" json:"MessageId"`
	Destination     string  `db:"destination" json:"Destination"`
	MessageType     string  `db:"message_type" json:"MessageType"`
	MessageData     []byte  `db:"message_data" json:"MessageData"`
	Metadata        []byte  `db:"metadata" json:"Metadata,omitempty"`
	Scope           []byte  `db:"scope" json:"Scope,omitempty"`
	StreamID        *string `db:"stream_id" json:"StreamId,omitempty"`
	PartitionNumber *int    `db:"partition_number" json:"PartitionNumber,omitempty"`
	IsEvent         bool    `db:"is_event" json:"IsEvent"`
	Attempts        int     `db:"attempts" json:"Attempts"`
}

// InboxWork is a claimed inbox row projected for handling
type InboxWork struct {
	MessageID       string  `db:"message_id" json:"MessageId"`
	HandlerName     string  `db:"handler_name" json:"HandlerName"`
	Destination     string  `db:"destination" json:"Destination"`
	MessageType     string  `db:"message_type" json:"MessageType"`
	MessageData     []byte  `db:"message_data" json:"MessageData"`
	Metadata        []byte  `db:"metadata" json:"Metadata,omitempty"`
	Scope           []byte  `db:"scope" json:"Scope,omitempty"`
	StreamID        *string `db:"stream_id" json:"StreamId,omitempty"`
	PartitionNumber *int    `db:"partition_number" json:"PartitionNumber,omitempty"`
	IsEvent         bool    `db:"is_event" json:"IsEvent"`
	Attempts        int     `db:"attempts" json:"Attempts"`
}

// WorkBatch is the coordinator's response: the next work this instance owns
type WorkBatch struct {
	OutboxWork []OutboxWork `json:"OutboxWork,omitempty"`
	InboxWork  []InboxWork  `json:"InboxWork,omitempty"`
}

// Empty reports whether the batch carries no work
func (b *WorkBatch) Empty() bool {
	return len(b.OutboxWork) == 0 && len(b.InboxWork) == 0
}
