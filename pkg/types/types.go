package types

import (
	"time"
)

// OutboxRecord is a durable outbound message awaiting publication
type OutboxRecord struct {
	MessageID       string        `db:"message_id" json:"MessageId"`
	Destination     string        `db:"destination" json:"Destination"`
	MessageType     string        `db:"message_type" json:"MessageType"`
	MessageData     []byte        `db:"message_data" json:"MessageData"`
	Metadata        []byte        `db:"metadata" json:"Metadata,omitempty"`
	Scope           []byte        `db:"scope" json:"Scope,omitempty"`
	StreamID        *string       `db:"stream_id" json:"StreamId,omitempty"`
	PartitionNumber *int          `db:"partition_number" json:"PartitionNumber,omitempty"`
	IsEvent         bool          `db:"is_event" json:"IsEvent"`
	Status          Status        `db:"status_flags" json:"Status"`
	Attempts        int           `db:"attempts" json:"Attempts"`
	Error           *string       `db:"error" json:"Error,omitempty"`
	InstanceID      *string       `db:"instance_id" json:"InstanceId,omitempty"`
	LeaseExpiry     *time.Time    `db:"lease_expiry" json:"LeaseExpiry,omitempty"`
	FailureReason   FailureReason `db:"failure_reason" json:"FailureReason"`
	ScheduledFor    *time.Time    `db:"scheduled_for" json:"ScheduledFor,omitempty"`
	CreatedAt       time.Time     `db:"created_at" json:"CreatedAt"`
	PublishedAt     *time.Time    `db:"published_at" json:"PublishedAt,omitempty"`
	ProcessedAt     *time.Time    `db:"processed_at" json:"ProcessedAt,omitempty"`
}

// InboxRecord is a durable inbound message awaiting handling.
// It has the same shape as OutboxRecord plus the handler name and receipt time.
type InboxRecord struct {
	MessageID       string        `db:"message_id" json:"MessageId"`
	HandlerName     string        `db:"handler_name" json:"HandlerName"`
	Destination     string        `db:"destination" json:"Destination"`
	MessageType     string        `db:"message_type" json:"MessageType"`
	MessageData     []byte        `db:"message_data" json:"MessageData"`
	Metadata        []byte        `db:"metadata" json:"Metadata,omitempty"`
	Scope           []byte        `db:"scope" json:"Scope,omitempty"`
	StreamID        *string       `db:"stream_id" json:"StreamId,omitempty"`
	PartitionNumber *int          `db:"partition_number" json:"PartitionNumber,omitempty"`
	IsEvent         bool          `db:"is_event" json:"IsEvent"`
	Status          Status        `db:"status_flags" json:"Status"`
	Attempts        int           `db:"attempts" json:"Attempts"`
	Error           *string       `db:"error" json:"Error,omitempty"`
	InstanceID      *string       `db:"instance_id" json:"InstanceId,omitempty"`
	LeaseExpiry     *time.Time    `db:"lease_expiry" json:"LeaseExpiry,omitempty"`
	FailureReason   FailureReason `db:"failure_reason" json:"FailureReason"`
	ScheduledFor    *time.Time    `db:"scheduled_for" json:"ScheduledFor,omitempty"`
	ReceivedAt      time.Time     `db:"received_at" json:"ReceivedAt"`
	CreatedAt       time.Time     `db:"created_at" json:"CreatedAt"`
	ProcessedAt     *time.Time    `db:"processed_at" json:"ProcessedAt,omitempty"`
}

// EventRecord is one entry in the append-only per-stream log
type EventRecord struct {
	EventID        string    `db:"event_id" json:"EventId"`
	StreamID       string    `db:"stream_id" json:"StreamId"`
	AggregateID    string    `db:"aggregate_id" json:"AggregateId"`
	AggregateType  string    `db:"aggregate_type" json:"AggregateType"`
	EventType      string    `db:"event_type" json:"EventType"`
	EventData      []byte    `db:"event_data" json:"EventData"`
	Metadata       []byte    `db:"metadata" json:"Metadata,omitempty"`
	Scope          []byte    `db:"scope" json:"Scope,omitempty"`
	SequenceNumber int64     `db:"sequence_number" json:"SequenceNumber"`
	Version        int64     `db:"version" json:"Version"`
	CreatedAt      time.Time `db:"created_at" json:"CreatedAt"`
}

// ActiveStream tracks ephemeral stream ownership.
// A nil AssignedInstanceID means the stream is orphaned and claimable.
type ActiveStream struct {
	StreamID           string     `db:"stream_id" json:"StreamId"`
	PartitionNumber    int        `db:"partition_number" json:"PartitionNumber"`
	AssignedInstanceID *string    `db:"assigned_instance_id" json:"AssignedInstanceId,omitempty"`
	LeaseExpiry        *time.Time `db:"lease_expiry" json:"LeaseExpiry,omitempty"`
	CreatedAt          time.Time  `db:"created_at" json:"CreatedAt"`
	LastActivityAt     time.Time  `db:"last_activity_at" json:"LastActivityAt"`
}

// ServiceInstance is a registered processing instance
type ServiceInstance struct {
	InstanceID      string    `db:"instance_id" json:"InstanceId"`
	ServiceName     string    `db:"service_name" json:"ServiceName"`
	HostName        string    `db:"host_name" json:"HostName"`
	ProcessID       int       `db:"process_id" json:"ProcessId"`
	StartedAt       time.Time `db:"started_at" json:"StartedAt"`
	LastHeartbeatAt time.Time `db:"last_heartbeat_at" json:"LastHeartbeatAt"`
	Metadata        []byte    `db:"metadata" json:"Metadata,omitempty"`
}

// Stale reports whether the instance missed its heartbeat window
func (s *ServiceInstance) Stale(now time.Time, threshold time.Duration) bool {
	return now.Sub(s.LastHeartbeatAt) > threshold
}

// PartitionAssignment maps a partition to its owning instance
type PartitionAssignment struct {
	PartitionNumber int       `db:"partition_number" json:"PartitionNumber"`
	InstanceID      string    `db:"instance_id" json:"InstanceId"`
	AssignedAt      time.Time `db:"assigned_at" json:"AssignedAt"`
	LastHeartbeat   time.Time `db:"last_heartbeat" json:"LastHeartbeat"`
}

// Checkpoint is a per-(stream, projection) read-model cursor
type Checkpoint struct {
	StreamID       string     `db:"stream_id" json:"StreamId"`
	ProjectionName string     `db:"projection_name" json:"ProjectionName"`
	LastEventID    string     `db:"last_event_id" json:"LastEventId"`
	Status         Status     `db:"status" json:"Status"`
	ProcessedAt    *time.Time `db:"processed_at" json:"ProcessedAt,omitempty"`
	Error          *string    `db:"error" json:"Error,omitempty"`
}

// DeduplicationRecord is the permanent first-seen marker for a message ID
type DeduplicationRecord struct {
	MessageID   string    `db:"message_id" json:"MessageId"`
	FirstSeenAt time.Time `db:"first_seen_at" json:"FirstSeenAt"`
}

// Claimable reports whether a row with the given lease state may be claimed
// at the instant now. A row is claimable iff it is not failed, its role
// completion bit is unset, and it is unleased or the lease has expired.
func Claimable(status Status, role Role, instanceID *string, leaseExpiry *time.Time, now time.Time) bool {
	if status.Has(StatusFailed) || status.Has(role.CompletionBit()) {
		return false
	}
	if instanceID == nil {
		return true
	}
	return leaseExpiry != nil && !leaseExpiry.After(now)
}

// Claimable reports whether the outbox row may be claimed at now
func (r *OutboxRecord) Claimable(now time.Time) bool {
	if r.ScheduledFor != nil && r.ScheduledFor.After(now) {
		return false
	}
	return Claimable(r.Status, RoleOutbox, r.InstanceID, r.LeaseExpiry, now)
}

// Claimable reports whether the inbox row may be claimed at now
func (r *InboxRecord) Claimable(now time.Time) bool {
	if r.ScheduledFor != nil && r.ScheduledFor.After(now) {
		return false
	}
	return Claimable(r.Status, RoleInbox, r.InstanceID, r.LeaseExpiry, now)
}
