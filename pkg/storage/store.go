package storage

import (
	"errors"

	"github.com/whizbang-io/whizbang/pkg/types"
)

// ErrNotFound is returned when a record does not exist
var ErrNotFound = errors.New("record not found")

// Store defines the record-level interface the embedded coordinator uses to
// persist its state between restarts. The Postgres coordinator does not go
// through this interface; it owns its tables directly.
type Store interface {
	// Outbox
	PutOutbox(record *types.OutboxRecord) error
	GetOutbox(messageID string) (*types.OutboxRecord, error)
	ListOutbox() ([]*types.OutboxRecord, error)
	DeleteOutbox(messageID string) error

	// Inbox
	PutInbox(record *types.InboxRecord) error
	GetInbox(messageID string) (*types.InboxRecord, error)
	ListInbox() ([]*types.InboxRecord, error)
	DeleteInbox(messageID string) error

	// Event store
	PutEvent(record *types.EventRecord) error
	ListEvents() ([]*types.EventRecord, error)

	// Perspective checkpoints
	PutCheckpoint(record *types.Checkpoint) error
	GetCheckpoint(streamID, projectionName string) (*types.Checkpoint, error)
	ListCheckpoints() ([]*types.Checkpoint, error)

	// Service instances
	PutInstance(record *types.ServiceInstance) error
	ListInstances() ([]*types.ServiceInstance, error)
	DeleteInstance(instanceID string) error

	// Active streams
	PutStream(record *types.ActiveStream) error
	ListStreams() ([]*types.ActiveStream, error)
	DeleteStream(streamID string) error

	// Deduplication
	PutDedup(record *types.DeduplicationRecord) error
	GetDedup(messageID string) (*types.DeduplicationRecord, error)

	// Utility
	Close() error
}
