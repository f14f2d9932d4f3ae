package storage

import (
	"encoding/json"
	"fmt"
	"path/filepath"

	bolt "go.etcd.io/bbolt"

	"github.com/whizbang-io/whizbang/pkg/types"
)

var (
	// Bucket names
	bucketOutbox      = []byte("outbox")
	bucketInbox       = []byte("inbox")
	bucketEvents      = []byte("events")
	bucketCheckpoints = []byte("checkpoints")
	bucketInstances   = []byte("instances")
	bucketStreams     = []byte("streams")
	bucketDedup       = []byte("dedup")
)

// BoltStore implements Store using BoltDB. Records are stored as JSON, one
// bucket per table; event keys are zero-padded sequence numbers so bucket
// order is append order.
type BoltStore struct {
	db *bolt.DB
}

// NewBoltStore creates a new BoltDB-backed store
func NewBoltStore(dataDir string) (*BoltStore, error) {
	dbPath := filepath.Join(dataDir, "whizbang.db")

	db, err := bolt.Open(dbPath, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Create buckets
	err = db.Update(func(tx *bolt.Tx) error {
		buckets := [][]byte{
			bucketOutbox,
			bucketInbox,
			bucketEvents,
			bucketCheckpoints,
			bucketInstances,
			bucketStreams,
			bucketDedup,
		}

		for _, bucket := range buckets {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", bucket, err)
			}
		}
		return nil
	})

	if err != nil {
		db.Close()
		return nil, err
	}

	return &BoltStore{db: db}, nil
}

// Close closes the database
func (s *BoltStore) Close() error {
	return s.db.Close()
}

func (s *BoltStore) put(bucket []byte, key string, value any) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucket)
		data, err := json.Marshal(value)
		if err != nil {
			return err
		}
		return b.Put([]byte(key), data)
	})
}

func (s *BoltStore) get(bucket []byte, key string, out any) error {
	return s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucket)
		data := b.Get([]byte(key))
		if data == nil {
			return fmt.Errorf("%w: %s/%s", ErrNotFound, bucket, key)
		}
		return json.Unmarshal(data, out)
	})
}

func (s *BoltStore) delete(bucket []byte, key string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucket).Delete([]byte(key))
	})
}

// Outbox operations
func (s *BoltStore) PutOutbox(record *types.OutboxRecord) error {
	return s.put(bucketOutbox, record.MessageID, record)
}

func (s *BoltStore) GetOutbox(messageID string) (*types.OutboxRecord, error) {
	var record types.OutboxRecord
	if err := s.get(bucketOutbox, messageID, &record); err != nil {
		return nil, err
	}
	return &record, nil
}

func (s *BoltStore) ListOutbox() ([]*types.OutboxRecord, error) {
	var records []*types.OutboxRecord
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketOutbox).ForEach(func(k, v []byte) error {
			var record types.OutboxRecord
			if err := json.Unmarshal(v, &record); err != nil {
				return err
			}
			records = append(records, &record)
			return nil
		})
	})
	return records, err
}

func (s *BoltStore) DeleteOutbox(messageID string) error {
	return s.delete(bucketOutbox, messageID)
}

// Inbox operations
func (s *BoltStore) PutInbox(record *types.InboxRecord) error {
	return s.put(bucketInbox, record.MessageID, record)
}

func (s *BoltStore) GetInbox(messageID string) (*types.InboxRecord, error) {
	var record types.InboxRecord
	if err := s.get(bucketInbox, messageID, &record); err != nil {
		return nil, err
	}
	return &record, nil
}

func (s *BoltStore) ListInbox() ([]*types.InboxRecord, error) {
	var records []*types.InboxRecord
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketInbox).ForEach(func(k, v []byte) error {
			var record types.InboxRecord
			if err := json.Unmarshal(v, &record); err != nil {
				return err
			}
			records = append(records, &record)
			return nil
		})
	})
	return records, err
}

func (s *BoltStore) DeleteInbox(messageID string) error {
	return s.delete(bucketInbox, messageID)
}

// Event store operations
func (s *BoltStore) PutEvent(record *types.EventRecord) error {
	key := fmt.Sprintf("%020d", record.SequenceNumber)
	return s.put(bucketEvents, key, record)
}

func (s *BoltStore) ListEvents() ([]*types.EventRecord, error) {
	var records []*types.EventRecord
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketEvents).ForEach(func(k, v []byte) error {
			var record types.EventRecord
			if err := json.Unmarshal(v, &record); err != nil {
				return err
			}
			records = append(records, &record)
			return nil
		})
	})
	return records, err
}

// Checkpoint operations
func checkpointKey(streamID, projectionName string) string {
	return streamID + "/" + projectionName
}

func (s *BoltStore) PutCheckpoint(record *types.Checkpoint) error {
	return s.put(bucketCheckpoints, checkpointKey(record.StreamID, record.ProjectionName), record)
}

func (s *BoltStore) GetCheckpoint(streamID, projectionName string) (*types.Checkpoint, error) {
	var record types.Checkpoint
	if err := s.get(bucketCheckpoints, checkpointKey(streamID, projectionName), &record); err != nil {
		return nil, err
	}
	return &record, nil
}

func (s *BoltStore) ListCheckpoints() ([]*types.Checkpoint, error) {
	var records []*types.Checkpoint
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketCheckpoints).ForEach(func(k, v []byte) error {
			var record types.Checkpoint
			if err := json.Unmarshal(v, &record); err != nil {
				return err
			}
			records = append(records, &record)
			return nil
		})
	})
	return records, err
}

// Service instance operations
func (s *BoltStore) PutInstance(record *types.ServiceInstance) error {
	return s.put(bucketInstances, record.InstanceID, record)
}

func (s *BoltStore) ListInstances() ([]*types.ServiceInstance, error) {
	var records []*types.ServiceInstance
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketInstances).ForEach(func(k, v []byte) error {
			var record types.ServiceInstance
			if err := json.Unmarshal(v, &record); err != nil {
				return err
			}
			records = append(records, &record)
			return nil
		})
	})
	return records, err
}

func (s *BoltStore) DeleteInstance(instanceID string) error {
	return s.delete(bucketInstances, instanceID)
}

// Active stream operations
func (s *BoltStore) PutStream(record *types.ActiveStream) error {
	return s.put(bucketStreams, record.StreamID, record)
}

func (s *BoltStore) ListStreams() ([]*types.ActiveStream, error) {
	var records []*types.ActiveStream
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketStreams).ForEach(func(k, v []byte) error {
			var record types.ActiveStream
			if err := json.Unmarshal(v, &record); err != nil {
				return err
			}
			records = append(records, &record)
			return nil
		})
	})
	return records, err
}

func (s *BoltStore) DeleteStream(streamID string) error {
	return s.delete(bucketStreams, streamID)
}

// Deduplication operations
func (s *BoltStore) PutDedup(record *types.DeduplicationRecord) error {
	return s.put(bucketDedup, record.MessageID, record)
}

func (s *BoltStore) GetDedup(messageID string) (*types.DeduplicationRecord, error) {
	var record types.DeduplicationRecord
	if err := s.get(bucketDedup, messageID, &record); err != nil {
		return nil, err
	}
	return &record, nil
}
