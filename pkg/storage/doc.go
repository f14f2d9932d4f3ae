/*
Package storage provides durable record storage for the embedded deployment
mode.

When Whizbang runs embedded, a single instance with no external database,
the in-process coordinator keeps its working state in memory and persists
every mutation through this package so outbox, inbox, event, checkpoint and
deduplication records survive a restart. Records are stored as JSON in
BoltDB buckets, one bucket per logical table; event keys are zero-padded
global sequence numbers so iteration order is append order.

The Postgres deployment does not use this package: there the database is
the single serialization point and the coordinator owns its tables
directly.

# Usage

	store, err := storage.NewBoltStore(dataDir)
	if err != nil {
		return err
	}
	defer store.Close()

	coord, err := coordinator.NewMemoryWithStore(store)
	if err != nil {
		return err
	}

# Consistency

BoltDB gives single-writer transactions per mutation. The embedded
coordinator serializes all mutations behind its own mutex, so cross-record
invariants (dedup before insert, per-stream claim gating) hold without
multi-record transactions here.
*/
package storage
