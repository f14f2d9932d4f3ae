/*
Package partition maps streams to partitions and partitions to instances.

A partition is the unit of ownership for load balancing: every stream hashes
to exactly one partition (stable xxhash64 mod partition count), and every
partition is assigned to exactly one live instance. Two instances therefore
never process the same stream concurrently, without any cross-instance
locking beyond the coordinator's database transaction.

The partition count is fixed per schema. Changing it re-shuffles every
stream's partition and must be treated as a schema migration.

Balance produces a deterministic assignment from the sorted live-instance
set, so concurrent coordinator calls that observe the same instances compute
the same assignment and the upsert is idempotent. Orphaned rows (whose
partition belongs to a reaped instance) are claimable by any caller; the
coordinator re-runs Balance whenever the live set changes.
*/
package partition
