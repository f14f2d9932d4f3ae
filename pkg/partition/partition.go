package partition

import (
	"sort"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/whizbang-io/whizbang/pkg/types"
)

const (
	// DefaultCount is the partition count used when none is configured.
	// It must not change for a deployed schema: partition numbers are
	// derived from it and persisted on every row.
	DefaultCount = 16
)

// Compute maps a stream ID to a partition in [0, count). The hash is
// xxhash64, stable across restarts and implementable from any language,
// so all writers of one schema agree on partition placement.
func Compute(streamID string, count int) int {
	if count <= 0 {
		count = DefaultCount
	}
	return int(xxhash.Sum64String(streamID) % uint64(count))
}

// Balance deterministically assigns every partition to one of the live
// instances. Instances are sorted so every caller computes the same
// assignment regardless of input order; partitions are dealt round-robin,
// which keeps per-instance load within one partition of even.
func Balance(count int, instanceIDs []string, now time.Time) []types.PartitionAssignment {
	if count <= 0 || len(instanceIDs) == 0 {
		return nil
	}

	sorted := make([]string, len(instanceIDs))
	copy(sorted, instanceIDs)
	sort.Strings(sorted)

	assignments := make([]types.PartitionAssignment, 0, count)
	for p := 0; p < count; p++ {
		assignments = append(assignments, types.PartitionAssignment{
			PartitionNumber: p,
			InstanceID:      sorted[p%len(sorted)],
			AssignedAt:      now,
			LastHeartbeat:   now,
		})
	}
	return assignments
}

// Owned filters the partitions assigned to instanceID into a lookup set
func Owned(assignments []types.PartitionAssignment, instanceID string) map[int]bool {
	owned := make(map[int]bool)
	for _, a := range assignments {
		if a.InstanceID == instanceID {
			owned[a.PartitionNumber] = true
		}
	}
	return owned
}
