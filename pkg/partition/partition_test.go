package partition

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestComputeDeterministic(t *testing.T) {
	p1 := Compute("order-42", 16)
	p2 := Compute("order-42", 16)
	assert.Equal(t, p1, p2)
	assert.GreaterOrEqual(t, p1, 0)
	assert.Less(t, p1, 16)
}

func TestComputeSpread(t *testing.T) {
	// Ensure the hash does not collapse everything onto one partition
	seen := make(map[int]bool)
	for _, id := range []string{"a", "b", "c", "d", "e", "f", "g", "h", "order-1", "order-2"} {
		seen[Compute(id, 16)] = true
	}
	assert.Greater(t, len(seen), 1)
}

func TestComputeDefaultsCount(t *testing.T) {
	p := Compute("order-42", 0)
	assert.Equal(t, Compute("order-42", DefaultCount), p)
}

func TestBalanceDeterministicAndEven(t *testing.T) {
	now := time.Now()

	a := Balance(16, []string{"inst-b", "inst-a", "inst-c"}, now)
	b := Balance(16, []string{"inst-c", "inst-a", "inst-b"}, now)
	require.Len(t, a, 16)
	assert.Equal(t, a, b, "assignment must be order-independent")

	counts := make(map[string]int)
	for _, assignment := range a {
		counts[assignment.InstanceID]++
	}
	for id, n := range counts {
		assert.InDelta(t, 16.0/3.0, float64(n), 1.0, "instance %s over/under loaded", id)
	}
}

func TestBalanceEmpty(t *testing.T) {
	assert.Nil(t, Balance(16, nil, time.Now()))
	assert.Nil(t, Balance(0, []string{"inst-a"}, time.Now()))
}

func TestOwned(t *testing.T) {
	now := time.Now()
	assignments := Balance(4, []string{"inst-a", "inst-b"}, now)

	ownedA := Owned(assignments, "inst-a")
	ownedB := Owned(assignments, "inst-b")
	assert.Len(t, ownedA, 2)
	assert.Len(t, ownedB, 2)
	for p := range ownedA {
		assert.False(t, ownedB[p], "partition %d owned twice", p)
	}
}
