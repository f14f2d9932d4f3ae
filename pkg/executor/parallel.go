package executor

// Parallel runs tasks on a fixed set of workers with no ordering between
// them. Suited to work without stream affinity.
type Parallel struct {
	*pool
}

// NewParallel creates a parallel executor with the given worker count.
// capacity bounds the queue; zero or negative means unbounded.
func NewParallel(workers, capacity int) *Parallel {
	if workers < 1 {
		workers = 1
	}
	return &Parallel{pool: newPool(workers, capacity)}
}
