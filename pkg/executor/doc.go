// Package executor provides the execution strategies the worker loop runs
// dispatches on. Serial guarantees one task at a time in submission order,
// Parallel fans out across a fixed worker set. Both apply backpressure
// through a bounded queue and hand each task's error back to the
// submitting caller.
package executor
