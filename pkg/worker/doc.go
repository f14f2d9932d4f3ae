// Package worker runs the per-instance polling loop. Each tick flushes the
// coordinator strategy, which carries the previous cycle's outcomes out and
// the heartbeat and newly claimed work in. Inbox work is dispatched on a
// serial executor sticky to its stream, outbox work goes to the registered
// transport, and every outcome is queued for the next flush. Work that
// outlives half its lease gets the lease renewed each tick.
package worker
