// Package strategy drives the coordinator RPC from the client side.
// Handlers and the worker loop queue new messages, completions, failures,
// lease renewals and checkpoint updates without blocking; a strategy
// decides when those queues become a ProcessWorkBatch call. Immediate
// flushes on every cycle, Batched amortizes bursts behind a timer and a
// size threshold so one call carries everything.
package strategy
