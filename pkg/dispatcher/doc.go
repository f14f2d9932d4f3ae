// Package dispatcher routes message envelopes through an ordered pipeline
// of lifecycle stages. Handlers register against a (payload type, stage)
// pair and run sequentially in registration order; the first handler error
// fails its stage, skips the remaining stages and classifies the failure
// for the coordinator. Handlers emit follow-up envelopes through an
// Emitter, which parks them on the strategy's outbox queue so children
// travel in the same durable batch as the parent's outcome.
package dispatcher
