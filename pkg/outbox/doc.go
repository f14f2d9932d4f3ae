// Package outbox is the durable outbound message buffer. Rows are written
// transactionally alongside application state, deduplicated by message ID
// against wb_message_deduplication, then claimed, published and completed
// through the coordinator. The Store operations here serve tests and
// synchronous dedup checks; the hot path never calls them directly.
package outbox
