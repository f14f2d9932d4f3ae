// Package inbox is the durable inbound message buffer. A transport hands
// each received message to the coordinator, which persists it here exactly
// once: wb_message_deduplication keeps a permanent first-seen marker per
// message ID, so redelivered messages collapse into the original row. Rows
// carry the handler name, lease fields and the shared status bitmask, and
// are claimed in per-stream order by the coordinator.
package inbox
