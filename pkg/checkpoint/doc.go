// Package checkpoint tracks how far each read-model projection has applied
// a stream. The cursor is the last applied event ID, advancing only in
// event-store order; the status bitmask carries Completed, Failed and
// CatchingUp. While a catch-up job replays history the CatchingUp bit is
// preserved across updates from the live path, then cleared by the first
// Completed update after the job finishes.
package checkpoint
