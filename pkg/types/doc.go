/*
Package types defines the shared data model for Whizbang's work coordination.

The types package holds the durable record shapes (outbox, inbox, event
store, active streams, service instances, partition assignments, perspective
checkpoints, deduplication), the status bitmask and failure-reason enums
they share, and the request/response shapes of the coordinator batch call.
It has no dependencies beyond the standard library so every other package
can import it freely.

# Status Bitmask

Inbox, outbox and checkpoint rows share one bitmask:

	0x0001  Pending (new)
	0x0002  ReceptorProcessed (inbox completion)
	0x0004  Published / EventStored (outbox completion)
	0x0008  CatchingUp (perspective checkpoints only)
	0x8000  Terminal failure

A row is claimable iff it is not failed, its role-specific completion bit is
unset, and it is unleased or its lease has expired. The Claimable helpers
implement this predicate in one place; the SQL claim queries mirror it.

# Failure Reasons

	None=0, TransportNotReady=1, TransportException=2, SerializationError=3,
	ValidationError=4, MaxAttemptsExceeded=5, LeaseExpired=6, Unknown=99

Values 7 through 98 are reserved; ParseFailureReason maps them to Unknown.

# Coordinator Shapes

WorkRequest carries one polling cycle's heartbeat, completion and failure
reports, new rows, lease renewals and topology parameters. WorkBatch is the
response: claimed outbox/inbox rows projected with everything needed to
transmit or handle them. Both are idempotent by construction: replaying a
request after a crash between commit and response is safe.

# Ownership

The coordinator exclusively mutates status, lease and attempt fields.
Application handlers own event/message payload bytes. The dispatcher owns
hops appended during in-process processing.
*/
package types
