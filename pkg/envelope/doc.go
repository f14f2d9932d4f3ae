/*
Package envelope defines the message envelope, hop trail and typed IDs that
every Whizbang message carries through the system.

# Envelope

An Envelope wraps a typed payload with a time-ordered MessageID, an optional
tenant/user scope, and an append-only sequence of hops. Hops record each
processing step: which service touched the message, when, on which stream
and partition, with which execution strategy, and under which correlation
and causation IDs. The current correlation/causation accessors read the most
recent hop.

An envelope is never without hops once it has entered the system: New seeds
the first hop at creation, NewChild seeds a causation hop pointing at the
parent message, and the dispatcher appends one hop per visit.

# Typed IDs

MessageID, CorrelationID, CausationID and EventID wrap UUID version 7.
Version-7 IDs sort chronologically by byte order, so Compare doubles as a
creation-time comparison and database indexes over these IDs are insertion
ordered. StreamKey is free-form text, usually an aggregate identifier.

# Serialization

Envelopes serialize to a JSON object with MessageId, Payload, Hops and an
optional Scope. The payload's logical type travels out of band (the
message_type / event_type column of the stored row); Unmarshal selects the
concrete Go type from a TypeRegistry. Unknown JSON fields are tolerated for
forward compatibility and optional fields are omitted, never null.

# Type Registry

The registry is populated by explicit Register calls at startup, one per
payload type. There is no reflection scanning or global mutable type state.
Type names are normalized with NormalizeEventType, which reduces decorated
names ("Orders.OrderPlaced, Orders, Version=1.0.0.0, Culture=neutral") to
the stable "TypeName, Assembly" pair.

# Usage

	reg := envelope.NewTypeRegistry()
	reg.Register("OrderPlaced, Orders", func() any { return &OrderPlaced{} })

	identity := envelope.NewServiceIdentity("orders", instanceID)
	env := envelope.New(&OrderPlaced{OrderID: "42"}, identity)

	data, _ := env.Marshal()
	back, _ := envelope.Unmarshal(data, "OrderPlaced, Orders", reg)
*/
package envelope
