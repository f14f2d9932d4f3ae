package envelope

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ErrNoHops is returned when an envelope without hops reaches a consumer.
// Envelopes carry at least one hop from the moment they enter the system.
var ErrNoHops = errors.New("envelope has no hops")

// Envelope is the unit of work: a typed payload with identity, scope and an
// append-only hop trail.
type Envelope struct {
	MessageID MessageID         `json:"MessageId"`
	Payload   any               `json:"Payload"`
	Hops      []Hop             `json:"Hops"`
	Scope     map[string]string `json:"Scope,omitempty"`
}

// New creates an envelope around payload and seeds its first hop.
// The initial correlation ID shares the message ID's value so that every
// conversation is traceable to the message that started it.
func New(payload any, identity ServiceIdentity) *Envelope {
	id := NewMessageID()
	e := &Envelope{
		MessageID: id,
		Payload:   payload,
	}
	e.AppendHop(Hop{
		Type:          HopCurrent,
		Service:       identity,
		CorrelationID: CorrelationID{id.ID},
	})
	return e
}

// NewChild creates an envelope caused by parent: the correlation ID is
// inherited and the causation ID is the parent's message ID.
func NewChild(parent *Envelope, payload any, identity ServiceIdentity) *Envelope {
	e := &Envelope{
		MessageID: NewMessageID(),
		Payload:   payload,
		Scope:     parent.Scope,
	}
	e.AppendHop(Hop{
		Type:          HopCausation,
		Service:       identity,
		CorrelationID: parent.CorrelationID(),
		CausationID:   CausationID{parent.MessageID.ID},
	})
	return e
}

// AppendHop appends one hop, defaulting its timestamp and carrying the
// correlation ID forward from the previous hop when unset
func (e *Envelope) AppendHop(hop Hop) {
	if hop.Timestamp.IsZero() {
		hop.Timestamp = time.Now().UTC()
	}
	if hop.CorrelationID.IsZero() && len(e.Hops) > 0 {
		hop.CorrelationID = e.Hops[len(e.Hops)-1].CorrelationID
	}
	if hop.Scope == nil {
		hop.Scope = e.Scope
	}
	e.Hops = append(e.Hops, hop)
}

// CurrentHop returns the most recent hop
func (e *Envelope) CurrentHop() (Hop, error) {
	if len(e.Hops) == 0 {
		return Hop{}, ErrNoHops
	}
	return e.Hops[len(e.Hops)-1], nil
}

// CorrelationID returns the conversation ID read from the most recent hop
func (e *Envelope) CorrelationID() CorrelationID {
	if len(e.Hops) == 0 {
		return CorrelationID{}
	}
	return e.Hops[len(e.Hops)-1].CorrelationID
}

// CausationID returns the causing message ID read from the most recent hop
func (e *Envelope) CausationID() CausationID {
	if len(e.Hops) == 0 {
		return CausationID{}
	}
	return e.Hops[len(e.Hops)-1].CausationID
}

// StreamKey returns the stream key of the most recent hop that carries one
func (e *Envelope) StreamKey() StreamKey {
	for i := len(e.Hops) - 1; i >= 0; i-- {
		if !e.Hops[i].StreamKey.IsZero() {
			return e.Hops[i].StreamKey
		}
	}
	return ""
}

// envelopeWire is the serialized form. Unknown fields in incoming JSON are
// tolerated; optional fields are omitted rather than emitted as null.
type envelopeWire struct {
	MessageID MessageID         `json:"MessageId"`
	Payload   json.RawMessage   `json:"Payload"`
	Hops      []Hop             `json:"Hops"`
	Scope     map[string]string `json:"Scope,omitempty"`
}

// Marshal serializes the envelope to its wire form
func (e *Envelope) Marshal() ([]byte, error) {
	payload, err := json.Marshal(e.Payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payload: %w", err)
	}
	return json.Marshal(envelopeWire{
		MessageID: e.MessageID,
		Payload:   payload,
		Hops:      e.Hops,
		Scope:     e.Scope,
	})
}

// Unmarshal deserializes an envelope, materializing the payload to the
// concrete type registered under payloadType. When payloadType is empty or
// unregistered the payload is kept as raw JSON.
func Unmarshal(data []byte, payloadType string, registry *TypeRegistry) (*Envelope, error) {
	var wire envelopeWire
	if err := json.Unmarshal(data, &wire); err != nil {
		return nil, fmt.Errorf("failed to unmarshal envelope: %w", err)
	}

	e := &Envelope{
		MessageID: wire.MessageID,
		Hops:      wire.Hops,
		Scope:     wire.Scope,
	}

	if payloadType != "" && registry != nil {
		payload, err := registry.Decode(payloadType, wire.Payload)
		if err == nil {
			e.Payload = payload
			return e, nil
		}
		if !errors.Is(err, ErrTypeNotRegistered) {
			return nil, err
		}
	}

	e.Payload = wire.Payload
	return e, nil
}
