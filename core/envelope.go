package core

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// MessageType categorizes an envelope. Agent messages carry agent ids in
// From/To; bridge messages carry platform names.
type MessageType string

const (
	// TypeCommand is a directive addressed to a single platform or agent.
	TypeCommand MessageType = "command"
	// TypeBroadcast is an unaddressed fan-out message; To is absent.
	TypeBroadcast MessageType = "broadcast"
	// TypeAgentMessage is intra-runtime agent-to-agent mail.
	TypeAgentMessage MessageType = "agent_message"
	// TypeBridgeRequest is a platform-to-platform request routed by the bridge.
	TypeBridgeRequest MessageType = "bridge_request"
)

// Valid reports whether t is one of the four known message types.
func (t MessageType) Valid() bool {
	switch t {
	case TypeCommand, TypeBroadcast, TypeAgentMessage, TypeBridgeRequest:
		return true
	}
	return false
}

// Envelope is the addressed, timestamped message unit exchanged between
// agents and platforms. After construction it should be treated as
// immutable; the bridge copies an envelope before mutating payloads
// (cascade threading, payload sealing).
//
// Wire shape: {id, type, from?, to?, payload, timestamp} with the timestamp
// serialized as Unix milliseconds for cross-process clients.
type Envelope struct {
	ID        string      `json:"id"`
	Type      MessageType `json:"type"`
	From      string      `json:"from,omitempty"`
	To        string      `json:"to,omitempty"`
	Payload   any         `json:"payload"`
	Timestamp time.Time   `json:"timestamp"`
}

// NewEnvelope constructs an addressed envelope with a fresh id and UTC
// timestamp.
func NewEnvelope(t MessageType, from, to string, payload any) Envelope {
	return Envelope{
		ID:        NewID(),
		Type:      t,
		From:      from,
		To:        to,
		Payload:   payload,
		Timestamp: time.Now().UTC(),
	}
}

// NewBroadcastEnvelope constructs an unaddressed broadcast envelope.
func NewBroadcastEnvelope(from string, payload any) Envelope {
	e := NewEnvelope(TypeBroadcast, from, "", payload)
	return e
}

// Validate checks the structural invariants: id, known type, timestamp, and
// To present unless the envelope is a broadcast. It returns a
// *ValidationError describing the first violation found.
func (e Envelope) Validate() error {
	if e.ID == "" {
		return &ValidationError{Field: "id", Message: "missing envelope id"}
	}
	if !e.Type.Valid() {
		return &ValidationError{Field: "type", Message: "unknown message type " + string(e.Type)}
	}
	if e.Timestamp.IsZero() {
		return &ValidationError{Field: "timestamp", Message: "missing timestamp"}
	}
	if e.To == "" && e.Type != TypeBroadcast {
		return &ValidationError{Field: "to", Message: "to is required unless type is broadcast"}
	}
	return nil
}

// wireEnvelope is the JSON projection with a numeric millisecond timestamp.
type wireEnvelope struct {
	ID        string      `json:"id"`
	Type      MessageType `json:"type"`
	From      string      `json:"from,omitempty"`
	To        string      `json:"to,omitempty"`
	Payload   any         `json:"payload"`
	Timestamp int64       `json:"timestamp"`
}

// MarshalJSON serializes the envelope in wire shape (timestamp as Unix
// milliseconds).
func (e Envelope) MarshalJSON() ([]byte, error) {
	return json.Marshal(wireEnvelope{
		ID:        e.ID,
		Type:      e.Type,
		From:      e.From,
		To:        e.To,
		Payload:   e.Payload,
		Timestamp: e.Timestamp.UnixMilli(),
	})
}

// UnmarshalJSON parses the wire shape back into an Envelope.
func (e *Envelope) UnmarshalJSON(data []byte) error {
	var w wireEnvelope
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	e.ID = w.ID
	e.Type = w.Type
	e.From = w.From
	e.To = w.To
	e.Payload = w.Payload
	e.Timestamp = time.UnixMilli(w.Timestamp).UTC()
	return nil
}

// NewID generates a unique identifier for agents, envelopes and tunnels.
func NewID() string { return uuid.NewString() }
