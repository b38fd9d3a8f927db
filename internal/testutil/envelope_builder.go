package testutil

import (
	"time"

	"github.com/hupe1980/agentbridge/core"
)

// EnvelopeBuilder provides a fluent helper for constructing envelopes in
// tests. Example:
//
//	env := NewEnvelopeBuilder().From("alpha").To("beta").Payload("hi").Build()
//
// Chain only the parts you need; sensible defaults are applied.
type EnvelopeBuilder struct {
	id        string
	typ       core.MessageType
	from      string
	to        string
	payload   any
	timestamp time.Time
}

// NewEnvelopeBuilder creates a builder defaulting to a bridge_request with a
// fresh id and current timestamp.
func NewEnvelopeBuilder() *EnvelopeBuilder {
	return &EnvelopeBuilder{
		id:        core.NewID(),
		typ:       core.TypeBridgeRequest,
		timestamp: time.Now().UTC(),
	}
}

// ID overrides the auto-generated id (chainable).
func (b *EnvelopeBuilder) ID(id string) *EnvelopeBuilder { b.id = id; return b }

// Type sets the message type (chainable).
func (b *EnvelopeBuilder) Type(t core.MessageType) *EnvelopeBuilder { b.typ = t; return b }

// From sets the source (chainable).
func (b *EnvelopeBuilder) From(from string) *EnvelopeBuilder { b.from = from; return b }

// To sets the destination (chainable).
func (b *EnvelopeBuilder) To(to string) *EnvelopeBuilder { b.to = to; return b }

// Payload sets the payload value (chainable).
func (b *EnvelopeBuilder) Payload(p any) *EnvelopeBuilder { b.payload = p; return b }

// Timestamp overrides the timestamp (chainable).
func (b *EnvelopeBuilder) Timestamp(ts time.Time) *EnvelopeBuilder { b.timestamp = ts; return b }

// Broadcast switches the builder to an unaddressed broadcast (chainable).
func (b *EnvelopeBuilder) Broadcast() *EnvelopeBuilder {
	b.typ = core.TypeBroadcast
	b.to = ""
	return b
}

// Build materializes the envelope.
func (b *EnvelopeBuilder) Build() core.Envelope {
	return core.Envelope{
		ID:        b.id,
		Type:      b.typ,
		From:      b.from,
		To:        b.to,
		Payload:   b.payload,
		Timestamp: b.timestamp,
	}
}
