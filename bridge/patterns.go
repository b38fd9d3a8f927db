package bridge

import (
	"fmt"
	"time"

	"github.com/hupe1980/agentbridge/core"
)

// Pattern selects a delivery strategy for Broadcast.
type Pattern string

const (
	// PatternBroadcast delivers to every platform except an exclusion list.
	PatternBroadcast Pattern = "broadcast"
	// PatternWhisper delivers to exactly one named target.
	PatternWhisper Pattern = "whisper"
	// PatternCascade delivers through an ordered sequence of platforms,
	// threading each result into the next envelope as cascadeData.
	PatternCascade Pattern = "cascade"
	// PatternMirror delivers only to the hidden sink; a reflecting result
	// re-broadcasts the reflection payload to all other platforms.
	PatternMirror Pattern = "mirror"
)

// PatternOptions tunes one Broadcast call.
type PatternOptions struct {
	// Pattern selects the strategy. Defaults to PatternBroadcast.
	Pattern Pattern
	// Exclude names platforms skipped by PatternBroadcast.
	Exclude []string
	// Target names the single PatternWhisper recipient.
	Target string
	// Sequence orders the PatternCascade hops.
	Sequence []string
}

// PatternResult reports one platform's outcome within a pattern delivery.
type PatternResult struct {
	Platform string `json:"platform"`
	Value    any    `json:"value,omitempty"`
	Err      error  `json:"-"`
}

// Faulted reports whether delivery to this platform failed.
func (r PatternResult) Faulted() bool { return r.Err != nil }

// Broadcast delivers payload from a named source platform using the
// selected pattern. Pattern deliveries are the bridge's own privileged
// operations: they hand envelopes straight to platform handlers and are not
// gated by the routing matrix (which governs RouteMessage traffic).
func (b *Bridge) Broadcast(from string, payload any, opts PatternOptions) ([]PatternResult, error) {
	pattern := opts.Pattern
	if pattern == "" {
		pattern = PatternBroadcast
	}

	switch pattern {
	case PatternBroadcast:
		return b.patternBroadcast(from, payload, opts.Exclude), nil
	case PatternWhisper:
		if opts.Target == "" {
			return nil, &core.ValidationError{Field: "target", Message: "whisper requires a target platform"}
		}
		env := core.NewEnvelope(core.TypeBridgeRequest, from, opts.Target, payload)
		res, err := b.DeliverMessage(opts.Target, env)
		return []PatternResult{{Platform: opts.Target, Value: res, Err: err}}, nil
	case PatternCascade:
		if len(opts.Sequence) == 0 {
			return nil, &core.ValidationError{Field: "sequence", Message: "cascade requires an ordered platform sequence"}
		}
		return b.patternCascade(from, payload, opts.Sequence), nil
	case PatternMirror:
		return b.patternMirror(from, payload)
	default:
		return nil, &core.ValidationError{Field: "pattern", Message: fmt.Sprintf("unknown pattern %q", pattern)}
	}
}

// patternBroadcast delivers to every platform except the sender and the
// exclusion list. One faulted target never aborts delivery to the rest.
func (b *Bridge) patternBroadcast(from string, payload any, exclude []string) []PatternResult {
	excluded := make(map[string]bool, len(exclude)+1)
	excluded[from] = true
	for _, name := range exclude {
		excluded[name] = true
	}

	var results []PatternResult
	for _, name := range b.PlatformNames() {
		if excluded[name] {
			continue
		}
		env := core.NewEnvelope(core.TypeBroadcast, from, name, payload)
		res, err := b.DeliverMessage(name, env)
		b.recordPattern(env, name, err == nil)
		results = append(results, PatternResult{Platform: name, Value: res, Err: err})
	}
	return results
}

// patternCascade walks the sequence in order, wrapping each hop's payload
// with the previous hop's result under the cascadeData key. A faulted hop
// is recorded and the cascade continues with the last good result.
func (b *Bridge) patternCascade(from string, payload any, sequence []string) []PatternResult {
	results := make([]PatternResult, 0, len(sequence))
	var carry any

	for i, name := range sequence {
		hopPayload := payload
		if i > 0 {
			hopPayload = map[string]any{
				"data":        payload,
				"cascadeData": carry,
			}
		}
		env := core.NewEnvelope(core.TypeBridgeRequest, from, name, hopPayload)
		res, err := b.DeliverMessage(name, env)
		b.recordPattern(env, name, err == nil)
		results = append(results, PatternResult{Platform: name, Value: res, Err: err})
		if err == nil {
			carry = res
		}
	}
	return results
}

// patternMirror delivers only to the hidden sink. When the sink's result
// carries a reflect flag with a reflection payload, that payload is
// re-broadcast to every non-sink platform.
func (b *Bridge) patternMirror(from string, payload any) ([]PatternResult, error) {
	sink := b.routes.Sink()
	env := core.NewEnvelope(core.TypeBridgeRequest, from, sink, payload)
	res, err := b.DeliverMessage(sink, env)
	b.recordPattern(env, sink, err == nil)
	results := []PatternResult{{Platform: sink, Value: res, Err: err}}
	if err != nil {
		return results, nil
	}

	reflection, ok := asReflection(res)
	if !ok {
		return results, nil
	}

	// The reflection echoes to every platform except the sink itself; the
	// original sender hears it too.
	echoed := b.patternBroadcast(sink, reflection, nil)
	return append(results, echoed...), nil
}

// asReflection extracts the reflection payload from a mirror sink result of
// the shape {"reflect": true, "reflection": {"type": ..., "data": ...}}.
func asReflection(res any) (any, bool) {
	m, ok := res.(map[string]any)
	if !ok {
		return nil, false
	}
	if flag, _ := m["reflect"].(bool); !flag {
		return nil, false
	}
	reflection, ok := m["reflection"].(map[string]any)
	if !ok {
		return nil, false
	}
	return reflection["data"], true
}

// recordPattern appends a pattern delivery to the audit history.
func (b *Bridge) recordPattern(env core.Envelope, target string, delivered bool) {
	b.history.Push(HistoryEntry{
		MessageID: env.ID,
		Type:      string(env.Type),
		RouteKey:  RouteKey(env.From, target),
		Allowed:   delivered,
		Timestamp: time.Now().UTC(),
	})
}
