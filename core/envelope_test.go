package core

import (
	"encoding/json"
	"testing"
	"time"
)

func TestEnvelope_ValidateRequiresToUnlessBroadcast(t *testing.T) {
	env := NewEnvelope(TypeCommand, "alpha", "beta", "payload")
	if err := env.Validate(); err != nil {
		t.Fatalf("addressed command should validate: %v", err)
	}

	env.To = ""
	if err := env.Validate(); err == nil {
		t.Fatal("command without to should fail validation")
	}

	bc := NewBroadcastEnvelope("alpha", "payload")
	if err := bc.Validate(); err != nil {
		t.Fatalf("broadcast without to should validate: %v", err)
	}
}

func TestEnvelope_ValidateRejectsMissingFields(t *testing.T) {
	env := NewEnvelope(TypeCommand, "a", "b", nil)

	noID := env
	noID.ID = ""
	if err := noID.Validate(); err == nil {
		t.Error("missing id should fail")
	}

	badType := env
	badType.Type = "telepathy"
	if err := badType.Validate(); err == nil {
		t.Error("unknown type should fail")
	}

	noTS := env
	noTS.Timestamp = time.Time{}
	if err := noTS.Validate(); err == nil {
		t.Error("missing timestamp should fail")
	}
}

func TestEnvelope_WireJSONUsesMillisTimestamp(t *testing.T) {
	ts := time.UnixMilli(1700000000123).UTC()
	env := Envelope{ID: "m1", Type: TypeBridgeRequest, From: "alpha", To: "beta", Payload: "hi", Timestamp: ts}

	data, err := json.Marshal(env)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatalf("unmarshal raw: %v", err)
	}
	if got := raw["timestamp"].(float64); int64(got) != 1700000000123 {
		t.Errorf("timestamp should be unix millis, got %v", got)
	}

	var back Envelope
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatalf("unmarshal envelope: %v", err)
	}
	if !back.Timestamp.Equal(ts) {
		t.Errorf("round-tripped timestamp mismatch: %v != %v", back.Timestamp, ts)
	}
	if back.From != "alpha" || back.To != "beta" {
		t.Errorf("addressing lost in round trip: %+v", back)
	}
}

func TestNewID_Unique(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		id := NewID()
		if seen[id] {
			t.Fatalf("duplicate id %s", id)
		}
		seen[id] = true
	}
}
