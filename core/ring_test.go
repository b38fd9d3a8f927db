package core

import "testing"

func TestRing_DropOldest(t *testing.T) {
	r := NewRing[int](3)
	for i := 1; i <= 5; i++ {
		r.Push(i)
	}
	if r.Len() != 3 {
		t.Fatalf("expected 3 retained, got %d", r.Len())
	}
	got := r.Snapshot()
	want := []int{3, 4, 5}
	for i, v := range want {
		if got[i] != v {
			t.Errorf("snapshot[%d] = %d, want %d", i, got[i], v)
		}
	}
}

func TestRing_MinimumCapacity(t *testing.T) {
	r := NewRing[string](0)
	r.Push("a")
	r.Push("b")
	if r.Len() != 1 {
		t.Fatalf("expected capacity clamped to 1, got len %d", r.Len())
	}
	if r.Snapshot()[0] != "b" {
		t.Error("expected newest item retained")
	}
}

func TestNotifier_DropsInsteadOfBlocking(t *testing.T) {
	n := NewNotifier(1)
	n.Publish(Signal{Kind: SignalAgentError, Source: "a"})
	n.Publish(Signal{Kind: SignalAgentError, Source: "b"})

	if n.Dropped() != 1 {
		t.Errorf("expected 1 dropped, got %d", n.Dropped())
	}
	s := <-n.Signals()
	if s.Source != "a" {
		t.Errorf("expected first signal retained, got %s", s.Source)
	}
	if s.Timestamp.IsZero() {
		t.Error("publish should stamp the time")
	}

	n.Close()
	n.Publish(Signal{Kind: SignalAgentError, Source: "c"})
	if n.Dropped() != 2 {
		t.Errorf("publish after close should count as dropped, got %d", n.Dropped())
	}
}

func TestExecutionStats_RunningAverage(t *testing.T) {
	var s ExecutionStats
	now := NewEnvelope(TypeCommand, "a", "b", nil).Timestamp

	s.RecordRun(now, 10_000_000) // 10ms
	s.RecordRun(now, 20_000_000) // 20ms
	if s.RunCount != 2 {
		t.Fatalf("run count = %d", s.RunCount)
	}
	if s.AvgExecMillis < 14.9 || s.AvgExecMillis > 15.1 {
		t.Errorf("running average = %v, want ~15", s.AvgExecMillis)
	}
}
