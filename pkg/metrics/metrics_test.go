package metrics

import (
	"testing"
	"time"
)

func TestCountRecordsNamedEvent(t *testing.T) {
	m := NewMemoryObserver()
	Count(m, EventSessionStarted, map[string]string{"participant": "alice"})
	Count(m, EventSessionStarted, nil)
	Count(m, EventSessionClosed, nil)

	if got := m.CountOf(EventSessionStarted); got != 2 {
		t.Fatalf("expected 2 started events, got %d", got)
	}
	snap := m.Snapshot()
	if snap[0].Tags["participant"] != "alice" {
		t.Fatalf("tags not recorded: %+v", snap[0])
	}
	if snap[0].Value != 1 {
		t.Fatalf("count value should be 1, got %f", snap[0].Value)
	}
}

func TestTimingRecordsMilliseconds(t *testing.T) {
	m := NewMemoryObserver()
	Timing(m, EventBatchReceived, 250*time.Millisecond, nil)
	snap := m.Snapshot()
	if len(snap) != 1 || snap[0].Value != 250 {
		t.Fatalf("unexpected timing events %+v", snap)
	}
}

func TestAsyncObserverForwardsAndCloses(t *testing.T) {
	m := NewMemoryObserver()
	a := NewAsyncObserver(m, 16)
	for i := 0; i < 5; i++ {
		Count(a, EventAudioChunkSent, nil)
	}
	deadline := time.Now().Add(time.Second)
	for m.CountOf(EventAudioChunkSent) < 5 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if got := m.CountOf(EventAudioChunkSent); got != 5 {
		t.Fatalf("expected 5 forwarded events, got %d", got)
	}
	a.Close()
	a.Close()
	Count(a, EventAudioChunkSent, nil) // must not panic after close
}
