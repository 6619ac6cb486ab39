package asr

import (
	"context"
	"testing"
	"time"
)

type stubTranscriber struct {
	identity string
	closed   bool
}

func (s *stubTranscriber) Identity() string                    { return s.identity }
func (s *stubTranscriber) Connect(ctx context.Context) error   { return nil }
func (s *stubTranscriber) WaitReady(ctx context.Context) error { return nil }
func (s *stubTranscriber) SendAudio(samples []float32)         {}
func (s *stubTranscriber) Disconnect()                         { s.closed = true }
func (s *stubTranscriber) State() State                        { return StateStreaming }
func (s *stubTranscriber) LastActivity() time.Time             { return time.Now() }

func TestRegistryAddAndGet(t *testing.T) {
	r := NewRegistry()
	alice := &stubTranscriber{identity: "alice"}
	if err := r.Add(alice); err != nil {
		t.Fatalf("add: %v", err)
	}
	if !r.Has("alice") {
		t.Fatalf("expected alice registered")
	}
	got, ok := r.Get("alice")
	if !ok || got != Transcriber(alice) {
		t.Fatalf("expected to get alice back")
	}
	if r.Len() != 1 {
		t.Fatalf("expected 1 session, got %d", r.Len())
	}
}

func TestRegistryRejectsDuplicate(t *testing.T) {
	r := NewRegistry()
	if err := r.Add(&stubTranscriber{identity: "alice"}); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := r.Add(&stubTranscriber{identity: "alice"}); err != ErrAlreadyRegistered {
		t.Fatalf("expected ErrAlreadyRegistered, got %v", err)
	}
}

func TestRegistryRemove(t *testing.T) {
	r := NewRegistry()
	alice := &stubTranscriber{identity: "alice"}
	if err := r.Add(alice); err != nil {
		t.Fatalf("add: %v", err)
	}
	got, ok := r.Remove("alice")
	if !ok || got != Transcriber(alice) {
		t.Fatalf("expected removal to return alice")
	}
	if r.Has("alice") {
		t.Fatalf("alice should be gone")
	}
	if _, ok := r.Remove("alice"); ok {
		t.Fatalf("second remove should report absence")
	}
}

func TestRegistrySnapshot(t *testing.T) {
	r := NewRegistry()
	for _, id := range []string{"a", "b", "c"} {
		if err := r.Add(&stubTranscriber{identity: id}); err != nil {
			t.Fatalf("add %s: %v", id, err)
		}
	}
	snap := r.Snapshot()
	if len(snap) != 3 {
		t.Fatalf("expected 3 sessions in snapshot, got %d", len(snap))
	}
	seen := map[string]bool{}
	for _, s := range snap {
		seen[s.Identity()] = true
	}
	for _, id := range []string{"a", "b", "c"} {
		if !seen[id] {
			t.Fatalf("snapshot missing %s", id)
		}
	}
}
