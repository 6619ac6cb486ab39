package asr

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/harunnryd/roomscribe/pkg/audio"
	"github.com/harunnryd/roomscribe/pkg/errorsx"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeServer accepts websocket sessions and records the config message
// and binary audio each one sends.
type fakeServer struct {
	srv    *httptest.Server
	connCh chan *serverConn
}

type serverConn struct {
	ws     *websocket.Conn
	cfg    configMessage
	binary chan []byte
}

func newFakeServer(t *testing.T) *fakeServer {
	t.Helper()
	fs := &fakeServer{connCh: make(chan *serverConn, 4)}
	upgrader := websocket.Upgrader{}
	fs.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		sc := &serverConn{ws: ws, binary: make(chan []byte, 16)}
		if err := ws.ReadJSON(&sc.cfg); err != nil {
			_ = ws.Close()
			return
		}
		fs.connCh <- sc
		go sc.readLoop()
	}))
	t.Cleanup(fs.srv.Close)
	return fs
}

func (fs *fakeServer) url() string {
	return "ws" + strings.TrimPrefix(fs.srv.URL, "http")
}

func (fs *fakeServer) accept(t *testing.T) *serverConn {
	t.Helper()
	select {
	case sc := <-fs.connCh:
		return sc
	case <-time.After(2 * time.Second):
		t.Fatalf("no session arrived at fake server")
		return nil
	}
}

func (sc *serverConn) readLoop() {
	for {
		mt, data, err := sc.ws.ReadMessage()
		if err != nil {
			close(sc.binary)
			return
		}
		if mt == websocket.BinaryMessage {
			sc.binary <- data
		}
	}
}

func (sc *serverConn) send(t *testing.T, msg map[string]any) {
	t.Helper()
	if err := sc.ws.WriteJSON(msg); err != nil {
		t.Fatalf("fake server write: %v", err)
	}
}

func (sc *serverConn) sendReady(t *testing.T) {
	sc.send(t, map[string]any{
		"uid":     sc.cfg.UID,
		"message": "SERVER_READY",
		"backend": "faster_whisper",
	})
}

func waitForState(t *testing.T, s *Session, want State) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if s.State() == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("session never reached %s, stuck at %s", want, s.State())
}

func startSession(t *testing.T, fs *fakeServer, cfg Config, onResult ResultFunc) (*Session, *serverConn) {
	t.Helper()
	cfg.URL = fs.url()
	if cfg.Model == "" {
		cfg.Model = "small"
	}
	s := NewSession(cfg, "alice", testLogger(), onResult)
	if err := s.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(s.Disconnect)
	return s, fs.accept(t)
}

func TestSessionHandshakeToStreaming(t *testing.T) {
	fs := newFakeServer(t)
	s, sc := startSession(t, fs, Config{Language: "en", UseVAD: true}, nil)

	if sc.cfg.UID != s.UID() {
		t.Fatalf("config uid %q != session uid %q", sc.cfg.UID, s.UID())
	}
	if sc.cfg.Task != "transcribe" {
		t.Fatalf("expected task transcribe, got %q", sc.cfg.Task)
	}
	if sc.cfg.SendLastNSegments != 10 || sc.cfg.SameOutputThreshold != 10 {
		t.Fatalf("segment defaults not applied: %+v", sc.cfg)
	}
	if sc.cfg.NoSpeechThresh != 0.45 {
		t.Fatalf("expected no_speech_thresh 0.45, got %f", sc.cfg.NoSpeechThresh)
	}
	if s.State() != StateAwaitingReady {
		t.Fatalf("expected awaiting_ready, got %s", s.State())
	}

	sc.sendReady(t)
	if err := s.WaitReady(context.Background()); err != nil {
		t.Fatalf("wait ready: %v", err)
	}
	if s.State() != StateStreaming {
		t.Fatalf("expected streaming, got %s", s.State())
	}
	if s.Backend() != "faster_whisper" {
		t.Fatalf("expected backend recorded, got %q", s.Backend())
	}
}

func TestSessionWaitStatusRejectsHandshake(t *testing.T) {
	fs := newFakeServer(t)
	s, sc := startSession(t, fs, Config{}, nil)

	sc.send(t, map[string]any{"uid": sc.cfg.UID, "status": "WAIT", "message": 2.5})
	err := s.WaitReady(context.Background())
	if err == nil {
		t.Fatalf("expected capacity rejection")
	}
	if !errorsx.HasReason(err, errorsx.ReasonASRCapacity) {
		t.Fatalf("expected capacity reason, got %v", err)
	}
	if s.State() != StateWaiting {
		t.Fatalf("expected waiting, got %s", s.State())
	}
}

func TestSessionErrorStatus(t *testing.T) {
	fs := newFakeServer(t)
	s, sc := startSession(t, fs, Config{}, nil)

	sc.send(t, map[string]any{"uid": sc.cfg.UID, "status": "ERROR", "message": "model load failed"})
	if err := s.WaitReady(context.Background()); err == nil {
		t.Fatalf("expected handshake failure")
	}
	if s.State() != StateErrored {
		t.Fatalf("expected errored, got %s", s.State())
	}
}

func TestSessionReadyTimeout(t *testing.T) {
	fs := newFakeServer(t)
	s, _ := startSession(t, fs, Config{ReadyTimeout: 50 * time.Millisecond}, nil)

	err := s.WaitReady(context.Background())
	if err == nil {
		t.Fatalf("expected timeout")
	}
	if !errorsx.HasReason(err, errorsx.ReasonASRTimeout) {
		t.Fatalf("expected timeout reason, got %v", err)
	}
}

func TestSessionDropsAudioBeforeReady(t *testing.T) {
	fs := newFakeServer(t)
	s, sc := startSession(t, fs, Config{}, nil)

	s.SendAudio([]float32{0.5, -0.5})

	sc.sendReady(t)
	if err := s.WaitReady(context.Background()); err != nil {
		t.Fatalf("wait ready: %v", err)
	}
	kept := []float32{0.25, -0.25}
	s.SendAudio(kept)

	select {
	case data := <-sc.binary:
		got := audio.BytesToFloats(data)
		if len(got) != 2 || got[0] != kept[0] || got[1] != kept[1] {
			t.Fatalf("server got unexpected samples %v", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("server never received audio")
	}
	select {
	case data := <-sc.binary:
		t.Fatalf("pre-ready audio leaked to server: %d bytes", len(data))
	case <-time.After(100 * time.Millisecond):
	}
}

func TestSessionDeliversBatches(t *testing.T) {
	fs := newFakeServer(t)
	batches := make(chan Batch, 8)
	s, sc := startSession(t, fs, Config{}, func(b Batch) error {
		batches <- b
		return nil
	})

	sc.sendReady(t)
	if err := s.WaitReady(context.Background()); err != nil {
		t.Fatalf("wait ready: %v", err)
	}

	// A message for another session must be ignored.
	sc.send(t, map[string]any{
		"uid":      "someone-else",
		"segments": []map[string]any{{"text": "stolen", "completed": true}},
	})
	sc.send(t, map[string]any{
		"uid": sc.cfg.UID,
		"segments": []map[string]any{
			{"text": "hello", "completed": true},
			{"text": "hello", "completed": true},
			{"text": "world", "completed": false},
		},
	})

	select {
	case b := <-batches:
		if b.Text != "hello world" {
			t.Fatalf("expected %q, got %q", "hello world", b.Text)
		}
		if b.Final {
			t.Fatalf("expected provisional batch")
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("no batch delivered")
	}
	select {
	case b := <-batches:
		t.Fatalf("unexpected extra batch %q", b.Text)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestSessionActivityOnlyOnNovelOutput(t *testing.T) {
	fs := newFakeServer(t)
	batches := make(chan Batch, 8)
	s, sc := startSession(t, fs, Config{}, func(b Batch) error {
		batches <- b
		return nil
	})
	sc.sendReady(t)
	if err := s.WaitReady(context.Background()); err != nil {
		t.Fatalf("wait ready: %v", err)
	}

	segs := []map[string]any{{"text": "hello", "completed": false}}
	sc.send(t, map[string]any{"uid": sc.cfg.UID, "segments": segs})
	<-batches
	first := s.LastActivity()

	time.Sleep(20 * time.Millisecond)
	sc.send(t, map[string]any{"uid": sc.cfg.UID, "segments": segs})
	<-batches
	if got := s.LastActivity(); !got.Equal(first) {
		t.Fatalf("identical output must not refresh activity: %v -> %v", first, got)
	}

	sc.send(t, map[string]any{"uid": sc.cfg.UID, "segments": []map[string]any{
		{"text": "hello there", "completed": false},
	}})
	<-batches
	if got := s.LastActivity(); !got.After(first) {
		t.Fatalf("novel output must refresh activity")
	}
}

func TestSessionCallbackFailureDoesNotStopLoop(t *testing.T) {
	fs := newFakeServer(t)
	batches := make(chan Batch, 8)
	calls := 0
	s, sc := startSession(t, fs, Config{}, func(b Batch) error {
		calls++
		if calls == 1 {
			panic("consumer exploded")
		}
		batches <- b
		return nil
	})
	sc.sendReady(t)
	if err := s.WaitReady(context.Background()); err != nil {
		t.Fatalf("wait ready: %v", err)
	}

	sc.send(t, map[string]any{"uid": sc.cfg.UID, "segments": []map[string]any{{"text": "boom"}}})
	sc.send(t, map[string]any{"uid": sc.cfg.UID, "segments": []map[string]any{{"text": "still alive"}}})

	select {
	case b := <-batches:
		if b.Text != "still alive" {
			t.Fatalf("expected second batch, got %q", b.Text)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("receive loop died after consumer panic")
	}
}

func TestSessionServerDisconnectDirective(t *testing.T) {
	fs := newFakeServer(t)
	s, sc := startSession(t, fs, Config{}, nil)
	sc.sendReady(t)
	if err := s.WaitReady(context.Background()); err != nil {
		t.Fatalf("wait ready: %v", err)
	}

	sc.send(t, map[string]any{"uid": sc.cfg.UID, "message": "DISCONNECT"})
	waitForState(t, s, StateClosed)
}

func TestSessionDisconnectIdempotent(t *testing.T) {
	fs := newFakeServer(t)
	s, sc := startSession(t, fs, Config{}, nil)
	sc.sendReady(t)
	if err := s.WaitReady(context.Background()); err != nil {
		t.Fatalf("wait ready: %v", err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.Disconnect()
		}()
	}
	wg.Wait()
	if s.State() != StateClosed {
		t.Fatalf("expected closed, got %s", s.State())
	}
	// Audio after close is silently dropped.
	s.SendAudio([]float32{0.1})
}

func TestSessionDialFailure(t *testing.T) {
	s := NewSession(Config{URL: "ws://127.0.0.1:1", HandshakeTimeout: 200 * time.Millisecond},
		"alice", testLogger(), nil)
	err := s.Connect(context.Background())
	if err == nil {
		t.Fatalf("expected dial failure")
	}
	if !errorsx.HasReason(err, errorsx.ReasonASRConnect) {
		t.Fatalf("expected connect reason, got %v", err)
	}
	if s.State() != StateClosed {
		t.Fatalf("expected closed after failed dial, got %s", s.State())
	}
	s.Disconnect()
}

func TestTwoSessionsAreIndependent(t *testing.T) {
	fs := newFakeServer(t)

	aliceBatches := make(chan Batch, 4)
	alice := NewSession(Config{URL: fs.url(), Model: "small"}, "alice", testLogger(), func(b Batch) error {
		aliceBatches <- b
		return nil
	})
	if err := alice.Connect(context.Background()); err != nil {
		t.Fatalf("alice connect: %v", err)
	}
	t.Cleanup(alice.Disconnect)
	aliceConn := fs.accept(t)

	bobBatches := make(chan Batch, 4)
	bob := NewSession(Config{URL: fs.url(), Model: "small"}, "bob", testLogger(), func(b Batch) error {
		bobBatches <- b
		return nil
	})
	if err := bob.Connect(context.Background()); err != nil {
		t.Fatalf("bob connect: %v", err)
	}
	t.Cleanup(bob.Disconnect)
	bobConn := fs.accept(t)

	if aliceConn.cfg.UID == bobConn.cfg.UID {
		t.Fatalf("sessions must not share a uid")
	}

	aliceConn.sendReady(t)
	bobConn.sendReady(t)
	if err := alice.WaitReady(context.Background()); err != nil {
		t.Fatalf("alice ready: %v", err)
	}
	if err := bob.WaitReady(context.Background()); err != nil {
		t.Fatalf("bob ready: %v", err)
	}

	bobConn.send(t, map[string]any{"uid": bobConn.cfg.UID, "segments": []map[string]any{
		{"text": "bob speaking", "completed": true},
	}})
	select {
	case b := <-bobBatches:
		if b.Text != "bob speaking" {
			t.Fatalf("bob got %q", b.Text)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("bob never got his batch")
	}
	select {
	case b := <-aliceBatches:
		t.Fatalf("alice received bob's batch %q", b.Text)
	case <-time.After(100 * time.Millisecond):
	}

	bob.Disconnect()
	if alice.State() != StateStreaming {
		t.Fatalf("closing bob must not disturb alice, state %s", alice.State())
	}
}
