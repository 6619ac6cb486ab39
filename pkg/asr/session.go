package asr

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/harunnryd/roomscribe/pkg/audio"
	"github.com/harunnryd/roomscribe/pkg/errorsx"
)

const (
	defaultReadyTimeout     = 10 * time.Second
	defaultHandshakeTimeout = 5 * time.Second
	drainTimeout            = 2 * time.Second
)

// ResultFunc receives each deduplicated transcript batch. A returned
// error is logged and dropped; it never feeds back into the session.
type ResultFunc func(batch Batch) error

// Transcriber is the session surface the orchestration layer depends on.
type Transcriber interface {
	Identity() string
	Connect(ctx context.Context) error
	WaitReady(ctx context.Context) error
	SendAudio(samples []float32)
	Disconnect()
	State() State
	LastActivity() time.Time
}

// Config carries the per-session transcription parameters forwarded to
// the server in the initial config message.
type Config struct {
	URL                 string
	Language            string
	Model               string
	UseVAD              bool
	SendLastNSegments   int
	NoSpeechThresh      float64
	ClipAudio           bool
	SameOutputThreshold int
	EnableTranslation   bool
	TargetLanguage      string
	ReadyTimeout        time.Duration
	HandshakeTimeout    time.Duration
}

func (c *Config) applyDefaults() {
	if c.SendLastNSegments == 0 {
		c.SendLastNSegments = 10
	}
	if c.NoSpeechThresh == 0 {
		c.NoSpeechThresh = 0.45
	}
	if c.SameOutputThreshold == 0 {
		c.SameOutputThreshold = 10
	}
	if c.TargetLanguage == "" {
		c.TargetLanguage = "en"
	}
	if c.ReadyTimeout == 0 {
		c.ReadyTimeout = defaultReadyTimeout
	}
	if c.HandshakeTimeout == 0 {
		c.HandshakeTimeout = defaultHandshakeTimeout
	}
}

// Session is one websocket transcription stream for a single speaker.
// Control messages are JSON, audio is binary little-endian float32.
type Session struct {
	cfg      Config
	uid      string
	identity string
	logger   *slog.Logger
	onResult ResultFunc

	conn    *websocket.Conn
	writeMu sync.Mutex

	mu           sync.Mutex
	state        State
	backend      string
	waitMinutes  float64
	lastActivity time.Time
	lastSegText  string
	hasLastSeg   bool

	readyOnce sync.Once
	readyCh   chan struct{}
	closeOnce sync.Once
	done      chan struct{}
}

var _ Transcriber = (*Session)(nil)

// NewSession builds a session for one participant. Connect must be
// called before any audio is sent.
func NewSession(cfg Config, identity string, logger *slog.Logger, onResult ResultFunc) *Session {
	cfg.applyDefaults()
	uid := uuid.NewString()
	return &Session{
		cfg:      cfg,
		uid:      uid,
		identity: identity,
		logger:   logger.With("participant", identity, "session_uid", uid),
		onResult: onResult,
		state:    StateConnecting,
		readyCh:  make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Identity returns the participant this session transcribes.
func (s *Session) Identity() string { return s.identity }

// UID returns the session identifier used to correlate server messages.
func (s *Session) UID() string { return s.uid }

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Backend reports the server backend announced at readiness, if any.
func (s *Session) Backend() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.backend
}

// LastActivity returns the time the server last produced novel output.
func (s *Session) LastActivity() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActivity
}

// Connect dials the server and sends the session config message, then
// starts the receive loop. On failure the session ends up Closed.
func (s *Session) Connect(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: s.cfg.HandshakeTimeout}
	conn, _, err := dialer.DialContext(ctx, s.cfg.URL, nil)
	if err != nil {
		s.transition(StateClosed)
		close(s.done)
		return errorsx.Wrap(fmt.Errorf("dial %s: %w", s.cfg.URL, err), errorsx.ReasonASRConnect)
	}
	s.conn = conn

	msg := configMessage{
		UID:                 s.uid,
		Language:            s.cfg.Language,
		Task:                "transcribe",
		Model:               s.cfg.Model,
		UseVAD:              s.cfg.UseVAD,
		SendLastNSegments:   s.cfg.SendLastNSegments,
		NoSpeechThresh:      s.cfg.NoSpeechThresh,
		ClipAudio:           s.cfg.ClipAudio,
		SameOutputThreshold: s.cfg.SameOutputThreshold,
		EnableTranslation:   s.cfg.EnableTranslation,
		TargetLanguage:      s.cfg.TargetLanguage,
	}
	s.writeMu.Lock()
	err = conn.WriteJSON(msg)
	s.writeMu.Unlock()
	if err != nil {
		s.transition(StateClosed)
		_ = conn.Close()
		close(s.done)
		return errorsx.Wrap(fmt.Errorf("send session config: %w", err), errorsx.ReasonASRConnect)
	}

	s.transition(StateAwaitingReady)
	go s.receiveLoop()
	s.logger.Info("session connected", "url", s.cfg.URL, "model", s.cfg.Model)
	return nil
}

// WaitReady blocks until the server resolves the handshake or the ready
// timeout elapses. Only a Streaming outcome is success.
func (s *Session) WaitReady(ctx context.Context) error {
	timer := time.NewTimer(s.cfg.ReadyTimeout)
	defer timer.Stop()
	select {
	case <-s.readyCh:
	case <-timer.C:
		return errorsx.Wrap(errors.New("server did not respond before ready timeout"), errorsx.ReasonASRTimeout)
	case <-ctx.Done():
		return errorsx.Wrap(ctx.Err(), errorsx.ReasonASRTimeout)
	}

	s.mu.Lock()
	state, wait := s.state, s.waitMinutes
	s.mu.Unlock()
	switch state {
	case StateStreaming:
		return nil
	case StateWaiting:
		return errorsx.Wrap(fmt.Errorf("server at capacity, estimated wait %.0f minutes", wait), errorsx.ReasonASRCapacity)
	case StateErrored:
		return errorsx.Wrap(errors.New("server rejected the session"), errorsx.ReasonASRCapacity)
	default:
		return errorsx.Wrap(errors.New("connection closed before readiness"), errorsx.ReasonASRConnect)
	}
}

// SendAudio forwards one float32 chunk to the server. Frames sent while
// the session is not Streaming are dropped, and write failures are
// logged rather than returned; the receive loop notices the dead
// connection and closes the session.
func (s *Session) SendAudio(samples []float32) {
	if len(samples) == 0 || s.State() != StateStreaming {
		return
	}
	payload := audio.FloatsToBytes(samples)
	s.writeMu.Lock()
	err := s.conn.WriteMessage(websocket.BinaryMessage, payload)
	s.writeMu.Unlock()
	if err != nil {
		s.logger.Warn("audio write failed",
			"error", err,
			"reason_code", errorsx.ReasonASRSend)
	}
}

// Disconnect closes the connection exactly once and waits a bounded
// time for the receive loop to drain. Safe to call repeatedly and
// concurrently.
func (s *Session) Disconnect() {
	s.closeOnce.Do(func() {
		s.transition(StateClosed)
		s.signalReady()
		if s.conn != nil {
			deadline := time.Now().Add(time.Second)
			_ = s.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
			_ = s.conn.Close()
		}
		select {
		case <-s.done:
		case <-time.After(drainTimeout):
			s.logger.Warn("receive loop did not exit before drain timeout")
		}
		s.logger.Info("session closed")
	})
}

func (s *Session) receiveLoop() {
	defer close(s.done)
	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if s.State() != StateClosed {
				s.logger.Info("server connection ended", "error", err)
				s.transition(StateClosed)
				s.signalReady()
			}
			return
		}
		s.handleMessage(data)
	}
}

func (s *Session) handleMessage(data []byte) {
	var msg serverMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		s.logger.Warn("undecodable server message",
			"error", err,
			"reason_code", errorsx.ReasonASRParse)
		return
	}
	if msg.UID != s.uid {
		return
	}

	if msg.Status != "" {
		s.handleStatus(&msg)
		return
	}

	switch msg.messageText() {
	case sentinelServerReady:
		s.mu.Lock()
		s.backend = msg.Backend
		s.lastActivity = time.Now()
		s.mu.Unlock()
		s.transition(StateStreaming)
		s.signalReady()
		s.logger.Info("server ready", "backend", msg.Backend)
		return
	case sentinelDisconnect:
		s.logger.Info("server requested disconnect")
		s.signalReady()
		go s.Disconnect()
		return
	}

	if msg.Language != "" {
		s.logger.Info("language detected",
			"language", msg.Language,
			"probability", msg.LanguageProb)
		return
	}
	if len(msg.Segments) > 0 {
		s.processSegments(msg.Segments)
	}
}

func (s *Session) handleStatus(msg *serverMessage) {
	switch msg.Status {
	case statusWait:
		minutes := msg.messageNumber()
		s.mu.Lock()
		s.waitMinutes = minutes
		s.mu.Unlock()
		s.transition(StateWaiting)
		s.signalReady()
		s.logger.Warn("server at capacity",
			"estimated_wait_minutes", minutes,
			"reason_code", errorsx.ReasonASRCapacity)
	case statusError:
		s.transition(StateErrored)
		s.signalReady()
		s.logger.Error("server reported error",
			"message", msg.messageText(),
			"reason_code", errorsx.ReasonASRCapacity)
	case statusWarning:
		s.logger.Warn("server warning", "message", msg.messageText())
	default:
		s.logger.Warn("unknown server status", "status", msg.Status)
	}
}

func (s *Session) processSegments(segments []Segment) {
	last := segments[len(segments)-1].Text
	s.mu.Lock()
	if !s.hasLastSeg || s.lastSegText != last {
		s.hasLastSeg = true
		s.lastSegText = last
		s.lastActivity = time.Now()
	}
	s.mu.Unlock()

	batch := BuildBatch(segments)
	if batch.Text == "" || s.onResult == nil {
		return
	}
	s.deliver(batch)
}

// deliver hands a batch to the consumer. A failing or panicking consumer
// must not take down the receive loop.
func (s *Session) deliver(batch Batch) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("result consumer panicked",
				"panic", r,
				"reason_code", errorsx.ReasonASRCallback)
		}
	}()
	if err := s.onResult(batch); err != nil {
		s.logger.Error("result consumer failed",
			"error", err,
			"reason_code", errorsx.ReasonASRCallback)
	}
}

func (s *Session) transition(to State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == to {
		return
	}
	if !transitionValid(s.state, to) {
		s.logger.Debug("invalid state transition dropped",
			"from", s.state.String(), "to", to.String())
		return
	}
	s.logger.Debug("state transition", "from", s.state.String(), "to", to.String())
	s.state = to
}

func (s *Session) signalReady() {
	s.readyOnce.Do(func() { close(s.readyCh) })
}
