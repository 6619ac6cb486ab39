package room

import (
	"context"
	"sync"

	"github.com/harunnryd/roomscribe/pkg/frames"
	"github.com/harunnryd/roomscribe/pkg/transcript"
)

// MockBridge is an in-memory Bridge for tests. Speakers are injected by
// the test, and published transcripts are recorded instead of sent.
type MockBridge struct {
	mu        sync.Mutex
	handler   Handler
	current   map[string]*mockTrack
	all       []*mockTrack
	published []transcript.Event

	PublishErr error
}

type mockTrack struct {
	ch     chan frames.AudioFrame
	closed bool
}

var _ Bridge = (*MockBridge)(nil)

func NewMockBridge() *MockBridge {
	return &MockBridge{current: make(map[string]*mockTrack)}
}

func (m *MockBridge) Connect(ctx context.Context, h Handler) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handler = h
	return nil
}

func (m *MockBridge) Publish(ctx context.Context, ev transcript.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.PublishErr != nil {
		return m.PublishErr
	}
	m.published = append(m.published, ev)
	return nil
}

// Disconnect ends every track ever started, including ones displaced by
// a duplicate AddSpeaker.
func (m *MockBridge) Disconnect() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, tr := range m.all {
		if !tr.closed {
			tr.closed = true
			close(tr.ch)
		}
	}
	m.current = make(map[string]*mockTrack)
}

// AddSpeaker starts a speaker track and returns the channel the test
// writes audio frames to.
func (m *MockBridge) AddSpeaker(speaker Speaker) chan<- frames.AudioFrame {
	tr := &mockTrack{ch: make(chan frames.AudioFrame, 64)}
	m.mu.Lock()
	m.current[speaker.Identity] = tr
	m.all = append(m.all, tr)
	h := m.handler
	m.mu.Unlock()
	if h != nil {
		h.OnSpeakerAudio(speaker, tr.ch)
	}
	return tr.ch
}

// EndSpeaker closes the speaker's audio channel, as a finished track
// would.
func (m *MockBridge) EndSpeaker(identity string) {
	m.mu.Lock()
	tr, ok := m.current[identity]
	if ok {
		delete(m.current, identity)
		if !tr.closed {
			tr.closed = true
			close(tr.ch)
		}
	}
	m.mu.Unlock()
}

// SpeakerGone signals a participant departure to the handler.
func (m *MockBridge) SpeakerGone(identity string) {
	m.mu.Lock()
	h := m.handler
	m.mu.Unlock()
	if h != nil {
		h.OnSpeakerGone(identity)
	}
}

// Published returns a copy of everything sent through Publish.
func (m *MockBridge) Published() []transcript.Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]transcript.Event(nil), m.published...)
}
