// Package recorder captures per-speaker room audio to rolling WAV files
// for offline inspection. It is a debug aid: every failure is logged and
// swallowed so recording can never disturb live transcription.
package recorder

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/harunnryd/roomscribe/pkg/audio"
)

const (
	defaultRollInterval = 5 * time.Minute

	// Cap per-participant buffering at ten minutes of 16kHz mono audio
	// in case the roll interval is set absurdly high.
	maxBufferedSamples = 16000 * 600
)

// Config controls what gets recorded and where.
type Config struct {
	Enabled      bool
	Dir          string
	RollInterval time.Duration
	SampleRate   int
	// Participants restricts capture to the listed identities. Empty
	// means record everyone.
	Participants []string
}

// Recorder accumulates PCM per participant and writes a complete WAV
// file every roll interval and on shutdown.
type Recorder struct {
	cfg    Config
	logger *slog.Logger
	filter map[string]struct{}

	mu     sync.Mutex
	parts  map[string]*capture
	closed bool
}

type capture struct {
	samples  []int16
	openedAt time.Time
	seq      int
}

func New(cfg Config, logger *slog.Logger) *Recorder {
	if cfg.RollInterval <= 0 {
		cfg.RollInterval = defaultRollInterval
	}
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = 16000
	}
	r := &Recorder{
		cfg:    cfg,
		logger: logger,
		parts:  make(map[string]*capture),
	}
	if len(cfg.Participants) > 0 {
		r.filter = make(map[string]struct{}, len(cfg.Participants))
		for _, p := range cfg.Participants {
			r.filter[p] = struct{}{}
		}
	}
	if cfg.Enabled {
		if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
			logger.Error("cannot create recording dir", "dir", cfg.Dir, "error", err)
			r.cfg.Enabled = false
		}
	}
	return r
}

// Enabled reports whether the recorder will capture anything.
func (r *Recorder) Enabled() bool { return r.cfg.Enabled }

// Capture appends one chunk of 16-bit little-endian PCM for a
// participant, rolling the file when the interval elapses.
func (r *Recorder) Capture(identity string, pcm []byte) {
	if !r.cfg.Enabled || len(pcm) == 0 {
		return
	}
	if r.filter != nil {
		if _, ok := r.filter[identity]; !ok {
			return
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	c, ok := r.parts[identity]
	if !ok {
		c = &capture{openedAt: time.Now()}
		r.parts[identity] = c
	}
	c.samples = append(c.samples, audio.BytesToPCM16(pcm)...)

	if time.Since(c.openedAt) >= r.cfg.RollInterval || len(c.samples) >= maxBufferedSamples {
		r.rollLocked(identity, c)
	}
}

// Flush writes the participant's pending audio out immediately. Called
// when a speaker's session ends.
func (r *Recorder) Flush(identity string) {
	if !r.cfg.Enabled {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.parts[identity]; ok {
		r.rollLocked(identity, c)
		delete(r.parts, identity)
	}
}

// Close flushes every pending capture.
func (r *Recorder) Close() {
	if !r.cfg.Enabled {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	r.closed = true
	for identity, c := range r.parts {
		r.rollLocked(identity, c)
		delete(r.parts, identity)
	}
}

func (r *Recorder) rollLocked(identity string, c *capture) {
	if len(c.samples) == 0 {
		c.openedAt = time.Now()
		return
	}
	body, err := audio.EncodeWAV(c.samples, r.cfg.SampleRate)
	if err != nil {
		r.logger.Error("wav encode failed", "participant", identity, "error", err)
	} else {
		name := fmt.Sprintf("%s-%03d-%d.wav", identity, c.seq, c.openedAt.Unix())
		path := filepath.Join(r.cfg.Dir, name)
		if err := os.WriteFile(path, body, 0o644); err != nil {
			r.logger.Error("wav write failed", "path", path, "error", err)
		} else {
			r.logger.Debug("recording rolled",
				"participant", identity,
				"path", path,
				"samples", len(c.samples))
		}
	}
	c.samples = c.samples[:0]
	c.openedAt = time.Now()
	c.seq++
}
