// Package agent orchestrates per-speaker transcription: one streaming
// session per participant with an audio track, fed from the room bridge
// and publishing transcript events back to the room.
package agent

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/harunnryd/roomscribe/pkg/asr"
	"github.com/harunnryd/roomscribe/pkg/audio"
	"github.com/harunnryd/roomscribe/pkg/errorsx"
	"github.com/harunnryd/roomscribe/pkg/frames"
	"github.com/harunnryd/roomscribe/pkg/metrics"
	"github.com/harunnryd/roomscribe/pkg/recorder"
	"github.com/harunnryd/roomscribe/pkg/room"
	"github.com/harunnryd/roomscribe/pkg/transcript"
)

const (
	defaultStaleAfter    = 15 * time.Second
	defaultSweepInterval = 5 * time.Second
	publishTimeout       = 5 * time.Second
	stopDrainTimeout     = 10 * time.Second
)

// Config tunes the agent and the sessions it spawns. When
// AnnounceIdentity is set the agent publishes a ready announcement on
// the transcript topic after joining, so room clients can show that
// transcription is live.
type Config struct {
	Session       asr.Config
	ChunkSize     int
	StaleAfter    time.Duration
	SweepInterval time.Duration

	AnnounceIdentity string
	AnnounceName     string
}

func (c *Config) applyDefaults() {
	if c.ChunkSize <= 0 {
		c.ChunkSize = audio.DefaultChunkSize
	}
	if c.StaleAfter <= 0 {
		c.StaleAfter = defaultStaleAfter
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = defaultSweepInterval
	}
}

// SessionFactory builds a transcriber for one participant. Tests swap
// in fakes; production uses NewSessionFactory.
type SessionFactory func(identity string, onResult asr.ResultFunc) asr.Transcriber

// NewSessionFactory returns the production factory backed by real
// websocket sessions.
func NewSessionFactory(cfg asr.Config, logger *slog.Logger) SessionFactory {
	return func(identity string, onResult asr.ResultFunc) asr.Transcriber {
		return asr.NewSession(cfg, identity, logger, onResult)
	}
}

// Agent implements room.Handler. Each speaker gets an independent
// pipeline goroutine; a failure in one never touches the others.
type Agent struct {
	cfg        Config
	logger     *slog.Logger
	bridge     room.Bridge
	registry   *asr.Registry
	rec        *recorder.Recorder
	observer   metrics.Observer
	newSession SessionFactory

	ctx    context.Context
	cancel context.CancelFunc

	wg       sync.WaitGroup
	stopOnce sync.Once
}

func New(cfg Config, logger *slog.Logger, bridge room.Bridge, rec *recorder.Recorder, observer metrics.Observer, factory SessionFactory) *Agent {
	cfg.applyDefaults()
	if observer == nil {
		observer = metrics.NoopObserver{}
	}
	a := &Agent{
		cfg:      cfg,
		logger:   logger,
		bridge:   bridge,
		registry: asr.NewRegistry(),
		rec:      rec,
		observer: observer,
	}
	if factory == nil {
		factory = NewSessionFactory(cfg.Session, logger)
	}
	a.newSession = factory
	return a
}

// Start joins the room and begins transcribing. It returns once the
// room connection is up; pipelines run until Stop.
func (a *Agent) Start(ctx context.Context) error {
	a.ctx, a.cancel = context.WithCancel(context.Background())
	if err := a.bridge.Connect(ctx, a); err != nil {
		a.cancel()
		return err
	}
	a.wg.Add(1)
	go a.sweepLoop()
	a.announceReady()
	a.logger.Info("transcription agent ready",
		"stale_after", a.cfg.StaleAfter.String(),
		"chunk_size", a.cfg.ChunkSize)
	return nil
}

// announceReady posts a one-off transcript event telling the room the
// agent is live. Best effort: a failed publish is logged, not fatal.
func (a *Agent) announceReady() {
	if a.cfg.AnnounceIdentity == "" {
		return
	}
	ev := transcript.New(a.cfg.AnnounceIdentity, a.cfg.AnnounceName,
		"Transcription agent is ready", true)
	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()
	if err := a.bridge.Publish(ctx, ev); err != nil {
		a.logger.Warn("ready announcement failed",
			"error", err, "reason_code", errorsx.Reason(err))
	}
}

// Stop tears down the room connection, every live session, and the
// recorder, waiting a bounded time for pipelines to drain.
func (a *Agent) Stop() {
	a.stopOnce.Do(func() {
		if a.cancel != nil {
			a.cancel()
		}
		a.bridge.Disconnect()

		done := make(chan struct{})
		go func() {
			a.wg.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-time.After(stopDrainTimeout):
			a.logger.Warn("pipelines did not drain before stop timeout")
		}

		for _, s := range a.registry.Snapshot() {
			a.teardown(s.Identity())
		}
		if a.rec != nil {
			a.rec.Close()
		}
		a.logger.Info("transcription agent stopped")
	})
}

// ActiveSessions reports how many speakers are currently being
// transcribed.
func (a *Agent) ActiveSessions() int { return a.registry.Len() }

// OnSpeakerAudio starts a pipeline for the speaker's track.
func (a *Agent) OnSpeakerAudio(speaker room.Speaker, audioCh <-chan frames.AudioFrame) {
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		a.runSpeaker(speaker, audioCh)
	}()
}

// OnSpeakerGone closes the speaker's session if one is live. The
// pipeline goroutine notices the missing registration and stops
// forwarding immediately.
func (a *Agent) OnSpeakerGone(identity string) {
	a.teardown(identity)
}

func (a *Agent) runSpeaker(speaker room.Speaker, audioCh <-chan frames.AudioFrame) {
	logger := a.logger.With("participant", speaker.Identity)

	session := a.newSession(speaker.Identity, func(b asr.Batch) error {
		return a.publishBatch(speaker, b)
	})

	if err := a.registry.Add(session); err != nil {
		logger.Warn("speaker already has a session, ignoring track")
		drainAudio(audioCh)
		return
	}
	metrics.Count(a.observer, metrics.EventSessionStarted,
		map[string]string{"participant": speaker.Identity})

	if err := session.Connect(a.ctx); err != nil {
		logger.Error("session connect failed",
			"error", err, "reason_code", errorsx.Reason(err))
		metrics.Count(a.observer, metrics.EventSessionRejected, nil)
		a.teardown(speaker.Identity)
		drainAudio(audioCh)
		return
	}
	if err := session.WaitReady(a.ctx); err != nil {
		logger.Error("session not accepted",
			"error", err, "reason_code", errorsx.Reason(err))
		metrics.Count(a.observer, metrics.EventSessionRejected, nil)
		a.teardown(speaker.Identity)
		drainAudio(audioCh)
		return
	}
	logger.Info("transcribing speaker", "track_id", speaker.TrackID)

	buf := audio.NewChunkBuffer(a.cfg.ChunkSize)
	for frame := range audioCh {
		if !a.registry.Has(speaker.Identity) {
			frames.ReleaseAudioFrame(frame)
			continue
		}
		pcm := frame.RawPayload()
		if a.rec != nil {
			a.rec.Capture(speaker.Identity, pcm)
		}
		for _, chunk := range buf.Add(pcm) {
			session.SendAudio(audio.ToFloatSamples(chunk))
			metrics.Count(a.observer, metrics.EventAudioChunkSent, nil)
		}
		frames.ReleaseAudioFrame(frame)
	}

	// Track ended: push the partial tail so trailing speech is not lost.
	if tail := buf.Flush(); len(tail) > 0 && a.registry.Has(speaker.Identity) {
		session.SendAudio(audio.ToFloatSamples(tail))
	}
	if a.rec != nil {
		a.rec.Flush(speaker.Identity)
	}
	a.teardown(speaker.Identity)
	logger.Info("speaker pipeline finished")
}

// publishBatch republishes one transcript batch to the room.
func (a *Agent) publishBatch(speaker room.Speaker, b asr.Batch) error {
	metrics.Count(a.observer, metrics.EventBatchReceived,
		map[string]string{"participant": speaker.Identity})

	ev := transcript.New(speaker.Identity, speaker.Name, b.Text, b.Final)
	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()
	if err := a.bridge.Publish(ctx, ev); err != nil {
		metrics.Count(a.observer, metrics.EventTranscriptFailed, nil)
		return err
	}
	metrics.Count(a.observer, metrics.EventTranscriptSent, nil)
	return nil
}

// teardown removes the registration first so audio stops flowing, then
// closes the session.
func (a *Agent) teardown(identity string) {
	s, ok := a.registry.Remove(identity)
	if !ok {
		return
	}
	s.Disconnect()
	metrics.Count(a.observer, metrics.EventSessionClosed,
		map[string]string{"participant": identity})
}

// sweepLoop closes sessions whose server stopped producing output.
func (a *Agent) sweepLoop() {
	defer a.wg.Done()
	ticker := time.NewTicker(a.cfg.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-a.ctx.Done():
			return
		case <-ticker.C:
			for _, s := range a.registry.Snapshot() {
				if s.State() != asr.StateStreaming {
					continue
				}
				idle := time.Since(s.LastActivity())
				if idle > a.cfg.StaleAfter {
					a.logger.Warn("session stale, closing",
						"participant", s.Identity(),
						"idle", idle.String(),
						"reason_code", errorsx.ReasonASRStale)
					metrics.Count(a.observer, metrics.EventSessionStale,
						map[string]string{"participant": s.Identity()})
					a.teardown(s.Identity())
				}
			}
		}
	}
}

func drainAudio(ch <-chan frames.AudioFrame) {
	for f := range ch {
		frames.ReleaseAudioFrame(f)
	}
}
