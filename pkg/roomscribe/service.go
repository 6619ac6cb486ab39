// Package roomscribe wires the room bridge, the transcription agent,
// the recorder, and observability into one runnable service.
package roomscribe

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/harunnryd/roomscribe/pkg/agent"
	"github.com/harunnryd/roomscribe/pkg/logging"
	"github.com/harunnryd/roomscribe/pkg/metrics"
	"github.com/harunnryd/roomscribe/pkg/recorder"
	"github.com/harunnryd/roomscribe/pkg/room"
	"github.com/harunnryd/roomscribe/pkg/runner"
)

type Service struct {
	cfg    Config
	logger *slog.Logger

	bridge room.Bridge
	agent  *agent.Agent
	rec    *recorder.Recorder

	observer    metrics.Observer
	asyncObs    *metrics.AsyncObserver
	metricsFile *os.File

	statsCancel context.CancelFunc
	wg          sync.WaitGroup
}

// NewService builds the full pipeline from config. The bridge can be
// overridden for tests via WithBridge before Run.
func NewService(cfg Config, logger *slog.Logger) (*Service, error) {
	s := &Service{cfg: cfg, logger: logger}

	s.observer = metrics.NoopObserver{}
	if cfg.Observability.MetricsPath != "" {
		f, err := os.OpenFile(cfg.Observability.MetricsPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, fmt.Errorf("open metrics file: %w", err)
		}
		s.metricsFile = f
		s.asyncObs = metrics.NewAsyncObserver(metrics.NewJSONLObserver(f), cfg.Observability.MetricsBuffer)
		s.observer = s.asyncObs
	}

	s.rec = recorder.New(cfg.RecorderConfig(), logging.NewComponentLogger(logger, "recorder"))
	s.bridge = room.NewLiveKitBridge(cfg.RoomConfig(), logging.NewComponentLogger(logger, "room"))

	agentCfg, err := cfg.AgentConfig()
	if err != nil {
		return nil, err
	}
	s.agent = agent.New(agentCfg, logging.NewComponentLogger(logger, "agent"),
		s.bridge, s.rec, s.observer, nil)
	return s, nil
}

// WithBridge swaps the room transport. Must be called before Run.
func (s *Service) WithBridge(b room.Bridge) {
	s.bridge = b
	agentCfg, _ := s.cfg.AgentConfig()
	s.agent = agent.New(agentCfg, s.logger, b, s.rec, s.observer, nil)
}

// Run joins the room and blocks until ctx is cancelled, then drains.
func (s *Service) Run(ctx context.Context) error {
	if err := s.agent.Start(ctx); err != nil {
		return err
	}

	statsCtx, cancel := context.WithCancel(context.Background())
	s.statsCancel = cancel
	s.wg.Add(1)
	go s.statsLoop(statsCtx)

	r := runner.NewLifecycleRunner(s, runner.Hooks{
		OnStart: func() {
			s.logger.Info("roomscribe running",
				"room", s.cfg.Room.Name,
				"asr_url", s.cfg.ASR.URL,
				"environment", s.cfg.Environment)
		},
		OnStop: func() {
			s.logger.Info("roomscribe stopped")
		},
	}, msDuration(s.cfg.DrainTimeout))
	return r.Run(ctx)
}

// Drain implements runner.Drainer.
func (s *Service) Drain() error {
	if s.statsCancel != nil {
		s.statsCancel()
	}
	s.agent.Stop()
	s.wg.Wait()
	if s.asyncObs != nil {
		s.asyncObs.Close()
	}
	if s.metricsFile != nil {
		_ = s.metricsFile.Close()
	}
	return nil
}

// statsLoop periodically logs pipeline health.
func (s *Service) statsLoop(ctx context.Context) {
	defer s.wg.Done()
	interval := msDuration(s.cfg.Observability.StatsInterval)
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			attrs := []any{"active_sessions", s.agent.ActiveSessions()}
			if s.asyncObs != nil {
				attrs = append(attrs, "metrics_dropped", s.asyncObs.Dropped())
			}
			s.logger.Info("pipeline stats", attrs...)
		}
	}
}
