// Package scheduler triggers the periodic broadcast job: a recurring timer
// at the configured schedule plus a one-shot initial-delay timer armed at
// start. Start and Stop are idempotent; a failed tick never stops the
// schedule.
package scheduler

import (
	"context"
	"runtime/debug"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"newsbot/pkg/logx"
)

// Job runs one broadcast tick.
type Job func(ctx context.Context) error

type Config struct {
	Enabled      bool
	Schedule     string
	InitialDelay time.Duration
}

type Service struct {
	mu  sync.Mutex
	cfg Config
	log logx.Logger
	job Job

	// non-nil while running
	runCancel context.CancelFunc
	c         *cron.Cron
	ticker    *time.Ticker
	initial   *time.Timer
	wg        sync.WaitGroup
}

func New(cfg Config, job Job, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{cfg: cfg, job: job, log: log}
}

func (s *Service) Enabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.Enabled
}

// Running reports whether timers are armed.
func (s *Service) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.runCancel != nil
}

// Start arms the recurring and initial-delay timers. Calling Start while
// running is a no-op: only one timer pair ever exists per service.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.runCancel != nil {
		s.log.Debug("start ignored; already running")
		return nil
	}

	spec, err := ParseSpec(s.cfg.Schedule)
	if err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(ctx)
	s.runCancel = cancel

	switch spec.Kind {
	case SpecInterval:
		s.ticker = time.NewTicker(spec.Every)
		ticker := s.ticker
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			for {
				select {
				case <-runCtx.Done():
					return
				case <-ticker.C:
					s.tick(runCtx)
				}
			}
		}()
		s.log.Info("broadcast schedule armed", logx.Duration("every", spec.Every))
	case SpecCron:
		c := cron.New()
		if _, err := c.AddFunc(spec.Cron, func() { s.tick(runCtx) }); err != nil {
			cancel()
			s.runCancel = nil
			return err
		}
		c.Start()
		s.c = c
		s.log.Info("broadcast schedule armed", logx.String("cron", spec.Cron))
	}

	if d := s.cfg.InitialDelay; d > 0 {
		s.initial = time.AfterFunc(d, func() {
			if runCtx.Err() != nil {
				return
			}
			s.log.Debug("initial broadcast firing", logx.Duration("delay", d))
			s.tick(runCtx)
		})
	}
	return nil
}

// Stop cancels both timers and returns the service to idle. Safe to call
// repeatedly and on a never-started service.
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	if s.runCancel == nil {
		s.mu.Unlock()
		return
	}
	s.runCancel()
	s.runCancel = nil
	if s.ticker != nil {
		s.ticker.Stop()
		s.ticker = nil
	}
	if s.initial != nil {
		s.initial.Stop()
		s.initial = nil
	}
	c := s.c
	s.c = nil
	s.mu.Unlock()

	if c != nil {
		select {
		case <-c.Stop().Done():
		case <-ctx.Done():
		}
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
	}
	s.log.Info("broadcast schedule stopped")
}

// Apply updates the config. When the schedule changes while running, the
// timers are re-armed; enabling/disabling is the caller's concern.
func (s *Service) Apply(ctx context.Context, cfg Config) {
	s.mu.Lock()
	changed := cfg.Schedule != s.cfg.Schedule || cfg.InitialDelay != s.cfg.InitialDelay
	running := s.runCancel != nil
	s.cfg = cfg
	s.mu.Unlock()

	if changed && running {
		s.Stop(ctx)
		if err := s.Start(ctx); err != nil {
			s.log.Warn("schedule re-arm failed", logx.Err(err))
		}
	}
}

// tick runs one job invocation. Panics and errors are contained so the
// schedule keeps firing.
func (s *Service) tick(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("panic in broadcast tick", logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
		}
	}()
	if err := s.job(ctx); err != nil {
		s.log.Warn("broadcast tick failed", logx.Err(err))
	}
}
