package sessions

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

const (
	DefaultSweepSchedule = "@every 1h"
	DefaultTTL           = 24 * time.Hour
)

// Cleaner is what the sweeper drives. *Registry satisfies it.
type Cleaner interface {
	CleanupExpired(ctx context.Context, ttl time.Duration) ([]string, error)
}

// SweepRecorder receives sweep outcomes. *metrics.Metrics satisfies it.
type SweepRecorder interface {
	Sweep(result string)
	SessionKilled(cause string)
}

// Sweeper runs CleanupExpired on a cron schedule. A failed or panicking
// run is logged and the next run still happens.
type Sweeper struct {
	cleaner  Cleaner
	ttl      time.Duration
	schedule string
	timeout  time.Duration
	log      *slog.Logger
	rec      SweepRecorder

	cron *cron.Cron
}

type SweeperConfig struct {
	Schedule string
	TTL      time.Duration
	// Timeout bounds one run. Zero means one minute.
	Timeout time.Duration
}

func NewSweeper(c Cleaner, cfg SweeperConfig, log *slog.Logger, rec SweepRecorder) (*Sweeper, error) {
	if log == nil {
		log = slog.Default()
	}
	if cfg.Schedule == "" {
		cfg.Schedule = DefaultSweepSchedule
	}
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = time.Minute
	}

	s := &Sweeper{
		cleaner:  c,
		ttl:      cfg.TTL,
		schedule: cfg.Schedule,
		timeout:  cfg.Timeout,
		log:      log,
		rec:      rec,
	}

	cl := cronLogger{log: log}
	s.cron = cron.New(
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)
	if _, err := s.cron.AddFunc(cfg.Schedule, func() { s.RunOnce(context.Background()) }); err != nil {
		return nil, fmt.Errorf("sessions: sweep schedule %q: %w", cfg.Schedule, err)
	}
	return s, nil
}

// Start schedules sweeps in the background.
func (s *Sweeper) Start() {
	s.log.Info("sessions.sweep.start", "schedule", s.schedule, "ttl", s.ttl.String())
	s.cron.Start()
}

// Stop prevents further runs and waits for a running sweep or ctx.
func (s *Sweeper) Stop(ctx context.Context) {
	done := s.cron.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
	}
}

// RunOnce performs one sweep and never returns an error; the outcome is
// logged instead.
func (s *Sweeper) RunOnce(ctx context.Context) []string {
	defer func() {
		if rv := recover(); rv != nil {
			s.log.Error("sessions.sweep.panic", "panic", fmt.Sprint(rv))
			s.record("panic")
		}
	}()

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	removed, err := s.cleaner.CleanupExpired(ctx, s.ttl)
	if err != nil {
		s.log.Error("sessions.sweep.fail", "err", err, "removed", len(removed))
		s.record("error")
		return removed
	}
	for range removed {
		if s.rec != nil {
			s.rec.SessionKilled("expired")
		}
	}
	if len(removed) > 0 {
		s.log.Info("sessions.sweep.done", "removed", removed)
	} else {
		s.log.Debug("sessions.sweep.done", "removed", 0)
	}
	s.record("ok")
	return removed
}

func (s *Sweeper) record(result string) {
	if s.rec != nil {
		s.rec.Sweep(result)
	}
}

// cronLogger adapts slog to cron.Logger.
type cronLogger struct{ log *slog.Logger }

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.log.Debug("cron."+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.log.Error("cron."+msg, append(keysAndValues, "err", err)...)
}
