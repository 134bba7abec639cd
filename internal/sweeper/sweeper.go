// Package sweeper runs the periodic liveness sweep that marks silent sites
// DISCONNECTED.
package sweeper

import (
	"context"
	"log/slog"
	"time"
)

// DefaultInterval is how often the sweep runs when no interval is configured.
const DefaultInterval = 60 * time.Second

// LivenessSweeper is implemented by the orchestrator service.
type LivenessSweeper interface {
	SweepLiveness(ctx context.Context, now time.Time) (int64, error)
}

// Sweeper calls SweepLiveness on a fixed ticker.
type Sweeper struct {
	target   LivenessSweeper
	interval time.Duration
	log      *slog.Logger
	now      func() time.Time
}

// New creates a sweeper. A non-positive interval falls back to DefaultInterval.
func New(target LivenessSweeper, interval time.Duration, log *slog.Logger) *Sweeper {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if log == nil {
		log = slog.Default()
	}
	return &Sweeper{
		target:   target,
		interval: interval,
		log:      log,
		now:      time.Now,
	}
}

// Run blocks until ctx is cancelled. A failed sweep is logged and retried on
// the next tick.
func (s *Sweeper) Run(ctx context.Context) error {
	s.log.Info("liveness sweeper started", "interval", s.interval.String())

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.log.Info("liveness sweeper stopped")
			return ctx.Err()
		case <-ticker.C:
			s.sweepOnce(ctx)
		}
	}
}

func (s *Sweeper) sweepOnce(ctx context.Context) {
	n, err := s.target.SweepLiveness(ctx, s.now())
	if err != nil {
		if ctx.Err() == nil {
			s.log.Error("liveness sweep failed", "error", err)
		}
		return
	}
	if n > 0 {
		s.log.Info("disconnected stale sites", "count", n)
	}
}
