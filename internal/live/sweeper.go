package live

import (
	"context"
	"log/slog"
	"time"
)

// Sweeper periodically releases sessions nobody has sent an intent to
// within the idle timeout.
type Sweeper struct {
	svc      *Service
	idle     time.Duration
	interval time.Duration
	log      *slog.Logger
	now      func() time.Time
}

// NewSweeper returns a sweeper for svc. A non-positive idle timeout
// disables sweeping.
func NewSweeper(svc *Service, idle, interval time.Duration, log *slog.Logger) *Sweeper {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Sweeper{svc: svc, idle: idle, interval: interval, log: log, now: time.Now}
}

// Run blocks until ctx is cancelled. It always returns nil so it can run
// inside an errgroup next to the HTTP server.
func (s *Sweeper) Run(ctx context.Context) error {
	if s.idle <= 0 {
		s.log.Info("session sweeper disabled")
		<-ctx.Done()
		return nil
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s.SweepOnce()
		}
	}
}

// SweepOnce releases idle sessions and returns how many were released.
func (s *Sweeper) SweepOnce() int {
	n := s.svc.ReleaseIdle(s.now(), s.idle)
	if n > 0 {
		s.log.Info("idle sessions released",
			slog.Int("released", n),
			slog.Int("active", s.svc.ActiveSessionCount()))
	}
	return n
}
