package tasks

import (
	"context"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/spotauth/internal/shared"
)

// DefaultSweepInterval is how often expired sessions are removed when no interval is configured.
const DefaultSweepInterval = time.Hour

// Sweeper periodically deletes expired sessions.
//
// The first sweep happens one interval after the loop starts.
type Sweeper struct {
	store    ExpiredSessionCleaner
	interval time.Duration
	logger   *log.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewSweeper creates a sweeper. Non-positive intervals fall back to [DefaultSweepInterval].
func NewSweeper(store ExpiredSessionCleaner, interval time.Duration, logger *log.Logger) *Sweeper {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Sweeper{
		store:    store,
		interval: interval,
		logger:   shared.WithLogger(logger, "component", "sweeper"),
	}
}

// Interval returns the time between sweeps.
func (s *Sweeper) Interval() time.Duration {
	return s.interval
}

// Sweep deletes expired sessions once and returns how many were removed.
func (s *Sweeper) Sweep(ctx context.Context) (int64, error) {
	removed, err := s.store.CleanupExpiredSessions(ctx)
	if err != nil {
		return 0, err
	}

	if removed > 0 {
		s.logger.Info("cleaned up expired sessions", "count", removed)
	} else {
		s.logger.Debug("no expired sessions")
	}
	return removed, nil
}

// Run sweeps every interval until ctx ends. Failures are logged and the schedule continues.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.Sweep(ctx); err != nil {
				s.logger.Error("failed to clean up expired sessions", "error", err)
			}
		}
	}
}

// Start runs the loop on its own goroutine. Calling Start on a running sweeper does nothing.
func (s *Sweeper) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	s.cancel, s.done = cancel, done

	go func() {
		defer close(done)
		s.Run(ctx)
	}()

	s.logger.Debug("sweeper started", "interval", s.interval)
}

// Stop cancels the loop and waits for it to exit. It is safe to call on a stopped sweeper.
func (s *Sweeper) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.mu.Unlock()

	if cancel == nil {
		return
	}

	cancel()
	<-done
	s.logger.Debug("sweeper stopped")
}
