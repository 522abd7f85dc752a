package tasks

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/desertthunder/spotauth/internal/shared"
)

type stubCleaner struct {
	calls    atomic.Int64
	failures int64 // number of leading calls that fail
	removed  int64
}

func (c *stubCleaner) CleanupExpiredSessions(ctx context.Context) (int64, error) {
	n := c.calls.Add(1)
	if n <= c.failures {
		return 0, fmt.Errorf("%w: database is locked", shared.ErrStorage)
	}
	return c.removed, nil
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met before deadline")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestSweeper(t *testing.T) {
	t.Run("Sweep removes expired sessions only", func(t *testing.T) {
		ctx := context.Background()
		store, clock := setupStore(t)
		seedSession(t, store, "short", "access-1", "refresh-1", 60)
		seedSession(t, store, "long", "access-2", "refresh-2", 3600)
		clock.Advance(2 * time.Minute)

		sweeper := NewSweeper(store, time.Hour, testLogger())
		removed, err := sweeper.Sweep(ctx)
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if removed != 1 {
			t.Errorf("expected 1 removed, got %d", removed)
		}

		if _, err := store.GetSession(ctx, "short"); !errors.Is(err, shared.ErrSessionNotFound) {
			t.Errorf("expected expired session to be gone, got %v", err)
		}
		if _, err := store.GetSession(ctx, "long"); err != nil {
			t.Errorf("expected live session to remain, got %v", err)
		}
	})

	t.Run("Sweep surfaces storage errors", func(t *testing.T) {
		sweeper := NewSweeper(&stubCleaner{failures: 1}, time.Hour, testLogger())

		_, err := sweeper.Sweep(context.Background())
		if !errors.Is(err, shared.ErrStorage) {
			t.Errorf("expected ErrStorage, got %v", err)
		}
	})

	t.Run("default interval", func(t *testing.T) {
		sweeper := NewSweeper(&stubCleaner{}, 0, testLogger())
		if sweeper.Interval() != DefaultSweepInterval {
			t.Errorf("expected %v, got %v", DefaultSweepInterval, sweeper.Interval())
		}
	})

	t.Run("Run continues after failures", func(t *testing.T) {
		cleaner := &stubCleaner{failures: 2, removed: 3}
		sweeper := NewSweeper(cleaner, 5*time.Millisecond, testLogger())

		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan struct{})
		go func() {
			defer close(done)
			sweeper.Run(ctx)
		}()

		waitFor(t, func() bool { return cleaner.calls.Load() >= 4 })
		cancel()

		select {
		case <-done:
		case <-time.After(time.Second):
			t.Fatal("Run did not return after cancel")
		}
	})

	t.Run("Start and Stop", func(t *testing.T) {
		cleaner := &stubCleaner{}
		sweeper := NewSweeper(cleaner, 5*time.Millisecond, testLogger())

		sweeper.Start(context.Background())
		sweeper.Start(context.Background())
		waitFor(t, func() bool { return cleaner.calls.Load() >= 2 })

		sweeper.Stop()
		after := cleaner.calls.Load()
		time.Sleep(30 * time.Millisecond)
		if got := cleaner.calls.Load(); got != after {
			t.Errorf("expected no sweeps after Stop, got %d more", got-after)
		}

		sweeper.Stop()
	})

	t.Run("no sweep before the first interval", func(t *testing.T) {
		cleaner := &stubCleaner{}
		sweeper := NewSweeper(cleaner, time.Hour, testLogger())

		sweeper.Start(context.Background())
		time.Sleep(20 * time.Millisecond)
		sweeper.Stop()

		if cleaner.calls.Load() != 0 {
			t.Errorf("expected no sweeps, got %d", cleaner.calls.Load())
		}
	})
}
