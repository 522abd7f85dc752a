package tasks

import (
	"context"
	"database/sql"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/spotauth/internal/repositories"
	"github.com/desertthunder/spotauth/internal/services"
	"github.com/desertthunder/spotauth/internal/shared"
)

func testLogger() *log.Logger {
	return shared.NewLogger(io.Discard)
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := shared.NewDatabase(":memory:")
	if err != nil {
		t.Fatalf("failed to create database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if err := shared.RunMigrations(db); err != nil {
		t.Fatalf("failed to run migrations: %v", err)
	}
	return db
}

func setupStore(t *testing.T) (*repositories.SessionStore, *fakeClock) {
	t.Helper()
	clock := newFakeClock()
	return repositories.NewSessionStore(setupTestDB(t)).WithClock(clock.Now), clock
}

// seedSession stores a session owned by a user derived from sessionID.
func seedSession(t *testing.T, store *repositories.SessionStore, sessionID, accessToken, refreshToken string, expiresIn int64) {
	t.Helper()
	ctx := context.Background()

	user, err := store.GetOrCreateUser(ctx, "spotify-"+sessionID, "Ada", "ada@example.com")
	if err != nil {
		t.Fatalf("failed to create user: %v", err)
	}
	if _, err := store.SaveSession(ctx, user.ID, sessionID, accessToken, refreshToken, expiresIn); err != nil {
		t.Fatalf("failed to save session: %v", err)
	}
}

// stubExchanger answers refresh grants from a map. When gate is set every call blocks until it
// is closed.
type stubExchanger struct {
	mu     sync.Mutex
	grants map[string]*services.TokenGrant
	err    error
	gate   chan struct{}

	codeCalls    atomic.Int64
	refreshCalls atomic.Int64
	started      chan struct{}
}

func newStubExchanger() *stubExchanger {
	return &stubExchanger{grants: make(map[string]*services.TokenGrant), started: make(chan struct{}, 64)}
}

func (s *stubExchanger) set(refreshToken string, grant *services.TokenGrant) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.grants[refreshToken] = grant
}

func (s *stubExchanger) fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}

func (s *stubExchanger) ExchangeCode(ctx context.Context, code string) (*services.TokenGrant, error) {
	s.codeCalls.Add(1)
	return nil, errors.New("unexpected code exchange")
}

func (s *stubExchanger) ExchangeRefreshToken(ctx context.Context, refreshToken string) (*services.TokenGrant, error) {
	s.refreshCalls.Add(1)
	s.started <- struct{}{}

	s.mu.Lock()
	gate, err, grant := s.gate, s.err, s.grants[refreshToken]
	s.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	if err != nil {
		return nil, err
	}
	if grant == nil {
		return nil, shared.ErrUpstreamRejected
	}
	copied := *grant
	return &copied, nil
}
