package tasks

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/desertthunder/spotauth/internal/repositories"
	"github.com/desertthunder/spotauth/internal/services"
	"github.com/desertthunder/spotauth/internal/shared"
)

func TestRefreshCoordinator(t *testing.T) {
	ctx := context.Background()

	newCoordinator := func(t *testing.T) (*RefreshCoordinator, *stubExchanger, *fakeClock, func(string, string, string, int64)) {
		t.Helper()
		store, clock := setupStore(t)
		exchanger := newStubExchanger()
		coordinator := NewRefreshCoordinator(store, exchanger, testLogger()).WithClock(clock.Now)
		seed := func(sid, at, rt string, expiresIn int64) { seedSession(t, store, sid, at, rt, expiresIn) }
		return coordinator, exchanger, clock, seed
	}

	t.Run("valid token is returned without upstream call", func(t *testing.T) {
		coordinator, exchanger, clock, seed := newCoordinator(t)
		seed("sid-1", "access-1", "refresh-1", 3600)
		clock.Advance(10 * time.Minute)

		token, err := coordinator.Refresh(ctx, "sid-1")
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}

		if token.Token != "access-1" {
			t.Errorf("expected access-1, got %s", token.Token)
		}
		if token.ExpiresIn != 3000 {
			t.Errorf("expected 3000 seconds left, got %d", token.ExpiresIn)
		}
		if token.Outcome != Cached {
			t.Errorf("expected cached outcome, got %s", token.Outcome)
		}
		if exchanger.refreshCalls.Load() != 0 {
			t.Errorf("expected no upstream call, got %d", exchanger.refreshCalls.Load())
		}
	})

	t.Run("valid token without refresh token is returned", func(t *testing.T) {
		coordinator, _, _, seed := newCoordinator(t)
		seed("sid-1", "access-1", "", 3600)

		token, err := coordinator.Refresh(ctx, "sid-1")
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if token.Token != "access-1" {
			t.Errorf("expected access-1, got %s", token.Token)
		}
	})

	t.Run("expired token is refreshed and stored", func(t *testing.T) {
		coordinator, exchanger, clock, seed := newCoordinator(t)
		seed("sid-1", "access-1", "refresh-1", 60)
		exchanger.set("refresh-1", &services.TokenGrant{AccessToken: "access-2", RefreshToken: "refresh-1", ExpiresIn: 3600})
		clock.Advance(2 * time.Minute)

		token, err := coordinator.Refresh(ctx, "sid-1")
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}

		if token.Token != "access-2" || token.ExpiresIn != 3600 || token.Outcome != Refreshed {
			t.Errorf("unexpected token %+v", token)
		}

		session, err := coordinator.store.GetSession(ctx, "sid-1")
		if err != nil {
			t.Fatalf("failed to load session: %v", err)
		}
		if session.AccessToken != "access-2" {
			t.Errorf("expected stored access-2, got %s", session.AccessToken)
		}
		if session.RefreshToken != "refresh-1" {
			t.Errorf("expected refresh token to be unchanged, got %s", session.RefreshToken)
		}
		if !session.ExpiresAt.Equal(clock.Now().Add(time.Hour)) {
			t.Errorf("expected expiry one hour out, got %v", session.ExpiresAt)
		}

		again, err := coordinator.Refresh(ctx, "sid-1")
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if again.Outcome != Cached || exchanger.refreshCalls.Load() != 1 {
			t.Errorf("expected second call to use the stored token, got %s after %d calls", again.Outcome, exchanger.refreshCalls.Load())
		}
	})

	t.Run("expiry boundary triggers refresh", func(t *testing.T) {
		coordinator, exchanger, clock, seed := newCoordinator(t)
		seed("sid-1", "access-1", "refresh-1", 60)
		exchanger.set("refresh-1", &services.TokenGrant{AccessToken: "access-2", RefreshToken: "refresh-1", ExpiresIn: 3600})
		clock.Advance(time.Minute)

		token, err := coordinator.Refresh(ctx, "sid-1")
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if token.Outcome != Refreshed {
			t.Errorf("expected a token expiring now to be refreshed, got %s", token.Outcome)
		}
	})

	t.Run("rotated refresh token is stored", func(t *testing.T) {
		coordinator, exchanger, clock, seed := newCoordinator(t)
		seed("sid-1", "access-1", "refresh-1", 60)
		exchanger.set("refresh-1", &services.TokenGrant{AccessToken: "access-2", RefreshToken: "refresh-2", ExpiresIn: 3600})
		clock.Advance(2 * time.Minute)

		if _, err := coordinator.Refresh(ctx, "sid-1"); err != nil {
			t.Fatalf("expected no error, got %v", err)
		}

		session, err := coordinator.store.GetSession(ctx, "sid-1")
		if err != nil {
			t.Fatalf("failed to load session: %v", err)
		}
		if session.RefreshToken != "refresh-2" {
			t.Errorf("expected rotated refresh token, got %s", session.RefreshToken)
		}
	})

	t.Run("failed refresh write leaves the session unchanged", func(t *testing.T) {
		store, clock := setupStore(t)
		seedSession(t, store, "sid-1", "access-1", "refresh-1", 60)
		exchanger := newStubExchanger()
		exchanger.set("refresh-1", &services.TokenGrant{AccessToken: "access-2", RefreshToken: "refresh-2", ExpiresIn: 3600})
		coordinator := NewRefreshCoordinator(&failingApplyStore{store}, exchanger, testLogger()).WithClock(clock.Now)
		clock.Advance(2 * time.Minute)

		if _, err := coordinator.Refresh(ctx, "sid-1"); !errors.Is(err, shared.ErrStorage) {
			t.Fatalf("expected ErrStorage, got %v", err)
		}

		session, err := store.GetSession(ctx, "sid-1")
		if err != nil {
			t.Fatalf("failed to load session: %v", err)
		}
		if session.AccessToken != "access-1" || session.RefreshToken != "refresh-1" {
			t.Errorf("expected untouched tokens, got %s / %s", session.AccessToken, session.RefreshToken)
		}
		if !session.Expired(clock.Now()) {
			t.Error("expected the stored token to remain expired")
		}
	})

	t.Run("refreshed token reports the granted lifetime", func(t *testing.T) {
		store := repositories.NewSessionStore(setupTestDB(t))
		seedSession(t, store, "sid-1", "access-1", "refresh-1", 0)
		exchanger := newStubExchanger()
		exchanger.set("refresh-1", &services.TokenGrant{AccessToken: "access-2", RefreshToken: "refresh-1", ExpiresIn: 3600})
		coordinator := NewRefreshCoordinator(store, exchanger, testLogger())
		time.Sleep(5 * time.Millisecond)

		token, err := coordinator.Refresh(ctx, "sid-1")
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if token.Outcome != Refreshed || token.ExpiresIn != 3600 {
			t.Errorf("expected a refreshed token with 3600 seconds, got %s with %d", token.Outcome, token.ExpiresIn)
		}
	})

	t.Run("missing session", func(t *testing.T) {
		coordinator, exchanger, _, _ := newCoordinator(t)

		_, err := coordinator.Refresh(ctx, "nope")
		if !errors.Is(err, shared.ErrSessionNotFound) {
			t.Errorf("expected ErrSessionNotFound, got %v", err)
		}
		if exchanger.refreshCalls.Load() != 0 {
			t.Error("expected no upstream call")
		}
	})

	t.Run("empty session id", func(t *testing.T) {
		coordinator, _, _, _ := newCoordinator(t)

		_, err := coordinator.Refresh(ctx, "")
		if !errors.Is(err, shared.ErrSessionNotFound) {
			t.Errorf("expected ErrSessionNotFound, got %v", err)
		}
	})

	t.Run("expired without refresh token requires reauthentication", func(t *testing.T) {
		coordinator, exchanger, clock, seed := newCoordinator(t)
		seed("sid-1", "access-1", "", 60)
		clock.Advance(2 * time.Minute)

		_, err := coordinator.Refresh(ctx, "sid-1")
		if !errors.Is(err, shared.ErrReauthenticationRequired) {
			t.Errorf("expected ErrReauthenticationRequired, got %v", err)
		}
		if exchanger.refreshCalls.Load() != 0 {
			t.Error("expected no upstream call")
		}
	})

	t.Run("rejected refresh token deletes session", func(t *testing.T) {
		coordinator, exchanger, clock, seed := newCoordinator(t)
		seed("sid-1", "access-1", "revoked", 60)
		clock.Advance(2 * time.Minute)

		_, err := coordinator.Refresh(ctx, "sid-1")
		if !errors.Is(err, shared.ErrReauthenticationRequired) {
			t.Fatalf("expected ErrReauthenticationRequired, got %v", err)
		}
		if exchanger.refreshCalls.Load() != 1 {
			t.Errorf("expected one upstream call, got %d", exchanger.refreshCalls.Load())
		}

		_, err = coordinator.store.GetSession(ctx, "sid-1")
		if !errors.Is(err, shared.ErrSessionNotFound) {
			t.Errorf("expected session to be deleted, got %v", err)
		}
	})

	t.Run("unavailable upstream keeps session", func(t *testing.T) {
		coordinator, exchanger, clock, seed := newCoordinator(t)
		seed("sid-1", "access-1", "refresh-1", 60)
		exchanger.fail(fmt.Errorf("%w: status 503", shared.ErrUpstreamUnavailable))
		clock.Advance(2 * time.Minute)

		_, err := coordinator.Refresh(ctx, "sid-1")
		if !errors.Is(err, shared.ErrUpstreamUnavailable) {
			t.Fatalf("expected ErrUpstreamUnavailable, got %v", err)
		}

		session, err := coordinator.store.GetSession(ctx, "sid-1")
		if err != nil {
			t.Fatalf("expected session to survive, got %v", err)
		}
		if session.AccessToken != "access-1" || session.RefreshToken != "refresh-1" {
			t.Errorf("expected session to be untouched, got %+v", session)
		}
	})

	t.Run("concurrent refreshes share one upstream call", func(t *testing.T) {
		coordinator, exchanger, clock, seed := newCoordinator(t)
		seed("sid-1", "access-1", "refresh-1", 60)
		exchanger.set("refresh-1", &services.TokenGrant{AccessToken: "access-2", RefreshToken: "refresh-1", ExpiresIn: 3600})
		exchanger.gate = make(chan struct{})
		clock.Advance(2 * time.Minute)

		const callers = 10
		var wg sync.WaitGroup
		tokens := make([]string, callers)
		errs := make([]error, callers)

		for i := range callers {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				token, err := coordinator.Refresh(ctx, "sid-1")
				errs[i] = err
				if token != nil {
					tokens[i] = token.Token
				}
			}(i)
		}

		<-exchanger.started
		time.Sleep(20 * time.Millisecond)
		close(exchanger.gate)
		wg.Wait()

		if got := exchanger.refreshCalls.Load(); got != 1 {
			t.Errorf("expected exactly one upstream call, got %d", got)
		}
		for i := range callers {
			if errs[i] != nil {
				t.Errorf("caller %d: unexpected error %v", i, errs[i])
			}
			if tokens[i] != "access-2" {
				t.Errorf("caller %d: expected access-2, got %q", i, tokens[i])
			}
		}
	})

	t.Run("different sessions refresh independently", func(t *testing.T) {
		coordinator, exchanger, clock, seed := newCoordinator(t)
		seed("sid-1", "access-1", "refresh-1", 60)
		seed("sid-2", "access-1b", "refresh-2", 60)
		exchanger.set("refresh-1", &services.TokenGrant{AccessToken: "access-2", ExpiresIn: 3600})
		exchanger.set("refresh-2", &services.TokenGrant{AccessToken: "access-2b", ExpiresIn: 3600})
		clock.Advance(2 * time.Minute)

		first, err := coordinator.Refresh(ctx, "sid-1")
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		second, err := coordinator.Refresh(ctx, "sid-2")
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}

		if first.Token != "access-2" || second.Token != "access-2b" {
			t.Errorf("unexpected tokens %q and %q", first.Token, second.Token)
		}
		if exchanger.refreshCalls.Load() != 2 {
			t.Errorf("expected two upstream calls, got %d", exchanger.refreshCalls.Load())
		}
	})

	t.Run("abandoned caller does not cancel the shared refresh", func(t *testing.T) {
		coordinator, exchanger, clock, seed := newCoordinator(t)
		seed("sid-1", "access-1", "refresh-1", 60)
		exchanger.set("refresh-1", &services.TokenGrant{AccessToken: "access-2", RefreshToken: "refresh-1", ExpiresIn: 3600})
		exchanger.gate = make(chan struct{})
		clock.Advance(2 * time.Minute)

		callerCtx, cancel := context.WithCancel(ctx)
		errc := make(chan error, 1)
		go func() {
			_, err := coordinator.Refresh(callerCtx, "sid-1")
			errc <- err
		}()

		<-exchanger.started
		cancel()
		if err := <-errc; !errors.Is(err, context.Canceled) {
			t.Fatalf("expected context.Canceled, got %v", err)
		}

		close(exchanger.gate)

		deadline := time.Now().Add(2 * time.Second)
		for {
			session, err := coordinator.store.GetSession(ctx, "sid-1")
			if err != nil {
				t.Fatalf("failed to load session: %v", err)
			}
			if session.AccessToken == "access-2" {
				break
			}
			if time.Now().After(deadline) {
				t.Fatal("shared refresh never completed")
			}
			time.Sleep(5 * time.Millisecond)
		}
	})

	t.Run("shared refresh is bounded by the coordinator timeout", func(t *testing.T) {
		coordinator, exchanger, clock, seed := newCoordinator(t)
		coordinator.WithTimeout(30 * time.Millisecond)
		seed("sid-1", "access-1", "refresh-1", 60)
		exchanger.gate = make(chan struct{})
		defer close(exchanger.gate)
		clock.Advance(2 * time.Minute)

		_, err := coordinator.Refresh(ctx, "sid-1")
		if !errors.Is(err, context.DeadlineExceeded) {
			t.Errorf("expected context.DeadlineExceeded, got %v", err)
		}
	})
}

func TestOutcomeString(t *testing.T) {
	tc := map[Outcome]string{
		Cached:        "cached",
		Refreshed:     "refreshed",
		Revoked:       "revoked",
		Unrefreshable: "unrefreshable",
		Failed:        "failed",
		Outcome(99):   "unknown",
	}

	for outcome, want := range tc {
		if got := outcome.String(); got != want {
			t.Errorf("Outcome(%d).String() = %q, want %q", int(outcome), got, want)
		}
	}
}

// failingApplyStore fails every refresh write the way a full disk would.
type failingApplyStore struct {
	*repositories.SessionStore
}

func (s *failingApplyStore) ApplyRefresh(ctx context.Context, sessionID, accessToken, refreshToken string, expiresIn int64) (int64, error) {
	return 0, fmt.Errorf("%w: failed to apply refresh: disk I/O error", shared.ErrStorage)
}
