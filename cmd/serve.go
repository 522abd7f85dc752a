package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/spotauth/internal/repositories"
	"github.com/desertthunder/spotauth/internal/server"
	"github.com/desertthunder/spotauth/internal/services"
	"github.com/desertthunder/spotauth/internal/tasks"
	"github.com/urfave/cli/v3"
)

// broker is the wired auth API.
type broker struct {
	handler http.Handler
	store   *repositories.SessionStore
	sweeper *tasks.Sweeper
}

// newBroker wires the store, provider client, coordinators and router over db.
func (r *Runner) newBroker(db *sql.DB) (*broker, error) {
	cfg := r.config

	spotify, err := services.NewSpotifyService(cfg.Credentials.Spotify, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create Spotify service: %w", err)
	}

	store := repositories.NewSessionStore(db)
	refresher := tasks.NewRefreshCoordinator(store, spotify, r.logger)
	if timeout := cfg.Credentials.Spotify.Timeout; timeout > 0 {
		refresher = refresher.WithTimeout(max(timeout+5*time.Second, tasks.DefaultRefreshTimeout))
	}

	handler := server.New(server.Options{
		Logins:       tasks.NewLoginFlow(store, spotify, spotify, r.logger),
		Refresher:    refresher,
		Sessions:     store,
		Authorizer:   spotify,
		Cookies:      server.NewCookieStore([]byte(cfg.Server.SessionSecret), cfg.Server.SessionMaxAge, cfg.Server.CookieSecure),
		CookieName:   cfg.Server.SessionName,
		CookieMaxAge: cfg.Server.SessionMaxAge,
		RateLimit:    cfg.Server.RateLimit,
		RateBurst:    cfg.Server.RateBurst,
		Logger:       r.logger,
	})

	return &broker{
		handler: handler,
		store:   store,
		sweeper: tasks.NewSweeper(store, cfg.Sweeper.Interval, r.logger),
	}, nil
}

// Serve runs the auth API until the context is cancelled or SIGINT/SIGTERM arrives.
func (r *Runner) Serve(ctx context.Context, cmd *cli.Command) error {
	if cmd.IsSet("port") {
		r.config.Server.Port = int(cmd.Int("port"))
	}
	if err := r.config.Validate(); err != nil {
		return err
	}

	_, db, err := r.openStore()
	if err != nil {
		return err
	}
	defer db.Close()

	b, err := r.newBroker(db)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	ln, err := net.Listen("tcp", r.config.Server.Addr())
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", r.config.Server.Addr(), err)
	}

	srv := &http.Server{
		Handler:           b.handler,
		ReadHeaderTimeout: 10 * time.Second,
		ErrorLog:          r.logger.StandardLog(log.StandardLogOptions{ForceLevel: log.ErrorLevel}),
	}

	b.sweeper.Start(ctx)
	defer b.sweeper.Stop()

	errc := make(chan error, 1)
	go func() { errc <- srv.Serve(ln) }()

	r.logger.Info("auth API listening", "addr", ln.Addr().String(), "sweep_interval", b.sweeper.Interval())

	var serveErr error
	select {
	case <-ctx.Done():
		r.logger.Info("shutting down")
	case err := <-errc:
		if !errors.Is(err, http.ErrServerClosed) {
			serveErr = fmt.Errorf("server failed: %w", err)
		}
	}

	timeout := r.config.Server.ShutdownTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		r.logger.Warn("graceful shutdown failed", "error", err)
	}

	return serveErr
}
