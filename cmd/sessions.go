package main

import (
	"context"
	"fmt"

	"github.com/desertthunder/spotauth/internal/tasks"
	"github.com/urfave/cli/v3"
)

// SessionsCleanup runs a single expiry sweep.
func (r *Runner) SessionsCleanup(ctx context.Context, cmd *cli.Command) error {
	store, db, err := r.openStore()
	if err != nil {
		return err
	}
	defer db.Close()

	removed, err := tasks.NewSweeper(store, r.config.Sweeper.Interval, r.logger).Sweep(ctx)
	if err != nil {
		return err
	}

	return r.writePlain("%s\n", r.palette.OK(fmt.Sprintf("Removed %d expired session(s)", removed)))
}

// SessionsStats prints user and session counts.
func (r *Runner) SessionsStats(ctx context.Context, cmd *cli.Command) error {
	store, db, err := r.openStore()
	if err != nil {
		return err
	}
	defer db.Close()

	stats, err := store.Stats(ctx)
	if err != nil {
		return err
	}

	if cmd.Bool("json") {
		return r.writeJSON(stats, true)
	}

	return r.writePlain("%s\n", r.palette.Table("Session store", [][2]string{
		{"Users", fmt.Sprint(stats.Users)},
		{"Sessions", fmt.Sprint(stats.Sessions)},
		{"Expired", fmt.Sprint(stats.ExpiredSessions)},
	}))
}
