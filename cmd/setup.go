package main

import (
	"context"
	"fmt"

	"github.com/desertthunder/spotauth/internal/shared"
	"github.com/urfave/cli/v3"
)

// SetupDatabase initializes the database and applies pending migrations.
func (r *Runner) SetupDatabase(ctx context.Context, cmd *cli.Command) error {
	r.logger.Info("setting up database", "path", r.config.Database.Path)

	db, err := shared.OpenDatabase(r.config.Database)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer db.Close()

	versions, err := shared.AppliedMigrations(db)
	if err != nil {
		return err
	}

	r.logger.Info("database setup complete", "migrations", len(versions))
	return r.writePlain("%s\n%s\n",
		r.palette.OK(fmt.Sprintf("Database ready at %s", r.config.Database.Path)),
		r.palette.Help(fmt.Sprintf("Applied migrations: %v", versions)),
	)
}

// SetupRollback reverts the most recently applied migration.
func (r *Runner) SetupRollback(ctx context.Context, cmd *cli.Command) error {
	db, err := shared.NewDatabase(r.config.Database.Path)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	if err := shared.RollbackMigration(db); err != nil {
		return err
	}

	versions, err := shared.AppliedMigrations(db)
	if err != nil {
		return err
	}
	return r.writePlain("%s\n", r.palette.OK(fmt.Sprintf("Rolled back, applied migrations: %v", versions)))
}

// ConfigInit writes the example configuration to the --config path.
func (r *Runner) ConfigInit(ctx context.Context, cmd *cli.Command) error {
	if err := shared.CreateConfigFile(r.configPath); err != nil {
		return err
	}

	r.logger.Info("created config file", "path", r.configPath)
	return r.writePlain("%s\n%s\n",
		r.palette.OK(fmt.Sprintf("Wrote %s", r.configPath)),
		r.palette.Help("Set credentials.spotify and server.session_secret (32+ bytes) before running serve"),
	)
}
