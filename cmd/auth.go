package main

import (
	"context"

	"github.com/desertthunder/spotauth/internal/services"
	"github.com/desertthunder/spotauth/internal/shared"
	"github.com/urfave/cli/v3"
)

// AuthURL prints the Spotify authorization URL and optionally opens it.
func (r *Runner) AuthURL(ctx context.Context, cmd *cli.Command) error {
	spotify, err := services.NewSpotifyService(r.config.Credentials.Spotify, nil)
	if err != nil {
		return err
	}

	state := cmd.String("state")
	if state == "" {
		state = shared.GenerateID()
	}

	url := spotify.AuthURL(state)
	if err := r.writePlain("%s\n", url); err != nil {
		return err
	}

	if cmd.Bool("open") {
		if err := r.openBrowser(url); err != nil {
			r.logger.Warn("failed to open browser", "error", err)
			return r.writePlain("%s\n", r.palette.Warn("Open the URL above manually"))
		}
	}
	return nil
}
