package shared

import (
	"fmt"
	"os/exec"
	"runtime"
)

var getRuntime = func() string { return runtime.GOOS }

// browserCommand returns the launcher for authURL on the given platform, or nil when unknown.
func browserCommand(platform, authURL string) *exec.Cmd {
	switch platform {
	case "darwin":
		return exec.Command("open", authURL)
	case "linux", "freebsd", "openbsd", "netbsd":
		return exec.Command("xdg-open", authURL)
	case "windows":
		return exec.Command("rundll32", "url.dll,FileProtocolHandler", authURL)
	}
	return nil
}

// OpenBrowser hands the Spotify authorization URL to the desktop's default browser.
//
// The launcher is started but not waited on.
func OpenBrowser(authURL string) error {
	platform := getRuntime()

	cmd := browserCommand(platform, authURL)
	if cmd == nil {
		return fmt.Errorf("cannot open the authorization URL on %s, visit it manually", platform)
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to launch browser for the authorization URL: %w", err)
	}
	return nil
}
