package shared

import "fmt"

var (
	// Configuration errors
	ErrInvalidConfig      = fmt.Errorf("invalid configuration")
	ErrMissingCredentials = fmt.Errorf("missing credentials")

	// Authentication errors
	ErrNotAuthenticated         = fmt.Errorf("not authenticated")
	ErrSessionNotFound          = fmt.Errorf("session not found")
	ErrUserNotFound             = fmt.Errorf("user not found")
	ErrReauthenticationRequired = fmt.Errorf("reauthentication required")
	ErrStateMismatch            = fmt.Errorf("oauth state mismatch")

	// Upstream provider errors
	ErrUpstreamRejected    = fmt.Errorf("upstream rejected request")
	ErrUpstreamUnavailable = fmt.Errorf("upstream unavailable")

	// Storage errors
	ErrStorage = fmt.Errorf("storage failure")

	// Input validation errors
	ErrInvalidInput    = fmt.Errorf("invalid input")
	ErrMissingArgument = fmt.Errorf("missing required argument")
)
