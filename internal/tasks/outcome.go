package tasks

// Outcome records how a refresh request was resolved.
type Outcome int

const (
	// Cached means the stored token was still valid.
	Cached Outcome = iota
	// Refreshed means a new access token was minted upstream.
	Refreshed
	// Revoked means the provider rejected the refresh token and the session was dropped.
	Revoked
	// Unrefreshable means the token expired and there is no refresh token to spend.
	Unrefreshable
	// Failed covers storage and transient upstream failures.
	Failed
)

func (o Outcome) String() string {
	switch o {
	case Cached:
		return "cached"
	case Refreshed:
		return "refreshed"
	case Revoked:
		return "revoked"
	case Unrefreshable:
		return "unrefreshable"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}
