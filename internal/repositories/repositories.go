// package repositories provides the persistence layer for the session broker.
package repositories

import (
	"fmt"
	"time"

	"github.com/desertthunder/spotauth/internal/shared"
)

// Clock returns the current time. Stores take one so tests can pin "now".
type Clock func() time.Time

// storageErr wraps a driver failure so callers can match [shared.ErrStorage] and still unwrap the cause.
func storageErr(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", shared.ErrStorage, op, err)
}

// expiryFromNow computes the absolute expiry of a token minted at now.
func expiryFromNow(now time.Time, expiresInSeconds int64) time.Time {
	return now.Add(time.Duration(expiresInSeconds) * time.Second)
}
