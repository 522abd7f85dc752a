// package models defines the data model for the session broker
package models

import (
	"fmt"
	"time"
)

// User is an authenticated end user, keyed by the provider's stable identifier.
type User struct {
	ID          int64
	ProviderID  string
	DisplayName string
	Email       string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Validate checks that the user carries a provider identifier.
func (u *User) Validate() error {
	if u.ProviderID == "" {
		return fmt.Errorf("user provider id is required")
	}
	return nil
}

// Session is the server-side token state for one browser session.
//
// RefreshToken is empty when the provider never issued one; such a session cannot be renewed
// silently once ExpiresAt passes.
type Session struct {
	ID           int64
	UserID       int64
	SessionID    string
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
	CreatedAt    time.Time

	// Owner attributes, populated by joined lookups.
	ProviderID  string
	DisplayName string
	Email       string
}

// Validate checks the fields that must be present while the row exists.
func (s *Session) Validate() error {
	switch {
	case s.SessionID == "":
		return fmt.Errorf("session id is required")
	case s.AccessToken == "":
		return fmt.Errorf("access token is required")
	case s.UserID == 0:
		return fmt.Errorf("session owner is required")
	}
	return nil
}

// Expired reports whether the access token must no longer be used at now.
func (s *Session) Expired(now time.Time) bool {
	return !s.ExpiresAt.After(now)
}

// CanRefresh reports whether a refresh token is available.
func (s *Session) CanRefresh() bool {
	return s.RefreshToken != ""
}

// ExpiresIn returns the whole seconds left before expiry at now, never negative.
func (s *Session) ExpiresIn(now time.Time) int64 {
	left := s.ExpiresAt.Sub(now)
	if left <= 0 {
		return 0
	}
	return int64(left / time.Second)
}

// StoreStats summarizes the session store.
type StoreStats struct {
	Users           int64 `json:"users"`
	Sessions        int64 `json:"sessions"`
	ExpiredSessions int64 `json:"expired_sessions"`
}
