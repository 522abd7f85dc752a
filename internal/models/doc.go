// Package models defines the persistent entities of the session broker.
//
//   - [User] : one row per Spotify identity, refreshed on every login
//   - [Session] : token state bound to one browser session identifier
//
// A [Session] returned from a joined lookup also carries the owning user's provider identity so
// handlers can answer profile requests without a second query.
package models
