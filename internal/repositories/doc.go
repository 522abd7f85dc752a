// Package repositories implements SQLite persistence for users and their browser sessions.
//
// [SessionStore] is the single source of truth for token state. Every operation is a single
// statement (or a single statement followed by a point read), so no cross-row transaction is
// ever held and the sweeper can share the handle with request handlers.
//
// Writes are last-writer-wins at row granularity:
//   - users are upserted on provider_id, so one provider identity never yields two rows
//   - sessions are upserted on session_id and mutated in place on refresh
//
// Expiry timestamps are stored as unix milliseconds so that expiry comparisons happen in SQL
// on integers rather than on formatted time strings.
//
// Failures wrap [shared.ErrStorage]; lookups of absent sessions return [shared.ErrSessionNotFound].
package repositories
