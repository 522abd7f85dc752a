// Package tasks holds the token lifecycle operations that sit between the HTTP surface, the
// provider and the session store.
//
// # Core Operations
//
//  1. [LoginFlow.Login] : authorization code → stored session
//     - Exchanges the code with the provider
//     - Resolves the provider profile and upserts the user
//     - Persists the token pair under the caller's session id
//
//  2. [RefreshCoordinator.Refresh] : session id → usable access token
//     - Returns the stored token while it is still valid (no upstream call)
//     - Otherwise spends the refresh token and writes the new access token back
//     - Deletes the session when the provider rejects the refresh token
//
//  3. [Sweeper] : periodic removal of expired sessions
//
// # Concurrency
//
// Concurrent refreshes for the same session share one in-flight operation, so the provider sees
// at most one refresh_token grant per session at a time. The shared operation is bounded by the
// coordinator's timeout rather than by any single caller's context.
//
// The sweeper runs on its own goroutine and shares the store with request handlers. Store
// writes are last-writer-wins.
package tasks
