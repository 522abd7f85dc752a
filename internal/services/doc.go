// Package services talks to the upstream music provider (Spotify).
//
// # Token Exchange
//
// [SpotifyService] implements [TokenExchanger] on top of [oauth2.Config] with client credentials
// sent in the Authorization header. Every call runs under its own timeout and a dedicated
// [http.Client] passed through the [oauth2.HTTPClient] context key.
//
// # Profile Lookup
//
// [SpotifyService.UserProfile] calls GET /me with a bearer token to resolve the provider identity
// that owns a freshly exchanged token.
//
// # Error Handling
//
// Failures are returned as [*UpstreamError] and classified with sentinels from the shared package:
//   - [shared.ErrUpstreamRejected] : the provider answered 4xx (invalid, expired or reused code, revoked refresh token)
//   - [shared.ErrUpstreamUnavailable] : network failure, timeout or provider 5xx
//
// The provider's response body is kept on [UpstreamError.Detail] for diagnostics.
package services
