// Package goBankAuth authenticates against the Swedbank-family mobile app
// API and keeps the resulting cookied session usable across calls.
//
// Two strategies implement [Authenticator]: [PersonalCode] (one request with
// user ID and personal code) and [MobileBankID] (start a challenge, then
// [MobileBankID.Poll] until the user has signed in the BankID app). Both
// are assembled by [Builder] and wrap a [Session], whose request pipeline
// adds the authorization key, app user agent, a fresh dsid nonce (cookie
// and query parameter) and the fixed header set to every call. [Client]
// exposes the business endpoints and logs in lazily.
//
// # Failure handling
//
// A 4xx response triggers one logout request and a cleanup; a 5xx only a
// cleanup; transport errors neither. Cleanup drops the cookie jar and
// transport and deletes the persisted record. Use [IsRetryable] to decide
// whether a call may be repeated.
//
// # Concurrency
//
// A Session, and the strategy owning it, is not safe for concurrent use.
// [Metrics] and audit sinks may be shared between sessions.
//
// # What this package must NOT do
//
//   - Persist the personal code, cookies or the HTTP transport.
//   - Configure logging sinks; it logs through the injected *slog.Logger.
//   - Touch process-global state beyond reading environment in [LoadConfig].
package goBankAuth
