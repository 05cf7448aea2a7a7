// Package session persists the resumable part of an authenticated bank
// session: application identity, authorization token, profile type, flags
// and the strategy's state byte.
//
// # Record schema
//
// Records are written in a compact binary layout with a leading schema
// version byte (v1, v2). Decode reads every supported version; [Store.Restore]
// rewrites older layouts in the current one. Cookies and HTTP transports are
// never persisted.
//
// # Backends
//
// [Store] talks to a [Backend] port. [RedisBackend], [SQLiteBackend] and
// [MemoryBackend] are provided. A [Sealer] can sign blobs (HS256 JWT) for
// backends outside the process' trust boundary.
//
// # What this package must NOT do
//
//   - Import goBankAuth (no upward imports).
//   - Store the user's personal code or any cookie value.
package session
