// Package internal contains helpers that are private to goBankAuth: the
// per-request dsid generator and the authorization key generator.
//
// # What this package must NOT do
//
//   - Export types that appear in the public goBankAuth API.
//   - Keep state between calls (no counters, no cached randomness).
package internal
