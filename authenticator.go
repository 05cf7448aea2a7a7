package goBankAuth

import (
	"context"
	"encoding/json"
)

// Authenticator is implemented by every login strategy. Client relies on
// nothing else.
type Authenticator interface {
	// Login completes authentication. It is idempotent once successful.
	Login(ctx context.Context) error
	// Authenticated reports whether business requests may be sent.
	Authenticated() bool
	// Do sends a request through the strategy's session.
	Do(ctx context.Context, req Request) (json.RawMessage, error)
	// Terminate logs out and discards the session state.
	Terminate(ctx context.Context) error
	// Session exposes the underlying session.
	Session() *Session
}

var (
	_ Authenticator = (*PersonalCode)(nil)
	_ Authenticator = (*MobileBankID)(nil)
)
