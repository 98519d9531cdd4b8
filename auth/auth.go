// Package auth implements the pluggable credential check used by the
// listener's handshake driver, grounded on the constant-time token compare
// in portal/relay.go's reverse-hub authorizer.
package auth

import (
	"context"
	"crypto/subtle"

	"github.com/gosuda/phantomrpc"
)

// Verifier checks a username/password pair supplied by a client, e.g.
// against a database or an external identity provider.
type Verifier func(ctx context.Context, username, password string) error

// Authenticator is the tagged-variant credential check described for C5:
// None, RootPassword or UserPassword.
type Authenticator interface {
	// Authenticate validates a username/password pair and returns nil on
	// success or phantomrpc.ErrInvalidCredentials (or a Verifier-specific
	// error) on failure. It never panics on missing configuration.
	Authenticate(ctx context.Context, username, password string) error
}

// None accepts every credential unconditionally; used when the listener's
// auth requirement is disabled and the handshake mints a session directly.
type None struct{}

func (None) Authenticate(ctx context.Context, username, password string) error {
	return nil
}

// RootPassword requires username == "root" and a constant-time match
// against Secret. An empty Secret is treated as unconfigured and always
// rejects, matching spec's "missing configuration is InvalidCredentials,
// never a panic".
type RootPassword struct {
	Secret string
}

func (r RootPassword) Authenticate(ctx context.Context, username, password string) error {
	if r.Secret == "" {
		return phantomrpc.ErrInvalidCredentials
	}
	if username != "root" {
		return phantomrpc.ErrInvalidCredentials
	}
	if subtle.ConstantTimeCompare([]byte(r.Secret), []byte(password)) != 1 {
		return phantomrpc.ErrInvalidCredentials
	}
	return nil
}

// UserPassword delegates to an application-supplied Verifier, e.g. backed
// by a user database.
type UserPassword struct {
	Verify Verifier
}

func (u UserPassword) Authenticate(ctx context.Context, username, password string) error {
	if u.Verify == nil {
		return phantomrpc.ErrInvalidCredentials
	}
	return u.Verify(ctx, username, password)
}

var (
	_ Authenticator = None{}
	_ Authenticator = RootPassword{}
	_ Authenticator = UserPassword{}
)
