// Package auth verifies Basic credentials against the backing store and
// produces the request identity used for authorization.
package auth

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"net/http"

	"github.com/vyrodovalexey/streamgw/internal/observability"
	"github.com/vyrodovalexey/streamgw/internal/store"
)

// Authentication errors. Callers map every one of these to the same
// unauthenticated response so that absent, malformed, and failed
// credentials are indistinguishable to clients.
var (
	// ErrNoCredentials indicates the request carried no Basic credentials.
	ErrNoCredentials = errors.New("no credentials presented")

	// ErrInvalidCredentials indicates the presented credentials did not
	// match a stored record.
	ErrInvalidCredentials = errors.New("invalid credentials")
)

// Identity is the opaque user identifier produced by a successful login.
// It is the value matched against a route's authorized user set.
type Identity string

type contextKey struct{}

var identityKey = contextKey{}

// ContextWithIdentity binds an authenticated identity to the context.
func ContextWithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityKey, id)
}

// IdentityFromContext extracts the authenticated identity, if any.
func IdentityFromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityKey).(Identity)
	return id, ok
}

// Authenticator validates Basic credentials against the credential
// records in the backing store.
type Authenticator struct {
	store  *store.Store
	logger observability.Logger
}

// New creates an Authenticator backed by the given store.
func New(st *store.Store, logger observability.Logger) *Authenticator {
	return &Authenticator{store: st, logger: logger}
}

// Authenticate looks up the username and compares the presented secret
// with the stored one. On success it returns the stored user id as the
// request identity. Unknown users and wrong secrets both come back as
// ErrInvalidCredentials.
func (a *Authenticator) Authenticate(ctx context.Context, username, password string) (Identity, error) {
	creds, err := a.store.GetUser(ctx, username)
	if errors.Is(err, store.ErrUserNotFound) {
		a.logger.Debug("login for unknown user",
			observability.String("username", username))
		return "", ErrInvalidCredentials
	}
	if err != nil {
		return "", fmt.Errorf("credential lookup: %w", err)
	}

	if subtle.ConstantTimeCompare([]byte(creds.Secret), []byte(password)) != 1 {
		a.logger.Debug("secret mismatch",
			observability.String("username", username))
		return "", ErrInvalidCredentials
	}

	return Identity(creds.ID), nil
}

// AuthenticateRequest extracts Basic credentials from the request and
// validates them. Requests without a parseable Authorization header get
// ErrNoCredentials.
func (a *Authenticator) AuthenticateRequest(r *http.Request) (Identity, error) {
	username, password, ok := r.BasicAuth()
	if !ok {
		return "", ErrNoCredentials
	}
	return a.Authenticate(r.Context(), username, password)
}
