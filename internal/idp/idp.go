// Package idp is the portal's password-based authentication backend.
//
// The backend has no native federation support: every principal is an
// email+secret pair, regardless of which external provider (if any) was used
// to obtain the secret. Principal-change notifications fire whenever the
// authentication state changes, including as a consequence of provisioning
// creating a principal mid-flight.
package idp

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrEmailTaken is returned when the email is already registered.
	ErrEmailTaken = errors.New("idp: email already registered")

	// ErrInvalidCredentials is returned when sign-in fails.
	ErrInvalidCredentials = errors.New("idp: invalid credentials")

	// ErrNotFound is returned when a principal does not exist.
	ErrNotFound = errors.New("idp: principal not found")
)

// Principal is an authenticated identity. The UID is immutable; the email
// is mutable only through this backend.
type Principal struct {
	UID       string
	Email     string
	CreatedAt time.Time
}

// Event is a principal-change notification. A nil Principal means the
// session became unauthenticated.
type Event struct {
	Principal *Principal
}

// Backend defines the authentication operations the portal consumes.
type Backend interface {
	// CreatePrincipal registers a new email+secret credential.
	// Returns ErrEmailTaken if the email is already registered.
	CreatePrincipal(ctx context.Context, email, secret string) (*Principal, error)

	// SignIn authenticates an existing credential.
	// Returns ErrInvalidCredentials on unknown email or wrong secret.
	SignIn(ctx context.Context, email, secret string) (*Principal, error)

	// Subscribe returns a principal-change feed and a cancel func.
	// Events fire for every successful CreatePrincipal and SignIn; the
	// feed is independent of any in-flight provisioning sequence.
	Subscribe() (<-chan Event, func())
}
