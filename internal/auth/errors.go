package auth

import "errors"

var (
	// ErrOAuthProtocol is a fatal protocol violation: missing code,
	// missing or mismatched anti-forgery state, or a callback with no
	// pending flow. The user must restart the flow; nothing is retried.
	ErrOAuthProtocol = errors.New("auth: oauth protocol violation")

	// ErrProviderDenied is returned when the provider reports an error on
	// the callback (user cancelled, app rejected). Terminal; no network
	// calls follow.
	ErrProviderDenied = errors.New("auth: authorization rejected by provider")
)
