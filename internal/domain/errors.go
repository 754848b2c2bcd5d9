package domain

import "errors"

var (
	// ErrInvalidDomain indicates the shop domain does not match the platform grammar.
	ErrInvalidDomain = errors.New("auth: invalid shop domain")
	// ErrMissingParameter indicates a required callback/install parameter is absent.
	ErrMissingParameter = errors.New("auth: missing required parameter")
	// ErrInvalidState indicates the handshake state is unknown, consumed, or replayed.
	ErrInvalidState = errors.New("auth: invalid state")
	// ErrMissingVerifier indicates no PKCE verifier was supplied or stored.
	ErrMissingVerifier = errors.New("auth: missing code verifier")
	// ErrInvalidSignature indicates HMAC or token signature verification failed.
	ErrInvalidSignature = errors.New("auth: invalid signature")
	// ErrTokenExchangeFailed indicates the platform token endpoint rejected the exchange.
	ErrTokenExchangeFailed = errors.New("auth: token exchange failed")
	// ErrTokenExpired indicates the session token is past its expiry.
	ErrTokenExpired = errors.New("auth: session token expired")
	// ErrTenantInactive indicates the tenant is missing or deactivated.
	ErrTenantInactive = errors.New("auth: tenant inactive")
	// ErrUserInactive indicates the user is missing or deactivated.
	ErrUserInactive = errors.New("auth: user inactive")
	// ErrConfiguration indicates a required secret or setting is absent.
	ErrConfiguration = errors.New("auth: configuration error")
	// ErrStorage indicates the persistence layer is unavailable or corrupted.
	ErrStorage = errors.New("auth: storage error")
)
