package domain

import "time"

// HandshakeState captures the state/verifier tuple persisted during one
// in-progress authorization attempt. It is write-once-then-consumed: the
// callback deletes it atomically so a state value cannot be replayed.
type HandshakeState struct {
	StateNonce   string
	TenantDomain string
	CodeVerifier string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Session is a time-bounded association between a tenant and a user created
// during the handshake window. EncryptedAccessToken stays empty until the
// code exchange completes and is never stored in plaintext.
type Session struct {
	ID                   int64
	TenantID             int64
	UserID               int64
	EncryptedAccessToken string
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

// Identity is the verified tenant/user pair attached to a request by the
// session guard.
type Identity struct {
	Tenant Tenant
	User   User
}
