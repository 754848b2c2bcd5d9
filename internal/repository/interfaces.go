package repository

import (
	"context"
	"time"

	"github.com/awolfe89/sds-shopify/internal/domain"
)

// TenantRepository exposes persistence for merchant tenants.
type TenantRepository interface {
	GetByID(ctx context.Context, id int64) (domain.Tenant, error)
	GetByDomain(ctx context.Context, shopDomain string) (domain.Tenant, error)
	// Upsert creates the tenant or rotates its token, atomically on the
	// unique domain key. Last writer wins on the token field.
	Upsert(ctx context.Context, tenant domain.Tenant) (domain.Tenant, error)
}

// UserRepository exposes persistence for tenant users.
type UserRepository interface {
	GetByID(ctx context.Context, id int64) (domain.User, error)
	// UpsertOwner creates the default owner on first install or reactivates
	// them on re-authorization, atomically on (tenant_id, email).
	UpsertOwner(ctx context.Context, user domain.User) (domain.User, error)
}

// SessionRepository persists the weak tenant/user association used during
// the handshake window.
type SessionRepository interface {
	Create(ctx context.Context, session domain.Session) (domain.Session, error)
	// AttachToken records the encrypted access token and resolved user once
	// the code exchange completes.
	AttachToken(ctx context.Context, id int64, encryptedToken string, userID int64) error
	// DeleteStale removes sessions older than cutoff that never received a
	// token. Returns the number of rows removed.
	DeleteStale(ctx context.Context, cutoff time.Time) (int64, error)
}

// HandshakeStore persists the short-lived per-attempt state binding a CSRF
// nonce and PKCE verifier to one in-progress authorization.
type HandshakeStore interface {
	// Create generates an unguessable state nonce and persists a new row.
	// The verifier may be empty when the caller holds it client-side.
	Create(ctx context.Context, tenantDomain, verifier string) (domain.HandshakeState, error)
	// AttachVerifier records a verifier received out-of-band. Idempotent.
	AttachVerifier(ctx context.Context, tenantDomain, stateNonce, verifier string) error
	// Consume looks up and deletes the state in one atomic step so a nonce
	// can succeed at most once. A missing or already-consumed state yields
	// domain.ErrInvalidState.
	Consume(ctx context.Context, tenantDomain, stateNonce string) (domain.HandshakeState, error)
	// SweepExpired deletes rows older than maxAge and reports the count.
	SweepExpired(ctx context.Context, maxAge time.Duration) (int64, error)
}
