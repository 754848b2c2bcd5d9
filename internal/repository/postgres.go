package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/awolfe89/sds-shopify/internal/crypto"
	"github.com/awolfe89/sds-shopify/internal/domain"
)

// Compile-time interface assertions.
var (
	_ TenantRepository  = (*PostgresTenantRepo)(nil)
	_ UserRepository    = (*PostgresUserRepo)(nil)
	_ SessionRepository = (*PostgresSessionRepo)(nil)
	_ HandshakeStore    = (*PostgresHandshakeStore)(nil)
)

// PostgresTenantRepo implements TenantRepository on pgxpool.
type PostgresTenantRepo struct {
	pool *pgxpool.Pool
	node *snowflake.Node
}

func NewPostgresTenantRepo(pool *pgxpool.Pool, node *snowflake.Node) *PostgresTenantRepo {
	return &PostgresTenantRepo{pool: pool, node: node}
}

const tenantColumns = `id, domain, access_token, plan, is_active, data_retention_days, ai_opt_out, data_region, created_at, updated_at`

func (r *PostgresTenantRepo) GetByID(ctx context.Context, id int64) (domain.Tenant, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+tenantColumns+` FROM tenants WHERE id = $1`, id)
	return scanTenant(row)
}

func (r *PostgresTenantRepo) GetByDomain(ctx context.Context, shopDomain string) (domain.Tenant, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+tenantColumns+` FROM tenants WHERE domain = $1`, shopDomain)
	return scanTenant(row)
}

func (r *PostgresTenantRepo) Upsert(ctx context.Context, tenant domain.Tenant) (domain.Tenant, error) {
	row := r.pool.QueryRow(ctx, `
		INSERT INTO tenants (id, domain, access_token, plan, is_active, data_retention_days, ai_opt_out, data_region, created_at, updated_at)
		VALUES ($1, $2, $3, $4, true, $5, $6, $7, now(), now())
		ON CONFLICT (domain) DO UPDATE
		SET access_token = EXCLUDED.access_token,
		    is_active    = true,
		    updated_at   = now()
		RETURNING `+tenantColumns,
		r.node.Generate().Int64(),
		tenant.Domain,
		tenant.EncryptedAccessToken,
		tenant.Plan,
		tenant.DataRetentionDays,
		tenant.AIOptOut,
		tenant.DataRegion,
	)
	upserted, err := scanTenant(row)
	if err != nil {
		return domain.Tenant{}, fmt.Errorf("upsert tenant: %w", err)
	}
	return upserted, nil
}

func scanTenant(row pgx.Row) (domain.Tenant, error) {
	var t domain.Tenant
	err := row.Scan(&t.ID, &t.Domain, &t.EncryptedAccessToken, &t.Plan, &t.IsActive,
		&t.DataRetentionDays, &t.AIOptOut, &t.DataRegion, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return domain.Tenant{}, fmt.Errorf("scan tenant: %w", err)
	}
	return t, nil
}

// PostgresUserRepo implements UserRepository on pgxpool.
type PostgresUserRepo struct {
	pool *pgxpool.Pool
	node *snowflake.Node
}

func NewPostgresUserRepo(pool *pgxpool.Pool, node *snowflake.Node) *PostgresUserRepo {
	return &PostgresUserRepo{pool: pool, node: node}
}

const userColumns = `id, tenant_id, email, name, role, active, last_login, created_at, updated_at`

func (r *PostgresUserRepo) GetByID(ctx context.Context, id int64) (domain.User, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id)
	return scanUser(row)
}

func (r *PostgresUserRepo) UpsertOwner(ctx context.Context, user domain.User) (domain.User, error) {
	row := r.pool.QueryRow(ctx, `
		INSERT INTO users (id, tenant_id, email, name, role, active, last_login, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, true, now(), now(), now())
		ON CONFLICT (tenant_id, email) DO UPDATE
		SET active     = true,
		    last_login = now(),
		    updated_at = now()
		RETURNING `+userColumns,
		r.node.Generate().Int64(),
		user.TenantID,
		user.Email,
		user.Name,
		user.Role,
	)
	upserted, err := scanUser(row)
	if err != nil {
		return domain.User{}, fmt.Errorf("upsert owner: %w", err)
	}
	return upserted, nil
}

func scanUser(row pgx.Row) (domain.User, error) {
	var u domain.User
	err := row.Scan(&u.ID, &u.TenantID, &u.Email, &u.Name, &u.Role, &u.Active,
		&u.LastLogin, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return domain.User{}, fmt.Errorf("scan user: %w", err)
	}
	return u, nil
}

// PostgresSessionRepo implements SessionRepository on pgxpool.
type PostgresSessionRepo struct {
	pool *pgxpool.Pool
	node *snowflake.Node
}

func NewPostgresSessionRepo(pool *pgxpool.Pool, node *snowflake.Node) *PostgresSessionRepo {
	return &PostgresSessionRepo{pool: pool, node: node}
}

func (r *PostgresSessionRepo) Create(ctx context.Context, session domain.Session) (domain.Session, error) {
	session.ID = r.node.Generate().Int64()
	now := time.Now().UTC()
	session.CreatedAt = now
	session.UpdatedAt = now
	_, err := r.pool.Exec(ctx, `
		INSERT INTO sessions (id, tenant_id, user_id, access_token, created_at, updated_at)
		VALUES ($1, $2, $3, NULLIF($4, ''), $5, $5)`,
		session.ID, session.TenantID, session.UserID, session.EncryptedAccessToken, now,
	)
	if err != nil {
		return domain.Session{}, fmt.Errorf("create session: %w", err)
	}
	return session, nil
}

func (r *PostgresSessionRepo) AttachToken(ctx context.Context, id int64, encryptedToken string, userID int64) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE sessions
		SET access_token = $2, user_id = $3, updated_at = now()
		WHERE id = $1`,
		id, encryptedToken, userID,
	)
	if err != nil {
		return fmt.Errorf("attach session token: %w", err)
	}
	return nil
}

func (r *PostgresSessionRepo) DeleteStale(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx, `
		DELETE FROM sessions
		WHERE updated_at < $1 AND access_token IS NULL`,
		cutoff,
	)
	if err != nil {
		return 0, fmt.Errorf("delete stale sessions: %w", err)
	}
	return tag.RowsAffected(), nil
}

// PostgresHandshakeStore implements HandshakeStore on pgxpool. Consume is a
// single DELETE ... RETURNING so two concurrent callbacks racing on the same
// nonce cannot both succeed.
type PostgresHandshakeStore struct {
	pool *pgxpool.Pool
}

func NewPostgresHandshakeStore(pool *pgxpool.Pool) *PostgresHandshakeStore {
	return &PostgresHandshakeStore{pool: pool}
}

func (s *PostgresHandshakeStore) Create(ctx context.Context, tenantDomain, verifier string) (domain.HandshakeState, error) {
	nonce, err := crypto.GenerateStateNonce()
	if err != nil {
		return domain.HandshakeState{}, fmt.Errorf("create handshake: %w", err)
	}
	now := time.Now().UTC()
	_, err = s.pool.Exec(ctx, `
		INSERT INTO handshake_states (state, shop_domain, code_verifier, created_at, updated_at)
		VALUES ($1, $2, NULLIF($3, ''), $4, $4)`,
		nonce, tenantDomain, verifier, now,
	)
	if err != nil {
		return domain.HandshakeState{}, fmt.Errorf("create handshake: %w", err)
	}
	return domain.HandshakeState{
		StateNonce:   nonce,
		TenantDomain: tenantDomain,
		CodeVerifier: verifier,
		CreatedAt:    now,
		UpdatedAt:    now,
	}, nil
}

func (s *PostgresHandshakeStore) AttachVerifier(ctx context.Context, tenantDomain, stateNonce, verifier string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE handshake_states
		SET code_verifier = $3, updated_at = now()
		WHERE shop_domain = $1 AND state = $2`,
		tenantDomain, stateNonce, verifier,
	)
	if err != nil {
		return fmt.Errorf("attach verifier: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrInvalidState
	}
	return nil
}

func (s *PostgresHandshakeStore) Consume(ctx context.Context, tenantDomain, stateNonce string) (domain.HandshakeState, error) {
	row := s.pool.QueryRow(ctx, `
		DELETE FROM handshake_states
		WHERE shop_domain = $1 AND state = $2
		RETURNING state, shop_domain, COALESCE(code_verifier, ''), created_at, updated_at`,
		tenantDomain, stateNonce,
	)
	var hs domain.HandshakeState
	err := row.Scan(&hs.StateNonce, &hs.TenantDomain, &hs.CodeVerifier, &hs.CreatedAt, &hs.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.HandshakeState{}, domain.ErrInvalidState
	}
	if err != nil {
		return domain.HandshakeState{}, fmt.Errorf("consume handshake: %w", err)
	}
	return hs, nil
}

func (s *PostgresHandshakeStore) SweepExpired(ctx context.Context, maxAge time.Duration) (int64, error) {
	tag, err := s.pool.Exec(ctx, `
		DELETE FROM handshake_states
		WHERE created_at < $1`,
		time.Now().UTC().Add(-maxAge),
	)
	if err != nil {
		return 0, fmt.Errorf("sweep handshakes: %w", err)
	}
	return tag.RowsAffected(), nil
}
