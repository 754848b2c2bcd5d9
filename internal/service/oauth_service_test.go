package service

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/awolfe89/sds-shopify/internal/adapter/platform"
	"github.com/awolfe89/sds-shopify/internal/config"
	"github.com/awolfe89/sds-shopify/internal/crypto"
	"github.com/awolfe89/sds-shopify/internal/domain"
	"github.com/awolfe89/sds-shopify/internal/jwt"
	"github.com/awolfe89/sds-shopify/internal/repository"
	"github.com/awolfe89/sds-shopify/internal/vault"
)

const (
	testShop         = "widget-barn.myshopify.com"
	testClientSecret = "platform-client-secret"
	testAccessToken  = "shpat_live_token_value"
)

type memHandshakeStore struct {
	mu     sync.Mutex
	states map[string]domain.HandshakeState
}

func newMemHandshakeStore() *memHandshakeStore {
	return &memHandshakeStore{states: map[string]domain.HandshakeState{}}
}

func (m *memHandshakeStore) key(tenantDomain, nonce string) string {
	return tenantDomain + ":" + nonce
}

func (m *memHandshakeStore) Create(_ context.Context, tenantDomain, verifier string) (domain.HandshakeState, error) {
	nonce, err := crypto.GenerateStateNonce()
	if err != nil {
		return domain.HandshakeState{}, err
	}
	state := domain.HandshakeState{
		StateNonce:   nonce,
		TenantDomain: tenantDomain,
		CodeVerifier: verifier,
		CreatedAt:    time.Now().UTC(),
		UpdatedAt:    time.Now().UTC(),
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.states[m.key(tenantDomain, nonce)] = state
	return state, nil
}

func (m *memHandshakeStore) AttachVerifier(_ context.Context, tenantDomain, stateNonce, verifier string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	state, ok := m.states[m.key(tenantDomain, stateNonce)]
	if !ok {
		return domain.ErrInvalidState
	}
	state.CodeVerifier = verifier
	state.UpdatedAt = time.Now().UTC()
	m.states[m.key(tenantDomain, stateNonce)] = state
	return nil
}

func (m *memHandshakeStore) Consume(_ context.Context, tenantDomain, stateNonce string) (domain.HandshakeState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := m.key(tenantDomain, stateNonce)
	state, ok := m.states[key]
	if !ok {
		return domain.HandshakeState{}, domain.ErrInvalidState
	}
	delete(m.states, key)
	return state, nil
}

func (m *memHandshakeStore) SweepExpired(_ context.Context, maxAge time.Duration) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cutoff := time.Now().UTC().Add(-maxAge)
	var deleted int64
	for key, state := range m.states {
		if state.CreatedAt.Before(cutoff) {
			delete(m.states, key)
			deleted++
		}
	}
	return deleted, nil
}

func (m *memHandshakeStore) len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.states)
}

var _ repository.HandshakeStore = (*memHandshakeStore)(nil)

type fakeTenantRepo struct {
	mu          sync.Mutex
	nextID      int64
	byDomain    map[string]domain.Tenant
	upsertCalls int
}

func newFakeTenantRepo() *fakeTenantRepo {
	return &fakeTenantRepo{nextID: 100, byDomain: map[string]domain.Tenant{}}
}

func (f *fakeTenantRepo) GetByID(_ context.Context, id int64) (domain.Tenant, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, tenant := range f.byDomain {
		if tenant.ID == id {
			return tenant, nil
		}
	}
	return domain.Tenant{}, fmt.Errorf("%w: tenant %d not found", domain.ErrStorage, id)
}

func (f *fakeTenantRepo) GetByDomain(_ context.Context, shopDomain string) (domain.Tenant, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	tenant, ok := f.byDomain[shopDomain]
	if !ok {
		return domain.Tenant{}, fmt.Errorf("%w: tenant %s not found", domain.ErrStorage, shopDomain)
	}
	return tenant, nil
}

func (f *fakeTenantRepo) Upsert(_ context.Context, tenant domain.Tenant) (domain.Tenant, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.upsertCalls++
	existing, ok := f.byDomain[tenant.Domain]
	if ok {
		existing.EncryptedAccessToken = tenant.EncryptedAccessToken
		existing.IsActive = true
		existing.UpdatedAt = time.Now().UTC()
		f.byDomain[tenant.Domain] = existing
		return existing, nil
	}
	f.nextID++
	tenant.ID = f.nextID
	tenant.IsActive = true
	tenant.CreatedAt = time.Now().UTC()
	tenant.UpdatedAt = tenant.CreatedAt
	f.byDomain[tenant.Domain] = tenant
	return tenant, nil
}

var _ repository.TenantRepository = (*fakeTenantRepo)(nil)

type fakeUserRepo struct {
	mu     sync.Mutex
	nextID int64
	byID   map[int64]domain.User
}

func newFakeUserRepo() *fakeUserRepo {
	return &fakeUserRepo{nextID: 500, byID: map[int64]domain.User{}}
}

func (f *fakeUserRepo) GetByID(_ context.Context, id int64) (domain.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	user, ok := f.byID[id]
	if !ok {
		return domain.User{}, fmt.Errorf("%w: user %d not found", domain.ErrStorage, id)
	}
	return user, nil
}

func (f *fakeUserRepo) UpsertOwner(_ context.Context, user domain.User) (domain.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for id, existing := range f.byID {
		if existing.TenantID == user.TenantID && existing.Email == user.Email {
			existing.Active = true
			f.byID[id] = existing
			return existing, nil
		}
	}
	f.nextID++
	user.ID = f.nextID
	user.Active = true
	user.CreatedAt = time.Now().UTC()
	user.UpdatedAt = user.CreatedAt
	f.byID[user.ID] = user
	return user, nil
}

var _ repository.UserRepository = (*fakeUserRepo)(nil)

type fakeSessionRepo struct {
	mu       sync.Mutex
	nextID   int64
	sessions map[int64]domain.Session
}

func newFakeSessionRepo() *fakeSessionRepo {
	return &fakeSessionRepo{nextID: 900, sessions: map[int64]domain.Session{}}
}

func (f *fakeSessionRepo) Create(_ context.Context, session domain.Session) (domain.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	session.ID = f.nextID
	session.CreatedAt = time.Now().UTC()
	session.UpdatedAt = session.CreatedAt
	f.sessions[session.ID] = session
	return session, nil
}

func (f *fakeSessionRepo) AttachToken(_ context.Context, id int64, encryptedToken string, userID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	session, ok := f.sessions[id]
	if !ok {
		return fmt.Errorf("%w: session %d not found", domain.ErrStorage, id)
	}
	session.EncryptedAccessToken = encryptedToken
	session.UserID = userID
	session.UpdatedAt = time.Now().UTC()
	f.sessions[id] = session
	return nil
}

func (f *fakeSessionRepo) DeleteStale(_ context.Context, cutoff time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var deleted int64
	for id, session := range f.sessions {
		if session.EncryptedAccessToken == "" && session.CreatedAt.Before(cutoff) {
			delete(f.sessions, id)
			deleted++
		}
	}
	return deleted, nil
}

var _ repository.SessionRepository = (*fakeSessionRepo)(nil)

type fakePlatformClient struct {
	mu           sync.Mutex
	calls        int
	lastVerifier string
	lastCode     string
	err          error
}

func (f *fakePlatformClient) ExchangeCode(_ context.Context, shopDomain, code, codeVerifier string) (*platform.TokenResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.lastVerifier = codeVerifier
	f.lastCode = code
	if f.err != nil {
		return nil, f.err
	}
	return &platform.TokenResponse{AccessToken: testAccessToken, Scope: "read_products"}, nil
}

var _ platform.Client = (*fakePlatformClient)(nil)

type oauthHarness struct {
	svc        OAuthService
	handshakes *memHandshakeStore
	tenants    *fakeTenantRepo
	users      *fakeUserRepo
	sessions   *fakeSessionRepo
	platform   *fakePlatformClient
	vault      *vault.Vault
	issuer     *jwt.Issuer
}

func newOAuthHarness(t *testing.T) *oauthHarness {
	t.Helper()

	credVault, err := vault.New([]byte("0123456789abcdef0123456789abcdef"))
	require.NoError(t, err)
	issuer, err := jwt.NewIssuer("test-signing-secret-0123456789abcdef", time.Hour)
	require.NoError(t, err)

	cfg := config.Config{
		Environment:          "test",
		PlatformClientID:     "test-client-id",
		PlatformClientSecret: testClientSecret,
		PlatformScopes:       "read_products,write_content",
		HostURL:              "https://app.example.com",
		ExchangeTimeout:      time.Second,
	}

	h := &oauthHarness{
		handshakes: newMemHandshakeStore(),
		tenants:    newFakeTenantRepo(),
		users:      newFakeUserRepo(),
		sessions:   newFakeSessionRepo(),
		platform:   &fakePlatformClient{},
		vault:      credVault,
		issuer:     issuer,
	}
	h.svc = NewOAuthService(h.handshakes, h.tenants, h.users, h.sessions, h.platform, credVault, issuer, cfg, zap.NewNop())
	return h
}

// signedQuery builds a callback query carrying a valid platform signature.
func signedQuery(t *testing.T, shop, code, state string) url.Values {
	t.Helper()
	query := url.Values{}
	query.Set("shop", shop)
	query.Set("code", code)
	query.Set("state", state)
	query.Set("timestamp", "1724800000")
	mac := hmac.New(sha256.New, []byte(testClientSecret))
	mac.Write([]byte(crypto.CanonicalQuery(query)))
	query.Set("hmac", hex.EncodeToString(mac.Sum(nil)))
	return query
}

func (h *oauthHarness) install(t *testing.T) (string, string) {
	t.Helper()
	verifier, err := crypto.GenerateVerifier()
	require.NoError(t, err)
	out, err := h.svc.Install(context.Background(), InstallInput{
		ShopDomain:      testShop,
		CodeChallenge:   crypto.DeriveChallenge(verifier),
		ChallengeMethod: "S256",
	})
	require.NoError(t, err)
	return out.State, verifier
}

func TestInstallBuildsAuthorizationURL(t *testing.T) {
	h := newOAuthHarness(t)

	verifier, err := crypto.GenerateVerifier()
	require.NoError(t, err)
	challenge := crypto.DeriveChallenge(verifier)

	out, err := h.svc.Install(context.Background(), InstallInput{
		ShopDomain:      testShop,
		CodeChallenge:   challenge,
		ChallengeMethod: "S256",
	})
	require.NoError(t, err)
	require.NotEmpty(t, out.State)

	parsed, err := url.Parse(out.AuthorizationURL)
	require.NoError(t, err)
	require.Equal(t, "https", parsed.Scheme)
	require.Equal(t, testShop, parsed.Host)
	require.Equal(t, "/admin/oauth/authorize", parsed.Path)

	params := parsed.Query()
	require.Equal(t, "test-client-id", params.Get("client_id"))
	require.Equal(t, "read_products,write_content", params.Get("scope"))
	require.Equal(t, "https://app.example.com/auth/callback", params.Get("redirect_uri"))
	require.Equal(t, out.State, params.Get("state"))
	require.Equal(t, challenge, params.Get("code_challenge"))
	require.Equal(t, "S256", params.Get("code_challenge_method"))

	// The state is live until exactly one callback consumes it.
	state, err := h.handshakes.Consume(context.Background(), testShop, out.State)
	require.NoError(t, err)
	require.Empty(t, state.CodeVerifier)
}

func TestInstallValidation(t *testing.T) {
	h := newOAuthHarness(t)
	ctx := context.Background()

	_, err := h.svc.Install(ctx, InstallInput{ShopDomain: "", CodeChallenge: "c"})
	require.ErrorIs(t, err, domain.ErrMissingParameter)

	_, err = h.svc.Install(ctx, InstallInput{ShopDomain: testShop, CodeChallenge: ""})
	require.ErrorIs(t, err, domain.ErrMissingParameter)

	for _, shop := range []string{
		"evil.example.com",
		"widget-barn.myshopify.com.evil.com",
		"-leading.myshopify.com",
		"spaced shop.myshopify.com",
	} {
		_, err = h.svc.Install(ctx, InstallInput{ShopDomain: shop, CodeChallenge: "c", ChallengeMethod: "S256"})
		require.ErrorIs(t, err, domain.ErrInvalidDomain, "shop %q", shop)
	}
}

func TestInstallNormalizesDomainCase(t *testing.T) {
	h := newOAuthHarness(t)

	out, err := h.svc.Install(context.Background(), InstallInput{
		ShopDomain:      "  Widget-Barn.MYSHOPIFY.com ",
		CodeChallenge:   "challenge",
		ChallengeMethod: "S256",
	})
	require.NoError(t, err)

	parsed, err := url.Parse(out.AuthorizationURL)
	require.NoError(t, err)
	require.Equal(t, testShop, parsed.Host)
}

func TestCallbackMintsSession(t *testing.T) {
	h := newOAuthHarness(t)
	ctx := context.Background()
	state, verifier := h.install(t)

	out, err := h.svc.Callback(ctx, CallbackInput{
		ShopDomain:       testShop,
		Code:             "auth-code-1",
		State:            state,
		SuppliedVerifier: verifier,
		Query:            signedQuery(t, testShop, "auth-code-1", state),
	})
	require.NoError(t, err)
	require.Equal(t, testShop, out.ShopDomain)
	require.Equal(t, "/?shop="+url.QueryEscape(testShop), out.RedirectURL)

	// The exchange received the verifier the client held onto.
	require.Equal(t, verifier, h.platform.lastVerifier)
	require.Equal(t, "auth-code-1", h.platform.lastCode)

	claims, err := h.issuer.Verify(out.SessionToken)
	require.NoError(t, err)
	require.Equal(t, testShop, claims.Domain)

	tenant, err := h.tenants.GetByDomain(ctx, testShop)
	require.NoError(t, err)
	require.Equal(t, claims.TenantID, tenant.ID)
	require.True(t, tenant.IsActive)
	require.Equal(t, domain.PlanFree, tenant.Plan)
	require.NotEqual(t, testAccessToken, tenant.EncryptedAccessToken)

	plaintext, err := h.vault.DecryptToken(tenant.EncryptedAccessToken)
	require.NoError(t, err)
	require.Equal(t, testAccessToken, plaintext)

	owner, err := h.users.GetByID(ctx, claims.UserID)
	require.NoError(t, err)
	require.Equal(t, domain.RoleOwner, owner.Role)
	require.True(t, owner.Active)
}

func TestCallbackStateConsumedOnce(t *testing.T) {
	h := newOAuthHarness(t)
	ctx := context.Background()
	state, verifier := h.install(t)

	in := CallbackInput{
		ShopDomain:       testShop,
		Code:             "auth-code-1",
		State:            state,
		SuppliedVerifier: verifier,
		Query:            signedQuery(t, testShop, "auth-code-1", state),
	}
	_, err := h.svc.Callback(ctx, in)
	require.NoError(t, err)

	_, err = h.svc.Callback(ctx, in)
	require.ErrorIs(t, err, domain.ErrInvalidState)
	require.Equal(t, 1, h.platform.calls)
}

func TestCallbackRejectsTamperedQuery(t *testing.T) {
	h := newOAuthHarness(t)
	ctx := context.Background()

	tamper := map[string]func(url.Values){
		"altered_param": func(q url.Values) { q.Set("shop", "attacker.myshopify.com") },
		"appended_param": func(q url.Values) {
			q.Set("redirect", "https://attacker.example.com")
		},
		"flipped_signature": func(q url.Values) {
			sig := []byte(q.Get("hmac"))
			if sig[0] == 'a' {
				sig[0] = 'b'
			} else {
				sig[0] = 'a'
			}
			q.Set("hmac", string(sig))
		},
		"missing_signature": func(q url.Values) { q.Del("hmac") },
		"malformed_signature": func(q url.Values) {
			q.Set("hmac", "not-hex!")
		},
	}

	for name, mutate := range tamper {
		t.Run(name, func(t *testing.T) {
			state, verifier := h.install(t)
			query := signedQuery(t, testShop, "auth-code-1", state)
			mutate(query)

			before := h.handshakes.len()
			_, err := h.svc.Callback(ctx, CallbackInput{
				ShopDomain:       testShop,
				Code:             "auth-code-1",
				State:            state,
				SuppliedVerifier: verifier,
				Query:            query,
			})
			require.ErrorIs(t, err, domain.ErrInvalidSignature)

			// Rejected before any mutation: state intact, nothing persisted.
			require.Equal(t, before, h.handshakes.len())
			require.Zero(t, h.tenants.upsertCalls)
			require.Zero(t, h.platform.calls)
		})
	}
}

func TestCallbackMissingVerifier(t *testing.T) {
	h := newOAuthHarness(t)
	ctx := context.Background()
	state, _ := h.install(t)

	_, err := h.svc.Callback(ctx, CallbackInput{
		ShopDomain: testShop,
		Code:       "auth-code-1",
		State:      state,
		Query:      signedQuery(t, testShop, "auth-code-1", state),
	})
	require.ErrorIs(t, err, domain.ErrMissingVerifier)
	require.Zero(t, h.platform.calls)
}

func TestCallbackUsesAttachedVerifier(t *testing.T) {
	h := newOAuthHarness(t)
	ctx := context.Background()
	state, verifier := h.install(t)

	require.NoError(t, h.svc.AttachVerifier(ctx, testShop, state, verifier))
	// A second attach with the same value is harmless.
	require.NoError(t, h.svc.AttachVerifier(ctx, testShop, state, verifier))

	out, err := h.svc.Callback(ctx, CallbackInput{
		ShopDomain: testShop,
		Code:       "auth-code-1",
		State:      state,
		Query:      signedQuery(t, testShop, "auth-code-1", state),
	})
	require.NoError(t, err)
	require.NotEmpty(t, out.SessionToken)
	require.Equal(t, verifier, h.platform.lastVerifier)
}

func TestCallbackExchangeFailure(t *testing.T) {
	h := newOAuthHarness(t)
	ctx := context.Background()
	state, verifier := h.install(t)

	h.platform.err = fmt.Errorf("%w: status 401", domain.ErrTokenExchangeFailed)

	_, err := h.svc.Callback(ctx, CallbackInput{
		ShopDomain:       testShop,
		Code:             "auth-code-1",
		State:            state,
		SuppliedVerifier: verifier,
		Query:            signedQuery(t, testShop, "auth-code-1", state),
	})
	require.ErrorIs(t, err, domain.ErrTokenExchangeFailed)
	require.Zero(t, h.tenants.upsertCalls)

	// The state was consumed; recovery means a fresh install, not a retry.
	_, err = h.handshakes.Consume(ctx, testShop, state)
	require.ErrorIs(t, err, domain.ErrInvalidState)
}

func TestCallbackReinstallRotatesToken(t *testing.T) {
	h := newOAuthHarness(t)
	ctx := context.Background()

	state, verifier := h.install(t)
	first, err := h.svc.Callback(ctx, CallbackInput{
		ShopDomain:       testShop,
		Code:             "auth-code-1",
		State:            state,
		SuppliedVerifier: verifier,
		Query:            signedQuery(t, testShop, "auth-code-1", state),
	})
	require.NoError(t, err)

	state, verifier = h.install(t)
	second, err := h.svc.Callback(ctx, CallbackInput{
		ShopDomain:       testShop,
		Code:             "auth-code-2",
		State:            state,
		SuppliedVerifier: verifier,
		Query:            signedQuery(t, testShop, "auth-code-2", state),
	})
	require.NoError(t, err)

	firstClaims, err := h.issuer.Verify(first.SessionToken)
	require.NoError(t, err)
	secondClaims, err := h.issuer.Verify(second.SessionToken)
	require.NoError(t, err)
	require.Equal(t, firstClaims.TenantID, secondClaims.TenantID)
	require.Equal(t, firstClaims.UserID, secondClaims.UserID)
}

func TestDecryptedAccessToken(t *testing.T) {
	h := newOAuthHarness(t)
	ctx := context.Background()
	state, verifier := h.install(t)

	out, err := h.svc.Callback(ctx, CallbackInput{
		ShopDomain:       testShop,
		Code:             "auth-code-1",
		State:            state,
		SuppliedVerifier: verifier,
		Query:            signedQuery(t, testShop, "auth-code-1", state),
	})
	require.NoError(t, err)

	claims, err := h.issuer.Verify(out.SessionToken)
	require.NoError(t, err)

	token, err := h.svc.DecryptedAccessToken(ctx, claims.TenantID)
	require.NoError(t, err)
	require.Equal(t, testAccessToken, token)

	h.tenants.mu.Lock()
	tenant := h.tenants.byDomain[testShop]
	tenant.IsActive = false
	h.tenants.byDomain[testShop] = tenant
	h.tenants.mu.Unlock()

	_, err = h.svc.DecryptedAccessToken(ctx, claims.TenantID)
	require.ErrorIs(t, err, domain.ErrTenantInactive)
}

func TestCallbackMissingParameters(t *testing.T) {
	h := newOAuthHarness(t)
	ctx := context.Background()

	for name, in := range map[string]CallbackInput{
		"no_shop":  {Code: "c", State: "s"},
		"no_code":  {ShopDomain: testShop, State: "s"},
		"no_state": {ShopDomain: testShop, Code: "c"},
	} {
		t.Run(name, func(t *testing.T) {
			_, err := h.svc.Callback(ctx, in)
			require.ErrorIs(t, err, domain.ErrMissingParameter)
		})
	}
}
