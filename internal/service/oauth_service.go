package service

import (
	"context"
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"github.com/awolfe89/sds-shopify/internal/adapter/platform"
	"github.com/awolfe89/sds-shopify/internal/config"
	"github.com/awolfe89/sds-shopify/internal/crypto"
	"github.com/awolfe89/sds-shopify/internal/domain"
	"github.com/awolfe89/sds-shopify/internal/jwt"
	"github.com/awolfe89/sds-shopify/internal/repository"
	"github.com/awolfe89/sds-shopify/internal/vault"
)

// OAuthService orchestrates the install/callback handshake with the
// merchant platform.
type OAuthService interface {
	Install(ctx context.Context, in InstallInput) (*InstallOutput, error)
	// AttachVerifier records a PKCE verifier forwarded out-of-band by the
	// installing client before the callback arrives. Idempotent.
	AttachVerifier(ctx context.Context, shopDomain, stateNonce, verifier string) error
	Callback(ctx context.Context, in CallbackInput) (*CallbackOutput, error)
	// DecryptedAccessToken hands out the tenant's platform token for code
	// that must call the platform API. The only call site that decrypts.
	DecryptedAccessToken(ctx context.Context, tenantID int64) (string, error)
}

// InstallInput carries the install request parameters.
type InstallInput struct {
	ShopDomain      string
	CodeChallenge   string
	ChallengeMethod string
}

// InstallOutput returns the platform authorization URL and the state nonce
// embedded in it.
type InstallOutput struct {
	AuthorizationURL string
	State            string
}

// CallbackInput captures the platform redirect parameters. Query holds the
// full query set for HMAC verification.
type CallbackInput struct {
	ShopDomain       string
	Code             string
	State            string
	SuppliedVerifier string
	Query            url.Values
}

// CallbackOutput is the completed handshake: a minted session token and the
// post-install redirect target.
type CallbackOutput struct {
	SessionToken string
	ShopDomain   string
	RedirectURL  string
}

// Tenant defaults applied on first install.
const (
	defaultRetentionDays = 30
	defaultDataRegion    = "us"
)

var shopDomainRe = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9-]*\.myshopify\.com$`)

type oauthService struct {
	handshakes repository.HandshakeStore
	tenants    repository.TenantRepository
	users      repository.UserRepository
	sessions   repository.SessionRepository
	platform   platform.Client
	vault      *vault.Vault
	issuer     *jwt.Issuer
	cfg        config.Config
	logger     *zap.Logger
}

// NewOAuthService wires the OAuth flow implementation.
func NewOAuthService(
	handshakes repository.HandshakeStore,
	tenants repository.TenantRepository,
	users repository.UserRepository,
	sessions repository.SessionRepository,
	platformClient platform.Client,
	credVault *vault.Vault,
	issuer *jwt.Issuer,
	cfg config.Config,
	logger *zap.Logger,
) OAuthService {
	return &oauthService{
		handshakes: handshakes,
		tenants:    tenants,
		users:      users,
		sessions:   sessions,
		platform:   platformClient,
		vault:      credVault,
		issuer:     issuer,
		cfg:        cfg,
		logger:     logger,
	}
}

func (s *oauthService) Install(ctx context.Context, in InstallInput) (*InstallOutput, error) {
	shop := strings.ToLower(strings.TrimSpace(in.ShopDomain))
	challenge := strings.TrimSpace(in.CodeChallenge)

	if shop == "" || challenge == "" {
		return nil, domain.ErrMissingParameter
	}
	if !shopDomainRe.MatchString(shop) {
		return nil, domain.ErrInvalidDomain
	}
	if strings.TrimSpace(s.cfg.PlatformClientID) == "" {
		return nil, fmt.Errorf("%w: platform client id unset", domain.ErrConfiguration)
	}

	// With S256 the verifier stays client-side until the callback; any other
	// method means the caller handed us the verifier itself.
	verifier := ""
	if !strings.EqualFold(in.ChallengeMethod, "S256") {
		verifier = challenge
	}

	state, err := s.handshakes.Create(ctx, shop, verifier)
	if err != nil {
		return nil, fmt.Errorf("create handshake: %w", err)
	}

	authURL := url.URL{
		Scheme: "https",
		Host:   shop,
		Path:   "/admin/oauth/authorize",
	}
	params := url.Values{}
	params.Set("client_id", s.cfg.PlatformClientID)
	params.Set("scope", s.cfg.PlatformScopes)
	params.Set("redirect_uri", s.cfg.RedirectURI())
	params.Set("state", state.StateNonce)
	params.Set("code_challenge", challenge)
	params.Set("code_challenge_method", "S256")
	authURL.RawQuery = params.Encode()

	s.log().Info("install_requested",
		zap.String("shop", shop),
		zap.String("state", state.StateNonce),
	)

	return &InstallOutput{
		AuthorizationURL: authURL.String(),
		State:            state.StateNonce,
	}, nil
}

func (s *oauthService) AttachVerifier(ctx context.Context, shopDomain, stateNonce, verifier string) error {
	shop := strings.ToLower(strings.TrimSpace(shopDomain))
	if shop == "" || strings.TrimSpace(stateNonce) == "" || strings.TrimSpace(verifier) == "" {
		return domain.ErrMissingParameter
	}
	return s.handshakes.AttachVerifier(ctx, shop, stateNonce, strings.TrimSpace(verifier))
}

func (s *oauthService) Callback(ctx context.Context, in CallbackInput) (*CallbackOutput, error) {
	shop := strings.ToLower(strings.TrimSpace(in.ShopDomain))
	if shop == "" || strings.TrimSpace(in.Code) == "" || strings.TrimSpace(in.State) == "" {
		return nil, domain.ErrMissingParameter
	}

	// Authenticity first: nothing is mutated until the query proves it came
	// from the platform unaltered.
	if err := s.verifyCallbackHMAC(in.Query); err != nil {
		s.log().Warn("callback_signature_rejected", zap.String("shop", shop))
		return nil, err
	}

	state, err := s.handshakes.Consume(ctx, shop, in.State)
	if err != nil {
		s.log().Warn("callback_state_rejected", zap.String("shop", shop), zap.Error(err))
		return nil, err
	}
	s.log().Info("callback_consumed", zap.String("shop", shop), zap.String("state", state.StateNonce))

	verifier := strings.TrimSpace(in.SuppliedVerifier)
	if verifier == "" {
		verifier = state.CodeVerifier
	}
	if verifier == "" {
		return nil, domain.ErrMissingVerifier
	}

	exchangeCtx, cancel := context.WithTimeout(ctx, s.cfg.ExchangeTimeout)
	defer cancel()
	token, err := s.platform.ExchangeCode(exchangeCtx, shop, in.Code, verifier)
	if err != nil {
		// The code is single-use; retrying cannot help. The user restarts
		// the install flow with a fresh state/verifier pair.
		s.log().Error("exchange_failed", zap.String("shop", shop), zap.Error(err))
		return nil, err
	}

	encrypted, err := s.vault.EncryptToken(token.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("encrypt access token: %w", err)
	}

	tenant, err := s.tenants.Upsert(ctx, domain.Tenant{
		Domain:               shop,
		EncryptedAccessToken: encrypted,
		Plan:                 domain.PlanFree,
		DataRetentionDays:    defaultRetentionDays,
		DataRegion:           defaultDataRegion,
	})
	if err != nil {
		return nil, fmt.Errorf("upsert tenant: %w", err)
	}

	owner, err := s.users.UpsertOwner(ctx, domain.User{
		TenantID: tenant.ID,
		Email:    "owner@" + shop,
		Name:     "Shop Owner",
		Role:     domain.RoleOwner,
	})
	if err != nil {
		return nil, fmt.Errorf("upsert owner: %w", err)
	}

	session, err := s.sessions.Create(ctx, domain.Session{TenantID: tenant.ID, UserID: owner.ID})
	if err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	if err := s.sessions.AttachToken(ctx, session.ID, encrypted, owner.ID); err != nil {
		return nil, fmt.Errorf("attach session token: %w", err)
	}

	sessionToken, err := s.issuer.Mint(tenant.ID, owner.ID, shop)
	if err != nil {
		return nil, fmt.Errorf("mint session token: %w", err)
	}

	s.log().Info("session_minted",
		zap.String("shop", shop),
		zap.Int64("tenant_id", tenant.ID),
		zap.Int64("user_id", owner.ID),
	)

	return &CallbackOutput{
		SessionToken: sessionToken,
		ShopDomain:   shop,
		RedirectURL:  "/?shop=" + url.QueryEscape(shop),
	}, nil
}

func (s *oauthService) DecryptedAccessToken(ctx context.Context, tenantID int64) (string, error) {
	tenant, err := s.tenants.GetByID(ctx, tenantID)
	if err != nil {
		return "", fmt.Errorf("load tenant: %w", err)
	}
	if !tenant.IsActive {
		return "", domain.ErrTenantInactive
	}
	return s.vault.DecryptToken(tenant.EncryptedAccessToken)
}

// verifyCallbackHMAC checks the platform signature over the full redirect
// query, hmac field excluded from the signing set.
func (s *oauthService) verifyCallbackHMAC(query url.Values) error {
	provided := query.Get("hmac")
	if provided == "" {
		return domain.ErrInvalidSignature
	}
	params := url.Values{}
	for key, values := range query {
		if key == "hmac" {
			continue
		}
		params[key] = values
	}
	if !crypto.VerifyHMAC(params, provided, s.cfg.PlatformClientSecret) {
		return domain.ErrInvalidSignature
	}
	return nil
}

func (s *oauthService) log() *zap.Logger {
	if s != nil && s.logger != nil {
		return s.logger
	}
	return zap.L()
}
