// Package platform holds the outbound HTTP surface to the merchant
// platform's OAuth endpoints.
package platform

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/awolfe89/sds-shopify/internal/config"
	"github.com/awolfe89/sds-shopify/internal/domain"
)

// TokenResponse models the platform's token endpoint reply.
type TokenResponse struct {
	AccessToken string `json:"access_token"`
	Scope       string `json:"scope"`
}

// Client exchanges an authorization code for a long-lived access token.
type Client interface {
	ExchangeCode(ctx context.Context, shopDomain, code, codeVerifier string) (*TokenResponse, error)
}

// HTTPClient is the default implementation. The exchange call carries an
// explicit timeout and is never retried: authorization codes are single-use,
// so a failed exchange requires a fresh install attempt.
type HTTPClient struct {
	httpClient *http.Client
	cfg        config.Config
}

var _ Client = (*HTTPClient)(nil)

// NewHTTPClient constructs the default platform client.
func NewHTTPClient(client *http.Client, cfg config.Config) *HTTPClient {
	if client == nil {
		client = &http.Client{Timeout: cfg.ExchangeTimeout}
	}
	return &HTTPClient{httpClient: client, cfg: cfg}
}

// ExchangeCode posts the code/verifier pair to the shop's token endpoint.
func (c *HTTPClient) ExchangeCode(ctx context.Context, shopDomain, code, codeVerifier string) (*TokenResponse, error) {
	body := map[string]string{
		"client_id":     c.cfg.PlatformClientID,
		"client_secret": c.cfg.PlatformClientSecret,
		"code":          code,
		"redirect_uri":  c.cfg.RedirectURI(),
	}
	if strings.TrimSpace(codeVerifier) != "" {
		body["code_verifier"] = codeVerifier
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encode token request: %w", err)
	}

	endpoint := fmt.Sprintf("https://%s/admin/oauth/access_token", shopDomain)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrTokenExchangeFailed, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("%w: read response: %v", domain.ErrTokenExchangeFailed, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%w: status=%d", domain.ErrTokenExchangeFailed, resp.StatusCode)
	}

	var token TokenResponse
	if err := json.Unmarshal(raw, &token); err != nil {
		return nil, fmt.Errorf("%w: decode response: %v", domain.ErrTokenExchangeFailed, err)
	}
	if strings.TrimSpace(token.AccessToken) == "" {
		return nil, fmt.Errorf("%w: empty access token", domain.ErrTokenExchangeFailed)
	}
	return &token, nil
}
