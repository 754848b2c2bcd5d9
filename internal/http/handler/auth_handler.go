package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/awolfe89/sds-shopify/internal/config"
	"github.com/awolfe89/sds-shopify/internal/domain"
	"github.com/awolfe89/sds-shopify/internal/jwt"
	"github.com/awolfe89/sds-shopify/internal/middleware"
	"github.com/awolfe89/sds-shopify/internal/service"
)

// AuthHandler exposes the OAuth handshake endpoints.
type AuthHandler struct {
	OAuth  service.OAuthService
	Issuer *jwt.Issuer
	Config config.Config
}

// NewAuthHandler creates the handler set.
func NewAuthHandler(oauth service.OAuthService, issuer *jwt.Issuer, cfg config.Config) *AuthHandler {
	return &AuthHandler{OAuth: oauth, Issuer: issuer, Config: cfg}
}

// Install begins the authorization flow and redirects the merchant to the
// platform's consent screen.
func (h *AuthHandler) Install(c *gin.Context) {
	out, err := h.OAuth.Install(c.Request.Context(), service.InstallInput{
		ShopDomain:      c.Query("shop"),
		CodeChallenge:   c.Query("code_challenge"),
		ChallengeMethod: c.DefaultQuery("code_challenge_method", "S256"),
	})
	if err != nil {
		h.respondAuthError(c, err)
		return
	}
	c.Redirect(http.StatusFound, out.AuthorizationURL)
}

// AttachVerifier records the PKCE verifier the installing client held back
// at install time.
func (h *AuthHandler) AttachVerifier(c *gin.Context) {
	var req struct {
		Shop     string `json:"shop" binding:"required"`
		State    string `json:"state" binding:"required"`
		Verifier string `json:"verifier" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "shop, state, and verifier are required"})
		return
	}
	if err := h.OAuth.AttachVerifier(c.Request.Context(), req.Shop, req.State, req.Verifier); err != nil {
		h.respondAuthError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// Callback completes the handshake: verifies the redirect, exchanges the
// code, and hands the browser a session cookie.
func (h *AuthHandler) Callback(c *gin.Context) {
	out, err := h.OAuth.Callback(c.Request.Context(), service.CallbackInput{
		ShopDomain:       c.Query("shop"),
		Code:             c.Query("code"),
		State:            c.Query("state"),
		SuppliedVerifier: c.Query("code_verifier"),
		Query:            c.Request.URL.Query(),
	})
	if err != nil {
		h.respondAuthError(c, err)
		return
	}

	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(
		middleware.SessionCookieName,
		out.SessionToken,
		int(h.Issuer.TTL().Seconds()),
		"/",
		"",
		h.Config.IsProduction(),
		true,
	)
	c.Redirect(http.StatusFound, out.RedirectURL)
}

// Verify reports the identity behind the caller's session token.
func (h *AuthHandler) Verify(c *gin.Context) {
	identity, ok := middleware.IdentityFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"success": false, "error": "Unauthorized"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"shop":    identity.Tenant.Domain,
		"user": gin.H{
			"id":   identity.User.ID,
			"role": identity.User.Role,
		},
	})
}

// Logout clears the session cookie. The token itself simply ages out.
func (h *AuthHandler) Logout(c *gin.Context) {
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(middleware.SessionCookieName, "", -1, "/", "", h.Config.IsProduction(), true)
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// respondAuthError maps handshake failures to HTTP responses. Exchange and
// storage failures collapse into one generic body so the redirect query, a
// value an attacker controls, never selects the error detail shown.
func (h *AuthHandler) respondAuthError(c *gin.Context, err error) {
	logger := zap.L()
	switch {
	case errors.Is(err, domain.ErrMissingParameter):
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "missing required parameters"})
	case errors.Is(err, domain.ErrInvalidDomain):
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "invalid shop domain"})
	case errors.Is(err, domain.ErrInvalidState):
		logger.Warn("auth state rejected", zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "invalid or expired state"})
	case errors.Is(err, domain.ErrMissingVerifier):
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "missing code verifier"})
	case errors.Is(err, domain.ErrInvalidSignature):
		logger.Warn("auth signature rejected", zap.Error(err))
		c.JSON(http.StatusUnauthorized, gin.H{"success": false, "error": "signature verification failed"})
	case errors.Is(err, domain.ErrTokenExchangeFailed):
		logger.Error("auth exchange failed", zap.Error(err))
		c.JSON(http.StatusBadGateway, gin.H{"success": false, "error": "authentication failed"})
	default:
		logger.Error("auth failure", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "authentication failed"})
	}
}
