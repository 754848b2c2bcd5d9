package ai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/awolfe89/sds-shopify/internal/domain"
)

func newTestEnhancer(t *testing.T, handler http.HandlerFunc) *HTTPEnhancer {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	enhancer := NewHTTPEnhancer(server.Client(), "managed-key")
	enhancer.endpoint = server.URL
	return enhancer
}

func TestEnhanceDecodesCompletion(t *testing.T) {
	var gotAuth, gotModel string
	enhancer := newTestEnhancer(t, func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		var req chatRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		gotModel = req.Model

		content := `{"title":"T","bodyHtml":"<h1>T</h1>","tags":["a","b"],"seoDescription":"desc"}`
		resp := chatResponse{Model: req.Model}
		resp.Choices = []struct {
			Message chatMessage `json:"message"`
		}{{Message: chatMessage{Role: "assistant", Content: content}}}
		resp.Usage.TotalTokens = 321
		require.NoError(t, json.NewEncoder(w).Encode(resp))
	})

	result, err := enhancer.Enhance(context.Background(), EnhanceInput{
		Text: "raw text",
		Plan: domain.PlanPro,
	})
	require.NoError(t, err)
	require.Equal(t, "Bearer managed-key", gotAuth)
	require.Equal(t, "gpt-4o", gotModel)
	require.Equal(t, "T", result.Title)
	require.Equal(t, []string{"a", "b"}, result.Tags)
	require.Equal(t, 321, result.TokensUsed)
}

func TestEnhanceStatusMapping(t *testing.T) {
	cases := map[string]struct {
		status int
		want   error
	}{
		"unauthorized": {http.StatusUnauthorized, ErrInvalidAPIKey},
		"rate_limited": {http.StatusTooManyRequests, ErrRateLimited},
		"server_error": {http.StatusInternalServerError, ErrEnhancement},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			enhancer := newTestEnhancer(t, func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tc.status)
			})
			_, err := enhancer.Enhance(context.Background(), EnhanceInput{Text: "x"})
			require.ErrorIs(t, err, tc.want)
		})
	}
}

func TestEnhanceRequiresKey(t *testing.T) {
	enhancer := NewHTTPEnhancer(nil, "")
	_, err := enhancer.Enhance(context.Background(), EnhanceInput{Text: "x"})
	require.ErrorIs(t, err, ErrNoAPIKey)
}

func TestModelSelection(t *testing.T) {
	require.Equal(t, "gpt-4o", modelFor(domain.PlanFree, true))
	require.Equal(t, "gpt-3.5-turbo", modelFor(domain.PlanFree, false))
	require.Equal(t, "gpt-3.5-turbo", modelFor(domain.PlanBasic, false))
	require.Equal(t, "gpt-4o", modelFor(domain.PlanPro, false))
	require.Equal(t, "gpt-4o", modelFor(domain.PlanEnterprise, false))
}
