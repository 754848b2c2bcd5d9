// Package ai holds the outbound HTTP surface to the chat-completions
// provider that reformats extracted document text.
package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/awolfe89/sds-shopify/internal/domain"
)

// Sentinel failures callers map to HTTP responses.
var (
	ErrNoAPIKey      = errors.New("ai: no api key available")
	ErrInvalidAPIKey = errors.New("ai: api key rejected")
	ErrRateLimited   = errors.New("ai: provider rate limit exceeded")
	ErrEnhancement   = errors.New("ai: enhancement failed")
)

const (
	defaultEndpoint = "https://api.openai.com/v1/chat/completions"
	requestTimeout  = 30 * time.Second
)

// EnhanceInput carries the raw text plus formatting preferences.
type EnhanceInput struct {
	Text           string
	Plan           domain.Plan
	TargetFormat   string
	SEOKeywords    []string
	TargetLanguage string
	// MerchantAPIKey, when set, is used instead of the managed key and
	// unlocks the merchant's own model access.
	MerchantAPIKey string
}

// EnhanceResult is the structured content returned by the model.
type EnhanceResult struct {
	Title          string   `json:"title"`
	BodyHTML       string   `json:"bodyHtml"`
	Tags           []string `json:"tags"`
	SEODescription string   `json:"seoDescription"`
	Model          string   `json:"-"`
	TokensUsed     int      `json:"-"`
}

// Enhancer turns raw text into formatted, SEO-ready content.
type Enhancer interface {
	Enhance(ctx context.Context, in EnhanceInput) (*EnhanceResult, error)
}

// HTTPEnhancer is the default chat-completions implementation.
type HTTPEnhancer struct {
	httpClient *http.Client
	endpoint   string
	managedKey string
}

var _ Enhancer = (*HTTPEnhancer)(nil)

// NewHTTPEnhancer constructs the default Enhancer. The managed key may be
// empty; enhancement then requires a merchant-supplied key per request.
func NewHTTPEnhancer(client *http.Client, managedKey string) *HTTPEnhancer {
	if client == nil {
		client = &http.Client{Timeout: requestTimeout}
	}
	return &HTTPEnhancer{httpClient: client, endpoint: defaultEndpoint, managedKey: managedKey}
}

type chatRequest struct {
	Model          string        `json:"model"`
	Messages       []chatMessage `json:"messages"`
	MaxTokens      int           `json:"max_tokens"`
	Temperature    float64       `json:"temperature"`
	ResponseFormat struct {
		Type string `json:"type"`
	} `json:"response_format"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Usage struct {
		TotalTokens int `json:"total_tokens"`
	} `json:"usage"`
}

// Enhance posts the text to the chat-completions endpoint and decodes the
// JSON document the model was instructed to return.
func (e *HTTPEnhancer) Enhance(ctx context.Context, in EnhanceInput) (*EnhanceResult, error) {
	apiKey := strings.TrimSpace(in.MerchantAPIKey)
	if apiKey == "" {
		apiKey = e.managedKey
	}
	if apiKey == "" {
		return nil, ErrNoAPIKey
	}

	model := modelFor(in.Plan, in.MerchantAPIKey != "")
	payload := chatRequest{
		Model: model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt(in)},
			{Role: "user", Content: in.Text},
		},
		MaxTokens:   2048,
		Temperature: 0.7,
	}
	payload.ResponseFormat.Type = "json_object"

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode enhance request: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build enhance request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+apiKey)

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEnhancement, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read enhance response: %w", err)
	}
	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return nil, ErrInvalidAPIKey
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, ErrRateLimited
	case resp.StatusCode >= 300:
		return nil, fmt.Errorf("%w: status=%d", ErrEnhancement, resp.StatusCode)
	}

	var decoded chatResponse
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil, fmt.Errorf("decode enhance response: %w", err)
	}
	if len(decoded.Choices) == 0 {
		return nil, fmt.Errorf("%w: empty completion", ErrEnhancement)
	}

	var result EnhanceResult
	if err := json.Unmarshal([]byte(decoded.Choices[0].Message.Content), &result); err != nil {
		return nil, fmt.Errorf("%w: malformed completion payload: %v", ErrEnhancement, err)
	}
	result.Model = decoded.Model
	if result.Model == "" {
		result.Model = model
	}
	result.TokensUsed = decoded.Usage.TotalTokens
	return &result, nil
}

// modelFor selects the model by plan tier. Merchant keys default to the
// strongest model since the merchant pays for their own usage.
func modelFor(plan domain.Plan, merchantKey bool) string {
	if merchantKey {
		return "gpt-4o"
	}
	switch plan {
	case domain.PlanPro, domain.PlanEnterprise:
		return "gpt-4o"
	default:
		return "gpt-3.5-turbo"
	}
}

func systemPrompt(in EnhanceInput) string {
	format := strings.ToLower(strings.TrimSpace(in.TargetFormat))
	if format != "page" {
		format = "blog"
	}
	language := strings.TrimSpace(in.TargetLanguage)
	if language == "" {
		language = "en-US"
	}

	var b strings.Builder
	if format == "blog" {
		b.WriteString("You are an expert content formatter specializing in blog articles. ")
		b.WriteString("Format the following raw text into a well-structured blog article in " + language + ". ")
		b.WriteString("Create an engaging, SEO-friendly title, format the content with semantic HTML, suggest 5-8 relevant tags, and write a meta description of 150-160 characters. ")
	} else {
		b.WriteString("You are an expert content formatter specializing in web pages. ")
		b.WriteString("Format the following raw text into a well-structured page in " + language + ". ")
		b.WriteString("Create a clear, SEO-friendly title, format the content with semantic HTML, suggest 3-5 relevant tags, and write a meta description of 150-160 characters. ")
	}
	if len(in.SEOKeywords) > 0 {
		b.WriteString("Optimize for these SEO keywords: " + strings.Join(in.SEOKeywords, ", ") + ". ")
	}
	b.WriteString(`Respond with JSON in this format: {"title": "...", "bodyHtml": "...", "tags": ["..."], "seoDescription": "..."}`)
	return b.String()
}
