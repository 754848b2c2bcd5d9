package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/awolfe89/sds-shopify/internal/adapter/ai"
	"github.com/awolfe89/sds-shopify/internal/domain"
)

// Format validation failures surfaced to the handler.
var (
	ErrMissingText = errors.New("format: no text provided")
	ErrTextTooLong = errors.New("format: text exceeds plan character limit")
)

// FormatInput carries the guarded caller's text and preferences.
type FormatInput struct {
	Tenant         domain.Tenant
	Text           string
	TargetFormat   string
	SEOKeywords    []string
	TargetLanguage string
	MerchantAPIKey string
}

// FormatOutput is the enhanced content plus usage accounting.
type FormatOutput struct {
	Content       *ai.EnhanceResult
	EstimatedCost float64
}

// FormatService enforces plan limits and delegates to the AI enhancer.
type FormatService struct {
	enhancer ai.Enhancer
	logger   *zap.Logger
}

// NewFormatService wires the formatting pipeline.
func NewFormatService(enhancer ai.Enhancer, logger *zap.Logger) *FormatService {
	if logger == nil {
		logger = zap.L()
	}
	return &FormatService{enhancer: enhancer, logger: logger}
}

// Format enhances the text, rejecting input beyond the tenant plan's
// character budget. Per-tenant AI opt-out is honored here so no endpoint
// can route around it.
func (s *FormatService) Format(ctx context.Context, in FormatInput) (*FormatOutput, error) {
	text := strings.TrimSpace(in.Text)
	if text == "" {
		return nil, ErrMissingText
	}
	limit := CharLimit(in.Tenant.Plan)
	if len(text) > limit {
		return nil, fmt.Errorf("%w: %d chars, limit %d", ErrTextTooLong, len(text), limit)
	}
	if in.Tenant.AIOptOut {
		return nil, ai.ErrNoAPIKey
	}

	result, err := s.enhancer.Enhance(ctx, ai.EnhanceInput{
		Text:           text,
		Plan:           in.Tenant.Plan,
		TargetFormat:   in.TargetFormat,
		SEOKeywords:    in.SEOKeywords,
		TargetLanguage: in.TargetLanguage,
		MerchantAPIKey: in.MerchantAPIKey,
	})
	if err != nil {
		s.logger.Warn("enhancement_failed",
			zap.Int64("tenant_id", in.Tenant.ID),
			zap.Error(err),
		)
		return nil, err
	}

	s.logger.Info("content_enhanced",
		zap.Int64("tenant_id", in.Tenant.ID),
		zap.String("model", result.Model),
		zap.Int("tokens_used", result.TokensUsed),
	)
	return &FormatOutput{
		Content:       result,
		EstimatedCost: estimatedCost(result.Model, result.TokensUsed),
	}, nil
}

// CharLimit is the per-request character budget by plan tier.
func CharLimit(plan domain.Plan) int {
	switch plan {
	case domain.PlanFree:
		return 2000
	case domain.PlanBasic:
		return 10000
	case domain.PlanPro:
		return 20000
	case domain.PlanEnterprise:
		return 50000
	default:
		return 2000
	}
}

// estimatedCost approximates the provider charge in USD, priced per 1000
// tokens with input and output weighted evenly.
func estimatedCost(model string, tokens int) float64 {
	var perThousand float64
	switch model {
	case "gpt-4o", "gpt-4-turbo":
		perThousand = 0.02
	case "gpt-4":
		perThousand = 0.045
	default:
		perThousand = 0.00175
	}
	return float64(tokens) / 1000 * perThousand
}
