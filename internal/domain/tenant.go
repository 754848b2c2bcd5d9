package domain

import "time"

// Plan identifies the subscription tier of a tenant.
type Plan string

const (
	PlanFree       Plan = "free"
	PlanBasic      Plan = "basic"
	PlanPro        Plan = "pro"
	PlanEnterprise Plan = "enterprise"
)

// Tenant represents a single installing merchant store. The access token is
// stored encrypted and only decrypted when a platform API call is about to
// be made.
type Tenant struct {
	ID                   int64
	Domain               string
	EncryptedAccessToken string
	Plan                 Plan
	IsActive             bool
	DataRetentionDays    int
	AIOptOut             bool
	DataRegion           string
	CreatedAt            time.Time
	UpdatedAt            time.Time
}
