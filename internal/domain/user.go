package domain

import "time"

// Role identifies a user's permission level within a tenant.
type Role string

const (
	RoleOwner  Role = "owner"
	RoleMember Role = "member"
)

// User represents an end user belonging to a tenant. Users are unique on
// (TenantID, Email).
type User struct {
	ID        int64
	TenantID  int64
	Email     string
	Name      string
	Role      Role
	Active    bool
	LastLogin time.Time
	CreatedAt time.Time
	UpdatedAt time.Time
}
