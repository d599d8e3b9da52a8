// Package tenant implements tenant metadata, access control and
// tenant-scoped data access for the platform.
package tenant

import (
	"errors"
	"time"
)

// Errors
var (
	ErrTenantNotFound = errors.New("tenant: not found")
	ErrTenantExists   = errors.New("tenant: already exists")
	ErrDomainTaken    = errors.New("tenant: domain already in use")
	ErrInvalidTenant  = errors.New("tenant: invalid tenant")
	ErrAccessDenied   = errors.New("tenant: access denied")
	ErrNoTenant       = errors.New("tenant: tenant id is required")
)

// Status is the lifecycle state of a tenant.
type Status string

const (
	StatusActive    Status = "active"
	StatusInactive  Status = "inactive"
	StatusSuspended Status = "suspended"
	StatusTrial     Status = "trial"
	StatusExpired   Status = "expired"
)

// ValidStatus reports whether s is a known status.
func ValidStatus(s Status) bool {
	switch s {
	case StatusActive, StatusInactive, StatusSuspended, StatusTrial, StatusExpired:
		return true
	}
	return false
}

// Usable reports whether a tenant in this status may serve requests.
func (s Status) Usable() bool {
	return s == StatusActive || s == StatusTrial
}

// Tier is the commercial tier a tenant is on.
type Tier string

const (
	TierFree         Tier = "free"
	TierBasic        Tier = "basic"
	TierProfessional Tier = "professional"
	TierEnterprise   Tier = "enterprise"
)

// Metadata defaults applied when a declaration leaves a field out.
const (
	DefaultMaxUsers          = 10
	DefaultMaxStorageGB      = 1
	DefaultMaxAPICallsPerDay = 1000
)

// Tenant is the metadata record for one tenant.
type Tenant struct {
	ID          string `json:"tenant_id"`
	Name        string `json:"name"`
	DisplayName string `json:"display_name"`
	Description string `json:"description,omitempty"`
	Domain      string `json:"domain,omitempty"`
	Tier        Tier   `json:"tier"`
	Status      Status `json:"status"`

	MaxUsers          int      `json:"max_users"`
	MaxStorageGB      int      `json:"max_storage_gb"`
	MaxAPICallsPerDay int      `json:"max_api_calls_per_day"`
	Features          []string `json:"features"`

	Config   map[string]any `json:"config,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`

	OwnerID     string   `json:"owner_id,omitempty"`
	AdminEmails []string `json:"admin_emails,omitempty"`

	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

// Clone returns a deep copy.
func (t *Tenant) Clone() *Tenant {
	if t == nil {
		return nil
	}
	cp := *t
	cp.Features = append([]string(nil), t.Features...)
	cp.AdminEmails = append([]string(nil), t.AdminEmails...)
	cp.Config = cloneMap(t.Config)
	cp.Metadata = cloneMap(t.Metadata)
	if t.ExpiresAt != nil {
		exp := *t.ExpiresAt
		cp.ExpiresAt = &exp
	}
	return &cp
}

// IsExpired reports whether the tenant's expiry lies strictly before now.
func (t *Tenant) IsExpired(now time.Time) bool {
	return t.ExpiresAt != nil && t.ExpiresAt.Before(now)
}

// HasFeature reports whether feature is enabled for the tenant.
func (t *Tenant) HasFeature(feature string) bool {
	for _, f := range t.Features {
		if f == feature {
			return true
		}
	}
	return false
}

func cloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
