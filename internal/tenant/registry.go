package tenant

import (
	"strings"
	"time"

	"github.com/mbd888/agentplatform/internal/registry"
)

// Index names on the tenant registry.
const (
	IndexTier   = "tier"
	IndexDomain = "domain"
)

// Registry is the tenant metadata catalog.
type Registry = registry.Registry[*Tenant]

// NewRegistry creates an empty tenant registry indexed by status and tier,
// with domain as a unique key.
func NewRegistry() *Registry {
	return registry.New("tenants", registry.Config[*Tenant]{
		ID:     func(t *Tenant) string { return t.ID },
		Clone:  func(t *Tenant) *Tenant { return t.Clone() },
		Status: func(t *Tenant) string { return string(t.Status) },
		SetStatus: func(t *Tenant, status string, at time.Time) {
			t.Status = Status(status)
			t.UpdatedAt = at
		},
		Indexes: map[string]func(*Tenant) []string{
			IndexTier: func(t *Tenant) []string { return []string{string(t.Tier)} },
		},
		Unique: map[string]func(*Tenant) string{
			IndexDomain: func(t *Tenant) string { return strings.ToLower(t.Domain) },
		},
		SearchText: func(t *Tenant) []string {
			return []string{t.ID, t.Name, t.DisplayName, t.Description, t.Domain}
		},
	})
}
