package agents

import (
	"log/slog"
	"time"

	"github.com/mbd888/agentplatform/internal/catalog"
	"github.com/mbd888/agentplatform/internal/registry"
)

// Index names on the agent registry.
const (
	IndexType       = "agent_type"
	IndexCategory   = "category"
	IndexCapability = "capability"
	IndexTenant     = "tenant"
)

// Registry is the agent definition catalog.
type Registry = registry.Registry[*Agent]

// NewRegistry creates an empty agent registry.
func NewRegistry() *Registry {
	return registry.New("agents", registry.Config[*Agent]{
		ID:     func(a *Agent) string { return a.ID },
		Clone:  func(a *Agent) *Agent { return a.Clone() },
		Status: func(a *Agent) string { return string(a.Status) },
		SetStatus: func(a *Agent, status string, at time.Time) {
			a.Status = Status(status)
			a.UpdatedAt = at
		},
		Tags: func(a *Agent) []string { return a.Tags },
		Indexes: map[string]func(*Agent) []string{
			IndexType:       func(a *Agent) []string { return []string{string(a.Type)} },
			IndexCategory:   func(a *Agent) []string { return []string{a.Category} },
			IndexCapability: func(a *Agent) []string { return a.Capabilities },
			IndexTenant:     func(a *Agent) []string { return []string{a.TenantID} },
		},
		SearchText: func(a *Agent) []string {
			return append([]string{a.Name, a.Description}, a.Tags...)
		},
	})
}

// NewCatalog wires the agent registry, loader and tenant rules together.
func NewCatalog(reg *Registry, logger *slog.Logger) *catalog.Catalog[*Agent] {
	return catalog.New(catalog.Resource[*Agent]{
		Name:     "agents",
		Singular: "agent",
		Registry: reg,
		Loader:   NewLoader(),
		Binding:  Binding(),
		TenantOf: func(a *Agent) string { return a.TenantID },
		WithTenant: func(a *Agent, tenantID string) *Agent {
			cp := a.Clone()
			cp.TenantID = tenantID
			return cp
		},
		Apply: func(cur, next *Agent) {
			id, tenantID, status, created := cur.ID, cur.TenantID, cur.Status, cur.CreatedAt
			*cur = *next
			cur.ID, cur.TenantID, cur.Status, cur.CreatedAt = id, tenantID, status, created
			cur.UpdatedAt = time.Now().UTC()
		},
		ValidStatus: ValidStatus,
		Filters: map[string]string{
			"type":       IndexType,
			"category":   IndexCategory,
			"capability": IndexCapability,
		},
	}, logger)
}
