package plugins

import (
	"log/slog"
	"time"

	"github.com/mbd888/agentplatform/internal/catalog"
	"github.com/mbd888/agentplatform/internal/registry"
)

// Index names on the plugin registry.
const (
	IndexCapability = "capability"
	IndexAuthor     = "author"
)

// Registry is the plugin metadata catalog.
type Registry = registry.Registry[*Metadata]

// NewRegistry creates an empty plugin registry.
func NewRegistry() *Registry {
	return registry.New("plugins", registry.Config[*Metadata]{
		ID:     func(m *Metadata) string { return m.ID },
		Clone:  func(m *Metadata) *Metadata { return m.Clone() },
		Status: func(m *Metadata) string { return string(m.Status) },
		SetStatus: func(m *Metadata, status string, at time.Time) {
			m.Status = Status(status)
			m.UpdatedAt = at
		},
		Tags:    func(m *Metadata) []string { return m.Tags },
		Enabled: func(m *Metadata) bool { return m.Enabled },
		Indexes: map[string]func(*Metadata) []string{
			IndexCapability: func(m *Metadata) []string {
				out := make([]string, len(m.Capabilities))
				for i, c := range m.Capabilities {
					out[i] = string(c)
				}
				return out
			},
			IndexAuthor: func(m *Metadata) []string { return []string{m.Author} },
		},
		SearchText: func(m *Metadata) []string {
			return append([]string{m.Name, m.Description}, m.Tags...)
		},
	})
}

// NewCatalog wires the plugin registry, loader and tenant rules together.
func NewCatalog(reg *Registry, logger *slog.Logger) *catalog.Catalog[*Metadata] {
	return catalog.New(catalog.Resource[*Metadata]{
		Name:     "plugins",
		Singular: "plugin",
		Registry: reg,
		Loader:   NewLoader(),
		Binding:  Binding(),
		TenantOf: func(m *Metadata) string { return m.TenantID },
		WithTenant: func(m *Metadata, tenantID string) *Metadata {
			cp := m.Clone()
			cp.TenantID = tenantID
			return cp
		},
		ValidStatus: ValidStatus,
		Filters: map[string]string{
			"capability": IndexCapability,
			"author":     IndexAuthor,
		},
	}, logger)
}
