package datasources

import (
	"log/slog"
	"time"

	"github.com/mbd888/agentplatform/internal/catalog"
	"github.com/mbd888/agentplatform/internal/registry"
)

// Index names on the data source registry.
const (
	IndexType   = "source_type"
	IndexMarket = "market"
)

// Registry is the data source catalog.
type Registry = registry.Registry[*Source]

// NewRegistry creates an empty registry. Lists come back by priority,
// highest first.
func NewRegistry() *Registry {
	return registry.New("datasources", registry.Config[*Source]{
		ID:     func(s *Source) string { return s.ID },
		Clone:  func(s *Source) *Source { return s.Clone() },
		Status: func(s *Source) string { return string(s.Status) },
		SetStatus: func(s *Source, status string, at time.Time) {
			s.Status = Status(status)
			s.UpdatedAt = at
		},
		Tags:    func(s *Source) []string { return s.Tags },
		Enabled: func(s *Source) bool { return s.Enabled },
		Indexes: map[string]func(*Source) []string{
			IndexType:   func(s *Source) []string { return []string{string(s.Type)} },
			IndexMarket: func(s *Source) []string { return s.SupportedMarkets },
		},
		SearchText: func(s *Source) []string {
			return append([]string{s.Name, s.DisplayName, s.Description}, s.Tags...)
		},
		Less: func(a, b *Source) bool { return a.Priority > b.Priority },
	})
}

// NewCatalog wires the data source registry, loader and tenant rules.
func NewCatalog(reg *Registry, logger *slog.Logger) *catalog.Catalog[*Source] {
	return catalog.New(catalog.Resource[*Source]{
		Name:     "datasources",
		Singular: "datasource",
		Registry: reg,
		Loader:   NewLoader(),
		Binding:  Binding(),
		TenantOf: func(s *Source) string { return s.TenantID },
		WithTenant: func(s *Source, tenantID string) *Source {
			cp := s.Clone()
			cp.TenantID = tenantID
			return cp
		},
		ValidStatus: ValidStatus,
		Filters: map[string]string{
			"type":   IndexType,
			"market": IndexMarket,
		},
	}, logger)
}
