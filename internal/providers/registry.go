package providers

import (
	"log/slog"
	"time"

	"github.com/mbd888/agentplatform/internal/catalog"
	"github.com/mbd888/agentplatform/internal/registry"
)

// Index names on the provider registry.
const (
	IndexFeature    = "feature"
	IndexAggregator = "aggregator_type"
)

// Registry is the provider catalog.
type Registry = registry.Registry[*Provider]

// NewRegistry creates an empty registry keyed by provider name.
func NewRegistry() *Registry {
	return registry.New("providers", registry.Config[*Provider]{
		ID:     func(p *Provider) string { return p.Name },
		Clone:  func(p *Provider) *Provider { return p.Clone() },
		Status: func(p *Provider) string { return string(p.Status) },
		SetStatus: func(p *Provider, status string, at time.Time) {
			p.Status = Status(status)
			p.Active = p.Status == StatusActive
			p.UpdatedAt = at
		},
		Enabled: func(p *Provider) bool { return p.Active },
		Indexes: map[string]func(*Provider) []string{
			IndexFeature: func(p *Provider) []string { return p.SupportedFeatures },
			IndexAggregator: func(p *Provider) []string {
				if !p.IsAggregator {
					return nil
				}
				return []string{p.AggregatorType}
			},
		},
		SearchText: func(p *Provider) []string {
			return []string{p.Name, p.DisplayName, p.Description}
		},
	})
}

// NewCatalog wires the provider registry and loader. Providers are global.
func NewCatalog(reg *Registry, logger *slog.Logger) *catalog.Catalog[*Provider] {
	return catalog.New(catalog.Resource[*Provider]{
		Name:        "providers",
		Singular:    "provider",
		Registry:    reg,
		Loader:      NewLoader(),
		Binding:     Binding(),
		ValidStatus: ValidStatus,
		Apply: func(cur, next *Provider) {
			name, status, created := cur.Name, cur.Status, cur.CreatedAt
			*cur = *next
			cur.Name, cur.Status, cur.CreatedAt = name, status, created
			cur.UpdatedAt = time.Now().UTC()
		},
		Filters: map[string]string{
			"feature":         IndexFeature,
			"aggregator_type": IndexAggregator,
		},
	}, logger)
}
