package knowledge

import (
	"log/slog"
	"time"

	"github.com/mbd888/agentplatform/internal/catalog"
	"github.com/mbd888/agentplatform/internal/registry"
)

// Index names on the knowledge base registry.
const (
	IndexVectorStore = "vector_store"
	IndexEmbedding   = "embedding_model"
	IndexCollection  = "collection"
)

// Registry is the knowledge base catalog.
type Registry = registry.Registry[*Base]

// NewRegistry creates an empty registry. Collection names are unique.
func NewRegistry() *Registry {
	return registry.New("knowledge", registry.Config[*Base]{
		ID:     func(b *Base) string { return b.ID },
		Clone:  func(b *Base) *Base { return b.Clone() },
		Status: func(b *Base) string { return string(b.Status) },
		SetStatus: func(b *Base, status string, at time.Time) {
			b.Status = Status(status)
			b.UpdatedAt = at
		},
		Tags: func(b *Base) []string { return b.Tags },
		Indexes: map[string]func(*Base) []string{
			IndexVectorStore: func(b *Base) []string { return []string{b.VectorStoreType} },
			IndexEmbedding:   func(b *Base) []string { return []string{b.EmbeddingModel} },
		},
		Unique: map[string]func(*Base) string{
			IndexCollection: func(b *Base) string { return b.CollectionName },
		},
		SearchText: func(b *Base) []string {
			return append([]string{b.Name, b.Description}, b.Tags...)
		},
	})
}

// NewCatalog wires the knowledge base registry, loader and tenant rules.
func NewCatalog(reg *Registry, logger *slog.Logger) *catalog.Catalog[*Base] {
	return catalog.New(catalog.Resource[*Base]{
		Name:     "knowledge",
		Singular: "knowledge_base",
		Registry: reg,
		Loader:   NewLoader(),
		Binding:  Binding(),
		TenantOf: func(b *Base) string { return b.TenantID },
		WithTenant: func(b *Base, tenantID string) *Base {
			cp := b.Clone()
			cp.TenantID = tenantID
			return cp
		},
		Apply: func(cur, next *Base) {
			id, tenantID, status, created := cur.ID, cur.TenantID, cur.Status, cur.CreatedAt
			*cur = *next
			cur.ID, cur.TenantID, cur.Status, cur.CreatedAt = id, tenantID, status, created
			cur.UpdatedAt = time.Now().UTC()
		},
		ValidStatus: ValidStatus,
		Filters: map[string]string{
			"vector_store":    IndexVectorStore,
			"embedding_model": IndexEmbedding,
		},
	}, logger)
}
