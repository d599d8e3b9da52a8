package workflows

import (
	"log/slog"
	"time"

	"github.com/mbd888/agentplatform/internal/catalog"
	"github.com/mbd888/agentplatform/internal/registry"
)

// Index names on the workflow registry.
const (
	IndexNodeType    = "node_type"
	IndexHandlerType = "handler_type"
)

// Registry is the workflow catalog.
type Registry = registry.Registry[*Workflow]

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return registry.New("workflows", registry.Config[*Workflow]{
		ID:     func(w *Workflow) string { return w.ID },
		Clone:  func(w *Workflow) *Workflow { return w.Clone() },
		Status: func(w *Workflow) string { return string(w.Status) },
		SetStatus: func(w *Workflow, status string, at time.Time) {
			w.Status = Status(status)
			w.UpdatedAt = at
		},
		Tags: func(w *Workflow) []string { return w.Tags },
		Indexes: map[string]func(*Workflow) []string{
			IndexNodeType:    func(w *Workflow) []string { return w.NodeTypes() },
			IndexHandlerType: func(w *Workflow) []string { return w.HandlerTypes() },
		},
		SearchText: func(w *Workflow) []string {
			return append([]string{w.Name, w.Description}, w.Tags...)
		},
	})
}

// NewCatalog wires the workflow registry, loader and tenant rules.
func NewCatalog(reg *Registry, logger *slog.Logger) *catalog.Catalog[*Workflow] {
	return catalog.New(catalog.Resource[*Workflow]{
		Name:     "workflows",
		Singular: "workflow",
		Registry: reg,
		Loader:   NewLoader(),
		Binding:  Binding(),
		TenantOf: func(w *Workflow) string { return w.TenantID },
		WithTenant: func(w *Workflow, tenantID string) *Workflow {
			cp := w.Clone()
			cp.TenantID = tenantID
			return cp
		},
		Apply: func(cur, next *Workflow) {
			id, tenantID, status, created := cur.ID, cur.TenantID, cur.Status, cur.CreatedAt
			*cur = *next
			cur.ID, cur.TenantID, cur.Status, cur.CreatedAt = id, tenantID, status, created
			cur.UpdatedAt = time.Now().UTC()
		},
		ValidStatus: ValidStatus,
		Filters: map[string]string{
			"node_type":    IndexNodeType,
			"handler_type": IndexHandlerType,
		},
	}, logger)
}
