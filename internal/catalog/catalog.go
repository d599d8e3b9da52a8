// Package catalog puts a registry, its YAML loader and tenant visibility
// rules behind one service so every domain (agents, plugins, data sources,
// knowledge bases, workflows, providers) exposes the same operations and
// the same HTTP surface.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/mbd888/agentplatform/internal/declarative"
	"github.com/mbd888/agentplatform/internal/events"
	"github.com/mbd888/agentplatform/internal/logging"
	"github.com/mbd888/agentplatform/internal/registry"
	"github.com/mbd888/agentplatform/internal/traces"
)

// Errors
var (
	ErrNotFound       = errors.New("catalog: not found")
	ErrForbidden      = errors.New("catalog: record belongs to another tenant")
	ErrInvalidStatus  = errors.New("catalog: unknown status")
	ErrTenantRequired = errors.New("catalog: a tenant is required")
	ErrNotPatchable   = errors.New("catalog: records cannot be patched")
)

// Resource describes one registry exposed through the catalog.
type Resource[T any] struct {
	// Name is the plural resource name: route segment, list key and
	// event resource ("agents").
	Name string
	// Singular is the JSON key for one record ("agent").
	Singular string

	Registry *registry.Registry[T]
	Loader   *declarative.Loader[T]
	Binding  declarative.Binding[T]

	// TenantOf returns the owning tenant; "" marks a shared record.
	// Nil means the resource is global and only admins may change it.
	TenantOf   func(T) string
	WithTenant func(rec T, tenantID string) T

	ValidStatus func(string) bool

	// Apply copies the declared attributes of next onto cur, keeping
	// identity, owner, status and runtime state. Nil disables Patch.
	Apply func(cur, next T)

	// Filters maps list query parameters to index names,
	// e.g. "type" -> "agent_type".
	Filters map[string]string
}

// Scope is the caller a catalog operation runs for.
type Scope struct {
	TenantID string
	Admin    bool
}

// Catalog is the tenant-aware service over one registry.
type Catalog[T any] struct {
	res    Resource[T]
	events events.Publisher
	logger *slog.Logger
}

// New creates a catalog for res. A nil logger uses slog.Default().
func New[T any](res Resource[T], logger *slog.Logger) *Catalog[T] {
	if res.Registry == nil || res.Loader == nil {
		panic("catalog: Resource.Registry and Resource.Loader are required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Catalog[T]{res: res, events: events.Nop{}, logger: logger}
}

// WithEvents sets the publisher for registry changes.
func (c *Catalog[T]) WithEvents(p events.Publisher) *Catalog[T] {
	if p != nil {
		c.events = p
	}
	return c
}

// Name returns the resource name.
func (c *Catalog[T]) Name() string { return c.res.Name }

// Registry exposes the underlying registry to the owning domain package.
func (c *Catalog[T]) Registry() *registry.Registry[T] { return c.res.Registry }

// Visible reports whether scope may read rec.
func (c *Catalog[T]) Visible(s Scope, rec T) bool {
	if s.Admin || c.res.TenantOf == nil {
		return true
	}
	owner := c.res.TenantOf(rec)
	return owner == "" || owner == s.TenantID
}

// Writable reports whether scope may change rec. Shared and global
// records are admin-only.
func (c *Catalog[T]) Writable(s Scope, rec T) bool {
	if s.Admin {
		return true
	}
	if c.res.TenantOf == nil {
		return false
	}
	owner := c.res.TenantOf(rec)
	return owner != "" && owner == s.TenantID
}

// Get returns the record when it exists and is visible to scope.
func (c *Catalog[T]) Get(s Scope, id string) (T, error) {
	var zero T
	rec, ok := c.res.Registry.Get(id)
	if !ok {
		return zero, fmt.Errorf("%w: %s %s", ErrNotFound, c.res.Singular, id)
	}
	if !c.Visible(s, rec) {
		return zero, ErrForbidden
	}
	return rec, nil
}

// List returns the records matching f that scope can see. The limit is
// applied after the visibility filter.
func (c *Catalog[T]) List(s Scope, f registry.Filter) []T {
	limit := f.Limit
	f.Limit = 0
	out := c.visible(s, c.res.Registry.List(f))
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// Search matches query against the searchable text of visible records.
func (c *Catalog[T]) Search(s Scope, query string) []T {
	return c.visible(s, c.res.Registry.Search(query))
}

// Stats returns registry statistics. Tenants only see counts over the
// records visible to them.
func (c *Catalog[T]) Stats(s Scope) map[string]any {
	if s.Admin || c.res.TenantOf == nil {
		return c.res.Registry.Stats()
	}
	recs := c.visible(s, c.res.Registry.All())
	byStatus := make(map[string]int)
	for _, rec := range recs {
		if st := c.res.Binding.Status(rec); st != "" {
			byStatus[st]++
		}
	}
	return map[string]any{"total": len(recs), "by_status": byStatus}
}

// Create registers rec for scope. Non-admins always create records owned
// by their tenant. The record is registered with the default status and
// its declared status is applied afterwards.
func (c *Catalog[T]) Create(ctx context.Context, s Scope, rec T) (_ T, err error) {
	ctx, span := traces.StartRegistrySpan(ctx, c.res.Name, "create", c.res.Binding.ID(rec), s.TenantID, s.Admin)
	defer func() { traces.Fail(span, err); span.End() }()

	var zero T
	if c.res.TenantOf == nil && !s.Admin {
		return zero, ErrForbidden
	}
	if c.res.TenantOf != nil && !s.Admin {
		if s.TenantID == "" {
			return zero, ErrTenantRequired
		}
		rec = c.res.WithTenant(rec, s.TenantID)
	}

	b := c.res.Binding
	status := b.Status(rec)
	if status != "" && c.res.ValidStatus != nil && !c.res.ValidStatus(status) {
		return zero, fmt.Errorf("%w %q", ErrInvalidStatus, status)
	}
	if _, err := c.res.Registry.Register(b.WithStatus(rec, b.DefaultStatus)); err != nil {
		return zero, err
	}
	id := b.ID(rec)
	if status != "" && status != b.DefaultStatus {
		c.res.Registry.UpdateStatus(id, status)
	}

	stored, _ := c.res.Registry.Get(id)
	c.publish(ctx, events.TypeRegistered, stored, nil)
	logging.L(ctx).Info(c.res.Singular+" registered", "id", id)
	return stored, nil
}

// Delete unregisters id when scope may change it.
func (c *Catalog[T]) Delete(ctx context.Context, s Scope, id string) (err error) {
	ctx, span := traces.StartRegistrySpan(ctx, c.res.Name, "delete", id, s.TenantID, s.Admin)
	defer func() { traces.Fail(span, err); span.End() }()

	rec, ok := c.res.Registry.Get(id)
	if !ok {
		return fmt.Errorf("%w: %s %s", ErrNotFound, c.res.Singular, id)
	}
	if !c.Writable(s, rec) {
		return ErrForbidden
	}
	if !c.res.Registry.Unregister(id) {
		return fmt.Errorf("%w: %s %s", ErrNotFound, c.res.Singular, id)
	}
	c.publish(ctx, events.TypeUnregistered, rec, nil)
	logging.L(ctx).Info(c.res.Singular+" unregistered", "id", id)
	return nil
}

// SetStatus moves id to status when scope may change it.
func (c *Catalog[T]) SetStatus(ctx context.Context, s Scope, id, status string) (_ T, err error) {
	ctx, span := traces.StartRegistrySpan(ctx, c.res.Name, "set_status", id, s.TenantID, s.Admin)
	defer func() { traces.Fail(span, err); span.End() }()

	var zero T
	if c.res.ValidStatus != nil && !c.res.ValidStatus(status) {
		return zero, fmt.Errorf("%w %q", ErrInvalidStatus, status)
	}
	rec, ok := c.res.Registry.Get(id)
	if !ok {
		return zero, fmt.Errorf("%w: %s %s", ErrNotFound, c.res.Singular, id)
	}
	if !c.Writable(s, rec) {
		return zero, ErrForbidden
	}
	from := c.res.Binding.Status(rec)
	if !c.res.Registry.UpdateStatus(id, status) {
		return zero, fmt.Errorf("%w: %s %s", ErrNotFound, c.res.Singular, id)
	}
	updated, _ := c.res.Registry.Get(id)
	c.publish(ctx, events.TypeStatusChanged, updated, map[string]any{"from": from, "to": status})
	return updated, nil
}

// Update applies fn to id when scope may change it.
func (c *Catalog[T]) Update(ctx context.Context, s Scope, id string, fn func(T) error) (_ T, err error) {
	ctx, span := traces.StartRegistrySpan(ctx, c.res.Name, "update", id, s.TenantID, s.Admin)
	defer func() { traces.Fail(span, err); span.End() }()

	var zero T
	rec, ok := c.res.Registry.Get(id)
	if !ok {
		return zero, fmt.Errorf("%w: %s %s", ErrNotFound, c.res.Singular, id)
	}
	if !c.Writable(s, rec) {
		return zero, ErrForbidden
	}
	updated, err := c.res.Registry.Update(id, fn)
	if err != nil {
		if errors.Is(err, registry.ErrNotFound) {
			return zero, fmt.Errorf("%w: %s %s", ErrNotFound, c.res.Singular, id)
		}
		return zero, err
	}
	c.publish(ctx, events.TypeUpdated, updated, nil)
	return updated, nil
}

// Patch lays fields over the declared form of id, re-parses the result
// and applies it through Update. Keys use the export spelling.
func (c *Catalog[T]) Patch(ctx context.Context, s Scope, id string, fields declarative.Fields) (T, error) {
	if c.res.Apply == nil {
		var zero T
		return zero, ErrNotPatchable
	}
	return c.Update(ctx, s, id, func(cur T) error {
		merged, err := c.res.Loader.Fields(cur)
		if err != nil {
			return err
		}
		for k, v := range fields {
			merged[k] = v
		}
		next, err := c.res.Loader.Parse(merged)
		if err != nil {
			return err
		}
		if c.res.Binding.ID(next) != id {
			return registry.ErrIDChanged
		}
		c.res.Apply(cur, next)
		return nil
	})
}

// Import merges a YAML document into the registry.
func (c *Catalog[T]) Import(ctx context.Context, data []byte, opts declarative.Options) (*declarative.Result, error) {
	ctx, span := traces.StartSpan(ctx, c.res.Name+".import", traces.Resource(c.res.Name))
	defer span.End()

	res, err := declarative.ImportBytes(c.res.Loader, c.res.Registry, c.res.Binding, data, opts)
	if err != nil {
		traces.Fail(span, err)
		return nil, err
	}
	span.SetAttributes(traces.ImportOutcome(len(res.Imported), len(res.Updated), len(res.Skipped), len(res.Errors))...)
	c.announceImport(ctx, res)
	return res, nil
}

// Export renders every record as a YAML document.
func (c *Catalog[T]) Export() ([]byte, error) {
	return c.res.Loader.ExportBytes(c.res.Registry.All())
}

// LoadDir imports every YAML file in dir. A missing directory is not an
// error; an unreadable file is logged and skipped.
func (c *Catalog[T]) LoadDir(ctx context.Context, dir string, opts declarative.Options) (*declarative.Result, error) {
	total := &declarative.Result{
		Imported: []string{},
		Updated:  []string{},
		Skipped:  []string{},
		Errors:   []declarative.ItemError{},
	}
	files, err := declarative.Files(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return total, nil
	}
	if err != nil {
		return nil, fmt.Errorf("catalog: list %s: %w", dir, err)
	}

	for _, path := range files {
		data, err := os.ReadFile(path) // #nosec G304 -- operator-supplied config dir
		if err != nil {
			c.logger.Warn("skipping seed file", "registry", c.res.Name, "file", path, "error", err)
			continue
		}
		res, err := declarative.ImportBytes(c.res.Loader, c.res.Registry, c.res.Binding, data, opts)
		if err != nil {
			c.logger.Warn("skipping seed file", "registry", c.res.Name, "file", filepath.Base(path), "error", err)
			continue
		}
		total.Imported = append(total.Imported, res.Imported...)
		total.Updated = append(total.Updated, res.Updated...)
		total.Skipped = append(total.Skipped, res.Skipped...)
		total.Errors = append(total.Errors, res.Errors...)
		total.Total += res.Total
	}
	if len(files) > 0 {
		c.announceImport(ctx, total)
	}
	return total, nil
}

func (c *Catalog[T]) announceImport(ctx context.Context, res *declarative.Result) {
	c.events.Publish(ctx, events.New(c.res.Name, events.TypeImported, "", map[string]any{
		"imported": len(res.Imported),
		"updated":  len(res.Updated),
		"skipped":  len(res.Skipped),
		"errors":   len(res.Errors),
	}))
	c.logger.Info("import finished", "registry", c.res.Name,
		"imported", len(res.Imported), "updated", len(res.Updated),
		"skipped", len(res.Skipped), "errors", len(res.Errors))
}

func (c *Catalog[T]) visible(s Scope, recs []T) []T {
	out := recs[:0]
	for _, rec := range recs {
		if c.Visible(s, rec) {
			out = append(out, rec)
		}
	}
	return out
}

func (c *Catalog[T]) publish(ctx context.Context, typ string, rec T, data map[string]any) {
	e := events.New(c.res.Name, typ, c.res.Binding.ID(rec), data)
	if c.res.TenantOf != nil {
		e = e.ForTenant(c.res.TenantOf(rec))
	}
	c.events.Publish(ctx, e)
}
