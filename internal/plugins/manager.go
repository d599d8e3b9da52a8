package plugins

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mbd888/agentplatform/internal/catalog"
	"github.com/mbd888/agentplatform/internal/events"
	"github.com/mbd888/agentplatform/internal/logging"
	"github.com/mbd888/agentplatform/internal/registry"
)

// InstanceStatus is the state of one loaded plugin.
type InstanceStatus string

const (
	InstanceLoaded   InstanceStatus = "loaded"
	InstanceActive   InstanceStatus = "active"
	InstanceInactive InstanceStatus = "inactive"
	InstanceError    InstanceStatus = "error"
)

// Instance is a loaded plugin bound to a tenant and a config.
type Instance struct {
	ID           string         `json:"instance_id"`
	PluginID     string         `json:"plugin_id"`
	TenantID     string         `json:"tenant_id,omitempty"`
	Config       map[string]any `json:"config"`
	Status       InstanceStatus `json:"status"`
	ErrorMessage string         `json:"error_message,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
}

// Clone returns a deep copy.
func (i *Instance) Clone() *Instance {
	cp := *i
	cp.Config = cloneMap(i.Config)
	return &cp
}

const (
	indexPlugin = "plugin_id"
	indexTenant = "tenant"
)

func newInstanceRegistry() *registry.Registry[*Instance] {
	return registry.New("plugin_instances", registry.Config[*Instance]{
		ID:     func(i *Instance) string { return i.ID },
		Clone:  func(i *Instance) *Instance { return i.Clone() },
		Status: func(i *Instance) string { return string(i.Status) },
		SetStatus: func(i *Instance, status string, at time.Time) {
			i.Status = InstanceStatus(status)
			i.UpdatedAt = at
		},
		Indexes: map[string]func(*Instance) []string{
			indexPlugin: func(i *Instance) []string { return []string{i.PluginID} },
			indexTenant: func(i *Instance) []string { return []string{i.TenantID} },
		},
	})
}

// Manager loads plugins, drives their Activate/Deactivate hooks and
// dispatches Execute calls.
type Manager struct {
	plugins   *catalog.Catalog[*Metadata]
	instances *registry.Registry[*Instance]
	factories *registry.Factories[Factory]
	events    events.Publisher
	logger    *slog.Logger

	mu    sync.Mutex
	impls map[string]Plugin
}

// NewManager creates a plugin manager over the plugin catalog.
func NewManager(plugins *catalog.Catalog[*Metadata], logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		plugins:   plugins,
		instances: newInstanceRegistry(),
		factories: registry.NewFactories[Factory](),
		events:    events.Nop{},
		logger:    logger,
		impls:     make(map[string]Plugin),
	}
}

// WithFactories replaces the implementation registry.
func (m *Manager) WithFactories(f *registry.Factories[Factory]) *Manager {
	if f != nil {
		m.factories = f
	}
	return m
}

// WithEvents sets the publisher for lifecycle changes.
func (m *Manager) WithEvents(p events.Publisher) *Manager {
	if p != nil {
		m.events = p
	}
	return m
}

// Plugins returns the metadata catalog.
func (m *Manager) Plugins() *catalog.Catalog[*Metadata] { return m.plugins }

// Factories returns the implementation registry.
func (m *Manager) Factories() *registry.Factories[Factory] { return m.factories }

// Load builds an implementation for pluginID. Every dependency must be
// registered and active. A missing or failing factory marks the plugin
// as error and records the message.
func (m *Manager) Load(ctx context.Context, s catalog.Scope, pluginID string, config map[string]any) (*Instance, error) {
	if !s.Admin && s.TenantID == "" {
		return nil, catalog.ErrTenantRequired
	}
	meta, err := m.plugins.Get(s, pluginID)
	if err != nil {
		return nil, err
	}
	if !meta.Enabled {
		return nil, fmt.Errorf("%w: %s", ErrDisabled, pluginID)
	}
	for _, dep := range meta.Dependencies {
		d, ok := m.plugins.Registry().Get(dep)
		if !ok || d.Status != StatusActive {
			return nil, fmt.Errorf("%w: %s depends on %s", ErrDependencyUnavailable, pluginID, dep)
		}
	}

	impl, err := m.build(meta)
	if err != nil {
		m.markPlugin(ctx, pluginID, StatusError, err.Error())
		logging.L(ctx).Error("plugin load failed", "plugin_id", pluginID, "error", err)
		return nil, err
	}

	cfg := cloneMap(meta.Config)
	if cfg == nil {
		cfg = map[string]any{}
	}
	for k, v := range config {
		cfg[k] = v
	}
	now := time.Now().UTC()
	inst := &Instance{
		ID:        uuid.NewString(),
		PluginID:  pluginID,
		TenantID:  s.TenantID,
		Config:    cfg,
		Status:    InstanceLoaded,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if _, err := m.instances.Register(inst); err != nil {
		return nil, err
	}
	m.mu.Lock()
	m.impls[inst.ID] = impl
	m.mu.Unlock()

	m.markPlugin(ctx, pluginID, StatusLoaded, "")
	logging.L(ctx).Info("plugin loaded", "plugin_id", pluginID, "instance_id", inst.ID)
	return inst, nil
}

// Activate runs the plugin's Activate hook with the instance config.
func (m *Manager) Activate(ctx context.Context, s catalog.Scope, instanceID string) (*Instance, error) {
	inst, impl, err := m.lookup(s, instanceID)
	if err != nil {
		return nil, err
	}
	if err := impl.Activate(ctx, inst.Config); err != nil {
		return m.failInstance(instanceID, err)
	}
	updated, err := m.setInstance(instanceID, InstanceActive)
	if err != nil {
		return nil, err
	}
	m.markPlugin(ctx, inst.PluginID, StatusActive, "")
	return updated, nil
}

// Deactivate runs the plugin's Deactivate hook.
func (m *Manager) Deactivate(ctx context.Context, s catalog.Scope, instanceID string) (*Instance, error) {
	inst, impl, err := m.lookup(s, instanceID)
	if err != nil {
		return nil, err
	}
	if err := impl.Deactivate(ctx); err != nil {
		return m.failInstance(instanceID, err)
	}
	updated, err := m.setInstance(instanceID, InstanceInactive)
	if err != nil {
		return nil, err
	}
	m.markPlugin(ctx, inst.PluginID, StatusInactive, "")
	return updated, nil
}

// Execute dispatches one capability call to an active instance.
func (m *Manager) Execute(ctx context.Context, s catalog.Scope, instanceID string, capability Capability, input map[string]any) (any, error) {
	inst, impl, err := m.lookup(s, instanceID)
	if err != nil {
		return nil, err
	}
	if inst.Status != InstanceActive {
		return nil, fmt.Errorf("%w: %s is %s", ErrNotActive, instanceID, inst.Status)
	}
	meta, ok := m.plugins.Registry().Get(inst.PluginID)
	if !ok {
		return nil, fmt.Errorf("%w: plugin %s", catalog.ErrNotFound, inst.PluginID)
	}
	if !meta.Supports(capability) {
		return nil, fmt.Errorf("%w: %s does not declare %s", ErrUnsupported, inst.PluginID, capability)
	}
	return impl.Execute(ctx, capability, input)
}

// Unload deactivates (when active) and removes an instance.
func (m *Manager) Unload(ctx context.Context, s catalog.Scope, instanceID string) error {
	inst, impl, err := m.lookup(s, instanceID)
	if err != nil {
		return err
	}
	if inst.Status == InstanceActive {
		if err := impl.Deactivate(ctx); err != nil {
			m.logger.Warn("plugin deactivate failed during unload", "instance_id", instanceID, "error", err)
		}
	}
	m.mu.Lock()
	delete(m.impls, instanceID)
	m.mu.Unlock()
	m.instances.Unregister(instanceID)
	m.events.Publish(ctx, events.New("plugin_instances", events.TypeUnregistered, instanceID,
		map[string]any{"plugin_id": inst.PluginID}).ForTenant(inst.TenantID))
	return nil
}

// Shutdown deactivates every active instance. Used on server shutdown.
func (m *Manager) Shutdown(ctx context.Context) {
	root := catalog.Scope{Admin: true}
	for _, inst := range m.ListInstances(root, "", InstanceActive) {
		if _, err := m.Deactivate(ctx, root, inst.ID); err != nil {
			m.logger.Warn("plugin deactivate failed during shutdown", "instance_id", inst.ID, "error", err)
		}
	}
}

// GetInstance returns an instance owned by scope's tenant.
func (m *Manager) GetInstance(s catalog.Scope, instanceID string) (*Instance, error) {
	inst, ok := m.instances.Get(instanceID)
	if !ok {
		return nil, fmt.Errorf("%w: plugin instance %s", catalog.ErrNotFound, instanceID)
	}
	if !s.Admin && inst.TenantID != s.TenantID {
		return nil, catalog.ErrForbidden
	}
	return inst, nil
}

// ListInstances returns scope's instances, optionally for one plugin.
func (m *Manager) ListInstances(s catalog.Scope, pluginID string, status InstanceStatus) []*Instance {
	f := registry.Filter{Status: string(status)}
	if pluginID != "" {
		f.Index, f.Value = indexPlugin, pluginID
	} else if !s.Admin {
		f.Index, f.Value = indexTenant, s.TenantID
	}
	all := m.instances.List(f)
	if s.Admin {
		return all
	}
	out := all[:0]
	for _, inst := range all {
		if inst.TenantID == s.TenantID {
			out = append(out, inst)
		}
	}
	return out
}

func (m *Manager) build(meta *Metadata) (Plugin, error) {
	f, ok := m.factories.Lookup(meta.ID)
	if !ok {
		f, ok = m.factories.Lookup(meta.EntryPoint)
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s (entry point %s)", ErrNoFactory, meta.ID, meta.EntryPoint)
	}
	impl, err := f(meta.Clone())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrLifecycle, err)
	}
	return impl, nil
}

func (m *Manager) lookup(s catalog.Scope, instanceID string) (*Instance, Plugin, error) {
	inst, err := m.GetInstance(s, instanceID)
	if err != nil {
		return nil, nil, err
	}
	m.mu.Lock()
	impl, ok := m.impls[instanceID]
	m.mu.Unlock()
	if !ok {
		return nil, nil, fmt.Errorf("%w: plugin instance %s", catalog.ErrNotFound, instanceID)
	}
	return inst, impl, nil
}

func (m *Manager) setInstance(id string, status InstanceStatus) (*Instance, error) {
	return m.instances.Update(id, func(i *Instance) error {
		i.Status = status
		i.ErrorMessage = ""
		i.UpdatedAt = time.Now().UTC()
		return nil
	})
}

func (m *Manager) failInstance(id string, cause error) (*Instance, error) {
	failed, err := m.instances.Update(id, func(i *Instance) error {
		i.Status = InstanceError
		i.ErrorMessage = cause.Error()
		i.UpdatedAt = time.Now().UTC()
		return nil
	})
	if err != nil {
		return nil, err
	}
	return failed, fmt.Errorf("%w: %v", ErrLifecycle, cause)
}

// markPlugin records the runtime status on the metadata record. Status
// tracks the most recent lifecycle change across all instances.
func (m *Manager) markPlugin(ctx context.Context, pluginID string, status Status, message string) {
	var from Status
	updated, err := m.plugins.Registry().Update(pluginID, func(meta *Metadata) error {
		from = meta.Status
		meta.Status = status
		meta.ErrorMessage = message
		meta.UpdatedAt = time.Now().UTC()
		return nil
	})
	if err != nil || from == status {
		return
	}
	m.events.Publish(ctx, events.New("plugins", events.TypeStatusChanged, pluginID,
		map[string]any{"from": string(from), "to": string(status)}).ForTenant(updated.TenantID))
}
