package agents

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mbd888/agentplatform/internal/catalog"
	"github.com/mbd888/agentplatform/internal/events"
	"github.com/mbd888/agentplatform/internal/logging"
	"github.com/mbd888/agentplatform/internal/metrics"
	"github.com/mbd888/agentplatform/internal/registry"
)

// DefaultHeartbeatTimeout is how long a running instance may stay silent.
const DefaultHeartbeatTimeout = 5 * time.Minute

var errStale = errors.New("agents: instance changed during sweep")

// Manager owns agent instances: creation from active definitions, the
// start/stop lifecycle and heartbeat supervision.
type Manager struct {
	agents    *catalog.Catalog[*Agent]
	instances *InstanceRegistry
	ctors     *registry.Factories[Constructor]
	events    events.Publisher
	logger    *slog.Logger
	now       func() time.Time

	mu       sync.Mutex
	runtimes map[string]Runtime
}

// NewManager creates an instance manager over the agent catalog.
func NewManager(agents *catalog.Catalog[*Agent], logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		agents:    agents,
		instances: NewInstanceRegistry(),
		ctors:     registry.NewFactories[Constructor](),
		events:    events.Nop{},
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
		runtimes:  make(map[string]Runtime),
	}
}

// WithConstructors replaces the constructor registry.
func (m *Manager) WithConstructors(f *registry.Factories[Constructor]) *Manager {
	if f != nil {
		m.ctors = f
	}
	return m
}

// WithEvents sets the publisher for instance changes.
func (m *Manager) WithEvents(p events.Publisher) *Manager {
	if p != nil {
		m.events = p
	}
	return m
}

// WithClock overrides the time source (tests).
func (m *Manager) WithClock(now func() time.Time) *Manager {
	m.now = now
	return m
}

// Agents returns the definition catalog.
func (m *Manager) Agents() *catalog.Catalog[*Agent] { return m.agents }

// Instances returns the instance registry.
func (m *Manager) Instances() *InstanceRegistry { return m.instances }

// Constructors returns the constructor registry.
func (m *Manager) Constructors() *registry.Factories[Constructor] { return m.ctors }

// CreateInstance starts a new instance of agentID for scope. The agent must
// be visible to the caller and active; config is checked against the
// agent's config_schema. A failing constructor leaves the instance in
// error status and returns ErrRuntimeUnavailable.
func (m *Manager) CreateInstance(ctx context.Context, s catalog.Scope, agentID, name string, config map[string]any) (*Instance, error) {
	if !s.Admin && s.TenantID == "" {
		return nil, catalog.ErrTenantRequired
	}
	agent, err := m.agents.Get(s, agentID)
	if err != nil {
		return nil, err
	}
	if agent.Status != StatusActive {
		return nil, fmt.Errorf("%w: %s", ErrAgentNotActive, agentID)
	}
	cfg, err := applyConfigSchema(agent.ConfigSchema, config)
	if err != nil {
		return nil, err
	}

	now := m.now()
	id := uuid.NewString()
	if name == "" {
		name = fmt.Sprintf("%s_%s", agent.Name, id[:8])
	}
	inst := &Instance{
		ID:            id,
		AgentID:       agent.ID,
		TenantID:      s.TenantID,
		Name:          name,
		Config:        cfg,
		Status:        InstanceCreated,
		CreatedAt:     now,
		UpdatedAt:     now,
		LastHeartbeat: now,
		Metrics:       map[string]any{},
	}
	if _, err := m.instances.Register(inst); err != nil {
		return nil, err
	}
	m.publish(ctx, events.TypeRegistered, inst, map[string]any{"agent_id": agent.ID})

	started, err := m.boot(ctx, agent, id)
	if err != nil {
		return started, err
	}
	logging.L(ctx).Info("agent instance created", "instance_id", id, "agent_id", agent.ID)
	return started, nil
}

// StartInstance restarts a stopped, idle or failed instance. Starting a
// running instance is a no-op.
func (m *Manager) StartInstance(ctx context.Context, s catalog.Scope, id string) (*Instance, error) {
	inst, err := m.GetInstance(s, id)
	if err != nil {
		return nil, err
	}
	switch inst.Status {
	case InstanceRunning:
		return inst, nil
	case InstanceInitializing:
		return nil, fmt.Errorf("%w: instance %s is initializing", ErrInvalidTransition, id)
	}
	agent, ok := m.agents.Registry().Get(inst.AgentID)
	if !ok {
		return nil, fmt.Errorf("%w: agent %s", catalog.ErrNotFound, inst.AgentID)
	}
	return m.boot(ctx, agent, id)
}

// StopInstance moves an instance to stopped and stops its runtime.
// Runtime errors are logged; the instance is stopped regardless.
func (m *Manager) StopInstance(ctx context.Context, s catalog.Scope, id string) (*Instance, error) {
	inst, err := m.GetInstance(s, id)
	if err != nil {
		return nil, err
	}
	from := inst.Status
	m.releaseRuntime(ctx, id)
	if !m.instances.UpdateStatus(id, string(InstanceStopped)) {
		return nil, fmt.Errorf("%w: instance %s", catalog.ErrNotFound, id)
	}
	stopped, _ := m.instances.Get(id)
	if from != InstanceStopped {
		m.publish(ctx, events.TypeStatusChanged, stopped, map[string]any{"from": string(from), "to": string(InstanceStopped)})
	}
	return stopped, nil
}

// DeleteInstance stops and removes an instance.
func (m *Manager) DeleteInstance(ctx context.Context, s catalog.Scope, id string) error {
	inst, err := m.GetInstance(s, id)
	if err != nil {
		return err
	}
	m.releaseRuntime(ctx, id)
	if !m.instances.Unregister(id) {
		return fmt.Errorf("%w: instance %s", catalog.ErrNotFound, id)
	}
	m.publish(ctx, events.TypeUnregistered, inst, nil)
	return nil
}

// GetInstance returns an instance owned by scope's tenant.
func (m *Manager) GetInstance(s catalog.Scope, id string) (*Instance, error) {
	inst, ok := m.instances.Get(id)
	if !ok {
		return nil, fmt.Errorf("%w: instance %s", catalog.ErrNotFound, id)
	}
	if !s.Admin && inst.TenantID != s.TenantID {
		return nil, catalog.ErrForbidden
	}
	return inst, nil
}

// ListInstances returns scope's instances, optionally narrowed to one
// agent and one status.
func (m *Manager) ListInstances(s catalog.Scope, agentID string, status InstanceStatus) []*Instance {
	f := registry.Filter{Status: string(status)}
	switch {
	case agentID != "":
		f.Index, f.Value = IndexAgent, agentID
	case !s.Admin:
		f.Index, f.Value = IndexTenant, s.TenantID
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

// Heartbeat records liveness for a running or idle instance and merges
// the reported metrics.
func (m *Manager) Heartbeat(ctx context.Context, s catalog.Scope, id string, reported map[string]any) (*Instance, error) {
	if _, err := m.GetInstance(s, id); err != nil {
		return nil, err
	}
	now := m.now()
	return m.instances.Update(id, func(inst *Instance) error {
		if inst.Status != InstanceRunning && inst.Status != InstanceIdle {
			return fmt.Errorf("%w: instance %s is %s", ErrInvalidTransition, id, inst.Status)
		}
		inst.LastHeartbeat = now
		if inst.Metrics == nil {
			inst.Metrics = map[string]any{}
		}
		for k, v := range reported {
			inst.Metrics[k] = v
		}
		return nil
	})
}

// SweepHeartbeats moves running instances silent for longer than timeout
// to error. Each transition re-checks the instance under the registry
// lock, so a heartbeat that lands mid-sweep wins. It returns the ids of
// the failed instances.
func (m *Manager) SweepHeartbeats(ctx context.Context, timeout time.Duration) []string {
	if timeout <= 0 {
		timeout = DefaultHeartbeatTimeout
	}
	now := m.now()
	cutoff := now.Add(-timeout)

	var failed []string
	running := m.instances.List(registry.Filter{Index: registry.IndexStatus, Value: string(InstanceRunning)})
	for _, inst := range running {
		if !inst.LastHeartbeat.Before(cutoff) {
			continue
		}
		updated, err := m.instances.Update(inst.ID, func(cur *Instance) error {
			if cur.Status != InstanceRunning || !cur.LastHeartbeat.Before(cutoff) {
				return errStale
			}
			cur.Status = InstanceError
			cur.ErrorMessage = HeartbeatTimeoutMessage
			cur.UpdatedAt = now
			return nil
		})
		if err != nil {
			continue
		}
		failed = append(failed, updated.ID)
		metrics.InstanceHeartbeatTimeoutsTotal.Inc()
		m.publish(ctx, events.TypeHeartbeatLost, updated, map[string]any{
			"agent_id":       updated.AgentID,
			"last_heartbeat": updated.LastHeartbeat,
		})
		m.logger.Warn("agent instance heartbeat lost", "instance_id", updated.ID, "agent_id", updated.AgentID)
	}
	return failed
}

// Shutdown stops every runtime. Used on server shutdown.
func (m *Manager) Shutdown(ctx context.Context) {
	m.mu.Lock()
	ids := make([]string, 0, len(m.runtimes))
	for id := range m.runtimes {
		ids = append(ids, id)
	}
	m.mu.Unlock()
	for _, id := range ids {
		m.releaseRuntime(ctx, id)
		m.instances.UpdateStatus(id, string(InstanceStopped))
	}
}

// boot runs the constructor (if any) and moves the instance to running.
func (m *Manager) boot(ctx context.Context, agent *Agent, id string) (*Instance, error) {
	m.instances.UpdateStatus(id, string(InstanceInitializing))
	inst, ok := m.instances.Get(id)
	if !ok {
		return nil, fmt.Errorf("%w: instance %s", catalog.ErrNotFound, id)
	}

	if ctor, found := m.constructor(agent); found {
		rt, err := ctor(agent, inst.Config)
		if err == nil {
			err = rt.Start(ctx)
		}
		if err != nil {
			failed, _ := m.instances.Update(id, func(cur *Instance) error {
				cur.Status = InstanceError
				cur.ErrorMessage = "Failed to create agent: " + err.Error()
				cur.UpdatedAt = m.now()
				return nil
			})
			m.logger.Error("agent runtime failed", "instance_id", id, "agent_id", agent.ID, "error", err)
			return failed, fmt.Errorf("%w: %v", ErrRuntimeUnavailable, err)
		}
		m.mu.Lock()
		m.runtimes[id] = rt
		m.mu.Unlock()
	}

	now := m.now()
	running, err := m.instances.Update(id, func(cur *Instance) error {
		cur.Status = InstanceRunning
		cur.ErrorMessage = ""
		cur.LastHeartbeat = now
		cur.UpdatedAt = now
		return nil
	})
	if err != nil {
		return nil, err
	}
	m.publish(ctx, events.TypeStatusChanged, running, map[string]any{"to": string(InstanceRunning)})
	return running, nil
}

func (m *Manager) constructor(agent *Agent) (Constructor, bool) {
	if ctor, ok := m.ctors.Lookup(agent.ID); ok {
		return ctor, true
	}
	return m.ctors.Lookup(string(agent.Type))
}

func (m *Manager) releaseRuntime(ctx context.Context, id string) {
	m.mu.Lock()
	rt, ok := m.runtimes[id]
	delete(m.runtimes, id)
	m.mu.Unlock()
	if !ok {
		return
	}
	if err := rt.Stop(ctx); err != nil {
		m.logger.Warn("agent runtime stop failed", "instance_id", id, "error", err)
	}
}

func (m *Manager) publish(ctx context.Context, typ string, inst *Instance, data map[string]any) {
	m.events.Publish(ctx, events.New("agent_instances", typ, inst.ID, data).ForTenant(inst.TenantID))
}
