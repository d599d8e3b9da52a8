package agents

import (
	"context"
	"fmt"
	"time"

	"github.com/mbd888/agentplatform/internal/registry"
)

// InstanceStatus is the lifecycle state of a running agent instance.
type InstanceStatus string

const (
	InstanceCreated      InstanceStatus = "created"
	InstanceInitializing InstanceStatus = "initializing"
	InstanceRunning      InstanceStatus = "running"
	InstanceIdle         InstanceStatus = "idle"
	InstanceError        InstanceStatus = "error"
	InstanceStopped      InstanceStatus = "stopped"
)

// ValidInstanceStatus reports whether s is a known instance status.
func ValidInstanceStatus(s string) bool {
	switch InstanceStatus(s) {
	case InstanceCreated, InstanceInitializing, InstanceRunning, InstanceIdle, InstanceError, InstanceStopped:
		return true
	}
	return false
}

// HeartbeatTimeoutMessage is recorded on instances failed by the sweep.
const HeartbeatTimeoutMessage = "Heartbeat timeout"

// Instance is one running copy of an agent definition.
type Instance struct {
	ID            string         `json:"instance_id"`
	AgentID       string         `json:"agent_id"`
	TenantID      string         `json:"tenant_id,omitempty"`
	Name          string         `json:"name"`
	Config        map[string]any `json:"config"`
	Status        InstanceStatus `json:"status"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
	LastHeartbeat time.Time      `json:"last_heartbeat"`
	ErrorMessage  string         `json:"error_message,omitempty"`
	Metrics       map[string]any `json:"metrics"`
}

// Clone returns a deep copy.
func (i *Instance) Clone() *Instance {
	if i == nil {
		return nil
	}
	cp := *i
	cp.Config = cloneMap(i.Config)
	cp.Metrics = cloneMap(i.Metrics)
	return &cp
}

// Runtime is the live implementation behind an instance.
type Runtime interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// Constructor builds the runtime for an instance of agent. Constructors
// are registered by agent id or, as a fallback, by agent type.
type Constructor func(agent *Agent, config map[string]any) (Runtime, error)

// Index names on the instance registry.
const (
	IndexAgent = "agent_id"
)

// InstanceRegistry holds every live instance.
type InstanceRegistry = registry.Registry[*Instance]

// NewInstanceRegistry creates an empty instance registry.
func NewInstanceRegistry() *InstanceRegistry {
	return registry.New("agent_instances", registry.Config[*Instance]{
		ID:     func(i *Instance) string { return i.ID },
		Clone:  func(i *Instance) *Instance { return i.Clone() },
		Status: func(i *Instance) string { return string(i.Status) },
		SetStatus: func(i *Instance, status string, at time.Time) {
			i.Status = InstanceStatus(status)
			i.UpdatedAt = at
		},
		Indexes: map[string]func(*Instance) []string{
			IndexAgent:  func(i *Instance) []string { return []string{i.AgentID} },
			IndexTenant: func(i *Instance) []string { return []string{i.TenantID} },
		},
		SearchText: func(i *Instance) []string { return []string{i.Name, i.AgentID} },
		Less: func(a, b *Instance) bool {
			if a.CreatedAt.Equal(b.CreatedAt) {
				return a.ID < b.ID
			}
			return a.CreatedAt.Before(b.CreatedAt)
		},
	})
}

// applyConfigSchema validates config against the agent's schema and fills
// in declared defaults. Both schema shapes are accepted:
//
//	{required: [a], properties: {a: {default: 1}}}
//	{a: {type: string, default: x, required: true}}
func applyConfigSchema(schema, config map[string]any) (map[string]any, error) {
	out := cloneMap(config)
	if out == nil {
		out = map[string]any{}
	}
	if len(schema) == 0 {
		return out, nil
	}

	props, ok := schema["properties"].(map[string]any)
	if !ok {
		props = schema
	}
	var required []string
	if list, ok := schema["required"].([]any); ok {
		for _, r := range list {
			if s, ok := r.(string); ok {
				required = append(required, s)
			}
		}
	}

	for name, raw := range props {
		prop, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		if req, _ := prop["required"].(bool); req {
			required = append(required, name)
		}
		if _, set := out[name]; !set {
			if def, has := prop["default"]; has {
				out[name] = def
			}
		}
	}
	for _, name := range required {
		if _, set := out[name]; !set {
			return nil, fmt.Errorf("%w: missing required field %q", ErrInvalidConfig, name)
		}
	}
	return out, nil
}
