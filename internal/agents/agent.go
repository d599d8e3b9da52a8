// Package agents manages agent definitions and the running instances
// created from them.
package agents

import (
	"errors"
	"time"
)

// Errors
var (
	ErrAgentNotActive     = errors.New("agents: agent is not active")
	ErrInvalidConfig      = errors.New("agents: invalid instance config")
	ErrInvalidTransition  = errors.New("agents: invalid instance transition")
	ErrRuntimeUnavailable = errors.New("agents: runtime failed to start")
)

// Type classifies what an agent does.
type Type string

const (
	TypeAnalyst     Type = "analyst"
	TypeResearcher  Type = "researcher"
	TypeTrader      Type = "trader"
	TypeRiskManager Type = "risk_manager"
	TypeManager     Type = "manager"
	TypeCustom      Type = "custom"
)

// ParseType maps unknown or empty names to TypeCustom.
func ParseType(s string) Type {
	switch t := Type(s); t {
	case TypeAnalyst, TypeResearcher, TypeTrader, TypeRiskManager, TypeManager, TypeCustom:
		return t
	}
	return TypeCustom
}

// Status is the lifecycle state of an agent definition.
type Status string

const (
	StatusRegistered Status = "registered"
	StatusActive     Status = "active"
	StatusInactive   Status = "inactive"
	StatusDeprecated Status = "deprecated"
)

// ValidStatus reports whether s is a known agent status.
func ValidStatus(s string) bool {
	switch Status(s) {
	case StatusRegistered, StatusActive, StatusInactive, StatusDeprecated:
		return true
	}
	return false
}

// Defaults applied to declarations that leave the field out.
const (
	DefaultVersion  = "1.0.0"
	DefaultAuthor   = "unknown"
	DefaultCategory = "general"
)

// Agent is the definition an instance is created from. TenantID is empty
// for agents shared with every tenant.
type Agent struct {
	ID           string         `json:"id"`
	TenantID     string         `json:"tenant_id,omitempty"`
	Name         string         `json:"name"`
	Description  string         `json:"description"`
	Version      string         `json:"version"`
	Type         Type           `json:"agent_type"`
	Author       string         `json:"author"`
	Category     string         `json:"category"`
	Tags         []string       `json:"tags"`
	Capabilities []string       `json:"capabilities"`
	Requirements map[string]any `json:"requirements"`
	ConfigSchema map[string]any `json:"config_schema"`
	Status       Status         `json:"status"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
}

// Clone returns a deep copy.
func (a *Agent) Clone() *Agent {
	if a == nil {
		return nil
	}
	cp := *a
	cp.Tags = append([]string(nil), a.Tags...)
	cp.Capabilities = append([]string(nil), a.Capabilities...)
	cp.Requirements = cloneMap(a.Requirements)
	cp.ConfigSchema = cloneMap(a.ConfigSchema)
	return &cp
}

func cloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		if nested, ok := v.(map[string]any); ok {
			v = cloneMap(nested)
		}
		out[k] = v
	}
	return out
}
