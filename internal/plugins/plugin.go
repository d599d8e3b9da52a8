// Package plugins manages plugin metadata and the lifecycle of loaded
// plugin implementations.
package plugins

import (
	"context"
	"errors"
	"time"
)

// Errors
var (
	ErrDependencyUnavailable = errors.New("plugins: dependency is not active")
	ErrNoFactory             = errors.New("plugins: no implementation registered")
	ErrNotActive             = errors.New("plugins: plugin instance is not active")
	ErrUnsupported           = errors.New("plugins: capability not supported")
	ErrDisabled              = errors.New("plugins: plugin is disabled")
	ErrLifecycle             = errors.New("plugins: lifecycle hook failed")
)

// Status is the lifecycle state of a plugin.
type Status string

const (
	StatusRegistered Status = "registered"
	StatusLoaded     Status = "loaded"
	StatusActive     Status = "active"
	StatusInactive   Status = "inactive"
	StatusError      Status = "error"
	StatusDeprecated Status = "deprecated"
)

// ValidStatus reports whether s is a known plugin status.
func ValidStatus(s string) bool {
	switch Status(s) {
	case StatusRegistered, StatusLoaded, StatusActive, StatusInactive, StatusError, StatusDeprecated:
		return true
	}
	return false
}

// Capability is a kind of work a plugin can execute.
type Capability string

const (
	CapabilityAnalysis   Capability = "analysis"
	CapabilityTrading    Capability = "trading"
	CapabilityScreening  Capability = "screening"
	CapabilityResearch   Capability = "research"
	CapabilityPrediction Capability = "prediction"
	CapabilityCustom     Capability = "custom"
)

// ParseCapability maps unknown names to CapabilityCustom.
func ParseCapability(s string) Capability {
	switch c := Capability(s); c {
	case CapabilityAnalysis, CapabilityTrading, CapabilityScreening, CapabilityResearch, CapabilityPrediction, CapabilityCustom:
		return c
	}
	return CapabilityCustom
}

// Metadata is the registered description of a plugin. It holds data only;
// implementations are looked up in a Factory by plugin id or entry point.
type Metadata struct {
	ID               string         `json:"plugin_id"`
	TenantID         string         `json:"tenant_id,omitempty"`
	Name             string         `json:"name"`
	Version          string         `json:"version"`
	Description      string         `json:"description"`
	Author           string         `json:"author"`
	EntryPoint       string         `json:"entry_point"`
	Capabilities     []Capability   `json:"capabilities"`
	Dependencies     []string       `json:"dependencies"`
	Tags             []string       `json:"tags"`
	ConfigSchema     map[string]any `json:"config_schema"`
	Config           map[string]any `json:"plugin_config"`
	Enabled          bool           `json:"enabled"`
	IconURL          string         `json:"icon_url,omitempty"`
	DocumentationURL string         `json:"documentation_url,omitempty"`
	Status           Status         `json:"status"`
	ErrorMessage     string         `json:"error_message,omitempty"`
	CreatedAt        time.Time      `json:"created_at"`
	UpdatedAt        time.Time      `json:"updated_at"`
}

// Clone returns a deep copy.
func (m *Metadata) Clone() *Metadata {
	if m == nil {
		return nil
	}
	cp := *m
	cp.Capabilities = append([]Capability(nil), m.Capabilities...)
	cp.Dependencies = append([]string(nil), m.Dependencies...)
	cp.Tags = append([]string(nil), m.Tags...)
	cp.ConfigSchema = cloneMap(m.ConfigSchema)
	cp.Config = cloneMap(m.Config)
	return &cp
}

// Supports reports whether the plugin declares capability. A plugin that
// declares nothing accepts any capability.
func (m *Metadata) Supports(c Capability) bool {
	if len(m.Capabilities) == 0 {
		return true
	}
	for _, have := range m.Capabilities {
		if have == c {
			return true
		}
	}
	return false
}

// Plugin is a loaded plugin implementation.
type Plugin interface {
	Activate(ctx context.Context, config map[string]any) error
	Deactivate(ctx context.Context) error
	Execute(ctx context.Context, capability Capability, input map[string]any) (any, error)
}

// Base is a Plugin whose hooks do nothing. Embed it and override what
// the implementation needs.
type Base struct{}

func (Base) Activate(context.Context, map[string]any) error { return nil }

func (Base) Deactivate(context.Context) error { return nil }

func (Base) Execute(context.Context, Capability, map[string]any) (any, error) {
	return nil, ErrUnsupported
}

// Factory builds an implementation for a plugin.
type Factory func(meta *Metadata) (Plugin, error)

func cloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
