package agents

import (
	"time"

	"github.com/mbd888/agentplatform/internal/declarative"
)

type document struct {
	ID           string         `yaml:"id"`
	TenantID     string         `yaml:"tenant_id,omitempty"`
	Name         string         `yaml:"name"`
	Description  string         `yaml:"description"`
	Version      string         `yaml:"version"`
	AgentType    string         `yaml:"agent_type"`
	Author       string         `yaml:"author"`
	Category     string         `yaml:"category"`
	Tags         []string       `yaml:"tags"`
	Capabilities []string       `yaml:"capabilities"`
	Requirements map[string]any `yaml:"requirements"`
	ConfigSchema map[string]any `yaml:"config_schema"`
	Status       string         `yaml:"status"`
	CreatedAt    string         `yaml:"created_at"`
	UpdatedAt    string         `yaml:"updated_at"`
}

// NewLoader returns the YAML loader for agent documents rooted at "agents".
func NewLoader() *declarative.Loader[*Agent] {
	return &declarative.Loader[*Agent]{
		RootKey:  "agents",
		IDFields: []string{"id", "agent_id"},
		Parse:    Parse,
		Export:   export,
	}
}

// Binding tells the importer how agents carry identity and status.
func Binding() declarative.Binding[*Agent] {
	return declarative.Binding[*Agent]{
		ID:     func(a *Agent) string { return a.ID },
		Status: func(a *Agent) string { return string(a.Status) },
		WithStatus: func(a *Agent, status string) *Agent {
			cp := a.Clone()
			cp.Status = Status(status)
			return cp
		},
		DefaultStatus: string(StatusRegistered),
	}
}

// Parse builds an agent from one declared item. Unknown agent types fall
// back to custom.
func Parse(f declarative.Fields) (*Agent, error) {
	id := f.String("id", "agent_id")
	if id == "" {
		return nil, declarative.Invalid("id", "is required")
	}
	status := f.StringOr(string(StatusRegistered), "status")
	if !ValidStatus(status) {
		return nil, declarative.Invalid("status", "unknown status %q", status)
	}

	now := time.Now().UTC()
	a := &Agent{
		ID:           id,
		TenantID:     f.String("tenant_id", "tenantId"),
		Name:         f.StringOr(id, "name"),
		Description:  f.String("description"),
		Version:      f.StringOr(DefaultVersion, "version"),
		Type:         ParseType(f.String("agent_type", "agentType")),
		Author:       f.StringOr(DefaultAuthor, "author"),
		Category:     f.StringOr(DefaultCategory, "category"),
		Tags:         f.Strings("tags"),
		Capabilities: f.Strings("capabilities"),
		Requirements: requirements(f),
		ConfigSchema: f.Map("config_schema", "configSchema"),
		Status:       Status(status),
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	created, err := f.Time("created_at", "createdAt")
	if err != nil {
		return nil, err
	}
	updated, err := f.Time("updated_at", "updatedAt")
	if err != nil {
		return nil, err
	}
	if created != nil {
		a.CreatedAt = *created
	}
	if updated != nil {
		a.UpdatedAt = *updated
	}
	return a, nil
}

// requirements accepts a mapping or a list of single-key mappings
// ("- data_source: tushare") and flattens the list form.
func requirements(f declarative.Fields) map[string]any {
	list, ok := f["requirements"].([]any)
	if !ok {
		return f.Map("requirements")
	}
	out := make(map[string]any)
	for _, item := range list {
		switch v := item.(type) {
		case map[string]any:
			for k, val := range v {
				out[k] = val
			}
		case string:
			out[v] = true
		}
	}
	return out
}

func export(a *Agent) any {
	doc := document{
		ID:           a.ID,
		TenantID:     a.TenantID,
		Name:         a.Name,
		Description:  a.Description,
		Version:      a.Version,
		AgentType:    string(a.Type),
		Author:       a.Author,
		Category:     a.Category,
		Tags:         a.Tags,
		Capabilities: a.Capabilities,
		Requirements: a.Requirements,
		ConfigSchema: a.ConfigSchema,
		Status:       string(a.Status),
		CreatedAt:    a.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt:    a.UpdatedAt.UTC().Format(time.RFC3339),
	}
	if doc.Tags == nil {
		doc.Tags = []string{}
	}
	if doc.Capabilities == nil {
		doc.Capabilities = []string{}
	}
	if doc.Requirements == nil {
		doc.Requirements = map[string]any{}
	}
	if doc.ConfigSchema == nil {
		doc.ConfigSchema = map[string]any{}
	}
	return doc
}
