package plugins

import (
	"time"

	"github.com/mbd888/agentplatform/internal/declarative"
)

type document struct {
	PluginID         string         `yaml:"plugin_id"`
	TenantID         string         `yaml:"tenant_id,omitempty"`
	Name             string         `yaml:"name"`
	Version          string         `yaml:"version"`
	Description      string         `yaml:"description"`
	Author           string         `yaml:"author"`
	EntryPoint       string         `yaml:"entry_point"`
	Capabilities     []string       `yaml:"capabilities"`
	Dependencies     []string       `yaml:"dependencies"`
	Tags             []string       `yaml:"tags"`
	ConfigSchema     map[string]any `yaml:"config_schema,omitempty"`
	Config           map[string]any `yaml:"plugin_config,omitempty"`
	Enabled          bool           `yaml:"enabled"`
	IconURL          string         `yaml:"icon_url,omitempty"`
	DocumentationURL string         `yaml:"documentation_url,omitempty"`
	Status           string         `yaml:"status"`
	ErrorMessage     string         `yaml:"error_message,omitempty"`
	CreatedAt        string         `yaml:"created_at"`
	UpdatedAt        string         `yaml:"updated_at"`
}

// NewLoader returns the YAML loader for plugin documents rooted at "plugins".
func NewLoader() *declarative.Loader[*Metadata] {
	return &declarative.Loader[*Metadata]{
		RootKey:  "plugins",
		IDFields: []string{"plugin_id", "id"},
		Parse:    Parse,
		Export:   export,
	}
}

// Binding tells the importer how plugins carry identity and status.
func Binding() declarative.Binding[*Metadata] {
	return declarative.Binding[*Metadata]{
		ID:     func(m *Metadata) string { return m.ID },
		Status: func(m *Metadata) string { return string(m.Status) },
		WithStatus: func(m *Metadata, status string) *Metadata {
			cp := m.Clone()
			cp.Status = Status(status)
			return cp
		},
		DefaultStatus: string(StatusRegistered),
	}
}

// Parse builds plugin metadata from one declared item. entry_point is
// required.
func Parse(f declarative.Fields) (*Metadata, error) {
	id := f.String("plugin_id", "id")
	if id == "" {
		return nil, declarative.Invalid("plugin_id", "is required")
	}
	entry := f.String("entry_point", "entryPoint")
	if entry == "" {
		return nil, declarative.Invalid("entry_point", "is required")
	}
	status := f.StringOr(string(StatusRegistered), "status")
	if !ValidStatus(status) {
		return nil, declarative.Invalid("status", "unknown status %q", status)
	}
	enabled, err := f.Bool(true, "enabled")
	if err != nil {
		return nil, err
	}

	var caps []Capability
	for _, c := range f.Strings("capabilities") {
		caps = append(caps, ParseCapability(c))
	}

	now := time.Now().UTC()
	m := &Metadata{
		ID:               id,
		TenantID:         f.String("tenant_id", "tenantId"),
		Name:             f.StringOr(id, "name"),
		Version:          f.StringOr("1.0.0", "version"),
		Description:      f.String("description"),
		Author:           f.StringOr("unknown", "author"),
		EntryPoint:       entry,
		Capabilities:     caps,
		Dependencies:     f.Strings("dependencies"),
		Tags:             f.Strings("tags"),
		ConfigSchema:     f.Map("config_schema", "configSchema"),
		Config:           f.Map("plugin_config", "pluginConfig"),
		Enabled:          enabled,
		IconURL:          f.String("icon_url", "iconUrl"),
		DocumentationURL: f.String("documentation_url", "documentationUrl"),
		Status:           Status(status),
		ErrorMessage:     f.String("error_message"),
		CreatedAt:        now,
		UpdatedAt:        now,
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
		m.CreatedAt = *created
	}
	if updated != nil {
		m.UpdatedAt = *updated
	}
	return m, nil
}

func export(m *Metadata) any {
	caps := make([]string, len(m.Capabilities))
	for i, c := range m.Capabilities {
		caps[i] = string(c)
	}
	doc := document{
		PluginID:         m.ID,
		TenantID:         m.TenantID,
		Name:             m.Name,
		Version:          m.Version,
		Description:      m.Description,
		Author:           m.Author,
		EntryPoint:       m.EntryPoint,
		Capabilities:     caps,
		Dependencies:     m.Dependencies,
		Tags:             m.Tags,
		ConfigSchema:     m.ConfigSchema,
		Config:           m.Config,
		Enabled:          m.Enabled,
		IconURL:          m.IconURL,
		DocumentationURL: m.DocumentationURL,
		Status:           string(m.Status),
		ErrorMessage:     m.ErrorMessage,
		CreatedAt:        m.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt:        m.UpdatedAt.UTC().Format(time.RFC3339),
	}
	if doc.Dependencies == nil {
		doc.Dependencies = []string{}
	}
	if doc.Tags == nil {
		doc.Tags = []string{}
	}
	return doc
}
