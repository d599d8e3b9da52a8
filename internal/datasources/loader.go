package datasources

import (
	"time"

	"github.com/mbd888/agentplatform/internal/declarative"
)

type document struct {
	SourceID          string         `yaml:"source_id"`
	TenantID          string         `yaml:"tenant_id,omitempty"`
	Name              string         `yaml:"name"`
	DisplayName       string         `yaml:"display_name"`
	Description       string         `yaml:"description,omitempty"`
	SourceType        string         `yaml:"source_type"`
	Version           string         `yaml:"version"`
	Author            string         `yaml:"author"`
	Priority          int            `yaml:"priority"`
	IsActive          bool           `yaml:"is_active"`
	Config            map[string]any `yaml:"config,omitempty"`
	SupportedMarkets  []string       `yaml:"supported_markets"`
	SupportedFeatures []string       `yaml:"supported_features"`
	Tags              []string       `yaml:"tags"`
	Website           string         `yaml:"website,omitempty"`
	DocumentationURL  string         `yaml:"documentation_url,omitempty"`
	Status            string         `yaml:"status"`
}

// NewLoader returns the YAML loader for documents rooted at "data_sources".
func NewLoader() *declarative.Loader[*Source] {
	return &declarative.Loader[*Source]{
		RootKey:  "data_sources",
		IDFields: []string{"source_id", "id"},
		Parse:    Parse,
		Export:   export,
	}
}

// Binding tells the importer how sources carry identity and status.
func Binding() declarative.Binding[*Source] {
	return declarative.Binding[*Source]{
		ID:     func(s *Source) string { return s.ID },
		Status: func(s *Source) string { return string(s.Status) },
		WithStatus: func(s *Source, status string) *Source {
			cp := s.Clone()
			cp.Status = Status(status)
			return cp
		},
		DefaultStatus: string(StatusRegistered),
	}
}

// Parse builds a source from one declared item. Both snake_case and
// camelCase keys are accepted.
func Parse(f declarative.Fields) (*Source, error) {
	id := f.String("source_id", "id")
	if id == "" {
		return nil, declarative.Invalid("source_id", "is required")
	}
	typ := f.StringOr(string(TypeStock), "source_type", "sourceType")
	if !ValidType(typ) {
		return nil, declarative.Invalid("source_type", "unknown source type %q", typ)
	}
	status := f.StringOr(string(StatusRegistered), "status")
	if !ValidStatus(status) {
		return nil, declarative.Invalid("status", "unknown status %q", status)
	}
	priority, err := f.Int(0, "priority")
	if err != nil {
		return nil, err
	}
	active, err := f.Bool(true, "is_active", "isActive", "enabled")
	if err != nil {
		return nil, err
	}

	name := f.StringOr(id, "name")
	now := time.Now().UTC()
	return &Source{
		ID:                id,
		TenantID:          f.String("tenant_id", "tenantId"),
		Name:              name,
		DisplayName:       f.StringOr(name, "display_name", "displayName"),
		Description:       f.String("description"),
		Type:              Type(typ),
		Version:           f.StringOr("1.0.0", "version"),
		Author:            f.StringOr("unknown", "author"),
		Priority:          priority,
		Enabled:           active,
		Config:            f.Map("config"),
		SupportedMarkets:  f.Strings("supported_markets", "supportedMarkets"),
		SupportedFeatures: f.Strings("supported_features", "supportedFeatures"),
		Tags:              f.Strings("tags"),
		Website:           f.String("website"),
		DocumentationURL:  f.String("documentation_url", "documentationUrl"),
		Status:            Status(status),
		CreatedAt:         now,
		UpdatedAt:         now,
	}, nil
}

func export(s *Source) any {
	doc := document{
		SourceID:          s.ID,
		TenantID:          s.TenantID,
		Name:              s.Name,
		DisplayName:       s.DisplayName,
		Description:       s.Description,
		SourceType:        string(s.Type),
		Version:           s.Version,
		Author:            s.Author,
		Priority:          s.Priority,
		IsActive:          s.Enabled,
		SupportedMarkets:  s.SupportedMarkets,
		SupportedFeatures: s.SupportedFeatures,
		Tags:              s.Tags,
		Website:           s.Website,
		DocumentationURL:  s.DocumentationURL,
		Status:            string(s.Status),
	}
	if len(s.Config) > 0 {
		doc.Config = s.Config
	}
	return doc
}
