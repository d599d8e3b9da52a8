package providers

import (
	"time"

	"github.com/mbd888/agentplatform/internal/declarative"
)

type document struct {
	Name              string         `yaml:"name"`
	DisplayName       string         `yaml:"display_name"`
	Description       string         `yaml:"description,omitempty"`
	Website           string         `yaml:"website,omitempty"`
	APIDocURL         string         `yaml:"api_doc_url,omitempty"`
	LogoURL           string         `yaml:"logo_url,omitempty"`
	IsActive          bool           `yaml:"is_active"`
	SupportedFeatures []string       `yaml:"supported_features"`
	DefaultBaseURL    string         `yaml:"default_base_url,omitempty"`
	IsAggregator      bool           `yaml:"is_aggregator"`
	AggregatorType    string         `yaml:"aggregator_type,omitempty"`
	ModelNameFormat   string         `yaml:"model_name_format,omitempty"`
	ExtraConfig       map[string]any `yaml:"extra_config,omitempty"`
	Status            string         `yaml:"status"`
}

// NewLoader returns the YAML loader for documents rooted at "providers".
// Object-form items are keyed by provider name.
func NewLoader() *declarative.Loader[*Provider] {
	return &declarative.Loader[*Provider]{
		RootKey:  "providers",
		IDFields: []string{"name"},
		Parse:    Parse,
		Export:   export,
	}
}

// Binding tells the importer how providers carry identity and status.
func Binding() declarative.Binding[*Provider] {
	return declarative.Binding[*Provider]{
		ID:     func(p *Provider) string { return p.Name },
		Status: func(p *Provider) string { return string(p.Status) },
		WithStatus: func(p *Provider, status string) *Provider {
			cp := p.Clone()
			cp.Status = Status(status)
			cp.Active = cp.Status == StatusActive
			return cp
		},
		DefaultStatus: string(StatusActive),
	}
}

// Parse builds a provider from one declared item. is_active decides the
// status unless one is declared.
func Parse(f declarative.Fields) (*Provider, error) {
	name := f.String("name")
	if name == "" {
		return nil, declarative.Invalid("name", "is required")
	}
	active, err := f.Bool(true, "is_active", "isActive")
	if err != nil {
		return nil, err
	}
	aggregator, err := f.Bool(false, "is_aggregator", "isAggregator")
	if err != nil {
		return nil, err
	}
	def := StatusActive
	if !active {
		def = StatusInactive
	}
	status := f.StringOr(string(def), "status")
	if !ValidStatus(status) {
		return nil, declarative.Invalid("status", "unknown status %q", status)
	}

	now := time.Now().UTC()
	return &Provider{
		Name:              name,
		DisplayName:       f.StringOr(name, "display_name", "displayName"),
		Description:       f.String("description"),
		Website:           f.String("website"),
		APIDocURL:         f.String("api_doc_url", "apiDocUrl"),
		LogoURL:           f.String("logo_url", "logoUrl"),
		Active:            Status(status) == StatusActive,
		SupportedFeatures: f.Strings("supported_features", "supportedFeatures"),
		DefaultBaseURL:    f.String("default_base_url", "defaultBaseUrl"),
		IsAggregator:      aggregator,
		AggregatorType:    f.String("aggregator_type", "aggregatorType"),
		ModelNameFormat:   f.String("model_name_format", "modelNameFormat"),
		ExtraConfig:       f.Map("extra_config", "extraConfig"),
		Status:            Status(status),
		CreatedAt:         now,
		UpdatedAt:         now,
	}, nil
}

func export(p *Provider) any {
	doc := document{
		Name:              p.Name,
		DisplayName:       p.DisplayName,
		Description:       p.Description,
		Website:           p.Website,
		APIDocURL:         p.APIDocURL,
		LogoURL:           p.LogoURL,
		IsActive:          p.Active,
		SupportedFeatures: p.SupportedFeatures,
		DefaultBaseURL:    p.DefaultBaseURL,
		IsAggregator:      p.IsAggregator,
		AggregatorType:    p.AggregatorType,
		ModelNameFormat:   p.ModelNameFormat,
		Status:            string(p.Status),
	}
	if len(p.ExtraConfig) > 0 {
		doc.ExtraConfig = p.ExtraConfig
	}
	return doc
}
