// Package providers keeps the global LLM provider catalog. Providers are
// keyed by name, persisted to the document store and visible to every
// tenant; only admins change them.
package providers

import (
	"errors"
	"time"
)

// Errors
var (
	ErrNoCredentials = errors.New("providers: no credentials stored")
	ErrNoStore       = errors.New("providers: no document store configured")
)

// Status is the lifecycle state of a provider.
type Status string

const (
	StatusActive     Status = "active"
	StatusInactive   Status = "inactive"
	StatusDeprecated Status = "deprecated"
)

// ValidStatus reports whether s is a known provider status.
func ValidStatus(s string) bool {
	switch Status(s) {
	case StatusActive, StatusInactive, StatusDeprecated:
		return true
	}
	return false
}

// Provider describes one LLM vendor or aggregator. API credentials are never
// part of the record; HasAPIKey only says whether some are stored.
type Provider struct {
	Name              string         `json:"name"`
	DisplayName       string         `json:"display_name"`
	Description       string         `json:"description,omitempty"`
	Website           string         `json:"website,omitempty"`
	APIDocURL         string         `json:"api_doc_url,omitempty"`
	LogoURL           string         `json:"logo_url,omitempty"`
	Active            bool           `json:"is_active"`
	SupportedFeatures []string       `json:"supported_features"`
	DefaultBaseURL    string         `json:"default_base_url,omitempty"`
	IsAggregator      bool           `json:"is_aggregator"`
	AggregatorType    string         `json:"aggregator_type,omitempty"`
	ModelNameFormat   string         `json:"model_name_format,omitempty"`
	ExtraConfig       map[string]any `json:"extra_config"`
	HasAPIKey         bool           `json:"has_api_key"`
	Status            Status         `json:"status"`
	CreatedAt         time.Time      `json:"created_at"`
	UpdatedAt         time.Time      `json:"updated_at"`
}

// Clone returns a deep copy.
func (p *Provider) Clone() *Provider {
	if p == nil {
		return nil
	}
	cp := *p
	cp.SupportedFeatures = append([]string(nil), p.SupportedFeatures...)
	cp.ExtraConfig = make(map[string]any, len(p.ExtraConfig))
	for k, v := range p.ExtraConfig {
		cp.ExtraConfig[k] = v
	}
	return &cp
}

// Supports reports whether the provider lists feature.
func (p *Provider) Supports(feature string) bool {
	for _, f := range p.SupportedFeatures {
		if f == feature {
			return true
		}
	}
	return false
}

// Credentials are the secrets used to call a provider.
type Credentials struct {
	APIKey    string `json:"api_key"`
	APISecret string `json:"api_secret,omitempty"`
}
