// Package datasources keeps the market data source catalog and selects,
// checks and falls back across the adapters behind it.
package datasources

import (
	"context"
	"errors"
	"time"
)

// Errors
var (
	ErrNoAdapter      = errors.New("datasources: no adapter registered")
	ErrNoneAvailable  = errors.New("datasources: no available source")
	ErrEmptyResult    = errors.New("datasources: adapter returned no data")
	ErrInvalidRequest = errors.New("datasources: invalid fetch request")
)

// Type classifies the data a source provides.
type Type string

const (
	TypeStock   Type = "stock"
	TypeFutures Type = "futures"
	TypeForex   Type = "forex"
	TypeCrypto  Type = "crypto"
	TypeNews    Type = "news"
	TypeSocial  Type = "social"
	TypeCustom  Type = "custom"
)

// ValidType reports whether t is a known source type.
func ValidType(t string) bool {
	switch Type(t) {
	case TypeStock, TypeFutures, TypeForex, TypeCrypto, TypeNews, TypeSocial, TypeCustom:
		return true
	}
	return false
}

// Status is the availability state of a source.
type Status string

const (
	StatusRegistered  Status = "registered"
	StatusAvailable   Status = "available"
	StatusUnavailable Status = "unavailable"
	StatusError       Status = "error"
	StatusDeprecated  Status = "deprecated"
)

// ValidStatus reports whether s is a known source status.
func ValidStatus(s string) bool {
	switch Status(s) {
	case StatusRegistered, StatusAvailable, StatusUnavailable, StatusError, StatusDeprecated:
		return true
	}
	return false
}

// Source is the registered description of a data source. Higher Priority
// is preferred.
type Source struct {
	ID                string         `json:"source_id"`
	TenantID          string         `json:"tenant_id,omitempty"`
	Name              string         `json:"name"`
	DisplayName       string         `json:"display_name"`
	Description       string         `json:"description"`
	Type              Type           `json:"source_type"`
	Version           string         `json:"version"`
	Author            string         `json:"author"`
	Priority          int            `json:"priority"`
	Enabled           bool           `json:"is_active"`
	Config            map[string]any `json:"config"`
	SupportedMarkets  []string       `json:"supported_markets"`
	SupportedFeatures []string       `json:"supported_features"`
	Tags              []string       `json:"tags"`
	Website           string         `json:"website,omitempty"`
	DocumentationURL  string         `json:"documentation_url,omitempty"`
	Status            Status         `json:"status"`
	LastCheck         *time.Time     `json:"last_check,omitempty"`
	ErrorMessage      string         `json:"error_message,omitempty"`
	CreatedAt         time.Time      `json:"created_at"`
	UpdatedAt         time.Time      `json:"updated_at"`
}

// Clone returns a deep copy.
func (s *Source) Clone() *Source {
	if s == nil {
		return nil
	}
	cp := *s
	cp.Config = make(map[string]any, len(s.Config))
	for k, v := range s.Config {
		cp.Config[k] = v
	}
	cp.SupportedMarkets = append([]string(nil), s.SupportedMarkets...)
	cp.SupportedFeatures = append([]string(nil), s.SupportedFeatures...)
	cp.Tags = append([]string(nil), s.Tags...)
	if s.LastCheck != nil {
		t := *s.LastCheck
		cp.LastCheck = &t
	}
	return &cp
}

// Supports reports whether the source lists feature. Sources that list no
// features are assumed to serve every operation.
func (s *Source) Supports(feature string) bool {
	if len(s.SupportedFeatures) == 0 {
		return true
	}
	for _, f := range s.SupportedFeatures {
		if f == feature {
			return true
		}
	}
	return false
}

// Query is one fetch request handed to an adapter. Operation names the
// dataset ("stock_list", "daily_basic", "realtime_quotes", "kline",
// "news", ...) and Params carries its arguments.
type Query struct {
	Operation string         `json:"operation"`
	Params    map[string]any `json:"params,omitempty"`
}

// Adapter talks to one upstream data provider.
type Adapter interface {
	Name() string
	IsAvailable(ctx context.Context) bool
	Fetch(ctx context.Context, q Query) (any, error)
}

// AdapterFactory builds the adapter for a source.
type AdapterFactory func(src *Source) (Adapter, error)
