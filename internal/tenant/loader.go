package tenant

import (
	"time"

	"github.com/mbd888/agentplatform/internal/declarative"
)

// document is the export shape of a tenant.
type document struct {
	TenantID          string         `yaml:"tenant_id"`
	Name              string         `yaml:"name"`
	DisplayName       string         `yaml:"display_name"`
	Description       string         `yaml:"description,omitempty"`
	Domain            string         `yaml:"domain,omitempty"`
	Tier              string         `yaml:"tier"`
	Status            string         `yaml:"status"`
	MaxUsers          int            `yaml:"max_users"`
	MaxStorageGB      int            `yaml:"max_storage_gb"`
	MaxAPICallsPerDay int            `yaml:"max_api_calls_per_day"`
	Features          []string       `yaml:"features"`
	Config            map[string]any `yaml:"config,omitempty"`
	Metadata          map[string]any `yaml:"metadata,omitempty"`
	OwnerID           string         `yaml:"owner_id,omitempty"`
	AdminEmails       []string       `yaml:"admin_emails,omitempty"`
	CreatedAt         string         `yaml:"created_at,omitempty"`
	UpdatedAt         string         `yaml:"updated_at,omitempty"`
	ExpiresAt         string         `yaml:"expires_at,omitempty"`
}

// NewLoader returns the YAML loader for tenant documents rooted at "tenants".
func NewLoader() *declarative.Loader[*Tenant] {
	return &declarative.Loader[*Tenant]{
		RootKey:  "tenants",
		IDFields: []string{"tenant_id", "id", "tenantId"},
		Parse:    Parse,
		Export:   export,
	}
}

// Binding tells the importer how tenants carry identity and status.
func Binding() declarative.Binding[*Tenant] {
	return declarative.Binding[*Tenant]{
		ID:     func(t *Tenant) string { return t.ID },
		Status: func(t *Tenant) string { return string(t.Status) },
		WithStatus: func(t *Tenant, status string) *Tenant {
			cp := t.Clone()
			cp.Status = Status(status)
			return cp
		},
		DefaultStatus: string(StatusTrial),
	}
}

// Parse builds a tenant from one declared item, applying metadata defaults.
func Parse(f declarative.Fields) (*Tenant, error) {
	id := f.String("tenant_id", "id", "tenantId")
	if id == "" {
		return nil, declarative.Invalid("tenant_id", "is required")
	}

	t := &Tenant{
		ID:          id,
		Name:        f.StringOr(id, "name"),
		Description: f.String("description"),
		Domain:      f.String("domain"),
		Tier:        Tier(f.StringOr(string(TierFree), "tier")),
		Status:      Status(f.StringOr(string(StatusTrial), "status")),
		Features:    f.Strings("features"),
		Config:      f.Map("config"),
		Metadata:    f.Map("metadata"),
		OwnerID:     f.String("owner_id", "ownerId"),
		AdminEmails: f.Strings("admin_emails", "adminEmails"),
	}
	t.DisplayName = f.StringOr(t.Name, "display_name", "displayName")

	if !ValidTier(t.Tier) {
		return nil, declarative.Invalid("tier", "unknown tier %q", t.Tier)
	}
	if !ValidStatus(t.Status) {
		return nil, declarative.Invalid("status", "unknown status %q", t.Status)
	}

	var err error
	if t.MaxUsers, err = f.Int(DefaultMaxUsers, "max_users", "maxUsers"); err != nil {
		return nil, err
	}
	if t.MaxStorageGB, err = f.Int(DefaultMaxStorageGB, "max_storage_gb", "maxStorageGb"); err != nil {
		return nil, err
	}
	if t.MaxAPICallsPerDay, err = f.Int(DefaultMaxAPICallsPerDay, "max_api_calls_per_day", "maxApiCallsPerDay"); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	created, err := f.Time("created_at", "createdAt")
	if err != nil {
		return nil, err
	}
	updated, err := f.Time("updated_at", "updatedAt")
	if err != nil {
		return nil, err
	}
	if t.ExpiresAt, err = f.Time("expires_at", "expiresAt"); err != nil {
		return nil, err
	}
	t.CreatedAt, t.UpdatedAt = now, now
	if created != nil {
		t.CreatedAt = *created
	}
	if updated != nil {
		t.UpdatedAt = *updated
	}
	return t, nil
}

func export(t *Tenant) any {
	doc := document{
		TenantID:          t.ID,
		Name:              t.Name,
		DisplayName:       t.DisplayName,
		Description:       t.Description,
		Domain:            t.Domain,
		Tier:              string(t.Tier),
		Status:            string(t.Status),
		MaxUsers:          t.MaxUsers,
		MaxStorageGB:      t.MaxStorageGB,
		MaxAPICallsPerDay: t.MaxAPICallsPerDay,
		Features:          t.Features,
		Config:            t.Config,
		Metadata:          t.Metadata,
		OwnerID:           t.OwnerID,
		AdminEmails:       t.AdminEmails,
		CreatedAt:         formatTime(t.CreatedAt),
		UpdatedAt:         formatTime(t.UpdatedAt),
	}
	if doc.Features == nil {
		doc.Features = []string{}
	}
	if t.ExpiresAt != nil {
		doc.ExpiresAt = formatTime(*t.ExpiresAt)
	}
	return doc
}

func formatTime(ts time.Time) string {
	if ts.IsZero() {
		return ""
	}
	return ts.UTC().Format(time.RFC3339)
}
