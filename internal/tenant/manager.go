package tenant

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/mbd888/agentplatform/internal/declarative"
	"github.com/mbd888/agentplatform/internal/docstore"
	"github.com/mbd888/agentplatform/internal/events"
	"github.com/mbd888/agentplatform/internal/logging"
	"github.com/mbd888/agentplatform/internal/metrics"
	"github.com/mbd888/agentplatform/internal/registry"
)

// Collections holding tenant data.
const (
	FieldTenantID   = "tenant_id"
	UsersCollection = "users"
)

// Access denial reasons, used as metric labels.
const (
	reasonUnknown  = "unknown"
	reasonStatus   = "status"
	reasonExpired  = "expired"
	resourceTenant = "tenant"
)

// Manager enforces tenant access, quotas and data scoping on top of the
// tenant registry. It is the only component that mutates tenant records.
type Manager struct {
	tenants *Registry
	store   docstore.Store
	loader  *declarative.Loader[*Tenant]
	events  events.Publisher
	logger  *slog.Logger
	now     func() time.Time

	countUsers func(ctx context.Context, tenantID string) (int, error)
}

// NewManager creates a tenant manager. store may be nil when tenant data
// access is not needed (tests of pure access checks).
func NewManager(tenants *Registry, store docstore.Store, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		tenants: tenants,
		store:   store,
		loader:  NewLoader(),
		events:  events.Nop{},
		logger:  logger,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// WithEvents publishes tenant lifecycle changes to p.
func (m *Manager) WithEvents(p events.Publisher) *Manager {
	m.events = p
	return m
}

// WithClock overrides the time source.
func (m *Manager) WithClock(now func() time.Time) *Manager {
	m.now = now
	return m
}

// WithUserCounter makes Statistics count users through fn instead of the
// tenant's users collection.
func (m *Manager) WithUserCounter(fn func(ctx context.Context, tenantID string) (int, error)) *Manager {
	m.countUsers = fn
	return m
}

// Registry exposes the underlying tenant registry for read paths.
func (m *Manager) Registry() *Registry { return m.tenants }

// Get returns a copy of the tenant.
func (m *Manager) Get(tenantID string) (*Tenant, bool) {
	return m.tenants.Get(tenantID)
}

// GetByDomain looks a tenant up by its registered domain (case-insensitive).
func (m *Manager) GetByDomain(domain string) (*Tenant, bool) {
	return m.tenants.Lookup(IndexDomain, strings.ToLower(domain))
}

// List returns tenants filtered by status and tier (either may be empty).
func (m *Manager) List(status Status, tier Tier) []*Tenant {
	f := registry.Filter{Status: string(status)}
	if tier != "" {
		f.Index, f.Value = IndexTier, string(tier)
	}
	return m.tenants.List(f)
}

// -----------------------------------------------------------------------------
// Access control
// -----------------------------------------------------------------------------

// CheckTenantAccess reports whether the tenant may serve requests.
//
// It returns false for unknown tenants and for tenants whose status is not
// active or trial. A usable tenant whose expires_at has passed is moved to
// expired through the registry and false is returned; the transition is a
// compare-and-set, so concurrent callers trigger it at most once.
func (m *Manager) CheckTenantAccess(ctx context.Context, tenantID string) bool {
	ok, reason := m.checkAccess(ctx, tenantID)
	if !ok {
		metrics.TenantAccessDeniedTotal.WithLabelValues(reason).Inc()
	}
	return ok
}

func (m *Manager) checkAccess(ctx context.Context, tenantID string) (bool, string) {
	t, found := m.tenants.Get(tenantID)
	if !found {
		return false, reasonUnknown
	}
	if !t.Status.Usable() {
		return false, reasonStatus
	}
	if t.IsExpired(m.now()) {
		m.expire(ctx, t)
		return false, reasonExpired
	}
	return true, ""
}

// expire moves t to expired if its status has not changed since it was read.
func (m *Manager) expire(ctx context.Context, t *Tenant) bool {
	if !m.tenants.CompareAndSetStatus(t.ID, string(t.Status), string(StatusExpired)) {
		return false
	}
	metrics.TenantsExpiredTotal.Inc()
	logging.L(ctx).Info("tenant expired", "tenant_id", t.ID, "previous_status", t.Status, "expires_at", t.ExpiresAt)
	m.publishStatus(ctx, t.ID, t.Status, StatusExpired)
	return true
}

// ExpireOverdue transitions every usable tenant past its expiry and returns
// the ids that changed.
func (m *Manager) ExpireOverdue(ctx context.Context) []string {
	now := m.now()
	var expired []string
	for _, status := range []Status{StatusActive, StatusTrial} {
		for _, t := range m.tenants.List(registry.Filter{Index: registry.IndexStatus, Value: string(status)}) {
			if t.IsExpired(now) && m.expire(ctx, t) {
				expired = append(expired, t.ID)
			}
		}
	}
	return expired
}

// CheckUserLimit reports whether one more user fits: current < max_users.
func (m *Manager) CheckUserLimit(tenantID string, current int) bool {
	t, ok := m.tenants.Get(tenantID)
	return ok && current < t.MaxUsers
}

// CheckStorageLimit reports whether storage use is under the cap: current < max_storage_gb.
func (m *Manager) CheckStorageLimit(tenantID string, currentGB float64) bool {
	t, ok := m.tenants.Get(tenantID)
	return ok && currentGB < float64(t.MaxStorageGB)
}

// CheckAPIQuota reports whether another call is allowed today: calls < max_api_calls_per_day.
func (m *Manager) CheckAPIQuota(tenantID string, todayCalls int64) bool {
	t, ok := m.tenants.Get(tenantID)
	return ok && todayCalls < int64(t.MaxAPICallsPerDay)
}

// HasFeature reports whether feature is enabled for the tenant.
func (m *Manager) HasFeature(tenantID, feature string) bool {
	t, ok := m.tenants.Get(tenantID)
	return ok && t.HasFeature(feature)
}

// -----------------------------------------------------------------------------
// Tenant-scoped data
// -----------------------------------------------------------------------------

// ScopedCollection derives the per-tenant collection name for base.
func ScopedCollection(tenantID, base string) string {
	return fmt.Sprintf("tenant_%s_%s", tenantID, base)
}

// scopedFilter copies filter and pins tenant_id, overriding any caller value.
func scopedFilter(tenantID string, filter docstore.Filter) docstore.Filter {
	out := make(docstore.Filter, len(filter)+1)
	for k, v := range filter {
		out[k] = v
	}
	out[FieldTenantID] = tenantID
	return out
}

func (m *Manager) dataStore(tenantID string) (docstore.Store, error) {
	if tenantID == "" {
		return nil, ErrNoTenant
	}
	if m.store == nil {
		return nil, errors.New("tenant: no document store configured")
	}
	return m.store, nil
}

// FindTenantData returns the tenant's documents in base matching filter.
func (m *Manager) FindTenantData(ctx context.Context, tenantID, base string, filter docstore.Filter, opts docstore.FindOptions) ([]docstore.Document, error) {
	store, err := m.dataStore(tenantID)
	if err != nil {
		return nil, err
	}
	return store.Find(ctx, ScopedCollection(tenantID, base), scopedFilter(tenantID, filter), opts)
}

// FindOneTenantData returns one of the tenant's documents or docstore.ErrNotFound.
func (m *Manager) FindOneTenantData(ctx context.Context, tenantID, base string, filter docstore.Filter) (docstore.Document, error) {
	store, err := m.dataStore(tenantID)
	if err != nil {
		return nil, err
	}
	return store.FindOne(ctx, ScopedCollection(tenantID, base), scopedFilter(tenantID, filter))
}

// InsertTenantData stamps tenant_id and timestamps on doc and stores it.
func (m *Manager) InsertTenantData(ctx context.Context, tenantID, base string, doc docstore.Document) (string, error) {
	store, err := m.dataStore(tenantID)
	if err != nil {
		return "", err
	}
	now := m.now()
	cp := doc.Clone()
	cp[FieldTenantID] = tenantID
	cp["created_at"] = now
	cp["updated_at"] = now
	return store.InsertOne(ctx, ScopedCollection(tenantID, base), cp)
}

// UpdateTenantData sets fields on every matching document of the tenant and
// returns how many matched. tenant_id cannot be rewritten.
func (m *Manager) UpdateTenantData(ctx context.Context, tenantID, base string, filter docstore.Filter, set docstore.Document) (int64, error) {
	store, err := m.dataStore(tenantID)
	if err != nil {
		return 0, err
	}
	cp := set.Clone()
	cp[FieldTenantID] = tenantID
	cp["updated_at"] = m.now()
	return store.UpdateMany(ctx, ScopedCollection(tenantID, base), scopedFilter(tenantID, filter), cp)
}

// DeleteTenantData removes the tenant's matching documents.
func (m *Manager) DeleteTenantData(ctx context.Context, tenantID, base string, filter docstore.Filter) (int64, error) {
	store, err := m.dataStore(tenantID)
	if err != nil {
		return 0, err
	}
	return store.DeleteMany(ctx, ScopedCollection(tenantID, base), scopedFilter(tenantID, filter))
}

// CountTenantData counts the tenant's matching documents.
func (m *Manager) CountTenantData(ctx context.Context, tenantID, base string, filter docstore.Filter) (int64, error) {
	store, err := m.dataStore(tenantID)
	if err != nil {
		return 0, err
	}
	return store.Count(ctx, ScopedCollection(tenantID, base), scopedFilter(tenantID, filter))
}

// Statistics summarises a tenant's usage against its limits.
type Statistics struct {
	TenantID         string   `json:"tenant_id"`
	Name             string   `json:"name"`
	Tier             Tier     `json:"tier"`
	Status           Status   `json:"status"`
	CurrentUsers     int64    `json:"current_users"`
	MaxUsers         int      `json:"max_users"`
	UserUsagePercent float64  `json:"user_usage_percent"`
	Features         []string `json:"features"`
}

// Statistics counts the tenant's users and reports usage percentages.
func (m *Manager) Statistics(ctx context.Context, tenantID string) (*Statistics, error) {
	t, ok := m.tenants.Get(tenantID)
	if !ok {
		return nil, ErrTenantNotFound
	}
	users, err := m.userCount(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("tenant: count users: %w", err)
	}
	stats := &Statistics{
		TenantID:     t.ID,
		Name:         t.Name,
		Tier:         t.Tier,
		Status:       t.Status,
		CurrentUsers: users,
		MaxUsers:     t.MaxUsers,
		Features:     t.Features,
	}
	if t.MaxUsers > 0 {
		stats.UserUsagePercent = math.Round(float64(users)/float64(t.MaxUsers)*10000) / 100
	}
	return stats, nil
}

func (m *Manager) userCount(ctx context.Context, tenantID string) (int64, error) {
	if m.countUsers != nil {
		n, err := m.countUsers(ctx, tenantID)
		return int64(n), err
	}
	return m.CountTenantData(ctx, tenantID, UsersCollection, nil)
}

// -----------------------------------------------------------------------------
// Lifecycle
// -----------------------------------------------------------------------------

// CreateTenant registers a new tenant. Missing limits and features come
// from the tier's plan; status defaults to trial.
func (m *Manager) CreateTenant(ctx context.Context, t *Tenant) (*Tenant, error) {
	if t == nil || strings.TrimSpace(t.ID) == "" {
		return nil, fmt.Errorf("%w: tenant_id is required", ErrInvalidTenant)
	}
	rec := t.Clone()
	rec.ID = strings.TrimSpace(rec.ID)
	if rec.Tier == "" {
		rec.Tier = TierFree
	}
	if !ValidTier(rec.Tier) {
		return nil, fmt.Errorf("%w: unknown tier %q", ErrInvalidTenant, rec.Tier)
	}
	if rec.Status == "" {
		rec.Status = StatusTrial
	}
	if !ValidStatus(rec.Status) {
		return nil, fmt.Errorf("%w: unknown status %q", ErrInvalidTenant, rec.Status)
	}
	if rec.Name == "" {
		rec.Name = rec.ID
	}
	if rec.DisplayName == "" {
		rec.DisplayName = rec.Name
	}
	rec.Domain = strings.ToLower(strings.TrimSpace(rec.Domain))
	applyPlan(rec)
	now := m.now()
	rec.CreatedAt, rec.UpdatedAt = now, now

	created, err := m.tenants.Register(rec)
	if err != nil {
		return nil, mapRegistryErr(err)
	}
	logging.L(ctx).Info("tenant created", "tenant_id", created.ID, "tier", created.Tier)
	m.events.Publish(ctx, events.New(resourceTenant, events.TypeRegistered, created.ID, map[string]any{
		"tier":   created.Tier,
		"status": created.Status,
	}).ForTenant(created.ID))
	return created, nil
}

// UpdateTenant applies fn to the tenant and re-indexes it. fn must not
// change the id; status changes belong to SetStatus.
func (m *Manager) UpdateTenant(ctx context.Context, tenantID string, fn func(*Tenant) error) (*Tenant, error) {
	var before Status
	updated, err := m.tenants.Update(tenantID, func(t *Tenant) error {
		before = t.Status
		if err := fn(t); err != nil {
			return err
		}
		if t.Status != before {
			return fmt.Errorf("%w: use the status endpoint to change status", ErrInvalidTenant)
		}
		if !ValidTier(t.Tier) {
			return fmt.Errorf("%w: unknown tier %q", ErrInvalidTenant, t.Tier)
		}
		t.Domain = strings.ToLower(strings.TrimSpace(t.Domain))
		t.UpdatedAt = m.now()
		return nil
	})
	if err != nil {
		return nil, mapRegistryErr(err)
	}
	logging.L(ctx).Info("tenant updated", "tenant_id", tenantID)
	m.events.Publish(ctx, events.New(resourceTenant, events.TypeUpdated, tenantID, nil).ForTenant(tenantID))
	return updated, nil
}

// SetStatus is the explicit status transition. It keeps the status index
// in step with the record.
func (m *Manager) SetStatus(ctx context.Context, tenantID string, status Status) (*Tenant, error) {
	if !ValidStatus(status) {
		return nil, fmt.Errorf("%w: unknown status %q", ErrInvalidTenant, status)
	}
	before, ok := m.tenants.Get(tenantID)
	if !ok {
		return nil, ErrTenantNotFound
	}
	if !m.tenants.UpdateStatus(tenantID, string(status)) {
		return nil, ErrTenantNotFound
	}
	after, ok := m.tenants.Get(tenantID)
	if !ok {
		return nil, ErrTenantNotFound
	}
	logging.L(ctx).Info("tenant status changed", "tenant_id", tenantID, "from", before.Status, "to", status)
	m.publishStatus(ctx, tenantID, before.Status, status)
	return after, nil
}

// DeleteTenant unregisters the tenant. Its scoped collections are kept.
func (m *Manager) DeleteTenant(ctx context.Context, tenantID string) error {
	if !m.tenants.Unregister(tenantID) {
		return ErrTenantNotFound
	}
	logging.L(ctx).Info("tenant deleted", "tenant_id", tenantID)
	m.events.Publish(ctx, events.New(resourceTenant, events.TypeUnregistered, tenantID, nil).ForTenant(tenantID))
	return nil
}

// Import merges a YAML document of tenants into the registry.
func (m *Manager) Import(ctx context.Context, data []byte, updateExisting bool) (*declarative.Result, error) {
	res, err := declarative.ImportBytes(m.loader, m.tenants, Binding(), data, declarative.Options{UpdateExisting: updateExisting})
	if err != nil {
		return nil, err
	}
	logging.L(ctx).Info("tenants imported",
		"imported", len(res.Imported), "updated", len(res.Updated),
		"skipped", len(res.Skipped), "errors", len(res.Errors))
	if len(res.Imported)+len(res.Updated) > 0 {
		m.events.Publish(ctx, events.New(resourceTenant, events.TypeImported, "", map[string]any{
			"imported": res.Imported,
			"updated":  res.Updated,
		}))
	}
	return res, nil
}

// ImportFile merges one YAML file, updating existing tenants.
func (m *Manager) ImportFile(ctx context.Context, path string) (*declarative.Result, error) {
	records, err := m.loader.LoadFile(path)
	if err != nil {
		return nil, err
	}
	return declarative.Import(m.tenants, Binding(), records, declarative.Options{UpdateExisting: true}), nil
}

// Export renders every tenant as a YAML document.
func (m *Manager) Export() ([]byte, error) {
	return m.loader.ExportBytes(m.tenants.All())
}

func (m *Manager) publishStatus(ctx context.Context, tenantID string, from, to Status) {
	m.events.Publish(ctx, events.New(resourceTenant, events.TypeStatusChanged, tenantID, map[string]any{
		"from": string(from),
		"to":   string(to),
	}).ForTenant(tenantID))
}

func mapRegistryErr(err error) error {
	switch {
	case errors.Is(err, registry.ErrDuplicateID):
		return fmt.Errorf("%w: %v", ErrTenantExists, err)
	case errors.Is(err, registry.ErrDuplicateKey):
		return fmt.Errorf("%w: %v", ErrDomainTaken, err)
	case errors.Is(err, registry.ErrNotFound):
		return ErrTenantNotFound
	default:
		return err
	}
}
