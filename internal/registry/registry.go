// Package registry provides the indexed in-memory catalog shared by every
// domain in the platform (tenants, agents, plugins, data sources, ...).
//
// A Registry[T] stores records by id and maintains secondary indexes
// (status, tag, type, market, capability, ...) under a single lock so the
// primary map and its indexes always change together.
package registry

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/mbd888/agentplatform/internal/metrics"
)

// Errors
var (
	ErrDuplicateID   = errors.New("registry: id already registered")
	ErrDuplicateKey  = errors.New("registry: unique key already taken")
	ErrNotFound      = errors.New("registry: not found")
	ErrInvalidRecord = errors.New("registry: record has no id")
	ErrIDChanged     = errors.New("registry: id is immutable")
	ErrNoStatus      = errors.New("registry: registry does not track status")
)

// Built-in index names.
const (
	IndexStatus = "status"
	IndexTag    = "tag"
)

// Config describes how a record type is keyed, indexed and copied.
// ID and Clone are required; everything else is optional.
type Config[T any] struct {
	ID    func(T) string
	Clone func(T) T

	Status    func(T) string
	SetStatus func(rec T, status string, at time.Time)
	Tags      func(T) []string
	Enabled   func(T) bool

	// Indexes are additional secondary indexes keyed by name. An extractor
	// may return several values (e.g. capabilities).
	Indexes map[string]func(T) []string
	// Unique indexes map a value to exactly one id. Empty values are not indexed.
	Unique map[string]func(T) string

	// SearchText returns the fields Search matches against.
	SearchText func(T) []string
	// Less orders List and Search results. Nil keeps insertion order.
	Less func(a, b T) bool
}

// Filter narrows List results. Index/Value select the starting bucket.
type Filter struct {
	Index   string
	Value   string
	Status  string
	Tags    []string // any-of
	Enabled *bool
	Limit   int
}

// Registry is a concurrency-safe indexed catalog of T.
type Registry[T any] struct {
	name string
	cfg  Config[T]

	mu      sync.RWMutex
	records map[string]T
	order   []string
	indexes map[string]map[string][]string
	unique  map[string]map[string]string
}

// New creates an empty registry.
func New[T any](name string, cfg Config[T]) *Registry[T] {
	if cfg.ID == nil || cfg.Clone == nil {
		panic("registry: Config.ID and Config.Clone are required")
	}
	r := &Registry[T]{
		name:    name,
		cfg:     cfg,
		records: make(map[string]T),
		indexes: make(map[string]map[string][]string),
		unique:  make(map[string]map[string]string),
	}
	for _, idx := range r.indexNames() {
		r.indexes[idx] = make(map[string][]string)
	}
	for idx := range cfg.Unique {
		r.unique[idx] = make(map[string]string)
	}
	return r
}

// Name returns the registry name used in logs and metrics.
func (r *Registry[T]) Name() string { return r.name }

// Register adds rec. It fails with ErrDuplicateID if the id exists and
// never overwrites the stored record.
func (r *Registry[T]) Register(rec T) (T, error) {
	var zero T
	id := r.cfg.ID(rec)
	if id == "" {
		r.observe("register", "invalid")
		return zero, ErrInvalidRecord
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.records[id]; exists {
		r.observe("register", "duplicate")
		return zero, fmt.Errorf("%w: %s", ErrDuplicateID, id)
	}
	stored := r.cfg.Clone(rec)
	if err := r.checkUniqueLocked(id, stored); err != nil {
		r.observe("register", "duplicate")
		return zero, err
	}

	r.records[id] = stored
	r.order = append(r.order, id)
	r.indexLocked(id, stored)
	r.observe("register", "ok")
	return r.cfg.Clone(stored), nil
}

// Get returns a copy of the record stored under id.
func (r *Registry[T]) Get(id string) (T, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rec, ok := r.records[id]
	if !ok {
		var zero T
		return zero, false
	}
	return r.cfg.Clone(rec), true
}

// Lookup finds a record through a unique index.
func (r *Registry[T]) Lookup(index, value string) (T, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var zero T
	if value == "" {
		return zero, false
	}
	id, ok := r.unique[index][value]
	if !ok {
		return zero, false
	}
	return r.cfg.Clone(r.records[id]), true
}

// Exists reports whether id is registered.
func (r *Registry[T]) Exists(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.records[id]
	return ok
}

// Unregister removes id from the store and from every index bucket.
// It returns false when id is unknown.
func (r *Registry[T]) Unregister(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.records[id]
	if !ok {
		r.observe("unregister", "not_found")
		return false
	}
	r.deindexLocked(id, rec)
	delete(r.records, id)
	r.order = removeID(r.order, id)
	r.observe("unregister", "ok")
	return true
}

// Replace swaps the stored record for rec in one step. The id keeps its
// place in registry order. It fails with ErrNotFound when the id is not
// registered.
func (r *Registry[T]) Replace(rec T) (T, error) {
	var zero T
	id := r.cfg.ID(rec)

	r.mu.Lock()
	defer r.mu.Unlock()

	old, ok := r.records[id]
	if !ok {
		r.observe("replace", "not_found")
		return zero, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	next := r.cfg.Clone(rec)
	if err := r.checkUniqueLocked(id, next); err != nil {
		r.observe("replace", "duplicate")
		return zero, err
	}
	r.deindexLocked(id, old)
	r.records[id] = next
	r.indexLocked(id, next)
	r.observe("replace", "ok")
	return r.cfg.Clone(next), nil
}

// UpdateStatus moves id from its current status bucket to status and
// stamps the update time. It returns false when id is unknown.
func (r *Registry[T]) UpdateStatus(id, status string) bool {
	if r.cfg.SetStatus == nil {
		return false
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.records[id]
	if !ok {
		r.observe("update_status", "not_found")
		return false
	}
	r.deindexLocked(id, rec)
	r.cfg.SetStatus(rec, status, time.Now().UTC())
	r.records[id] = rec
	r.indexLocked(id, rec)
	r.observe("update_status", "ok")
	return true
}

// CompareAndSetStatus changes the status only if it currently equals from.
// It reports whether the transition happened.
func (r *Registry[T]) CompareAndSetStatus(id, from, to string) bool {
	if r.cfg.SetStatus == nil || r.cfg.Status == nil {
		return false
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.records[id]
	if !ok || r.cfg.Status(rec) != from {
		return false
	}
	r.deindexLocked(id, rec)
	r.cfg.SetStatus(rec, to, time.Now().UTC())
	r.records[id] = rec
	r.indexLocked(id, rec)
	r.observe("update_status", "ok")
	return true
}

// Update applies fn to a copy of the record and stores the result,
// re-indexing every attribute. fn must not change the id.
func (r *Registry[T]) Update(id string, fn func(T) error) (T, error) {
	var zero T

	r.mu.Lock()
	defer r.mu.Unlock()

	old, ok := r.records[id]
	if !ok {
		r.observe("update", "not_found")
		return zero, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	next := r.cfg.Clone(old)
	if err := fn(next); err != nil {
		r.observe("update", "rejected")
		return zero, err
	}
	if r.cfg.ID(next) != id {
		r.observe("update", "rejected")
		return zero, ErrIDChanged
	}
	if err := r.checkUniqueLocked(id, next); err != nil {
		r.observe("update", "duplicate")
		return zero, err
	}

	r.deindexLocked(id, old)
	r.records[id] = next
	r.indexLocked(id, next)
	r.observe("update", "ok")
	return r.cfg.Clone(next), nil
}

// List returns the records matching f. When f.Index is set, iteration
// starts from that index bucket instead of scanning every record.
func (r *Registry[T]) List(f Filter) []T {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := r.order
	if f.Index != "" {
		bucket, ok := r.indexes[f.Index]
		if !ok {
			if uidx, uok := r.unique[f.Index]; uok {
				ids = nil
				if id, found := uidx[f.Value]; found {
					ids = []string{id}
				}
			} else {
				return []T{}
			}
		} else {
			ids = bucket[f.Value]
		}
	}

	out := make([]T, 0, len(ids))
	for _, id := range ids {
		rec := r.records[id]
		if !r.matchLocked(rec, f) {
			continue
		}
		out = append(out, r.cfg.Clone(rec))
	}
	r.sort(out)
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out
}

// All returns every record in registry order.
func (r *Registry[T]) All() []T {
	return r.List(Filter{})
}

// Search does a case-insensitive substring match over SearchText fields.
func (r *Registry[T]) Search(query string) []T {
	q := strings.ToLower(strings.TrimSpace(query))

	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]T, 0)
	for _, id := range r.order {
		rec := r.records[id]
		if q == "" || r.matchesQuery(rec, q) {
			out = append(out, r.cfg.Clone(rec))
		}
	}
	r.sort(out)
	return out
}

// Len returns the number of registered records.
func (r *Registry[T]) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.records)
}

// Stats returns the total and the size of every non-empty index bucket.
func (r *Registry[T]) Stats() map[string]any {
	r.mu.RLock()
	defer r.mu.RUnlock()

	stats := map[string]any{"total": len(r.records)}
	for name, buckets := range r.indexes {
		counts := make(map[string]int, len(buckets))
		for value, ids := range buckets {
			if len(ids) > 0 {
				counts[value] = len(ids)
			}
		}
		stats["by_"+name] = counts
	}
	return stats
}

// CheckInvariants verifies that every record sits in exactly the index
// buckets matching its current attributes, and that no bucket references
// an unknown id.
func (r *Registry[T]) CheckInvariants() error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if len(r.order) != len(r.records) {
		return fmt.Errorf("registry %s: order has %d ids, store has %d", r.name, len(r.order), len(r.records))
	}
	for name, buckets := range r.indexes {
		extract := r.extractor(name)
		seen := make(map[string]int)
		for value, ids := range buckets {
			for _, id := range ids {
				rec, ok := r.records[id]
				if !ok {
					return fmt.Errorf("registry %s: index %s[%s] references missing id %s", r.name, name, value, id)
				}
				if !contains(dedupe(extract(rec)), value) {
					return fmt.Errorf("registry %s: id %s is in stale bucket %s[%s]", r.name, id, name, value)
				}
				seen[id]++
			}
		}
		for id, rec := range r.records {
			if want := len(dedupe(nonEmpty(extract(rec)))); seen[id] != want {
				return fmt.Errorf("registry %s: id %s appears in %d %s buckets, want %d", r.name, id, seen[id], name, want)
			}
		}
	}
	for name, values := range r.unique {
		for value, id := range values {
			rec, ok := r.records[id]
			if !ok || r.cfg.Unique[name](rec) != value {
				return fmt.Errorf("registry %s: unique %s[%s] is stale", r.name, name, value)
			}
		}
	}
	return nil
}

// -----------------------------------------------------------------------------
// internals (callers hold r.mu)
// -----------------------------------------------------------------------------

func (r *Registry[T]) indexNames() []string {
	var names []string
	if r.cfg.Status != nil {
		names = append(names, IndexStatus)
	}
	if r.cfg.Tags != nil {
		names = append(names, IndexTag)
	}
	for name := range r.cfg.Indexes {
		names = append(names, name)
	}
	return names
}

func (r *Registry[T]) extractor(name string) func(T) []string {
	switch name {
	case IndexStatus:
		return func(rec T) []string { return []string{r.cfg.Status(rec)} }
	case IndexTag:
		return r.cfg.Tags
	default:
		return r.cfg.Indexes[name]
	}
}

func (r *Registry[T]) indexLocked(id string, rec T) {
	for name, buckets := range r.indexes {
		for _, v := range dedupe(nonEmpty(r.extractor(name)(rec))) {
			buckets[v] = append(buckets[v], id)
		}
	}
	for name, extract := range r.cfg.Unique {
		if v := extract(rec); v != "" {
			r.unique[name][v] = id
		}
	}
}

func (r *Registry[T]) deindexLocked(id string, rec T) {
	for name, buckets := range r.indexes {
		for _, v := range dedupe(nonEmpty(r.extractor(name)(rec))) {
			buckets[v] = removeID(buckets[v], id)
			if len(buckets[v]) == 0 {
				delete(buckets, v)
			}
		}
	}
	for name, extract := range r.cfg.Unique {
		if v := extract(rec); v != "" && r.unique[name][v] == id {
			delete(r.unique[name], v)
		}
	}
}

func (r *Registry[T]) checkUniqueLocked(id string, rec T) error {
	for name, extract := range r.cfg.Unique {
		v := extract(rec)
		if v == "" {
			continue
		}
		if owner, taken := r.unique[name][v]; taken && owner != id {
			return fmt.Errorf("%w: %s=%s", ErrDuplicateKey, name, v)
		}
	}
	return nil
}

func (r *Registry[T]) matchLocked(rec T, f Filter) bool {
	if f.Status != "" && r.cfg.Status != nil && r.cfg.Status(rec) != f.Status {
		return false
	}
	if f.Enabled != nil && r.cfg.Enabled != nil && r.cfg.Enabled(rec) != *f.Enabled {
		return false
	}
	if len(f.Tags) > 0 && r.cfg.Tags != nil {
		tags := r.cfg.Tags(rec)
		matched := false
		for _, want := range f.Tags {
			if contains(tags, want) {
				matched = true
				break
			}
		}
		if !matched {
			return false
		}
	}
	return true
}

func (r *Registry[T]) matchesQuery(rec T, q string) bool {
	var fields []string
	if r.cfg.SearchText != nil {
		fields = r.cfg.SearchText(rec)
	} else {
		fields = []string{r.cfg.ID(rec)}
	}
	if r.cfg.Tags != nil {
		fields = append(fields, r.cfg.Tags(rec)...)
	}
	for _, f := range fields {
		if strings.Contains(strings.ToLower(f), q) {
			return true
		}
	}
	return false
}

func (r *Registry[T]) sort(out []T) {
	if r.cfg.Less != nil {
		sort.SliceStable(out, func(i, j int) bool { return r.cfg.Less(out[i], out[j]) })
	}
}

func (r *Registry[T]) observe(op, result string) {
	metrics.RegistryOperationsTotal.WithLabelValues(r.name, op, result).Inc()
}

func removeID(ids []string, id string) []string {
	for i, v := range ids {
		if v == id {
			out := make([]string, 0, len(ids)-1)
			out = append(out, ids[:i]...)
			return append(out, ids[i+1:]...)
		}
	}
	return ids
}

func contains(values []string, want string) bool {
	for _, v := range values {
		if v == want {
			return true
		}
	}
	return false
}

func nonEmpty(values []string) []string {
	out := values[:0:0]
	for _, v := range values {
		if v != "" {
			out = append(out, v)
		}
	}
	return out
}

func dedupe(values []string) []string {
	if len(values) < 2 {
		return values
	}
	seen := make(map[string]bool, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		if !seen[v] {
			seen[v] = true
			out = append(out, v)
		}
	}
	return out
}
