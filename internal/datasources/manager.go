package datasources

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/mbd888/agentplatform/internal/catalog"
	"github.com/mbd888/agentplatform/internal/circuitbreaker"
	"github.com/mbd888/agentplatform/internal/events"
	"github.com/mbd888/agentplatform/internal/logging"
	"github.com/mbd888/agentplatform/internal/metrics"
	"github.com/mbd888/agentplatform/internal/registry"
)

// UnavailableMessage is recorded when a check reports a source down.
const UnavailableMessage = "Adapter not available"

// Candidate is a selectable source with its adapter.
type Candidate struct {
	Source  *Source
	Adapter Adapter
}

// Attempt records one adapter call made during a fallback fetch.
type Attempt struct {
	SourceID string `json:"source_id"`
	Error    string `json:"error,omitempty"`
}

// FetchResult is the first non-empty answer of a fallback fetch.
type FetchResult struct {
	SourceID string    `json:"source_id"`
	Adapter  string    `json:"adapter"`
	Data     any       `json:"data"`
	Attempts []Attempt `json:"attempts"`
}

// Manager builds adapters for registered sources, checks them and serves
// fetches with priority-ordered fallback.
type Manager struct {
	sources    *catalog.Catalog[*Source]
	factories  *registry.Factories[AdapterFactory]
	breaker    *circuitbreaker.Breaker
	events     events.Publisher
	logger     *slog.Logger
	now        func() time.Time
	checkLimit int

	mu       sync.Mutex
	adapters map[string]Adapter
}

// NewManager creates a manager over the data source catalog.
func NewManager(sources *catalog.Catalog[*Source], logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		sources:    sources,
		factories:  registry.NewFactories[AdapterFactory](),
		breaker:    circuitbreaker.New(3, 30*time.Second),
		events:     events.Nop{},
		logger:     logger,
		now:        time.Now,
		checkLimit: 8,
		adapters:   make(map[string]Adapter),
	}
}

// WithFactories replaces the adapter constructor registry.
func (m *Manager) WithFactories(f *registry.Factories[AdapterFactory]) *Manager {
	if f != nil {
		m.factories = f
	}
	return m
}

// WithBreaker replaces the per-source circuit breaker.
func (m *Manager) WithBreaker(b *circuitbreaker.Breaker) *Manager {
	if b != nil {
		m.breaker = b
	}
	return m
}

// WithEvents sets the publisher for availability changes.
func (m *Manager) WithEvents(p events.Publisher) *Manager {
	if p != nil {
		m.events = p
	}
	return m
}

// WithClock overrides the time source used for last_check stamps.
func (m *Manager) WithClock(now func() time.Time) *Manager {
	if now != nil {
		m.now = now
	}
	return m
}

// Sources returns the data source catalog.
func (m *Manager) Sources() *catalog.Catalog[*Source] { return m.sources }

// Factories returns the adapter constructor registry.
func (m *Manager) Factories() *registry.Factories[AdapterFactory] { return m.factories }

// Adapter returns the cached adapter for id, building it on first use from
// the factory registered under the source id or, failing that, its type.
// A failing constructor marks the source as error.
func (m *Manager) Adapter(ctx context.Context, id string) (Adapter, error) {
	src, ok := m.sources.Registry().Get(id)
	if !ok {
		m.mu.Lock()
		delete(m.adapters, id)
		m.mu.Unlock()
		return nil, fmt.Errorf("%w: data source %s", catalog.ErrNotFound, id)
	}

	m.mu.Lock()
	a, ok := m.adapters[id]
	m.mu.Unlock()
	if ok {
		return a, nil
	}

	f, ok := m.factories.Lookup(src.ID)
	if !ok {
		f, ok = m.factories.Lookup(string(src.Type))
	}
	if !ok {
		err := fmt.Errorf("%w: %s (type %s)", ErrNoAdapter, src.ID, src.Type)
		m.setStatus(ctx, id, StatusError, err.Error())
		return nil, err
	}
	a, err := f(src)
	if err != nil {
		m.setStatus(ctx, id, StatusError, err.Error())
		return nil, fmt.Errorf("datasources: build adapter %s: %w", id, err)
	}

	m.mu.Lock()
	if existing, ok := m.adapters[id]; ok {
		a = existing
	} else {
		m.adapters[id] = a
	}
	m.mu.Unlock()
	return a, nil
}

// AvailableAdapters returns enabled, available sources visible to s,
// optionally limited to one market. Sources named in preferred (by id or
// name) come first in the order given; the rest follow by priority.
func (m *Manager) AvailableAdapters(ctx context.Context, s catalog.Scope, market string, preferred []string) []Candidate {
	enabled := true
	f := registry.Filter{Status: string(StatusAvailable), Enabled: &enabled}
	if market != "" {
		f.Index, f.Value = IndexMarket, market
	}
	sources := orderPreferred(m.sources.List(s, f), preferred)

	out := make([]Candidate, 0, len(sources))
	for _, src := range sources {
		a, err := m.Adapter(ctx, src.ID)
		if err != nil {
			logging.L(ctx).Warn("data source adapter unavailable", "source_id", src.ID, "error", err)
			continue
		}
		out = append(out, Candidate{Source: src, Adapter: a})
	}
	return out
}

// Fetch tries each available source that supports q.Operation in order and
// returns the first non-empty result. Failures, empty answers and open
// circuits move on to the next source.
func (m *Manager) Fetch(ctx context.Context, s catalog.Scope, q Query, market string, preferred []string) (*FetchResult, error) {
	if q.Operation == "" {
		return nil, fmt.Errorf("%w: operation is required", ErrInvalidRequest)
	}

	var (
		attempts []Attempt
		errs     []error
	)
	for _, c := range m.AvailableAdapters(ctx, s, market, preferred) {
		if !c.Source.Supports(q.Operation) {
			continue
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		var data any
		err := m.breaker.Do(c.Source.ID, func() error {
			var ferr error
			data, ferr = c.Adapter.Fetch(ctx, q)
			if ferr == nil && isEmpty(data) {
				ferr = ErrEmptyResult
			}
			return ferr
		})
		if err != nil {
			metrics.DataSourceFetchesTotal.WithLabelValues(c.Source.ID, fetchResult(err)).Inc()
			attempts = append(attempts, Attempt{SourceID: c.Source.ID, Error: err.Error()})
			errs = append(errs, fmt.Errorf("%s: %w", c.Source.ID, err))
			logging.L(ctx).Debug("data source fetch failed, trying next", "source_id", c.Source.ID, "operation", q.Operation, "error", err)
			continue
		}

		metrics.DataSourceFetchesTotal.WithLabelValues(c.Source.ID, "ok").Inc()
		attempts = append(attempts, Attempt{SourceID: c.Source.ID})
		return &FetchResult{
			SourceID: c.Source.ID,
			Adapter:  c.Adapter.Name(),
			Data:     data,
			Attempts: attempts,
		}, nil
	}

	if len(errs) == 0 {
		return nil, fmt.Errorf("%w for %s", ErrNoneAvailable, q.Operation)
	}
	return nil, fmt.Errorf("%w for %s: %w", ErrNoneAvailable, q.Operation, errors.Join(errs...))
}

// CheckAvailability checks one source and records available/unavailable
// together with the check time.
func (m *Manager) CheckAvailability(ctx context.Context, id string) (bool, error) {
	a, err := m.Adapter(ctx, id)
	if err != nil {
		metrics.DataSourceAvailability.WithLabelValues(id).Set(0)
		return false, err
	}
	ok := a.IsAvailable(ctx)
	if ok {
		m.setStatus(ctx, id, StatusAvailable, "")
		metrics.DataSourceAvailability.WithLabelValues(id).Set(1)
	} else {
		m.setStatus(ctx, id, StatusUnavailable, UnavailableMessage)
		metrics.DataSourceAvailability.WithLabelValues(id).Set(0)
	}
	return ok, nil
}

// CheckAll checks every enabled source concurrently. Check errors are
// logged and reported as unavailable.
func (m *Manager) CheckAll(ctx context.Context) map[string]bool {
	enabled := true
	sources := m.sources.Registry().List(registry.Filter{Enabled: &enabled})

	var mu sync.Mutex
	results := make(map[string]bool, len(sources))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.checkLimit)
	for _, src := range sources {
		id := src.ID
		g.Go(func() error {
			ok, err := m.CheckAvailability(gctx, id)
			if err != nil {
				m.logger.Warn("data source check failed", "source_id", id, "error", err)
			}
			mu.Lock()
			results[id] = ok
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func (m *Manager) setStatus(ctx context.Context, id string, status Status, message string) {
	var from Status
	now := m.now().UTC()
	updated, err := m.sources.Registry().Update(id, func(s *Source) error {
		from = s.Status
		s.Status = status
		s.ErrorMessage = message
		s.LastCheck = &now
		s.UpdatedAt = now
		return nil
	})
	if err != nil || from == status {
		return
	}
	m.events.Publish(ctx, events.New("datasources", events.TypeStatusChanged, id,
		map[string]any{"from": string(from), "to": string(status)}).ForTenant(updated.TenantID))
}

func orderPreferred(sources []*Source, preferred []string) []*Source {
	if len(preferred) == 0 {
		return sources
	}
	rank := make(map[string]int, len(preferred))
	for i, p := range preferred {
		if _, dup := rank[p]; !dup {
			rank[p] = i
		}
	}
	position := func(s *Source) (int, bool) {
		if r, ok := rank[s.ID]; ok {
			return r, true
		}
		r, ok := rank[s.Name]
		return r, ok
	}

	var first, rest []*Source
	for _, s := range sources {
		if _, ok := position(s); ok {
			first = append(first, s)
		} else {
			rest = append(rest, s)
		}
	}
	sort.SliceStable(first, func(i, j int) bool {
		a, _ := position(first[i])
		b, _ := position(first[j])
		return a < b
	})
	return append(first, rest...)
}

func isEmpty(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice, reflect.Map, reflect.Array, reflect.String:
		return rv.Len() == 0
	case reflect.Pointer, reflect.Interface:
		return rv.IsNil()
	}
	return false
}

func fetchResult(err error) string {
	switch {
	case errors.Is(err, circuitbreaker.ErrOpen):
		return "circuit_open"
	case errors.Is(err, ErrEmptyResult):
		return "empty"
	}
	return "error"
}
