// Package quota counts per-tenant API calls per UTC day and enforces the
// tenant's daily quota on incoming requests.
package quota

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// dayTTL keeps a day's counter around long enough to be read after midnight.
const dayTTL = 48 * time.Hour

// Counter stores daily API-call counts per tenant.
type Counter interface {
	// Incr adds one call for tenantID on day and returns the new count.
	Incr(ctx context.Context, tenantID string, day time.Time) (int64, error)
	// Decr removes one call, used to undo a rejected Incr.
	Decr(ctx context.Context, tenantID string, day time.Time) error
	// Get returns the count for tenantID on day (0 when unset).
	Get(ctx context.Context, tenantID string, day time.Time) (int64, error)
}

// Key is the storage key of a tenant's counter for day.
func Key(tenantID string, day time.Time) string {
	return fmt.Sprintf("quota:api_calls:%s:%s", tenantID, day.UTC().Format("20060102"))
}

// MemoryCounter keeps counters in process memory.
type MemoryCounter struct {
	mu     sync.Mutex
	counts map[string]int64
	days   map[string]time.Time
}

// NewMemoryCounter creates an in-memory counter.
func NewMemoryCounter() *MemoryCounter {
	return &MemoryCounter{
		counts: make(map[string]int64),
		days:   make(map[string]time.Time),
	}
}

func (m *MemoryCounter) Incr(_ context.Context, tenantID string, day time.Time) (int64, error) {
	key := Key(tenantID, day)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counts[key]++
	m.days[key] = day.UTC()
	return m.counts[key], nil
}

func (m *MemoryCounter) Decr(_ context.Context, tenantID string, day time.Time) error {
	key := Key(tenantID, day)
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.counts[key] > 0 {
		m.counts[key]--
	}
	return nil
}

func (m *MemoryCounter) Get(_ context.Context, tenantID string, day time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.counts[Key(tenantID, day)], nil
}

// Prune drops counters older than dayTTL relative to now.
func (m *MemoryCounter) Prune(now time.Time) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	removed := 0
	for key, day := range m.days {
		if now.Sub(day) > dayTTL {
			delete(m.counts, key)
			delete(m.days, key)
			removed++
		}
	}
	return removed
}
