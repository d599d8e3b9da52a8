// Package health runs named dependency checks for the health endpoints.
package health

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/sync/errgroup"
)

// DefaultTimeout bounds a single check.
const DefaultTimeout = 3 * time.Second

// Status is the outcome of one check.
type Status struct {
	Name     string `json:"name"`
	Healthy  bool   `json:"healthy"`
	Critical bool   `json:"critical"`
	Detail   string `json:"detail,omitempty"`
	Latency  string `json:"latency"`
}

// Check tests one dependency. A nil error means healthy.
type Check func(ctx context.Context) error

// Pinger is implemented by the document stores, the Redis counter and
// anything else with a cheap round trip.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Ping adapts a Pinger.
func Ping(p Pinger) Check {
	return p.Ping
}

// Running reports a background sweep as unhealthy once it stops.
func Running(running func() bool) Check {
	return func(context.Context) error {
		if !running() {
			return errors.New("not running")
		}
		return nil
	}
}

type entry struct {
	name     string
	check    Check
	critical bool
}

// Registry holds the checks of one process.
type Registry struct {
	mu      sync.RWMutex
	entries []entry
	timeout time.Duration
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{timeout: DefaultTimeout}
}

// WithTimeout overrides the per-check timeout.
func (r *Registry) WithTimeout(d time.Duration) *Registry {
	r.timeout = d
	return r
}

// Register adds a check. A failing critical check makes the process
// unready; other failures only degrade it.
func (r *Registry) Register(name string, check Check, critical bool) {
	r.mu.Lock()
	r.entries = append(r.entries, entry{name: name, check: check, critical: critical})
	r.mu.Unlock()
}

// CheckAll runs every check concurrently. ready is false when a critical
// check failed; statuses keep registration order.
func (r *Registry) CheckAll(ctx context.Context) (ready bool, statuses []Status) {
	r.mu.RLock()
	entries := append([]entry(nil), r.entries...)
	timeout := r.timeout
	r.mu.RUnlock()

	statuses = make([]Status, len(entries))
	var g errgroup.Group
	for i, e := range entries {
		g.Go(func() error {
			cctx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()
			start := time.Now()
			err := e.check(cctx)
			st := Status{Name: e.name, Healthy: err == nil, Critical: e.critical, Latency: time.Since(start).String()}
			if err != nil {
				st.Detail = err.Error()
			}
			statuses[i] = st
			return nil
		})
	}
	_ = g.Wait()

	ready = true
	for _, st := range statuses {
		if st.Critical && !st.Healthy {
			ready = false
		}
	}
	return ready, statuses
}

// Handler serves GET /health: 200 with status "healthy" or "degraded",
// 503 with status "unhealthy" when a critical check fails.
func (r *Registry) Handler(version string) gin.HandlerFunc {
	return func(c *gin.Context) {
		ready, statuses := r.CheckAll(c.Request.Context())
		status, code := "healthy", http.StatusOK
		for _, st := range statuses {
			if !st.Healthy {
				status = "degraded"
			}
		}
		if !ready {
			status, code = "unhealthy", http.StatusServiceUnavailable
		}
		c.JSON(code, gin.H{
			"status":    status,
			"version":   version,
			"checks":    statuses,
			"timestamp": time.Now().UTC().Format(time.RFC3339),
		})
	}
}
