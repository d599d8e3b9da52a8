package quota

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mbd888/agentplatform/internal/tenant"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fixedLimits map[string]int64

func (f fixedLimits) CheckAPIQuota(tenantID string, calls int64) bool {
	limit, ok := f[tenantID]
	return ok && calls < limit
}

type countingRecorder struct{ n atomic.Int64 }

func (r *countingRecorder) RecordAPICall(context.Context, string, map[string]any) error {
	r.n.Add(1)
	return nil
}

type brokenCounter struct{}

func (brokenCounter) Incr(context.Context, string, time.Time) (int64, error) {
	return 0, errors.New("down")
}
func (brokenCounter) Decr(context.Context, string, time.Time) error { return nil }
func (brokenCounter) Get(context.Context, string, time.Time) (int64, error) {
	return 0, errors.New("down")
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func clockAt(ts time.Time) func() time.Time {
	return func() time.Time { return ts }
}

func TestEnforcer_BoundaryIsStrict(t *testing.T) {
	rec := &countingRecorder{}
	e := NewEnforcer(NewMemoryCounter(), fixedLimits{"t1": 3}, quietLogger()).
		WithRecorder(rec).
		WithClock(clockAt(day.Add(10 * time.Hour)))
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		d := e.Allow(ctx, "t1")
		require.True(t, d.Allowed, "call %d", i)
		assert.Equal(t, int64(i), d.Used)
	}

	d := e.Allow(ctx, "t1")
	assert.False(t, d.Allowed)
	assert.Equal(t, int64(3), d.Used)
	assert.Equal(t, day.Add(24*time.Hour), d.ResetAt)

	used, err := e.Used(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, int64(3), used, "rejected calls are not counted")
	assert.Equal(t, int64(3), rec.n.Load())
}

func TestEnforcer_NewDayResets(t *testing.T) {
	now := day.Add(23 * time.Hour)
	e := NewEnforcer(NewMemoryCounter(), fixedLimits{"t1": 1}, quietLogger()).
		WithClock(func() time.Time { return now })
	ctx := context.Background()

	assert.True(t, e.Allow(ctx, "t1").Allowed)
	assert.False(t, e.Allow(ctx, "t1").Allowed)

	now = now.Add(2 * time.Hour)
	assert.True(t, e.Allow(ctx, "t1").Allowed)
}

func TestEnforcer_ConcurrentCallsNeverExceedQuota(t *testing.T) {
	redisCounter, _ := newRedisCounter(t)
	e := NewEnforcer(redisCounter, fixedLimits{"t1": 25}, quietLogger())

	var allowed atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if e.Allow(context.Background(), "t1").Allowed {
				allowed.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int64(25), allowed.Load())
}

func TestEnforcer_FailsOpen(t *testing.T) {
	e := NewEnforcer(brokenCounter{}, fixedLimits{}, quietLogger())
	assert.True(t, e.Allow(context.Background(), "t1").Allowed)
}

func TestMiddleware(t *testing.T) {
	e := NewEnforcer(NewMemoryCounter(), fixedLimits{"t1": 2}, quietLogger())

	r := gin.New()
	r.Use(func(c *gin.Context) {
		if id := c.GetHeader(tenant.HeaderTenantID); id != "" {
			tenant.Attach(c, id, &tenant.Tenant{ID: id, MaxAPICallsPerDay: 2})
		}
		c.Next()
	}, Middleware(e))
	r.GET("/ping", func(c *gin.Context) { c.String(http.StatusOK, "pong") })

	call := func(tenantID string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/ping", nil)
		if tenantID != "" {
			req.Header.Set(tenant.HeaderTenantID, tenantID)
		}
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		return w
	}

	assert.Equal(t, http.StatusOK, call("t1").Code)
	w := call("t1")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "2", w.Header().Get("X-Quota-Used"))
	assert.Equal(t, "2", w.Header().Get("X-Quota-Limit"))

	w = call("t1")
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Contains(t, w.Body.String(), "quota_exceeded")
	assert.NotEmpty(t, w.Header().Get("Retry-After"))

	// Anonymous requests are not counted.
	for i := 0; i < 5; i++ {
		assert.Equal(t, http.StatusOK, call("").Code)
	}
}
