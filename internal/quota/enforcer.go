package quota

import (
	"context"
	"log/slog"
	"time"

	"github.com/mbd888/agentplatform/internal/metrics"
)

// Checker decides whether another call fits under a tenant's daily quota.
type Checker interface {
	CheckAPIQuota(tenantID string, todayCalls int64) bool
}

// UsageRecorder receives one fact per admitted call.
type UsageRecorder interface {
	RecordAPICall(ctx context.Context, tenantID string, meta map[string]any) error
}

// Decision is the outcome of Enforcer.Allow.
type Decision struct {
	Allowed bool
	Used    int64 // calls counted today, including this one when allowed
	ResetAt time.Time
}

// Enforcer counts calls and rejects those over the tenant's daily quota.
type Enforcer struct {
	counter  Counter
	checker  Checker
	recorder UsageRecorder
	logger   *slog.Logger
	now      func() time.Time
}

// NewEnforcer creates an enforcer.
func NewEnforcer(counter Counter, checker Checker, logger *slog.Logger) *Enforcer {
	return &Enforcer{
		counter: counter,
		checker: checker,
		logger:  logger,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// WithRecorder records a usage fact for every admitted call.
func (e *Enforcer) WithRecorder(r UsageRecorder) *Enforcer {
	e.recorder = r
	return e
}

// WithClock overrides the time source.
func (e *Enforcer) WithClock(now func() time.Time) *Enforcer {
	e.now = now
	return e
}

// Allow counts one call for tenantID. The count is taken first so that
// concurrent callers cannot all observe the same pre-increment value; a
// rejected call is uncounted again. Counter failures fail open.
func (e *Enforcer) Allow(ctx context.Context, tenantID string) Decision {
	now := e.now()
	day := now.Truncate(24 * time.Hour)
	d := Decision{ResetAt: day.Add(24 * time.Hour)}

	n, err := e.counter.Incr(ctx, tenantID, day)
	if err != nil {
		e.logger.Warn("quota counter unavailable, allowing call", "tenant_id", tenantID, "error", err)
		d.Allowed = true
		return d
	}

	if !e.checker.CheckAPIQuota(tenantID, n-1) {
		if err := e.counter.Decr(ctx, tenantID, day); err != nil {
			e.logger.Warn("quota counter rollback failed", "tenant_id", tenantID, "error", err)
		}
		metrics.QuotaRejectionsTotal.WithLabelValues("api_calls").Inc()
		d.Used = n - 1
		return d
	}

	d.Allowed = true
	d.Used = n
	if e.recorder != nil {
		if err := e.recorder.RecordAPICall(ctx, tenantID, nil); err != nil {
			e.logger.Warn("record api call usage failed", "tenant_id", tenantID, "error", err)
		}
	}
	return d
}

// Used returns today's count for tenantID.
func (e *Enforcer) Used(ctx context.Context, tenantID string) (int64, error) {
	return e.counter.Get(ctx, tenantID, e.now().Truncate(24*time.Hour))
}
