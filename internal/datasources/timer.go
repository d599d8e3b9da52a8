package datasources

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/mbd888/agentplatform/internal/metrics"
)

// AvailabilityTimer periodically checks every enabled data source.
type AvailabilityTimer struct {
	manager  *Manager
	interval time.Duration
	logger   *slog.Logger
	stop     chan struct{}
	running  atomic.Bool
}

// NewAvailabilityTimer creates a check loop. A zero interval defaults to
// five minutes.
func NewAvailabilityTimer(manager *Manager, interval time.Duration, logger *slog.Logger) *AvailabilityTimer {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &AvailabilityTimer{
		manager:  manager,
		interval: interval,
		logger:   logger,
		stop:     make(chan struct{}, 1),
	}
}

// Running reports whether the timer loop is actively running.
func (t *AvailabilityTimer) Running() bool {
	return t.running.Load()
}

// Start checks once immediately, then on every tick. Call in a goroutine.
func (t *AvailabilityTimer) Start(ctx context.Context) {
	t.running.Store(true)
	defer t.running.Store(false)

	t.safeCheck(ctx)

	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.stop:
			return
		case <-ticker.C:
			t.safeCheck(ctx)
		}
	}
}

// Stop signals the timer to stop.
func (t *AvailabilityTimer) Stop() {
	select {
	case t.stop <- struct{}{}:
	default:
	}
}

func (t *AvailabilityTimer) safeCheck(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			metrics.SweepRunsTotal.WithLabelValues("datasource_availability", "panic").Inc()
			t.logger.Error("panic in availability timer", "panic", fmt.Sprint(r))
		}
	}()
	results := t.manager.CheckAll(ctx)
	metrics.SweepRunsTotal.WithLabelValues("datasource_availability", "ok").Inc()

	down := 0
	for _, ok := range results {
		if !ok {
			down++
		}
	}
	if down > 0 {
		t.logger.Info("data sources unavailable", "unavailable", down, "checked", len(results))
	}
}
