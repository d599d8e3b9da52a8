package agents

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/mbd888/agentplatform/internal/metrics"
)

// HeartbeatTimer periodically fails running instances that stopped
// sending heartbeats.
type HeartbeatTimer struct {
	manager  *Manager
	interval time.Duration
	timeout  time.Duration
	logger   *slog.Logger
	stop     chan struct{}
	running  atomic.Bool
}

// NewHeartbeatTimer creates a heartbeat supervisor. Zero values default to
// a 30s interval and a 5 minute timeout.
func NewHeartbeatTimer(manager *Manager, interval, timeout time.Duration, logger *slog.Logger) *HeartbeatTimer {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	if timeout <= 0 {
		timeout = DefaultHeartbeatTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &HeartbeatTimer{
		manager:  manager,
		interval: interval,
		timeout:  timeout,
		logger:   logger,
		stop:     make(chan struct{}, 1),
	}
}

// Running reports whether the timer loop is actively running.
func (t *HeartbeatTimer) Running() bool {
	return t.running.Load()
}

// Start begins the sweep loop. Call in a goroutine.
func (t *HeartbeatTimer) Start(ctx context.Context) {
	t.running.Store(true)
	defer t.running.Store(false)

	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.stop:
			return
		case <-ticker.C:
			t.safeSweep(ctx)
		}
	}
}

// Stop signals the timer to stop.
func (t *HeartbeatTimer) Stop() {
	select {
	case t.stop <- struct{}{}:
	default:
	}
}

func (t *HeartbeatTimer) safeSweep(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			metrics.SweepRunsTotal.WithLabelValues("agent_heartbeat", "panic").Inc()
			t.logger.Error("panic in heartbeat timer", "panic", fmt.Sprint(r))
		}
	}()
	failed := t.manager.SweepHeartbeats(ctx, t.timeout)
	metrics.SweepRunsTotal.WithLabelValues("agent_heartbeat", "ok").Inc()
	if len(failed) > 0 {
		t.logger.Info("instances failed heartbeat", "count", len(failed), "instance_ids", failed)
	}
}
