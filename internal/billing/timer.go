package billing

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/mbd888/agentplatform/internal/metrics"
)

// Timer periodically marks pending invoices past their due date overdue.
type Timer struct {
	service  *Service
	interval time.Duration
	logger   *slog.Logger
	stop     chan struct{}
	running  atomic.Bool
}

// NewTimer creates an overdue-invoice timer.
func NewTimer(service *Service, interval time.Duration, logger *slog.Logger) *Timer {
	if interval <= 0 {
		interval = time.Hour
	}
	return &Timer{
		service:  service,
		interval: interval,
		logger:   logger,
		stop:     make(chan struct{}, 1),
	}
}

// Running reports whether the timer loop is actively running.
func (t *Timer) Running() bool {
	return t.running.Load()
}

// Start runs the loop until ctx is done or Stop is called. Call in a goroutine.
func (t *Timer) Start(ctx context.Context) {
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
func (t *Timer) Stop() {
	select {
	case t.stop <- struct{}{}:
	default:
	}
}

func (t *Timer) safeSweep(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			metrics.SweepRunsTotal.WithLabelValues("invoice_overdue", "panic").Inc()
			t.logger.Error("panic in invoice overdue timer", "panic", fmt.Sprint(r))
		}
	}()

	n, err := t.service.MarkOverdue(ctx)
	if err != nil {
		metrics.SweepRunsTotal.WithLabelValues("invoice_overdue", "error").Inc()
		t.logger.Warn("overdue sweep incomplete", "error", err)
	} else {
		metrics.SweepRunsTotal.WithLabelValues("invoice_overdue", "ok").Inc()
	}
	if n > 0 {
		t.logger.Info("invoices marked overdue", "count", n)
	}
}
