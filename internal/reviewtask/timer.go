package reviewtask

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// DefaultEscalationAfter is how long an uploaded task may wait for the
// merchant's confirmation before it is flagged.
const DefaultEscalationAfter = 72 * time.Hour

// Timer periodically flags uploaded tasks the merchant has not confirmed.
type Timer struct {
	service  *Service
	store    Store
	after    time.Duration
	interval time.Duration
	logger   *slog.Logger
	stop     chan struct{}
	stopOnce sync.Once
	running  atomic.Bool
}

// NewTimer creates a new escalation timer.
func NewTimer(service *Service, store Store, after, interval time.Duration, logger *slog.Logger) *Timer {
	if after <= 0 {
		after = DefaultEscalationAfter
	}
	if interval <= 0 {
		interval = time.Minute
	}
	return &Timer{
		service:  service,
		store:    store,
		after:    after,
		interval: interval,
		logger:   logger,
		stop:     make(chan struct{}),
	}
}

// Running reports whether the timer loop is actively running.
func (t *Timer) Running() bool {
	return t.running.Load()
}

// Start begins the escalation loop. Call in a goroutine.
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
			t.safeEscalateStale(ctx)
		}
	}
}

// Stop signals the timer to stop. It is safe to call more than once.
func (t *Timer) Stop() {
	t.stopOnce.Do(func() { close(t.stop) })
}

func (t *Timer) safeEscalateStale(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			t.logger.Error("panic in escalation timer", "panic", fmt.Sprint(r))
		}
	}()
	t.escalateStale(ctx)
}

// escalateStale runs one sweep and returns how many tasks were flagged.
func (t *Timer) escalateStale(ctx context.Context) int {
	cutoff := t.service.now().Add(-t.after)

	stale, err := t.store.ListStale(ctx, StateUploaded, cutoff, 100)
	if err != nil {
		t.logger.Warn("failed to list stale review tasks", "error", err)
		return 0
	}

	flagged := 0
	for _, task := range stale {
		if _, err := t.service.Escalate(ctx, task.ID); err != nil {
			t.logger.Warn("failed to escalate review task", "taskId", task.ID, "error", err)
			continue
		}
		flagged++
		EscalationsTotal.Inc()
		t.logger.Info("escalated unconfirmed review task",
			"taskId", task.ID,
			"merchant", task.MerchantID,
			"buyer", task.BuyerID,
			"uploadedAt", task.UploadedAt,
		)
	}
	return flagged
}
