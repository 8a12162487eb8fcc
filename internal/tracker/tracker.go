// Package tracker counts in-flight asynchronous document operations so
// callers can wait for "nothing is still saving" before navigating away. A
// watchdog logs operations that run suspiciously long; it never cancels them.
package tracker

import (
	"context"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"
)

// DefaultWatchdog is the production long-running-operation threshold.
const DefaultWatchdog = 30 * time.Second

// Tracker is the process-wide operation tracker.
type Tracker struct {
	logger   *slog.Logger
	watchdog time.Duration

	mu      sync.Mutex
	pending int
	idle    chan struct{}
}

// New creates a tracker. watchdog <= 0 selects DefaultWatchdog.
func New(logger *slog.Logger, watchdog time.Duration) *Tracker {
	if logger == nil {
		logger = slog.Default()
	}
	if watchdog <= 0 {
		watchdog = DefaultWatchdog
	}
	return &Tracker{logger: logger, watchdog: watchdog}
}

// begin registers one operation and returns its completion callback. The
// stack is captured at call time so the watchdog can report who started the
// stuck operation.
func (t *Tracker) begin(name string) func() {
	stack := debug.Stack()
	timer := time.AfterFunc(t.watchdog, func() {
		t.logger.Warn("operation still running past watchdog",
			slog.String("operation", name),
			slog.Duration("watchdog", t.watchdog),
			slog.String("started_at", string(stack)))
	})

	t.mu.Lock()
	t.pending++
	if t.pending == 1 {
		t.idle = make(chan struct{})
	}
	t.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			timer.Stop()
			t.mu.Lock()
			t.pending--
			if t.pending == 0 {
				close(t.idle)
			}
			t.mu.Unlock()
		})
	}
}

// Do runs fn inline as a tracked operation.
func (t *Tracker) Do(ctx context.Context, name string, fn func(ctx context.Context) error) error {
	done := t.begin(name)
	defer done()
	return fn(ctx)
}

// Go runs fn on its own goroutine as a tracked operation; errors are logged,
// matching the fire-and-forget call sites.
func (t *Tracker) Go(name string, fn func() error) {
	done := t.begin(name)
	go func() {
		defer done()
		if err := fn(); err != nil {
			t.logger.Warn("tracked operation failed",
				slog.String("operation", name),
				slog.String("error", err.Error()))
		}
	}()
}

// Pending returns the number of operations currently in flight.
func (t *Tracker) Pending() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.pending
}

// Wait blocks until every tracked operation has settled, including
// operations that start while the wait is in progress, or until ctx is
// cancelled.
func (t *Tracker) Wait(ctx context.Context) error {
	for {
		t.mu.Lock()
		if t.pending == 0 {
			t.mu.Unlock()
			return nil
		}
		idle := t.idle
		t.mu.Unlock()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-idle:
		}
	}
}
