// Package debounce provides a trailing-edge debouncer for coalescing bursts
// of calls into a single invocation.
package debounce

import (
	"sync"
	"time"
)

// Debouncer collapses rapid calls to Trigger into one invocation of fn after
// a quiet period of the configured duration. The zero value is not usable;
// use New.
type Debouncer struct {
	mu      sync.Mutex
	fn      func()
	wait    time.Duration
	timer   *time.Timer
	pending bool
}

// New creates a debouncer that invokes fn wait after the last Trigger.
func New(wait time.Duration, fn func()) *Debouncer {
	return &Debouncer{fn: fn, wait: wait}
}

// Trigger schedules an invocation, restarting the quiet-period timer.
func (d *Debouncer) Trigger() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.pending = true
	if d.timer == nil {
		d.timer = time.AfterFunc(d.wait, d.fire)
	} else {
		d.timer.Reset(d.wait)
	}
}

func (d *Debouncer) fire() {
	d.mu.Lock()
	if !d.pending {
		d.mu.Unlock()
		return
	}
	d.pending = false
	d.mu.Unlock()
	d.fn()
}

// Flush runs the pending invocation immediately, if there is one.
func (d *Debouncer) Flush() {
	d.mu.Lock()
	run := d.pending
	d.pending = false
	if d.timer != nil {
		d.timer.Stop()
	}
	d.mu.Unlock()
	if run {
		d.fn()
	}
}

// Cancel drops any pending invocation without running it.
func (d *Debouncer) Cancel() {
	d.mu.Lock()
	d.pending = false
	if d.timer != nil {
		d.timer.Stop()
	}
	d.mu.Unlock()
}

// Pending reports whether an invocation is currently scheduled.
func (d *Debouncer) Pending() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.pending
}
