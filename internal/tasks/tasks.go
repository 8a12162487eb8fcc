// Package tasks runs cooperative, cancellable background work. Long scans
// are processed in chunks with a cancellation check between chunks, so a
// superseded task stops quickly instead of finishing work nobody wants.
package tasks

import (
	"context"
	"sync"

	"github.com/Alcumus/awe-library/internal/apperr"
)

// DefaultChunkSize bounds how much work happens between cancellation checks.
const DefaultChunkSize = 64

// Task is one running unit of background work. Terminate asks it to stop at
// the next chunk boundary; Wait blocks until it has stopped either way.
type Task struct {
	cancel context.CancelFunc
	done   chan struct{}

	mu  sync.Mutex
	err error
}

// Run starts fn on its own goroutine under a cancellable child of ctx.
func Run(ctx context.Context, fn func(ctx context.Context) error) *Task {
	ctx, cancel := context.WithCancel(ctx)
	t := &Task{cancel: cancel, done: make(chan struct{})}
	go func() {
		defer close(t.done)
		defer cancel()
		err := fn(ctx)
		t.mu.Lock()
		t.err = err
		t.mu.Unlock()
	}()
	return t
}

// Terminate requests cancellation. It does not wait; the task stops at its
// next chunk boundary. Safe to call more than once.
func (t *Task) Terminate() {
	t.cancel()
}

// Done is closed once the task has fully stopped.
func (t *Task) Done() <-chan struct{} {
	return t.done
}

// Wait blocks until the task stops or ctx expires, and returns the task's
// error. A terminated task reports ErrCancelled.
func (t *Task) Wait(ctx context.Context) error {
	select {
	case <-t.done:
		return t.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Err returns the task's result; nil while it is still running.
func (t *Task) Err() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.err
}

// checkpoint maps context cancellation onto the package's error taxonomy.
func checkpoint(ctx context.Context) error {
	if ctx.Err() != nil {
		return apperr.ErrCancelled
	}
	return nil
}

// Filter keeps the items matching keep, checking for cancellation every
// chunkSize items. Results accumulated before cancellation are discarded and
// ErrCancelled is returned.
func Filter[T any](ctx context.Context, items []T, chunkSize int, keep func(T) bool) ([]T, error) {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	out := make([]T, 0, len(items)/2)
	for i, item := range items {
		if i%chunkSize == 0 {
			if err := checkpoint(ctx); err != nil {
				return nil, err
			}
		}
		if keep(item) {
			out = append(out, item)
		}
	}
	if err := checkpoint(ctx); err != nil {
		return nil, err
	}
	return out, nil
}

// Each applies fn to every item, checking for cancellation every chunkSize
// items. The first fn error stops the scan and is returned as-is.
func Each[T any](ctx context.Context, items []T, chunkSize int, fn func(T) error) error {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	for i, item := range items {
		if i%chunkSize == 0 {
			if err := checkpoint(ctx); err != nil {
				return err
			}
		}
		if err := fn(item); err != nil {
			return err
		}
	}
	return checkpoint(ctx)
}
