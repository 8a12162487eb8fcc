// Package events implements the in-process event bus used to keep concurrent
// observers of the same document consistent. Event names are dot-delimited;
// subscriptions may use wildcard segments ("*" matches exactly one segment,
// "**" matches the remainder of the name).
package events

import (
	"log/slog"
	"strings"
	"sync"
)

// Handler receives the concrete event name that matched the subscription
// pattern, plus the payload passed to Emit.
type Handler func(name string, payload ...any)

// Bus is a synchronous in-process publish/subscribe bus.
type Bus struct {
	mu     sync.RWMutex
	subs   map[int64]*Subscription
	nextID int64
	logger *slog.Logger
}

// NewBus creates an empty bus. A nil logger falls back to slog.Default.
func NewBus(logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{
		subs:   make(map[int64]*Subscription),
		logger: logger,
	}
}

// Subscription is a live registration on the bus. Close removes it; a closed
// subscription never invokes its handler again.
type Subscription struct {
	bus      *Bus
	id       int64
	patterns [][]string
	handler  Handler

	mu     sync.Mutex
	closed bool
}

// On registers handler for one or more event name patterns.
func (b *Bus) On(patterns []string, handler Handler) *Subscription {
	split := make([][]string, 0, len(patterns))
	for _, p := range patterns {
		split = append(split, strings.Split(p, "."))
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	s := &Subscription{bus: b, id: b.nextID, patterns: split, handler: handler}
	b.subs[s.id] = s
	return s
}

// Emit dispatches the event synchronously to every matching subscription.
// A panicking handler is logged and does not affect the other subscribers.
func (b *Bus) Emit(name string, payload ...any) {
	segments := strings.Split(name, ".")

	b.mu.RLock()
	matched := make([]*Subscription, 0, 4)
	for _, s := range b.subs {
		for _, p := range s.patterns {
			if matchSegments(p, segments) {
				matched = append(matched, s)
				break
			}
		}
	}
	b.mu.RUnlock()

	for _, s := range matched {
		s.dispatch(name, payload...)
	}
}

func (s *Subscription) dispatch(name string, payload ...any) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	handler := s.handler
	s.mu.Unlock()

	defer func() {
		if r := recover(); r != nil {
			s.bus.logger.Error("event handler panic",
				slog.String("event", name),
				slog.Any("panic", r))
		}
	}()
	handler(name, payload...)
}

// Close removes the subscription from the bus.
func (s *Subscription) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()

	s.bus.mu.Lock()
	delete(s.bus.subs, s.id)
	s.bus.mu.Unlock()
}

// matchSegments reports whether the pattern matches the event name segments.
func matchSegments(pattern, name []string) bool {
	for i, p := range pattern {
		if p == "**" {
			return true
		}
		if i >= len(name) {
			return false
		}
		if p != "*" && p != name[i] {
			return false
		}
	}
	return len(pattern) == len(name)
}
