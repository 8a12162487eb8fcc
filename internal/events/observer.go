package events

import (
	"sync"
	"time"

	"github.com/Alcumus/awe-library/internal/debounce"
)

// Observer ties a bus subscription to the lifetime of a rendered consumer.
// When any of the subscribed events fires, the invalidation callback runs,
// with bursts within the coalescing window collapsed into one call. After
// Close the callback never runs again, even for events already in flight.
type Observer struct {
	sub *Subscription
	d   *debounce.Debouncer

	mu     sync.Mutex
	closed bool
}

// Observe subscribes fn to the given event name patterns. A window of zero
// invokes fn directly on every matching event.
func Observe(bus *Bus, patterns []string, window time.Duration, fn func()) *Observer {
	o := &Observer{}
	guarded := func() {
		o.mu.Lock()
		dead := o.closed
		o.mu.Unlock()
		if !dead {
			fn()
		}
	}
	if window > 0 {
		o.d = debounce.New(window, guarded)
	}
	o.sub = bus.On(patterns, func(string, ...any) {
		if o.d != nil {
			o.d.Trigger()
		} else {
			guarded()
		}
	})
	return o
}

// Close tears the observer down. Pending coalesced invalidations are dropped.
func (o *Observer) Close() {
	o.mu.Lock()
	o.closed = true
	o.mu.Unlock()
	if o.d != nil {
		o.d.Cancel()
	}
	o.sub.Close()
}
