// Package connectivity tracks whether the remote service is reachable and
// broadcasts transitions on the local event bus.
package connectivity

import (
	"context"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/Alcumus/awe-library/internal/events"
)

// Bus event names raised on transitions.
const (
	EventOnline  = "connectivity.online"
	EventOffline = "connectivity.offline"
)

// Monitor is the process-wide online/offline signal. It starts online.
type Monitor struct {
	online atomic.Bool
	bus    *events.Bus
	logger *slog.Logger
}

// NewMonitor creates a monitor publishing transitions on bus.
func NewMonitor(bus *events.Bus, logger *slog.Logger) *Monitor {
	if logger == nil {
		logger = slog.Default()
	}
	m := &Monitor{bus: bus, logger: logger}
	m.online.Store(true)
	return m
}

// Online reports the current connectivity state.
func (m *Monitor) Online() bool {
	return m.online.Load()
}

// SetOnline records a state change and, on a transition, emits the matching
// bus event. Setting the current state again is silent.
func (m *Monitor) SetOnline(online bool) {
	if m.online.Swap(online) == online {
		return
	}
	if online {
		m.logger.Info("connectivity restored")
		m.bus.Emit(EventOnline)
	} else {
		m.logger.Info("connectivity lost")
		m.bus.Emit(EventOffline)
	}
}

// Probe polls url with HEAD requests every interval and feeds the result into
// SetOnline until ctx is cancelled. Any response, including an error status,
// counts as reachable.
func (m *Monitor) Probe(ctx context.Context, url string, interval time.Duration) {
	client := &http.Client{Timeout: 5 * time.Second}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			req, err := http.NewRequestWithContext(ctx, http.MethodHead, url, nil)
			if err != nil {
				m.logger.Warn("probe request build failed", slog.String("error", err.Error()))
				continue
			}
			resp, err := client.Do(req)
			if err != nil {
				m.SetOnline(false)
				continue
			}
			resp.Body.Close()
			m.SetOnline(true)
		}
	}
}
