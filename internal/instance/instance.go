// Package instance manages per-(document, action) editing sessions: an
// in-memory draft layered over the last-retrieved document state, a debounced
// durable save of the draft, and commit into the change log.
package instance

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/Alcumus/awe-library/internal/changelog"
	"github.com/Alcumus/awe-library/internal/debounce"
	"github.com/Alcumus/awe-library/internal/document"
	"github.com/Alcumus/awe-library/internal/events"
	"github.com/Alcumus/awe-library/internal/localstore"
	"github.com/Alcumus/awe-library/internal/syncapi"
)

// DefaultSaveWait is the production debounce window for draft saves.
const DefaultSaveWait = 300 * time.Millisecond

// Retriever supplies documents with pending changes applied.
type Retriever interface {
	RetrieveWithChanges(ctx context.Context, id string) (*document.Document, error)
}

// Manager creates editing sessions. One manager serves the whole process.
type Manager struct {
	store     *localstore.Store
	retriever Retriever
	log       *changelog.Log
	bus       *events.Bus
	endpoint  syncapi.Endpoint
	logger    *slog.Logger
	saveWait  time.Duration

	mu       sync.Mutex
	emitters map[string]*debounce.Debouncer
}

// NewManager creates a session manager. endpoint may be nil when no remote
// context mirroring is configured; saveWait <= 0 selects DefaultSaveWait.
func NewManager(store *localstore.Store, retriever Retriever, log *changelog.Log,
	bus *events.Bus, endpoint syncapi.Endpoint, logger *slog.Logger, saveWait time.Duration) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	if saveWait <= 0 {
		saveWait = DefaultSaveWait
	}
	return &Manager{
		store:     store,
		retriever: retriever,
		log:       log,
		bus:       bus,
		endpoint:  endpoint,
		logger:    logger,
		saveWait:  saveWait,
		emitters:  make(map[string]*debounce.Debouncer),
	}
}

// GetInstance opens (or reopens) the editing session for (id, actionID).
// When doc is nil the document is retrieved with pending changes applied;
// an unknown id is an error. Lazily created documents reach here through the
// local cache, not through fabrication. Any previously saved draft context
// is loaded, falling back to the remote endpoint's copy, and a track id is
// assigned once per session.
func (m *Manager) GetInstance(ctx context.Context, id, actionID string, doc *document.Document) (*Session, error) {
	if doc == nil {
		var err error
		doc, err = m.retriever.RetrieveWithChanges(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("instance: %s/%s: %w", id, actionID, err)
		}
	}

	draft := map[string]any{}
	found, err := m.store.Get(ctx, localstore.ContextKey(id, actionID), &draft)
	if err != nil {
		return nil, fmt.Errorf("instance: load context %s/%s: %w", id, actionID, err)
	}
	if !found && m.endpoint != nil {
		remote, err := m.endpoint.GetContext(ctx, id, actionID)
		if err != nil {
			// Offline or unreachable; start from an empty draft.
			m.logger.Warn("remote context fetch failed",
				slog.String("document", id),
				slog.String("action", actionID),
				slog.String("error", err.Error()))
		} else if len(remote) > 0 {
			draft = remote
		}
	}

	trackID, _ := draft["$trackId"].(string)
	if trackID == "" {
		trackID = ulid.Make().String()
	}
	delete(draft, "$trackId")

	base := doc.Fields
	if action := doc.Action(actionID); action != nil && action.StoreIn != "" {
		base = doc.FieldAt(action.StoreIn, true)
	}
	if base == nil {
		base = map[string]any{}
	}

	s := &Session{
		manager:  m,
		doc:      doc,
		id:       id,
		actionID: actionID,
		trackID:  trackID,
		base:     base,
		draft:    draft,
	}
	s.saver = debounce.New(m.saveWait, func() {
		if err := s.persist(context.Background()); err != nil {
			m.logger.Warn("draft save failed",
				slog.String("document", id),
				slog.String("action", actionID),
				slog.String("error", err.Error()))
		}
	})
	return s, nil
}

// CleanUpInstance removes the persisted draft context for a session, leaving
// any in-memory session untouched.
func (m *Manager) CleanUpInstance(ctx context.Context, id, actionID string) error {
	if err := m.store.Remove(ctx, localstore.ContextKey(id, actionID)); err != nil {
		return err
	}
	if m.endpoint != nil {
		if _, err := m.endpoint.SetContext(ctx, id, actionID, map[string]any{}); err != nil {
			m.logger.Warn("remote context clear failed",
				slog.String("document", id),
				slog.String("action", actionID),
				slog.String("error", err.Error()))
		}
	}
	return nil
}

// emitUpdated raises data.updated.<id>, coalescing commits that land within
// the same save window into one event.
func (m *Manager) emitUpdated(id string) {
	m.mu.Lock()
	d, ok := m.emitters[id]
	if !ok {
		d = debounce.New(10*time.Millisecond, func() {
			m.bus.Emit("data.updated."+id, id)
		})
		m.emitters[id] = d
	}
	m.mu.Unlock()
	d.Trigger()
}

// Reset drops the manager's accumulated per-document state: pending update
// events are cancelled and the emitter table is cleared. Called on sign-out;
// persisted draft contexts are untouched.
func (m *Manager) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, d := range m.emitters {
		d.Cancel()
	}
	m.emitters = make(map[string]*debounce.Debouncer)
}
