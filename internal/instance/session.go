package instance

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/tiendc/go-deepcopy"

	"github.com/Alcumus/awe-library/internal/changelog"
	"github.com/Alcumus/awe-library/internal/debounce"
	"github.com/Alcumus/awe-library/internal/document"
	"github.com/Alcumus/awe-library/internal/localstore"
)

// Session is one active editing session. Reads fall through the draft to the
// last-saved document state; only explicit edits shadow it.
type Session struct {
	manager  *Manager
	doc      *document.Document
	id       string
	actionID string
	trackID  string
	base     map[string]any
	saver    *debounce.Debouncer

	mu    sync.Mutex
	draft map[string]any
}

// Document returns the underlying document.
func (s *Session) Document() *document.Document {
	return s.doc
}

// TrackID returns the session's track id, assigned once and carried through
// to the eventual change record.
func (s *Session) TrackID() string {
	return s.trackID
}

// Get returns the effective value of a field: the draft override when one
// exists, otherwise the base document value.
func (s *Session) Get(field string) any {
	s.mu.Lock()
	defer s.mu.Unlock()
	if v, ok := s.draft[field]; ok {
		return v
	}
	return s.base[field]
}

// Set records a draft edit. Nothing is persisted until Save or Commit.
func (s *Session) Set(field string, value any) {
	s.mu.Lock()
	s.draft[field] = value
	s.mu.Unlock()
}

// Fields returns the merged view: base values shadowed by draft edits.
func (s *Session) Fields() map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	merged := make(map[string]any, len(s.base)+len(s.draft))
	for k, v := range s.base {
		merged[k] = v
	}
	for k, v := range s.draft {
		merged[k] = v
	}
	return merged
}

// Save schedules a debounced persist of the draft context. This is purely a
// durability measure against losing an in-progress edit; it has no remote
// effect and is not a sync point.
func (s *Session) Save() {
	s.saver.Trigger()
}

// Flush persists the draft context immediately, superseding any pending
// debounced save. Unlike Save it always writes, so the session's track id is
// durable even when nothing else changed.
func (s *Session) Flush() {
	s.saver.Cancel()
	if err := s.persist(context.Background()); err != nil {
		s.manager.logger.Warn("draft flush failed",
			slog.String("document", s.id),
			slog.String("action", s.actionID),
			slog.String("error", err.Error()))
	}
}

func (s *Session) persist(ctx context.Context) error {
	s.mu.Lock()
	snapshot := make(map[string]any, len(s.draft)+1)
	for k, v := range s.draft {
		snapshot[k] = v
	}
	s.mu.Unlock()
	snapshot["$trackId"] = s.trackID

	if err := s.manager.store.Set(ctx, localstore.ContextKey(s.id, s.actionID), snapshot); err != nil {
		return err
	}
	if s.manager.endpoint != nil {
		refID, err := s.manager.endpoint.SetContext(ctx, s.id, s.actionID, snapshot)
		if err != nil {
			// The local copy is the durable one; the remote mirror catches up
			// on the next save.
			s.manager.logger.Warn("remote context store failed",
				slog.String("document", s.id),
				slog.String("action", s.actionID),
				slog.String("error", err.Error()))
		} else if refID != "" {
			s.mu.Lock()
			s.draft["$refId"] = refID
			s.mu.Unlock()
		}
	}
	s.manager.bus.Emit(fmt.Sprintf("context.updated.%s.%s.save", s.id, s.actionID))
	return nil
}

// Reset flushes the pending save, discards every draft edit, and persists
// the now-empty context.
func (s *Session) Reset(ctx context.Context) error {
	s.saver.Cancel()
	s.mu.Lock()
	for k := range s.draft {
		delete(s.draft, k)
	}
	s.mu.Unlock()
	return s.persist(ctx)
}

// Commit finalizes the session's edits into a durable change record:
// pending saves are flushed, the record is appended to the change log (which
// also queues it for remote delivery), the now-redundant draft context is
// cleaned up, and observers are notified with a coalesced data.updated
// event.
//
// When create is nil and the instance has never really been created, the
// whole current document becomes the creation payload; that is how a lazily
// created document becomes real on its first commit.
func (s *Session) Commit(ctx context.Context, toState, command string, controller map[string]any, create *document.Document) error {
	if command == "" {
		command = "setData"
	}
	if toState == "" {
		toState = s.doc.State()
	}
	s.saver.Cancel()
	if err := s.persist(ctx); err != nil {
		return fmt.Errorf("instance: commit flush %s/%s: %w", s.id, s.actionID, err)
	}

	if create == nil && !s.created() {
		prepared, err := prepareDocument(s.doc)
		if err != nil {
			return fmt.Errorf("instance: commit %s/%s: %w", s.id, s.actionID, err)
		}
		create = prepared
	}

	s.mu.Lock()
	snapshot := make(map[string]any, len(s.draft)+1)
	for k, v := range s.draft {
		snapshot[k] = v
	}
	s.mu.Unlock()
	snapshot["$trackId"] = s.trackID

	rec := changelog.Record{
		TrackID:    s.trackID,
		Create:     create,
		ActionID:   s.actionID,
		ID:         s.id,
		Instance:   snapshot,
		ToState:    toState,
		Command:    command,
		Controller: controller,
	}
	if err := s.manager.log.Append(ctx, rec); err != nil {
		return fmt.Errorf("instance: commit %s/%s: %w", s.id, s.actionID, err)
	}
	if err := s.manager.CleanUpInstance(ctx, s.id, s.actionID); err != nil {
		return fmt.Errorf("instance: commit cleanup %s/%s: %w", s.id, s.actionID, err)
	}
	s.manager.emitUpdated(s.id)
	return nil
}

func (s *Session) created() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if v, ok := s.draft["$created"].(bool); ok {
		return v
	}
	return s.doc.Created
}

// prepareDocument deep-copies the document into a creation payload, dropping
// runtime-only state (hydration handlers are unexported and never copied)
// and any stray track id.
func prepareDocument(doc *document.Document) (*document.Document, error) {
	var copied document.Document
	if err := deepcopy.Copy(&copied, doc); err != nil {
		return nil, err
	}
	copied.TrackID = ""
	return &copied, nil
}
