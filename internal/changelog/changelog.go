// Package changelog persists the per-document ordered list of committed
// edits. Records are appended on every commit, replayed onto freshly
// retrieved documents so offline edits are never lost, and pruned once the
// server acknowledges them.
package changelog

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/Alcumus/awe-library/internal/document"
	"github.com/Alcumus/awe-library/internal/localstore"
)

// Record is one committed, durable, replayable edit to a document. Instance
// is an absolute snapshot of the draft, not a diff, so replay fully
// overwrites the fields it touches.
type Record struct {
	TrackID    string             `json:"$trackId"`
	Create     *document.Document `json:"$create,omitempty"`
	ActionID   string             `json:"actionId"`
	ID         string             `json:"id"`
	Instance   map[string]any     `json:"instance"`
	ToState    string             `json:"toState,omitempty"`
	Command    string             `json:"command"`
	Controller map[string]any     `json:"controller,omitempty"`
}

// instanceTrackID returns the correlation key the server echoes back: the
// snapshot's $trackId, falling back to the record's own.
func (r Record) instanceTrackID() string {
	if id, ok := r.Instance["$trackId"].(string); ok && id != "" {
		return id
	}
	return r.TrackID
}

// Enqueuer receives appended records for eventual remote delivery.
type Enqueuer interface {
	Enqueue(ctx context.Context, record Record) error
}

// Log is the change log over the local store.
type Log struct {
	store    *localstore.Store
	registry *document.Registry
	queue    Enqueuer
	logger   *slog.Logger
}

// New creates a change log. queue may be nil when outbound delivery is not
// wired (e.g. in tests exercising replay only).
func New(store *localstore.Store, registry *document.Registry, queue Enqueuer, logger *slog.Logger) *Log {
	if logger == nil {
		logger = slog.Default()
	}
	return &Log{store: store, registry: registry, queue: queue, logger: logger}
}

// Append adds a record to the document's change log and hands it to the send
// queue. Append order is replay order.
func (l *Log) Append(ctx context.Context, rec Record) error {
	err := localstore.WithStoredValue(ctx, l.store, localstore.ChangesKey(rec.ID), []Record{},
		func(changes *[]Record) error {
			*changes = append(*changes, rec)
			return nil
		})
	if err != nil {
		return fmt.Errorf("changelog: append %s: %w", rec.ID, err)
	}
	if l.queue != nil {
		if err := l.queue.Enqueue(ctx, rec); err != nil {
			return fmt.Errorf("changelog: enqueue %s: %w", rec.ID, err)
		}
	}
	return nil
}

// Pending returns the not-yet-acknowledged records for a document in append
// order.
func (l *Log) Pending(ctx context.Context, id string) ([]Record, error) {
	var changes []Record
	if _, err := l.store.Get(ctx, localstore.ChangesKey(id), &changes); err != nil {
		return nil, fmt.Errorf("changelog: pending %s: %w", id, err)
	}
	return changes, nil
}

// Replay applies every pending record onto the document in append order:
// the snapshot is assigned, stray track ids cleared, and state transitions
// driven through the document's state behaviour. The document is hydrated
// first when needed; a willRetrieve message completes the replay. Replay is
// idempotent because each snapshot is absolute.
func (l *Log) Replay(ctx context.Context, doc *document.Document) error {
	if doc == nil {
		return nil
	}
	l.registry.Initialize(doc)

	changes, err := l.Pending(ctx, doc.ID)
	if err != nil {
		return err
	}
	for _, rec := range changes {
		doc.Apply(rec.Instance)
		if rec.ToState != "" {
			if err := doc.SetState(ctx, rec.ToState); err != nil {
				// A transition the graph no longer allows must not abort the
				// rest of the replay.
				l.logger.Warn("replay transition rejected",
					slog.String("document", doc.ID),
					slog.String("to_state", rec.ToState),
					slog.String("error", err.Error()))
			}
		}
	}
	if _, err := doc.SendMessageAsync(ctx, "willRetrieve"); err != nil {
		return fmt.Errorf("changelog: replay %s: %w", doc.ID, err)
	}
	return nil
}

// Acknowledge removes the record matching the given track id, leaving any
// concurrently appended records in place. Emptying the log deletes its key.
func (l *Log) Acknowledge(ctx context.Context, id, trackID string) error {
	err := localstore.WithStoredValue(ctx, l.store, localstore.ChangesKey(id), []Record{},
		func(changes *[]Record) error {
			kept := (*changes)[:0]
			for _, rec := range *changes {
				if rec.instanceTrackID() != trackID {
					kept = append(kept, rec)
				}
			}
			*changes = kept
			return nil
		})
	if err != nil {
		return fmt.Errorf("changelog: acknowledge %s: %w", id, err)
	}
	return nil
}

// Reset clears the document's whole change log and removes the persisted
// draft context of each given action.
func (l *Log) Reset(ctx context.Context, id string, actionIDs ...string) error {
	err := localstore.WithStoredValue(ctx, l.store, localstore.ChangesKey(id), []Record{},
		func(changes *[]Record) error {
			*changes = (*changes)[:0]
			return nil
		})
	if err != nil {
		return fmt.Errorf("changelog: reset %s: %w", id, err)
	}
	for _, actionID := range actionIDs {
		if err := l.store.Remove(ctx, localstore.ContextKey(id, actionID)); err != nil {
			return fmt.Errorf("changelog: reset context %s/%s: %w", id, actionID, err)
		}
	}
	return nil
}
