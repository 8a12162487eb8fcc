package api

import (
	"context"
	"strings"

	"github.com/Alcumus/awe-library/internal/changelog"
	"github.com/Alcumus/awe-library/internal/dataservice"
	"github.com/Alcumus/awe-library/internal/docservice"
	"github.com/Alcumus/awe-library/internal/document"
	"github.com/Alcumus/awe-library/internal/instance"
	"github.com/Alcumus/awe-library/internal/retrieval"
	"github.com/Alcumus/awe-library/internal/sendqueue"
	"github.com/Alcumus/awe-library/internal/tasks"
	"github.com/Alcumus/awe-library/internal/tracker"
)

// Service coordinates the document services for the API layer.
type Service struct {
	data      *dataservice.Service
	retriever *retrieval.Service
	manager   *instance.Manager
	log       *changelog.Log
	queue     *sendqueue.Queue
	docs      *docservice.Service
	track     *tracker.Tracker
}

// NewService creates a new API service. track may be nil; mutating
// operations are then untracked.
func NewService(data *dataservice.Service, retriever *retrieval.Service,
	manager *instance.Manager, log *changelog.Log, queue *sendqueue.Queue,
	docs *docservice.Service, track *tracker.Tracker) *Service {
	if track == nil {
		track = tracker.New(nil, 0)
	}
	return &Service{
		data:      data,
		retriever: retriever,
		manager:   manager,
		log:       log,
		queue:     queue,
		docs:      docs,
		track:     track,
	}
}

// GetDocument returns the document with pending local changes applied.
func (s *Service) GetDocument(ctx context.Context, id string) (*document.Document, error) {
	return s.retriever.RetrieveWithChanges(ctx, id)
}

// ListDocuments lists cached documents under a (db, table) classification.
// query, when non-empty, keeps only documents with a top-level field value
// containing it; the scan runs in chunks so a closed request abandons it.
func (s *Service) ListDocuments(ctx context.Context, dbName, table, query string) ([]*document.Document, error) {
	docs, err := s.data.List(ctx, dbName, table, nil)
	if err != nil {
		return nil, err
	}
	if query == "" {
		return docs, nil
	}
	needle := strings.ToLower(query)
	return tasks.Filter(ctx, docs, 0, func(doc *document.Document) bool {
		for _, v := range doc.Fields {
			str, ok := v.(string)
			if ok && strings.Contains(strings.ToLower(str), needle) {
				return true
			}
		}
		return strings.Contains(strings.ToLower(doc.ID), needle)
	})
}

// Commit opens the editing session for (id, actionID), applies the given
// field values, and commits them as one durable change. It returns the
// track id correlating the change through the send queue.
func (s *Service) Commit(ctx context.Context, id, actionID string, fields map[string]any,
	toState, command string, controller map[string]any) (string, error) {
	var trackID string
	err := s.track.Do(ctx, "commit "+id, func(ctx context.Context) error {
		session, err := s.manager.GetInstance(ctx, id, actionID, nil)
		if err != nil {
			return err
		}
		for k, v := range fields {
			session.Set(k, v)
		}
		if err := session.Commit(ctx, toState, command, controller, nil); err != nil {
			return err
		}
		trackID = session.TrackID()
		return nil
	})
	return trackID, err
}

// PendingChanges returns the not-yet-acknowledged change records for a
// document.
func (s *Service) PendingChanges(ctx context.Context, id string) ([]changelog.Record, error) {
	return s.log.Pending(ctx, id)
}

// ResetChanges discards a document's pending changes and any draft contexts
// for the given action ids.
func (s *Service) ResetChanges(ctx context.Context, id string, actionIDs ...string) error {
	return s.log.Reset(ctx, id, actionIDs...)
}

// QueuedChanges returns the records still waiting in the send queue for a
// document.
func (s *Service) QueuedChanges(ctx context.Context, id string) ([]changelog.Record, error) {
	return s.queue.Pending(ctx, id)
}

// CreateDocument builds a new document of the given type.
func (s *Service) CreateDocument(ctx context.Context, typeID, id, parentID string,
	docCtx, props map[string]any, alwaysCreate bool) (*document.Document, error) {
	var parent *document.Document
	if parentID != "" {
		parent = &document.Document{ID: parentID}
	}
	return s.docs.CreateDocumentOfType(ctx, parent, typeID, docCtx, docservice.Options{
		ID:           id,
		Props:        props,
		AlwaysCreate: alwaysCreate,
	})
}
