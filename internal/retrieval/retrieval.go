// Package retrieval fetches documents from the data service, hydrates them,
// and overlays any pending local changes before callers see them.
package retrieval

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/united-manufacturing-hub/expiremap/v2/pkg/expiremap"
	"golang.org/x/sync/singleflight"

	"github.com/Alcumus/awe-library/internal/apperr"
	"github.com/Alcumus/awe-library/internal/changelog"
	"github.com/Alcumus/awe-library/internal/dataservice"
	"github.com/Alcumus/awe-library/internal/document"
	"github.com/Alcumus/awe-library/internal/events"
)

// EventNotify is raised when a failure should surface to the user.
const EventNotify = "notification.show"

// Service retrieves and hydrates documents. Bursts of calls for the same id
// are collapsed and served from a short-lived memo so repeated hydration work
// is avoided without masking real updates.
type Service struct {
	data     *dataservice.Service
	mode     dataservice.Mode
	registry *document.Registry
	log      *changelog.Log
	bus      *events.Bus
	logger   *slog.Logger

	memo  *expiremap.ExpireMap[string, *document.Document]
	group singleflight.Group
}

// New creates the retrieval service. memoTTL bounds how long a hydrated
// document may be served without re-reading the data service; production
// uses a couple of seconds.
func New(data *dataservice.Service, mode dataservice.Mode, registry *document.Registry,
	log *changelog.Log, bus *events.Bus, logger *slog.Logger, memoTTL time.Duration) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if memoTTL <= 0 {
		memoTTL = 2 * time.Second
	}
	s := &Service{
		data:     data,
		mode:     mode,
		registry: registry,
		log:      log,
		bus:      bus,
		logger:   logger,
		memo:     expiremap.NewEx[string, *document.Document](memoTTL/2, memoTTL),
	}
	// Local commits must be visible on the very next retrieval, so the memo
	// entry is blanked whenever a document changes.
	bus.On([]string{"data.updated.*"}, func(name string, _ ...any) {
		if id := lastSegment(name); id != "" {
			s.memo.Set(id, nil)
		}
	})
	return s
}

// Retrieve fetches and hydrates the raw document. A missing record, or one
// without a behaviours structure, surfaces a user notification and
// apperr.ErrDocumentNotFound.
func (s *Service) Retrieve(ctx context.Context, id string) (*document.Document, error) {
	doc, err := s.data.Get(ctx, id, s.mode)
	if err != nil {
		return nil, fmt.Errorf("retrieval: get %s: %w", id, err)
	}
	if doc == nil || doc.Behaviours == nil {
		s.bus.Emit(EventNotify, "Error: could not open the document")
		return nil, fmt.Errorf("retrieval: %s: %w", id, apperr.ErrDocumentNotFound)
	}
	s.registry.Initialize(doc)
	if _, err := doc.SendMessageAsync(ctx, "willRetrieve"); err != nil {
		return nil, fmt.Errorf("retrieval: %s: %w", id, err)
	}
	return doc, nil
}

// RetrieveWithChanges is Retrieve plus replay of the pending change log and
// the full hydration lifecycle: hydrated, then hasHydrated. Both messages
// complete before the document is handed to the caller.
func (s *Service) RetrieveWithChanges(ctx context.Context, id string) (*document.Document, error) {
	if v, ok := s.memo.Load(id); ok && v != nil && *v != nil {
		return *v, nil
	}
	res, err, _ := s.group.Do(id, func() (any, error) {
		doc, err := s.Retrieve(ctx, id)
		if err != nil {
			return nil, err
		}
		if err := s.log.Replay(ctx, doc); err != nil {
			return nil, err
		}
		if _, err := doc.SendMessageAsync(ctx, "hydrated"); err != nil {
			return nil, err
		}
		if _, err := doc.SendMessageAsync(ctx, "hasHydrated"); err != nil {
			return nil, err
		}
		s.memo.Set(id, doc)
		return doc, nil
	})
	if err != nil {
		return nil, err
	}
	return res.(*document.Document), nil
}

// HydrateAll hydrates and replays a batch of documents. A failing item is
// logged and skipped; the rest of the batch is still processed.
func (s *Service) HydrateAll(ctx context.Context, docs []*document.Document) {
	for _, doc := range docs {
		if doc == nil {
			continue
		}
		s.registry.Initialize(doc)
		if err := s.log.Replay(ctx, doc); err != nil {
			s.logger.Warn("bulk hydration: replay failed, item skipped",
				slog.String("document", doc.ID),
				slog.String("error", err.Error()))
			continue
		}
		if _, err := doc.SendMessageAsync(ctx, "hydrated"); err != nil {
			s.logger.Warn("bulk hydration: hydrated message failed, item skipped",
				slog.String("document", doc.ID),
				slog.String("error", err.Error()))
		}
	}
}

func lastSegment(name string) string {
	if i := strings.LastIndex(name, "."); i >= 0 {
		return name[i+1:]
	}
	return ""
}
