// Package docservice creates documents from type definitions: it resolves
// the published version of a type, builds a document from its snapshot, and
// either persists it immediately or caches it locally until first commit.
package docservice

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/tiendc/go-deepcopy"

	"github.com/Alcumus/awe-library/internal/apperr"
	"github.com/Alcumus/awe-library/internal/dataservice"
	"github.com/Alcumus/awe-library/internal/document"
	"github.com/Alcumus/awe-library/internal/events"
	"github.com/Alcumus/awe-library/internal/retrieval"
)

// DefaultMode selects which published version of a type is current.
const DefaultMode = "live"

// TypeSource resolves document type definitions by id. A missing type is
// reported as ErrTypeNotFound.
type TypeSource interface {
	Type(ctx context.Context, id string) (*document.Type, error)
}

// Options tunes document creation.
type Options struct {
	// ID fixes the new document's id; empty generates one.
	ID string

	// FromRaw builds from the live type definition instead of the current
	// published version.
	FromRaw bool

	// Props are top-level field values set on the document immediately.
	Props map[string]any

	// AlwaysCreate persists the document right away even when its type
	// would normally defer creation to the first commit.
	AlwaysCreate bool
}

// Service builds and upgrades documents from type definitions.
type Service struct {
	data     *dataservice.Service
	types    TypeSource
	registry *document.Registry
	bus      *events.Bus
	logger   *slog.Logger
	mode     string
}

// New creates a document service. mode selects the published version channel
// and defaults to DefaultMode.
func New(data *dataservice.Service, types TypeSource, registry *document.Registry,
	bus *events.Bus, logger *slog.Logger, mode string) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if mode == "" {
		mode = DefaultMode
	}
	return &Service{data: data, types: types, registry: registry, bus: bus, logger: logger, mode: mode}
}

// CreateDocumentOfType builds a new document of the given type. parent may
// be nil. docCtx is handed to the document's behaviours through a setContext
// message so context-driven fields can pick defaults from it.
//
// Unless the type forces immediate creation, the document is only cached
// locally; it becomes real on the server at its first committed change.
// Creation failures raise a notification event and return the error.
func (s *Service) CreateDocumentOfType(ctx context.Context, parent *document.Document,
	typeID string, docCtx map[string]any, opts Options) (*document.Document, error) {
	doc, err := s.create(ctx, parent, typeID, docCtx, opts)
	if err != nil {
		s.logger.Error("document creation failed",
			slog.String("type", typeID),
			slog.String("error", err.Error()))
		s.bus.Emit(retrieval.EventNotify, "Error: cannot create document")
		return nil, err
	}
	return doc, nil
}

func (s *Service) create(ctx context.Context, parent *document.Document,
	typeID string, docCtx map[string]any, opts Options) (*document.Document, error) {
	typ, err := s.types.Type(ctx, typeID)
	if err != nil {
		return nil, fmt.Errorf("docservice: resolve type %s: %w", typeID, err)
	}

	def, versionName, err := s.resolveVersion(typ, opts.FromRaw)
	if err != nil {
		return nil, fmt.Errorf("docservice: type %s: %w", typeID, err)
	}

	id := opts.ID
	if id == "" {
		id = uuid.NewString()
	}

	doc := &document.Document{
		ID:        id,
		Version:   versionName,
		CreatedAt: time.Now().UTC(),
		Fields:    map[string]any{},
		Settings:  def.Settings,
	}
	if parent != nil {
		doc.Parent = parent.ID
	}
	if def.Behaviours != nil {
		var behaviours document.Behaviours
		if err := deepcopy.Copy(&behaviours, def.Behaviours); err != nil {
			return nil, fmt.Errorf("docservice: copy behaviours: %w", err)
		}
		doc.Behaviours = &behaviours
	} else {
		doc.Behaviours = &document.Behaviours{}
	}
	for k, v := range opts.Props {
		doc.SetField(k, v)
	}
	if typ.DefaultState != "" {
		doc.Behaviours.State = typ.DefaultState
	}

	s.registry.Initialize(doc)
	doc.SendMessage("setContext", docCtx)

	if opts.AlwaysCreate || typ.CreateOnNew {
		doc.Created = true
		if _, err := s.data.Set(ctx, doc, true); err != nil {
			return nil, fmt.Errorf("docservice: store %s: %w", id, err)
		}
	} else if err := s.data.CacheLocalOnly(ctx, doc); err != nil {
		return nil, fmt.Errorf("docservice: cache %s: %w", id, err)
	}
	return doc, nil
}

// resolveVersion picks the definition a new document is built from: the
// current published version's JSON snapshot, or the raw type itself when no
// version is published or FromRaw is set.
func (s *Service) resolveVersion(typ *document.Type, fromRaw bool) (*document.Type, string, error) {
	if fromRaw || len(typ.CurrentVersion) == 0 {
		return typ, fmt.Sprintf("raw-%d", time.Now().UnixMilli()), nil
	}
	versionName := typ.CurrentVersion[s.mode]
	version := typ.VersionNamed(versionName)
	if version == nil {
		return nil, "", fmt.Errorf("version %q not published", versionName)
	}
	var def document.Type
	if err := json.Unmarshal([]byte(version.Content), &def); err != nil {
		return nil, "", fmt.Errorf("version %q: %w", versionName, err)
	}
	return &def, versionName, nil
}

// Ensure guarantees that a document with the given id exists and is at the
// type's current version. A missing document is created immediately; an
// existing one on an older version is upgraded in place. An upgrade failure
// is logged and leaves the document at its previous version.
func (s *Service) Ensure(ctx context.Context, id string, typ *document.Type) error {
	current, err := s.data.Get(ctx, id, dataservice.ModeLocalFirst)
	if err != nil {
		return fmt.Errorf("docservice: ensure %s: %w", id, err)
	}
	if current == nil {
		_, err := s.CreateDocumentOfType(ctx, nil, typ.ID, map[string]any{},
			Options{ID: id, AlwaysCreate: true})
		return err
	}
	if err := s.upgrade(ctx, current, typ); err != nil {
		s.logger.Error("document upgrade failed",
			slog.String("document", id),
			slog.String("type", typ.ID),
			slog.String("version", current.Version),
			slog.String("error", err.Error()))
		return fmt.Errorf("docservice: ensure %s: %w", id, err)
	}
	return nil
}

func (s *Service) upgrade(ctx context.Context, current *document.Document, typ *document.Type) error {
	versionName := typ.CurrentVersion[s.mode]
	if versionName == "" || versionName == current.Version {
		return nil
	}
	version := typ.VersionNamed(versionName)
	if version == nil {
		return fmt.Errorf("version %q not published: %w", versionName, apperr.ErrUpgradeFailed)
	}
	var def document.Type
	if err := json.Unmarshal([]byte(version.Content), &def); err != nil {
		return fmt.Errorf("version %q: %v: %w", versionName, err, apperr.ErrUpgradeFailed)
	}

	current.Behaviours = def.Behaviours
	if current.Settings == nil {
		current.Settings = map[string]any{}
	}
	for k, v := range def.Settings {
		current.Settings[k] = v
	}
	current.Version = versionName
	if _, err := s.data.Set(ctx, current, true); err != nil {
		return fmt.Errorf("store upgraded %s: %v: %w", current.ID, err, apperr.ErrUpgradeFailed)
	}
	return nil
}
