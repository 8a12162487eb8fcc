// Package dataservice is the offline-capable data service the library reads
// documents from: a SQLite-backed local cache in front of an optional remote
// store, with a mode flag deciding which side is preferred while online.
package dataservice

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	_ "github.com/mattn/go-sqlite3"

	"github.com/Alcumus/awe-library/internal/apperr"
	"github.com/Alcumus/awe-library/internal/document"
)

// Mode selects which side of the cache a read prefers.
type Mode string

const (
	// ModeLocalFirst serves cached copies and only reaches out when the
	// document is not cached.
	ModeLocalFirst Mode = "local-first"
	// ModeServerPreferred refreshes from the remote store whenever online.
	ModeServerPreferred Mode = "server-preferred"
)

// Remote is the upstream document store. Implementations live outside this
// library; tests use fakes.
type Remote interface {
	Fetch(ctx context.Context, id string) (*document.Document, error)
	Store(ctx context.Context, doc *document.Document) error
}

// OnlineChecker reports current connectivity.
type OnlineChecker interface {
	Online() bool
}

const schemaSQL = `
CREATE TABLE IF NOT EXISTS documents (
	id         TEXT PRIMARY KEY,
	db_name    TEXT NOT NULL DEFAULT '',
	tbl        TEXT NOT NULL DEFAULT '',
	local_only INTEGER NOT NULL DEFAULT 0,
	deleted    INTEGER NOT NULL DEFAULT 0,
	data       TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_documents_table ON documents(db_name, tbl);
`

// Service is the data service over the local cache.
type Service struct {
	conn   *sql.DB
	remote Remote
	online OnlineChecker
	logger *slog.Logger
}

// alwaysOnline is the fallback when no connectivity monitor is wired.
type alwaysOnline struct{}

func (alwaysOnline) Online() bool { return true }

// Open opens (or creates) the cache database. remote may be nil for a purely
// local deployment.
func Open(dsn string, remote Remote, online OnlineChecker, logger *slog.Logger) (*Service, error) {
	conn, err := sql.Open("sqlite3", dsn+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("dataservice: open db: %w", err)
	}
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("dataservice: ping: %w", err)
	}
	if _, err := conn.Exec(schemaSQL); err != nil {
		conn.Close()
		return nil, fmt.Errorf("dataservice: apply schema: %w", err)
	}
	if online == nil {
		online = alwaysOnline{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{conn: conn, remote: remote, online: online, logger: logger}, nil
}

// Close closes the cache database.
func (s *Service) Close() error {
	return s.conn.Close()
}

// Get returns the document with the given id, or nil when it does not exist
// anywhere reachable. In server-preferred mode a reachable remote wins and
// refreshes the cache; otherwise the cache is authoritative.
func (s *Service) Get(ctx context.Context, id string, mode Mode) (*document.Document, error) {
	if mode == ModeServerPreferred && s.remote != nil && s.online.Online() {
		doc, err := s.remote.Fetch(ctx, id)
		switch {
		case errors.Is(err, apperr.ErrDocumentNotFound):
			// Fall through to the cache: a lazily created document may only
			// exist locally.
		case err != nil:
			s.logger.Warn("remote fetch failed, serving cache",
				slog.String("document", id),
				slog.String("error", err.Error()))
		case doc != nil:
			if err := s.cache(ctx, doc, false); err != nil {
				return nil, err
			}
			return doc, nil
		}
	}
	return s.getLocal(ctx, id)
}

func (s *Service) getLocal(ctx context.Context, id string) (*document.Document, error) {
	var raw string
	err := s.conn.QueryRowContext(ctx,
		`SELECT data FROM documents WHERE id = ? AND deleted = 0`, id).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("dataservice: get %q: %w", id, err)
	}
	var doc document.Document
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		return nil, fmt.Errorf("dataservice: decode %q: %w", id, err)
	}
	return &doc, nil
}

// Set persists the document. When immediate is true and the remote store is
// reachable it is pushed upstream as well; otherwise it stays a cached copy
// until the sync layer delivers it.
func (s *Service) Set(ctx context.Context, doc *document.Document, immediate bool) (*document.Document, error) {
	if err := s.cache(ctx, doc, false); err != nil {
		return nil, err
	}
	if immediate && s.remote != nil && s.online.Online() {
		if err := s.remote.Store(ctx, doc); err != nil {
			return nil, fmt.Errorf("dataservice: store %q upstream: %w", doc.ID, err)
		}
	}
	return doc, nil
}

// CacheLocalOnly stores a document that does not yet exist on the service,
// e.g. one created lazily and not committed. It is served by Get but never
// pushed upstream by this service.
func (s *Service) CacheLocalOnly(ctx context.Context, doc *document.Document) error {
	return s.cache(ctx, doc, true)
}

func (s *Service) cache(ctx context.Context, doc *document.Document, localOnly bool) error {
	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("dataservice: encode %q: %w", doc.ID, err)
	}
	flag := 0
	if localOnly {
		flag = 1
	}
	_, err = s.conn.ExecContext(ctx, `
		INSERT INTO documents (id, local_only, data) VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			local_only = excluded.local_only,
			data       = excluded.data,
			deleted    = 0
	`, doc.ID, flag, string(data))
	if err != nil {
		return fmt.Errorf("dataservice: cache %q: %w", doc.ID, err)
	}
	return nil
}

// PutRecord caches a document under a (db, table) classification so List can
// find it. Used for reference data such as topics and type definitions.
func (s *Service) PutRecord(ctx context.Context, dbName, table string, doc *document.Document) error {
	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("dataservice: encode %q: %w", doc.ID, err)
	}
	_, err = s.conn.ExecContext(ctx, `
		INSERT INTO documents (id, db_name, tbl, data) VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			db_name = excluded.db_name,
			tbl     = excluded.tbl,
			data    = excluded.data,
			deleted = 0
	`, doc.ID, dbName, table, string(data))
	if err != nil {
		return fmt.Errorf("dataservice: put record %q: %w", doc.ID, err)
	}
	return nil
}

// List returns the cached documents in a (db, table) classification whose
// top-level fields match every entry in where. A nil where matches all.
func (s *Service) List(ctx context.Context, dbName, table string, where map[string]any) ([]*document.Document, error) {
	rows, err := s.conn.QueryContext(ctx, `
		SELECT data FROM documents
		WHERE db_name = ? AND tbl = ? AND deleted = 0
		ORDER BY id
	`, dbName, table)
	if err != nil {
		return nil, fmt.Errorf("dataservice: list %s.%s: %w", dbName, table, err)
	}
	defer rows.Close()

	var docs []*document.Document
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("dataservice: scan: %w", err)
		}
		var doc document.Document
		if err := json.Unmarshal([]byte(raw), &doc); err != nil {
			return nil, fmt.Errorf("dataservice: decode row: %w", err)
		}
		if matches(&doc, where) {
			docs = append(docs, &doc)
		}
	}
	return docs, rows.Err()
}

// AllIDs returns every cached document id, in lexical order.
func (s *Service) AllIDs(ctx context.Context) ([]string, error) {
	rows, err := s.conn.QueryContext(ctx,
		`SELECT id FROM documents WHERE deleted = 0 ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("dataservice: all ids: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("dataservice: scan id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func matches(doc *document.Document, where map[string]any) bool {
	for field, want := range where {
		if doc.Field(field) != want {
			return false
		}
	}
	return true
}
