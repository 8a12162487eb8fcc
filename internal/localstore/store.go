// Package localstore provides the durable local key-value store backing the
// change log, send queue, and draft contexts. Values are stored as JSON in a
// single SQLite table so the library stays usable with no server available.
package localstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS kv (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL
);
`

// Store is a namespaced key-value store over SQLite. All values round-trip
// through encoding/json. Storage failures propagate to the caller untouched.
type Store struct {
	conn   *sql.DB
	prefix string
	locks  *keyLocks
}

// Open opens (or creates) the store database. prefix namespaces every key and
// is decided once at startup (e.g. "debugger-" when running against a debug
// environment, empty otherwise).
func Open(dsn, prefix string) (*Store, error) {
	conn, err := sql.Open("sqlite3", dsn+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("localstore: open db: %w", err)
	}
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("localstore: ping: %w", err)
	}
	if _, err := conn.Exec(schemaSQL); err != nil {
		conn.Close()
		return nil, fmt.Errorf("localstore: apply schema: %w", err)
	}
	return &Store{conn: conn, prefix: prefix, locks: newKeyLocks()}, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.conn.Close()
}

// Set stores value under key, replacing any previous value.
func (s *Store) Set(ctx context.Context, key string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("localstore: marshal %q: %w", key, err)
	}
	_, err = s.conn.ExecContext(ctx, `
		INSERT INTO kv (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, s.prefix+key, string(data))
	if err != nil {
		return fmt.Errorf("localstore: set %q: %w", key, err)
	}
	return nil
}

// Get loads the value stored under key into out, which must be a pointer.
// It returns false with out untouched when the key is absent.
func (s *Store) Get(ctx context.Context, key string, out any) (bool, error) {
	var raw string
	err := s.conn.QueryRowContext(ctx,
		`SELECT value FROM kv WHERE key = ?`, s.prefix+key).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("localstore: get %q: %w", key, err)
	}
	if err := json.Unmarshal([]byte(raw), out); err != nil {
		return false, fmt.Errorf("localstore: unmarshal %q: %w", key, err)
	}
	return true, nil
}

// Remove deletes key. Removing an absent key is not an error.
func (s *Store) Remove(ctx context.Context, key string) error {
	if _, err := s.conn.ExecContext(ctx,
		`DELETE FROM kv WHERE key = ?`, s.prefix+key); err != nil {
		return fmt.Errorf("localstore: remove %q: %w", key, err)
	}
	return nil
}

// Keys returns every stored key (prefix stripped) matching the given key
// prefix, in lexical order.
func (s *Store) Keys(ctx context.Context, keyPrefix string) ([]string, error) {
	rows, err := s.conn.QueryContext(ctx,
		`SELECT key FROM kv WHERE key LIKE ? ORDER BY key`,
		s.prefix+keyPrefix+"%")
	if err != nil {
		return nil, fmt.Errorf("localstore: keys %q: %w", keyPrefix, err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, fmt.Errorf("localstore: scan key: %w", err)
		}
		keys = append(keys, k[len(s.prefix):])
	}
	return keys, rows.Err()
}
