// Package testutil provides shared test helpers for setting up temporary
// stores and event buses.
package testutil

import (
	"os"
	"testing"

	"github.com/Alcumus/awe-library/internal/events"
	"github.com/Alcumus/awe-library/internal/localstore"
)

// TestStore creates a temporary SQLite-backed local store that is
// automatically cleaned up.
func TestStore(t *testing.T) *localstore.Store {
	t.Helper()
	dbFile, err := os.CreateTemp("", "awe-test-*.db")
	if err != nil {
		t.Fatal(err)
	}
	dbFile.Close()
	t.Cleanup(func() { os.Remove(dbFile.Name()) })

	store, err := localstore.Open(dbFile.Name(), "")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

// TestBus creates an event bus with a discarding logger.
func TestBus(t *testing.T) *events.Bus {
	t.Helper()
	return events.NewBus(nil)
}
