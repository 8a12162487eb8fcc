package retrieval

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/Alcumus/awe-library/internal/apperr"
	"github.com/Alcumus/awe-library/internal/changelog"
	"github.com/Alcumus/awe-library/internal/dataservice"
	"github.com/Alcumus/awe-library/internal/document"
	"github.com/Alcumus/awe-library/internal/events"
	"github.com/Alcumus/awe-library/internal/localstore"
)

type fixture struct {
	data  *dataservice.Service
	store *localstore.Store
	log   *changelog.Log
	bus   *events.Bus
	svc   *Service
}

func setup(t *testing.T, memoTTL time.Duration) *fixture {
	t.Helper()
	tmp := func(pattern string) string {
		f, err := os.CreateTemp("", pattern)
		if err != nil {
			t.Fatal(err)
		}
		f.Close()
		t.Cleanup(func() { os.Remove(f.Name()) })
		return f.Name()
	}

	data, err := dataservice.Open(tmp("awe-docs-*.db"), nil, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { data.Close() })

	store, err := localstore.Open(tmp("awe-kv-*.db"), "")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.Close() })

	registry := document.NewRegistry()
	log := changelog.New(store, registry, nil, nil)
	bus := events.NewBus(nil)
	svc := New(data, dataservice.ModeLocalFirst, registry, log, bus, nil, memoTTL)
	return &fixture{data: data, store: store, log: log, bus: bus, svc: svc}
}

func seedDoc(t *testing.T, fx *fixture, id string) {
	t.Helper()
	doc := &document.Document{
		ID: id,
		Behaviours: &document.Behaviours{
			State: "draft",
			States: []document.StateDef{
				{Name: "draft", To: []string{"submitted"}},
				{Name: "submitted"},
			},
		},
		Fields: map[string]any{"name": "Server"},
	}
	if _, err := fx.data.Set(context.Background(), doc, false); err != nil {
		t.Fatal(err)
	}
}

func TestRetrieveMissingDocument(t *testing.T) {
	fx := setup(t, time.Minute)
	notified := false
	fx.bus.On([]string{EventNotify}, func(string, ...any) { notified = true })

	_, err := fx.svc.Retrieve(context.Background(), "nope")
	if !errors.Is(err, apperr.ErrDocumentNotFound) {
		t.Fatalf("err = %v, want ErrDocumentNotFound", err)
	}
	if !notified {
		t.Error("expected user notification event")
	}
}

func TestRetrieveRejectsBehaviourlessRecord(t *testing.T) {
	fx := setup(t, time.Minute)
	if _, err := fx.data.Set(context.Background(), &document.Document{ID: "raw1"}, false); err != nil {
		t.Fatal(err)
	}
	_, err := fx.svc.Retrieve(context.Background(), "raw1")
	if !errors.Is(err, apperr.ErrDocumentNotFound) {
		t.Fatalf("err = %v, want ErrDocumentNotFound", err)
	}
}

func TestRetrieveWithChangesAppliesPendingEdits(t *testing.T) {
	fx := setup(t, time.Minute)
	ctx := context.Background()
	seedDoc(t, fx, "doc1")

	// Pending offline edit the server does not know about yet.
	err := fx.log.Append(ctx, changelog.Record{
		TrackID:  "t1",
		ID:       "doc1",
		Instance: map[string]any{"name": "Alice", "$trackId": "t1"},
		ToState:  "submitted",
		Command:  "setData",
	})
	if err != nil {
		t.Fatal(err)
	}

	doc, err := fx.svc.RetrieveWithChanges(ctx, "doc1")
	if err != nil {
		t.Fatalf("RetrieveWithChanges: %v", err)
	}
	if doc.Field("name") != "Alice" {
		t.Errorf("name = %v, want replayed Alice", doc.Field("name"))
	}
	if doc.State() != "submitted" {
		t.Errorf("state = %q, want submitted", doc.State())
	}
}

func TestMemoServesRepeatCalls(t *testing.T) {
	fx := setup(t, time.Minute)
	ctx := context.Background()
	seedDoc(t, fx, "doc1")

	first, err := fx.svc.RetrieveWithChanges(ctx, "doc1")
	if err != nil {
		t.Fatal(err)
	}
	second, err := fx.svc.RetrieveWithChanges(ctx, "doc1")
	if err != nil {
		t.Fatal(err)
	}
	if first != second {
		t.Error("expected memoized document on immediate repeat call")
	}
}

func TestDataUpdatedEventInvalidatesMemo(t *testing.T) {
	fx := setup(t, time.Minute)
	ctx := context.Background()
	seedDoc(t, fx, "doc1")

	first, err := fx.svc.RetrieveWithChanges(ctx, "doc1")
	if err != nil {
		t.Fatal(err)
	}

	// A commit elsewhere raises data.updated; the next retrieval must not be
	// served from the memo.
	err = fx.log.Append(ctx, changelog.Record{
		TrackID:  "t2",
		ID:       "doc1",
		Instance: map[string]any{"name": "Updated", "$trackId": "t2"},
	})
	if err != nil {
		t.Fatal(err)
	}
	fx.bus.Emit("data.updated.doc1", "doc1")

	second, err := fx.svc.RetrieveWithChanges(ctx, "doc1")
	if err != nil {
		t.Fatal(err)
	}
	if first == second {
		t.Fatal("memo served despite invalidation")
	}
	if second.Field("name") != "Updated" {
		t.Errorf("name = %v, want Updated", second.Field("name"))
	}
}

func TestHydrateAllSkipsBrokenItems(t *testing.T) {
	fx := setup(t, time.Minute)
	ctx := context.Background()

	good := &document.Document{ID: "good", Behaviours: &document.Behaviours{}}
	docs := []*document.Document{nil, good}
	fx.svc.HydrateAll(ctx, docs)

	if !good.Hydrated() {
		t.Error("good document not hydrated")
	}
}
