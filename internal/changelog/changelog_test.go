package changelog

import (
	"context"
	"fmt"
	"os"
	"reflect"
	"testing"

	"github.com/Alcumus/awe-library/internal/document"
	"github.com/Alcumus/awe-library/internal/localstore"
)

func testStore(t *testing.T) *localstore.Store {
	t.Helper()
	f, err := os.CreateTemp("", "awe-test-*.db")
	if err != nil {
		t.Fatal(err)
	}
	f.Close()
	t.Cleanup(func() { os.Remove(f.Name()) })

	s, err := localstore.Open(f.Name(), "")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

type captureQueue struct {
	records []Record
}

func (q *captureQueue) Enqueue(_ context.Context, rec Record) error {
	q.records = append(q.records, rec)
	return nil
}

func testDoc(id string) *document.Document {
	return &document.Document{
		ID: id,
		Behaviours: &document.Behaviours{
			State: "draft",
			States: []document.StateDef{
				{Name: "draft", To: []string{"submitted"}},
				{Name: "submitted", To: []string{"approved"}},
				{Name: "approved"},
			},
		},
	}
}

func record(id, trackID, toState string, fields map[string]any) Record {
	if fields == nil {
		fields = map[string]any{}
	}
	fields["$trackId"] = trackID
	return Record{
		TrackID:  trackID,
		ID:       id,
		ActionID: "act1",
		Instance: fields,
		ToState:  toState,
		Command:  "setData",
	}
}

func TestAppendPreservesOrderAndEnqueues(t *testing.T) {
	store := testStore(t)
	queue := &captureQueue{}
	log := New(store, document.NewRegistry(), queue, nil)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		rec := record("doc1", fmt.Sprintf("t%d", i), "", map[string]any{"n": i})
		if err := log.Append(ctx, rec); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}

	pending, err := log.Pending(ctx, "doc1")
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) != 5 {
		t.Fatalf("pending = %d, want 5", len(pending))
	}
	for i, rec := range pending {
		if rec.TrackID != fmt.Sprintf("t%d", i) {
			t.Errorf("pending[%d].TrackID = %q", i, rec.TrackID)
		}
	}
	if len(queue.records) != 5 {
		t.Errorf("enqueued = %d, want 5", len(queue.records))
	}
}

func TestReplayAppliesSnapshotsAndState(t *testing.T) {
	store := testStore(t)
	log := New(store, document.NewRegistry(), nil, nil)
	ctx := context.Background()

	if err := log.Append(ctx, record("doc1", "a", "submitted", map[string]any{"name": "Alice"})); err != nil {
		t.Fatal(err)
	}
	if err := log.Append(ctx, record("doc1", "b", "approved", map[string]any{"score": 10.0})); err != nil {
		t.Fatal(err)
	}

	doc := testDoc("doc1")
	if err := log.Replay(ctx, doc); err != nil {
		t.Fatalf("Replay: %v", err)
	}
	if doc.Field("name") != "Alice" {
		t.Errorf("name = %v", doc.Field("name"))
	}
	if doc.Field("score") != 10.0 {
		t.Errorf("score = %v", doc.Field("score"))
	}
	if doc.State() != "approved" {
		t.Errorf("state = %q, want approved", doc.State())
	}
	if doc.TrackID != "" {
		t.Error("stray track id survived replay")
	}
}

func TestReplayIdempotent(t *testing.T) {
	store := testStore(t)
	log := New(store, document.NewRegistry(), nil, nil)
	ctx := context.Background()

	if err := log.Append(ctx, record("doc1", "a", "submitted", map[string]any{"name": "Alice"})); err != nil {
		t.Fatal(err)
	}

	doc := testDoc("doc1")
	if err := log.Replay(ctx, doc); err != nil {
		t.Fatal(err)
	}
	fields := make(map[string]any, len(doc.Fields))
	for k, v := range doc.Fields {
		fields[k] = v
	}
	state := doc.State()

	if err := log.Replay(ctx, doc); err != nil {
		t.Fatalf("second replay: %v", err)
	}
	if !reflect.DeepEqual(doc.Fields, fields) || doc.State() != state {
		t.Errorf("second replay changed document: %v / %q", doc.Fields, doc.State())
	}
}

func TestAcknowledgeRemovesOnlyMatching(t *testing.T) {
	store := testStore(t)
	log := New(store, document.NewRegistry(), nil, nil)
	ctx := context.Background()

	if err := log.Append(ctx, record("doc1", "a", "", nil)); err != nil {
		t.Fatal(err)
	}
	if err := log.Append(ctx, record("doc1", "b", "", nil)); err != nil {
		t.Fatal(err)
	}

	if err := log.Acknowledge(ctx, "doc1", "a"); err != nil {
		t.Fatalf("Acknowledge: %v", err)
	}
	pending, err := log.Pending(ctx, "doc1")
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) != 1 || pending[0].TrackID != "b" {
		t.Errorf("pending = %+v, want just b", pending)
	}
}

func TestAcknowledgeLastRecordPrunesKey(t *testing.T) {
	store := testStore(t)
	log := New(store, document.NewRegistry(), nil, nil)
	ctx := context.Background()

	if err := log.Append(ctx, record("doc1", "a", "", nil)); err != nil {
		t.Fatal(err)
	}
	if err := log.Acknowledge(ctx, "doc1", "a"); err != nil {
		t.Fatal(err)
	}

	keys, err := store.Keys(ctx, localstore.ChangesKey("doc1"))
	if err != nil {
		t.Fatal(err)
	}
	if len(keys) != 0 {
		t.Errorf("change log key not pruned: %v", keys)
	}
}

func TestResetClearsLogAndContexts(t *testing.T) {
	store := testStore(t)
	log := New(store, document.NewRegistry(), nil, nil)
	ctx := context.Background()

	if err := log.Append(ctx, record("doc1", "a", "", nil)); err != nil {
		t.Fatal(err)
	}
	if err := store.Set(ctx, localstore.ContextKey("doc1", "act1"), map[string]any{"draft": true}); err != nil {
		t.Fatal(err)
	}

	if err := log.Reset(ctx, "doc1", "act1"); err != nil {
		t.Fatalf("Reset: %v", err)
	}

	pending, err := log.Pending(ctx, "doc1")
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) != 0 {
		t.Errorf("pending after reset = %d", len(pending))
	}
	var out map[string]any
	found, err := store.Get(ctx, localstore.ContextKey("doc1", "act1"), &out)
	if err != nil {
		t.Fatal(err)
	}
	if found {
		t.Error("draft context survived reset")
	}
}
