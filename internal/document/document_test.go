package document

import (
	"context"
	"testing"
)

func testRegistry() *Registry {
	r := NewRegistry()
	r.Register(&Definition{
		Name: "form",
		Messages: map[string]MessageHandler{
			"fields": func(_ context.Context, _ *Document, inst Instance, _ ...any) (any, error) {
				return inst.Config["field"], nil
			},
		},
	})
	r.Register(&Definition{
		Name: "audit",
		Messages: map[string]MessageHandler{
			"fields": func(_ context.Context, _ *Document, _ Instance, _ ...any) (any, error) {
				return "audit-field", nil
			},
		},
	})
	return r
}

func testDoc() *Document {
	return &Document{
		ID: "doc1",
		Behaviours: &Behaviours{
			State: "draft",
			States: []StateDef{
				{Name: "draft", To: []string{"submitted"}},
				{Name: "submitted", To: []string{"approved", "draft"}},
				{Name: "approved"},
			},
			Instances: map[string][]Instance{
				"form": {{ID: "b1", Behaviour: "form", Config: map[string]any{"field": "name"}}},
			},
		},
	}
}

func TestInitializeIdempotent(t *testing.T) {
	r := testRegistry()
	doc := testDoc()
	r.Initialize(doc)
	if !doc.Hydrated() {
		t.Fatal("expected hydrated")
	}
	before := len(doc.handlers["fields"])
	r.Initialize(doc)
	if got := len(doc.handlers["fields"]); got != before {
		t.Errorf("second initialize changed handler count: %d -> %d", before, got)
	}
}

func TestSendMessageSingleHandler(t *testing.T) {
	r := testRegistry()
	doc := testDoc()
	r.Initialize(doc)

	res, err := doc.SendMessageAsync(context.Background(), "fields")
	if err != nil {
		t.Fatalf("SendMessageAsync: %v", err)
	}
	if res != "name" {
		t.Errorf("res = %v, want %q", res, "name")
	}
}

func TestSendMessageAggregatesMultiple(t *testing.T) {
	r := testRegistry()
	doc := testDoc()
	doc.Behaviours.Instances["audit"] = []Instance{{ID: "b2", Behaviour: "audit"}}
	r.Initialize(doc)

	res, err := doc.SendMessageAsync(context.Background(), "fields")
	if err != nil {
		t.Fatal(err)
	}
	list, ok := res.([]any)
	if !ok {
		t.Fatalf("res = %T, want []any", res)
	}
	if len(list) != 2 {
		t.Errorf("len = %d, want 2", len(list))
	}
}

func TestSendMessageNoHandlers(t *testing.T) {
	r := testRegistry()
	doc := testDoc()
	r.Initialize(doc)

	res, err := doc.SendMessageAsync(context.Background(), "unknown")
	if err != nil {
		t.Fatal(err)
	}
	if res != nil {
		t.Errorf("res = %v, want nil", res)
	}
}

func TestSetStateFollowsGraph(t *testing.T) {
	r := testRegistry()
	doc := testDoc()
	r.Initialize(doc)
	ctx := context.Background()

	if err := doc.SetState(ctx, "submitted"); err != nil {
		t.Fatalf("draft -> submitted: %v", err)
	}
	if doc.State() != "submitted" {
		t.Errorf("state = %q", doc.State())
	}

	// Same state again is a no-op.
	if err := doc.SetState(ctx, "submitted"); err != nil {
		t.Fatalf("idempotent transition: %v", err)
	}

	// draft is not reachable from approved.
	if err := doc.SetState(ctx, "approved"); err != nil {
		t.Fatalf("submitted -> approved: %v", err)
	}
	if err := doc.SetState(ctx, "submitted"); err == nil {
		t.Error("expected invalid transition error")
	}
	if doc.State() != "approved" {
		t.Errorf("state after rejected transition = %q", doc.State())
	}
}

func TestSetStateWithoutGraph(t *testing.T) {
	doc := &Document{ID: "d", Behaviours: &Behaviours{State: "a"}}
	NewRegistry().Initialize(doc)
	if err := doc.SetState(context.Background(), "anything"); err != nil {
		t.Fatal(err)
	}
	if doc.State() != "anything" {
		t.Errorf("state = %q", doc.State())
	}
}

func TestApplyStripsBookkeeping(t *testing.T) {
	doc := &Document{ID: "d", TrackID: "stale"}
	doc.Apply(map[string]any{"name": "Alice", "$trackId": "t1", "$created": true})
	if doc.Field("name") != "Alice" {
		t.Errorf("name = %v", doc.Field("name"))
	}
	if _, ok := doc.Fields["$trackId"]; ok {
		t.Error("$trackId copied into fields")
	}
	if doc.TrackID != "" {
		t.Error("stray TrackID not cleared")
	}
	if !doc.Created {
		t.Error("replayed $created not carried into Created")
	}
	if _, ok := doc.Fields["$created"]; ok {
		t.Error("$created copied into fields")
	}
}

func TestFieldAtCreatesPath(t *testing.T) {
	doc := &Document{ID: "d"}
	sub := doc.FieldAt("details.address", true)
	sub["city"] = "Leeds"
	again := doc.FieldAt("details.address", false)
	if again["city"] != "Leeds" {
		t.Errorf("path not shared: %v", again)
	}
	if doc.FieldAt("missing.path", false) != nil {
		t.Error("expected nil for absent path without create")
	}
}
