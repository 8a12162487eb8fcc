package syncapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/Alcumus/awe-library/internal/apperr"
	"github.com/Alcumus/awe-library/internal/changelog"
	"github.com/Alcumus/awe-library/internal/document"
)

func TestGetContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			t.Errorf("method = %s, want GET", r.Method)
		}
		if r.URL.Path != "/contexts/doc1/edit" {
			t.Errorf("path = %s", r.URL.Path)
		}
		json.NewEncoder(w).Encode(map[string]any{"name": "Alice"})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "")
	got, err := c.GetContext(context.Background(), "doc1", "edit")
	if err != nil {
		t.Fatalf("GetContext: %v", err)
	}
	if got["name"] != "Alice" {
		t.Errorf("context = %v", got)
	}
}

func TestGetContextEmptyBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("null"))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "")
	got, err := c.GetContext(context.Background(), "doc1", "edit")
	if err != nil {
		t.Fatalf("GetContext: %v", err)
	}
	if got == nil {
		t.Fatal("want empty map, got nil")
	}
	if len(got) != 0 {
		t.Errorf("context = %v, want empty", got)
	}
}

func TestSetContextReturnsRefID(t *testing.T) {
	var received map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPut {
			t.Errorf("method = %s, want PUT", r.Method)
		}
		json.NewDecoder(r.Body).Decode(&received)
		json.NewEncoder(w).Encode(map[string]string{"refId": "ref-42"})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "")
	refID, err := c.SetContext(context.Background(), "doc1", "edit", map[string]any{"name": "Bob"})
	if err != nil {
		t.Fatalf("SetContext: %v", err)
	}
	if refID != "ref-42" {
		t.Errorf("refID = %q", refID)
	}
	if received["name"] != "Bob" {
		t.Errorf("server received %v", received)
	}
}

func TestSendChanges(t *testing.T) {
	var got []changelog.Record
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/changes/doc1" {
			t.Errorf("path = %s", r.URL.Path)
		}
		json.NewDecoder(r.Body).Decode(&got)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "")
	records := []changelog.Record{
		{TrackID: "t1", ActionID: "edit", ID: "doc1", Command: "setData",
			Instance: map[string]any{"name": "Alice"}},
	}
	if err := c.SendChanges(context.Background(), "doc1", records); err != nil {
		t.Fatalf("SendChanges: %v", err)
	}
	if len(got) != 1 || got[0].TrackID != "t1" {
		t.Errorf("server received %+v", got)
	}
}

func TestSendChangesServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "")
	err := c.SendChanges(context.Background(), "doc1", nil)
	if !errors.Is(err, apperr.ErrSendFailed) {
		t.Errorf("err = %v, want ErrSendFailed", err)
	}
}

func TestFetchNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "")
	_, err := c.Fetch(context.Background(), "missing")
	if !errors.Is(err, apperr.ErrDocumentNotFound) {
		t.Errorf("err = %v, want ErrDocumentNotFound", err)
	}
}

func TestFetchAndStoreRoundTrip(t *testing.T) {
	docs := map[string]*document.Document{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.URL.Path[len("/documents/"):]
		switch r.Method {
		case http.MethodPut:
			var doc document.Document
			json.NewDecoder(r.Body).Decode(&doc)
			docs[id] = &doc
		case http.MethodGet:
			doc, ok := docs[id]
			if !ok {
				http.NotFound(w, r)
				return
			}
			json.NewEncoder(w).Encode(doc)
		}
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "")
	in := &document.Document{ID: "doc1", Version: "v2", Fields: map[string]any{"name": "Alice"}}
	if err := c.Store(context.Background(), in); err != nil {
		t.Fatalf("Store: %v", err)
	}
	out, err := c.Fetch(context.Background(), "doc1")
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if out.Version != "v2" || out.Fields["name"] != "Alice" {
		t.Errorf("fetched %+v", out)
	}
}

func TestBearerToken(t *testing.T) {
	var auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		w.Write([]byte("{}"))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "secret-token")
	if _, err := c.GetContext(context.Background(), "doc1", "edit"); err != nil {
		t.Fatalf("GetContext: %v", err)
	}
	if auth != "Bearer secret-token" {
		t.Errorf("Authorization = %q", auth)
	}
}
