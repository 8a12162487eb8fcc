package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/Alcumus/awe-library/internal/apperr"
)

// Handler holds API route handlers.
type Handler struct {
	svc *Service
}

// NewHandler creates a new Handler.
func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// ListDocuments handles GET /documents.
func (h *Handler) ListDocuments(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	docs, err := h.svc.ListDocuments(r.Context(), q.Get("db"), q.Get("table"), q.Get("q"))
	if err != nil {
		if errors.Is(err, apperr.ErrCancelled) {
			// Client went away mid-scan; nothing to answer.
			return
		}
		slog.Error("list documents failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, DocumentListResponse{Documents: docs, Total: len(docs)})
}

// GetDocument handles GET /documents/{id}: the cached document with its
// pending local changes replayed on top.
func (h *Handler) GetDocument(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	doc, err := h.svc.GetDocument(r.Context(), id)
	if err != nil {
		if errors.Is(err, apperr.ErrDocumentNotFound) {
			writeError(w, http.StatusNotFound, "not found")
		} else {
			slog.Error("get document failed", slog.String("document", id), slog.String("error", err.Error()))
			writeError(w, http.StatusInternalServerError, "internal error")
		}
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

// CreateDocument handles POST /documents.
func (h *Handler) CreateDocument(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 10<<20)
	var req CreateDocumentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.TypeID == "" {
		writeError(w, http.StatusBadRequest, "typeId is required")
		return
	}
	doc, err := h.svc.CreateDocument(r.Context(), req.TypeID, req.ID, req.ParentID,
		req.Context, req.Props, req.AlwaysCreate)
	if err != nil {
		if errors.Is(err, apperr.ErrTypeNotFound) {
			writeError(w, http.StatusNotFound, "type not found")
		} else {
			slog.Error("create document failed", slog.String("type", req.TypeID), slog.String("error", err.Error()))
			writeError(w, http.StatusInternalServerError, "internal error")
		}
		return
	}
	writeJSON(w, http.StatusCreated, doc)
}

// Commit handles POST /documents/{id}/commit.
func (h *Handler) Commit(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 10<<20)
	id := chi.URLParam(r, "id")
	var req CommitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.ActionID == "" {
		writeError(w, http.StatusBadRequest, "actionId is required")
		return
	}
	trackID, err := h.svc.Commit(r.Context(), id, req.ActionID, req.Fields,
		req.ToState, req.Command, req.Controller)
	if err != nil {
		if errors.Is(err, apperr.ErrDocumentNotFound) {
			writeError(w, http.StatusNotFound, "not found")
			return
		}
		slog.Error("commit failed",
			slog.String("document", id),
			slog.String("action", req.ActionID),
			slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, CommitResponse{TrackID: trackID})
}

// PendingChanges handles GET /documents/{id}/changes.
func (h *Handler) PendingChanges(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	changes, err := h.svc.PendingChanges(r.Context(), id)
	if err != nil {
		slog.Error("pending changes failed", slog.String("document", id), slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, ChangesResponse{Changes: changes})
}

// ResetChanges handles DELETE /documents/{id}/changes.
func (h *Handler) ResetChanges(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req ResetRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
	}
	if err := h.svc.ResetChanges(r.Context(), id, req.ActionIDs...); err != nil {
		slog.Error("reset changes failed", slog.String("document", id), slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// QueuedChanges handles GET /documents/{id}/queue.
func (h *Handler) QueuedChanges(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	changes, err := h.svc.QueuedChanges(r.Context(), id)
	if err != nil {
		slog.Error("queued changes failed", slog.String("document", id), slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, ChangesResponse{Changes: changes})
}
