package api

import (
	"github.com/Alcumus/awe-library/internal/changelog"
	"github.com/Alcumus/awe-library/internal/document"
)

// CommitRequest is the request body for committing a change to a document.
type CommitRequest struct {
	ActionID   string         `json:"actionId" validate:"required"`
	Fields     map[string]any `json:"fields"`
	ToState    string         `json:"toState,omitempty"`
	Command    string         `json:"command,omitempty"`
	Controller map[string]any `json:"controller,omitempty"`
}

// CommitResponse returns the track id assigned to a committed change.
type CommitResponse struct {
	TrackID string `json:"trackId" validate:"required"`
}

// CreateDocumentRequest is the request body for creating a document of a
// type.
type CreateDocumentRequest struct {
	TypeID       string         `json:"typeId" validate:"required"`
	ID           string         `json:"id,omitempty"`
	ParentID     string         `json:"parentId,omitempty"`
	Context      map[string]any `json:"context,omitempty"`
	Props        map[string]any `json:"props,omitempty"`
	AlwaysCreate bool           `json:"alwaysCreate,omitempty"`
}

// ResetRequest names the draft contexts cleared along with a document's
// pending changes.
type ResetRequest struct {
	ActionIDs []string `json:"actionIds,omitempty"`
}

// DocumentListResponse wraps document listings.
type DocumentListResponse struct {
	Documents []*document.Document `json:"documents" validate:"required"`
	Total     int                  `json:"total" validate:"required"`
}

// ChangesResponse wraps a document's pending change records.
type ChangesResponse struct {
	Changes []changelog.Record `json:"changes" validate:"required"`
}
