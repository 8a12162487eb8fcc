// Package syncapi is the client for the remote sync endpoint: draft context
// storage and delivery of committed change batches. The wire contract is
// JSON over HTTP; everything beyond "send a batch, get an acknowledgement"
// belongs to the server.
package syncapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/Alcumus/awe-library/internal/apperr"
	"github.com/Alcumus/awe-library/internal/changelog"
	"github.com/Alcumus/awe-library/internal/document"
)

// Endpoint is the narrow interface the library consumes. Implementations
// other than Client exist only in tests.
type Endpoint interface {
	GetContext(ctx context.Context, id, actionID string) (map[string]any, error)
	SetContext(ctx context.Context, id, actionID string, context map[string]any) (string, error)
	SendChanges(ctx context.Context, id string, records []changelog.Record) error
}

// Client talks to the remote sync endpoint over HTTP.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

// NewClient creates a client for the endpoint at baseURL. token, when
// non-empty, is sent as a bearer token.
func NewClient(baseURL, token string) *Client {
	return &Client{
		baseURL: baseURL,
		token:   token,
		http:    &http.Client{Timeout: 30 * time.Second},
	}
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return fmt.Errorf("syncapi: encode request: %w", err)
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, &buf)
	if err != nil {
		return fmt.Errorf("syncapi: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("syncapi: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return apperr.ErrDocumentNotFound
	}
	if resp.StatusCode >= 400 {
		return fmt.Errorf("syncapi: %s %s: status %d: %w", method, path, resp.StatusCode, apperr.ErrSendFailed)
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("syncapi: decode response: %w", err)
		}
	}
	return nil
}

// GetContext fetches the last stored draft context for an editing session.
// An absent context decodes as an empty map.
func (c *Client) GetContext(ctx context.Context, id, actionID string) (map[string]any, error) {
	var out map[string]any
	path := fmt.Sprintf("/contexts/%s/%s", url.PathEscape(id), url.PathEscape(actionID))
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	if out == nil {
		out = map[string]any{}
	}
	return out, nil
}

// SetContext stores a draft context and returns the server's reference id.
func (c *Client) SetContext(ctx context.Context, id, actionID string, draft map[string]any) (string, error) {
	var out struct {
		RefID string `json:"refId"`
	}
	path := fmt.Sprintf("/contexts/%s/%s", url.PathEscape(id), url.PathEscape(actionID))
	if err := c.do(ctx, http.MethodPut, path, draft, &out); err != nil {
		return "", err
	}
	return out.RefID, nil
}

// SendChanges delivers a document's batch of committed change records.
func (c *Client) SendChanges(ctx context.Context, id string, records []changelog.Record) error {
	path := fmt.Sprintf("/changes/%s", url.PathEscape(id))
	return c.do(ctx, http.MethodPost, path, records, nil)
}

// Fetch retrieves a document from the remote store.
func (c *Client) Fetch(ctx context.Context, id string) (*document.Document, error) {
	var doc document.Document
	path := fmt.Sprintf("/documents/%s", url.PathEscape(id))
	if err := c.do(ctx, http.MethodGet, path, nil, &doc); err != nil {
		return nil, err
	}
	return &doc, nil
}

// Store pushes a document to the remote store.
func (c *Client) Store(ctx context.Context, doc *document.Document) error {
	path := fmt.Sprintf("/documents/%s", url.PathEscape(doc.ID))
	return c.do(ctx, http.MethodPut, path, doc, nil)
}
