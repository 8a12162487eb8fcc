// Package mcpserver provides an MCP (Model Context Protocol) server that
// exposes the document tools for LLM integration via stdio transport.
package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/Alcumus/awe-library/internal/api"
)

// Server wraps the MCP server with document tools.
type Server struct {
	mcp *server.MCPServer
	svc *api.Service
}

// New creates a new MCP server with all document tools registered.
func New(svc *api.Service) *Server {
	s := &Server{svc: svc}

	s.mcp = server.NewMCPServer(
		"awe-library",
		"1.0.0",
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(false, false),
	)

	s.mcp.AddTool(mcp.NewTool("get_document",
		mcp.WithDescription("Read a document with its pending local changes applied."),
		mcp.WithString("id", mcp.Required(), mcp.Description("Document id")),
	), s.getDocument)

	s.mcp.AddTool(mcp.NewTool("list_documents",
		mcp.WithDescription("List cached documents, optionally filtered by a text query over their fields."),
		mcp.WithString("db", mcp.Description("Database classification (empty for all)")),
		mcp.WithString("table", mcp.Description("Table classification (empty for all)")),
		mcp.WithString("query", mcp.Description("Optional text filter")),
	), s.listDocuments)

	s.mcp.AddTool(mcp.NewTool("commit_change",
		mcp.WithDescription("Commit field values to a document as one durable change record. "+
			"The change is queued for delivery and survives restarts while offline. "+
			"Read the commit contract first via the get_commit_contract tool."),
		mcp.WithString("id", mcp.Required(), mcp.Description("Document id")),
		mcp.WithString("actionId", mcp.Required(), mcp.Description("Editing action the change belongs to")),
		mcp.WithString("fields", mcp.Required(), mcp.Description("JSON object of field values to set")),
		mcp.WithString("toState", mcp.Description("Target behaviour state (empty keeps the current state)")),
	), s.commitChange)

	s.mcp.AddTool(mcp.NewTool("pending_changes",
		mcp.WithDescription("List the not-yet-acknowledged change records for a document."),
		mcp.WithString("id", mcp.Required(), mcp.Description("Document id")),
	), s.pendingChanges)

	s.mcp.AddTool(mcp.NewTool("get_commit_contract",
		mcp.WithDescription("Returns the canonical commit payload contract. "+
			"Call this before committing changes to ensure correct structure."),
	), s.getCommitContract)

	// Resource: commit contract.
	s.mcp.AddResource(
		mcp.NewResource("awe://commit-contract", "Commit Contract",
			mcp.WithResourceDescription("Canonical change commit payload that all commits must follow."),
			mcp.WithMIMEType("text/markdown"),
		),
		s.readCommitContractResource,
	)

	return s
}

// ServeStdio starts the MCP server on stdin/stdout.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcp)
}

// MCPServer returns the underlying server for testing.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcp
}

func (s *Server) getDocument(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	doc, err := s.svc.GetDocument(ctx, id)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("not found: %s", id)), nil
	}
	out, _ := json.MarshalIndent(doc, "", "  ")
	return mcp.NewToolResultText(string(out)), nil
}

func (s *Server) listDocuments(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	dbName := ""
	if v, err := req.RequireString("db"); err == nil {
		dbName = v
	}
	table := ""
	if v, err := req.RequireString("table"); err == nil {
		table = v
	}
	query := ""
	if v, err := req.RequireString("query"); err == nil {
		query = v
	}

	docs, err := s.svc.ListDocuments(ctx, dbName, table, query)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	out, _ := json.MarshalIndent(docs, "", "  ")
	return mcp.NewToolResultText(string(out)), nil
}

func (s *Server) commitChange(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	actionID, err := req.RequireString("actionId")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	rawFields, err := req.RequireString("fields")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	var fields map[string]any
	if err := json.Unmarshal([]byte(rawFields), &fields); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("fields must be a JSON object: %v", err)), nil
	}
	toState := ""
	if v, err := req.RequireString("toState"); err == nil {
		toState = v
	}

	trackID, err := s.svc.Commit(ctx, id, actionID, fields, toState, "", nil)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("committed: %s", trackID)), nil
}

func (s *Server) pendingChanges(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	changes, err := s.svc.PendingChanges(ctx, id)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if len(changes) == 0 {
		return mcp.NewToolResultText("no pending changes"), nil
	}
	out, _ := json.MarshalIndent(changes, "", "  ")
	return mcp.NewToolResultText(string(out)), nil
}

func (s *Server) getCommitContract(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultText(CommitContract), nil
}

func (s *Server) readCommitContractResource(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      "awe://commit-contract",
			MIMEType: "text/markdown",
			Text:     CommitContract,
		},
	}, nil
}
