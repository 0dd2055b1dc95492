// Package mcpserver exposes the transcript history to MCP clients over stdio.
package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/fmueller/voxpush/internal/history"
)

// Store is the read side of the history database.
type Store interface {
	Recent(ctx context.Context, limit int) ([]history.Entry, error)
	Search(ctx context.Context, query string, limit int) ([]history.Entry, error)
	Get(ctx context.Context, id string) (history.Entry, error)
}

type Bridge struct {
	store  Store
	logger *zap.Logger
}

func New(store Store, logger *zap.Logger) *Bridge {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Bridge{store: store, logger: logger}
}

// Server builds the MCP server with the history tools registered.
func (b *Bridge) Server(version string) *server.MCPServer {
	s := server.NewMCPServer("voxpush", version, server.WithToolCapabilities(false))

	s.AddTool(mcp.NewTool("recent_transcripts",
		mcp.WithDescription("List the most recent dictation transcripts, newest first."),
		mcp.WithNumber("limit", mcp.Description("Maximum number of transcripts to return (default 20).")),
	), b.recent)

	s.AddTool(mcp.NewTool("search_transcripts",
		mcp.WithDescription("Find dictation transcripts containing the given text."),
		mcp.WithString("query", mcp.Required(), mcp.Description("Text to search for, case-insensitive.")),
		mcp.WithNumber("limit", mcp.Description("Maximum number of transcripts to return (default 20).")),
	), b.search)

	s.AddTool(mcp.NewTool("get_transcript",
		mcp.WithDescription("Fetch one transcript by its timestamp ID, e.g. 20260314_150926."),
		mcp.WithString("id", mcp.Required(), mcp.Description("Transcript ID.")),
	), b.get)

	return s
}

// ServeStdio blocks serving MCP on stdin/stdout.
func (b *Bridge) ServeStdio(version string) error {
	return server.ServeStdio(b.Server(version))
}

func (b *Bridge) recent(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	entries, err := b.store.Recent(ctx, req.GetInt("limit", history.DefaultLimit))
	if err != nil {
		return b.fail("recent_transcripts", err), nil
	}
	return jsonResult(entries)
}

func (b *Bridge) search(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	query, err := req.RequireString("query")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	entries, err := b.store.Search(ctx, query, req.GetInt("limit", history.DefaultLimit))
	if err != nil {
		return b.fail("search_transcripts", err), nil
	}
	return jsonResult(entries)
}

func (b *Bridge) get(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	entry, err := b.store.Get(ctx, id)
	if errors.Is(err, history.ErrNotFound) {
		return mcp.NewToolResultError(fmt.Sprintf("no transcript with id %q", id)), nil
	}
	if err != nil {
		return b.fail("get_transcript", err), nil
	}
	return jsonResult(entry)
}

func (b *Bridge) fail(tool string, err error) *mcp.CallToolResult {
	b.logger.Warn("mcp tool failed", zap.String("tool", tool), zap.Error(err))
	return mcp.NewToolResultError("history unavailable: " + err.Error())
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	raw, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode result: %w", err)
	}
	return mcp.NewToolResultText(string(raw)), nil
}
