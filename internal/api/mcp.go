package api

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/DasithEdirisinghe/contextual-assistant/internal/pipeline"
	"github.com/DasithEdirisinghe/contextual-assistant/internal/storage"
	"github.com/DasithEdirisinghe/contextual-assistant/internal/thinking"
	"github.com/DasithEdirisinghe/contextual-assistant/internal/usercontext"
)

// MCPDeps holds dependencies for the MCP server.
type MCPDeps struct {
	Store        *storage.Store
	Orchestrator *pipeline.Orchestrator
	Context      *usercontext.Manager
	Thinker      *thinking.Thinker
}

// NewMCPServer creates an MCP server exposing the assistant's tools and resources.
func NewMCPServer(deps MCPDeps, version string) *server.MCPServer {
	s := server.NewMCPServer(
		"contextual-assistant",
		version,
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("Personal notes assistant: ingest free-form notes, browse envelopes and cards, read the user context and run suggestion passes."),
		server.WithRecovery(),
	)

	// Tools
	s.AddTool(
		mcp.NewTool("ingest_note",
			mcp.WithDescription("Ingest a free-form note: extract a card, route it to an envelope and refresh the user context."),
			mcp.WithString("text", mcp.Description("The note text"), mcp.Required()),
		),
		mcpIngestNote(deps),
	)

	s.AddTool(
		mcp.NewTool("list_envelopes",
			mcp.WithDescription("List envelopes, most recently updated first."),
		),
		mcpListEnvelopes(deps),
	)

	s.AddTool(
		mcp.NewTool("list_cards",
			mcp.WithDescription("List recent cards, optionally restricted to one envelope."),
			mcp.WithString("envelope_id", mcp.Description("Only cards in this envelope")),
			mcp.WithNumber("limit", mcp.Description("Maximum number of cards (default 20)")),
		),
		mcpListCards(deps),
	)

	s.AddTool(
		mcp.NewTool("get_context",
			mcp.WithDescription("Return the current user context snapshot."),
		),
		mcpGetContext(deps),
	)

	s.AddTool(
		mcp.NewTool("run_thinking",
			mcp.WithDescription("Run a thinking pass and return the new suggestions."),
		),
		mcpRunThinking(deps),
	)

	s.AddTool(
		mcp.NewTool("list_suggestions",
			mcp.WithDescription("List suggestions by status."),
			mcp.WithString("status", mcp.Description("open, accepted, dismissed or all (default open)")),
		),
		mcpListSuggestions(deps),
	)

	// Resources
	s.AddResource(
		mcp.NewResource(
			"assistant://context",
			"User Context",
			mcp.WithResourceDescription("Current user context snapshot as JSON"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceContext(deps),
	)

	s.AddResource(
		mcp.NewResource(
			"assistant://suggestions/report",
			"Suggestions Report",
			mcp.WithResourceDescription("Open suggestions as Markdown"),
			mcp.WithMIMEType("text/markdown"),
		),
		mcpResourceReport(deps),
	)

	return s
}

func mcpIngestNote(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		text, err := req.RequireString("text")
		if err != nil {
			return mcpError("text is required"), nil
		}
		res, err := deps.Orchestrator.IngestNote(ctx, text)
		if err != nil {
			return mcpError(fmt.Sprintf("ingestion failed: %v", err)), nil
		}
		return mcpJSON(res)
	}
}

func mcpListEnvelopes(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		envs, err := deps.Store.ListEnvelopes(ctx)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to list envelopes: %v", err)), nil
		}
		if envs == nil {
			envs = []storage.Envelope{}
		}
		return mcpJSON(envs)
	}
}

func mcpListCards(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		limit := req.GetInt("limit", 20)
		if limit <= 0 {
			limit = 20
		}
		if limit > 200 {
			limit = 200
		}

		var (
			cards []storage.Card
			err   error
		)
		if envID := req.GetString("envelope_id", ""); envID != "" {
			cards, err = deps.Store.ListCardsByEnvelope(ctx, envID)
			if len(cards) > limit {
				cards = cards[:limit]
			}
		} else {
			cards, err = deps.Store.ListCards(ctx, limit)
		}
		if err != nil {
			return mcpError(fmt.Sprintf("failed to list cards: %v", err)), nil
		}
		if cards == nil {
			cards = []storage.Card{}
		}
		return mcpJSON(cards)
	}
}

func mcpGetContext(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		snap, err := deps.Context.Current(ctx, deps.Store)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to load context: %v", err)), nil
		}
		return mcpJSON(snap)
	}
}

func mcpRunThinking(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		out, err := deps.Thinker.Run(ctx)
		if err != nil {
			return mcpError(fmt.Sprintf("thinking run failed: %v", err)), nil
		}
		return mcpJSON(out)
	}
}

func mcpListSuggestions(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		status := req.GetString("status", thinking.StatusOpen)
		if status == "all" {
			status = ""
		}
		sugs, err := deps.Store.ListSuggestions(ctx, status, 50)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to list suggestions: %v", err)), nil
		}
		if sugs == nil {
			sugs = []storage.Suggestion{}
		}
		return mcpJSON(sugs)
	}
}

func mcpResourceContext(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		snap, err := deps.Context.Current(ctx, deps.Store)
		if err != nil {
			return nil, fmt.Errorf("failed to load context: %w", err)
		}

		b, err := json.Marshal(snap)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal context: %w", err)
		}

		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      req.Params.URI,
				MIMEType: "application/json",
				Text:     string(b),
			},
		}, nil
	}
}

func mcpResourceReport(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		sugs, err := deps.Store.ListSuggestions(ctx, thinking.StatusOpen, 50)
		if err != nil {
			return nil, fmt.Errorf("failed to list suggestions: %w", err)
		}

		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      req.Params.URI,
				MIMEType: "text/markdown",
				Text:     thinking.Markdown(sugs),
			},
		}, nil
	}
}

func mcpJSON(v any) (*mcp.CallToolResult, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return mcpError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcpText(string(b)), nil
}

func mcpText(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: text},
		},
	}
}

func mcpError(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}
