package api

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"ragdesk/internal/backend"
	"ragdesk/internal/chat"
)

// MCPSearcher abstracts retrieval for the MCP layer.
type MCPSearcher interface {
	Search(ctx context.Context, retriever, query string) ([]backend.Chunk, error)
}

// MCPSelection exposes the active retriever to the MCP tools.
type MCPSelection interface {
	SelectedName() (string, bool)
}

// MCPDeps holds dependencies for the MCP server.
type MCPDeps struct {
	Orchestrator Submitter
	Searcher     MCPSearcher
	Selection    MCPSelection
	Transcript   TranscriptReader // optional; if nil, chat://history is empty
}

// NewMCPServer creates an MCP server with the search and ask tools and the
// conversation history resource registered.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	s := server.NewMCPServer(
		"ragdesk",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("ragdesk: retrieval-backed document chat over a local document server."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("search_documents",
			mcp.WithDescription("Search the selected retriever and return matching document chunks with provenance."),
			mcp.WithString("query", mcp.Description("Search query"), mcp.Required()),
		),
		mcpSearchDocuments(deps),
	)

	s.AddTool(
		mcp.NewTool("ask",
			mcp.WithDescription("Ask a question against the selected retriever. Retrieves context and generates an answer with the local model."),
			mcp.WithString("query", mcp.Description("The question to answer"), mcp.Required()),
			mcp.WithString("mode", mcp.Description("Query mode: retrieve or retrieve+generate (default retrieve+generate)")),
		),
		mcpAsk(deps),
	)

	s.AddResource(
		mcp.NewResource(
			"chat://history",
			"Conversation History",
			mcp.WithResourceDescription("Persisted conversation turns as JSON"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceHistory(deps),
	)

	return s
}

func mcpSearchDocuments(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		query, err := req.RequireString("query")
		if err != nil {
			return mcpError("query is required"), nil
		}

		retriever, ok := deps.Selection.SelectedName()
		if !ok {
			return mcpError("no retriever selected"), nil
		}

		chunks, err := deps.Searcher.Search(ctx, retriever, query)
		if err != nil {
			return mcpError(fmt.Sprintf("search failed: %v", err)), nil
		}
		if len(chunks) == 0 {
			return mcpText("[]"), nil
		}

		type chunkResult struct {
			ID         int     `json:"id"`
			DocumentID int     `json:"document_id"`
			Text       string  `json:"text"`
			Confidence float64 `json:"confidence"`
			Page       int     `json:"page,omitempty"`
		}

		results := make([]chunkResult, len(chunks))
		for i, c := range chunks {
			results[i] = chunkResult{
				ID:         c.ID,
				DocumentID: c.DocumentID,
				Text:       c.Text,
				Confidence: c.Confidence,
				Page:       c.Page(),
			}
		}

		b, err := json.Marshal(results)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal results: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpAsk(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		query, err := req.RequireString("query")
		if err != nil {
			return mcpError("query is required"), nil
		}

		mode := chat.Mode(req.GetString("mode", string(chat.ModeRetrieveGenerate)))

		answer, err := deps.Orchestrator.Submit(ctx, query, mode)
		if err != nil {
			return mcpError(fmt.Sprintf("ask failed: %v", err)), nil
		}
		return mcpText(answer.Text()), nil
	}
}

func mcpResourceHistory(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		type turnSummary struct {
			ID        string `json:"id"`
			Kind      string `json:"kind"`
			Content   string `json:"content"`
			CreatedAt string `json:"created_at"`
		}

		var summaries []turnSummary
		if deps.Transcript != nil {
			records, err := deps.Transcript.ListTurns(50)
			if err != nil {
				return nil, fmt.Errorf("listing history: %w", err)
			}
			for _, rec := range records {
				content := rec.Content
				if utf8.RuneCountInString(content) > 500 {
					runes := []rune(content)
					content = string(runes[:500]) + "..."
				}
				summaries = append(summaries, turnSummary{
					ID:        rec.ID,
					Kind:      rec.Kind,
					Content:   content,
					CreatedAt: rec.CreatedAt.Format(time.RFC3339),
				})
			}
		}
		if summaries == nil {
			summaries = []turnSummary{}
		}

		b, err := json.Marshal(summaries)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal history: %w", err)
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
