package api

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/sorakabot/soraka/internal/conversation"
	"github.com/sorakabot/soraka/internal/dataset"
	"github.com/sorakabot/soraka/internal/ingest"
	"github.com/sorakabot/soraka/internal/pipeline"
	"github.com/sorakabot/soraka/internal/storage"
)

const sessionURIPrefix = "session://"

// MCPDeps holds dependencies for the MCP server.
type MCPDeps struct {
	Pipeline Answerer
	KB       KnowledgeBase
	Sessions conversation.Store
	Store    *storage.Store // optional; enables add_medical_document and interactions://recent
}

// NewMCPServer creates an MCP server with the SorakaBot tools and resources registered.
func NewMCPServer(deps MCPDeps, version string) *server.MCPServer {
	s := server.NewMCPServer(
		"soraka",
		version,
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("SorakaBot: medical questions answered from a curated Q&A knowledge base, with a general fallback."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("ask_medical_question",
			mcp.WithDescription("Ask SorakaBot a medical question. Reuse session_id to keep conversation history."),
			mcp.WithString("question", mcp.Description("The question to answer"), mcp.Required()),
			mcp.WithString("session_id", mcp.Description("Session id returned by a previous call")),
			mcp.WithString("language", mcp.Description("Answer language (default Francais)")),
			mcp.WithNumber("temperature", mcp.Description("Sampling temperature in [0,1] (default 0.3)")),
		),
		mcpAsk(deps),
	)

	s.AddTool(
		mcp.NewTool("search_knowledge_base",
			mcp.WithDescription("Return the nearest medical Q&A entries and their cosine distance (lower is closer)."),
			mcp.WithString("query", mcp.Description("Search query"), mcp.Required()),
			mcp.WithNumber("limit", mcp.Description("Maximum number of results (default 3)")),
		),
		mcpSearch(deps),
	)

	if deps.Store != nil {
		s.AddTool(
			mcp.NewTool("add_medical_document",
				mcp.WithDescription("Queue a question/answer pair for ingestion into the knowledge base."),
				mcp.WithString("question", mcp.Description("Reference question"), mcp.Required()),
				mcp.WithString("answer", mcp.Description("Reference answer"), mcp.Required()),
				mcp.WithString("source", mcp.Description("Publisher of the answer"), mcp.Required()),
				mcp.WithString("focus_area", mcp.Description("Medical domain"), mcp.Required()),
			),
			mcpAddDocument(deps),
		)

		s.AddResource(
			mcp.NewResource(
				"interactions://recent",
				"Recent Interactions",
				mcp.WithResourceDescription("Last 10 answered questions"),
				mcp.WithMIMEType("application/json"),
			),
			mcpResourceRecent(deps),
		)
	}

	s.AddResourceTemplate(
		mcp.NewResourceTemplate(
			sessionURIPrefix+"{id}",
			"Session History",
			mcp.WithTemplateDescription("Turns of a conversation session, oldest first"),
			mcp.WithTemplateMIMEType("application/json"),
		),
		mcpResourceSession(deps),
	)

	return s
}

func mcpAsk(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		question, err := req.RequireString("question")
		if err != nil || strings.TrimSpace(question) == "" {
			return mcpError("question is required"), nil
		}
		temperature := req.GetFloat("temperature", pipeline.DefaultTemperature)
		if temperature < 0 || temperature > 1 {
			return mcpError("temperature must be between 0 and 1"), nil
		}
		language := strings.TrimSpace(req.GetString("language", ""))
		if language == "" {
			language = pipeline.DefaultLanguage
		}

		resp := deps.Pipeline.Handle(ctx, pipeline.Request{
			Question:    question,
			Temperature: temperature,
			Language:    language,
			SessionID:   req.GetString("session_id", ""),
		})

		b, err := json.Marshal(resp)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal response: %v", err)), nil
		}
		if resp.Error != "" {
			return &mcp.CallToolResult{
				Content: []mcp.Content{mcp.TextContent{Type: "text", Text: string(b)}},
				IsError: true,
			}, nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpSearch(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		query, err := req.RequireString("query")
		if err != nil {
			return mcpError("query is required"), nil
		}

		limit := req.GetInt("limit", 3)
		if limit <= 0 {
			limit = 3
		}
		if limit > 20 {
			limit = 20
		}

		results, err := deps.KB.Search(ctx, query, limit)
		if err != nil {
			return mcpError(fmt.Sprintf("search failed: %v", err)), nil
		}
		if len(results) == 0 {
			return mcpText("[]"), nil
		}

		b, err := json.Marshal(results)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal results: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpAddDocument(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		entry := DocumentEntry{
			Question:  req.GetString("question", ""),
			Answer:    req.GetString("answer", ""),
			Source:    req.GetString("source", ""),
			FocusArea: req.GetString("focus_area", ""),
		}
		if err := validateStruct(entry); err != nil {
			return mcpError(err.Error()), nil
		}

		job, err := ingest.NewJob([]dataset.Row{{
			Question:  dataset.NormalizeQuestion(entry.Question),
			Answer:    entry.Answer,
			Source:    entry.Source,
			FocusArea: entry.FocusArea,
		}})
		if err != nil {
			return mcpError(fmt.Sprintf("failed to build job: %v", err)), nil
		}
		if err := deps.Store.EnqueueJob(ctx, job); err != nil {
			return mcpError(fmt.Sprintf("failed to queue document: %v", err)), nil
		}
		return mcpText(fmt.Sprintf("Queued ingest job %s", job.ID)), nil
	}
}

func mcpResourceSession(deps MCPDeps) server.ResourceTemplateHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		id := strings.TrimPrefix(req.Params.URI, sessionURIPrefix)
		if !conversation.ValidSessionID(id) {
			return nil, fmt.Errorf("invalid session id %q", id)
		}
		turns, err := deps.Sessions.Recent(ctx, id, 0)
		if err != nil {
			return nil, fmt.Errorf("failed to load session: %w", err)
		}

		b, err := json.Marshal(sessionView{SessionID: id, Turns: turns})
		if err != nil {
			return nil, fmt.Errorf("failed to marshal session: %w", err)
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

func mcpResourceRecent(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		interactions, err := deps.Store.GetRecentInteractions(ctx, "", 10)
		if err != nil {
			return nil, fmt.Errorf("failed to get recent interactions: %w", err)
		}

		type interactionSummary struct {
			ID        string `json:"id"`
			CreatedAt string `json:"created_at"`
			SessionID string `json:"session_id"`
			Question  string `json:"question"`
			Mode      string `json:"mode"`
		}

		summaries := make([]interactionSummary, len(interactions))
		for i, ix := range interactions {
			question := ix.Question
			if utf8.RuneCountInString(question) > 200 {
				runes := []rune(question)
				question = string(runes[:200]) + "..."
			}
			summaries[i] = interactionSummary{
				ID:        ix.ID,
				CreatedAt: ix.CreatedAt.Format(time.RFC3339),
				SessionID: ix.SessionID,
				Question:  question,
				Mode:      ix.Mode,
			}
		}

		b, err := json.Marshal(summaries)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal interactions: %w", err)
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
