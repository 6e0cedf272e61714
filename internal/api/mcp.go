package api

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/siteproof/siteproof/internal/retrieval"
	"github.com/siteproof/siteproof/internal/storage"
)

// MCPRetriever abstracts hybrid chunk search for the MCP layer.
type MCPRetriever interface {
	Retrieve(ctx context.Context, runID, query string) ([]retrieval.Result, error)
}

// MCPDeps holds dependencies for the MCP server.
type MCPDeps struct {
	Store     *storage.Store
	Runner    Runner
	Retriever MCPRetriever
}

// NewMCPServer creates an MCP server with all siteproof tools registered.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	s := server.NewMCPServer(
		"siteproof",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("siteproof — measures how reliably a website can be cited as a source, and estimates the impact of content fixes."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("analyze_site",
			mcp.WithDescription("Run the full analysis pipeline for an onboarded site: crawl, index, generate questions and score. Returns the run summary."),
			mcp.WithString("site_id", mcp.Description("Site ID"), mcp.Required()),
		),
		mcpAnalyzeSite(deps),
	)

	s.AddTool(
		mcp.NewTool("get_report",
			mcp.WithDescription("Return the full sourceability report for a run: per-band scores, graded questions, top blockers, limitations and divergence."),
			mcp.WithString("run_id", mcp.Description("Run ID"), mcp.Required()),
		),
		mcpGetReport(deps),
	)

	s.AddTool(
		mcp.NewTool("search_chunks",
			mcp.WithDescription("Hybrid lexical+vector search over a run's indexed chunks."),
			mcp.WithString("run_id", mcp.Description("Run ID"), mcp.Required()),
			mcp.WithString("query", mcp.Description("Search query"), mcp.Required()),
			mcp.WithNumber("limit", mcp.Description("Maximum number of results (default 5)")),
		),
		mcpSearchChunks(deps),
	)

	s.AddTool(
		mcp.NewTool("list_blockers",
			mcp.WithDescription("List the top failure reasons holding a run's score down, with the affected questions."),
			mcp.WithString("run_id", mcp.Description("Run ID"), mcp.Required()),
		),
		mcpListBlockers(deps),
	)

	s.AddTool(
		mcp.NewTool("get_questions",
			mcp.WithDescription("Return the latest question-set version for a run."),
			mcp.WithString("run_id", mcp.Description("Run ID"), mcp.Required()),
		),
		mcpGetQuestions(deps),
	)

	s.AddTool(
		mcp.NewTool("estimate_fix",
			mcp.WithDescription("Estimate the score lift of a stored fix. Tier C is an instant table lookup, tier B re-scores affected questions against a patched index, tier A runs a full re-crawl."),
			mcp.WithString("fix_id", mcp.Description("Fix ID"), mcp.Required()),
			mcp.WithString("tier", mcp.Description("Estimation tier: A, B or C (default C)")),
		),
		mcpEstimateFix(deps),
	)

	s.AddResource(
		mcp.NewResource(
			"siteproof://sites",
			"Onboarded Sites",
			mcp.WithResourceDescription("All onboarded sites as JSON"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceSites(deps),
	)

	return s
}

func mcpAnalyzeSite(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		siteID, err := req.RequireString("site_id")
		if err != nil {
			return mcpError("site_id is required"), nil
		}

		summary, err := deps.Runner.RunAnalysis(ctx, siteID, nil)
		if err != nil {
			return mcpError(fmt.Sprintf("analysis failed: %v", err)), nil
		}

		b, err := json.Marshal(summary)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal summary: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpGetReport(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		runID, err := req.RequireString("run_id")
		if err != nil {
			return mcpError("run_id is required"), nil
		}

		report, err := deps.Runner.Report(ctx, runID)
		if err != nil {
			return mcpError(fmt.Sprintf("report failed: %v", err)), nil
		}

		b, err := json.Marshal(report)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal report: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpSearchChunks(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		runID, err := req.RequireString("run_id")
		if err != nil {
			return mcpError("run_id is required"), nil
		}
		query, err := req.RequireString("query")
		if err != nil {
			return mcpError("query is required"), nil
		}

		limit := req.GetInt("limit", 5)
		if limit <= 0 {
			limit = 5
		}
		if limit > 50 {
			limit = 50
		}

		results, err := deps.Retriever.Retrieve(ctx, runID, query)
		if err != nil {
			return mcpError(fmt.Sprintf("search failed: %v", err)), nil
		}
		if len(results) > limit {
			results = results[:limit]
		}
		if len(results) == 0 {
			return mcpText("[]"), nil
		}

		type chunkResult struct {
			ID          string  `json:"id"`
			PageID      string  `json:"page_id"`
			HeadingPath string  `json:"heading_path,omitempty"`
			Text        string  `json:"text"`
			Score       float64 `json:"score"`
		}
		out := make([]chunkResult, len(results))
		for i, res := range results {
			out[i] = chunkResult{
				ID:          res.Chunk.ID,
				PageID:      res.Chunk.PageID,
				HeadingPath: res.Chunk.HeadingPath,
				Text:        res.Chunk.Text,
				Score:       res.Score,
			}
		}

		b, err := json.Marshal(out)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal results: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpListBlockers(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		runID, err := req.RequireString("run_id")
		if err != nil {
			return mcpError("run_id is required"), nil
		}

		report, err := deps.Runner.Report(ctx, runID)
		if err != nil {
			return mcpError(fmt.Sprintf("report failed: %v", err)), nil
		}

		b, err := json.Marshal(report.TopBlockers)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal blockers: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpGetQuestions(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		runID, err := req.RequireString("run_id")
		if err != nil {
			return mcpError("run_id is required"), nil
		}

		set, err := deps.Store.LatestQuestionSet(runID)
		if err != nil {
			return mcpError(fmt.Sprintf("no question set for run: %v", err)), nil
		}
		questions, err := deps.Store.ListQuestions(set.ID)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to list questions: %v", err)), nil
		}

		type questionOut struct {
			ID         string  `json:"id"`
			Category   string  `json:"category"`
			Rule       string  `json:"rule,omitempty"`
			Text       string  `json:"text"`
			Confidence float64 `json:"confidence"`
		}
		out := make([]questionOut, len(questions))
		for i, q := range questions {
			out[i] = questionOut{ID: q.ID, Category: q.Category, Rule: q.Rule, Text: q.Text, Confidence: q.Confidence}
		}

		b, err := json.Marshal(map[string]any{"version": set.Version, "questions": out})
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal questions: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpEstimateFix(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		fixID, err := req.RequireString("fix_id")
		if err != nil {
			return mcpError("fix_id is required"), nil
		}
		tier := req.GetString("tier", "C")

		record, err := deps.Runner.EstimateFix(ctx, fixID, tier)
		if err != nil {
			return mcpError(fmt.Sprintf("estimate failed: %v", err)), nil
		}

		b, err := json.Marshal(record)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal estimate: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpResourceSites(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		sites, err := deps.Store.ListSites()
		if err != nil {
			return nil, fmt.Errorf("failed to list sites: %w", err)
		}

		type siteSummary struct {
			ID         string `json:"id"`
			RootDomain string `json:"root_domain"`
			CreatedAt  string `json:"created_at"`
		}
		summaries := make([]siteSummary, len(sites))
		for i, s := range sites {
			summaries[i] = siteSummary{
				ID:         s.ID,
				RootDomain: s.RootDomain,
				CreatedAt:  s.CreatedAt.Format(time.RFC3339),
			}
		}

		b, err := json.Marshal(summaries)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal sites: %w", err)
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

func mcpError(message string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		IsError: true,
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: message},
		},
	}
}
