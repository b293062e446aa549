// Package mcpserver exposes research runs and report history as MCP tools
// over stdio.
package mcpserver

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/max-solo23/deeptrace/internal/cancellation"
	"github.com/max-solo23/deeptrace/internal/confidence"
	"github.com/max-solo23/deeptrace/internal/export"
	"github.com/max-solo23/deeptrace/internal/model"
	"github.com/max-solo23/deeptrace/internal/pipeline"
	"github.com/max-solo23/deeptrace/internal/store"
)

// Name and Version identify the server to MCP clients.
const (
	Name    = "deeptrace"
	Version = "0.1.0"
)

// Runner executes one research request.
type Runner interface {
	Run(ctx context.Context, req pipeline.Request, ctl *cancellation.Controller) (*pipeline.Outcome, error)
}

// Handlers implements the tool handlers.
type Handlers struct {
	runner   Runner
	store    store.Store
	registry *cancellation.Registry
	newID    func() string
}

// NewHandlers creates the tool handlers. The runner or the store may be nil,
// which disables the tools depending on them.
func NewHandlers(runner Runner, st store.Store, reg *cancellation.Registry) *Handlers {
	if reg == nil {
		reg = cancellation.NewRegistry()
	}
	return &Handlers{runner: runner, store: st, registry: reg, newID: uuid.NewString}
}

// New builds an MCP server with every tool registered.
func New(h *Handlers) *server.MCPServer {
	s := server.NewMCPServer(Name, Version,
		server.WithToolCapabilities(true),
		server.WithRecovery(),
	)

	s.AddTool(mcp.NewTool("research",
		mcp.WithDescription("Research a question on the web and return a structured report with sources and a confidence score"),
		mcp.WithString("query",
			mcp.Required(),
			mcp.Description("The research question"),
		),
		mcp.WithString("mode",
			mcp.Description("quick (4-6 searches) or deep (10-14 searches)"),
			mcp.Enum(string(model.ModeQuick), string(model.ModeDeep)),
			mcp.DefaultString(string(model.ModeQuick)),
		),
		mcp.WithString("answers",
			mcp.Description("Answers to clarifying questions, one per line"),
		),
	), h.Research)

	s.AddTool(mcp.NewTool("list_reports",
		mcp.WithDescription("List saved research reports, newest first"),
		mcp.WithNumber("limit",
			mcp.Description("Maximum number of reports"),
			mcp.DefaultNumber(store.DefaultListLimit),
			mcp.Min(1),
			mcp.Max(500),
		),
	), h.ListReports)

	s.AddTool(mcp.NewTool("get_report",
		mcp.WithDescription("Get a saved report as markdown, with its sources"),
		mcp.WithString("id",
			mcp.Required(),
			mcp.Description("Report id"),
		),
	), h.GetReport)

	s.AddTool(mcp.NewTool("list_runs",
		mcp.WithDescription("List research runs in progress"),
	), h.ListRuns)

	s.AddTool(mcp.NewTool("stop_research",
		mcp.WithDescription("Stop a research run at its next checkpoint; nothing is saved"),
		mcp.WithString("run_id",
			mcp.Required(),
			mcp.Description("Run id returned when the run started"),
		),
	), h.StopResearch)

	return s
}

// Serve runs the server over stdin and stdout until the input closes.
func Serve(h *Handlers) error {
	zap.L().Info("mcp: serving on stdio")
	return server.ServeStdio(New(h))
}

// Research runs a research request to completion.
func (h *Handlers) Research(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if h.runner == nil {
		return mcp.NewToolResultError("research is not configured"), nil
	}
	query, err := req.RequireString("query")
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Invalid query: %v", err)), nil
	}
	mode, err := model.ParseMode(req.GetString("mode", string(model.ModeQuick)))
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	runID := h.newID()
	ctl := h.registry.Start(runID)
	defer h.registry.Finish(runID)

	out, err := h.runner.Run(ctx, pipeline.Request{
		ID:      runID,
		Query:   query,
		Mode:    mode,
		Answers: splitLines(req.GetString("answers", "")),
	}, ctl)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(renderOutcome(out)), nil
}

// ListReports lists saved reports.
func (h *Handlers) ListReports(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if h.store == nil {
		return mcp.NewToolResultError("report history is not configured"), nil
	}
	limit := int(req.GetFloat("limit", store.DefaultListLimit))
	reports := h.store.GetAllReports(ctx, limit)
	if len(reports) == 0 {
		return mcp.NewToolResultText("No reports saved yet. Use the research tool to create one."), nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%d reports:\n\n", len(reports))
	for _, r := range reports {
		fmt.Fprintf(&b, "- %s | %s | %s | confidence %s (%.2f) | %s\n",
			r.ID,
			r.CreatedAt.UTC().Format("2006-01-02 15:04"),
			r.Mode,
			confidence.LabelFor(r.ConfidenceScore),
			r.ConfidenceScore,
			r.Query,
		)
	}
	return mcp.NewToolResultText(b.String()), nil
}

// GetReport returns one saved report as markdown.
func (h *Handlers) GetReport(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if h.store == nil {
		return mcp.NewToolResultError("report history is not configured"), nil
	}
	id, err := req.RequireString("id")
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Invalid id: %v", err)), nil
	}
	r := h.store.GetReport(ctx, id)
	if r == nil {
		return mcp.NewToolResultError(fmt.Sprintf("Report '%s' not found", id)), nil
	}
	return mcp.NewToolResultText(export.RenderMarkdown(r, h.store.GetSourcesForReport(ctx, id))), nil
}

// ListRuns lists runs in progress.
func (h *Handlers) ListRuns(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	active := h.registry.Active()
	if len(active) == 0 {
		return mcp.NewToolResultText("No research in progress."), nil
	}
	return mcp.NewToolResultText("Runs in progress:\n- " + strings.Join(active, "\n- ")), nil
}

// StopResearch stops a run in progress.
func (h *Handlers) StopResearch(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	runID, err := req.RequireString("run_id")
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Invalid run_id: %v", err)), nil
	}
	if !h.registry.Stop(runID, "stopped via mcp") {
		return mcp.NewToolResultError(fmt.Sprintf("Run '%s' is not in progress", runID)), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("Stop requested for run %s. It ends at its next checkpoint.", runID)), nil
}

func renderOutcome(out *pipeline.Outcome) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Run %s finished: %s\n", out.ReportID, out.State)

	switch out.State {
	case pipeline.StateStopped:
		b.WriteString("Research stopped before completion. Results not saved to database.\n")
		if out.Report == nil {
			return b.String()
		}
	case pipeline.StateError:
		if out.Failure != nil {
			fmt.Fprintf(&b, "Error: %v\n", out.Failure.Err)
		}
	default:
		fmt.Fprintf(&b, "Confidence: %s (%.2f)\n", out.Confidence.Label, out.Confidence.Score)
		if out.SavedReportID != "" {
			fmt.Fprintf(&b, "Saved as report %s\n", out.SavedReportID)
		}
	}
	if out.Clarification != nil && out.Clarification.NeedsClarification && len(out.Clarification.Questions) > 0 {
		b.WriteString("Clarifying questions (answer them via the answers argument for a sharper report):\n")
		for _, q := range out.Clarification.Questions {
			fmt.Fprintf(&b, "- %s\n", q)
		}
	}
	if out.Report != nil {
		b.WriteString("\n")
		b.WriteString(export.RenderMarkdown(out.Report, out.Sources))
	}
	return b.String()
}

func splitLines(s string) []string {
	var out []string
	for _, line := range strings.Split(s, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			out = append(out, line)
		}
	}
	return out
}
