// Package mcp exposes the AWR report client core to agents as MCP tools.
package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"awrlens/internal/awr"
	"awrlens/internal/logging"

	sdkmcp "github.com/modelcontextprotocol/go-sdk/mcp"
)

// Server wraps the MCP SDK server. Every tool goes through the client core,
// so agents get the same validation, error mapping and polling as the CLI.
type Server struct {
	MCPServer *sdkmcp.Server

	client  *awr.Client
	session *Session
	cancel  context.CancelFunc
	logger  *slog.Logger
}

// NewServer creates an MCP server bound to client.
func NewServer(client *awr.Client, version string) *Server {
	if version == "" {
		version = "dev"
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		client:  client,
		session: NewSession(ctx, client),
		cancel:  cancel,
		logger:  logging.New("mcp"),
	}
	s.MCPServer = sdkmcp.NewServer(
		&sdkmcp.Implementation{Name: "awrlens", Version: version},
		nil,
	)
	s.registerTools()
	return s
}

// Session returns the per-report view registry.
func (s *Server) Session() *Session { return s.session }

// Shutdown closes every open report view and cancels their fetches.
func (s *Server) Shutdown() {
	s.session.Close()
	s.cancel()
}

func (s *Server) registerTools() {
	sdkmcp.AddTool(s.MCPServer, &sdkmcp.Tool{
		Name:        "upload_report",
		Description: "Upload an AWR HTML report from a local path. Optionally wait until parsing finishes.",
	}, s.handleUpload)

	sdkmcp.AddTool(s.MCPServer, &sdkmcp.Tool{
		Name:        "list_reports",
		Description: "List uploaded AWR reports, newest first, with optional status, database and upload date filters.",
	}, s.handleList)

	sdkmcp.AddTool(s.MCPServer, &sdkmcp.Tool{
		Name:        "get_report",
		Description: "Get one report with its metric categories and latest diagnostic counts. Descriptive fields appear only once parsed.",
	}, s.handleGetReport)

	sdkmcp.AddTool(s.MCPServer, &sdkmcp.Tool{
		Name:        "wait_for_report",
		Description: "Block until a report finishes parsing (parsed or failed) and return it.",
	}, s.handleWait)

	sdkmcp.AddTool(s.MCPServer, &sdkmcp.Tool{
		Name:        "get_metrics",
		Description: "Get the performance metrics of a parsed report, optionally one category (load_profile, wait_events, instance_efficiency, ...).",
	}, s.handleMetrics)

	sdkmcp.AddTool(s.MCPServer, &sdkmcp.Tool{
		Name:        "analyze_report",
		Description: "Run the diagnostic rules against a parsed report. With wait=true, returns the findings of this run.",
	}, s.handleAnalyze)

	sdkmcp.AddTool(s.MCPServer, &sdkmcp.Tool{
		Name:        "get_diagnostics",
		Description: "Get the findings of the latest diagnostic run, most severe first.",
	}, s.handleDiagnostics)

	sdkmcp.AddTool(s.MCPServer, &sdkmcp.Tool{
		Name:        "reparse_report",
		Description: "Re-upload the stored file of a parsed or failed report as a new report.",
	}, s.handleReparse)

	sdkmcp.AddTool(s.MCPServer, &sdkmcp.Tool{
		Name:        "delete_report",
		Description: "Delete a report with its metrics and diagnostics.",
	}, s.handleDelete)
}

// --- Tool input/output types ---

type reportIDInput struct {
	ReportID int64 `json:"report_id" jsonschema:"report ID"`
}

type uploadInput struct {
	Path           string `json:"path" jsonschema:"local path of the .html or .htm AWR report"`
	IdempotencyKey string `json:"idempotency_key,omitempty" jsonschema:"key that makes a retried upload return the same report"`
	Wait           bool   `json:"wait,omitempty" jsonschema:"wait until parsing finishes"`
}

type listInput struct {
	Page     int    `json:"page,omitempty" jsonschema:"1-based page number (default 1)"`
	PageSize int    `json:"page_size,omitempty" jsonschema:"reports per page, 1 to 100 (default 10)"`
	Status   string `json:"status,omitempty" jsonschema:"pending, parsing, parsed or failed"`
	DBName   string `json:"db_name,omitempty" jsonschema:"database name, case-insensitive substring"`
	DateFrom string `json:"date_from,omitempty" jsonschema:"earliest upload day, YYYY-MM-DD"`
	DateTo   string `json:"date_to,omitempty" jsonschema:"latest upload day, YYYY-MM-DD"`
}

type metricsInput struct {
	ReportID int64  `json:"report_id" jsonschema:"report ID"`
	Category string `json:"category,omitempty" jsonschema:"only this metric category"`
}

type analyzeInput struct {
	ReportID int64 `json:"report_id" jsonschema:"report ID"`
	Wait     bool  `json:"wait,omitempty" jsonschema:"wait for the findings of this run"`
}

type reportOutput struct {
	ID           int64   `json:"id"`
	Filename     string  `json:"filename"`
	FileSize     int64   `json:"file_size"`
	Status       string  `json:"status"`
	UploadTime   string  `json:"upload_time"`
	ParseTime    string  `json:"parse_time,omitempty"`
	Error        string  `json:"error,omitempty"`
	DBName       *string `json:"db_name,omitempty"`
	DBVersion    *string `json:"db_version,omitempty"`
	InstanceName *string `json:"instance_name,omitempty"`
	HostName     *string `json:"host_name,omitempty"`
	BeginSnapID  *int64  `json:"begin_snap_id,omitempty"`
	EndSnapID    *int64  `json:"end_snap_id,omitempty"`
	BeginTime    string  `json:"begin_time,omitempty"`
	EndTime      string  `json:"end_time,omitempty"`
}

type uploadOutput struct {
	Report reportOutput `json:"report"`
}

type listOutput struct {
	Items    []reportOutput `json:"items"`
	Total    int            `json:"total"`
	Page     int            `json:"page"`
	PageSize int            `json:"page_size"`
	LastPage int            `json:"last_page"`
}

type countsOutput struct {
	Critical int `json:"critical"`
	High     int `json:"high"`
	Medium   int `json:"medium"`
	Low      int `json:"low"`
	Info     int `json:"info"`
	Total    int `json:"total"`
}

type getReportOutput struct {
	Report           reportOutput  `json:"report"`
	MetricCategories []string      `json:"metric_categories,omitempty"`
	LastRunID        int64         `json:"last_run_id,omitempty"`
	Summary          *countsOutput `json:"summary,omitempty"`
	AnalysisPending  bool          `json:"analysis_pending"`
	AnalysisError    string        `json:"analysis_error,omitempty"`
}

type metricOutput struct {
	Category string `json:"category"`
	Data     any    `json:"data"`
}

type metricsOutput struct {
	ReportID int64          `json:"report_id"`
	Metrics  []metricOutput `json:"metrics"`
}

type findingOutput struct {
	RuleID           string `json:"rule_id,omitempty"`
	Severity         string `json:"severity"`
	Category         string `json:"category"`
	IssueTitle       string `json:"issue_title"`
	IssueDescription string `json:"issue_description,omitempty"`
	Recommendation   string `json:"recommendation,omitempty"`
	RelatedMetrics   any    `json:"related_metrics,omitempty"`
}

type diagnosticsOutput struct {
	ReportID    int64           `json:"report_id"`
	Found       bool            `json:"found"`
	RunID       int64           `json:"run_id,omitempty"`
	Failed      bool            `json:"failed,omitempty"`
	Summary     *countsOutput   `json:"summary,omitempty"`
	Diagnostics []findingOutput `json:"diagnostics,omitempty"`
	Message     string          `json:"message,omitempty"`
}

type analyzeOutput struct {
	ReportID    int64              `json:"report_id"`
	RunID       int64              `json:"run_id"`
	Complete    bool               `json:"complete"`
	Superseded  bool               `json:"superseded,omitempty"`
	Message     string             `json:"message,omitempty"`
	Diagnostics *diagnosticsOutput `json:"diagnostics,omitempty"`
}

type deleteOutput struct {
	ReportID int64  `json:"report_id"`
	Deleted  bool   `json:"deleted"`
	Message  string `json:"message"`
}

// --- Tool handlers ---

func (s *Server) handleUpload(ctx context.Context, _ *sdkmcp.CallToolRequest, in uploadInput) (*sdkmcp.CallToolResult, uploadOutput, error) {
	var opts []awr.SubmitOption
	if in.IdempotencyKey != "" {
		opts = append(opts, awr.WithIdempotencyKey(in.IdempotencyKey))
	}
	handle, err := s.client.SubmitFile(ctx, in.Path, opts...)
	if err != nil {
		return nil, uploadOutput{}, s.toolError("upload_report", err)
	}
	s.logger.Info("report uploaded", "id", handle.ID, "filename", handle.Filename)
	out := uploadOutput{Report: reportOutput{
		ID:         handle.ID,
		Filename:   handle.Filename,
		Status:     string(handle.Status),
		UploadTime: stamp(&handle.UploadTime),
	}}
	if !in.Wait {
		return nil, out, nil
	}
	r, err := s.client.WaitForTerminal(ctx, handle.ID, nil)
	if err != nil {
		return nil, uploadOutput{}, s.toolError("upload_report", err)
	}
	out.Report = toReportOutput(*r)
	return nil, out, nil
}

func (s *Server) handleList(ctx context.Context, _ *sdkmcp.CallToolRequest, in listInput) (*sdkmcp.CallToolResult, listOutput, error) {
	opts, err := listOptions(in)
	if err != nil {
		return nil, listOutput{}, err
	}
	page, err := s.client.List(ctx, opts...)
	if err != nil {
		return nil, listOutput{}, s.toolError("list_reports", err)
	}
	out := listOutput{
		Items:    make([]reportOutput, 0, len(page.Items)),
		Total:    page.Total,
		Page:     page.Page,
		PageSize: page.PageSize,
		LastPage: awr.LastPage(page.Total, page.PageSize),
	}
	for _, r := range page.Items {
		out.Items = append(out.Items, toReportOutput(r))
	}
	return nil, out, nil
}

func listOptions(in listInput) ([]awr.ListOption, error) {
	var opts []awr.ListOption
	if in.Page > 0 {
		opts = append(opts, awr.WithPage(in.Page))
	}
	if in.PageSize > 0 {
		opts = append(opts, awr.WithPageSize(in.PageSize))
	}
	if in.Status != "" {
		st, err := awr.ParseStatus(in.Status)
		if err != nil {
			return nil, err
		}
		opts = append(opts, awr.WithStatus(st))
	}
	if in.DBName != "" {
		opts = append(opts, awr.WithDBName(in.DBName))
	}
	if in.DateFrom != "" || in.DateTo != "" {
		var from, to time.Time
		var err error
		if in.DateFrom != "" {
			if from, err = time.Parse(awr.DateLayout, in.DateFrom); err != nil {
				return nil, fmt.Errorf("invalid date_from %q, use YYYY-MM-DD", in.DateFrom)
			}
		}
		if in.DateTo != "" {
			if to, err = time.Parse(awr.DateLayout, in.DateTo); err != nil {
				return nil, fmt.Errorf("invalid date_to %q, use YYYY-MM-DD", in.DateTo)
			}
		}
		opts = append(opts, awr.WithDateRange(from, to))
	}
	return opts, nil
}

func (s *Server) handleGetReport(ctx context.Context, _ *sdkmcp.CallToolRequest, in reportIDInput) (*sdkmcp.CallToolResult, getReportOutput, error) {
	view := s.session.View(in.ReportID)
	if err := view.Refresh(ctx); err != nil {
		if awr.IsNotFound(err) {
			s.session.Forget(in.ReportID)
		}
		return nil, getReportOutput{}, s.toolError("get_report", err)
	}
	snap := view.Snapshot()
	if snap.Report == nil {
		return nil, getReportOutput{}, fmt.Errorf("report %d is not loaded", in.ReportID)
	}
	out := getReportOutput{
		Report:          toReportOutput(*snap.Report),
		AnalysisPending: snap.AnalysisPending,
		AnalysisError:   snap.AnalysisError,
	}
	for _, m := range snap.Metrics {
		out.MetricCategories = append(out.MetricCategories, m.Category)
	}
	if snap.Diagnostics != nil {
		out.LastRunID = snap.Diagnostics.RunID
		out.Summary = toCounts(snap.Diagnostics.Summary)
	}
	return nil, out, nil
}

func (s *Server) handleWait(ctx context.Context, _ *sdkmcp.CallToolRequest, in reportIDInput) (*sdkmcp.CallToolResult, uploadOutput, error) {
	r, err := s.client.WaitForTerminal(ctx, in.ReportID, nil)
	if err != nil {
		return nil, uploadOutput{}, s.toolError("wait_for_report", err)
	}
	return nil, uploadOutput{Report: toReportOutput(*r)}, nil
}

func (s *Server) handleMetrics(ctx context.Context, _ *sdkmcp.CallToolRequest, in metricsInput) (*sdkmcp.CallToolResult, metricsOutput, error) {
	metrics, err := s.client.Metrics(ctx, in.ReportID, in.Category)
	if err != nil {
		return nil, metricsOutput{}, s.toolError("get_metrics", err)
	}
	out := metricsOutput{ReportID: in.ReportID, Metrics: make([]metricOutput, 0, len(metrics))}
	for _, m := range metrics {
		out.Metrics = append(out.Metrics, metricOutput{Category: m.Category, Data: decodeRaw(m.Data)})
	}
	return nil, out, nil
}

func (s *Server) handleAnalyze(ctx context.Context, _ *sdkmcp.CallToolRequest, in analyzeInput) (*sdkmcp.CallToolResult, analyzeOutput, error) {
	if !in.Wait {
		ack, err := s.session.View(in.ReportID).Trigger(ctx)
		if err != nil {
			return nil, analyzeOutput{}, s.toolError("analyze_report", err)
		}
		return nil, analyzeOutput{ReportID: ack.ReportID, RunID: ack.RunID, Complete: ack.Complete, Message: ack.Message}, nil
	}

	summary, err := s.session.View(in.ReportID).Analyze(ctx)
	switch {
	case errors.Is(err, awr.ErrSuperseded):
		return nil, analyzeOutput{
			ReportID:   in.ReportID,
			Superseded: true,
			Message:    "a newer analysis of this report was started; its findings replace this one",
		}, nil
	case err != nil:
		return nil, analyzeOutput{}, s.toolError("analyze_report", err)
	}
	d := toDiagnostics(in.ReportID, summary)
	return nil, analyzeOutput{
		ReportID:    in.ReportID,
		RunID:       summary.RunID,
		Complete:    true,
		Message:     "Analysis completed",
		Diagnostics: &d,
	}, nil
}

func (s *Server) handleDiagnostics(ctx context.Context, _ *sdkmcp.CallToolRequest, in reportIDInput) (*sdkmcp.CallToolResult, diagnosticsOutput, error) {
	summary, found, err := s.client.Diagnostics(ctx, in.ReportID)
	var failed *awr.AnalysisFailedError
	if errors.As(err, &failed) {
		return nil, diagnosticsOutput{
			ReportID: in.ReportID,
			RunID:    failed.RunID(),
			Failed:   true,
			Message:  failed.Detail(),
		}, nil
	}
	if err != nil {
		return nil, diagnosticsOutput{}, s.toolError("get_diagnostics", err)
	}
	if !found {
		return nil, diagnosticsOutput{
			ReportID: in.ReportID,
			Message:  "no analysis has run for this report yet",
		}, nil
	}
	return nil, toDiagnostics(in.ReportID, summary), nil
}

func (s *Server) handleReparse(ctx context.Context, _ *sdkmcp.CallToolRequest, in reportIDInput) (*sdkmcp.CallToolResult, uploadOutput, error) {
	handle, err := s.client.Reparse(ctx, in.ReportID)
	if err != nil {
		return nil, uploadOutput{}, s.toolError("reparse_report", err)
	}
	return nil, uploadOutput{Report: reportOutput{
		ID:         handle.ID,
		Filename:   handle.Filename,
		Status:     string(handle.Status),
		UploadTime: stamp(&handle.UploadTime),
	}}, nil
}

// handleDelete reports an already-deleted report as a result, not an error,
// so an agent retrying a delete is not told it failed.
func (s *Server) handleDelete(ctx context.Context, _ *sdkmcp.CallToolRequest, in reportIDInput) (*sdkmcp.CallToolResult, deleteOutput, error) {
	s.session.Forget(in.ReportID)
	err := s.client.Delete(ctx, in.ReportID)
	switch {
	case err == nil:
		s.logger.Info("report deleted", "id", in.ReportID)
		return nil, deleteOutput{ReportID: in.ReportID, Deleted: true, Message: "Report deleted successfully"}, nil
	case awr.IsNotFound(err):
		return nil, deleteOutput{ReportID: in.ReportID, Message: awr.UserMessage(err)}, nil
	}
	return nil, deleteOutput{}, s.toolError("delete_report", err)
}

// --- Helpers ---

// toolError logs err and returns the message a user should see.
func (s *Server) toolError(tool string, err error) error {
	if awr.IsTransport(err) || awr.IsTimeout(err) {
		s.logger.Warn("tool failed", "tool", tool, "error", err)
	} else {
		s.logger.Debug("tool rejected", "tool", tool, "error", err)
	}
	return errors.New(awr.UserMessage(err))
}

func toReportOutput(raw awr.Report) reportOutput {
	r := raw.Visible()
	return reportOutput{
		ID:           r.ID,
		Filename:     r.Filename,
		FileSize:     r.FileSize,
		Status:       string(r.Status),
		UploadTime:   stamp(&r.UploadTime),
		ParseTime:    stamp(r.ParseTime),
		Error:        r.ErrorText(),
		DBName:       r.DBName,
		DBVersion:    r.DBVersion,
		InstanceName: r.InstanceName,
		HostName:     r.HostName,
		BeginSnapID:  r.BeginSnapID,
		EndSnapID:    r.EndSnapID,
		BeginTime:    stamp(r.BeginTime),
		EndTime:      stamp(r.EndTime),
	}
}

func toCounts(c awr.SeverityCounts) *countsOutput {
	return &countsOutput{
		Critical: c.Critical,
		High:     c.High,
		Medium:   c.Medium,
		Low:      c.Low,
		Info:     c.Info,
		Total:    c.Total(),
	}
}

func toDiagnostics(id int64, s *awr.DiagnosticSummary) diagnosticsOutput {
	out := diagnosticsOutput{
		ReportID:    id,
		Found:       true,
		RunID:       s.RunID,
		Summary:     toCounts(s.Summary),
		Diagnostics: make([]findingOutput, 0, len(s.Diagnostics)),
	}
	for _, d := range awr.SortBySeverity(s.Diagnostics) {
		out.Diagnostics = append(out.Diagnostics, findingOutput{
			RuleID:           d.RuleID,
			Severity:         string(d.Severity),
			Category:         d.Category,
			IssueTitle:       d.IssueTitle,
			IssueDescription: d.IssueDescription,
			Recommendation:   d.Recommendation,
			RelatedMetrics:   decodeRaw(d.RelatedMetrics),
		})
	}
	if len(out.Diagnostics) == 0 {
		out.Message = "No issues found."
	}
	return out
}

func decodeRaw(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return string(raw)
	}
	return v
}

func stamp(t *time.Time) string {
	if t == nil || t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}
