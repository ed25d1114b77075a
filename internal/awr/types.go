package awr

import (
	"encoding/json"
	"time"
)

// Status is the lifecycle state of an uploaded report.
type Status string

const (
	StatusPending Status = "pending"
	StatusParsing Status = "parsing"
	StatusParsed  Status = "parsed"
	StatusFailed  Status = "failed"
)

// Report is the full server-side record of one uploaded AWR report.
//
// Descriptive fields and ParseTime are nil until the report is parsed. Callers
// that render a report should go through Visible rather than reading those
// fields directly.
type Report struct {
	ID           int64      `json:"id"`
	Filename     string     `json:"filename"`
	FileSize     int64      `json:"file_size"`
	Status       Status     `json:"status"`
	UploadTime   time.Time  `json:"upload_time"`
	ParseTime    *time.Time `json:"parse_time,omitempty"`
	ErrorMessage *string    `json:"error_message,omitempty"`

	DBName       *string    `json:"db_name,omitempty"`
	DBVersion    *string    `json:"db_version,omitempty"`
	InstanceName *string    `json:"instance_name,omitempty"`
	HostName     *string    `json:"host_name,omitempty"`
	BeginSnapID  *int64     `json:"begin_snap_id,omitempty"`
	EndSnapID    *int64     `json:"end_snap_id,omitempty"`
	BeginTime    *time.Time `json:"begin_time,omitempty"`
	EndTime      *time.Time `json:"end_time,omitempty"`
}

// Descriptive groups the database-descriptive fields populated by a
// successful parse.
type Descriptive struct {
	DBName       string
	DBVersion    string
	InstanceName string
	HostName     string
	BeginSnapID  int64
	EndSnapID    int64
	BeginTime    time.Time
	EndTime      time.Time
}

// ReportHandle is the response to an upload.
type ReportHandle struct {
	ID         int64     `json:"id"`
	Filename   string    `json:"filename"`
	Status     Status    `json:"status"`
	UploadTime time.Time `json:"upload_time"`
}

// ReportPage is one page of the report listing.
type ReportPage struct {
	Items    []Report `json:"items"`
	Total    int      `json:"total"`
	Page     int      `json:"page"`
	PageSize int      `json:"page_size"`
}

// PerformanceMetric is one metric row extracted from a parsed report.
// Category is not unique per report.
type PerformanceMetric struct {
	ID       int64           `json:"id"`
	ReportID int64           `json:"report_id"`
	Category string          `json:"category"`
	Data     json.RawMessage `json:"data"`
}

// Metric categories produced by the parser.
const (
	CategoryLoadProfile        = "load_profile"
	CategoryWaitEvents         = "wait_events"
	CategoryTopSQL             = "top_sql"
	CategoryMemoryStats        = "memory_stats"
	CategoryIOStats            = "io_stats"
	CategoryInstanceEfficiency = "instance_efficiency"
)

// MetricCategories lists every category in the order the parser emits them.
var MetricCategories = []string{
	CategoryLoadProfile,
	CategoryWaitEvents,
	CategoryTopSQL,
	CategoryMemoryStats,
	CategoryIOStats,
	CategoryInstanceEfficiency,
}

// DiagnosticResult is one finding of a diagnostic run.
type DiagnosticResult struct {
	ID               int64           `json:"id,omitempty"`
	ReportID         int64           `json:"report_id"`
	RuleID           string          `json:"rule_id,omitempty"`
	Severity         Severity        `json:"severity"`
	Category         string          `json:"category"`
	IssueTitle       string          `json:"issue_title"`
	IssueDescription string          `json:"issue_description,omitempty"`
	Recommendation   string          `json:"recommendation,omitempty"`
	RelatedMetrics   json.RawMessage `json:"related_metrics,omitempty"`
}

// AnalysisAck acknowledges a diagnostic trigger. RunID identifies the run the
// server started; a later Diagnostics call reporting RunID or higher reflects it.
type AnalysisAck struct {
	ReportID int64  `json:"report_id"`
	RunID    int64  `json:"run_id"`
	Message  string `json:"message,omitempty"`
	Complete bool   `json:"complete"`
}

// ErrorBody is the JSON body of every non-2xx response.
type ErrorBody struct {
	Detail string `json:"detail"`
	Code   string `json:"code,omitempty"`
	// Status is the report status behind an invalid_state error.
	Status Status `json:"status,omitempty"`
	// RunID is the diagnostic run behind an analysis_failed error.
	RunID int64 `json:"run_id,omitempty"`
}

// Error codes carried in ErrorBody.Code.
const (
	CodeNotFound        = "not_found"
	CodeInvalidState    = "invalid_state"
	CodeValidation      = "validation"
	CodePayloadTooLarge = "payload_too_large"
	CodeInternal        = "internal"
	CodeAnalysisFailed  = "analysis_failed"
)
