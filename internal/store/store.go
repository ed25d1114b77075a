package store

import (
	"encoding/json"
	"errors"
	"time"

	"awrlens/internal/awr"
)

// DefaultDBPath is the default relative path for the SQLite DB.
// Open() creates the parent dir (e.g. .awrlens) if it does not exist.
const DefaultDBPath = ".awrlens/awrlens.db"

var (
	// ErrNotFound is returned when the report does not exist.
	ErrNotFound = errors.New("report not found")
	// ErrInvalidTransition is returned when a status change would leave the
	// pending → parsing → parsed|failed path.
	ErrInvalidTransition = errors.New("invalid status transition")
	// ErrNotParsed is returned when a diagnostic run is requested for a report
	// that is not parsed.
	ErrNotParsed = errors.New("report is not parsed")
)

// MetricInput is one metric produced by a parse.
type MetricInput struct {
	Category string
	Data     json.RawMessage
}

// ReportFilter selects and pages reports. Zero fields do not filter.
type ReportFilter struct {
	Status   awr.Status
	DBName   string    // case-insensitive substring
	DateFrom time.Time // upload date, inclusive
	DateTo   time.Time // upload date, inclusive
	Page     int       // 1-based
	PageSize int
}

// Store is the persistence facade for reports, metrics and diagnostics.
// The server and workers use only this interface; implementation is SQLite
// or in-memory.
type Store interface {
	// Reports
	CreateReport(filename, filePath string, fileSize int64) (*awr.Report, error)
	GetReport(id int64) (*awr.Report, error)
	ReportFile(id int64) (string, error)
	ListReports(f ReportFilter) (items []awr.Report, total int, err error)
	ListByStatus(status awr.Status) ([]awr.Report, error)
	DeleteReport(id int64) error

	// Lifecycle. Each call is one atomic transition.
	MarkParsing(id int64) error
	CompleteParse(id int64, d awr.Descriptive, metrics []MetricInput) error
	FailParse(id int64, message string) error

	// Metrics
	ListMetrics(id int64, category string) ([]awr.PerformanceMetric, error)

	// Diagnostics. BeginRun allocates the next run number for a parsed
	// report; ReplaceDiagnostics swaps in that run's batch unless a newer run
	// has already been stored.
	BeginRun(id int64) (runID int64, err error)
	ReplaceDiagnostics(id, runID int64, results []awr.DiagnosticResult) (applied bool, err error)
	GetDiagnostics(id int64) (runID int64, results []awr.DiagnosticResult, err error)
	// FailRun records that run runID ended without findings. RunFailure
	// returns that run while it is newer than the stored batch, and 0 once
	// a later run has stored findings.
	FailRun(id, runID int64, message string) error
	RunFailure(id int64) (runID int64, message string, err error)

	Close() error
}

// timeLayout has a fixed width so stored timestamps sort as strings.
const timeLayout = "2006-01-02T15:04:05.000000Z"

func formatTime(t time.Time) string { return t.UTC().Format(timeLayout) }

func parseTime(s string) (time.Time, error) { return time.Parse(timeLayout, s) }

// now is replaceable in tests.
var now = func() time.Time { return time.Now().UTC().Truncate(time.Microsecond) }

func normalizePage(f ReportFilter) (page, size int) {
	page, size = f.Page, f.PageSize
	if page < 1 {
		page = 1
	}
	if size < 1 {
		size = awr.DefaultPageSize
	}
	if size > awr.MaxPageSize {
		size = awr.MaxPageSize
	}
	return page, size
}
