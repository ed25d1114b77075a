package store

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"awrlens/internal/awr"
)

type memReport struct {
	report   awr.Report
	filePath string
	lastRun  int64
	diagRun  int64
	failRun  int64
	failMsg  string
}

// MemStore is an in-memory Store for tests and --memory server runs.
type MemStore struct {
	mu          sync.Mutex
	reports     map[int64]*memReport
	nextReport  int64
	metrics     map[int64][]awr.PerformanceMetric
	nextMetric  int64
	diagnostics map[int64][]awr.DiagnosticResult
	nextDiag    int64
}

// NewMemStore returns a new in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{
		reports:     make(map[int64]*memReport),
		metrics:     make(map[int64][]awr.PerformanceMetric),
		diagnostics: make(map[int64][]awr.DiagnosticResult),
	}
}

func (s *MemStore) Close() error { return nil }

func (s *MemStore) CreateReport(filename, filePath string, fileSize int64) (*awr.Report, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextReport++
	r := awr.Report{
		ID:         s.nextReport,
		Filename:   filename,
		FileSize:   fileSize,
		Status:     awr.StatusPending,
		UploadTime: now(),
	}
	s.reports[r.ID] = &memReport{report: r, filePath: filePath}
	return &r, nil
}

func (s *MemStore) GetReport(id int64) (*awr.Report, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.reports[id]
	if !ok {
		return nil, ErrNotFound
	}
	r := m.report
	return &r, nil
}

func (s *MemStore) ReportFile(id int64) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.reports[id]
	if !ok {
		return "", ErrNotFound
	}
	return m.filePath, nil
}

func (s *MemStore) ListReports(f ReportFilter) ([]awr.Report, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var matched []awr.Report
	for _, m := range s.reports {
		if matches(m.report, f) {
			matched = append(matched, m.report)
		}
	}
	sort.Slice(matched, func(i, j int) bool {
		a, b := matched[i], matched[j]
		if !a.UploadTime.Equal(b.UploadTime) {
			return a.UploadTime.After(b.UploadTime)
		}
		return a.ID > b.ID
	})

	page, size := normalizePage(f)
	items := []awr.Report{}
	if start := (page - 1) * size; start < len(matched) {
		end := min(start+size, len(matched))
		items = append(items, matched[start:end]...)
	}
	return items, len(matched), nil
}

func matches(r awr.Report, f ReportFilter) bool {
	if f.Status != "" && r.Status != f.Status {
		return false
	}
	if f.DBName != "" {
		if r.DBName == nil || !strings.Contains(strings.ToLower(*r.DBName), strings.ToLower(f.DBName)) {
			return false
		}
	}
	if !f.DateFrom.IsZero() && r.UploadTime.Before(startOfDay(f.DateFrom)) {
		return false
	}
	if !f.DateTo.IsZero() && !r.UploadTime.Before(startOfDay(f.DateTo).AddDate(0, 0, 1)) {
		return false
	}
	return true
}

func (s *MemStore) ListByStatus(status awr.Status) ([]awr.Report, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []awr.Report
	for _, m := range s.reports {
		if m.report.Status == status {
			out = append(out, m.report)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemStore) DeleteReport(id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.reports[id]; !ok {
		return ErrNotFound
	}
	delete(s.reports, id)
	delete(s.metrics, id)
	delete(s.diagnostics, id)
	return nil
}

// transition moves a report from one status to another under the lock.
func (s *MemStore) transition(id int64, from, to awr.Status) (*memReport, error) {
	m, ok := s.reports[id]
	if !ok {
		return nil, ErrNotFound
	}
	if m.report.Status != from {
		return nil, fmt.Errorf("%w: report %d %s -> %s", ErrInvalidTransition, id, m.report.Status, to)
	}
	m.report.Status = to
	return m, nil
}

func (s *MemStore) MarkParsing(id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.transition(id, awr.StatusPending, awr.StatusParsing)
	return err
}

func (s *MemStore) CompleteParse(id int64, d awr.Descriptive, metrics []MetricInput) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, err := s.transition(id, awr.StatusParsing, awr.StatusParsed)
	if err != nil {
		return err
	}
	d.Apply(&m.report, now())
	for _, in := range metrics {
		s.nextMetric++
		s.metrics[id] = append(s.metrics[id], awr.PerformanceMetric{
			ID:       s.nextMetric,
			ReportID: id,
			Category: in.Category,
			Data:     append([]byte(nil), in.Data...),
		})
	}
	return nil
}

func (s *MemStore) FailParse(id int64, message string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, err := s.transition(id, awr.StatusParsing, awr.StatusFailed)
	if err != nil {
		return err
	}
	t := now()
	m.report.ParseTime = &t
	m.report.ErrorMessage = &message
	return nil
}

func (s *MemStore) ListMetrics(id int64, category string) ([]awr.PerformanceMetric, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.reports[id]; !ok {
		return nil, ErrNotFound
	}
	out := []awr.PerformanceMetric{}
	for _, m := range s.metrics[id] {
		if category == "" || m.Category == category {
			out = append(out, m)
		}
	}
	return out, nil
}

func (s *MemStore) BeginRun(id int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.reports[id]
	if !ok {
		return 0, ErrNotFound
	}
	if m.report.Status != awr.StatusParsed {
		return 0, fmt.Errorf("%w: report %d is %s", ErrNotParsed, id, m.report.Status)
	}
	m.lastRun++
	return m.lastRun, nil
}

func (s *MemStore) ReplaceDiagnostics(id, runID int64, results []awr.DiagnosticResult) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.reports[id]
	if !ok {
		return false, ErrNotFound
	}
	if runID <= m.diagRun {
		return false, nil
	}
	batch := make([]awr.DiagnosticResult, len(results))
	for i, d := range results {
		s.nextDiag++
		d.ID = s.nextDiag
		d.ReportID = id
		batch[i] = d
	}
	s.diagnostics[id] = batch
	m.diagRun = runID
	return true, nil
}

func (s *MemStore) GetDiagnostics(id int64) (int64, []awr.DiagnosticResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.reports[id]
	if !ok {
		return 0, nil, ErrNotFound
	}
	if m.diagRun == 0 {
		return 0, nil, nil
	}
	return m.diagRun, append([]awr.DiagnosticResult{}, s.diagnostics[id]...), nil
}

func (s *MemStore) FailRun(id, runID int64, message string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.reports[id]
	if !ok {
		return ErrNotFound
	}
	if runID > m.failRun {
		m.failRun, m.failMsg = runID, message
	}
	return nil
}

func (s *MemStore) RunFailure(id int64) (int64, string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.reports[id]
	if !ok {
		return 0, "", ErrNotFound
	}
	if m.failRun <= m.diagRun {
		return 0, "", nil
	}
	return m.failRun, m.failMsg, nil
}
