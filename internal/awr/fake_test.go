package awr

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// fakeService is a minimal in-memory REST peer for client tests.
type fakeService struct {
	mu          sync.Mutex
	reports     map[int64]*Report
	diagnostics map[int64][]DiagnosticResult
	runs        map[int64]int64
	nextID      int64
	hits        atomic.Int64

	// findings returns the results of the next run for a report.
	findings func(id int64, run int64) []DiagnosticResult
	// analyzeHook, when set, runs before the analyze response is written.
	analyzeHook func(id int64, run int64)
	// asyncAnalysis defers storing results until completeRun is called.
	asyncAnalysis bool
	pendingRuns   map[int64][]int64
	// failed holds the newest failed run per report and its message.
	failed   map[int64]int64
	failMsgs map[int64]string
}

func newFakeService() *fakeService {
	return &fakeService{
		reports:     make(map[int64]*Report),
		diagnostics: make(map[int64][]DiagnosticResult),
		runs:        make(map[int64]int64),
		pendingRuns: make(map[int64][]int64),
		failed:      make(map[int64]int64),
		failMsgs:    make(map[int64]string),
	}
}

func (f *fakeService) start(t *testing.T) (*httptest.Server, *Client) {
	t.Helper()
	srv := httptest.NewServer(f)
	t.Cleanup(srv.Close)
	cfg := DefaultConfig()
	cfg.BaseURL = srv.URL + "/api/v1"
	cfg.Timeout = 2 * time.Second
	cfg.Poll = PollConfig{InitialInterval: 5 * time.Millisecond, MaxInterval: 20 * time.Millisecond, MaxElapsed: 2 * time.Second}
	c, err := New(cfg, WithHTTPClient(srv.Client()))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return srv, c
}

func (f *fakeService) add(r Report) int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	if r.ID == 0 {
		r.ID = f.nextID
	}
	if r.UploadTime.IsZero() {
		r.UploadTime = time.Date(2025, 1, 1, 0, 0, int(r.ID), 0, time.UTC)
	}
	cp := r
	f.reports[r.ID] = &cp
	return r.ID
}

func (f *fakeService) setStatus(id int64, st Status) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reports[id].Status = st
}

func (f *fakeService) completeRun(id, run int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.storeRun(id, run)
}

// seedRun stores a completed run for id outside any trigger.
func (f *fakeService) seedRun(id int64) int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	f.storeRun(id, f.nextID)
	return f.nextID
}

// failRun records that run ended without findings.
func (f *fakeService) failRun(id, run int64, msg string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if run > f.failed[id] {
		f.failed[id] = run
		f.failMsgs[id] = msg
	}
}

func (f *fakeService) storeRun(id, run int64) {
	var results []DiagnosticResult
	if f.findings != nil {
		results = f.findings(id, run)
	}
	if run >= f.runs[id] {
		f.diagnostics[id] = results
		f.runs[id] = run
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func parsedReport(id int64, dbName string) Report {
	r := Report{ID: id, Filename: fmt.Sprintf("report%d.html", id), FileSize: 1024, Status: StatusParsed}
	Descriptive{
		DBName: dbName, DBVersion: "19.0.0.0.0", InstanceName: "orcl1", HostName: "db01",
		BeginSnapID: 100, EndSnapID: 101,
		BeginTime: time.Date(2025, 1, 1, 10, 0, 0, 0, time.UTC),
		EndTime:   time.Date(2025, 1, 1, 11, 0, 0, 0, time.UTC),
	}.Apply(&r, time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC))
	return r
}

func (f *fakeService) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.hits.Add(1)
	path := strings.TrimPrefix(r.URL.Path, "/api/v1")
	parts := strings.Split(strings.Trim(path, "/"), "/")
	if len(parts) == 0 || parts[0] != "reports" {
		http.NotFound(w, r)
		return
	}

	if len(parts) == 1 && r.Method == http.MethodGet {
		f.list(w, r)
		return
	}
	if len(parts) == 2 && parts[1] == "upload" && r.Method == http.MethodPost {
		f.upload(w, r)
		return
	}

	id, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		writeJSON(w, http.StatusUnprocessableEntity, ErrorBody{Detail: "invalid id", Code: CodeValidation})
		return
	}

	f.mu.Lock()
	rep, ok := f.reports[id]
	f.mu.Unlock()
	if !ok {
		writeJSON(w, http.StatusNotFound, ErrorBody{Detail: "Report not found", Code: CodeNotFound})
		return
	}

	switch {
	case len(parts) == 2 && r.Method == http.MethodGet:
		f.mu.Lock()
		cp := *rep
		f.mu.Unlock()
		writeJSON(w, http.StatusOK, cp)
	case len(parts) == 2 && r.Method == http.MethodDelete:
		f.mu.Lock()
		delete(f.reports, id)
		f.mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	case len(parts) == 3 && parts[2] == "metrics":
		writeJSON(w, http.StatusOK, []PerformanceMetric{{ID: 1, ReportID: id, Category: CategoryLoadProfile, Data: json.RawMessage(`{"DB Time(s)":{"per_second":1.5}}`)}})
	case len(parts) == 3 && parts[2] == "analyze" && r.Method == http.MethodPost:
		f.analyze(w, id, rep)
	case len(parts) == 3 && parts[2] == "diagnostics":
		f.mu.Lock()
		run := f.runs[id]
		results := f.diagnostics[id]
		failedRun, failMsg := f.failed[id], f.failMsgs[id]
		f.mu.Unlock()
		if failedRun > run {
			writeJSON(w, http.StatusInternalServerError, ErrorBody{
				Detail: failMsg,
				Code:   CodeAnalysisFailed,
				RunID:  failedRun,
			})
			return
		}
		if run == 0 {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		// Wrong counts on purpose: the client must recompute them.
		writeJSON(w, http.StatusOK, map[string]any{
			"report_id":   id,
			"run_id":      run,
			"summary":     SeverityCounts{Critical: 99},
			"diagnostics": results,
		})
	default:
		http.NotFound(w, r)
	}
}

func (f *fakeService) analyze(w http.ResponseWriter, id int64, rep *Report) {
	f.mu.Lock()
	if rep.Status != StatusParsed {
		st := rep.Status
		f.mu.Unlock()
		writeJSON(w, http.StatusConflict, ErrorBody{
			Detail: fmt.Sprintf("report is %s, only parsed reports can be analyzed", st),
			Code:   CodeInvalidState,
			Status: st,
		})
		return
	}
	f.nextID++
	run := f.nextID
	async := f.asyncAnalysis
	if async {
		f.pendingRuns[id] = append(f.pendingRuns[id], run)
	} else {
		f.storeRun(id, run)
	}
	hook := f.analyzeHook
	f.mu.Unlock()
	if hook != nil {
		hook(id, run)
	}
	status := http.StatusOK
	if async {
		status = http.StatusAccepted
	}
	writeJSON(w, status, AnalysisAck{ReportID: id, RunID: run, Message: "Analysis started", Complete: !async})
}

func (f *fakeService) list(w http.ResponseWriter, r *http.Request) {
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	size, _ := strconv.Atoi(r.URL.Query().Get("page_size"))
	if page < 1 {
		page = 1
	}
	if size < 1 {
		size = DefaultPageSize
	}
	status := r.URL.Query().Get("status")

	f.mu.Lock()
	var all []Report
	for _, rep := range f.reports {
		if status != "" && string(rep.Status) != status {
			continue
		}
		all = append(all, *rep)
	}
	f.mu.Unlock()
	sort.Slice(all, func(i, j int) bool { return all[i].ID < all[j].ID })

	start := (page - 1) * size
	end := start + size
	if start > len(all) {
		start = len(all)
	}
	if end > len(all) {
		end = len(all)
	}
	writeJSON(w, http.StatusOK, ReportPage{Items: all[start:end], Total: len(all), Page: page, PageSize: size})
}

func (f *fakeService) upload(w http.ResponseWriter, r *http.Request) {
	file, hdr, err := r.FormFile("file")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorBody{Detail: "file is required", Code: CodeValidation})
		return
	}
	defer file.Close()
	id := f.add(Report{Filename: hdr.Filename, FileSize: hdr.Size, Status: StatusPending})
	f.mu.Lock()
	rep := *f.reports[id]
	f.mu.Unlock()
	writeJSON(w, http.StatusCreated, rep.Handle())
}
