package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/go-cmp/cmp"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"awrlens/internal/awr"
	"awrlens/internal/diagnose"
	"awrlens/internal/ingest"
	"awrlens/internal/store"
)

const fixturePath = "../awrparse/testdata/awr19c.html"

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	os.Exit(m.Run())
}

type harness struct {
	store   store.Store
	metrics *Metrics
	server  *Server
	http    *httptest.Server
	client  *awr.Client
}

// newHarness serves a real router over a MemStore. Parse workers run only
// when workers is true, so tests that seed reports directly stay in control
// of their status.
func newHarness(t *testing.T, workers bool, opts ...Option) *harness {
	t.Helper()
	return newHarnessOver(t, store.NewMemStore(), workers, opts...)
}

// newHarnessOver is newHarness over a caller-supplied store.
func newHarnessOver(t *testing.T, st store.Store, workers bool, opts ...Option) *harness {
	t.Helper()
	m := NewMetrics()
	blobs, err := ingest.NewBlobStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewBlobStore: %v", err)
	}
	svc := ingest.NewService(st, blobs, ingest.WithParseHook(m.ObserveParse))
	rules, err := diagnose.DefaultRules()
	if err != nil {
		t.Fatalf("DefaultRules: %v", err)
	}
	engine, err := diagnose.NewEngine(rules)
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	analyzer := diagnose.NewAnalyzer(st, engine, diagnose.WithRunHook(m.ObserveRun))

	if workers {
		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan error, 1)
		go func() { done <- svc.Run(ctx) }()
		t.Cleanup(func() {
			cancel()
			<-done
		})
	}

	srv := New(st, svc, analyzer, append([]Option{WithMetrics(m)}, opts...)...)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	t.Cleanup(analyzer.Wait)

	cfg := awr.DefaultConfig()
	cfg.BaseURL = ts.URL + APIPrefix
	cfg.Timeout = 5 * time.Second
	cfg.Poll = awr.PollConfig{InitialInterval: 10 * time.Millisecond, MaxInterval: 50 * time.Millisecond, MaxElapsed: 5 * time.Second}
	client, err := awr.New(cfg, awr.WithHTTPClient(ts.Client()))
	if err != nil {
		t.Fatalf("awr.New: %v", err)
	}
	return &harness{store: st, metrics: m, server: srv, http: ts, client: client}
}

// parsed uploads the fixture and waits for it to parse.
func (h *harness) parsed(t *testing.T) int64 {
	t.Helper()
	ctx := context.Background()
	handle, err := h.client.SubmitFile(ctx, fixturePath)
	if err != nil {
		t.Fatalf("SubmitFile: %v", err)
	}
	r, err := h.client.WaitForTerminal(ctx, handle.ID, nil)
	if err != nil {
		t.Fatalf("WaitForTerminal: %v", err)
	}
	if r.Status != awr.StatusParsed {
		t.Fatalf("report %d is %s: %s", r.ID, r.Status, r.ErrorText())
	}
	return r.ID
}

func (h *harness) seed(t *testing.T, n int) []int64 {
	t.Helper()
	ids := make([]int64, n)
	for i := range ids {
		r, err := h.store.CreateReport(fmt.Sprintf("r%d.html", i), fmt.Sprintf("missing-%d.html", i), 100)
		if err != nil {
			t.Fatalf("CreateReport: %v", err)
		}
		ids[i] = r.ID
	}
	return ids
}

func TestUploadParseAnalyze(t *testing.T) {
	h := newHarness(t, true)
	ctx := context.Background()

	handle, err := h.client.SubmitFile(ctx, fixturePath)
	if err != nil {
		t.Fatalf("SubmitFile: %v", err)
	}
	if handle.Status != awr.StatusPending || handle.Filename != "awr19c.html" {
		t.Errorf("handle = %+v", handle)
	}
	r, err := h.client.WaitForTerminal(ctx, handle.ID, nil)
	if err != nil {
		t.Fatalf("WaitForTerminal: %v", err)
	}
	if r.Status != awr.StatusParsed || r.DBName == nil || *r.DBName != "PRODDB" {
		t.Fatalf("report = %+v", r)
	}
	if err := r.CheckConsistency(); err != nil {
		t.Errorf("CheckConsistency: %v", err)
	}

	metrics, err := h.client.Metrics(ctx, r.ID, "")
	if err != nil {
		t.Fatalf("Metrics: %v", err)
	}
	var cats []string
	for _, m := range metrics {
		cats = append(cats, m.Category)
	}
	if diff := cmp.Diff(awr.MetricCategories, cats); diff != "" {
		t.Errorf("metric categories (-want +got):\n%s", diff)
	}

	ack, err := h.client.TriggerAnalysis(ctx, r.ID)
	if err != nil {
		t.Fatalf("TriggerAnalysis: %v", err)
	}
	if !ack.Complete || ack.RunID != 1 || ack.ReportID != r.ID {
		t.Errorf("ack = %+v", ack)
	}
	summary, found, err := h.client.Diagnostics(ctx, r.ID)
	if err != nil || !found {
		t.Fatalf("Diagnostics: found=%v err=%v", found, err)
	}
	if summary.RunID != ack.RunID || len(summary.Diagnostics) == 0 {
		t.Errorf("summary run %d with %d findings", summary.RunID, len(summary.Diagnostics))
	}
	for _, sev := range awr.Severities {
		if got, want := summary.Summary.Get(sev), len(summary.BySeverity(sev)); got != want {
			t.Errorf("summary[%s] = %d, want %d", sev, got, want)
		}
	}

	if got := testutil.ToFloat64(h.metrics.uploads.WithLabelValues(UploadAccepted)); got != 1 {
		t.Errorf("accepted uploads = %v", got)
	}
	if got := testutil.ToFloat64(h.metrics.parses.WithLabelValues(ingest.ResultParsed)); got != 1 {
		t.Errorf("parsed count = %v", got)
	}
	if got := testutil.ToFloat64(h.metrics.runs.WithLabelValues("applied")); got != 1 {
		t.Errorf("applied runs = %v", got)
	}
}

func TestSubmit_RejectedLocally(t *testing.T) {
	h := newHarness(t, false)
	_, err := h.client.Submit(context.Background(), []byte("not html"), "notes.txt")
	if !awr.IsValidation(err) {
		t.Fatalf("Submit(.txt) = %v, want ValidationError", err)
	}
	if n := testutil.CollectAndCount(h.metrics.requests); n != 0 {
		t.Errorf("server saw %d request series, want none", n)
	}
}

func postFile(t *testing.T, h *harness, field, filename string, data []byte) (*http.Response, awr.ErrorBody) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile(field, filename)
	if err != nil {
		t.Fatal(err)
	}
	part.Write(data)
	mw.Close()
	resp, err := h.http.Client().Post(h.http.URL+APIPrefix+"/reports/upload", mw.FormDataContentType(), &buf)
	if err != nil {
		t.Fatalf("POST upload: %v", err)
	}
	defer resp.Body.Close()
	var body awr.ErrorBody
	raw, _ := io.ReadAll(resp.Body)
	_ = json.Unmarshal(raw, &body)
	return resp, body
}

func TestUpload_ServerSideValidation(t *testing.T) {
	h := newHarness(t, false, WithUploadLimits(1024, nil))

	tests := []struct {
		name     string
		field    string
		filename string
		size     int
		status   int
		code     string
	}{
		{"wrong extension", "file", "notes.txt", 10, http.StatusBadRequest, awr.CodeValidation},
		{"missing file field", "upload", "awr.html", 10, http.StatusBadRequest, awr.CodeValidation},
		{"empty", "file", "awr.html", 0, http.StatusBadRequest, awr.CodeValidation},
		{"over the ceiling", "file", "awr.html", 2048, http.StatusRequestEntityTooLarge, awr.CodePayloadTooLarge},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, body := postFile(t, h, tt.field, tt.filename, bytes.Repeat([]byte("x"), tt.size))
			if resp.StatusCode != tt.status || body.Code != tt.code || body.Detail == "" {
				t.Errorf("got %d %+v, want %d %s", resp.StatusCode, body, tt.status, tt.code)
			}
		})
	}
	if _, total, _ := h.store.ListReports(store.ReportFilter{}); total != 0 {
		t.Errorf("rejected uploads created %d reports", total)
	}
}

func TestUpload_TooLargeThroughClient(t *testing.T) {
	h := newHarness(t, false, WithUploadLimits(1024, nil))
	_, err := h.client.Submit(context.Background(), bytes.Repeat([]byte("x"), 4096), "big.html")
	var apiErr *awr.APIError
	if !errors.As(err, &apiErr) || apiErr.StatusCode() != http.StatusRequestEntityTooLarge || apiErr.Code() != awr.CodePayloadTooLarge {
		t.Fatalf("Submit = %v, want 413 payload_too_large", err)
	}
	if !strings.Contains(awr.UserMessage(err), "1024 bytes") {
		t.Errorf("message = %q", awr.UserMessage(err))
	}
}

func TestUpload_IdempotencyKeyReplays(t *testing.T) {
	h := newHarness(t, false)
	ctx := context.Background()
	data, err := os.ReadFile(fixturePath)
	if err != nil {
		t.Fatal(err)
	}
	key := awr.NewIdempotencyKey()

	first, err := h.client.Submit(ctx, data, "awr.html", awr.WithIdempotencyKey(key))
	if err != nil {
		t.Fatalf("first Submit: %v", err)
	}
	again, err := h.client.Submit(ctx, data, "awr.html", awr.WithIdempotencyKey(key))
	if err != nil {
		t.Fatalf("retried Submit: %v", err)
	}
	if again.ID != first.ID {
		t.Errorf("retry created report %d, want replay of %d", again.ID, first.ID)
	}
	other, err := h.client.Submit(ctx, data, "awr.html")
	if err != nil {
		t.Fatalf("keyless Submit: %v", err)
	}
	if other.ID == first.ID {
		t.Error("a fresh key must create a new report")
	}
	if got := testutil.ToFloat64(h.metrics.uploads.WithLabelValues(UploadReplayed)); got != 1 {
		t.Errorf("replayed = %v", got)
	}

	// Once the report is gone the key no longer replays it.
	if err := h.client.Delete(ctx, first.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	fresh, err := h.client.Submit(ctx, data, "awr.html", awr.WithIdempotencyKey(key))
	if err != nil {
		t.Fatalf("Submit after delete: %v", err)
	}
	if fresh.ID == first.ID {
		t.Error("deleted report replayed")
	}
}

func TestAnalyze_NotParsed(t *testing.T) {
	h := newHarness(t, false)
	ctx := context.Background()
	id := h.seed(t, 1)[0]

	_, err := h.client.TriggerAnalysis(ctx, id)
	var isErr *awr.InvalidStateError
	if !errors.As(err, &isErr) {
		t.Fatalf("TriggerAnalysis = %v, want InvalidStateError", err)
	}
	if isErr.Status() != awr.StatusPending || isErr.ReportID() != id {
		t.Errorf("invalid state = %s for %d", isErr.Status(), isErr.ReportID())
	}
	if _, found, err := h.client.Diagnostics(ctx, id); err != nil || found {
		t.Errorf("Diagnostics after rejected trigger: found=%v err=%v", found, err)
	}
	if _, err := h.client.Metrics(ctx, id, ""); !awr.IsInvalidState(err) {
		t.Errorf("Metrics on pending = %v, want InvalidStateError", err)
	}
	if _, err := h.client.Reparse(ctx, id); !awr.IsInvalidState(err) {
		t.Errorf("Reparse on pending = %v, want InvalidStateError", err)
	}
}

func TestAnalyze_LastTriggerWins(t *testing.T) {
	h := newHarness(t, true)
	ctx := context.Background()
	id := h.parsed(t)

	first, err := h.client.TriggerAnalysis(ctx, id)
	if err != nil {
		t.Fatal(err)
	}
	second, err := h.client.TriggerAnalysis(ctx, id)
	if err != nil {
		t.Fatal(err)
	}
	if second.RunID <= first.RunID {
		t.Fatalf("run ids %d then %d", first.RunID, second.RunID)
	}
	summary, _, err := h.client.Diagnostics(ctx, id)
	if err != nil || summary.RunID != second.RunID {
		t.Errorf("diagnostics run = %v (%v), want %d", summary, err, second.RunID)
	}
}

func TestAnalyze_Async(t *testing.T) {
	h := newHarness(t, true, WithAsyncAnalysis(true))
	ctx := context.Background()
	id := h.parsed(t)

	ack, err := h.client.TriggerAnalysis(ctx, id)
	if err != nil {
		t.Fatalf("TriggerAnalysis: %v", err)
	}
	if ack.Complete {
		t.Errorf("async ack should not be complete: %+v", ack)
	}
	summary, err := h.client.WaitForDiagnostics(ctx, id, ack.RunID)
	if err != nil {
		t.Fatalf("WaitForDiagnostics: %v", err)
	}
	if summary.RunID < ack.RunID {
		t.Errorf("run %d older than ack %d", summary.RunID, ack.RunID)
	}
}

func TestDiagnostics_NoRunYet(t *testing.T) {
	h := newHarness(t, true)
	id := h.parsed(t)
	summary, found, err := h.client.Diagnostics(context.Background(), id)
	if err != nil || found || summary != nil {
		t.Errorf("Diagnostics = %v %v %v, want not found without error", summary, found, err)
	}
}

func TestList_PageAfterDelete(t *testing.T) {
	h := newHarness(t, false)
	ctx := context.Background()
	h.seed(t, 15)

	page, err := h.client.List(ctx, awr.WithPage(2), awr.WithPageSize(10))
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(page.Items) != 5 || page.Total != 15 || page.Page != 2 || page.PageSize != 10 {
		t.Fatalf("page 2 = %d items, total %d", len(page.Items), page.Total)
	}
	gone := page.Items[2].ID
	if err := h.client.Delete(ctx, gone); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	page, err = h.client.List(ctx, awr.WithPage(2), awr.WithPageSize(10))
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(page.Items) != 4 || page.Total != 14 {
		t.Errorf("after delete: %d items, total %d", len(page.Items), page.Total)
	}
	for _, r := range page.Items {
		if r.ID == gone {
			t.Errorf("deleted report %d still listed", gone)
		}
	}
	err = h.client.Delete(ctx, gone)
	if !awr.IsNotFound(err) || awr.UserMessage(err) != "Report not found" {
		t.Errorf("second Delete = %v", err)
	}
}

func TestList_Parameters(t *testing.T) {
	h := newHarness(t, false)
	h.seed(t, 3)
	tests := []struct {
		query  string
		status int
		detail string
		size   int
	}{
		{"?page_size=500", http.StatusOK, "", awr.MaxPageSize},
		{"?page_size=0", http.StatusOK, "", 1},
		{"?status=pending", http.StatusOK, "", awr.DefaultPageSize},
		{"?status=done", http.StatusBadRequest, "unknown status", 0},
		{"?page=two", http.StatusBadRequest, "invalid page", 0},
		{"?date_from=15/01/2024", http.StatusBadRequest, "Invalid date_from format (use YYYY-MM-DD)", 0},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			resp, err := h.http.Client().Get(h.http.URL + APIPrefix + "/reports" + tt.query)
			if err != nil {
				t.Fatal(err)
			}
			defer resp.Body.Close()
			raw, _ := io.ReadAll(resp.Body)
			if resp.StatusCode != tt.status {
				t.Fatalf("status = %d: %s", resp.StatusCode, raw)
			}
			if tt.status != http.StatusOK {
				var body awr.ErrorBody
				_ = json.Unmarshal(raw, &body)
				if !strings.Contains(body.Detail, tt.detail) || body.Code != awr.CodeValidation {
					t.Errorf("error body = %+v", body)
				}
				return
			}
			var page awr.ReportPage
			if err := json.Unmarshal(raw, &page); err != nil {
				t.Fatal(err)
			}
			if page.PageSize != tt.size {
				t.Errorf("page_size = %d, want %d", page.PageSize, tt.size)
			}
		})
	}
}

func TestReparse(t *testing.T) {
	h := newHarness(t, true)
	ctx := context.Background()
	id := h.parsed(t)

	handle, err := h.client.Reparse(ctx, id)
	if err != nil {
		t.Fatalf("Reparse: %v", err)
	}
	if handle.ID == id || handle.Status != awr.StatusPending {
		t.Errorf("reparse handle = %+v", handle)
	}
	r, err := h.client.WaitForTerminal(ctx, handle.ID, nil)
	if err != nil || r.Status != awr.StatusParsed {
		t.Fatalf("reparsed report = %v %v", r, err)
	}
	orig, _ := h.client.Get(ctx, id)
	if orig.Status != awr.StatusParsed {
		t.Errorf("original is now %s", orig.Status)
	}
}

func TestGetMetricCategory(t *testing.T) {
	h := newHarness(t, true)
	id := h.parsed(t)
	get := func(path string) (int, map[string]json.RawMessage) {
		resp, err := h.http.Client().Get(fmt.Sprintf("%s%s/reports/%d%s", h.http.URL, APIPrefix, id, path))
		if err != nil {
			t.Fatal(err)
		}
		defer resp.Body.Close()
		var body map[string]json.RawMessage
		_ = json.NewDecoder(resp.Body).Decode(&body)
		return resp.StatusCode, body
	}
	status, body := get("/metrics/load_profile")
	if status != http.StatusOK || string(body["category"]) != `"load_profile"` || len(body["data"]) == 0 {
		t.Errorf("load_profile = %d %v", status, body)
	}
	status, body = get("/metrics/sql_stats")
	if status != http.StatusNotFound || !strings.Contains(string(body["detail"]), "Metrics not found for category: sql_stats") {
		t.Errorf("sql_stats = %d %v", status, body)
	}
	if _, err := h.client.Metrics(context.Background(), id, "bogus"); !awr.HasStatusCode(err, http.StatusBadRequest) {
		t.Errorf("Metrics(bogus) = %v", err)
	}
}

func TestNotFound(t *testing.T) {
	h := newHarness(t, false)
	ctx := context.Background()
	_, err := h.client.Get(ctx, 999)
	var apiErr *awr.APIError
	if !errors.As(err, &apiErr) || apiErr.StatusCode() != http.StatusNotFound || apiErr.Code() != awr.CodeNotFound || apiErr.Detail() != "Report not found" {
		t.Errorf("Get(999) = %v", err)
	}
	if _, err := h.client.TriggerAnalysis(ctx, 999); !awr.IsNotFound(err) {
		t.Errorf("TriggerAnalysis(999) = %v", err)
	}
	if _, _, err := h.client.Diagnostics(ctx, 999); !awr.IsNotFound(err) {
		t.Errorf("Diagnostics(999) = %v", err)
	}
}

func TestHealthAndMetricsEndpoints(t *testing.T) {
	h := newHarness(t, false)
	if _, err := h.client.List(context.Background()); err != nil {
		t.Fatal(err)
	}

	resp, err := h.http.Client().Get(h.http.URL + "/healthz")
	if err != nil || resp.StatusCode != http.StatusOK {
		t.Fatalf("healthz: %v %v", resp, err)
	}
	resp.Body.Close()

	resp, err = h.http.Client().Get(h.http.URL + "/metrics")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(resp.Body)
	want := `awrlens_http_requests_total{method="GET",route="/api/v1/reports",status="200"} 1`
	if !strings.Contains(string(raw), want) {
		t.Errorf("scrape missing %q", want)
	}
}

// stolenKey hands the key to a report that no longer exists the first time
// it is claimed, as if a concurrent upload won and was deleted at once.
type stolenKey struct {
	*MemIdempotency
	once sync.Once
}

func (k *stolenKey) Claim(ctx context.Context, key string, id int64) (int64, error) {
	k.once.Do(func() { _, _ = k.MemIdempotency.Claim(ctx, key, 9999) })
	return k.MemIdempotency.Claim(ctx, key, id)
}

func TestUpload_ClaimAfterOwnerVanished(t *testing.T) {
	h := newHarness(t, false, WithIdempotency(&stolenKey{MemIdempotency: NewMemIdempotency(0)}))
	ctx := context.Background()
	data, err := os.ReadFile(fixturePath)
	if err != nil {
		t.Fatal(err)
	}
	key := awr.NewIdempotencyKey()

	handle, err := h.client.Submit(ctx, data, "awr.html", awr.WithIdempotencyKey(key))
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if _, err := h.client.Get(ctx, handle.ID); err != nil {
		t.Fatalf("returned handle %d points at a missing report: %v", handle.ID, err)
	}
	again, err := h.client.Submit(ctx, data, "awr.html", awr.WithIdempotencyKey(key))
	if err != nil {
		t.Fatalf("retried Submit: %v", err)
	}
	if again.ID != handle.ID {
		t.Errorf("retry got report %d, want %d", again.ID, handle.ID)
	}
	if got := testutil.ToFloat64(h.metrics.uploads.WithLabelValues(UploadAccepted)); got != 1 {
		t.Errorf("accepted = %v", got)
	}
}

func TestDelete_NoContent(t *testing.T) {
	h := newHarness(t, false)
	id := h.seed(t, 1)[0]

	req, err := http.NewRequest(http.MethodDelete, fmt.Sprintf("%s%s/reports/%d", h.http.URL, APIPrefix, id), nil)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := h.http.Client().Do(req)
	if err != nil {
		t.Fatalf("DELETE: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent || len(body) != 0 {
		t.Errorf("DELETE = %d %q, want 204 with no body", resp.StatusCode, body)
	}
}

// brokenDiagnostics fails every attempt to store findings.
type brokenDiagnostics struct {
	store.Store
}

func (brokenDiagnostics) ReplaceDiagnostics(int64, int64, []awr.DiagnosticResult) (bool, error) {
	return false, errors.New("disk full")
}

func TestAnalyze_AsyncFailureEndsWait(t *testing.T) {
	h := newHarnessOver(t, brokenDiagnostics{store.NewMemStore()}, true, WithAsyncAnalysis(true))
	ctx := context.Background()
	id := h.parsed(t)

	ack, err := h.client.TriggerAnalysis(ctx, id)
	if err != nil {
		t.Fatalf("TriggerAnalysis: %v", err)
	}
	start := time.Now()
	_, err = h.client.WaitForDiagnostics(ctx, id, ack.RunID)
	var failed *awr.AnalysisFailedError
	if !errors.As(err, &failed) {
		t.Fatalf("WaitForDiagnostics = %v, want an analysis failure", err)
	}
	if failed.RunID() != ack.RunID || !strings.Contains(awr.UserMessage(err), "disk full") {
		t.Errorf("failure = run %d, %q", failed.RunID(), awr.UserMessage(err))
	}
	if elapsed := time.Since(start); elapsed > 3*time.Second {
		t.Errorf("wait took %s, it should stop once the run failed", elapsed)
	}

	resp, err := h.http.Client().Get(fmt.Sprintf("%s%s/reports/%d/diagnostics", h.http.URL, APIPrefix, id))
	if err != nil {
		t.Fatalf("GET diagnostics: %v", err)
	}
	defer resp.Body.Close()
	var body awr.ErrorBody
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.StatusCode != http.StatusInternalServerError || body.Code != awr.CodeAnalysisFailed || body.RunID != ack.RunID {
		t.Errorf("diagnostics = %d %+v", resp.StatusCode, body)
	}
}
