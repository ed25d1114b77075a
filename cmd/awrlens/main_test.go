package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"awrlens/internal/awr"
	"awrlens/internal/config"
	"awrlens/internal/diagnose"
	"awrlens/internal/ingest"
	"awrlens/internal/server"
	"awrlens/internal/store"
)

const fixturePath = "../../internal/awrparse/testdata/awr19c.html"

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	os.Exit(m.Run())
}

// backend serves the real API over a MemStore and points the CLI at it
// with fast polling.
func backend(t *testing.T) (string, store.Store) {
	t.Helper()
	st := store.NewMemStore()
	blobs, err := ingest.NewBlobStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	svc := ingest.NewService(st, blobs)
	rules, err := diagnose.DefaultRules()
	if err != nil {
		t.Fatal(err)
	}
	engine, err := diagnose.NewEngine(rules)
	if err != nil {
		t.Fatal(err)
	}
	analyzer := diagnose.NewAnalyzer(st, engine)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	ts := httptest.NewServer(server.New(st, svc, analyzer).Handler())
	t.Cleanup(ts.Close)
	t.Cleanup(analyzer.Wait)

	t.Setenv(config.EnvPrefix+"POLL_INITIAL", "10ms")
	t.Setenv(config.EnvPrefix+"POLL_MAX", "50ms")
	t.Setenv(config.EnvPrefix+"POLL_MAX_ELAPSED", "5s")
	t.Setenv(config.EnvPrefix+"LOG_LEVEL", "error")
	return ts.URL + server.APIPrefix, st
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func mustRun(t *testing.T, args ...string) string {
	t.Helper()
	out, err := run(t, args...)
	if err != nil {
		t.Fatalf("awrlens %s: %v", strings.Join(args, " "), awr.UserMessage(err))
	}
	return out
}

func TestUploadListAnalyze(t *testing.T) {
	api, _ := backend(t)

	out := mustRun(t, "--api-url", api, "upload", "--wait", fixturePath)
	for _, want := range []string{"Report 1", "PRODDB", "Parsed"} {
		if !strings.Contains(out, want) {
			t.Errorf("upload --wait output missing %q:\n%s", want, out)
		}
	}

	out = mustRun(t, "--api-url", api, "-o", "json", "list", "--status", "parsed")
	var page awr.ReportPage
	if err := json.Unmarshal([]byte(out), &page); err != nil {
		t.Fatalf("list json: %v\n%s", err, out)
	}
	if page.Total != 1 || len(page.Items) != 1 || page.Items[0].ID != 1 {
		t.Errorf("page = %+v", page)
	}

	out = mustRun(t, "--api-url", api, "metrics", "1", "--category", awr.CategoryLoadProfile)
	if !strings.Contains(out, awr.CategoryLoadProfile) {
		t.Errorf("metrics output:\n%s", out)
	}

	out = mustRun(t, "--api-url", api, "diagnostics", "1")
	if !strings.Contains(out, "No analysis has run for report 1 yet.") {
		t.Errorf("diagnostics before analyze:\n%s", out)
	}

	out = mustRun(t, "--api-url", api, "analyze", "1")
	if !strings.Contains(out, "Report 1, run 1") {
		t.Errorf("analyze output:\n%s", out)
	}

	out = mustRun(t, "--api-url", api, "-o", "json", "diagnostics", "1", "--min-severity", "critical")
	var s awr.DiagnosticSummary
	if err := json.Unmarshal([]byte(out), &s); err != nil {
		t.Fatalf("diagnostics json: %v\n%s", err, out)
	}
	for _, d := range s.Diagnostics {
		if d.Severity != awr.SeverityCritical {
			t.Errorf("finding %s below the floor: %s", d.RuleID, d.Severity)
		}
	}
	if s.Summary.Total() != len(s.Diagnostics) {
		t.Errorf("summary %+v does not match %d findings", s.Summary, len(s.Diagnostics))
	}
}

func TestReparseAndDelete(t *testing.T) {
	api, _ := backend(t)
	mustRun(t, "--api-url", api, "upload", "--wait", fixturePath)

	out := mustRun(t, "--api-url", api, "reparse", "1")
	if !strings.Contains(out, "queued as report 2") {
		t.Errorf("reparse output: %s", out)
	}
	mustRun(t, "--api-url", api, "watch", "2")

	out = mustRun(t, "--api-url", api, "delete", "1")
	if !strings.Contains(out, "Report 1 deleted") {
		t.Errorf("delete output: %s", out)
	}
	_, err := run(t, "--api-url", api, "delete", "1")
	if !awr.IsNotFound(err) || awr.UserMessage(err) != "Report not found" {
		t.Errorf("second delete err = %v", err)
	}
}

func TestUpload_RejectedBeforeNetwork(t *testing.T) {
	api, st := backend(t)
	path := filepath.Join(t.TempDir(), "notes.txt")
	if err := os.WriteFile(path, []byte("hello"), 0o644); err != nil {
		t.Fatal(err)
	}
	_, err := run(t, "--api-url", api, "upload", path)
	if !awr.IsValidation(err) {
		t.Fatalf("err = %v, want a validation error", err)
	}
	if _, total, _ := st.ListReports(store.ReportFilter{Page: 1, PageSize: 10}); total != 0 {
		t.Errorf("rejected upload reached the server")
	}
}

func TestAnalyze_PendingReport(t *testing.T) {
	api, st := backend(t)
	if _, err := st.CreateReport("queued.html", "missing.html", 10); err != nil {
		t.Fatal(err)
	}
	_, err := run(t, "--api-url", api, "analyze", "1")
	if !awr.IsInvalidState(err) {
		t.Fatalf("err = %v, want invalid state", err)
	}
}

func TestArgumentErrors(t *testing.T) {
	api, _ := backend(t)
	tests := [][]string{
		{"show", "abc"},
		{"show", "0"},
		{"list", "--from", "01/02/2024"},
		{"list", "--status", "done"},
		{"diagnostics", "1", "--min-severity", "urgent"},
		{"upload", "--idempotency-key", "k", "a.html", "b.html"},
		{"-o", "csv", "list"},
	}
	for _, args := range tests {
		if _, err := run(t, append([]string{"--api-url", api}, args...)...); err == nil {
			t.Errorf("awrlens %s: expected an error", strings.Join(args, " "))
		}
	}
}

func TestServe_StartsAndStops(t *testing.T) {
	t.Setenv(config.EnvPrefix+"LOG_LEVEL", "error")
	sc := config.Default().Server
	sc.Addr = "127.0.0.1:0"
	sc.Storage = config.StorageMemory
	sc.DataDir = t.TempDir()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- serve(ctx, sc) }()
	time.Sleep(100 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("serve: %v", err)
		}
	case <-time.After(15 * time.Second):
		t.Fatal("serve did not stop")
	}
}

func TestOpenStore_UnknownStorage(t *testing.T) {
	if _, err := openStore(config.ServerConfig{Storage: "postgres"}); err == nil {
		t.Fatal("expected an error")
	}
}
