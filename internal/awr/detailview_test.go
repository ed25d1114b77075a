package awr

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

func runFindings(id, run int64) []DiagnosticResult {
	return []DiagnosticResult{{ReportID: id, Severity: SeverityHigh, IssueTitle: fmt.Sprintf("run-%d", run)}}
}

type analyzeOutcome struct {
	summary *DiagnosticSummary
	err     error
}

func TestDetailView_LastTriggerWins(t *testing.T) {
	f := newFakeService()
	f.findings = runFindings
	f.asyncAnalysis = true
	triggered := make(chan int64, 2)
	f.analyzeHook = func(_ int64, run int64) { triggered <- run }
	id := f.add(parsedReport(0, "PRODDB"))
	_, c := f.start(t)

	v := NewDetailView(context.Background(), c, id)
	defer v.Close()
	if err := v.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh: %v", err)
	}

	first := make(chan analyzeOutcome, 1)
	go func() {
		s, err := v.Analyze(context.Background())
		first <- analyzeOutcome{s, err}
	}()
	runA := <-triggered

	second := make(chan analyzeOutcome, 1)
	go func() {
		s, err := v.Analyze(context.Background())
		second <- analyzeOutcome{s, err}
	}()
	runB := <-triggered

	if !v.Snapshot().AnalysisPending {
		t.Error("expected AnalysisPending while runs are in flight")
	}

	f.completeRun(id, runA)
	select {
	case out := <-first:
		if !errors.Is(out.err, ErrSuperseded) {
			t.Fatalf("first Analyze: expected ErrSuperseded, got summary=%+v err=%v", out.summary, out.err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("first Analyze did not return")
	}
	if snap := v.Snapshot(); snap.Diagnostics != nil {
		t.Errorf("stale run leaked into snapshot: %+v", snap.Diagnostics)
	}

	f.completeRun(id, runB)
	select {
	case out := <-second:
		if out.err != nil {
			t.Fatalf("second Analyze: %v", out.err)
		}
		if out.summary.RunID != runB {
			t.Errorf("second Analyze got run %d, want %d", out.summary.RunID, runB)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("second Analyze did not return")
	}

	snap := v.Snapshot()
	if snap.Diagnostics == nil || snap.Diagnostics.Diagnostics[0].IssueTitle != fmt.Sprintf("run-%d", runB) {
		t.Errorf("snapshot diagnostics = %+v", snap.Diagnostics)
	}
	if snap.AnalysisPending {
		t.Error("AnalysisPending should clear once the newest run arrives")
	}
}

func TestDetailView_CloseDiscardsInFlight(t *testing.T) {
	f := newFakeService()
	f.findings = runFindings
	f.asyncAnalysis = true
	triggered := make(chan int64, 1)
	f.analyzeHook = func(_ int64, run int64) { triggered <- run }
	id := f.add(parsedReport(0, "PRODDB"))
	_, c := f.start(t)

	v := NewDetailView(context.Background(), c, id)
	done := make(chan error, 1)
	go func() {
		_, err := v.Analyze(context.Background())
		done <- err
	}()
	<-triggered
	v.Close()

	select {
	case err := <-done:
		if !errors.Is(err, ErrViewClosed) {
			t.Fatalf("expected ErrViewClosed, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Analyze did not stop after Close")
	}
	if err := v.Refresh(context.Background()); !errors.Is(err, ErrViewClosed) {
		t.Errorf("Refresh after Close: %v", err)
	}
}

func TestDetailView_SnapshotFollowsStatus(t *testing.T) {
	f := newFakeService()
	id := f.add(Report{Filename: "report1.html", Status: StatusParsing})
	_, c := f.start(t)
	ctx := context.Background()

	v := NewDetailView(ctx, c, id)
	defer v.Close()
	if err := v.Refresh(ctx); err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	snap := v.Snapshot()
	if snap.Report.Status != StatusParsing || snap.Metrics != nil || snap.Report.DBName != nil {
		t.Errorf("parsing snapshot = %+v", snap)
	}

	f.mu.Lock()
	rep := parsedReport(id, "PRODDB")
	f.reports[id] = &rep
	f.mu.Unlock()

	if err := v.Refresh(ctx); err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	snap = v.Snapshot()
	if snap.Report.Status != StatusParsed || snap.Report.DBName == nil || *snap.Report.DBName != "PRODDB" {
		t.Errorf("parsed snapshot = %+v", snap.Report)
	}
	if len(snap.Metrics) != 1 {
		t.Errorf("expected metrics once parsed, got %d", len(snap.Metrics))
	}
	if snap.Diagnostics != nil {
		t.Error("no run has completed, diagnostics must be absent")
	}
}

func TestDetailView_AnalyzeNotParsedKeepsState(t *testing.T) {
	f := newFakeService()
	id := f.add(Report{Filename: "report1.html", Status: StatusPending})
	_, c := f.start(t)

	v := NewDetailView(context.Background(), c, id)
	defer v.Close()
	_, err := v.Analyze(context.Background())
	if !IsInvalidState(err) {
		t.Fatalf("expected InvalidStateError, got %v", err)
	}
	if got := UserMessage(err); got != fmt.Sprintf("report %d cannot be analyzed while it is pending", id) {
		t.Errorf("UserMessage = %q", got)
	}
	if v.Snapshot().AnalysisPending {
		t.Error("AnalysisPending must clear after a rejected trigger")
	}
}

func TestDetailView_RefreshDuringAnalysisKeepsPending(t *testing.T) {
	f := newFakeService()
	f.findings = runFindings
	id := f.add(parsedReport(0, "PRODDB"))
	oldRun := f.seedRun(id)
	f.asyncAnalysis = true
	triggered := make(chan int64, 1)
	f.analyzeHook = func(_ int64, run int64) { triggered <- run }
	_, c := f.start(t)
	ctx := context.Background()

	v := NewDetailView(ctx, c, id)
	defer v.Close()
	if err := v.Refresh(ctx); err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if snap := v.Snapshot(); snap.Diagnostics == nil || snap.Diagnostics.RunID != oldRun {
		t.Fatalf("initial diagnostics = %+v", snap.Diagnostics)
	}

	done := make(chan analyzeOutcome, 1)
	go func() {
		s, err := v.Analyze(ctx)
		done <- analyzeOutcome{s, err}
	}()
	newRun := <-triggered
	// Let the trigger response land before refreshing.
	deadline := time.Now().Add(2 * time.Second)
	for {
		v.mu.Lock()
		acked := v.pendingRun == newRun
		v.mu.Unlock()
		if acked || time.Now().After(deadline) {
			break
		}
		time.Sleep(time.Millisecond)
	}

	if err := v.Refresh(ctx); err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	snap := v.Snapshot()
	if snap.Diagnostics != nil {
		t.Errorf("run %d shown after run %d was triggered", snap.Diagnostics.RunID, newRun)
	}
	if !snap.AnalysisPending {
		t.Error("refresh cleared the pending analysis")
	}

	f.completeRun(id, newRun)
	select {
	case out := <-done:
		if out.err != nil || out.summary.RunID != newRun {
			t.Fatalf("Analyze: summary=%+v err=%v", out.summary, out.err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Analyze did not return")
	}
	if err := v.Refresh(ctx); err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	snap = v.Snapshot()
	if snap.AnalysisPending || snap.Diagnostics == nil || snap.Diagnostics.RunID != newRun {
		t.Errorf("final snapshot: pending=%v diagnostics=%+v", snap.AnalysisPending, snap.Diagnostics)
	}
}

func TestDetailView_TriggerThenRefresh(t *testing.T) {
	f := newFakeService()
	f.findings = runFindings
	id := f.add(parsedReport(0, "PRODDB"))
	f.seedRun(id)
	f.asyncAnalysis = true
	_, c := f.start(t)
	ctx := context.Background()

	v := NewDetailView(ctx, c, id)
	defer v.Close()
	ack, err := v.Trigger(ctx)
	if err != nil {
		t.Fatalf("Trigger: %v", err)
	}
	if err := v.Refresh(ctx); err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if snap := v.Snapshot(); !snap.AnalysisPending || snap.Diagnostics != nil {
		t.Errorf("before the run lands: pending=%v diagnostics=%+v", snap.AnalysisPending, snap.Diagnostics)
	}

	f.completeRun(id, ack.RunID)
	if err := v.Refresh(ctx); err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	snap := v.Snapshot()
	if snap.AnalysisPending || snap.Diagnostics == nil || snap.Diagnostics.RunID != ack.RunID {
		t.Errorf("after the run lands: pending=%v diagnostics=%+v", snap.AnalysisPending, snap.Diagnostics)
	}
}

func TestDetailView_AnalyzeReportsFailedRun(t *testing.T) {
	f := newFakeService()
	f.findings = runFindings
	f.asyncAnalysis = true
	triggered := make(chan int64, 1)
	f.analyzeHook = func(_ int64, run int64) { triggered <- run }
	id := f.add(parsedReport(0, "PRODDB"))
	_, c := f.start(t)
	ctx := context.Background()

	v := NewDetailView(ctx, c, id)
	defer v.Close()
	if err := v.Refresh(ctx); err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	done := make(chan error, 1)
	go func() {
		_, err := v.Analyze(ctx)
		done <- err
	}()
	run := <-triggered
	f.failRun(id, run, "Analysis run failed: load metrics: broken")

	select {
	case err := <-done:
		if !IsAnalysisFailed(err) {
			t.Fatalf("expected an analysis failure, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Analyze kept polling after the run failed")
	}
	snap := v.Snapshot()
	if snap.AnalysisPending || snap.AnalysisError != "Analysis run failed: load metrics: broken" {
		t.Errorf("snapshot: pending=%v error=%q", snap.AnalysisPending, snap.AnalysisError)
	}

	if err := v.Refresh(ctx); err != nil {
		t.Fatalf("Refresh with a failed run: %v", err)
	}
	if snap := v.Snapshot(); snap.AnalysisError == "" || snap.Diagnostics != nil {
		t.Errorf("refresh lost the failure: %+v", snap)
	}
}
