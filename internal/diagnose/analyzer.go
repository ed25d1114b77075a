package diagnose

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"awrlens/internal/awr"
	"awrlens/internal/logging"
	"awrlens/internal/store"
)

// RunHook is called after every completed run.
type RunHook func(reportID, runID int64, findings int, applied bool)

// Analyzer runs the engine for stored reports and records each run.
type Analyzer struct {
	store  store.Store
	engine *Engine
	logger *slog.Logger
	hook   RunHook
	wg     sync.WaitGroup
}

// AnalyzerOption configures an Analyzer.
type AnalyzerOption func(*Analyzer)

// WithRunHook registers a callback for completed runs.
func WithRunHook(h RunHook) AnalyzerOption {
	return func(a *Analyzer) { a.hook = h }
}

// NewAnalyzer returns an Analyzer over st.
func NewAnalyzer(st store.Store, engine *Engine, opts ...AnalyzerOption) *Analyzer {
	a := &Analyzer{store: st, engine: engine, logger: logging.New("diagnose")}
	for _, o := range opts {
		o(a)
	}
	return a
}

// Begin allocates the next run for a parsed report. It fails with
// store.ErrNotFound or store.ErrNotParsed.
func (a *Analyzer) Begin(id int64) (int64, error) {
	return a.store.BeginRun(id)
}

// Complete evaluates the report's metrics and stores the findings as run
// runID. applied is false when a newer run had already been stored. A run
// that fails is recorded as failed so that readers stop waiting for it.
func (a *Analyzer) Complete(ctx context.Context, id, runID int64) (results []awr.DiagnosticResult, applied bool, err error) {
	results, applied, err = a.complete(ctx, id, runID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		if ferr := a.store.FailRun(id, runID, err.Error()); ferr != nil {
			a.logger.Error("record failed run",
				slog.Int64("report_id", id), slog.Int64("run_id", runID), slog.Any("error", ferr))
		}
	}
	return results, applied, err
}

func (a *Analyzer) complete(ctx context.Context, id, runID int64) (results []awr.DiagnosticResult, applied bool, err error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	metrics, err := a.store.ListMetrics(id, "")
	if err != nil {
		return nil, false, fmt.Errorf("load metrics: %w", err)
	}
	doc, err := BuildDocument(metrics)
	if err != nil {
		return nil, false, err
	}
	results = a.engine.Evaluate(doc)
	for i := range results {
		results[i].ReportID = id
	}
	applied, err = a.store.ReplaceDiagnostics(id, runID, results)
	if err != nil {
		return nil, false, fmt.Errorf("store diagnostics: %w", err)
	}
	a.logger.Info("analysis completed",
		slog.Int64("report_id", id), slog.Int64("run_id", runID),
		slog.Int("findings", len(results)), slog.Bool("applied", applied))
	if a.hook != nil {
		a.hook(id, runID, len(results), applied)
	}
	return results, applied, nil
}

// Run allocates a run and completes it inline.
func (a *Analyzer) Run(ctx context.Context, id int64) (int64, []awr.DiagnosticResult, error) {
	runID, err := a.Begin(id)
	if err != nil {
		return 0, nil, err
	}
	results, _, err := a.Complete(ctx, id, runID)
	if err != nil {
		return runID, nil, err
	}
	return runID, results, nil
}

// Go allocates a run and completes it in the background. The returned run
// id is what a later GetDiagnostics reports once the run lands.
func (a *Analyzer) Go(ctx context.Context, id int64) (int64, error) {
	runID, err := a.Begin(id)
	if err != nil {
		return 0, err
	}
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		if _, _, err := a.Complete(ctx, id, runID); err != nil {
			a.logger.Error("analysis failed",
				slog.Int64("report_id", id), slog.Int64("run_id", runID), slog.Any("error", err))
		}
	}()
	return runID, nil
}

// Wait blocks until background runs started with Go have finished.
func (a *Analyzer) Wait() { a.wg.Wait() }
