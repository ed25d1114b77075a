package awr

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// ErrSuperseded is returned by DetailView.Analyze when a newer trigger was
// issued before this one's diagnostics arrived. The older result is dropped.
var ErrSuperseded = errors.New("superseded by a newer analysis")

// ErrViewClosed is returned for work started on, or finished after, a closed view.
var ErrViewClosed = errors.New("view closed")

// DetailSnapshot is what a detail view displays for one report.
type DetailSnapshot struct {
	Report      *Report
	Metrics     []PerformanceMetric
	Diagnostics *DiagnosticSummary
	// AnalysisPending is true between a trigger and the arrival of its run.
	AnalysisPending bool
	// AnalysisError describes the newest run when it failed.
	AnalysisError string
}

// DetailView keeps the last-fetched state of one report. Each Refresh replaces
// the whole snapshot; descriptive fields, metrics and diagnostics are only
// exposed while the report is parsed. Views for different reports share no
// state.
type DetailView struct {
	client *Client
	id     int64

	ctx    context.Context
	cancel context.CancelFunc

	mu         sync.Mutex
	snap       DetailSnapshot
	refreshN   uint64 // sequence of Refresh calls; only the newest applies
	gen        uint64 // analysis generation; bumped by every trigger
	pendingRun int64  // run the newest trigger waits for, 0 until acknowledged
	closed     bool
}

// NewDetailView creates a view for report id. Closing the view, or cancelling
// parent, cancels every fetch it has in flight.
func NewDetailView(parent context.Context, c *Client, id int64) *DetailView {
	ctx, cancel := context.WithCancel(parent)
	return &DetailView{client: c, id: id, ctx: ctx, cancel: cancel}
}

// ID returns the report this view observes.
func (v *DetailView) ID() int64 { return v.id }

// Close cancels in-flight fetches; their results are ignored on arrival.
func (v *DetailView) Close() {
	v.mu.Lock()
	v.closed = true
	v.mu.Unlock()
	v.cancel()
}

// Snapshot returns a copy of the current state, filtered by report status.
func (v *DetailView) Snapshot() DetailSnapshot {
	v.mu.Lock()
	defer v.mu.Unlock()
	out := DetailSnapshot{AnalysisPending: v.snap.AnalysisPending}
	if v.snap.Report == nil {
		return out
	}
	visible := v.snap.Report.Visible()
	out.Report = &visible
	if visible.Status != StatusParsed {
		out.AnalysisPending = false
		return out
	}
	out.AnalysisError = v.snap.AnalysisError
	out.Metrics = append([]PerformanceMetric(nil), v.snap.Metrics...)
	if v.snap.Diagnostics != nil {
		d := *v.snap.Diagnostics
		d.Diagnostics = append([]DiagnosticResult(nil), d.Diagnostics...)
		out.Diagnostics = &d
	}
	return out
}

// Refresh re-reads the report and, once parsed, its metrics and diagnostics,
// then replaces the snapshot wholesale. A Refresh overtaken by a newer one is
// discarded. While an analysis is pending, fetched diagnostics older than the
// awaited run are discarded, so a stale run never replaces a pending one.
func (v *DetailView) Refresh(ctx context.Context) error {
	ctx, done, err := v.bind(ctx)
	if err != nil {
		return err
	}
	defer done()

	v.mu.Lock()
	v.refreshN++
	seq, gen := v.refreshN, v.gen
	v.mu.Unlock()

	next := DetailSnapshot{}
	r, err := v.client.Get(ctx, v.id)
	if err != nil {
		return v.settle(err)
	}
	next.Report = r
	var (
		diagFound  bool
		failed     *AnalysisFailedError
		fetchedRun int64
	)
	if r.Status == StatusParsed {
		if next.Metrics, err = v.client.Metrics(ctx, v.id, ""); err != nil {
			return v.settle(err)
		}
		next.Diagnostics, diagFound, err = v.client.Diagnostics(ctx, v.id)
		switch {
		case errors.As(err, &failed):
			next.AnalysisError = failed.Detail()
			fetchedRun = failed.RunID()
		case err != nil:
			return v.settle(err)
		case diagFound:
			fetchedRun = next.Diagnostics.RunID
		}
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	if v.closed {
		return ErrViewClosed
	}
	if seq != v.refreshN {
		return nil
	}
	switch {
	case v.snap.AnalysisPending:
		if v.pendingRun > 0 && fetchedRun >= v.pendingRun {
			// The awaited run has landed.
			v.pendingRun = 0
			break
		}
		next.Diagnostics = v.snap.Diagnostics
		next.AnalysisError = v.snap.AnalysisError
		next.AnalysisPending = true
	case gen != v.gen:
		// An analysis finished meanwhile and is newer than this fetch.
		next.Diagnostics = v.snap.Diagnostics
		next.AnalysisError = v.snap.AnalysisError
	case !diagFound:
		next.Diagnostics = nil
	}
	v.snap = next
	return nil
}

// Trigger starts a diagnostic run without waiting for it. The snapshot shows
// the analysis as pending until a Refresh or Analyze observes that run.
func (v *DetailView) Trigger(ctx context.Context) (*AnalysisAck, error) {
	ctx, done, err := v.bind(ctx)
	if err != nil {
		return nil, err
	}
	defer done()
	_, ack, err := v.trigger(ctx)
	if err != nil {
		return nil, v.settle(err)
	}
	return ack, nil
}

// Analyze triggers a diagnostic run and waits for its results. The view's
// diagnostics are cleared immediately because a new run replaces the batch.
// If another trigger happens before this one's results arrive, this call
// returns ErrSuperseded and leaves the snapshot to the newer one.
func (v *DetailView) Analyze(ctx context.Context) (*DiagnosticSummary, error) {
	ctx, done, err := v.bind(ctx)
	if err != nil {
		return nil, err
	}
	defer done()

	gen, ack, err := v.trigger(ctx)
	if err != nil {
		return nil, v.settle(err)
	}
	summary, err := v.client.WaitForDiagnostics(ctx, v.id, ack.RunID)
	if err != nil {
		var failed *AnalysisFailedError
		if errors.As(err, &failed) {
			v.finishAnalysis(gen, nil, failed.Detail())
		} else {
			v.finishAnalysis(gen, nil, "")
		}
		return nil, v.settle(err)
	}

	if !v.finishAnalysis(gen, summary, "") {
		v.mu.Lock()
		closed := v.closed
		v.mu.Unlock()
		if closed {
			return nil, ErrViewClosed
		}
		return nil, fmt.Errorf("report %d run %d: %w", v.id, summary.RunID, ErrSuperseded)
	}
	return summary, nil
}

// trigger opens a new analysis generation and sends the trigger. A rejected
// trigger restores the state it replaced, since nothing was started.
func (v *DetailView) trigger(ctx context.Context) (uint64, *AnalysisAck, error) {
	v.mu.Lock()
	v.gen++
	gen := v.gen
	prev := v.snap
	prevRun := v.pendingRun
	v.snap.Diagnostics = nil
	v.snap.AnalysisError = ""
	v.snap.AnalysisPending = true
	v.pendingRun = 0
	v.mu.Unlock()

	ack, err := v.client.TriggerAnalysis(ctx, v.id)

	v.mu.Lock()
	defer v.mu.Unlock()
	if v.closed || gen != v.gen {
		return gen, ack, err
	}
	if err != nil {
		v.snap.Diagnostics = prev.Diagnostics
		v.snap.AnalysisError = prev.AnalysisError
		v.snap.AnalysisPending = prev.AnalysisPending
		v.pendingRun = prevRun
		return gen, nil, err
	}
	v.pendingRun = ack.RunID
	return gen, ack, nil
}

// finishAnalysis installs the outcome of generation gen if it is still the
// newest one.
func (v *DetailView) finishAnalysis(gen uint64, summary *DiagnosticSummary, failure string) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.closed || gen != v.gen {
		return false
	}
	v.snap.AnalysisPending = false
	v.pendingRun = 0
	v.snap.AnalysisError = failure
	if summary != nil {
		v.snap.Diagnostics = summary
	}
	return true
}

// bind derives a context that is cancelled by either ctx or Close.
func (v *DetailView) bind(ctx context.Context) (context.Context, func(), error) {
	v.mu.Lock()
	closed := v.closed
	v.mu.Unlock()
	if closed {
		return nil, nil, ErrViewClosed
	}
	ctx, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(v.ctx, cancel)
	return ctx, func() { stop(); cancel() }, nil
}

// settle reports ErrViewClosed instead of the cancellation a Close caused.
func (v *DetailView) settle(err error) error {
	v.mu.Lock()
	closed := v.closed
	v.mu.Unlock()
	if closed {
		return ErrViewClosed
	}
	return err
}
