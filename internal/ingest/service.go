// Package ingest accepts uploaded AWR reports and moves them through the
// parse lifecycle on a pool of background workers.
package ingest

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"awrlens/internal/awr"
	"awrlens/internal/awrparse"
	"awrlens/internal/logging"
	"awrlens/internal/store"
)

// InterruptedMessage is recorded on reports that were mid-parse when the
// server stopped.
const InterruptedMessage = "parsing interrupted by server restart"

// ErrNotTerminal is returned when reparsing a report that is still pending
// or parsing.
var ErrNotTerminal = errors.New("report has not finished parsing")

// Parse outcomes passed to a ParseHook.
const (
	ResultParsed = "parsed"
	ResultFailed = "failed"
)

// ParseHook observes every finished parse.
type ParseHook func(result string, elapsed time.Duration)

// Service owns the upload blobs and the parse queue.
type Service struct {
	store   store.Store
	blobs   *BlobStore
	parser  *awrparse.Parser
	queue   chan int64
	workers int
	hook    ParseHook
	logger  *slog.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithWorkers sets the number of parse workers (default 2).
func WithWorkers(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.workers = n
		}
	}
}

// WithQueueSize sets how many accepted reports may wait for a worker
// (default 64).
func WithQueueSize(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.queue = make(chan int64, n)
		}
	}
}

// WithParseHook registers a callback for finished parses.
func WithParseHook(h ParseHook) Option {
	return func(s *Service) { s.hook = h }
}

// NewService returns a Service. Call Run to start the workers.
func NewService(st store.Store, blobs *BlobStore, opts ...Option) *Service {
	s := &Service{
		store:   st,
		blobs:   blobs,
		parser:  awrparse.New(),
		queue:   make(chan int64, 64),
		workers: 2,
		logger:  logging.New("ingest"),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Accept stores data, records a pending report and queues it for parsing.
// The report is durable once Accept returns; if ctx ends before a worker
// slot frees up, Recover picks it up on the next start.
func (s *Service) Accept(ctx context.Context, filename string, data []byte) (*awr.Report, error) {
	path, err := s.blobs.Save(data)
	if err != nil {
		return nil, err
	}
	r, err := s.store.CreateReport(filename, path, int64(len(data)))
	if err != nil {
		_ = s.blobs.Remove(path)
		return nil, fmt.Errorf("create report: %w", err)
	}
	s.logger.Info("report uploaded",
		slog.Int64("report_id", r.ID), slog.String("filename", filename), slog.Int("size", len(data)))
	s.enqueue(ctx, r.ID)
	return r, nil
}

func (s *Service) enqueue(ctx context.Context, id int64) {
	select {
	case s.queue <- id:
	case <-ctx.Done():
		s.logger.Warn("report left pending", slog.Int64("report_id", id), slog.Any("error", ctx.Err()))
	}
}

// Reparse submits the stored bytes of a finished report as a new report.
// The original report is left untouched.
func (s *Service) Reparse(ctx context.Context, id int64) (*awr.Report, error) {
	r, err := s.store.GetReport(id)
	if err != nil {
		return nil, err
	}
	if !r.Status.Terminal() {
		return nil, fmt.Errorf("%w: report %d is %s", ErrNotTerminal, id, r.Status)
	}
	path, err := s.store.ReportFile(id)
	if err != nil {
		return nil, err
	}
	data, err := s.blobs.Read(path)
	if err != nil {
		return nil, fmt.Errorf("read stored upload: %w", err)
	}
	return s.Accept(ctx, r.Filename, data)
}

// Delete removes a report and its stored upload.
func (s *Service) Delete(id int64) error {
	path, err := s.store.ReportFile(id)
	if err != nil {
		return err
	}
	if err := s.store.DeleteReport(id); err != nil {
		return err
	}
	if err := s.blobs.Remove(path); err != nil {
		s.logger.Warn("orphaned upload", slog.Int64("report_id", id), slog.Any("error", err))
	}
	return nil
}

// Recover fails reports that were mid-parse and requeues pending ones. It
// must run before any worker starts taking reports.
func (s *Service) Recover(ctx context.Context) error {
	if err := s.failInterrupted(); err != nil {
		return err
	}
	return s.requeuePending(ctx)
}

func (s *Service) failInterrupted() error {
	parsing, err := s.store.ListByStatus(awr.StatusParsing)
	if err != nil {
		return fmt.Errorf("list parsing reports: %w", err)
	}
	for _, r := range parsing {
		if err := s.store.FailParse(r.ID, InterruptedMessage); err != nil && !errors.Is(err, store.ErrInvalidTransition) {
			return fmt.Errorf("fail interrupted report %d: %w", r.ID, err)
		}
		s.logger.Warn("parse interrupted", slog.Int64("report_id", r.ID))
	}
	return nil
}

func (s *Service) requeuePending(ctx context.Context) error {
	pending, err := s.store.ListByStatus(awr.StatusPending)
	if err != nil {
		return fmt.Errorf("list pending reports: %w", err)
	}
	for _, r := range pending {
		s.enqueue(ctx, r.ID)
	}
	if len(pending) > 0 {
		s.logger.Info("requeued pending reports", slog.Int("count", len(pending)))
	}
	return nil
}

// Run recovers leftover work and then parses queued reports until ctx ends.
// Interrupted parses are failed before the workers start; pending reports
// are requeued while they run, so a backlog larger than the queue drains.
func (s *Service) Run(ctx context.Context) error {
	if err := s.failInterrupted(); err != nil {
		return err
	}
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < s.workers; i++ {
		g.Go(func() error {
			for {
				select {
				case <-gctx.Done():
					return nil
				case id := <-s.queue:
					s.process(id)
				}
			}
		})
	}
	g.Go(func() error { return s.requeuePending(gctx) })
	return g.Wait()
}

// process takes one report from pending to parsed or failed.
func (s *Service) process(id int64) {
	if err := s.store.MarkParsing(id); err != nil {
		// Deleted, or already taken by another worker after a requeue.
		s.logger.Debug("skip report", slog.Int64("report_id", id), slog.Any("error", err))
		return
	}
	start := time.Now()
	s.logger.Info("parse started", slog.Int64("report_id", id))

	result := ResultParsed
	if err := s.parse(id); err != nil {
		result = ResultFailed
		s.logger.Warn("parse failed", slog.Int64("report_id", id), slog.String("error", err.Error()))
		if ferr := s.store.FailParse(id, err.Error()); ferr != nil {
			s.logger.Error("record parse failure", slog.Int64("report_id", id), slog.Any("error", ferr))
		}
	} else {
		s.logger.Info("parse completed", slog.Int64("report_id", id), slog.Duration("elapsed", time.Since(start)))
	}
	if s.hook != nil {
		s.hook(result, time.Since(start))
	}
}

// parse returns an error whose text is the report's error message.
func (s *Service) parse(id int64) error {
	path, err := s.store.ReportFile(id)
	if err != nil {
		return fmt.Errorf("failed to read file: %w", err)
	}
	data, err := s.blobs.Read(path)
	if err != nil {
		return fmt.Errorf("failed to read file: %w", err)
	}
	rep, err := s.parser.Parse(bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("failed to parse AWR report: %w", err)
	}
	metrics, err := rep.Metrics()
	if err != nil {
		return fmt.Errorf("failed to store performance metrics: %w", err)
	}
	in := make([]store.MetricInput, len(metrics))
	for i, m := range metrics {
		in[i] = store.MetricInput{Category: m.Category, Data: m.Data}
	}
	if err := s.store.CompleteParse(id, rep.Descriptive(), in); err != nil {
		return fmt.Errorf("failed to store performance metrics: %w", err)
	}
	return nil
}
