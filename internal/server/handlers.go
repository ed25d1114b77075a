package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"awrlens/internal/awr"
	"awrlens/internal/store"
)

// multipartSlack covers the form boundary and part headers around the file.
const multipartSlack = 1 << 20

func reportID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		badRequest(c, "invalid report id %q", c.Param("id"))
		return 0, false
	}
	return id, true
}

// loadReport fetches the report named in the path or answers 404.
func (s *Server) loadReport(c *gin.Context) (*awr.Report, bool) {
	id, ok := reportID(c)
	if !ok {
		return nil, false
	}
	r, err := s.store.GetReport(id)
	if err != nil {
		s.fail(c, err)
		return nil, false
	}
	return r, true
}

func (s *Server) handleUpload(c *gin.Context) {
	ctx := c.Request.Context()
	key := strings.TrimSpace(c.GetHeader(awr.IdempotencyHeader))
	if key != "" {
		if h, ok := s.replay(ctx, key); ok {
			s.metrics.ObserveUpload(UploadReplayed)
			c.JSON(http.StatusOK, h)
			return
		}
	}

	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, s.upload.MaxUploadBytes+multipartSlack)
	fh, err := c.FormFile("file")
	if err != nil {
		s.metrics.ObserveUpload(UploadRejected)
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			s.tooLarge(c)
			return
		}
		badRequest(c, "a multipart file field named \"file\" is required")
		return
	}
	filename := filepath.Base(fh.Filename)
	if err := awr.ValidateUpload(s.upload, filename, fh.Size); err != nil {
		s.metrics.ObserveUpload(UploadRejected)
		if fh.Size > s.upload.MaxUploadBytes {
			s.tooLarge(c)
			return
		}
		respondError(c, http.StatusBadRequest, awr.CodeValidation, awr.UserMessage(err))
		return
	}

	f, err := fh.Open()
	if err != nil {
		s.fail(c, fmt.Errorf("open upload: %w", err))
		return
	}
	data, err := io.ReadAll(f)
	f.Close()
	if err != nil {
		s.fail(c, fmt.Errorf("read upload: %w", err))
		return
	}

	r, err := s.ingest.Accept(ctx, filename, data)
	if err != nil {
		s.fail(c, err)
		return
	}
	if key != "" {
		if h, ok := s.claim(ctx, key, r.ID); ok {
			s.metrics.ObserveUpload(UploadReplayed)
			c.JSON(http.StatusOK, h)
			return
		}
	}
	s.metrics.ObserveUpload(UploadAccepted)
	c.JSON(http.StatusCreated, r.Handle())
}

// claimAttempts bounds how often an upload re-claims a key whose owner
// vanished between the claim and the replay.
const claimAttempts = 3

// claim records key for the freshly created report id. When a concurrent
// upload with the same key owns it, the owner's handle is returned and id is
// deleted. id is kept whenever no live owner can be replayed.
func (s *Server) claim(ctx context.Context, key string, id int64) (awr.ReportHandle, bool) {
	for range claimAttempts {
		owner, err := s.idem.Claim(ctx, key, id)
		if err != nil {
			s.logger.Warn("idempotency claim failed", slog.String("key", key), slog.Any("error", err))
			return awr.ReportHandle{}, false
		}
		if owner == id {
			return awr.ReportHandle{}, false
		}
		h, ok := s.replay(ctx, key)
		if !ok {
			// The owner was deleted and its key released; claim again.
			continue
		}
		if err := s.ingest.Delete(id); err != nil {
			s.logger.Warn("drop duplicate upload", slog.Int64("report_id", id), slog.Any("error", err))
		}
		return h, true
	}
	s.logger.Warn("idempotency key left unclaimed", slog.String("key", key), slog.Int64("report_id", id))
	return awr.ReportHandle{}, false
}

// replay returns the handle of the report an earlier upload with key
// created. A key whose report has since been deleted is released.
func (s *Server) replay(ctx context.Context, key string) (awr.ReportHandle, bool) {
	id, ok, err := s.idem.Lookup(ctx, key)
	if err != nil {
		s.logger.Warn("idempotency lookup failed", slog.String("key", key), slog.Any("error", err))
		return awr.ReportHandle{}, false
	}
	if !ok {
		return awr.ReportHandle{}, false
	}
	r, err := s.store.GetReport(id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			_ = s.idem.Release(ctx, key)
		}
		return awr.ReportHandle{}, false
	}
	s.logger.Info("upload replayed", slog.Int64("report_id", id), slog.String("key", key))
	return r.Handle(), true
}

func (s *Server) tooLarge(c *gin.Context) {
	respondError(c, http.StatusRequestEntityTooLarge, awr.CodePayloadTooLarge,
		fmt.Sprintf("File size exceeds limit (%d bytes)", s.upload.MaxUploadBytes))
}

func (s *Server) handleList(c *gin.Context) {
	f := store.ReportFilter{DBName: strings.TrimSpace(c.Query("db_name"))}
	var err error
	if f.Page, err = intQuery(c, "page", 1); err != nil {
		badRequest(c, "%v", err)
		return
	}
	if f.PageSize, err = intQuery(c, "page_size", awr.DefaultPageSize); err != nil {
		badRequest(c, "%v", err)
		return
	}
	if v := c.Query("status"); v != "" {
		if f.Status, err = awr.ParseStatus(v); err != nil {
			badRequest(c, "%v", err)
			return
		}
	}
	var okDate bool
	if f.DateFrom, okDate = dateQuery(c, "date_from"); !okDate {
		return
	}
	if f.DateTo, okDate = dateQuery(c, "date_to"); !okDate {
		return
	}
	if f.Page < 1 {
		f.Page = 1
	}
	f.PageSize = min(max(f.PageSize, 1), awr.MaxPageSize)

	items, total, err := s.store.ListReports(f)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, awr.ReportPage{Items: items, Total: total, Page: f.Page, PageSize: f.PageSize})
}

func intQuery(c *gin.Context, name string, def int) (int, error) {
	v := c.Query(name)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q", name, v)
	}
	return n, nil
}

func dateQuery(c *gin.Context, name string) (time.Time, bool) {
	v := c.Query(name)
	if v == "" {
		return time.Time{}, true
	}
	t, err := time.Parse(awr.DateLayout, v)
	if err != nil {
		badRequest(c, "Invalid %s format (use YYYY-MM-DD)", name)
		return time.Time{}, false
	}
	return t, true
}

func (s *Server) handleGet(c *gin.Context) {
	r, ok := s.loadReport(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, r)
}

func (s *Server) handleDelete(c *gin.Context) {
	id, ok := reportID(c)
	if !ok {
		return
	}
	if err := s.ingest.Delete(id); err != nil {
		s.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) handleReparse(c *gin.Context) {
	r, ok := s.loadReport(c)
	if !ok {
		return
	}
	if !r.Status.Terminal() {
		respondInvalidState(c, r, fmt.Sprintf("report is %s, only parsed or failed reports can be reparsed", r.Status))
		return
	}
	again, err := s.ingest.Reparse(c.Request.Context(), r.ID)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, again.Handle())
}

func (s *Server) handleMetrics(c *gin.Context) {
	r, ok := s.parsedReport(c, "metrics")
	if !ok {
		return
	}
	category := c.Query("category")
	if category != "" && !slices.Contains(awr.MetricCategories, category) {
		badRequest(c, "unknown metric category %q", category)
		return
	}
	metrics, err := s.store.ListMetrics(r.ID, category)
	if err != nil {
		s.fail(c, err)
		return
	}
	if metrics == nil {
		metrics = []awr.PerformanceMetric{}
	}
	c.JSON(http.StatusOK, metrics)
}

func (s *Server) handleMetricCategory(c *gin.Context) {
	r, ok := s.parsedReport(c, "metrics")
	if !ok {
		return
	}
	category := c.Param("category")
	metrics, err := s.store.ListMetrics(r.ID, category)
	if err != nil {
		s.fail(c, err)
		return
	}
	if len(metrics) == 0 {
		respondError(c, http.StatusNotFound, awr.CodeNotFound, "Metrics not found for category: "+category)
		return
	}
	c.JSON(http.StatusOK, gin.H{"category": category, "data": metrics[0].Data})
}

// parsedReport loads the path report and answers 409 unless it is parsed.
func (s *Server) parsedReport(c *gin.Context, what string) (*awr.Report, bool) {
	r, ok := s.loadReport(c)
	if !ok {
		return nil, false
	}
	if r.Status != awr.StatusParsed {
		respondInvalidState(c, r, fmt.Sprintf("report is %s, %s are available once it is parsed", r.Status, what))
		return nil, false
	}
	return r, true
}

func (s *Server) handleAnalyze(c *gin.Context) {
	r, ok := s.loadReport(c)
	if !ok {
		return
	}
	if r.Status != awr.StatusParsed {
		respondInvalidState(c, r, fmt.Sprintf("report is %s, only parsed reports can be analyzed", r.Status))
		return
	}

	if s.async {
		// The run outlives the request.
		runID, err := s.analyzer.Go(context.WithoutCancel(c.Request.Context()), r.ID)
		if err != nil {
			s.failAnalysis(c, r, err)
			return
		}
		c.JSON(http.StatusAccepted, awr.AnalysisAck{ReportID: r.ID, RunID: runID, Message: "Analysis started"})
		return
	}
	runID, _, err := s.analyzer.Run(c.Request.Context(), r.ID)
	if err != nil {
		s.failAnalysis(c, r, err)
		return
	}
	c.JSON(http.StatusOK, awr.AnalysisAck{ReportID: r.ID, RunID: runID, Message: "Analysis completed", Complete: true})
}

func (s *Server) failAnalysis(c *gin.Context, r *awr.Report, err error) {
	if errors.Is(err, store.ErrNotParsed) {
		if cur, gerr := s.store.GetReport(r.ID); gerr == nil {
			r = cur
		}
		respondInvalidState(c, r, fmt.Sprintf("report is %s, only parsed reports can be analyzed", r.Status))
		return
	}
	s.fail(c, err)
}

func (s *Server) handleDiagnostics(c *gin.Context) {
	r, ok := s.loadReport(c)
	if !ok {
		return
	}
	runID, results, err := s.store.GetDiagnostics(r.ID)
	if err != nil {
		s.fail(c, err)
		return
	}
	failedRun, msg, err := s.store.RunFailure(r.ID)
	if err != nil {
		s.fail(c, err)
		return
	}
	if failedRun > 0 {
		c.AbortWithStatusJSON(http.StatusInternalServerError, awr.ErrorBody{
			Detail: fmt.Sprintf("Analysis run %d failed: %s", failedRun, msg),
			Code:   awr.CodeAnalysisFailed,
			RunID:  failedRun,
		})
		return
	}
	if runID == 0 {
		c.Status(http.StatusNoContent)
		return
	}
	c.JSON(http.StatusOK, awr.Summarize(r.ID, runID, results))
}
