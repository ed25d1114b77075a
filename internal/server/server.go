// Package server is the REST boundary of the report service. It exposes
// the ingestion, store and diagnostic services under /api/v1 with gin.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"awrlens/internal/awr"
	"awrlens/internal/diagnose"
	"awrlens/internal/ingest"
	"awrlens/internal/logging"
	"awrlens/internal/store"
)

// APIPrefix is the mount point of every report route.
const APIPrefix = "/api/v1"

// Server wires the report services to HTTP.
type Server struct {
	store    store.Store
	ingest   *ingest.Service
	analyzer *diagnose.Analyzer
	idem     Idempotency
	metrics  *Metrics
	upload   awr.Config
	async    bool
	logger   *slog.Logger
	engine   *gin.Engine
}

// Option configures a Server.
type Option func(*Server)

// WithIdempotency replaces the in-memory upload key store.
func WithIdempotency(i Idempotency) Option {
	return func(s *Server) { s.idem = i }
}

// WithMetrics shares collectors with the ingest and diagnose hooks.
func WithMetrics(m *Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// WithUploadLimits sets the size ceiling and accepted extensions.
func WithUploadLimits(maxBytes int64, extensions []string) Option {
	return func(s *Server) {
		if maxBytes > 0 {
			s.upload.MaxUploadBytes = maxBytes
		}
		if len(extensions) > 0 {
			s.upload.Extensions = extensions
		}
	}
}

// WithAsyncAnalysis makes analyze answer 202 and run in the background.
func WithAsyncAnalysis(async bool) Option {
	return func(s *Server) { s.async = async }
}

// New builds the router.
func New(st store.Store, svc *ingest.Service, analyzer *diagnose.Analyzer, opts ...Option) *Server {
	s := &Server{
		store:    st,
		ingest:   svc,
		analyzer: analyzer,
		upload:   awr.DefaultConfig(),
		logger:   logging.New("server"),
	}
	for _, o := range opts {
		o(s)
	}
	if s.idem == nil {
		s.idem = NewMemIdempotency(DefaultIdempotencyTTL)
	}
	if s.metrics == nil {
		s.metrics = NewMetrics()
	}
	s.engine = s.routes()
	return s
}

func (s *Server) routes() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger(s.logger), instrument(s.metrics))
	r.NoRoute(func(c *gin.Context) {
		respondError(c, http.StatusNotFound, awr.CodeNotFound, "Not Found")
	})

	r.GET("/healthz", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })
	r.GET("/metrics", gin.WrapH(s.metrics.Handler()))

	api := r.Group(APIPrefix)
	{
		reports := api.Group("/reports")
		reports.POST("/upload", s.handleUpload)
		reports.GET("", s.handleList)
		reports.GET("/:id", s.handleGet)
		reports.DELETE("/:id", s.handleDelete)
		reports.POST("/:id/reparse", s.handleReparse)
		reports.GET("/:id/metrics", s.handleMetrics)
		reports.GET("/:id/metrics/:category", s.handleMetricCategory)
		reports.POST("/:id/analyze", s.handleAnalyze)
		reports.GET("/:id/diagnostics", s.handleDiagnostics)
	}
	return r
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler { return s.engine }

// ListenAndServe serves on addr until ctx ends, then drains in-flight
// requests for up to ten seconds.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	s.logger.Info("listening", slog.String("addr", addr))

	select {
	case err := <-errCh:
		return fmt.Errorf("listen %s: %w", addr, err)
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
