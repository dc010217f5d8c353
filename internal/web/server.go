// Package web serves the fix workflow over HTTP.
package web

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/lucasnoah/fixloop/internal/db"
	"github.com/lucasnoah/fixloop/internal/metrics"
	"github.com/lucasnoah/fixloop/internal/review"
	"github.com/lucasnoah/fixloop/internal/runs"
	"github.com/lucasnoah/fixloop/internal/workflow"
)

// maxBodyBytes caps request bodies.
const maxBodyBytes = 1 << 20

// Options wires the server's collaborators. Only Workflow is required;
// history endpoints answer 503 without DB and Runs, /metrics is absent
// without Metrics, and /api/review answers 503 without Reviewer.
type Options struct {
	Addr     string
	Workflow workflow.Options
	Reviewer *review.Reviewer
	DB       *db.DB
	Runs     *runs.Store
	Metrics  prometheus.Gatherer
	Logger   *slog.Logger
}

// Server is the JSON API server.
type Server struct {
	opts   Options
	engine *workflow.Engine
	logger *slog.Logger
	router *gin.Engine
}

// NewServer creates a Server and its routes.
func NewServer(opts Options) *Server {
	if opts.Addr == "" {
		opts.Addr = ":8080"
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if opts.Workflow.Logger == nil {
		opts.Workflow.Logger = logger
	}
	s := &Server{opts: opts, engine: workflow.New(opts.Workflow), logger: logger}
	s.router = s.routes()
	return s
}

// Handler returns the HTTP handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) routes() *gin.Engine {
	r := gin.New()
	r.Use(RequestID(), Recovery(s.logger), RequestLog(s.logger), limitBody(maxBodyBytes))

	r.GET("/healthz", s.handleHealth)

	api := r.Group("/api")
	api.POST("/fix", s.handleFix)
	api.POST("/fix/stream", s.handleFixStream)
	api.POST("/validate", s.handleValidate)
	api.POST("/review", s.handleReview)
	api.GET("/rules", s.handleRules)
	api.GET("/runs", s.handleListRuns)
	api.GET("/runs/:id", s.handleGetRun)
	api.GET("/stats", s.handleStats)

	if s.opts.Metrics != nil {
		r.GET("/metrics", gin.WrapH(metrics.Handler(s.opts.Metrics)))
	}
	return r
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.opts.Addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("web server listening", "addr", s.opts.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
