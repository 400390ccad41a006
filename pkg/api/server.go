// Package api exposes the HTTP surface: submission intake, the query path,
// progress, cancellation, feedback, and operational status.
package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/audiorag/audiorag/pkg/artifact"
	"github.com/audiorag/audiorag/pkg/config"
	"github.com/audiorag/audiorag/pkg/jobstore"
	"github.com/audiorag/audiorag/pkg/retrieval"
	"github.com/audiorag/audiorag/pkg/scheduler"
)

// PoolStatus is the scheduler surface the API reads.
type PoolStatus interface {
	Health(ctx context.Context) *scheduler.PoolHealth
}

// CollectionCounter is the vector-store surface the API reads.
type CollectionCounter interface {
	Count() int
}

// Server wires the HTTP handlers over the stores and the retrieval engine.
type Server struct {
	store     *jobstore.Store
	artifacts *artifact.Store
	engine    *retrieval.Engine
	pool      PoolStatus
	vectors   CollectionCounter
	cfg       *config.HTTPConfig

	httpSrv *http.Server
}

// NewServer builds the API server. pool may be nil when the process runs
// without a worker pool (query-only mode).
func NewServer(store *jobstore.Store, artifacts *artifact.Store, engine *retrieval.Engine, pool PoolStatus, vectors CollectionCounter, cfg *config.HTTPConfig) *Server {
	return &Server{
		store:     store,
		artifacts: artifacts,
		engine:    engine,
		pool:      pool,
		vectors:   vectors,
		cfg:       cfg,
	}
}

// Router assembles the gin engine with all routes registered.
func (s *Server) Router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger())

	r.POST("/process", s.Process)
	r.POST("/query", s.Query)
	r.GET("/status", s.Status)
	r.GET("/health", s.Health)
	r.GET("/submissions/:id/progress", s.Progress)
	r.POST("/submissions/:id/cancel", s.Cancel)
	r.POST("/feedback", s.Feedback)
	return r
}

// Start serves HTTP until Shutdown or a listener error.
func (s *Server) Start() error {
	s.httpSrv = &http.Server{
		Addr:              ":" + s.cfg.Port,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	slog.Info("API server listening", "addr", s.httpSrv.Addr)
	if err := s.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("api server: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpSrv == nil {
		return nil
	}
	return s.httpSrv.Shutdown(ctx)
}

// requestLogger tags each request with an id and logs one line per request
// in the structured format the rest of the process uses.
func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := uuid.NewString()
		c.Header("X-Request-ID", requestID)
		start := time.Now()
		c.Next()
		slog.Info("HTTP request",
			"request_id", requestID,
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration_ms", time.Since(start).Milliseconds())
	}
}
