// Package server exposes the pipeline engine over HTTP: trigger pipelines,
// inspect runs, play manual jobs, and scrape metrics.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/vk/pipewright/internal/history"
	"github.com/vk/pipewright/internal/metrics"
	"github.com/vk/pipewright/internal/rules"
	"github.com/vk/pipewright/internal/scheduler"
)

// PipelineRunner starts pipelines and routes manual triggers to them. The
// app layer implements it; the server stays a thin HTTP shell.
type PipelineRunner interface {
	// StartPipeline launches a pipeline for the trigger context and returns
	// its id without waiting for completion.
	StartPipeline(ctx context.Context, trigger rules.Context) (string, error)
	// PlayJob triggers a manual job in a running pipeline.
	PlayJob(pipelineID, job string) error
	// CancelPipeline cancels a running pipeline.
	CancelPipeline(pipelineID string) error
	// ActivePipeline returns the live result snapshot of a running pipeline,
	// or false when the id is not currently active.
	ActivePipeline(pipelineID string) (*scheduler.PipelineResult, bool)
}

// Server is the HTTP API over a PipelineRunner and the run archive.
type Server struct {
	runner  PipelineRunner
	archive *history.Store
	logger  *slog.Logger
	addr    string
	engine  *gin.Engine
}

// New assembles the router. The metrics registry may be nil, in which case
// /metrics serves an empty registry response.
func New(addr string, runner PipelineRunner, archive *history.Store, m *metrics.Metrics, logger *slog.Logger) *Server {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())

	s := &Server{runner: runner, archive: archive, logger: logger, addr: addr, engine: engine}

	engine.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	if m != nil {
		engine.GET("/metrics", gin.WrapH(promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})))
	}

	v1 := engine.Group("/api/v1")
	v1.POST("/pipelines", s.createPipeline)
	v1.GET("/pipelines", s.listPipelines)
	v1.GET("/pipelines/:id", s.getPipeline)
	v1.POST("/pipelines/:id/cancel", s.cancelPipeline)
	v1.POST("/pipelines/:id/jobs/:name/play", s.playJob)

	return s
}

// Run serves until the context is canceled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{Addr: s.addr, Handler: s.engine}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s.logger.Info("🚀 HTTP API listening.", "addr", s.addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		s.logger.Info("Shutting down HTTP API.")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

// triggerRequest is the POST /pipelines payload.
type triggerRequest struct {
	Branch  string            `json:"branch" binding:"required"`
	Source  string            `json:"source"`
	Tag     string            `json:"tag"`
	Changed []string          `json:"changed_files"`
	Vars    map[string]string `json:"variables"`
}

func (s *Server) createPipeline(c *gin.Context) {
	var req triggerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.Source == "" {
		req.Source = rules.SourceAPI
	}

	id, err := s.runner.StartPipeline(c.Request.Context(), rules.Context{
		Branch:  req.Branch,
		Source:  req.Source,
		Tag:     req.Tag,
		Changed: req.Changed,
		Vars:    req.Vars,
	})
	if err != nil {
		s.logger.Error("Pipeline trigger rejected.", "error", err)
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"id": id})
}

func (s *Server) listPipelines(c *gin.Context) {
	records, err := s.archive.List(50)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"pipelines": records})
}

func (s *Server) getPipeline(c *gin.Context) {
	id := c.Param("id")

	// A live pipeline is served from the scheduler's snapshot; finished ones
	// come from the archive.
	if snapshot, ok := s.runner.ActivePipeline(id); ok {
		c.JSON(http.StatusOK, snapshot)
		return
	}

	record, err := s.archive.Get(id)
	if errors.Is(err, history.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, record)
}

func (s *Server) cancelPipeline(c *gin.Context) {
	if err := s.runner.CancelPipeline(c.Param("id")); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "canceling"})
}

func (s *Server) playJob(c *gin.Context) {
	if err := s.runner.PlayJob(c.Param("id"), c.Param("name")); err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "triggered"})
}
