// Package api is the thin HTTP boundary the core exposes (spec §6):
// createAnalysis, getAnalysis, streamAnalysis, cancelAnalysis,
// exportReport, and the supplemented post-analysis chat endpoint.
package api

import (
	"context"
	"log/slog"
	"net"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/proculyze/analyzer/pkg/config"
	"github.com/proculyze/analyzer/pkg/events"
	"github.com/proculyze/analyzer/pkg/exporter"
	"github.com/proculyze/analyzer/pkg/pipeline"
	"github.com/proculyze/analyzer/pkg/store"
	"github.com/proculyze/analyzer/pkg/unpack"
	"github.com/proculyze/analyzer/pkg/version"
)

// Server is the HTTP API server. All collaborators are process-wide
// singletons constructed once at startup and shared by reference — only
// the per-run Orchestrator built by Factory.New is constructed fresh per
// request.
type Server struct {
	router     *gin.Engine
	httpServer *http.Server

	Config   *config.Config
	Store    store.Store
	Bus      *events.Bus
	Factory  *pipeline.Factory
	Chat     *pipeline.Chat
	Exporter exporter.Exporter

	// analysisSlots bounds concurrent in-flight analyses to
	// Config.MaxConcurrentAnalyses (spec §6's env var), mirroring
	// pkg/stage's bounded-worker-pool idiom at the API boundary instead
	// of inside a stage.
	analysisSlots chan struct{}
}

// NewServer wires a Server from its process-wide collaborators and builds
// its route table. Call Start or StartWithListener to serve.
func NewServer(cfg *config.Config, s store.Store, bus *events.Bus, factory *pipeline.Factory, chat *pipeline.Chat, exp exporter.Exporter) *Server {
	gin.SetMode(gin.ReleaseMode)
	srv := &Server{
		router:        gin.New(),
		Config:        cfg,
		Store:         s,
		Bus:           bus,
		Factory:       factory,
		Chat:          chat,
		Exporter:      exp,
		analysisSlots: make(chan struct{}, cfg.MaxConcurrentAnalyses),
	}
	srv.router.Use(gin.Recovery(), securityHeaders())
	srv.setupRoutes()
	return srv
}

// setupRoutes registers every route the API boundary exposes.
func (s *Server) setupRoutes() {
	s.router.GET("/health", s.healthHandler)

	v1 := s.router.Group("/api/v1")
	v1.POST("/analyses", s.createAnalysisHandler)
	v1.GET("/analyses", s.listAnalysesHandler)
	v1.GET("/analyses/:id", s.getAnalysisHandler)
	v1.GET("/analyses/:id/stream", s.streamAnalysisHandler)
	v1.POST("/analyses/:id/cancel", s.cancelAnalysisHandler)
	v1.GET("/analyses/:id/export", s.exportReportHandler)
	v1.POST("/analyses/:id/chat", s.askQuestionHandler)
}

// Router exposes the underlying gin engine, mainly for tests.
func (s *Server) Router() *gin.Engine {
	return s.router
}

// Start serves the API on addr until the process is killed or Shutdown is
// called.
func (s *Server) Start(addr string) error {
	s.httpServer = &http.Server{Addr: addr, Handler: s.router}
	slog.Info("api: listening", "addr", addr)
	return s.httpServer.ListenAndServe()
}

// StartWithListener serves on a caller-supplied listener, used by tests
// that need an ephemeral port.
func (s *Server) StartWithListener(ln net.Listener) error {
	s.httpServer = &http.Server{Handler: s.router}
	return s.httpServer.Serve(ln)
}

// Shutdown gracefully drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

// healthHandler handles GET /health.
func (s *Server) healthHandler(c *gin.Context) {
	c.JSON(http.StatusOK, HealthResponse{
		Status:  "healthy",
		Version: version.Full(),
	})
}

// acceptableUploadExtensions reuses the Archive Unpacker's own whitelist so
// the API boundary's synchronous validation (spec §6: count, size,
// extension) can never drift from what Unpack actually accepts.
var acceptableUploadExtensions = unpack.IsAcceptableUpload
