package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/shipyard/internal/mcp"
	"github.com/fyrsmithlabs/shipyard/internal/orchestrator"
	"github.com/fyrsmithlabs/shipyard/internal/workflow"
)

// Server provides the operator endpoints and the per-module MCP transport.
type Server struct {
	echo     *echo.Echo
	registry *orchestrator.Registry
	assessor *workflow.Assessor
	gatherer prometheus.Gatherer
	logger   *zap.Logger
	config   *Config

	// runCtx bounds background runs started over the API.
	runCtx context.Context

	mu         sync.Mutex
	mcpServers map[string]*mcp.Server
}

// Config holds HTTP server configuration.
type Config struct {
	Host    string
	Port    int
	Version string
}

// NewServer creates the HTTP server. gatherer backs /metrics and may be nil
// to use the default registry. source feeds the read-only assessment
// endpoint.
func NewServer(registry *orchestrator.Registry, source workflow.SpecSource, gatherer prometheus.Gatherer, logger *zap.Logger, cfg *Config) (*Server, error) {
	if registry == nil {
		return nil, fmt.Errorf("registry cannot be nil")
	}
	if source == nil {
		return nil, fmt.Errorf("spec source cannot be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required for request tracking and debugging")
	}
	if cfg == nil {
		cfg = &Config{
			Host: "localhost",
			Port: 9191,
		}
	}
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Middleware
	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(newAPIMetrics(otel.Meter(instrumentationName), logger).middleware())
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			duration := time.Since(start)

			logger.Info("http request",
				zap.String("method", c.Request().Method),
				zap.String("uri", c.Request().RequestURI),
				zap.Int("status", c.Response().Status),
				zap.Duration("duration", duration),
				zap.String("request_id", c.Response().Header().Get(echo.HeaderXRequestID)),
			)

			return err
		}
	})

	s := &Server{
		echo:       e,
		registry:   registry,
		assessor:   workflow.NewAssessor(source, workflow.WithAssessorLogger(logger)),
		gatherer:   gatherer,
		logger:     logger,
		config:     cfg,
		runCtx:     context.Background(),
		mcpServers: map[string]*mcp.Server{},
	}

	// Register routes
	s.registerRoutes()

	return s, nil
}

// SetRunContext sets the context background runs are started with. Cancel
// it to stop them on shutdown.
func (s *Server) SetRunContext(ctx context.Context) {
	s.runCtx = ctx
}

// registerRoutes sets up the HTTP endpoints.
func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})))

	v1 := s.echo.Group("/api/v1")
	v1.GET("/status", s.handleStatus)
	v1.POST("/pause", s.handlePause)
	v1.POST("/resume", s.handleResume)

	mod := v1.Group("/modules/:module")
	mod.GET("/status", s.handleModuleStatus)
	mod.GET("/assessment", s.handleAssessment)
	mod.POST("/approve", s.handleApprove)
	mod.POST("/reset-approval", s.handleResetApproval)
	mod.POST("/run", s.handleRun)

	// Streamable MCP transport, one server per module.
	s.echo.Any("/mcp/:module", echo.WrapHandler(mcp.NewHTTPHandler(s.resolveMCP)))
}

// handleHealth returns a simple health check response.
func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{Status: "ok"})
}

func (s *Server) handleStatus(c echo.Context) error {
	runners := s.registry.Runners()
	resp := StatusResponse{
		Status:  "ok",
		Version: s.config.Version,
		Paused:  s.registry.Pauser().Paused(),
		Modules: make([]orchestrator.Status, 0, len(runners)),
	}
	for _, r := range runners {
		resp.Modules = append(resp.Modules, r.Status())
	}
	return c.JSON(http.StatusOK, resp)
}

func (s *Server) handlePause(c echo.Context) error {
	changed := s.registry.Pauser().Pause()
	return c.JSON(http.StatusOK, PauseResponse{Paused: true, Changed: changed})
}

func (s *Server) handleResume(c echo.Context) error {
	changed := s.registry.Pauser().Resume()
	return c.JSON(http.StatusOK, PauseResponse{Paused: false, Changed: changed})
}

// runner resolves the :module parameter, creating the runner on first use.
func (s *Server) runner(c echo.Context) (*orchestrator.Runner, error) {
	module := c.Param("module")
	r, err := s.registry.Runner(c.Request().Context(), module)
	if err != nil {
		if errors.Is(err, orchestrator.ErrUnknownModule) {
			return nil, echo.NewHTTPError(http.StatusNotFound, err.Error())
		}
		s.logger.Warn("resolve module", zap.String("module", module), zap.Error(err))
		return nil, echo.NewHTTPError(http.StatusInternalServerError, "failed to load module")
	}
	return r, nil
}

func (s *Server) handleModuleStatus(c echo.Context) error {
	r, err := s.runner(c)
	if err != nil {
		return err
	}
	run, _ := s.registry.State(r.Module())
	return c.JSON(http.StatusOK, ModuleStatusResponse{Status: r.Status(), Run: run})
}

// handleAssessment re-assesses the module from its specification without
// touching the runner's step.
func (s *Server) handleAssessment(c echo.Context) error {
	module := c.Param("module")
	if _, err := s.runner(c); err != nil {
		return err
	}
	a, err := s.assessor.Assess(c.Request().Context(), module)
	if err != nil {
		s.logger.Warn("assessment failed", zap.String("module", module), zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "assessment failed")
	}
	return c.JSON(http.StatusOK, a)
}

func (s *Server) handleApprove(c echo.Context) error {
	r, err := s.runner(c)
	if err != nil {
		return err
	}
	r.Approve()
	return c.JSON(http.StatusOK, ApprovalResponse{Module: r.Module(), Approved: true})
}

func (s *Server) handleResetApproval(c echo.Context) error {
	r, err := s.runner(c)
	if err != nil {
		return err
	}
	r.ResetApproval()
	return c.JSON(http.StatusOK, ApprovalResponse{Module: r.Module(), Approved: false})
}

func (s *Server) handleRun(c echo.Context) error {
	r, err := s.runner(c)
	if err != nil {
		return err
	}
	if err := s.registry.Start(s.runCtx, r.Module()); err != nil {
		if errors.Is(err, orchestrator.ErrAlreadyRunning) {
			return echo.NewHTTPError(http.StatusConflict, err.Error())
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	run, _ := s.registry.State(r.Module())
	return c.JSON(http.StatusAccepted, run)
}

// resolveMCP returns the MCP server for an already hosted module.
func (s *Server) resolveMCP(module string) (*mcp.Server, bool) {
	r, ok := s.registry.Lookup(module)
	if !ok {
		return nil, false
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if srv, ok := s.mcpServers[module]; ok {
		return srv, true
	}
	cfg := mcp.DefaultConfig()
	if s.config.Version != "" {
		cfg.Version = s.config.Version
	}
	cfg.Logger = s.logger
	srv, err := mcp.NewServer(cfg, r)
	if err != nil {
		s.logger.Warn("create mcp server", zap.String("module", module), zap.Error(err))
		return nil, false
	}
	s.mcpServers[module] = srv
	return srv, true
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.logger.Info("starting http server", zap.String("addr", addr))
	return s.echo.Start(addr)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down http server")
	return s.echo.Shutdown(ctx)
}
