package mcp

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/shipyard/internal/verification"
)

// ToolProvider returns the toolset bound to a module's current tree.
// *orchestrator.Runner implements it.
type ToolProvider interface {
	Module() string
	Toolset() *verification.Toolset
}

// Server is an MCP server for one module.
type Server struct {
	mcp      *mcp.Server
	provider ToolProvider
	metrics  *toolMetrics
	logger   *zap.Logger
}

// Config configures the MCP server.
type Config struct {
	// Name is the server implementation name (default: "shipyard")
	Name string

	// Version is the server version (default: "1.0.0")
	Version string

	// Logger for structured logging
	Logger *zap.Logger

	// Meter for tool call metrics (default: the global meter provider)
	Meter metric.Meter
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Name:    "shipyard",
		Version: "1.0.0",
		Logger:  zap.NewNop(),
	}
}

// NewServer creates an MCP server whose tools act on provider's module.
func NewServer(cfg *Config, provider ToolProvider) (*Server, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if provider == nil {
		return nil, fmt.Errorf("tool provider is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("mcp").With(zap.String("module", provider.Module()))
	meter := cfg.Meter
	if meter == nil {
		meter = otel.Meter(instrumentationName)
	}

	s := &Server{
		mcp: mcp.NewServer(&mcp.Implementation{
			Name:    cfg.Name,
			Version: cfg.Version,
		}, nil),
		provider: provider,
		metrics:  newToolMetrics(meter, provider.Module(), logger),
		logger:   logger,
	}
	s.registerTools()
	return s, nil
}

// MCP returns the underlying SDK server for custom transports.
func (s *Server) MCP() *mcp.Server { return s.mcp }

// Run serves the tools on the stdio transport until ctx ends.
func (s *Server) Run(ctx context.Context) error {
	s.logger.Info("starting MCP server on stdio transport")
	if err := s.mcp.Run(ctx, &mcp.StdioTransport{}); err != nil {
		return fmt.Errorf("server run failed: %w", err)
	}
	return nil
}

// Resolver finds the server for a module, reporting false when the module
// is not hosted.
type Resolver func(module string) (*Server, bool)

// NewHTTPHandler serves every hosted module over the streamable HTTP
// transport. The module is the last path segment of the request, so the
// handler can be mounted at /mcp/{module}. Unknown modules are rejected by
// the transport.
func NewHTTPHandler(resolve Resolver) http.Handler {
	return mcp.NewStreamableHTTPHandler(func(r *http.Request) *mcp.Server {
		path := strings.TrimSuffix(r.URL.Path, "/")
		module := path[strings.LastIndex(path, "/")+1:]
		if s, ok := resolve(module); ok {
			return s.mcp
		}
		return nil
	}, nil)
}
