package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/shipyard/internal/mcp"
)

const endpointShutdownTimeout = 2 * time.Second

// toolEndpoint serves one module's verification tools to the agent command
// over streamable HTTP. It listens on a loopback port picked by the kernel,
// so concurrent runs never collide.
type toolEndpoint struct {
	module string
	url    string
	srv    *http.Server
	done   chan error
	logger *zap.Logger

	mu     sync.RWMutex
	server *mcp.Server
}

func startToolEndpoint(module string, logger *zap.Logger) (*toolEndpoint, error) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, fmt.Errorf("listen for agent tools: %w", err)
	}
	ep := &toolEndpoint{
		module: module,
		url:    "http://" + ln.Addr().String() + "/mcp/" + module,
		done:   make(chan error, 1),
		logger: logger.Named("tools").With(zap.String("module", module)),
	}

	mux := http.NewServeMux()
	mux.Handle("/mcp/", mcp.NewHTTPHandler(ep.resolve))
	ep.srv = &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		ep.done <- ep.srv.Serve(ln)
	}()
	ep.logger.Debug("agent tool endpoint listening", zap.String("url", ep.url))
	return ep, nil
}

// bind attaches provider's tools. Until then every request is refused.
func (ep *toolEndpoint) bind(cfg *mcp.Config, provider mcp.ToolProvider) error {
	s, err := mcp.NewServer(cfg, provider)
	if err != nil {
		return err
	}
	ep.mu.Lock()
	ep.server = s
	ep.mu.Unlock()
	return nil
}

func (ep *toolEndpoint) resolve(module string) (*mcp.Server, bool) {
	ep.mu.RLock()
	defer ep.mu.RUnlock()
	if module != ep.module || ep.server == nil {
		return nil, false
	}
	return ep.server, true
}

// close stops the listener. Sessions the agent left open are cut after a
// short grace period.
func (ep *toolEndpoint) close(ctx context.Context) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), endpointShutdownTimeout)
	defer cancel()
	if err := ep.srv.Shutdown(ctx); err != nil {
		ep.logger.Debug("agent tool endpoint shutdown", zap.Error(err))
		_ = ep.srv.Close()
	}
	if err := <-ep.done; err != nil && !errors.Is(err, http.ErrServerClosed) {
		ep.logger.Warn("agent tool endpoint", zap.Error(err))
	}
}
