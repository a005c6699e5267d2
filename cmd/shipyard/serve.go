package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	httpapi "github.com/fyrsmithlabs/shipyard/internal/http"
	"github.com/fyrsmithlabs/shipyard/internal/specstore"
)

func newServeCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Host every module under the spec root behind the operator API",
		Long: `Load every module under the specification root, watch their specification
files for changes and serve the operator API, /metrics and the per-module MCP
endpoint at /mcp/<module>. Runs are started with POST
/api/v1/modules/<module>/run.

SIGINT or SIGTERM cancels running loops and shuts the server down.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(opts, false)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := newApp(ctx, cfg)
			if err != nil {
				return err
			}
			defer a.close(ctx)
			return serve(ctx, a)
		},
	}
}

// serve blocks until ctx is cancelled or the listener fails.
func serve(ctx context.Context, a *app) error {
	logger := a.logger.Underlying()
	cfg := a.cfg

	logger.Info("starting shipyard",
		zap.String("version", version),
		zap.String("specs_root", cfg.Specs.Root),
		zap.Int("port", cfg.Server.Port),
		zap.Bool("agent_configured", a.invoker != nil),
		zap.Bool("telemetry", a.telemetry.IsEnabled()))

	a.loadModules(ctx)

	if cfg.Specs.Watch {
		w, err := specstore.NewWatcher(a.store, a.onSpecChange(ctx),
			specstore.WithWatcherLogger(logger),
			specstore.WithDebounce(cfg.Specs.Debounce.Duration()))
		if err != nil {
			return err
		}
		if err := w.Start(ctx); err != nil {
			return err
		}
		defer w.Stop()
	}

	srv, err := httpapi.NewServer(a.runners, a.store, a.registry, logger, &httpapi.Config{
		Host:    cfg.Server.Host,
		Port:    cfg.Server.Port,
		Version: version,
	})
	if err != nil {
		return err
	}
	srv.SetRunContext(ctx)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.Server.ShutdownTimeout.Duration())
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", zap.Error(err))
	}
	a.runners.Wait()
	logger.Info("shipyard stopped")
	return nil
}

// loadModules registers every module found under the spec root.
func (a *app) loadModules(ctx context.Context) {
	logger := a.logger.Underlying()
	modules, err := a.store.Modules()
	if err != nil {
		logger.Warn("list modules", zap.Error(err))
		return
	}
	for _, module := range modules {
		if _, err := a.runners.Runner(ctx, module); err != nil {
			logger.Warn("load module", zap.String("module", module), zap.Error(err))
		}
	}
	logger.Info("modules loaded", zap.Int("count", len(modules)))
}

// onSpecChange re-assesses a module whose specification changed. Drift is
// reported by the runner's detector on resume.
func (a *app) onSpecChange(ctx context.Context) specstore.ChangeHandler {
	logger := a.logger.Underlying()
	return func(module string) {
		_, found, err := a.store.Load(ctx, module)
		if err != nil {
			logger.Warn("reload specification", zap.String("module", module), zap.Error(err))
			return
		}
		if !found {
			logger.Info("specification removed", zap.String("module", module))
			return
		}
		reloaded, err := a.runners.Reload(ctx, module)
		switch {
		case err != nil:
			logger.Warn("reload module", zap.String("module", module), zap.Error(err))
		case !reloaded:
			logger.Info("specification changed during a run", zap.String("module", module))
		default:
			logger.Debug("module reloaded", zap.String("module", module))
		}
	}
}
