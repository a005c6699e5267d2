package main

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	otellog "go.opentelemetry.io/otel/log"
	"go.opentelemetry.io/otel/log/global"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/shipyard/internal/agent"
	"github.com/fyrsmithlabs/shipyard/internal/config"
	"github.com/fyrsmithlabs/shipyard/internal/drift"
	"github.com/fyrsmithlabs/shipyard/internal/logging"
	"github.com/fyrsmithlabs/shipyard/internal/metrics"
	"github.com/fyrsmithlabs/shipyard/internal/orchestrator"
	"github.com/fyrsmithlabs/shipyard/internal/specstore"
	"github.com/fyrsmithlabs/shipyard/internal/telemetry"
)

const tracerName = "github.com/fyrsmithlabs/shipyard"

// app holds the dependencies shared by every command.
type app struct {
	cfg       *config.Config
	logger    *logging.Logger
	telemetry *telemetry.Telemetry
	store     *specstore.Store
	registry  *prometheus.Registry
	metrics   *metrics.Metrics
	detector  *drift.Detector
	pauser    *orchestrator.Pauser
	runners   *orchestrator.Registry
	invoker   agent.Invoker

	// progress, when set before the first runner is created, receives
	// every iteration.
	progress orchestrator.ProgressCallback
}

// globalOptions are the persistent flags of the root command.
type globalOptions struct {
	configPath string
	specsRoot  string
	logLevel   string
}

// loadConfig loads the config file and applies flag overrides. Commands
// that print to stdout log to stderr instead.
func loadConfig(opts *globalOptions, stdoutFree bool) (*config.Config, error) {
	cfg, err := config.LoadWithFile(opts.configPath)
	if err != nil {
		return nil, err
	}
	if opts.specsRoot != "" {
		cfg.Specs.Root = opts.specsRoot
	}
	if opts.logLevel != "" {
		if err := cfg.Logging.Level.UnmarshalText([]byte(opts.logLevel)); err != nil {
			return nil, fmt.Errorf("invalid log level %q: %w", opts.logLevel, err)
		}
	}
	if stdoutFree {
		cfg.Logging.Output.Stdout = false
		cfg.Logging.Output.Stderr = true
	}
	return cfg, nil
}

func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	var lp otellog.LoggerProvider
	if cfg.Logging.Output.OTEL {
		lp = global.GetLoggerProvider()
	}
	logger, err := logging.NewLogger(&cfg.Logging, lp)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	zl := logger.Underlying()

	tel, err := telemetry.New(ctx, &cfg.Telemetry, zl)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize telemetry: %w", err)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	a := &app{
		cfg:       cfg,
		logger:    logger,
		telemetry: tel,
		store:     specstore.New(cfg.Specs.Root),
		registry:  reg,
		metrics:   m,
		detector:  drift.NewDetector(drift.NewMemoryCache(), drift.WithLogger(zl)),
	}

	if err := a.configureInvoker(); err != nil {
		return nil, err
	}
	if a.invoker == nil {
		zl.Debug("no agent command configured; runs will refuse to start")
	}

	a.pauser = orchestrator.NewPauser(zl, m)
	a.runners = orchestrator.NewRegistry(a.pauser, a.newRunner, zl)
	return a, nil
}

// configureInvoker builds the agent invoker from the config, if a command
// is set. Runners created afterwards use it.
func (a *app) configureInvoker(extra ...agent.ExecOption) error {
	if len(a.cfg.Agent.Command) == 0 {
		return nil
	}
	opts := append([]agent.ExecOption{
		agent.WithAPIKey(a.cfg.Agent.APIKey.Value()),
		agent.WithTimeout(a.cfg.Agent.Timeout.Duration()),
		agent.WithExecLogger(a.logger.Underlying()),
	}, extra...)
	inv, err := agent.NewExecInvoker(a.cfg.Agent.Command, opts...)
	if err != nil {
		return err
	}
	a.invoker = inv
	return nil
}

// newRunner is the registry factory.
func (a *app) newRunner(module string) (*orchestrator.Runner, error) {
	if err := specstore.ValidateModule(module); err != nil {
		return nil, err
	}
	opts := []orchestrator.Option{
		orchestrator.WithLogger(a.logger.Underlying()),
		orchestrator.WithMetrics(a.metrics),
		orchestrator.WithTracer(a.telemetry.Tracer(tracerName)),
		orchestrator.WithPauser(a.pauser),
		orchestrator.WithDriftDetector(a.detector),
	}
	if a.progress != nil {
		opts = append(opts, orchestrator.WithProgress(a.progress))
	}
	return orchestrator.NewRunner(module, loopConfig(a.cfg), a.invoker, a.store, opts...)
}

// close flushes telemetry and the logger.
func (a *app) close(ctx context.Context) {
	if err := a.telemetry.Shutdown(context.WithoutCancel(ctx)); err != nil {
		a.logger.Underlying().Warn("telemetry shutdown", zap.Error(err))
	}
	_ = a.logger.Sync()
}

// loopConfig maps file configuration onto the control loop.
func loopConfig(cfg *config.Config) orchestrator.Config {
	return orchestrator.Config{
		Model:             cfg.Agent.Model,
		OracleModel:       cfg.Oracle.Model,
		MaxIterations:     cfg.Loop.MaxIterations,
		Budget:            cfg.Guardrails.Budget,
		WarnRatio:         cfg.Guardrails.WarnRatio,
		BlockRatio:        cfg.Guardrails.BlockRatio,
		ChurnThreshold:    cfg.Guardrails.ChurnThreshold,
		ToolCallThreshold: cfg.Guardrails.ToolCallThreshold,
		FailureThreshold:  cfg.Failure.Threshold,
		RateLimit:         cfg.Agent.RateLimit,
		Burst:             cfg.Agent.Burst,
	}
}
