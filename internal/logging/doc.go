// Package logging provides structured logging for shipyard.
//
// The package wraps Zap with:
//   - a custom Trace level (-2, below Debug)
//   - dual output (stdout and the OpenTelemetry log bridge)
//   - automatic context fields (trace_id, module, task, run.id)
//
// Create a logger from config:
//
//	cfg := logging.NewDefaultConfig()
//	logger, err := logging.NewLogger(cfg, otelProvider)
//	if err != nil {
//	    return err
//	}
//	defer logger.Sync()
//
// Core packages accept a plain *zap.Logger; pass logger.Underlying() to them.
// Context correlation:
//
//	ctx = logging.WithModule(ctx, "billing")
//	ctx = logging.WithTask(ctx, "t1")
//	logger.Info(ctx, "guardrail evaluated", zap.String("severity", "warn"))
//
// Use TestLogger for test assertions:
//
//	tl := logging.NewTestLogger()
//	tl.Info(ctx, "test message", zap.String("key", "value"))
//	tl.AssertLogged(t, zapcore.InfoLevel, "test message")
package logging
