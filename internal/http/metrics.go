package http

import (
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

const instrumentationName = "github.com/fyrsmithlabs/shipyard/internal/http"

// Control actions counted by apiMetrics, keyed by method and route template.
var controlActions = map[string]string{
	http.MethodPost + " /api/v1/pause":                          "pause",
	http.MethodPost + " /api/v1/resume":                         "resume",
	http.MethodPost + " /api/v1/modules/:module/approve":        "approve",
	http.MethodPost + " /api/v1/modules/:module/reset-approval": "reset_approval",
	http.MethodPost + " /api/v1/modules/:module/run":            "run",
}

// apiMetrics instruments the operator API and the MCP transport. Requests
// are labelled by route template, and per-module routes also carry the
// module once it resolved.
type apiMetrics struct {
	logger   *zap.Logger
	requests metric.Int64Counter
	duration metric.Float64Histogram
	inflight metric.Int64UpDownCounter
	actions  metric.Int64Counter
}

func newAPIMetrics(meter metric.Meter, logger *zap.Logger) *apiMetrics {
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &apiMetrics{logger: logger}

	var err error
	m.requests, err = meter.Int64Counter(
		"shipyard.api.requests_total",
		metric.WithDescription("Operator API and MCP requests by method, route, status and module."),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		logger.Warn("failed to create requests counter", zap.Error(err))
	}

	m.duration, err = meter.Float64Histogram(
		"shipyard.api.request_duration_seconds",
		metric.WithDescription("Request latency by method, route, status and module. MCP tool calls include the oracle round-trip."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.005, 0.025, 0.1, 0.5, 1, 5, 15, 60, 300),
	)
	if err != nil {
		logger.Warn("failed to create duration histogram", zap.Error(err))
	}

	m.inflight, err = meter.Int64UpDownCounter(
		"shipyard.api.active_requests",
		metric.WithDescription("Requests currently being served."),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		logger.Warn("failed to create active requests gauge", zap.Error(err))
	}

	m.actions, err = meter.Int64Counter(
		"shipyard.api.control_actions_total",
		metric.WithDescription("Operator control actions (pause, resume, approve, reset_approval, run) by outcome."),
		metric.WithUnit("{action}"),
	)
	if err != nil {
		logger.Warn("failed to create control actions counter", zap.Error(err))
	}
	return m
}

// middleware records every request. Handler errors are rendered here so the
// recorded status is the one the client receives.
func (m *apiMetrics) middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			ctx := c.Request().Context()
			if m.inflight != nil {
				m.inflight.Add(ctx, 1)
				defer m.inflight.Add(ctx, -1)
			}

			if err := next(c); err != nil {
				c.Error(err)
			}

			status := c.Response().Status
			attrs := requestAttributes(c, status)
			if m.requests != nil {
				m.requests.Add(ctx, 1, metric.WithAttributes(attrs...))
			}
			if m.duration != nil {
				m.duration.Record(ctx, time.Since(start).Seconds(), metric.WithAttributes(attrs...))
			}
			if action, ok := controlActions[c.Request().Method+" "+c.Path()]; ok && m.actions != nil {
				outcome := "ok"
				if status >= http.StatusBadRequest {
					outcome = "rejected"
				}
				kv := []attribute.KeyValue{
					attribute.String("action", action),
					attribute.String("outcome", outcome),
				}
				if module := moduleLabel(c, status); module != "" {
					kv = append(kv, attribute.String("module", module))
				}
				m.actions.Add(ctx, 1, metric.WithAttributes(kv...))
			}
			return nil
		}
	}
}

func requestAttributes(c echo.Context, status int) []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		attribute.String("method", c.Request().Method),
		attribute.String("route", routeLabel(c.Path())),
		attribute.Int("status", status),
	}
	if module := moduleLabel(c, status); module != "" {
		attrs = append(attrs, attribute.String("module", module))
	}
	return attrs
}

// routeLabel maps an unmatched route to "/". Echo reports the template
// (/api/v1/modules/:module/approve), so module names never reach it.
func routeLabel(path string) string {
	if path == "" {
		return "/"
	}
	return path
}

// moduleLabel returns the module of a per-module route, or "" when the
// route has none or the module was not found. Unknown names are dropped to
// keep label cardinality bounded by the modules on disk.
func moduleLabel(c echo.Context, status int) string {
	if !strings.Contains(c.Path(), ":module") || status == http.StatusNotFound {
		return ""
	}
	return c.Param("module")
}
