package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	gomcp "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/shipyard/internal/agent"
	"github.com/fyrsmithlabs/shipyard/internal/metrics"
	"github.com/fyrsmithlabs/shipyard/internal/orchestrator"
	"github.com/fyrsmithlabs/shipyard/internal/specstore"
	"github.com/fyrsmithlabs/shipyard/internal/workflow"
)

const billingSpec = `# Billing

## Dependencies

- payments gateway

## Components

### API

- [x] define routes
- [ ] implement handlers
`

type memSource struct {
	mu   sync.Mutex
	docs map[string]string
}

func (s *memSource) Load(_ context.Context, module string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.docs[module]
	return c, ok, nil
}

type testEnv struct {
	server   *Server
	registry *orchestrator.Registry
	reg      *prometheus.Registry
}

func setupTestServer(t *testing.T) *testEnv {
	t.Helper()

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	source := &memSource{docs: map[string]string{"billing": billingSpec}}
	pauser := orchestrator.NewPauser(nil, m)
	invoker := agent.InvokerFunc(func(context.Context, agent.Request) (*agent.Response, error) {
		return &agent.Response{Output: "ok"}, nil
	})

	registry := orchestrator.NewRegistry(pauser, func(module string) (*orchestrator.Runner, error) {
		if err := specstore.ValidateModule(module); err != nil {
			return nil, err
		}
		return orchestrator.NewRunner(module, orchestrator.DefaultConfig(), invoker, source,
			orchestrator.WithPauser(pauser),
			orchestrator.WithMetrics(m),
		)
	}, nil)

	server, err := NewServer(registry, source, reg, zap.NewNop(), &Config{Host: "localhost", Port: 9191, Version: "test"})
	require.NoError(t, err)
	return &testEnv{server: server, registry: registry, reg: reg}
}

func (e *testEnv) do(t *testing.T, method, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	rec := httptest.NewRecorder()
	e.server.echo.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v))
	return v
}

func TestNewServer(t *testing.T) {
	registry := orchestrator.NewRegistry(nil, nil, nil)
	source := &memSource{docs: map[string]string{}}

	t.Run("uses defaults when config is nil", func(t *testing.T) {
		server, err := NewServer(registry, source, nil, zap.NewNop(), nil)
		require.NoError(t, err)
		assert.Equal(t, "localhost", server.config.Host)
		assert.Equal(t, 9191, server.config.Port)
	})

	t.Run("returns error when logger is nil", func(t *testing.T) {
		_, err := NewServer(registry, source, nil, nil, nil)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "logger is required")
	})

	t.Run("returns error when registry is nil", func(t *testing.T) {
		_, err := NewServer(nil, source, nil, zap.NewNop(), nil)
		assert.Error(t, err)
	})

	t.Run("returns error when source is nil", func(t *testing.T) {
		_, err := NewServer(registry, nil, nil, zap.NewNop(), nil)
		assert.Error(t, err)
	})
}

func TestHandleHealth(t *testing.T) {
	env := setupTestServer(t)
	rec := env.do(t, http.MethodGet, "/health")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", decodeBody[HealthResponse](t, rec).Status)
}

func TestHandleMetrics(t *testing.T) {
	env := setupTestServer(t)
	env.do(t, http.MethodPost, "/api/v1/pause")

	rec := env.do(t, http.MethodGet, "/metrics")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "shipyard_loop_paused 1")
}

func TestHandleStatus(t *testing.T) {
	env := setupTestServer(t)

	rec := env.do(t, http.MethodGet, "/api/v1/status")
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decodeBody[StatusResponse](t, rec)
	assert.Equal(t, "test", resp.Version)
	assert.Empty(t, resp.Modules)

	env.do(t, http.MethodGet, "/api/v1/modules/billing/status")
	resp = decodeBody[StatusResponse](t, env.do(t, http.MethodGet, "/api/v1/status"))
	require.Len(t, resp.Modules, 1)
	assert.Equal(t, "billing", resp.Modules[0].Module)
	assert.Equal(t, workflow.StepIterateThroughTasks, resp.Modules[0].Step)
}

func TestHandlePauseResume(t *testing.T) {
	env := setupTestServer(t)

	rec := env.do(t, http.MethodPost, "/api/v1/pause")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, PauseResponse{Paused: true, Changed: true}, decodeBody[PauseResponse](t, rec))

	rec = env.do(t, http.MethodPost, "/api/v1/pause")
	assert.Equal(t, PauseResponse{Paused: true, Changed: false}, decodeBody[PauseResponse](t, rec))
	assert.True(t, env.registry.Pauser().Paused())

	rec = env.do(t, http.MethodPost, "/api/v1/resume")
	assert.Equal(t, PauseResponse{Paused: false, Changed: true}, decodeBody[PauseResponse](t, rec))
	assert.False(t, env.registry.Pauser().Paused())
}

func TestHandleApproval(t *testing.T) {
	env := setupTestServer(t)

	rec := env.do(t, http.MethodPost, "/api/v1/modules/billing/approve")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, ApprovalResponse{Module: "billing", Approved: true}, decodeBody[ApprovalResponse](t, rec))

	st := decodeBody[ModuleStatusResponse](t, env.do(t, http.MethodGet, "/api/v1/modules/billing/status"))
	assert.True(t, st.Approved)
	assert.Equal(t, workflow.PhaseBuilding, st.Phase)

	rec = env.do(t, http.MethodPost, "/api/v1/modules/billing/reset-approval")
	require.Equal(t, http.StatusOK, rec.Code)
	st = decodeBody[ModuleStatusResponse](t, env.do(t, http.MethodGet, "/api/v1/modules/billing/status"))
	assert.False(t, st.Approved)
	assert.Equal(t, workflow.PhaseRequirementGathering, st.Phase)
}

func TestHandleAssessment(t *testing.T) {
	env := setupTestServer(t)

	rec := env.do(t, http.MethodGet, "/api/v1/modules/billing/assessment")
	require.Equal(t, http.StatusOK, rec.Code)
	a := decodeBody[workflow.Assessment](t, rec)
	assert.Equal(t, workflow.StepIterateThroughTasks, a.Step)
	assert.Equal(t, 2, a.Total)
	assert.Equal(t, 1, a.Completed)
	assert.True(t, a.Inputs.TasksBrokenDown)
}

func TestHandleUnknownModule(t *testing.T) {
	env := setupTestServer(t)
	rec := env.do(t, http.MethodGet, "/api/v1/modules/bad.name/status")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandleRun(t *testing.T) {
	env := setupTestServer(t)

	rec := env.do(t, http.MethodPost, "/api/v1/modules/billing/run")
	require.Equal(t, http.StatusAccepted, rec.Code)
	env.registry.Wait()

	st := decodeBody[ModuleStatusResponse](t, env.do(t, http.MethodGet, "/api/v1/modules/billing/status"))
	assert.False(t, st.Run.Running)
	assert.Contains(t, st.Run.Error, orchestrator.ErrAwaitingApproval.Error())
}

func TestMCPEndpoint(t *testing.T) {
	env := setupTestServer(t)
	srv := httptest.NewServer(env.server.echo)
	defer srv.Close()

	ctx := context.Background()
	client := gomcp.NewClient(&gomcp.Implementation{Name: "test-agent", Version: "v0.0.1"}, nil)

	// Modules are hosted once the operator API has loaded them.
	_, err := client.Connect(ctx, &gomcp.StreamableClientTransport{Endpoint: srv.URL + "/mcp/billing"}, nil)
	assert.Error(t, err)

	resp, err := http.Get(srv.URL + "/api/v1/modules/billing/status")
	require.NoError(t, err)
	resp.Body.Close()

	cs, err := client.Connect(ctx, &gomcp.StreamableClientTransport{Endpoint: srv.URL + "/mcp/billing"}, nil)
	require.NoError(t, err)
	defer cs.Close()

	tools, err := cs.ListTools(ctx, nil)
	require.NoError(t, err)
	var names []string
	for _, tool := range tools.Tools {
		names = append(names, tool.Name)
	}
	assert.ElementsMatch(t, []string{
		"verify_task_completion",
		"verify_component_completion",
		"verify_module_completion",
		"update_task_status",
	}, names)
}
