package failure

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"github.com/fyrsmithlabs/shipyard/internal/logging"
	"github.com/fyrsmithlabs/shipyard/internal/metrics"
)

func TestHandler_Escalates(t *testing.T) {
	h, err := NewHandler(3)
	require.NoError(t, err)

	var actions []Action
	for i := 0; i < 4; i++ {
		actions = append(actions, h.RecordFailure("t1", "tests failed").Action)
	}
	assert.Equal(t, []Action{ActionSelfCorrect, ActionSelfCorrect, ActionPromptUser, ActionPromptUser}, actions)
	assert.Equal(t, 4, h.ConsecutiveFailures("t1"))
}

func TestHandler_SeverityFollowsCount(t *testing.T) {
	h, err := NewHandler(2)
	require.NoError(t, err)

	c := h.RecordFailure("t1", "x")
	assert.Equal(t, SeverityTaskFailure, c.Severity)
	assert.Equal(t, 1, c.Count)
	assert.NoError(t, c.Err())

	c = h.RecordFailure("t1", "x")
	assert.Equal(t, SeverityRepeatedFailure, c.Severity)
	assert.NoError(t, c.Err(), "repeated failures are recovered locally")
}

func TestHandler_OtherTaskResets(t *testing.T) {
	h, err := NewHandler(3)
	require.NoError(t, err)

	h.RecordFailure("t1", "x")
	h.RecordFailure("t1", "x")
	c := h.RecordFailure("t2", "y")
	assert.Equal(t, 1, c.Count)
	assert.Equal(t, 0, h.ConsecutiveFailures("t1"))

	c = h.RecordFailure("t1", "x")
	assert.Equal(t, 1, c.Count)
	assert.Equal(t, ActionSelfCorrect, c.Action)
}

func TestHandler_SuccessResets(t *testing.T) {
	h, err := NewHandler(3)
	require.NoError(t, err)

	h.RecordFailure("t1", "x")
	h.RecordFailure("t1", "x")
	h.RecordSuccess("t2")
	assert.Equal(t, 2, h.ConsecutiveFailures("t1"), "success of another task leaves the count")

	h.RecordSuccess("t1")
	assert.Equal(t, 0, h.ConsecutiveFailures("t1"))
	assert.Equal(t, ActionSelfCorrect, h.RecordFailure("t1", "x").Action)
}

func TestHandler_CriticalAlwaysBlocks(t *testing.T) {
	tl := logging.NewTestLogger()
	m := metrics.New(prometheus.NewRegistry())
	h, err := NewHandler(3, WithLogger(tl.Underlying()), WithMetrics(m))
	require.NoError(t, err)

	h.RecordFailure("t1", "x")
	c := h.RecordCriticalError("disk full")
	assert.Equal(t, SeverityCritical, c.Severity)
	assert.Equal(t, ActionBlock, c.Action)
	assert.Equal(t, 1, h.ConsecutiveFailures("t1"), "critical errors leave task counters alone")

	err = c.Err()
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrCritical))
	var critical *CriticalError
	require.True(t, errors.As(err, &critical))
	assert.Equal(t, "disk full", critical.Message)

	tl.AssertLogged(t, zapcore.ErrorLevel, "critical failure")
	tl.AssertField(t, "task failure", "count", 1)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Failures.WithLabelValues("critical")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Failures.WithLabelValues("task_failure")))
}

func TestNewHandler_InvalidThreshold(t *testing.T) {
	_, err := NewHandler(0)
	assert.Error(t, err)
}
