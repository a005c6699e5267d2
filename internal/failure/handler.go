// Package failure classifies failures into escalating response actions.
package failure

import (
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/shipyard/internal/metrics"
)

// Severity is derived from the failure count and never stored.
type Severity string

const (
	SeverityTaskFailure     Severity = "task_failure"
	SeverityRepeatedFailure Severity = "repeated_failure"
	SeverityCritical        Severity = "critical"
)

// Action is what the loop should do next.
type Action string

const (
	// ActionSelfCorrect lets the agent retry on its own.
	ActionSelfCorrect Action = "self_correct"
	// ActionPromptUser hands control back to a human.
	ActionPromptUser Action = "prompt_user"
	// ActionBlock halts the loop.
	ActionBlock Action = "block"
)

var ErrCritical = errors.New("critical failure")

// CriticalError is the only failure that halts the whole loop.
type CriticalError struct {
	Message string
}

func (e *CriticalError) Error() string {
	return fmt.Sprintf("critical failure: %s", e.Message)
}

func (e *CriticalError) Unwrap() error { return ErrCritical }

// Classification is the handler's answer for one failure.
type Classification struct {
	Task     string   `json:"task,omitempty"`
	Severity Severity `json:"severity"`
	Action   Action   `json:"action"`
	Count    int      `json:"count"`
	Message  string   `json:"message"`
}

// Err returns *CriticalError for critical classifications and nil
// otherwise. Task-level failures are recovered locally.
func (c Classification) Err() error {
	if c.Severity != SeverityCritical {
		return nil
	}
	return &CriticalError{Message: c.Message}
}

// Handler counts consecutive failures per task. Only the most recently
// failing task holds a count: a failure on another task or a success
// resets it.
type Handler struct {
	threshold int
	logger    *zap.Logger
	metrics   *metrics.Metrics

	mu    sync.Mutex
	task  string
	count int
}

// Option configures a Handler.
type Option func(*Handler)

func WithLogger(l *zap.Logger) Option {
	return func(h *Handler) {
		if l != nil {
			h.logger = l.Named("failure")
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(h *Handler) { h.metrics = m }
}

// NewHandler requires threshold >= 1.
func NewHandler(threshold int, opts ...Option) (*Handler, error) {
	if threshold < 1 {
		return nil, fmt.Errorf("failure handler: threshold must be >= 1, got %d", threshold)
	}
	h := &Handler{threshold: threshold, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(h)
	}
	return h, nil
}

// RecordFailure counts a failure of task and classifies it.
func (h *Handler) RecordFailure(task, message string) Classification {
	h.mu.Lock()
	if task != h.task {
		h.task = task
		h.count = 0
	}
	h.count++
	count := h.count
	h.mu.Unlock()

	c := Classification{
		Task:     task,
		Severity: SeverityTaskFailure,
		Action:   ActionSelfCorrect,
		Count:    count,
		Message:  message,
	}
	if count >= h.threshold {
		c.Severity = SeverityRepeatedFailure
		c.Action = ActionPromptUser
	}

	h.metrics.RecordFailure(string(c.Severity))
	h.logger.Warn("task failure",
		zap.String("task", task),
		zap.Int("count", count),
		zap.String("severity", string(c.Severity)),
		zap.String("action", string(c.Action)),
		zap.String("message", message),
	)
	return c
}

// RecordSuccess clears the count for task.
func (h *Handler) RecordSuccess(task string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if task == h.task {
		h.task = ""
		h.count = 0
	}
}

// RecordCriticalError classifies a system-level fault. It ignores and does
// not touch task counters.
func (h *Handler) RecordCriticalError(message string) Classification {
	h.metrics.RecordFailure(string(SeverityCritical))
	h.logger.Error("critical failure", zap.String("message", message))
	return Classification{Severity: SeverityCritical, Action: ActionBlock, Message: message}
}

// ConsecutiveFailures returns the current count for task.
func (h *Handler) ConsecutiveFailures(task string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	if task != h.task {
		return 0
	}
	return h.count
}
