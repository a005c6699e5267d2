package guardrail

import (
	"fmt"
	"sync"
)

// ChurnName identifies the churn guardrail.
const ChurnName = "churn"

// ChurnDetector stops the agent from grinding on one task. With threshold
// N, attempt N-1 warns (once per task) and attempt N or later blocks.
//
// It is the only stateful guardrail: it remembers the current task and its
// attempt count, and starts over whenever the task changes.
type ChurnDetector struct {
	threshold int

	mu       sync.Mutex
	task     string
	attempts int
	warned   bool
}

// NewChurnDetector requires threshold >= 1.
func NewChurnDetector(threshold int) (*ChurnDetector, error) {
	if threshold < 1 {
		return nil, fmt.Errorf("churn: threshold must be >= 1, got %d", threshold)
	}
	return &ChurnDetector{threshold: threshold}, nil
}

func (c *ChurnDetector) Name() string { return ChurnName }

func (c *ChurnDetector) Check(gc Context) Result {
	if gc.Task == "" {
		return PassResult(c.Name())
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if gc.Task != c.task {
		c.task = gc.Task
		c.attempts = 0
		c.warned = false
	}
	if gc.Attempt > 0 {
		c.attempts = gc.Attempt
	} else {
		c.attempts++
	}

	switch {
	case c.attempts >= c.threshold:
		return BlockResult(c.Name(), "task %s failed to converge after %d attempts", gc.Task, c.attempts)
	case c.attempts == c.threshold-1 && !c.warned:
		c.warned = true
		return WarnResult(c.Name(), "task %s is on attempt %d of %d", gc.Task, c.attempts, c.threshold)
	default:
		return PassResult(c.Name())
	}
}

// Reset forgets the tracked task.
func (c *ChurnDetector) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.task, c.attempts, c.warned = "", 0, false
}

// Attempts returns the current attempt count for task, or 0 if task is not
// the one being tracked.
func (c *ChurnDetector) Attempts(task string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if task != c.task {
		return 0
	}
	return c.attempts
}
