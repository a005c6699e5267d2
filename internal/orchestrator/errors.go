package orchestrator

import "errors"

var (
	// ErrCancelled is returned when the context ends while the loop is
	// paused or waiting.
	ErrCancelled = errors.New("loop cancelled")

	// ErrAwaitingApproval means the requirements gate needs a human.
	ErrAwaitingApproval = errors.New("awaiting requirements approval")

	// ErrNeedsUser means repeated failures escalated to a human.
	ErrNeedsUser = errors.New("escalated to user")

	// ErrMaxIterations means the loop ran out of iterations.
	ErrMaxIterations = errors.New("iteration limit reached")

	ErrNoInvoker      = errors.New("no agent invoker configured")
	ErrUnknownModule  = errors.New("unknown module")
	ErrAlreadyRunning = errors.New("module loop already running")
)
