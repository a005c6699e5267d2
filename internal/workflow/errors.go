package workflow

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidTrigger = errors.New("invalid trigger")
	ErrInvalidStep    = errors.New("invalid step")
	ErrNoSpecSource   = errors.New("no specification source configured")
)

// InvalidTriggerError reports a trigger fired at a step that does not accept
// it. The engine's step is unchanged.
type InvalidTriggerError struct {
	Module  string
	Step    Step
	Trigger Trigger
}

func (e *InvalidTriggerError) Error() string {
	return fmt.Sprintf("module %s: trigger %s not permitted at step %s", e.Module, e.Trigger, e.Step)
}

func (e *InvalidTriggerError) Unwrap() error {
	return ErrInvalidTrigger
}
