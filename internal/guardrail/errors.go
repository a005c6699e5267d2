package guardrail

import (
	"errors"
	"fmt"
)

var (
	ErrBlocked = errors.New("guardrail blocked")
)

// BlockedError carries the reason a guardrail blocked an action.
type BlockedError struct {
	Guardrail string
	Module    string
	Task      string
	Reason    string
}

func (e *BlockedError) Error() string {
	target := e.Module
	if e.Task != "" {
		target = e.Module + "/" + e.Task
	}
	return fmt.Sprintf("guardrail %s blocked %s: %s", e.Guardrail, target, e.Reason)
}

func (e *BlockedError) Unwrap() error {
	return ErrBlocked
}
