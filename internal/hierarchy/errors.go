package hierarchy

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidStateTransition = errors.New("invalid state transition")
	ErrNodeNotFound           = errors.New("node not found")
	ErrLeafNode               = errors.New("subtasks cannot own children")
	ErrDuplicateKey           = errors.New("node key already exists")
	ErrEmptyKey               = errors.New("node key is required")
)

// InvalidStateTransitionError reports a rejected TransitionTo call.
type InvalidStateTransitionError struct {
	Key     string
	Current State
	Target  State
}

func (e *InvalidStateTransitionError) Error() string {
	return fmt.Sprintf("invalid state transition for %s: %s -> %s", e.Key, e.Current, e.Target)
}

func (e *InvalidStateTransitionError) Unwrap() error {
	return ErrInvalidStateTransition
}
