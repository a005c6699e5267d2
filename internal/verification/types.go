// Package verification enforces "no completion without evidence".
//
// The Oracle asks an independent agent whether evidence meets acceptance
// criteria. The Tracker keeps the latest verdict per (scope, id). The
// CompletionGate refuses any completion status update that lacks a current,
// passing verdict for exactly the same (scope, id).
package verification

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Scope is the level at which a verification applies.
type Scope string

const (
	ScopeTask      Scope = "task"
	ScopeComponent Scope = "component"
	ScopeModule    Scope = "module"
)

// Valid reports whether s is a known scope.
func (s Scope) Valid() bool {
	return s == ScopeTask || s == ScopeComponent || s == ScopeModule
}

// Key identifies one verification target.
type Key struct {
	Scope Scope  `json:"scope"`
	ID    string `json:"id"`
}

func (k Key) String() string {
	return fmt.Sprintf("%s %s", k.Scope, k.ID)
}

// Record is the outcome of one verification.
type Record struct {
	ID         uuid.UUID `json:"record_id"`
	Key        Key       `json:"key"`
	Passed     bool      `json:"passed"`
	Gaps       []string  `json:"gaps,omitempty"`
	Malformed  bool      `json:"malformed,omitempty"`
	VerifiedAt time.Time `json:"verified_at"`
}

var (
	ErrVerificationMismatch    = errors.New("verification mismatch")
	ErrMalformedOracleResponse = errors.New("malformed oracle response")
	ErrInvalidScope            = errors.New("invalid verification scope")
	ErrUnknownTarget           = errors.New("unknown verification target")
)

// MismatchError is returned when a completion claim has no matching passing
// verification. Reason names the offending target so an operator can act.
type MismatchError struct {
	Key    Key
	Reason string
}

func (e *MismatchError) Error() string {
	return fmt.Sprintf("completion of %s rejected: %s", e.Key, e.Reason)
}

func (e *MismatchError) Unwrap() error {
	return ErrVerificationMismatch
}
