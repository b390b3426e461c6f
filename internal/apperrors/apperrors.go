// Package apperrors types the error taxonomy of spec.md §7 so callers can
// branch with errors.As instead of string matching, while staying as
// dependency-light as the teacher's own error handling (plain wrapped
// errors, no custom framework).
package apperrors

import (
	"errors"
	"fmt"
	"os"

	"github.com/rs/zerolog/log"
)

// Transient marks a failure the caller's layer should retry (LLM timeout,
// queue hiccup, RPC 5xx) before escalating.
type Transient struct {
	Op  string
	Err error
}

func (e *Transient) Error() string { return fmt.Sprintf("transient error in %s: %v", e.Op, e.Err) }
func (e *Transient) Unwrap() error { return e.Err }

func NewTransient(op string, err error) error {
	if err == nil {
		return nil
	}
	return &Transient{Op: op, Err: err}
}

// Schema marks an LLM response that failed to parse or contained an enum
// value outside the closed set after normalization.
type Schema struct {
	Op  string
	Err error
}

func (e *Schema) Error() string { return fmt.Sprintf("schema error in %s: %v", e.Op, e.Err) }
func (e *Schema) Unwrap() error { return e.Err }

func NewSchema(op string, err error) error {
	if err == nil {
		return nil
	}
	return &Schema{Op: op, Err: err}
}

// Policy marks a guardrail rejection (high spam/policy/hallucination risk).
// It is not a Go error in the failure sense — it documents a deliberate
// "do not send" decision — but is typed the same way for uniform handling.
type Policy struct {
	Reason string
}

func (e *Policy) Error() string { return fmt.Sprintf("policy guardrail: %s", e.Reason) }

func NewPolicy(reason string) error { return &Policy{Reason: reason} }

// Invariant marks a violation that must fail the whole task (conversation
// not found, tenant mismatch): the queue entry is nacked and no state is
// mutated.
type Invariant struct {
	Op  string
	Err error
}

func (e *Invariant) Error() string { return fmt.Sprintf("invariant violated in %s: %v", e.Op, e.Err) }
func (e *Invariant) Unwrap() error { return e.Err }

func NewInvariant(op string, err error) error {
	if err == nil {
		return nil
	}
	return &Invariant{Op: op, Err: err}
}

// IsTransient reports whether err (or a wrapped cause) is a Transient error.
func IsTransient(err error) bool {
	var t *Transient
	return errors.As(err, &t)
}

// IsInvariant reports whether err (or a wrapped cause) is an Invariant error.
func IsInvariant(err error) bool {
	var i *Invariant
	return errors.As(err, &i)
}

// Fatal logs a structured fatal event and exits the process. Used only at
// startup for missing configuration/secrets — never from request-handling
// code paths.
func Fatal(op string, err error) {
	log.Error().Err(err).Str("op", op).Msg("fatal startup error")
	os.Exit(1)
}
