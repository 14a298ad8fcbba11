package engine

import (
	"errors"
	"fmt"
	"strings"

	"github.com/terrane-io/terrane/internal/ir"
)

// ErrorKind classifies engine failures.
type ErrorKind string

const (
	// ErrCycleDetected: the declaration set contains a dependency cycle.
	ErrCycleDetected ErrorKind = "cycle_detected"
	// ErrUnresolvedReference: a reference names an unknown declaration or an
	// attribute the target kind does not define.
	ErrUnresolvedReference ErrorKind = "unresolved_reference"
	// ErrSchemaViolation: a declaration does not satisfy its kind's schema.
	ErrSchemaViolation ErrorKind = "schema_violation"
	// ErrProvisioningFailure: a provider action failed.
	ErrProvisioningFailure ErrorKind = "provisioning_failure"
	// ErrConcurrentModification: a state record changed between plan and apply.
	ErrConcurrentModification ErrorKind = "concurrent_modification"
)

// Error is a classified engine error. Name is the logical name of the
// resource the error is scoped to and Action the action being attempted,
// when known. Cycle holds the member nodes of a detected cycle.
type Error struct {
	Kind   ErrorKind
	Name   string
	Action ir.Action
	Cycle  []string
	Err    error
}

func (e *Error) Error() string {
	switch e.Kind {
	case ErrCycleDetected:
		return "dependency cycle detected: " + strings.Join(e.Cycle, " -> ")
	case ErrUnresolvedReference:
		return fmt.Sprintf("%s: unresolved reference: %v", e.Name, e.Err)
	case ErrSchemaViolation:
		return fmt.Sprintf("schema violation: %v", e.Err)
	case ErrConcurrentModification:
		return fmt.Sprintf("%s: %s aborted: %v", e.Name, e.Action, e.Err)
	case ErrProvisioningFailure:
		return fmt.Sprintf("%s: %s failed: %v", e.Name, e.Action, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Name, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf returns the engine error kind of err, or "" when err is not an
// engine error.
func KindOf(err error) ErrorKind {
	var ee *Error
	if errors.As(err, &ee) {
		return ee.Kind
	}
	return ""
}

// IsKind reports whether err is an engine error of the given kind.
func IsKind(err error, kind ErrorKind) bool {
	return KindOf(err) == kind
}

func cycleError(members []string) *Error {
	return &Error{Kind: ErrCycleDetected, Cycle: members}
}

func unresolvedRefError(name string, ref ir.Reference, reason string) *Error {
	return &Error{
		Kind: ErrUnresolvedReference,
		Name: name,
		Err:  fmt.Errorf("%s (%s)", ref, reason),
	}
}

func provisioningError(name string, action ir.Action, err error) *Error {
	return &Error{Kind: ErrProvisioningFailure, Name: name, Action: action, Err: err}
}

func concurrentModError(name string, action ir.Action, expected, found uint64) *Error {
	return &Error{
		Kind:   ErrConcurrentModification,
		Name:   name,
		Action: action,
		Err:    fmt.Errorf("state record modified since plan (expected serial %d, found %d)", expected, found),
	}
}
