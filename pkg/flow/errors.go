package flow

import (
	"errors"
	"fmt"
	"strings"

	dferrors "github.com/vnykmshr/dataflow/pkg/common/errors"
)

const module = "flow"

var (
	// ErrArgumentCount is returned when an invocation supplies a different
	// number of arguments than the pipeline declares in InParams.
	ErrArgumentCount = errors.New("argument count mismatch")

	// ErrNotSequence is returned when a fan-out input is not a slice or array.
	ErrNotSequence = errors.New("fan-out input is not a sequence")

	// ErrNilDeferred is returned when a promise task yields a nil Deferred.
	ErrNilDeferred = errors.New("callable returned a nil deferred")

	// ErrNotDeferred is returned when a promise task yields a value that does not implement Deferred.
	ErrNotDeferred = errors.New("callable did not return a deferred")

	// ErrUnknownCallable is returned when a named function or method cannot be found.
	ErrUnknownCallable = errors.New("unknown callable")

	// ErrSignature is returned when a callable's shape does not fit its calling convention.
	ErrSignature = errors.New("callable signature mismatch")

	// ErrNilRejection replaces a nil error passed to a deferred failure branch.
	ErrNilRejection = errors.New("deferred rejected without an error")
)

// ValidationErrors is the full list of problems found while compiling a descriptor.
type ValidationErrors []*dferrors.ValidationError

func (e ValidationErrors) Error() string {
	switch len(e) {
	case 0:
		return "no validation errors"
	case 1:
		return e[0].Error()
	}
	msgs := make([]string, len(e))
	for i, err := range e {
		msgs[i] = err.Error()
	}
	return fmt.Sprintf("%d validation errors:\n  %s", len(e), strings.Join(msgs, "\n  "))
}

// Unwrap exposes each entry to errors.Is and errors.As.
func (e ValidationErrors) Unwrap() []error {
	errs := make([]error, len(e))
	for i, err := range e {
		errs[i] = err
	}
	return errs
}

func (e *ValidationErrors) add(field string, value interface{}, reason string) *dferrors.ValidationError {
	verr := dferrors.NewValidationError(module, field, value, reason)
	*e = append(*e, verr)
	return verr
}

func (e *ValidationErrors) addErr(err error) {
	var verr *dferrors.ValidationError
	if errors.As(err, &verr) {
		*e = append(*e, verr)
	}
}

// UnboundVariableError reports a read of a name that was never written.
// Compiled pipelines should never produce it.
type UnboundVariableError struct {
	Name string
}

func (e *UnboundVariableError) Error() string {
	return fmt.Sprintf("variable %q is not bound", e.Name)
}

// TaskError wraps any failure surfaced by a task's callable.
type TaskError struct {
	Task  Task
	Cause error

	// Vars is a snapshot of the Variable Context, set only by an Enricher.
	Vars map[string]any

	enriched bool
}

func (e *TaskError) Error() string {
	return fmt.Sprintf("task %s failed: %v", describeTask(e.Task), e.Cause)
}

func (e *TaskError) Unwrap() error {
	return e.Cause
}

// ElementError is the failure of one fan-out element. Only the first
// element to fail is reported.
type ElementError struct {
	Index int
	Err   *TaskError
}

func (e *ElementError) Error() string {
	return fmt.Sprintf("element %d: %v", e.Index, e.Err)
}

func (e *ElementError) Unwrap() error {
	return e.Err
}

func describeTask(t Task) string {
	if t == nil {
		return "<nil>"
	}
	return fmt.Sprintf("%s(%s)", t.Name(), strings.Join(t.Inputs(), ","))
}
