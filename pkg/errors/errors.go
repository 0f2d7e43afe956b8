package errors

import (
	"errors"
	"fmt"
)

// Kind classifies a failure for the cleanup funnel.
type Kind string

const (
	// KindNotify marks a condition worth surfacing to an operator that does
	// not invalidate the run by itself (e.g. a submodule failed to close).
	KindNotify Kind = "NOTIFY"

	// KindOperation marks an expected, well-understood fatal condition: lock
	// contention, unsupported topology, a failed balancer or snapshot step.
	KindOperation Kind = "OPERATION"

	// KindUnclassified marks everything else. Unclassified failures are
	// logged with full detail and treated as fatal.
	KindUnclassified Kind = "UNCLASSIFIED"
)

// Error is a classified application error. Step records which phase of the
// run produced it.
type Error struct {
	Kind    Kind
	Step    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	switch {
	case e.Err != nil && e.Step != "":
		return fmt.Sprintf("[%s] %s: %s: %v", e.Kind, e.Step, e.Message, e.Err)
	case e.Err != nil:
		return fmt.Sprintf("[%s] %s: %v", e.Kind, e.Message, e.Err)
	case e.Step != "":
		return fmt.Sprintf("[%s] %s: %s", e.Kind, e.Step, e.Message)
	}
	return fmt.Sprintf("[%s] %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Notify creates a new Notify-class error.
func Notify(step, message string, err error) error {
	return &Error{
		Kind:    KindNotify,
		Step:    step,
		Message: message,
		Err:     err,
	}
}

// Operational creates a new Operation-class error.
func Operational(step, message string, err error) error {
	return &Error{
		Kind:    KindOperation,
		Step:    step,
		Message: message,
		Err:     err,
	}
}

// Operationalf creates a new Operation-class error without a cause.
func Operationalf(step, format string, args ...interface{}) error {
	return &Error{
		Kind:    KindOperation,
		Step:    step,
		Message: fmt.Sprintf(format, args...),
	}
}

// Wrap wraps an error with step context, preserving its kind if it already
// carries one and classifying it as unclassified otherwise.
func Wrap(err error, step, message string) error {
	if err == nil {
		return nil
	}
	return &Error{
		Kind:    KindOf(err),
		Step:    step,
		Message: message,
		Err:     err,
	}
}

// KindOf returns the kind carried by err, or KindUnclassified when err does
// not carry one.
func KindOf(err error) Kind {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Kind
	}
	return KindUnclassified
}

// StepOf returns the innermost recorded step for err, or "" if none.
func StepOf(err error) string {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Step
	}
	return ""
}

// Is checks if an error is of a specific type
func Is(err error, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain that matches target
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}
