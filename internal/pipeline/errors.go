package pipeline

import (
	"errors"
	"fmt"
)

// ErrorKind categorizes engine errors by how they propagate.
//
//   - Configuration errors abort the run before any dispatch.
//   - Input resolution, execution, missing output, and timeout errors are
//     fatal for the affected task instance and its downstream closure.
//   - Transient backend errors are retried with backoff; once the retry
//     bound is exhausted they escalate to execution errors.
type ErrorKind string

const (
	// KindConfiguration indicates bad wiring: unresolved channels, cycles,
	// cardinality mismatches, duplicate names. Detected at build time.
	KindConfiguration ErrorKind = "CONFIGURATION"

	// KindInputResolution indicates a declared input file or manifest
	// entry is missing.
	KindInputResolution ErrorKind = "INPUT_RESOLUTION"

	// KindExecution indicates the wrapped tool exited non-zero.
	// Never auto-retried: a tool failure is deterministic.
	KindExecution ErrorKind = "EXECUTION"

	// KindMissingOutput indicates the tool exited 0 but a declared output
	// was not produced. A task-contract violation, not a success.
	KindMissingOutput ErrorKind = "MISSING_OUTPUT"

	// KindTransientBackend indicates a scheduling or communication failure
	// with the execution backend, distinct from the job's own outcome.
	KindTransientBackend ErrorKind = "TRANSIENT_BACKEND"

	// KindTimeout indicates the instance exceeded its wall-clock budget.
	KindTimeout ErrorKind = "TIMEOUT"
)

// Error is the structured error carried through the engine.
// Instance is empty for errors not scoped to a task instance.
type Error struct {
	Kind     ErrorKind
	Instance string
	Message  string
	Err      error
}

func (e *Error) Error() string {
	switch {
	case e.Instance != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s (instance=%s): %v", e.Kind, e.Message, e.Instance, e.Err)
	case e.Instance != "":
		return fmt.Sprintf("%s: %s (instance=%s)", e.Kind, e.Message, e.Instance)
	case e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	default:
		return fmt.Sprintf("%s: %s", e.Kind, e.Message)
	}
}

func (e *Error) Unwrap() error { return e.Err }

// NewConfigError creates a configuration error (build-time, always fatal).
func NewConfigError(format string, args ...any) *Error {
	return &Error{Kind: KindConfiguration, Message: fmt.Sprintf(format, args...)}
}

// NewInputError creates an input resolution error scoped to an instance.
func NewInputError(instance, format string, args ...any) *Error {
	return &Error{Kind: KindInputResolution, Instance: instance, Message: fmt.Sprintf(format, args...)}
}

// NewExecError creates an execution error scoped to an instance.
func NewExecError(instance, message string, err error) *Error {
	return &Error{Kind: KindExecution, Instance: instance, Message: message, Err: err}
}

// NewMissingOutputError reports a declared output absent after exit 0.
func NewMissingOutputError(instance, output, glob string) *Error {
	return &Error{
		Kind:     KindMissingOutput,
		Instance: instance,
		Message:  fmt.Sprintf("declared output %q (%s) not produced", output, glob),
	}
}

// NewTransientError creates a retryable backend error.
func NewTransientError(instance, message string, err error) *Error {
	return &Error{Kind: KindTransientBackend, Instance: instance, Message: message, Err: err}
}

// NewTimeoutError reports a wall-clock budget overrun.
func NewTimeoutError(instance string, message string) *Error {
	return &Error{Kind: KindTimeout, Instance: instance, Message: message}
}

// KindOf returns the kind of err, or "" if err is not an engine *Error.
// Uses errors.As to handle wrapped errors.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// IsConfigError reports whether err is a configuration error.
func IsConfigError(err error) bool { return KindOf(err) == KindConfiguration }

// IsExecError reports whether err is an execution error, including a
// missing-output error, which downstream handling treats identically.
func IsExecError(err error) bool {
	k := KindOf(err)
	return k == KindExecution || k == KindMissingOutput
}

// IsMissingOutputError reports whether err is a missing-output error.
func IsMissingOutputError(err error) bool { return KindOf(err) == KindMissingOutput }

// IsTransientError reports whether err is a retryable backend error.
func IsTransientError(err error) bool { return KindOf(err) == KindTransientBackend }

// IsTimeoutError reports whether err is a wall-clock timeout.
func IsTimeoutError(err error) bool { return KindOf(err) == KindTimeout }
