// Package errors defines the runtime's error taxonomy: usage,
// handle, capability, resource and compilation errors, all synchronous at
// the API call that caused them.
package errors

import (
	"fmt"

	pkgerrors "github.com/pkg/errors"
)

// Kind classifies a runtime error.
type Kind string

const (
	// UsageError covers shape/dtype mismatches, rank violations, bad axes,
	// invalid reshapes, unsupported dtypes per backend, and similar
	// synchronous-before-any-dispatch mistakes.
	UsageError Kind = "UsageError"

	// HandleError covers use of an already-freed buffer handle.
	HandleError Kind = "HandleError"

	// CapabilityError covers a routine/op requested on a backend that does
	// not implement it, or a missing GPU adapter capability.
	CapabilityError Kind = "CapabilityError"

	// ResourceError covers allocation failure or exceeding device limits.
	ResourceError Kind = "ResourceError"

	// CompilationError covers shader/bytecode that failed to validate.
	CompilationError Kind = "CompilationError"
)

// Error is the concrete error type returned by every exported lax
// operation that can fail synchronously.
type Error struct {
	Kind    Kind
	Message string
	// Component names the subsystem that raised the error, e.g. "wasm",
	// "gpu", "shapetracker" — used for log correlation, not branching.
	Component string
	cause     error
}

func (e *Error) Error() string {
	if e.Component != "" {
		return fmt.Sprintf("%s(%s): %s", e.Kind, e.Component, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap exposes the wrapped cause to errors.Is/errors.As.
func (e *Error) Unwrap() error { return e.cause }

// New creates a Kind-tagged error with no wrapped cause.
func New(kind Kind, component, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Component: component, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches kind/component context to an existing error, preserving a
// stack trace via github.com/pkg/errors so CompilationError/ResourceError
// paths retain enough context to diagnose a backend failure after it has
// propagated up through several call frames.
func Wrap(kind Kind, component string, cause error, format string, args ...interface{}) *Error {
	return &Error{
		Kind:      kind,
		Component: component,
		Message:   fmt.Sprintf(format, args...),
		cause:     pkgerrors.Wrap(cause, fmt.Sprintf(format, args...)),
	}
}

// Usage is a convenience constructor for the most common error kind.
func Usage(component, format string, args ...interface{}) *Error {
	return New(UsageError, component, format, args...)
}

// Handle is a convenience constructor for a use-after-free.
func Handle(component, format string, args ...interface{}) *Error {
	return New(HandleError, component, format, args...)
}

// Capability is a convenience constructor for an unsupported operation.
func Capability(component, format string, args ...interface{}) *Error {
	return New(CapabilityError, component, format, args...)
}

// Resource is a convenience constructor for an allocation/limit failure.
func Resource(component, format string, args ...interface{}) *Error {
	return New(ResourceError, component, format, args...)
}

// Compilation is a convenience constructor for a shader/bytecode
// validation failure; callers should include the offending source in
// format/args.
func Compilation(component, format string, args ...interface{}) *Error {
	return New(CompilationError, component, format, args...)
}

// Is reports whether err is a *Error of the given Kind.
func Is(err error, kind Kind) bool {
	e, ok := err.(*Error)
	return ok && e.Kind == kind
}
