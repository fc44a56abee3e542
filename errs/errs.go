// Package errs provides structured error types and helpers for the lotmatch engine.
package errs

import (
	"strings"
)

// Code identifies an engine error category.
type Code string

const (
	// CodeInvalidFill indicates a fill rejected before any book mutation.
	CodeInvalidFill Code = "invalid_fill"
	// CodeNoOpenPosition indicates an exit requested with zero open lots.
	CodeNoOpenPosition Code = "no_open_position"
	// CodeLotMismatch indicates a specific-lot exit that could not be resolved.
	CodeLotMismatch Code = "lot_mismatch"
	// CodeConstruction indicates invalid arguments at construction time.
	CodeConstruction Code = "construction"
	// CodeNotFound indicates a missing resource.
	CodeNotFound Code = "not_found"
	// CodeConflict indicates a concurrent mutation conflict.
	CodeConflict Code = "conflict"
	// CodeSerialization indicates a snapshot encode/decode failure.
	CodeSerialization Code = "serialization"
	// CodeStorage indicates a journal storage failure.
	CodeStorage Code = "storage"
)

// E captures structured error information produced across the engine.
type E struct {
	Component string
	Code      Code
	Message   string

	cause error
}

// Option configures an error envelope.
type Option func(*E)

// New constructs an error envelope for the component and error code.
func New(component string, code Code, opts ...Option) *E {
	e := &E{
		Component: strings.TrimSpace(component),
		Code:      code,
		Message:   "",
		cause:     nil,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	return e
}

// WithMessage attaches a human-readable message to the error.
func WithMessage(message string) Option {
	trimmed := strings.TrimSpace(message)
	return func(e *E) {
		e.Message = trimmed
	}
}

// WithCause sets the underlying cause error.
func WithCause(err error) Option {
	return func(e *E) {
		e.cause = err
	}
}

func (e *E) Error() string {
	if e == nil {
		return "<nil>"
	}
	var parts []string

	component := strings.TrimSpace(e.Component)
	if component == "" {
		component = "unknown"
	}
	parts = append(parts, "component="+component)

	code := strings.TrimSpace(string(e.Code))
	if code == "" {
		code = "unknown"
	}
	parts = append(parts, "code="+code)

	if msg := strings.TrimSpace(e.Message); msg != "" {
		parts = append(parts, "msg="+msg)
	}
	if e.cause != nil {
		parts = append(parts, "cause="+e.cause.Error())
	}
	return strings.Join(parts, " ")
}

// Unwrap exposes the underlying cause for errors.Is / errors.As chains.
func (e *E) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.cause
}

// CodeOf returns the engine code carried by err, or the empty code when err is
// not an engine envelope.
func CodeOf(err error) Code {
	for err != nil {
		if e, ok := err.(*E); ok {
			return e.Code
		}
		unwrapper, ok := err.(interface{ Unwrap() error })
		if !ok {
			return ""
		}
		err = unwrapper.Unwrap()
	}
	return ""
}

// HasCode reports whether err carries the provided engine code.
func HasCode(err error, code Code) bool {
	return CodeOf(err) == code
}
