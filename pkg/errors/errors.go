// Package errors provides structured error handling for Quarry
package errors

import (
	"errors"
	"fmt"
	"runtime"
)

// ErrorType represents the category of error
type ErrorType string

const (
	// ErrorTypeInternal is the catch-all for any other originating error
	ErrorTypeInternal ErrorType = "internal"
	// ErrorTypeConnection represents unreachable sources and authentication failures
	ErrorTypeConnection ErrorType = "connection"
	// ErrorTypeQuery represents a driver rejecting a query
	ErrorTypeQuery ErrorType = "query"
	// ErrorTypeSchema represents a declared or probed schema the destination cannot hold
	ErrorTypeSchema ErrorType = "schema"
	// ErrorTypeUnsupportedType represents a transport lacking a conversion
	ErrorTypeUnsupportedType ErrorType = "unsupported_type"
	// ErrorTypeUnknownType represents an unrecognized dialect or destination type name
	ErrorTypeUnknownType ErrorType = "unknown_type"
	// ErrorTypeFileNotFound represents a missing federated rewriter resource
	ErrorTypeFileNotFound ErrorType = "file_not_found"
	// ErrorTypeParse represents a malformed connection URL
	ErrorTypeParse ErrorType = "parse"
	// ErrorTypeOutOfRange represents a write outside a writer's row range
	ErrorTypeOutOfRange ErrorType = "out_of_range"
	// ErrorTypeAborted represents a write or finalize after the run was aborted
	ErrorTypeAborted ErrorType = "aborted"
	// ErrorTypeData represents values that cannot be decoded into their column type
	ErrorTypeData ErrorType = "data"
	// ErrorTypeConfig represents configuration errors
	ErrorTypeConfig ErrorType = "config"
	// ErrorTypeState represents an operation invoked in the wrong lifecycle state
	ErrorTypeState ErrorType = "state"
)

// Error represents a structured error with context
type Error struct {
	Type    ErrorType
	Message string
	Cause   error
	Details map[string]interface{}
	Stack   []StackFrame
}

// StackFrame represents a single frame in the call stack
type StackFrame struct {
	Function string
	File     string
	Line     int
}

// Error implements the error interface
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Type, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Cause
}

// WithDetail adds a key-value detail to the error
func (e *Error) WithDetail(key string, value interface{}) *Error {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// New creates a new error with the given type and message
func New(errType ErrorType, message string) *Error {
	return &Error{
		Type:    errType,
		Message: message,
		Stack:   captureStack(2),
	}
}

// Newf creates a new error with a formatted message
func Newf(errType ErrorType, format string, args ...interface{}) *Error {
	return &Error{
		Type:    errType,
		Message: fmt.Sprintf(format, args...),
		Stack:   captureStack(2),
	}
}

// Wrap wraps an existing error with additional context
func Wrap(err error, errType ErrorType, message string) *Error {
	if err == nil {
		return nil
	}

	// If already our error type, preserve the stack
	var existingErr *Error
	if errors.As(err, &existingErr) {
		return &Error{
			Type:    errType,
			Message: message,
			Cause:   err,
			Stack:   existingErr.Stack,
		}
	}

	return &Error{
		Type:    errType,
		Message: message,
		Cause:   err,
		Stack:   captureStack(2),
	}
}

// Internal wraps err as a catch-all error unless it already carries a type.
// The originating message is preserved.
func Internal(err error) error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return err
	}
	return &Error{
		Type:    ErrorTypeInternal,
		Message: err.Error(),
		Cause:   err,
		Stack:   captureStack(2),
	}
}

// IsRetryable returns true if the error is retryable
func IsRetryable(err error) bool {
	return IsType(err, ErrorTypeConnection)
}

// IsType checks if any error in the chain is of the given type
func IsType(err error, errType ErrorType) bool {
	for err != nil {
		var e *Error
		if !errors.As(err, &e) {
			return false
		}
		if e.Type == errType {
			return true
		}
		err = e.Cause
	}
	return false
}

// TypeOf returns the type of the outermost structured error, or
// ErrorTypeInternal for plain errors.
func TypeOf(err error) ErrorType {
	var e *Error
	if errors.As(err, &e) {
		return e.Type
	}
	return ErrorTypeInternal
}

// Is and As re-export the standard library helpers so callers need one import.
var (
	Is = errors.Is
	As = errors.As
)

// captureStack captures the current call stack
func captureStack(skip int) []StackFrame {
	const maxFrames = 32
	frames := make([]StackFrame, 0, maxFrames)

	for i := skip; i < maxFrames+skip; i++ {
		pc, file, line, ok := runtime.Caller(i)
		if !ok {
			break
		}

		fn := runtime.FuncForPC(pc)
		if fn == nil {
			continue
		}

		frames = append(frames, StackFrame{
			Function: fn.Name(),
			File:     file,
			Line:     line,
		})
	}

	return frames
}
