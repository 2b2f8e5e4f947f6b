// Package syncerrors provides structured error handling for civicsync with
// categorization, key-value context and stack traces.
//
// # Overview
//
// Every failure that ends an ingestion run is one of three terminal kinds:
//   - ErrorTypeQuery: reading warehouse state (watermark, schema) failed
//   - ErrorTypeFetch: the source API was unreachable or answered non-2xx
//   - ErrorTypeLoad: writing the batch to the destination table failed
//
// Configuration and validation problems are reported before a run starts.
// None of these errors are retried in-process; a scheduler re-invokes the
// whole pipeline instead.
//
// # Basic Usage
//
//	if err := job.Wait(ctx); err != nil {
//	    return syncerrors.LoadError(err, "load job failed").
//	        WithDetail("table", table).
//	        WithDetail("job_id", job.ID())
//	}
//
//	if syncerrors.IsType(err, syncerrors.ErrorTypeFetch) {
//	    // nothing was written
//	}
package syncerrors

import (
	"errors"
	"fmt"
	"runtime"
)

// ErrorType represents the category of an error.
type ErrorType string

const (
	// ErrorTypeInternal represents internal system errors
	ErrorTypeInternal ErrorType = "internal"
	// ErrorTypeValidation represents invalid arguments
	ErrorTypeValidation ErrorType = "validation"
	// ErrorTypeConfig represents configuration errors
	ErrorTypeConfig ErrorType = "config"
	// ErrorTypeData represents data processing errors
	ErrorTypeData ErrorType = "data"
	// ErrorTypeQuery represents a failed warehouse read (watermark or schema)
	ErrorTypeQuery ErrorType = "query"
	// ErrorTypeFetch represents a failed or non-success source API request
	ErrorTypeFetch ErrorType = "fetch"
	// ErrorTypeLoad represents a failed destination write
	ErrorTypeLoad ErrorType = "load"
)

// ErrTableNotFound is wrapped by warehouses when the destination table does
// not exist.
var ErrTableNotFound = errors.New("table not found")

// Error represents a structured error with context.
//
// Fields:
//   - Type: Categorizes the error
//   - Message: Human-readable error description
//   - Cause: The underlying error that caused this error
//   - Details: Key-value pairs providing additional context
//   - Stack: Call stack at the point of error creation
type Error struct {
	Type    ErrorType
	Message string
	Cause   error
	Details map[string]interface{}
	Stack   []StackFrame
}

// StackFrame represents a single frame in the call stack.
type StackFrame struct {
	Function string // Fully qualified function name
	File     string // Source file path
	Line     int    // Line number in source file
}

// Error implements the error interface, returning the error type, message,
// and cause (if present).
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Type, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap returns the underlying error for errors.Is and errors.As.
func (e *Error) Unwrap() error {
	return e.Cause
}

// WithDetail adds a key-value detail to the error. Calls can be chained.
func (e *Error) WithDetail(key string, value interface{}) *Error {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// New creates a new error with the given type and message, capturing the
// call stack at the point of creation.
func New(errType ErrorType, message string) *Error {
	return &Error{
		Type:    errType,
		Message: message,
		Stack:   captureStack(2),
	}
}

// Newf is New with a format string.
func Newf(errType ErrorType, format string, args ...interface{}) *Error {
	return &Error{
		Type:    errType,
		Message: fmt.Sprintf(format, args...),
		Stack:   captureStack(2),
	}
}

// Wrap wraps an existing error with additional context. If the error is
// already a structured Error, its stack trace is preserved. Returns nil if
// the input error is nil.
func Wrap(err error, errType ErrorType, message string) *Error {
	if err == nil {
		return nil
	}

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

// QueryError wraps err as a warehouse read failure.
func QueryError(err error, message string) *Error {
	return wrapOrNew(err, ErrorTypeQuery, message)
}

// FetchError wraps err as a source API failure. err may be nil when the
// failure is a non-success status rather than a transport error.
func FetchError(err error, message string) *Error {
	return wrapOrNew(err, ErrorTypeFetch, message)
}

// LoadError wraps err as a destination write failure.
func LoadError(err error, message string) *Error {
	return wrapOrNew(err, ErrorTypeLoad, message)
}

func wrapOrNew(err error, errType ErrorType, message string) *Error {
	if err == nil {
		return &Error{Type: errType, Message: message, Stack: captureStack(3)}
	}
	var existingErr *Error
	if errors.As(err, &existingErr) {
		return &Error{Type: errType, Message: message, Cause: err, Stack: existingErr.Stack}
	}
	return &Error{Type: errType, Message: message, Cause: err, Stack: captureStack(3)}
}

// IsType reports whether the outermost structured error in err's chain is of
// the given type.
//
// Example:
//
//	if syncerrors.IsType(err, syncerrors.ErrorTypeFetch) {
//	    log.Warn("source unavailable, nothing loaded")
//	}
func IsType(err error, errType ErrorType) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	return e.Type == errType
}

// TypeOf returns the type of the outermost structured error in err's chain,
// or ErrorTypeInternal for plain errors.
func TypeOf(err error) ErrorType {
	var e *Error
	if !errors.As(err, &e) {
		return ErrorTypeInternal
	}
	return e.Type
}

// captureStack captures the current call stack up to maxFrames deep,
// skipping the specified number of frames from the top.
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
