// Package etlerrors provides the structured error type used across healthetl.
//
// Every failure that crosses a package boundary is an *Error carrying a Type
// from the taxonomy below, a message, an optional cause and key-value
// details (stage, offset, path). The type drives propagation: RecordParse
// errors are recovered locally by the extraction stage, everything else ends
// the run and is mapped to a process exit code by ExitCode.
//
// # Basic Usage
//
//	if _, err := os.Stat(path); err != nil {
//	    return etlerrors.Wrap(err, etlerrors.ErrorTypeInputNotFound, "input not found").
//	        WithDetail("path", path)
//	}
//
//	if etlerrors.IsType(err, etlerrors.ErrorTypeSourceCorrupt) {
//	    // abort the run
//	}
package etlerrors

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sort"
	"strings"
)

// ErrorType represents the category of error.
type ErrorType string

const (
	// ErrorTypeInputNotFound means the input path does not exist.
	ErrorTypeInputNotFound ErrorType = "input_not_found"
	// ErrorTypeUnreadableFormat means the input is neither markup nor a
	// recognized container holding one markup entry.
	ErrorTypeUnreadableFormat ErrorType = "unreadable_format"
	// ErrorTypeSourceCorrupt is a structural failure of the input. Unrecoverable.
	ErrorTypeSourceCorrupt ErrorType = "source_corrupt"
	// ErrorTypeRecordParse is a single malformed record. Recoverable.
	ErrorTypeRecordParse ErrorType = "record_parse"
	// ErrorTypeEncoding means a group cannot be rendered into its row schema.
	ErrorTypeEncoding ErrorType = "encoding"
	// ErrorTypeIO is a read or write failure.
	ErrorTypeIO ErrorType = "io"
	// ErrorTypeConfig is invalid pool sizing, paths or options.
	ErrorTypeConfig ErrorType = "config"
	// ErrorTypeOutOfRange is a byte window outside the source.
	ErrorTypeOutOfRange ErrorType = "out_of_range"
	// ErrorTypeCancelled means the run was cancelled.
	ErrorTypeCancelled ErrorType = "cancelled"
	// ErrorTypeInternal is a programming error.
	ErrorTypeInternal ErrorType = "internal"
)

// Error represents a structured error with context.
type Error struct {
	Type    ErrorType
	Message string
	Cause   error
	Details map[string]interface{}
	Stack   []StackFrame
}

// StackFrame is a single frame of the call stack captured at creation.
type StackFrame struct {
	Function string
	File     string
	Line     int
}

// Error formats the type, message, details and cause.
func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Type))
	b.WriteString(": ")
	b.WriteString(e.Message)

	if len(e.Details) > 0 {
		keys := make([]string, 0, len(e.Details))
		for k := range e.Details {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		b.WriteString(" (")
		for i, k := range keys {
			if i > 0 {
				b.WriteString(", ")
			}
			fmt.Fprintf(&b, "%s=%v", k, e.Details[k])
		}
		b.WriteString(")")
	}

	if e.Cause != nil {
		b.WriteString(": ")
		b.WriteString(e.Cause.Error())
	}
	return b.String()
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target is an *Error of the same type. It lets callers
// compare against sentinel values built with New.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Type == e.Type && t.Message == e.Message
}

// WithDetail adds a key-value detail. Chainable.
func (e *Error) WithDetail(key string, value interface{}) *Error {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// Detail returns a detail value.
func (e *Error) Detail(key string) (interface{}, bool) {
	v, ok := e.Details[key]
	return v, ok
}

// New creates a new error, capturing the call stack.
func New(errType ErrorType, message string) *Error {
	return &Error{
		Type:    errType,
		Message: message,
		Stack:   captureStack(2),
	}
}

// Newf is New with a formatted message.
func Newf(errType ErrorType, format string, args ...interface{}) *Error {
	return &Error{
		Type:    errType,
		Message: fmt.Sprintf(format, args...),
		Stack:   captureStack(2),
	}
}

// Wrap wraps err with a type and message. An existing stack is preserved.
// Returns nil if err is nil.
func Wrap(err error, errType ErrorType, message string) *Error {
	if err == nil {
		return nil
	}

	var existing *Error
	if errors.As(err, &existing) {
		return &Error{
			Type:    errType,
			Message: message,
			Cause:   err,
			Stack:   existing.Stack,
		}
	}

	return &Error{
		Type:    errType,
		Message: message,
		Cause:   err,
		Stack:   captureStack(2),
	}
}

// Wrapf is Wrap with a formatted message.
func Wrapf(err error, errType ErrorType, format string, args ...interface{}) *Error {
	if err == nil {
		return nil
	}
	e := Wrap(err, errType, fmt.Sprintf(format, args...))
	e.Stack = captureStack(2)
	return e
}

// IsType checks if the outermost *Error in the chain has the given type.
func IsType(err error, errType ErrorType) bool {
	return GetType(err) == errType
}

// GetType returns the type of the outermost *Error in the chain. Context
// cancellation maps to ErrorTypeCancelled; anything else untyped is internal.
func GetType(err error) ErrorType {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Type
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return ErrorTypeCancelled
	}
	return ErrorTypeInternal
}

// IsRecoverable reports whether processing may continue after err.
func IsRecoverable(err error) bool {
	return IsType(err, ErrorTypeRecordParse)
}

// ExitCode maps an error to a process exit status.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	switch GetType(err) {
	case ErrorTypeConfig:
		return 2
	case ErrorTypeInputNotFound, ErrorTypeUnreadableFormat:
		return 3
	case ErrorTypeSourceCorrupt:
		return 4
	case ErrorTypeEncoding:
		return 5
	case ErrorTypeIO:
		return 6
	case ErrorTypeCancelled:
		return 130
	default:
		return 1
	}
}

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
