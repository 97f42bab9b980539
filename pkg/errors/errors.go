// Package errors provides the coded error taxonomy used across ccm.
// Errors carry a code, context and a short stack trace so that callers can
// tell a malformed document apart from a dangling reference or a bad query.
package errors

import (
	"errors"
	"fmt"
	"runtime"
	"sort"
	"strings"
)

// Code identifies an error class for programmatic handling.
type Code string

const (
	// Structural errors (1xx): malformed input, import aborts entirely.
	CodeMissingField     Code = "E101"
	CodeUnknownSubtype   Code = "E102"
	CodeInvalidAttribute Code = "E103"
	CodeDuplicateID      Code = "E104"
	CodeInvalidTimestamp Code = "E105"
	CodeInvalidDocument  Code = "E106"

	// Referential errors (2xx): a relationship names a nonexistent id.
	CodeDanglingReference Code = "E201"

	// Query errors (3xx)
	CodeQuerySyntax     Code = "E301"
	CodeQueryEvaluation Code = "E302"

	// Usage errors (4xx)
	CodeUsage Code = "E401"

	// Output errors (5xx)
	CodeWriteFailed Code = "E501"
	CodeReadFailed  Code = "E502"

	// Unknown
	CodeUnknown Code = "E999"
)

// CCMError is the base error type for all ccm errors.
type CCMError struct {
	Code       Code
	Message    string
	Cause      error
	Context    map[string]interface{}
	StackTrace []Frame
}

// Frame represents a stack frame.
type Frame struct {
	Function string
	File     string
	Line     int
}

// Error implements the error interface.
func (e *CCMError) Error() string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("[%s] %s", e.Code, e.Message))

	if len(e.Context) > 0 {
		keys := make([]string, 0, len(e.Context))
		for k := range e.Context {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		sb.WriteString(" (")
		for i, k := range keys {
			if i > 0 {
				sb.WriteString(", ")
			}
			sb.WriteString(fmt.Sprintf("%s=%v", k, e.Context[k]))
		}
		sb.WriteString(")")
	}

	if e.Cause != nil {
		sb.WriteString(": ")
		sb.WriteString(e.Cause.Error())
	}

	return sb.String()
}

// Unwrap returns the underlying cause.
func (e *CCMError) Unwrap() error {
	return e.Cause
}

// Is matches another *CCMError with the same code.
func (e *CCMError) Is(target error) bool {
	if t, ok := target.(*CCMError); ok {
		return e.Code == t.Code
	}
	return false
}

// WithContext adds context to the error.
func (e *CCMError) WithContext(key string, value interface{}) *CCMError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// New creates a new CCMError.
func New(code Code, message string) *CCMError {
	return &CCMError{
		Code:       code,
		Message:    message,
		StackTrace: captureStack(2),
	}
}

// Newf creates a new CCMError with a formatted message.
func Newf(code Code, format string, args ...interface{}) *CCMError {
	return &CCMError{
		Code:       code,
		Message:    fmt.Sprintf(format, args...),
		StackTrace: captureStack(2),
	}
}

// Wrap wraps an existing error with a code and message.
func Wrap(err error, code Code, message string) *CCMError {
	if err == nil {
		return nil
	}

	return &CCMError{
		Code:       code,
		Message:    message,
		Cause:      err,
		StackTrace: captureStack(2),
	}
}

// Wrapf wraps an error with a formatted message.
func Wrapf(err error, code Code, format string, args ...interface{}) *CCMError {
	return Wrap(err, code, fmt.Sprintf(format, args...))
}

func captureStack(skip int) []Frame {
	var frames []Frame
	pcs := make([]uintptr, 32)
	n := runtime.Callers(skip+1, pcs)
	pcs = pcs[:n]

	cf := runtime.CallersFrames(pcs)
	for {
		frame, more := cf.Next()
		frames = append(frames, Frame{
			Function: frame.Function,
			File:     frame.File,
			Line:     frame.Line,
		})
		if !more || len(frames) >= 10 {
			break
		}
	}
	return frames
}

// FormatStack returns a formatted stack trace.
func (e *CCMError) FormatStack() string {
	var sb strings.Builder
	for _, f := range e.StackTrace {
		sb.WriteString(fmt.Sprintf("  at %s\n    %s:%d\n", f.Function, f.File, f.Line))
	}
	return sb.String()
}

// --- Convenience constructors ---

// MissingField reports a required field absent from an input record.
func MissingField(record, field string) *CCMError {
	return New(CodeMissingField, "required field missing").
		WithContext("record", record).
		WithContext("field", field)
}

// UnknownSubtype reports an entity subtype outside the closed variant set.
func UnknownSubtype(kind, value string) *CCMError {
	return New(CodeUnknownSubtype, "unrecognized entity subtype").
		WithContext("kind", kind).
		WithContext("value", value)
}

// Dangling reports a relationship endpoint that does not exist.
func Dangling(namespace, id string) *CCMError {
	return New(CodeDanglingReference, "reference to nonexistent id").
		WithContext("namespace", namespace).
		WithContext("id", id)
}

// DuplicateID reports an id already present in its namespace.
func DuplicateID(namespace, id string) *CCMError {
	return New(CodeDuplicateID, "id already exists").
		WithContext("namespace", namespace).
		WithContext("id", id)
}

// Usage reports an invalid combination of arguments.
func Usage(format string, args ...interface{}) *CCMError {
	return &CCMError{
		Code:       CodeUsage,
		Message:    fmt.Sprintf(format, args...),
		StackTrace: captureStack(2),
	}
}

// --- Error checking utilities ---

// IsCode checks if an error has a specific code.
func IsCode(err error, code Code) bool {
	var cErr *CCMError
	if errors.As(err, &cErr) {
		return cErr.Code == code
	}
	return false
}

// GetCode extracts the error code from an error.
func GetCode(err error) Code {
	var cErr *CCMError
	if errors.As(err, &cErr) {
		return cErr.Code
	}
	return CodeUnknown
}

// IsStructural reports whether err is a structural (input shape) error.
func IsStructural(err error) bool {
	return codeClass(err) == '1'
}

// IsReferential reports whether err is a referential integrity error.
func IsReferential(err error) bool {
	return codeClass(err) == '2'
}

// IsQuerySyntax reports whether err is a query syntax error.
func IsQuerySyntax(err error) bool {
	return IsCode(err, CodeQuerySyntax)
}

// IsQueryEvaluation reports whether err is a per-candidate evaluation error.
func IsQueryEvaluation(err error) bool {
	return IsCode(err, CodeQueryEvaluation)
}

// IsUsage reports whether err is a usage error.
func IsUsage(err error) bool {
	return codeClass(err) == '4'
}

func codeClass(err error) byte {
	code := GetCode(err)
	if code == CodeUnknown || len(code) < 2 {
		return 0
	}
	return code[1]
}

// Diagnostic is a non-fatal problem reported alongside a successful result.
type Diagnostic struct {
	Code    Code
	Subject string
	Message string
}

// String renders the diagnostic on one line.
func (d Diagnostic) String() string {
	if d.Subject == "" {
		return fmt.Sprintf("[%s] %s", d.Code, d.Message)
	}
	return fmt.Sprintf("[%s] %s: %s", d.Code, d.Subject, d.Message)
}

// DiagnosticFrom converts an error into a diagnostic about subject.
func DiagnosticFrom(subject string, err error) Diagnostic {
	return Diagnostic{Code: GetCode(err), Subject: subject, Message: err.Error()}
}

// MultiError collects multiple errors.
type MultiError struct {
	Errors []error
}

// Error implements the error interface.
func (m *MultiError) Error() string {
	if len(m.Errors) == 0 {
		return "no errors"
	}
	if len(m.Errors) == 1 {
		return m.Errors[0].Error()
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%d errors occurred:\n", len(m.Errors)))
	for i, err := range m.Errors {
		sb.WriteString(fmt.Sprintf("  %d. %s\n", i+1, err.Error()))
	}
	return sb.String()
}

// Unwrap exposes the collected errors to errors.Is and errors.As.
func (m *MultiError) Unwrap() []error {
	return m.Errors
}

// Add adds an error to the collection.
func (m *MultiError) Add(err error) {
	if err != nil {
		m.Errors = append(m.Errors, err)
	}
}

// HasErrors returns true if any errors were collected.
func (m *MultiError) HasErrors() bool {
	return len(m.Errors) > 0
}

// Combined returns nil if no errors, the single error if one, or the MultiError.
func (m *MultiError) Combined() error {
	switch len(m.Errors) {
	case 0:
		return nil
	case 1:
		return m.Errors[0]
	default:
		return m
	}
}
