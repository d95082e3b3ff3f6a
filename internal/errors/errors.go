package errors

import (
	stderrors "errors"
	"fmt"
)

// YgrepError is the structured error type used across ygrep.
// The CLI and MCP layers inspect Code and Details to render remediation
// text; core packages never format user-facing output themselves.
type YgrepError struct {
	// Code is the unique error code (e.g., "ERR_301_NOT_INDEXED").
	Code string

	// Message is the human-readable error message.
	Message string

	Category Category
	Severity Severity

	// Details contains additional context as key-value pairs.
	Details map[string]string

	// Cause is the underlying error that caused this error.
	Cause error

	// Retryable indicates if the operation can be retried.
	Retryable bool

	// Suggestion is an actionable suggestion for the user.
	Suggestion string
}

// Sentinel values for errors.Is. They match any YgrepError with the same code.
var (
	ErrNotIndexed     = &YgrepError{Code: ErrCodeNotIndexed}
	ErrSchemaMismatch = &YgrepError{Code: ErrCodeSchemaMismatch}
	ErrUnsupported    = &YgrepError{Code: ErrCodeUnsupported}
	ErrIOFailure      = &YgrepError{Code: ErrCodeIOFailure}
	ErrCorruptIndex   = &YgrepError{Code: ErrCodeCorruptIndex}
	ErrInvalidQuery   = &YgrepError{Code: ErrCodeInvalidQuery}
	ErrNotFound       = &YgrepError{Code: ErrCodeNotFound}
	ErrIndexLocked    = &YgrepError{Code: ErrCodeIndexLocked}
)

// Error implements the error interface.
func (e *YgrepError) Error() string {
	if e.Cause != nil && e.Cause.Error() != e.Message {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause for error chain support.
func (e *YgrepError) Unwrap() error {
	return e.Cause
}

// Is reports whether target is a YgrepError with the same code.
func (e *YgrepError) Is(target error) bool {
	if t, ok := target.(*YgrepError); ok {
		return e.Code == t.Code
	}
	return false
}

// WithDetail adds a key-value detail to the error.
// Returns the error for method chaining.
func (e *YgrepError) WithDetail(key, value string) *YgrepError {
	if e.Details == nil {
		e.Details = make(map[string]string)
	}
	e.Details[key] = value
	return e
}

// WithSuggestion adds an actionable suggestion for the user.
func (e *YgrepError) WithSuggestion(suggestion string) *YgrepError {
	e.Suggestion = suggestion
	return e
}

// New creates a new YgrepError with the given code and message.
// Category, severity, and retryable flag are derived from the code.
func New(code string, message string, cause error) *YgrepError {
	return &YgrepError{
		Code:      code,
		Message:   message,
		Category:  categoryFromCode(code),
		Severity:  severityFromCode(code),
		Cause:     cause,
		Retryable: isRetryableCode(code),
	}
}

// Wrap creates a YgrepError from an existing error.
// The error's message becomes the YgrepError message.
func Wrap(code string, err error) *YgrepError {
	if err == nil {
		return nil
	}
	return New(code, err.Error(), err)
}

// NotIndexed reports that root has no index of the requested mode.
func NotIndexed(root, mode string) *YgrepError {
	msg := fmt.Sprintf("workspace %s is not indexed", root)
	suggestion := "Run 'ygrep index' in the workspace root"
	if mode != "" && mode != "text" {
		msg = fmt.Sprintf("workspace %s has no %s index", root, mode)
		suggestion = "Run 'ygrep index --" + mode + "' in the workspace root"
	}
	return New(ErrCodeNotIndexed, msg, nil).
		WithDetail("root", root).
		WithDetail("mode", mode).
		WithSuggestion(suggestion)
}

// SchemaMismatch reports an on-disk index written by an incompatible version.
func SchemaMismatch(path string, found, expected int) *YgrepError {
	return New(ErrCodeSchemaMismatch,
		fmt.Sprintf("index schema version %d is incompatible with %d", found, expected), nil).
		WithDetail("path", path).
		WithDetail("found", fmt.Sprint(found)).
		WithDetail("expected", fmt.Sprint(expected)).
		WithSuggestion("Run 'ygrep index --rebuild' to rebuild the index")
}

// Unsupported reports an unavailable capability. Callers degrade instead of failing.
func Unsupported(capability, reason string) *YgrepError {
	return New(ErrCodeUnsupported, fmt.Sprintf("%s is unavailable: %s", capability, reason), nil).
		WithDetail("capability", capability).
		WithDetail("reason", reason)
}

// IOFailure wraps a failed read or write of a single path.
func IOFailure(path string, cause error) *YgrepError {
	return New(ErrCodeIOFailure, "cannot access "+path, cause).WithDetail("path", path)
}

// CorruptIndex reports an index segment that cannot be opened.
func CorruptIndex(path string, cause error) *YgrepError {
	return New(ErrCodeCorruptIndex, "index data is corrupt: "+path, cause).
		WithDetail("path", path).
		WithSuggestion("Run 'ygrep index --rebuild' to rebuild the index")
}

// InvalidQuery reports a query that cannot be executed, such as a malformed regex.
func InvalidQuery(pattern string, cause error) *YgrepError {
	return New(ErrCodeInvalidQuery, fmt.Sprintf("invalid query %q", pattern), cause).
		WithDetail("pattern", pattern)
}

// NotFound reports that no index matches target.
func NotFound(target string) *YgrepError {
	return New(ErrCodeNotFound, "no index matches "+target, nil).
		WithDetail("target", target).
		WithSuggestion("Run 'ygrep indexes list' to see known indexes")
}

// ConfigError creates a configuration-related error.
func ConfigError(message string, cause error) *YgrepError {
	return New(ErrCodeConfigInvalid, message, cause)
}

// ValidationError creates an input validation error.
func ValidationError(message string, cause error) *YgrepError {
	return New(ErrCodeInvalidInput, message, cause)
}

// InternalError creates an internal error.
func InternalError(message string, cause error) *YgrepError {
	return New(ErrCodeInternal, message, cause)
}

// As returns the first YgrepError in err's chain.
func As(err error) (*YgrepError, bool) {
	var ye *YgrepError
	if stderrors.As(err, &ye) {
		return ye, true
	}
	return nil, false
}

// IsRetryable checks if an error is retryable.
func IsRetryable(err error) bool {
	if ye, ok := As(err); ok {
		return ye.Retryable
	}
	return false
}

// IsFatal checks if an error has fatal severity.
func IsFatal(err error) bool {
	if ye, ok := As(err); ok {
		return ye.Severity == SeverityFatal
	}
	return false
}

// GetCode extracts the error code from the first YgrepError in err's chain.
// Returns empty string if there is none.
func GetCode(err error) string {
	if ye, ok := As(err); ok {
		return ye.Code
	}
	return ""
}
