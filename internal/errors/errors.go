package errors

import (
	stderrors "errors"
	"fmt"
)

// VgrepError is the structured error type for vgrep.
// It carries enough context for the caller to choose rebuild, retry or abort.
type VgrepError struct {
	// Code is the unique error code (e.g., "ERR_201_NOT_INDEXED").
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

// Error implements the error interface.
func (e *VgrepError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause for error chain support.
func (e *VgrepError) Unwrap() error {
	return e.Cause
}

// Is checks if this error matches the target error by code.
// This lets package-level sentinels work with errors.Is.
func (e *VgrepError) Is(target error) bool {
	if t, ok := target.(*VgrepError); ok {
		return e.Code == t.Code
	}
	return false
}

// WithDetail adds a key-value detail to the error.
// Returns the error for method chaining.
func (e *VgrepError) WithDetail(key, value string) *VgrepError {
	if e.Details == nil {
		e.Details = make(map[string]string)
	}
	e.Details[key] = value
	return e
}

// WithSuggestion adds an actionable suggestion for the user.
func (e *VgrepError) WithSuggestion(suggestion string) *VgrepError {
	e.Suggestion = suggestion
	return e
}

// New creates a new VgrepError with the given code and message.
// Category, severity, and retryable flag are derived from the code.
func New(code string, message string, cause error) *VgrepError {
	return &VgrepError{
		Code:      code,
		Message:   message,
		Category:  categoryFromCode(code),
		Severity:  severityFromCode(code),
		Cause:     cause,
		Retryable: isRetryableCode(code),
	}
}

// Newf is New with a formatted message and no cause.
func Newf(code string, format string, args ...any) *VgrepError {
	return New(code, fmt.Sprintf(format, args...), nil)
}

// Wrap creates a VgrepError from an existing error.
// The error's message becomes the VgrepError message.
func Wrap(code string, err error) *VgrepError {
	if err == nil {
		return nil
	}
	return New(code, err.Error(), err)
}

// ConfigError creates a configuration-related error.
func ConfigError(message string, cause error) *VgrepError {
	return New(ErrCodeConfigInvalid, message, cause)
}

// InternalError creates an internal error.
func InternalError(message string, cause error) *VgrepError {
	return New(ErrCodeInternal, message, cause)
}

// As finds the first VgrepError in err's chain.
func As(err error) (*VgrepError, bool) {
	var ve *VgrepError
	if stderrors.As(err, &ve) {
		return ve, true
	}
	return nil, false
}

// IsRetryable checks if an error is retryable.
func IsRetryable(err error) bool {
	if ve, ok := As(err); ok {
		return ve.Retryable
	}
	return false
}

// IsFatal checks if an error has fatal severity.
func IsFatal(err error) bool {
	if ve, ok := As(err); ok {
		return ve.Severity == SeverityFatal
	}
	return false
}

// IsInput reports whether err is a per-file input error that a sync
// should skip and count instead of aborting.
func IsInput(err error) bool {
	return GetCategory(err) == CategoryInput
}

// GetCode extracts the error code from the first VgrepError in the chain.
// Returns empty string if there is none.
func GetCode(err error) string {
	if ve, ok := As(err); ok {
		return ve.Code
	}
	return ""
}

// GetCategory extracts the category from the first VgrepError in the chain.
func GetCategory(err error) Category {
	if ve, ok := As(err); ok {
		return ve.Category
	}
	return ""
}
