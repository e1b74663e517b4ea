package errors

import (
	stderrors "errors"
	"fmt"
)

// AmanError is the structured error type for amanrag.
// It carries enough context for logging, metrics and user presentation.
type AmanError struct {
	// Code is the unique error code (e.g., "ERR_605_GENERATION_UNAVAILABLE").
	Code string

	// Message is the human-readable error message.
	Message string

	Category Category
	Severity Severity

	// Details contains additional context as key-value pairs
	// (query, stage, tier, reason).
	Details map[string]string

	// Cause is the underlying error that caused this error.
	Cause error

	// Retryable indicates the caller may retry the whole request.
	Retryable bool

	// Suggestion is an actionable suggestion for the user.
	Suggestion string
}

// Error implements the error interface.
func (e *AmanError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause for error chain support.
func (e *AmanError) Unwrap() error {
	return e.Cause
}

// Is matches by code so errors.Is(err, errors.New(code, "", nil)) works.
func (e *AmanError) Is(target error) bool {
	if t, ok := target.(*AmanError); ok {
		return e.Code == t.Code
	}
	return false
}

// WithDetail adds a key-value detail to the error.
func (e *AmanError) WithDetail(key, value string) *AmanError {
	if e.Details == nil {
		e.Details = make(map[string]string)
	}
	e.Details[key] = value
	return e
}

// WithSuggestion adds an actionable suggestion for the user.
func (e *AmanError) WithSuggestion(suggestion string) *AmanError {
	e.Suggestion = suggestion
	return e
}

// New creates a new AmanError with the given code and message.
// Category, severity, and retryable flag are derived from the code.
func New(code string, message string, cause error) *AmanError {
	return &AmanError{
		Code:      code,
		Message:   message,
		Category:  categoryFromCode(code),
		Severity:  severityFromCode(code),
		Cause:     cause,
		Retryable: isRetryableCode(code),
	}
}

// Wrap creates an AmanError from an existing error.
func Wrap(code string, err error) *AmanError {
	if err == nil {
		return nil
	}
	return New(code, err.Error(), err)
}

// ConfigError creates a configuration-related error.
func ConfigError(message string, cause error) *AmanError {
	return New(ErrCodeConfigInvalid, message, cause)
}

// ValidationError creates a validation-related error.
func ValidationError(message string, cause error) *AmanError {
	return New(ErrCodeInvalidInput, message, cause)
}

// NetworkError creates a model-service error. Network errors are retryable.
func NetworkError(message string, cause error) *AmanError {
	return New(ErrCodeNetworkUnavailable, message, cause)
}

// Degraded records a recoverable pipeline degradation for a stage.
// The returned error is meant for logs and metrics; callers continue with
// their fallback instead of returning it.
func Degraded(code, stage string, cause error) *AmanError {
	msg := stage + " degraded"
	if cause != nil {
		msg = fmt.Sprintf("%s degraded: %v", stage, cause)
	}
	return New(code, msg, cause).WithDetail("stage", stage)
}

// GenerationUnavailable is the one fatal pipeline condition: every
// generation attempt failed.
func GenerationUnavailable(attempts int, cause error) *AmanError {
	return New(ErrCodeGenerationUnavailable, "unable to generate a response, please retry", cause).
		WithDetail("attempts", fmt.Sprint(attempts)).
		WithSuggestion("Check that the generation service is running and the configured models are pulled")
}

// IsRetryable checks if an error is retryable.
func IsRetryable(err error) bool {
	var ae *AmanError
	if stderrors.As(err, &ae) {
		return ae.Retryable
	}
	return false
}

// IsFatal checks if an error has fatal severity.
func IsFatal(err error) bool {
	var ae *AmanError
	if stderrors.As(err, &ae) {
		return ae.Severity == SeverityFatal
	}
	return false
}

// IsDegradation reports whether err is a recoverable pipeline degradation.
func IsDegradation(err error) bool {
	var ae *AmanError
	if !stderrors.As(err, &ae) {
		return false
	}
	return ae.Category == CategoryPipeline && ae.Severity != SeverityFatal
}

// GetCode extracts the error code from an AmanError.
// Returns empty string if not an AmanError.
func GetCode(err error) string {
	var ae *AmanError
	if stderrors.As(err, &ae) {
		return ae.Code
	}
	return ""
}

// GetCategory extracts the category from an AmanError.
func GetCategory(err error) Category {
	var ae *AmanError
	if stderrors.As(err, &ae) {
		return ae.Category
	}
	return ""
}
