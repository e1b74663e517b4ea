package errors

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAmanError_Unwrap_PreservesOriginalError(t *testing.T) {
	// Given: an original error
	originalErr := errors.New("connection refused")

	// When: wrapping with AmanError
	amanErr := New(ErrCodeNetworkUnavailable, "ollama unreachable", originalErr)

	// Then: unwrapping returns original error
	require.NotNil(t, amanErr)
	assert.Equal(t, originalErr, errors.Unwrap(amanErr))
	assert.True(t, errors.Is(amanErr, originalErr))
}

func TestAmanError_Error_ReturnsFormattedMessage(t *testing.T) {
	tests := []struct {
		name     string
		code     string
		message  string
		expected string
	}{
		{
			name:     "config error",
			code:     ErrCodeConfigInvalid,
			message:  "alpha out of range",
			expected: "[ERR_102_CONFIG_INVALID] alpha out of range",
		},
		{
			name:     "pipeline error",
			code:     ErrCodeGenerationUnavailable,
			message:  "no tier answered",
			expected: "[ERR_605_GENERATION_UNAVAILABLE] no tier answered",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := New(tt.code, tt.message, nil)
			assert.Equal(t, tt.expected, err.Error())
		})
	}
}

func TestAmanError_Is_MatchesByCodeThroughWrapping(t *testing.T) {
	// Given: a generation failure wrapped by a caller
	err := fmt.Errorf("respond: %w", GenerationUnavailable(3, errors.New("timeout")))

	// Then: errors.Is matches a fresh error with the same code
	assert.True(t, errors.Is(err, New(ErrCodeGenerationUnavailable, "", nil)))
	assert.False(t, errors.Is(err, New(ErrCodeRerankUnavailable, "", nil)))
}

func TestCodes_CategoryAndSeverity(t *testing.T) {
	tests := []struct {
		code     string
		category Category
		severity Severity
	}{
		{ErrCodeConfigInvalid, CategoryConfig, SeverityError},
		{ErrCodeCorruptIndex, CategoryIO, SeverityFatal},
		{ErrCodeNetworkTimeout, CategoryNetwork, SeverityWarning},
		{ErrCodeInvalidFilter, CategoryValidation, SeverityError},
		{ErrCodeInternal, CategoryInternal, SeverityError},
		{ErrCodeExpansionDegraded, CategoryPipeline, SeverityWarning},
		{ErrCodeRetrievalEmpty, CategoryPipeline, SeverityInfo},
		{ErrCodeRerankUnavailable, CategoryPipeline, SeverityWarning},
		{ErrCodeClassificationDegraded, CategoryPipeline, SeverityWarning},
		{ErrCodeGenerationUnavailable, CategoryPipeline, SeverityFatal},
	}

	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			err := New(tt.code, "msg", nil)
			assert.Equal(t, tt.category, err.Category)
			assert.Equal(t, tt.severity, err.Severity)
		})
	}
}

// =============================================================================
// Pipeline helpers
// =============================================================================

func TestDegraded_IsRecoverable(t *testing.T) {
	// Given: a degraded expansion
	err := Degraded(ErrCodeExpansionDegraded, "expansion", errors.New("deadline exceeded"))

	// Then: it is a degradation, not fatal, and records the stage
	assert.True(t, IsDegradation(err))
	assert.False(t, IsFatal(err))
	assert.Equal(t, "expansion", err.Details["stage"])
	assert.Contains(t, err.Message, "deadline exceeded")
}

func TestGenerationUnavailable_IsFatalAndUserFacing(t *testing.T) {
	err := GenerationUnavailable(3, errors.New("boom"))

	assert.True(t, IsFatal(err))
	assert.False(t, IsDegradation(err))
	assert.True(t, IsRetryable(err))
	assert.Equal(t, "3", err.Details["attempts"])
	assert.Contains(t, FormatForUser(err, false), "unable to generate a response, please retry")
}

func TestGetCode_NonAmanError(t *testing.T) {
	assert.Equal(t, "", GetCode(errors.New("plain")))
	assert.Equal(t, Category(""), GetCategory(nil))
	assert.False(t, IsRetryable(nil))
}

// =============================================================================
// Formatting
// =============================================================================

func TestFormatForUser_DebugIncludesCauseAndDetails(t *testing.T) {
	err := New(ErrCodeInvalidFilter, "bad filter", errors.New("missing '='")).
		WithDetail("filter", "jurisdiction").
		WithSuggestion("Use field=value")

	plain := FormatForUser(err, false)
	debug := FormatForUser(err, true)

	assert.Contains(t, plain, "Suggestion: Use field=value")
	assert.NotContains(t, plain, "missing '='")
	assert.Contains(t, debug, "Cause: missing '='")
	assert.Contains(t, debug, "filter: jurisdiction")
	assert.Contains(t, debug, "[ERR_403_INVALID_FILTER]")
}

func TestFormatForCLI_WrapsPlainErrors(t *testing.T) {
	out := FormatForCLI(errors.New("disk on fire"))

	assert.Contains(t, out, "Error: disk on fire")
	assert.Contains(t, out, ErrCodeInternal)
}

func TestFormatJSON_OmitsCause(t *testing.T) {
	data, err := FormatJSON(GenerationUnavailable(3, errors.New("secret upstream detail")))
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, ErrCodeGenerationUnavailable, decoded["code"])
	assert.Equal(t, "FATAL", decoded["severity"])
	assert.NotContains(t, string(data), "secret upstream detail")
}

func TestLogAttrs_FlattensDetails(t *testing.T) {
	attrs := LogAttrs(Degraded(ErrCodeRerankUnavailable, "rerank", nil))

	assert.Contains(t, attrs, "error_code")
	assert.Contains(t, attrs, ErrCodeRerankUnavailable)
	assert.Contains(t, attrs, "detail_stage")
	assert.Nil(t, LogAttrs(nil))
}
