package errors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestYgrepError_Unwrap_PreservesOriginalError(t *testing.T) {
	// Given: an original error
	originalErr := errors.New("permission denied")

	// When: wrapping it as an IO failure
	err := IOFailure("src/main.go", originalErr)

	// Then: unwrapping returns original error
	require.NotNil(t, err)
	assert.Equal(t, originalErr, errors.Unwrap(err))
	assert.True(t, errors.Is(err, originalErr))
}

func TestYgrepError_Error_ReturnsFormattedMessage(t *testing.T) {
	tests := []struct {
		name     string
		err      *YgrepError
		expected string
	}{
		{
			name:     "no cause",
			err:      New(ErrCodeNotFound, "no index matches abc", nil),
			expected: "[ERR_202_NOT_FOUND] no index matches abc",
		},
		{
			name:     "with cause",
			err:      New(ErrCodeIOFailure, "cannot access a.go", errors.New("denied")),
			expected: "[ERR_201_IO_FAILURE] cannot access a.go: denied",
		},
		{
			name:     "wrapped cause is not repeated",
			err:      Wrap(ErrCodeInternal, errors.New("boom")),
			expected: "[ERR_501_INTERNAL] boom",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.err.Error())
		})
	}
}

func TestYgrepError_Is_MatchesSentinelsByCode(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		sentinel error
	}{
		{"not indexed", NotIndexed("/repo", "text"), ErrNotIndexed},
		{"schema mismatch", SchemaMismatch("/idx", 1, 2), ErrSchemaMismatch},
		{"unsupported", Unsupported("semantic search", "no model"), ErrUnsupported},
		{"io failure", IOFailure("a.go", nil), ErrIOFailure},
		{"corrupt index", CorruptIndex("/idx/text.seg", nil), ErrCorruptIndex},
		{"invalid query", InvalidQuery("(", nil), ErrInvalidQuery},
		{"not found", NotFound("deadbeef"), ErrNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.True(t, errors.Is(tt.err, tt.sentinel))
			// Wrapped with fmt.Errorf still matches
			assert.True(t, errors.Is(fmt.Errorf("ctx: %w", tt.err), tt.sentinel))
		})
	}
}

func TestYgrepError_Is_DistinctTaxonomy(t *testing.T) {
	// Given: every taxonomy sentinel
	sentinels := []error{
		ErrNotIndexed, ErrSchemaMismatch, ErrUnsupported, ErrIOFailure,
		ErrCorruptIndex, ErrInvalidQuery, ErrNotFound,
	}

	// Then: no two of them match each other
	for i, a := range sentinels {
		for j, b := range sentinels {
			if i != j {
				assert.False(t, errors.Is(a, b), "%v should not match %v", a, b)
			}
		}
	}
}

func TestNotIndexed_CarriesRemediationDetails(t *testing.T) {
	// When: building a semantic NotIndexed error
	err := NotIndexed("/work/repo", "semantic")

	// Then: caller has enough to render a hint
	assert.Equal(t, "/work/repo", err.Details["root"])
	assert.Equal(t, "semantic", err.Details["mode"])
	assert.Contains(t, err.Suggestion, "--semantic")
}

func TestYgrepError_WithDetail_AddsContext(t *testing.T) {
	// Given: a base error
	err := New(ErrCodeIOFailure, "read failed", nil)

	// When: adding details
	err = err.WithDetail("path", "/foo/bar.go").WithDetail("size", "1024")

	// Then: details are available
	assert.Equal(t, "/foo/bar.go", err.Details["path"])
	assert.Equal(t, "1024", err.Details["size"])
}

func TestYgrepError_CategoryFromCode(t *testing.T) {
	tests := []struct {
		code         string
		wantCategory Category
	}{
		{ErrCodeConfigInvalid, CategoryConfig},
		{ErrCodeIOFailure, CategoryIO},
		{ErrCodeCorruptIndex, CategoryIO},
		{ErrCodeNotIndexed, CategoryIndex},
		{ErrCodeUnsupported, CategoryIndex},
		{ErrCodeInvalidQuery, CategoryValidation},
		{ErrCodeInternal, CategoryInternal},
		{"BAD", CategoryInternal},
	}

	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			err := New(tt.code, "test message", nil)
			assert.Equal(t, tt.wantCategory, err.Category)
		})
	}
}

func TestYgrepError_SeverityAndRetryable(t *testing.T) {
	tests := []struct {
		code          string
		wantSeverity  Severity
		wantRetryable bool
	}{
		{ErrCodeCorruptIndex, SeverityFatal, false},
		{ErrCodeUnsupported, SeverityWarning, false},
		{ErrCodeIOFailure, SeverityWarning, true},
		{ErrCodeEmbeddingFailed, SeverityWarning, true},
		{ErrCodeNotIndexed, SeverityError, false},
		{ErrCodeInvalidQuery, SeverityError, false},
	}

	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			err := New(tt.code, "test message", nil)
			assert.Equal(t, tt.wantSeverity, err.Severity)
			assert.Equal(t, tt.wantRetryable, err.Retryable)
			assert.Equal(t, tt.wantRetryable, IsRetryable(fmt.Errorf("wrapped: %w", err)))
		})
	}
}

func TestGetCode_WalksChain(t *testing.T) {
	err := fmt.Errorf("search: %w", InvalidQuery("[a-", nil))

	assert.Equal(t, ErrCodeInvalidQuery, GetCode(err))
	assert.Equal(t, "", GetCode(errors.New("plain")))
	assert.True(t, IsFatal(CorruptIndex("x", nil)))
	assert.False(t, IsFatal(nil))
}

func TestWrap_NilReturnsNil(t *testing.T) {
	assert.Nil(t, Wrap(ErrCodeInternal, nil))
}
