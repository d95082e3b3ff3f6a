// Package errors provides the coded error values shared by every ygrep
// component.
//
// Error codes follow the pattern ERR_XXX_DESCRIPTION where:
//   - 1XX: Configuration errors
//   - 2XX: IO and on-disk state errors
//   - 3XX: Index state and capability errors
//   - 4XX: Query and input validation errors
//   - 5XX: Internal errors
package errors

// Category defines error categories for classification.
type Category string

const (
	// CategoryConfig indicates configuration-related errors.
	CategoryConfig Category = "CONFIG"
	// CategoryIO indicates file, disk and on-disk index errors.
	CategoryIO Category = "IO"
	// CategoryIndex indicates missing or incompatible index state.
	CategoryIndex Category = "INDEX"
	// CategoryValidation indicates query and input validation errors.
	CategoryValidation Category = "VALIDATION"
	// CategoryInternal indicates unexpected internal errors.
	CategoryInternal Category = "INTERNAL"
)

// Severity defines error severity levels.
type Severity string

const (
	// SeverityFatal indicates unrecoverable error, must abort.
	SeverityFatal Severity = "FATAL"
	// SeverityError indicates operation failed but can continue.
	SeverityError Severity = "ERROR"
	// SeverityWarning indicates degraded operation, continuing.
	SeverityWarning Severity = "WARNING"
)

// Error codes organized by category.
const (
	// Config errors (100-199)
	ErrCodeConfigInvalid = "ERR_101_CONFIG_INVALID"

	// IO errors (200-299)
	ErrCodeIOFailure    = "ERR_201_IO_FAILURE"
	ErrCodeNotFound     = "ERR_202_NOT_FOUND"
	ErrCodeCorruptIndex = "ERR_205_CORRUPT_INDEX"
	ErrCodeIndexLocked  = "ERR_206_INDEX_LOCKED"

	// Index state errors (300-399)
	ErrCodeNotIndexed      = "ERR_301_NOT_INDEXED"
	ErrCodeSchemaMismatch  = "ERR_302_SCHEMA_MISMATCH"
	ErrCodeUnsupported     = "ERR_303_UNSUPPORTED"
	ErrCodeEmbeddingFailed = "ERR_304_EMBEDDING_FAILED"

	// Validation errors (400-499)
	ErrCodeInvalidInput = "ERR_401_INVALID_INPUT"
	ErrCodeInvalidQuery = "ERR_403_INVALID_QUERY"

	// Internal errors (500-599)
	ErrCodeInternal = "ERR_501_INTERNAL"
)

// categoryFromCode extracts category from error code.
func categoryFromCode(code string) Category {
	if len(code) < 7 {
		return CategoryInternal
	}

	// "3" from "ERR_301_NOT_INDEXED"
	switch code[4] {
	case '1':
		return CategoryConfig
	case '2':
		return CategoryIO
	case '3':
		return CategoryIndex
	case '4':
		return CategoryValidation
	default:
		return CategoryInternal
	}
}

// severityFromCode determines severity based on error code.
func severityFromCode(code string) Severity {
	switch code {
	case ErrCodeCorruptIndex:
		return SeverityFatal
	case ErrCodeUnsupported:
		return SeverityWarning
	}

	if isRetryableCode(code) {
		return SeverityWarning
	}
	return SeverityError
}

// isRetryableCode checks if an error code represents a retryable error.
func isRetryableCode(code string) bool {
	switch code {
	case ErrCodeIOFailure, ErrCodeEmbeddingFailed, ErrCodeIndexLocked:
		return true
	default:
		return false
	}
}
