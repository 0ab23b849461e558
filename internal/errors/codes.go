// Package errors provides structured error handling for vgrep.
//
// Error codes follow the pattern ERR_XXX_DESCRIPTION where:
//   - 1XX: Configuration errors
//   - 2XX: Resource errors (index directory, disk)
//   - 3XX: Input errors (per-file problems, bad query input)
//   - 4XX: Compatibility errors (model or dimension mismatch)
//   - 5XX: Consistency errors (corrupt or disagreeing index state)
//   - 6XX: Concurrency errors (writer lock)
//   - 7XX: Embedding provider errors
//   - 9XX: Internal errors
package errors

// Category defines error categories for classification.
type Category string

const (
	CategoryConfig        Category = "CONFIG"
	CategoryResource      Category = "RESOURCE"
	CategoryInput         Category = "INPUT"
	CategoryCompatibility Category = "COMPATIBILITY"
	CategoryConsistency   Category = "CONSISTENCY"
	CategoryConcurrency   Category = "CONCURRENCY"
	CategoryProvider      Category = "PROVIDER"
	CategoryInternal      Category = "INTERNAL"
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
	ErrCodeConfigRead    = "ERR_102_CONFIG_READ"
	ErrCodeUnknownModel  = "ERR_103_UNKNOWN_MODEL"

	// Resource errors (200-299)
	ErrCodeNotIndexed = "ERR_201_NOT_INDEXED"
	ErrCodeDataDir    = "ERR_202_DATA_DIR"
	ErrCodeDiskFull   = "ERR_203_DISK_FULL"

	// Input errors (300-399)
	ErrCodeFileUnreadable = "ERR_301_FILE_UNREADABLE"
	ErrCodeBinaryFile     = "ERR_302_BINARY_FILE"
	ErrCodeFileTooLarge   = "ERR_303_FILE_TOO_LARGE"
	ErrCodeInvalidPattern = "ERR_304_INVALID_PATTERN"
	ErrCodeQueryEmpty     = "ERR_305_QUERY_EMPTY"

	// Compatibility errors (400-499)
	ErrCodeModelMismatch     = "ERR_401_MODEL_MISMATCH"
	ErrCodeDimensionMismatch = "ERR_402_DIMENSION_MISMATCH"

	// Consistency errors (500-599)
	ErrCodeCorruptIndex      = "ERR_501_CORRUPT_INDEX"
	ErrCodeInconsistentIndex = "ERR_502_INCONSISTENT_INDEX"

	// Concurrency errors (600-699)
	ErrCodeLocked = "ERR_601_LOCKED"

	// Provider errors (700-799)
	ErrCodeProviderUnavailable = "ERR_701_PROVIDER_UNAVAILABLE"
	ErrCodeEmbeddingFailed     = "ERR_702_EMBEDDING_FAILED"

	// Internal errors (900-999)
	ErrCodeInternal = "ERR_901_INTERNAL"
)

// categoryFromCode extracts category from error code.
func categoryFromCode(code string) Category {
	if len(code) < 7 {
		return CategoryInternal
	}

	// Numeric portion, e.g. "101" from "ERR_101_CONFIG_INVALID"
	switch code[4] {
	case '1':
		return CategoryConfig
	case '2':
		return CategoryResource
	case '3':
		return CategoryInput
	case '4':
		return CategoryCompatibility
	case '5':
		return CategoryConsistency
	case '6':
		return CategoryConcurrency
	case '7':
		return CategoryProvider
	default:
		return CategoryInternal
	}
}

// severityFromCode determines severity based on error code.
func severityFromCode(code string) Severity {
	switch code {
	case ErrCodeCorruptIndex, ErrCodeDiskFull:
		return SeverityFatal
	}

	// Per-file input errors are skipped and counted.
	if categoryFromCode(code) == CategoryInput && code != ErrCodeInvalidPattern && code != ErrCodeQueryEmpty {
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
	case ErrCodeProviderUnavailable, ErrCodeLocked:
		return true
	default:
		return false
	}
}
