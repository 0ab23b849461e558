package errors

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVgrepError_Unwrap_PreservesCause(t *testing.T) {
	// Given: an original error
	cause := errors.New("permission denied")

	// When: wrapping it
	err := New(ErrCodeFileUnreadable, "cannot read main.go", cause)

	// Then: the cause is reachable through the chain
	require.NotNil(t, err)
	assert.Equal(t, cause, errors.Unwrap(err))
	assert.True(t, errors.Is(err, cause))
	assert.Equal(t, "[ERR_301_FILE_UNREADABLE] cannot read main.go", err.Error())
}

func TestVgrepError_Is_MatchesSentinelByCode(t *testing.T) {
	// Given: a package-level sentinel and a fresh error wrapped by fmt
	sentinel := New(ErrCodeNotIndexed, "not indexed yet", nil)
	err := fmt.Errorf("open index: %w", New(ErrCodeNotIndexed, "no .vgrep directory in /tmp/x", nil))

	// Then: errors.Is matches on code, and a different code does not match
	assert.True(t, errors.Is(err, sentinel))
	assert.False(t, errors.Is(err, New(ErrCodeCorruptIndex, "corrupt", nil)))
}

func TestCategoryFromCode(t *testing.T) {
	tests := []struct {
		code     string
		category Category
	}{
		{ErrCodeConfigInvalid, CategoryConfig},
		{ErrCodeNotIndexed, CategoryResource},
		{ErrCodeBinaryFile, CategoryInput},
		{ErrCodeModelMismatch, CategoryCompatibility},
		{ErrCodeCorruptIndex, CategoryConsistency},
		{ErrCodeLocked, CategoryConcurrency},
		{ErrCodeEmbeddingFailed, CategoryProvider},
		{ErrCodeInternal, CategoryInternal},
		{"bad", CategoryInternal},
	}

	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			assert.Equal(t, tt.category, categoryFromCode(tt.code))
		})
	}
}

func TestHelpers_WalkWrappedChain(t *testing.T) {
	// Given: typed errors buried under fmt wrapping
	locked := fmt.Errorf("sync: %w", New(ErrCodeLocked, "another sync holds the lock", nil))
	corrupt := fmt.Errorf("load: %w", New(ErrCodeCorruptIndex, "truncated graph", nil))
	binary := fmt.Errorf("chunk: %w", New(ErrCodeBinaryFile, "logo.png is binary", nil))

	// Then: helpers see through the wrapping
	assert.Equal(t, ErrCodeLocked, GetCode(locked))
	assert.True(t, IsRetryable(locked))
	assert.True(t, IsFatal(corrupt))
	assert.True(t, IsInput(binary))
	assert.False(t, IsInput(corrupt))
	assert.Equal(t, "", GetCode(errors.New("plain")))
}

func TestFormatForCLI_IncludesSuggestionAndCode(t *testing.T) {
	err := New(ErrCodeModelMismatch, "index was built with minilm (384 dims)", nil).
		WithSuggestion("run 'vgrep index --force' to rebuild").
		WithDetail("configured", "nomic")

	out := FormatForCLI(err, true)

	assert.Contains(t, out, "Error: index was built with minilm (384 dims)")
	assert.Contains(t, out, "Hint: run 'vgrep index --force' to rebuild")
	assert.Contains(t, out, "configured: nomic")
	assert.Contains(t, out, "Code: ERR_401_MODEL_MISMATCH")
}

func TestFormatJSON_WrapsPlainErrors(t *testing.T) {
	data, err := FormatJSON(errors.New("boom"))
	require.NoError(t, err)
	assert.Contains(t, string(data), `"code":"ERR_901_INTERNAL"`)
	assert.Contains(t, string(data), `"message":"boom"`)
}

func TestRetry_SucceedsAfterTransientError(t *testing.T) {
	// Given: a function that fails twice then succeeds
	attempts := 0
	fn := func() error {
		attempts++
		if attempts < 3 {
			return errors.New("transient error")
		}
		return nil
	}

	// When: retrying with a fast config
	cfg := DefaultRetryConfig()
	cfg.InitialDelay = time.Millisecond

	err := Retry(context.Background(), cfg, fn)

	// Then: succeeds after 3 attempts
	assert.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestRetry_FailsAfterMaxRetries(t *testing.T) {
	attempts := 0
	cfg := RetryConfig{MaxRetries: 2, InitialDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond, Multiplier: 2}

	err := Retry(context.Background(), cfg, func() error {
		attempts++
		return errors.New("persistent error")
	})

	assert.Error(t, err)
	assert.Contains(t, err.Error(), "after 2 retries")
	assert.Equal(t, 3, attempts)
}

func TestRetry_StopsOnNonRetryableError(t *testing.T) {
	attempts := 0
	cfg := DefaultRetryConfig()
	cfg.InitialDelay = time.Millisecond
	cfg.ShouldRetry = IsRetryable

	err := Retry(context.Background(), cfg, func() error {
		attempts++
		return New(ErrCodeModelMismatch, "wrong model", nil)
	})

	assert.Equal(t, ErrCodeModelMismatch, GetCode(err))
	assert.Equal(t, 1, attempts)
}

func TestRetryWithResult_RespectsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := RetryWithResult(ctx, DefaultRetryConfig(), func() (int, error) {
		return 1, nil
	})

	assert.ErrorIs(t, err, context.Canceled)
}
