package errors

import (
	"context"
	stderrors "errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDerivesClassification(t *testing.T) {
	tests := []struct {
		name      string
		code      string
		category  Category
		severity  Severity
		retryable bool
	}{
		{"config", ErrCodeConfigInvalid, CategoryConfig, SeverityError, false},
		{"io", ErrCodeFileNotFound, CategoryIO, SeverityError, false},
		{"index write", ErrCodeIndexWrite, CategoryIO, SeverityError, true},
		{"predictor", ErrCodePredictorUnavailable, CategoryNetwork, SeverityWarning, true},
		{"validation", ErrCodeInvalidInput, CategoryValidation, SeverityError, false},
		{"fatal", ErrCodeFatal, CategoryInternal, SeverityFatal, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := New(tt.code, "boom", nil)
			assert.Equal(t, tt.category, err.Category)
			assert.Equal(t, tt.severity, err.Severity)
			assert.Equal(t, tt.retryable, err.Retryable)
		})
	}
}

func TestWrapPreservesCause(t *testing.T) {
	cause := fmt.Errorf("disk on fire")
	err := Wrap(ErrCodeIndexWrite, cause)
	require.NotNil(t, err)
	assert.Equal(t, cause, stderrors.Unwrap(err))
	assert.Contains(t, err.Error(), ErrCodeIndexWrite)
}

func TestWrapNil(t *testing.T) {
	assert.Nil(t, Wrap(ErrCodeIndexWrite, nil))
}

func TestIsMatchesByCode(t *testing.T) {
	err := NotFound("job", 42)
	assert.True(t, stderrors.Is(err, &Error{Code: ErrCodeNotFound}))
	assert.True(t, IsNotFound(err))
	assert.False(t, IsConflict(err))
}

func TestIsFatal(t *testing.T) {
	assert.True(t, IsFatal(Fatal("data root unreachable", nil)))
	assert.True(t, IsFatal(fmt.Errorf("wrapped: %w", New(ErrCodeCorruptIndex, "bad", nil))))
	assert.False(t, IsFatal(Invalid("empty path")))
	assert.False(t, IsFatal(fmt.Errorf("plain")))
}

func TestIsCancelled(t *testing.T) {
	assert.True(t, IsCancelled(Cancelled("stopped")))
	assert.True(t, IsCancelled(context.Canceled))
	assert.False(t, IsCancelled(Invalid("nope")))
}

func TestWithDetail(t *testing.T) {
	err := New(ErrCodeParseFailed, "parse failed", nil).
		WithDetail("path", "/tmp/a.pdf").
		WithDetail("format", "pdf")
	assert.Equal(t, "/tmp/a.pdf", err.Details["path"])
	assert.Equal(t, "pdf", err.Details["format"])
}
