package errors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorType_Constants(t *testing.T) {
	tests := []struct {
		name     string
		errType  ErrorType
		expected string
	}{
		{name: "validation", errType: ErrTypeValidation, expected: "VALIDATION"},
		{name: "referential integrity", errType: ErrTypeReferentialIntegrity, expected: "REFERENTIAL_INTEGRITY"},
		{name: "missing price data", errType: ErrTypeMissingPriceData, expected: "MISSING_PRICE_DATA"},
		{name: "computation", errType: ErrTypeComputation, expected: "COMPUTATION"},
		{name: "fatal ingestion", errType: ErrTypeFatalIngestion, expected: "FATAL_INGESTION"},
		{name: "storage", errType: ErrTypeStorage, expected: "STORAGE"},
		{name: "config", errType: ErrTypeConfig, expected: "CONFIG"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, string(tt.errType))
		})
	}
}

func TestAppError_Error(t *testing.T) {
	tests := []struct {
		name        string
		appError    *AppError
		wantMessage string
	}{
		{
			name:        "error without cause",
			appError:    NewValidationError("quantity must be non-zero"),
			wantMessage: "[VALIDATION] quantity must be non-zero",
		},
		{
			name:        "error with cause",
			appError:    NewFatalIngestionError("cannot read source", fmt.Errorf("permission denied")),
			wantMessage: "[FATAL_INGESTION] cannot read source: permission denied",
		},
		{
			name:        "referential integrity",
			appError:    NewReferentialIntegrityError("portfolio", "p-404"),
			wantMessage: `[REFERENTIAL_INTEGRITY] unknown portfolio "p-404"`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.wantMessage, tt.appError.Error())
		})
	}
}

func TestAppError_Unwrap(t *testing.T) {
	cause := errors.New("disk full")
	err := NewStorageError("replace table", cause)

	assert.Equal(t, cause, err.Unwrap())
	assert.True(t, errors.Is(err, cause))
}

func TestAppError_WithContext(t *testing.T) {
	err := NewMissingPriceDataError("p1", "abc", "2024-01-02")

	assert.Equal(t, "p1", err.Context["portfolio_id"])
	assert.Equal(t, "abc", err.Context["ticker_symbol"])
	assert.Equal(t, "2024-01-02", err.Context["date"])

	bare := &AppError{Type: ErrTypeComputation}
	bare.WithContext("code", CodeZeroBase)
	require.NotNil(t, bare.Context)
	assert.Equal(t, CodeZeroBase, bare.Context["code"])
}

func TestKindOf(t *testing.T) {
	wrapped := fmt.Errorf("step failed: %w", NewFatalIngestionError("no accounts", nil))

	assert.Equal(t, ErrTypeFatalIngestion, KindOf(wrapped))
	assert.Equal(t, ErrorType(""), KindOf(errors.New("plain")))
	assert.Equal(t, ErrorType(""), KindOf(nil))
}

func TestCodeOf(t *testing.T) {
	err := fmt.Errorf("growth: %w", NewComputationError(CodeZeroBase, "start value is zero"))

	assert.Equal(t, CodeZeroBase, CodeOf(err))
	assert.Equal(t, "", CodeOf(NewValidationError("x")))
}

func TestIsFatal(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{name: "fatal ingestion", err: NewFatalIngestionError("empty horizon", nil), want: true},
		{name: "config", err: NewConfigError("bad yaml", nil), want: true},
		{name: "storage", err: NewStorageError("commit", nil), want: true},
		{name: "validation", err: NewValidationError("bad row"), want: false},
		{name: "missing price", err: NewMissingPriceDataError("p", "t", "d"), want: false},
		{name: "computation", err: NewComputationError(CodeZeroVolatility, "flat"), want: false},
		{name: "plain", err: errors.New("boom"), want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsFatal(tt.err))
		})
	}
	assert.True(t, IsFatalIngestion(fmt.Errorf("wrap: %w", NewFatalIngestionError("x", nil))))
}

func TestAppError_IsMatchesType(t *testing.T) {
	err := fmt.Errorf("run: %w", NewFatalIngestionError("no valid accounts", nil))

	assert.True(t, errors.Is(err, &AppError{Type: ErrTypeFatalIngestion}))
	assert.False(t, errors.Is(err, &AppError{Type: ErrTypeConfig}))
}
