package errors

import (
	stderrors "errors"
	"fmt"
)

// ErrorType represents the type of error
type ErrorType string

const (
	ErrTypeValidation           ErrorType = "VALIDATION"
	ErrTypeReferentialIntegrity ErrorType = "REFERENTIAL_INTEGRITY"
	ErrTypeMissingPriceData     ErrorType = "MISSING_PRICE_DATA"
	ErrTypeComputation          ErrorType = "COMPUTATION"
	ErrTypeFatalIngestion       ErrorType = "FATAL_INGESTION"
	ErrTypeStorage              ErrorType = "STORAGE"
	ErrTypeConfig               ErrorType = "CONFIG"
)

// Computation codes carried by undefined metrics
const (
	CodeZeroBase         = "zero_base"
	CodeInsufficientData = "insufficient_data"
	CodeZeroVolatility   = "zero_volatility"
	CodeZeroVolume       = "zero_volume"
)

// AppError represents an application-specific error
type AppError struct {
	Type    ErrorType
	Message string
	Cause   error
	Context map[string]interface{}
}

// Error implements the error interface
func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Type, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Type, e.Message)
}

// Unwrap allows errors.Is and errors.As to work with AppError
func (e *AppError) Unwrap() error {
	return e.Cause
}

// Is matches another AppError of the same type, so sentinel comparisons work
// across wrapped chains.
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	if !ok {
		return false
	}
	return t.Type == e.Type && (t.Message == "" || t.Message == e.Message)
}

// WithContext adds context to the error
func (e *AppError) WithContext(key string, value interface{}) *AppError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// NewAppError creates a new application error
func NewAppError(errType ErrorType, message string, cause error) *AppError {
	return &AppError{
		Type:    errType,
		Message: message,
		Cause:   cause,
		Context: make(map[string]interface{}),
	}
}

// Helper functions for common error types

// NewValidationError creates an error for a malformed input row
func NewValidationError(message string) *AppError {
	return NewAppError(ErrTypeValidation, message, nil)
}

// NewReferentialIntegrityError creates an error for a row referencing an unknown entity
func NewReferentialIntegrityError(entity, id string) *AppError {
	return NewAppError(ErrTypeReferentialIntegrity, fmt.Sprintf("unknown %s %q", entity, id), nil).
		WithContext("entity", entity).
		WithContext("id", id)
}

// NewMissingPriceDataError records a held ticker without any price on or before a date
func NewMissingPriceDataError(portfolioID, symbol, date string) *AppError {
	return NewAppError(ErrTypeMissingPriceData, fmt.Sprintf("no price for %s as of %s", symbol, date), nil).
		WithContext("portfolio_id", portfolioID).
		WithContext("ticker_symbol", symbol).
		WithContext("date", date)
}

// NewComputationError creates an error for degenerate arithmetic; code is one of the Code* constants
func NewComputationError(code, message string) *AppError {
	return NewAppError(ErrTypeComputation, message, nil).WithContext("code", code)
}

// NewFatalIngestionError creates an error that aborts the run
func NewFatalIngestionError(message string, cause error) *AppError {
	return NewAppError(ErrTypeFatalIngestion, message, cause)
}

// NewStorageError creates a storage-related error
func NewStorageError(message string, cause error) *AppError {
	return NewAppError(ErrTypeStorage, message, cause)
}

// NewConfigError creates a configuration error
func NewConfigError(message string, cause error) *AppError {
	return NewAppError(ErrTypeConfig, message, cause)
}

// KindOf returns the ErrorType of the first AppError in err's chain, or "" if none
func KindOf(err error) ErrorType {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr.Type
	}
	return ""
}

// CodeOf returns the "code" context value of the first AppError in err's chain
func CodeOf(err error) string {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		if code, ok := appErr.Context["code"].(string); ok {
			return code
		}
	}
	return ""
}

// IsFatal reports whether err must halt the run
func IsFatal(err error) bool {
	switch KindOf(err) {
	case ErrTypeFatalIngestion, ErrTypeConfig, ErrTypeStorage:
		return true
	}
	return false
}

// IsFatalIngestion reports whether err carries a FatalIngestionError
func IsFatalIngestion(err error) bool {
	return KindOf(err) == ErrTypeFatalIngestion
}
