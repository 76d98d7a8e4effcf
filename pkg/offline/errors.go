package offline

import (
	"errors"
	"fmt"
)

// Domain-level error values returned by the offline wallet core.
var (
	ErrInvalidClientTransactionID = errors.New("invalid client transaction id")
	ErrInvalidReceiverID          = errors.New("invalid receiver id")
	ErrInvalidAmount              = errors.New("invalid amount")
	ErrInvalidBalance             = errors.New("invalid balance")
	ErrInvalidTransactionType     = errors.New("invalid transaction type")
	ErrInvalidTransactionStatus   = errors.New("invalid transaction status")
	ErrInvalidLimitsConfig        = errors.New("invalid limits config")
	ErrInvalidServiceConfig       = errors.New("invalid service config")
	ErrInvalidSignerKey           = errors.New("invalid signer key")
	ErrInvalidAuthToken           = errors.New("invalid auth token")
	ErrPendingTransactions        = errors.New("pending offline transactions")
	ErrDuplicateTransaction       = errors.New("duplicate client transaction id")
	ErrSyncRejected               = errors.New("sync rejected")

	ErrStorage = errors.New("storage failure")
	ErrNetwork = errors.New("network failure")
)

// Limit rejections. The messages are user-visible reasons.
var (
	ErrMaxTransactionCount       = errors.New("max offline transaction count reached")
	ErrDailySpendExceeded        = errors.New("exceeds daily offline limit")
	ErrTransactionAmountExceeded = errors.New("exceeds offline transaction limit")
	ErrInsufficientShadowBalance = errors.New("insufficient shadow balance")
)

// ValidationError reports a limits rejection raised before any mutation.
type ValidationError struct {
	reason error
}

// NewValidationError wraps one of the limit rejection values.
func NewValidationError(reason error) *ValidationError {
	return &ValidationError{reason: reason}
}

// Error returns the rejection reason.
func (validationError *ValidationError) Error() string {
	return validationError.reason.Error()
}

// Unwrap returns the rejection sentinel.
func (validationError *ValidationError) Unwrap() error {
	return validationError.reason
}

// Reason returns the user-visible rejection reason.
func (validationError *ValidationError) Reason() string {
	return validationError.reason.Error()
}

// NetworkError reports a failed batched sync call. No local state was changed.
type NetworkError struct {
	err error
}

// NewNetworkError wraps a transport-level failure.
func NewNetworkError(err error) *NetworkError {
	return &NetworkError{err: err}
}

// Error returns the formatted error message.
func (networkError *NetworkError) Error() string {
	return fmt.Sprintf("%v: %v", ErrNetwork, networkError.err)
}

// Unwrap exposes both ErrNetwork and the underlying failure.
func (networkError *NetworkError) Unwrap() []error {
	return []error{ErrNetwork, networkError.err}
}

// OperationError wraps a failure with a stable operation code.
type OperationError struct {
	operation string
	subject   string
	code      string
	err       error
}

// Error returns the formatted error message.
func (operationError OperationError) Error() string {
	return fmt.Sprintf("%s.%s.%s: %v", operationError.operation, operationError.subject, operationError.code, operationError.err)
}

// Unwrap returns the underlying error.
func (operationError OperationError) Unwrap() error {
	return operationError.err
}

// Operation returns the operation segment.
func (operationError OperationError) Operation() string {
	return operationError.operation
}

// Subject returns the subject segment.
func (operationError OperationError) Subject() string {
	return operationError.subject
}

// Code returns the stable error code segment.
func (operationError OperationError) Code() string {
	return operationError.code
}

// WrapError wraps an error with operation, subject, and code metadata.
func WrapError(operation string, subject string, code string, err error) error {
	if err == nil {
		return nil
	}
	return OperationError{
		operation: operation,
		subject:   subject,
		code:      code,
		err:       err,
	}
}

func wrapStorageError(subject string, code string, err error) error {
	if err == nil {
		return nil
	}
	return WrapError(errorOperationStore, subject, code, fmt.Errorf("%w: %w", ErrStorage, err))
}
