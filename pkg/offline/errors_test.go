package offline

import (
	"errors"
	"testing"
)

const (
	operationName    = "store"
	subjectName      = "queue"
	codeName         = "read"
	baseErrorMessage = "base error"
)

func TestOperationErrorFormatting(test *testing.T) {
	test.Parallel()
	baseError := errors.New(baseErrorMessage)
	wrappedError := WrapError(operationName, subjectName, codeName, baseError)
	if wrappedError == nil {
		test.Fatalf("expected wrapped error")
	}
	expected := operationName + "." + subjectName + "." + codeName + ": " + baseErrorMessage
	if wrappedError.Error() != expected {
		test.Fatalf("expected %q, got %q", expected, wrappedError.Error())
	}
	var operationError OperationError
	if !errors.As(wrappedError, &operationError) || operationError.Code() != codeName {
		test.Fatalf("expected OperationError with code %q, got %v", codeName, wrappedError)
	}
}

func TestWrapErrorNil(test *testing.T) {
	test.Parallel()
	if WrapError(operationName, subjectName, codeName, nil) != nil {
		test.Fatalf("expected nil wrapped error")
	}
}

func TestStorageErrorMatchesSentinels(test *testing.T) {
	test.Parallel()
	baseError := errors.New(baseErrorMessage)
	storageError := wrapStorageError(errorSubjectQueue, errorCodeWrite, baseError)
	if !errors.Is(storageError, ErrStorage) || !errors.Is(storageError, baseError) {
		test.Fatalf("expected storage error to match both sentinels, got %v", storageError)
	}
}

func TestNetworkErrorMatchesSentinels(test *testing.T) {
	test.Parallel()
	baseError := errors.New(baseErrorMessage)
	networkError := NewNetworkError(baseError)
	if !errors.Is(networkError, ErrNetwork) || !errors.Is(networkError, baseError) {
		test.Fatalf("expected network error to match both sentinels, got %v", networkError)
	}
	if networkError.Error() != "network failure: "+baseErrorMessage {
		test.Fatalf("unexpected message %q", networkError.Error())
	}
}

func TestValidationErrorReason(test *testing.T) {
	test.Parallel()
	validationError := NewValidationError(ErrDailySpendExceeded)
	if validationError.Reason() != "exceeds daily offline limit" {
		test.Fatalf("unexpected reason %q", validationError.Reason())
	}
	if !errors.Is(validationError, ErrDailySpendExceeded) {
		test.Fatalf("expected validation error to unwrap to its reason")
	}
}
