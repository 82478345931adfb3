package types

import (
	"errors"
	"fmt"
	"testing"
)

func TestErrorChain(t *testing.T) {
	cause := errors.New("disk full")
	err := NewError(ErrCodeCheckpointWrite, "save checkpoint").WithCause(cause).WithRetryable(true)

	if !errors.Is(err, cause) {
		t.Error("errors.Is should find the cause")
	}
	if !IsRetryable(err) {
		t.Error("error should be retryable")
	}
	if got := GetErrorCode(err); got != ErrCodeCheckpointWrite {
		t.Errorf("code: got %s, want %s", got, ErrCodeCheckpointWrite)
	}
}

func TestErrorCodeThroughWrapping(t *testing.T) {
	inner := NewError(ErrCodeCapabilityNotFound, "no such capability")
	wrapped := fmt.Errorf("run loop: %w", inner)

	if got := GetErrorCode(wrapped); got != ErrCodeCapabilityNotFound {
		t.Errorf("code through fmt wrap: got %s, want %s", got, ErrCodeCapabilityNotFound)
	}
	if IsRetryable(wrapped) {
		t.Error("unmarked error should not be retryable")
	}
}

func TestGetErrorCodePlainError(t *testing.T) {
	if got := GetErrorCode(errors.New("plain")); got != ErrCodeInternal {
		t.Errorf("plain error: got %s, want %s", got, ErrCodeInternal)
	}
}
