// internal/core/errors_test.go
package core

import (
	"errors"
	"fmt"
	"testing"
)

func TestError_Error(t *testing.T) {
	err := &Error{Code: "TEST_ERROR", Message: "test message"}
	if err.Error() != "[TEST_ERROR] test message" {
		t.Errorf("unexpected error string: %s", err.Error())
	}
}

func TestError_ErrorWithCause(t *testing.T) {
	err := WrapError(ErrAlreadyOpen, fmt.Errorf("AAPL"))
	if err.Error() != "[ALREADY_OPEN] position already open: AAPL" {
		t.Errorf("unexpected error string: %s", err.Error())
	}
}

func TestError_Unwrap(t *testing.T) {
	cause := errors.New("root cause")
	err := &Error{Code: "WRAP", Message: "wrapped", Cause: cause}
	if !errors.Is(err, cause) {
		t.Error("Unwrap should return cause")
	}
}

func TestError_Is(t *testing.T) {
	if !errors.Is(ErrNotOpen, ErrNotOpen) {
		t.Error("same error should match")
	}
	if errors.Is(ErrNotOpen, ErrAlreadyOpen) {
		t.Error("different codes should not match")
	}
	wrapped := fmt.Errorf("closing: %w", WrapError(ErrNotOpen, errors.New("MSFT")))
	if !errors.Is(wrapped, ErrNotOpen) {
		t.Error("wrapped error should match by code")
	}
}

func TestWrapError(t *testing.T) {
	cause := errors.New("original")
	wrapped := WrapError(ErrStoreFailed, cause)
	if wrapped.Cause != cause {
		t.Error("cause not set")
	}
	if wrapped.Code != ErrStoreFailed.Code {
		t.Error("code not preserved")
	}
}
