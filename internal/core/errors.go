// internal/core/errors.go
package core

import "fmt"

// Error represents a structured error with code and optional cause.
type Error struct {
	Code    string
	Message string
	Cause   error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is implements errors.Is matching by code.
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Code == t.Code
	}
	return false
}

// WrapError creates a new error with the same code but with a cause.
func WrapError(base *Error, cause error) *Error {
	return &Error{
		Code:    base.Code,
		Message: base.Message,
		Cause:   cause,
	}
}

// Predefined errors
var (
	// Data errors
	ErrNoData           = &Error{Code: "NO_DATA", Message: "no data available"}
	ErrInsufficientData = &Error{Code: "INSUFFICIENT_DATA", Message: "insufficient data for simulation"}

	// Ledger errors
	ErrAlreadyOpen = &Error{Code: "ALREADY_OPEN", Message: "position already open"}
	ErrNotOpen     = &Error{Code: "NOT_OPEN", Message: "no open position"}
	ErrInvalidFill = &Error{Code: "INVALID_FILL", Message: "invalid fill"}

	// Risk errors
	ErrPositionLimit       = &Error{Code: "POSITION_LIMIT", Message: "position limit reached"}
	ErrInsufficientCapital = &Error{Code: "INSUFFICIENT_CAPITAL", Message: "insufficient capital for one lot"}

	// Strategy errors
	ErrUnknownStrategy = &Error{Code: "UNKNOWN_STRATEGY", Message: "unknown strategy"}
	ErrInvalidSignal   = &Error{Code: "INVALID_SIGNAL", Message: "invalid signal"}

	// Analysis errors
	ErrUnknownMetric = &Error{Code: "UNKNOWN_METRIC", Message: "unknown metric"}

	// Broker errors
	ErrOrderFailed   = &Error{Code: "ORDER_FAILED", Message: "order failed"}
	ErrOrderRejected = &Error{Code: "ORDER_REJECTED", Message: "order rejected"}

	// Persistence errors
	ErrStoreFailed = &Error{Code: "STORE_FAILED", Message: "state store operation failed"}
	ErrNotFound    = &Error{Code: "NOT_FOUND", Message: "key not found"}

	// Config errors
	ErrConfigInvalid = &Error{Code: "CONFIG_INVALID", Message: "configuration invalid"}
	ErrConfigMissing = &Error{Code: "CONFIG_MISSING", Message: "required configuration missing"}
)
