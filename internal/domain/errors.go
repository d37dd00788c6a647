package domain

import (
	"errors"
	"fmt"
)

// Application error codes
const (
	EINVALID        = "invalid"               // Invalid input or validation failure
	EUNAUTHORIZED   = "unauthorized"          // Authentication required
	EFORBIDDEN      = "forbidden"             // Permission denied
	ENOTFOUND       = "not_found"             // Resource not found
	ECONFLICT       = "conflict"              // Resource conflict (e.g., duplicate)
	EQUOTA          = "quota_exceeded"        // Allowance exhausted for a gated action
	ERATELIMIT      = "rate_limited"          // Anonymous daily limit reached
	EPAYMENTPENDING = "payment_pending"       // Checkout finished but not yet applied to the ledger
	ECONFIG         = "configuration_missing" // Feature not configured in this environment
	EUNAVAILABLE    = "unavailable"           // Upstream or transport failure, safe to retry
	EINTERNAL       = "internal"              // Internal server error
)

// Error is the application error with structured information.
type Error struct {
	Code    string // Machine-readable error code
	Op      string // Operation that failed (e.g., "ledger.debit_creation")
	Message string // Human-readable message
	Err     error  // Underlying error
}

func (e *Error) Error() string {
	if e.Op != "" {
		return fmt.Sprintf("%s: %s", e.Op, e.Message)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Errorf creates a new Error with the given code, operation, and formatted message.
func Errorf(code, op, format string, args ...interface{}) *Error {
	return &Error{
		Code:    code,
		Op:      op,
		Message: fmt.Sprintf(format, args...),
	}
}

// Wrap wraps an existing error with additional context.
func Wrap(err error, code, op, message string) *Error {
	return &Error{
		Code:    code,
		Op:      op,
		Message: message,
		Err:     err,
	}
}

// ErrorCode returns the code of the root error, or EINTERNAL if none.
func ErrorCode(err error) string {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return EINTERNAL
}

// ErrorMessage returns the human-readable message of the error.
// Internal errors get a generic message so no detail leaks to clients.
func ErrorMessage(err error) string {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		if e.Code == EINTERNAL {
			return "An internal error occurred. Please try again later."
		}
		return e.Message
	}
	return "An internal error occurred. Please try again later."
}

// ErrorOp returns the operation of the root error, if any.
func ErrorOp(err error) string {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Op
	}
	return ""
}

// Convenience constructors for common error types

// NotFound creates a not found error.
func NotFound(op, resource, id string) *Error {
	return &Error{
		Code:    ENOTFOUND,
		Op:      op,
		Message: fmt.Sprintf("%s with ID %q not found", resource, id),
	}
}

// Invalid creates a validation error.
func Invalid(op, message string) *Error {
	return &Error{
		Code:    EINVALID,
		Op:      op,
		Message: message,
	}
}

// Unauthorized creates an authentication error.
func Unauthorized(op, message string) *Error {
	return &Error{
		Code:    EUNAUTHORIZED,
		Op:      op,
		Message: message,
	}
}

// Conflict creates a conflict error.
func Conflict(op, message string) *Error {
	return &Error{
		Code:    ECONFLICT,
		Op:      op,
		Message: message,
	}
}

// Internal creates an internal error, wrapping the underlying error.
func Internal(err error, op, message string) *Error {
	return &Error{
		Code:    EINTERNAL,
		Op:      op,
		Message: message,
		Err:     err,
	}
}

// QuotaExceeded signals that a gated action ran out of allowance. It is a
// policy outcome surfaced at the HTTP boundary, not a fault: clients map it
// to a paywall or upgrade prompt, never to an error banner.
func QuotaExceeded(op, action string) *Error {
	return &Error{
		Code:    EQUOTA,
		Op:      op,
		Message: fmt.Sprintf("no %s allowance remaining", action),
	}
}

// RateLimit creates an anonymous rate limit error.
func RateLimit(op string) *Error {
	return &Error{
		Code:    ERATELIMIT,
		Op:      op,
		Message: "Daily limit reached. Sign up to keep going.",
	}
}

// PaymentPending indicates a checkout completed but its ledger application
// has not landed yet.
func PaymentPending(op, paymentID string) *Error {
	return &Error{
		Code:    EPAYMENTPENDING,
		Op:      op,
		Message: fmt.Sprintf("payment %q is not applied yet", paymentID),
	}
}

// ConfigMissing marks a feature whose backing service is not configured in
// this environment. The feature degrades to unavailable; it must never be
// confused with quota exhaustion.
func ConfigMissing(op, feature string) *Error {
	return &Error{
		Code:    ECONFIG,
		Op:      op,
		Message: fmt.Sprintf("%s is not configured in this environment", feature),
	}
}

// Unavailable wraps a transport or upstream failure that is safe to retry.
func Unavailable(err error, op, message string) *Error {
	return &Error{
		Code:    EUNAVAILABLE,
		Op:      op,
		Message: message,
		Err:     err,
	}
}
