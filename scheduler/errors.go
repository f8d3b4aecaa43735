package scheduler

import (
	"errors"
	"fmt"
)

// ErrorCode identifies a scheduling failure class.
type ErrorCode string

const (
	CodeNoAvailableAccounts         ErrorCode = "NO_AVAILABLE_ACCOUNTS"
	CodeDedicatedAccountUnavailable ErrorCode = "DEDICATED_ACCOUNT_UNAVAILABLE"
	CodeGroupNotFound               ErrorCode = "GROUP_NOT_FOUND"
	CodePlatformMismatch            ErrorCode = "PLATFORM_MISMATCH"
	CodeModelNotSupported           ErrorCode = "MODEL_NOT_SUPPORTED"
	CodeStoreUnavailable            ErrorCode = "STORE_UNAVAILABLE"
	CodeInvalidRequest              ErrorCode = "INVALID_REQUEST"
)

// Error is a structured scheduling error with code, message, and metadata.
type Error struct {
	Code      ErrorCode `json:"code"`
	Message   string    `json:"message"`
	AccountID string    `json:"account_id,omitempty"`
	Platform  Platform  `json:"platform,omitempty"`
	Cause     error     `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches errors by code, so errors.Is works against the sentinel values
// below regardless of message or metadata.
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return e.Code == t.Code
	}
	return false
}

// NewError creates a new Error with the given code and message.
func NewError(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message}
}

// WithCause adds a cause to the error.
func (e *Error) WithCause(cause error) *Error {
	e.Cause = cause
	return e
}

// WithAccount sets the account the error refers to.
func (e *Error) WithAccount(accountID string) *Error {
	e.AccountID = accountID
	return e
}

// WithPlatform sets the platform the error refers to.
func (e *Error) WithPlatform(p Platform) *Error {
	e.Platform = p
	return e
}

// Sentinel values for errors.Is matching. Returned errors are always fresh
// instances carrying context; matching goes through Error.Is by code.
var (
	ErrNoAvailableAccounts         = NewError(CodeNoAvailableAccounts, "no available accounts")
	ErrDedicatedAccountUnavailable = NewError(CodeDedicatedAccountUnavailable, "dedicated account unavailable")
	ErrGroupNotFound               = NewError(CodeGroupNotFound, "group not found")
	ErrPlatformMismatch            = NewError(CodePlatformMismatch, "platform mismatch")
	ErrModelNotSupported           = NewError(CodeModelNotSupported, "model not supported")
	ErrStoreUnavailable            = NewError(CodeStoreUnavailable, "store unavailable")
	ErrInvalidRequest              = NewError(CodeInvalidRequest, "invalid request")
)

// GetErrorCode extracts the error code from an error, or "" when the error
// is not a scheduler Error.
func GetErrorCode(err error) ErrorCode {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// noAvailableAccounts builds the pool-exhausted error. The message states
// whether model filtering caused the empty set to aid caller diagnostics.
func noAvailableAccounts(platform Platform, model string, filteredByModel int) *Error {
	msg := fmt.Sprintf("no schedulable accounts for platform %s", platform)
	if filteredByModel > 0 {
		msg = fmt.Sprintf("no accounts support model %q on platform %s (%d excluded by model filter)",
			model, platform, filteredByModel)
	}
	return NewError(CodeNoAvailableAccounts, msg).WithPlatform(platform)
}

// storeUnavailable wraps an underlying store failure.
func storeUnavailable(op string, cause error) *Error {
	return NewError(CodeStoreUnavailable, fmt.Sprintf("store operation %s failed", op)).WithCause(cause)
}
