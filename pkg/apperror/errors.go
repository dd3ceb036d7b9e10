package apperror

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// AppError is a structured error that maps to HTTP responses.
type AppError struct {
	Code       string `json:"error_code"`
	Message    string `json:"message"`
	HTTPStatus int    `json:"-"`
	Err        error  `json:"-"` // Wrapped internal error (not exposed to client)
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// New creates a new AppError.
func New(code string, message string, httpStatus int) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: httpStatus,
	}
}

// Wrap wraps an internal error with an AppError.
func Wrap(code string, message string, httpStatus int, err error) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: httpStatus,
		Err:        err,
	}
}

const (
	CodeInsufficientFunds     = "PAY_001"
	CodeInvalidAmount         = "PAY_002"
	CodeWalletNotFound        = "PAY_004"
	CodeLimitExceeded         = "PAY_005"
	CodeSelfTransfer          = "PAY_008"
	CodeIdempotencyKeyMissing = "IDEM_001"
	CodeIdempotencyInProgress = "IDEM_002"
	CodeValidation            = "REQ_001"
	CodeInvalidToken          = "AUTH_003"
	CodeRateLimitExceeded     = "RATE_001"
	CodePersistenceFailure    = "SYS_001"
	CodeLockTimeout           = "SYS_002"
	CodeIdempotencyDown       = "SYS_003"
	CodeUnknownEventKind      = "SYS_004"
)

// ---- Ledger Business Logic (PAY) ----

func ErrInsufficientFunds() *AppError {
	return New(CodeInsufficientFunds, "Insufficient balance in wallet", http.StatusPaymentRequired)
}

func ErrInvalidAmount() *AppError {
	return New(CodeInvalidAmount, "Invalid amount", http.StatusBadRequest)
}

func ErrNotFound(entity string) *AppError {
	return New(CodeWalletNotFound, fmt.Sprintf("%s not found", entity), http.StatusNotFound)
}

// ErrWalletNotFound is returned when a user has no provisioned wallet.
func ErrWalletNotFound() *AppError {
	return ErrNotFound("wallet")
}

func ErrLimitExceeded() *AppError {
	return New(CodeLimitExceeded, "Daily limit exceeded", http.StatusUnprocessableEntity)
}

func ErrSelfTransfer() *AppError {
	return New(CodeSelfTransfer, "Cannot transfer to yourself", http.StatusUnprocessableEntity)
}

// ---- Idempotency (IDEM) ----

func ErrIdempotencyKeyRequired() *AppError {
	return New(CodeIdempotencyKeyMissing, "Idempotency-Key header is required", http.StatusBadRequest)
}

func ErrIdempotencyInProgress() *AppError {
	return New(CodeIdempotencyInProgress, "A request with this idempotency key is still being processed", http.StatusConflict)
}

// ErrIdempotencyUnavailable is returned when no idempotency store can claim
// the key, so the command cannot be run safely.
func ErrIdempotencyUnavailable(err error) *AppError {
	return Wrap(CodeIdempotencyDown, "Idempotency store unavailable", http.StatusServiceUnavailable, err)
}

// ---- Authentication (AUTH) ----

func ErrInvalidToken() *AppError {
	return New(CodeInvalidToken, "Invalid or expired token", http.StatusUnauthorized)
}

// ---- Rate Limiting (RATE) ----

func ErrRateLimitExceeded() *AppError {
	return New(CodeRateLimitExceeded, "Rate limit exceeded", http.StatusTooManyRequests)
}

// ---- System & Infrastructure (SYS) ----

func ErrPersistenceFailure(err error) *AppError {
	return Wrap(CodePersistenceFailure, "Internal database error", http.StatusInternalServerError, err)
}

func ErrLockTimeout(err error) *AppError {
	return Wrap(CodeLockTimeout, "Lock acquisition timeout", http.StatusServiceUnavailable, err)
}

// ErrUnknownEventKind reports a stored event that matches no known variant.
func ErrUnknownEventKind(kind, eventID string) *AppError {
	return Wrap(CodeUnknownEventKind, "Event stream corrupted", http.StatusInternalServerError,
		fmt.Errorf("unknown event kind %q on event %s", kind, eventID))
}

// ErrEventDecode reports a known event kind whose payload cannot be decoded.
func ErrEventDecode(kind, eventID string, err error) *AppError {
	return Wrap(CodeUnknownEventKind, "Event stream corrupted", http.StatusInternalServerError,
		fmt.Errorf("decode %s event %s: %w", kind, eventID, err))
}

// InternalError wraps an internal error as a SYS_001 error.
func InternalError(err error) *AppError {
	return Wrap(CodePersistenceFailure, "Internal server error", http.StatusInternalServerError, err)
}

// Validation reports a malformed request field other than the amount.
func Validation(message string) *AppError {
	return New(CodeValidation, message, http.StatusBadRequest)
}

// IsRetryable reports whether err is a transient infrastructure failure the
// caller may retry unchanged.
func IsRetryable(err error) bool {
	var appErr *AppError
	if !errors.As(err, &appErr) {
		return false
	}
	switch appErr.Code {
	case CodePersistenceFailure, CodeLockTimeout, CodeIdempotencyDown, CodeIdempotencyInProgress, CodeRateLimitExceeded:
		return true
	}
	return false
}

// IsDomain reports whether err is an expected business-rule rejection.
func IsDomain(err error) bool {
	var appErr *AppError
	if !errors.As(err, &appErr) {
		return false
	}
	return strings.HasPrefix(appErr.Code, "PAY_")
}
