package apperror

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAppError_Error(t *testing.T) {
	tests := []struct {
		name     string
		appErr   *AppError
		expected string
	}{
		{
			name:     "without wrapped error",
			appErr:   New("PAY_001", "Insufficient funds", http.StatusPaymentRequired),
			expected: "[PAY_001] Insufficient funds",
		},
		{
			name:     "with wrapped error",
			appErr:   Wrap("SYS_001", "DB error", http.StatusInternalServerError, fmt.Errorf("connection refused")),
			expected: "[SYS_001] DB error: connection refused",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.appErr.Error())
		})
	}
}

func TestAppError_Unwrap(t *testing.T) {
	inner := fmt.Errorf("inner error")
	appErr := Wrap("SYS_001", "wrapped", http.StatusInternalServerError, inner)

	assert.True(t, errors.Is(appErr, inner))
}

func TestAppError_IsNilUnwrap(t *testing.T) {
	appErr := New("PAY_001", "test", http.StatusBadRequest)
	assert.Nil(t, appErr.Unwrap())
}

func TestLedgerErrors(t *testing.T) {
	tests := []struct {
		name       string
		err        *AppError
		code       string
		httpStatus int
	}{
		{"InsufficientFunds", ErrInsufficientFunds(), "PAY_001", 402},
		{"InvalidAmount", ErrInvalidAmount(), "PAY_002", 400},
		{"WalletNotFound", ErrWalletNotFound(), "PAY_004", 404},
		{"LimitExceeded", ErrLimitExceeded(), "PAY_005", 422},
		{"SelfTransfer", ErrSelfTransfer(), "PAY_008", 422},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.code, tt.err.Code)
			assert.Equal(t, tt.httpStatus, tt.err.HTTPStatus)
			assert.True(t, IsDomain(tt.err))
			assert.False(t, IsRetryable(tt.err))
		})
	}
}

func TestIdempotencyErrors(t *testing.T) {
	missing := ErrIdempotencyKeyRequired()
	assert.Equal(t, "IDEM_001", missing.Code)
	assert.Equal(t, 400, missing.HTTPStatus)
	assert.False(t, IsRetryable(missing))

	busy := ErrIdempotencyInProgress()
	assert.Equal(t, "IDEM_002", busy.Code)
	assert.Equal(t, 409, busy.HTTPStatus)
	assert.True(t, IsRetryable(busy))

	down := ErrIdempotencyUnavailable(fmt.Errorf("redis: connection refused"))
	assert.Equal(t, "SYS_003", down.Code)
	assert.Equal(t, 503, down.HTTPStatus)
	assert.True(t, IsRetryable(down))
	assert.False(t, IsDomain(down))
}

func TestValidationError(t *testing.T) {
	err := Validation("payee_user_id must be a UUID")
	assert.Equal(t, "REQ_001", err.Code)
	assert.Equal(t, 400, err.HTTPStatus)
	assert.NotEqual(t, ErrInvalidAmount().Code, err.Code)
	assert.False(t, IsDomain(err))
	assert.False(t, IsRetryable(err))
}

func TestSystemErrors(t *testing.T) {
	inner := fmt.Errorf("pg: connection closed")
	dbErr := ErrPersistenceFailure(inner)
	assert.Equal(t, "SYS_001", dbErr.Code)
	assert.Equal(t, 500, dbErr.HTTPStatus)
	assert.True(t, errors.Is(dbErr, inner))
	assert.True(t, IsRetryable(dbErr))
	assert.False(t, IsDomain(dbErr))

	lockErr := ErrLockTimeout(inner)
	assert.Equal(t, "SYS_002", lockErr.Code)
	assert.Equal(t, 503, lockErr.HTTPStatus)
	assert.True(t, IsRetryable(lockErr))

	kindErr := ErrUnknownEventKind("FundsFrozen", "evt-1")
	assert.Equal(t, "SYS_004", kindErr.Code)
	assert.Equal(t, 500, kindErr.HTTPStatus)
	assert.Contains(t, kindErr.Error(), "FundsFrozen")
	assert.False(t, IsRetryable(kindErr))

	decodeErr := ErrEventDecode("FundsDeposited", "evt-2", inner)
	assert.Equal(t, "SYS_004", decodeErr.Code)
	assert.True(t, errors.Is(decodeErr, inner))
}

func TestClassification_WrappedAndForeign(t *testing.T) {
	wrapped := fmt.Errorf("lock wallet: %w", ErrLockTimeout(nil))
	assert.True(t, IsRetryable(wrapped))

	foreign := errors.New("plain")
	assert.False(t, IsRetryable(foreign))
	assert.False(t, IsDomain(foreign))
}

func TestRateLimitError(t *testing.T) {
	err := ErrRateLimitExceeded()
	assert.Equal(t, "RATE_001", err.Code)
	assert.Equal(t, 429, err.HTTPStatus)
}

func TestNotFoundEntity(t *testing.T) {
	err := ErrNotFound("User")
	assert.Contains(t, err.Message, "User")
	assert.Equal(t, "PAY_004", err.Code)
}
