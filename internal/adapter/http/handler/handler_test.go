package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"wallet-ledger/internal/adapter/http/middleware"
	"wallet-ledger/internal/core/domain"
	"wallet-ledger/internal/core/ports"
	"wallet-ledger/internal/core/ports/mocks"
	"wallet-ledger/pkg/apperror"
	"wallet-ledger/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type envelope struct {
	Data      json.RawMessage `json:"data"`
	ErrorCode string          `json:"error_code"`
	Message   string          `json:"message"`
}

func decode(t *testing.T, w *httptest.ResponseRecorder) envelope {
	t.Helper()
	var env envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	return env
}

// newContext builds a test context authenticated as userID (uuid.Nil = anonymous).
func newContext(method, path string, body any, userID uuid.UUID) (*gin.Context, *httptest.ResponseRecorder) {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(method, path, &buf)
	c.Request.Header.Set("Content-Type", "application/json")
	if userID != uuid.Nil {
		c.Set(middleware.CtxUserID, userID)
	}
	return c, w
}

// --- Provision ---

func TestProvision_Success(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	svc := mocks.NewMockWalletService(ctrl)
	h := NewWalletHandler(svc)

	userID, walletID := uuid.New(), uuid.New()
	created := time.Date(2026, 3, 14, 15, 9, 26, 0, time.UTC)
	svc.EXPECT().ProvisionWallet(gomock.Any(), userID).Return(&domain.Wallet{
		ID: walletID, UserID: userID, CreatedAt: created,
	}, nil)

	c, w := newContext(http.MethodPost, "/api/v1/wallets", nil, userID)
	h.Provision(c)

	assert.Equal(t, http.StatusCreated, w.Code)
	var data map[string]any
	require.NoError(t, json.Unmarshal(decode(t, w).Data, &data))
	assert.Equal(t, walletID.String(), data["wallet_id"])
	assert.Equal(t, float64(0), data["balance"])
	assert.Equal(t, "2026-03-14T15:09:26Z", data["created_at"])
}

func TestProvision_Unauthenticated(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	h := NewWalletHandler(mocks.NewMockWalletService(ctrl))
	c, w := newContext(http.MethodPost, "/api/v1/wallets", nil, uuid.Nil)
	h.Provision(c)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

// --- Reads ---

func TestGetBalance_Success(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	svc := mocks.NewMockWalletService(ctrl)
	h := NewWalletHandler(svc)

	userID, walletID := uuid.New(), uuid.New()
	svc.EXPECT().GetBalance(gomock.Any(), userID).Return(&ports.BalanceView{
		WalletID: walletID, UserID: userID, Balance: 4200, Currency: "BRL_CENTS",
	}, nil)

	c, w := newContext(http.MethodGet, "/api/v1/wallets/balance", nil, userID)
	h.GetBalance(c)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t,
		`{"wallet_id":"`+walletID.String()+`","balance":4200,"currency":"BRL_CENTS"}`,
		string(decode(t, w).Data))
}

func TestGetBalance_NoWallet(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	svc := mocks.NewMockWalletService(ctrl)
	h := NewWalletHandler(svc)

	userID := uuid.New()
	svc.EXPECT().GetBalance(gomock.Any(), userID).Return(nil, apperror.ErrWalletNotFound())

	c, w := newContext(http.MethodGet, "/api/v1/wallets/balance", nil, userID)
	h.GetBalance(c)

	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "PAY_004", decode(t, w).ErrorCode)
}

func TestGetHistory_Formatted(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	svc := mocks.NewMockWalletService(ctrl)
	h := NewWalletHandler(svc)

	userID, walletID, other := uuid.New(), uuid.New(), uuid.New()
	at := time.Date(2026, 3, 14, 15, 9, 26, 0, time.UTC)
	svc.EXPECT().GetHistory(gomock.Any(), userID).Return([]domain.Event{
		domain.FundsDeposited{WalletID: walletID, Amount: 1000, OccurredAt: at},
		domain.TransferSent{WalletID: walletID, TargetWalletID: other, Amount: 250, OccurredAt: at},
	}, nil)

	c, w := newContext(http.MethodGet, "/api/v1/wallets/transactions", nil, userID)
	h.GetHistory(c)

	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `[
		{"type":"FundsDeposited","amount":1000,"date":"2026-03-14 15:09:26","details":{}},
		{"type":"TransferSent","amount":250,"date":"2026-03-14 15:09:26","details":{"to":"`+other.String()+`"}}
	]`, string(decode(t, w).Data))
}

func TestGetHistory_ServiceError(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	svc := mocks.NewMockWalletService(ctrl)
	h := NewWalletHandler(svc)

	userID := uuid.New()
	svc.EXPECT().GetHistory(gomock.Any(), userID).Return(nil, apperror.ErrUnknownEventKind("FundsFrozen", "evt-1"))

	c, w := newContext(http.MethodGet, "/api/v1/wallets/transactions", nil, userID)
	h.GetHistory(c)

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, "SYS_004", decode(t, w).ErrorCode)
}

// --- Commands ---

func TestDeposit_Success(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	svc := mocks.NewMockWalletService(ctrl)
	h := NewWalletHandler(svc)

	userID := uuid.New()
	payload := []byte(`{"wallet_id":"w","new_balance":1000}`)
	svc.EXPECT().Deposit(gomock.Any(), userID, "dep-1", int64(1000)).
		Return(&ports.CommandOutcome{Status: http.StatusCreated, Payload: payload}, nil)

	c, w := newContext(http.MethodPost, "/api/v1/wallets/deposit", map[string]any{"amount": 1000}, userID)
	c.Request.Header.Set("Idempotency-Key", "dep-1")
	h.Deposit(c)

	assert.Equal(t, http.StatusCreated, w.Code)
	assert.Empty(t, w.Header().Get(response.ReplayedHeader))
	assert.JSONEq(t, string(payload), string(decode(t, w).Data))
}

func TestDeposit_ReplayedHeader(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	svc := mocks.NewMockWalletService(ctrl)
	h := NewWalletHandler(svc)

	userID := uuid.New()
	svc.EXPECT().Deposit(gomock.Any(), userID, "dep-1", int64(1000)).
		Return(&ports.CommandOutcome{Status: http.StatusCreated, Payload: []byte(`{}`), Replayed: true}, nil)

	c, w := newContext(http.MethodPost, "/api/v1/wallets/deposit", map[string]any{"amount": 1000}, userID)
	c.Request.Header.Set("Idempotency-Key", "dep-1")
	h.Deposit(c)

	assert.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, "true", w.Header().Get(response.ReplayedHeader))
}

func TestDeposit_InvalidAmount(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	h := NewWalletHandler(mocks.NewMockWalletService(ctrl))

	for _, body := range []any{
		map[string]any{"amount": 0},
		map[string]any{"amount": -5},
		map[string]any{},
		map[string]any{"amount": "100"},
	} {
		c, w := newContext(http.MethodPost, "/api/v1/wallets/deposit", body, uuid.New())
		c.Request.Header.Set("Idempotency-Key", "dep-1")
		h.Deposit(c)

		assert.Equal(t, http.StatusBadRequest, w.Code, "%v", body)
		assert.Equal(t, "PAY_002", decode(t, w).ErrorCode)
	}
}

func TestDeposit_MissingKeyReachesGuard(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	svc := mocks.NewMockWalletService(ctrl)
	h := NewWalletHandler(svc)

	userID := uuid.New()
	svc.EXPECT().Deposit(gomock.Any(), userID, "", int64(10)).Return(nil, apperror.ErrIdempotencyKeyRequired())

	c, w := newContext(http.MethodPost, "/api/v1/wallets/deposit", map[string]any{"amount": 10}, userID)
	h.Deposit(c)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "IDEM_001", decode(t, w).ErrorCode)
}

func TestDeposit_MalformedKey(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	h := NewWalletHandler(mocks.NewMockWalletService(ctrl))

	c, w := newContext(http.MethodPost, "/api/v1/wallets/deposit", map[string]any{"amount": 10}, uuid.New())
	c.Request.Header.Set("Idempotency-Key", "has spaces; and more")
	h.Deposit(c)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "REQ_001", decode(t, w).ErrorCode)
}

func TestWithdraw_InsufficientFunds(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	svc := mocks.NewMockWalletService(ctrl)
	h := NewWalletHandler(svc)

	userID := uuid.New()
	svc.EXPECT().Withdraw(gomock.Any(), userID, "wd-1", int64(500)).Return(nil, apperror.ErrInsufficientFunds())

	c, w := newContext(http.MethodPost, "/api/v1/wallets/withdraw", map[string]any{"amount": 500}, userID)
	c.Request.Header.Set("Idempotency-Key", "wd-1")
	h.Withdraw(c)

	assert.Equal(t, http.StatusPaymentRequired, w.Code)
	assert.Equal(t, "PAY_001", decode(t, w).ErrorCode)
}

func TestWithdraw_InProgress(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	svc := mocks.NewMockWalletService(ctrl)
	h := NewWalletHandler(svc)

	svc.EXPECT().Withdraw(gomock.Any(), gomock.Any(), "wd-1", int64(500)).Return(nil, apperror.ErrIdempotencyInProgress())

	c, w := newContext(http.MethodPost, "/api/v1/wallets/withdraw", map[string]any{"amount": 500}, uuid.New())
	c.Request.Header.Set("Idempotency-Key", "wd-1")
	h.Withdraw(c)

	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestTransfer_Success(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	svc := mocks.NewMockWalletService(ctrl)
	h := NewWalletHandler(svc)

	payer, payee := uuid.New(), uuid.New()
	svc.EXPECT().Transfer(gomock.Any(), payer, "tx-1", payee, int64(300)).
		Return(&ports.CommandOutcome{Status: http.StatusCreated, Payload: []byte(`{"transfer_id":"t"}`)}, nil)

	c, w := newContext(http.MethodPost, "/api/v1/wallets/transfer",
		map[string]any{"payee_user_id": payee.String(), "amount": 300}, payer)
	c.Request.Header.Set("Idempotency-Key", "tx-1")
	h.Transfer(c)

	assert.Equal(t, http.StatusCreated, w.Code)
}

func TestTransfer_InvalidPayee(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	h := NewWalletHandler(mocks.NewMockWalletService(ctrl))

	c, w := newContext(http.MethodPost, "/api/v1/wallets/transfer",
		map[string]any{"payee_user_id": "bob@example.com", "amount": 300}, uuid.New())
	c.Request.Header.Set("Idempotency-Key", "tx-1")
	h.Transfer(c)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "REQ_001", decode(t, w).ErrorCode)
}

func TestTransfer_DomainErrors(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"self", apperror.ErrSelfTransfer(), http.StatusUnprocessableEntity, "PAY_008"},
		{"payee missing", apperror.ErrWalletNotFound(), http.StatusNotFound, "PAY_004"},
		{"limit", apperror.ErrLimitExceeded(), http.StatusUnprocessableEntity, "PAY_005"},
		{"lock", apperror.ErrLockTimeout(nil), http.StatusServiceUnavailable, "SYS_002"},
		{"foreign", errors.New("boom"), http.StatusInternalServerError, "SYS_000"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctrl := gomock.NewController(t)
			defer ctrl.Finish()

			svc := mocks.NewMockWalletService(ctrl)
			h := NewWalletHandler(svc)
			svc.EXPECT().Transfer(gomock.Any(), gomock.Any(), "tx-1", gomock.Any(), int64(300)).Return(nil, tt.err)

			c, w := newContext(http.MethodPost, "/api/v1/wallets/transfer",
				map[string]any{"payee_user_id": uuid.NewString(), "amount": 300}, uuid.New())
			c.Request.Header.Set("Idempotency-Key", "tx-1")
			h.Transfer(c)

			assert.Equal(t, tt.status, w.Code)
			assert.Equal(t, tt.code, decode(t, w).ErrorCode)
		})
	}
}

// --- Webhook ---

func TestWebhookUpdate_Set(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	svc := mocks.NewMockWebhookService(ctrl)
	h := NewWebhookHandler(svc)

	userID := uuid.New()
	url := "https://hooks.example.com/wallet?team=a&b=c"
	svc.EXPECT().Configure(gomock.Any(), userID, gomock.Any()).DoAndReturn(
		func(_ context.Context, _ uuid.UUID, got *string) error {
			require.NotNil(t, got)
			assert.Equal(t, url, *got)
			return nil
		})

	c, w := newContext(http.MethodPut, "/api/v1/users/me/webhook", map[string]any{"webhook_url": url}, userID)
	h.Update(c)

	assert.Equal(t, http.StatusOK, w.Code)
}

func TestWebhookUpdate_ClearWithNullOrEmpty(t *testing.T) {
	for _, body := range []map[string]any{{"webhook_url": nil}, {"webhook_url": ""}, {}} {
		ctrl := gomock.NewController(t)
		svc := mocks.NewMockWebhookService(ctrl)
		h := NewWebhookHandler(svc)

		userID := uuid.New()
		svc.EXPECT().Configure(gomock.Any(), userID, (*string)(nil)).Return(nil)

		c, w := newContext(http.MethodPut, "/api/v1/users/me/webhook", body, userID)
		h.Update(c)

		assert.Equal(t, http.StatusOK, w.Code, "%v", body)
		ctrl.Finish()
	}
}

func TestWebhookUpdate_InvalidURL(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	h := NewWebhookHandler(mocks.NewMockWebhookService(ctrl))

	c, w := newContext(http.MethodPut, "/api/v1/users/me/webhook",
		map[string]any{"webhook_url": "ftp://example.com/drop"}, uuid.New())
	h.Update(c)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "REQ_001", decode(t, w).ErrorCode)
}

// --- Health ---

type fakeChecker struct {
	name string
	err  error
}

func (f fakeChecker) Ping(context.Context) error { return f.err }
func (f fakeChecker) Name() string               { return f.name }

func TestHealthCheck(t *testing.T) {
	c, w := newContext(http.MethodGet, "/health", nil, uuid.Nil)
	HealthCheck(fakeChecker{name: "postgresql"}, fakeChecker{name: "redis"})(c)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"healthy"`)

	c, w = newContext(http.MethodGet, "/health", nil, uuid.Nil)
	HealthCheck(fakeChecker{name: "postgresql"}, fakeChecker{name: "redis", err: errors.New("connection refused")})(c)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	var body struct {
		Status       string               `json:"status"`
		Dependencies map[string]depStatus `json:"dependencies"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "degraded", body.Status)
	assert.Equal(t, "healthy", body.Dependencies["postgresql"].Status)
	assert.Equal(t, "connection refused", body.Dependencies["redis"].Error)
}
