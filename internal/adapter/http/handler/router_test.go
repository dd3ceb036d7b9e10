package handler_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"wallet-ledger/internal/adapter/http/handler"
	"wallet-ledger/internal/adapter/storage/memory"
	redisStore "wallet-ledger/internal/adapter/storage/redis"
	"wallet-ledger/internal/core/domain"
	"wallet-ledger/internal/core/ports"
	"wallet-ledger/internal/observability"
	"wallet-ledger/internal/service"
	"wallet-ledger/pkg/response"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type apiFixture struct {
	t      *testing.T
	router http.Handler
	tokens *service.JWTTokenService
	guard  *service.IdempotencyGuard
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	log := zerolog.Nop()
	reg := prometheus.NewRegistry()
	metrics := observability.NewMetrics(reg)
	store := memory.NewStore(2 * time.Second)

	ledger := service.NewLedgerCoordinator(
		service.LedgerDeps{
			Transactor: store.Transactor(),
			Events:     store.Events(),
			Wallets:    store.Wallets(),
			Users:      store.Users(),
		},
		nil, nil,
		domain.LimitPolicy{DailyDeposit: 1_000_000, DailyWithdrawal: 200_000},
		"BRL_CENTS", metrics, log,
	)
	guard := service.NewIdempotencyGuard(redisStore.NewIdempotencyCache(client), store.Idempotency(),
		24*time.Hour, 30*time.Second, metrics, log)
	tokens := service.NewJWTTokenService("router-test-secret-at-least-32-bytes", time.Hour, "wallet-ledger")

	router := handler.SetupRouter(handler.RouterDeps{
		WalletSvc:      service.NewWalletService(ledger, guard),
		WebhookSvc:     service.NewWebhookService(store.Users(), store.Deliveries(), http.DefaultClient, time.Second, metrics, log),
		TokenSvc:       tokens,
		RateLimitStore: redisStore.NewRateLimitStore(client),
		HealthCheckers: []ports.HealthChecker{redisStore.NewHealthCheck(client)},
		MetricsHandler: promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
		Mode:           "test",
		Logger:         log,
	})
	t.Cleanup(guard.Drain)
	return &apiFixture{t: t, router: router, tokens: tokens, guard: guard}
}

func (f *apiFixture) token(userID uuid.UUID) string {
	tok, _, err := f.tokens.Generate(userID)
	require.NoError(f.t, err)
	return tok
}

func (f *apiFixture) do(method, path, token, key string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		require.NoError(f.t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if key != "" {
		req.Header.Set("Idempotency-Key", key)
	}
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func data(t *testing.T, w *httptest.ResponseRecorder, out any) {
	t.Helper()
	var env struct {
		Data json.RawMessage `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	require.NoError(t, json.Unmarshal(env.Data, out))
}

func TestAPI_RequiresToken(t *testing.T) {
	f := newAPIFixture(t)

	w := f.do(http.MethodGet, "/api/v1/wallets/balance", "", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = f.do(http.MethodGet, "/api/v1/wallets/balance", "not-a-jwt", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestAPI_EndToEnd(t *testing.T) {
	f := newAPIFixture(t)
	alice, bob := uuid.New(), uuid.New()
	aliceTok, bobTok := f.token(alice), f.token(bob)

	require.Equal(t, http.StatusCreated, f.do(http.MethodPost, "/api/v1/wallets", aliceTok, "", nil).Code)
	require.Equal(t, http.StatusCreated, f.do(http.MethodPost, "/api/v1/wallets", bobTok, "", nil).Code)

	// Deposit, then replay the same key.
	first := f.do(http.MethodPost, "/api/v1/wallets/deposit", aliceTok, "dep-1", map[string]any{"amount": 1000})
	require.Equal(t, http.StatusCreated, first.Code)
	replay := f.do(http.MethodPost, "/api/v1/wallets/deposit", aliceTok, "dep-1", map[string]any{"amount": 1000})
	require.Equal(t, http.StatusCreated, replay.Code)
	assert.Equal(t, "true", replay.Header().Get(response.ReplayedHeader))

	var dep struct {
		NewBalance int64 `json:"new_balance"`
	}
	data(t, replay, &dep)
	assert.Equal(t, int64(1000), dep.NewBalance)

	// Missing key is rejected before any state change.
	w := f.do(http.MethodPost, "/api/v1/wallets/withdraw", aliceTok, "", map[string]any{"amount": 1})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "IDEM_001")

	// Transfer to bob.
	w = f.do(http.MethodPost, "/api/v1/wallets/transfer", aliceTok, "tx-1",
		map[string]any{"payee_user_id": bob.String(), "amount": 300})
	require.Equal(t, http.StatusCreated, w.Code)

	// Overdraw is rejected and can be retried with the same key.
	w = f.do(http.MethodPost, "/api/v1/wallets/withdraw", aliceTok, "wd-1", map[string]any{"amount": 5000})
	assert.Equal(t, http.StatusPaymentRequired, w.Code)

	var aliceBal, bobBal struct {
		Balance  int64  `json:"balance"`
		Currency string `json:"currency"`
	}
	w = f.do(http.MethodGet, "/api/v1/wallets/balance", aliceTok, "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	data(t, w, &aliceBal)
	w = f.do(http.MethodGet, "/api/v1/wallets/balance", bobTok, "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	data(t, w, &bobBal)
	assert.Equal(t, int64(700), aliceBal.Balance)
	assert.Equal(t, int64(300), bobBal.Balance)
	assert.Equal(t, "BRL_CENTS", aliceBal.Currency)

	var history []struct {
		Type    string            `json:"type"`
		Amount  int64             `json:"amount"`
		Details map[string]string `json:"details"`
	}
	w = f.do(http.MethodGet, "/api/v1/wallets/transactions", bobTok, "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	data(t, w, &history)
	require.Len(t, history, 1)
	assert.Equal(t, "TransferReceived", history[0].Type)
	assert.Equal(t, int64(300), history[0].Amount)
	assert.NotEmpty(t, history[0].Details["from"])
}

func TestAPI_WebhookConfig(t *testing.T) {
	f := newAPIFixture(t)
	tok := f.token(uuid.New())

	w := f.do(http.MethodPut, "/api/v1/users/me/webhook", tok, "", map[string]any{"webhook_url": "https://hooks.example.com/w"})
	assert.Equal(t, http.StatusOK, w.Code)

	w = f.do(http.MethodPut, "/api/v1/users/me/webhook", tok, "", map[string]any{"webhook_url": "javascript:alert(1)"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAPI_HealthAndMetrics(t *testing.T) {
	f := newAPIFixture(t)
	tok := f.token(uuid.New())
	f.do(http.MethodPost, "/api/v1/wallets", tok, "", nil)
	f.do(http.MethodPost, "/api/v1/wallets/deposit", tok, "m-1", map[string]any{"amount": 10})

	w := f.do(http.MethodGet, "/health", "", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = f.do(http.MethodGet, "/metrics", "", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "wallet_ledger_commands_total")
}
