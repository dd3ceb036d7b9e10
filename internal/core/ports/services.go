package ports

//go:generate mockgen -source=services.go -destination=mocks/services_mock.go -package=mocks

import (
	"context"
	"time"

	"wallet-ledger/internal/core/domain"

	"github.com/google/uuid"
)

// TokenService handles JWT token operations.
type TokenService interface {
	Generate(userID uuid.UUID) (string, time.Time, error)
	Validate(tokenString string) (*TokenClaims, error)
}

// TokenClaims holds the parsed JWT claims.
type TokenClaims struct {
	UserID uuid.UUID
}

// IdempotencyCache is the expiring cache that serves idempotent replays.
type IdempotencyCache interface {
	Get(ctx context.Context, key string) ([]byte, error) // Returns cached record JSON or nil
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	// SetNX stores value only if key is absent and reports whether it did.
	SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error)
	Delete(ctx context.Context, key string) error
}

// Notifier hands transfer notifications to an asynchronous delivery queue.
// It only enqueues; delivery and retries happen elsewhere.
type Notifier interface {
	NotifyTransferReceived(ctx context.Context, n domain.TransferNotification) error
}

// EventPublisher streams committed ledger events to downstream consumers.
type EventPublisher interface {
	Publish(ctx context.Context, events []domain.StoredEvent) error
}

// --- Service Ports (Business Logic) ---

// BalanceResult is returned by deposits and withdrawals.
type BalanceResult struct {
	WalletID   uuid.UUID `json:"wallet_id"`
	NewBalance int64     `json:"new_balance"`
}

// TransferResult is returned by transfers.
type TransferResult struct {
	TransferID      uuid.UUID `json:"transfer_id"`
	PayerWalletID   uuid.UUID `json:"payer_wallet_id"`
	PayerNewBalance int64     `json:"payer_new_balance"`
	PayeeUserID     uuid.UUID `json:"payee_user_id"`
}

// BalanceView is the read model of a wallet balance.
type BalanceView struct {
	WalletID uuid.UUID `json:"wallet_id"`
	UserID   uuid.UUID `json:"user_id"`
	Balance  int64     `json:"balance"`
	Currency string    `json:"currency"`
}

// CommandOutcome is the stored or fresh response of a mutating command.
type CommandOutcome struct {
	Status   int
	Payload  []byte
	Replayed bool
}

// LedgerCoordinator executes ledger commands atomically under row locks.
type LedgerCoordinator interface {
	Deposit(ctx context.Context, userID uuid.UUID, amount int64) (*BalanceResult, error)
	Withdraw(ctx context.Context, userID uuid.UUID, amount int64) (*BalanceResult, error)
	Transfer(ctx context.Context, payerUserID, payeeUserID uuid.UUID, amount int64) (*TransferResult, error)
	GetBalance(ctx context.Context, userID uuid.UUID) (*BalanceView, error)
	GetHistory(ctx context.Context, walletID uuid.UUID) ([]domain.Event, error)
	ProvisionWallet(ctx context.Context, userID uuid.UUID) (*domain.Wallet, error)
	RebuildProjection(ctx context.Context, walletID uuid.UUID) (*domain.Wallet, error)
}

// WalletService is the caller-facing API. Every mutating operation requires
// an idempotency key.
type WalletService interface {
	GetBalance(ctx context.Context, userID uuid.UUID) (*BalanceView, error)
	GetHistory(ctx context.Context, userID uuid.UUID) ([]domain.Event, error)
	ProvisionWallet(ctx context.Context, userID uuid.UUID) (*domain.Wallet, error)
	Deposit(ctx context.Context, userID uuid.UUID, key string, amount int64) (*CommandOutcome, error)
	Withdraw(ctx context.Context, userID uuid.UUID, key string, amount int64) (*CommandOutcome, error)
	Transfer(ctx context.Context, payerUserID uuid.UUID, key string, payeeUserID uuid.UUID, amount int64) (*CommandOutcome, error)
}

type attemptKey struct{}

// WithDeliveryAttempt tags ctx with the 1-based delivery attempt number.
func WithDeliveryAttempt(ctx context.Context, attempt int) context.Context {
	return context.WithValue(ctx, attemptKey{}, attempt)
}

// DeliveryAttempt returns the attempt number carried by ctx, or 1.
func DeliveryAttempt(ctx context.Context) int {
	if n, ok := ctx.Value(attemptKey{}).(int); ok && n > 0 {
		return n
	}
	return 1
}

// WebhookService configures and delivers payee webhooks.
type WebhookService interface {
	Configure(ctx context.Context, userID uuid.UUID, url *string) error
	Deliver(ctx context.Context, n domain.TransferNotification) error
}
