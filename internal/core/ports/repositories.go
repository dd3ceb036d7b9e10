package ports

//go:generate mockgen -source=repositories.go -destination=mocks/repositories_mock.go -package=mocks

import (
	"context"
	"errors"
	"time"

	"wallet-ledger/internal/core/domain"

	"github.com/google/uuid"
)

// ErrLockTimeout is wrapped by storage adapters when a row lock could not be
// acquired within the configured wait.
var ErrLockTimeout = errors.New("lock wait timeout")

// ErrWalletExists is returned by WalletRepository.Create when the user
// already owns a wallet.
var ErrWalletExists = errors.New("wallet already exists for user")

// Tx is a storage transaction. Adapters hand out their own implementation and
// accept only that implementation back.
type Tx interface {
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// DBTransactor provides storage transaction management.
type DBTransactor interface {
	Begin(ctx context.Context) (Tx, error)
}

// EventStore is the append-only ledger log. A nil tx reads committed state
// outside any transaction.
type EventStore interface {
	// Append persists one event and returns its assigned id.
	Append(ctx context.Context, tx Tx, event domain.Event) (uuid.UUID, error)
	// History returns every event of the wallet ordered by (occurred_at, seq).
	History(ctx context.Context, tx Tx, walletID uuid.UUID) ([]domain.Event, error)
	// DailyVolume sums amounts of the given kinds within the calendar day
	// containing day, in day's location.
	DailyVolume(ctx context.Context, tx Tx, walletID uuid.UUID, kinds []domain.EventKind, day time.Time) (int64, error)
}

// WalletRepository persists the balance projection.
// Methods suffixed ForUpdate and LockByIDs take row locks and need a tx.
type WalletRepository interface {
	Create(ctx context.Context, wallet *domain.Wallet) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Wallet, error)
	GetByUserID(ctx context.Context, tx Tx, userID uuid.UUID) (*domain.Wallet, error)
	GetByUserIDForUpdate(ctx context.Context, tx Tx, userID uuid.UUID) (*domain.Wallet, error)
	// LockByIDs locks the rows in the order given. Callers pass sorted ids.
	LockByIDs(ctx context.Context, tx Tx, ids []uuid.UUID) ([]domain.Wallet, error)
	OverwriteBalance(ctx context.Context, tx Tx, walletID uuid.UUID, balance int64) error
}

// UserRepository persists the ledger's view of a user.
type UserRepository interface {
	Ensure(ctx context.Context, userID uuid.UUID) error
	GetByID(ctx context.Context, userID uuid.UUID) (*domain.User, error)
	SetWebhookURL(ctx context.Context, userID uuid.UUID, url *string) error
}

// IdempotencyRepository is the durable audit of idempotent responses.
type IdempotencyRepository interface {
	// Claim stores a pending record unless a live record already holds the
	// key. It reports whether the caller won the key.
	Claim(ctx context.Context, record *domain.IdempotencyRecord) (bool, error)
	// Release drops a pending record so a failed command can be retried.
	Release(ctx context.Context, userID uuid.UUID, key string) error
	Create(ctx context.Context, record *domain.IdempotencyRecord) error
	Get(ctx context.Context, userID uuid.UUID, key string) (*domain.IdempotencyRecord, error)
	PurgeExpired(ctx context.Context, before time.Time) (int64, error)
}

// WebhookDeliveryRepository records webhook delivery attempts.
type WebhookDeliveryRepository interface {
	Create(ctx context.Context, delivery *domain.WebhookDelivery) error
}
