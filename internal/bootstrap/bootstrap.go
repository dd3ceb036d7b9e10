// Package bootstrap assembles the ledger from configuration. It is shared by
// the api, worker and ledgerctl binaries.
package bootstrap

import (
	"context"
	"fmt"
	_ "time/tzdata" // limits.timezone must resolve in minimal images

	"wallet-ledger/config"
	"wallet-ledger/internal/adapter/storage/memory"
	pgStorage "wallet-ledger/internal/adapter/storage/postgres"
	"wallet-ledger/internal/core/domain"
	"wallet-ledger/internal/core/ports"
	"wallet-ledger/internal/observability"
	"wallet-ledger/internal/service"

	"github.com/rs/zerolog"
)

// Storage bundles the persistence ports of one backend.
type Storage struct {
	Transactor   ports.DBTransactor
	Events       ports.EventStore
	Wallets      ports.WalletRepository
	Users        ports.UserRepository
	Idempotency  ports.IdempotencyRepository
	Deliveries   ports.WebhookDeliveryRepository
	HealthChecks []ports.HealthChecker
	Driver       string

	close func()
}

// Close releases the backend's connections.
func (s *Storage) Close() {
	if s.close != nil {
		s.close()
	}
}

// LedgerDeps returns the ports the coordinator writes through.
func (s *Storage) LedgerDeps() service.LedgerDeps {
	return service.LedgerDeps{
		Transactor: s.Transactor,
		Events:     s.Events,
		Wallets:    s.Wallets,
		Users:      s.Users,
	}
}

// OpenStorage connects the backend selected by ledger.storage.
func OpenStorage(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*Storage, error) {
	switch cfg.Ledger.Storage {
	case config.StorageMemory:
		log.Warn().Msg("using in-memory storage; ledger state is lost on exit")
		return NewMemoryStorage(memory.NewStore(cfg.Database.LockTimeout)), nil
	case config.StoragePostgres:
		pool, err := pgStorage.NewPool(ctx, cfg.Database, log)
		if err != nil {
			return nil, err
		}
		return &Storage{
			Transactor:   pgStorage.NewTransactor(pool, cfg.Database.LockTimeout),
			Events:       pgStorage.NewEventStore(pool),
			Wallets:      pgStorage.NewWalletRepo(pool),
			Users:        pgStorage.NewUserRepo(pool),
			Idempotency:  pgStorage.NewIdempotencyRepo(pool),
			Deliveries:   pgStorage.NewWebhookDeliveryRepo(pool),
			HealthChecks: []ports.HealthChecker{pgStorage.NewHealthCheck(pool)},
			Driver:       config.StoragePostgres,
			close:        pool.Close,
		}, nil
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Ledger.Storage)
	}
}

// NewMemoryStorage wraps an in-process store.
func NewMemoryStorage(store *memory.Store) *Storage {
	return &Storage{
		Transactor:  store.Transactor(),
		Events:      store.Events(),
		Wallets:     store.Wallets(),
		Users:       store.Users(),
		Idempotency: store.Idempotency(),
		Deliveries:  store.Deliveries(),
		Driver:      config.StorageMemory,
	}
}

// LimitPolicy maps the limits section onto the domain policy.
func LimitPolicy(cfg config.LimitsConfig) (domain.LimitPolicy, error) {
	loc, err := cfg.Location()
	if err != nil {
		return domain.LimitPolicy{}, fmt.Errorf("limits.timezone: %w", err)
	}
	return domain.LimitPolicy{
		DailyDeposit:                   cfg.DailyDeposit,
		DailyWithdrawal:                cfg.DailyWithdrawal,
		TransfersCountTowardWithdrawal: cfg.TransfersCountTowardWithdrawal,
		Location:                       loc,
	}, nil
}

// NewLedger builds the transaction coordinator over st. notifier, publisher
// and metrics may be nil.
func NewLedger(
	cfg *config.Config,
	st *Storage,
	notifier ports.Notifier,
	publisher ports.EventPublisher,
	metrics *observability.Metrics,
	log zerolog.Logger,
) (*service.LedgerCoordinator, error) {
	policy, err := LimitPolicy(cfg.Limits)
	if err != nil {
		return nil, err
	}
	return service.NewLedgerCoordinator(st.LedgerDeps(), notifier, publisher, policy, cfg.Ledger.Currency, metrics, log), nil
}
