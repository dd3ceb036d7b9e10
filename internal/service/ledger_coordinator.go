package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"wallet-ledger/internal/core/domain"
	"wallet-ledger/internal/core/ports"
	"wallet-ledger/internal/observability"
	"wallet-ledger/pkg/apperror"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const postCommitTimeout = 5 * time.Second

// Command names used in logs and metrics.
const (
	CommandDeposit  = "deposit"
	CommandWithdraw = "withdraw"
	CommandTransfer = "transfer"
)

// LedgerCoordinator implements ports.LedgerCoordinator. Row locks held by the
// store are the only serialization between concurrent commands.
type LedgerCoordinator struct {
	transactor ports.DBTransactor
	events     ports.EventStore
	wallets    ports.WalletRepository
	users      ports.UserRepository
	notifier   ports.Notifier
	publisher  ports.EventPublisher
	policy     domain.LimitPolicy
	currency   string
	metrics    *observability.Metrics
	log        zerolog.Logger
	now        func() time.Time
}

// LedgerDeps groups the storage ports of the coordinator.
type LedgerDeps struct {
	Transactor ports.DBTransactor
	Events     ports.EventStore
	Wallets    ports.WalletRepository
	Users      ports.UserRepository
}

// NewLedgerCoordinator creates a LedgerCoordinator. notifier, publisher and
// metrics may be nil.
func NewLedgerCoordinator(
	deps LedgerDeps,
	notifier ports.Notifier,
	publisher ports.EventPublisher,
	policy domain.LimitPolicy,
	currency string,
	metrics *observability.Metrics,
	log zerolog.Logger,
) *LedgerCoordinator {
	return &LedgerCoordinator{
		transactor: deps.Transactor,
		events:     deps.Events,
		wallets:    deps.Wallets,
		users:      deps.Users,
		notifier:   notifier,
		publisher:  publisher,
		policy:     policy,
		currency:   currency,
		metrics:    metrics,
		log:        log,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// Deposit credits the caller's wallet.
func (c *LedgerCoordinator) Deposit(ctx context.Context, userID uuid.UUID, amount int64) (res *ports.BalanceResult, err error) {
	defer c.observe(CommandDeposit, time.Now(), amount, &err)
	if amount <= 0 {
		return nil, apperror.ErrInvalidAmount()
	}
	return c.applySingle(ctx, userID, amount, c.policy.DailyDeposit, c.policy.DepositKinds(),
		func(w *domain.WalletAggregate, at time.Time) (domain.Event, error) {
			return w.Deposit(amount, at)
		})
}

// Withdraw debits the caller's wallet.
func (c *LedgerCoordinator) Withdraw(ctx context.Context, userID uuid.UUID, amount int64) (res *ports.BalanceResult, err error) {
	defer c.observe(CommandWithdraw, time.Now(), amount, &err)
	if amount <= 0 {
		return nil, apperror.ErrInvalidAmount()
	}
	return c.applySingle(ctx, userID, amount, c.policy.DailyWithdrawal, c.policy.WithdrawalKinds(),
		func(w *domain.WalletAggregate, at time.Time) (domain.Event, error) {
			return w.Withdraw(amount, at)
		})
}

// applySingle runs a one-wallet command: lock, limit check, replay, append,
// overwrite projection, commit.
func (c *LedgerCoordinator) applySingle(
	ctx context.Context,
	userID uuid.UUID,
	amount, limit int64,
	kinds []domain.EventKind,
	apply func(*domain.WalletAggregate, time.Time) (domain.Event, error),
) (*ports.BalanceResult, error) {
	dbTx, err := c.transactor.Begin(ctx)
	if err != nil {
		return nil, storageError("begin tx", err)
	}
	defer dbTx.Rollback(ctx) //nolint:errcheck

	wallet, err := c.wallets.GetByUserIDForUpdate(ctx, dbTx, userID)
	if err != nil {
		return nil, storageError("lock wallet", err)
	}
	if wallet == nil {
		return nil, apperror.ErrWalletNotFound()
	}

	now := c.now()
	used, err := c.events.DailyVolume(ctx, dbTx, wallet.ID, kinds, c.policy.Day(now))
	if err != nil {
		return nil, storageError("daily volume", err)
	}
	if err := domain.CheckLimit(used, amount, limit); err != nil {
		return nil, err
	}

	agg, err := c.replay(ctx, dbTx, wallet.ID)
	if err != nil {
		return nil, err
	}
	event, err := apply(agg, now)
	if err != nil {
		return nil, err
	}

	stored, err := c.appendEvents(ctx, dbTx, event)
	if err != nil {
		return nil, err
	}
	if err := c.wallets.OverwriteBalance(ctx, dbTx, wallet.ID, agg.Balance()); err != nil {
		return nil, storageError("overwrite balance", err)
	}
	if err := dbTx.Commit(ctx); err != nil {
		return nil, storageError("commit tx", err)
	}

	c.log.Info().
		Str("wallet_id", wallet.ID.String()).
		Str("kind", string(event.Kind())).
		Int64("amount", amount).
		Int64("balance", agg.Balance()).
		Msg("ledger command committed")

	c.publish(ctx, stored)
	return &ports.BalanceResult{WalletID: wallet.ID, NewBalance: agg.Balance()}, nil
}

// Transfer moves amount from the payer's wallet to the payee's. Both rows are
// locked in sorted id order, so opposing transfers cannot deadlock.
func (c *LedgerCoordinator) Transfer(ctx context.Context, payerUserID, payeeUserID uuid.UUID, amount int64) (res *ports.TransferResult, err error) {
	defer c.observe(CommandTransfer, time.Now(), amount, &err)
	if amount <= 0 {
		return nil, apperror.ErrInvalidAmount()
	}
	if payerUserID == payeeUserID {
		return nil, apperror.ErrSelfTransfer()
	}

	dbTx, err := c.transactor.Begin(ctx)
	if err != nil {
		return nil, storageError("begin tx", err)
	}
	defer dbTx.Rollback(ctx) //nolint:errcheck

	payer, err := c.wallets.GetByUserID(ctx, dbTx, payerUserID)
	if err != nil {
		return nil, storageError("resolve payer wallet", err)
	}
	payee, err := c.wallets.GetByUserID(ctx, dbTx, payeeUserID)
	if err != nil {
		return nil, storageError("resolve payee wallet", err)
	}
	if payer == nil || payee == nil {
		return nil, apperror.ErrWalletNotFound()
	}

	locked, err := c.wallets.LockByIDs(ctx, dbTx, domain.SortWalletIDs(payer.ID, payee.ID))
	if err != nil {
		return nil, storageError("lock wallets", err)
	}
	if len(locked) != 2 {
		return nil, apperror.ErrWalletNotFound()
	}

	now := c.now()
	if c.policy.TransfersCountTowardWithdrawal {
		used, err := c.events.DailyVolume(ctx, dbTx, payer.ID, c.policy.WithdrawalKinds(), c.policy.Day(now))
		if err != nil {
			return nil, storageError("daily volume", err)
		}
		if err := domain.CheckLimit(used, amount, c.policy.DailyWithdrawal); err != nil {
			return nil, err
		}
	}

	payerAgg, err := c.replay(ctx, dbTx, payer.ID)
	if err != nil {
		return nil, err
	}
	payeeAgg, err := c.replay(ctx, dbTx, payee.ID)
	if err != nil {
		return nil, err
	}

	if err := payeeAgg.CheckCredit(amount); err != nil {
		return nil, err
	}
	sent, err := payerAgg.SendTransfer(payee.ID, amount, now)
	if err != nil {
		return nil, err
	}
	received := payeeAgg.ReceiveTransfer(payer.ID, amount, now)

	stored, err := c.appendEvents(ctx, dbTx, sent, received)
	if err != nil {
		return nil, err
	}
	if err := c.wallets.OverwriteBalance(ctx, dbTx, payer.ID, payerAgg.Balance()); err != nil {
		return nil, storageError("overwrite payer balance", err)
	}
	if err := c.wallets.OverwriteBalance(ctx, dbTx, payee.ID, payeeAgg.Balance()); err != nil {
		return nil, storageError("overwrite payee balance", err)
	}
	if err := dbTx.Commit(ctx); err != nil {
		return nil, storageError("commit tx", err)
	}

	transferID := stored[0].ID
	c.log.Info().
		Str("transfer_id", transferID.String()).
		Str("payer_wallet_id", payer.ID.String()).
		Str("payee_wallet_id", payee.ID.String()).
		Int64("amount", amount).
		Msg("transfer committed")

	c.notify(ctx, domain.TransferNotification{
		TransferID:  transferID,
		PayerUserID: payerUserID,
		PayeeUserID: payeeUserID,
		Amount:      amount,
		OccurredAt:  now,
	})
	c.publish(ctx, stored)

	return &ports.TransferResult{
		TransferID:      transferID,
		PayerWalletID:   payer.ID,
		PayerNewBalance: payerAgg.Balance(),
		PayeeUserID:     payeeUserID,
	}, nil
}

// GetBalance reads the projection without replaying events.
func (c *LedgerCoordinator) GetBalance(ctx context.Context, userID uuid.UUID) (*ports.BalanceView, error) {
	wallet, err := c.wallets.GetByUserID(ctx, nil, userID)
	if err != nil {
		return nil, storageError("get wallet", err)
	}
	if wallet == nil {
		return nil, apperror.ErrWalletNotFound()
	}
	return &ports.BalanceView{
		WalletID: wallet.ID,
		UserID:   wallet.UserID,
		Balance:  wallet.Balance,
		Currency: c.currency,
	}, nil
}

// GetHistory returns the committed events of a wallet, oldest first.
func (c *LedgerCoordinator) GetHistory(ctx context.Context, walletID uuid.UUID) ([]domain.Event, error) {
	wallet, err := c.wallets.GetByID(ctx, walletID)
	if err != nil {
		return nil, storageError("get wallet", err)
	}
	if wallet == nil {
		return nil, apperror.ErrWalletNotFound()
	}
	history, err := c.events.History(ctx, nil, walletID)
	if err != nil {
		return nil, storageError("load history", err)
	}
	return history, nil
}

// ProvisionWallet returns the user's wallet, creating an empty one on first
// call. Concurrent first calls converge on the same wallet.
func (c *LedgerCoordinator) ProvisionWallet(ctx context.Context, userID uuid.UUID) (*domain.Wallet, error) {
	if err := c.users.Ensure(ctx, userID); err != nil {
		return nil, storageError("ensure user", err)
	}
	existing, err := c.wallets.GetByUserID(ctx, nil, userID)
	if err != nil {
		return nil, storageError("get wallet", err)
	}
	if existing != nil {
		return existing, nil
	}

	wallet := domain.NewWallet(userID, c.now())
	err = c.wallets.Create(ctx, wallet)
	if errors.Is(err, ports.ErrWalletExists) {
		existing, err = c.wallets.GetByUserID(ctx, nil, userID)
		if err != nil {
			return nil, storageError("get wallet", err)
		}
		return existing, nil
	}
	if err != nil {
		return nil, storageError("create wallet", err)
	}

	c.log.Info().
		Str("wallet_id", wallet.ID.String()).
		Str("user_id", userID.String()).
		Msg("wallet provisioned")
	return wallet, nil
}

// RebuildProjection replays a wallet under lock and overwrites its stored
// balance with the derived one.
func (c *LedgerCoordinator) RebuildProjection(ctx context.Context, walletID uuid.UUID) (*domain.Wallet, error) {
	dbTx, err := c.transactor.Begin(ctx)
	if err != nil {
		return nil, storageError("begin tx", err)
	}
	defer dbTx.Rollback(ctx) //nolint:errcheck

	locked, err := c.wallets.LockByIDs(ctx, dbTx, []uuid.UUID{walletID})
	if err != nil {
		return nil, storageError("lock wallet", err)
	}
	if len(locked) == 0 {
		return nil, apperror.ErrWalletNotFound()
	}
	wallet := locked[0]

	agg, err := c.replay(ctx, dbTx, walletID)
	if err != nil {
		return nil, err
	}
	if err := c.wallets.OverwriteBalance(ctx, dbTx, walletID, agg.Balance()); err != nil {
		return nil, storageError("overwrite balance", err)
	}
	if err := dbTx.Commit(ctx); err != nil {
		return nil, storageError("commit tx", err)
	}

	if wallet.Balance != agg.Balance() {
		c.log.Warn().
			Str("wallet_id", walletID.String()).
			Int64("stored", wallet.Balance).
			Int64("derived", agg.Balance()).
			Msg("projection drift corrected")
	}
	wallet.Balance = agg.Balance()
	wallet.Version++
	wallet.UpdatedAt = c.now()
	return &wallet, nil
}

func (c *LedgerCoordinator) replay(ctx context.Context, tx ports.Tx, walletID uuid.UUID) (*domain.WalletAggregate, error) {
	history, err := c.events.History(ctx, tx, walletID)
	if err != nil {
		return nil, storageError("load history", err)
	}
	return domain.RetrieveWallet(walletID, history), nil
}

func (c *LedgerCoordinator) appendEvents(ctx context.Context, tx ports.Tx, events ...domain.Event) ([]domain.StoredEvent, error) {
	stored := make([]domain.StoredEvent, 0, len(events))
	for _, e := range events {
		id, err := c.events.Append(ctx, tx, e)
		if err != nil {
			return nil, storageError("append "+string(e.Kind()), err)
		}
		s, err := domain.EncodeEvent(e)
		if err != nil {
			return nil, apperror.InternalError(err)
		}
		s.ID = id
		stored = append(stored, s)
	}
	return stored, nil
}

// afterCommit detaches follow-up work from the caller's context. The command
// is already durable when it runs, so a disconnecting client must not cancel it.
func afterCommit(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), postCommitTimeout)
}

func (c *LedgerCoordinator) notify(ctx context.Context, n domain.TransferNotification) {
	if c.notifier == nil {
		return
	}
	ctx, cancel := afterCommit(ctx)
	defer cancel()
	err := c.notifier.NotifyTransferReceived(ctx, n)
	c.metrics.NotificationEnqueued(err)
	if err != nil {
		c.log.Error().Err(err).
			Str("transfer_id", n.TransferID.String()).
			Msg("failed to enqueue transfer notification")
	}
}

func (c *LedgerCoordinator) publish(ctx context.Context, stored []domain.StoredEvent) {
	if c.publisher == nil {
		return
	}
	ctx, cancel := afterCommit(ctx)
	defer cancel()
	err := c.publisher.Publish(ctx, stored)
	c.metrics.Published(len(stored), err)
	if err != nil {
		c.log.Error().Err(err).Int("events", len(stored)).Msg("failed to publish committed events")
	}
}

func (c *LedgerCoordinator) observe(command string, started time.Time, amount int64, errp *error) {
	err := *errp
	c.metrics.ObserveCommand(command, started, amount, err)
	if err != nil && apperror.IsDomain(err) {
		c.log.Warn().Err(err).Str("command", command).Int64("amount", amount).Msg("ledger command rejected")
	} else if err != nil {
		c.log.Error().Err(err).Str("command", command).Msg("ledger command failed")
	}
}

// storageError maps an adapter error onto the ledger's error taxonomy.
// AppErrors raised by the store (corrupt event data) pass through.
func storageError(op string, err error) error {
	var appErr *apperror.AppError
	if errors.As(err, &appErr) {
		return err
	}
	if errors.Is(err, ports.ErrLockTimeout) {
		return apperror.ErrLockTimeout(fmt.Errorf("%s: %w", op, err))
	}
	return apperror.ErrPersistenceFailure(fmt.Errorf("%s: %w", op, err))
}
