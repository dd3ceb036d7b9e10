package service

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"wallet-ledger/internal/core/domain"
	"wallet-ledger/internal/core/ports"
	"wallet-ledger/pkg/apperror"

	"github.com/google/uuid"
)

// WalletServiceImpl implements ports.WalletService. Reads go straight to the
// coordinator; mutations run inside the idempotency guard.
type WalletServiceImpl struct {
	ledger ports.LedgerCoordinator
	guard  *IdempotencyGuard
}

// NewWalletService creates a new WalletServiceImpl.
func NewWalletService(ledger ports.LedgerCoordinator, guard *IdempotencyGuard) *WalletServiceImpl {
	return &WalletServiceImpl{ledger: ledger, guard: guard}
}

func (s *WalletServiceImpl) GetBalance(ctx context.Context, userID uuid.UUID) (*ports.BalanceView, error) {
	return s.ledger.GetBalance(ctx, userID)
}

// GetHistory returns the caller's own wallet history.
func (s *WalletServiceImpl) GetHistory(ctx context.Context, userID uuid.UUID) ([]domain.Event, error) {
	view, err := s.ledger.GetBalance(ctx, userID)
	if err != nil {
		return nil, err
	}
	return s.ledger.GetHistory(ctx, view.WalletID)
}

func (s *WalletServiceImpl) ProvisionWallet(ctx context.Context, userID uuid.UUID) (*domain.Wallet, error) {
	return s.ledger.ProvisionWallet(ctx, userID)
}

func (s *WalletServiceImpl) Deposit(ctx context.Context, userID uuid.UUID, key string, amount int64) (*ports.CommandOutcome, error) {
	return s.guard.Execute(ctx, userID, key, func(ctx context.Context) (int, []byte, error) {
		res, err := s.ledger.Deposit(ctx, userID, amount)
		return created(res, err)
	})
}

func (s *WalletServiceImpl) Withdraw(ctx context.Context, userID uuid.UUID, key string, amount int64) (*ports.CommandOutcome, error) {
	return s.guard.Execute(ctx, userID, key, func(ctx context.Context) (int, []byte, error) {
		res, err := s.ledger.Withdraw(ctx, userID, amount)
		return created(res, err)
	})
}

func (s *WalletServiceImpl) Transfer(ctx context.Context, payerUserID uuid.UUID, key string, payeeUserID uuid.UUID, amount int64) (*ports.CommandOutcome, error) {
	return s.guard.Execute(ctx, payerUserID, key, func(ctx context.Context) (int, []byte, error) {
		res, err := s.ledger.Transfer(ctx, payerUserID, payeeUserID, amount)
		return created(res, err)
	})
}

// created encodes a successful command result as a 201 response body.
func created[T any](result T, err error) (int, []byte, error) {
	if err != nil {
		return 0, nil, err
	}
	payload, err := json.Marshal(result)
	if err != nil {
		return 0, nil, apperror.InternalError(fmt.Errorf("marshal response: %w", err))
	}
	return http.StatusCreated, payload, nil
}
