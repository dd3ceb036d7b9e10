package memory

import (
	"context"
	"errors"
	"fmt"

	"wallet-ledger/internal/core/domain"
	"wallet-ledger/internal/core/ports"

	"github.com/google/uuid"
)

var errLockNeedsTx = errors.New("memory: row lock requires a transaction")

// WalletRepo implements ports.WalletRepository.
type WalletRepo struct {
	s *Store
}

// Create inserts a wallet. The owning user must exist.
func (r *WalletRepo) Create(ctx context.Context, w *domain.Wallet) error {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.users[w.UserID]; !ok {
		return fmt.Errorf("insert wallet: user %s not found", w.UserID)
	}
	if _, ok := s.byUser[w.UserID]; ok {
		return ports.ErrWalletExists
	}
	if _, ok := s.wallets[w.ID]; ok {
		return fmt.Errorf("insert wallet: duplicate id %s", w.ID)
	}
	s.wallets[w.ID] = *w
	s.byUser[w.UserID] = w.ID
	return nil
}

// GetByID fetches a wallet by id, or nil when absent.
func (r *WalletRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Wallet, error) {
	return r.read(nil, id), nil
}

// GetByUserID fetches a user's wallet without locking.
func (r *WalletRepo) GetByUserID(ctx context.Context, tx ports.Tx, userID uuid.UUID) (*domain.Wallet, error) {
	mtx, err := asTx(tx)
	if err != nil {
		return nil, err
	}
	id, ok := r.walletOf(userID)
	if !ok {
		return nil, nil
	}
	return r.read(mtx, id), nil
}

// GetByUserIDForUpdate locks and fetches a user's wallet.
func (r *WalletRepo) GetByUserIDForUpdate(ctx context.Context, tx ports.Tx, userID uuid.UUID) (*domain.Wallet, error) {
	mtx, err := asTx(tx)
	if err != nil {
		return nil, err
	}
	if mtx == nil {
		return nil, errLockNeedsTx
	}
	id, ok := r.walletOf(userID)
	if !ok {
		return nil, nil
	}
	if err := mtx.lock(ctx, id); err != nil {
		return nil, err
	}
	return r.read(mtx, id), nil
}

// LockByIDs locks the listed wallets one by one, in exactly the order given.
// Unknown ids are skipped.
func (r *WalletRepo) LockByIDs(ctx context.Context, tx ports.Tx, ids []uuid.UUID) ([]domain.Wallet, error) {
	mtx, err := asTx(tx)
	if err != nil {
		return nil, err
	}
	if mtx == nil {
		return nil, errLockNeedsTx
	}

	var wallets []domain.Wallet
	for _, id := range ids {
		if r.read(nil, id) == nil {
			continue
		}
		if err := mtx.lock(ctx, id); err != nil {
			return nil, err
		}
		wallets = append(wallets, *r.read(mtx, id))
	}
	return wallets, nil
}

// OverwriteBalance stages the new balance, or applies it directly without a tx.
func (r *WalletRepo) OverwriteBalance(ctx context.Context, tx ports.Tx, walletID uuid.UUID, balance int64) error {
	mtx, err := asTx(tx)
	if err != nil {
		return err
	}

	s := r.s
	s.mu.Lock()
	w, ok := s.wallets[walletID]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("wallet not found: %s", walletID)
	}
	if mtx == nil {
		defer s.mu.Unlock()
		if balance < 0 {
			return fmt.Errorf("wallet %s: balance would become negative", walletID)
		}
		w.Balance = balance
		w.Version++
		w.UpdatedAt = s.stamp()
		s.wallets[walletID] = w
		return nil
	}
	s.mu.Unlock()

	mtx.mu.Lock()
	mtx.balances[walletID] = balance
	mtx.mu.Unlock()
	return nil
}

func (r *WalletRepo) walletOf(userID uuid.UUID) (uuid.UUID, bool) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	id, ok := r.s.byUser[userID]
	return id, ok
}

// read returns a copy of the wallet as seen by mtx, or nil.
func (r *WalletRepo) read(mtx *Tx, id uuid.UUID) *domain.Wallet {
	r.s.mu.Lock()
	w, ok := r.s.wallets[id]
	r.s.mu.Unlock()
	if !ok {
		return nil
	}
	if mtx != nil {
		mtx.mu.Lock()
		if bal, staged := mtx.balances[id]; staged {
			w.Balance = bal
		}
		mtx.mu.Unlock()
	}
	return &w
}
