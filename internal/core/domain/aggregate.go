package domain

import (
	"math"
	"time"

	"wallet-ledger/pkg/apperror"

	"github.com/google/uuid"
)

// WalletAggregate is the replayed, in-memory state of one wallet. It lives for
// a single command and is never persisted.
type WalletAggregate struct {
	id      uuid.UUID
	balance int64
}

// RetrieveWallet folds the wallet history, oldest first, into an aggregate.
func RetrieveWallet(id uuid.UUID, history []Event) *WalletAggregate {
	a := &WalletAggregate{id: id}
	for _, e := range history {
		e.accept(a)
	}
	return a
}

// ID returns the wallet id.
func (a *WalletAggregate) ID() uuid.UUID { return a.id }

// Balance returns the balance derived from replayed and newly recorded events.
func (a *WalletAggregate) Balance() int64 { return a.balance }

// CheckCredit reports whether amount can be added to the balance without
// overflowing it.
func (a *WalletAggregate) CheckCredit(amount int64) error {
	if amount <= 0 || amount > math.MaxInt64-a.balance {
		return apperror.ErrInvalidAmount()
	}
	return nil
}

// Deposit records funds entering the wallet.
func (a *WalletAggregate) Deposit(amount int64, at time.Time) (FundsDeposited, error) {
	if err := a.CheckCredit(amount); err != nil {
		return FundsDeposited{}, err
	}
	e := FundsDeposited{WalletID: a.id, Amount: amount, OccurredAt: at}
	e.accept(a)
	return e, nil
}

// Withdraw records funds leaving the wallet.
func (a *WalletAggregate) Withdraw(amount int64, at time.Time) (FundsWithdrawn, error) {
	if err := a.checkDebit(amount); err != nil {
		return FundsWithdrawn{}, err
	}
	e := FundsWithdrawn{WalletID: a.id, Amount: amount, OccurredAt: at}
	e.accept(a)
	return e, nil
}

// SendTransfer records the payer side of a transfer to target.
func (a *WalletAggregate) SendTransfer(target uuid.UUID, amount int64, at time.Time) (TransferSent, error) {
	if err := a.checkDebit(amount); err != nil {
		return TransferSent{}, err
	}
	e := TransferSent{WalletID: a.id, TargetWalletID: target, Amount: amount, OccurredAt: at}
	e.accept(a)
	return e, nil
}

// ReceiveTransfer records the payee side of a transfer from source. Callers
// validate the amount with SendTransfer and CheckCredit first.
func (a *WalletAggregate) ReceiveTransfer(source uuid.UUID, amount int64, at time.Time) TransferReceived {
	e := TransferReceived{WalletID: a.id, SourceWalletID: source, Amount: amount, OccurredAt: at}
	e.accept(a)
	return e
}

func (a *WalletAggregate) checkDebit(amount int64) error {
	if amount <= 0 {
		return apperror.ErrInvalidAmount()
	}
	if amount > a.balance {
		return apperror.ErrInsufficientFunds()
	}
	return nil
}

func (a *WalletAggregate) visitFundsDeposited(e FundsDeposited)     { a.balance += e.Amount }
func (a *WalletAggregate) visitFundsWithdrawn(e FundsWithdrawn)     { a.balance -= e.Amount }
func (a *WalletAggregate) visitTransferSent(e TransferSent)         { a.balance -= e.Amount }
func (a *WalletAggregate) visitTransferReceived(e TransferReceived) { a.balance += e.Amount }
