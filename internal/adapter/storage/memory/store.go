// Package memory is an in-process implementation of the storage ports. It
// honours the same transaction and row-lock contract as the postgres adapter
// and backs the memory storage driver and concurrency tests.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"wallet-ledger/internal/core/domain"
	"wallet-ledger/internal/core/ports"

	"github.com/google/uuid"
)

var (
	_ ports.DBTransactor              = (*Transactor)(nil)
	_ ports.EventStore                = (*EventStore)(nil)
	_ ports.WalletRepository          = (*WalletRepo)(nil)
	_ ports.UserRepository            = (*UserRepo)(nil)
	_ ports.IdempotencyRepository     = (*IdempotencyRepo)(nil)
	_ ports.WebhookDeliveryRepository = (*WebhookDeliveryRepo)(nil)
)

// ErrTxClosed is returned when a finished transaction is used again.
var ErrTxClosed = errors.New("memory: transaction already closed")

// Store holds all tables. Row locks are per-wallet semaphores held until the
// owning transaction ends.
type Store struct {
	mu         sync.Mutex
	users      map[uuid.UUID]domain.User
	wallets    map[uuid.UUID]domain.Wallet
	byUser     map[uuid.UUID]uuid.UUID
	events     []domain.StoredEvent
	seq        int64
	idem       map[string]domain.IdempotencyRecord
	deliveries []domain.WebhookDelivery
	locks      map[uuid.UUID]chan struct{}
	lockWait   time.Duration
	failCommit error
	now        func() time.Time
}

// NewStore creates an empty store. lockWait bounds every row lock wait; zero
// means wait until the context ends.
func NewStore(lockWait time.Duration) *Store {
	return &Store{
		users:    make(map[uuid.UUID]domain.User),
		wallets:  make(map[uuid.UUID]domain.Wallet),
		byUser:   make(map[uuid.UUID]uuid.UUID),
		idem:     make(map[string]domain.IdempotencyRecord),
		locks:    make(map[uuid.UUID]chan struct{}),
		lockWait: lockWait,
		now:      time.Now,
	}
}

// FailNextCommit makes the next Commit discard its writes and return err.
func (s *Store) FailNextCommit(err error) {
	s.mu.Lock()
	s.failCommit = err
	s.mu.Unlock()
}

// Transactor returns the ports.DBTransactor view of the store.
func (s *Store) Transactor() *Transactor { return &Transactor{s: s} }

// Events returns the ports.EventStore view of the store.
func (s *Store) Events() *EventStore { return &EventStore{s: s} }

// Wallets returns the ports.WalletRepository view of the store.
func (s *Store) Wallets() *WalletRepo { return &WalletRepo{s: s} }

// Users returns the ports.UserRepository view of the store.
func (s *Store) Users() *UserRepo { return &UserRepo{s: s} }

// Idempotency returns the ports.IdempotencyRepository view of the store.
func (s *Store) Idempotency() *IdempotencyRepo { return &IdempotencyRepo{s: s} }

// Deliveries returns the ports.WebhookDeliveryRepository view of the store.
func (s *Store) Deliveries() *WebhookDeliveryRepo { return &WebhookDeliveryRepo{s: s} }

func (s *Store) stamp() time.Time { return s.now().UTC() }

func (s *Store) lockFor(id uuid.UUID) chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch, ok := s.locks[id]
	if !ok {
		ch = make(chan struct{}, 1)
		s.locks[id] = ch
	}
	return ch
}

// Transactor implements ports.DBTransactor.
type Transactor struct {
	s *Store
}

// Begin starts a transaction.
func (t *Transactor) Begin(ctx context.Context) (ports.Tx, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &Tx{
		s:        t.s,
		held:     make(map[uuid.UUID]bool),
		balances: make(map[uuid.UUID]int64),
	}, nil
}

// Tx stages writes until Commit and holds row locks until it ends.
type Tx struct {
	s        *Store
	mu       sync.Mutex
	held     map[uuid.UUID]bool
	order    []uuid.UUID
	events   []domain.StoredEvent
	balances map[uuid.UUID]int64
	done     bool
}

// Commit applies the staged writes and releases the locks.
func (tx *Tx) Commit(ctx context.Context) error {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	if tx.done {
		return ErrTxClosed
	}
	defer tx.finish()

	s := tx.s
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.failCommit; err != nil {
		s.failCommit = nil
		return err
	}
	for id, bal := range tx.balances {
		if bal < 0 {
			return fmt.Errorf("wallet %s: balance would become negative", id)
		}
	}

	now := s.stamp()
	s.events = append(s.events, tx.events...)
	for id, bal := range tx.balances {
		w := s.wallets[id]
		w.Balance = bal
		w.Version++
		w.UpdatedAt = now
		s.wallets[id] = w
	}
	return nil
}

// Rollback discards the staged writes and releases the locks.
func (tx *Tx) Rollback(ctx context.Context) error {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	if tx.done {
		return ErrTxClosed
	}
	tx.finish()
	return nil
}

// finish releases locks in reverse acquisition order. Callers hold tx.mu.
func (tx *Tx) finish() {
	tx.done = true
	for i := len(tx.order) - 1; i >= 0; i-- {
		<-tx.s.lockFor(tx.order[i])
	}
	tx.order = nil
	tx.held = nil
	tx.events = nil
	tx.balances = nil
}

// lock takes the row lock on id unless this transaction already holds it.
func (tx *Tx) lock(ctx context.Context, id uuid.UUID) error {
	tx.mu.Lock()
	if tx.done {
		tx.mu.Unlock()
		return ErrTxClosed
	}
	if tx.held[id] {
		tx.mu.Unlock()
		return nil
	}
	tx.mu.Unlock()

	ch := tx.s.lockFor(id)

	var timeout <-chan time.Time
	if tx.s.lockWait > 0 {
		timer := time.NewTimer(tx.s.lockWait)
		defer timer.Stop()
		timeout = timer.C
	}

	select {
	case ch <- struct{}{}:
	case <-timeout:
		return fmt.Errorf("lock wallet %s: %w", id, ports.ErrLockTimeout)
	case <-ctx.Done():
		return fmt.Errorf("lock wallet %s: %w: %w", id, ports.ErrLockTimeout, ctx.Err())
	}

	tx.mu.Lock()
	defer tx.mu.Unlock()
	if tx.done {
		<-ch
		return ErrTxClosed
	}
	tx.held[id] = true
	tx.order = append(tx.order, id)
	return nil
}

// LockOrder returns the wallet ids locked so far, in acquisition order.
func (tx *Tx) LockOrder() []uuid.UUID {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	out := make([]uuid.UUID, len(tx.order))
	copy(out, tx.order)
	return out
}

func asTx(tx ports.Tx) (*Tx, error) {
	if tx == nil {
		return nil, nil
	}
	mtx, ok := tx.(*Tx)
	if !ok {
		return nil, fmt.Errorf("memory: unsupported transaction type %T", tx)
	}
	mtx.mu.Lock()
	done := mtx.done
	mtx.mu.Unlock()
	if done {
		return nil, ErrTxClosed
	}
	return mtx, nil
}
