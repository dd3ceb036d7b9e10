package memory

import (
	"context"
	"time"

	"wallet-ledger/internal/core/domain"

	"github.com/google/uuid"
)

// IdempotencyRepo implements ports.IdempotencyRepository.
type IdempotencyRepo struct {
	s *Store
}

func idemKey(userID *uuid.UUID, key string) string {
	if userID == nil {
		return ":" + key
	}
	return domain.BuildIdempotencyKey(*userID, key)
}

// Claim stores a pending record unless a live record holds the key.
func (r *IdempotencyRepo) Claim(ctx context.Context, rec *domain.IdempotencyRecord) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	k := idemKey(rec.UserID, rec.Key)
	if existing, ok := r.s.idem[k]; ok && existing.ExpiresAt.After(rec.CreatedAt) {
		return false, nil
	}
	pending := *rec
	pending.State = domain.IdempotencyPending
	pending.ResponseStatus = 0
	pending.ResponsePayload = nil
	r.s.idem[k] = pending
	return true, nil
}

// Release drops a pending record.
func (r *IdempotencyRepo) Release(ctx context.Context, userID uuid.UUID, key string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	k := idemKey(&userID, key)
	if existing, ok := r.s.idem[k]; ok && existing.Pending() {
		delete(r.s.idem, k)
	}
	return nil
}

// Create stores a response. It completes a pending claim; a live stored record
// is only replaced once expired.
func (r *IdempotencyRepo) Create(ctx context.Context, rec *domain.IdempotencyRecord) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	k := idemKey(rec.UserID, rec.Key)
	if existing, ok := r.s.idem[k]; ok && !existing.Pending() && existing.ExpiresAt.After(rec.CreatedAt) {
		return nil
	}
	stored := *rec
	stored.State = domain.IdempotencyStored
	stored.ResponsePayload = append([]byte(nil), rec.ResponsePayload...)
	r.s.idem[k] = stored
	return nil
}

// Get fetches the record for a user's key, pending or stored, or nil when absent.
func (r *IdempotencyRepo) Get(ctx context.Context, userID uuid.UUID, key string) (*domain.IdempotencyRecord, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	rec, ok := r.s.idem[idemKey(&userID, key)]
	if !ok {
		return nil, nil
	}
	return &rec, nil
}

// PurgeExpired deletes records that expired at or before before.
func (r *IdempotencyRepo) PurgeExpired(ctx context.Context, before time.Time) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var n int64
	for k, rec := range r.s.idem {
		if !rec.ExpiresAt.After(before) {
			delete(r.s.idem, k)
			n++
		}
	}
	return n, nil
}
