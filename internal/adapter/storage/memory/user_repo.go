package memory

import (
	"context"

	"wallet-ledger/internal/core/domain"

	"github.com/google/uuid"
)

// UserRepo implements ports.UserRepository.
type UserRepo struct {
	s *Store
}

// Ensure records the user if it is not known yet.
func (r *UserRepo) Ensure(ctx context.Context, userID uuid.UUID) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.users[userID]; !ok {
		now := r.s.stamp()
		r.s.users[userID] = domain.User{ID: userID, CreatedAt: now, UpdatedAt: now}
	}
	return nil
}

// GetByID fetches a user, or nil when unknown.
func (r *UserRepo) GetByID(ctx context.Context, userID uuid.UUID) (*domain.User, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	u, ok := r.s.users[userID]
	if !ok {
		return nil, nil
	}
	return &u, nil
}

// SetWebhookURL sets or clears (nil) the user's webhook endpoint.
func (r *UserRepo) SetWebhookURL(ctx context.Context, userID uuid.UUID, url *string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	now := r.s.stamp()
	u, ok := r.s.users[userID]
	if !ok {
		u = domain.User{ID: userID, CreatedAt: now}
	}
	if url != nil {
		v := *url
		url = &v
	}
	u.WebhookURL = url
	u.UpdatedAt = now
	r.s.users[userID] = u
	return nil
}
