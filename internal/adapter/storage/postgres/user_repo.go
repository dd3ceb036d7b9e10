package postgres

import (
	"context"
	"errors"

	"wallet-ledger/internal/core/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// UserRepo implements ports.UserRepository.
type UserRepo struct {
	pool Pool
}

// NewUserRepo creates a new UserRepo.
func NewUserRepo(pool Pool) *UserRepo {
	return &UserRepo{pool: pool}
}

// Ensure records the user if it is not known yet.
func (r *UserRepo) Ensure(ctx context.Context, userID uuid.UUID) error {
	query := `INSERT INTO users (id, created_at, updated_at) VALUES ($1, NOW(), NOW())
		ON CONFLICT (id) DO NOTHING`

	if _, err := r.pool.Exec(ctx, query, userID); err != nil {
		return wrapErr("ensure user", err)
	}
	return nil
}

// GetByID fetches a user, or nil when unknown.
func (r *UserRepo) GetByID(ctx context.Context, userID uuid.UUID) (*domain.User, error) {
	query := `SELECT id, webhook_url, created_at, updated_at FROM users WHERE id = $1`

	u := &domain.User{}
	err := r.pool.QueryRow(ctx, query, userID).Scan(&u.ID, &u.WebhookURL, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, wrapErr("get user", err)
	}
	return u, nil
}

// SetWebhookURL sets or clears (nil) the user's webhook endpoint.
func (r *UserRepo) SetWebhookURL(ctx context.Context, userID uuid.UUID, url *string) error {
	query := `INSERT INTO users (id, webhook_url, created_at, updated_at) VALUES ($1, $2, NOW(), NOW())
		ON CONFLICT (id) DO UPDATE SET webhook_url = EXCLUDED.webhook_url, updated_at = NOW()`

	if _, err := r.pool.Exec(ctx, query, userID, url); err != nil {
		return wrapErr("set webhook url", err)
	}
	return nil
}
