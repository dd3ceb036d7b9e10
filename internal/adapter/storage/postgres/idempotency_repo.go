package postgres

import (
	"context"
	"errors"
	"time"

	"wallet-ledger/internal/core/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// IdempotencyRepo implements ports.IdempotencyRepository.
type IdempotencyRepo struct {
	pool Pool
}

// NewIdempotencyRepo creates a new IdempotencyRepo.
func NewIdempotencyRepo(pool Pool) *IdempotencyRepo {
	return &IdempotencyRepo{pool: pool}
}

// Claim inserts a pending row for the key. An existing row only gives way once
// it has expired, so the UNIQUE (user_id, key) constraint picks one winner.
func (r *IdempotencyRepo) Claim(ctx context.Context, rec *domain.IdempotencyRecord) (bool, error) {
	query := `INSERT INTO idempotency_keys (key, user_id, state, status_code, response_payload, created_at, expires_at)
		VALUES ($1, $2, 'pending', 0, ''::bytea, $3, $4)
		ON CONFLICT (user_id, key) DO UPDATE SET
			state = 'pending',
			status_code = 0,
			response_payload = ''::bytea,
			created_at = EXCLUDED.created_at,
			expires_at = EXCLUDED.expires_at
		WHERE idempotency_keys.expires_at <= EXCLUDED.created_at`

	tag, err := r.pool.Exec(ctx, query, rec.Key, rec.UserID, rec.CreatedAt, rec.ExpiresAt)
	if err != nil {
		return false, wrapErr("claim idempotency key", err)
	}
	return tag.RowsAffected() == 1, nil
}

// Release deletes a pending row. Stored responses are left alone.
func (r *IdempotencyRepo) Release(ctx context.Context, userID uuid.UUID, key string) error {
	_, err := r.pool.Exec(ctx,
		`DELETE FROM idempotency_keys WHERE user_id = $1 AND key = $2 AND state = 'pending'`,
		userID, key,
	)
	if err != nil {
		return wrapErr("release idempotency key", err)
	}
	return nil
}

// Create stores a response. It completes a pending claim; a live stored row
// is only replaced once it has expired.
func (r *IdempotencyRepo) Create(ctx context.Context, rec *domain.IdempotencyRecord) error {
	query := `INSERT INTO idempotency_keys (key, user_id, state, status_code, response_payload, created_at, expires_at)
		VALUES ($1, $2, 'stored', $3, $4, $5, $6)
		ON CONFLICT (user_id, key) DO UPDATE SET
			state = 'stored',
			status_code = EXCLUDED.status_code,
			response_payload = EXCLUDED.response_payload,
			created_at = EXCLUDED.created_at,
			expires_at = EXCLUDED.expires_at
		WHERE idempotency_keys.state = 'pending' OR idempotency_keys.expires_at <= EXCLUDED.created_at`

	_, err := r.pool.Exec(ctx, query,
		rec.Key, rec.UserID, rec.ResponseStatus, rec.ResponsePayload, rec.CreatedAt, rec.ExpiresAt,
	)
	if err != nil {
		return wrapErr("insert idempotency key", err)
	}
	return nil
}

// Get fetches the record for a user's key, pending or stored, or nil when absent.
func (r *IdempotencyRepo) Get(ctx context.Context, userID uuid.UUID, key string) (*domain.IdempotencyRecord, error) {
	query := `SELECT key, user_id, state, status_code, response_payload, created_at, expires_at
		FROM idempotency_keys WHERE user_id = $1 AND key = $2`

	rec := &domain.IdempotencyRecord{}
	var state string
	err := r.pool.QueryRow(ctx, query, userID, key).Scan(
		&rec.Key, &rec.UserID, &state, &rec.ResponseStatus, &rec.ResponsePayload, &rec.CreatedAt, &rec.ExpiresAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, wrapErr("get idempotency key", err)
	}
	rec.State = domain.IdempotencyState(state)
	return rec, nil
}

// PurgeExpired deletes rows that expired at or before before.
func (r *IdempotencyRepo) PurgeExpired(ctx context.Context, before time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM idempotency_keys WHERE expires_at <= $1`, before)
	if err != nil {
		return 0, wrapErr("purge idempotency keys", err)
	}
	return tag.RowsAffected(), nil
}
