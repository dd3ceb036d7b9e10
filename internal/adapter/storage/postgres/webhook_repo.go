package postgres

import (
	"context"

	"wallet-ledger/internal/core/domain"
)

// WebhookDeliveryRepo implements ports.WebhookDeliveryRepository.
type WebhookDeliveryRepo struct {
	pool Pool
}

// NewWebhookDeliveryRepo creates a PostgreSQL-backed delivery log.
func NewWebhookDeliveryRepo(pool Pool) *WebhookDeliveryRepo {
	return &WebhookDeliveryRepo{pool: pool}
}

// Create records one delivery attempt.
func (r *WebhookDeliveryRepo) Create(ctx context.Context, d *domain.WebhookDelivery) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO webhook_deliveries
		(id, transfer_id, user_id, webhook_url, payload, http_status, attempt, status, last_error, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		d.ID, d.TransferID, d.UserID, d.WebhookURL,
		d.Payload, d.HTTPStatus, d.Attempt, string(d.Status),
		d.LastError, d.CreatedAt,
	)
	if err != nil {
		return wrapErr("insert webhook delivery", err)
	}
	return nil
}
