package memory

import (
	"context"

	"wallet-ledger/internal/core/domain"
)

// WebhookDeliveryRepo implements ports.WebhookDeliveryRepository.
type WebhookDeliveryRepo struct {
	s *Store
}

// Create records one delivery attempt.
func (r *WebhookDeliveryRepo) Create(ctx context.Context, d *domain.WebhookDelivery) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.deliveries = append(r.s.deliveries, *d)
	return nil
}

// All returns every recorded attempt in insertion order.
func (r *WebhookDeliveryRepo) All() []domain.WebhookDelivery {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	out := make([]domain.WebhookDelivery, len(r.s.deliveries))
	copy(out, r.s.deliveries)
	return out
}
