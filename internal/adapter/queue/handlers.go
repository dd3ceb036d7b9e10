package queue

import (
	"context"
	"encoding/json"
	"fmt"

	"wallet-ledger/internal/core/domain"
	"wallet-ledger/internal/core/ports"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"
)

// Purger deletes expired idempotency records.
type Purger interface {
	PurgeExpired(ctx context.Context) (int64, error)
}

// NewServeMux routes worker tasks to their handlers.
func NewServeMux(webhooks ports.WebhookService, purger Purger, log zerolog.Logger) *asynq.ServeMux {
	mux := asynq.NewServeMux()
	mux.HandleFunc(TypeTransferReceived, HandleTransferReceived(webhooks))
	mux.HandleFunc(TypePurgeExpiredIdempotent, HandlePurgeExpired(purger, log))
	return mux
}

// HandleTransferReceived delivers the payee webhook. Malformed payloads are
// not retried.
func HandleTransferReceived(webhooks ports.WebhookService) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		var n domain.TransferNotification
		if err := json.Unmarshal(t.Payload(), &n); err != nil {
			return fmt.Errorf("decode %s payload: %v: %w", t.Type(), err, asynq.SkipRetry)
		}
		attempt := 1
		if retried, ok := asynq.GetRetryCount(ctx); ok {
			attempt = retried + 1
		}
		return webhooks.Deliver(ports.WithDeliveryAttempt(ctx, attempt), n)
	}
}

// HandlePurgeExpired removes idempotency records past retention.
func HandlePurgeExpired(purger Purger, log zerolog.Logger) asynq.HandlerFunc {
	return func(ctx context.Context, _ *asynq.Task) error {
		n, err := purger.PurgeExpired(ctx)
		if err != nil {
			return err
		}
		log.Info().Int64("deleted", n).Msg("expired idempotency records purged")
		return nil
	}
}
