// Package queue delivers ledger side effects through asynq, a Redis-backed
// task queue. The API enqueues; cmd/worker consumes.
package queue

import (
	"encoding/json"
	"fmt"
	"time"

	"wallet-ledger/internal/core/domain"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
)

// Task types.
const (
	TypeTransferReceived       = "notification:transfer_received"
	TypePurgeExpiredIdempotent = "idempotency:purge_expired"
)

// NewTransferReceivedTask builds the payee notification task.
func NewTransferReceivedTask(n domain.TransferNotification, opts ...asynq.Option) (*asynq.Task, error) {
	payload, err := json.Marshal(n)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", TypeTransferReceived, err)
	}
	return asynq.NewTask(TypeTransferReceived, payload, opts...), nil
}

// NewPurgeTask builds the periodic idempotency purge task.
func NewPurgeTask() *asynq.Task {
	return asynq.NewTask(TypePurgeExpiredIdempotent, nil)
}

// RetryDelay returns the wait before retry n (0-based) using the configured
// backoff. Retries past the table reuse its last entry.
func RetryDelay(backoff []time.Duration) asynq.RetryDelayFunc {
	if len(backoff) == 0 {
		return asynq.DefaultRetryDelayFunc
	}
	return func(n int, _ error, _ *asynq.Task) time.Duration {
		if n < 0 {
			n = 0
		}
		if n >= len(backoff) {
			return backoff[len(backoff)-1]
		}
		return backoff[n]
	}
}

// RedisOpt converts redis client options into asynq's connection option.
func RedisOpt(opts *redis.Options) asynq.RedisClientOpt {
	return asynq.RedisClientOpt{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	}
}
