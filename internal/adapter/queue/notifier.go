package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"wallet-ledger/internal/core/domain"
	"wallet-ledger/internal/core/ports"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"
)

var (
	_ ports.Notifier = (*Notifier)(nil)
	_ ports.Notifier = (*LogNotifier)(nil)
)

// Enqueuer is the subset of *asynq.Client used by Notifier.
type Enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// NotifierOptions are the per-task delivery settings.
type NotifierOptions struct {
	Queue    string
	MaxRetry int
	Timeout  time.Duration
}

// Notifier enqueues payee notifications for the webhook worker.
type Notifier struct {
	client Enqueuer
	opts   NotifierOptions
	log    zerolog.Logger
}

// NewNotifier creates a Notifier.
func NewNotifier(client Enqueuer, opts NotifierOptions, log zerolog.Logger) *Notifier {
	if opts.Queue == "" {
		opts.Queue = "notifications"
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 5 * time.Second
	}
	return &Notifier{client: client, opts: opts, log: log}
}

// NotifyTransferReceived enqueues one task per transfer. The transfer id is
// the task id, so a repeated enqueue for the same transfer is a no-op.
func (n *Notifier) NotifyTransferReceived(ctx context.Context, note domain.TransferNotification) error {
	task, err := NewTransferReceivedTask(note)
	if err != nil {
		return err
	}

	info, err := n.client.EnqueueContext(ctx, task,
		asynq.MaxRetry(n.opts.MaxRetry),
		asynq.Timeout(n.opts.Timeout),
		asynq.Queue(n.opts.Queue),
		asynq.TaskID(note.TransferID.String()),
	)
	if errors.Is(err, asynq.ErrTaskIDConflict) {
		n.log.Debug().Str("transfer_id", note.TransferID.String()).Msg("notification already enqueued")
		return nil
	}
	if err != nil {
		return fmt.Errorf("enqueue %s: %w", TypeTransferReceived, err)
	}

	n.log.Debug().
		Str("task_id", info.ID).
		Str("queue", info.Queue).
		Str("transfer_id", note.TransferID.String()).
		Msg("transfer notification enqueued")
	return nil
}

// LogNotifier only logs notifications. It backs local runs without a queue.
type LogNotifier struct {
	log zerolog.Logger
}

// NewLogNotifier creates a LogNotifier.
func NewLogNotifier(log zerolog.Logger) *LogNotifier {
	return &LogNotifier{log: log}
}

func (n *LogNotifier) NotifyTransferReceived(_ context.Context, note domain.TransferNotification) error {
	n.log.Info().
		Str("transfer_id", note.TransferID.String()).
		Str("payee_user_id", note.PayeeUserID.String()).
		Int64("amount", note.Amount).
		Msg("transfer received")
	return nil
}
