// Package observability holds the Prometheus metrics of the ledger.
package observability

import (
	"errors"
	"time"

	"wallet-ledger/pkg/apperror"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Outcome labels for command metrics.
const (
	OutcomeOK       = "ok"
	OutcomeRejected = "rejected" // business rule
	OutcomeFailed   = "failed"   // infrastructure
)

// Metrics holds all Prometheus metrics for the ledger. A nil *Metrics is a
// valid no-op recorder.
type Metrics struct {
	// --- Commands ---
	CommandsTotal   *prometheus.CounterVec
	CommandDuration *prometheus.HistogramVec
	AmountTotal     *prometheus.CounterVec

	// --- Idempotency ---
	IdempotencyReplays   *prometheus.CounterVec
	IdempotencyConflicts prometheus.Counter
	IdempotencyPurged    prometheus.Counter

	// --- Side effects ---
	NotificationsEnqueued *prometheus.CounterVec
	WebhookDeliveries     *prometheus.CounterVec
	EventsPublished       *prometheus.CounterVec
}

// NewMetrics creates the metrics and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		CommandsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "wallet_ledger_commands_total",
			Help: "Ledger commands by type and outcome",
		}, []string{"command", "outcome", "code"}),

		CommandDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "wallet_ledger_command_duration_seconds",
			Help:    "Time from command start to commit or rejection",
			Buckets: []float64{0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		}, []string{"command"}),

		AmountTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "wallet_ledger_amount_total",
			Help: "Sum of committed amounts in the smallest currency unit",
		}, []string{"command"}),

		IdempotencyReplays: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "wallet_ledger_idempotency_replays_total",
			Help: "Requests answered from a stored idempotent response",
		}, []string{"source"}),

		IdempotencyConflicts: factory.NewCounter(prometheus.CounterOpts{
			Name: "wallet_ledger_idempotency_conflicts_total",
			Help: "Requests rejected because the same key was still executing",
		}),

		IdempotencyPurged: factory.NewCounter(prometheus.CounterOpts{
			Name: "wallet_ledger_idempotency_purged_total",
			Help: "Expired idempotency records deleted",
		}),

		NotificationsEnqueued: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "wallet_ledger_notifications_enqueued_total",
			Help: "Transfer notifications handed to the queue",
		}, []string{"outcome"}),

		WebhookDeliveries: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "wallet_ledger_webhook_deliveries_total",
			Help: "Webhook delivery attempts by final status",
		}, []string{"status"}),

		EventsPublished: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "wallet_ledger_events_published_total",
			Help: "Committed events streamed to downstream consumers",
		}, []string{"outcome"}),
	}
}

// ObserveCommand records the outcome and latency of a ledger command.
func (m *Metrics) ObserveCommand(command string, started time.Time, amount int64, err error) {
	if m == nil {
		return
	}
	outcome, code := classify(err)
	m.CommandsTotal.WithLabelValues(command, outcome, code).Inc()
	m.CommandDuration.WithLabelValues(command).Observe(time.Since(started).Seconds())
	if err == nil && amount > 0 {
		m.AmountTotal.WithLabelValues(command).Add(float64(amount))
	}
}

// IdempotentReplay counts a replayed response served from source (cache, store).
func (m *Metrics) IdempotentReplay(source string) {
	if m == nil {
		return
	}
	m.IdempotencyReplays.WithLabelValues(source).Inc()
}

// IdempotentConflict counts a request rejected while its key was pending.
func (m *Metrics) IdempotentConflict() {
	if m == nil {
		return
	}
	m.IdempotencyConflicts.Inc()
}

// IdempotencyPurge counts deleted expired records.
func (m *Metrics) IdempotencyPurge(n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.IdempotencyPurged.Add(float64(n))
}

// NotificationEnqueued counts an enqueue attempt.
func (m *Metrics) NotificationEnqueued(err error) {
	if m == nil {
		return
	}
	m.NotificationsEnqueued.WithLabelValues(okOrFailed(err)).Inc()
}

// WebhookDelivered counts a delivery attempt by status (DELIVERED, FAILED).
func (m *Metrics) WebhookDelivered(status string) {
	if m == nil {
		return
	}
	m.WebhookDeliveries.WithLabelValues(status).Inc()
}

// Published counts n events streamed downstream.
func (m *Metrics) Published(n int, err error) {
	if m == nil || n == 0 {
		return
	}
	m.EventsPublished.WithLabelValues(okOrFailed(err)).Add(float64(n))
}

func classify(err error) (outcome, code string) {
	if err == nil {
		return OutcomeOK, ""
	}
	var appErr *apperror.AppError
	if errors.As(err, &appErr) {
		if apperror.IsDomain(err) {
			return OutcomeRejected, appErr.Code
		}
		return OutcomeFailed, appErr.Code
	}
	return OutcomeFailed, "SYS_000"
}

func okOrFailed(err error) string {
	if err != nil {
		return OutcomeFailed
	}
	return OutcomeOK
}
