package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"wallet-ledger/internal/core/domain"
	"wallet-ledger/internal/core/ports"
	"wallet-ledger/internal/observability"
	"wallet-ledger/pkg/apperror"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const defaultWebhookTimeout = 5 * time.Second

// WebhookPayload is the JSON body POSTed to the payee's webhook_url.
type WebhookPayload struct {
	Event      string    `json:"event"`
	Amount     int64     `json:"amount"`
	Timestamp  time.Time `json:"timestamp"`
	TransferID uuid.UUID `json:"transfer_id"`
}

// HTTPClient interface for testability.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// webhookService implements ports.WebhookService.
type webhookService struct {
	users      ports.UserRepository
	deliveries ports.WebhookDeliveryRepository
	httpClient HTTPClient
	timeout    time.Duration
	metrics    *observability.Metrics
	log        zerolog.Logger
}

// NewWebhookService creates a new webhook service. A zero timeout means 5s.
func NewWebhookService(
	users ports.UserRepository,
	deliveries ports.WebhookDeliveryRepository,
	httpClient HTTPClient,
	timeout time.Duration,
	metrics *observability.Metrics,
	log zerolog.Logger,
) ports.WebhookService {
	if timeout <= 0 {
		timeout = defaultWebhookTimeout
	}
	return &webhookService{
		users:      users,
		deliveries: deliveries,
		httpClient: httpClient,
		timeout:    timeout,
		metrics:    metrics,
		log:        log,
	}
}

// Configure sets or, with a nil url, clears the user's webhook target.
func (s *webhookService) Configure(ctx context.Context, userID uuid.UUID, rawURL *string) error {
	if rawURL != nil {
		u, err := url.Parse(*rawURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return apperror.Validation("webhook_url must be an absolute http(s) URL")
		}
	}
	if err := s.users.Ensure(ctx, userID); err != nil {
		return apperror.InternalError(fmt.Errorf("ensure user: %w", err))
	}
	if err := s.users.SetWebhookURL(ctx, userID, rawURL); err != nil {
		return apperror.InternalError(fmt.Errorf("set webhook url: %w", err))
	}
	s.log.Info().Str("user_id", userID.String()).Bool("cleared", rawURL == nil).Msg("webhook configured")
	return nil
}

// Deliver POSTs a transfer notification to the payee. A non-2xx answer or a
// transport failure is returned so the queue retries the task.
func (s *webhookService) Deliver(ctx context.Context, n domain.TransferNotification) error {
	user, err := s.users.GetByID(ctx, n.PayeeUserID)
	if err != nil {
		return fmt.Errorf("webhook: fetch payee: %w", err)
	}
	if user == nil || user.WebhookURL == nil || *user.WebhookURL == "" {
		s.log.Debug().Str("user_id", n.PayeeUserID.String()).Msg("webhook: no webhook URL configured, skipping")
		return nil
	}
	target := *user.WebhookURL

	body, err := json.Marshal(WebhookPayload{
		Event:      domain.WebhookEventTransferReceived,
		Amount:     n.Amount,
		Timestamp:  n.OccurredAt.UTC(),
		TransferID: n.TransferID,
	})
	if err != nil {
		return fmt.Errorf("webhook: marshal payload: %w", err)
	}

	statusCode, sendErr := s.post(ctx, target, body)

	delivery := &domain.WebhookDelivery{
		ID:         uuid.Must(uuid.NewV7()),
		TransferID: n.TransferID,
		UserID:     n.PayeeUserID,
		WebhookURL: target,
		Payload:    string(body),
		Attempt:    ports.DeliveryAttempt(ctx),
		Status:     domain.WebhookStatusDelivered,
		CreatedAt:  time.Now().UTC(),
	}
	if statusCode != 0 {
		delivery.HTTPStatus = &statusCode
	}
	if sendErr == nil && (statusCode < 200 || statusCode >= 300) {
		sendErr = fmt.Errorf("webhook: non-2xx response %d", statusCode)
	}
	if sendErr != nil {
		msg := sendErr.Error()
		delivery.Status = domain.WebhookStatusFailed
		delivery.LastError = &msg
	}
	if err := s.deliveries.Create(ctx, delivery); err != nil {
		s.log.Error().Err(err).Str("transfer_id", n.TransferID.String()).Msg("webhook: failed to record delivery")
	}
	s.metrics.WebhookDelivered(string(delivery.Status))

	if sendErr != nil {
		s.log.Warn().Err(sendErr).
			Str("transfer_id", n.TransferID.String()).
			Int("attempt", delivery.Attempt).
			Msg("webhook: delivery failed")
		return sendErr
	}
	s.log.Info().
		Str("transfer_id", n.TransferID.String()).
		Int("attempt", delivery.Attempt).
		Int("status", statusCode).
		Msg("webhook: delivered successfully")
	return nil
}

func (s *webhookService) post(ctx context.Context, target string, body []byte) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(body))
	if err != nil {
		return 0, fmt.Errorf("webhook: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("webhook: post: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	return resp.StatusCode, nil
}
