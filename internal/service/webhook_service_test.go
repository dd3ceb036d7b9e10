package service

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"wallet-ledger/internal/core/domain"
	"wallet-ledger/internal/core/ports"
	"wallet-ledger/internal/core/ports/mocks"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

// mockHTTPClient implements HTTPClient for testing.
type mockHTTPClient struct {
	doFunc func(req *http.Request) (*http.Response, error)
}

func (m *mockHTTPClient) Do(req *http.Request) (*http.Response, error) {
	return m.doFunc(req)
}

func newTestLogger() zerolog.Logger {
	return zerolog.New(io.Discard)
}

func respond(status int) func(*http.Request) (*http.Response, error) {
	return func(*http.Request) (*http.Response, error) {
		return &http.Response{StatusCode: status, Body: io.NopCloser(strings.NewReader(""))}, nil
	}
}

func testNotification() domain.TransferNotification {
	return domain.TransferNotification{
		TransferID:  uuid.New(),
		PayerUserID: uuid.New(),
		PayeeUserID: uuid.New(),
		Amount:      400,
		OccurredAt:  time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestWebhookService_Deliver_Success(t *testing.T) {
	ctrl := gomock.NewController(t)
	users := mocks.NewMockUserRepository(ctrl)
	deliveries := mocks.NewMockWebhookDeliveryRepository(ctrl)

	n := testNotification()
	hook := "https://payee.example.com/hook"
	var gotBody WebhookPayload
	client := &mockHTTPClient{doFunc: func(req *http.Request) (*http.Response, error) {
		assert.Equal(t, http.MethodPost, req.Method)
		assert.Equal(t, hook, req.URL.String())
		assert.Equal(t, "application/json", req.Header.Get("Content-Type"))
		_, hasDeadline := req.Context().Deadline()
		assert.True(t, hasDeadline)
		require.NoError(t, json.NewDecoder(req.Body).Decode(&gotBody))
		return respond(http.StatusOK)(req)
	}}

	users.EXPECT().GetByID(gomock.Any(), n.PayeeUserID).Return(&domain.User{ID: n.PayeeUserID, WebhookURL: &hook}, nil)
	deliveries.EXPECT().Create(gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, d *domain.WebhookDelivery) error {
			assert.Equal(t, domain.WebhookStatusDelivered, d.Status)
			assert.Equal(t, 2, d.Attempt)
			require.NotNil(t, d.HTTPStatus)
			assert.Equal(t, 200, *d.HTTPStatus)
			assert.Nil(t, d.LastError)
			return nil
		})

	svc := NewWebhookService(users, deliveries, client, time.Second, nil, newTestLogger())
	err := svc.Deliver(ports.WithDeliveryAttempt(context.Background(), 2), n)
	require.NoError(t, err)

	assert.Equal(t, domain.WebhookEventTransferReceived, gotBody.Event)
	assert.Equal(t, int64(400), gotBody.Amount)
	assert.Equal(t, n.TransferID, gotBody.TransferID)
	assert.True(t, n.OccurredAt.Equal(gotBody.Timestamp))
}

func TestWebhookService_Deliver_NoURLSkips(t *testing.T) {
	ctrl := gomock.NewController(t)
	users := mocks.NewMockUserRepository(ctrl)
	deliveries := mocks.NewMockWebhookDeliveryRepository(ctrl)
	client := &mockHTTPClient{doFunc: func(*http.Request) (*http.Response, error) {
		t.Fatal("no request expected")
		return nil, nil
	}}

	n := testNotification()
	users.EXPECT().GetByID(gomock.Any(), n.PayeeUserID).Return(&domain.User{ID: n.PayeeUserID}, nil)

	svc := NewWebhookService(users, deliveries, client, 0, nil, newTestLogger())
	assert.NoError(t, svc.Deliver(context.Background(), n))
}

func TestWebhookService_Deliver_Non2xxIsRetried(t *testing.T) {
	ctrl := gomock.NewController(t)
	users := mocks.NewMockUserRepository(ctrl)
	deliveries := mocks.NewMockWebhookDeliveryRepository(ctrl)

	n := testNotification()
	hook := "https://payee.example.com/hook"
	users.EXPECT().GetByID(gomock.Any(), n.PayeeUserID).Return(&domain.User{WebhookURL: &hook}, nil)
	deliveries.EXPECT().Create(gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, d *domain.WebhookDelivery) error {
			assert.Equal(t, domain.WebhookStatusFailed, d.Status)
			assert.Equal(t, 1, d.Attempt)
			require.NotNil(t, d.LastError)
			assert.Contains(t, *d.LastError, "503")
			return nil
		})

	svc := NewWebhookService(users, deliveries, &mockHTTPClient{doFunc: respond(http.StatusServiceUnavailable)}, 0, nil, newTestLogger())
	assert.Error(t, svc.Deliver(context.Background(), n))
}

func TestWebhookService_Deliver_TransportError(t *testing.T) {
	ctrl := gomock.NewController(t)
	users := mocks.NewMockUserRepository(ctrl)
	deliveries := mocks.NewMockWebhookDeliveryRepository(ctrl)

	n := testNotification()
	hook := "https://payee.example.com/hook"
	users.EXPECT().GetByID(gomock.Any(), n.PayeeUserID).Return(&domain.User{WebhookURL: &hook}, nil)
	deliveries.EXPECT().Create(gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, d *domain.WebhookDelivery) error {
			assert.Nil(t, d.HTTPStatus)
			assert.Equal(t, domain.WebhookStatusFailed, d.Status)
			return errors.New("insert failed")
		})

	client := &mockHTTPClient{doFunc: func(*http.Request) (*http.Response, error) {
		return nil, errors.New("dial tcp: connection refused")
	}}
	svc := NewWebhookService(users, deliveries, client, 0, nil, newTestLogger())
	err := svc.Deliver(context.Background(), n)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection refused")
}

func TestWebhookService_Deliver_TimesOutSlowReceiver(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	ctrl := gomock.NewController(t)
	users := mocks.NewMockUserRepository(ctrl)
	deliveries := mocks.NewMockWebhookDeliveryRepository(ctrl)

	n := testNotification()
	hook := srv.URL
	users.EXPECT().GetByID(gomock.Any(), n.PayeeUserID).Return(&domain.User{WebhookURL: &hook}, nil)
	deliveries.EXPECT().Create(gomock.Any(), gomock.Any()).Return(nil)

	svc := NewWebhookService(users, deliveries, srv.Client(), 50*time.Millisecond, nil, newTestLogger())
	started := time.Now()
	err := svc.Deliver(context.Background(), n)
	require.Error(t, err)
	assert.Less(t, time.Since(started), 5*time.Second)
}

func TestWebhookService_Configure(t *testing.T) {
	ctrl := gomock.NewController(t)
	users := mocks.NewMockUserRepository(ctrl)
	svc := NewWebhookService(users, mocks.NewMockWebhookDeliveryRepository(ctrl), nil, 0, nil, newTestLogger())

	userID := uuid.New()
	hook := "https://payee.example.com/hook"
	users.EXPECT().Ensure(gomock.Any(), userID).Return(nil).Times(2)
	users.EXPECT().SetWebhookURL(gomock.Any(), userID, &hook).Return(nil)
	users.EXPECT().SetWebhookURL(gomock.Any(), userID, nil).Return(nil)

	require.NoError(t, svc.Configure(context.Background(), userID, &hook))
	require.NoError(t, svc.Configure(context.Background(), userID, nil))
}

func TestWebhookService_Configure_RejectsBadURL(t *testing.T) {
	ctrl := gomock.NewController(t)
	svc := NewWebhookService(mocks.NewMockUserRepository(ctrl), mocks.NewMockWebhookDeliveryRepository(ctrl),
		nil, 0, nil, newTestLogger())

	for _, raw := range []string{"ftp://x.example.com", "/relative", "https://", "::"} {
		err := svc.Configure(context.Background(), uuid.New(), &raw)
		assertAppError(t, err, "REQ_001")
	}
}
