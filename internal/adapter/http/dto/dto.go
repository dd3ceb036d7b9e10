package dto

import (
	"time"

	"wallet-ledger/internal/core/domain"
	"wallet-ledger/internal/core/ports"
)

// HistoryDateLayout is the layout of HistoryItem.Date.
const HistoryDateLayout = "2006-01-02 15:04:05"

// --- Wallet DTOs ---

// IdempotencyHeader binds the Idempotency-Key header of mutating requests.
// An absent key binds as empty and is rejected by the idempotency guard.
type IdempotencyHeader struct {
	Key string `header:"Idempotency-Key" binding:"omitempty,safe_id,max=128"`
}

// AmountRequest is the body of POST /api/v1/wallets/deposit and /withdraw.
type AmountRequest struct {
	Amount int64 `json:"amount" binding:"required,gt=0"`
}

// TransferRequest is the body of POST /api/v1/wallets/transfer.
type TransferRequest struct {
	PayeeUserID string `json:"payee_user_id" binding:"required,uuid"`
	Amount      int64  `json:"amount" binding:"required,gt=0"`
}

// WalletResponse describes a provisioned wallet.
type WalletResponse struct {
	WalletID  string `json:"wallet_id"`
	UserID    string `json:"user_id"`
	Balance   int64  `json:"balance"`
	CreatedAt string `json:"created_at"`
}

// BalanceResponse is returned by GET /api/v1/wallets/balance.
type BalanceResponse struct {
	WalletID string `json:"wallet_id"`
	Balance  int64  `json:"balance"`
	Currency string `json:"currency"`
}

// HistoryItem is one formatted ledger event.
type HistoryItem struct {
	Type    string            `json:"type"`
	Amount  int64             `json:"amount"`
	Date    string            `json:"date"`
	Details map[string]string `json:"details"`
}

// --- User DTOs ---

// WebhookRequest is the body of PUT /api/v1/users/me/webhook. A null URL
// clears the webhook.
type WebhookRequest struct {
	WebhookURL *string `json:"webhook_url" binding:"omitempty,safe_url"`
}

// --- Mappers ---

// ToWalletResponse maps a wallet projection.
func ToWalletResponse(w *domain.Wallet) WalletResponse {
	return WalletResponse{
		WalletID:  w.ID.String(),
		UserID:    w.UserID.String(),
		Balance:   w.Balance,
		CreatedAt: w.CreatedAt.UTC().Format(time.RFC3339),
	}
}

// ToBalanceResponse maps a balance read.
func ToBalanceResponse(v *ports.BalanceView) BalanceResponse {
	return BalanceResponse{
		WalletID: v.WalletID.String(),
		Balance:  v.Balance,
		Currency: v.Currency,
	}
}

// ToHistory formats a wallet history, oldest first. Transfers carry the
// counterpart wallet under "to" or "from".
func ToHistory(events []domain.Event) []HistoryItem {
	items := make([]HistoryItem, 0, len(events))
	for _, e := range events {
		details := map[string]string{}
		switch v := e.(type) {
		case domain.TransferSent:
			details["to"] = v.TargetWalletID.String()
		case domain.TransferReceived:
			details["from"] = v.SourceWalletID.String()
		}
		items = append(items, HistoryItem{
			Type:    string(e.Kind()),
			Amount:  e.Value(),
			Date:    e.At().UTC().Format(HistoryDateLayout),
			Details: details,
		})
	}
	return items
}
