package domain

import (
	"bytes"
	"sort"
	"time"

	"github.com/google/uuid"
)

// Wallet is the persisted balance projection for one user. It mirrors the
// event-derived balance and is only ever overwritten, never incremented.
type Wallet struct {
	ID        uuid.UUID `json:"id"`
	UserID    uuid.UUID `json:"user_id"`
	Balance   int64     `json:"balance"`
	Version   int64     `json:"version"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewWallet returns an empty wallet for userID.
func NewWallet(userID uuid.UUID, now time.Time) *Wallet {
	return &Wallet{
		ID:        uuid.Must(uuid.NewV7()),
		UserID:    userID,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// SortWalletIDs orders ids bytewise, the same order the database uses for
// uuid columns. Locks on several wallets are always taken in this order.
func SortWalletIDs(ids ...uuid.UUID) []uuid.UUID {
	out := make([]uuid.UUID, len(ids))
	copy(out, ids)
	sort.Slice(out, func(i, j int) bool {
		return bytes.Compare(out[i][:], out[j][:]) < 0
	})
	return out
}

// User is the owner of a wallet. Identity itself is issued elsewhere; this
// record only carries what the ledger needs about the user.
type User struct {
	ID         uuid.UUID `json:"id"`
	WebhookURL *string   `json:"webhook_url,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}
