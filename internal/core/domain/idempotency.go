package domain

import (
	"time"

	"github.com/google/uuid"
)

// IdempotencyState is the lifecycle of a key.
type IdempotencyState string

const (
	// IdempotencyPending marks a key claimed by a request still executing.
	// Pending records expire after the claim TTL.
	IdempotencyPending IdempotencyState = "pending"
	IdempotencyStored  IdempotencyState = "stored"
)

// IdempotencyRecord is the stored outcome of a successful mutating request.
type IdempotencyRecord struct {
	Key             string           `json:"key"`
	UserID          *uuid.UUID       `json:"user_id,omitempty"`
	State           IdempotencyState `json:"state"`
	ResponseStatus  int              `json:"response_status,omitempty"`
	ResponsePayload []byte           `json:"response_payload,omitempty"`
	CreatedAt       time.Time        `json:"created_at"`
	ExpiresAt       time.Time        `json:"expires_at"`
}

// Expired reports whether the record is past its retention window.
func (r *IdempotencyRecord) Expired(now time.Time) bool {
	return !now.Before(r.ExpiresAt)
}

// Pending reports whether the key is claimed but has no stored response yet.
func (r *IdempotencyRecord) Pending() bool {
	return r.State == IdempotencyPending
}

// BuildIdempotencyKey scopes a caller-supplied key to its user.
func BuildIdempotencyKey(userID uuid.UUID, key string) string {
	return userID.String() + ":" + key
}
