package domain

import (
	"encoding/json"
	"fmt"
	"time"

	"wallet-ledger/pkg/apperror"

	"github.com/google/uuid"
)

// EventKind names one of the closed set of ledger event variants.
type EventKind string

const (
	KindFundsDeposited   EventKind = "FundsDeposited"
	KindFundsWithdrawn   EventKind = "FundsWithdrawn"
	KindTransferSent     EventKind = "TransferSent"
	KindTransferReceived EventKind = "TransferReceived"
)

// Event is an immutable fact about one wallet. The set of implementations is
// sealed: every variant must be dispatched through eventVisitor.
type Event interface {
	Kind() EventKind
	Wallet() uuid.UUID
	Value() int64
	At() time.Time
	accept(v eventVisitor)
}

// eventVisitor has one method per variant. Adding a variant without a
// matching method here (and on WalletAggregate) does not compile.
type eventVisitor interface {
	visitFundsDeposited(e FundsDeposited)
	visitFundsWithdrawn(e FundsWithdrawn)
	visitTransferSent(e TransferSent)
	visitTransferReceived(e TransferReceived)
}

// FundsDeposited credits a wallet from outside the ledger.
type FundsDeposited struct {
	WalletID   uuid.UUID `json:"wallet_id"`
	Amount     int64     `json:"amount"`
	OccurredAt time.Time `json:"occurred_at"`
}

// FundsWithdrawn debits a wallet to outside the ledger.
type FundsWithdrawn struct {
	WalletID   uuid.UUID `json:"wallet_id"`
	Amount     int64     `json:"amount"`
	OccurredAt time.Time `json:"occurred_at"`
}

// TransferSent is the payer half of a transfer.
type TransferSent struct {
	WalletID       uuid.UUID `json:"wallet_id"`
	TargetWalletID uuid.UUID `json:"target_wallet_id"`
	Amount         int64     `json:"amount"`
	OccurredAt     time.Time `json:"occurred_at"`
}

// TransferReceived is the payee half of a transfer.
type TransferReceived struct {
	WalletID       uuid.UUID `json:"wallet_id"`
	SourceWalletID uuid.UUID `json:"source_wallet_id"`
	Amount         int64     `json:"amount"`
	OccurredAt     time.Time `json:"occurred_at"`
}

func (e FundsDeposited) Kind() EventKind       { return KindFundsDeposited }
func (e FundsDeposited) Wallet() uuid.UUID     { return e.WalletID }
func (e FundsDeposited) Value() int64          { return e.Amount }
func (e FundsDeposited) At() time.Time         { return e.OccurredAt }
func (e FundsDeposited) accept(v eventVisitor) { v.visitFundsDeposited(e) }

func (e FundsWithdrawn) Kind() EventKind       { return KindFundsWithdrawn }
func (e FundsWithdrawn) Wallet() uuid.UUID     { return e.WalletID }
func (e FundsWithdrawn) Value() int64          { return e.Amount }
func (e FundsWithdrawn) At() time.Time         { return e.OccurredAt }
func (e FundsWithdrawn) accept(v eventVisitor) { v.visitFundsWithdrawn(e) }

func (e TransferSent) Kind() EventKind       { return KindTransferSent }
func (e TransferSent) Wallet() uuid.UUID     { return e.WalletID }
func (e TransferSent) Value() int64          { return e.Amount }
func (e TransferSent) At() time.Time         { return e.OccurredAt }
func (e TransferSent) accept(v eventVisitor) { v.visitTransferSent(e) }

func (e TransferReceived) Kind() EventKind       { return KindTransferReceived }
func (e TransferReceived) Wallet() uuid.UUID     { return e.WalletID }
func (e TransferReceived) Value() int64          { return e.Amount }
func (e TransferReceived) At() time.Time         { return e.OccurredAt }
func (e TransferReceived) accept(v eventVisitor) { v.visitTransferReceived(e) }

// StoredEvent is the persisted envelope of an Event.
type StoredEvent struct {
	ID         uuid.UUID       `json:"id"`
	Seq        int64           `json:"seq"`
	WalletID   uuid.UUID       `json:"wallet_id"`
	Kind       EventKind       `json:"event_kind"`
	Amount     int64           `json:"amount"`
	Payload    json.RawMessage `json:"payload"`
	OccurredAt time.Time       `json:"occurred_at"`
	InsertedAt time.Time       `json:"inserted_at"`
}

// EncodeEvent serializes an event into its storage envelope. ID, Seq and
// InsertedAt are left for the store to assign.
func EncodeEvent(e Event) (StoredEvent, error) {
	payload, err := json.Marshal(e)
	if err != nil {
		return StoredEvent{}, fmt.Errorf("marshal %s payload: %w", e.Kind(), err)
	}
	return StoredEvent{
		WalletID:   e.Wallet(),
		Kind:       e.Kind(),
		Amount:     e.Value(),
		Payload:    payload,
		OccurredAt: e.At(),
	}, nil
}

// DecodeEvent turns a stored envelope back into its variant. An unrecognized
// kind is data corruption and returns UnknownEventKind.
func DecodeEvent(s StoredEvent) (Event, error) {
	switch s.Kind {
	case KindFundsDeposited:
		var e FundsDeposited
		if err := json.Unmarshal(s.Payload, &e); err != nil {
			return nil, apperror.ErrEventDecode(string(s.Kind), s.ID.String(), err)
		}
		return e, nil
	case KindFundsWithdrawn:
		var e FundsWithdrawn
		if err := json.Unmarshal(s.Payload, &e); err != nil {
			return nil, apperror.ErrEventDecode(string(s.Kind), s.ID.String(), err)
		}
		return e, nil
	case KindTransferSent:
		var e TransferSent
		if err := json.Unmarshal(s.Payload, &e); err != nil {
			return nil, apperror.ErrEventDecode(string(s.Kind), s.ID.String(), err)
		}
		return e, nil
	case KindTransferReceived:
		var e TransferReceived
		if err := json.Unmarshal(s.Payload, &e); err != nil {
			return nil, apperror.ErrEventDecode(string(s.Kind), s.ID.String(), err)
		}
		return e, nil
	default:
		return nil, apperror.ErrUnknownEventKind(string(s.Kind), s.ID.String())
	}
}

// DecodeEvents decodes a full history, aborting on the first bad envelope.
func DecodeEvents(stored []StoredEvent) ([]Event, error) {
	events := make([]Event, 0, len(stored))
	for _, s := range stored {
		e, err := DecodeEvent(s)
		if err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, nil
}

// KindsToStrings converts event kinds for use as a query parameter.
func KindsToStrings(kinds []EventKind) []string {
	out := make([]string, len(kinds))
	for i, k := range kinds {
		out[i] = string(k)
	}
	return out
}
