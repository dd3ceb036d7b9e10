package postgres

import (
	"context"
	"fmt"
	"time"

	"wallet-ledger/internal/core/domain"
	"wallet-ledger/internal/core/ports"

	"github.com/google/uuid"
)

// EventStore implements ports.EventStore on the events table.
type EventStore struct {
	pool Pool
}

// NewEventStore creates a new EventStore.
func NewEventStore(pool Pool) *EventStore {
	return &EventStore{pool: pool}
}

// Append inserts one event. The sequence is assigned by the database.
func (s *EventStore) Append(ctx context.Context, tx ports.Tx, event domain.Event) (uuid.UUID, error) {
	q, err := conn(s.pool, tx)
	if err != nil {
		return uuid.Nil, err
	}

	stored, err := domain.EncodeEvent(event)
	if err != nil {
		return uuid.Nil, err
	}
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.Nil, fmt.Errorf("generate event id: %w", err)
	}

	query := `INSERT INTO events (id, wallet_id, event_kind, amount, payload, occurred_at)
		VALUES ($1, $2, $3, $4, $5, $6)`

	_, err = q.Exec(ctx, query,
		id, stored.WalletID, string(stored.Kind), stored.Amount,
		[]byte(stored.Payload), stored.OccurredAt,
	)
	if err != nil {
		return uuid.Nil, wrapErr("insert event", err)
	}
	return id, nil
}

// History returns the wallet's events ordered by (occurred_at, seq).
func (s *EventStore) History(ctx context.Context, tx ports.Tx, walletID uuid.UUID) ([]domain.Event, error) {
	stored, err := s.StoredHistory(ctx, tx, walletID)
	if err != nil {
		return nil, err
	}
	return domain.DecodeEvents(stored)
}

// StoredHistory returns the raw envelopes of the wallet's events in replay order.
func (s *EventStore) StoredHistory(ctx context.Context, tx ports.Tx, walletID uuid.UUID) ([]domain.StoredEvent, error) {
	q, err := conn(s.pool, tx)
	if err != nil {
		return nil, err
	}

	query := `SELECT id, seq, wallet_id, event_kind, amount, payload, occurred_at, inserted_at
		FROM events WHERE wallet_id = $1
		ORDER BY occurred_at, seq`

	rows, err := q.Query(ctx, query, walletID)
	if err != nil {
		return nil, wrapErr("list events", err)
	}
	defer rows.Close()

	var events []domain.StoredEvent
	for rows.Next() {
		var (
			e       domain.StoredEvent
			kind    string
			payload []byte
		)
		if err := rows.Scan(&e.ID, &e.Seq, &e.WalletID, &kind, &e.Amount, &payload, &e.OccurredAt, &e.InsertedAt); err != nil {
			return nil, fmt.Errorf("scan event row: %w", err)
		}
		e.Kind = domain.EventKind(kind)
		e.Payload = payload
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapErr("iterate event rows", err)
	}
	return events, nil
}

// DailyVolume sums the amounts of kinds recorded for the wallet during the
// calendar day containing day.
func (s *EventStore) DailyVolume(ctx context.Context, tx ports.Tx, walletID uuid.UUID, kinds []domain.EventKind, day time.Time) (int64, error) {
	q, err := conn(s.pool, tx)
	if err != nil {
		return 0, err
	}

	start, end := domain.DayBounds(day)
	query := `SELECT COALESCE(SUM(amount), 0)::bigint FROM events
		WHERE wallet_id = $1 AND event_kind = ANY($2)
		AND occurred_at >= $3 AND occurred_at < $4`

	var total int64
	err = q.QueryRow(ctx, query, walletID, domain.KindsToStrings(kinds), start, end).Scan(&total)
	if err != nil {
		return 0, wrapErr("sum daily volume", err)
	}
	return total, nil
}
