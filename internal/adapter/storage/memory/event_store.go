package memory

import (
	"context"
	"fmt"
	"sort"
	"time"

	"wallet-ledger/internal/core/domain"
	"wallet-ledger/internal/core/ports"

	"github.com/google/uuid"
)

// EventStore implements ports.EventStore.
type EventStore struct {
	s *Store
}

// Append records one event. Outside a transaction it is visible immediately.
func (es *EventStore) Append(ctx context.Context, tx ports.Tx, event domain.Event) (uuid.UUID, error) {
	mtx, err := asTx(tx)
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

	s := es.s
	s.mu.Lock()
	if _, ok := s.wallets[stored.WalletID]; !ok {
		s.mu.Unlock()
		return uuid.Nil, fmt.Errorf("insert event: wallet %s not found", stored.WalletID)
	}
	if stored.Amount <= 0 {
		s.mu.Unlock()
		return uuid.Nil, fmt.Errorf("insert event: amount must be positive, got %d", stored.Amount)
	}
	s.seq++
	stored.ID = id
	stored.Seq = s.seq
	stored.InsertedAt = s.stamp()
	if mtx == nil {
		s.events = append(s.events, stored)
		s.mu.Unlock()
		return id, nil
	}
	s.mu.Unlock()

	mtx.mu.Lock()
	mtx.events = append(mtx.events, stored)
	mtx.mu.Unlock()
	return id, nil
}

// History returns the wallet's events ordered by (occurred_at, seq).
func (es *EventStore) History(ctx context.Context, tx ports.Tx, walletID uuid.UUID) ([]domain.Event, error) {
	stored, err := es.StoredHistory(ctx, tx, walletID)
	if err != nil {
		return nil, err
	}
	return domain.DecodeEvents(stored)
}

// StoredHistory returns the raw envelopes of the wallet's events in replay order.
func (es *EventStore) StoredHistory(ctx context.Context, tx ports.Tx, walletID uuid.UUID) ([]domain.StoredEvent, error) {
	mtx, err := asTx(tx)
	if err != nil {
		return nil, err
	}
	events := es.visible(mtx, walletID)
	sort.SliceStable(events, func(i, j int) bool {
		if !events[i].OccurredAt.Equal(events[j].OccurredAt) {
			return events[i].OccurredAt.Before(events[j].OccurredAt)
		}
		return events[i].Seq < events[j].Seq
	})
	return events, nil
}

// DailyVolume sums the amounts of kinds recorded for the wallet during the
// calendar day containing day.
func (es *EventStore) DailyVolume(ctx context.Context, tx ports.Tx, walletID uuid.UUID, kinds []domain.EventKind, day time.Time) (int64, error) {
	mtx, err := asTx(tx)
	if err != nil {
		return 0, err
	}

	want := make(map[domain.EventKind]bool, len(kinds))
	for _, k := range kinds {
		want[k] = true
	}
	start, end := domain.DayBounds(day)

	var total int64
	for _, e := range es.visible(mtx, walletID) {
		if want[e.Kind] && !e.OccurredAt.Before(start) && e.OccurredAt.Before(end) {
			total += e.Amount
		}
	}
	return total, nil
}

// visible returns committed events of the wallet plus those staged in mtx.
func (es *EventStore) visible(mtx *Tx, walletID uuid.UUID) []domain.StoredEvent {
	var out []domain.StoredEvent

	es.s.mu.Lock()
	for _, e := range es.s.events {
		if e.WalletID == walletID {
			out = append(out, e)
		}
	}
	es.s.mu.Unlock()

	if mtx != nil {
		mtx.mu.Lock()
		for _, e := range mtx.events {
			if e.WalletID == walletID {
				out = append(out, e)
			}
		}
		mtx.mu.Unlock()
	}
	return out
}
