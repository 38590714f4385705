package memory

import (
	"context"
	"time"

	"github.com/xenking/storefront-checkout/internal/domain/payment"
	"github.com/xenking/storefront-checkout/internal/domain/reservation"
)

// --- reservation.Repository ---

type reservationView struct{ s *Store }

func (v reservationView) CreateHeld(_ context.Context, reservations []reservation.Reservation) error {
	v.s.mu.Lock()
	defer v.s.mu.Unlock()

	for _, r := range reservations {
		v.s.reservations[r.AttemptID] = append(v.s.reservations[r.AttemptID], r)
	}
	return nil
}

func (v reservationView) Release(_ context.Context, attemptID string) ([]reservation.Reservation, error) {
	v.s.mu.Lock()
	defer v.s.mu.Unlock()

	var released []reservation.Reservation
	rows := v.s.reservations[attemptID]
	for i := range rows {
		if rows[i].Outcome == reservation.OutcomeHeld {
			rows[i].Outcome = reservation.OutcomeReleased
			released = append(released, rows[i])
		}
	}
	return released, nil
}

func (v reservationView) ListByAttempt(_ context.Context, attemptID string) ([]reservation.Reservation, error) {
	v.s.mu.Lock()
	defer v.s.mu.Unlock()

	rows := v.s.reservations[attemptID]
	out := make([]reservation.Reservation, len(rows))
	copy(out, rows)
	return out, nil
}

func (v reservationView) ListExpiredHeld(_ context.Context, now time.Time, limit int) ([]reservation.Reservation, error) {
	v.s.mu.Lock()
	defer v.s.mu.Unlock()

	var out []reservation.Reservation
	for _, rows := range v.s.reservations {
		for _, r := range rows {
			if len(out) >= limit {
				return out, nil
			}
			if r.Outcome == reservation.OutcomeHeld && r.ExpiresAt.Before(now) {
				out = append(out, r)
			}
		}
	}
	return out, nil
}

// --- payment.IntentStore ---

type intentView struct{ s *Store }

func (v intentView) Create(_ context.Context, intent *payment.Intent) error {
	v.s.mu.Lock()
	defer v.s.mu.Unlock()

	v.s.intents[intent.ID] = *intent
	v.s.intentByAttempt[intent.AttemptID] = intent.ID
	return nil
}

func (v intentView) Get(_ context.Context, id string) (*payment.Intent, error) {
	v.s.mu.Lock()
	defer v.s.mu.Unlock()

	intent, ok := v.s.intents[id]
	if !ok {
		return nil, payment.ErrIntentNotFound
	}
	out := intent
	return &out, nil
}

func (v intentView) GetByAttempt(_ context.Context, attemptID string) (*payment.Intent, error) {
	v.s.mu.Lock()
	defer v.s.mu.Unlock()

	id, ok := v.s.intentByAttempt[attemptID]
	if !ok {
		return nil, payment.ErrIntentNotFound
	}
	out := v.s.intents[id]
	return &out, nil
}

func (v intentView) UpdateStatus(_ context.Context, id string, from, to payment.Status) (bool, error) {
	v.s.mu.Lock()
	defer v.s.mu.Unlock()

	intent, ok := v.s.intents[id]
	if !ok {
		return false, payment.ErrIntentNotFound
	}
	if intent.Status != from {
		return false, nil
	}
	intent.Status = to
	intent.UpdatedAt = time.Now()
	v.s.intents[id] = intent
	return true, nil
}

// --- payment.EventLog ---

type eventView struct{ s *Store }

func (v eventView) MarkProcessed(_ context.Context, eventID, intentID string) (bool, error) {
	v.s.mu.Lock()
	defer v.s.mu.Unlock()

	if _, ok := v.s.events[eventID]; ok {
		return false, nil
	}
	v.s.events[eventID] = intentID
	return true, nil
}

func (v eventView) IsProcessed(_ context.Context, eventID string) (bool, error) {
	v.s.mu.Lock()
	defer v.s.mu.Unlock()

	_, ok := v.s.events[eventID]
	return ok, nil
}
