package memory

import (
	"context"
	"time"

	"github.com/xenking/storefront-checkout/internal/domain/checkout"
	"github.com/xenking/storefront-checkout/internal/domain/order"
	"github.com/xenking/storefront-checkout/internal/domain/reservation"
)

// --- checkout.AttemptStore ---

type attemptView struct{ s *Store }

func (v attemptView) Create(_ context.Context, a *checkout.Attempt) error {
	v.s.mu.Lock()
	defer v.s.mu.Unlock()

	if _, ok := v.s.attempts[a.ID]; ok {
		return checkout.ErrAttemptExists
	}
	v.s.attempts[a.ID] = cloneAttempt(*a)
	return nil
}

func (v attemptView) Get(_ context.Context, id string) (*checkout.Attempt, error) {
	v.s.mu.Lock()
	defer v.s.mu.Unlock()

	a, ok := v.s.attempts[id]
	if !ok {
		return nil, checkout.ErrAttemptNotFound
	}
	out := cloneAttempt(a)
	return &out, nil
}

func (v attemptView) Transition(_ context.Context, id string, from, to checkout.Status, patch checkout.Patch) (bool, error) {
	v.s.mu.Lock()
	defer v.s.mu.Unlock()

	a, ok := v.s.attempts[id]
	if !ok {
		return false, checkout.ErrAttemptNotFound
	}
	if a.Status != from {
		return false, nil
	}
	a.Status = to
	if patch.IntentID != nil {
		a.IntentID = *patch.IntentID
	}
	if patch.OrderID != nil {
		a.OrderID = *patch.OrderID
	}
	if patch.FailureCode != nil {
		a.FailureCode = *patch.FailureCode
	}
	a.UpdatedAt = time.Now()
	v.s.attempts[id] = a
	return true, nil
}

func (v attemptView) ListExpired(_ context.Context, now time.Time, limit int) ([]checkout.Attempt, error) {
	v.s.mu.Lock()
	defer v.s.mu.Unlock()

	var out []checkout.Attempt
	for _, a := range v.s.attempts {
		if len(out) >= limit {
			break
		}
		switch a.Status {
		case checkout.StatusInitiated, checkout.StatusStockHeld, checkout.StatusPaymentPending:
			if a.ExpiresAt.Before(now) {
				out = append(out, cloneAttempt(a))
			}
		}
	}
	return out, nil
}

func (v attemptView) ListStuckPaid(_ context.Context, limit int) ([]checkout.Attempt, error) {
	v.s.mu.Lock()
	defer v.s.mu.Unlock()

	var out []checkout.Attempt
	for _, a := range v.s.attempts {
		if len(out) >= limit {
			break
		}
		if a.Status == checkout.StatusPaid {
			out = append(out, cloneAttempt(a))
		}
	}
	return out, nil
}

// --- checkout.AnomalyStore ---

type anomalyView struct{ s *Store }

func (v anomalyView) File(_ context.Context, a *checkout.Anomaly) error {
	v.s.mu.Lock()
	defer v.s.mu.Unlock()

	// Idempotent per (kind, attempt): re-detection does not duplicate.
	key := string(a.Kind) + "|" + a.AttemptID
	if _, ok := v.s.anomalies[key]; ok {
		return nil
	}
	v.s.anomalies[key] = *a
	return nil
}

func (v anomalyView) ListOpen(_ context.Context, limit int) ([]checkout.Anomaly, error) {
	v.s.mu.Lock()
	defer v.s.mu.Unlock()

	var out []checkout.Anomaly
	for _, a := range v.s.anomalies {
		if len(out) >= limit {
			break
		}
		if a.ResolvedAt == nil {
			out = append(out, a)
		}
	}
	return out, nil
}

// --- order.Ledger ---

type ledgerView struct{ s *Store }

func (v ledgerView) Commit(_ context.Context, o *order.Order, items []order.Item) (*order.Order, error) {
	v.s.mu.Lock()
	defer v.s.mu.Unlock()

	// Replay of an already-committed attempt returns the persisted order.
	if existingID, ok := v.s.orderByAttempt[o.AttemptID]; ok {
		out := v.s.orders[existingID]
		return &out, nil
	}

	stored := *o
	v.s.orders[stored.ID] = stored
	v.s.orderByAttempt[stored.AttemptID] = stored.ID

	storedItems := make([]order.Item, len(items))
	copy(storedItems, items)
	for i := range storedItems {
		storedItems[i].OrderID = stored.ID
	}
	v.s.orderItems[stored.ID] = storedItems

	rows := v.s.reservations[stored.AttemptID]
	for i := range rows {
		if rows[i].Outcome == reservation.OutcomeHeld {
			rows[i].Outcome = reservation.OutcomeCommitted
		}
	}

	delete(v.s.carts, stored.ShopperID)

	out := stored
	return &out, nil
}

func (v ledgerView) GetByAttempt(_ context.Context, attemptID string) (*order.Order, error) {
	v.s.mu.Lock()
	defer v.s.mu.Unlock()

	id, ok := v.s.orderByAttempt[attemptID]
	if !ok {
		return nil, order.ErrNotFound
	}
	out := v.s.orders[id]
	return &out, nil
}

func (v ledgerView) GetForShopper(_ context.Context, orderID, shopperID string) (*order.Order, []order.Item, error) {
	v.s.mu.Lock()
	defer v.s.mu.Unlock()

	o, ok := v.s.orders[orderID]
	if !ok || o.ShopperID != shopperID {
		return nil, nil, order.ErrNotFound
	}
	items := make([]order.Item, len(v.s.orderItems[orderID]))
	copy(items, v.s.orderItems[orderID])
	out := o
	return &out, items, nil
}

func cloneAttempt(a checkout.Attempt) checkout.Attempt {
	items := make([]checkout.Item, len(a.Items))
	copy(items, a.Items)
	a.Items = items
	return a
}
