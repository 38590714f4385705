// Package reservation implements time-bounded inventory holds for checkout
// attempts. A hold either covers every line of the cart or does not exist;
// expired holds are swept back to available stock.
package reservation

import (
	"context"
	"time"
)

// Outcome enumerates the lifecycle states of a hold.
type Outcome string

const (
	// OutcomeHeld marks stock as reserved for an in-flight checkout attempt.
	OutcomeHeld Outcome = "held"
	// OutcomeReleased marks stock as returned to the catalog.
	OutcomeReleased Outcome = "released"
	// OutcomeCommitted marks the hold as consumed by a persisted order.
	OutcomeCommitted Outcome = "committed"
)

// Reservation is a temporary hold on inventory tied to one checkout attempt.
type Reservation struct {
	AttemptID string
	ProductID string
	Quantity  int
	Outcome   Outcome
	ExpiresAt time.Time
}

// Repository defines persistence for reservations. Transitioning held rows is
// the exactly-once guard: Release returns only the rows it moved out of the
// held state, so stock is restored at most once per hold even when release is
// invoked concurrently from the request path and the expiry sweep.
type Repository interface {
	CreateHeld(ctx context.Context, reservations []Reservation) error

	// Release marks the attempt's held rows as released and returns them.
	// Rows already released or committed are not returned.
	Release(ctx context.Context, attemptID string) ([]Reservation, error)

	ListByAttempt(ctx context.Context, attemptID string) ([]Reservation, error)

	// ListExpiredHeld returns rows still held past their deadline, oldest
	// first. These are candidates for the orphan restock pass.
	ListExpiredHeld(ctx context.Context, now time.Time, limit int) ([]Reservation, error)
}
