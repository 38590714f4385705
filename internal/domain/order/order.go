// Package order defines the durable, append-only order ledger. Orders survive
// independently of cart and stock state; statuses only move forward.
package order

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// Status enumerates order lifecycle states. Transitions are monotonic:
// paid never reverts to pending_payment.
type Status string

const (
	StatusPendingPayment Status = "pending_payment"
	StatusPaid           Status = "paid"
	StatusFulfilling     Status = "fulfilling"
	StatusCanceled       Status = "canceled"
	StatusFailed         Status = "failed"
)

// ErrNotFound is returned when an order does not exist or does not belong to
// the requesting shopper. The two cases are indistinguishable to the caller.
var ErrNotFound = errors.New("order not found")

// Order is one confirmed purchase. Exactly one order exists per successful
// payment intent; an order reaches paid if and only if its intent succeeded.
type Order struct {
	ID        string
	AttemptID string
	ShopperID string
	Status    Status
	Total     decimal.Decimal
	Currency  string
	CreatedAt time.Time
}

// Item is one order line. Immutable once written: the unit price is captured
// at purchase time, independent of later catalog price changes.
type Item struct {
	OrderID   string
	ProductID string
	Quantity  int
	UnitPrice decimal.Decimal
}

// Ledger persists orders. Commit is the pipeline's single transactional
// write: the order, its items, the attempt's reservation commit, and the
// shopper's cart clearing all land together or not at all. Commit is
// idempotent per attempt — replaying it after a crash returns the already
// persisted order instead of writing a second one.
type Ledger interface {
	Commit(ctx context.Context, o *Order, items []Item) (*Order, error)
	GetByAttempt(ctx context.Context, attemptID string) (*Order, error)
	GetForShopper(ctx context.Context, orderID, shopperID string) (*Order, []Item, error)
}
