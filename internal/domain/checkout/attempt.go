// Package checkout implements the top-level checkout state machine: one
// attempt per shopper-initiated pipeline run, sequenced through stock
// reservation, payment intent creation, asynchronous reconciliation and the
// transactional order commit.
package checkout

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// Status enumerates checkout attempt states. The success path is
// initiated → stock_held → payment_pending → paid → committed; failed and
// expired are terminal and reachable from any non-terminal state.
type Status string

const (
	StatusInitiated      Status = "initiated"
	StatusStockHeld      Status = "stock_held"
	StatusPaymentPending Status = "payment_pending"
	StatusPaid           Status = "paid"
	StatusCommitted      Status = "committed"
	StatusFailed         Status = "failed"
	StatusExpired        Status = "expired"
)

// IsTerminal reports whether the attempt admits no further transitions.
func (s Status) IsTerminal() bool {
	return s == StatusCommitted || s == StatusFailed || s == StatusExpired
}

// CanTransitionTo reports whether moving from s to next is a legal state
// machine step.
func (s Status) CanTransitionTo(next Status) bool {
	if s.IsTerminal() {
		return false
	}
	switch next {
	case StatusStockHeld:
		return s == StatusInitiated
	case StatusPaymentPending:
		return s == StatusStockHeld
	case StatusPaid:
		// A success event can land before the attempt row reached
		// payment_pending when the process crashed mid-Begin.
		return s == StatusStockHeld || s == StatusPaymentPending
	case StatusCommitted:
		return s == StatusPaid
	case StatusFailed, StatusExpired:
		return true
	default:
		return false
	}
}

// Failure codes recorded on failed attempts, surfaced to the shopper when
// they re-query attempt status.
const (
	FailureInsufficientStock  = "insufficient_stock"
	FailurePaymentDeclined    = "payment_declined"
	FailurePaymentCanceled    = "payment_canceled"
	FailureGatewayUnavailable = "gateway_unavailable"
)

// Sentinel errors for attempt lookup and creation.
var (
	ErrAttemptNotFound = errors.New("checkout attempt not found")
	ErrAttemptExists   = errors.New("checkout attempt already exists")
)

// Item is the attempt's snapshot of one cart line, with the unit price
// captured at reservation time.
type Item struct {
	ProductID string          `json:"product_id"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
}

// Attempt is the durable record of one pipeline run. Its ID is supplied by
// the client and doubles as the payment idempotency key, so a client retry
// re-joins the existing run instead of starting a new one.
type Attempt struct {
	ID           string
	ShopperID    string
	ShopperEmail string
	Status       Status
	Items        []Item
	Total        decimal.Decimal
	Currency     string
	IntentID     string
	OrderID      string
	FailureCode  string
	ExpiresAt    time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Patch carries the optional fields a transition may set alongside the
// status change. Nil fields are left untouched.
type Patch struct {
	IntentID    *string
	OrderID     *string
	FailureCode *string
}

// AttemptStore persists checkout attempts. Transition is a compare-and-set
// on status: it applies only when the stored status still equals from, which
// serializes the request path, the webhook path and the sweeper.
type AttemptStore interface {
	Create(ctx context.Context, a *Attempt) error
	Get(ctx context.Context, id string) (*Attempt, error)
	Transition(ctx context.Context, id string, from, to Status, patch Patch) (bool, error)

	// ListExpired returns non-terminal, not-yet-paid attempts whose hold
	// window lapsed before now.
	ListExpired(ctx context.Context, now time.Time, limit int) ([]Attempt, error)

	// ListStuckPaid returns attempts stuck in paid: their intent succeeded
	// but the order commit has not landed.
	ListStuckPaid(ctx context.Context, limit int) ([]Attempt, error)
}
