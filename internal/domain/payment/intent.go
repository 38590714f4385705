// Package payment tracks payment intents against an external gateway and
// reconciles their asynchronous confirmation events.
package payment

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// Status enumerates gateway-side intent states. An intent's status is the
// single source of truth for whether money has moved.
type Status string

const (
	StatusCreated        Status = "created"
	StatusRequiresAction Status = "requires_action"
	StatusSucceeded      Status = "succeeded"
	StatusFailed         Status = "failed"
	StatusCanceled       Status = "canceled"
)

// IsTerminal reports whether the status admits no further transitions.
func (s Status) IsTerminal() bool {
	return s == StatusSucceeded || s == StatusFailed || s == StatusCanceled
}

// CanTransitionTo reports whether moving from s to next is forward-valid.
// Repeating the current status is allowed (duplicate deliveries are a normal
// occurrence); leaving a terminal status is not.
func (s Status) CanTransitionTo(next Status) bool {
	if s == next {
		return true
	}
	if s.IsTerminal() {
		return false
	}
	switch next {
	case StatusRequiresAction:
		return s == StatusCreated
	case StatusSucceeded, StatusFailed, StatusCanceled:
		return s == StatusCreated || s == StatusRequiresAction
	default:
		return false
	}
}

// Sentinel errors for gateway and reconciliation failures.
var (
	// ErrGatewayUnavailable indicates the gateway could not be reached.
	// Retryable with backoff.
	ErrGatewayUnavailable = errors.New("payment gateway unavailable")
	// ErrGatewayTimeout indicates a gateway call timed out with no
	// response. The outcome is unknown: an intent may exist on the
	// provider side, so callers must resolve it before treating the
	// charge as absent. Wraps ErrGatewayUnavailable so transport-level
	// handling stays uniform.
	ErrGatewayTimeout = errors.Wrap(ErrGatewayUnavailable, "request timed out")
	// ErrUntrustedEvent indicates an event failed its signature check.
	// The event is dropped and logged, never applied.
	ErrUntrustedEvent = errors.New("untrusted payment event")
	// ErrIntentNotFound indicates no intent exists for the given ID.
	ErrIntentNotFound = errors.New("payment intent not found")
)

// DeclinedError indicates the gateway declined the charge. Terminal for the
// checkout attempt; the shopper may retry with a new payment method.
type DeclinedError struct {
	Reason string
}

func (e *DeclinedError) Error() string {
	return fmt.Sprintf("payment declined: %s", e.Reason)
}

// Intent is the local record of a gateway payment intent. The idempotency key
// is the checkout attempt ID, so retrying an attempt never creates a second
// charge.
type Intent struct {
	ID             string
	AttemptID      string
	Amount         decimal.Decimal
	Currency       string
	Status         Status
	IdempotencyKey string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// CreateIntentRequest is the input to Gateway.CreateIntent.
type CreateIntentRequest struct {
	IdempotencyKey string
	Amount         decimal.Decimal
	Currency       string
}

// GatewayIntent is the gateway's view of an intent.
type GatewayIntent struct {
	ID       string
	Status   Status
	Amount   decimal.Decimal
	Currency string
}

// Gateway is the external payment collaborator.
type Gateway interface {
	CreateIntent(ctx context.Context, req CreateIntentRequest) (*GatewayIntent, error)
	IntentStatus(ctx context.Context, intentID string) (Status, error)
}

// IntentStore persists intents. UpdateStatus is a compare-and-set: it applies
// the transition only when the stored status still equals from, which
// serializes concurrent reconciliation events for the same intent.
type IntentStore interface {
	Create(ctx context.Context, intent *Intent) error
	Get(ctx context.Context, id string) (*Intent, error)
	GetByAttempt(ctx context.Context, attemptID string) (*Intent, error)
	UpdateStatus(ctx context.Context, id string, from, to Status) (bool, error)
}

// EventLog records processed event IDs for duplicate detection.
// MarkProcessed returns false when the event was already recorded.
type EventLog interface {
	MarkProcessed(ctx context.Context, eventID, intentID string) (bool, error)
	IsProcessed(ctx context.Context, eventID string) (bool, error)
}
