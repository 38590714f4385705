package checkout

import (
	"context"
	"time"
)

// AnomalyKind classifies reconciliation anomalies. Anomalies are never
// auto-resolved; they sit in an operator queue until manually reconciled.
type AnomalyKind string

const (
	// AnomalyLateSuccess: a success event arrived for an expired attempt.
	// Money moved, inventory was already released.
	AnomalyLateSuccess AnomalyKind = "late_success_after_expiry"
	// AnomalyPaidWithoutOrder: an intent succeeded but the order commit
	// keeps failing.
	AnomalyPaidWithoutOrder AnomalyKind = "paid_without_order"
	// AnomalyConflictingTransition: an event contradicted a terminal
	// intent or attempt status (e.g. failed after succeeded).
	AnomalyConflictingTransition AnomalyKind = "conflicting_transition"
)

// Anomaly is one operator-queue entry.
type Anomaly struct {
	ID         string
	Kind       AnomalyKind
	AttemptID  string
	IntentID   string
	Detail     string
	CreatedAt  time.Time
	ResolvedAt *time.Time
}

// AnomalyStore persists the operator queue. File is idempotent per
// (kind, attempt): re-detecting a known anomaly does not duplicate it.
type AnomalyStore interface {
	File(ctx context.Context, a *Anomaly) error
	ListOpen(ctx context.Context, limit int) ([]Anomaly, error)
}
