package payment

import (
	"context"
	"sync"
	"time"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Estimated webhook volume for the dedup front filter. The durable event log
// stays authoritative; the filter only short-circuits repeated duplicates.
const (
	dedupCapacity = 1_000_000
	dedupFPR      = 0.001
)

// Orchestrator owns the payment intent lifecycle: it creates intents with the
// external gateway and reconciles their asynchronous confirmation events.
type Orchestrator struct {
	gateway Gateway
	intents IntentStore
	events  EventLog
	secret  []byte
	lg      *zap.Logger

	// seen fronts the event log with a probabilistic membership test.
	// bloom.BloomFilter is not goroutine-safe.
	mu   sync.Mutex
	seen *bloom.BloomFilter
}

// NewOrchestrator creates an Orchestrator. webhookSecret authenticates
// inbound gateway events.
func NewOrchestrator(gateway Gateway, intents IntentStore, events EventLog, webhookSecret []byte, lg *zap.Logger) *Orchestrator {
	return &Orchestrator{
		gateway: gateway,
		intents: intents,
		events:  events,
		secret:  webhookSecret,
		lg:      lg.Named("payment"),
		seen:    bloom.NewWithEstimates(dedupCapacity, dedupFPR),
	}
}

// CreateIntent asks the gateway to begin a charge for the given checkout
// attempt. The attempt ID doubles as the idempotency key: repeating the call
// for the same attempt returns the already-recorded intent instead of
// creating a second charge. A gateway timeout is retried once under the same
// key — the gateway deduplicates on its side, so the retry cannot
// double-charge.
func (o *Orchestrator) CreateIntent(ctx context.Context, attemptID string, amount decimal.Decimal, currency string) (*Intent, error) {
	existing, err := o.intents.GetByAttempt(ctx, attemptID)
	if err != nil && !errors.Is(err, ErrIntentNotFound) {
		return nil, errors.Wrap(err, "lookup intent")
	}
	if existing != nil {
		return existing, nil
	}

	req := CreateIntentRequest{
		IdempotencyKey: attemptID,
		Amount:         amount,
		Currency:       currency,
	}

	gw, err := o.gateway.CreateIntent(ctx, req)
	if errors.Is(err, ErrGatewayTimeout) || errors.Is(err, context.DeadlineExceeded) {
		// Outcome unknown; the idempotency key makes the retry safe.
		o.lg.Warn("gateway create timed out, retrying", zap.String("attempt_id", attemptID))
		gw, err = o.gateway.CreateIntent(ctx, req)
	}
	if err != nil {
		return nil, err
	}

	now := time.Now()
	intent := &Intent{
		ID:             gw.ID,
		AttemptID:      attemptID,
		Amount:         amount,
		Currency:       currency,
		Status:         gw.Status,
		IdempotencyKey: attemptID,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := o.intents.Create(ctx, intent); err != nil {
		return nil, errors.Wrap(err, "store intent")
	}

	o.lg.Info("intent created",
		zap.String("attempt_id", attemptID),
		zap.String("intent_id", intent.ID),
		zap.String("amount", amount.StringFixed(2)),
		zap.String("currency", currency),
	)
	return intent, nil
}

// ReconcileResult describes the effect of applying one gateway event.
type ReconcileResult struct {
	Event  Event
	Intent *Intent

	// Applied is true when this delivery changed the intent's status.
	// Duplicates and same-status repeats leave it false.
	Applied bool

	// Conflict is true when the event contradicts a terminal status
	// (e.g. failed after succeeded). Such events are never applied and the
	// caller surfaces them as reconciliation anomalies.
	Conflict bool
}

// Reconcile applies one asynchronous gateway event: verify authenticity,
// drop duplicates, and advance the intent's status under a forward-only
// compare-and-set. Reconciliation is idempotent — the same event delivered
// twice is a no-op on the second application.
func (o *Orchestrator) Reconcile(ctx context.Context, raw []byte, signature string) (*ReconcileResult, error) {
	if !verifySignature(raw, signature, o.secret) {
		o.lg.Warn("dropping event with bad signature", zap.Int("payload_bytes", len(raw)))
		return nil, ErrUntrustedEvent
	}

	ev, err := ParseEvent(raw)
	if err != nil {
		return nil, err
	}

	// Fast path for repeated duplicates: a bloom hit plus a confirmed log
	// entry means this exact event was fully processed before.
	if o.maybeSeen(ev.ID) {
		processed, err := o.events.IsProcessed(ctx, ev.ID)
		if err != nil {
			return nil, errors.Wrap(err, "check event log")
		}
		if processed {
			intent, _ := o.intents.Get(ctx, ev.IntentID)
			return &ReconcileResult{Event: ev, Intent: intent, Applied: false}, nil
		}
	}

	target, ok := ev.Type.TargetStatus()
	if !ok {
		o.lg.Info("ignoring unhandled event type", zap.String("event_type", string(ev.Type)))
		return &ReconcileResult{Event: ev, Applied: false}, nil
	}

	res := &ReconcileResult{Event: ev}
	res.Intent, res.Applied, res.Conflict, err = o.applyTransition(ctx, ev.IntentID, target)
	if err != nil {
		return nil, err
	}

	if _, err := o.events.MarkProcessed(ctx, ev.ID, ev.IntentID); err != nil {
		// The CAS already made the state change idempotent; a lost log entry
		// only costs a redundant pass on redelivery.
		o.lg.Warn("failed to record processed event", zap.String("event_id", ev.ID), zap.Error(err))
	}
	o.markSeen(ev.ID)

	if res.Conflict {
		o.lg.Error("conflicting event for terminal intent",
			zap.String("event_id", ev.ID),
			zap.String("intent_id", ev.IntentID),
			zap.String("intent_status", string(res.Intent.Status)),
			zap.String("event_target", string(target)),
		)
	}
	return res, nil
}

// applyTransition advances the intent towards target under CAS, retrying on
// interleaved writers until the transition lands, repeats, or conflicts.
func (o *Orchestrator) applyTransition(ctx context.Context, intentID string, target Status) (*Intent, bool, bool, error) {
	for {
		intent, err := o.intents.Get(ctx, intentID)
		if err != nil {
			return nil, false, false, err
		}
		if intent.Status == target {
			return intent, false, false, nil
		}
		if !intent.Status.CanTransitionTo(target) {
			return intent, false, true, nil
		}

		ok, err := o.intents.UpdateStatus(ctx, intentID, intent.Status, target)
		if err != nil {
			return nil, false, false, errors.Wrap(err, "update intent status")
		}
		if ok {
			intent.Status = target
			return intent, true, false, nil
		}
		// Lost the race; re-read and re-evaluate.
	}
}

// ResolveIntent queries the gateway's authoritative status for an intent and
// applies it locally. Used when an outcome is unknown — e.g. before expiring
// an attempt, to avoid releasing stock for a payment that actually succeeded.
func (o *Orchestrator) ResolveIntent(ctx context.Context, intentID string) (*Intent, error) {
	status, err := o.gateway.IntentStatus(ctx, intentID)
	if err != nil {
		return nil, err
	}
	intent, _, _, err := o.applyTransition(ctx, intentID, status)
	return intent, err
}

func (o *Orchestrator) maybeSeen(eventID string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.seen.TestString(eventID)
}

func (o *Orchestrator) markSeen(eventID string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.seen.AddString(eventID)
}
