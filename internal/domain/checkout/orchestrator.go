package checkout

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/xenking/storefront-checkout/internal/domain/cart"
	"github.com/xenking/storefront-checkout/internal/domain/catalog"
	"github.com/xenking/storefront-checkout/internal/domain/order"
	"github.com/xenking/storefront-checkout/internal/domain/payment"
	"github.com/xenking/storefront-checkout/internal/domain/reservation"
)

// Notifier receives confirmation requests for committed orders. Delivery is
// best-effort; implementations must never block the checkout path.
type Notifier interface {
	OrderCommitted(o *order.Order, items []order.Item, email string)
}

// Config holds the orchestrator's tunables.
type Config struct {
	// HoldWindow bounds how long reserved stock waits for payment before
	// the attempt expires.
	HoldWindow time.Duration
	// Currency is the storefront's settlement currency.
	Currency string
}

// Orchestrator sequences one checkout attempt through the pipeline and
// defines the externally observable checkout protocol.
type Orchestrator struct {
	cfg       Config
	carts     cart.Repository
	products  catalog.Repository
	stock     *reservation.Engine
	payments  *payment.Orchestrator
	ledger    order.Ledger
	attempts  AttemptStore
	anomalies AnomalyStore
	notifier  Notifier
	metrics   *Metrics
	lg        *zap.Logger
}

// NewOrchestrator wires the checkout pipeline.
func NewOrchestrator(
	cfg Config,
	carts cart.Repository,
	products catalog.Repository,
	stock *reservation.Engine,
	payments *payment.Orchestrator,
	ledger order.Ledger,
	attempts AttemptStore,
	anomalies AnomalyStore,
	notifier Notifier,
	metrics *Metrics,
	lg *zap.Logger,
) *Orchestrator {
	return &Orchestrator{
		cfg:       cfg,
		carts:     carts,
		products:  products,
		stock:     stock,
		payments:  payments,
		ledger:    ledger,
		attempts:  attempts,
		anomalies: anomalies,
		notifier:  notifier,
		metrics:   metrics,
		lg:        lg.Named("checkout"),
	}
}

// Begin runs the synchronous half of the pipeline: reserve stock over every
// cart line, create the payment intent, and park the attempt in
// payment_pending for the gateway-hosted confirmation step. Begin is
// idempotent per attempt ID — re-submitting an attempt returns its recorded
// state instead of re-running the pipeline.
func (o *Orchestrator) Begin(ctx context.Context, attemptID, shopperID, shopperEmail string) (*Attempt, error) {
	ctx, span := o.metrics.startSpan(ctx, "checkout.Begin", attemptID)
	defer span.End()

	existing, err := o.attempts.Get(ctx, attemptID)
	if err != nil && !errors.Is(err, ErrAttemptNotFound) {
		return nil, errors.Wrap(err, "lookup attempt")
	}
	if existing != nil {
		if existing.ShopperID != shopperID {
			return nil, ErrAttemptNotFound
		}
		if existing.Status == StatusStockHeld && existing.IntentID == "" {
			// An earlier submission timed out creating the intent.
			// Replaying the create is safe: the attempt ID is the
			// idempotency key.
			return o.continueToPayment(ctx, existing)
		}
		o.lg.Info("duplicate checkout submission",
			zap.String("attempt_id", attemptID),
			zap.String("status", string(existing.Status)),
		)
		return existing, nil
	}

	lines, err := o.carts.List(ctx, shopperID)
	if err != nil {
		return nil, errors.Wrap(err, "load cart")
	}
	if len(lines) == 0 {
		return nil, cart.ErrEmptyCart
	}

	items, total, err := o.snapshotCart(ctx, lines)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	attempt := &Attempt{
		ID:           attemptID,
		ShopperID:    shopperID,
		ShopperEmail: shopperEmail,
		Status:       StatusInitiated,
		Items:        items,
		Total:        total,
		Currency:     o.cfg.Currency,
		ExpiresAt:    now.Add(o.cfg.HoldWindow),
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := o.attempts.Create(ctx, attempt); err != nil {
		if errors.Is(err, ErrAttemptExists) {
			// Lost a race against a concurrent submission of the same
			// attempt; return whatever that run recorded.
			return o.attempts.Get(ctx, attemptID)
		}
		return nil, errors.Wrap(err, "create attempt")
	}

	reserveLines := make([]catalog.Line, len(items))
	for i, it := range items {
		reserveLines[i] = catalog.Line{ProductID: it.ProductID, Quantity: it.Quantity}
	}
	if err := o.stock.Reserve(ctx, attemptID, reserveLines, o.cfg.HoldWindow); err != nil {
		o.fail(ctx, attempt, FailureInsufficientStock)
		return nil, err
	}
	o.transition(ctx, attempt, StatusStockHeld, Patch{})

	return o.continueToPayment(ctx, attempt)
}

// continueToPayment creates the payment intent for an attempt holding stock
// and parks it in payment_pending. On a definitive failure the hold is
// released and the attempt failed; on a timeout the outcome is unknown, so
// the hold stays put until a resubmission or the expiry sweep resolves it.
func (o *Orchestrator) continueToPayment(ctx context.Context, attempt *Attempt) (*Attempt, error) {
	intent, err := o.payments.CreateIntent(ctx, attempt.ID, attempt.Total, attempt.Currency)
	if err != nil {
		if errors.Is(err, payment.ErrGatewayTimeout) {
			o.lg.Warn("intent creation timed out, keeping hold",
				zap.String("attempt_id", attempt.ID))
			return nil, err
		}
		code := FailureGatewayUnavailable
		var declined *payment.DeclinedError
		if errors.As(err, &declined) {
			code = FailurePaymentDeclined
		}
		if relErr := o.stock.Release(ctx, attempt.ID); relErr != nil {
			o.lg.Error("release after intent failure", zap.String("attempt_id", attempt.ID), zap.Error(relErr))
		}
		o.fail(ctx, attempt, code)
		return nil, err
	}

	o.transition(ctx, attempt, StatusPaymentPending, Patch{IntentID: &intent.ID})
	o.lg.Info("attempt awaiting payment",
		zap.String("attempt_id", attempt.ID),
		zap.String("intent_id", intent.ID),
		zap.String("total", attempt.Total.StringFixed(2)),
	)
	return attempt, nil
}

// Status returns the attempt's recorded state for re-entrant result-page
// polling. Foreign attempts are indistinguishable from missing ones.
func (o *Orchestrator) Status(ctx context.Context, attemptID, shopperID string) (*Attempt, error) {
	a, err := o.attempts.Get(ctx, attemptID)
	if err != nil {
		return nil, err
	}
	if a.ShopperID != shopperID {
		return nil, ErrAttemptNotFound
	}
	return a, nil
}

// HandlePaymentEvent applies one gateway webhook delivery: reconcile the
// intent, then advance the owning attempt. Duplicate deliveries are no-ops.
func (o *Orchestrator) HandlePaymentEvent(ctx context.Context, raw []byte, signature string) error {
	res, err := o.payments.Reconcile(ctx, raw, signature)
	if err != nil {
		return err
	}
	if res.Intent == nil {
		return nil
	}

	ctx, span := o.metrics.startSpan(ctx, "checkout.HandlePaymentEvent", res.Intent.AttemptID)
	defer span.End()

	attempt, err := o.attempts.Get(ctx, res.Intent.AttemptID)
	if err != nil {
		if errors.Is(err, ErrAttemptNotFound) {
			o.fileAnomaly(ctx, AnomalyConflictingTransition, res.Intent.AttemptID, res.Intent.ID,
				"intent references unknown checkout attempt")
			return nil
		}
		return errors.Wrap(err, "lookup attempt")
	}

	if res.Conflict {
		o.fileAnomaly(ctx, AnomalyConflictingTransition, attempt.ID, res.Intent.ID,
			"event "+string(res.Event.Type)+" contradicts intent status "+string(res.Intent.Status))
		return nil
	}

	switch res.Intent.Status {
	case payment.StatusSucceeded:
		return o.handleSucceeded(ctx, attempt, res.Intent, res.Applied)
	case payment.StatusFailed, payment.StatusCanceled:
		return o.handleNotPaid(ctx, attempt, res.Intent)
	default:
		return nil
	}
}

// handleSucceeded drives an attempt with a succeeded intent towards commit.
// firstDelivery gates anomaly filing so duplicates don't refile.
func (o *Orchestrator) handleSucceeded(ctx context.Context, attempt *Attempt, intent *payment.Intent, firstDelivery bool) error {
	switch attempt.Status {
	case StatusCommitted:
		return nil
	case StatusPaid:
		return o.commitPaid(ctx, attempt)
	case StatusStockHeld, StatusPaymentPending:
		ok, err := o.attempts.Transition(ctx, attempt.ID, attempt.Status, StatusPaid, Patch{IntentID: &intent.ID})
		if err != nil {
			return errors.Wrap(err, "mark paid")
		}
		if !ok {
			// Another path moved the attempt first; re-read and retry once.
			fresh, err := o.attempts.Get(ctx, attempt.ID)
			if err != nil {
				return err
			}
			return o.handleSucceeded(ctx, fresh, intent, false)
		}
		attempt.Status = StatusPaid
		return o.commitPaid(ctx, attempt)
	case StatusExpired:
		// Money moved after the hold was released. Never silently create an
		// order; surface to the operator queue instead.
		if firstDelivery {
			o.fileAnomaly(ctx, AnomalyLateSuccess, attempt.ID, intent.ID,
				"success event arrived after hold-window expiry; stock already released")
		}
		return nil
	default: // failed, initiated
		if firstDelivery {
			o.fileAnomaly(ctx, AnomalyConflictingTransition, attempt.ID, intent.ID,
				"success event for attempt in status "+string(attempt.Status))
		}
		return nil
	}
}

func (o *Orchestrator) handleNotPaid(ctx context.Context, attempt *Attempt, intent *payment.Intent) error {
	switch attempt.Status {
	case StatusStockHeld, StatusPaymentPending:
		if err := o.stock.Release(ctx, attempt.ID); err != nil {
			return errors.Wrap(err, "release stock")
		}
		code := FailurePaymentDeclined
		if intent.Status == payment.StatusCanceled {
			code = FailurePaymentCanceled
		}
		o.fail(ctx, attempt, code)
		return nil
	case StatusCommitted, StatusPaid:
		o.fileAnomaly(ctx, AnomalyConflictingTransition, attempt.ID, intent.ID,
			"intent reported "+string(intent.Status)+" for attempt in status "+string(attempt.Status))
		return nil
	default:
		return nil
	}
}

// commitPaid performs step 4: write the order and its items, mark the
// attempt's reservations committed, and clear the shopper's cart — all in one
// ledger transaction. Safe to replay: the ledger dedups on attempt ID.
func (o *Orchestrator) commitPaid(ctx context.Context, attempt *Attempt) error {
	ord := &order.Order{
		ID:        uuid.NewString(),
		AttemptID: attempt.ID,
		ShopperID: attempt.ShopperID,
		Status:    order.StatusPaid,
		Total:     attempt.Total,
		Currency:  attempt.Currency,
		CreatedAt: time.Now(),
	}
	items := make([]order.Item, len(attempt.Items))
	for i, it := range attempt.Items {
		items[i] = order.Item{
			OrderID:   ord.ID,
			ProductID: it.ProductID,
			Quantity:  it.Quantity,
			UnitPrice: it.UnitPrice,
		}
	}

	committed, err := o.ledger.Commit(ctx, ord, items)
	if err != nil {
		return errors.Wrap(err, "commit order")
	}
	for i := range items {
		items[i].OrderID = committed.ID
	}

	ok, err := o.attempts.Transition(ctx, attempt.ID, StatusPaid, StatusCommitted, Patch{OrderID: &committed.ID})
	if err != nil {
		return errors.Wrap(err, "mark committed")
	}
	if !ok {
		// Already committed by a concurrent replay.
		return nil
	}

	o.metrics.addCommitted(ctx)
	o.lg.Info("order committed",
		zap.String("attempt_id", attempt.ID),
		zap.String("order_id", committed.ID),
		zap.String("total", committed.Total.StringFixed(2)),
	)
	if o.notifier != nil {
		o.notifier.OrderCommitted(committed, items, attempt.ShopperEmail)
	}
	return nil
}

// snapshotCart validates cart lines against the catalog and captures prices.
func (o *Orchestrator) snapshotCart(ctx context.Context, lines []cart.Line) ([]Item, decimal.Decimal, error) {
	ids := make([]string, len(lines))
	for i, l := range lines {
		ids[i] = l.ProductID
	}
	products, err := o.products.GetByIDs(ctx, ids)
	if err != nil {
		return nil, decimal.Zero, errors.Wrap(err, "load products")
	}
	byID := make(map[string]catalog.Product, len(products))
	for _, p := range products {
		byID[p.ID] = p
	}

	items := make([]Item, len(lines))
	total := decimal.Zero
	for i, l := range lines {
		p, ok := byID[l.ProductID]
		if !ok {
			return nil, decimal.Zero, errors.Wrapf(catalog.ErrNotFound, "product %s", l.ProductID)
		}
		items[i] = Item{
			ProductID: l.ProductID,
			Quantity:  l.Quantity,
			UnitPrice: p.UnitPrice,
		}
		total = total.Add(p.UnitPrice.Mul(decimal.NewFromInt(int64(l.Quantity))))
	}
	return items, total.Round(2), nil
}

// fail moves the attempt to failed with the given code. Best effort: the
// caller already has a primary error to surface.
func (o *Orchestrator) fail(ctx context.Context, attempt *Attempt, code string) {
	ok, err := o.attempts.Transition(ctx, attempt.ID, attempt.Status, StatusFailed, Patch{FailureCode: &code})
	if err != nil {
		o.lg.Error("record failure", zap.String("attempt_id", attempt.ID), zap.Error(err))
		return
	}
	if ok {
		attempt.Status = StatusFailed
		attempt.FailureCode = code
		o.metrics.addFailed(ctx)
	}
}

// transition applies a forward step on the happy path, logging CAS misses
// that indicate interleaved writers.
func (o *Orchestrator) transition(ctx context.Context, attempt *Attempt, to Status, patch Patch) {
	ok, err := o.attempts.Transition(ctx, attempt.ID, attempt.Status, to, patch)
	if err != nil {
		o.lg.Error("transition", zap.String("attempt_id", attempt.ID), zap.String("to", string(to)), zap.Error(err))
		return
	}
	if !ok {
		o.lg.Warn("transition lost race",
			zap.String("attempt_id", attempt.ID),
			zap.String("from", string(attempt.Status)),
			zap.String("to", string(to)),
		)
		return
	}
	attempt.Status = to
	if patch.IntentID != nil {
		attempt.IntentID = *patch.IntentID
	}
	if patch.OrderID != nil {
		attempt.OrderID = *patch.OrderID
	}
}

func (o *Orchestrator) fileAnomaly(ctx context.Context, kind AnomalyKind, attemptID, intentID, detail string) {
	a := &Anomaly{
		ID:        uuid.NewString(),
		Kind:      kind,
		AttemptID: attemptID,
		IntentID:  intentID,
		Detail:    detail,
		CreatedAt: time.Now(),
	}
	if err := o.anomalies.File(ctx, a); err != nil {
		o.lg.Error("file anomaly", zap.String("attempt_id", attemptID), zap.Error(err))
		return
	}
	o.metrics.addAnomaly(ctx)
	o.lg.Warn("reconciliation anomaly filed",
		zap.String("kind", string(kind)),
		zap.String("attempt_id", attemptID),
		zap.String("intent_id", intentID),
		zap.String("detail", detail),
	)
}
