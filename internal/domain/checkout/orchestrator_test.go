package checkout_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xenking/storefront-checkout/internal/domain/cart"
	"github.com/xenking/storefront-checkout/internal/domain/catalog"
	"github.com/xenking/storefront-checkout/internal/domain/checkout"
	"github.com/xenking/storefront-checkout/internal/domain/order"
	"github.com/xenking/storefront-checkout/internal/domain/payment"
	"github.com/xenking/storefront-checkout/internal/domain/reservation"
	"github.com/xenking/storefront-checkout/internal/storage/memory"
)

const (
	secret  = "whsec_test"
	shopper = "shopper-1"
	email   = "shopper@example.com"
)

// fakeGateway scripts CreateIntent and IntentStatus outcomes.
type fakeGateway struct {
	creates      atomic.Int64
	createErr    error
	createStatus payment.Status
	status       payment.Status
	statusErr    error
}

func (g *fakeGateway) CreateIntent(_ context.Context, req payment.CreateIntentRequest) (*payment.GatewayIntent, error) {
	g.creates.Add(1)
	if g.createErr != nil {
		return nil, g.createErr
	}
	status := g.createStatus
	if status == "" {
		status = payment.StatusCreated
	}
	return &payment.GatewayIntent{
		ID:       "pi_" + req.IdempotencyKey,
		Status:   status,
		Amount:   req.Amount,
		Currency: req.Currency,
	}, nil
}

func (g *fakeGateway) IntentStatus(context.Context, string) (payment.Status, error) {
	if g.statusErr != nil {
		return "", g.statusErr
	}
	if g.status == "" {
		return payment.StatusCreated, nil
	}
	return g.status, nil
}

// recordingNotifier captures confirmations synchronously.
type recordingNotifier struct {
	mu     sync.Mutex
	orders []string
}

func (n *recordingNotifier) OrderCommitted(o *order.Order, _ []order.Item, _ string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.orders = append(n.orders, o.ID)
}

func (n *recordingNotifier) committed() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.orders...)
}

// hookedAttempts interposes on status transitions so tests can interleave
// work at exact points of the pipeline.
type hookedAttempts struct {
	checkout.AttemptStore
	before func(from, to checkout.Status)
	after  func(from, to checkout.Status)
}

func (s *hookedAttempts) Transition(ctx context.Context, id string, from, to checkout.Status, patch checkout.Patch) (bool, error) {
	if s.before != nil {
		s.before(from, to)
	}
	ok, err := s.AttemptStore.Transition(ctx, id, from, to, patch)
	if ok && err == nil && s.after != nil {
		s.after(from, to)
	}
	return ok, err
}

type fixture struct {
	orch     *checkout.Orchestrator
	store    *memory.Store
	gateway  *fakeGateway
	notifier *recordingNotifier
}

func newFixture(t *testing.T, holdWindow time.Duration) *fixture {
	t.Helper()
	return newFixtureAttempts(t, holdWindow, nil)
}

func newFixtureAttempts(t *testing.T, holdWindow time.Duration, wrap func(checkout.AttemptStore) checkout.AttemptStore) *fixture {
	t.Helper()
	lg := zaptest.NewLogger(t)
	store := memory.NewStore()
	store.SeedProduct(catalog.Product{
		ID:             "prod-1",
		Name:           "Waffle",
		UnitPrice:      decimal.RequireFromString("10.00"),
		AvailableStock: 5,
		Status:         catalog.StatusActive,
	})

	gw := &fakeGateway{}
	notifier := &recordingNotifier{}
	engine := reservation.NewEngine(store.Reservations(), store.Catalog(), lg)
	payments := payment.NewOrchestrator(gw, store.Intents(), store.Events(), []byte(secret), lg)
	metrics, err := checkout.NewMetrics(nil, nil)
	require.NoError(t, err)

	attempts := store.Attempts()
	if wrap != nil {
		attempts = wrap(attempts)
	}
	orch := checkout.NewOrchestrator(
		checkout.Config{HoldWindow: holdWindow, Currency: "USD"},
		store.Carts(), store.Catalog(), engine, payments,
		store.Ledger(), attempts, store.Anomalies(),
		notifier, metrics, lg,
	)
	return &fixture{orch: orch, store: store, gateway: gw, notifier: notifier}
}

func (f *fixture) fillCart(t *testing.T, productID string, qty int) {
	t.Helper()
	require.NoError(t, f.store.Carts().Put(t.Context(), cart.Line{
		ShopperID: shopper,
		ProductID: productID,
		Quantity:  qty,
		AddedAt:   time.Now(),
	}))
}

func (f *fixture) deliver(t *testing.T, eventID, eventType, intentID string) error {
	t.Helper()
	raw := []byte(`{"id":"` + eventID + `","type":"` + eventType + `","intent_id":"` + intentID + `"}`)
	return f.orch.HandlePaymentEvent(t.Context(), raw, payment.Sign(raw, []byte(secret)))
}

func (f *fixture) openAnomalies(t *testing.T) []checkout.Anomaly {
	t.Helper()
	out, err := f.store.Anomalies().ListOpen(t.Context(), 100)
	require.NoError(t, err)
	return out
}

func TestBeginHappyPath(t *testing.T) {
	t.Parallel()
	f := newFixture(t, 15*time.Minute)
	f.fillCart(t, "prod-1", 2)

	attemptID := uuid.NewString()
	attempt, err := f.orch.Begin(t.Context(), attemptID, shopper, email)
	require.NoError(t, err)

	assert.Equal(t, checkout.StatusPaymentPending, attempt.Status)
	assert.Equal(t, "20.00", attempt.Total.StringFixed(2))
	assert.Equal(t, "pi_"+attemptID, attempt.IntentID)
	assert.Equal(t, 3, f.store.StockOf("prod-1"))

	intent, err := f.store.Intents().GetByAttempt(t.Context(), attemptID)
	require.NoError(t, err)
	assert.True(t, intent.Amount.Equal(attempt.Total), "intent amount must equal attempt total")
}

func TestBeginEmptyCart(t *testing.T) {
	t.Parallel()
	f := newFixture(t, 15*time.Minute)

	_, err := f.orch.Begin(t.Context(), uuid.NewString(), shopper, email)
	require.Error(t, err)
	assert.Equal(t, int64(0), f.gateway.creates.Load())
}

func TestBeginInsufficientStock(t *testing.T) {
	t.Parallel()
	f := newFixture(t, 15*time.Minute)
	f.fillCart(t, "prod-1", 9)

	attemptID := uuid.NewString()
	_, err := f.orch.Begin(t.Context(), attemptID, shopper, email)

	var insufficient *catalog.InsufficientStockError
	require.ErrorAs(t, err, &insufficient)

	// No intent was created and no stock moved.
	assert.Equal(t, int64(0), f.gateway.creates.Load())
	assert.Equal(t, 5, f.store.StockOf("prod-1"))

	attempt, err := f.store.Attempts().Get(t.Context(), attemptID)
	require.NoError(t, err)
	assert.Equal(t, checkout.StatusFailed, attempt.Status)
	assert.Equal(t, checkout.FailureInsufficientStock, attempt.FailureCode)
}

func TestBeginIdempotent(t *testing.T) {
	t.Parallel()
	f := newFixture(t, 15*time.Minute)
	f.fillCart(t, "prod-1", 1)

	attemptID := uuid.NewString()
	first, err := f.orch.Begin(t.Context(), attemptID, shopper, email)
	require.NoError(t, err)

	for range 3 {
		again, err := f.orch.Begin(t.Context(), attemptID, shopper, email)
		require.NoError(t, err)
		assert.Equal(t, first.Status, again.Status)
	}

	assert.Equal(t, int64(1), f.gateway.creates.Load())
	assert.Equal(t, 4, f.store.StockOf("prod-1"))
}

func TestBeginForeignAttemptHidden(t *testing.T) {
	t.Parallel()
	f := newFixture(t, 15*time.Minute)
	f.fillCart(t, "prod-1", 1)

	attemptID := uuid.NewString()
	_, err := f.orch.Begin(t.Context(), attemptID, shopper, email)
	require.NoError(t, err)

	_, err = f.orch.Begin(t.Context(), attemptID, "shopper-2", "other@example.com")
	require.ErrorIs(t, err, checkout.ErrAttemptNotFound)

	_, err = f.orch.Status(t.Context(), attemptID, "shopper-2")
	require.ErrorIs(t, err, checkout.ErrAttemptNotFound)
}

func TestBeginDeclinedReleasesStock(t *testing.T) {
	t.Parallel()
	f := newFixture(t, 15*time.Minute)
	f.gateway.createErr = &payment.DeclinedError{Reason: "insufficient_funds"}
	f.fillCart(t, "prod-1", 2)

	attemptID := uuid.NewString()
	_, err := f.orch.Begin(t.Context(), attemptID, shopper, email)

	var declined *payment.DeclinedError
	require.ErrorAs(t, err, &declined)
	assert.Equal(t, 5, f.store.StockOf("prod-1"))

	attempt, err := f.store.Attempts().Get(t.Context(), attemptID)
	require.NoError(t, err)
	assert.Equal(t, checkout.StatusFailed, attempt.Status)
	assert.Equal(t, checkout.FailurePaymentDeclined, attempt.FailureCode)
}

func TestBeginGatewayUnavailableReleasesStock(t *testing.T) {
	t.Parallel()
	f := newFixture(t, 15*time.Minute)
	f.gateway.createErr = payment.ErrGatewayUnavailable
	f.fillCart(t, "prod-1", 2)

	attemptID := uuid.NewString()
	_, err := f.orch.Begin(t.Context(), attemptID, shopper, email)
	require.ErrorIs(t, err, payment.ErrGatewayUnavailable)
	assert.Equal(t, 5, f.store.StockOf("prod-1"))

	attempt, err := f.store.Attempts().Get(t.Context(), attemptID)
	require.NoError(t, err)
	assert.Equal(t, checkout.FailureGatewayUnavailable, attempt.FailureCode)
}

func TestSuccessEventCommitsOrder(t *testing.T) {
	t.Parallel()
	f := newFixture(t, 15*time.Minute)
	f.fillCart(t, "prod-1", 2)

	attemptID := uuid.NewString()
	_, err := f.orch.Begin(t.Context(), attemptID, shopper, email)
	require.NoError(t, err)

	require.NoError(t, f.deliver(t, "evt_1", "payment_intent.succeeded", "pi_"+attemptID))

	attempt, err := f.orch.Status(t.Context(), attemptID, shopper)
	require.NoError(t, err)
	assert.Equal(t, checkout.StatusCommitted, attempt.Status)
	require.NotEmpty(t, attempt.OrderID)

	// Order total equals the priced snapshot and the intent amount.
	ord, items, err := f.store.Ledger().GetForShopper(t.Context(), attempt.OrderID, shopper)
	require.NoError(t, err)
	assert.Equal(t, "20.00", ord.Total.StringFixed(2))
	sum := decimal.Zero
	for _, it := range items {
		sum = sum.Add(it.UnitPrice.Mul(decimal.NewFromInt(int64(it.Quantity))))
	}
	assert.True(t, sum.Equal(ord.Total))

	// Cart cleared inside the commit.
	lines, err := f.store.Carts().List(t.Context(), shopper)
	require.NoError(t, err)
	assert.Empty(t, lines)

	// Confirmation dispatched once.
	assert.Equal(t, []string{attempt.OrderID}, f.notifier.committed())
}

func TestDuplicateSuccessEventsOneOrder(t *testing.T) {
	t.Parallel()
	f := newFixture(t, 15*time.Minute)
	f.fillCart(t, "prod-1", 1)

	attemptID := uuid.NewString()
	_, err := f.orch.Begin(t.Context(), attemptID, shopper, email)
	require.NoError(t, err)

	for range 3 {
		require.NoError(t, f.deliver(t, "evt_1", "payment_intent.succeeded", "pi_"+attemptID))
	}

	attempt, err := f.orch.Status(t.Context(), attemptID, shopper)
	require.NoError(t, err)
	assert.Equal(t, checkout.StatusCommitted, attempt.Status)
	assert.Len(t, f.notifier.committed(), 1)
	assert.Empty(t, f.openAnomalies(t))
}

func TestFailedEventReleasesStock(t *testing.T) {
	t.Parallel()
	f := newFixture(t, 15*time.Minute)
	f.fillCart(t, "prod-1", 2)

	attemptID := uuid.NewString()
	_, err := f.orch.Begin(t.Context(), attemptID, shopper, email)
	require.NoError(t, err)
	require.Equal(t, 3, f.store.StockOf("prod-1"))

	require.NoError(t, f.deliver(t, "evt_1", "payment_intent.payment_failed", "pi_"+attemptID))

	attempt, err := f.orch.Status(t.Context(), attemptID, shopper)
	require.NoError(t, err)
	assert.Equal(t, checkout.StatusFailed, attempt.Status)
	assert.Equal(t, checkout.FailurePaymentDeclined, attempt.FailureCode)
	assert.Equal(t, 5, f.store.StockOf("prod-1"))
}

func TestCanceledEventReleasesStock(t *testing.T) {
	t.Parallel()
	f := newFixture(t, 15*time.Minute)
	f.fillCart(t, "prod-1", 2)

	attemptID := uuid.NewString()
	_, err := f.orch.Begin(t.Context(), attemptID, shopper, email)
	require.NoError(t, err)

	require.NoError(t, f.deliver(t, "evt_1", "payment_intent.canceled", "pi_"+attemptID))

	attempt, err := f.orch.Status(t.Context(), attemptID, shopper)
	require.NoError(t, err)
	assert.Equal(t, checkout.StatusFailed, attempt.Status)
	assert.Equal(t, checkout.FailurePaymentCanceled, attempt.FailureCode)
	assert.Equal(t, 5, f.store.StockOf("prod-1"))
}

func TestFailedAfterCommittedFilesAnomaly(t *testing.T) {
	t.Parallel()
	f := newFixture(t, 15*time.Minute)
	f.fillCart(t, "prod-1", 1)

	attemptID := uuid.NewString()
	_, err := f.orch.Begin(t.Context(), attemptID, shopper, email)
	require.NoError(t, err)
	require.NoError(t, f.deliver(t, "evt_1", "payment_intent.succeeded", "pi_"+attemptID))

	// A contradictory event for a terminal intent must not unwind the order.
	require.NoError(t, f.deliver(t, "evt_2", "payment_intent.payment_failed", "pi_"+attemptID))

	attempt, err := f.orch.Status(t.Context(), attemptID, shopper)
	require.NoError(t, err)
	assert.Equal(t, checkout.StatusCommitted, attempt.Status)

	anomalies := f.openAnomalies(t)
	require.Len(t, anomalies, 1)
	assert.Equal(t, checkout.AnomalyConflictingTransition, anomalies[0].Kind)
}

func TestExpiryReleasesHold(t *testing.T) {
	t.Parallel()
	// Negative hold window: the attempt is born expired.
	f := newFixture(t, -time.Minute)
	f.fillCart(t, "prod-1", 2)

	attemptID := uuid.NewString()
	_, err := f.orch.Begin(t.Context(), attemptID, shopper, email)
	require.NoError(t, err)
	require.Equal(t, 3, f.store.StockOf("prod-1"))

	require.NoError(t, f.orch.ExpireStale(t.Context(), time.Now()))

	attempt, err := f.orch.Status(t.Context(), attemptID, shopper)
	require.NoError(t, err)
	assert.Equal(t, checkout.StatusExpired, attempt.Status)
	assert.Equal(t, 5, f.store.StockOf("prod-1"))

	// Sweeping again is a no-op.
	require.NoError(t, f.orch.ExpireStale(t.Context(), time.Now()))
	assert.Equal(t, 5, f.store.StockOf("prod-1"))
}

func TestLateSuccessAfterExpiryFilesAnomaly(t *testing.T) {
	t.Parallel()
	f := newFixture(t, -time.Minute)
	f.fillCart(t, "prod-1", 2)

	attemptID := uuid.NewString()
	_, err := f.orch.Begin(t.Context(), attemptID, shopper, email)
	require.NoError(t, err)
	require.NoError(t, f.orch.ExpireStale(t.Context(), time.Now()))

	// The success event arrives after the hold was released.
	require.NoError(t, f.deliver(t, "evt_1", "payment_intent.succeeded", "pi_"+attemptID))

	attempt, err := f.orch.Status(t.Context(), attemptID, shopper)
	require.NoError(t, err)
	assert.Equal(t, checkout.StatusExpired, attempt.Status)
	assert.Empty(t, attempt.OrderID, "no silent order for a late success")

	anomalies := f.openAnomalies(t)
	require.Len(t, anomalies, 1)
	assert.Equal(t, checkout.AnomalyLateSuccess, anomalies[0].Kind)

	// Duplicate late delivery must not refile.
	require.NoError(t, f.deliver(t, "evt_1", "payment_intent.succeeded", "pi_"+attemptID))
	assert.Len(t, f.openAnomalies(t), 1)
}

func TestExpirySweepResolvesSucceededIntent(t *testing.T) {
	t.Parallel()
	f := newFixture(t, -time.Minute)
	f.fillCart(t, "prod-1", 2)

	attemptID := uuid.NewString()
	_, err := f.orch.Begin(t.Context(), attemptID, shopper, email)
	require.NoError(t, err)

	// The webhook was lost, but the gateway says the charge went through.
	f.gateway.status = payment.StatusSucceeded

	require.NoError(t, f.orch.ExpireStale(t.Context(), time.Now()))

	attempt, err := f.orch.Status(t.Context(), attemptID, shopper)
	require.NoError(t, err)
	assert.Equal(t, checkout.StatusCommitted, attempt.Status)
	assert.NotEmpty(t, attempt.OrderID)
	assert.Equal(t, 3, f.store.StockOf("prod-1"), "sold stock stays decremented")
}

func TestExpirySweepKeepsHoldWhenGatewayDown(t *testing.T) {
	t.Parallel()
	f := newFixture(t, -time.Minute)
	f.fillCart(t, "prod-1", 2)

	attemptID := uuid.NewString()
	_, err := f.orch.Begin(t.Context(), attemptID, shopper, email)
	require.NoError(t, err)

	f.gateway.statusErr = payment.ErrGatewayUnavailable
	require.NoError(t, f.orch.ExpireStale(t.Context(), time.Now()))

	// Unknown outcome: nothing released, nothing expired.
	attempt, err := f.orch.Status(t.Context(), attemptID, shopper)
	require.NoError(t, err)
	assert.Equal(t, checkout.StatusPaymentPending, attempt.Status)
	assert.Equal(t, 3, f.store.StockOf("prod-1"))
}

func TestRecoverStuckReplaysCommit(t *testing.T) {
	t.Parallel()
	f := newFixture(t, 15*time.Minute)
	f.fillCart(t, "prod-1", 2)

	attemptID := uuid.NewString()
	_, err := f.orch.Begin(t.Context(), attemptID, shopper, email)
	require.NoError(t, err)

	// Simulate a crash after the paid transition but before the commit.
	ok, err := f.store.Attempts().Transition(t.Context(), attemptID,
		checkout.StatusPaymentPending, checkout.StatusPaid, checkout.Patch{})
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, f.orch.RecoverStuck(t.Context()))

	attempt, err := f.orch.Status(t.Context(), attemptID, shopper)
	require.NoError(t, err)
	assert.Equal(t, checkout.StatusCommitted, attempt.Status)
	assert.NotEmpty(t, attempt.OrderID)
	assert.Len(t, f.notifier.committed(), 1)
}

func TestPriceSnapshotSticksThroughRepricing(t *testing.T) {
	t.Parallel()
	f := newFixture(t, 15*time.Minute)
	f.fillCart(t, "prod-1", 2)

	attemptID := uuid.NewString()
	_, err := f.orch.Begin(t.Context(), attemptID, shopper, email)
	require.NoError(t, err)

	// Repricing after the snapshot must not change what the shopper pays.
	f.store.SeedProduct(catalog.Product{
		ID:             "prod-1",
		Name:           "Waffle",
		UnitPrice:      decimal.RequireFromString("99.00"),
		AvailableStock: 3,
		Status:         catalog.StatusActive,
	})

	require.NoError(t, f.deliver(t, "evt_1", "payment_intent.succeeded", "pi_"+attemptID))

	attempt, err := f.orch.Status(t.Context(), attemptID, shopper)
	require.NoError(t, err)
	ord, _, err := f.store.Ledger().GetForShopper(t.Context(), attempt.OrderID, shopper)
	require.NoError(t, err)
	assert.Equal(t, "20.00", ord.Total.StringFixed(2))
}

func TestSuccessRacingExpiryCommitsOnce(t *testing.T) {
	t.Parallel()
	hooked := &hookedAttempts{}
	f := newFixtureAttempts(t, -time.Minute, func(inner checkout.AttemptStore) checkout.AttemptStore {
		hooked.AttemptStore = inner
		return hooked
	})
	f.fillCart(t, "prod-1", 2)

	attemptID := uuid.NewString()
	_, err := f.orch.Begin(t.Context(), attemptID, shopper, email)
	require.NoError(t, err)

	// The charge confirmation lands just as the sweep is about to expire
	// the attempt. The confirmation must win: the expiry transition loses
	// its compare-and-swap and never touches the hold.
	var delivered atomic.Bool
	hooked.before = func(_, to checkout.Status) {
		if to != checkout.StatusExpired || !delivered.CompareAndSwap(false, true) {
			return
		}
		require.NoError(t, f.deliver(t, "evt_1", "payment_intent.succeeded", "pi_"+attemptID))
	}

	require.NoError(t, f.orch.ExpireStale(t.Context(), time.Now()))
	require.True(t, delivered.Load())

	attempt, err := f.orch.Status(t.Context(), attemptID, shopper)
	require.NoError(t, err)
	assert.Equal(t, checkout.StatusCommitted, attempt.Status)
	assert.NotEmpty(t, attempt.OrderID)
	assert.Equal(t, 3, f.store.StockOf("prod-1"), "sold stock stays decremented")
	assert.Empty(t, f.openAnomalies(t))
	assert.Len(t, f.notifier.committed(), 1)
}

func TestSuccessAfterExpiryTransitionFilesAnomaly(t *testing.T) {
	t.Parallel()
	hooked := &hookedAttempts{}
	f := newFixtureAttempts(t, -time.Minute, func(inner checkout.AttemptStore) checkout.AttemptStore {
		hooked.AttemptStore = inner
		return hooked
	})
	f.fillCart(t, "prod-1", 2)

	attemptID := uuid.NewString()
	_, err := f.orch.Begin(t.Context(), attemptID, shopper, email)
	require.NoError(t, err)

	// The charge confirmation lands after the attempt is marked expired
	// but before its stock is returned. No order may appear; the money
	// movement surfaces as an anomaly.
	var delivered atomic.Bool
	hooked.after = func(_, to checkout.Status) {
		if to != checkout.StatusExpired || !delivered.CompareAndSwap(false, true) {
			return
		}
		require.NoError(t, f.deliver(t, "evt_1", "payment_intent.succeeded", "pi_"+attemptID))
	}

	require.NoError(t, f.orch.ExpireStale(t.Context(), time.Now()))
	require.True(t, delivered.Load())

	attempt, err := f.orch.Status(t.Context(), attemptID, shopper)
	require.NoError(t, err)
	assert.Equal(t, checkout.StatusExpired, attempt.Status)
	assert.Empty(t, attempt.OrderID, "no silent order for a success racing expiry")
	assert.Equal(t, 5, f.store.StockOf("prod-1"))
	assert.Empty(t, f.notifier.committed())

	anomalies := f.openAnomalies(t)
	require.Len(t, anomalies, 1)
	assert.Equal(t, checkout.AnomalyLateSuccess, anomalies[0].Kind)
}

func TestOrphanedHoldRestockedAfterInterruptedRelease(t *testing.T) {
	t.Parallel()
	f := newFixture(t, -time.Minute)
	f.fillCart(t, "prod-1", 2)

	attemptID := uuid.NewString()
	_, err := f.orch.Begin(t.Context(), attemptID, shopper, email)
	require.NoError(t, err)
	require.Equal(t, 3, f.store.StockOf("prod-1"))

	// Crash between the expiry transition and the restock: the attempt is
	// already expired but its holds were never released.
	ok, err := f.store.Attempts().Transition(t.Context(), attemptID,
		checkout.StatusPaymentPending, checkout.StatusExpired, checkout.Patch{})
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, f.orch.ExpireStale(t.Context(), time.Now()))

	attempt, err := f.store.Attempts().Get(t.Context(), attemptID)
	require.NoError(t, err)
	assert.Equal(t, checkout.StatusExpired, attempt.Status)
	assert.Equal(t, 5, f.store.StockOf("prod-1"))

	// Sweeping again is a no-op.
	require.NoError(t, f.orch.ExpireStale(t.Context(), time.Now()))
	assert.Equal(t, 5, f.store.StockOf("prod-1"))
}

func TestBeginGatewayTimeoutKeepsHold(t *testing.T) {
	t.Parallel()
	f := newFixture(t, 15*time.Minute)
	f.gateway.createErr = payment.ErrGatewayTimeout
	f.fillCart(t, "prod-1", 2)

	attemptID := uuid.NewString()
	_, err := f.orch.Begin(t.Context(), attemptID, shopper, email)
	require.ErrorIs(t, err, payment.ErrGatewayTimeout)

	// Outcome unknown: an intent may exist under this idempotency key, so
	// the hold must not be released.
	assert.Equal(t, 3, f.store.StockOf("prod-1"))
	attempt, err := f.store.Attempts().Get(t.Context(), attemptID)
	require.NoError(t, err)
	assert.Equal(t, checkout.StatusStockHeld, attempt.Status)

	// A resubmission replays the create under the same idempotency key.
	f.gateway.createErr = nil
	again, err := f.orch.Begin(t.Context(), attemptID, shopper, email)
	require.NoError(t, err)
	assert.Equal(t, checkout.StatusPaymentPending, again.Status)
	assert.Equal(t, "pi_"+attemptID, again.IntentID)
	assert.Equal(t, 3, f.store.StockOf("prod-1"))
}

func TestExpirySweepResolvesTimedOutCreate(t *testing.T) {
	t.Parallel()
	f := newFixture(t, -time.Minute)
	f.gateway.createErr = payment.ErrGatewayTimeout
	f.fillCart(t, "prod-1", 2)

	attemptID := uuid.NewString()
	_, err := f.orch.Begin(t.Context(), attemptID, shopper, email)
	require.ErrorIs(t, err, payment.ErrGatewayTimeout)
	require.Equal(t, 3, f.store.StockOf("prod-1"))

	// Gateway still timing out at sweep time: nothing released yet.
	require.NoError(t, f.orch.ExpireStale(t.Context(), time.Now()))
	assert.Equal(t, 3, f.store.StockOf("prod-1"))

	// The original create had actually landed and the charge went through.
	// The replay under the same idempotency key discovers it and commits.
	f.gateway.createErr = nil
	f.gateway.createStatus = payment.StatusSucceeded
	require.NoError(t, f.orch.ExpireStale(t.Context(), time.Now()))

	attempt, err := f.orch.Status(t.Context(), attemptID, shopper)
	require.NoError(t, err)
	assert.Equal(t, checkout.StatusCommitted, attempt.Status)
	assert.NotEmpty(t, attempt.OrderID)
	assert.Equal(t, 3, f.store.StockOf("prod-1"), "sold stock stays decremented")
}

func TestExpirySweepExpiresTimedOutCreateWithoutCharge(t *testing.T) {
	t.Parallel()
	f := newFixture(t, -time.Minute)
	f.gateway.createErr = payment.ErrGatewayTimeout
	f.fillCart(t, "prod-1", 2)

	attemptID := uuid.NewString()
	_, err := f.orch.Begin(t.Context(), attemptID, shopper, email)
	require.ErrorIs(t, err, payment.ErrGatewayTimeout)

	// The replay finds an intent the shopper never confirmed; safe to
	// expire and restock.
	f.gateway.createErr = nil
	require.NoError(t, f.orch.ExpireStale(t.Context(), time.Now()))

	attempt, err := f.orch.Status(t.Context(), attemptID, shopper)
	require.NoError(t, err)
	assert.Equal(t, checkout.StatusExpired, attempt.Status)
	assert.Equal(t, 5, f.store.StockOf("prod-1"))
}
