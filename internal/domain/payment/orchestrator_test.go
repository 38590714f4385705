package payment_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xenking/storefront-checkout/internal/domain/payment"
	"github.com/xenking/storefront-checkout/internal/gateway"
	"github.com/xenking/storefront-checkout/internal/storage/memory"
)

const secret = "whsec_test"

// fakeGateway counts CreateIntent calls and serves a scripted status.
type fakeGateway struct {
	creates    atomic.Int64
	status     payment.Status
	createErrs []error // consumed per call before succeeding
}

func (g *fakeGateway) CreateIntent(_ context.Context, req payment.CreateIntentRequest) (*payment.GatewayIntent, error) {
	n := g.creates.Add(1)
	if int(n) <= len(g.createErrs) {
		if err := g.createErrs[n-1]; err != nil {
			return nil, err
		}
	}
	return &payment.GatewayIntent{
		ID:       "pi_" + req.IdempotencyKey,
		Status:   payment.StatusCreated,
		Amount:   req.Amount,
		Currency: req.Currency,
	}, nil
}

func (g *fakeGateway) IntentStatus(context.Context, string) (payment.Status, error) {
	if g.status == "" {
		return payment.StatusCreated, nil
	}
	return g.status, nil
}

func newOrchestrator(t *testing.T, gw payment.Gateway) (*payment.Orchestrator, *memory.Store) {
	t.Helper()
	store := memory.NewStore()
	o := payment.NewOrchestrator(gw, store.Intents(), store.Events(), []byte(secret), zaptest.NewLogger(t))
	return o, store
}

func signedEvent(id, typ, intentID string) ([]byte, string) {
	raw := []byte(`{"id":"` + id + `","type":"` + typ + `","intent_id":"` + intentID + `"}`)
	return raw, payment.Sign(raw, []byte(secret))
}

func TestCreateIntentIdempotent(t *testing.T) {
	t.Parallel()
	gw := &fakeGateway{}
	o, _ := newOrchestrator(t, gw)
	amount := decimal.RequireFromString("20.00")

	first, err := o.CreateIntent(t.Context(), "attempt-1", amount, "USD")
	require.NoError(t, err)

	second, err := o.CreateIntent(t.Context(), "attempt-1", amount, "USD")
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, int64(1), gw.creates.Load())
}

func TestCreateIntentRetriesOnTimeout(t *testing.T) {
	t.Parallel()
	gw := &fakeGateway{createErrs: []error{context.DeadlineExceeded}}
	o, _ := newOrchestrator(t, gw)

	intent, err := o.CreateIntent(t.Context(), "attempt-1", decimal.RequireFromString("5.00"), "USD")
	require.NoError(t, err)
	assert.Equal(t, "pi_attempt-1", intent.ID)
	assert.Equal(t, int64(2), gw.creates.Load())
}

func TestReconcileAppliesEvent(t *testing.T) {
	t.Parallel()
	o, _ := newOrchestrator(t, &fakeGateway{})

	_, err := o.CreateIntent(t.Context(), "attempt-1", decimal.RequireFromString("5.00"), "USD")
	require.NoError(t, err)

	raw, sig := signedEvent("evt_1", "payment_intent.succeeded", "pi_attempt-1")
	res, err := o.Reconcile(t.Context(), raw, sig)
	require.NoError(t, err)

	assert.True(t, res.Applied)
	assert.False(t, res.Conflict)
	assert.Equal(t, payment.StatusSucceeded, res.Intent.Status)
}

func TestReconcileDuplicateIsNoOp(t *testing.T) {
	t.Parallel()
	o, store := newOrchestrator(t, &fakeGateway{})

	_, err := o.CreateIntent(t.Context(), "attempt-1", decimal.RequireFromString("5.00"), "USD")
	require.NoError(t, err)

	raw, sig := signedEvent("evt_1", "payment_intent.succeeded", "pi_attempt-1")
	first, err := o.Reconcile(t.Context(), raw, sig)
	require.NoError(t, err)
	require.True(t, first.Applied)

	second, err := o.Reconcile(t.Context(), raw, sig)
	require.NoError(t, err)
	assert.False(t, second.Applied)
	assert.Equal(t, payment.StatusSucceeded, second.Intent.Status)

	processed, err := store.Events().IsProcessed(t.Context(), "evt_1")
	require.NoError(t, err)
	assert.True(t, processed)
}

func TestReconcileRejectsBadSignature(t *testing.T) {
	t.Parallel()
	o, _ := newOrchestrator(t, &fakeGateway{})

	raw, _ := signedEvent("evt_1", "payment_intent.succeeded", "pi_x")
	_, err := o.Reconcile(t.Context(), raw, "deadbeef")
	require.ErrorIs(t, err, payment.ErrUntrustedEvent)

	// Tampered payload under a signature for different bytes.
	_, sig := signedEvent("evt_1", "payment_intent.succeeded", "pi_x")
	_, err = o.Reconcile(t.Context(), []byte(`{"id":"evt_2"}`), sig)
	require.ErrorIs(t, err, payment.ErrUntrustedEvent)
}

func TestReconcileRejectsMalformedEvent(t *testing.T) {
	t.Parallel()
	o, _ := newOrchestrator(t, &fakeGateway{})

	raw := []byte(`{"id":"evt_1"}`)
	_, err := o.Reconcile(t.Context(), raw, payment.Sign(raw, []byte(secret)))
	require.ErrorIs(t, err, payment.ErrMalformedEvent)
}

func TestReconcileConflictingEvent(t *testing.T) {
	t.Parallel()
	o, _ := newOrchestrator(t, &fakeGateway{})

	_, err := o.CreateIntent(t.Context(), "attempt-1", decimal.RequireFromString("5.00"), "USD")
	require.NoError(t, err)

	raw, sig := signedEvent("evt_1", "payment_intent.succeeded", "pi_attempt-1")
	_, err = o.Reconcile(t.Context(), raw, sig)
	require.NoError(t, err)

	// A failure event after success contradicts the terminal status.
	raw, sig = signedEvent("evt_2", "payment_intent.payment_failed", "pi_attempt-1")
	res, err := o.Reconcile(t.Context(), raw, sig)
	require.NoError(t, err)
	assert.True(t, res.Conflict)
	assert.False(t, res.Applied)
	assert.Equal(t, payment.StatusSucceeded, res.Intent.Status)
}

func TestReconcileIgnoresUnknownEventType(t *testing.T) {
	t.Parallel()
	o, _ := newOrchestrator(t, &fakeGateway{})

	raw, sig := signedEvent("evt_1", "payment_intent.amount_capturable_updated", "pi_x")
	res, err := o.Reconcile(t.Context(), raw, sig)
	require.NoError(t, err)
	assert.False(t, res.Applied)
	assert.Nil(t, res.Intent)
}

func TestResolveIntentAppliesGatewayStatus(t *testing.T) {
	t.Parallel()
	gw := &fakeGateway{status: payment.StatusSucceeded}
	o, _ := newOrchestrator(t, gw)

	_, err := o.CreateIntent(t.Context(), "attempt-1", decimal.RequireFromString("5.00"), "USD")
	require.NoError(t, err)

	intent, err := o.ResolveIntent(t.Context(), "pi_attempt-1")
	require.NoError(t, err)
	assert.Equal(t, payment.StatusSucceeded, intent.Status)
}

func TestStatusTransitions(t *testing.T) {
	t.Parallel()

	cases := []struct {
		from, to payment.Status
		ok       bool
	}{
		{payment.StatusCreated, payment.StatusSucceeded, true},
		{payment.StatusCreated, payment.StatusRequiresAction, true},
		{payment.StatusRequiresAction, payment.StatusFailed, true},
		{payment.StatusSucceeded, payment.StatusSucceeded, true},
		{payment.StatusSucceeded, payment.StatusFailed, false},
		{payment.StatusFailed, payment.StatusSucceeded, false},
		{payment.StatusCanceled, payment.StatusCreated, false},
		{payment.StatusSucceeded, payment.StatusRequiresAction, false},
	}
	for _, tc := range cases {
		assert.Equalf(t, tc.ok, tc.from.CanTransitionTo(tc.to), "%s -> %s", tc.from, tc.to)
	}
}

func TestCreateIntentRetriesOnClientTimeout(t *testing.T) {
	t.Parallel()

	// First request hangs past the client deadline; the retry under the
	// same idempotency key goes through.
	var hits atomic.Int64
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) == 1 {
			<-release
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"id":"pi_real","status":"created","amount":"5.00","currency":"USD"}`))
	}))
	defer srv.Close()
	defer close(release)

	store := memory.NewStore()
	client := gateway.NewClient(gateway.Config{
		BaseURL: srv.URL,
		APIKey:  "sk_test",
		Timeout: 50 * time.Millisecond,
	})
	o := payment.NewOrchestrator(client, store.Intents(), store.Events(), []byte(secret), zaptest.NewLogger(t))

	intent, err := o.CreateIntent(t.Context(), "attempt-1", decimal.RequireFromString("5.00"), "USD")
	require.NoError(t, err)
	assert.Equal(t, "pi_real", intent.ID)
	assert.Equal(t, int64(2), hits.Load())
}

func TestCreateIntentTimeoutOnBothTriesSurfaces(t *testing.T) {
	t.Parallel()
	gw := &fakeGateway{createErrs: []error{payment.ErrGatewayTimeout, payment.ErrGatewayTimeout}}
	o, _ := newOrchestrator(t, gw)

	_, err := o.CreateIntent(t.Context(), "attempt-1", decimal.RequireFromString("5.00"), "USD")
	require.ErrorIs(t, err, payment.ErrGatewayTimeout)
	assert.Equal(t, int64(2), gw.creates.Load())
}
