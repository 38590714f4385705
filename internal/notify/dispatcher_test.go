package notify

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xenking/storefront-checkout/internal/domain/order"
)

// flakySender fails the first failures calls, then succeeds.
type flakySender struct {
	mu       sync.Mutex
	failures int
	sent     []Confirmation
	done     chan struct{}
}

func (s *flakySender) Send(_ context.Context, c Confirmation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failures > 0 {
		s.failures--
		return errors.New("relay unavailable")
	}
	s.sent = append(s.sent, c)
	if s.done != nil {
		close(s.done)
		s.done = nil
	}
	return nil
}

func (s *flakySender) delivered() []Confirmation {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Confirmation(nil), s.sent...)
}

func testOrder() (*order.Order, []order.Item) {
	o := &order.Order{
		ID:        "order-1",
		AttemptID: "attempt-1",
		ShopperID: "shopper-1",
		Status:    order.StatusPaid,
		Total:     decimal.RequireFromString("20.00"),
		Currency:  "USD",
	}
	items := []order.Item{{OrderID: "order-1", ProductID: "prod-1", Quantity: 2}}
	return o, items
}

func TestDispatcherDelivers(t *testing.T) {
	t.Parallel()
	sender := &flakySender{done: make(chan struct{})}
	done := sender.done
	d := NewDispatcher(Config{QueueSize: 4, MaxAttempts: 3, RetryBase: time.Millisecond}, sender, zaptest.NewLogger(t))

	ctx, cancel := context.WithCancel(t.Context())
	defer cancel()
	go func() { _ = d.Run(ctx) }()

	o, items := testOrder()
	d.OrderCommitted(o, items, "shopper@example.com")

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("confirmation never delivered")
	}

	sent := sender.delivered()
	require.Len(t, sent, 1)
	assert.Equal(t, "order-1", sent[0].OrderID)
	assert.Equal(t, "shopper@example.com", sent[0].Email)
	assert.Equal(t, 1, sent[0].ItemCount)
	assert.Equal(t, "20.00", sent[0].Total.StringFixed(2))
}

func TestDispatcherRetriesThenDelivers(t *testing.T) {
	t.Parallel()
	sender := &flakySender{failures: 2, done: make(chan struct{})}
	done := sender.done
	d := NewDispatcher(Config{QueueSize: 4, MaxAttempts: 5, RetryBase: time.Millisecond}, sender, zaptest.NewLogger(t))

	ctx, cancel := context.WithCancel(t.Context())
	defer cancel()
	go func() { _ = d.Run(ctx) }()

	o, items := testOrder()
	d.OrderCommitted(o, items, "shopper@example.com")

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("confirmation never delivered")
	}
	assert.Len(t, sender.delivered(), 1)
}

func TestDispatcherDropsAfterMaxAttempts(t *testing.T) {
	t.Parallel()
	sender := &flakySender{failures: 100}
	d := NewDispatcher(Config{QueueSize: 4, MaxAttempts: 2, RetryBase: time.Millisecond}, sender, zaptest.NewLogger(t))

	ctx, cancel := context.WithCancel(t.Context())
	defer cancel()
	go func() { _ = d.Run(ctx) }()

	o, items := testOrder()
	d.OrderCommitted(o, items, "shopper@example.com")

	// Both attempts fail; the confirmation is dropped, not redelivered.
	assert.Eventually(t, func() bool {
		sender.mu.Lock()
		defer sender.mu.Unlock()
		return sender.failures <= 98
	}, 5*time.Second, 5*time.Millisecond)
	assert.Empty(t, sender.delivered())
}

func TestDispatcherFullQueueDrops(t *testing.T) {
	t.Parallel()
	sender := &flakySender{}
	// No worker running: the queue fills and further enqueues drop.
	d := NewDispatcher(Config{QueueSize: 1, MaxAttempts: 1, RetryBase: time.Millisecond}, sender, zaptest.NewLogger(t))

	o, items := testOrder()
	d.OrderCommitted(o, items, "a@example.com")
	d.OrderCommitted(o, items, "b@example.com") // dropped, must not block

	assert.Empty(t, sender.delivered())
}
