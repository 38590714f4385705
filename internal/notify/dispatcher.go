// Package notify delivers order confirmations to shoppers. Delivery is
// best-effort: failures are retried a bounded number of times on a backoff
// schedule and then dropped, never affecting order state.
package notify

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/xenking/storefront-checkout/internal/domain/order"
)

// Confirmation is one queued confirmation message.
type Confirmation struct {
	OrderID   string
	ShopperID string
	Email     string
	Total     decimal.Decimal
	Currency  string
	ItemCount int
}

// Sender delivers a single confirmation to its contact address.
type Sender interface {
	Send(ctx context.Context, c Confirmation) error
}

// Config holds the dispatcher's retry and queue tunables.
type Config struct {
	// QueueSize bounds the in-flight confirmation queue. Enqueueing into a
	// full queue drops the message.
	QueueSize int
	// MaxAttempts bounds delivery retries per confirmation.
	MaxAttempts int
	// RetryBase is the first retry delay; each subsequent retry doubles it.
	RetryBase time.Duration
}

// Dispatcher owns the confirmation queue and its delivery worker.
type Dispatcher struct {
	cfg    Config
	sender Sender
	queue  chan Confirmation
	lg     *zap.Logger
}

// NewDispatcher creates a Dispatcher. Run must be started for deliveries to
// happen.
func NewDispatcher(cfg Config, sender Sender, lg *zap.Logger) *Dispatcher {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	if cfg.RetryBase <= 0 {
		cfg.RetryBase = 2 * time.Second
	}
	return &Dispatcher{
		cfg:    cfg,
		sender: sender,
		queue:  make(chan Confirmation, cfg.QueueSize),
		lg:     lg.Named("notify"),
	}
}

// OrderCommitted queues a confirmation for a just-committed order. Never
// blocks: a full queue drops the message with a log line, because order
// correctness does not depend on notification success.
func (d *Dispatcher) OrderCommitted(o *order.Order, items []order.Item, email string) {
	c := Confirmation{
		OrderID:   o.ID,
		ShopperID: o.ShopperID,
		Email:     email,
		Total:     o.Total,
		Currency:  o.Currency,
		ItemCount: len(items),
	}
	select {
	case d.queue <- c:
	default:
		d.lg.Warn("confirmation queue full, dropping",
			zap.String("order_id", c.OrderID),
			zap.String("shopper_id", c.ShopperID),
		)
	}
}

// Run delivers queued confirmations until ctx is cancelled.
func (d *Dispatcher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case c := <-d.queue:
			d.deliver(ctx, c)
		}
	}
}

// deliver attempts one confirmation with bounded backoff retries.
func (d *Dispatcher) deliver(ctx context.Context, c Confirmation) {
	delay := d.cfg.RetryBase
	for attempt := 1; attempt <= d.cfg.MaxAttempts; attempt++ {
		err := d.sender.Send(ctx, c)
		if err == nil {
			d.lg.Info("confirmation delivered",
				zap.String("order_id", c.OrderID),
				zap.Int("attempt", attempt),
			)
			return
		}

		d.lg.Warn("confirmation delivery failed",
			zap.String("order_id", c.OrderID),
			zap.Int("attempt", attempt),
			zap.Error(err),
		)
		if attempt == d.cfg.MaxAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
		delay *= 2
	}

	d.lg.Error("confirmation dropped after max attempts",
		zap.String("order_id", c.OrderID),
		zap.Int("attempts", d.cfg.MaxAttempts),
	)
}
