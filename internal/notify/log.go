package notify

import (
	"context"

	"go.uber.org/zap"
)

// LogSender writes confirmations to the log instead of delivering them.
// Stands in for a real relay in development and tests.
type LogSender struct {
	lg *zap.Logger
}

// NewLogSender creates a LogSender.
func NewLogSender(lg *zap.Logger) *LogSender {
	return &LogSender{lg: lg.Named("notify")}
}

func (s *LogSender) Send(_ context.Context, c Confirmation) error {
	s.lg.Info("order confirmation",
		zap.String("order_id", c.OrderID),
		zap.String("email", c.Email),
		zap.String("total", c.Total.StringFixed(2)+" "+c.Currency),
		zap.Int("items", c.ItemCount),
	)
	return nil
}
