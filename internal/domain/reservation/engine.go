package reservation

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"go.uber.org/zap"

	"github.com/xenking/storefront-checkout/internal/domain/catalog"
)

// Engine coordinates conditional stock decrements with hold bookkeeping.
// It is the only component permitted to mutate catalog stock during checkout.
type Engine struct {
	reservations Repository
	catalog      catalog.Repository
	lg           *zap.Logger
}

// NewEngine creates an Engine over the given stores.
func NewEngine(reservations Repository, cat catalog.Repository, lg *zap.Logger) *Engine {
	return &Engine{
		reservations: reservations,
		catalog:      cat,
		lg:           lg.Named("reservation"),
	}
}

// Reserve atomically decrements stock for every line and records a held
// reservation per line, valid until now+ttl. On any failure no stock remains
// decremented and no hold remains recorded. Racing attempts for the last unit
// of a product are resolved by the catalog's conditional update: exactly one
// wins, the rest receive *catalog.InsufficientStockError.
func (e *Engine) Reserve(ctx context.Context, attemptID string, lines []catalog.Line, ttl time.Duration) error {
	if len(lines) == 0 {
		return errors.New("no lines to reserve")
	}

	if err := e.catalog.ReserveStock(ctx, lines); err != nil {
		return err
	}

	expiresAt := time.Now().Add(ttl)
	held := make([]Reservation, len(lines))
	for i, line := range lines {
		held[i] = Reservation{
			AttemptID: attemptID,
			ProductID: line.ProductID,
			Quantity:  line.Quantity,
			Outcome:   OutcomeHeld,
			ExpiresAt: expiresAt,
		}
	}

	if err := e.reservations.CreateHeld(ctx, held); err != nil {
		// Stock was already decremented; undo before surfacing the error.
		if relErr := e.catalog.ReleaseStock(ctx, lines); relErr != nil {
			e.lg.Error("failed to restock after hold bookkeeping failure",
				zap.String("attempt_id", attemptID),
				zap.Error(relErr),
			)
		}
		return errors.Wrap(err, "record holds")
	}

	return nil
}

// Release returns the attempt's held stock to the catalog. It is safe to call
// repeatedly and concurrently: the repository hands back each held row exactly
// once, so restocking happens at most once per hold.
func (e *Engine) Release(ctx context.Context, attemptID string) error {
	released, err := e.reservations.Release(ctx, attemptID)
	if err != nil {
		return errors.Wrap(err, "release holds")
	}
	if len(released) == 0 {
		return nil
	}

	lines := make([]catalog.Line, len(released))
	for i, r := range released {
		lines[i] = catalog.Line{ProductID: r.ProductID, Quantity: r.Quantity}
	}
	if err := e.catalog.ReleaseStock(ctx, lines); err != nil {
		return errors.Wrap(err, "restock")
	}

	e.lg.Info("released holds",
		zap.String("attempt_id", attemptID),
		zap.Int("lines", len(released)),
	)
	return nil
}

// ExpiredHeld lists holds still marked held past their deadline. A hold in
// that state past its window means a release was interrupted before the
// restock landed; the sweep uses this to pick the work back up.
func (e *Engine) ExpiredHeld(ctx context.Context, now time.Time, limit int) ([]Reservation, error) {
	return e.reservations.ListExpiredHeld(ctx, now, limit)
}
