package checkout

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"go.uber.org/zap"

	"github.com/xenking/storefront-checkout/internal/domain/payment"
)

const sweepBatchSize = 100

// SweeperConfig holds the background sweep intervals.
type SweeperConfig struct {
	// ExpiryInterval is how often lapsed hold windows are swept.
	ExpiryInterval time.Duration
	// RecoveryInterval is how often paid-but-uncommitted attempts are
	// replayed.
	RecoveryInterval time.Duration
}

// Sweeper is the periodic background pass that resolves stuck and abandoned
// attempts. It is what makes crash recovery correct without manual
// intervention for the common case: abandoned checkouts are expired and
// restocked, and paid attempts whose commit was interrupted are replayed.
type Sweeper struct {
	cfg  SweeperConfig
	orch *Orchestrator
	lg   *zap.Logger
}

// NewSweeper creates a Sweeper over the orchestrator.
func NewSweeper(cfg SweeperConfig, orch *Orchestrator, lg *zap.Logger) *Sweeper {
	return &Sweeper{
		cfg:  cfg,
		orch: orch,
		lg:   lg.Named("sweeper"),
	}
}

// Run blocks until ctx is cancelled, driving both sweep loops.
func (s *Sweeper) Run(ctx context.Context) error {
	expiry := time.NewTicker(s.cfg.ExpiryInterval)
	recovery := time.NewTicker(s.cfg.RecoveryInterval)
	defer expiry.Stop()
	defer recovery.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-expiry.C:
			if err := s.orch.ExpireStale(ctx, time.Now()); err != nil {
				s.lg.Error("expiry sweep", zap.Error(err))
			}
		case <-recovery.C:
			if err := s.orch.RecoverStuck(ctx); err != nil {
				s.lg.Error("recovery sweep", zap.Error(err))
			}
		}
	}
}

// ExpireStale releases holds for attempts whose window lapsed without payment
// resolution. Before releasing, any attempt that already has an intent is
// checked against the gateway's authoritative status: a timeout-shaped
// unknown outcome must not release inventory for a payment that actually
// succeeded. A final pass restocks holds orphaned by an interrupted
// release.
func (o *Orchestrator) ExpireStale(ctx context.Context, now time.Time) error {
	stale, err := o.attempts.ListExpired(ctx, now, sweepBatchSize)
	if err != nil {
		return errors.Wrap(err, "list expired")
	}

	for i := range stale {
		a := &stale[i]
		if err := o.expireOne(ctx, a); err != nil {
			o.lg.Error("expire attempt", zap.String("attempt_id", a.ID), zap.Error(err))
		}
	}

	return o.releaseOrphanedHolds(ctx, now)
}

func (o *Orchestrator) expireOne(ctx context.Context, a *Attempt) error {
	switch {
	case a.IntentID != "":
		intent, err := o.payments.ResolveIntent(ctx, a.IntentID)
		if err != nil {
			// Gateway unreachable: the outcome is unknown, so keep the hold
			// and let a later sweep retry rather than risk releasing stock
			// for a successful payment.
			return errors.Wrap(err, "resolve intent before expiry")
		}
		if intent.Status == payment.StatusSucceeded {
			o.lg.Info("expiry sweep found succeeded intent, committing",
				zap.String("attempt_id", a.ID),
				zap.String("intent_id", intent.ID),
			)
			return o.handleSucceeded(ctx, a, intent, true)
		}
	case a.Status == StatusStockHeld:
		// An intent create that timed out may still have opened an intent
		// on the provider side. Replaying the create under the attempt's
		// idempotency key learns the real outcome before the stock goes
		// back.
		intent, err := o.payments.CreateIntent(ctx, a.ID, a.Total, a.Currency)
		if err != nil {
			return errors.Wrap(err, "resolve intent before expiry")
		}
		if intent.Status == payment.StatusSucceeded {
			o.lg.Info("expiry sweep recovered succeeded intent, committing",
				zap.String("attempt_id", a.ID),
				zap.String("intent_id", intent.ID),
			)
			return o.handleSucceeded(ctx, a, intent, true)
		}
	}

	// Expire first, release second. A success event can land right up to
	// the deadline; once the attempt is expired the event path files an
	// anomaly instead of racing this release into a silent order.
	ok, err := o.attempts.Transition(ctx, a.ID, a.Status, StatusExpired, Patch{})
	if err != nil {
		return errors.Wrap(err, "mark expired")
	}
	if !ok {
		// Another path moved the attempt first and owns its holds now.
		return nil
	}
	if err := o.stock.Release(ctx, a.ID); err != nil {
		// The attempt is already expired; the orphan pass below retries
		// the restock on the next sweep.
		return errors.Wrap(err, "release stock")
	}
	o.metrics.addExpired(ctx)
	o.lg.Info("attempt expired", zap.String("attempt_id", a.ID))
	return nil
}

// releaseOrphanedHolds restocks holds whose release was interrupted after
// their attempt already reached a terminal state, such as a crash between
// the expiry transition and the restock. Holds whose attempt is still in
// flight or already paid are left alone.
func (o *Orchestrator) releaseOrphanedHolds(ctx context.Context, now time.Time) error {
	held, err := o.stock.ExpiredHeld(ctx, now, sweepBatchSize)
	if err != nil {
		return errors.Wrap(err, "list expired holds")
	}

	seen := make(map[string]struct{}, len(held))
	for _, r := range held {
		if _, dup := seen[r.AttemptID]; dup {
			continue
		}
		seen[r.AttemptID] = struct{}{}

		a, err := o.attempts.Get(ctx, r.AttemptID)
		if err != nil {
			o.lg.Error("lookup attempt for orphaned hold",
				zap.String("attempt_id", r.AttemptID), zap.Error(err))
			continue
		}
		if a.Status != StatusExpired && a.Status != StatusFailed {
			continue
		}
		if err := o.stock.Release(ctx, r.AttemptID); err != nil {
			o.lg.Error("release orphaned hold",
				zap.String("attempt_id", r.AttemptID), zap.Error(err))
			continue
		}
		o.lg.Warn("released orphaned hold", zap.String("attempt_id", r.AttemptID))
	}
	return nil
}

// RecoverStuck replays the order commit for attempts stuck in paid — the
// crash-between-payment-and-commit case. A replay that keeps failing is
// surfaced as a paid_without_order anomaly while the sweep keeps retrying.
func (o *Orchestrator) RecoverStuck(ctx context.Context) error {
	stuck, err := o.attempts.ListStuckPaid(ctx, sweepBatchSize)
	if err != nil {
		return errors.Wrap(err, "list stuck paid")
	}

	for i := range stuck {
		a := &stuck[i]
		if err := o.commitPaid(ctx, a); err != nil {
			o.lg.Error("replay commit", zap.String("attempt_id", a.ID), zap.Error(err))
			o.fileAnomaly(ctx, AnomalyPaidWithoutOrder, a.ID, a.IntentID,
				"commit replay failing: "+err.Error())
		}
	}
	return nil
}
