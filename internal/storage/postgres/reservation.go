package postgres

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/storefront-checkout/internal/domain/reservation"
)

var _ reservation.Repository = (*ReservationRepository)(nil)

// ReservationRepository implements reservation.Repository backed by
// PostgreSQL.
type ReservationRepository struct {
	pool *pgxpool.Pool
}

// NewReservationRepository returns a ReservationRepository that uses the
// given pool.
func NewReservationRepository(pool *pgxpool.Pool) *ReservationRepository {
	return &ReservationRepository{pool: pool}
}

func (r *ReservationRepository) CreateHeld(ctx context.Context, reservations []reservation.Reservation) error {
	return pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		for _, res := range reservations {
			if _, err := tx.Exec(ctx, `
				INSERT INTO reservations (attempt_id, product_id, quantity, outcome, expires_at)
				VALUES ($1, $2, $3, $4, $5)`,
				res.AttemptID, res.ProductID, res.Quantity, res.Outcome, res.ExpiresAt); err != nil {
				return errors.Wrapf(err, "insert hold for %q", res.ProductID)
			}
		}
		return nil
	})
}

// Release transitions the attempt's held rows to released and returns them.
// The conditional UPDATE hands each row back exactly once, which is what
// makes restocking safe against concurrent release paths.
func (r *ReservationRepository) Release(ctx context.Context, attemptID string) ([]reservation.Reservation, error) {
	rows, err := r.pool.Query(ctx, `
		UPDATE reservations
		SET outcome = 'released'
		WHERE attempt_id = $1 AND outcome = 'held'
		RETURNING attempt_id, product_id, quantity, outcome, expires_at`, attemptID)
	if err != nil {
		return nil, errors.Wrap(err, "release holds")
	}
	defer rows.Close()

	return scanReservations(rows)
}

func (r *ReservationRepository) ListByAttempt(ctx context.Context, attemptID string) ([]reservation.Reservation, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT attempt_id, product_id, quantity, outcome, expires_at
		FROM reservations
		WHERE attempt_id = $1`, attemptID)
	if err != nil {
		return nil, errors.Wrap(err, "query holds")
	}
	defer rows.Close()

	return scanReservations(rows)
}

func (r *ReservationRepository) ListExpiredHeld(ctx context.Context, now time.Time, limit int) ([]reservation.Reservation, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT attempt_id, product_id, quantity, outcome, expires_at
		FROM reservations
		WHERE outcome = 'held' AND expires_at < $1
		ORDER BY expires_at
		LIMIT $2`, now, limit)
	if err != nil {
		return nil, errors.Wrap(err, "query expired holds")
	}
	defer rows.Close()

	return scanReservations(rows)
}

func scanReservations(rows pgx.Rows) ([]reservation.Reservation, error) {
	var out []reservation.Reservation
	for rows.Next() {
		var res reservation.Reservation
		if err := rows.Scan(&res.AttemptID, &res.ProductID, &res.Quantity, &res.Outcome, &res.ExpiresAt); err != nil {
			return nil, errors.Wrap(err, "scan reservation")
		}
		out = append(out, res)
	}
	return out, rows.Err()
}
