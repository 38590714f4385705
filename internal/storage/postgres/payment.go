package postgres

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/storefront-checkout/internal/domain/payment"
)

var (
	_ payment.IntentStore = (*IntentRepository)(nil)
	_ payment.EventLog    = (*EventLogRepository)(nil)
)

// IntentRepository implements payment.IntentStore backed by PostgreSQL.
type IntentRepository struct {
	pool *pgxpool.Pool
}

// NewIntentRepository returns an IntentRepository that uses the given pool.
func NewIntentRepository(pool *pgxpool.Pool) *IntentRepository {
	return &IntentRepository{pool: pool}
}

func (r *IntentRepository) Create(ctx context.Context, intent *payment.Intent) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO payment_intents (id, attempt_id, amount, currency, status, idempotency_key, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		intent.ID, intent.AttemptID, intent.Amount, intent.Currency,
		intent.Status, intent.IdempotencyKey, intent.CreatedAt, intent.UpdatedAt)
	if err != nil {
		return errors.Wrapf(err, "insert intent %q", intent.ID)
	}
	return nil
}

func (r *IntentRepository) Get(ctx context.Context, id string) (*payment.Intent, error) {
	return r.get(ctx, `WHERE id = $1`, id)
}

func (r *IntentRepository) GetByAttempt(ctx context.Context, attemptID string) (*payment.Intent, error) {
	return r.get(ctx, `WHERE attempt_id = $1`, attemptID)
}

func (r *IntentRepository) get(ctx context.Context, where string, arg any) (*payment.Intent, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, attempt_id, amount, currency, status, idempotency_key, created_at, updated_at
		FROM payment_intents `+where, arg)

	var in payment.Intent
	err := row.Scan(&in.ID, &in.AttemptID, &in.Amount, &in.Currency,
		&in.Status, &in.IdempotencyKey, &in.CreatedAt, &in.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, payment.ErrIntentNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "scan intent")
	}
	return &in, nil
}

// UpdateStatus applies the transition only when the stored status still
// equals from.
func (r *IntentRepository) UpdateStatus(ctx context.Context, id string, from, to payment.Status) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE payment_intents
		SET status = $3, updated_at = now()
		WHERE id = $1 AND status = $2`,
		id, from, to)
	if err != nil {
		return false, errors.Wrapf(err, "update intent %q", id)
	}
	return tag.RowsAffected() == 1, nil
}

// EventLogRepository implements payment.EventLog backed by PostgreSQL.
type EventLogRepository struct {
	pool *pgxpool.Pool
}

// NewEventLogRepository returns an EventLogRepository that uses the given
// pool.
func NewEventLogRepository(pool *pgxpool.Pool) *EventLogRepository {
	return &EventLogRepository{pool: pool}
}

func (r *EventLogRepository) MarkProcessed(ctx context.Context, eventID, intentID string) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		INSERT INTO payment_events (id, intent_id)
		VALUES ($1, $2)
		ON CONFLICT (id) DO NOTHING`,
		eventID, intentID)
	if err != nil {
		return false, errors.Wrapf(err, "record event %q", eventID)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *EventLogRepository) IsProcessed(ctx context.Context, eventID string) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM payment_events WHERE id = $1)`, eventID).Scan(&exists)
	if err != nil {
		return false, errors.Wrapf(err, "check event %q", eventID)
	}
	return exists, nil
}
