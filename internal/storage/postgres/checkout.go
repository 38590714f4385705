package postgres

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/storefront-checkout/internal/domain/checkout"
)

var (
	_ checkout.AttemptStore = (*AttemptRepository)(nil)
	_ checkout.AnomalyStore = (*AnomalyRepository)(nil)
)

// AttemptRepository implements checkout.AttemptStore backed by PostgreSQL.
// The items snapshot is serialized to JSON for storage in the JSONB column.
type AttemptRepository struct {
	pool *pgxpool.Pool
}

// NewAttemptRepository returns an AttemptRepository that uses the given pool.
func NewAttemptRepository(pool *pgxpool.Pool) *AttemptRepository {
	return &AttemptRepository{pool: pool}
}

const attemptColumns = `id, shopper_id, shopper_email, status, items, total, currency,
	intent_id, order_id, failure_code, expires_at, created_at, updated_at`

func (r *AttemptRepository) Create(ctx context.Context, a *checkout.Attempt) error {
	itemsJSON, err := json.Marshal(a.Items)
	if err != nil {
		return errors.Wrap(err, "marshal items")
	}

	_, err = r.pool.Exec(ctx, `
		INSERT INTO checkout_attempts (`+attemptColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		a.ID, a.ShopperID, a.ShopperEmail, a.Status, itemsJSON, a.Total, a.Currency,
		a.IntentID, a.OrderID, a.FailureCode, a.ExpiresAt, a.CreatedAt, a.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return checkout.ErrAttemptExists
		}
		return errors.Wrapf(err, "insert attempt %q", a.ID)
	}
	return nil
}

func (r *AttemptRepository) Get(ctx context.Context, id string) (*checkout.Attempt, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+attemptColumns+` FROM checkout_attempts WHERE id = $1`, id)
	return scanAttempt(row)
}

// Transition applies the status change only when the stored status still
// equals from, setting any patched fields in the same statement.
func (r *AttemptRepository) Transition(ctx context.Context, id string, from, to checkout.Status, patch checkout.Patch) (bool, error) {
	set := []string{"status = $3", "updated_at = now()"}
	args := []any{id, from, to}

	if patch.IntentID != nil {
		args = append(args, *patch.IntentID)
		set = append(set, "intent_id = $"+strconv.Itoa(len(args)))
	}
	if patch.OrderID != nil {
		args = append(args, *patch.OrderID)
		set = append(set, "order_id = $"+strconv.Itoa(len(args)))
	}
	if patch.FailureCode != nil {
		args = append(args, *patch.FailureCode)
		set = append(set, "failure_code = $"+strconv.Itoa(len(args)))
	}

	tag, err := r.pool.Exec(ctx, `
		UPDATE checkout_attempts
		SET `+strings.Join(set, ", ")+`
		WHERE id = $1 AND status = $2`, args...)
	if err != nil {
		return false, errors.Wrapf(err, "transition attempt %q", id)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *AttemptRepository) ListExpired(ctx context.Context, now time.Time, limit int) ([]checkout.Attempt, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+attemptColumns+`
		FROM checkout_attempts
		WHERE status IN ('initiated', 'stock_held', 'payment_pending') AND expires_at < $1
		ORDER BY expires_at
		LIMIT $2`, now, limit)
	if err != nil {
		return nil, errors.Wrap(err, "query expired attempts")
	}
	defer rows.Close()
	return scanAttempts(rows)
}

func (r *AttemptRepository) ListStuckPaid(ctx context.Context, limit int) ([]checkout.Attempt, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+attemptColumns+`
		FROM checkout_attempts
		WHERE status = 'paid'
		ORDER BY updated_at
		LIMIT $1`, limit)
	if err != nil {
		return nil, errors.Wrap(err, "query stuck attempts")
	}
	defer rows.Close()
	return scanAttempts(rows)
}

func scanAttempt(row pgx.Row) (*checkout.Attempt, error) {
	var (
		a         checkout.Attempt
		itemsJSON []byte
	)
	err := row.Scan(&a.ID, &a.ShopperID, &a.ShopperEmail, &a.Status, &itemsJSON, &a.Total, &a.Currency,
		&a.IntentID, &a.OrderID, &a.FailureCode, &a.ExpiresAt, &a.CreatedAt, &a.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, checkout.ErrAttemptNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "scan attempt")
	}
	if err := json.Unmarshal(itemsJSON, &a.Items); err != nil {
		return nil, errors.Wrap(err, "unmarshal items")
	}
	return &a, nil
}

func scanAttempts(rows pgx.Rows) ([]checkout.Attempt, error) {
	var out []checkout.Attempt
	for rows.Next() {
		a, err := scanAttempt(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *a)
	}
	return out, rows.Err()
}

// AnomalyRepository implements checkout.AnomalyStore backed by PostgreSQL.
type AnomalyRepository struct {
	pool *pgxpool.Pool
}

// NewAnomalyRepository returns an AnomalyRepository that uses the given pool.
func NewAnomalyRepository(pool *pgxpool.Pool) *AnomalyRepository {
	return &AnomalyRepository{pool: pool}
}

// File inserts the anomaly; the (kind, attempt_id) unique constraint makes
// re-detection a no-op.
func (r *AnomalyRepository) File(ctx context.Context, a *checkout.Anomaly) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO reconciliation_anomalies (id, kind, attempt_id, intent_id, detail, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (kind, attempt_id) DO NOTHING`,
		a.ID, a.Kind, a.AttemptID, a.IntentID, a.Detail, a.CreatedAt)
	if err != nil {
		return errors.Wrap(err, "insert anomaly")
	}
	return nil
}

func (r *AnomalyRepository) ListOpen(ctx context.Context, limit int) ([]checkout.Anomaly, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, kind, attempt_id, intent_id, detail, created_at, resolved_at
		FROM reconciliation_anomalies
		WHERE resolved_at IS NULL
		ORDER BY created_at
		LIMIT $1`, limit)
	if err != nil {
		return nil, errors.Wrap(err, "query anomalies")
	}
	defer rows.Close()

	var out []checkout.Anomaly
	for rows.Next() {
		var a checkout.Anomaly
		if err := rows.Scan(&a.ID, &a.Kind, &a.AttemptID, &a.IntentID, &a.Detail, &a.CreatedAt, &a.ResolvedAt); err != nil {
			return nil, errors.Wrap(err, "scan anomaly")
		}
		out = append(out, a)
	}
	return out, rows.Err()
}
