package postgres

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/storefront-checkout/internal/domain/order"
)

var _ order.Ledger = (*OrderLedger)(nil)

// OrderLedger implements order.Ledger backed by PostgreSQL.
type OrderLedger struct {
	pool *pgxpool.Pool
}

// NewOrderLedger returns an OrderLedger that uses the given pool.
func NewOrderLedger(pool *pgxpool.Pool) *OrderLedger {
	return &OrderLedger{pool: pool}
}

// Commit lands the order, its items, the reservation commit, and the cart
// clearing in one transaction. The unique attempt_id makes replays return the
// already persisted order without re-writing anything.
func (l *OrderLedger) Commit(ctx context.Context, o *order.Order, items []order.Item) (*order.Order, error) {
	var committed *order.Order
	err := pgx.BeginFunc(ctx, l.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			INSERT INTO orders (id, attempt_id, shopper_id, status, total, currency, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			ON CONFLICT (attempt_id) DO NOTHING`,
			o.ID, o.AttemptID, o.ShopperID, o.Status, o.Total, o.Currency, o.CreatedAt)
		if err != nil {
			return errors.Wrap(err, "insert order")
		}

		if tag.RowsAffected() == 0 {
			// A previous commit for this attempt already landed everything.
			existing, err := getOrderByAttempt(ctx, tx, o.AttemptID)
			if err != nil {
				return err
			}
			committed = existing
			return nil
		}

		for _, it := range items {
			if _, err := tx.Exec(ctx, `
				INSERT INTO order_items (order_id, product_id, quantity, unit_price)
				VALUES ($1, $2, $3, $4)`,
				o.ID, it.ProductID, it.Quantity, it.UnitPrice); err != nil {
				return errors.Wrapf(err, "insert item %q", it.ProductID)
			}
		}

		if _, err := tx.Exec(ctx, `
			UPDATE reservations
			SET outcome = 'committed'
			WHERE attempt_id = $1 AND outcome = 'held'`, o.AttemptID); err != nil {
			return errors.Wrap(err, "commit reservations")
		}

		if _, err := tx.Exec(ctx,
			`DELETE FROM cart_lines WHERE shopper_id = $1`, o.ShopperID); err != nil {
			return errors.Wrap(err, "clear cart")
		}

		out := *o
		committed = &out
		return nil
	})
	if err != nil {
		return nil, err
	}
	return committed, nil
}

func (l *OrderLedger) GetByAttempt(ctx context.Context, attemptID string) (*order.Order, error) {
	return getOrderByAttempt(ctx, l.pool, attemptID)
}

func (l *OrderLedger) GetForShopper(ctx context.Context, orderID, shopperID string) (*order.Order, []order.Item, error) {
	row := l.pool.QueryRow(ctx, `
		SELECT id, attempt_id, shopper_id, status, total, currency, created_at
		FROM orders
		WHERE id = $1 AND shopper_id = $2`, orderID, shopperID)

	var o order.Order
	err := row.Scan(&o.ID, &o.AttemptID, &o.ShopperID, &o.Status, &o.Total, &o.Currency, &o.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil, order.ErrNotFound
	}
	if err != nil {
		return nil, nil, errors.Wrap(err, "scan order")
	}

	rows, err := l.pool.Query(ctx, `
		SELECT order_id, product_id, quantity, unit_price
		FROM order_items
		WHERE order_id = $1`, orderID)
	if err != nil {
		return nil, nil, errors.Wrap(err, "query items")
	}
	defer rows.Close()

	var items []order.Item
	for rows.Next() {
		var it order.Item
		if err := rows.Scan(&it.OrderID, &it.ProductID, &it.Quantity, &it.UnitPrice); err != nil {
			return nil, nil, errors.Wrap(err, "scan item")
		}
		items = append(items, it)
	}
	return &o, items, rows.Err()
}

// querier covers both pool and transaction handles.
type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func getOrderByAttempt(ctx context.Context, q querier, attemptID string) (*order.Order, error) {
	row := q.QueryRow(ctx, `
		SELECT id, attempt_id, shopper_id, status, total, currency, created_at
		FROM orders
		WHERE attempt_id = $1`, attemptID)

	var o order.Order
	err := row.Scan(&o.ID, &o.AttemptID, &o.ShopperID, &o.Status, &o.Total, &o.Currency, &o.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, order.ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "scan order")
	}
	return &o, nil
}
