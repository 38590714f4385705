package postgres

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/storefront-checkout/internal/domain/cart"
)

var _ cart.Repository = (*CartRepository)(nil)

// CartRepository implements cart.Repository backed by PostgreSQL.
type CartRepository struct {
	pool *pgxpool.Pool
}

// NewCartRepository returns a CartRepository that uses the given pool.
func NewCartRepository(pool *pgxpool.Pool) *CartRepository {
	return &CartRepository{pool: pool}
}

func (r *CartRepository) List(ctx context.Context, shopperID string) ([]cart.Line, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT shopper_id, product_id, quantity, added_at
		FROM cart_lines
		WHERE shopper_id = $1
		ORDER BY added_at`, shopperID)
	if err != nil {
		return nil, errors.Wrap(err, "query cart")
	}
	defer rows.Close()

	var lines []cart.Line
	for rows.Next() {
		var l cart.Line
		if err := rows.Scan(&l.ShopperID, &l.ProductID, &l.Quantity, &l.AddedAt); err != nil {
			return nil, errors.Wrap(err, "scan cart line")
		}
		lines = append(lines, l)
	}
	return lines, rows.Err()
}

func (r *CartRepository) Put(ctx context.Context, line cart.Line) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO cart_lines (shopper_id, product_id, quantity)
		VALUES ($1, $2, $3)
		ON CONFLICT (shopper_id, product_id) DO UPDATE SET quantity = EXCLUDED.quantity`,
		line.ShopperID, line.ProductID, line.Quantity)
	if err != nil {
		return errors.Wrap(err, "upsert cart line")
	}
	return nil
}

func (r *CartRepository) Remove(ctx context.Context, shopperID, productID string) error {
	_, err := r.pool.Exec(ctx,
		`DELETE FROM cart_lines WHERE shopper_id = $1 AND product_id = $2`,
		shopperID, productID)
	if err != nil {
		return errors.Wrap(err, "delete cart line")
	}
	return nil
}

func (r *CartRepository) Clear(ctx context.Context, shopperID string) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM cart_lines WHERE shopper_id = $1`, shopperID)
	if err != nil {
		return errors.Wrap(err, "clear cart")
	}
	return nil
}
