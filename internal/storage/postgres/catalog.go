package postgres

import (
	"context"
	"sort"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/storefront-checkout/internal/domain/catalog"
)

var _ catalog.Repository = (*CatalogRepository)(nil)

// CatalogRepository implements catalog.Repository backed by PostgreSQL.
type CatalogRepository struct {
	pool *pgxpool.Pool
}

// NewCatalogRepository returns a CatalogRepository that uses the given pool.
func NewCatalogRepository(pool *pgxpool.Pool) *CatalogRepository {
	return &CatalogRepository{pool: pool}
}

// GetByIDs returns snapshots for the given product IDs. Missing IDs are
// absent from the result.
func (r *CatalogRepository) GetByIDs(ctx context.Context, ids []string) ([]catalog.Product, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, name, unit_price, available_stock, status
		FROM products
		WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, errors.Wrap(err, "query products")
	}
	defer rows.Close()

	var products []catalog.Product
	for rows.Next() {
		var p catalog.Product
		if err := rows.Scan(&p.ID, &p.Name, &p.UnitPrice, &p.AvailableStock, &p.Status); err != nil {
			return nil, errors.Wrap(err, "scan product")
		}
		products = append(products, p)
	}
	return products, rows.Err()
}

// ReserveStock conditionally decrements every line inside one transaction.
// A line whose guard fails rolls back the whole batch and reports the
// offending product. Lines are processed in product-ID order so concurrent
// reservations over overlapping carts cannot deadlock.
func (r *CatalogRepository) ReserveStock(ctx context.Context, lines []catalog.Line) error {
	ordered := make([]catalog.Line, len(lines))
	copy(ordered, lines)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].ProductID < ordered[j].ProductID })

	return pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		for _, l := range ordered {
			tag, err := tx.Exec(ctx, `
				UPDATE products
				SET available_stock = available_stock - $2
				WHERE id = $1 AND status = 'active' AND available_stock >= $2`,
				l.ProductID, l.Quantity)
			if err != nil {
				return errors.Wrapf(err, "decrement stock for %q", l.ProductID)
			}
			if tag.RowsAffected() == 0 {
				return &catalog.InsufficientStockError{ProductID: l.ProductID}
			}
		}
		return nil
	})
}

// UpsertProduct inserts or replaces a product row. Used by the seed tool.
func (r *CatalogRepository) UpsertProduct(ctx context.Context, p catalog.Product) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO products (id, name, unit_price, available_stock, status)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE
		SET name = $2, unit_price = $3, available_stock = $4, status = $5`,
		p.ID, p.Name, p.UnitPrice, p.AvailableStock, p.Status)
	if err != nil {
		return errors.Wrapf(err, "upsert product %q", p.ID)
	}
	return nil
}

// ReleaseStock returns quantities to available stock.
func (r *CatalogRepository) ReleaseStock(ctx context.Context, lines []catalog.Line) error {
	return pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		for _, l := range lines {
			if _, err := tx.Exec(ctx, `
				UPDATE products
				SET available_stock = available_stock + $2
				WHERE id = $1`,
				l.ProductID, l.Quantity); err != nil {
				return errors.Wrapf(err, "restock %q", l.ProductID)
			}
		}
		return nil
	})
}
