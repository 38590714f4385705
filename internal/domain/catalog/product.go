// Package catalog defines the product catalog read model and the stock
// mutation contract used by the reservation engine.
package catalog

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// Status enumerates the lifecycle states of a catalog product.
type Status string

const (
	// StatusActive marks a product as purchasable.
	StatusActive Status = "active"
	// StatusInactive marks a product as withdrawn from sale. Inactive
	// products keep their stock counters but reject reservations.
	StatusInactive Status = "inactive"
)

// ErrNotFound is returned when a requested product does not exist.
var ErrNotFound = errors.New("product not found")

// Product is a point-in-time snapshot of a catalog entry. The checkout
// pipeline never assumes a snapshot stays valid: price and stock are
// re-validated atomically at reservation time.
type Product struct {
	ID             string
	Name           string
	UnitPrice      decimal.Decimal
	AvailableStock int
	Status         Status
}

// Line is a (product, quantity) pair used for stock operations.
type Line struct {
	ProductID string
	Quantity  int
}

// InsufficientStockError indicates a reservation could not be satisfied for
// one of its lines. The whole reservation fails; no stock is decremented.
type InsufficientStockError struct {
	ProductID string
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for product %s", e.ProductID)
}

// Repository provides product lookup and the conditional stock mutations the
// reservation engine relies on. ReserveStock is the only path that decrements
// available stock during checkout.
type Repository interface {
	// GetByIDs returns snapshots for the given product IDs. Missing IDs are
	// simply absent from the result; callers detect them by comparing lengths.
	GetByIDs(ctx context.Context, ids []string) ([]Product, error)

	// ReserveStock atomically decrements available stock for every line, or
	// none of them. A line fails when the product is missing, inactive, or
	// its available stock is below the requested quantity; the first failing
	// line is reported via *InsufficientStockError.
	ReserveStock(ctx context.Context, lines []Line) error

	// ReleaseStock returns previously reserved quantities to available stock.
	ReleaseStock(ctx context.Context, lines []Line) error
}
