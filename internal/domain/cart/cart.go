// Package cart defines the durable shopper cart model.
package cart

import (
	"context"
	"time"

	"github.com/go-faster/errors"
)

// ErrEmptyCart is returned when a checkout is attempted against a cart with
// no lines.
var ErrEmptyCart = errors.New("cart is empty")

// Line is one (shopper, product) entry in a cart. A shopper holds at most one
// line per product; setting a quantity replaces the previous value.
type Line struct {
	ShopperID string
	ProductID string
	Quantity  int
	AddedAt   time.Time
}

// Repository defines persistence operations for cart lines. Lines are deleted
// on successful checkout (inside the order commit transaction) or by explicit
// removal.
type Repository interface {
	List(ctx context.Context, shopperID string) ([]Line, error)
	Put(ctx context.Context, line Line) error
	Remove(ctx context.Context, shopperID, productID string) error
	Clear(ctx context.Context, shopperID string) error
}
