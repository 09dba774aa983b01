// Package cart holds the two cart backends: a cookie for anonymous visitors
// and a per-user table once the visitor is signed in.
package cart

import (
	"context"

	"github.com/google/uuid"
)

// MaxQuantity is the most units of one product a cart line may hold.
const MaxQuantity = 99

// Line is one product and quantity in a cart. The JSON names are the cookie format.
type Line struct {
	ProductID uuid.UUID `json:"producto_id"`
	Quantity  int       `json:"cantidad"`
}

type Store interface {
	Lines(ctx context.Context) ([]Line, error)
	// Add increments the line, creating it when absent.
	Add(ctx context.Context, productID uuid.UUID, qty int) error
	// Set overwrites the quantity, creating the line when absent.
	Set(ctx context.Context, productID uuid.UUID, qty int) error
	// Remove is a no-op for a product that is not in the cart.
	Remove(ctx context.Context, productID uuid.UUID) error
	Clear(ctx context.Context) error
}
