package product

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// ErrNotFound is returned when a requested product does not exist.
var ErrNotFound = errors.New("product not found")

// Product represents a catalog item available for purchase.
type Product struct {
	ID          string
	Name        string
	Description string
	Category    string
	Image       string
	Price       decimal.Decimal
	Stock       int
}

// Summary is the display subset of a product joined into order views.
type Summary struct {
	ID    string
	Name  string
	Image string
}

// Summary returns the display subset of p.
func (p Product) Summary() Summary {
	return Summary{ID: p.ID, Name: p.Name, Image: p.Image}
}

// InsufficientStockError reports a conditional decrement that did not apply
// because the product holds fewer units than requested.
type InsufficientStockError struct {
	ProductID string
	Name      string
	Available int
}

func (e *InsufficientStockError) Error() string {
	name := e.Name
	if name == "" {
		name = e.ProductID
	}
	return fmt.Sprintf("Insufficient stock for %s. Available: %d", name, e.Available)
}

// Repository is the catalog store.
//
// DecrementStock must be a single atomic compare-and-decrement: it applies
// only while the current stock is at least qty and returns the product row as
// it was written. It returns ErrNotFound for unknown ids and
// *InsufficientStockError when the condition does not hold. Stock is never
// mutated any other way by the order flow.
type Repository interface {
	GetByID(ctx context.Context, id string) (*Product, error)
	GetByIDs(ctx context.Context, ids []string) ([]Product, error)
	DecrementStock(ctx context.Context, id string, qty int) (*Product, error)
	IncrementStock(ctx context.Context, id string, qty int) error
}
