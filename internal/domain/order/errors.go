package order

import (
	"fmt"
	"strings"

	"github.com/go-faster/errors"

	"github.com/xenking/storefront/internal/domain/inventory"
)

// Sentinel errors for order validation and lookup.
var (
	ErrEmptyCart            = errors.New("No order items")
	ErrMissingPaymentMethod = errors.New("Payment method is required")
	ErrNotFound             = errors.New("Order not found")
	ErrStatusConflict       = errors.New("order status changed concurrently")
)

// InvalidQuantityError indicates a cart line with a quantity that is not
// positive or exceeds inventory.MaxQuantity.
type InvalidQuantityError struct {
	ProductID string
	Quantity  int
}

func (e *InvalidQuantityError) Error() string {
	if e.Quantity > inventory.MaxQuantity {
		return fmt.Sprintf("Quantity must be at most %d for product %s", inventory.MaxQuantity, e.ProductID)
	}
	return fmt.Sprintf("Quantity must be greater than 0 for product %s", e.ProductID)
}

// InvalidShippingAddressError lists the blank shipping address fields.
type InvalidShippingAddressError struct {
	Missing []string
}

func (e *InvalidShippingAddressError) Error() string {
	return "Shipping address is required: missing " + strings.Join(e.Missing, ", ")
}

// InvalidStatusError indicates a status outside the known set.
type InvalidStatusError struct {
	Value string
}

func (e *InvalidStatusError) Error() string {
	names := make([]string, len(Statuses))
	for i, s := range Statuses {
		names[i] = string(s)
	}
	return "Invalid status. Must be one of: " + strings.Join(names, ", ")
}

// IllegalTransitionError indicates a status change the policy rejects.
type IllegalTransitionError struct {
	From Status
	To   Status
}

func (e *IllegalTransitionError) Error() string {
	return fmt.Sprintf("Cannot change order status from %s to %s", e.From, e.To)
}
