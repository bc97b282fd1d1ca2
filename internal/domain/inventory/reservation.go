// Package inventory reserves stock for a cart as an all-or-nothing unit.
//
// Each line is reserved with a single conditional decrement in the catalog
// store. When a line fails, the lines already reserved by the same attempt
// are returned to stock before Reserve returns.
package inventory

import (
	"context"
	"fmt"
	"math"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/xenking/storefront/internal/domain/product"
)

// ErrNoLines is returned when Reserve is called without any lines.
var ErrNoLines = errors.New("no lines to reserve")

// MaxQuantity is the largest quantity a single line may request. Stock is
// stored as a 32-bit integer.
const MaxQuantity = math.MaxInt32

// ProductNotFoundError indicates a line references an unknown product.
type ProductNotFoundError struct {
	ProductID string
}

func (e *ProductNotFoundError) Error() string {
	return fmt.Sprintf("Product not found: %s", e.ProductID)
}

// InvalidQuantityError indicates a line with a quantity outside
// [1, MaxQuantity].
type InvalidQuantityError struct {
	ProductID string
	Quantity  int
}

func (e *InvalidQuantityError) Error() string {
	return fmt.Sprintf("Invalid quantity %d for product %s", e.Quantity, e.ProductID)
}

// CompensationError reports stock that could not be returned after a failed
// or abandoned reservation. Cause is the failure that triggered the
// compensation, if any.
type CompensationError struct {
	Cause  error
	Failed []Item
	Err    error
}

func (e *CompensationError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("release %d reserved lines after %v: %v", len(e.Failed), e.Cause, e.Err)
	}
	return fmt.Sprintf("release %d reserved lines: %v", len(e.Failed), e.Err)
}

func (e *CompensationError) Unwrap() error { return e.Err }

// Stock is the subset of the catalog store the reserver mutates.
type Stock interface {
	DecrementStock(ctx context.Context, id string, qty int) (*product.Product, error)
	IncrementStock(ctx context.Context, id string, qty int) error
}

// Line is a requested product and quantity.
type Line struct {
	ProductID string
	Quantity  int
}

// Item is a reserved line with the product snapshot taken at reservation.
type Item struct {
	ProductID string
	Name      string
	UnitPrice decimal.Decimal
	Quantity  int
}

// Subtotal returns UnitPrice * Quantity.
func (i Item) Subtotal() decimal.Decimal {
	return i.UnitPrice.Mul(decimal.NewFromInt(int64(i.Quantity)))
}

// Reservation holds the items reserved by one successful Reserve call, in
// request order.
type Reservation struct {
	Items []Item
}

// Total returns the sum of item subtotals.
func (r *Reservation) Total() decimal.Decimal {
	total := decimal.Zero
	for _, it := range r.Items {
		total = total.Add(it.Subtotal())
	}
	return total
}

// Reserver reserves and releases stock. It holds no mutable state and is
// safe for concurrent use.
type Reserver struct {
	stock Stock

	reservations metric.Int64Counter
	failed       metric.Int64Counter
}

// NewReserver creates a Reserver over stock, recording counters on meter.
func NewReserver(stock Stock, meter metric.Meter) (*Reserver, error) {
	reservations, err := meter.Int64Counter("inventory.reservations",
		metric.WithDescription("Reservation attempts by result"),
	)
	if err != nil {
		return nil, errors.Wrap(err, "reservations counter")
	}
	failed, err := meter.Int64Counter("inventory.compensations.failed",
		metric.WithDescription("Reserved lines that could not be returned to stock"),
	)
	if err != nil {
		return nil, errors.Wrap(err, "compensations counter")
	}
	return &Reserver{
		stock:        stock,
		reservations: reservations,
		failed:       failed,
	}, nil
}

// Reserve decrements stock for every line or for none of them.
//
// Failures are *InvalidQuantityError, *ProductNotFoundError,
// *product.InsufficientStockError, store errors, or a *CompensationError when
// earlier lines could not be returned to stock.
func (r *Reserver) Reserve(ctx context.Context, lines []Line) (*Reservation, error) {
	if len(lines) == 0 {
		return nil, ErrNoLines
	}
	for _, l := range lines {
		if l.Quantity <= 0 || l.Quantity > MaxQuantity {
			return nil, &InvalidQuantityError{ProductID: l.ProductID, Quantity: l.Quantity}
		}
	}

	// A reservation that has started decrementing must be able to finish or
	// compensate, so the caller's cancellation is not propagated.
	ctx = context.WithoutCancel(ctx)

	res := &Reservation{Items: make([]Item, 0, len(lines))}
	for _, l := range lines {
		p, err := r.stock.DecrementStock(ctx, l.ProductID, l.Quantity)
		if err != nil {
			err = r.lineError(l, err)
			r.record(ctx, err)
			if cerr := r.compensate(ctx, res.Items, err); cerr != nil {
				return nil, cerr
			}
			return nil, err
		}
		res.Items = append(res.Items, Item{
			ProductID: p.ID,
			Name:      p.Name,
			UnitPrice: p.Price,
			Quantity:  l.Quantity,
		})
	}

	r.record(ctx, nil)
	return res, nil
}

// Release returns every item of res to stock.
func (r *Reserver) Release(ctx context.Context, res *Reservation) error {
	if res == nil {
		return nil
	}
	return r.compensate(ctx, res.Items, nil)
}

func (r *Reserver) lineError(l Line, err error) error {
	if errors.Is(err, product.ErrNotFound) {
		return &ProductNotFoundError{ProductID: l.ProductID}
	}
	var stockErr *product.InsufficientStockError
	if errors.As(err, &stockErr) {
		return stockErr
	}
	return errors.Wrapf(err, "reserve %s", l.ProductID)
}

// compensate increments stock for items in reverse order. It runs detached
// from ctx cancellation and always visits every item.
func (r *Reserver) compensate(ctx context.Context, items []Item, cause error) error {
	if len(items) == 0 {
		return nil
	}
	ctx = context.WithoutCancel(ctx)
	lg := zctx.From(ctx)

	var (
		errs   error
		failed []Item
	)
	for i := len(items) - 1; i >= 0; i-- {
		it := items[i]
		if err := r.stock.IncrementStock(ctx, it.ProductID, it.Quantity); err != nil {
			lg.Error("Return reserved stock",
				zap.String("product_id", it.ProductID),
				zap.Int("quantity", it.Quantity),
				zap.Error(err),
			)
			errs = multierr.Append(errs, errors.Wrapf(err, "increment %s", it.ProductID))
			failed = append(failed, it)
		}
	}
	if errs == nil {
		return nil
	}

	r.failed.Add(ctx, int64(len(failed)))
	return &CompensationError{Cause: cause, Failed: failed, Err: errs}
}

func (r *Reserver) record(ctx context.Context, err error) {
	result := "ok"
	var (
		notFound *ProductNotFoundError
		stockErr *product.InsufficientStockError
	)
	switch {
	case err == nil:
	case errors.As(err, &notFound):
		result = "not_found"
	case errors.As(err, &stockErr):
		result = "insufficient_stock"
	default:
		result = "error"
	}
	r.reservations.Add(ctx, 1, metric.WithAttributes(attribute.String("result", result)))
}
