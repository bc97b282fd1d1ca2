package order

import (
	"context"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/google/uuid"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/storefront/internal/domain/inventory"
	"github.com/xenking/storefront/internal/domain/product"
	"github.com/xenking/storefront/internal/domain/user"
)

// maxStatusAttempts bounds the re-read loop of AdvanceStatus when the stored
// status keeps changing underneath it.
const maxStatusAttempts = 3

// Reserver reserves stock for a cart and returns it on abandonment.
type Reserver interface {
	Reserve(ctx context.Context, lines []inventory.Line) (*inventory.Reservation, error)
	Release(ctx context.Context, res *inventory.Reservation) error
}

// Catalog resolves product display data for order views.
type Catalog interface {
	GetByIDs(ctx context.Context, ids []string) ([]product.Product, error)
}

// Item is a requested cart line.
type Item struct {
	ProductID string
	Quantity  int
}

// PlaceOrderRequest holds the input for placing an order.
type PlaceOrderRequest struct {
	UserID          string
	Items           []Item
	ShippingAddress ShippingAddress
	PaymentMethod   string
}

// View is an order joined with its customer and current product summaries.
// Customer is nil and products are absent when they no longer resolve.
type View struct {
	Order
	Customer *user.User
	Products map[string]product.Summary
}

// Product returns the current summary of productID, if it still exists.
func (v *View) Product(productID string) (product.Summary, bool) {
	s, ok := v.Products[productID]
	return s, ok
}

// Service encapsulates order placement and fulfilment.
type Service struct {
	reserver Reserver
	orders   Repository
	users    user.Repository
	catalog  Catalog
	policy   StatusPolicy

	now   func() time.Time
	newID func() string
}

// NewService creates an order Service with the required domain dependencies.
func NewService(
	reserver Reserver,
	orders Repository,
	users user.Repository,
	catalog Catalog,
	policy StatusPolicy,
) *Service {
	return &Service{
		reserver: reserver,
		orders:   orders,
		users:    users,
		catalog:  catalog,
		policy:   policy,
		now:      time.Now,
		newID:    func() string { return uuid.New().String() },
	}
}

// PlaceOrder validates the cart, reserves stock for every line, and persists
// a pending order priced from the reservation snapshot.
//
// Reservation failures are returned unchanged. When persistence fails the
// reservation is released before returning. Once stock is being reserved the
// caller's cancellation no longer applies, so a reservation is always either
// recorded in an order or returned to stock.
func (s *Service) PlaceOrder(ctx context.Context, req PlaceOrderRequest) (*View, error) {
	if len(req.Items) == 0 {
		return nil, ErrEmptyCart
	}

	lines := make([]inventory.Line, len(req.Items))
	for i, item := range req.Items {
		if item.Quantity <= 0 || item.Quantity > inventory.MaxQuantity {
			return nil, &InvalidQuantityError{ProductID: item.ProductID, Quantity: item.Quantity}
		}
		lines[i] = inventory.Line{ProductID: item.ProductID, Quantity: item.Quantity}
	}

	if err := req.ShippingAddress.Validate(); err != nil {
		return nil, err
	}
	paymentMethod := strings.TrimSpace(req.PaymentMethod)
	if paymentMethod == "" {
		return nil, ErrMissingPaymentMethod
	}

	ctx = context.WithoutCancel(ctx)
	res, err := s.reserver.Reserve(ctx, lines)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	o := &Order{
		ID:              s.newID(),
		UserID:          req.UserID,
		Lines:           make([]Line, len(res.Items)),
		ShippingAddress: req.ShippingAddress,
		PaymentMethod:   paymentMethod,
		TotalPrice:      res.Total(),
		Status:          StatusPending,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	for i, it := range res.Items {
		o.Lines[i] = Line{
			ProductID: it.ProductID,
			Name:      it.Name,
			UnitPrice: it.UnitPrice,
			Quantity:  it.Quantity,
		}
	}

	if err := s.orders.Create(ctx, o); err != nil {
		if relErr := s.reserver.Release(ctx, res); relErr != nil {
			err = multierr.Append(err, relErr)
		}
		return nil, errors.Wrap(err, "create order")
	}

	return s.viewOrBare(ctx, *o), nil
}

// ListForUser returns the orders placed by userID, newest first.
func (s *Service) ListForUser(ctx context.Context, userID string) ([]View, error) {
	orders, err := s.orders.ListByUser(ctx, userID)
	if err != nil {
		return nil, errors.Wrap(err, "list user orders")
	}
	return s.views(ctx, orders)
}

// ListAll returns every order, newest first.
func (s *Service) ListAll(ctx context.Context) ([]View, error) {
	orders, err := s.orders.List(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "list orders")
	}
	return s.views(ctx, orders)
}

// AdvanceStatus moves order id to status if the configured policy allows it.
// Setting the current status again succeeds without writing.
func (s *Service) AdvanceStatus(ctx context.Context, id, status string) (*View, error) {
	to, err := ParseStatus(status)
	if err != nil {
		return nil, err
	}

	for range maxStatusAttempts {
		o, err := s.orders.GetByID(ctx, id)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				return nil, err
			}
			return nil, errors.Wrap(err, "get order")
		}

		if o.Status == to {
			return s.viewOrBare(ctx, *o), nil
		}
		if !s.policy.Allows(o.Status, to) {
			return nil, &IllegalTransitionError{From: o.Status, To: to}
		}

		updated, err := s.orders.UpdateStatus(ctx, id, o.Status, to, s.now().UTC())
		switch {
		case errors.Is(err, ErrStatusConflict):
			zctx.From(ctx).Debug("Order status changed concurrently, retrying",
				zap.String("order_id", id),
				zap.String("from", string(o.Status)),
				zap.String("to", string(to)),
			)
			continue
		case err != nil:
			return nil, errors.Wrap(err, "update order status")
		}
		return s.viewOrBare(ctx, *updated), nil
	}

	return nil, errors.Wrapf(ErrStatusConflict, "order %s after %d attempts", id, maxStatusAttempts)
}

// viewOrBare joins a single committed order. A failed join is logged and the
// order is returned without customer or product data.
func (s *Service) viewOrBare(ctx context.Context, o Order) *View {
	views, err := s.views(ctx, []Order{o})
	if err != nil {
		zctx.From(ctx).Warn("Join order view",
			zap.String("order_id", o.ID),
			zap.Error(err),
		)
		return &View{Order: o}
	}
	return &views[0]
}

// views resolves customers and product summaries for orders with one batch
// lookup each, run concurrently.
func (s *Service) views(ctx context.Context, orders []Order) ([]View, error) {
	if len(orders) == 0 {
		return []View{}, nil
	}

	userIDs := make([]string, 0, len(orders))
	productIDs := make([]string, 0, len(orders))
	seenUsers := make(map[string]struct{}, len(orders))
	seenProducts := make(map[string]struct{})
	for _, o := range orders {
		if _, ok := seenUsers[o.UserID]; !ok {
			seenUsers[o.UserID] = struct{}{}
			userIDs = append(userIDs, o.UserID)
		}
		for _, l := range o.Lines {
			if _, ok := seenProducts[l.ProductID]; !ok {
				seenProducts[l.ProductID] = struct{}{}
				productIDs = append(productIDs, l.ProductID)
			}
		}
	}

	var (
		users    []user.User
		products []product.Product
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		users, err = s.users.GetByIDs(gctx, userIDs)
		if err != nil {
			return errors.Wrap(err, "get users")
		}
		return nil
	})
	g.Go(func() error {
		var err error
		products, err = s.catalog.GetByIDs(gctx, productIDs)
		if err != nil {
			return errors.Wrap(err, "get products")
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	userByID := make(map[string]*user.User, len(users))
	for i := range users {
		userByID[users[i].ID] = &users[i]
	}
	summaries := make(map[string]product.Summary, len(products))
	for _, p := range products {
		summaries[p.ID] = p.Summary()
	}

	views := make([]View, len(orders))
	for i, o := range orders {
		lineProducts := make(map[string]product.Summary, len(o.Lines))
		for _, l := range o.Lines {
			if sum, ok := summaries[l.ProductID]; ok {
				lineProducts[l.ProductID] = sum
			}
		}
		views[i] = View{
			Order:    o,
			Customer: userByID[o.UserID],
			Products: lineProducts,
		}
	}
	return views, nil
}
