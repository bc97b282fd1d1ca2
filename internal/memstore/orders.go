package memstore

import (
	"cmp"
	"context"
	"slices"
	"sync"
	"time"

	"github.com/xenking/storefront/internal/domain/order"
)

var _ order.Repository = (*Orders)(nil)

// Orders is an in-memory order.Repository.
type Orders struct {
	mu     sync.RWMutex
	orders map[string]order.Order
}

// NewOrders returns an empty Orders store.
func NewOrders() *Orders {
	return &Orders{orders: map[string]order.Order{}}
}

func (s *Orders) Create(_ context.Context, o *order.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.orders[o.ID] = cloneOrder(*o)
	return nil
}

func (s *Orders) GetByID(_ context.Context, id string) (*order.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	o, ok := s.orders[id]
	if !ok {
		return nil, order.ErrNotFound
	}
	clone := cloneOrder(o)
	return &clone, nil
}

func (s *Orders) ListByUser(_ context.Context, userID string) ([]order.Order, error) {
	return s.list(func(o order.Order) bool { return o.UserID == userID }), nil
}

func (s *Orders) List(_ context.Context) ([]order.Order, error) {
	return s.list(func(order.Order) bool { return true }), nil
}

func (s *Orders) UpdateStatus(_ context.Context, id string, from, to order.Status, at time.Time) (*order.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok {
		return nil, order.ErrNotFound
	}
	if o.Status != from {
		return nil, order.ErrStatusConflict
	}
	o.Status = to
	o.UpdatedAt = at
	s.orders[id] = o
	clone := cloneOrder(o)
	return &clone, nil
}

func (s *Orders) list(keep func(order.Order) bool) []order.Order {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]order.Order, 0, len(s.orders))
	for _, o := range s.orders {
		if keep(o) {
			out = append(out, cloneOrder(o))
		}
	}
	// Newest first, ties broken by id for a stable order.
	slices.SortFunc(out, func(a, b order.Order) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return out
}

func cloneOrder(o order.Order) order.Order {
	o.Lines = slices.Clone(o.Lines)
	return o
}
