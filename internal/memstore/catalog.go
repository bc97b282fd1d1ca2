// Package memstore provides in-memory catalog, order and user stores for
// local runs and tests. Every method copies values in and out so callers
// never share memory with the store.
package memstore

import (
	"cmp"
	"context"
	"slices"
	"sync"

	"github.com/xenking/storefront/internal/domain/product"
)

var _ product.Repository = (*Catalog)(nil)

// Catalog is an in-memory product.Repository. Stock changes are serialized
// under a single mutex, which makes each conditional decrement atomic.
type Catalog struct {
	mu       sync.Mutex
	products map[string]product.Product
}

// NewCatalog returns a Catalog holding products.
func NewCatalog(products ...product.Product) *Catalog {
	c := &Catalog{products: make(map[string]product.Product, len(products))}
	for _, p := range products {
		c.products[p.ID] = p
	}
	return c
}

// Upsert inserts or replaces products.
func (c *Catalog) Upsert(_ context.Context, products []product.Product) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, p := range products {
		c.products[p.ID] = p
	}
	return nil
}

// Delete removes a product. Orders that reference it keep their snapshot.
func (c *Catalog) Delete(_ context.Context, id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.products, id)
}

func (c *Catalog) GetByID(_ context.Context, id string) (*product.Product, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.products[id]
	if !ok {
		return nil, product.ErrNotFound
	}
	return &p, nil
}

func (c *Catalog) GetByIDs(_ context.Context, ids []string) ([]product.Product, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]product.Product, 0, len(ids))
	for _, id := range ids {
		if p, ok := c.products[id]; ok {
			out = append(out, p)
		}
	}
	slices.SortFunc(out, func(a, b product.Product) int {
		return cmp.Compare(a.ID, b.ID)
	})
	return slices.CompactFunc(out, func(a, b product.Product) bool { return a.ID == b.ID }), nil
}

func (c *Catalog) DecrementStock(_ context.Context, id string, qty int) (*product.Product, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.products[id]
	if !ok {
		return nil, product.ErrNotFound
	}
	if p.Stock < qty {
		return nil, &product.InsufficientStockError{ProductID: id, Name: p.Name, Available: p.Stock}
	}
	p.Stock -= qty
	c.products[id] = p
	return &p, nil
}

func (c *Catalog) IncrementStock(_ context.Context, id string, qty int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.products[id]
	if !ok {
		return product.ErrNotFound
	}
	p.Stock += qty
	c.products[id] = p
	return nil
}
