package repository

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/storefront/internal/domain/product"
)

const (
	productColumns = `id, name, description, category, image, price, stock`

	getProductByIDSQL = `SELECT ` + productColumns + ` FROM products WHERE id = $1`

	getProductsByIDsSQL = `SELECT ` + productColumns + ` FROM products WHERE id = ANY($1) ORDER BY id`

	decrementStockSQL = `UPDATE products SET stock = stock - $2
		WHERE id = $1 AND stock >= $2
		RETURNING ` + productColumns

	stockOfSQL = `SELECT name, stock FROM products WHERE id = $1`

	incrementStockSQL = `UPDATE products SET stock = stock + $2 WHERE id = $1`

	upsertProductSQL = `INSERT INTO products (id, name, description, category, image, price, stock)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			description = EXCLUDED.description,
			category = EXCLUDED.category,
			image = EXCLUDED.image,
			price = EXCLUDED.price,
			stock = EXCLUDED.stock`
)

var _ product.Repository = (*ProductRepository)(nil)

// ProductRepository implements product.Repository backed by PostgreSQL.
type ProductRepository struct {
	pool *pgxpool.Pool
}

// NewProductRepository returns a ProductRepository that uses the given pool.
func NewProductRepository(pool *pgxpool.Pool) *ProductRepository {
	return &ProductRepository{pool: pool}
}

// GetByID returns a single product by its identifier.
func (r *ProductRepository) GetByID(ctx context.Context, id string) (*product.Product, error) {
	rows, err := r.pool.Query(ctx, getProductByIDSQL, id)
	if err != nil {
		return nil, fmt.Errorf("getting product %q: %w", id, err)
	}

	p, err := pgx.CollectExactlyOneRow(rows, scanProduct)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, product.ErrNotFound
		}
		return nil, fmt.Errorf("getting product %q: %w", id, err)
	}
	return &p, nil
}

// GetByIDs returns products matching any of the given IDs. Unknown IDs are
// skipped.
func (r *ProductRepository) GetByIDs(ctx context.Context, ids []string) ([]product.Product, error) {
	rows, err := r.pool.Query(ctx, getProductsByIDsSQL, ids)
	if err != nil {
		return nil, fmt.Errorf("getting products by ids: %w", err)
	}
	return pgx.CollectRows(rows, scanProduct)
}

// DecrementStock subtracts qty from the product stock in a single conditional
// UPDATE and returns the row as written. Concurrent decrements of the same
// row serialize on its row lock, and each re-checks the condition against the
// committed stock.
func (r *ProductRepository) DecrementStock(ctx context.Context, id string, qty int) (*product.Product, error) {
	rows, err := r.pool.Query(ctx, decrementStockSQL, id, qty)
	if err != nil {
		return nil, fmt.Errorf("decrementing stock of %q: %w", id, err)
	}

	p, err := pgx.CollectExactlyOneRow(rows, scanProduct)
	if err == nil {
		return &p, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("decrementing stock of %q: %w", id, err)
	}

	// The condition failed: tell a missing product from a short one. The
	// available count is informational and may already be stale.
	var (
		name      string
		available int
	)
	err = r.pool.QueryRow(ctx, stockOfSQL, id).Scan(&name, &available)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, product.ErrNotFound
		}
		return nil, fmt.Errorf("reading stock of %q: %w", id, err)
	}
	return nil, &product.InsufficientStockError{ProductID: id, Name: name, Available: available}
}

// IncrementStock returns qty units to the product stock.
func (r *ProductRepository) IncrementStock(ctx context.Context, id string, qty int) error {
	tag, err := r.pool.Exec(ctx, incrementStockSQL, id, qty)
	if err != nil {
		return fmt.Errorf("incrementing stock of %q: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return product.ErrNotFound
	}
	return nil
}

// Upsert inserts or fully replaces products in one batch.
func (r *ProductRepository) Upsert(ctx context.Context, products []product.Product) error {
	batch := &pgx.Batch{}
	for _, p := range products {
		batch.Queue(upsertProductSQL, p.ID, p.Name, p.Description, p.Category, p.Image, p.Price, p.Stock)
	}
	if err := r.pool.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("upserting products: %w", err)
	}
	return nil
}

func scanProduct(row pgx.CollectableRow) (product.Product, error) {
	var p product.Product
	err := row.Scan(&p.ID, &p.Name, &p.Description, &p.Category, &p.Image, &p.Price, &p.Stock)
	return p, err
}
