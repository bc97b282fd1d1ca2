package repository

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/storefront/internal/domain/user"
)

const (
	getUserByIDSQL = `SELECT id, name, email, is_admin FROM users WHERE id = $1`

	getUsersByIDsSQL = `SELECT id, name, email, is_admin FROM users WHERE id = ANY($1)`

	upsertUserSQL = `INSERT INTO users (id, name, email, is_admin)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			email = EXCLUDED.email,
			is_admin = EXCLUDED.is_admin`
)

var _ user.Repository = (*UserRepository)(nil)

// UserRepository implements user.Repository backed by PostgreSQL.
type UserRepository struct {
	pool *pgxpool.Pool
}

// NewUserRepository returns a UserRepository that uses the given pool.
func NewUserRepository(pool *pgxpool.Pool) *UserRepository {
	return &UserRepository{pool: pool}
}

// GetByID returns a single user by its identifier.
func (r *UserRepository) GetByID(ctx context.Context, id string) (*user.User, error) {
	rows, err := r.pool.Query(ctx, getUserByIDSQL, id)
	if err != nil {
		return nil, fmt.Errorf("getting user %q: %w", id, err)
	}

	u, err := pgx.CollectExactlyOneRow(rows, pgx.RowToStructByPos[user.User])
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, user.ErrNotFound
		}
		return nil, fmt.Errorf("getting user %q: %w", id, err)
	}
	return &u, nil
}

// GetByIDs returns users matching any of the given IDs.
func (r *UserRepository) GetByIDs(ctx context.Context, ids []string) ([]user.User, error) {
	rows, err := r.pool.Query(ctx, getUsersByIDsSQL, ids)
	if err != nil {
		return nil, fmt.Errorf("getting users by ids: %w", err)
	}
	return pgx.CollectRows(rows, pgx.RowToStructByPos[user.User])
}

// Upsert inserts or replaces users in one batch.
func (r *UserRepository) Upsert(ctx context.Context, users []user.User) error {
	batch := &pgx.Batch{}
	for _, u := range users {
		batch.Queue(upsertUserSQL, u.ID, u.Name, u.Email, u.IsAdmin)
	}
	if err := r.pool.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("upserting users: %w", err)
	}
	return nil
}
