// Package user describes the user directory the order flow reads from.
// Account management lives outside this service.
package user

import (
	"context"

	"github.com/go-faster/errors"
)

// ErrNotFound is returned when a user id does not resolve.
var ErrNotFound = errors.New("user not found")

// User is a directory record.
type User struct {
	ID      string
	Name    string
	Email   string
	IsAdmin bool
}

// Repository resolves users by id.
type Repository interface {
	GetByID(ctx context.Context, id string) (*User, error)
	GetByIDs(ctx context.Context, ids []string) ([]User, error)
}
