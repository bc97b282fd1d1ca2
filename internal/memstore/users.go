package memstore

import (
	"context"
	"sync"

	"github.com/xenking/storefront/internal/domain/user"
)

var _ user.Repository = (*Users)(nil)

// Users is an in-memory user.Repository.
type Users struct {
	mu    sync.RWMutex
	users map[string]user.User
}

// NewUsers returns a Users store holding users.
func NewUsers(users ...user.User) *Users {
	s := &Users{users: make(map[string]user.User, len(users))}
	for _, u := range users {
		s.users[u.ID] = u
	}
	return s
}

// Upsert inserts or replaces users.
func (s *Users) Upsert(_ context.Context, users []user.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range users {
		s.users[u.ID] = u
	}
	return nil
}

func (s *Users) GetByID(_ context.Context, id string) (*user.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[id]
	if !ok {
		return nil, user.ErrNotFound
	}
	return &u, nil
}

func (s *Users) GetByIDs(_ context.Context, ids []string) ([]user.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]user.User, 0, len(ids))
	for _, id := range ids {
		if u, ok := s.users[id]; ok {
			out = append(out, u)
		}
	}
	return out, nil
}
