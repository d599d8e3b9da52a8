package auth

import (
	"context"
	"sort"
	"strings"
	"sync"
)

// UserStore persists user accounts.
type UserStore interface {
	Create(ctx context.Context, u *User) error
	GetByID(ctx context.Context, id string) (*User, error)
	GetByUsername(ctx context.Context, username string) (*User, error)
	Update(ctx context.Context, u *User) error
	List(ctx context.Context, tenantID string, limit, offset int) ([]*User, error)
	CountByTenant(ctx context.Context, tenantID string) (int, error)
}

// MemoryStore is an in-memory user store for development and tests.
type MemoryStore struct {
	users map[string]*User // by id
	mu    sync.RWMutex
}

// NewMemoryStore creates an in-memory user store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{users: make(map[string]*User)}
}

func (s *MemoryStore) Create(_ context.Context, u *User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.users {
		if existing.ID == u.ID ||
			strings.EqualFold(existing.Username, u.Username) ||
			(u.Email != "" && strings.EqualFold(existing.Email, u.Email)) {
			return ErrUserExists
		}
	}
	s.users[u.ID] = u.clone()
	return nil
}

func (s *MemoryStore) GetByID(_ context.Context, id string) (*User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.users[id]
	if !ok {
		return nil, ErrUserNotFound
	}
	return u.clone(), nil
}

func (s *MemoryStore) GetByUsername(_ context.Context, username string) (*User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, u := range s.users {
		if strings.EqualFold(u.Username, username) {
			return u.clone(), nil
		}
	}
	return nil, ErrUserNotFound
}

func (s *MemoryStore) Update(_ context.Context, u *User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.users[u.ID]; !ok {
		return ErrUserNotFound
	}
	for id, existing := range s.users {
		if id != u.ID && u.Email != "" && strings.EqualFold(existing.Email, u.Email) {
			return ErrUserExists
		}
	}
	s.users[u.ID] = u.clone()
	return nil
}

// List returns users ordered by creation time. An empty tenantID lists all.
func (s *MemoryStore) List(_ context.Context, tenantID string, limit, offset int) ([]*User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*User
	for _, u := range s.users {
		if tenantID == "" || u.TenantID == tenantID {
			out = append(out, u.clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].Username < out[j].Username
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})

	if offset >= len(out) {
		return []*User{}, nil
	}
	out = out[offset:]
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) CountByTenant(_ context.Context, tenantID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := 0
	for _, u := range s.users {
		if u.TenantID == tenantID {
			n++
		}
	}
	return n, nil
}
