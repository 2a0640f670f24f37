package repository

import (
	"context"
	"sync"
	"time"

	"github.com/prohmpiriya/healthcare-educate/internal/domain"
)

// MemoryUserRepository implements UserRepository in memory.
// Used by tests and by the server when no database is configured.
type MemoryUserRepository struct {
	mu     sync.Mutex
	users  map[int64]*domain.User
	nextID int64
}

// NewMemoryUserRepository creates an empty in-memory user repository
func NewMemoryUserRepository() *MemoryUserRepository {
	return &MemoryUserRepository{users: make(map[int64]*domain.User)}
}

// Create stores a user, enforcing unique email and username
func (r *MemoryUserRepository) Create(ctx context.Context, user *domain.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, u := range r.users {
		if u.Email == user.Email {
			return domain.ErrEmailTaken
		}
		if u.Username == user.Username {
			return domain.ErrUsernameTaken
		}
	}

	r.nextID++
	now := time.Now()
	user.ID = r.nextID
	user.CreatedAt = now
	user.UpdatedAt = now
	r.users[user.ID] = cloneUser(user)
	return nil
}

// GetByID returns a copy of the user, or nil
func (r *MemoryUserRepository) GetByID(ctx context.Context, id int64) (*domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if u, ok := r.users[id]; ok {
		return cloneUser(u), nil
	}
	return nil, nil
}

// GetByEmail returns a copy of the user, or nil
func (r *MemoryUserRepository) GetByEmail(ctx context.Context, email string) (*domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, u := range r.users {
		if u.Email == email {
			return cloneUser(u), nil
		}
	}
	return nil, nil
}

// FindByEmailOrUsername prefers an email match over a username match
func (r *MemoryUserRepository) FindByEmailOrUsername(ctx context.Context, email, username string) (*domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var byUsername *domain.User
	for _, u := range r.users {
		if u.Email == email {
			return cloneUser(u), nil
		}
		if u.Username == username && byUsername == nil {
			byUsername = u
		}
	}
	if byUsername != nil {
		return cloneUser(byUsername), nil
	}
	return nil, nil
}

// SetRefreshToken overwrites the stored token
func (r *MemoryUserRepository) SetRefreshToken(ctx context.Context, userID int64, token *string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if u, ok := r.users[userID]; ok {
		u.RefreshToken = cloneString(token)
		u.UpdatedAt = time.Now()
	}
	return nil
}

// RotateRefreshToken swaps the token under the repository lock
func (r *MemoryUserRepository) RotateRefreshToken(ctx context.Context, userID int64, presented, next string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	u, ok := r.users[userID]
	if !ok || u.RefreshToken == nil || *u.RefreshToken != presented {
		return false, nil
	}
	u.RefreshToken = &next
	u.UpdatedAt = time.Now()
	return true, nil
}

func cloneUser(u *domain.User) *domain.User {
	c := *u
	c.RefreshToken = cloneString(u.RefreshToken)
	return &c
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}
