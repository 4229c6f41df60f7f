package repository

import (
	"context"
	"sync"
	"time"

	"github.com/baobao/baobao-user/internal/models"
)

type MemoryUserRepository struct {
	mu      sync.RWMutex
	byID    map[string]models.User
	byPhone map[string]string
}

func NewMemoryUserRepository() *MemoryUserRepository {
	return &MemoryUserRepository{
		byID:    make(map[string]models.User),
		byPhone: make(map[string]string),
	}
}

func (r *MemoryUserRepository) GetByID(_ context.Context, id string) (*models.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	user, ok := r.byID[id]
	if !ok {
		return nil, nil
	}
	return &user, nil
}

func (r *MemoryUserRepository) GetByPhone(_ context.Context, phone string) (*models.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.byPhone[phone]
	if !ok {
		return nil, nil
	}
	user := r.byID[id]
	return &user, nil
}

func (r *MemoryUserRepository) Create(_ context.Context, user *models.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.byPhone[user.Phone]; ok {
		return ErrDuplicatePhone
	}

	now := time.Now()
	user.CreatedAt = now
	user.UpdatedAt = now
	r.byID[user.ID] = *user
	r.byPhone[user.Phone] = user.ID
	return nil
}

func (r *MemoryUserRepository) Update(_ context.Context, user *models.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	existing, ok := r.byID[user.ID]
	if !ok {
		return ErrUserNotFound
	}

	user.UpdatedAt = time.Now()
	existing.Nickname = user.Nickname
	existing.DueDate = user.DueDate
	existing.UpdatedAt = user.UpdatedAt
	r.byID[user.ID] = existing
	return nil
}

// Count reports how many users are stored.
func (r *MemoryUserRepository) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byID)
}

var _ UserRepository = (*MemoryUserRepository)(nil)
