package repository

import (
	"context"
	"errors"

	"github.com/baobao/baobao-user/internal/models"
)

var (
	// ErrDuplicatePhone is returned by Create when another user already owns
	// the phone number.
	ErrDuplicatePhone = errors.New("phone number already registered")
	ErrUserNotFound   = errors.New("user not found")
)

// UserRepository stores user records. Lookups return (nil, nil) when no
// user matches.
type UserRepository interface {
	GetByID(ctx context.Context, id string) (*models.User, error)
	GetByPhone(ctx context.Context, phone string) (*models.User, error)
	Create(ctx context.Context, user *models.User) error
	Update(ctx context.Context, user *models.User) error
}
