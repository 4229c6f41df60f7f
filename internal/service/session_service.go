package service

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"time"

	"github.com/baobao/baobao-user/internal/store"
	"github.com/sirupsen/logrus"
)

const tokenKeyPrefix = "token:"

// SessionService keeps the whitelist of currently valid tokens, one per
// user. Storing a new token replaces the previous one.
type SessionService struct {
	store    store.Store
	lifetime time.Duration
	logger   *logrus.Logger
}

func NewSessionService(store store.Store, lifetime time.Duration, logger *logrus.Logger) *SessionService {
	return &SessionService{
		store:    store,
		lifetime: lifetime,
		logger:   logger,
	}
}

func (s *SessionService) Store(ctx context.Context, userID, token string) error {
	if err := s.store.Set(ctx, tokenKeyPrefix+userID, token, s.lifetime); err != nil {
		s.logger.WithError(err).WithField("user_id", userID).Error("Failed to whitelist token")
		return fmt.Errorf("failed to store session: %w", err)
	}
	return nil
}

// Revoke drops the user's whitelisted token. It is a no-op when there is none.
func (s *SessionService) Revoke(ctx context.Context, userID string) error {
	if err := s.store.Delete(ctx, tokenKeyPrefix+userID); err != nil {
		return fmt.Errorf("failed to revoke session: %w", err)
	}
	return nil
}

// IsActive reports whether token is the user's whitelisted token.
func (s *SessionService) IsActive(ctx context.Context, userID, token string) (bool, error) {
	current, err := s.store.Get(ctx, tokenKeyPrefix+userID)
	if errors.Is(err, store.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to get session: %w", err)
	}

	return subtle.ConstantTimeCompare([]byte(current), []byte(token)) == 1, nil
}
