package service

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/baobao/baobao-user/internal/config"
	"github.com/baobao/baobao-user/internal/store"
	"github.com/sirupsen/logrus"
)

const (
	codeKeyPrefix     = "sms:code:"
	cooldownKeyPrefix = "sms:code:cd:"
	codeLength        = 6

	// MockCode is the code issued to every phone when SMS mock mode is on.
	MockCode = "123456"
)

// OTPService owns the outstanding verification codes and the per-phone send
// cooldown markers.
type OTPService struct {
	store  store.Store
	cfg    *config.OTPConfig
	logger *logrus.Logger
}

func NewOTPService(store store.Store, cfg *config.OTPConfig, logger *logrus.Logger) *OTPService {
	return &OTPService{
		store:  store,
		cfg:    cfg,
		logger: logger,
	}
}

// Issue stores a fresh code for phone, replacing any outstanding one. It
// fails with ErrRateLimited while the previous send is still cooling down.
func (s *OTPService) Issue(ctx context.Context, phone string) (string, error) {
	acquired, err := s.store.SetNX(ctx, cooldownKeyPrefix+phone, "1", s.cfg.Cooldown)
	if err != nil {
		return "", fmt.Errorf("failed to set cooldown: %w", err)
	}
	if !acquired {
		return "", ErrRateLimited
	}

	code := MockCode
	if !s.cfg.Mock {
		code, err = generateRandomCode(codeLength)
		if err != nil {
			s.releaseCooldown(phone)
			return "", fmt.Errorf("failed to generate code: %w", err)
		}
	}

	if err := s.store.Set(ctx, codeKeyPrefix+phone, code, s.cfg.Expiry); err != nil {
		s.releaseCooldown(phone)
		return "", fmt.Errorf("failed to store code: %w", err)
	}

	return code, nil
}

// Verify consumes the outstanding code for phone when it matches.
func (s *OTPService) Verify(ctx context.Context, phone, code string) error {
	key := codeKeyPrefix + phone

	stored, err := s.store.Get(ctx, key)
	if errors.Is(err, store.ErrNotFound) {
		return ErrInvalidCredential
	}
	if err != nil {
		return fmt.Errorf("failed to get code: %w", err)
	}

	if subtle.ConstantTimeCompare([]byte(stored), []byte(code)) != 1 {
		return ErrInvalidCredential
	}

	// Only one concurrent login may consume the code.
	consumed, err := s.store.CompareAndDelete(ctx, key, stored)
	if err != nil {
		return fmt.Errorf("failed to consume code: %w", err)
	}
	if !consumed {
		return ErrInvalidCredential
	}

	return nil
}

// releaseCooldown lets the user retry right away when the send never
// produced a usable code.
func (s *OTPService) releaseCooldown(phone string) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.store.Delete(ctx, cooldownKeyPrefix+phone); err != nil {
		s.logger.WithError(err).WithField("phone", phone).Warn("Failed to release send cooldown")
	}
}

func generateRandomCode(length int) (string, error) {
	code := make([]byte, length)
	for i := range code {
		num, err := rand.Int(rand.Reader, big.NewInt(10))
		if err != nil {
			return "", err
		}
		code[i] = byte('0' + num.Int64())
	}
	return string(code), nil
}
