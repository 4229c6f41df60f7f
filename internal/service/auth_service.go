package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/baobao/baobao-user/internal/models"
	"github.com/baobao/baobao-user/internal/repository"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

const (
	bearerPrefix      = "Bearer "
	nicknamePrefix    = "宝妈_"
	maxNicknameLength = 32
)

// AuthService runs the login lifecycle: code delivery, code verification
// with auto-registration, token issuance and logout. It keeps no state of
// its own; everything lives in the stores behind its collaborators.
type AuthService struct {
	otp      *OTPService
	sessions *SessionService
	tokens   *JWTService
	users    repository.UserRepository
	notifier Notifier
	logger   *logrus.Logger
}

func NewAuthService(
	otp *OTPService,
	sessions *SessionService,
	tokens *JWTService,
	users repository.UserRepository,
	notifier Notifier,
	logger *logrus.Logger,
) *AuthService {
	return &AuthService{
		otp:      otp,
		sessions: sessions,
		tokens:   tokens,
		users:    users,
		notifier: notifier,
		logger:   logger,
	}
}

// SendCode issues a verification code for phone and hands it to the notifier.
func (s *AuthService) SendCode(ctx context.Context, phone string) error {
	code, err := s.otp.Issue(ctx, phone)
	if err != nil {
		return err
	}

	if err := s.notifier.Send(ctx, phone, code); err != nil {
		s.logger.WithError(err).WithField("phone", phone).Error("Failed to deliver verification code")
		return fmt.Errorf("failed to deliver code: %w", err)
	}

	return nil
}

// Login verifies the code, registers the phone on first use and starts a new
// session, replacing any session the user already had.
func (s *AuthService) Login(ctx context.Context, phone, code string) (*models.LoginResult, error) {
	if err := s.otp.Verify(ctx, phone, code); err != nil {
		return nil, err
	}

	user, isNewUser, err := s.findOrCreateUser(ctx, phone)
	if err != nil {
		return nil, err
	}

	token, _, err := s.tokens.Issue(user.ID)
	if err != nil {
		return nil, err
	}

	if err := s.sessions.Store(ctx, user.ID, token); err != nil {
		return nil, err
	}

	s.logger.WithFields(logrus.Fields{
		"user_id":  user.ID,
		"new_user": isNewUser,
	}).Info("User logged in")

	return &models.LoginResult{
		Token: token,
		User: models.UserView{
			ID:        user.ID,
			Phone:     user.Phone,
			Nickname:  user.Nickname,
			DueDate:   user.DueDateString(),
			IsNewUser: isNewUser,
		},
	}, nil
}

func (s *AuthService) findOrCreateUser(ctx context.Context, phone string) (*models.User, bool, error) {
	user, err := s.users.GetByPhone(ctx, phone)
	if err != nil {
		return nil, false, err
	}
	if user != nil {
		return user, false, nil
	}

	user = &models.User{
		ID:       uuid.New().String(),
		Phone:    phone,
		Nickname: defaultNickname(phone),
	}

	err = s.users.Create(ctx, user)
	if err == nil {
		return user, true, nil
	}
	if !errors.Is(err, repository.ErrDuplicatePhone) {
		return nil, false, err
	}

	// A concurrent login registered this phone first.
	existing, err := s.users.GetByPhone(ctx, phone)
	if err != nil {
		return nil, false, err
	}
	if existing == nil {
		return nil, false, fmt.Errorf("user for phone %s missing after duplicate insert", phone)
	}

	return existing, false, nil
}

// Logout drops the user's whitelisted token. Logging out twice is fine.
func (s *AuthService) Logout(ctx context.Context, userID string) error {
	return s.sessions.Revoke(ctx, userID)
}

// ResolveSession maps an Authorization header value to a user id. A missing
// or malformed header, a token that fails verification, and a token that is
// no longer whitelisted all yield ok == false without an error. Only store
// failures are returned as errors.
func (s *AuthService) ResolveSession(ctx context.Context, header string) (string, bool, error) {
	if !strings.HasPrefix(header, bearerPrefix) {
		return "", false, nil
	}

	token := strings.TrimSpace(header[len(bearerPrefix):])
	if token == "" {
		return "", false, nil
	}

	userID, err := s.tokens.Verify(token)
	if err != nil {
		return "", false, nil
	}

	active, err := s.sessions.IsActive(ctx, userID, token)
	if err != nil {
		return "", false, err
	}
	if !active {
		return "", false, nil
	}

	return userID, true, nil
}

func (s *AuthService) Profile(ctx context.Context, userID string) (*models.User, error) {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, ErrNotFound
	}
	return user, nil
}

// UpdateProfile applies the fields set in update. An empty due date clears it.
func (s *AuthService) UpdateProfile(ctx context.Context, userID string, update models.ProfileUpdate) (*models.User, error) {
	user, err := s.Profile(ctx, userID)
	if err != nil {
		return nil, err
	}

	if update.Nickname != nil {
		nickname := strings.TrimSpace(*update.Nickname)
		if n := utf8.RuneCountInString(nickname); n == 0 || n > maxNicknameLength {
			return nil, fmt.Errorf("%w: nickname must be 1-%d characters", ErrInvalidInput, maxNicknameLength)
		}
		user.Nickname = nickname
	}

	if update.DueDate != nil {
		if *update.DueDate == "" {
			user.DueDate = nil
		} else {
			due, err := time.Parse(models.DateLayout, *update.DueDate)
			if err != nil {
				return nil, fmt.Errorf("%w: dueDate must be YYYY-MM-DD", ErrInvalidInput)
			}
			user.DueDate = &due
		}
	}

	if err := s.users.Update(ctx, user); err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	return user, nil
}

func defaultNickname(phone string) string {
	if len(phone) > 4 {
		return nicknamePrefix + phone[len(phone)-4:]
	}
	return nicknamePrefix + phone
}
