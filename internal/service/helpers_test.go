package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/baobao/baobao-user/internal/config"
	"github.com/baobao/baobao-user/internal/repository"
	"github.com/baobao/baobao-user/internal/store"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

const testSecret = "0123456789abcdef0123456789abcdef"

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return logger
}

type recordingNotifier struct {
	mu    sync.Mutex
	sent  map[string]string
	fails error
}

func newRecordingNotifier() *recordingNotifier {
	return &recordingNotifier{sent: make(map[string]string)}
}

func (n *recordingNotifier) Send(_ context.Context, phone, code string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.fails != nil {
		return n.fails
	}
	n.sent[phone] = code
	return nil
}

func (n *recordingNotifier) Code(phone string) string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.sent[phone]
}

type fixture struct {
	clock    *testClock
	store    *store.MemoryStore
	users    *repository.MemoryUserRepository
	notifier *recordingNotifier
	tokens   *JWTService
	otp      *OTPService
	sessions *SessionService
	auth     *AuthService
}

func newFixture(t *testing.T, mock bool) *fixture {
	t.Helper()

	logger := quietLogger()
	clock := newTestClock()
	kv := store.NewMemoryStore().WithClock(clock.Now)
	users := repository.NewMemoryUserRepository()
	notifier := newRecordingNotifier()

	jwtCfg := &config.JWTConfig{SecretKey: testSecret, ExpireDays: 30}
	tokens, err := NewJWTService(jwtCfg, logger)
	require.NoError(t, err)
	tokens.WithClock(clock.Now)

	otpCfg := &config.OTPConfig{Mock: mock, Expiry: 5 * time.Minute, Cooldown: 60 * time.Second}
	otp := NewOTPService(kv, otpCfg, logger)
	sessions := NewSessionService(kv, tokens.Lifetime(), logger)

	return &fixture{
		clock:    clock,
		store:    kv,
		users:    users,
		notifier: notifier,
		tokens:   tokens,
		otp:      otp,
		sessions: sessions,
		auth:     NewAuthService(otp, sessions, tokens, users, notifier, logger),
	}
}
