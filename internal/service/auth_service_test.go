package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/baobao/baobao-user/internal/models"
	"github.com/baobao/baobao-user/internal/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const phone = "13800001234"

func TestAuthService_SendCodeMockScenario(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()

	require.NoError(t, f.auth.SendCode(ctx, phone))
	assert.Equal(t, "123456", f.notifier.Code(phone))

	stored, err := f.store.Get(ctx, "sms:code:"+phone)
	require.NoError(t, err)
	assert.Equal(t, "123456", stored)

	result, err := f.auth.Login(ctx, phone, "123456")
	require.NoError(t, err)
	assert.NotEmpty(t, result.Token)
	assert.True(t, result.User.IsNewUser)
	assert.Equal(t, phone, result.User.Phone)
	assert.Equal(t, "宝妈_1234", result.User.Nickname)
	assert.Empty(t, result.User.DueDate)
	assert.Equal(t, 1, f.users.Count())
}

func TestAuthService_SendCodeRateLimited(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()

	require.NoError(t, f.auth.SendCode(ctx, phone))
	assert.ErrorIs(t, f.auth.SendCode(ctx, phone), ErrRateLimited)
}

func TestAuthService_SendCodeNotifierFailure(t *testing.T) {
	f := newFixture(t, true)
	f.notifier.fails = errors.New("carrier down")

	err := f.auth.SendCode(context.Background(), phone)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "carrier down")
}

func TestAuthService_LoginWithoutOutstandingCode(t *testing.T) {
	f := newFixture(t, true)

	_, err := f.auth.Login(context.Background(), phone, "000000")
	assert.ErrorIs(t, err, ErrInvalidCredential)
	assert.Equal(t, 0, f.users.Count())
}

func TestAuthService_LoginCodeSingleUse(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()

	require.NoError(t, f.auth.SendCode(ctx, phone))
	_, err := f.auth.Login(ctx, phone, "123456")
	require.NoError(t, err)

	_, err = f.auth.Login(ctx, phone, "123456")
	assert.ErrorIs(t, err, ErrInvalidCredential)
}

func TestAuthService_LoginExpiredCode(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()

	require.NoError(t, f.auth.SendCode(ctx, phone))
	f.clock.Advance(5*time.Minute + time.Second)

	_, err := f.auth.Login(ctx, phone, "123456")
	assert.ErrorIs(t, err, ErrInvalidCredential)
}

func TestAuthService_ReturningUser(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()

	require.NoError(t, f.auth.SendCode(ctx, phone))
	first, err := f.auth.Login(ctx, phone, "123456")
	require.NoError(t, err)

	f.clock.Advance(61 * time.Second)
	require.NoError(t, f.auth.SendCode(ctx, phone))
	second, err := f.auth.Login(ctx, phone, "123456")
	require.NoError(t, err)

	assert.False(t, second.User.IsNewUser)
	assert.Equal(t, first.User.ID, second.User.ID)
	assert.Equal(t, 1, f.users.Count())

	// the second login replaced the first session
	_, ok, err := f.auth.ResolveSession(ctx, "Bearer "+first.Token)
	require.NoError(t, err)
	assert.False(t, ok)

	userID, ok, err := f.auth.ResolveSession(ctx, "Bearer "+second.Token)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, second.User.ID, userID)
}

func TestAuthService_ConcurrentFirstLogins(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()

	const workers = 8
	var wg sync.WaitGroup
	var mu sync.Mutex
	ids := map[string]int{}
	newUsers := 0

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			// each worker plants its own code so every login can pass verification
			if err := f.store.Set(ctx, "sms:code:"+phone, "123456", time.Minute); err != nil {
				return
			}
			result, err := f.auth.Login(ctx, phone, "123456")
			if err != nil {
				return
			}
			mu.Lock()
			defer mu.Unlock()
			ids[result.User.ID]++
			if result.User.IsNewUser {
				newUsers++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, f.users.Count())
	assert.LessOrEqual(t, len(ids), 1)
	assert.LessOrEqual(t, newUsers, 1)
}

// racingRepo registers the phone on behalf of another login right before
// the first Create, so the caller always loses the race.
type racingRepo struct {
	*repository.MemoryUserRepository
	once sync.Once
}

func (r *racingRepo) Create(ctx context.Context, user *models.User) error {
	r.once.Do(func() {
		_ = r.MemoryUserRepository.Create(ctx, &models.User{ID: "winner", Phone: user.Phone, Nickname: "winner"})
	})
	return r.MemoryUserRepository.Create(ctx, user)
}

func TestAuthService_DuplicateInsertFallsBackToLookup(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()

	repo := &racingRepo{MemoryUserRepository: f.users}
	auth := NewAuthService(f.otp, f.sessions, f.tokens, repo, f.notifier, quietLogger())

	require.NoError(t, auth.SendCode(ctx, phone))
	result, err := auth.Login(ctx, phone, "123456")
	require.NoError(t, err)

	assert.Equal(t, "winner", result.User.ID)
	assert.False(t, result.User.IsNewUser)
	assert.Equal(t, 1, f.users.Count())
}

func TestAuthService_Logout(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()

	require.NoError(t, f.auth.SendCode(ctx, phone))
	result, err := f.auth.Login(ctx, phone, "123456")
	require.NoError(t, err)

	require.NoError(t, f.auth.Logout(ctx, result.User.ID))
	require.NoError(t, f.auth.Logout(ctx, result.User.ID))

	exists, err := f.store.Exists(ctx, "token:"+result.User.ID)
	require.NoError(t, err)
	assert.False(t, exists)

	_, ok, err := f.auth.ResolveSession(ctx, "Bearer "+result.Token)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestAuthService_ResolveSession(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()

	require.NoError(t, f.auth.SendCode(ctx, phone))
	result, err := f.auth.Login(ctx, phone, "123456")
	require.NoError(t, err)

	userID, ok, err := f.auth.ResolveSession(ctx, "Bearer "+result.Token)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, result.User.ID, userID)

	for _, header := range []string{"", "Bearer ", "Basic abc", "bearer " + result.Token, result.Token, "Bearer garbage"} {
		_, ok, err := f.auth.ResolveSession(ctx, header)
		require.NoError(t, err)
		assert.False(t, ok, "header %q", header)
	}

	f.clock.Advance(31 * 24 * time.Hour)
	_, ok, err = f.auth.ResolveSession(ctx, "Bearer "+result.Token)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestAuthService_UpdateProfile(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()

	require.NoError(t, f.auth.SendCode(ctx, phone))
	result, err := f.auth.Login(ctx, phone, "123456")
	require.NoError(t, err)
	id := result.User.ID

	nickname := "  Lily  "
	due := "2025-06-01"
	user, err := f.auth.UpdateProfile(ctx, id, models.ProfileUpdate{Nickname: &nickname, DueDate: &due})
	require.NoError(t, err)
	assert.Equal(t, "Lily", user.Nickname)
	assert.Equal(t, "2025-06-01", user.DueDateString())

	empty := ""
	user, err = f.auth.UpdateProfile(ctx, id, models.ProfileUpdate{DueDate: &empty})
	require.NoError(t, err)
	assert.Equal(t, "Lily", user.Nickname)
	assert.Nil(t, user.DueDate)

	bad := "06/01/2025"
	_, err = f.auth.UpdateProfile(ctx, id, models.ProfileUpdate{DueDate: &bad})
	assert.ErrorIs(t, err, ErrInvalidInput)

	blank := "   "
	_, err = f.auth.UpdateProfile(ctx, id, models.ProfileUpdate{Nickname: &blank})
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = f.auth.UpdateProfile(ctx, "ghost", models.ProfileUpdate{Nickname: &nickname})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestAuthService_ProfileMissing(t *testing.T) {
	f := newFixture(t, true)

	_, err := f.auth.Profile(context.Background(), "ghost")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDefaultNickname(t *testing.T) {
	assert.Equal(t, "宝妈_1234", defaultNickname("13800001234"))
	assert.Equal(t, "宝妈_123", defaultNickname("123"))
}
