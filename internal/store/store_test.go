package store

import (
	"context"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

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

type backend struct {
	store   Store
	advance func(time.Duration)
}

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return logger
}

func newMemoryBackend(t *testing.T) backend {
	t.Helper()
	clock := newTestClock()
	return backend{
		store:   NewMemoryStore().WithClock(clock.Now),
		advance: clock.Advance,
	}
}

func newRedisBackend(t *testing.T) backend {
	t.Helper()

	server, err := miniredis.Run()
	require.NoError(t, err)

	client := redis.NewClient(&redis.Options{Addr: server.Addr()})
	t.Cleanup(func() {
		_ = client.Close()
		server.Close()
	})

	return backend{
		store:   NewRedisStore(client, testLogger()),
		advance: server.FastForward,
	}
}

func newDynamoBackend(t *testing.T) backend {
	t.Helper()
	clock := newTestClock()
	s := NewDynamoDBStore(newFakeDynamo(clock.Now), "test", testLogger())
	s.now = clock.Now
	return backend{store: s, advance: clock.Advance}
}

func forEachBackend(t *testing.T, fn func(t *testing.T, b backend)) {
	backends := map[string]func(*testing.T) backend{
		"memory":   newMemoryBackend,
		"redis":    newRedisBackend,
		"dynamodb": newDynamoBackend,
	}
	for name, newBackend := range backends {
		t.Run(name, func(t *testing.T) {
			fn(t, newBackend(t))
		})
	}
}

func TestStore_SetGetDelete(t *testing.T) {
	forEachBackend(t, func(t *testing.T, b backend) {
		ctx := context.Background()

		require.NoError(t, b.store.Set(ctx, "sms:code:13800001234", "123456", time.Minute))

		got, err := b.store.Get(ctx, "sms:code:13800001234")
		require.NoError(t, err)
		assert.Equal(t, "123456", got)

		exists, err := b.store.Exists(ctx, "sms:code:13800001234")
		require.NoError(t, err)
		assert.True(t, exists)

		require.NoError(t, b.store.Delete(ctx, "sms:code:13800001234"))
		_, err = b.store.Get(ctx, "sms:code:13800001234")
		assert.ErrorIs(t, err, ErrNotFound)

		// deleting twice is fine
		require.NoError(t, b.store.Delete(ctx, "sms:code:13800001234"))
	})
}

func TestStore_Overwrite(t *testing.T) {
	forEachBackend(t, func(t *testing.T, b backend) {
		ctx := context.Background()

		require.NoError(t, b.store.Set(ctx, "token:u1", "first", time.Hour))
		require.NoError(t, b.store.Set(ctx, "token:u1", "second", time.Hour))

		got, err := b.store.Get(ctx, "token:u1")
		require.NoError(t, err)
		assert.Equal(t, "second", got)
	})
}

func TestStore_Expiry(t *testing.T) {
	forEachBackend(t, func(t *testing.T, b backend) {
		ctx := context.Background()

		require.NoError(t, b.store.Set(ctx, "k", "v", 5*time.Second))
		b.advance(6 * time.Second)

		_, err := b.store.Get(ctx, "k")
		assert.ErrorIs(t, err, ErrNotFound)

		exists, err := b.store.Exists(ctx, "k")
		require.NoError(t, err)
		assert.False(t, exists)
	})
}

func TestStore_SetNX(t *testing.T) {
	forEachBackend(t, func(t *testing.T, b backend) {
		ctx := context.Background()

		ok, err := b.store.SetNX(ctx, "cd", "1", 60*time.Second)
		require.NoError(t, err)
		assert.True(t, ok)

		ok, err = b.store.SetNX(ctx, "cd", "1", 60*time.Second)
		require.NoError(t, err)
		assert.False(t, ok)

		b.advance(61 * time.Second)

		ok, err = b.store.SetNX(ctx, "cd", "1", 60*time.Second)
		require.NoError(t, err)
		assert.True(t, ok)
	})
}

func TestStore_SetNXConcurrent(t *testing.T) {
	forEachBackend(t, func(t *testing.T, b backend) {
		ctx := context.Background()

		var wins atomic.Int32
		var wg sync.WaitGroup
		for i := 0; i < 20; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				ok, err := b.store.SetNX(ctx, "race", "1", time.Minute)
				if err == nil && ok {
					wins.Add(1)
				}
			}()
		}
		wg.Wait()

		assert.Equal(t, int32(1), wins.Load())
	})
}

func TestStore_CompareAndDelete(t *testing.T) {
	forEachBackend(t, func(t *testing.T, b backend) {
		ctx := context.Background()

		require.NoError(t, b.store.Set(ctx, "sms:code:p", "123456", time.Minute))

		ok, err := b.store.CompareAndDelete(ctx, "sms:code:p", "654321")
		require.NoError(t, err)
		assert.False(t, ok)

		ok, err = b.store.CompareAndDelete(ctx, "sms:code:p", "123456")
		require.NoError(t, err)
		assert.True(t, ok)

		ok, err = b.store.CompareAndDelete(ctx, "sms:code:p", "123456")
		require.NoError(t, err)
		assert.False(t, ok)

		ok, err = b.store.CompareAndDelete(ctx, "absent", "x")
		require.NoError(t, err)
		assert.False(t, ok)
	})
}

func TestStore_InvalidTTL(t *testing.T) {
	forEachBackend(t, func(t *testing.T, b backend) {
		ctx := context.Background()

		assert.ErrorIs(t, b.store.Set(ctx, "k", "v", 0), ErrInvalidTTL)
		_, err := b.store.SetNX(ctx, "k", "v", -time.Second)
		assert.ErrorIs(t, err, ErrInvalidTTL)
	})
}

func TestRedisStore_TTLApplied(t *testing.T) {
	server, err := miniredis.Run()
	require.NoError(t, err)
	defer server.Close()

	client := redis.NewClient(&redis.Options{Addr: server.Addr()})
	defer client.Close()

	s := NewRedisStore(client, testLogger())
	require.NoError(t, s.Set(context.Background(), "token:u1", "tok", 30*24*time.Hour))

	assert.Equal(t, 30*24*time.Hour, server.TTL("token:u1"))
}

func TestRedisStore_ConnectionFailure(t *testing.T) {
	server, err := miniredis.Run()
	require.NoError(t, err)

	client := redis.NewClient(&redis.Options{Addr: server.Addr(), MaxRetries: -1})
	defer client.Close()
	server.Close()

	s := NewRedisStore(client, testLogger())
	_, err = s.Get(context.Background(), "k")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrNotFound)
}

// fakeDynamo is an in-memory stand-in for the PutItem/GetItem/DeleteItem
// calls DynamoDBStore makes. It understands only the store's own
// condition expression.
type fakeDynamo struct {
	mu    sync.Mutex
	items map[string]map[string]types.AttributeValue
	now   func() time.Time
}

func newFakeDynamo(now func() time.Time) *fakeDynamo {
	return &fakeDynamo{items: make(map[string]map[string]types.AttributeValue), now: now}
}

func pkOf(item map[string]types.AttributeValue) string {
	return item["PK"].(*types.AttributeValueMemberS).Value
}

func (f *fakeDynamo) PutItem(_ context.Context, in *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	pk := pkOf(in.Item)
	if in.ConditionExpression != nil {
		if existing, ok := f.items[pk]; ok {
			ttl, _ := strconv.ParseInt(existing["TTL"].(*types.AttributeValueMemberN).Value, 10, 64)
			if ttl > f.now().Unix() {
				return nil, &types.ConditionalCheckFailedException{Message: strPtr("conditional check failed")}
			}
		}
	}
	f.items[pk] = in.Item
	return &dynamodb.PutItemOutput{}, nil
}

func (f *fakeDynamo) GetItem(_ context.Context, in *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return &dynamodb.GetItemOutput{Item: f.items[pkOf(in.Key)]}, nil
}

func (f *fakeDynamo) DeleteItem(_ context.Context, in *dynamodb.DeleteItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	pk := pkOf(in.Key)
	if in.ConditionExpression != nil {
		existing, ok := f.items[pk]
		if !ok {
			return nil, &types.ConditionalCheckFailedException{Message: strPtr("conditional check failed")}
		}
		ttl, _ := strconv.ParseInt(existing["TTL"].(*types.AttributeValueMemberN).Value, 10, 64)
		value := existing["Value"].(*types.AttributeValueMemberS).Value
		want := in.ExpressionAttributeValues[":value"].(*types.AttributeValueMemberS).Value
		if value != want || ttl <= f.now().Unix() {
			return nil, &types.ConditionalCheckFailedException{Message: strPtr("conditional check failed")}
		}
	}
	delete(f.items, pk)
	return &dynamodb.DeleteItemOutput{}, nil
}

func strPtr(s string) *string { return &s }
