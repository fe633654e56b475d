package store

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/bookbridge/storefront-adapter/pkg/model"
)

func newTestStore(t *testing.T) (*HybridStore, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return NewWithClient(rdb, zap.NewNop()), mr
}

// --- HealthCheck ---

func TestHealthCheck_Success(t *testing.T) {
	store, mr := newTestStore(t)
	defer mr.Close()

	require.NoError(t, store.HealthCheck(context.Background()))
}

func TestHealthCheck_RedisNil(t *testing.T) {
	store := &HybridStore{redis: nil}
	err := store.HealthCheck(context.Background())
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "redis not initialized")
}

func TestHealthCheck_RedisDown(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	store := &HybridStore{redis: rdb}

	mr.Close()

	err = store.HealthCheck(context.Background())
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "redis ping failed")
}

// --- Close ---

func TestClose_RedisOnly(t *testing.T) {
	store, mr := newTestStore(t)
	defer mr.Close()

	require.NoError(t, store.Close())
}

func TestClose_NilComponents(t *testing.T) {
	store := &HybridStore{}
	require.NoError(t, store.Close())
}

// --- Locks ---

func TestTryLock_ExclusiveUntilUnlock(t *testing.T) {
	ctx := context.Background()
	store, mr := newTestStore(t)
	defer mr.Close()

	l, ok, err := store.TryLock(ctx, "lock:checkout:user:1", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	_, ok, err = store.TryLock(ctx, "lock:checkout:user:1", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok, "second holder refused")

	require.NoError(t, store.Unlock(ctx, l))
	_, ok, err = store.TryLock(ctx, "lock:checkout:user:1", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestTryLock_ExpiresAfterTTL(t *testing.T) {
	ctx := context.Background()
	store, mr := newTestStore(t)
	defer mr.Close()

	_, ok, err := store.TryLock(ctx, "lock:a", time.Second)
	require.NoError(t, err)
	require.True(t, ok)

	mr.FastForward(2 * time.Second)

	_, ok, err = store.TryLock(ctx, "lock:a", time.Second)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestUnlock_DoesNotReleaseOtherHolder(t *testing.T) {
	ctx := context.Background()
	store, mr := newTestStore(t)
	defer mr.Close()

	stale, ok, err := store.TryLock(ctx, "lock:a", time.Second)
	require.NoError(t, err)
	require.True(t, ok)
	mr.FastForward(2 * time.Second)

	_, ok, err = store.TryLock(ctx, "lock:a", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, store.Unlock(ctx, stale))
	assert.True(t, mr.Exists("lock:a"), "current holder's lock survives a stale unlock")
}

func TestUnlock_ZeroLockIsNoop(t *testing.T) {
	store, mr := newTestStore(t)
	defer mr.Close()
	assert.NoError(t, store.Unlock(context.Background(), Lock{}))
}

// --- Verification memo ---

func TestVerificationMemo_RoundTrip(t *testing.T) {
	ctx := context.Background()
	store, mr := newTestStore(t)
	defer mr.Close()

	got, err := store.GetVerification(ctx, "REF-1")
	require.NoError(t, err)
	assert.Nil(t, got)

	res := model.VerificationResult{
		Attempt:     model.PaymentAttempt{OrderID: "42", GatewayReference: "REF-1", Outcome: model.OutcomeSuccess},
		CartCleared: true,
	}
	require.NoError(t, store.PutVerification(ctx, "REF-1", res, time.Hour))

	got, err = store.GetVerification(ctx, "REF-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, model.OutcomeSuccess, got.Attempt.Outcome)
	assert.Equal(t, model.ID("42"), got.Attempt.OrderID)
	assert.True(t, got.CartCleared)
	assert.True(t, mr.Exists("storefront:verification:REF-1"))
}

func TestVerificationMemo_InvalidJSON(t *testing.T) {
	store, mr := newTestStore(t)
	defer mr.Close()

	require.NoError(t, mr.Set("storefront:verification:REF-2", "not-json"))
	got, err := store.GetVerification(context.Background(), "REF-2")
	assert.Nil(t, got)
	assert.Error(t, err)
}

// --- Status audit with nil PG ---

func TestRecordStatusChange_NilPG(t *testing.T) {
	store, mr := newTestStore(t)
	defer mr.Close()

	err := store.RecordStatusChange(context.Background(), model.StatusChange{
		OrderID: "1", Status: model.StatusShipped, Actor: "user:9", Accepted: true, CreatedAt: time.Now(),
	})
	require.NoError(t, err)
}

func TestListStatusChanges_NilPG(t *testing.T) {
	store, mr := newTestStore(t)
	defer mr.Close()

	results, err := store.ListStatusChanges(context.Background(), "1")
	assert.Nil(t, results)
	assert.ErrorIs(t, err, ErrPostgresUnavailable)
}

// --- SetJSON / GetJSON ---

func TestGetJSON_KeyNotFound(t *testing.T) {
	store, mr := newTestStore(t)
	defer mr.Close()

	var dest map[string]string
	err := store.GetJSON(context.Background(), "nonexistent:key", &dest)
	assert.ErrorIs(t, err, redis.Nil)
}

func TestSetJSON_NilValue(t *testing.T) {
	store, mr := newTestStore(t)
	defer mr.Close()

	require.NoError(t, store.SetJSON(context.Background(), "test:nil", nil, 0))
}

// --- NewHybrid ---

func TestNewHybrid_NilLogger(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	st, err := NewHybrid(RedisConfig{Addr: mr.Addr()}, "", PGPoolConfig{}, nil)
	require.NoError(t, err)
	require.NotNil(t, st)
	require.NoError(t, st.Close())
}

func TestNewHybrid_InvalidRedis(t *testing.T) {
	_, err := NewHybrid(RedisConfig{Addr: "localhost:1"}, "", PGPoolConfig{}, nil)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "redis ping failed")
}

func TestNewHybrid_InvalidPGURL(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	_, err = NewHybrid(RedisConfig{Addr: mr.Addr()}, "not-a-valid-pg-url", PGPoolConfig{}, nil)
	assert.Error(t, err)
}
