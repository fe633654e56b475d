package rate

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLimiter_Allow(t *testing.T) {
	lim := New(Config{RequestsPerSecond: 10, Burst: 5})

	allowed := 0
	for i := 0; i < 10; i++ {
		if lim.Allow() {
			allowed++
		}
	}
	assert.Equal(t, 5, allowed, "burst caps immediate allowance")
}

func TestLimiter_Refill(t *testing.T) {
	lim := New(Config{RequestsPerSecond: 100, Burst: 2})
	for lim.Allow() {
	}

	time.Sleep(50 * time.Millisecond)
	assert.True(t, lim.Allow(), "token should refill")
}

func TestLimiter_CooldownHoldsAfterExhaustion(t *testing.T) {
	lim := New(Config{RequestsPerSecond: 100, Burst: 1, Cooldown: 200 * time.Millisecond})
	require.True(t, lim.Allow())
	require.False(t, lim.Allow())

	time.Sleep(20 * time.Millisecond)
	assert.False(t, lim.Allow(), "refilled bucket must still honour cooldown")

	time.Sleep(200 * time.Millisecond)
	assert.True(t, lim.Allow())
}

func TestLimiter_WaitCancelled(t *testing.T) {
	lim := New(Config{RequestsPerSecond: 0, Burst: 1})
	require.True(t, lim.Allow())

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, lim.Wait(ctx), context.DeadlineExceeded)
}

// ─── Manager ──────────────────────────────────────────────────────────────────

func TestManager_PerKeyIsolation(t *testing.T) {
	m := NewManager(Config{RequestsPerSecond: 0, Burst: 1})

	assert.True(t, m.GetLimiter("alice").Allow())
	assert.False(t, m.GetLimiter("alice").Allow())
	assert.True(t, m.GetLimiter("bob").Allow())
}

func TestManager_ConcurrentGetLimiter(t *testing.T) {
	m := NewManager(Config{RequestsPerSecond: 10, Burst: 10})

	var wg sync.WaitGroup
	seen := make([]*Limiter, 20)
	for i := range seen {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			seen[i] = m.GetLimiter("same")
		}(i)
	}
	wg.Wait()

	for _, l := range seen {
		assert.Same(t, seen[0], l)
	}
}

func TestManager_Forget(t *testing.T) {
	m := NewManager(Config{RequestsPerSecond: 10, Burst: 10})
	m.GetLimiter("old").Allow()
	time.Sleep(30 * time.Millisecond)
	m.GetLimiter("fresh").Allow()

	assert.Equal(t, 1, m.Forget(20*time.Millisecond))
	assert.Equal(t, 1, m.Len())
}
