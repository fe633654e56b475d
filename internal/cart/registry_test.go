package cart

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/bookbridge/storefront-adapter/internal/auth"
)

func actorCtx(userID string) context.Context {
	return auth.WithCredential(context.Background(), auth.Credential{Token: "t-" + userID, Claims: auth.Claims{UserID: userID}})
}

func TestRegistry_StorePerActor(t *testing.T) {
	reg := NewRegistry(zap.NewNop(), newFakeRemote(), auth.ContextProvider{}, nil)

	a1 := reg.For(actorCtx("1"))
	a2 := reg.For(actorCtx("1"))
	b := reg.For(actorCtx("2"))
	anon := reg.For(context.Background())

	assert.Same(t, a1, a2)
	assert.NotSame(t, a1, b)
	assert.NotSame(t, a1, anon)
	assert.Same(t, anon, reg.For(context.Background()))
	assert.Equal(t, 2, reg.Len(), "anonymous store is not counted")
}

func TestRegistry_AnonymousStoreStaysEmpty(t *testing.T) {
	remote := newFakeRemote()
	reg := NewRegistry(zap.NewNop(), remote, auth.ContextProvider{}, nil)

	ctx := context.Background()
	snap, err := reg.For(ctx).Snapshot(ctx)
	require.NoError(t, err)
	assert.Empty(t, snap.Items)
	assert.Equal(t, 0, remote.callCount())
}

func TestRegistry_Sweep(t *testing.T) {
	reg := NewRegistry(zap.NewNop(), newFakeRemote(), auth.ContextProvider{}, nil)
	old := reg.For(actorCtx("1"))
	reg.For(actorCtx("2"))

	old.mu.Lock()
	old.lastUsed = time.Now().Add(-time.Hour)
	old.mu.Unlock()

	assert.Equal(t, 1, reg.Sweep(30*time.Minute))
	assert.Equal(t, 1, reg.Len())
	assert.NotSame(t, old, reg.For(actorCtx("1")), "swept actor gets a fresh store")
}

func TestRegistry_StartSweeperStopsOnCancel(t *testing.T) {
	reg := NewRegistry(zap.NewNop(), newFakeRemote(), auth.ContextProvider{}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		reg.StartSweeper(ctx, time.Millisecond, time.Hour)
		close(done)
	}()
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("sweeper did not stop")
	}
}

func TestRegistry_StartSweeperZeroIntervals(t *testing.T) {
	reg := NewRegistry(zap.NewNop(), newFakeRemote(), auth.ContextProvider{}, nil)

	// nothing to tick on; returns instead of panicking in time.NewTicker
	require.NotPanics(t, func() { reg.StartSweeper(context.Background(), 0, 0) })

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		reg.StartSweeper(ctx, 0, time.Millisecond)
		close(done)
	}()
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("sweeper did not stop")
	}
}
