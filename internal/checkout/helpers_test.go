package checkout

import (
	"context"
	"sync"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/bookbridge/storefront-adapter/internal/auth"
	"github.com/bookbridge/storefront-adapter/internal/cart"
	"github.com/bookbridge/storefront-adapter/internal/store"
	"github.com/bookbridge/storefront-adapter/pkg/model"
)

var buyer = auth.StaticProvider{Cred: &auth.Credential{Token: "tok", Claims: auth.Claims{UserID: "7"}}}

// callLog records remote calls across fakes so ordering can be asserted.
type callLog struct {
	mu    sync.Mutex
	calls []string
}

func (l *callLog) add(name string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls = append(l.calls, name)
}

func (l *callLog) all() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]string, len(l.calls))
	copy(out, l.calls)
	return out
}

func (l *callLog) count(name string) int {
	n := 0
	for _, c := range l.all() {
		if c == name {
			n++
		}
	}
	return n
}

// fakeCart is a remote cart holding fixed lines until cleared.
type fakeCart struct {
	log      *callLog
	lines    []model.CartLineItem
	clearErr error
}

func (f *fakeCart) GetCart(context.Context, auth.Credential) ([]model.CartLineItem, error) {
	f.log.add("cart.get")
	out := make([]model.CartLineItem, len(f.lines))
	copy(out, f.lines)
	return out, nil
}

func (f *fakeCart) AddItem(context.Context, auth.Credential, model.ID, int) (*model.CartLineItem, error) {
	f.log.add("cart.add")
	return nil, nil
}

func (f *fakeCart) UpdateItem(context.Context, auth.Credential, model.ID, int) (*model.CartLineItem, error) {
	f.log.add("cart.update")
	return nil, nil
}

func (f *fakeCart) RemoveItem(context.Context, auth.Credential, model.ID) error {
	f.log.add("cart.remove")
	return nil
}

func (f *fakeCart) ClearCart(context.Context, auth.Credential) error {
	f.log.add("cart.clear")
	if f.clearErr != nil {
		return f.clearErr
	}
	f.lines = nil
	return nil
}

func twoLineCart() []model.CartLineItem {
	return []model.CartLineItem{
		{ID: "1", ProductRef: "A", Quantity: 2, UnitPriceSnapshot: decimal.NewFromInt(100)},
		{ID: "2", ProductRef: "B", Quantity: 1, UnitPriceSnapshot: decimal.NewFromInt(250)},
	}
}

func newCart(t *testing.T, log *callLog, lines []model.CartLineItem, creds auth.CredentialProvider) (*cart.Store, *fakeCart) {
	t.Helper()
	remote := &fakeCart{log: log, lines: lines}
	return cart.NewStore(zap.NewNop(), remote, creds, nil), remote
}

func newRedisStore(t *testing.T) (*store.HybridStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	st := store.NewWithClient(rdb, zap.NewNop())
	t.Cleanup(func() { _ = st.Close() })
	return st, mr
}

type recordingEmitter struct {
	mu     sync.Mutex
	events []model.LifecycleEvent
}

func (r *recordingEmitter) Emit(ev model.LifecycleEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recordingEmitter) types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.events))
	for _, ev := range r.events {
		out = append(out, ev.Type)
	}
	return out
}

func mustLoad(t *testing.T, st *cart.Store) {
	t.Helper()
	require.NoError(t, st.Load(context.Background()))
}
