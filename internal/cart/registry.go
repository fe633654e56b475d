package cart

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/bookbridge/storefront-adapter/internal/auth"
	"github.com/bookbridge/storefront-adapter/internal/metrics"
	"github.com/bookbridge/storefront-adapter/pkg/eventbus"
)

// Locator resolves the cart store of the actor bound to ctx.
type Locator interface {
	For(ctx context.Context) *Store
}

// Single serves one store to every caller, for embedding in a single-actor client.
type Single struct {
	Store *Store
}

func (s Single) For(context.Context) *Store { return s.Store }

// Registry keeps one store per authenticated actor and evicts idle ones.
// Unauthenticated callers share a store that stays empty.
type Registry struct {
	logger  *zap.Logger
	backend Backend
	creds   auth.CredentialProvider
	events  eventbus.Emitter

	mu     sync.Mutex
	stores map[string]*Store
	anon   *Store
}

// NewRegistry creates a registry whose stores share backend, creds and events.
func NewRegistry(logger *zap.Logger, backend Backend, creds auth.CredentialProvider, events eventbus.Emitter) *Registry {
	return &Registry{
		logger:  logger,
		backend: backend,
		creds:   creds,
		events:  events,
		stores:  map[string]*Store{},
		anon:    NewStore(logger, backend, creds, events),
	}
}

func (r *Registry) For(ctx context.Context) *Store {
	cred, err := r.creds.Credential(ctx)
	if err != nil {
		return r.anon
	}
	key := cred.ActorKey()

	r.mu.Lock()
	defer r.mu.Unlock()
	if st, ok := r.stores[key]; ok {
		return st
	}
	st := NewStore(r.logger.With(zap.String("actor", key)), r.backend, r.creds, r.events)
	r.stores[key] = st
	metrics.ActiveCarts.Set(float64(len(r.stores)))
	return st
}

// Len is the number of actor stores held.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.stores)
}

// Sweep drops stores unused for longer than idle. A dropped store is simply
// rehydrated from the remote cart on next use.
func (r *Registry) Sweep(idle time.Duration) int {
	cutoff := time.Now().Add(-idle)
	r.mu.Lock()
	defer r.mu.Unlock()
	removed := 0
	for k, st := range r.stores {
		if st.IdleSince().Before(cutoff) {
			delete(r.stores, k)
			removed++
		}
	}
	metrics.ActiveCarts.Set(float64(len(r.stores)))
	if removed > 0 {
		r.logger.Debug("cart.registry.swept", zap.Int("removed", removed), zap.Int("remaining", len(r.stores)))
	}
	return removed
}

// StartSweeper runs Sweep every interval until ctx is done. A non-positive
// interval sweeps once per idle period.
func (r *Registry) StartSweeper(ctx context.Context, interval, idle time.Duration) {
	if interval <= 0 {
		interval = idle
	}
	if interval <= 0 {
		r.logger.Warn("cart.registry.sweeper_disabled", zap.Duration("idle", idle))
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Sweep(idle)
		}
	}
}
