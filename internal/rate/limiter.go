package rate

import (
	"context"
	"sync"
	"time"
)

// Config defines rate limiting parameters applied per actor.
type Config struct {
	RequestsPerSecond int
	Burst             int
	Cooldown          time.Duration // pause imposed after the bucket runs dry
}

// Limiter implements a token bucket rate limiter.
type Limiter struct {
	mu        sync.Mutex
	tokens    float64
	last      time.Time
	rate      float64
	burst     float64
	cooldown  time.Duration
	blockedAt time.Time
	lastUsed  time.Time
}

// New creates a new limiter.
func New(cfg Config) *Limiter {
	if cfg.Burst < 1 {
		cfg.Burst = 1
	}
	now := time.Now()
	return &Limiter{
		tokens:   float64(cfg.Burst),
		last:     now,
		lastUsed: now,
		rate:     float64(cfg.RequestsPerSecond),
		burst:    float64(cfg.Burst),
		cooldown: cfg.Cooldown,
	}
}

// Allow takes a token if one is available.
func (l *Limiter) Allow() bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	l.lastUsed = now

	if l.cooldown > 0 && !l.blockedAt.IsZero() && now.Sub(l.blockedAt) < l.cooldown {
		return false
	}

	elapsed := now.Sub(l.last).Seconds()
	l.last = now

	l.tokens += elapsed * l.rate
	if l.tokens > l.burst {
		l.tokens = l.burst
	}

	if l.tokens >= 1 {
		l.tokens -= 1
		l.blockedAt = time.Time{}
		return true
	}

	if l.cooldown > 0 && l.blockedAt.IsZero() {
		l.blockedAt = now
	}
	return false
}

// Wait blocks until a token becomes available or context is canceled.
func (l *Limiter) Wait(ctx context.Context) error {
	for {
		if l.Allow() {
			return nil
		}
		select {
		case <-time.After(50 * time.Millisecond):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (l *Limiter) idleSince() time.Time {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.lastUsed
}

// Manager holds per-actor limiters.
type Manager struct {
	mu       sync.RWMutex
	limiters map[string]*Limiter
	defaults Config
}

func NewManager(defaults Config) *Manager {
	return &Manager{
		limiters: make(map[string]*Limiter),
		defaults: defaults,
	}
}

func (m *Manager) GetLimiter(key string) *Limiter {
	m.mu.RLock()
	if lim, ok := m.limiters[key]; ok {
		m.mu.RUnlock()
		return lim
	}
	m.mu.RUnlock()

	m.mu.Lock()
	defer m.mu.Unlock()
	if lim, ok := m.limiters[key]; ok {
		return lim
	}
	lim := New(m.defaults)
	m.limiters[key] = lim
	return lim
}

// Wait ensures rate limit compliance for a given key.
func (m *Manager) Wait(ctx context.Context, key string) error {
	return m.GetLimiter(key).Wait(ctx)
}

// Forget drops limiters not used for longer than idle and returns how many were removed.
func (m *Manager) Forget(idle time.Duration) int {
	cutoff := time.Now().Add(-idle)
	m.mu.Lock()
	defer m.mu.Unlock()
	removed := 0
	for k, lim := range m.limiters {
		if lim.idleSince().Before(cutoff) {
			delete(m.limiters, k)
			removed++
		}
	}
	return removed
}

// Len reports the number of tracked keys.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.limiters)
}
