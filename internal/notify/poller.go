package notify

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/bookbridge/storefront-adapter/internal/auth"
	"github.com/bookbridge/storefront-adapter/internal/metrics"
)

// Counter reports an actor's unread notification count.
type Counter interface {
	NotificationCount(ctx context.Context, cred auth.Credential) (int64, error)
}

// Poller polls unread counts on a fixed interval, one loop per subscriber.
// A failed fetch counts as zero; errors never reach the subscriber.
type Poller struct {
	logger   *zap.Logger
	counter  Counter
	interval time.Duration
	stopCh   chan struct{}
	stopOnce sync.Once

	active sync.Map // subscription id -> *subscription
}

type subscription struct {
	cancel context.CancelFunc
}

// NewPoller constructs a poller. interval defaults to 30s.
func NewPoller(logger *zap.Logger, counter Counter, interval time.Duration) *Poller {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Poller{
		logger:   logger,
		counter:  counter,
		interval: interval,
		stopCh:   make(chan struct{}),
	}
}

// Stop ends every subscription. It is safe to call more than once.
func (p *Poller) Stop() {
	p.stopOnce.Do(func() { close(p.stopCh) })
}

// Watch polls the count for cred until ctx is done, Cancel(id) is called or
// the poller stops. The first fetch happens immediately; onChange receives the
// first count and then every count that differs from the previous one.
// It returns false if id is already being watched.
func (p *Poller) Watch(parentCtx context.Context, id string, cred auth.Credential, onChange func(count int64)) bool {
	ctx, cancel := context.WithCancel(parentCtx)
	sub := &subscription{cancel: cancel}
	if _, exists := p.active.LoadOrStore(id, sub); exists {
		cancel()
		p.logger.Debug("notify.watch_already_active", zap.String("subscription", id))
		return false
	}
	metrics.NotificationSubscribers.Inc()

	go func() {
		defer func() {
			p.active.CompareAndDelete(id, sub)
			metrics.NotificationSubscribers.Dec()
			cancel()
		}()

		ticker := time.NewTicker(p.interval)
		defer ticker.Stop()

		var (
			last  int64
			first = true
		)
		poll := func() {
			n := p.fetch(ctx, id, cred)
			if ctx.Err() != nil {
				return
			}
			if first || n != last {
				first = false
				last = n
				onChange(n)
			}
		}

		poll()
		for {
			select {
			case <-ctx.Done():
				p.logger.Debug("notify.watch_stopped", zap.String("subscription", id))
				return
			case <-p.stopCh:
				p.logger.Debug("notify.watch_stopped",
					zap.String("subscription", id),
					zap.String("reason", "poller_shutdown"))
				return
			case <-ticker.C:
				poll()
			}
		}
	}()
	return true
}

func (p *Poller) fetch(ctx context.Context, id string, cred auth.Credential) int64 {
	n, err := p.counter.NotificationCount(ctx, cred)
	if err != nil {
		if ctx.Err() == nil {
			p.logger.Debug("notify.count_failed",
				zap.String("subscription", id),
				zap.Error(err))
		}
		return 0
	}
	return n
}

// Cancel stops the subscription id.
func (p *Poller) Cancel(id string) {
	if v, ok := p.active.LoadAndDelete(id); ok {
		v.(*subscription).cancel()
	}
}

// IsWatching reports whether id is being polled.
func (p *Poller) IsWatching(id string) bool {
	_, ok := p.active.Load(id)
	return ok
}

// Active is the number of live subscriptions.
func (p *Poller) Active() int {
	n := 0
	p.active.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}
