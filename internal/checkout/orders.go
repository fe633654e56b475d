package checkout

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/bookbridge/storefront-adapter/internal/auth"
	"github.com/bookbridge/storefront-adapter/internal/cart"
	"github.com/bookbridge/storefront-adapter/internal/marketplace"
	"github.com/bookbridge/storefront-adapter/internal/metrics"
	"github.com/bookbridge/storefront-adapter/internal/store"
	"github.com/bookbridge/storefront-adapter/pkg/eventbus"
	"github.com/bookbridge/storefront-adapter/pkg/model"
)

// OrderBackend persists orders from the actor's server-side cart.
type OrderBackend interface {
	CreateOrder(ctx context.Context, cred auth.Credential, spec model.DeliverySpec) (*model.Order, error)
}

// Locker guards a key across instances.
type Locker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (store.Lock, bool, error)
	Unlock(ctx context.Context, l store.Lock) error
}

// phonePattern accepts digits and common punctuation, at least 10 characters.
var phonePattern = regexp.MustCompile(`^[0-9+\-\s()]{10,}$`)

// ValidateDelivery checks the buyer-supplied delivery fields.
func ValidateDelivery(spec model.DeliverySpec) error {
	verr := &model.ValidationError{}
	if strings.TrimSpace(spec.Address) == "" {
		verr.Add("deliveryAddress", "Delivery address is required")
	}
	phone := strings.TrimSpace(spec.Phone)
	switch {
	case phone == "":
		verr.Add("deliveryPhone", "Phone number is required")
	case !phonePattern.MatchString(phone):
		verr.Add("deliveryPhone", "Please enter a valid phone number")
	}
	return verr.OrNil()
}

// Orders turns the actor's cart into a persisted order.
type Orders struct {
	logger  *zap.Logger
	backend OrderBackend
	carts   cart.Locator
	creds   auth.CredentialProvider
	locker  Locker
	lockTTL time.Duration
	events  eventbus.Emitter
}

// NewOrders builds the order service. locker may be nil, which disables the
// per-actor double-submit guard.
func NewOrders(logger *zap.Logger, backend OrderBackend, carts cart.Locator, creds auth.CredentialProvider, locker Locker, lockTTL time.Duration, events eventbus.Emitter) *Orders {
	if events == nil {
		events = eventbus.Nop{}
	}
	if lockTTL <= 0 {
		lockTTL = 30 * time.Second
	}
	return &Orders{
		logger:  logger,
		backend: backend,
		carts:   carts,
		creds:   creds,
		locker:  locker,
		lockTTL: lockTTL,
		events:  events,
	}
}

func checkoutLockKey(actor string) string {
	return "storefront:lock:checkout:" + actor
}

// CreateOrder persists an order from the current cart. The cart is left
// intact; it is only cleared once payment is verified.
func (o *Orders) CreateOrder(ctx context.Context, spec model.DeliverySpec) (*model.Order, error) {
	cred, err := o.creds.Credential(ctx)
	if err != nil {
		metrics.IncOrder("unauthenticated")
		return nil, model.ErrUnauthenticated
	}

	snap, err := o.carts.For(ctx).Refresh(ctx)
	if err != nil {
		return nil, err
	}
	if len(snap.Items) == 0 {
		metrics.IncOrder("empty_cart")
		return nil, model.ErrEmptyCart
	}
	if err := ValidateDelivery(spec); err != nil {
		metrics.IncOrder("invalid")
		return nil, err
	}
	spec.Address = strings.TrimSpace(spec.Address)
	spec.Phone = strings.TrimSpace(spec.Phone)
	spec.Notes = strings.TrimSpace(spec.Notes)

	if o.locker != nil {
		lock, ok, err := o.locker.TryLock(ctx, checkoutLockKey(cred.ActorKey()), o.lockTTL)
		if err != nil {
			// without Redis the guard is skipped rather than blocking checkout
			o.logger.Warn("checkout.lock.unavailable", zap.String("actor", cred.ActorKey()), zap.Error(err))
		} else if !ok {
			metrics.IncOrder("in_progress")
			return nil, model.ErrCheckoutInProgress
		} else {
			defer func() {
				_ = o.locker.Unlock(context.WithoutCancel(ctx), lock)
			}()
		}
	}

	o.logger.Info("checkout.create_order.start",
		zap.String("actor", cred.ActorKey()),
		zap.Int("lines", len(snap.Items)),
		zap.String("cart_total", snap.Total.StringFixed(2)))

	order, err := o.backend.CreateOrder(ctx, cred, spec)
	if err != nil {
		if marketplace.IsUnauthorized(err) {
			metrics.IncOrder("unauthenticated")
			return nil, fmt.Errorf("%w: %v", model.ErrUnauthenticated, err)
		}
		metrics.IncOrder("rejected")
		o.logger.Error("checkout.create_order.failed",
			zap.String("actor", cred.ActorKey()),
			zap.Error(err))
		return nil, &model.OrderCreationError{Message: marketplace.MessageOf(err), Err: err}
	}
	if order == nil || order.ID.IsZero() {
		metrics.IncOrder("rejected")
		return nil, &model.OrderCreationError{Message: "Failed to create order"}
	}

	metrics.IncOrder("created")
	o.logger.Info("checkout.order_created",
		zap.String("actor", cred.ActorKey()),
		zap.String("order_id", order.ID.String()),
		zap.String("order_number", order.OrderNumber),
		zap.String("total", order.TotalAmount.StringFixed(2)))

	ev := model.NewEvent(model.EventOrderCreated, cred.ActorKey(), order.ID)
	ev.Status = string(order.Status)
	ev.Amount = order.TotalAmount.String()
	ev.Attrs = map[string]any{"order_number": order.OrderNumber, "lines": len(order.LineItems)}
	o.events.Emit(ev)

	return order, nil
}
