package cart

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/bookbridge/storefront-adapter/internal/auth"
	"github.com/bookbridge/storefront-adapter/internal/marketplace"
	"github.com/bookbridge/storefront-adapter/internal/metrics"
	"github.com/bookbridge/storefront-adapter/pkg/eventbus"
	"github.com/bookbridge/storefront-adapter/pkg/model"
)

// Backend is the remote cart service.
type Backend interface {
	GetCart(ctx context.Context, cred auth.Credential) ([]model.CartLineItem, error)
	AddItem(ctx context.Context, cred auth.Credential, productID model.ID, quantity int) (*model.CartLineItem, error)
	UpdateItem(ctx context.Context, cred auth.Credential, itemID model.ID, quantity int) (*model.CartLineItem, error)
	RemoveItem(ctx context.Context, cred auth.Credential, itemID model.ID) error
	ClearCart(ctx context.Context, cred auth.Credential) error
}

// Store is the in-memory cart of one actor, kept in line with the remote cart.
// Local state only changes after the remote call for an operation has been
// acknowledged; a rejected call leaves it untouched. The lock is never held
// across a remote call, so concurrent mutations resolve as "last ack wins".
type Store struct {
	logger  *zap.Logger
	backend Backend
	creds   auth.CredentialProvider
	events  eventbus.Emitter

	mu       sync.Mutex
	items    []model.CartLineItem
	state    model.CartState
	pending  map[string]int
	lastUsed time.Time

	loads singleflight.Group
}

// NewStore creates an empty, not yet hydrated cart store.
func NewStore(logger *zap.Logger, backend Backend, creds auth.CredentialProvider, events eventbus.Emitter) *Store {
	if events == nil {
		events = eventbus.Nop{}
	}
	return &Store{
		logger:   logger,
		backend:  backend,
		creds:    creds,
		events:   events,
		state:    model.CartUnknown,
		pending:  map[string]int{},
		lastUsed: time.Now(),
	}
}

// PendingKey is the pending-indicator key for an operation on a line item.
func PendingKey(itemID model.ID) string { return "item:" + itemID.String() }

// PendingProductKey is the pending-indicator key for an add of a product.
func PendingProductKey(productRef model.ID) string { return "product:" + productRef.String() }

// syncError wraps a remote rejection, folding auth failures into ErrUnauthenticated.
func syncError(op string, err error) error {
	if marketplace.IsUnauthorized(err) {
		err = fmt.Errorf("%w: %v", model.ErrUnauthenticated, err)
	}
	return &model.CartSyncError{Op: op, Err: err}
}

func (s *Store) touch() {
	s.lastUsed = time.Now()
}

func (s *Store) begin(key string) {
	s.mu.Lock()
	s.pending[key]++
	s.touch()
	s.mu.Unlock()
}

// end must be called with s.mu held.
func (s *Store) end(key string) {
	if s.pending[key] <= 1 {
		delete(s.pending, key)
		return
	}
	s.pending[key]--
}

func (s *Store) finish(key string) {
	s.mu.Lock()
	s.end(key)
	s.mu.Unlock()
}

func (s *Store) indexOf(id model.ID) int {
	for i, it := range s.items {
		if it.ID == id {
			return i
		}
	}
	return -1
}

func (s *Store) indexOfProduct(ref model.ID) int {
	for i, it := range s.items {
		if it.ProductRef == ref {
			return i
		}
	}
	return -1
}

func (s *Store) credential(ctx context.Context, op string) (auth.Credential, error) {
	cred, err := s.creds.Credential(ctx)
	if err != nil {
		metrics.IncCartOp(op, "unauthenticated")
		return auth.Credential{}, model.ErrUnauthenticated
	}
	return cred, nil
}

func (s *Store) reset(state model.CartState) {
	s.mu.Lock()
	s.items = nil
	s.state = state
	s.mu.Unlock()
}

// Load hydrates the store from the remote cart. Concurrent loads share one
// remote call. An unauthenticated actor, or one the backend refuses, is given
// an empty cart without an error.
func (s *Store) Load(ctx context.Context) error {
	cred, err := s.creds.Credential(ctx)
	if err != nil {
		s.reset(model.CartUnknown)
		return nil
	}

	_, err, _ = s.loads.Do("load", func() (interface{}, error) {
		items, err := s.backend.GetCart(ctx, cred)
		if err != nil {
			return nil, err
		}
		s.mu.Lock()
		s.items = items
		s.state = model.CartHydrated
		s.touch()
		s.mu.Unlock()
		return nil, nil
	})
	if err == nil {
		metrics.IncCartOp("load", "ok")
		return nil
	}
	if marketplace.IsUnauthorized(err) {
		s.logger.Debug("cart.load.unauthorized", zap.String("actor", cred.ActorKey()))
		s.reset(model.CartUnknown)
		return nil
	}
	metrics.IncCartOp("load", "rejected")
	s.logger.Warn("cart.load.failed", zap.String("actor", cred.ActorKey()), zap.Error(err))
	return &model.CartSyncError{Op: "load", Err: err}
}

// Snapshot returns the cart for display, hydrating it first if needed.
// Unauthenticated actors get an empty cart and no network call is made.
func (s *Store) Snapshot(ctx context.Context) (model.CartSnapshot, error) {
	if _, err := s.creds.Credential(ctx); err != nil {
		return model.CartSnapshot{State: model.CartUnknown, Items: []model.CartLineItem{}, Total: decimal.Zero}, nil
	}
	if s.State() != model.CartHydrated {
		if err := s.Load(ctx); err != nil {
			return model.CartSnapshot{}, err
		}
	}
	return s.snapshot(), nil
}

// Refresh reloads the cart from the remote on every call and returns it.
// Reads that gate a decision use it instead of the cached Snapshot.
func (s *Store) Refresh(ctx context.Context) (model.CartSnapshot, error) {
	if _, err := s.creds.Credential(ctx); err != nil {
		return model.CartSnapshot{State: model.CartUnknown, Items: []model.CartLineItem{}, Total: decimal.Zero}, nil
	}
	if err := s.Load(ctx); err != nil {
		return model.CartSnapshot{}, err
	}
	return s.snapshot(), nil
}

func (s *Store) snapshot() model.CartSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.touch()
	items := make([]model.CartLineItem, len(s.items))
	copy(items, s.items)
	pending := make([]string, 0, len(s.pending))
	for k := range s.pending {
		pending = append(pending, k)
	}
	sort.Strings(pending)
	return model.CartSnapshot{
		State:     s.state,
		Items:     items,
		Total:     total(items),
		ItemCount: count(items),
		Pending:   pending,
	}
}

// Add puts one unit of product in the cart: an existing line for the same
// product is incremented, otherwise a new line is appended.
func (s *Store) Add(ctx context.Context, product model.Product) error {
	cred, err := s.credential(ctx, "add")
	if err != nil {
		return err
	}

	// merging needs the remote lines; a never-loaded store would drop them
	if s.State() != model.CartHydrated {
		if err := s.Load(ctx); err != nil {
			return err
		}
	}

	key := PendingProductKey(product.ID)
	s.begin(key)
	acked, err := s.backend.AddItem(ctx, cred, product.ID, 1)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.end(key)
	if err != nil {
		metrics.IncCartOp("add", "rejected")
		s.logger.Warn("cart.add.failed",
			zap.String("actor", cred.ActorKey()),
			zap.String("product", product.ID.String()),
			zap.Error(err))
		return syncError("add", err)
	}

	line := model.CartLineItem{
		ProductRef:        product.ID,
		Title:             product.Title,
		Quantity:          1,
		UnitPriceSnapshot: product.Price,
	}
	if i := s.indexOfProduct(product.ID); i >= 0 {
		line = s.items[i]
		line.Quantity++
		s.items[i] = merge(line, acked)
	} else {
		s.items = append(s.items, merge(line, acked))
	}
	metrics.IncCartOp("add", "ok")
	return nil
}

// merge prefers what the remote cart acknowledged over the local guess.
func merge(local model.CartLineItem, acked *model.CartLineItem) model.CartLineItem {
	if acked == nil {
		return local
	}
	if !acked.ID.IsZero() {
		local.ID = acked.ID
	}
	if acked.Quantity > 0 {
		local.Quantity = acked.Quantity
	}
	if !acked.UnitPriceSnapshot.IsZero() {
		local.UnitPriceSnapshot = acked.UnitPriceSnapshot
	}
	if acked.Title != "" {
		local.Title = acked.Title
	}
	return local
}

// SetQuantity sets a line item's quantity. n below 1 is rejected before any
// remote call; use Remove to delete a line.
func (s *Store) SetQuantity(ctx context.Context, itemID model.ID, n int) error {
	if n < 1 {
		metrics.IncCartOp("set_quantity", "invalid")
		return model.ErrInvalidQuantity
	}
	cred, err := s.credential(ctx, "set_quantity")
	if err != nil {
		return err
	}

	s.mu.Lock()
	found := s.indexOf(itemID) >= 0
	s.mu.Unlock()
	if !found {
		return model.ErrLineItemNotFound
	}

	key := PendingKey(itemID)
	s.begin(key)
	acked, err := s.backend.UpdateItem(ctx, cred, itemID, n)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.end(key)
	if err != nil {
		metrics.IncCartOp("set_quantity", "rejected")
		s.logger.Warn("cart.set_quantity.failed",
			zap.String("actor", cred.ActorKey()),
			zap.String("item", itemID.String()),
			zap.Int("quantity", n),
			zap.Error(err))
		return syncError("set_quantity", err)
	}

	// the line may have been removed while the update was in flight
	if i := s.indexOf(itemID); i >= 0 {
		line := s.items[i]
		line.Quantity = n
		s.items[i] = merge(line, acked)
	}
	metrics.IncCartOp("set_quantity", "ok")
	return nil
}

// Increment adds one to a line item's quantity.
func (s *Store) Increment(ctx context.Context, itemID model.ID) error {
	line, ok := s.Item(itemID)
	if !ok {
		return model.ErrLineItemNotFound
	}
	return s.SetQuantity(ctx, itemID, line.Quantity+1)
}

// Decrement removes one from a line item's quantity. At quantity 1 it is a
// no-op; it never removes the line.
func (s *Store) Decrement(ctx context.Context, itemID model.ID) error {
	line, ok := s.Item(itemID)
	if !ok {
		return model.ErrLineItemNotFound
	}
	if line.Quantity <= 1 {
		return nil
	}
	return s.SetQuantity(ctx, itemID, line.Quantity-1)
}

// Remove deletes a line item.
func (s *Store) Remove(ctx context.Context, itemID model.ID) error {
	cred, err := s.credential(ctx, "remove")
	if err != nil {
		return err
	}

	key := PendingKey(itemID)
	s.begin(key)
	err = s.backend.RemoveItem(ctx, cred, itemID)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.end(key)
	if err != nil {
		metrics.IncCartOp("remove", "rejected")
		s.logger.Warn("cart.remove.failed",
			zap.String("actor", cred.ActorKey()),
			zap.String("item", itemID.String()),
			zap.Error(err))
		return syncError("remove", err)
	}

	if i := s.indexOf(itemID); i >= 0 {
		s.items = append(s.items[:i], s.items[i+1:]...)
	}
	metrics.IncCartOp("remove", "ok")
	return nil
}

// Clear empties the cart. Clearing an already empty cart still issues the
// remote call and is harmless.
func (s *Store) Clear(ctx context.Context) error {
	cred, err := s.credential(ctx, "clear")
	if err != nil {
		return err
	}

	const key = "cart"
	s.begin(key)
	err = s.backend.ClearCart(ctx, cred)
	s.mu.Lock()
	s.end(key)
	if err != nil {
		s.mu.Unlock()
		metrics.IncCartOp("clear", "rejected")
		s.logger.Warn("cart.clear.failed", zap.String("actor", cred.ActorKey()), zap.Error(err))
		return syncError("clear", err)
	}
	// state is left alone; a never-loaded store still hydrates on next read
	s.items = nil
	s.mu.Unlock()

	metrics.IncCartOp("clear", "ok")
	s.events.Emit(model.NewEvent(model.EventCartCleared, cred.ActorKey(), ""))
	s.logger.Info("cart.cleared", zap.String("actor", cred.ActorKey()))
	return nil
}

// Items returns a copy of the current line items.
func (s *Store) Items() []model.CartLineItem {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.CartLineItem, len(s.items))
	copy(out, s.items)
	return out
}

// Item returns the line item with id.
func (s *Store) Item(id model.ID) (model.CartLineItem, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if i := s.indexOf(id); i >= 0 {
		return s.items[i], true
	}
	return model.CartLineItem{}, false
}

// Len is the number of line items.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.items)
}

// ItemCount is the sum of quantities.
func (s *Store) ItemCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return count(s.items)
}

// Total is the sum of unit price times quantity over the current lines.
func (s *Store) Total() decimal.Decimal {
	s.mu.Lock()
	defer s.mu.Unlock()
	return total(s.items)
}

// State reports whether the store has been synced with the remote cart.
func (s *Store) State() model.CartState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Pending reports whether an operation keyed by key is in flight.
func (s *Store) Pending(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pending[key] > 0
}

// IdleSince is the last time the store was used.
func (s *Store) IdleSince() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastUsed
}

func total(items []model.CartLineItem) decimal.Decimal {
	sum := decimal.Zero
	for _, it := range items {
		sum = sum.Add(it.Subtotal())
	}
	return sum
}

func count(items []model.CartLineItem) int {
	n := 0
	for _, it := range items {
		n += it.Quantity
	}
	return n
}

// IsUnauthenticated reports whether err means the actor must log in again.
func IsUnauthenticated(err error) bool {
	return errors.Is(err, model.ErrUnauthenticated)
}
