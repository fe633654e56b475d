package tracker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/bookbridge/storefront-adapter/internal/auth"
	"github.com/bookbridge/storefront-adapter/internal/marketplace"
	"github.com/bookbridge/storefront-adapter/internal/metrics"
	"github.com/bookbridge/storefront-adapter/internal/store"
	"github.com/bookbridge/storefront-adapter/pkg/eventbus"
	"github.com/bookbridge/storefront-adapter/pkg/model"
)

// ErrHistoryUnavailable means no audit database is configured.
var ErrHistoryUnavailable = errors.New("status history unavailable")

const (
	defaultPageSize = 10
	maxPageSize     = 100
)

// Backend is the marketplace read and admin write surface for orders.
type Backend interface {
	ListOrders(ctx context.Context, cred auth.Credential, page, size int) (*model.OrderPage, error)
	GetOrder(ctx context.Context, cred auth.Credential, orderID model.ID) (*model.Order, error)
	OrderPDF(ctx context.Context, cred auth.Credential, orderID model.ID) (*model.Document, error)
	UpdateOrderStatus(ctx context.Context, cred auth.Credential, orderID model.ID, status model.OrderStatus) (*model.Order, error)
}

// Audit persists status change attempts.
type Audit interface {
	RecordStatusChange(ctx context.Context, change model.StatusChange) error
	ListStatusChanges(ctx context.Context, orderID model.ID) ([]model.StatusChange, error)
}

// Tracker is the read side of order history for buyers and the status write
// path for operators. Transition legality is left to the backend.
type Tracker struct {
	logger  *zap.Logger
	backend Backend
	creds   auth.CredentialProvider
	audit   Audit
	events  eventbus.Emitter
	now     func() time.Time
}

// NewTracker builds a tracker. audit may be nil.
func NewTracker(logger *zap.Logger, backend Backend, creds auth.CredentialProvider, audit Audit, events eventbus.Emitter) *Tracker {
	if events == nil {
		events = eventbus.Nop{}
	}
	return &Tracker{
		logger:  logger,
		backend: backend,
		creds:   creds,
		audit:   audit,
		events:  events,
		now:     time.Now,
	}
}

func (t *Tracker) credential(ctx context.Context) (auth.Credential, error) {
	cred, err := t.creds.Credential(ctx)
	if err != nil {
		return auth.Credential{}, model.ErrUnauthenticated
	}
	return cred, nil
}

func readError(op string, err error) error {
	if marketplace.IsUnauthorized(err) {
		return fmt.Errorf("%w: %v", model.ErrUnauthenticated, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

// ListOrders returns one page of the actor's orders, newest first.
func (t *Tracker) ListOrders(ctx context.Context, page, size int) (*model.OrderPage, error) {
	cred, err := t.credential(ctx)
	if err != nil {
		return nil, err
	}
	if page < 0 {
		page = 0
	}
	switch {
	case size <= 0:
		size = defaultPageSize
	case size > maxPageSize:
		size = maxPageSize
	}
	res, err := t.backend.ListOrders(ctx, cred, page, size)
	if err != nil {
		return nil, readError("list orders", err)
	}
	return res, nil
}

// GetOrder returns one order.
func (t *Tracker) GetOrder(ctx context.Context, orderID model.ID) (*model.Order, error) {
	cred, err := t.credential(ctx)
	if err != nil {
		return nil, err
	}
	order, err := t.backend.GetOrder(ctx, cred, orderID)
	if err != nil {
		return nil, readError("get order "+orderID.String(), err)
	}
	return order, nil
}

// DownloadProof fetches the proof-of-purchase document of an order.
func (t *Tracker) DownloadProof(ctx context.Context, orderID model.ID) (*model.Document, error) {
	cred, err := t.credential(ctx)
	if err != nil {
		return nil, err
	}
	doc, err := t.backend.OrderPDF(ctx, cred, orderID)
	if err != nil {
		return nil, readError("download proof "+orderID.String(), err)
	}
	if doc.Filename == "" {
		doc.Filename = fmt.Sprintf("order-%s.pdf", orderID)
	}
	if doc.ContentType == "" {
		doc.ContentType = "application/pdf"
	}
	return doc, nil
}

// Statuses lists the statuses an operator may choose from.
func (t *Tracker) Statuses() []model.OrderStatus {
	return model.OrderStatuses()
}

// SetStatus asks the backend to move an order to target. Only enumerated
// statuses are sent; whether the transition is legal is for the backend to
// decide, and its rejection comes back as a StatusTransitionError.
func (t *Tracker) SetStatus(ctx context.Context, orderID model.ID, target string) (*model.Order, error) {
	cred, err := t.credential(ctx)
	if err != nil {
		return nil, &model.StatusTransitionError{
			OrderID: orderID,
			Kind:    model.TransitionUnauthorized,
			Status:  401,
			Err:     err,
		}
	}
	status, err := model.ParseOrderStatus(target)
	if err != nil {
		return nil, (&model.ValidationError{}).Add("status", err.Error())
	}

	order, err := t.backend.UpdateOrderStatus(ctx, cred, orderID, status)
	change := model.StatusChange{
		OrderID:   orderID,
		Status:    status,
		Actor:     cred.ActorKey(),
		Accepted:  err == nil,
		CreatedAt: t.now().UTC(),
	}
	if err != nil {
		terr := transitionError(orderID, status, err)
		change.Message = terr.Message
		t.record(ctx, change)
		metrics.IncStatusChange(string(status), string(terr.Kind))
		t.logger.Warn("tracker.set_status.rejected",
			zap.String("actor", cred.ActorKey()),
			zap.String("order_id", orderID.String()),
			zap.String("status", string(status)),
			zap.String("kind", string(terr.Kind)),
			zap.String("message", terr.Message))
		return nil, terr
	}
	t.record(ctx, change)
	metrics.IncStatusChange(string(status), "accepted")

	if order == nil {
		order = &model.Order{ID: orderID}
	}
	order.Status = status

	t.logger.Info("tracker.status_changed",
		zap.String("actor", cred.ActorKey()),
		zap.String("order_id", orderID.String()),
		zap.String("status", string(status)))

	ev := model.NewEvent(model.EventOrderStatusChanged, cred.ActorKey(), orderID)
	ev.Status = string(status)
	t.events.Emit(ev)
	return order, nil
}

func transitionError(orderID model.ID, status model.OrderStatus, err error) *model.StatusTransitionError {
	code := marketplace.StatusOf(err)
	kind := model.TransitionServer
	if code != 0 {
		kind = model.ClassifyTransition(code)
	}
	return &model.StatusTransitionError{
		OrderID: orderID,
		Target:  status,
		Kind:    kind,
		Status:  code,
		Message: marketplace.MessageOf(err),
		Err:     err,
	}
}

func (t *Tracker) record(ctx context.Context, change model.StatusChange) {
	if t.audit == nil {
		return
	}
	if err := t.audit.RecordStatusChange(context.WithoutCancel(ctx), change); err != nil {
		metrics.IncError("tracker", "audit_write")
		t.logger.Warn("tracker.audit.write_failed",
			zap.String("order_id", change.OrderID.String()),
			zap.Error(err))
	}
}

// History returns the recorded status change attempts for an order.
func (t *Tracker) History(ctx context.Context, orderID model.ID) ([]model.StatusChange, error) {
	if _, err := t.credential(ctx); err != nil {
		return nil, err
	}
	if t.audit == nil {
		return nil, ErrHistoryUnavailable
	}
	changes, err := t.audit.ListStatusChanges(ctx, orderID)
	if errors.Is(err, store.ErrPostgresUnavailable) {
		return nil, ErrHistoryUnavailable
	}
	if err != nil {
		return nil, fmt.Errorf("status history for order %s: %w", orderID, err)
	}
	return changes, nil
}
