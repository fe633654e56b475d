package tracker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/bookbridge/storefront-adapter/internal/auth"
	"github.com/bookbridge/storefront-adapter/internal/marketplace"
	"github.com/bookbridge/storefront-adapter/internal/store"
	"github.com/bookbridge/storefront-adapter/pkg/model"
)

// ─── Test doubles ─────────────────────────────────────────────────────────────

// fakeMarketplace holds orders and enforces forward-only transitions the way
// the backend does.
type fakeMarketplace struct {
	mu      sync.Mutex
	orders  map[model.ID]*model.Order
	pageReq [2]int
	pdfErr  error
	putErr  error
	updates int
}

var rank = map[model.OrderStatus]int{
	model.StatusPending: 0, model.StatusConfirmed: 1, model.StatusProcessing: 2,
	model.StatusShipped: 3, model.StatusDelivered: 4,
}

func newFakeMarketplace() *fakeMarketplace {
	return &fakeMarketplace{orders: map[model.ID]*model.Order{
		"1": {ID: "1", OrderNumber: "ORD-1", Status: model.StatusPending},
		"2": {ID: "2", OrderNumber: "ORD-2", Status: model.StatusDelivered},
	}}
}

func (f *fakeMarketplace) ListOrders(_ context.Context, _ auth.Credential, page, size int) (*model.OrderPage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pageReq = [2]int{page, size}
	out := &model.OrderPage{Page: page, Size: size, TotalElements: int64(len(f.orders)), TotalPages: 1}
	for _, id := range []model.ID{"2", "1"} {
		out.Orders = append(out.Orders, *f.orders[id])
	}
	return out, nil
}

func (f *fakeMarketplace) GetOrder(_ context.Context, _ auth.Credential, id model.ID) (*model.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	o, ok := f.orders[id]
	if !ok {
		return nil, &marketplace.APIError{Status: 404, Message: "Order not found with id: " + id.String()}
	}
	cp := *o
	return &cp, nil
}

func (f *fakeMarketplace) OrderPDF(_ context.Context, _ auth.Credential, id model.ID) (*model.Document, error) {
	if f.pdfErr != nil {
		return nil, f.pdfErr
	}
	return &model.Document{Body: []byte("%PDF-1.4")}, nil
}

func (f *fakeMarketplace) UpdateOrderStatus(_ context.Context, _ auth.Credential, id model.ID, status model.OrderStatus) (*model.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updates++
	if f.putErr != nil {
		return nil, f.putErr
	}
	o, ok := f.orders[id]
	if !ok {
		return nil, &marketplace.APIError{Status: 404, Message: "Order not found"}
	}
	if o.Status.IsTerminal() {
		return nil, &marketplace.APIError{Status: 400, Message: "Cannot change status of a " + string(o.Status) + " order"}
	}
	if status != model.StatusCancelled && rank[status] < rank[o.Status] {
		return nil, &marketplace.APIError{Status: 400, Message: "Invalid status transition"}
	}
	o.Status = status
	cp := *o
	return &cp, nil
}

type memAudit struct {
	mu      sync.Mutex
	changes []model.StatusChange
	err     error
}

func (m *memAudit) RecordStatusChange(_ context.Context, c model.StatusChange) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.changes = append(m.changes, c)
	return nil
}

func (m *memAudit) ListStatusChanges(_ context.Context, id model.ID) ([]model.StatusChange, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.StatusChange
	for i := len(m.changes) - 1; i >= 0; i-- {
		if m.changes[i].OrderID == id {
			out = append(out, m.changes[i])
		}
	}
	return out, nil
}

type recorder struct {
	events []model.LifecycleEvent
}

func (r *recorder) Emit(ev model.LifecycleEvent) { r.events = append(r.events, ev) }

var admin = auth.StaticProvider{Cred: &auth.Credential{Token: "tok", Claims: auth.Claims{UserID: "99", Role: "ROLE_ADMIN"}}}

func newTracker(audit Audit) (*Tracker, *fakeMarketplace, *recorder) {
	fm := newFakeMarketplace()
	rec := &recorder{}
	tr := NewTracker(zap.NewNop(), fm, admin, audit, rec)
	tr.now = func() time.Time { return time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC) }
	return tr, fm, rec
}

// ─── SetStatus ────────────────────────────────────────────────────────────────

func TestSetStatus_ForwardTransitionVisibleOnRead(t *testing.T) {
	audit := &memAudit{}
	tr, _, rec := newTracker(audit)
	ctx := context.Background()

	order, err := tr.SetStatus(ctx, "1", "shipped")
	require.NoError(t, err)
	assert.Equal(t, model.StatusShipped, order.Status)

	got, err := tr.GetOrder(ctx, "1")
	require.NoError(t, err)
	assert.Equal(t, model.StatusShipped, got.Status)

	require.Len(t, rec.events, 1)
	assert.Equal(t, model.EventOrderStatusChanged, rec.events[0].Type)
	assert.Equal(t, "SHIPPED", rec.events[0].Status)

	require.Len(t, audit.changes, 1)
	assert.True(t, audit.changes[0].Accepted)
	assert.Equal(t, "user:99", audit.changes[0].Actor)
}

func TestSetStatus_BackwardTransitionPassedToBackendAndSurfaced(t *testing.T) {
	audit := &memAudit{}
	tr, fm, rec := newTracker(audit)

	_, err := tr.SetStatus(context.Background(), "2", "SHIPPED")
	var terr *model.StatusTransitionError
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, 1, fm.updates, "legality is decided by the backend")
	assert.Equal(t, model.TransitionRejected, terr.Kind)
	assert.Equal(t, "Cannot change status of a DELIVERED order", terr.UserMessage())
	assert.Empty(t, rec.events)

	require.Len(t, audit.changes, 1)
	assert.False(t, audit.changes[0].Accepted)
	assert.Equal(t, "Cannot change status of a DELIVERED order", audit.changes[0].Message)

	got, _ := tr.GetOrder(context.Background(), "2")
	assert.Equal(t, model.StatusDelivered, got.Status)
}

func TestSetStatus_UnknownStatusNeverSent(t *testing.T) {
	tr, fm, _ := newTracker(nil)

	_, err := tr.SetStatus(context.Background(), "1", "REFUNDED")
	var verr *model.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, 0, fm.updates)
}

func TestSetStatus_FailureCopyByKind(t *testing.T) {
	tests := []struct {
		name string
		err  error
		kind model.TransitionFailure
		copy string
	}{
		{"unauthorized", &marketplace.APIError{Status: 401, Message: "x"}, model.TransitionUnauthorized, "Authentication required. Please login."},
		{"forbidden", &marketplace.APIError{Status: 403, Message: "x"}, model.TransitionForbidden, "Access denied. Please login again."},
		{"not found", &marketplace.APIError{Status: 404, Message: "x"}, model.TransitionNotFound, "Order not found."},
		{"server", &marketplace.APIError{Status: 500, Message: "x"}, model.TransitionServer, "Server error. Please try again later."},
		{"transport", errors.New("connection refused"), model.TransitionServer, "Server error. Please try again later."},
		{"rejected", &marketplace.APIError{Status: 409, Message: "Order already shipped"}, model.TransitionRejected, "Order already shipped"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr, fm, _ := newTracker(nil)
			fm.putErr = tt.err

			_, err := tr.SetStatus(context.Background(), "1", "CONFIRMED")
			var terr *model.StatusTransitionError
			require.ErrorAs(t, err, &terr)
			assert.Equal(t, tt.kind, terr.Kind)
			assert.Equal(t, tt.copy, terr.UserMessage())
		})
	}
}

func TestSetStatus_Unauthenticated(t *testing.T) {
	tr, fm, _ := newTracker(nil)
	tr.creds = auth.StaticProvider{}

	_, err := tr.SetStatus(context.Background(), "1", "CONFIRMED")
	var terr *model.StatusTransitionError
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, model.TransitionUnauthorized, terr.Kind)
	assert.ErrorIs(t, err, model.ErrUnauthenticated)
	assert.Equal(t, 0, fm.updates)
}

func TestSetStatus_AuditFailureDoesNotFailTransition(t *testing.T) {
	tr, _, _ := newTracker(&memAudit{err: errors.New("pg down")})

	order, err := tr.SetStatus(context.Background(), "1", "CANCELLED")
	require.NoError(t, err)
	assert.Equal(t, model.StatusCancelled, order.Status)
}

// ─── Reads ────────────────────────────────────────────────────────────────────

func TestListOrders_ClampsPaging(t *testing.T) {
	tr, fm, _ := newTracker(nil)

	page, err := tr.ListOrders(context.Background(), -3, 0)
	require.NoError(t, err)
	assert.Equal(t, [2]int{0, 10}, fm.pageReq)
	assert.Len(t, page.Orders, 2)

	_, err = tr.ListOrders(context.Background(), 2, 1000)
	require.NoError(t, err)
	assert.Equal(t, [2]int{2, 100}, fm.pageReq)
}

func TestGetOrder_NotFound(t *testing.T) {
	tr, _, _ := newTracker(nil)
	_, err := tr.GetOrder(context.Background(), "404")
	assert.True(t, marketplace.IsNotFound(err))
}

func TestReads_Unauthenticated(t *testing.T) {
	tr, _, _ := newTracker(nil)
	tr.creds = auth.StaticProvider{}

	_, err := tr.ListOrders(context.Background(), 0, 10)
	assert.ErrorIs(t, err, model.ErrUnauthenticated)
	_, err = tr.DownloadProof(context.Background(), "1")
	assert.ErrorIs(t, err, model.ErrUnauthenticated)
}

func TestDownloadProof_DefaultsFilename(t *testing.T) {
	tr, _, _ := newTracker(nil)

	doc, err := tr.DownloadProof(context.Background(), "7")
	require.NoError(t, err)
	assert.Equal(t, "order-7.pdf", doc.Filename)
	assert.Equal(t, "application/pdf", doc.ContentType)
	assert.Equal(t, []byte("%PDF-1.4"), doc.Body)
}

func TestDownloadProof_BackendRefusesCredential(t *testing.T) {
	tr, fm, _ := newTracker(nil)
	fm.pdfErr = &marketplace.APIError{Status: 401, Message: "expired"}

	_, err := tr.DownloadProof(context.Background(), "7")
	assert.ErrorIs(t, err, model.ErrUnauthenticated)
}

func TestStatuses(t *testing.T) {
	tr, _, _ := newTracker(nil)
	assert.Equal(t, []model.OrderStatus{
		model.StatusPending, model.StatusConfirmed, model.StatusProcessing,
		model.StatusShipped, model.StatusDelivered, model.StatusCancelled,
	}, tr.Statuses())
}

// ─── History ──────────────────────────────────────────────────────────────────

func TestHistory_NewestFirst(t *testing.T) {
	audit := &memAudit{}
	tr, _, _ := newTracker(audit)
	ctx := context.Background()

	_, _ = tr.SetStatus(ctx, "1", "CONFIRMED")
	_, _ = tr.SetStatus(ctx, "1", "PENDING")
	_, _ = tr.SetStatus(ctx, "1", "PROCESSING")

	h, err := tr.History(ctx, "1")
	require.NoError(t, err)
	require.Len(t, h, 3)
	assert.Equal(t, model.StatusProcessing, h[0].Status)
	assert.False(t, h[1].Accepted)
	assert.Equal(t, model.StatusConfirmed, h[2].Status)
}

func TestHistory_Unavailable(t *testing.T) {
	tr, _, _ := newTracker(nil)
	_, err := tr.History(context.Background(), "1")
	assert.ErrorIs(t, err, ErrHistoryUnavailable)

	tr, _, _ = newTracker(store.NewWithClient(nil, nil))
	_, err = tr.History(context.Background(), "1")
	assert.ErrorIs(t, err, ErrHistoryUnavailable)
}
