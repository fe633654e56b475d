package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/bookbridge/storefront-adapter/internal/auth"
	"github.com/bookbridge/storefront-adapter/internal/cart"
	"github.com/bookbridge/storefront-adapter/internal/checkout"
	"github.com/bookbridge/storefront-adapter/internal/store"
	"github.com/bookbridge/storefront-adapter/pkg/eventbus"
	"github.com/bookbridge/storefront-adapter/pkg/model"
)

const testSecret = "api-secret"

func tokenFor(t *testing.T, userID, role string) string {
	t.Helper()
	claims := auth.Claims{
		UserID: userID,
		Role:   role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
	require.NoError(t, err)
	return tok
}

// --- Remote cart ---

type memCart struct {
	mu     sync.Mutex
	lines  []model.CartLineItem
	addErr error
}

func (m *memCart) GetCart(context.Context, auth.Credential) ([]model.CartLineItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]model.CartLineItem, len(m.lines))
	copy(out, m.lines)
	return out, nil
}

func (m *memCart) AddItem(_ context.Context, _ auth.Credential, productID model.ID, quantity int) (*model.CartLineItem, error) {
	if m.addErr != nil {
		return nil, m.addErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.lines {
		if m.lines[i].ProductRef == productID {
			m.lines[i].Quantity += quantity
			line := m.lines[i]
			return &line, nil
		}
	}
	line := model.CartLineItem{ID: model.ID("li-" + productID), ProductRef: productID, Quantity: quantity}
	m.lines = append(m.lines, line)
	return &line, nil
}

func (m *memCart) UpdateItem(_ context.Context, _ auth.Credential, itemID model.ID, quantity int) (*model.CartLineItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.lines {
		if m.lines[i].ID == itemID {
			m.lines[i].Quantity = quantity
			line := m.lines[i]
			return &line, nil
		}
	}
	return nil, fmt.Errorf("no line %s", itemID)
}

func (m *memCart) RemoveItem(_ context.Context, _ auth.Credential, itemID model.ID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.lines {
		if m.lines[i].ID == itemID {
			m.lines = append(m.lines[:i], m.lines[i+1:]...)
			return nil
		}
	}
	return nil
}

func (m *memCart) ClearCart(context.Context, auth.Credential) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lines = nil
	return nil
}

// --- Mock services ---

type mockOrders struct {
	createFn func(ctx context.Context, spec model.DeliverySpec) (*model.Order, error)
}

func (m *mockOrders) CreateOrder(ctx context.Context, spec model.DeliverySpec) (*model.Order, error) {
	if m.createFn != nil {
		return m.createFn(ctx, spec)
	}
	return nil, fmt.Errorf("not implemented")
}

type mockPayments struct {
	initiateFn func(ctx context.Context, orderID model.ID) (*checkout.Handoff, error)
	verifyFn   func(ctx context.Context, paymentID string) (*model.VerificationResult, error)
	simulateFn func(ctx context.Context, req model.SimulationRequest) (*model.VerificationResult, error)
	statusFn   func(ctx context.Context, orderID model.ID) (*model.OrderPaymentStatus, error)
}

func (m *mockPayments) Initiate(ctx context.Context, orderID model.ID) (*checkout.Handoff, error) {
	if m.initiateFn != nil {
		return m.initiateFn(ctx, orderID)
	}
	return nil, fmt.Errorf("not implemented")
}

func (m *mockPayments) Verify(ctx context.Context, paymentID string) (*model.VerificationResult, error) {
	if m.verifyFn != nil {
		return m.verifyFn(ctx, paymentID)
	}
	return nil, fmt.Errorf("not implemented")
}

func (m *mockPayments) Simulate(ctx context.Context, req model.SimulationRequest) (*model.VerificationResult, error) {
	if m.simulateFn != nil {
		return m.simulateFn(ctx, req)
	}
	return nil, fmt.Errorf("not implemented")
}

func (m *mockPayments) PaymentStatus(ctx context.Context, orderID model.ID) (*model.OrderPaymentStatus, error) {
	if m.statusFn != nil {
		return m.statusFn(ctx, orderID)
	}
	return nil, fmt.Errorf("not implemented")
}

type mockTracker struct {
	listFn      func(ctx context.Context, page, size int) (*model.OrderPage, error)
	getFn       func(ctx context.Context, orderID model.ID) (*model.Order, error)
	proofFn     func(ctx context.Context, orderID model.ID) (*model.Document, error)
	setStatusFn func(ctx context.Context, orderID model.ID, target string) (*model.Order, error)
	historyFn   func(ctx context.Context, orderID model.ID) ([]model.StatusChange, error)
}

func (m *mockTracker) ListOrders(ctx context.Context, page, size int) (*model.OrderPage, error) {
	if m.listFn != nil {
		return m.listFn(ctx, page, size)
	}
	return nil, fmt.Errorf("not implemented")
}

func (m *mockTracker) GetOrder(ctx context.Context, orderID model.ID) (*model.Order, error) {
	if m.getFn != nil {
		return m.getFn(ctx, orderID)
	}
	return nil, fmt.Errorf("not implemented")
}

func (m *mockTracker) DownloadProof(ctx context.Context, orderID model.ID) (*model.Document, error) {
	if m.proofFn != nil {
		return m.proofFn(ctx, orderID)
	}
	return nil, fmt.Errorf("not implemented")
}

func (m *mockTracker) Statuses() []model.OrderStatus { return model.OrderStatuses() }

func (m *mockTracker) SetStatus(ctx context.Context, orderID model.ID, target string) (*model.Order, error) {
	if m.setStatusFn != nil {
		return m.setStatusFn(ctx, orderID, target)
	}
	return nil, fmt.Errorf("not implemented")
}

func (m *mockTracker) History(ctx context.Context, orderID model.ID) ([]model.StatusChange, error) {
	if m.historyFn != nil {
		return m.historyFn(ctx, orderID)
	}
	return nil, fmt.Errorf("not implemented")
}

// --- Test Helpers ---

type testDeps struct {
	remote    *memCart
	orders    *mockOrders
	payments  *mockPayments
	tracker   *mockTracker
	resultURL string
}

func newDeps() *testDeps {
	return &testDeps{
		remote:   &memCart{},
		orders:   &mockOrders{},
		payments: &mockPayments{},
		tracker:  &mockTracker{},
	}
}

func newTestApp(t *testing.T, d *testDeps) *fiber.App {
	t.Helper()
	mr := miniredis.RunT(t)
	st := store.NewWithClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}), zap.NewNop())

	carts := cart.NewRegistry(zap.NewNop(), d.remote, auth.ContextProvider{}, eventbus.Nop{})
	h := NewStorefrontHandler(zap.NewNop(), carts, d.orders, d.payments, d.tracker, d.resultURL)

	app := fiber.New()
	RegisterRoutes(app, nil, st, zap.NewNop(), auth.NewParser(testSecret), h)
	return app
}

func doRequest(t *testing.T, app *fiber.App, method, path, token, body string) *http.Response {
	t.Helper()
	var rdr io.Reader
	if body != "" {
		rdr = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, path, rdr)
	require.NoError(t, err)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer resp.Body.Close()
	var out T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}
