package api

import (
	"context"
	"errors"
	"fmt"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/bookbridge/storefront-adapter/internal/cart"
	"github.com/bookbridge/storefront-adapter/internal/checkout"
	"github.com/bookbridge/storefront-adapter/pkg/model"
)

// OrderService creates orders from the caller's cart.
type OrderService interface {
	CreateOrder(ctx context.Context, spec model.DeliverySpec) (*model.Order, error)
}

// PaymentService drives gateway hand-off and reconciliation.
type PaymentService interface {
	Initiate(ctx context.Context, orderID model.ID) (*checkout.Handoff, error)
	Verify(ctx context.Context, paymentID string) (*model.VerificationResult, error)
	Simulate(ctx context.Context, req model.SimulationRequest) (*model.VerificationResult, error)
	PaymentStatus(ctx context.Context, orderID model.ID) (*model.OrderPaymentStatus, error)
}

// TrackerService reads orders and authors status transitions.
type TrackerService interface {
	ListOrders(ctx context.Context, page, size int) (*model.OrderPage, error)
	GetOrder(ctx context.Context, orderID model.ID) (*model.Order, error)
	DownloadProof(ctx context.Context, orderID model.ID) (*model.Document, error)
	Statuses() []model.OrderStatus
	SetStatus(ctx context.Context, orderID model.ID, target string) (*model.Order, error)
	History(ctx context.Context, orderID model.ID) ([]model.StatusChange, error)
}

// StorefrontHandler serves the browser-facing order lifecycle.
type StorefrontHandler struct {
	logger    *zap.Logger
	carts     cart.Locator
	orders    OrderService
	payments  PaymentService
	tracker   TrackerService
	resultURL string
}

// NewStorefrontHandler creates a handler. resultURL is where the gateway
// return redirects browsers to; when empty the return answers with JSON.
func NewStorefrontHandler(
	logger *zap.Logger,
	carts cart.Locator,
	orders OrderService,
	payments PaymentService,
	tracker TrackerService,
	resultURL string,
) *StorefrontHandler {
	return &StorefrontHandler{
		logger:    logger,
		carts:     carts,
		orders:    orders,
		payments:  payments,
		tracker:   tracker,
		resultURL: resultURL,
	}
}

func (h *StorefrontHandler) fail(c *fiber.Ctx, err error) error {
	return respondError(c, h.logger, err)
}

func badBody(err error) error {
	return (&model.ValidationError{}).Add("body", fmt.Sprintf("invalid request body: %v", err))
}

// ─── Cart ────────────────────────────────────────────────────────────────────

// hydrated returns the caller's store, loaded from the remote cart if this
// instance has not seen it yet.
func (h *StorefrontHandler) hydrated(ctx context.Context) (*cart.Store, error) {
	st := h.carts.For(ctx)
	if _, err := st.Snapshot(ctx); err != nil {
		return nil, err
	}
	return st, nil
}

func (h *StorefrontHandler) cartResponse(c *fiber.Ctx, st *cart.Store) error {
	snap, err := st.Snapshot(c.UserContext())
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(snap)
}

// GetCart handles GET /api/v1/cart. Every call reads the remote cart;
// unauthenticated callers get an empty cart.
func (h *StorefrontHandler) GetCart(c *fiber.Ctx) error {
	ctx := c.UserContext()
	snap, err := h.carts.For(ctx).Refresh(ctx)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(snap)
}

// AddItem handles POST /api/v1/cart/items.
func (h *StorefrontHandler) AddItem(c *fiber.Ctx) error {
	var req AddItemRequest
	if err := c.BodyParser(&req); err != nil {
		return h.fail(c, badBody(err))
	}
	if err := req.Validate(); err != nil {
		return h.fail(c, err)
	}
	ctx := c.UserContext()
	st, err := h.hydrated(ctx)
	if err != nil {
		return h.fail(c, err)
	}
	if err := st.Add(ctx, req.Product()); err != nil {
		return h.fail(c, err)
	}
	return h.cartResponse(c, st)
}

// UpdateItem handles PUT /api/v1/cart/items/:id.
func (h *StorefrontHandler) UpdateItem(c *fiber.Ctx) error {
	var req UpdateItemRequest
	if err := c.BodyParser(&req); err != nil {
		return h.fail(c, badBody(err))
	}
	if err := req.Validate(); err != nil {
		return h.fail(c, err)
	}
	ctx := c.UserContext()
	st, err := h.hydrated(ctx)
	if err != nil {
		return h.fail(c, err)
	}
	itemID := model.ID(c.Params("id"))
	switch req.Action {
	case ActionIncrement:
		err = st.Increment(ctx, itemID)
	case ActionDecrement:
		err = st.Decrement(ctx, itemID)
	default:
		err = st.SetQuantity(ctx, itemID, *req.Quantity)
	}
	if err != nil {
		return h.fail(c, err)
	}
	return h.cartResponse(c, st)
}

// RemoveItem handles DELETE /api/v1/cart/items/:id.
func (h *StorefrontHandler) RemoveItem(c *fiber.Ctx) error {
	ctx := c.UserContext()
	st, err := h.hydrated(ctx)
	if err != nil {
		return h.fail(c, err)
	}
	if err := st.Remove(ctx, model.ID(c.Params("id"))); err != nil {
		return h.fail(c, err)
	}
	return h.cartResponse(c, st)
}

// ClearCart handles DELETE /api/v1/cart.
func (h *StorefrontHandler) ClearCart(c *fiber.Ctx) error {
	ctx := c.UserContext()
	st := h.carts.For(ctx)
	if err := st.Clear(ctx); err != nil {
		return h.fail(c, err)
	}
	return h.cartResponse(c, st)
}

// ─── Orders ──────────────────────────────────────────────────────────────────

// CreateOrder handles POST /api/v1/orders. The cart is kept; it is cleared
// only once payment is verified.
func (h *StorefrontHandler) CreateOrder(c *fiber.Ctx) error {
	var spec model.DeliverySpec
	if err := c.BodyParser(&spec); err != nil {
		return h.fail(c, badBody(err))
	}
	order, err := h.orders.CreateOrder(c.UserContext(), spec)
	if err != nil {
		return h.fail(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(order)
}

// ListOrders handles GET /api/v1/orders?page=&size=.
func (h *StorefrontHandler) ListOrders(c *fiber.Ctx) error {
	page, err := h.tracker.ListOrders(c.UserContext(), c.QueryInt("page", 0), c.QueryInt("size", 0))
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(page)
}

// GetOrder handles GET /api/v1/orders/:id.
func (h *StorefrontHandler) GetOrder(c *fiber.Ctx) error {
	order, err := h.tracker.GetOrder(c.UserContext(), model.ID(c.Params("id")))
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(order)
}

// DownloadProof handles GET /api/v1/orders/:id/pdf.
func (h *StorefrontHandler) DownloadProof(c *fiber.Ctx) error {
	doc, err := h.tracker.DownloadProof(c.UserContext(), model.ID(c.Params("id")))
	if err != nil {
		return h.fail(c, err)
	}
	c.Set(fiber.HeaderContentType, doc.ContentType)
	c.Set(fiber.HeaderContentDisposition, fmt.Sprintf("attachment; filename=%q", doc.Filename))
	return c.Send(doc.Body)
}

// PaymentStatus handles GET /api/v1/orders/:id/payment-status.
func (h *StorefrontHandler) PaymentStatus(c *fiber.Ctx) error {
	st, err := h.payments.PaymentStatus(c.UserContext(), model.ID(c.Params("id")))
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(st)
}

// ─── Admin ───────────────────────────────────────────────────────────────────

// SetOrderStatus handles PUT /api/v1/admin/orders/:id/status.
func (h *StorefrontHandler) SetOrderStatus(c *fiber.Ctx) error {
	var req StatusUpdateRequest
	if err := c.BodyParser(&req); err != nil {
		return h.fail(c, badBody(err))
	}
	order, err := h.tracker.SetStatus(c.UserContext(), model.ID(c.Params("id")), req.Status)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(order)
}

// OrderHistory handles GET /api/v1/admin/orders/:id/history.
func (h *StorefrontHandler) OrderHistory(c *fiber.Ctx) error {
	changes, err := h.tracker.History(c.UserContext(), model.ID(c.Params("id")))
	if err != nil {
		return h.fail(c, err)
	}
	if changes == nil {
		changes = []model.StatusChange{}
	}
	return c.JSON(fiber.Map{"orderId": c.Params("id"), "changes": changes})
}

// OrderStatuses handles GET /api/v1/admin/order-statuses.
func (h *StorefrontHandler) OrderStatuses(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"statuses": h.tracker.Statuses()})
}

// ─── Payments ────────────────────────────────────────────────────────────────

// InitiatePayment handles POST /api/v1/payments/initiate/:orderId. Browsers
// receive an auto-submitting HTML form; clients asking for JSON get the fields.
func (h *StorefrontHandler) InitiatePayment(c *fiber.Ctx) error {
	handoff, err := h.payments.Initiate(c.UserContext(), model.ID(c.Params("orderId")))
	if err != nil {
		return h.fail(c, err)
	}
	c.Set(fiber.HeaderCacheControl, "no-store")
	if c.Accepts(fiber.MIMETextHTML, fiber.MIMEApplicationJSON) == fiber.MIMEApplicationJSON {
		return c.JSON(HandoffResponse{
			OrderID: handoff.OrderID,
			Action:  handoff.Action,
			Method:  fiber.MethodPost,
			Fields:  handoff.Fields,
		})
	}
	c.Type("html", "utf-8")
	return handoff.RenderForm(c.Response().BodyWriter())
}

// verificationResponse turns a verification error into a failed outcome.
// Anything else is left for respondError.
func verificationResponse(res *model.VerificationResult, err error) (VerificationResponse, error) {
	if err == nil {
		return newVerificationResponse(res), nil
	}
	var verr *model.PaymentVerificationError
	if errors.As(err, &verr) {
		return VerificationResponse{State: StateFailed, Message: verr.Message}, nil
	}
	return VerificationResponse{}, err
}

// VerifyPayment handles GET /api/v1/payments/verify/:paymentId.
func (h *StorefrontHandler) VerifyPayment(c *fiber.Ctx) error {
	resp, err := verificationResponse(h.payments.Verify(c.UserContext(), c.Params("paymentId")))
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(resp)
}

// SimulatePayment handles POST /api/v1/payments/simulate.
func (h *StorefrontHandler) SimulatePayment(c *fiber.Ctx) error {
	var req model.SimulationRequest
	if err := c.BodyParser(&req); err != nil {
		return h.fail(c, badBody(err))
	}
	resp, err := verificationResponse(h.payments.Simulate(c.UserContext(), req))
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(resp)
}
