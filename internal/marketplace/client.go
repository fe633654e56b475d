package marketplace

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/bookbridge/storefront-adapter/internal/auth"
	"github.com/bookbridge/storefront-adapter/internal/httpclient"
	"github.com/bookbridge/storefront-adapter/internal/rate"
	"github.com/bookbridge/storefront-adapter/pkg/model"
)

// Client wraps HTTP communication with the marketplace backend. Every call
// carries the actor's bearer token and is rate limited per actor.
type Client struct {
	logger  *zap.Logger
	exec    *httpclient.Executor
	baseURL string
}

// Options tune the underlying HTTP executor.
type Options struct {
	Timeout    time.Duration
	RetryMax   int
	HTTPClient *http.Client
}

// NewClient constructs a marketplace client rooted at baseURL (e.g. http://host/api).
func NewClient(logger *zap.Logger, rateMgr *rate.Manager, baseURL string, opts Options) *Client {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = 15 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	exec := httpclient.New(logger, rateMgr, httpClient, opts.RetryMax, "marketplace", func(status int, body []byte) error {
		err := parseAPIError(status, body)
		logger.Debug("marketplace.client_error",
			zap.Int("status", status),
			zap.String("message", MessageOf(err)))
		return err
	})
	return &Client{
		logger:  logger,
		exec:    exec,
		baseURL: strings.TrimRight(baseURL, "/"),
	}
}

// GetCart returns the actor's server-side cart.
// GET /cart
func (c *Client) GetCart(ctx context.Context, cred auth.Credential) ([]model.CartLineItem, error) {
	var resp cartResponse
	if err := c.do(ctx, "cart.get", cred, http.MethodGet, "/cart", nil, &resp); err != nil {
		return nil, err
	}
	items := make([]model.CartLineItem, 0, len(resp.Items))
	for _, it := range resp.Items {
		items = append(items, it.ToModel())
	}
	return items, nil
}

// AddItem adds quantity of a product. The returned line is nil when the
// backend acknowledges without echoing it.
// POST /cart/items
func (c *Client) AddItem(ctx context.Context, cred auth.Credential, productID model.ID, quantity int) (*model.CartLineItem, error) {
	var resp addItemResponse
	body := addItemRequest{ProductID: productID, Quantity: quantity}
	if err := c.do(ctx, "cart.add", cred, http.MethodPost, "/cart/items", body, &resp); err != nil {
		return nil, err
	}
	if dto := resp.line(); dto != nil {
		li := dto.ToModel()
		return &li, nil
	}
	return nil, nil
}

// UpdateItem sets a line item's quantity.
// PUT /cart/items/{id}
func (c *Client) UpdateItem(ctx context.Context, cred auth.Credential, itemID model.ID, quantity int) (*model.CartLineItem, error) {
	var resp addItemResponse
	if err := c.do(ctx, "cart.update", cred, http.MethodPut, "/cart/items/"+url.PathEscape(itemID.String()), updateItemRequest{Quantity: quantity}, &resp); err != nil {
		return nil, err
	}
	if dto := resp.line(); dto != nil {
		li := dto.ToModel()
		return &li, nil
	}
	return nil, nil
}

// RemoveItem deletes a line item.
// DELETE /cart/items/{id}
func (c *Client) RemoveItem(ctx context.Context, cred auth.Credential, itemID model.ID) error {
	return c.do(ctx, "cart.remove", cred, http.MethodDelete, "/cart/items/"+url.PathEscape(itemID.String()), nil, nil)
}

// ClearCart empties the server-side cart.
// DELETE /cart
func (c *Client) ClearCart(ctx context.Context, cred auth.Credential) error {
	return c.do(ctx, "cart.clear", cred, http.MethodDelete, "/cart", nil, nil)
}

// CreateOrder persists an order from the actor's server-side cart.
// POST /orders
func (c *Client) CreateOrder(ctx context.Context, cred auth.Credential, spec model.DeliverySpec) (*model.Order, error) {
	var resp orderEnvelope
	if err := c.do(ctx, "orders.create", cred, http.MethodPost, "/orders", spec, &resp); err != nil {
		return nil, err
	}
	if resp.Order == nil {
		return nil, fmt.Errorf("marketplace returned no order")
	}
	return resp.Order, nil
}

// ListOrders returns one page of the actor's orders.
// GET /orders?page&size
func (c *Client) ListOrders(ctx context.Context, cred auth.Credential, page, size int) (*model.OrderPage, error) {
	q := url.Values{}
	q.Set("page", strconv.Itoa(page))
	q.Set("size", strconv.Itoa(size))

	var resp orderPageResponse
	if err := c.do(ctx, "orders.list", cred, http.MethodGet, "/orders?"+q.Encode(), nil, &resp); err != nil {
		return nil, err
	}
	orders := resp.Content
	if orders == nil {
		orders = []model.Order{}
	}
	return &model.OrderPage{
		Orders:        orders,
		Page:          resp.CurrentPage,
		Size:          resp.Size,
		TotalElements: resp.TotalElements,
		TotalPages:    resp.TotalPages,
	}, nil
}

// GetOrder fetches the canonical order. The endpoint answers either with the
// bare order or wrapped as {"order": ...}.
// GET /orders/{id}
func (c *Client) GetOrder(ctx context.Context, cred auth.Credential, orderID model.ID) (*model.Order, error) {
	var raw json.RawMessage
	if err := c.do(ctx, "orders.get", cred, http.MethodGet, "/orders/"+url.PathEscape(orderID.String()), nil, &raw); err != nil {
		return nil, err
	}
	var env orderEnvelope
	if err := json.Unmarshal(raw, &env); err == nil && env.Order != nil {
		return env.Order, nil
	}
	var order model.Order
	if err := json.Unmarshal(raw, &order); err != nil {
		return nil, fmt.Errorf("decode order: %w", err)
	}
	return &order, nil
}

// OrderPDF downloads the proof-of-purchase document.
// GET /orders/{id}/pdf
func (c *Client) OrderPDF(ctx context.Context, cred auth.Credential, orderID model.ID) (*model.Document, error) {
	req, err := c.newRequest(ctx, "orders.pdf", cred, http.MethodGet, "/orders/"+url.PathEscape(orderID.String())+"/pdf", nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/pdf")

	resp, err := c.exec.Do(req.Context(), req, cred.ActorKey())
	if err != nil {
		return nil, err
	}
	ct := resp.Header.Get("Content-Type")
	if mt, _, err := mime.ParseMediaType(ct); err == nil {
		ct = mt
	}
	if ct == "" {
		ct = "application/pdf"
	}
	return &model.Document{
		Filename:    fmt.Sprintf("order-%s.pdf", orderID),
		ContentType: ct,
		Body:        resp.Body,
	}, nil
}

// PaymentStatus reports whether the order has been paid.
// GET /orders/{id}/payment-status
func (c *Client) PaymentStatus(ctx context.Context, cred auth.Credential, orderID model.ID) (*model.OrderPaymentStatus, error) {
	var resp model.OrderPaymentStatus
	if err := c.do(ctx, "orders.payment_status", cred, http.MethodGet, "/orders/"+url.PathEscape(orderID.String())+"/payment-status", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// InitiatePayment asks the backend for the gateway form fields of an order.
// POST /payments/initiate/{orderId}
func (c *Client) InitiatePayment(ctx context.Context, cred auth.Credential, orderID model.ID) (model.GatewayParams, error) {
	var resp initiateResponse
	if err := c.do(ctx, "payments.initiate", cred, http.MethodPost, "/payments/initiate/"+url.PathEscape(orderID.String()), nil, &resp); err != nil {
		return nil, err
	}
	if len(resp.EsewaParams) == 0 {
		return nil, fmt.Errorf("marketplace returned no gateway params")
	}
	return resp.gatewayParams(), nil
}

// VerifyPayment confirms a payment outcome by the gateway-supplied reference.
// GET /payments/verify/{paymentId}
func (c *Client) VerifyPayment(ctx context.Context, cred auth.Credential, paymentID string) (model.PaymentAttempt, error) {
	var resp verifyResponse
	if err := c.do(ctx, "payments.verify", cred, http.MethodGet, "/payments/verify/"+url.PathEscape(paymentID), nil, &resp); err != nil {
		return model.PaymentAttempt{}, err
	}
	return model.PaymentAttempt{
		OrderID:          resp.OrderID,
		GatewayReference: paymentID,
		Outcome:          model.ParseOutcome(resp.Status),
	}, nil
}

// CheckAuth probes whether the backend still accepts the credential.
// GET /payments/test-auth
func (c *Client) CheckAuth(ctx context.Context, cred auth.Credential) error {
	return c.do(ctx, "payments.test_auth", cred, http.MethodGet, "/payments/test-auth", nil, nil)
}

// UpdateOrderStatus asks the backend to move an order to status.
// PUT /admin/orders/{id}/status
func (c *Client) UpdateOrderStatus(ctx context.Context, cred auth.Credential, orderID model.ID, status model.OrderStatus) (*model.Order, error) {
	var resp orderEnvelope
	if err := c.do(ctx, "admin.order_status", cred, http.MethodPut, "/admin/orders/"+url.PathEscape(orderID.String())+"/status", statusRequest{Status: status}, &resp); err != nil {
		return nil, err
	}
	return resp.Order, nil
}

// NotificationCount returns the actor's unread notification count.
// GET /notifications/count
func (c *Client) NotificationCount(ctx context.Context, cred auth.Credential) (int64, error) {
	var resp countResponse
	if err := c.do(ctx, "notifications.count", cred, http.MethodGet, "/notifications/count", nil, &resp); err != nil {
		return 0, err
	}
	return resp.UnreadCount, nil
}

func (c *Client) newRequest(ctx context.Context, endpoint string, cred auth.Credential, method, path string, body any) (*http.Request, error) {
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		reader = bytes.NewReader(data)
	}

	ctx = httpclient.WithEndpoint(ctx, endpoint)
	var req *http.Request
	var err error
	if reader != nil {
		req, err = http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	} else {
		req, err = http.NewRequestWithContext(ctx, method, c.baseURL+path, nil)
	}
	if err != nil {
		return nil, err
	}
	setHeaders(req, cred.Token, body != nil)
	return req, nil
}

func (c *Client) do(ctx context.Context, endpoint string, cred auth.Credential, method, path string, body, out any) error {
	req, err := c.newRequest(ctx, endpoint, cred, method, path, body)
	if err != nil {
		return err
	}
	return c.exec.DoJSON(req.Context(), req, cred.ActorKey(), out)
}

// setHeaders sets the bearer credential and content negotiation headers.
func setHeaders(req *http.Request, token string, hasBody bool) {
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")
	if hasBody {
		req.Header.Set("Content-Type", "application/json")
	}
}
