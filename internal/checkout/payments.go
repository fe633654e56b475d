package checkout

import (
	"context"
	"crypto/subtle"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/bookbridge/storefront-adapter/internal/auth"
	"github.com/bookbridge/storefront-adapter/internal/cart"
	"github.com/bookbridge/storefront-adapter/internal/marketplace"
	"github.com/bookbridge/storefront-adapter/internal/metrics"
	"github.com/bookbridge/storefront-adapter/pkg/eventbus"
	"github.com/bookbridge/storefront-adapter/pkg/model"
)

// PaymentBackend is the marketplace side of the payment saga.
type PaymentBackend interface {
	CheckAuth(ctx context.Context, cred auth.Credential) error
	InitiatePayment(ctx context.Context, cred auth.Credential, orderID model.ID) (model.GatewayParams, error)
	VerifyPayment(ctx context.Context, cred auth.Credential, paymentID string) (model.PaymentAttempt, error)
	GetOrder(ctx context.Context, cred auth.Credential, orderID model.ID) (*model.Order, error)
	PaymentStatus(ctx context.Context, cred auth.Credential, orderID model.ID) (*model.OrderPaymentStatus, error)
}

// Memo remembers terminal verification outcomes.
type Memo interface {
	GetVerification(ctx context.Context, reference string) (*model.VerificationResult, error)
	PutVerification(ctx context.Context, reference string, result model.VerificationResult, ttl time.Duration) error
}

// GatewaySource resolves the gateway endpoint and simulation credentials.
type GatewaySource interface {
	Gateway(ctx context.Context) (model.GatewaySettings, error)
}

// PaymentOptions tune verification and the simulated gateway.
type PaymentOptions struct {
	MemoTTL           time.Duration
	SimulationEnabled bool
	SimulationDelay   time.Duration
}

// Payments runs the two phases of a redirect payment: initiation, which ends
// with the browser leaving for the gateway, and verification on return.
type Payments struct {
	logger  *zap.Logger
	backend PaymentBackend
	carts   cart.Locator
	creds   auth.CredentialProvider
	memo    Memo
	gateway GatewaySource
	events  eventbus.Emitter
	opts    PaymentOptions

	sleep func(ctx context.Context, d time.Duration) error
}

// NewPayments builds the payment service. memo may be nil, in which case
// verification still reconciles but is not memoised across requests.
func NewPayments(logger *zap.Logger, backend PaymentBackend, carts cart.Locator, creds auth.CredentialProvider, memo Memo, gateway GatewaySource, events eventbus.Emitter, opts PaymentOptions) *Payments {
	if events == nil {
		events = eventbus.Nop{}
	}
	if opts.MemoTTL <= 0 {
		opts.MemoTTL = 24 * time.Hour
	}
	return &Payments{
		logger:  logger,
		backend: backend,
		carts:   carts,
		creds:   creds,
		memo:    memo,
		gateway: gateway,
		events:  events,
		opts:    opts,
		sleep:   sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func unauthenticated(err error) error {
	return fmt.Errorf("%w: %v", model.ErrUnauthenticated, err)
}

// Initiate obtains the gateway form fields for an order and returns the
// hand-off that navigates the browser to the gateway.
func (p *Payments) Initiate(ctx context.Context, orderID model.ID) (*Handoff, error) {
	cred, err := p.creds.Credential(ctx)
	if err != nil {
		metrics.IncPayment("initiate", "unauthenticated")
		return nil, model.ErrUnauthenticated
	}
	if orderID.IsZero() {
		return nil, (&model.ValidationError{}).Add("orderId", "Order id is required")
	}

	if err := p.backend.CheckAuth(ctx, cred); err != nil {
		if marketplace.IsUnauthorized(err) {
			metrics.IncPayment("initiate", "unauthenticated")
			p.logger.Warn("payment.initiate.auth_probe_rejected", zap.String("actor", cred.ActorKey()))
			return nil, unauthenticated(err)
		}
		metrics.IncPayment("initiate", "error")
		return nil, &model.PaymentInitiationError{OrderID: orderID, Message: marketplace.MessageOf(err), Err: err}
	}

	params, err := p.backend.InitiatePayment(ctx, cred, orderID)
	if err != nil {
		if marketplace.IsUnauthorized(err) {
			metrics.IncPayment("initiate", "unauthenticated")
			return nil, unauthenticated(err)
		}
		metrics.IncPayment("initiate", "error")
		p.logger.Error("payment.initiate.failed",
			zap.String("actor", cred.ActorKey()),
			zap.String("order_id", orderID.String()),
			zap.Error(err))
		return nil, &model.PaymentInitiationError{OrderID: orderID, Message: marketplace.MessageOf(err), Err: err}
	}

	gw, err := p.gateway.Gateway(ctx)
	if err != nil {
		metrics.IncPayment("initiate", "error")
		return nil, &model.PaymentInitiationError{OrderID: orderID, Message: "payment gateway unavailable", Err: err}
	}

	metrics.IncPayment("initiate", "ok")
	p.logger.Info("payment.initiated",
		zap.String("actor", cred.ActorKey()),
		zap.String("order_id", orderID.String()),
		zap.String("gateway", gw.Endpoint),
		zap.Int("fields", len(params)))

	ev := model.NewEvent(model.EventPaymentInitiated, cred.ActorKey(), orderID)
	ev.Status = string(model.OutcomePending)
	ev.Amount = params["tAmt"]
	ev.Reference = params["pid"]
	p.events.Emit(ev)

	return &Handoff{OrderID: orderID, Action: gw.Endpoint, Fields: params}, nil
}

func memoKey(cred auth.Credential, reference string) string {
	return cred.ActorKey() + ":" + reference
}

func (p *Payments) recall(ctx context.Context, cred auth.Credential, reference string) *model.VerificationResult {
	if p.memo == nil {
		return nil
	}
	res, err := p.memo.GetVerification(ctx, memoKey(cred, reference))
	if err != nil {
		p.logger.Warn("payment.memo.read_failed", zap.String("reference", reference), zap.Error(err))
		return nil
	}
	return res
}

// Verify confirms the outcome of a gateway return and reconciles local state.
// Repeating it for the same reference yields the same result without
// re-applying side effects.
func (p *Payments) Verify(ctx context.Context, paymentID string) (*model.VerificationResult, error) {
	paymentID = strings.TrimSpace(paymentID)
	if paymentID == "" {
		metrics.IncPayment("verify", "error")
		return nil, &model.PaymentVerificationError{Message: "missing payment reference"}
	}
	cred, err := p.creds.Credential(ctx)
	if err != nil {
		metrics.IncPayment("verify", "unauthenticated")
		return nil, model.ErrUnauthenticated
	}

	if res := p.recall(ctx, cred, paymentID); res != nil {
		metrics.IncPayment("verify", "memo")
		p.logger.Debug("payment.verify.memo_hit", zap.String("reference", paymentID))
		return res, nil
	}

	attempt, err := p.backend.VerifyPayment(ctx, cred, paymentID)
	if err != nil {
		if marketplace.IsUnauthorized(err) {
			metrics.IncPayment("verify", "unauthenticated")
			return nil, unauthenticated(err)
		}
		metrics.IncPayment("verify", "error")
		p.logger.Warn("payment.verify.failed",
			zap.String("actor", cred.ActorKey()),
			zap.String("reference", paymentID),
			zap.Error(err))
		return nil, &model.PaymentVerificationError{Reference: paymentID, Message: marketplace.MessageOf(err), Err: err}
	}
	attempt.GatewayReference = paymentID
	return p.reconcile(ctx, cred, attempt, false), nil
}

// Simulate stands in for the external gateway round trip. After the fixed
// test credentials are confirmed and the processing delay has passed, it
// reconciles exactly like a successful Verify.
func (p *Payments) Simulate(ctx context.Context, req model.SimulationRequest) (*model.VerificationResult, error) {
	if !p.opts.SimulationEnabled {
		return nil, model.ErrSimulationDisabled
	}
	cred, err := p.creds.Credential(ctx)
	if err != nil {
		metrics.IncPayment("simulate", "unauthenticated")
		return nil, model.ErrUnauthenticated
	}
	if req.OrderID.IsZero() {
		return nil, (&model.ValidationError{}).Add("orderId", "Order id is required")
	}

	gw, err := p.gateway.Gateway(ctx)
	if err != nil {
		return nil, &model.PaymentVerificationError{Reference: model.SimulatedReference(req.OrderID), Message: "payment gateway unavailable", Err: err}
	}
	emailOK := subtle.ConstantTimeCompare([]byte(strings.TrimSpace(req.Email)), []byte(gw.SimulationEmail)) == 1
	passOK := subtle.ConstantTimeCompare([]byte(req.Password), []byte(gw.SimulationPassword)) == 1
	if !emailOK || !passOK {
		metrics.IncPayment("simulate", "invalid_credentials")
		return nil, model.ErrInvalidSimulationCredentials
	}

	ref := model.SimulatedReference(req.OrderID)
	if res := p.recall(ctx, cred, ref); res != nil {
		metrics.IncPayment("simulate", "memo")
		return res, nil
	}

	if err := p.sleep(ctx, p.opts.SimulationDelay); err != nil {
		return nil, err
	}

	attempt := model.PaymentAttempt{OrderID: req.OrderID, GatewayReference: ref, Outcome: model.OutcomeSuccess}
	return p.reconcile(ctx, cred, attempt, true), nil
}

// reconcile applies the post-conditions of a verified outcome. On SUCCESS the
// canonical order is fetched and then the cart is cleared; any other outcome
// leaves the cart as it was.
func (p *Payments) reconcile(ctx context.Context, cred auth.Credential, attempt model.PaymentAttempt, simulated bool) *model.VerificationResult {
	stage := "verify"
	if simulated {
		stage = "simulate"
	}
	res := &model.VerificationResult{Attempt: attempt, Simulated: simulated}
	log := p.logger.With(
		zap.String("actor", cred.ActorKey()),
		zap.String("reference", attempt.GatewayReference),
		zap.String("order_id", attempt.OrderID.String()))

	memoise := attempt.Outcome.IsTerminal()
	switch attempt.Outcome {
	case model.OutcomeSuccess:
		if !attempt.OrderID.IsZero() {
			order, err := p.backend.GetOrder(ctx, cred, attempt.OrderID)
			if err != nil {
				log.Warn("payment.verify.order_fetch_failed", zap.Error(err))
			} else {
				res.Order = order
			}
		}
		if err := p.carts.For(ctx).Clear(ctx); err != nil {
			// the next verify for this reference retries the clear
			memoise = false
			log.Error("payment.verify.cart_clear_failed", zap.Error(err))
		} else {
			res.CartCleared = true
		}
		log.Info("payment.verify.success", zap.Bool("cart_cleared", res.CartCleared), zap.Bool("simulated", simulated))
	case model.OutcomeFailed:
		log.Info("payment.verify.failed_outcome")
	default:
		log.Info("payment.verify.pending")
	}
	metrics.IncPayment(stage, strings.ToLower(string(attempt.Outcome)))

	ev := model.NewEvent(model.EventPaymentVerified, cred.ActorKey(), attempt.OrderID)
	ev.Status = string(attempt.Outcome)
	ev.Reference = attempt.GatewayReference
	if res.Order != nil {
		ev.Amount = res.Order.TotalAmount.String()
	}
	ev.Attrs = map[string]any{"simulated": simulated, "cart_cleared": res.CartCleared}
	p.events.Emit(ev)

	if memoise && p.memo != nil {
		if err := p.memo.PutVerification(ctx, memoKey(cred, attempt.GatewayReference), *res, p.opts.MemoTTL); err != nil {
			log.Warn("payment.memo.write_failed", zap.Error(err))
		}
	}
	return res
}

// PaymentStatus re-checks whether an order has been paid, for callers left
// in the PENDING state.
func (p *Payments) PaymentStatus(ctx context.Context, orderID model.ID) (*model.OrderPaymentStatus, error) {
	cred, err := p.creds.Credential(ctx)
	if err != nil {
		return nil, model.ErrUnauthenticated
	}
	st, err := p.backend.PaymentStatus(ctx, cred, orderID)
	if err != nil {
		if marketplace.IsUnauthorized(err) {
			return nil, unauthenticated(err)
		}
		return nil, fmt.Errorf("payment status for order %s: %w", orderID, err)
	}
	return st, nil
}

// StaticGateway serves fixed gateway settings.
type StaticGateway model.GatewaySettings

func (g StaticGateway) Gateway(context.Context) (model.GatewaySettings, error) {
	return model.GatewaySettings(g), nil
}
