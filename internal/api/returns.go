package api

import (
	"errors"
	"net/url"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/bookbridge/storefront-adapter/pkg/model"
)

// StateUnauthenticated tells the result page to send the buyer to login.
const StateUnauthenticated = "unauthenticated"

// PaymentReturn handles GET /payments/return?pid=, where the gateway sends
// the browser back after payment. The reference is verified with the backend
// before anything is shown; the query of the return itself is never trusted.
func (h *StorefrontHandler) PaymentReturn(c *fiber.Ctx) error {
	pid := c.Query("pid", c.Query("oid"))
	resp, err := verificationResponse(h.payments.Verify(c.UserContext(), pid))

	if h.resultURL == "" {
		if err != nil {
			return h.fail(c, err)
		}
		return c.JSON(resp)
	}

	q := url.Values{}
	q.Set("pid", pid)
	switch {
	case err == nil:
		q.Set("state", resp.State)
		if resp.Payment != nil && !resp.Payment.OrderID.IsZero() {
			q.Set("orderId", resp.Payment.OrderID.String())
		}
	case errors.Is(err, model.ErrUnauthenticated):
		q.Set("state", StateUnauthenticated)
	default:
		h.logger.Error("payment.return.failed", zap.String("reference", pid), zap.Error(err))
		q.Set("state", StateFailed)
	}
	return c.Redirect(h.resultURL+"?"+q.Encode(), fiber.StatusSeeOther)
}
