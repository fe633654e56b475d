package api

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/bookbridge/storefront-adapter/internal/marketplace"
	"github.com/bookbridge/storefront-adapter/internal/metrics"
	"github.com/bookbridge/storefront-adapter/internal/tracker"
	"github.com/bookbridge/storefront-adapter/pkg/model"
)

// ErrorResponse is the JSON body of every failed request.
type ErrorResponse struct {
	Error    string            `json:"error"`
	Code     string            `json:"code"`
	Redirect string            `json:"redirect,omitempty"`
	Fields   map[string]string `json:"fields,omitempty"`
}

// Navigation targets returned alongside errors the browser should act on.
const (
	LoginPath  = "/login"
	BrowsePath = "/browse"
)

// respondError maps the error taxonomy onto HTTP. Verification errors are
// not handled here; they are a failed outcome, see verificationResponse.
func respondError(c *fiber.Ctx, logger *zap.Logger, err error) error {
	var (
		transitionErr *model.StatusTransitionError
		validationErr *model.ValidationError
		syncErr       *model.CartSyncError
		creationErr   *model.OrderCreationError
		initiationErr *model.PaymentInitiationError
	)

	switch {
	case errors.As(err, &transitionErr):
		return c.Status(transitionStatus(transitionErr)).JSON(ErrorResponse{
			Error: transitionErr.UserMessage(),
			Code:  "status_" + string(transitionErr.Kind),
		})
	case errors.Is(err, model.ErrUnauthenticated):
		return c.Status(fiber.StatusUnauthorized).JSON(ErrorResponse{
			Error:    "Authentication required. Please login.",
			Code:     "unauthenticated",
			Redirect: LoginPath,
		})
	case errors.Is(err, model.ErrEmptyCart):
		return c.Status(fiber.StatusConflict).JSON(ErrorResponse{
			Error:    err.Error(),
			Code:     "empty_cart",
			Redirect: BrowsePath,
		})
	case errors.As(err, &validationErr):
		return c.Status(fiber.StatusUnprocessableEntity).JSON(ErrorResponse{
			Error:  "validation failed",
			Code:   "validation_failed",
			Fields: validationErr.Fields,
		})
	case errors.Is(err, model.ErrInvalidQuantity):
		return c.Status(fiber.StatusUnprocessableEntity).JSON(ErrorResponse{
			Error:  err.Error(),
			Code:   "invalid_quantity",
			Fields: map[string]string{"quantity": err.Error()},
		})
	case errors.Is(err, model.ErrLineItemNotFound):
		return c.Status(fiber.StatusNotFound).JSON(ErrorResponse{Error: err.Error(), Code: "line_item_not_found"})
	case errors.Is(err, model.ErrCheckoutInProgress):
		return c.Status(fiber.StatusConflict).JSON(ErrorResponse{Error: err.Error(), Code: "checkout_in_progress"})
	case errors.Is(err, model.ErrInvalidSimulationCredentials):
		return c.Status(fiber.StatusUnprocessableEntity).JSON(ErrorResponse{
			Error: "Invalid eSewa credentials",
			Code:  "invalid_simulation_credentials",
		})
	case errors.Is(err, model.ErrSimulationDisabled):
		return c.Status(fiber.StatusNotFound).JSON(ErrorResponse{Error: err.Error(), Code: "simulation_disabled"})
	case errors.Is(err, tracker.ErrHistoryUnavailable):
		return c.Status(fiber.StatusServiceUnavailable).JSON(ErrorResponse{Error: err.Error(), Code: "history_unavailable"})
	case errors.As(err, &syncErr):
		return c.Status(fiber.StatusBadGateway).JSON(ErrorResponse{
			Error: "Failed to update cart: " + marketplace.MessageOf(syncErr.Err),
			Code:  "cart_sync_failed",
		})
	case errors.As(err, &creationErr):
		return c.Status(fiber.StatusBadGateway).JSON(ErrorResponse{Error: creationErr.Message, Code: "order_creation_failed"})
	case errors.As(err, &initiationErr):
		return c.Status(fiber.StatusBadGateway).JSON(ErrorResponse{Error: initiationErr.Message, Code: "payment_initiation_failed"})
	case marketplace.IsNotFound(err):
		return c.Status(fiber.StatusNotFound).JSON(ErrorResponse{Error: "not found", Code: "not_found"})
	}

	metrics.IncError("api", "unhandled")
	logger.Error("api.request_failed",
		zap.String("method", c.Method()),
		zap.String("path", c.Path()),
		zap.Error(err))
	return c.Status(fiber.StatusInternalServerError).JSON(ErrorResponse{Error: "internal error", Code: "internal"})
}

func transitionStatus(err *model.StatusTransitionError) int {
	switch err.Kind {
	case model.TransitionUnauthorized:
		return fiber.StatusUnauthorized
	case model.TransitionForbidden:
		return fiber.StatusForbidden
	case model.TransitionNotFound:
		return fiber.StatusNotFound
	case model.TransitionServer:
		return fiber.StatusBadGateway
	}
	return fiber.StatusConflict
}
