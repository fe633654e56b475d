package api

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/bookbridge/storefront-adapter/internal/auth"
	"github.com/bookbridge/storefront-adapter/internal/store"
)

// RegisterRoutes mounts health, metrics and the storefront API. A nil nc
// reports the event stream as disabled rather than degraded.
func RegisterRoutes(app *fiber.App, nc *nats.Conn, st store.Store,
	logger *zap.Logger,
	parser *auth.Parser,
	handler *StorefrontHandler,
) {
	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	// Health check
	app.Get("/health", func(c *fiber.Ctx) error {
		checks := map[string]string{
			"nats":  "ok",
			"store": "ok",
		}
		status := "ok"
		code := fiber.StatusOK

		switch {
		case nc == nil:
			checks["nats"] = "disabled"
		case !nc.IsConnected():
			checks["nats"] = "disconnected"
			status = "degraded"
			code = fiber.StatusServiceUnavailable
		default:
			if err := nc.FlushTimeout(1 * time.Second); err != nil {
				checks["nats"] = err.Error()
				status = "degraded"
				code = fiber.StatusServiceUnavailable
			}
		}

		healthCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := st.HealthCheck(healthCtx); err != nil {
			checks["store"] = err.Error()
			status = "degraded"
			code = fiber.StatusServiceUnavailable
		}

		return c.Status(code).JSON(fiber.Map{
			"status": status,
			"checks": checks,
		})
	})

	authn := Authenticate(parser, logger)

	// Gateway return, reached by browser navigation
	app.Get("/payments/return", authn, handler.PaymentReturn)

	v1 := app.Group("/api/v1", authn)

	v1.Get("/cart", handler.GetCart)
	v1.Delete("/cart", handler.ClearCart)
	v1.Post("/cart/items", handler.AddItem)
	v1.Put("/cart/items/:id", handler.UpdateItem)
	v1.Delete("/cart/items/:id", handler.RemoveItem)

	v1.Get("/orders", handler.ListOrders)
	v1.Post("/orders", handler.CreateOrder)
	v1.Get("/orders/:id", handler.GetOrder)
	v1.Get("/orders/:id/pdf", handler.DownloadProof)
	v1.Get("/orders/:id/payment-status", handler.PaymentStatus)

	v1.Post("/payments/initiate/:orderId", handler.InitiatePayment)
	v1.Get("/payments/verify/:paymentId", handler.VerifyPayment)
	v1.Post("/payments/simulate", handler.SimulatePayment)

	admin := v1.Group("/admin", RequireRole(logger, auth.RoleAdmin, auth.RoleSeller))
	admin.Put("/orders/:id/status", handler.SetOrderStatus)
	admin.Get("/orders/:id/history", handler.OrderHistory)
	admin.Get("/order-statuses", handler.OrderStatuses)
}
