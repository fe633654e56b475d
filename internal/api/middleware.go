package api

import (
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/bookbridge/storefront-adapter/internal/auth"
	"github.com/bookbridge/storefront-adapter/pkg/model"
	"github.com/bookbridge/storefront-adapter/pkg/utils"
)

// AccessTokenCookie is the cookie browsers carry the marketplace token in.
const AccessTokenCookie = "access_token"

// Authenticate binds the caller's credential to the request's user context.
// Requests without a usable token continue unauthenticated; each operation
// decides what that means for it (an empty cart, a 401, a login redirect).
func Authenticate(parser *auth.Parser, logger *zap.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		token := auth.ExtractToken(c.Cookies(AccessTokenCookie), c.Get(fiber.HeaderAuthorization))
		if token == "" {
			return c.Next()
		}
		cred, err := parser.Parse(token)
		if err != nil {
			logger.Debug("api.auth.token_rejected",
				zap.String("path", c.Path()),
				zap.String("token", utils.MaskToken(token)),
				zap.Error(err))
			return c.Next()
		}
		c.SetUserContext(auth.WithCredential(c.UserContext(), cred))
		return c.Next()
	}
}

// RequireRole rejects callers whose claims carry none of roles.
func RequireRole(logger *zap.Logger, roles ...string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		cred, ok := auth.FromContext(c.UserContext())
		if !ok {
			return respondError(c, logger, model.ErrUnauthenticated)
		}
		if !cred.HasRole(roles...) {
			logger.Warn("api.auth.forbidden",
				zap.String("actor", cred.ActorKey()),
				zap.String("role", cred.Claims.Role),
				zap.String("path", c.Path()))
			return c.Status(fiber.StatusForbidden).JSON(ErrorResponse{
				Error: "Access denied.",
				Code:  "forbidden",
			})
		}
		return c.Next()
	}
}
