package middleware

import (
	"strings"

	"fleet-console-backend/db/models"
	"fleet-console-backend/token"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

const (
	localsUser        = "user"
	localsAccessToken = "access_token"
)

// ProtectedRoute accepts an access token from the Authorization header or the
// access_token cookie. The verified payload and the raw token are stored in
// Locals for the handlers.
func ProtectedRoute(ctx *AppContext) fiber.Handler {
	logger := ctx.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return func(c *fiber.Ctx) error {
		accessToken := bearerFromHeader(c.Get(fiber.HeaderAuthorization))
		if accessToken == "" {
			accessToken = c.Cookies("access_token")
		}
		if accessToken == "" {
			logger.Debug("No access token provided in request")
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"message": "Unauthorized",
				"error":   "Authentication required",
			})
		}

		payload, err := ctx.PasetoMaker.VerifyToken(accessToken)
		if err != nil {
			logger.Debug("Invalid access token encountered", zap.Error(err))
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"message": "Unauthorized",
				"error":   "Session expired or invalid. Please log in again.",
			})
		}

		c.Locals(localsUser, payload)
		c.Locals(localsAccessToken, accessToken)
		return c.Next()
	}
}

func bearerFromHeader(header string) string {
	const prefix = "bearer "
	if len(header) > len(prefix) && strings.EqualFold(header[:len(prefix)], prefix) {
		return strings.TrimSpace(header[len(prefix):])
	}
	return ""
}

// CurrentPrincipal returns the operator verified by ProtectedRoute.
func CurrentPrincipal(c *fiber.Ctx) (models.Principal, bool) {
	payload, ok := c.Locals(localsUser).(*token.Payload)
	if !ok || payload == nil {
		return models.Principal{}, false
	}
	return payload.Principal(), true
}

// AccessToken returns the raw token the request was authenticated with.
func AccessToken(c *fiber.Ctx) string {
	tok, _ := c.Locals(localsAccessToken).(string)
	return tok
}
