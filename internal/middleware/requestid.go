package middleware

import (
	"log/slog"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/mindwell/auth_engine/internal/logging"
)

const requestIDHeader = "X-Request-ID"

// RequestID ensures each request has a stable request identifier and puts a
// logger tagged with it on the request context.
func RequestID(logger *slog.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		reqID := c.Get(requestIDHeader)
		if reqID == "" {
			reqID = uuid.NewString()
		}
		c.Set(requestIDHeader, reqID)
		c.Locals(requestIDHeader, reqID)

		if logger != nil {
			scoped := logger.With(slog.String("request_id", reqID))
			c.SetUserContext(logging.IntoContext(c.UserContext(), scoped))
		}

		return c.Next()
	}
}
