package routes

import (
    "errors"
    "log/slog"
    "net/http"

    "github.com/gofiber/fiber/v2"

    "github.com/mindwell/auth_engine/internal/auth"
    "github.com/mindwell/auth_engine/internal/logging"
)

// errorBody is the envelope every failure is rendered in.
type errorBody struct {
    Message string `json:"message"`
    Error   string `json:"error,omitempty"`
}

// ErrorHandler renders auth.Error and fiber.Error values. Anything else is an
// internal fault and only ever shows the generic message.
func ErrorHandler(logger *slog.Logger) fiber.ErrorHandler {
    return func(c *fiber.Ctx, err error) error {
        var ae *auth.Error
        if errors.As(err, &ae) {
            status := auth.HTTPStatus(ae.Kind)
            body := errorBody{Message: ae.Message}
            if ae.Kind != auth.KindInternal {
                body.Error = ae.Detail
            }
            return c.Status(status).JSON(body)
        }

        var fe *fiber.Error
        if errors.As(err, &fe) {
            if fe.Code >= http.StatusInternalServerError {
                return c.Status(fe.Code).JSON(errorBody{Message: auth.MsgInternal})
            }
            return c.Status(fe.Code).JSON(errorBody{Message: fe.Message})
        }

        logging.FromContext(c.UserContext(), logger).ErrorContext(c.UserContext(), "unhandled error", "path", c.Path(), "error", err)
        return c.Status(http.StatusInternalServerError).JSON(errorBody{Message: auth.MsgInternal})
    }
}
