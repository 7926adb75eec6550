package middleware

import (
    "errors"
    "net/http"
    "strings"

    "github.com/gofiber/fiber/v2"

    "github.com/mindwell/auth_engine/internal/auth"
)

// BearerAuth validates the session token in the Authorization header and
// stores the user id under auth.LocalUserID.
func BearerAuth(tokens *auth.TokenIssuer) fiber.Handler {
    return func(c *fiber.Ctx) error {
        authz := c.Get(fiber.HeaderAuthorization)
        if !strings.HasPrefix(strings.ToLower(authz), "bearer ") {
            return fiber.NewError(http.StatusUnauthorized, "missing bearer token")
        }
        tokenStr := strings.TrimSpace(authz[len("Bearer "):])
        uid, err := tokens.Validate(tokenStr)
        if err != nil {
            if errors.Is(err, auth.ErrTokenExpired) {
                return fiber.NewError(http.StatusUnauthorized, "token expired")
            }
            return fiber.NewError(http.StatusUnauthorized, "invalid token")
        }

        c.Locals(auth.LocalUserID, uid)
        return c.Next()
    }
}
