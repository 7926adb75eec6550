package routes

import (
    "github.com/gofiber/fiber/v2"

    "github.com/mindwell/auth_engine/internal/auth"
)

// AuthLimits are the per-route middlewares in front of the auth endpoints.
type AuthLimits struct {
    Login       fiber.Handler
    RequestOTP  fiber.Handler
    Idempotency fiber.Handler
}

// RegisterAuthRoutes wires authentication endpoints.
func RegisterAuthRoutes(r fiber.Router, h *auth.Handler, limits AuthLimits, bearer fiber.Handler) {
    r.Post("/register", chain(limits.Idempotency, h.Register)...)
    r.Post("/login", chain(limits.Login, h.Login)...)
    r.Post("/request-otp", chain(limits.RequestOTP, h.RequestOTP)...)
    r.Post("/verify-otp", h.VerifyOTP)
    r.Get("/me", bearer, h.Me)
}

func chain(mw fiber.Handler, h fiber.Handler) []fiber.Handler {
    if mw == nil {
        return []fiber.Handler{h}
    }
    return []fiber.Handler{mw, h}
}
