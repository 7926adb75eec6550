package auth

import (
    "net/http"

    "github.com/gofiber/fiber/v2"

    "github.com/mindwell/auth_engine/internal/identity"
)

// LocalUserID is the fiber.Ctx local holding the authenticated user id.
const LocalUserID = "user_id"

// Handler exposes the auth operations over HTTP.
type Handler struct {
    svc *Service
}

func NewHandler(svc *Service) *Handler {
    return &Handler{svc: svc}
}

type userResponse struct {
    ID       string  `json:"id"`
    Username string  `json:"username"`
    Email    string  `json:"email"`
    FullName string  `json:"full_name"`
    Phone    *string `json:"phone"`
}

type sessionResponse struct {
    Token string       `json:"token"`
    User  userResponse `json:"user"`
}

type otpResponse struct {
    Message  string `json:"message"`
    DebugOTP string `json:"debug_otp,omitempty"`
}

func toUserResponse(u identity.User) userResponse {
    resp := userResponse{ID: u.ID, Username: u.Username, Email: u.Email, FullName: u.FullName}
    if u.HasPhone() {
        phone := u.Phone
        resp.Phone = &phone
    }
    return resp
}

func toSessionResponse(s Session) sessionResponse {
    return sessionResponse{Token: s.Token, User: toUserResponse(s.User)}
}

// Register handles POST /register.
func (h *Handler) Register(c *fiber.Ctx) error {
    var req RegisterInput
    if err := c.BodyParser(&req); err != nil {
        return &Error{Kind: KindValidation, Message: MsgInvalidBody, Err: err}
    }
    sess, err := h.svc.Register(c.UserContext(), req)
    if err != nil {
        return err
    }
    return c.Status(http.StatusOK).JSON(toSessionResponse(sess))
}

// Login handles POST /login.
func (h *Handler) Login(c *fiber.Ctx) error {
    var req LoginInput
    if err := c.BodyParser(&req); err != nil {
        return &Error{Kind: KindValidation, Message: MsgInvalidBody, Err: err}
    }
    sess, err := h.svc.Login(c.UserContext(), req)
    if err != nil {
        return err
    }
    return c.Status(http.StatusOK).JSON(toSessionResponse(sess))
}

// RequestOTP handles POST /request-otp.
func (h *Handler) RequestOTP(c *fiber.Ctx) error {
    var req OTPRequestInput
    if err := c.BodyParser(&req); err != nil {
        return &Error{Kind: KindValidation, Message: MsgInvalidBody, Err: err}
    }
    res, err := h.svc.RequestOTP(c.UserContext(), req)
    if err != nil {
        return err
    }
    return c.Status(http.StatusOK).JSON(otpResponse{Message: res.Message, DebugOTP: res.DebugCode})
}

// VerifyOTP handles POST /verify-otp.
func (h *Handler) VerifyOTP(c *fiber.Ctx) error {
    var req OTPVerifyInput
    if err := c.BodyParser(&req); err != nil {
        return &Error{Kind: KindValidation, Message: MsgInvalidBody, Err: err}
    }
    sess, err := h.svc.VerifyOTP(c.UserContext(), req)
    if err != nil {
        return err
    }
    return c.Status(http.StatusOK).JSON(toSessionResponse(sess))
}

// Me handles GET /me for a bearer-authenticated request.
func (h *Handler) Me(c *fiber.Ctx) error {
    uid, _ := c.Locals(LocalUserID).(string)
    if uid == "" {
        return fiber.NewError(http.StatusUnauthorized, MsgUnauthorized)
    }
    user, err := h.svc.Me(c.UserContext(), uid)
    if err != nil {
        return err
    }
    return c.JSON(fiber.Map{"user": toUserResponse(user)})
}
