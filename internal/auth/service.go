package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/mindwell/auth_engine/internal/identity"
	"github.com/mindwell/auth_engine/internal/logging"
	"github.com/mindwell/auth_engine/internal/notification"
	"github.com/mindwell/auth_engine/internal/otp"
)

// revokeTimeout bounds the OTP rollback after a failed delivery.
const revokeTimeout = 2 * time.Second

// ServiceDeps wires the collaborators of a Service.
type ServiceDeps struct {
	Users    identity.Repository
	Hasher   identity.PasswordHasher
	OTP      *otp.Engine
	Tokens   *TokenIssuer
	Notifier notification.Notifier
	// ExposeOTP returns issued codes in the Request-OTP result. Only the
	// debug delivery mode sets it.
	ExposeOTP bool
	Logger    *slog.Logger
	Now       func() time.Time
}

// Service implements registration, password login and OTP login.
type Service struct {
	users     identity.Repository
	hasher    identity.PasswordHasher
	otps      *otp.Engine
	tokens    *TokenIssuer
	notifier  notification.Notifier
	exposeOTP bool
	logger    *slog.Logger
	validate  *validator.Validate
	now       func() time.Time
}

// NewService builds the authentication service.
func NewService(deps ServiceDeps) *Service {
	logger := deps.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	notifier := deps.Notifier
	if notifier == nil {
		notifier = notification.NewLoggerNotifier(logger)
	}
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	return &Service{
		users:     deps.Users,
		hasher:    deps.Hasher,
		otps:      deps.OTP,
		tokens:    deps.Tokens,
		notifier:  notifier,
		exposeOTP: deps.ExposeOTP,
		logger:    logger,
		validate:  newValidator(),
		now:       now,
	}
}

// RegisterInput is the body of POST /register.
type RegisterInput struct {
	Username string `json:"username" validate:"required,min=3,max=32"`
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=6"`
	FullName string `json:"full_name" validate:"required"`
	Phone    string `json:"phone" validate:"omitempty,phone"`
}

// LoginInput is the body of POST /login.
type LoginInput struct {
	Email    string `json:"email" validate:"required"`
	Password string `json:"password" validate:"required"`
}

// OTPRequestInput is the body of POST /request-otp.
type OTPRequestInput struct {
	Phone string `json:"phone"`
}

// OTPVerifyInput is the body of POST /verify-otp.
type OTPVerifyInput struct {
	Phone string `json:"phone"`
	OTP   string `json:"otp"`
}

// Session is a successful authentication: the user and a signed token.
type Session struct {
	User      identity.User
	Token     string
	ExpiresAt time.Time
}

// OTPRequestResult is returned by RequestOTP. DebugCode is empty unless the
// service exposes codes.
type OTPRequestResult struct {
	Message   string
	DebugCode string
}

// Register creates a user and returns a session for it.
func (s *Service) Register(ctx context.Context, in RegisterInput) (Session, error) {
	in.Username = strings.TrimSpace(in.Username)
	in.FullName = strings.TrimSpace(in.FullName)
	in.Email = identity.NormalizeEmail(in.Email)
	in.Phone = identity.NormalizePhone(in.Phone)
	if err := s.validate.StructCtx(ctx, in); err != nil {
		return Session{}, validationError(err)
	}
	if len(in.Password) > maxPasswordBytes {
		return Session{}, &Error{Kind: KindValidation, Message: MsgValidation, Detail: MsgPasswordTooLong}
	}

	if err := s.ensureFree(ctx, s.users.FindByEmail, in.Email, MsgEmailTaken); err != nil {
		return Session{}, err
	}
	if in.Phone != "" {
		if err := s.ensureFree(ctx, s.users.FindByPhone, in.Phone, MsgPhoneTaken); err != nil {
			return Session{}, err
		}
	}

	hash, err := s.hasher.Hash(in.Password)
	if err != nil {
		return Session{}, s.fault(ctx, "hash password", err)
	}

	user := identity.User{
		ID:           uuid.NewString(),
		Username:     in.Username,
		Email:        in.Email,
		Phone:        in.Phone,
		FullName:     in.FullName,
		PasswordHash: hash,
		CreatedAt:    s.now().UTC(),
	}
	// Sign before writing so a signing failure leaves no user behind.
	token, exp, err := s.tokens.Issue(user.ID)
	if err != nil {
		return Session{}, s.fault(ctx, "sign token", err)
	}

	if err := s.users.Create(ctx, user); err != nil {
		switch {
		case errors.Is(err, identity.ErrEmailTaken):
			return Session{}, &Error{Kind: KindConflict, Message: MsgEmailTaken, Err: err}
		case errors.Is(err, identity.ErrPhoneTaken):
			return Session{}, &Error{Kind: KindConflict, Message: MsgPhoneTaken, Err: err}
		case errors.Is(err, identity.ErrUsernameTaken):
			return Session{}, &Error{Kind: KindConflict, Message: MsgUsernameTaken, Err: err}
		}
		return Session{}, s.fault(ctx, "create user", err)
	}

	logging.FromContext(ctx, s.logger).InfoContext(ctx, "user registered", "user_id", user.ID)
	return Session{User: user, Token: token, ExpiresAt: exp}, nil
}

// Login authenticates by email and password. An unknown email and a wrong
// password produce the same error and both pay for one bcrypt comparison.
func (s *Service) Login(ctx context.Context, in LoginInput) (Session, error) {
	in.Email = identity.NormalizeEmail(in.Email)
	if err := s.validate.StructCtx(ctx, in); err != nil {
		return Session{}, validationError(err)
	}

	user, err := s.users.FindByEmail(ctx, in.Email)
	switch {
	case errors.Is(err, identity.ErrNotFound):
		s.hasher.Verify(in.Password, nil)
		return Session{}, newError(KindInvalidCredentials, MsgInvalidCredentials)
	case err != nil:
		return Session{}, s.fault(ctx, "find user by email", err)
	}
	if !s.hasher.Verify(in.Password, user.PasswordHash) {
		return Session{}, newError(KindInvalidCredentials, MsgInvalidCredentials)
	}

	return s.session(ctx, user)
}

// RequestOTP issues a fresh code for the account owning phone and delivers
// it through the notifier. A new code supersedes any active one.
func (s *Service) RequestOTP(ctx context.Context, in OTPRequestInput) (OTPRequestResult, error) {
	phone := identity.NormalizePhone(in.Phone)
	if phone == "" {
		return OTPRequestResult{}, newError(KindValidation, MsgPhoneRequired)
	}

	user, err := s.users.FindByPhone(ctx, phone)
	switch {
	case errors.Is(err, identity.ErrNotFound):
		return OTPRequestResult{}, newError(KindNotFound, MsgPhoneUnknown)
	case err != nil:
		return OTPRequestResult{}, s.fault(ctx, "find user by phone", err)
	}

	code, err := s.otps.Issue(ctx, user.ID)
	if err != nil {
		return OTPRequestResult{}, s.fault(ctx, "issue otp", err)
	}

	msg := notification.Message{
		Kind:        notification.KindOTP,
		Destination: phone,
		Body:        fmt.Sprintf("Your verification code is %s. It expires at %s.", code.Value, code.ExpiresAt.Format(time.Kitchen+" MST")),
	}
	if err := s.notifier.Send(ctx, msg); err != nil {
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), revokeTimeout)
		defer cancel()
		if rerr := s.otps.Revoke(rctx, user.ID, code.Value); rerr != nil {
			logging.FromContext(ctx, s.logger).ErrorContext(ctx, "revoke undelivered otp", "user_id", user.ID, "error", rerr)
		}
		if errors.Is(err, notification.ErrUnavailable) {
			logging.FromContext(ctx, s.logger).WarnContext(ctx, "otp delivery unavailable", "user_id", user.ID, "error", err)
			return OTPRequestResult{}, &Error{Kind: KindUnavailable, Message: MsgUnavailable, Err: err}
		}
		return OTPRequestResult{}, s.fault(ctx, "deliver otp", err)
	}

	res := OTPRequestResult{Message: MsgOTPSent}
	if s.exposeOTP {
		res.DebugCode = code.Value
	}
	return res, nil
}

// VerifyOTP consumes a code and returns a session. Wrong code, wrong phone,
// expired, superseded and reused codes all fail with KindInvalidOTP.
func (s *Service) VerifyOTP(ctx context.Context, in OTPVerifyInput) (Session, error) {
	phone := identity.NormalizePhone(in.Phone)
	code := strings.TrimSpace(in.OTP)
	if phone == "" || code == "" {
		return Session{}, newError(KindValidation, MsgOTPFieldsRequired)
	}

	owner, err := s.users.FindByPhone(ctx, phone)
	switch {
	case errors.Is(err, identity.ErrNotFound):
		return Session{}, newError(KindInvalidOTP, MsgInvalidOTP)
	case err != nil:
		return Session{}, s.fault(ctx, "find user by phone", err)
	}
	// Sign first so a consumed code is always paired with a returned token.
	token, exp, err := s.tokens.Issue(owner.ID)
	if err != nil {
		return Session{}, s.fault(ctx, "sign token", err)
	}

	user, err := s.otps.Verify(ctx, phone, code)
	switch {
	case errors.Is(err, otp.ErrInvalid):
		return Session{}, newError(KindInvalidOTP, MsgInvalidOTP)
	case err != nil:
		return Session{}, s.fault(ctx, "verify otp", err)
	}
	if user.ID != owner.ID {
		return s.session(ctx, user)
	}
	return Session{User: user, Token: token, ExpiresAt: exp}, nil
}

// Me returns the user a validated token belongs to.
func (s *Service) Me(ctx context.Context, userID string) (identity.User, error) {
	user, err := s.users.FindByID(ctx, userID)
	switch {
	case errors.Is(err, identity.ErrNotFound):
		return identity.User{}, newError(KindNotFound, MsgUserNotFound)
	case err != nil:
		return identity.User{}, s.fault(ctx, "find user by id", err)
	}
	return user, nil
}

// Tokens exposes the issuer for the bearer middleware.
func (s *Service) Tokens() *TokenIssuer { return s.tokens }

func (s *Service) session(ctx context.Context, user identity.User) (Session, error) {
	token, exp, err := s.tokens.Issue(user.ID)
	if err != nil {
		return Session{}, s.fault(ctx, "sign token", err)
	}
	return Session{User: user, Token: token, ExpiresAt: exp}, nil
}

func (s *Service) ensureFree(ctx context.Context, find func(context.Context, string) (identity.User, error), key, takenMsg string) error {
	_, err := find(ctx, key)
	switch {
	case err == nil:
		return newError(KindConflict, takenMsg)
	case errors.Is(err, identity.ErrNotFound):
		return nil
	default:
		return s.fault(ctx, "uniqueness check", err)
	}
}

// fault classifies an unexpected error. Deadline and cancellation become a
// retryable KindUnavailable; anything else is logged and hidden as internal.
func (s *Service) fault(ctx context.Context, op string, err error) *Error {
	logger := logging.FromContext(ctx, s.logger)
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) || ctx.Err() != nil {
		logger.WarnContext(ctx, "auth operation timed out", "op", op, "error", err)
		return &Error{Kind: KindUnavailable, Message: MsgUnavailable, Err: err}
	}
	logger.ErrorContext(ctx, "auth operation failed", "op", op, "error", err)
	return &Error{Kind: KindInternal, Message: MsgInternal, Err: err}
}
