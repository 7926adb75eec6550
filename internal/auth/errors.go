package auth

import (
	"errors"
	"net/http"
)

// Kind classifies every failure an auth operation can return.
type Kind int

const (
	KindInternal Kind = iota
	KindValidation
	KindConflict
	KindInvalidCredentials
	KindInvalidOTP
	KindNotFound
	KindUnavailable
)

// Client-facing messages.
const (
	MsgInternal           = "Auth Engine Failure"
	MsgInvalidCredentials = "Invalid Credentials"
	MsgInvalidOTP         = "Invalid or expired OTP"
	MsgEmailTaken         = "Email already registered"
	MsgPhoneTaken         = "Phone number already registered"
	MsgUsernameTaken      = "Username already taken"
	MsgPhoneUnknown       = "No account found with this phone number"
	MsgUserNotFound       = "User not found"
	MsgUnauthorized       = "Unauthorized"
	MsgPasswordTooLong    = "password must be at most 72 bytes long"
	MsgPhoneRequired      = "Phone number is required"
	MsgOTPFieldsRequired  = "Phone and OTP are required"
	MsgInvalidBody        = "Invalid request body"
	MsgValidation         = "Validation failed"
	MsgUnavailable        = "Service temporarily unavailable"
	MsgOTPSent            = "OTP sent successfully"
)

// Error is the tagged result of a failed operation. Message is safe to show
// to clients; Detail is optional extra client-safe context; Err is internal.
type Error struct {
	Kind    Kind
	Message string
	Detail  string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf returns the Kind of err, or KindInternal for untagged errors.
func KindOf(err error) Kind {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Kind
	}
	return KindInternal
}

// HTTPStatus maps a Kind to its response status.
func HTTPStatus(kind Kind) int {
	switch kind {
	case KindValidation, KindConflict, KindInvalidCredentials, KindInvalidOTP:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func newError(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Message: msg}
}
