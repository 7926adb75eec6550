package identity

import "errors"

var (
	// ErrNotFound is returned when no user matches a lookup.
	ErrNotFound = errors.New("user not found")

	ErrEmailTaken    = errors.New("email already registered")
	ErrPhoneTaken    = errors.New("phone already registered")
	ErrUsernameTaken = errors.New("username already taken")

	// ErrNoActiveOTP covers a wrong code, a wrong phone, an expired code and a
	// code that was already consumed or superseded.
	ErrNoActiveOTP = errors.New("no active otp")
)
