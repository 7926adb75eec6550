// Package otp issues and consumes six-digit one-time passcodes bound to a
// user's phone number.
//
// A user has at most one active code. Issuing a new code overwrites the old
// one; verifying a code clears it in the same store write that matched it.
package otp

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"math/big"
	"time"

	"github.com/mindwell/auth_engine/internal/identity"
)

const (
	// CodeLength is the number of digits in a code.
	CodeLength = 6
	// DefaultTTL is how long an issued code stays valid.
	DefaultTTL = 10 * time.Minute

	codeMin = 100000
	codeMax = 999999
)

// ErrInvalid is returned for a wrong, expired, superseded or already used code.
var ErrInvalid = errors.New("invalid or expired otp")

// Store is the part of the credential store the engine needs.
type Store interface {
	SetOTP(ctx context.Context, userID, code string, expiresAt time.Time) error
	ClearOTPIfMatch(ctx context.Context, userID, code string) error
	ConsumeOTP(ctx context.Context, phone, code string, now time.Time) (identity.User, error)
}

// Code is an issued passcode.
type Code struct {
	Value     string
	ExpiresAt time.Time
}

// Engine drives the per-user OTP state machine.
type Engine struct {
	store  Store
	ttl    time.Duration
	now    func() time.Time
	random io.Reader
}

// Option customises an Engine.
type Option func(*Engine)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithRandom overrides the entropy source used for codes.
func WithRandom(r io.Reader) Option {
	return func(e *Engine) { e.random = r }
}

// NewEngine builds an engine. A non-positive ttl falls back to DefaultTTL.
func NewEngine(store Store, ttl time.Duration, opts ...Option) *Engine {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	e := &Engine{store: store, ttl: ttl, now: time.Now, random: rand.Reader}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Issue generates a fresh code for the user and stores it, superseding any
// code issued before.
func (e *Engine) Issue(ctx context.Context, userID string) (Code, error) {
	value, err := GenerateCode(e.random)
	if err != nil {
		return Code{}, err
	}
	code := Code{Value: value, ExpiresAt: e.now().UTC().Add(e.ttl)}
	if err := e.store.SetOTP(ctx, userID, code.Value, code.ExpiresAt); err != nil {
		return Code{}, fmt.Errorf("store otp: %w", err)
	}
	return code, nil
}

// Revoke drops code if it is still the user's active one. A newer code
// issued in the meantime survives.
func (e *Engine) Revoke(ctx context.Context, userID, code string) error {
	if err := e.store.ClearOTPIfMatch(ctx, userID, code); err != nil {
		return fmt.Errorf("clear otp: %w", err)
	}
	return nil
}

// Verify consumes the code for phone. Every mismatch is reported as ErrInvalid.
func (e *Engine) Verify(ctx context.Context, phone, code string) (identity.User, error) {
	if !wellFormed(code) {
		return identity.User{}, ErrInvalid
	}
	user, err := e.store.ConsumeOTP(ctx, phone, code, e.now().UTC())
	if err != nil {
		if errors.Is(err, identity.ErrNoActiveOTP) {
			return identity.User{}, ErrInvalid
		}
		return identity.User{}, fmt.Errorf("consume otp: %w", err)
	}
	return user, nil
}

// GenerateCode draws a code uniformly from [100000, 999999].
func GenerateCode(r io.Reader) (string, error) {
	n, err := rand.Int(r, big.NewInt(codeMax-codeMin+1))
	if err != nil {
		return "", fmt.Errorf("generate otp: %w", err)
	}
	return fmt.Sprintf("%06d", n.Int64()+codeMin), nil
}

func wellFormed(code string) bool {
	if len(code) != CodeLength {
		return false
	}
	for i := 0; i < len(code); i++ {
		if code[i] < '0' || code[i] > '9' {
			return false
		}
	}
	return true
}
