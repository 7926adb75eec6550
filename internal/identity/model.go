package identity

import (
	"strings"
	"time"
)

// User is the identity record owned by the credential store.
type User struct {
	ID           string
	Username     string
	Email        string
	Phone        string
	FullName     string
	PasswordHash []byte
	CreatedAt    time.Time

	// OTP sub-state. Zero values mean no code has been issued.
	OTPCode      string
	OTPExpiresAt time.Time
}

// HasPhone reports whether the user registered a phone number.
func (u User) HasPhone() bool {
	return u.Phone != ""
}

// NormalizeEmail lower-cases and trims an address so lookups and uniqueness
// are case-insensitive.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// NormalizePhone trims surrounding whitespace.
func NormalizePhone(phone string) string {
	return strings.TrimSpace(phone)
}
