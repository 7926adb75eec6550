package identity

import (
    "fmt"

    "golang.org/x/crypto/bcrypt"
)

// PasswordHasher hashes and verifies user passwords.
type PasswordHasher interface {
    Hash(plaintext string) ([]byte, error)
    // Verify reports whether plaintext matches hash. A nil hash still costs a
    // full comparison so callers can hide whether the user exists.
    Verify(plaintext string, hash []byte) bool
}

// BcryptHasher is the bcrypt-backed PasswordHasher.
type BcryptHasher struct {
    cost  int
    dummy []byte
}

// NewBcryptHasher builds a hasher at the given cost. Out-of-range costs fall
// back to bcrypt.DefaultCost.
func NewBcryptHasher(cost int) (*BcryptHasher, error) {
    if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
        cost = bcrypt.DefaultCost
    }
    dummy, err := bcrypt.GenerateFromPassword([]byte("auth-engine-absent-user"), cost)
    if err != nil {
        return nil, fmt.Errorf("build dummy hash: %w", err)
    }
    return &BcryptHasher{cost: cost, dummy: dummy}, nil
}

// Hash returns a salted bcrypt hash of plaintext.
func (h *BcryptHasher) Hash(plaintext string) ([]byte, error) {
    return bcrypt.GenerateFromPassword([]byte(plaintext), h.cost)
}

// Verify compares in constant time with respect to the hash contents.
func (h *BcryptHasher) Verify(plaintext string, hash []byte) bool {
    if len(hash) == 0 {
        _ = bcrypt.CompareHashAndPassword(h.dummy, []byte(plaintext))
        return false
    }
    return bcrypt.CompareHashAndPassword(hash, []byte(plaintext)) == nil
}
