package auth

import (
    "errors"
    "fmt"
    "time"

    "github.com/golang-jwt/jwt/v5"
)

// DefaultTokenTTL is the validity window of a session token.
const DefaultTokenTTL = 7 * 24 * time.Hour

var (
    ErrInvalidToken = errors.New("invalid token")
    ErrTokenExpired = errors.New("token expired")
)

// TokenConfig is the process-wide signing configuration.
type TokenConfig struct {
    Secret []byte
    TTL    time.Duration
    // Now overrides the clock; nil means time.Now.
    Now func() time.Time
}

// SessionUser is the identity carried inside a token.
type SessionUser struct {
    ID string `json:"id"`
}

// Claims is the signed payload: {"user": {"id": ...}} plus iat/exp.
type Claims struct {
    User SessionUser `json:"user"`
    jwt.RegisteredClaims
}

// TokenIssuer mints and validates HS256 session tokens.
type TokenIssuer struct {
    secret []byte
    ttl    time.Duration
    now    func() time.Time
}

// NewTokenIssuer validates cfg and builds an issuer.
func NewTokenIssuer(cfg TokenConfig) (*TokenIssuer, error) {
    if len(cfg.Secret) == 0 {
        return nil, errors.New("token secret is required")
    }
    ttl := cfg.TTL
    if ttl <= 0 {
        ttl = DefaultTokenTTL
    }
    now := cfg.Now
    if now == nil {
        now = time.Now
    }
    secret := make([]byte, len(cfg.Secret))
    copy(secret, cfg.Secret)
    return &TokenIssuer{secret: secret, ttl: ttl, now: now}, nil
}

// Issue signs a token for userID and returns it with its expiry.
func (i *TokenIssuer) Issue(userID string) (string, time.Time, error) {
    if userID == "" {
        return "", time.Time{}, errors.New("user id is required")
    }
    now := i.now()
    exp := now.Add(i.ttl)
    token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
        User: SessionUser{ID: userID},
        RegisteredClaims: jwt.RegisteredClaims{
            Subject:   userID,
            IssuedAt:  jwt.NewNumericDate(now),
            ExpiresAt: jwt.NewNumericDate(exp),
        },
    })
    signed, err := token.SignedString(i.secret)
    if err != nil {
        return "", time.Time{}, fmt.Errorf("sign token: %w", err)
    }
    return signed, exp, nil
}

// Validate checks signature, algorithm and expiry and returns the user id.
func (i *TokenIssuer) Validate(tokenString string) (string, error) {
    claims := &Claims{}
    token, err := jwt.ParseWithClaims(tokenString, claims, func(*jwt.Token) (any, error) {
        return i.secret, nil
    },
        jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
        jwt.WithExpirationRequired(),
        jwt.WithTimeFunc(i.now),
    )
    if err != nil {
        if errors.Is(err, jwt.ErrTokenExpired) {
            return "", ErrTokenExpired
        }
        return "", ErrInvalidToken
    }
    if !token.Valid || claims.User.ID == "" {
        return "", ErrInvalidToken
    }
    return claims.User.ID, nil
}
