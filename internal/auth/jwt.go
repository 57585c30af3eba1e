// Package auth holds the building blocks of vidshare sessions: signed
// session tokens, password hashing, the request middleware that turns a
// token back into a user, and the optional GitHub OAuth provider.
//
// SESSION FLOW:
//  1. POST /auth/login checks the password and calls TokenService.Generate
//  2. The token goes back in the JSON body AND in an HttpOnly "token" cookie
//  3. API clients send "Authorization: Bearer <token>", browsers send the cookie
//  4. RequireAuth validates the token, loads the user and puts it in the context
//
// Tokens are stateless HS256 JWTs. Nothing is stored server-side, so a
// token stays valid until it expires even if the user logs out; logout only
// clears the cookie.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	// Issuer is written into every token and required on validation, so a
	// token minted by another service sharing the secret is rejected.
	Issuer = "vidshare"

	// DefaultSessionTTL matches the lifetime of the login cookie.
	DefaultSessionTTL = 24 * time.Hour
)

var ErrTokenExpired = errors.New("auth: token expired")

// TokenService signs and validates session tokens with one HMAC secret.
type TokenService struct {
	secret []byte
	ttl    time.Duration
}

// NewTokenService creates a TokenService whose tokens live for ttl.
// A zero ttl means DefaultSessionTTL.
func NewTokenService(secret string, ttl time.Duration) (*TokenService, error) {
	if len(secret) < 16 {
		return nil, errors.New("auth: JWT secret must be at least 16 characters")
	}
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	return &TokenService{secret: []byte(secret), ttl: ttl}, nil
}

// TTL is how long freshly generated tokens stay valid. The login handler
// uses it as the cookie Max-Age.
func (s *TokenService) TTL() time.Duration {
	return s.ttl
}

// Generate issues a session token for userID with the configured lifetime.
func (s *TokenService) Generate(userID string) (string, error) {
	return s.GenerateWithDuration(userID, s.ttl)
}

// GenerateWithDuration issues a token with an explicit lifetime.
// A negative duration yields an already-expired token, which tests use.
func (s *TokenService) GenerateWithDuration(userID string, d time.Duration) (string, error) {
	now := time.Now()

	c := jwt.RegisteredClaims{
		Subject:   userID,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(d)),
		Issuer:    Issuer,
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("auth: signing token: %w", err)
	}
	return signed, nil
}

// Validate verifies a token and returns the user ID from its subject.
//
// CHECKS (all enforced by jwt.ParseWithClaims with the options below):
//   - HS256 signature made with our secret (no "alg: none" tricks)
//   - exp present and in the future
//   - iss equal to Issuer
//
// Expired tokens return an error wrapping ErrTokenExpired so callers can
// tell "log in again" apart from "this was never a token".
func (s *TokenService) Validate(tokenStr string) (string, error) {
	var c jwt.RegisteredClaims
	token, err := jwt.ParseWithClaims(
		tokenStr,
		&c,
		func(token *jwt.Token) (any, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("auth: unexpected signing method: %v", token.Header["alg"])
			}
			return s.secret, nil
		},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(Issuer),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return "", ErrTokenExpired
		}
		return "", fmt.Errorf("auth: invalid token: %w", err)
	}
	if !token.Valid {
		return "", errors.New("auth: invalid token claims")
	}
	if c.Subject == "" {
		return "", errors.New("auth: token has no subject")
	}
	return c.Subject, nil
}
