// Package auth provides the credential primitives of the identity service:
// password hashing, single-use email tokens and signed session tokens.
//
// SESSION FLOW OVERVIEW:
//  1. Client posts email + password to /user/auth
//  2. Service verifies the password hash and issues a session token
//  3. Client sends it back as "Authorization: Bearer <jwt>" (or the "token"
//     cookie) on protected routes
//  4. RequireAuth validates the signature and expiry and puts the user ID
//     in the request context
//
// JWT STRUCTURE (three base64-encoded parts separated by dots):
//
//	HEADER.PAYLOAD.SIGNATURE
//	- Header: algorithm + token type → {"alg":"HS256","typ":"JWT"}
//	- Payload: claims (data) → {"sub":"userID","iss":"identity-service","exp":1234567890}
//	- Signature: HMAC-SHA256(header+"."+payload, secretKey)
//
// The server can verify the signature without any DB lookup, just the secret.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// DefaultSessionTTL is how long a session token stays valid.
const DefaultSessionTTL = 24 * time.Hour

// Issuer is the "iss" claim of every session token.
const Issuer = "identity-service"

// MinSecretLength is the shortest signing secret NewSessionIssuer accepts.
const MinSecretLength = 16

var (
	// ErrSessionExpired is returned by Validate for a token past its "exp".
	ErrSessionExpired = errors.New("auth: session token expired")

	// ErrInvalidSession covers every other reason a token is rejected.
	ErrInvalidSession = errors.New("auth: invalid session token")
)

// SessionIssuer signs and validates HS256 session tokens.
//
// The same secret must be used for both operations. It comes from
// configuration and is never hard-coded.
type SessionIssuer struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewSessionIssuer creates a SessionIssuer. A zero ttl selects
// DefaultSessionTTL.
//
// The secret should be at least 32 bytes of random data in production.
// Example: JWT_SECRET=$(openssl rand -hex 32)
func NewSessionIssuer(secret string, ttl time.Duration) (*SessionIssuer, error) {
	if len(secret) < MinSecretLength {
		return nil, fmt.Errorf("auth: JWT secret must be at least %d characters", MinSecretLength)
	}
	if ttl < 0 {
		return nil, fmt.Errorf("auth: session TTL must be positive, got %s", ttl)
	}
	if ttl == 0 {
		ttl = DefaultSessionTTL
	}
	return &SessionIssuer{secret: []byte(secret), ttl: ttl, now: time.Now}, nil
}

// TTL returns the configured session lifetime.
func (s *SessionIssuer) TTL() time.Duration {
	return s.ttl
}

// claims is the JWT payload. "sub" carries the internal user ID.
type claims struct {
	jwt.RegisteredClaims
}

// Issue creates and signs a session token for userID.
func (s *SessionIssuer) Issue(userID string) (string, error) {
	return s.issue(userID, s.ttl)
}

func (s *SessionIssuer) issue(userID string, ttl time.Duration) (string, error) {
	if userID == "" {
		return "", errors.New("auth: session subject is empty")
	}

	now := s.now()
	c := claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			Issuer:    Issuer,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, c)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("auth: signing token: %w", err)
	}

	return signed, nil
}

// Validate parses and verifies a session token and returns its subject.
//
// VALIDATION CHECKS (performed by the jwt library):
//   - Signature is valid
//   - Token carries an "exp" and it is in the future
//   - Issuer matches Issuer
//   - Algorithm is HS256 (rejects "none" and algorithm confusion)
func (s *SessionIssuer) Validate(tokenStr string) (string, error) {
	token, err := jwt.ParseWithClaims(
		tokenStr,
		&claims{},
		func(token *jwt.Token) (any, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("auth: unexpected signing method: %v", token.Header["alg"])
			}
			return s.secret, nil
		},
		jwt.WithValidMethods([]string{"HS256"}),
		jwt.WithIssuer(Issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return "", ErrSessionExpired
		}
		return "", fmt.Errorf("%w: %w", ErrInvalidSession, err)
	}

	c, ok := token.Claims.(*claims)
	if !ok || !token.Valid {
		return "", ErrInvalidSession
	}
	if c.Subject == "" {
		return "", fmt.Errorf("%w: token has no subject", ErrInvalidSession)
	}

	return c.Subject, nil
}
