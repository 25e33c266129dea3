package auth

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"time"

	"github.com/sakif/identity-service/internal/model"
)

// TokenBytes is the amount of randomness in a pending token. The token is
// its hex encoding, so 64 characters long.
const TokenBytes = 32

// TokenIssuer creates the single-use tokens mailed for email verification
// and password reset.
type TokenIssuer struct {
	now    func() time.Time
	random io.Reader
}

// NewTokenIssuer returns a TokenIssuer reading from crypto/rand. A nil now
// selects time.Now.
func NewTokenIssuer(now func() time.Time) *TokenIssuer {
	if now == nil {
		now = time.Now
	}
	return &TokenIssuer{now: now, random: rand.Reader}
}

// Issue returns a fresh token that expires ttl from now.
func (i *TokenIssuer) Issue(ttl time.Duration) (model.PendingToken, error) {
	if ttl <= 0 {
		return model.PendingToken{}, fmt.Errorf("auth: token TTL must be positive, got %s", ttl)
	}

	b := make([]byte, TokenBytes)
	if _, err := io.ReadFull(i.random, b); err != nil {
		return model.PendingToken{}, fmt.Errorf("auth: generating token: %w", err)
	}

	return model.PendingToken{
		Value:     hex.EncodeToString(b),
		ExpiresAt: i.now().Add(ttl).UTC(),
	}, nil
}
