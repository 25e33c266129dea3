package auth

import (
	"bytes"
	"errors"
	"regexp"
	"testing"
	"time"
)

var hexToken = regexp.MustCompile(`^[0-9a-f]{64}$`)

func TestTokenIssuer_Issue(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	issuer := NewTokenIssuer(func() time.Time { return now })

	tok, err := issuer.Issue(24 * time.Hour)
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}
	if !hexToken.MatchString(tok.Value) {
		t.Errorf("Issue() value = %q, want 64 lowercase hex chars", tok.Value)
	}
	if want := now.Add(24 * time.Hour); !tok.ExpiresAt.Equal(want) {
		t.Errorf("ExpiresAt = %v, want %v", tok.ExpiresAt, want)
	}
}

func TestTokenIssuer_Unique(t *testing.T) {
	issuer := NewTokenIssuer(nil)
	seen := make(map[string]bool)

	for range 1000 {
		tok, err := issuer.Issue(time.Hour)
		if err != nil {
			t.Fatalf("Issue() error = %v", err)
		}
		if seen[tok.Value] {
			t.Fatalf("Issue() repeated value %q", tok.Value)
		}
		seen[tok.Value] = true
	}
}

func TestTokenIssuer_RejectsNonPositiveTTL(t *testing.T) {
	issuer := NewTokenIssuer(nil)

	for _, ttl := range []time.Duration{0, -time.Second} {
		if _, err := issuer.Issue(ttl); err == nil {
			t.Errorf("Issue(%s) should fail", ttl)
		}
	}
}

func TestTokenIssuer_RandomSourceFailure(t *testing.T) {
	issuer := NewTokenIssuer(nil)
	issuer.random = bytes.NewReader([]byte{1, 2, 3})

	_, err := issuer.Issue(time.Hour)
	if err == nil {
		t.Fatal("Issue() should fail when the random source runs dry")
	}
	if errors.Unwrap(err) == nil {
		t.Error("Issue() should wrap the underlying read error")
	}
}
