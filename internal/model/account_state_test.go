package model

import (
	"errors"
	"testing"
	"time"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func TestPendingToken_ValidAt(t *testing.T) {
	tok := &PendingToken{Value: "abc", ExpiresAt: t0}

	tests := []struct {
		name string
		tok  *PendingToken
		now  time.Time
		want bool
	}{
		{"before expiry", tok, t0.Add(-time.Nanosecond), true},
		{"exactly at expiry", tok, t0, false},
		{"after expiry", tok, t0.Add(time.Second), false},
		{"nil token", nil, t0.Add(-time.Hour), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.tok.ValidAt(tt.now); got != tt.want {
				t.Errorf("ValidAt(%v) = %v, want %v", tt.now, got, tt.want)
			}
		})
	}
}

func TestPendingToken_Accepts(t *testing.T) {
	tok := &PendingToken{Value: "deadbeef", ExpiresAt: t0}
	before := t0.Add(-time.Minute)

	tests := []struct {
		name      string
		tok       *PendingToken
		presented string
		now       time.Time
		want      bool
	}{
		{"matching and unexpired", tok, "deadbeef", before, true},
		{"wrong value", tok, "deadbeee", before, false},
		{"prefix of value", tok, "dead", before, false},
		{"empty presented value", tok, "", before, false},
		{"expired", tok, "deadbeef", t0, false},
		{"no pending token", nil, "deadbeef", before, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.tok.Accepts(tt.presented, tt.now); got != tt.want {
				t.Errorf("Accepts(%q) = %v, want %v", tt.presented, got, tt.want)
			}
		})
	}
}

func TestState(t *testing.T) {
	u := &User{}
	if u.State() != StateUnverified {
		t.Fatalf("new user state = %q, want %q", u.State(), StateUnverified)
	}

	u.PendingToken = &PendingToken{Value: "tok", ExpiresAt: t0}
	VerifyEmail().Apply(u)

	if u.State() != StateVerified {
		t.Errorf("state after VerifyEmail = %q, want %q", u.State(), StateVerified)
	}
	if u.PendingToken != nil {
		t.Error("VerifyEmail should clear the pending token")
	}
}

func TestChangeEmail(t *testing.T) {
	t.Run("different address unverifies", func(t *testing.T) {
		u := &User{Email: "ana@x.com", Verified: true}

		ChangeEmail("ana@y.com").Apply(u)

		if u.Email != "ana@y.com" {
			t.Errorf("Email = %q, want %q", u.Email, "ana@y.com")
		}
		if u.Verified {
			t.Error("Verified should be false after an email change")
		}
	})

	t.Run("already unverified stays unverified", func(t *testing.T) {
		u := &User{Email: "ana@x.com"}

		ChangeEmail("ana@y.com").Apply(u)

		if u.State() != StateUnverified {
			t.Errorf("state = %q, want %q", u.State(), StateUnverified)
		}
	})

	t.Run("same address still unverifies", func(t *testing.T) {
		u := &User{Email: "ana@x.com", Verified: true}

		ChangeEmail("ana@x.com").Apply(u)

		if u.Email != "ana@x.com" {
			t.Errorf("Email = %q, want %q", u.Email, "ana@x.com")
		}
		if u.State() != StateUnverified {
			t.Errorf("state = %q, want %q", u.State(), StateUnverified)
		}
	})
}

func TestIssueToken_OverwritesPendingToken(t *testing.T) {
	u := &User{PendingToken: &PendingToken{Value: "verify", ExpiresAt: t0.Add(24 * time.Hour)}}

	IssueToken(PendingToken{Value: "reset", ExpiresAt: t0.Add(time.Hour)}).Apply(u)

	if u.PendingToken == nil || u.PendingToken.Value != "reset" {
		t.Fatalf("PendingToken = %+v, want the reset token", u.PendingToken)
	}
	if !u.PendingToken.ExpiresAt.Equal(t0.Add(time.Hour)) {
		t.Errorf("ExpiresAt = %v, want %v", u.PendingToken.ExpiresAt, t0.Add(time.Hour))
	}
}

func TestResetPassword_KeepsVerification(t *testing.T) {
	for _, verified := range []bool{true, false} {
		u := &User{
			PasswordHash: "old",
			Verified:     verified,
			PendingToken: &PendingToken{Value: "reset", ExpiresAt: t0},
		}

		ResetPassword("new").Apply(u)

		if u.PasswordHash != "new" {
			t.Errorf("PasswordHash = %q, want %q", u.PasswordHash, "new")
		}
		if u.PendingToken != nil {
			t.Error("ResetPassword should clear the pending token")
		}
		if u.Verified != verified {
			t.Errorf("Verified = %v, want unchanged %v", u.Verified, verified)
		}
	}
}

func TestUserUpdate_Validate(t *testing.T) {
	bad := UserUpdate{SetToken: &PendingToken{Value: "x"}, ClearToken: true}
	if err := bad.Validate(); !errors.Is(err, ErrTokenConflict) {
		t.Errorf("Validate() = %v, want ErrTokenConflict", err)
	}

	if err := VerifyEmail().Validate(); err != nil {
		t.Errorf("VerifyEmail().Validate() = %v, want nil", err)
	}
}

func TestUserUpdate_Merge(t *testing.T) {
	name := "Ana B"
	upd := UserUpdate{Name: &name}

	merged := upd.Merge(ChangeEmail("b@x.com"))

	if merged.Name == nil || *merged.Name != "Ana B" {
		t.Error("Merge() dropped the name")
	}
	if merged.Email == nil || *merged.Email != "b@x.com" {
		t.Error("Merge() dropped the email")
	}
	if merged.Verified == nil || *merged.Verified {
		t.Error("Merge() should carry Verified=false from the email change")
	}

	cleared := IssueToken(PendingToken{Value: "x"}).Merge(UserUpdate{ClearToken: true})
	if cleared.SetToken != nil || !cleared.ClearToken {
		t.Error("a later ClearToken should win over an earlier SetToken")
	}
}

func TestProjectionsOmitSecrets(t *testing.T) {
	u := &User{
		ID:           "id1",
		Name:         "Ana",
		Email:        "ana@x.com",
		PasswordHash: "$2a$04$secret",
		PendingToken: &PendingToken{Value: "tok", ExpiresAt: t0},
		CreatedAt:    t0,
		UpdatedAt:    t0,
	}

	r := u.Registered()
	if r.ID != "id1" || r.Name != "Ana" || r.Email != "ana@x.com" || !r.CreatedAt.Equal(t0) {
		t.Errorf("Registered() = %+v", r)
	}
	up := u.Updated()
	if up.ID != "id1" || !up.UpdatedAt.Equal(t0) {
		t.Errorf("Updated() = %+v", up)
	}
	s := u.Summary()
	if s.Verified || s.Email != "ana@x.com" {
		t.Errorf("Summary() = %+v", s)
	}
}
