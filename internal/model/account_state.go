package model

import (
	"crypto/subtle"
	"errors"
	"time"
)

// AccountState is the verification state of an account.
//
// STATE MACHINE:
//
//	Unverified --(consume valid token in the verification flow)--> Verified
//	Verified   --(email changed)----------------------------------> Unverified
//
// A failed or expired token attempt leaves the state unchanged. Password
// reset is token bookkeeping and does not move the account between states.
type AccountState string

const (
	StateUnverified AccountState = "unverified"
	StateVerified   AccountState = "verified"
)

// State returns the current state of the account.
func (u *User) State() AccountState {
	if u.Verified {
		return StateVerified
	}
	return StateUnverified
}

// ValidAt reports whether the token is still accepted at now. The expiry
// instant itself is already outside the window.
func (t *PendingToken) ValidAt(now time.Time) bool {
	return t != nil && now.Before(t.ExpiresAt)
}

// Accepts is the guard shared by every token-consuming transition: a token
// must be present, unexpired and equal to the presented value.
func (t *PendingToken) Accepts(presented string, now time.Time) bool {
	if t == nil || presented == "" || !t.ValidAt(now) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(t.Value), []byte(presented)) == 1
}

// ErrTokenConflict is returned by UserUpdate.Validate when an update both
// sets and clears the pending token.
var ErrTokenConflict = errors.New("model: update cannot both set and clear the pending token")

// UserUpdate enumerates every field a transition may change. Nil pointers are
// left untouched. Repositories apply an update in one write.
type UserUpdate struct {
	Name         *string
	Email        *string
	PasswordHash *string
	Verified     *bool

	// SetToken replaces any pending token; ClearToken removes it.
	SetToken   *PendingToken
	ClearToken bool
}

// Validate checks that the update keeps the token pair consistent.
func (u UserUpdate) Validate() error {
	if u.SetToken != nil && u.ClearToken {
		return ErrTokenConflict
	}
	return nil
}

// IsEmpty reports whether applying the update would change nothing.
func (u UserUpdate) IsEmpty() bool {
	return u.Name == nil && u.Email == nil && u.PasswordHash == nil &&
		u.Verified == nil && u.SetToken == nil && !u.ClearToken
}

// Apply mutates user in place. It does not touch timestamps; those belong to
// the repository.
func (u UserUpdate) Apply(user *User) {
	if u.Name != nil {
		user.Name = *u.Name
	}
	if u.Email != nil {
		user.Email = *u.Email
	}
	if u.PasswordHash != nil {
		user.PasswordHash = *u.PasswordHash
	}
	if u.Verified != nil {
		user.Verified = *u.Verified
	}
	if u.SetToken != nil {
		tok := *u.SetToken
		user.PendingToken = &tok
	}
	if u.ClearToken {
		user.PendingToken = nil
	}
}

// Merge returns u with every field set in other copied over it.
func (u UserUpdate) Merge(other UserUpdate) UserUpdate {
	if other.Name != nil {
		u.Name = other.Name
	}
	if other.Email != nil {
		u.Email = other.Email
	}
	if other.PasswordHash != nil {
		u.PasswordHash = other.PasswordHash
	}
	if other.Verified != nil {
		u.Verified = other.Verified
	}
	if other.SetToken != nil {
		u.SetToken = other.SetToken
		u.ClearToken = false
	}
	if other.ClearToken {
		u.ClearToken = true
		u.SetToken = nil
	}
	return u
}

// VerifyEmail is the Unverified -> Verified transition. Callers apply it
// only after the Accepts guard has passed, atomically with that check.
func VerifyEmail() UserUpdate {
	return UserUpdate{
		Verified:   ptr(true),
		ClearToken: true,
	}
}

// ChangeEmail stores newEmail and moves the account back to Unverified.
// Supplying the current address unverifies it too. No new verification
// token is issued here.
func ChangeEmail(newEmail string) UserUpdate {
	return UserUpdate{
		Email:    ptr(newEmail),
		Verified: ptr(false),
	}
}

// IssueToken stores a fresh pending token, overwriting any previous one
// regardless of which flow issued it.
func IssueToken(tok PendingToken) UserUpdate {
	return UserUpdate{SetToken: &tok}
}

// ResetPassword replaces the password hash and consumes the pending token.
// Verification state is left as it is.
func ResetPassword(passwordHash string) UserUpdate {
	return UserUpdate{
		PasswordHash: ptr(passwordHash),
		ClearToken:   true,
	}
}

func ptr[T any](v T) *T {
	return &v
}
