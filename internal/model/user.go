// Package model defines the data structures used throughout the application.
package model

import "time"

// User is the identity record owned by the repository.
//
// PasswordHash and PendingToken are tagged `json:"-"` so that a User that
// accidentally reaches an encoder still cannot leak them. Handlers should
// send one of the projections below instead of a User.
type User struct {
	ID           string        `json:"id"`
	Name         string        `json:"name"`
	Email        string        `json:"email"`
	PasswordHash string        `json:"-"`
	Verified     bool          `json:"verified"`
	PendingToken *PendingToken `json:"-"`
	CreatedAt    time.Time     `json:"createdAt"`
	UpdatedAt    time.Time     `json:"updatedAt"`
}

// PendingToken is the single-use value mailed to the user, together with the
// instant it stops being accepted. Verification and password reset share it:
// issuing one overwrites the other.
//
// Keeping value and expiry in one optional struct means a user either has
// both or neither.
type PendingToken struct {
	Value     string
	ExpiresAt time.Time
}

// RegisteredUser is returned by registration.
type RegisteredUser struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	CreatedAt time.Time `json:"createdAt"`
}

// UpdatedUser is returned by a profile update.
type UpdatedUser struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// UserSummary is the listing view of a user.
type UserSummary struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	Verified  bool      `json:"verified"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Session is the result of a successful authentication.
type Session struct {
	Token string `json:"token"`
}

// Acknowledgement is a response whose content must not depend on the
// account it was requested for.
type Acknowledgement struct {
	Message string `json:"message"`
}

func (u *User) Registered() *RegisteredUser {
	return &RegisteredUser{
		ID:        u.ID,
		Name:      u.Name,
		Email:     u.Email,
		CreatedAt: u.CreatedAt,
	}
}

func (u *User) Updated() *UpdatedUser {
	return &UpdatedUser{
		ID:        u.ID,
		Name:      u.Name,
		Email:     u.Email,
		UpdatedAt: u.UpdatedAt,
	}
}

func (u *User) Summary() UserSummary {
	return UserSummary{
		ID:        u.ID,
		Name:      u.Name,
		Email:     u.Email,
		Verified:  u.Verified,
		CreatedAt: u.CreatedAt,
		UpdatedAt: u.UpdatedAt,
	}
}
