// Package repository defines the persistence boundary of the identity
// service. Backends live in subpackages: sqlite, postgres and memory.
package repository

import (
	"context"
	"time"

	"github.com/sakif/identity-service/internal/model"
)

const (
	// DefaultPageSize is used when ListOptions.Limit is not positive.
	DefaultPageSize = 20
	// MaxPageSize caps ListOptions.Limit so one request cannot fetch every row.
	MaxPageSize = 100
)

type ListOptions struct {
	Limit  int
	Offset int
}

// Normalize applies the default and maximum page size and clamps a negative
// offset to zero.
func (o ListOptions) Normalize() ListOptions {
	if o.Limit <= 0 {
		o.Limit = DefaultPageSize
	}
	if o.Limit > MaxPageSize {
		o.Limit = MaxPageSize
	}
	if o.Offset < 0 {
		o.Offset = 0
	}
	return o
}

// UserRepository stores identity records.
//
// Errors are apperror kinds where the caller can act on them: NotFound for a
// missing id or email, Conflict for a duplicate email, Token for a failed
// ConsumeToken. Everything else is an infrastructure error.
type UserRepository interface {
	// Create assigns ID, CreatedAt and UpdatedAt and inserts user.
	Create(ctx context.Context, user *model.User) error
	GetByID(ctx context.Context, id string) (*model.User, error)
	GetByEmail(ctx context.Context, email string) (*model.User, error)
	// GetByPendingToken finds the user holding token, if it is still valid at now.
	GetByPendingToken(ctx context.Context, token string, now time.Time) (*model.User, error)
	// List returns users ordered by creation time, newest first.
	List(ctx context.Context, opts ListOptions) ([]model.User, error)
	// Update applies upd to the user with the given id in one write and
	// returns the stored result.
	Update(ctx context.Context, id string, upd model.UserUpdate) (*model.User, error)
	// ConsumeToken applies upd to the user holding token, but only if that
	// token is still valid at now. The check and the write are one atomic
	// step, so a token can be consumed at most once.
	ConsumeToken(ctx context.Context, token string, now time.Time, upd model.UserUpdate) (*model.User, error)
	Close() error
}

// Assignment is one "column = value" pair of an UPDATE statement.
type Assignment struct {
	Column string
	Value  any
}

// Assignments translates upd into column assignments for the SQL backends.
// Token expiry is stored as Unix nanoseconds; a cleared token writes NULL to
// both token columns. updated_at is left to the caller.
func Assignments(upd model.UserUpdate) []Assignment {
	var set []Assignment
	if upd.Name != nil {
		set = append(set, Assignment{"name", *upd.Name})
	}
	if upd.Email != nil {
		set = append(set, Assignment{"email", *upd.Email})
	}
	if upd.PasswordHash != nil {
		set = append(set, Assignment{"password_hash", *upd.PasswordHash})
	}
	if upd.Verified != nil {
		set = append(set, Assignment{"verified", *upd.Verified})
	}
	switch {
	case upd.SetToken != nil:
		set = append(set,
			Assignment{"pending_token", upd.SetToken.Value},
			Assignment{"token_expires_at", upd.SetToken.ExpiresAt.UnixNano()},
		)
	case upd.ClearToken:
		set = append(set,
			Assignment{"pending_token", nil},
			Assignment{"token_expires_at", nil},
		)
	}
	return set
}
