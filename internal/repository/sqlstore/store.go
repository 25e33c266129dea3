// Package sqlstore implements repository.UserRepository on top of
// database/sql. The sqlite and postgres packages open the connection pool,
// run their migrations and hand it here together with a Dialect.
//
// DATABASE/SQL RECAP:
//   - sql.DB     : a connection pool (NOT a single connection!)
//   - sql.Row    : a single result row; Scan returns sql.ErrNoRows if empty
//   - sql.Rows   : multiple result rows (must be closed!)
//
// TOKEN CONSUMPTION:
// ConsumeToken is one UPDATE whose WHERE clause carries the guard:
//
//	UPDATE users SET ... WHERE pending_token = ? AND token_expires_at > ? RETURNING ...
//
// The database serializes writers to the row, so of two concurrent requests
// presenting the same token exactly one sees a returned row. The other gets
// sql.ErrNoRows and an invalid-token error.
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/xid"
	"github.com/sakif/identity-service/internal/apperror"
	"github.com/sakif/identity-service/internal/model"
	"github.com/sakif/identity-service/internal/repository"
)

var _ repository.UserRepository = (*Store)(nil)

// Dialect holds what differs between SQL engines.
type Dialect struct {
	// Name prefixes wrapped errors, e.g. "sqlite: getting user ...".
	Name string
	// Placeholder returns the bind parameter for the n-th argument (1-based).
	Placeholder func(n int) string
	// IsUniqueViolation reports whether err is a unique-constraint failure.
	IsUniqueViolation func(err error) bool
}

// QuestionMark is the placeholder style of SQLite and MySQL.
func QuestionMark(int) string { return "?" }

// Dollar is the PostgreSQL placeholder style: $1, $2, ...
func Dollar(n int) string { return fmt.Sprintf("$%d", n) }

// Store is a UserRepository backed by a *sql.DB. It owns the pool and
// closes it in Close.
type Store struct {
	db      *sql.DB
	dialect Dialect
	now     func() time.Time
}

// New wraps an open, migrated pool.
func New(db *sql.DB, dialect Dialect) *Store {
	return &Store{db: db, dialect: dialect, now: time.Now}
}

// DB exposes the pool for health checks.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Close closes the database connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

const userColumns = `id, name, email, password_hash, verified, pending_token, token_expires_at, created_at, updated_at`

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (*model.User, error) {
	var (
		u       model.User
		token   sql.NullString
		expires sql.NullInt64
	)
	err := row.Scan(
		&u.ID,
		&u.Name,
		&u.Email,
		&u.PasswordHash,
		&u.Verified,
		&token,
		&expires,
		&u.CreatedAt,
		&u.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if token.Valid && expires.Valid {
		u.PendingToken = &model.PendingToken{
			Value:     token.String,
			ExpiresAt: time.Unix(0, expires.Int64).UTC(),
		}
	}
	u.CreatedAt = u.CreatedAt.UTC()
	u.UpdatedAt = u.UpdatedAt.UTC()
	return &u, nil
}

// args collects bind parameters and renders their placeholders.
type args struct {
	placeholder func(int) string
	values      []any
}

func (a *args) add(v any) string {
	a.values = append(a.values, v)
	return a.placeholder(len(a.values))
}

func (s *Store) wrap(action string, err error) error {
	return fmt.Errorf("%s: %s: %w", s.dialect.Name, action, err)
}

func duplicateEmail() *apperror.AppError {
	return apperror.Conflict("email", "email is already registered")
}

// Create inserts a new user. ID and timestamps are assigned here, on the
// caller's struct.
func (s *Store) Create(ctx context.Context, user *model.User) error {
	now := s.now().UTC()
	user.ID = xid.New().String()
	user.CreatedAt = now
	user.UpdatedAt = now

	var (
		token   sql.NullString
		expires sql.NullInt64
	)
	if user.PendingToken != nil {
		token = sql.NullString{String: user.PendingToken.Value, Valid: true}
		expires = sql.NullInt64{Int64: user.PendingToken.ExpiresAt.UnixNano(), Valid: true}
	}

	a := &args{placeholder: s.dialect.Placeholder}
	query := fmt.Sprintf(
		`INSERT INTO users (%s) VALUES (%s, %s, %s, %s, %s, %s, %s, %s, %s)`,
		userColumns,
		a.add(user.ID),
		a.add(user.Name),
		a.add(user.Email),
		a.add(user.PasswordHash),
		a.add(user.Verified),
		a.add(token),
		a.add(expires),
		a.add(user.CreatedAt),
		a.add(user.UpdatedAt),
	)

	if _, err := s.db.ExecContext(ctx, query, a.values...); err != nil {
		if s.dialect.IsUniqueViolation(err) {
			return duplicateEmail()
		}
		return s.wrap("creating user", err)
	}

	return nil
}

// GetByID retrieves a user by internal ID.
// Returns apperror.ErrNotFound if no user exists with that ID.
func (s *Store) GetByID(ctx context.Context, id string) (*model.User, error) {
	query := fmt.Sprintf(`SELECT %s FROM users WHERE id = %s`, userColumns, s.dialect.Placeholder(1))

	u, err := scanUser(s.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFound("user", id)
		}
		return nil, s.wrap("getting user "+id, err)
	}
	return u, nil
}

// GetByEmail retrieves a user by email address.
func (s *Store) GetByEmail(ctx context.Context, email string) (*model.User, error) {
	query := fmt.Sprintf(`SELECT %s FROM users WHERE email = %s`, userColumns, s.dialect.Placeholder(1))

	u, err := scanUser(s.db.QueryRowContext(ctx, query, email))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFoundMessage("user not found")
		}
		return nil, s.wrap("getting user by email", err)
	}
	return u, nil
}

// GetByPendingToken retrieves the user whose pending token equals token and
// has not expired at now.
func (s *Store) GetByPendingToken(ctx context.Context, token string, now time.Time) (*model.User, error) {
	if token == "" {
		return nil, apperror.NotFoundMessage("user not found")
	}

	a := &args{placeholder: s.dialect.Placeholder}
	query := fmt.Sprintf(
		`SELECT %s FROM users WHERE pending_token = %s AND token_expires_at > %s`,
		userColumns, a.add(token), a.add(now.UnixNano()),
	)

	u, err := scanUser(s.db.QueryRowContext(ctx, query, a.values...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFoundMessage("user not found")
		}
		return nil, s.wrap("getting user by token", err)
	}
	return u, nil
}

// List retrieves users newest first with LIMIT/OFFSET pagination.
func (s *Store) List(ctx context.Context, opts repository.ListOptions) ([]model.User, error) {
	opts = opts.Normalize()

	a := &args{placeholder: s.dialect.Placeholder}
	query := fmt.Sprintf(
		`SELECT %s FROM users ORDER BY created_at DESC, id DESC LIMIT %s OFFSET %s`,
		userColumns, a.add(opts.Limit), a.add(opts.Offset),
	)

	rows, err := s.db.QueryContext(ctx, query, a.values...)
	if err != nil {
		return nil, s.wrap("listing users", err)
	}
	defer rows.Close()

	users := make([]model.User, 0, opts.Limit)
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, s.wrap("scanning user row", err)
		}
		users = append(users, *u)
	}
	if err := rows.Err(); err != nil {
		return nil, s.wrap("iterating user rows", err)
	}

	return users, nil
}

// setClause renders "col = ?, ..., updated_at = ?" for upd.
func (s *Store) setClause(a *args, upd model.UserUpdate, now time.Time) string {
	assignments := repository.Assignments(upd)
	parts := make([]string, 0, len(assignments)+1)
	for _, as := range assignments {
		parts = append(parts, as.Column+" = "+a.add(as.Value))
	}
	parts = append(parts, "updated_at = "+a.add(now))
	return strings.Join(parts, ", ")
}

// Update applies upd to the user with the given id in one statement.
func (s *Store) Update(ctx context.Context, id string, upd model.UserUpdate) (*model.User, error) {
	if err := upd.Validate(); err != nil {
		return nil, err
	}
	if upd.IsEmpty() {
		return s.GetByID(ctx, id)
	}

	a := &args{placeholder: s.dialect.Placeholder}
	set := s.setClause(a, upd, s.now().UTC())
	query := fmt.Sprintf(`UPDATE users SET %s WHERE id = %s RETURNING %s`, set, a.add(id), userColumns)

	u, err := scanUser(s.db.QueryRowContext(ctx, query, a.values...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFound("user", id)
		}
		if s.dialect.IsUniqueViolation(err) {
			return nil, duplicateEmail()
		}
		return nil, s.wrap("updating user "+id, err)
	}
	return u, nil
}

// ConsumeToken applies upd to the holder of token if it is still valid at
// now. Zero matched rows means the token is unknown, expired or already
// used, and all three look the same to the caller.
func (s *Store) ConsumeToken(ctx context.Context, token string, now time.Time, upd model.UserUpdate) (*model.User, error) {
	if err := upd.Validate(); err != nil {
		return nil, err
	}
	if token == "" {
		return nil, apperror.InvalidToken()
	}

	a := &args{placeholder: s.dialect.Placeholder}
	set := s.setClause(a, upd, s.now().UTC())
	query := fmt.Sprintf(
		`UPDATE users SET %s WHERE pending_token = %s AND token_expires_at > %s RETURNING %s`,
		set, a.add(token), a.add(now.UnixNano()), userColumns,
	)

	u, err := scanUser(s.db.QueryRowContext(ctx, query, a.values...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.InvalidToken()
		}
		return nil, s.wrap("consuming token", err)
	}
	return u, nil
}
