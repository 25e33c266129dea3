// Package service contains the business logic layer of the application.
//
//	Handler (HTTP) → AccountService (rules, orchestration) → UserRepository (storage)
//	                              ↘ PasswordService, TokenIssuer, SessionIssuer (auth)
//	                              ↘ Notifier (email, fire-and-forget)
//
// Every use case returns either a payload or an *apperror.AppError of exactly
// one kind. Infrastructure failures are logged here and replaced with
// apperror.Internal(), so their detail never reaches a client.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/sakif/identity-service/internal/apperror"
	"github.com/sakif/identity-service/internal/auth"
	"github.com/sakif/identity-service/internal/mail"
	"github.com/sakif/identity-service/internal/model"
	"github.com/sakif/identity-service/internal/repository"
)

const (
	DefaultVerificationTTL  = 24 * time.Hour
	DefaultResetTTL         = time.Hour
	DefaultOperationTimeout = 10 * time.Second

	MaxNameLength = 100
)

// Messages of the acknowledgement-only use cases.
const (
	MsgEmailVerified = "email verified successfully"
	MsgResetSent     = "if an account exists for that email, a password reset link has been sent"
	MsgPasswordReset = "password has been reset successfully"
)

// Notifier delivers account emails. Calls must not block on delivery; the
// account change is already committed when they are made.
type Notifier interface {
	SendVerification(user *model.User)
	SendPasswordReset(user *model.User)
}

// ListCache stores pages of ListUsers. It is optional; failures are logged
// and the repository is used instead.
type ListCache interface {
	GetPage(ctx context.Context, opts repository.ListOptions) ([]model.UserSummary, bool, error)
	SetPage(ctx context.Context, opts repository.ListOptions, users []model.UserSummary) error
	Invalidate(ctx context.Context) error
}

type Config struct {
	VerificationTTL  time.Duration
	ResetTTL         time.Duration
	OperationTimeout time.Duration
}

// withDefaults fills zero fields.
func (c Config) withDefaults() Config {
	if c.VerificationTTL <= 0 {
		c.VerificationTTL = DefaultVerificationTTL
	}
	if c.ResetTTL <= 0 {
		c.ResetTTL = DefaultResetTTL
	}
	if c.OperationTimeout <= 0 {
		c.OperationTimeout = DefaultOperationTimeout
	}
	return c
}

// Input types. Strings are trimmed by the service, except passwords.
type (
	RegisterInput struct {
		Name     string
		Email    string
		Password string
	}

	AuthenticateInput struct {
		Email    string
		Password string
	}

	// UpdateInput holds the optional fields of a profile update. A nil
	// field is left unchanged.
	UpdateInput struct {
		Name     *string
		Email    *string
		Password *string
	}

	ResetInput struct {
		Token       string
		NewPassword string
	}
)

// AccountService runs the account use cases.
type AccountService struct {
	users     repository.UserRepository
	passwords *auth.PasswordService
	tokens    *auth.TokenIssuer
	sessions  *auth.SessionIssuer
	notifier  Notifier
	cfg       Config
	logger    *slog.Logger

	cache ListCache
	pages singleflight.Group

	now func() time.Time
}

func NewAccountService(
	users repository.UserRepository,
	passwords *auth.PasswordService,
	tokens *auth.TokenIssuer,
	sessions *auth.SessionIssuer,
	notifier Notifier,
	cfg Config,
	logger *slog.Logger,
) *AccountService {
	return &AccountService{
		users:     users,
		passwords: passwords,
		tokens:    tokens,
		sessions:  sessions,
		notifier:  notifier,
		cfg:       cfg.withDefaults(),
		logger:    logger,
		now:       time.Now,
	}
}

// WithListCache makes ListUsers read through c. Call it before serving.
func (s *AccountService) WithListCache(c ListCache) *AccountService {
	s.cache = c
	return s
}

// WithClock replaces the clock used to judge token expiry. The TokenIssuer
// passed to NewAccountService should share it.
func (s *AccountService) WithClock(now func() time.Time) *AccountService {
	s.now = now
	return s
}

// Register creates an unverified account and mails its verification token.
func (s *AccountService) Register(ctx context.Context, in RegisterInput) (*model.RegisteredUser, error) {
	name, err := validName(in.Name)
	if err != nil {
		return nil, err
	}
	email, err := validEmail(in.Email)
	if err != nil {
		return nil, err
	}
	if err := validPassword("password", in.Password); err != nil {
		return nil, err
	}

	ctx, cancel := s.bound(ctx)
	defer cancel()

	// Fast path for a friendly message. The repository's unique
	// constraint still decides races.
	if err := s.emailAvailable(ctx, email, ""); err != nil {
		return nil, s.fail(ctx, "register", err)
	}

	hash, err := s.passwords.Hash(ctx, in.Password)
	if err != nil {
		return nil, s.fail(ctx, "register", err)
	}
	tok, err := s.tokens.Issue(s.cfg.VerificationTTL)
	if err != nil {
		return nil, s.fail(ctx, "register", err)
	}

	user := &model.User{
		Name:         name,
		Email:        email,
		PasswordHash: hash,
		PendingToken: &tok,
	}
	if err := s.users.Create(ctx, user); err != nil {
		return nil, s.fail(ctx, "register", err)
	}

	s.logger.Info("user registered", slog.String("user_id", user.ID))
	s.invalidateList(ctx)
	s.notifier.SendVerification(user)

	return user.Registered(), nil
}

// VerifyEmail consumes a verification token and marks its account verified.
func (s *AccountService) VerifyEmail(ctx context.Context, token string) (*model.Acknowledgement, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, apperror.InvalidToken()
	}

	ctx, cancel := s.bound(ctx)
	defer cancel()

	user, err := s.users.ConsumeToken(ctx, token, s.now(), model.VerifyEmail())
	if err != nil {
		return nil, s.fail(ctx, "verify email", err)
	}

	s.logger.Info("email verified", slog.String("user_id", user.ID))
	s.invalidateList(ctx)

	return &model.Acknowledgement{Message: MsgEmailVerified}, nil
}

// Authenticate checks credentials and issues a session token.
//
// Unknown email (NotFound) and wrong password (Authentication) stay
// distinguishable to the caller.
func (s *AccountService) Authenticate(ctx context.Context, in AuthenticateInput) (*model.Session, error) {
	email := strings.TrimSpace(in.Email)
	if email == "" {
		return nil, apperror.ValidationFailed("email", "email is required")
	}
	if in.Password == "" {
		return nil, apperror.ValidationFailed("password", "password is required")
	}

	ctx, cancel := s.bound(ctx)
	defer cancel()

	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		return nil, s.fail(ctx, "authenticate", err)
	}

	// bcrypt only looks at 72 bytes; a longer password was never stored.
	if len(in.Password) > auth.MaxPasswordBytes {
		return nil, apperror.AuthenticationFailed("invalid credentials")
	}
	if err := s.passwords.Verify(ctx, user.PasswordHash, in.Password); err != nil {
		if errors.Is(err, auth.ErrPasswordMismatch) {
			s.logger.Info("authentication failed", slog.String("user_id", user.ID))
			return nil, apperror.AuthenticationFailed("invalid credentials")
		}
		return nil, s.fail(ctx, "authenticate", err)
	}

	if !user.Verified {
		return nil, apperror.Unverified()
	}

	token, err := s.sessions.Issue(user.ID)
	if err != nil {
		return nil, s.fail(ctx, "authenticate", err)
	}

	s.logger.Info("user authenticated", slog.String("user_id", user.ID))
	return &model.Session{Token: token}, nil
}

// UpdateUser applies a partial profile update. Any supplied email moves the
// account back to unverified; no new verification email is sent.
func (s *AccountService) UpdateUser(ctx context.Context, id string, in UpdateInput) (*model.UpdatedUser, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, apperror.ValidationFailed("id", "user ID is required")
	}

	var upd model.UserUpdate
	if in.Name != nil {
		name, err := validName(*in.Name)
		if err != nil {
			return nil, err
		}
		upd.Name = &name
	}
	var email string
	if in.Email != nil {
		var err error
		if email, err = validEmail(*in.Email); err != nil {
			return nil, err
		}
	}
	if in.Password != nil {
		if err := validPassword("password", *in.Password); err != nil {
			return nil, err
		}
	}

	ctx, cancel := s.bound(ctx)
	defer cancel()

	current, err := s.users.GetByID(ctx, id)
	if err != nil {
		return nil, s.fail(ctx, "update user", err)
	}

	// Any supplied email, the current one included, needs verifying again.
	if in.Email != nil {
		if err := s.emailAvailable(ctx, email, id); err != nil {
			return nil, s.fail(ctx, "update user", err)
		}
		upd = upd.Merge(model.ChangeEmail(email))
	}

	if in.Password != nil {
		hash, err := s.passwords.Hash(ctx, *in.Password)
		if err != nil {
			return nil, s.fail(ctx, "update user", err)
		}
		upd.PasswordHash = &hash
	}

	if upd.IsEmpty() {
		return current.Updated(), nil
	}

	updated, err := s.users.Update(ctx, id, upd)
	if err != nil {
		return nil, s.fail(ctx, "update user", err)
	}

	s.logger.Info("user updated",
		slog.String("user_id", id),
		slog.Bool("email_changed", upd.Email != nil),
		slog.Bool("password_changed", upd.PasswordHash != nil),
	)
	s.invalidateList(ctx)

	return updated.Updated(), nil
}

// ForgotPassword issues a reset token when the account exists. The result is
// the same whether or not it does.
func (s *AccountService) ForgotPassword(ctx context.Context, rawEmail string) (*model.Acknowledgement, error) {
	email, err := validEmail(rawEmail)
	if err != nil {
		return nil, err
	}
	ack := &model.Acknowledgement{Message: MsgResetSent}

	ctx, cancel := s.bound(ctx)
	defer cancel()

	user, err := s.users.GetByEmail(ctx, email)
	if errors.Is(err, apperror.ErrNotFound) {
		s.logger.Debug("password reset requested for unknown email")
		return ack, nil
	}
	if err != nil {
		return nil, s.fail(ctx, "forgot password", err)
	}

	tok, err := s.tokens.Issue(s.cfg.ResetTTL)
	if err != nil {
		return nil, s.fail(ctx, "forgot password", err)
	}
	// Overwrites a pending verification token, if any.
	updated, err := s.users.Update(ctx, user.ID, model.IssueToken(tok))
	if errors.Is(err, apperror.ErrNotFound) {
		return ack, nil
	}
	if err != nil {
		return nil, s.fail(ctx, "forgot password", err)
	}

	s.logger.Info("password reset requested", slog.String("user_id", user.ID))
	s.notifier.SendPasswordReset(updated)

	return ack, nil
}

// ResetPassword consumes a reset token and replaces the password.
func (s *AccountService) ResetPassword(ctx context.Context, in ResetInput) (*model.Acknowledgement, error) {
	if err := validPassword("newPassword", in.NewPassword); err != nil {
		return nil, err
	}
	token := strings.TrimSpace(in.Token)
	if token == "" {
		return nil, apperror.InvalidToken()
	}

	ctx, cancel := s.bound(ctx)
	defer cancel()

	// Hashed up front so consumption is one conditional write.
	hash, err := s.passwords.Hash(ctx, in.NewPassword)
	if err != nil {
		return nil, s.fail(ctx, "reset password", err)
	}

	user, err := s.users.ConsumeToken(ctx, token, s.now(), model.ResetPassword(hash))
	if err != nil {
		return nil, s.fail(ctx, "reset password", err)
	}

	s.logger.Info("password reset", slog.String("user_id", user.ID))
	s.invalidateList(ctx)

	return &model.Acknowledgement{Message: MsgPasswordReset}, nil
}

// GetUser returns the public view of one account.
func (s *AccountService) GetUser(ctx context.Context, id string) (*model.UserSummary, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, apperror.ValidationFailed("id", "user ID is required")
	}

	ctx, cancel := s.bound(ctx)
	defer cancel()

	user, err := s.users.GetByID(ctx, id)
	if err != nil {
		return nil, s.fail(ctx, "get user", err)
	}
	summary := user.Summary()
	return &summary, nil
}

// ListUsers returns one page of accounts, newest first. limit is clamped to
// [1, repository.MaxPageSize] with repository.DefaultPageSize for zero.
func (s *AccountService) ListUsers(ctx context.Context, limit, offset int) ([]model.UserSummary, error) {
	opts := repository.ListOptions{Limit: limit, Offset: offset}.Normalize()

	ctx, cancel := s.bound(ctx)
	defer cancel()

	if s.cache == nil {
		users, err := s.loadPage(ctx, opts)
		if err != nil {
			return nil, s.fail(ctx, "list users", err)
		}
		return users, nil
	}

	if users, hit, err := s.cache.GetPage(ctx, opts); err != nil {
		s.logger.Warn("reading user list cache", slog.String("error", err.Error()))
	} else if hit {
		return users, nil
	}

	// One repository read per page however many requests miss at once. The
	// load is detached from the first caller so its cancellation does not
	// fail the others.
	key := fmt.Sprintf("%d:%d", opts.Limit, opts.Offset)
	v, err, _ := s.pages.Do(key, func() (any, error) {
		loadCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.OperationTimeout)
		defer cancel()

		users, err := s.loadPage(loadCtx, opts)
		if err != nil {
			return nil, err
		}
		if err := s.cache.SetPage(loadCtx, opts, users); err != nil {
			s.logger.Warn("writing user list cache", slog.String("error", err.Error()))
		}
		return users, nil
	})
	if err != nil {
		return nil, s.fail(ctx, "list users", err)
	}

	return slices.Clone(v.([]model.UserSummary)), nil
}

func (s *AccountService) loadPage(ctx context.Context, opts repository.ListOptions) ([]model.UserSummary, error) {
	users, err := s.users.List(ctx, opts)
	if err != nil {
		return nil, err
	}
	out := make([]model.UserSummary, 0, len(users))
	for i := range users {
		out = append(out, users[i].Summary())
	}
	return out, nil
}

func (s *AccountService) invalidateList(ctx context.Context) {
	if s.cache == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.OperationTimeout)
	defer cancel()
	if err := s.cache.Invalidate(ctx); err != nil {
		s.logger.Warn("invalidating user list cache", slog.String("error", err.Error()))
	}
}

// emailAvailable returns a ConflictError when email belongs to an account
// other than exceptID.
func (s *AccountService) emailAvailable(ctx context.Context, email, exceptID string) error {
	owner, err := s.users.GetByEmail(ctx, email)
	switch {
	case errors.Is(err, apperror.ErrNotFound):
		return nil
	case err != nil:
		return err
	case owner.ID == exceptID:
		return nil
	default:
		return apperror.Conflict("email", "email is already registered")
	}
}

func (s *AccountService) bound(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.cfg.OperationTimeout)
}

// fail passes domain errors through and turns everything else into an
// InternalError after logging it.
func (s *AccountService) fail(ctx context.Context, op string, err error) error {
	var appErr *apperror.AppError
	if errors.As(err, &appErr) && !errors.Is(appErr, apperror.ErrInternal) {
		return appErr
	}
	if errors.Is(err, auth.ErrPasswordTooLong) {
		return apperror.ValidationFailed("password",
			fmt.Sprintf("password must be %d bytes or less", auth.MaxPasswordBytes))
	}

	s.logger.ErrorContext(ctx, op+" failed", slog.String("error", err.Error()))
	return apperror.Internal()
}

func validName(raw string) (string, error) {
	name := strings.TrimSpace(raw)
	if name == "" {
		return "", apperror.ValidationFailed("name", "name is required")
	}
	if len(name) > MaxNameLength {
		return "", apperror.ValidationFailed("name",
			fmt.Sprintf("name must be %d characters or less", MaxNameLength))
	}
	return name, nil
}

func validEmail(raw string) (string, error) {
	if strings.TrimSpace(raw) == "" {
		return "", apperror.ValidationFailed("email", "email is required")
	}
	email, err := mail.ParseAddress(raw)
	if err != nil {
		return "", apperror.ValidationFailed("email", "email address is invalid")
	}
	return email, nil
}

func validPassword(field, password string) error {
	if strings.TrimSpace(password) == "" {
		return apperror.ValidationFailed(field, "password is required")
	}
	if len(password) > auth.MaxPasswordBytes {
		return apperror.ValidationFailed(field,
			fmt.Sprintf("password must be %d bytes or less", auth.MaxPasswordBytes))
	}
	return nil
}
