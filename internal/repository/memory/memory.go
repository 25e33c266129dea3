// Package memory is a UserRepository held in process memory. It backs
// DB_DRIVER=memory for local runs and the service tests.
//
// One mutex guards every map, and each method holds it for the whole
// check-then-write, which is what makes ConsumeToken single-use here.
package memory

import (
	"cmp"
	"context"
	"slices"
	"sync"
	"time"

	"github.com/rs/xid"

	"github.com/sakif/identity-service/internal/apperror"
	"github.com/sakif/identity-service/internal/model"
	"github.com/sakif/identity-service/internal/repository"
)

var _ repository.UserRepository = (*Repository)(nil)

type Repository struct {
	mu      sync.Mutex
	byID    map[string]*model.User
	byEmail map[string]string // email -> id
	now     func() time.Time
}

func New() *Repository {
	return &Repository{
		byID:    make(map[string]*model.User),
		byEmail: make(map[string]string),
		now:     time.Now,
	}
}

// clone copies u so callers never share memory with the store.
func clone(u *model.User) *model.User {
	c := *u
	if u.PendingToken != nil {
		tok := *u.PendingToken
		c.PendingToken = &tok
	}
	return &c
}

func (r *Repository) Create(ctx context.Context, user *model.User) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, taken := r.byEmail[user.Email]; taken {
		return apperror.Conflict("email", "email is already registered")
	}

	now := r.now().UTC()
	user.ID = xid.New().String()
	user.CreatedAt = now
	user.UpdatedAt = now

	r.byID[user.ID] = clone(user)
	r.byEmail[user.Email] = user.ID
	return nil
}

func (r *Repository) GetByID(ctx context.Context, id string) (*model.User, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	u, ok := r.byID[id]
	if !ok {
		return nil, apperror.NotFound("user", id)
	}
	return clone(u), nil
}

func (r *Repository) GetByEmail(ctx context.Context, email string) (*model.User, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	id, ok := r.byEmail[email]
	if !ok {
		return nil, apperror.NotFoundMessage("user not found")
	}
	return clone(r.byID[id]), nil
}

// holderOf returns the user whose pending token accepts token at now.
// Callers hold r.mu.
func (r *Repository) holderOf(token string, now time.Time) *model.User {
	for _, u := range r.byID {
		if u.PendingToken.Accepts(token, now) {
			return u
		}
	}
	return nil
}

func (r *Repository) GetByPendingToken(ctx context.Context, token string, now time.Time) (*model.User, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	u := r.holderOf(token, now)
	if u == nil {
		return nil, apperror.NotFoundMessage("user not found")
	}
	return clone(u), nil
}

func (r *Repository) List(ctx context.Context, opts repository.ListOptions) ([]model.User, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	opts = opts.Normalize()

	r.mu.Lock()
	all := make([]*model.User, 0, len(r.byID))
	for _, u := range r.byID {
		all = append(all, u)
	}
	// newest first, ID as tie-breaker so pages are stable
	slices.SortFunc(all, func(a, b *model.User) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(b.ID, a.ID)
	})

	users := make([]model.User, 0, opts.Limit)
	for i := opts.Offset; i < len(all) && len(users) < opts.Limit; i++ {
		users = append(users, *clone(all[i]))
	}
	r.mu.Unlock()

	return users, nil
}

// apply writes upd to the stored user, keeping the email index in step.
// Callers hold r.mu.
func (r *Repository) apply(u *model.User, upd model.UserUpdate) error {
	if upd.Email != nil && *upd.Email != u.Email {
		if _, taken := r.byEmail[*upd.Email]; taken {
			return apperror.Conflict("email", "email is already registered")
		}
		delete(r.byEmail, u.Email)
		r.byEmail[*upd.Email] = u.ID
	}
	upd.Apply(u)
	u.UpdatedAt = r.now().UTC()
	return nil
}

func (r *Repository) Update(ctx context.Context, id string, upd model.UserUpdate) (*model.User, error) {
	if err := upd.Validate(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	u, ok := r.byID[id]
	if !ok {
		return nil, apperror.NotFound("user", id)
	}
	if upd.IsEmpty() {
		return clone(u), nil
	}
	if err := r.apply(u, upd); err != nil {
		return nil, err
	}
	return clone(u), nil
}

func (r *Repository) ConsumeToken(ctx context.Context, token string, now time.Time, upd model.UserUpdate) (*model.User, error) {
	if err := upd.Validate(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	u := r.holderOf(token, now)
	if u == nil {
		return nil, apperror.InvalidToken()
	}
	if err := r.apply(u, upd); err != nil {
		return nil, err
	}
	return clone(u), nil
}

func (r *Repository) Close() error {
	return nil
}
