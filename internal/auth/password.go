// PASSWORD HASHING:
// bcrypt is deliberately slow. The salt and cost are embedded in the output,
// so the whole string goes into the password_hash column:
//
//	$2a$12$<22-char salt><31-char hash>
//	 ^   ^
//	 |   cost (12 rounds → 2^12 iterations)
//	 version
//
// HASHING IS CPU-BOUND:
// A single bcrypt call at cost 12 keeps one core busy for ~250ms. Goroutines
// will happily start hundreds of them during a login burst, so PasswordService
// runs every hash through a fixed number of worker slots. Callers wait for a
// slot (and for the result) only as long as their context allows.

package auth

import (
	"context"
	"errors"
	"fmt"
	"runtime"

	"golang.org/x/crypto/bcrypt"
	"golang.org/x/sync/semaphore"
)

// DefaultCost is the bcrypt work factor used when none is configured.
//
// Set cost so that hashing takes ~200–300ms on production hardware.
const DefaultCost = 12

// MaxPasswordBytes is the longest password bcrypt can hash without
// truncating it.
const MaxPasswordBytes = 72

var (
	// ErrPasswordMismatch is returned by Verify when the password is wrong.
	ErrPasswordMismatch = errors.New("auth: invalid password")

	// ErrPasswordTooLong is returned by Hash for passwords over MaxPasswordBytes.
	ErrPasswordTooLong = fmt.Errorf("auth: password must be %d bytes or fewer", MaxPasswordBytes)
)

// PasswordService provides bcrypt hashing and verification on a bounded
// pool of workers.
type PasswordService struct {
	cost    int
	workers *semaphore.Weighted
}

// NewPasswordService creates a PasswordService. A cost of 0 selects
// DefaultCost and workers <= 0 selects one worker per CPU.
func NewPasswordService(cost, workers int) (*PasswordService, error) {
	if cost == 0 {
		cost = DefaultCost
	}
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		return nil, fmt.Errorf("auth: bcrypt cost must be between %d and %d, got %d",
			bcrypt.MinCost, bcrypt.MaxCost, cost)
	}
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	return &PasswordService{
		cost:    cost,
		workers: semaphore.NewWeighted(int64(workers)),
	}, nil
}

// NewPasswordServiceForTest creates a PasswordService with the given cost
// (use bcrypt.MinCost, 4) and two workers. Use this in tests in other
// packages to avoid the ~250ms overhead of cost 12 per hashing operation.
//
// Do NOT use in production.
func NewPasswordServiceForTest(cost int) *PasswordService {
	return &PasswordService{
		cost:    cost,
		workers: semaphore.NewWeighted(2),
	}
}

// Cost returns the configured work factor.
func (p *PasswordService) Cost() int {
	return p.cost
}

// Hash hashes the given plaintext password with bcrypt.
//
// Returns ErrPasswordTooLong for passwords over 72 bytes; bcrypt would
// silently ignore the rest.
func (p *PasswordService) Hash(ctx context.Context, plaintext string) (string, error) {
	if len(plaintext) > MaxPasswordBytes {
		return "", ErrPasswordTooLong
	}

	var hashed []byte
	err := p.run(ctx, func() error {
		var err error
		hashed, err = bcrypt.GenerateFromPassword([]byte(plaintext), p.cost)
		return err
	})
	if err != nil {
		return "", fmt.Errorf("auth: hashing password: %w", err)
	}

	return string(hashed), nil
}

// Verify checks whether a plaintext password matches a stored bcrypt hash.
//
// Returns nil on a match and ErrPasswordMismatch when the password is wrong.
// Any other error means the hash could not be checked (malformed hash,
// deadline exceeded).
//
// bcrypt.CompareHashAndPassword compares in constant time.
func (p *PasswordService) Verify(ctx context.Context, hash, plaintext string) error {
	err := p.run(ctx, func() error {
		return bcrypt.CompareHashAndPassword([]byte(hash), []byte(plaintext))
	})
	if err != nil {
		if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			return ErrPasswordMismatch
		}
		return fmt.Errorf("auth: comparing password hash: %w", err)
	}
	return nil
}

// run executes fn on a worker slot. If ctx ends first, run returns
// ctx.Err() and the computation finishes in the background, still holding
// its slot.
func (p *PasswordService) run(ctx context.Context, fn func() error) error {
	if err := p.workers.Acquire(ctx, 1); err != nil {
		return err
	}

	done := make(chan error, 1)
	go func() {
		defer p.workers.Release(1)
		done <- fn()
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}
