package mail

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/sakif/identity-service/internal/model"
)

// DefaultTimeout bounds a single delivery when none is configured.
const DefaultTimeout = 30 * time.Second

// Outbox sends account emails in the background. Each message gets its own
// goroutine and its own deadline, detached from the request that queued it.
// Failures are logged and otherwise dropped: the account change that caused
// the email is already committed.
type Outbox struct {
	sender   Sender
	composer *Composer
	logger   *slog.Logger
	timeout  time.Duration
	wg       sync.WaitGroup
}

func NewOutbox(sender Sender, composer *Composer, logger *slog.Logger, timeout time.Duration) *Outbox {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Outbox{
		sender:   sender,
		composer: composer,
		logger:   logger,
		timeout:  timeout,
	}
}

// SendVerification queues the email-verification message for user. user
// must hold the pending token to mail.
func (o *Outbox) SendVerification(user *model.User) {
	o.dispatch("verification", user, o.composer.Verification)
}

// SendPasswordReset queues the password-reset message for user.
func (o *Outbox) SendPasswordReset(user *model.User) {
	o.dispatch("password_reset", user, o.composer.PasswordReset)
}

// Wait blocks until every queued message has been sent or has failed.
func (o *Outbox) Wait() {
	o.wg.Wait()
}

type composeFunc func(to, name, token string, expires time.Time) (Message, error)

func (o *Outbox) dispatch(kind string, user *model.User, compose composeFunc) {
	if user.PendingToken == nil {
		o.logger.Error("email not queued: no pending token",
			slog.String("kind", kind),
			slog.String("user_id", user.ID),
		)
		return
	}

	// Copy what the goroutine needs; the caller may reuse user.
	to, name, userID := user.Email, user.Name, user.ID
	tok := *user.PendingToken

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()

		ctx, cancel := context.WithTimeout(context.Background(), o.timeout)
		defer cancel()

		msg, err := compose(to, name, tok.Value, tok.ExpiresAt)
		if err == nil {
			err = o.sender.Send(ctx, msg)
		}
		if err != nil {
			o.logger.Error("sending email failed",
				slog.String("kind", kind),
				slog.String("user_id", userID),
				slog.String("error", err.Error()),
			)
			return
		}
		o.logger.Debug("email sent", slog.String("kind", kind), slog.String("user_id", userID))
	}()
}
