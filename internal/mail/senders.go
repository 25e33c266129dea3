package mail

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net/mail"
	"net/url"
	"sync"

	"github.com/dajohi/goemail"
)

// LogSender logs messages instead of sending them. Only the recipient and
// subject are logged: bodies carry single-use tokens.
type LogSender struct {
	logger *slog.Logger
}

func NewLogSender(logger *slog.Logger) *LogSender {
	return &LogSender{logger: logger}
}

func (s *LogSender) Send(ctx context.Context, msg Message) error {
	s.logger.InfoContext(ctx, "email not sent (log sender)",
		"to", msg.To,
		"subject", msg.Subject,
		"body_bytes", len(msg.Body),
	)
	return nil
}

// MemorySender keeps messages in memory for tests. It is safe for
// concurrent use since Outbox sends from several goroutines.
type MemorySender struct {
	mu   sync.Mutex
	msgs []Message
	err  error
}

func NewMemorySender() *MemorySender {
	return &MemorySender{}
}

// FailWith makes subsequent sends return err without recording anything.
func (s *MemorySender) FailWith(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}

func (s *MemorySender) Send(_ context.Context, msg Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.msgs = append(s.msgs, msg)
	return nil
}

// Messages returns a copy of everything sent so far.
func (s *MemorySender) Messages() []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Message, len(s.msgs))
	copy(out, s.msgs)
	return out
}

// SMTPSender delivers messages over SMTPS.
type SMTPSender struct {
	client      *goemail.SMTP
	mailName    string
	mailAddress string
}

// NewSMTPSender connects the sender to host ("mail.example.com:465") with
// the given credentials. from may carry a display name:
// "Identity <no-reply@example.com>".
func NewSMTPSender(host, user, password, from string, tlsConfig *tls.Config) (*SMTPSender, error) {
	u := &url.URL{
		Scheme: "smtps",
		User:   url.UserPassword(user, password),
		Host:   host,
	}

	a, err := mail.ParseAddress(from)
	if err != nil {
		return nil, fmt.Errorf("mail: parsing sender address: %w", err)
	}

	if tlsConfig == nil {
		tlsConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}

	client, err := goemail.NewSMTP(u.String(), tlsConfig)
	if err != nil {
		return nil, fmt.Errorf("mail: creating SMTP client: %w", err)
	}

	return &SMTPSender{
		client:      client,
		mailName:    a.Name,
		mailAddress: a.Address,
	}, nil
}

// Send delivers msg. The SMTP client has no context support, so ctx is only
// checked before the connection is made.
func (s *SMTPSender) Send(ctx context.Context, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m := goemail.NewMessage(s.mailAddress, msg.Subject, msg.Body)
	m.AddTo(msg.To)
	if s.mailName != "" {
		m.SetName(s.mailName)
	}

	if err := s.client.Send(m); err != nil {
		return fmt.Errorf("mail: sending to %s: %w", msg.To, err)
	}
	return nil
}
