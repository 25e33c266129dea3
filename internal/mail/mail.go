// Package mail delivers the verification and password-reset emails.
//
// Composer renders a Message, a Sender delivers it, and Outbox ties the two
// together off the request path so that a slow or failing mail server never
// delays or fails the account operation that triggered it.
package mail

import (
	"context"
	"errors"
	"net/mail"
	"strings"
)

// ErrInvalidAddress indicates a string is not shaped like an email address.
var ErrInvalidAddress = errors.New("invalid email address")

// Message is a rendered plain-text email.
type Message struct {
	To      string
	Subject string
	Body    string
}

// Sender delivers a message.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// ParseAddress trims raw and checks that it is a bare address. Display names
// and comments ("Ana <ana@example.com>") are rejected. It does not check
// that the mailbox exists.
func ParseAddress(raw string) (string, error) {
	trimmed := strings.TrimSpace(raw)

	addr, err := mail.ParseAddress(trimmed)
	if err != nil {
		return "", ErrInvalidAddress
	}
	if addr.Address != trimmed {
		return "", ErrInvalidAddress
	}

	return addr.Address, nil
}
