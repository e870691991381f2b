package notify

import (
	"context"
	"fmt"
	"net/smtp"
	"strings"

	"balregistry/internal/baselocale/models"
	"balregistry/pkg/email"
)

// SMTP delivers confirmations through a plain SMTP relay.
type SMTP struct {
	addr string
	from string
	auth smtp.Auth
}

// NewSMTP builds an SMTP sender. auth may be nil for an open relay
// (local development).
func NewSMTP(addr, from string, auth smtp.Auth) *SMTP {
	return &SMTP{addr: addr, from: from, auth: auth}
}

var _ Sender = (*SMTP)(nil)

func (s *SMTP) SendPublishedNotification(ctx context.Context, bl *models.BaseLocale) error {
	recipients := email.Dedupe(bl.Emails)
	if len(recipients) == 0 {
		return fmt.Errorf("base locale %s has no valid notification recipients", bl.ID)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	msg := buildMessage(s.from, recipients, Subject(bl), Body(bl))
	if err := smtp.SendMail(s.addr, s.auth, s.from, recipients, msg); err != nil {
		return fmt.Errorf("send publication notification: %w", err)
	}
	return nil
}

func buildMessage(from string, to []string, subject, body string) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", from)
	fmt.Fprintf(&b, "To: %s\r\n", strings.Join(to, ", "))
	fmt.Fprintf(&b, "Subject: %s\r\n", subject)
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=utf-8\r\n")
	b.WriteString("\r\n")
	b.WriteString(body)
	return []byte(b.String())
}
