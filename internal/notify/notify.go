// Package notify delivers the publication confirmation to a base locale's
// registered recipients.
//
// Sending is fire-and-forget from the engine's perspective: a failed email
// never rolls back a publication that already succeeded remotely.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"balregistry/internal/baselocale/models"
	"balregistry/pkg/email"
)

// Sender delivers a publication confirmation.
type Sender interface {
	SendPublishedNotification(ctx context.Context, bl *models.BaseLocale) error
}

// Body renders the plain-text confirmation message.
func Body(bl *models.BaseLocale) string {
	var b strings.Builder

	greeted := false
	for _, addr := range bl.Emails {
		first, _ := email.DeriveNameFromEmail(addr)
		if first != "User" {
			fmt.Fprintf(&b, "Bonjour %s,\n\n", first)
			greeted = true
			break
		}
	}
	if !greeted {
		b.WriteString("Bonjour,\n\n")
	}

	fmt.Fprintf(&b, "La Base Adresse Locale %q (commune %s) vient d'être publiée.\n", bl.Name, bl.CommuneCode)
	b.WriteString("Ses adresses sont désormais transmises à la Base Adresse Nationale.\n")
	return b.String()
}

// Subject renders the confirmation subject line.
func Subject(bl *models.BaseLocale) string {
	return fmt.Sprintf("Publication de la Base Adresse Locale %s", bl.CommuneCode)
}

// LogOnly writes a log line instead of delivering mail. Used when no SMTP
// relay is configured.
type LogOnly struct {
	Logger *slog.Logger
}

func (l LogOnly) SendPublishedNotification(ctx context.Context, bl *models.BaseLocale) error {
	l.Logger.InfoContext(ctx, "publication notification suppressed, no smtp relay configured",
		"base_locale_id", bl.ID.String(),
		"recipients", len(bl.Emails))
	return nil
}

// Memory records notifications instead of delivering them. Test double.
type Memory struct {
	mu   sync.Mutex
	sent []Sent
}

// Sent is one recorded notification.
type Sent struct {
	Recipients []string
	Subject    string
	Body       string
}

func NewMemory() *Memory {
	return &Memory{}
}

func (m *Memory) SendPublishedNotification(_ context.Context, bl *models.BaseLocale) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, Sent{
		Recipients: append([]string(nil), bl.Emails...),
		Subject:    Subject(bl),
		Body:       Body(bl),
	})
	return nil
}

// Sent returns a snapshot of recorded notifications.
func (m *Memory) Sent() []Sent {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Sent(nil), m.sent...)
}
