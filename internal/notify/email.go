package notify

import (
	"context"
	"net/mail"

	"github.com/pocketbase/pocketbase/tools/mailer"

	"github.com/versatilecz/evac/internal/models"
)

// EmailConfig holds SMTP settings
type EmailConfig struct {
	Server      string
	Port        int
	TLS         bool
	Username    string
	Password    string
	FromName    string
	FromAddress string
}

// EmailNotifier sends notifications over SMTP
type EmailNotifier struct {
	mailer mailer.Mailer
	from   mail.Address
}

// NewEmailNotifier creates an SMTP backed notifier
func NewEmailNotifier(cfg EmailConfig) *EmailNotifier {
	client := &mailer.SMTPClient{
		Host:     cfg.Server,
		Port:     cfg.Port,
		TLS:      cfg.TLS,
		Username: cfg.Username,
		Password: cfg.Password,
	}
	return newEmailNotifier(client, mail.Address{Name: cfg.FromName, Address: cfg.FromAddress})
}

func newEmailNotifier(m mailer.Mailer, from mail.Address) *EmailNotifier {
	return &EmailNotifier{mailer: m, from: from}
}

// Notify mails the long text of msg to the contact
func (n *EmailNotifier) Notify(ctx context.Context, contact models.Contact, msg Message) error {
	if contact.Email == nil || contact.Email.Email == "" {
		return ErrNoTarget
	}
	return n.mailer.Send(&mailer.Message{
		From:    n.from,
		To:      []mail.Address{{Name: contact.Name, Address: contact.Email.Email}},
		Subject: msg.Subject,
		Text:    msg.Long,
	})
}
