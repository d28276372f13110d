package notify

import (
	"context"

	"go.uber.org/multierr"

	"github.com/versatilecz/evac/internal/models"
)

// Router delivers to every target a contact has. Nil backends are skipped.
type Router struct {
	Email    Notifier
	Sms      Notifier
	Telegram Notifier
}

var _ Notifier = (*Router)(nil)

// Notify delivers msg to each configured target of contact
func (r *Router) Notify(ctx context.Context, contact models.Contact, msg Message) error {
	var (
		errs error
		sent bool
	)
	if contact.Email != nil && r.Email != nil {
		errs = multierr.Append(errs, r.Email.Notify(ctx, contact, msg))
		sent = true
	}
	if contact.Sms != nil && r.Sms != nil {
		errs = multierr.Append(errs, r.Sms.Notify(ctx, contact, msg))
		sent = true
	}
	if contact.Telegram != nil && r.Telegram != nil {
		errs = multierr.Append(errs, r.Telegram.Notify(ctx, contact, msg))
		sent = true
	}
	if !sent {
		return ErrNoTarget
	}
	return errs
}
