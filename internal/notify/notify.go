// Package notify delivers alarm notifications to contacts
package notify

import (
	"context"
	"errors"
	"strings"

	"github.com/versatilecz/evac/internal/models"
)

// ErrNoTarget is returned for contacts without a deliverable target
var ErrNoTarget = errors.New("contact has no notification target")

// Message is a rendered notification
type Message struct {
	Subject string
	Short   string
	Long    string
}

// Labels are substituted into notification templates
type Labels struct {
	Device   string
	Scanner  string
	Room     string
	Location string
}

// LabelsOf returns the labels of an active alarm
func LabelsOf(info models.AlarmInfo) Labels {
	return Labels{
		Device:   info.Device,
		Scanner:  info.Scanner,
		Room:     info.Room,
		Location: info.Location,
	}
}

// Render substitutes %device%, %scanner%, %room% and %location% in every
// part of the template
func Render(n models.Notification, l Labels) Message {
	r := strings.NewReplacer(
		"%device%", l.Device,
		"%scanner%", l.Scanner,
		"%room%", l.Room,
		"%location%", l.Location,
	)
	return Message{
		Subject: r.Replace(n.Subject),
		Short:   r.Replace(n.Short),
		Long:    r.Replace(n.Long),
	}
}

// Job is one pending delivery
type Job struct {
	Contact models.Contact
	Message Message
}

// Notifier delivers a message to a contact
type Notifier interface {
	Notify(ctx context.Context, contact models.Contact, msg Message) error
}
