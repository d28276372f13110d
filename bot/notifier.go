// Package bot provides the Telegram bot: contact notifications, admin
// alarm mirror and status commands
package bot

import (
	"context"
	"fmt"
	"sort"

	"github.com/versatilecz/evac/internal/broker"
	"github.com/versatilecz/evac/internal/message"
	"github.com/versatilecz/evac/internal/models"
	"github.com/versatilecz/evac/internal/notify"
	"github.com/versatilecz/evac/internal/state"
)

// Notifier delivers notifications to Telegram contacts
type Notifier struct{}

// NewNotifier creates a new bot notifier
func NewNotifier() *Notifier {
	return &Notifier{}
}

// Ensure Notifier implements the notify.Notifier interface
var _ notify.Notifier = (*Notifier)(nil)

func formatNotification(msg notify.Message) string {
	if msg.Subject == "" {
		return escape(msg.Long)
	}
	return fmt.Sprintf("*%s*\n%s", escape(msg.Subject), escape(msg.Long))
}

// Notify sends the message to the contact chat
func (n *Notifier) Notify(ctx context.Context, contact models.Contact, msg notify.Message) error {
	if contact.Telegram == nil || contact.Telegram.ChatID == 0 {
		return notify.ErrNoTarget
	}
	return SendPersonalNotification(ctx, contact.Telegram.ChatID, formatNotification(msg))
}

// alarmText describes an alarm broadcast for the admin chat
func alarmText(m message.WebMessage) (string, bool) {
	switch m.Kind {
	case message.KindAlarmTrigger:
		info, ok := m.Payload.(models.AlarmInfo)
		if !ok {
			return "", false
		}
		return fmt.Sprintf("*Alarm* %s in %s, %s", escape(info.Device), escape(info.Room), escape(info.Location)), true
	case message.KindAlarmStop:
		return fmt.Sprintf("Alarm `%v` stopped", m.Payload), true
	}
	return "", false
}

// MirrorAlarms forwards alarm broadcasts to the admin chat until ctx is
// done or the subscription closes
func MirrorAlarms(ctx context.Context, sub *broker.Subscription[message.WebMessage]) error {
	defer sub.Close()
	for {
		select {
		case <-ctx.Done():
			return nil
		case m, ok := <-sub.C():
			if !ok {
				return nil
			}
			if text, ok := alarmText(m); ok {
				SendNotification(text)
			}
		}
	}
}

// StateProvider reads status from the shared state
type StateProvider struct {
	State *state.State
}

var _ Provider = StateProvider{}

// Scanners lists the registered scanners
func (p StateProvider) Scanners() []models.Scanner {
	var out []models.Scanner
	p.State.View(func(tx *state.Tx) { out = tx.Scanners().List() })
	return out
}

// Devices lists enabled devices with their best scanner
func (p StateProvider) Devices() []DeviceStatus {
	var out []DeviceStatus
	p.State.View(func(tx *state.Tx) {
		for _, d := range tx.Devices().List() {
			if !d.Enabled {
				continue
			}
			status := DeviceStatus{Device: d}
			if best, ok := tx.Tracker().Best(d.UUID); ok {
				status.Seen = true
				status.RSSI = best.RSSI
				if s, ok := tx.Scanners().Get(best.Scanner); ok {
					status.Scanner = s.Name
					if status.Scanner == "" {
						status.Scanner = s.Mac.String()
					}
				}
			}
			out = append(out, status)
		}
	})
	return out
}

// ActiveAlarms lists firing alarms by device
func (p StateProvider) ActiveAlarms() []models.AlarmInfo {
	var out []models.AlarmInfo
	p.State.View(func(tx *state.Tx) { out = tx.Alarms().Active() })
	sort.Slice(out, func(i, j int) bool { return out[i].Device < out[j].Device })
	return out
}
