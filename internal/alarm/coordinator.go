// Package alarm coordinates firing alarms: actuating scanners and
// resolving who gets notified
package alarm

import (
	"errors"
	"fmt"
	"sort"

	"github.com/google/uuid"

	"github.com/versatilecz/evac/internal/models"
	"github.com/versatilecz/evac/internal/notify"
	"github.com/versatilecz/evac/internal/protocol"
	"github.com/versatilecz/evac/internal/registry"
)

// ErrNotFound is returned when a trigger or stop references a missing entity
var ErrNotFound = errors.New("not found")

// Coordinator tracks active alarms. It is not safe for concurrent use.
type Coordinator struct {
	active map[uuid.UUID]models.AlarmInfo
}

// Triggered is everything a trigger asks the caller to propagate
type Triggered struct {
	Info     models.AlarmInfo
	Scanners []models.Scanner
	Set      protocol.Set
	Jobs     []notify.Job
}

// Stopped is everything a stop asks the caller to propagate
type Stopped struct {
	Info     models.AlarmInfo
	Scanners []models.Scanner
	Set      protocol.Set
}

// NewCoordinator creates a coordinator with no active alarm
func NewCoordinator() *Coordinator {
	return &Coordinator{active: make(map[uuid.UUID]models.AlarmInfo)}
}

// Trigger activates the alarm definition referenced by info. Every lookup
// happens before any state is modified.
func (c *Coordinator) Trigger(info models.AlarmInfo, data *models.Data, scanners *registry.Scanners) (Triggered, error) {
	def, ok := data.Alarms[info.Alarm]
	if !ok {
		return Triggered{}, fmt.Errorf("alarm %s: %w", info.Alarm, ErrNotFound)
	}
	template, ok := data.Notifications[def.Notification]
	if !ok {
		return Triggered{}, fmt.Errorf("notification %s: %w", def.Notification, ErrNotFound)
	}
	group, ok := data.ContactGroups[def.Group]
	if !ok {
		return Triggered{}, fmt.Errorf("contact group %s: %w", def.Group, ErrNotFound)
	}

	if info.UUID == uuid.Nil {
		info.UUID = uuid.New()
	}
	c.active[info.UUID] = info

	buzzer, led := def.Buzzer, def.Led
	res := Triggered{
		Info:     info,
		Scanners: scanners.SetAlarm(buzzer, led),
		Set:      protocol.Set{Led: &led, Buzzer: &buzzer},
	}

	msg := notify.Render(template, notify.LabelsOf(info))
	for _, id := range group.Contacts {
		contact, ok := data.Contacts[id]
		if !ok {
			continue
		}
		res.Jobs = append(res.Jobs, notify.Job{Contact: contact, Message: msg})
	}
	return res, nil
}

// Stop removes the active alarm id and resets the actuators of every scanner
func (c *Coordinator) Stop(id uuid.UUID, scanners *registry.Scanners) (Stopped, error) {
	info, ok := c.active[id]
	if !ok {
		return Stopped{}, fmt.Errorf("active alarm %s: %w", id, ErrNotFound)
	}
	delete(c.active, id)

	buzzer, led := false, false
	return Stopped{
		Info:     info,
		Scanners: scanners.SetAlarm(false, false),
		Set:      protocol.Set{Led: &led, Buzzer: &buzzer},
	}, nil
}

// Active returns the firing alarms ordered by id
func (c *Coordinator) Active() []models.AlarmInfo {
	out := make([]models.AlarmInfo, 0, len(c.active))
	for _, info := range c.active {
		out = append(out, info)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].UUID.String() < out[j].UUID.String()
	})
	return out
}

// References reports whether an active alarm was raised from definition id
func (c *Coordinator) References(definition uuid.UUID) bool {
	for _, info := range c.active {
		if info.Alarm == definition {
			return true
		}
	}
	return false
}
