package state

import (
	"time"

	"github.com/versatilecz/evac/internal/activity"
	"github.com/versatilecz/evac/internal/alarm"
	"github.com/versatilecz/evac/internal/events"
	"github.com/versatilecz/evac/internal/logging"
	"github.com/versatilecz/evac/internal/message"
	"github.com/versatilecz/evac/internal/models"
	"github.com/versatilecz/evac/internal/notify"
	"github.com/versatilecz/evac/internal/protocol"
	"github.com/versatilecz/evac/internal/registry"
)

// Tx is the handle passed to Update and View callbacks
type Tx struct {
	s        *State
	now      time.Time
	readOnly bool

	publish  []message.WebMessage
	outbound []protocol.Outbound
	jobs     []notify.Job
	dirty    bool
}

// Now is the time the transaction started
func (tx *Tx) Now() time.Time { return tx.now }

// Settings returns the configured limits
func (tx *Tx) Settings() Settings { return tx.s.settings }

// Scanners returns the scanner registry
func (tx *Tx) Scanners() *registry.Scanners { return tx.s.scanners }

// Devices returns the device registry
func (tx *Tx) Devices() *registry.Devices { return tx.s.devices }

// Tracker returns the activity tracker
func (tx *Tx) Tracker() *activity.Tracker { return tx.s.tracker }

// Events returns the event log
func (tx *Tx) Events() *events.Log { return tx.s.events }

// Alarms returns the alarm coordinator
func (tx *Tx) Alarms() *alarm.Coordinator { return tx.s.alarms }

// Data returns the operator catalogs. Scanner and device maps are empty,
// use the registries.
func (tx *Tx) Data() *models.Data { return tx.s.data }

// Publish queues an operator message
func (tx *Tx) Publish(m message.WebMessage) {
	tx.publish = append(tx.publish, m)
}

// Send queues a packet for the server loop
func (tx *Tx) Send(o protocol.Outbound) {
	tx.outbound = append(tx.outbound, o)
}

// Notify queues notification jobs
func (tx *Tx) Notify(jobs ...notify.Job) {
	tx.jobs = append(tx.jobs, jobs...)
}

// MarkDirty flags the persisted entities as modified
func (tx *Tx) MarkDirty() {
	tx.dirty = true
}

func (tx *Tx) flush() {
	if tx.readOnly {
		return
	}
	for _, m := range tx.publish {
		tx.s.messages.Publish(m)
	}
	for _, o := range tx.outbound {
		select {
		case tx.s.commands <- o:
		default:
			logging.Log.WithField("message", o.Message.String()).Warn("Command queue full, dropping packet")
		}
	}
	if len(tx.jobs) == 0 {
		return
	}
	// a full queue holds the committer for at most NotifyTimeout
	select {
	case tx.s.jobs <- tx.jobs:
		return
	default:
	}
	timer := time.NewTimer(NotifyTimeout)
	defer timer.Stop()
	select {
	case tx.s.jobs <- tx.jobs:
	case <-timer.C:
		logging.Log.WithField("jobs", len(tx.jobs)).Error("Notification dispatcher stalled, dropping batch")
	}
}
