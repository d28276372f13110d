// Package state owns the shared domain state: registries, activity
// tracker, event log, active alarms and operator catalogs
package state

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/versatilecz/evac/internal/activity"
	"github.com/versatilecz/evac/internal/alarm"
	"github.com/versatilecz/evac/internal/broker"
	"github.com/versatilecz/evac/internal/events"
	"github.com/versatilecz/evac/internal/logging"
	"github.com/versatilecz/evac/internal/message"
	"github.com/versatilecz/evac/internal/models"
	"github.com/versatilecz/evac/internal/notify"
	"github.com/versatilecz/evac/internal/protocol"
	"github.com/versatilecz/evac/internal/registry"
)

// Control is a process wide signal
type Control int

const (
	// Reload restarts the server loops with fresh sockets
	Reload Control = iota + 1
	// Stop shuts everything down
	Stop
)

func (c Control) String() string {
	switch c {
	case Reload:
		return "reload"
	case Stop:
		return "stop"
	}
	return "unknown"
}

// NotifyTimeout bounds how long a committed transaction waits for the
// dispatcher to accept its notification batch
var NotifyTimeout = 10 * time.Second

// Settings are the values the state needs from configuration
type Settings struct {
	QuerySize    int
	ActivityDiff time.Duration
}

// State is guarded by a single reader/writer lock. Network sends,
// broadcasts and notifications requested while it is held are queued on
// the transaction and released after unlock.
type State struct {
	mu       sync.RWMutex
	clock    clockwork.Clock
	settings Settings

	data     *models.Data
	scanners *registry.Scanners
	devices  *registry.Devices
	tracker  *activity.Tracker
	events   *events.Log
	alarms   *alarm.Coordinator
	dirty    bool

	messages *broker.Broker[message.WebMessage]
	control  *broker.Broker[Control]
	commands chan protocol.Outbound
	jobs     chan []notify.Job
}

// New builds the state from a loaded snapshot
func New(data *models.Data, settings Settings, clock clockwork.Clock) *State {
	if data == nil {
		data = models.NewData()
	}
	data.Normalize()
	if settings.QuerySize < 1 {
		settings.QuerySize = 16
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}

	s := &State{
		clock:    clock,
		settings: settings,
		scanners: registry.NewScanners(data.Scanners),
		devices:  registry.NewDevices(data.Devices),
		tracker:  activity.NewTracker(),
		events:   events.NewLog(),
		alarms:   alarm.NewCoordinator(),
		messages: broker.New[message.WebMessage](settings.QuerySize),
		control:  broker.New[Control](settings.QuerySize),
		commands: make(chan protocol.Outbound, settings.QuerySize),
		jobs:     make(chan []notify.Job, settings.QuerySize),
	}

	// scanners and devices live in their registries
	catalogs := *data
	catalogs.Scanners = nil
	catalogs.Devices = nil
	s.data = &catalogs
	return s
}

// Clock returns the state clock
func (s *State) Clock() clockwork.Clock { return s.clock }

// Settings returns the configured limits
func (s *State) Settings() Settings { return s.settings }

// Messages is the operator message broker
func (s *State) Messages() *broker.Broker[message.WebMessage] { return s.messages }

// Control is the process control broker
func (s *State) Control() *broker.Broker[Control] { return s.control }

// Commands delivers outbound scanner packets to the server loop
func (s *State) Commands() <-chan protocol.Outbound { return s.commands }

// Jobs delivers the notification batch of each committed transaction to
// the dispatcher
func (s *State) Jobs() <-chan []notify.Job { return s.jobs }

// Signal publishes a control signal to every subsystem
func (s *State) Signal(c Control) {
	logging.Log.WithField("signal", c).Info("Control signal")
	s.control.Publish(c)
}

// Update runs fn under the writer lock. Side effects queued on the
// transaction are released after unlock, and only when fn succeeds.
func (s *State) Update(fn func(tx *Tx) error) error {
	s.mu.Lock()
	tx := &Tx{s: s, now: s.clock.Now()}
	if err := fn(tx); err != nil {
		s.mu.Unlock()
		return err
	}
	if tx.dirty {
		s.dirty = true
	}
	s.mu.Unlock()

	tx.flush()
	return nil
}

// View runs fn under the reader lock. fn must not modify anything.
func (s *State) View(fn func(tx *Tx)) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	fn(&Tx{s: s, now: s.clock.Now(), readOnly: true})
}

// Snapshot returns a deep enough copy of the persisted entities
func (s *State) Snapshot() *models.Data {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshotLocked()
}

func (s *State) snapshotLocked() *models.Data {
	out := models.NewData()
	out.Scanners = s.scanners.Map()
	out.Devices = s.devices.Map()
	for id, v := range s.data.Locations {
		out.Locations[id] = v
	}
	for id, v := range s.data.Rooms {
		out.Rooms[id] = v
	}
	for id, v := range s.data.Alarms {
		out.Alarms[id] = v
	}
	for id, v := range s.data.Notifications {
		out.Notifications[id] = v
	}
	for id, v := range s.data.Contacts {
		out.Contacts[id] = v
	}
	for id, v := range s.data.ContactGroups {
		out.ContactGroups[id] = v
	}
	for id, v := range s.data.Users {
		out.Users[id] = v
	}
	for id, v := range s.data.Tokens {
		out.Tokens[id] = v
	}
	return out
}

// TakeDirty returns a snapshot when something changed since the last call
func (s *State) TakeDirty() (*models.Data, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.dirty {
		return nil, false
	}
	s.dirty = false
	return s.snapshotLocked(), true
}

// MarkDirty flags the state for the next save, used when a save failed
func (s *State) MarkDirty() {
	s.mu.Lock()
	s.dirty = true
	s.mu.Unlock()
}

// Close shuts the brokers down
func (s *State) Close() {
	s.messages.Close()
	s.control.Close()
}
