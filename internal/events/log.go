// Package events keeps one entry per semantic condition reported by scanners
package events

import (
	"sort"

	"github.com/google/uuid"

	"github.com/versatilecz/evac/internal/models"
)

type key struct {
	scanner uuid.UUID
	device  uuid.UUID
	kind    models.EventKind
}

func keyOf(e models.Event) key {
	k := key{scanner: e.Scanner, kind: e.Kind}
	if e.Device != nil {
		k.device = *e.Device
	}
	return k
}

// Log is a deduplicated event log. It is not safe for concurrent use.
type Log struct {
	byUUID map[uuid.UUID]models.Event
	byKey  map[key]uuid.UUID
}

// NewLog creates an empty log
func NewLog() *Log {
	return &Log{
		byUUID: make(map[uuid.UUID]models.Event),
		byKey:  make(map[key]uuid.UUID),
	}
}

// Record inserts e, or refreshes the timestamp of the event already logged
// for the same scanner, device and kind. It returns the stored event and
// whether it was newly inserted.
func (l *Log) Record(e models.Event) (models.Event, bool) {
	k := keyOf(e)
	if id, ok := l.byKey[k]; ok {
		existing := l.byUUID[id]
		existing.Timestamp = e.Timestamp
		l.byUUID[id] = existing
		return existing, false
	}

	if e.UUID == uuid.Nil {
		e.UUID = uuid.New()
	}
	l.byUUID[e.UUID] = e
	l.byKey[k] = e.UUID
	return e, true
}

// Get returns the event with id
func (l *Log) Get(id uuid.UUID) (models.Event, bool) {
	e, ok := l.byUUID[id]
	return e, ok
}

// Remove deletes the event with id
func (l *Log) Remove(id uuid.UUID) bool {
	e, ok := l.byUUID[id]
	if !ok {
		return false
	}
	delete(l.byUUID, id)
	delete(l.byKey, keyOf(e))
	return true
}

// RemoveDevice deletes every event of device and returns the removed ids
func (l *Log) RemoveDevice(device uuid.UUID) []uuid.UUID {
	return l.removeWhere(func(e models.Event) bool {
		return e.Device != nil && *e.Device == device
	})
}

// RemoveScanner deletes every event attributed to scanner and returns the
// removed ids
func (l *Log) RemoveScanner(scanner uuid.UUID) []uuid.UUID {
	return l.removeWhere(func(e models.Event) bool { return e.Scanner == scanner })
}

func (l *Log) removeWhere(match func(models.Event) bool) []uuid.UUID {
	var removed []uuid.UUID
	for id, e := range l.byUUID {
		if match(e) {
			removed = append(removed, id)
		}
	}
	for _, id := range removed {
		l.Remove(id)
	}
	return removed
}

// List returns every event, newest first
func (l *Log) List() []models.Event {
	out := make([]models.Event, 0, len(l.byUUID))
	for _, e := range l.byUUID {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Timestamp.After(out[j].Timestamp)
	})
	return out
}

// Len returns the number of logged events
func (l *Log) Len() int {
	return len(l.byUUID)
}
