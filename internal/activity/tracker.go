// Package activity tracks which scanner currently hears each device best
package activity

import (
	"time"

	"github.com/google/uuid"

	"github.com/versatilecz/evac/internal/models"
)

// RepublishInterval is the minimum age difference between two best
// observations of the same scanner that is reported as a change
const RepublishInterval = time.Second

// Tracker keeps the latest observation of every (device, scanner) pair.
// It is not safe for concurrent use, callers hold the state lock.
type Tracker struct {
	devices map[uuid.UUID][]models.Activity
}

// NewTracker creates an empty tracker
func NewTracker() *Tracker {
	return &Tracker{devices: make(map[uuid.UUID][]models.Activity)}
}

// Push records an observation and reports whether the best scanner for the
// device changed enough to be published
func (t *Tracker) Push(device, scanner uuid.UUID, timestamp time.Time, rssi int32) bool {
	before, hadBefore := t.Best(device)

	list := t.devices[device]
	updated := false
	for i := range list {
		if list[i].Scanner == scanner {
			list[i].RSSI = rssi
			list[i].Timestamp = timestamp
			updated = true
			break
		}
	}
	if !updated {
		list = append(list, models.Activity{
			Device:    device,
			Scanner:   scanner,
			RSSI:      rssi,
			Timestamp: timestamp,
		})
	}
	t.devices[device] = list

	after, _ := t.Best(device)
	if !hadBefore {
		return true
	}
	if after.Scanner != before.Scanner {
		return true
	}
	return after.Timestamp.Sub(before.Timestamp) > RepublishInterval
}

// Best returns the strongest observation of device. Ties keep the entry
// inserted first.
func (t *Tracker) Best(device uuid.UUID) (models.Activity, bool) {
	list := t.devices[device]
	if len(list) == 0 {
		return models.Activity{}, false
	}

	best := list[0]
	for _, a := range list[1:] {
		if a.RSSI > best.RSSI {
			best = a
		}
	}
	return best, true
}

// Clear drops observations older than maxAge and forgets devices left
// without any observation
func (t *Tracker) Clear(maxAge time.Duration, now time.Time) {
	for device, list := range t.devices {
		kept := list[:0]
		for _, a := range list {
			if now.Sub(a.Timestamp) <= maxAge {
				kept = append(kept, a)
			}
		}
		if len(kept) == 0 {
			delete(t.devices, device)
			continue
		}
		t.devices[device] = kept
	}
}

// Remove forgets every observation of device
func (t *Tracker) Remove(device uuid.UUID) {
	delete(t.devices, device)
}

// RemoveScanner drops observations reported by scanner
func (t *Tracker) RemoveScanner(scanner uuid.UUID) {
	for device, list := range t.devices {
		kept := list[:0]
		for _, a := range list {
			if a.Scanner != scanner {
				kept = append(kept, a)
			}
		}
		if len(kept) == 0 {
			delete(t.devices, device)
			continue
		}
		t.devices[device] = kept
	}
}

// List returns the best observation of every tracked device
func (t *Tracker) List() []models.Activity {
	out := make([]models.Activity, 0, len(t.devices))
	for device := range t.devices {
		if best, ok := t.Best(device); ok {
			out = append(out, best)
		}
	}
	return out
}

// Observations returns a copy of every observation of device in insertion order
func (t *Tracker) Observations(device uuid.UUID) []models.Activity {
	list := t.devices[device]
	out := make([]models.Activity, len(list))
	copy(out, list)
	return out
}

// Len returns the number of tracked devices
func (t *Tracker) Len() int {
	return len(t.devices)
}
