package registry

import (
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/versatilecz/evac/internal/models"
)

// Devices maps device mac to device records. It is not safe for concurrent use.
type Devices struct {
	byUUID map[uuid.UUID]models.Device
	byMac  map[string]uuid.UUID
}

// NewDevices creates a registry seeded with stored devices
func NewDevices(stored map[uuid.UUID]models.Device) *Devices {
	r := &Devices{
		byUUID: make(map[uuid.UUID]models.Device, len(stored)),
		byMac:  make(map[string]uuid.UUID, len(stored)),
	}
	for id, d := range stored {
		d.UUID = id
		r.byUUID[id] = d
		r.byMac[string(d.Mac)] = id
	}
	return r
}

// GetOrCreate returns the device with mac, creating a disabled record on
// first sighting. The second result is true when the record was created.
func (r *Devices) GetOrCreate(mac models.MAC, now time.Time) (models.Device, bool) {
	if id, ok := r.byMac[string(mac)]; ok {
		if d, ok := r.byUUID[id]; ok {
			return d, false
		}
	}

	d := models.Device{
		UUID:         uuid.New(),
		Mac:          append(models.MAC(nil), mac...),
		LastActivity: now,
	}
	r.byUUID[d.UUID] = d
	r.byMac[string(d.Mac)] = d.UUID
	return d, true
}

// Get returns the device with id
func (r *Devices) Get(id uuid.UUID) (models.Device, bool) {
	d, ok := r.byUUID[id]
	return d, ok
}

// ByMac returns the device with mac
func (r *Devices) ByMac(mac models.MAC) (models.Device, bool) {
	id, ok := r.byMac[string(mac)]
	if !ok {
		return models.Device{}, false
	}
	d, ok := r.byUUID[id]
	return d, ok
}

// Put stores d as is
func (r *Devices) Put(d models.Device) error {
	if id, ok := r.byMac[string(d.Mac)]; ok && id != d.UUID {
		return ErrDuplicateMac
	}
	if old, ok := r.byUUID[d.UUID]; ok && string(old.Mac) != string(d.Mac) {
		delete(r.byMac, string(old.Mac))
	}
	r.byUUID[d.UUID] = d
	r.byMac[string(d.Mac)] = d.UUID
	return nil
}

// Remove deletes device id
func (r *Devices) Remove(id uuid.UUID) bool {
	d, ok := r.byUUID[id]
	if !ok {
		return false
	}
	delete(r.byUUID, id)
	delete(r.byMac, string(d.Mac))
	return true
}

// Expired returns devices that are not enabled and were last seen more than
// maxAge before now
func (r *Devices) Expired(maxAge time.Duration, now time.Time) []models.Device {
	var out []models.Device
	for _, d := range r.byUUID {
		if !d.Enabled && now.Sub(d.LastActivity) > maxAge {
			out = append(out, d)
		}
	}
	return out
}

// List returns every device ordered by name then mac
func (r *Devices) List() []models.Device {
	out := make([]models.Device, 0, len(r.byUUID))
	for _, d := range r.byUUID {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].Mac.String() < out[j].Mac.String()
	})
	return out
}

// Map returns a copy of the registry keyed by uuid
func (r *Devices) Map() map[uuid.UUID]models.Device {
	out := make(map[uuid.UUID]models.Device, len(r.byUUID))
	for id, d := range r.byUUID {
		out[id] = d
	}
	return out
}

// Len returns the number of devices
func (r *Devices) Len() int {
	return len(r.byUUID)
}
