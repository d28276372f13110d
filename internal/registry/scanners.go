// Package registry holds the scanner and device registries
package registry

import (
	"errors"
	"net/netip"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/versatilecz/evac/internal/models"
)

// ErrDuplicateMac is returned when a record would share its mac with another one
var ErrDuplicateMac = errors.New("mac already registered")

// Scanners maps scanner identity to scanner records and resolves socket
// addresses to identities. It is not safe for concurrent use.
type Scanners struct {
	byUUID map[uuid.UUID]models.Scanner
	// byAddr is a fast-path cache, the records themselves are authoritative
	byAddr map[netip.AddrPort]uuid.UUID
}

// NewScanners creates a registry seeded with stored scanners
func NewScanners(stored map[uuid.UUID]models.Scanner) *Scanners {
	r := &Scanners{
		byUUID: make(map[uuid.UUID]models.Scanner, len(stored)),
		byAddr: make(map[netip.AddrPort]uuid.UUID, len(stored)),
	}
	for id, s := range stored {
		s.UUID = id
		r.byUUID[id] = s
		if addr, ok := AddrOf(s); ok {
			r.byAddr[addr] = id
		}
	}
	return r
}

// AddrOf returns the socket address stored in a scanner record
func AddrOf(s models.Scanner) (netip.AddrPort, bool) {
	ip, err := netip.ParseAddr(s.IP)
	if err != nil || s.Port == 0 {
		return netip.AddrPort{}, false
	}
	return netip.AddrPortFrom(ip, s.Port), true
}

func setAddr(s *models.Scanner, addr netip.AddrPort) {
	s.IP = addr.Addr().Unmap().String()
	s.Port = addr.Port()
}

func normalize(addr netip.AddrPort) netip.AddrPort {
	return netip.AddrPortFrom(addr.Addr().Unmap(), addr.Port())
}

// Register refreshes the scanner with mac or creates it. The second result
// is true when a new record was created. Other scanners whose records still
// hold addr lose their address and are returned as displaced.
func (r *Scanners) Register(mac models.MAC, addr netip.AddrPort, now time.Time) (models.Scanner, bool, []models.Scanner) {
	addr = normalize(addr)

	scanner, found := r.ByMac(mac)
	if !found {
		scanner = models.Scanner{
			UUID: uuid.New(),
			Mac:  append(models.MAC(nil), mac...),
			Scan: true,
		}
	}

	if old, ok := AddrOf(scanner); ok && old != addr {
		if r.byAddr[old] == scanner.UUID {
			delete(r.byAddr, old)
		}
	}
	setAddr(&scanner, addr)
	scanner.LastActivity = now

	var displaced []models.Scanner
	for id, other := range r.byUUID {
		if id == scanner.UUID {
			continue
		}
		if cur, ok := AddrOf(other); ok && cur == addr {
			other.IP = ""
			other.Port = 0
			r.byUUID[id] = other
			displaced = append(displaced, other)
		}
	}
	sort.Slice(displaced, func(i, j int) bool { return displaced[i].Mac.String() < displaced[j].Mac.String() })

	r.byUUID[scanner.UUID] = scanner
	r.byAddr[addr] = scanner.UUID
	return scanner, !found, displaced
}

// Ensure returns the scanner with mac, creating one without a network
// address when it is unknown
func (r *Scanners) Ensure(mac models.MAC, now time.Time) (models.Scanner, bool) {
	if s, ok := r.ByMac(mac); ok {
		s.LastActivity = now
		r.byUUID[s.UUID] = s
		return s, false
	}
	s := models.Scanner{
		UUID:         uuid.New(),
		Mac:          append(models.MAC(nil), mac...),
		Scan:         true,
		LastActivity: now,
	}
	r.byUUID[s.UUID] = s
	return s, true
}

// Resolve finds the scanner that last registered from addr
func (r *Scanners) Resolve(addr netip.AddrPort) (models.Scanner, bool) {
	addr = normalize(addr)

	if id, ok := r.byAddr[addr]; ok {
		if s, ok := r.byUUID[id]; ok {
			if cur, ok := AddrOf(s); ok && cur == addr {
				return s, true
			}
		}
		delete(r.byAddr, addr)
	}

	for id, s := range r.byUUID {
		if cur, ok := AddrOf(s); ok && cur == addr {
			r.byAddr[addr] = id
			return s, true
		}
	}
	return models.Scanner{}, false
}

// Touch updates the last activity of scanner id
func (r *Scanners) Touch(id uuid.UUID, now time.Time) {
	if s, ok := r.byUUID[id]; ok {
		s.LastActivity = now
		r.byUUID[id] = s
	}
}

// Get returns the scanner with id
func (r *Scanners) Get(id uuid.UUID) (models.Scanner, bool) {
	s, ok := r.byUUID[id]
	return s, ok
}

// ByMac returns the scanner with mac
func (r *Scanners) ByMac(mac models.MAC) (models.Scanner, bool) {
	for _, s := range r.byUUID {
		if s.Mac.Equal(mac) {
			return s, true
		}
	}
	return models.Scanner{}, false
}

// Set stores an operator supplied record. Network address and activity are
// owned by the registry and kept from the existing record.
func (r *Scanners) Set(s models.Scanner) (models.Scanner, error) {
	if other, ok := r.ByMac(s.Mac); ok && other.UUID != s.UUID {
		return models.Scanner{}, ErrDuplicateMac
	}
	if existing, ok := r.byUUID[s.UUID]; ok {
		s.IP = existing.IP
		s.Port = existing.Port
		s.LastActivity = existing.LastActivity
	}
	r.byUUID[s.UUID] = s
	if addr, ok := AddrOf(s); ok {
		r.byAddr[addr] = s.UUID
	}
	return s, nil
}

// Remove deletes scanner id
func (r *Scanners) Remove(id uuid.UUID) bool {
	if _, ok := r.byUUID[id]; !ok {
		return false
	}
	delete(r.byUUID, id)
	for addr, owner := range r.byAddr {
		if owner == id {
			delete(r.byAddr, addr)
		}
	}
	return true
}

// SetAlarm sets led and buzzer on every scanner and returns the updated records
func (r *Scanners) SetAlarm(buzzer, led bool) []models.Scanner {
	for id, s := range r.byUUID {
		s.Buzzer = buzzer
		s.Led = led
		r.byUUID[id] = s
	}
	return r.List()
}

// List returns every scanner ordered by name then mac
func (r *Scanners) List() []models.Scanner {
	out := make([]models.Scanner, 0, len(r.byUUID))
	for _, s := range r.byUUID {
		out = append(out, s)
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
func (r *Scanners) Map() map[uuid.UUID]models.Scanner {
	out := make(map[uuid.UUID]models.Scanner, len(r.byUUID))
	for id, s := range r.byUUID {
		out[id] = s
	}
	return out
}

// Len returns the number of scanners
func (r *Scanners) Len() int {
	return len(r.byUUID)
}
