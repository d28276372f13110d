// Package models contains data structures for the application
package models

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// MAC is a hardware address as reported by a scanner. It is serialized as an
// array of numbers, the format scanners and stored data use.
type MAC []byte

// MarshalJSON encodes the address as a number array instead of base64
func (m MAC) MarshalJSON() ([]byte, error) {
	values := make([]int, len(m))
	for i, b := range m {
		values[i] = int(b)
	}
	return json.Marshal(values)
}

// UnmarshalJSON accepts a number array or a hex string ("aa:bb:cc" or "aabbcc")
func (m *MAC) UnmarshalJSON(data []byte) error {
	var text string
	if err := json.Unmarshal(data, &text); err == nil {
		parsed, err := ParseMAC(text)
		if err != nil {
			return err
		}
		*m = parsed
		return nil
	}

	var values []int
	if err := json.Unmarshal(data, &values); err != nil {
		return fmt.Errorf("invalid mac: %w", err)
	}
	out := make(MAC, len(values))
	for i, v := range values {
		if v < 0 || v > 255 {
			return fmt.Errorf("invalid mac byte %d", v)
		}
		out[i] = byte(v)
	}
	*m = out
	return nil
}

// Equal reports whether both addresses hold the same bytes
func (m MAC) Equal(other MAC) bool {
	return bytes.Equal(m, other)
}

// String formats the address as colon separated hex
func (m MAC) String() string {
	parts := make([]string, len(m))
	for i, b := range m {
		parts[i] = fmt.Sprintf("%02x", b)
	}
	return strings.Join(parts, ":")
}

// ParseMAC parses colon, dash separated or plain hex addresses
func ParseMAC(text string) (MAC, error) {
	clean := strings.NewReplacer(":", "", "-", "", " ", "").Replace(strings.TrimSpace(text))
	raw, err := hex.DecodeString(clean)
	if err != nil {
		return nil, fmt.Errorf("invalid mac %q: %w", text, err)
	}
	return MAC(raw), nil
}

// Role is an operator permission
type Role string

const (
	RoleAnonymous Role = "Anonymous"
	RoleAdmin     Role = "Admin"
	RoleService   Role = "Service"
	RoleExternal  Role = "External"
)

// Scanner represents a fixed BLE scanning unit
type Scanner struct {
	UUID         uuid.UUID  `json:"uuid"`
	Name         string     `json:"name"`
	Mac          MAC        `json:"mac"`
	IP           string     `json:"ip"`
	Port         uint16     `json:"port"`
	Room         *uuid.UUID `json:"room,omitempty"`
	LastActivity time.Time  `json:"lastActivity"`
	Scan         bool       `json:"scan"`
	Led          bool       `json:"led"`
	Buzzer       bool       `json:"buzzer"`
}

// Device represents a tracked beacon or button
type Device struct {
	UUID         uuid.UUID `json:"uuid"`
	Mac          MAC       `json:"mac"`
	Name         string    `json:"name,omitempty"`
	Battery      *uint8    `json:"battery,omitempty"`
	Enabled      bool      `json:"enable"`
	LastActivity time.Time `json:"lastActivity"`
}

// Activity is the latest signal observation of one device by one scanner
type Activity struct {
	Device    uuid.UUID `json:"device"`
	Scanner   uuid.UUID `json:"scanner"`
	RSSI      int32     `json:"rssi"`
	Timestamp time.Time `json:"timestamp"`
}

// EventKind classifies semantic events
type EventKind string

const (
	EventAdvertisement EventKind = "advertisement"
	EventButtonPressed EventKind = "buttonPressed"
	EventButtonDouble  EventKind = "buttonDoublePressed"
	EventButtonTriple  EventKind = "buttonTriplePressed"
	EventButtonLong    EventKind = "buttonLongPressed"
	EventButtonHold    EventKind = "buttonHold"
	EventOperator      EventKind = "operator"
)

// Event is a deduplicated semantic occurrence
type Event struct {
	UUID      uuid.UUID  `json:"uuid"`
	Device    *uuid.UUID `json:"device,omitempty"`
	Scanner   uuid.UUID  `json:"scanner"`
	Kind      EventKind  `json:"kind"`
	Timestamp time.Time  `json:"timestamp"`
}

// Location groups rooms
type Location struct {
	UUID uuid.UUID `json:"uuid"`
	Name string    `json:"name"`
}

// Room is a named area inside a location
type Room struct {
	UUID     uuid.UUID  `json:"uuid"`
	Name     string     `json:"name"`
	Location uuid.UUID  `json:"location"`
	Points   [][2]int64 `json:"points,omitempty"`
}

// Alarm is a reusable alarm definition
type Alarm struct {
	UUID         uuid.UUID `json:"uuid"`
	Name         string    `json:"name"`
	Buzzer       bool      `json:"buzzer"`
	Led          bool      `json:"led"`
	Notification uuid.UUID `json:"notification"`
	Group        uuid.UUID `json:"group"`
}

// AlarmInfo is a currently firing alarm instance
type AlarmInfo struct {
	UUID     uuid.UUID `json:"uuid"`
	Alarm    uuid.UUID `json:"alarm"`
	Device   string    `json:"device"`
	Scanner  string    `json:"scanner"`
	Room     string    `json:"room"`
	Location string    `json:"location"`
}

// Notification is a message template with %device%, %scanner%, %room%
// and %location% placeholders
type Notification struct {
	UUID    uuid.UUID `json:"uuid"`
	Name    string    `json:"name"`
	Subject string    `json:"subject"`
	Short   string    `json:"short"`
	Long    string    `json:"long"`
}

// EmailTarget addresses an email recipient
type EmailTarget struct {
	Email string `json:"email"`
}

// SmsTarget addresses a phone number
type SmsTarget struct {
	Number string `json:"number"`
}

// TelegramTarget addresses a Telegram chat
type TelegramTarget struct {
	ChatID int64 `json:"chatId"`
}

// Contact is a notification recipient. Exactly one target is expected to be set.
type Contact struct {
	UUID     uuid.UUID       `json:"uuid"`
	Name     string          `json:"name"`
	Email    *EmailTarget    `json:"email,omitempty"`
	Sms      *SmsTarget      `json:"sms,omitempty"`
	Telegram *TelegramTarget `json:"telegram,omitempty"`
}

// ContactGroup is a named set of contacts
type ContactGroup struct {
	UUID     uuid.UUID   `json:"uuid"`
	Name     string      `json:"name"`
	Contacts []uuid.UUID `json:"contacts"`
}

// User is an operator account
type User struct {
	UUID     uuid.UUID `json:"uuid"`
	Username string    `json:"username"`
	Password string    `json:"password,omitempty"`
	Roles    []Role    `json:"roles"`
}

// Token is an API token for service and external integrations
type Token struct {
	UUID    uuid.UUID  `json:"uuid"`
	Name    string     `json:"name"`
	User    uuid.UUID  `json:"user"`
	Token   string     `json:"token"`
	Roles   []Role     `json:"roles"`
	Expires *time.Time `json:"expires,omitempty"`
}

// Backup describes a stored data snapshot
type Backup struct {
	Name      string    `json:"name"`
	URL       string    `json:"url"`
	Size      int64     `json:"size"`
	Timestamp time.Time `json:"timestamp"`
}

// Data is the persisted snapshot of every operator managed entity
type Data struct {
	Scanners      map[uuid.UUID]Scanner      `json:"scanners"`
	Devices       map[uuid.UUID]Device       `json:"devices"`
	Locations     map[uuid.UUID]Location     `json:"locations"`
	Rooms         map[uuid.UUID]Room         `json:"rooms"`
	Alarms        map[uuid.UUID]Alarm        `json:"alarms"`
	Notifications map[uuid.UUID]Notification `json:"notifications"`
	Contacts      map[uuid.UUID]Contact      `json:"contacts"`
	ContactGroups map[uuid.UUID]ContactGroup `json:"contactGroups"`
	Users         map[uuid.UUID]User         `json:"users"`
	Tokens        map[uuid.UUID]Token        `json:"tokens"`
}

// NewData returns an empty snapshot with every map allocated
func NewData() *Data {
	d := &Data{}
	d.Normalize()
	return d
}

// Normalize allocates maps left nil by decoding
func (d *Data) Normalize() {
	if d.Scanners == nil {
		d.Scanners = make(map[uuid.UUID]Scanner)
	}
	if d.Devices == nil {
		d.Devices = make(map[uuid.UUID]Device)
	}
	if d.Locations == nil {
		d.Locations = make(map[uuid.UUID]Location)
	}
	if d.Rooms == nil {
		d.Rooms = make(map[uuid.UUID]Room)
	}
	if d.Alarms == nil {
		d.Alarms = make(map[uuid.UUID]Alarm)
	}
	if d.Notifications == nil {
		d.Notifications = make(map[uuid.UUID]Notification)
	}
	if d.Contacts == nil {
		d.Contacts = make(map[uuid.UUID]Contact)
	}
	if d.ContactGroups == nil {
		d.ContactGroups = make(map[uuid.UUID]ContactGroup)
	}
	if d.Users == nil {
		d.Users = make(map[uuid.UUID]User)
	}
	if d.Tokens == nil {
		d.Tokens = make(map[uuid.UUID]Token)
	}
}

// DetectionRequest is a scan result posted over HTTP by scanners that do
// not speak the datagram protocol. Addresses and data are hex strings.
type DetectionRequest struct {
	ScannerMac string `json:"scanner_mac"`
	Mac        string `json:"mac"`
	RSSI       int32  `json:"rssi"`
	Data       string `json:"data"`
}
