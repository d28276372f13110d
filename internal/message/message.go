// Package message defines the JSON messages exchanged with operator clients
package message

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/versatilecz/evac/internal/models"
)

// Kind names a message variant
type Kind string

// Entity names the operator managed collections
type Entity string

const (
	Location     Entity = "Location"
	Room         Entity = "Room"
	Scanner      Entity = "Scanner"
	Device       Entity = "Device"
	Event        Entity = "Event"
	Alarm        Entity = "Alarm"
	Contact      Entity = "Contact"
	ContactGroup Entity = "ContactGroup"
	Notification Entity = "Notification"
	User         Entity = "User"
	Token        Entity = "Token"
)

// Entities lists every managed collection
var Entities = []Entity{
	Location, Room, Scanner, Device, Event, Alarm, Contact, ContactGroup, Notification, User, Token,
}

// List, Set, Detail, Remove and Removed build the per entity kinds
func (e Entity) List() Kind    { return Kind(string(e) + "List") }
func (e Entity) Set() Kind     { return Kind(string(e) + "Set") }
func (e Entity) Detail() Kind  { return Kind(string(e) + "Detail") }
func (e Entity) Remove() Kind  { return Kind(string(e) + "Remove") }
func (e Entity) Removed() Kind { return Kind(string(e) + "Removed") }

// Session, domain and tool kinds
const (
	KindLogin           Kind = "Login"
	KindLogout          Kind = "Logout"
	KindUserInfo        Kind = "UserInfo"
	KindVersion         Kind = "Version"
	KindError           Kind = "Error"
	KindActivity        Kind = "Activity"
	KindActivityList    Kind = "ActivityList"
	KindAlarmTrigger    Kind = "Alarm"
	KindAlarmStop       Kind = "AlarmStop"
	KindActiveAlarmList Kind = "ActiveAlarmList"
	KindBackup          Kind = "Backup"
	KindBackupDetail    Kind = "BackupDetail"
	KindBackupList      Kind = "BackupList"
)

// ErrMalformed is returned for messages that are not a tagged variant
var ErrMalformed = errors.New("malformed operator message")

// WebMessage is a tagged union serialized as `{"Kind": payload}`, or as
// the bare string `"Kind"` when it carries no payload
type WebMessage struct {
	Kind    Kind
	Payload interface{}
	raw     json.RawMessage
}

// New builds an outbound message
func New(kind Kind, payload interface{}) WebMessage {
	return WebMessage{Kind: kind, Payload: payload}
}

// Errorf builds an Error message for the client
func Errorf(format string, args ...interface{}) WebMessage {
	return New(KindError, ErrorInfo{Text: fmt.Sprintf(format, args...)})
}

// MarshalJSON implements json.Marshaler
func (m WebMessage) MarshalJSON() ([]byte, error) {
	if m.Payload == nil && len(m.raw) == 0 {
		return json.Marshal(string(m.Kind))
	}
	var payload interface{} = m.Payload
	if m.Payload == nil {
		payload = m.raw
	}
	return json.Marshal(map[string]interface{}{string(m.Kind): payload})
}

// UnmarshalJSON implements json.Unmarshaler. The payload is kept raw until
// Decode is called with the type the kind expects.
func (m *WebMessage) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var kind string
		if err := json.Unmarshal(data, &kind); err != nil {
			return fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		*m = WebMessage{Kind: Kind(kind)}
		return nil
	}

	var obj map[string]json.RawMessage
	if err := json.Unmarshal(data, &obj); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if len(obj) != 1 {
		return fmt.Errorf("%w: expected exactly one variant, got %d", ErrMalformed, len(obj))
	}
	for kind, raw := range obj {
		*m = WebMessage{Kind: Kind(kind), raw: raw}
	}
	return nil
}

// Decode unmarshals the payload of a received message into dst
func (m WebMessage) Decode(dst interface{}) error {
	if len(m.raw) == 0 {
		if m.Payload != nil {
			// locally built message, round trip through JSON
			data, err := json.Marshal(m.Payload)
			if err != nil {
				return err
			}
			return json.Unmarshal(data, dst)
		}
		return fmt.Errorf("%w: %s carries no payload", ErrMalformed, m.Kind)
	}
	if err := json.Unmarshal(m.raw, dst); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrMalformed, m.Kind, err)
	}
	return nil
}

// DecodeUUID decodes a payload that is a single identity
func (m WebMessage) DecodeUUID() (uuid.UUID, error) {
	var id uuid.UUID
	err := m.Decode(&id)
	return id, err
}

// Parse decodes a raw client frame
func Parse(data []byte) (WebMessage, error) {
	var m WebMessage
	err := m.UnmarshalJSON(data)
	return m, err
}

// Login authenticates a session with a password or an API token
type Login struct {
	Username string `json:"username,omitempty"`
	Password string `json:"password,omitempty"`
	Token    string `json:"token,omitempty"`
}

// UserInfo describes the logged in user
type UserInfo struct {
	Username string        `json:"username"`
	Roles    []models.Role `json:"roles"`
}

// ErrorInfo is sent to a session whose command failed
type ErrorInfo struct {
	Text string `json:"text"`
}

// VersionInfo identifies the running server
type VersionInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}
