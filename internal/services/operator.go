package services

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"

	"github.com/versatilecz/evac/internal/alarm"
	"github.com/versatilecz/evac/internal/logging"
	"github.com/versatilecz/evac/internal/message"
	"github.com/versatilecz/evac/internal/models"
	"github.com/versatilecz/evac/internal/protocol"
	"github.com/versatilecz/evac/internal/registry"
	"github.com/versatilecz/evac/internal/repository"
	"github.com/versatilecz/evac/internal/state"
	"github.com/versatilecz/evac/internal/version"
)

// Principal is the identity a session acts as
type Principal struct {
	User     uuid.UUID
	Username string
	Roles    []models.Role
}

// Anonymous is the principal of a session that did not log in
var Anonymous = Principal{Roles: []models.Role{models.RoleAnonymous}}

// Operator defines the interface the operator sessions use
type Operator interface {
	Login(ctx context.Context, req message.Login) (Principal, error)
	Snapshot(p Principal) []message.WebMessage
	Handle(ctx context.Context, p Principal, m message.WebMessage) ([]message.WebMessage, error)
}

// OperatorService applies operator commands to the shared state
type OperatorService struct {
	state   *state.State
	backups repository.BackupStore
	log     *logrus.Entry
}

// NewOperatorService creates a new operator service
func NewOperatorService(st *state.State, backups repository.BackupStore) *OperatorService {
	if backups == nil {
		backups = repository.NoBackups{}
	}
	return &OperatorService{state: st, backups: backups, log: logging.Component("operator")}
}

var _ Operator = (*OperatorService)(nil)

// EnsureAdmin creates the admin account when no user exists yet
func (s *OperatorService) EnsureAdmin(password string) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("failed to hash admin password: %w", err)
	}
	return s.state.Update(func(tx *state.Tx) error {
		if len(tx.Data().Users) > 0 {
			return nil
		}
		admin := models.User{
			UUID:     uuid.New(),
			Username: "admin",
			Password: string(hash),
			Roles:    []models.Role{models.RoleAdmin},
		}
		tx.Data().Users[admin.UUID] = admin
		tx.MarkDirty()
		s.log.Info("Created default admin user")
		return nil
	})
}

// Login checks a password or an API token
func (s *OperatorService) Login(ctx context.Context, req message.Login) (Principal, error) {
	var (
		principal Principal
		hash      string
		found     bool
	)

	s.state.View(func(tx *state.Tx) {
		if req.Token != "" {
			for _, t := range tx.Data().Tokens {
				if t.Token != req.Token {
					continue
				}
				if t.Expires != nil && tx.Now().After(*t.Expires) {
					return
				}
				principal = Principal{User: t.User, Username: t.Name, Roles: append([]models.Role(nil), t.Roles...)}
				if u, ok := tx.Data().Users[t.User]; ok {
					principal.Username = u.Username
				}
				found = true
				return
			}
			return
		}
		for _, u := range tx.Data().Users {
			if u.Username == req.Username {
				principal = Principal{User: u.UUID, Username: u.Username, Roles: append([]models.Role(nil), u.Roles...)}
				hash = u.Password
				found = true
				return
			}
		}
	})

	if !found {
		return Anonymous, fmt.Errorf("unknown credentials: %w", ErrForbidden)
	}
	if req.Token == "" {
		// bcrypt runs outside the lock
		if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(req.Password)); err != nil {
			return Anonymous, fmt.Errorf("wrong password for %s: %w", req.Username, ErrForbidden)
		}
	}
	s.log.WithField("user", principal.Username).Info("Operator logged in")
	return principal, nil
}

// Snapshot returns the lists sent to a session right after login. The
// session filters them by role.
func (s *OperatorService) Snapshot(p Principal) []message.WebMessage {
	var out []message.WebMessage
	s.state.View(func(tx *state.Tx) {
		for _, e := range message.Entities {
			out = append(out, message.New(e.List(), listEntity(tx, e)))
		}
		out = append(out,
			message.New(message.KindActivityList, tx.Tracker().List()),
			message.New(message.KindActiveAlarmList, tx.Alarms().Active()),
		)
	})
	return out
}

// Handle executes one operator command. Replies go back to the requesting
// session only, changes are published to everybody.
func (s *OperatorService) Handle(ctx context.Context, p Principal, m message.WebMessage) ([]message.WebMessage, error) {
	switch m.Kind {
	case message.KindVersion:
		return []message.WebMessage{message.New(message.KindVersion, message.VersionInfo{
			Name:    version.Name,
			Version: version.Version,
		})}, nil

	case message.KindActivityList:
		var list []models.Activity
		s.state.View(func(tx *state.Tx) { list = tx.Tracker().List() })
		return []message.WebMessage{message.New(message.KindActivityList, list)}, nil

	case message.KindActiveAlarmList:
		var list []models.AlarmInfo
		s.state.View(func(tx *state.Tx) { list = tx.Alarms().Active() })
		return []message.WebMessage{message.New(message.KindActiveAlarmList, list)}, nil

	case message.KindAlarmTrigger:
		var info models.AlarmInfo
		if err := m.Decode(&info); err != nil {
			return nil, fmt.Errorf("%v: %w", err, ErrInvalid)
		}
		return nil, s.TriggerAlarm(info)

	case message.KindAlarmStop:
		id, err := m.DecodeUUID()
		if err != nil {
			return nil, fmt.Errorf("%v: %w", err, ErrInvalid)
		}
		return nil, s.StopAlarm(id)

	case message.KindBackup:
		backup, err := s.Backup(ctx)
		if err != nil {
			return nil, err
		}
		return []message.WebMessage{message.New(message.KindBackupDetail, backup)}, nil

	case message.KindBackupList:
		list, err := s.backups.List(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list backups: %w", err)
		}
		return []message.WebMessage{message.New(message.KindBackupList, list)}, nil
	}

	for _, e := range message.Entities {
		switch m.Kind {
		case e.List():
			var list interface{}
			s.state.View(func(tx *state.Tx) { list = listEntity(tx, e) })
			return []message.WebMessage{message.New(e.List(), list)}, nil
		case e.Set():
			return nil, s.set(e, m)
		case e.Remove():
			id, err := m.DecodeUUID()
			if err != nil {
				return nil, fmt.Errorf("%v: %w", err, ErrInvalid)
			}
			return nil, s.Remove(e, id)
		}
	}
	return nil, fmt.Errorf("unsupported message %s: %w", m.Kind, ErrInvalid)
}

// TriggerAlarm fires an alarm definition
func (s *OperatorService) TriggerAlarm(info models.AlarmInfo) error {
	return s.state.Update(func(tx *state.Tx) error {
		res, err := tx.Alarms().Trigger(info, tx.Data(), tx.Scanners())
		if err != nil {
			if errors.Is(err, alarm.ErrNotFound) {
				return fmt.Errorf("%v: %w", err, ErrNotFound)
			}
			return err
		}

		tx.Send(protocol.Outbound{Message: protocol.NewMessage(res.Set)})
		for _, sc := range res.Scanners {
			tx.Publish(message.New(message.Scanner.Detail(), sc))
		}
		tx.MarkDirty()
		tx.Notify(res.Jobs...)
		tx.Publish(message.New(message.KindAlarmTrigger, res.Info))
		s.log.WithFields(logrus.Fields{
			"alarm":    res.Info.UUID,
			"device":   res.Info.Device,
			"contacts": len(res.Jobs),
		}).Warn("Alarm triggered")
		return nil
	})
}

// StopAlarm stops an active alarm
func (s *OperatorService) StopAlarm(id uuid.UUID) error {
	return s.state.Update(func(tx *state.Tx) error {
		res, err := tx.Alarms().Stop(id, tx.Scanners())
		if err != nil {
			if errors.Is(err, alarm.ErrNotFound) {
				return fmt.Errorf("%v: %w", err, ErrNotFound)
			}
			return err
		}

		tx.Send(protocol.Outbound{Message: protocol.NewMessage(res.Set)})
		for _, sc := range res.Scanners {
			tx.Publish(message.New(message.Scanner.Detail(), sc))
		}
		tx.MarkDirty()
		tx.Publish(message.New(message.KindAlarmStop, id))
		s.log.WithField("alarm", id).Info("Alarm stopped")
		return nil
	})
}

// Backup stores the current snapshot in the backup store
func (s *OperatorService) Backup(ctx context.Context) (models.Backup, error) {
	backup, err := s.backups.Backup(ctx, s.state.Snapshot())
	if err != nil {
		return models.Backup{}, fmt.Errorf("failed to create backup: %w", err)
	}
	s.log.WithField("name", backup.Name).Info("Backup created")
	return backup, nil
}

func sortedValues[T any](m map[uuid.UUID]T, name func(T) string) []T {
	out := make([]T, 0, len(m))
	for _, v := range m {
		out = append(out, v)
	}
	sort.SliceStable(out, func(i, j int) bool { return name(out[i]) < name(out[j]) })
	return out
}

func publicUser(u models.User) models.User {
	u.Password = ""
	return u
}

func listEntity(tx *state.Tx, e message.Entity) interface{} {
	d := tx.Data()
	switch e {
	case message.Location:
		return sortedValues(d.Locations, func(v models.Location) string { return v.Name })
	case message.Room:
		return sortedValues(d.Rooms, func(v models.Room) string { return v.Name })
	case message.Scanner:
		return tx.Scanners().List()
	case message.Device:
		return tx.Devices().List()
	case message.Event:
		return tx.Events().List()
	case message.Alarm:
		return sortedValues(d.Alarms, func(v models.Alarm) string { return v.Name })
	case message.Contact:
		return sortedValues(d.Contacts, func(v models.Contact) string { return v.Name })
	case message.ContactGroup:
		return sortedValues(d.ContactGroups, func(v models.ContactGroup) string { return v.Name })
	case message.Notification:
		return sortedValues(d.Notifications, func(v models.Notification) string { return v.Name })
	case message.User:
		users := sortedValues(d.Users, func(v models.User) string { return v.Username })
		for i := range users {
			users[i] = publicUser(users[i])
		}
		return users
	case message.Token:
		return sortedValues(d.Tokens, func(v models.Token) string { return v.Name })
	}
	return nil
}

func (s *OperatorService) set(e message.Entity, m message.WebMessage) error {
	switch e {
	case message.Location:
		var v models.Location
		if err := m.Decode(&v); err != nil {
			return fmt.Errorf("%v: %w", err, ErrInvalid)
		}
		return s.SetLocation(v)
	case message.Room:
		var v models.Room
		if err := m.Decode(&v); err != nil {
			return fmt.Errorf("%v: %w", err, ErrInvalid)
		}
		return s.SetRoom(v)
	case message.Scanner:
		var v models.Scanner
		if err := m.Decode(&v); err != nil {
			return fmt.Errorf("%v: %w", err, ErrInvalid)
		}
		return s.SetScanner(v)
	case message.Device:
		var v models.Device
		if err := m.Decode(&v); err != nil {
			return fmt.Errorf("%v: %w", err, ErrInvalid)
		}
		return s.SetDevice(v)
	case message.Alarm:
		var v models.Alarm
		if err := m.Decode(&v); err != nil {
			return fmt.Errorf("%v: %w", err, ErrInvalid)
		}
		return s.SetAlarm(v)
	case message.Contact:
		var v models.Contact
		if err := m.Decode(&v); err != nil {
			return fmt.Errorf("%v: %w", err, ErrInvalid)
		}
		return s.SetContact(v)
	case message.ContactGroup:
		var v models.ContactGroup
		if err := m.Decode(&v); err != nil {
			return fmt.Errorf("%v: %w", err, ErrInvalid)
		}
		return s.SetContactGroup(v)
	case message.Notification:
		var v models.Notification
		if err := m.Decode(&v); err != nil {
			return fmt.Errorf("%v: %w", err, ErrInvalid)
		}
		return s.SetNotification(v)
	case message.User:
		var v models.User
		if err := m.Decode(&v); err != nil {
			return fmt.Errorf("%v: %w", err, ErrInvalid)
		}
		return s.SetUser(v)
	case message.Token:
		var v models.Token
		if err := m.Decode(&v); err != nil {
			return fmt.Errorf("%v: %w", err, ErrInvalid)
		}
		return s.SetToken(v)
	}
	return fmt.Errorf("%s cannot be set: %w", e, ErrInvalid)
}

func ensureID(id *uuid.UUID) {
	if *id == uuid.Nil {
		*id = uuid.New()
	}
}

// SetLocation upserts a location
func (s *OperatorService) SetLocation(v models.Location) error {
	ensureID(&v.UUID)
	return s.state.Update(func(tx *state.Tx) error {
		tx.Data().Locations[v.UUID] = v
		tx.MarkDirty()
		tx.Publish(message.New(message.Location.Detail(), v))
		return nil
	})
}

// SetRoom upserts a room of an existing location
func (s *OperatorService) SetRoom(v models.Room) error {
	ensureID(&v.UUID)
	return s.state.Update(func(tx *state.Tx) error {
		if _, ok := tx.Data().Locations[v.Location]; !ok {
			return notFound("location", v.Location)
		}
		tx.Data().Rooms[v.UUID] = v
		tx.MarkDirty()
		tx.Publish(message.New(message.Room.Detail(), v))
		return nil
	})
}

// SetScanner updates the operator owned fields of a scanner. A change of
// actuator state is pushed to the scanner right away.
func (s *OperatorService) SetScanner(v models.Scanner) error {
	ensureID(&v.UUID)
	if len(v.Mac) == 0 {
		return invalid("scanner mac is required")
	}
	return s.state.Update(func(tx *state.Tx) error {
		if v.Room != nil {
			if _, ok := tx.Data().Rooms[*v.Room]; !ok {
				return notFound("room", *v.Room)
			}
		}
		before, existed := tx.Scanners().Get(v.UUID)
		saved, err := tx.Scanners().Set(v)
		if err != nil {
			if errors.Is(err, registry.ErrDuplicateMac) {
				return fmt.Errorf("scanner %s: %v: %w", v.Mac, err, ErrInvalid)
			}
			return err
		}

		changed := !existed || before.Scan != saved.Scan || before.Led != saved.Led || before.Buzzer != saved.Buzzer
		if addr, ok := registry.AddrOf(saved); ok && changed {
			tx.Send(protocol.Outbound{
				Target:  saved.UUID,
				Addr:    addr,
				Message: protocol.NewMessage(protocol.SetFromScanner(saved)),
			})
		}
		tx.MarkDirty()
		tx.Publish(message.New(message.Scanner.Detail(), saved))
		return nil
	})
}

// SetDevice updates the operator owned fields of a device: name, enabled
// flag and mac. Battery and activity stay as observed.
func (s *OperatorService) SetDevice(v models.Device) error {
	ensureID(&v.UUID)
	if len(v.Mac) == 0 {
		return invalid("device mac is required")
	}
	return s.state.Update(func(tx *state.Tx) error {
		if existing, ok := tx.Devices().Get(v.UUID); ok {
			v.Battery = existing.Battery
			v.LastActivity = existing.LastActivity
		} else {
			v.LastActivity = tx.Now()
		}
		if err := tx.Devices().Put(v); err != nil {
			return fmt.Errorf("device %s: %v: %w", v.Mac, err, ErrInvalid)
		}
		if !v.Enabled {
			tx.Tracker().Remove(v.UUID)
		}
		tx.MarkDirty()
		tx.Publish(message.New(message.Device.Detail(), v))
		return nil
	})
}

// SetAlarm upserts an alarm definition
func (s *OperatorService) SetAlarm(v models.Alarm) error {
	ensureID(&v.UUID)
	return s.state.Update(func(tx *state.Tx) error {
		if _, ok := tx.Data().Notifications[v.Notification]; !ok {
			return notFound("notification", v.Notification)
		}
		if _, ok := tx.Data().ContactGroups[v.Group]; !ok {
			return notFound("contact group", v.Group)
		}
		tx.Data().Alarms[v.UUID] = v
		tx.MarkDirty()
		tx.Publish(message.New(message.Alarm.Detail(), v))
		return nil
	})
}

// SetContact upserts a contact with at least one target
func (s *OperatorService) SetContact(v models.Contact) error {
	ensureID(&v.UUID)
	if v.Email == nil && v.Sms == nil && v.Telegram == nil {
		return invalid("contact %q has no target", v.Name)
	}
	if v.Email != nil && !strings.Contains(v.Email.Email, "@") {
		return invalid("email %q", v.Email.Email)
	}
	return s.state.Update(func(tx *state.Tx) error {
		tx.Data().Contacts[v.UUID] = v
		tx.MarkDirty()
		tx.Publish(message.New(message.Contact.Detail(), v))
		return nil
	})
}

// SetContactGroup upserts a group of existing contacts
func (s *OperatorService) SetContactGroup(v models.ContactGroup) error {
	ensureID(&v.UUID)
	return s.state.Update(func(tx *state.Tx) error {
		for _, id := range v.Contacts {
			if _, ok := tx.Data().Contacts[id]; !ok {
				return notFound("contact", id)
			}
		}
		tx.Data().ContactGroups[v.UUID] = v
		tx.MarkDirty()
		tx.Publish(message.New(message.ContactGroup.Detail(), v))
		return nil
	})
}

// SetNotification upserts a notification template
func (s *OperatorService) SetNotification(v models.Notification) error {
	ensureID(&v.UUID)
	return s.state.Update(func(tx *state.Tx) error {
		tx.Data().Notifications[v.UUID] = v
		tx.MarkDirty()
		tx.Publish(message.New(message.Notification.Detail(), v))
		return nil
	})
}

// SetUser upserts an operator account. An empty password keeps the
// current one, anything else is stored as a bcrypt hash.
func (s *OperatorService) SetUser(v models.User) error {
	ensureID(&v.UUID)
	if strings.TrimSpace(v.Username) == "" {
		return invalid("username is required")
	}
	var hash []byte
	if v.Password != "" {
		var err error
		if hash, err = bcrypt.GenerateFromPassword([]byte(v.Password), bcrypt.DefaultCost); err != nil {
			return fmt.Errorf("failed to hash password: %w", err)
		}
	}
	return s.state.Update(func(tx *state.Tx) error {
		for id, u := range tx.Data().Users {
			if id != v.UUID && u.Username == v.Username {
				return invalid("username %q already exists", v.Username)
			}
		}
		if hash != nil {
			v.Password = string(hash)
		} else if existing, ok := tx.Data().Users[v.UUID]; ok {
			v.Password = existing.Password
		} else {
			return invalid("password is required for a new user")
		}
		tx.Data().Users[v.UUID] = v
		tx.MarkDirty()
		tx.Publish(message.New(message.User.Detail(), publicUser(v)))
		return nil
	})
}

// SetToken upserts an API token of an existing user. A missing secret is
// generated.
func (s *OperatorService) SetToken(v models.Token) error {
	ensureID(&v.UUID)
	if v.Token == "" {
		secret := make([]byte, 24)
		if _, err := rand.Read(secret); err != nil {
			return fmt.Errorf("failed to generate token: %w", err)
		}
		v.Token = hex.EncodeToString(secret)
	}
	return s.state.Update(func(tx *state.Tx) error {
		if _, ok := tx.Data().Users[v.User]; !ok {
			return notFound("user", v.User)
		}
		tx.Data().Tokens[v.UUID] = v
		tx.MarkDirty()
		tx.Publish(message.New(message.Token.Detail(), v))
		return nil
	})
}

// Remove deletes an entity after checking nothing references it
func (s *OperatorService) Remove(e message.Entity, id uuid.UUID) error {
	return s.state.Update(func(tx *state.Tx) error {
		d := tx.Data()
		switch e {
		case message.Location:
			if _, ok := d.Locations[id]; !ok {
				return notFound("location", id)
			}
			for _, r := range d.Rooms {
				if r.Location == id {
					return referenced("location", id, "room "+r.Name)
				}
			}
			delete(d.Locations, id)

		case message.Room:
			if _, ok := d.Rooms[id]; !ok {
				return notFound("room", id)
			}
			for _, sc := range tx.Scanners().List() {
				if sc.Room != nil && *sc.Room == id {
					return referenced("room", id, "scanner "+sc.Name)
				}
			}
			delete(d.Rooms, id)

		case message.Scanner:
			if !tx.Scanners().Remove(id) {
				return notFound("scanner", id)
			}
			tx.Tracker().RemoveScanner(id)
			for _, ev := range tx.Events().RemoveScanner(id) {
				tx.Publish(message.New(message.Event.Removed(), ev))
			}

		case message.Device:
			if !tx.Devices().Remove(id) {
				return notFound("device", id)
			}
			tx.Tracker().Remove(id)
			for _, ev := range tx.Events().RemoveDevice(id) {
				tx.Publish(message.New(message.Event.Removed(), ev))
			}

		case message.Event:
			if !tx.Events().Remove(id) {
				return notFound("event", id)
			}

		case message.Alarm:
			if _, ok := d.Alarms[id]; !ok {
				return notFound("alarm", id)
			}
			if tx.Alarms().References(id) {
				return referenced("alarm", id, "an active alarm")
			}
			delete(d.Alarms, id)

		case message.Notification:
			if _, ok := d.Notifications[id]; !ok {
				return notFound("notification", id)
			}
			for _, a := range d.Alarms {
				if a.Notification == id {
					return referenced("notification", id, "alarm "+a.Name)
				}
			}
			delete(d.Notifications, id)

		case message.Contact:
			if _, ok := d.Contacts[id]; !ok {
				return notFound("contact", id)
			}
			for _, g := range d.ContactGroups {
				for _, c := range g.Contacts {
					if c == id {
						return referenced("contact", id, "group "+g.Name)
					}
				}
			}
			delete(d.Contacts, id)

		case message.ContactGroup:
			if _, ok := d.ContactGroups[id]; !ok {
				return notFound("contact group", id)
			}
			for _, a := range d.Alarms {
				if a.Group == id {
					return referenced("contact group", id, "alarm "+a.Name)
				}
			}
			delete(d.ContactGroups, id)

		case message.User:
			if _, ok := d.Users[id]; !ok {
				return notFound("user", id)
			}
			for _, t := range d.Tokens {
				if t.User == id {
					return referenced("user", id, "token "+t.Name)
				}
			}
			delete(d.Users, id)

		case message.Token:
			if _, ok := d.Tokens[id]; !ok {
				return notFound("token", id)
			}
			delete(d.Tokens, id)

		default:
			return fmt.Errorf("%s cannot be removed: %w", e, ErrInvalid)
		}

		if e != message.Event {
			tx.MarkDirty()
		}
		tx.Publish(message.New(e.Removed(), id))
		return nil
	})
}
