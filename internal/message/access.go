package message

import (
	"github.com/versatilecz/evac/internal/models"
)

// Access decides whether a session holding roles may send or see a message
type Access func(roles []models.Role) bool

func hasAny(roles []models.Role, want ...models.Role) bool {
	for _, r := range roles {
		for _, w := range want {
			if r == w {
				return true
			}
		}
	}
	return false
}

// Public is open to every session, logged in or not
func Public(roles []models.Role) bool { return true }

// Reader requires any role other than Anonymous
func Reader(roles []models.Role) bool {
	return hasAny(roles, models.RoleAdmin, models.RoleService, models.RoleExternal)
}

// AlarmOperator may trigger and stop alarms
func AlarmOperator(roles []models.Role) bool {
	return hasAny(roles, models.RoleAdmin, models.RoleService, models.RoleExternal)
}

// AdminOnly requires the Admin role
func AdminOnly(roles []models.Role) bool {
	return hasAny(roles, models.RoleAdmin)
}

// Nobody rejects everything, used for kinds a direction never carries
func Nobody(roles []models.Role) bool { return false }

var (
	inbound  = map[Kind]Access{}
	outbound = map[Kind]Access{}
)

func init() {
	for _, k := range []Kind{KindLogin, KindLogout, KindVersion} {
		inbound[k] = Public
	}
	for _, k := range []Kind{KindUserInfo, KindError, KindVersion, KindLogout} {
		outbound[k] = Public
	}

	inbound[KindAlarmTrigger] = AlarmOperator
	inbound[KindAlarmStop] = AlarmOperator
	inbound[KindBackup] = AdminOnly
	inbound[KindBackupList] = AdminOnly
	inbound[KindActivityList] = Reader
	inbound[KindActiveAlarmList] = Reader

	for _, k := range []Kind{KindActivity, KindActivityList, KindAlarmTrigger, KindAlarmStop, KindActiveAlarmList} {
		outbound[k] = Reader
	}
	outbound[KindBackupDetail] = AdminOnly
	outbound[KindBackupList] = AdminOnly

	for _, e := range Entities {
		read := Access(Reader)
		if e == User || e == Token {
			read = AdminOnly
		}
		outbound[e.List()] = read
		outbound[e.Detail()] = read
		outbound[e.Removed()] = read

		inbound[e.List()] = read
		inbound[e.Remove()] = AdminOnly
		if e != Event {
			inbound[e.Set()] = AdminOnly
		}
	}
}

// Inbound returns the access rule for a message received from a client.
// Unknown kinds are rejected.
func Inbound(kind Kind) Access {
	if a, ok := inbound[kind]; ok {
		return a
	}
	return Nobody
}

// Outbound returns the access rule for a message sent to a client
func Outbound(kind Kind) Access {
	if a, ok := outbound[kind]; ok {
		return a
	}
	return Nobody
}

// Known reports whether kind may be received from a client at all
func Known(kind Kind) bool {
	_, ok := inbound[kind]
	return ok
}
