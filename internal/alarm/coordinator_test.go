package alarm

import (
	"net/netip"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/versatilecz/evac/internal/models"
	"github.com/versatilecz/evac/internal/registry"
)

type fixture struct {
	data     *models.Data
	scanners *registry.Scanners
	alarm    models.Alarm
	contacts []models.Contact
}

func newFixture() fixture {
	data := models.NewData()
	scanners := registry.NewScanners(nil)
	now := time.Now()
	scanners.Register(models.MAC{1}, netip.MustParseAddrPort("10.0.0.1:3031"), now)
	scanners.Register(models.MAC{2}, netip.MustParseAddrPort("10.0.0.2:3031"), now)

	notification := models.Notification{
		UUID:    uuid.New(),
		Subject: "Alarm in %room%",
		Short:   "%device% pressed at %scanner%",
		Long:    "%device% pressed at %scanner% in %room%, %location%",
	}
	data.Notifications[notification.UUID] = notification

	contacts := []models.Contact{
		{UUID: uuid.New(), Name: "a", Email: &models.EmailTarget{Email: "a@example.com"}},
		{UUID: uuid.New(), Name: "b", Sms: &models.SmsTarget{Number: "+420123456789"}},
	}
	group := models.ContactGroup{UUID: uuid.New(), Name: "guards"}
	for _, c := range contacts {
		data.Contacts[c.UUID] = c
		group.Contacts = append(group.Contacts, c.UUID)
	}
	data.ContactGroups[group.UUID] = group

	alarm := models.Alarm{
		UUID:         uuid.New(),
		Name:         "evacuation",
		Buzzer:       true,
		Led:          true,
		Notification: notification.UUID,
		Group:        group.UUID,
	}
	data.Alarms[alarm.UUID] = alarm

	return fixture{data: data, scanners: scanners, alarm: alarm, contacts: contacts}
}

func TestTriggerAndStop(t *testing.T) {
	f := newFixture()
	c := NewCoordinator()

	res, err := c.Trigger(models.AlarmInfo{
		Alarm: f.alarm.UUID, Device: "button 1", Scanner: "hall", Room: "kitchen", Location: "HQ",
	}, f.data, f.scanners)
	require.NoError(t, err)

	require.NotNil(t, res.Set.Buzzer)
	require.NotNil(t, res.Set.Led)
	assert.True(t, *res.Set.Buzzer)
	assert.True(t, *res.Set.Led)
	assert.Nil(t, res.Set.Scan)
	for _, s := range f.scanners.List() {
		assert.True(t, s.Buzzer)
		assert.True(t, s.Led)
	}
	assert.Len(t, res.Scanners, 2)

	require.Len(t, res.Jobs, 2)
	for i, job := range res.Jobs {
		assert.Equal(t, f.contacts[i].UUID, job.Contact.UUID)
		assert.Equal(t, "Alarm in kitchen", job.Message.Subject)
		assert.Equal(t, "button 1 pressed at hall", job.Message.Short)
		assert.Equal(t, "button 1 pressed at hall in kitchen, HQ", job.Message.Long)
	}

	require.Len(t, c.Active(), 1)
	assert.True(t, c.References(f.alarm.UUID))

	stopped, err := c.Stop(res.Info.UUID, f.scanners)
	require.NoError(t, err)
	assert.False(t, *stopped.Set.Buzzer)
	assert.False(t, *stopped.Set.Led)
	for _, s := range f.scanners.List() {
		assert.False(t, s.Buzzer)
		assert.False(t, s.Led)
	}
	assert.Empty(t, c.Active())
	assert.False(t, c.References(f.alarm.UUID))

	_, err = c.Stop(res.Info.UUID, f.scanners)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestTriggerLookupErrorsLeaveStateUntouched(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(f fixture)
	}{
		{name: "Unknown definition", mutate: func(f fixture) { delete(f.data.Alarms, f.alarm.UUID) }},
		{name: "Unknown notification", mutate: func(f fixture) { delete(f.data.Notifications, f.alarm.Notification) }},
		{name: "Unknown group", mutate: func(f fixture) { delete(f.data.ContactGroups, f.alarm.Group) }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture()
			tt.mutate(f)
			c := NewCoordinator()

			_, err := c.Trigger(models.AlarmInfo{Alarm: f.alarm.UUID}, f.data, f.scanners)
			assert.ErrorIs(t, err, ErrNotFound)
			assert.Empty(t, c.Active())
			for _, s := range f.scanners.List() {
				assert.False(t, s.Buzzer)
			}
		})
	}
}

func TestOverlappingAlarmsLastWriteWins(t *testing.T) {
	f := newFixture()
	quiet := f.alarm
	quiet.UUID = uuid.New()
	quiet.Buzzer = false
	f.data.Alarms[quiet.UUID] = quiet

	c := NewCoordinator()
	_, err := c.Trigger(models.AlarmInfo{Alarm: f.alarm.UUID}, f.data, f.scanners)
	require.NoError(t, err)
	_, err = c.Trigger(models.AlarmInfo{Alarm: quiet.UUID}, f.data, f.scanners)
	require.NoError(t, err)

	assert.Len(t, c.Active(), 2)
	for _, s := range f.scanners.List() {
		assert.False(t, s.Buzzer)
		assert.True(t, s.Led)
	}
}

func TestMissingContactsAreSkipped(t *testing.T) {
	f := newFixture()
	group := f.data.ContactGroups[f.alarm.Group]
	group.Contacts = append(group.Contacts, uuid.New())
	f.data.ContactGroups[group.UUID] = group

	res, err := NewCoordinator().Trigger(models.AlarmInfo{Alarm: f.alarm.UUID}, f.data, f.scanners)
	require.NoError(t, err)
	assert.Len(t, res.Jobs, 2)
}
