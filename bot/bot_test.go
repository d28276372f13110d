package bot

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/versatilecz/evac/internal/message"
	"github.com/versatilecz/evac/internal/models"
	"github.com/versatilecz/evac/internal/notify"
	"github.com/versatilecz/evac/internal/state"
)

type fakeProvider struct {
	scanners []models.Scanner
	devices  []DeviceStatus
	alarms   []models.AlarmInfo
}

func (f fakeProvider) Scanners() []models.Scanner { return f.scanners }
func (f fakeProvider) Devices() []DeviceStatus { return f.devices }
func (f fakeProvider) ActiveAlarms() []models.AlarmInfo { return f.alarms }

func TestReply(t *testing.T) {
	battery := uint8(80)
	SetProvider(fakeProvider{
		scanners: []models.Scanner{{Name: "Hall", IP: "10.0.0.1"}},
		devices: []DeviceStatus{
			{Device: models.Device{Name: "Button", Battery: &battery}, Scanner: "Hall", RSSI: -55, Seen: true},
			{Device: models.Device{Mac: models.MAC{0xaa, 0xbb}}},
		},
	})
	defer SetProvider(nil)

	tests := []struct {
		name    string
		command string
		admin   bool
		want    []string
	}{
		{name: "Start", command: "start", want: []string{"/scanners", "/alarms"}},
		{name: "Get id", command: "getid", want: []string{"`42`"}},
		{name: "Scanners", command: "scanners", admin: true, want: []string{"Hall", "10.0.0.1", "never"}},
		{name: "Devices", command: "devices", admin: true, want: []string{"Button 80% near Hall (-55 dBm)", "aa:bb not seen"}},
		{name: "No alarms", command: "alarms", admin: true, want: []string{"No active alarms"}},
		{name: "Status needs admin chat", command: "devices", want: []string{"Not authorized"}},
		{name: "Unknown", command: "history", want: []string{"Unknown command"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := reply(tt.command, 42, tt.admin)
			for _, w := range tt.want {
				assert.Contains(t, got, w)
			}
		})
	}
}

func TestNotifierNeedsTelegramTarget(t *testing.T) {
	n := NewNotifier()
	err := n.Notify(context.Background(), models.Contact{}, notify.Message{})
	assert.ErrorIs(t, err, notify.ErrNoTarget)

	err = n.Notify(context.Background(), models.Contact{Telegram: &models.TelegramTarget{ChatID: 7}}, notify.Message{})
	assert.Error(t, err, "bot is not initialized in tests")
}

func TestNotifierHonoursContext(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	send = func(chatID int64, text string) error {
		<-release
		return nil
	}
	t.Cleanup(func() { send = sendTo })

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	contact := models.Contact{Telegram: &models.TelegramTarget{ChatID: 7}}

	start := time.Now()
	err := NewNotifier().Notify(ctx, contact, notify.Message{Subject: "Alarm"})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), time.Second)
}

func TestNotifierDelivers(t *testing.T) {
	var got []string
	send = func(chatID int64, text string) error {
		got = append(got, fmt.Sprintf("%d %s", chatID, text))
		return nil
	}
	t.Cleanup(func() { send = sendTo })

	contact := models.Contact{Telegram: &models.TelegramTarget{ChatID: 7}}
	require.NoError(t, NewNotifier().Notify(context.Background(), contact, notify.Message{Subject: "Alarm", Long: "Kitchen"}))
	assert.Equal(t, []string{"7 *Alarm*\nKitchen"}, got)
}

func TestFormatNotification(t *testing.T) {
	assert.Equal(t, "*Alarm*\nKitchen", formatNotification(notify.Message{Subject: "Alarm", Long: "Kitchen"}))
	assert.Equal(t, "Kitchen", formatNotification(notify.Message{Long: "Kitchen"}))
}

func TestAlarmText(t *testing.T) {
	text, ok := alarmText(message.New(message.KindAlarmTrigger, models.AlarmInfo{Device: "Button", Room: "Kitchen", Location: "Hall"}))
	require.True(t, ok)
	assert.Equal(t, "*Alarm* Button in Kitchen, Hall", text)

	_, ok = alarmText(message.New(message.KindAlarmStop, uuid.New()))
	assert.True(t, ok)

	_, ok = alarmText(message.New(message.KindActivity, models.Activity{}))
	assert.False(t, ok)
}

func TestStateProviderDevices(t *testing.T) {
	clock := clockwork.NewFakeClockAt(time.Date(2026, 2, 1, 8, 0, 0, 0, time.UTC))
	st := state.New(nil, state.Settings{QuerySize: 8, ActivityDiff: 5 * time.Second}, clock)
	defer st.Close()

	require.NoError(t, st.Update(func(tx *state.Tx) error {
		scanner, _ := tx.Scanners().Ensure(models.MAC{1}, tx.Now())
		scanner.Name = "Hall"
		if _, err := tx.Scanners().Set(scanner); err != nil {
			return err
		}
		d, _ := tx.Devices().GetOrCreate(models.MAC{9}, tx.Now())
		d.Enabled = true
		tx.Tracker().Push(d.UUID, scanner.UUID, tx.Now(), -48)
		_, _ = tx.Devices().GetOrCreate(models.MAC{8}, tx.Now())
		return tx.Devices().Put(d)
	}))

	devices := StateProvider{State: st}.Devices()
	require.Len(t, devices, 1, "disabled devices are not listed")
	assert.True(t, devices[0].Seen)
	assert.Equal(t, "Hall", devices[0].Scanner)
	assert.Equal(t, int32(-48), devices[0].RSSI)
	assert.Len(t, StateProvider{State: st}.Scanners(), 1)
}
