package bot

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/versatilecz/evac/internal/logging"
	"github.com/versatilecz/evac/internal/models"
)

var (
	bot          *tgbotapi.BotAPI
	targetChatID int64
	provider     Provider
	log          = logging.Component("telegram")

	// send delivers one message, replaced in tests
	send = sendTo
)

// DeviceStatus is a device with its current best scanner
type DeviceStatus struct {
	Device  models.Device
	Scanner string
	RSSI    int32
	Seen    bool
}

// Provider supplies the data status commands report
type Provider interface {
	Scanners() []models.Scanner
	Devices() []DeviceStatus
	ActiveAlarms() []models.AlarmInfo
}

// SetProvider sets the source of status command data
func SetProvider(p Provider) {
	provider = p
}

// Init initializes the Telegram Bot
func Init(token string, authorizedChatIDStr string) error {
	var err error
	bot, err = tgbotapi.NewBotAPI(token)
	if err != nil {
		return err
	}

	bot.Debug = false
	log.WithField("account", bot.Self.UserName).Info("Telegram bot authorized")

	if authorizedChatIDStr != "" {
		id, err := strconv.ParseInt(authorizedChatIDStr, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid admin chat id %q: %w", authorizedChatIDStr, err)
		}
		targetChatID = id
	}
	return nil
}

// StartPolling starts the update loop
func StartPolling() {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60

	updates := bot.GetUpdatesChan(u)

	go func() {
		for update := range updates {
			if update.CallbackQuery != nil {
				bot.Request(tgbotapi.NewCallback(update.CallbackQuery.ID, "OK"))
				continue
			}
			if update.Message == nil || !update.Message.IsCommand() {
				continue
			}

			msg := tgbotapi.NewMessage(update.Message.Chat.ID, "")
			msg.ParseMode = tgbotapi.ModeMarkdown
			msg.Text = reply(update.Message.Command(), update.Message.Chat.ID, update.Message.Chat.ID == targetChatID)

			if _, err := bot.Send(msg); err != nil {
				log.WithError(err).Warn("Bot send error")
			}
		}
	}()
}

// StopPolling ends the update loop
func StopPolling() {
	if bot != nil {
		bot.StopReceivingUpdates()
	}
}

func escape(s string) string {
	return tgbotapi.EscapeText(tgbotapi.ModeMarkdown, s)
}

// reply builds the answer to a command. Status commands are only answered
// in the admin chat.
func reply(command string, chatID int64, admin bool) string {
	switch command {
	case "start":
		return "*Evac*\n\n" +
			"*Commands:*\n" +
			"/getid - chat id for contacts\n" +
			"/scanners - scanner status\n" +
			"/devices - device positions\n" +
			"/alarms - active alarms"
	case "getid":
		return fmt.Sprintf("Chat ID: `%d`", chatID)
	case "scanners", "devices", "alarms":
		if !admin {
			return "Not authorized"
		}
		if provider == nil {
			return "Status is not available"
		}
	default:
		return "Unknown command, use /start"
	}

	switch command {
	case "scanners":
		return formatScanners(provider.Scanners())
	case "devices":
		return formatDevices(provider.Devices())
	default:
		return formatAlarms(provider.ActiveAlarms())
	}
}

func formatScanners(scanners []models.Scanner) string {
	if len(scanners) == 0 {
		return "No scanners found"
	}
	lines := []string{"*Scanners:*"}
	for _, s := range scanners {
		name := s.Name
		if name == "" {
			name = s.Mac.String()
		}
		seen := "never"
		if !s.LastActivity.IsZero() {
			seen = s.LastActivity.Format("2006-01-02 15:04:05")
		}
		lines = append(lines, fmt.Sprintf("- %s `%s` (%s)", escape(name), s.IP, seen))
	}
	return strings.Join(lines, "\n")
}

func formatDevices(devices []DeviceStatus) string {
	if len(devices) == 0 {
		return "No devices found"
	}
	lines := []string{"*Devices:*"}
	for _, d := range devices {
		name := d.Device.Name
		if name == "" {
			name = d.Device.Mac.String()
		}
		line := "- " + escape(name)
		if d.Device.Battery != nil {
			line += fmt.Sprintf(" %d%%", *d.Device.Battery)
		}
		if d.Seen {
			line += fmt.Sprintf(" near %s (%d dBm)", escape(d.Scanner), d.RSSI)
		} else {
			line += " not seen"
		}
		lines = append(lines, line)
	}
	return strings.Join(lines, "\n")
}

func formatAlarms(alarms []models.AlarmInfo) string {
	if len(alarms) == 0 {
		return "No active alarms"
	}
	lines := []string{"*Active alarms:*"}
	for _, a := range alarms {
		lines = append(lines, fmt.Sprintf("- %s in %s, %s (%s)",
			escape(a.Device), escape(a.Room), escape(a.Location), escape(a.Scanner)))
	}
	return strings.Join(lines, "\n")
}

func sendTo(chatID int64, text string) error {
	if bot == nil {
		return fmt.Errorf("telegram bot is not initialized")
	}
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = tgbotapi.ModeMarkdown
	_, err := bot.Send(msg)
	return err
}

// SendNotification sends message to admin
func SendNotification(message string) {
	if bot == nil || targetChatID == 0 {
		return
	}
	if err := sendTo(targetChatID, message); err != nil {
		log.WithError(err).Warn("Failed to send admin notification")
	}
}

// SendPersonalNotification sends to a specific chat and gives up when ctx
// is done. The Telegram client has no context support, so an abandoned send
// finishes in the background.
func SendPersonalNotification(ctx context.Context, chatID int64, message string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	errc := make(chan error, 1)
	go func() { errc <- send(chatID, message) }()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		return fmt.Errorf("telegram chat %d: %w", chatID, ctx.Err())
	}
}
