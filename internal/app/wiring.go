// Package app builds the configured stores and notification backends
package app

import (
	"context"
	"net/netip"

	"github.com/versatilecz/evac/bot"
	"github.com/versatilecz/evac/config"
	"github.com/versatilecz/evac/internal/logging"
	"github.com/versatilecz/evac/internal/notify"
	"github.com/versatilecz/evac/internal/repository"
)

// OpenStore returns the configured snapshot store
func OpenStore(cfg *config.Config) (repository.Store, error) {
	return repository.NewStore(cfg.Base.Storage, cfg.Base.DataPath, cfg.PocketBase.URL, cfg.PocketBase.Token)
}

// OpenBackups returns MinIO backups when configured, NoBackups otherwise
func OpenBackups(ctx context.Context, cfg *config.Config) repository.BackupStore {
	if cfg.Minio.Endpoint == "" {
		return repository.NoBackups{}
	}
	store, err := repository.NewMinioBackupStore(ctx, repository.MinioConfig{
		Endpoint:  cfg.Minio.Endpoint,
		AccessKey: cfg.Minio.AccessKey,
		SecretKey: cfg.Minio.SecretKey,
		Bucket:    cfg.Minio.Bucket,
		UseSSL:    cfg.Minio.UseSSL,
	})
	if err != nil {
		logging.Log.WithError(err).Warn("Backups disabled")
		return repository.NoBackups{}
	}
	return store
}

// Notifiers builds a router over every configured backend. The Telegram
// bot is initialized here when a token is set.
func Notifiers(cfg *config.Config) *notify.Router {
	r := &notify.Router{}
	if cfg.Email.Server != "" {
		r.Email = notify.NewEmailNotifier(notify.EmailConfig{
			Server:      cfg.Email.Server,
			Port:        cfg.Email.Port,
			TLS:         cfg.Email.TLS,
			Username:    cfg.Email.Username,
			Password:    cfg.Email.Password,
			FromName:    cfg.Email.FromName,
			FromAddress: cfg.Email.FromAddress,
		})
	}
	if cfg.Sms.URL != "" {
		r.Sms = notify.NewSmsNotifier(notify.SmsConfig{
			URL:     cfg.Sms.URL,
			Token:   cfg.Sms.Token,
			Retries: cfg.Sms.Retries,
		})
	}
	if cfg.Telegram.Token != "" {
		if err := bot.Init(cfg.Telegram.Token, cfg.Telegram.ChatID); err != nil {
			logging.Log.WithError(err).Warn("Failed to init Telegram Bot")
		} else {
			r.Telegram = bot.NewNotifier()
		}
	}
	return r
}

// Dialable turns an unspecified listen address into loopback so local
// tools can reach the server
func Dialable(addr netip.AddrPort) netip.AddrPort {
	if !addr.Addr().IsUnspecified() {
		return addr
	}
	if addr.Addr().Is6() {
		return netip.AddrPortFrom(netip.IPv6Loopback(), addr.Port())
	}
	return netip.AddrPortFrom(netip.AddrFrom4([4]byte{127, 0, 0, 1}), addr.Port())
}
