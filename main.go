package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"github.com/versatilecz/evac/bot"
	"github.com/versatilecz/evac/config"
	"github.com/versatilecz/evac/internal/app"
	"github.com/versatilecz/evac/internal/bridge"
	"github.com/versatilecz/evac/internal/handlers"
	"github.com/versatilecz/evac/internal/logging"
	"github.com/versatilecz/evac/internal/notify"
	"github.com/versatilecz/evac/internal/server"
	"github.com/versatilecz/evac/internal/services"
	"github.com/versatilecz/evac/internal/state"
	"github.com/versatilecz/evac/internal/version"
)

func main() {
	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		logging.Log.WithError(err).Fatal("Failed to load config")
	}
	logging.Setup(cfg.LogLevel, cfg.LogFormat)
	logging.Log.WithField("version", version.String()).WithField("config", cfg.Path).Info("Config loaded successfully")

	if err := run(cfg); err != nil {
		logging.Log.WithError(err).Error("Server failed")
		os.Exit(1)
	}
	logging.Log.Info("Server stopped gracefully")
}

func run(cfg *config.Config) (err error) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store, err := app.OpenStore(cfg)
	if err != nil {
		return err
	}
	data, err := store.Load(ctx)
	if err != nil {
		return err
	}

	st := state.New(data, state.Settings{
		QuerySize:    cfg.Base.QuerySize,
		ActivityDiff: cfg.Base.ActivityDiff.Std(),
	}, clockwork.NewRealClock())

	operator := services.NewOperatorService(st, app.OpenBackups(ctx, cfg))
	if err := operator.EnsureAdmin(cfg.Base.AdminPassword); err != nil {
		return err
	}
	scanners := services.NewScannerService(st)

	srv := server.New(st, scanners, store, server.Options{
		Listen:    cfg.ScannerAddr(),
		Broadcast: cfg.BroadcastAddr(),
		Routine:   cfg.Base.Routine.Std(),
	})
	router := handlers.NewRouter(
		handlers.NewDetectionHandler(scanners),
		handlers.NewOperatorHandler(operator, st.Messages(), st.Control()),
		cfg.Base.FrontendPath,
	)

	notifiers := app.Notifiers(cfg)
	closers := initBridge(ctx, cfg)

	g, gctx := errgroup.WithContext(ctx)

	// Translate signals into control messages
	g.Go(func() error {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGHUP, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
		defer signal.Stop(sigChan)
		for {
			select {
			case sig := <-sigChan:
				logging.Log.WithField("signal", sig).Info("Signal received")
				if sig == syscall.SIGHUP {
					st.Signal(state.Reload)
				} else {
					st.Signal(state.Stop)
				}
			case <-gctx.Done():
				return nil
			}
		}
	})

	g.Go(func() error {
		defer cancel()
		return srv.Run(gctx)
	})
	g.Go(func() error {
		return srv.Persist(gctx)
	})
	g.Go(func() error {
		defer cancel()
		return handlers.Serve(gctx, cfg.Base.PortWeb, router, st.Control())
	})
	g.Go(func() error {
		return notify.NewDispatcher(notifiers).Run(gctx, st.Jobs())
	})
	if closers.bridge != nil {
		sub := st.Messages().Subscribe()
		g.Go(func() error { return closers.bridge.Run(gctx, sub) })
	}
	if notifiers.Telegram != nil {
		bot.SetProvider(bot.StateProvider{State: st})
		bot.StartPolling()
		sub := st.Messages().Subscribe()
		g.Go(func() error { return bot.MirrorAlarms(gctx, sub) })
		logging.Log.Info("Telegram Bot Initialized")
	}

	err = g.Wait()

	// Graceful shutdown
	bot.StopPolling()
	saveCtx, saveCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer saveCancel()
	err = multierr.Append(err, srv.Flush(saveCtx))
	st.Close()
	return multierr.Append(err, closers.Close())
}

type bridges struct {
	bridge   *bridge.Bridge
	mqtt     *bridge.MQTTPublisher
	presence *bridge.RedisPresence
}

func (b bridges) Close() error {
	var err error
	if b.mqtt != nil {
		b.mqtt.Close()
	}
	if b.presence != nil {
		err = multierr.Append(err, b.presence.Close())
	}
	return err
}

// initBridge connects the optional MQTT and Redis sinks. Connection
// failures only disable the sink.
func initBridge(ctx context.Context, cfg *config.Config) bridges {
	var b bridges
	var publisher bridge.Publisher
	var presence bridge.Presence

	if cfg.MQTT.Broker != "" {
		mqtt, err := bridge.NewMQTTPublisher(bridge.MQTTConfig{
			Broker:    cfg.MQTT.Broker,
			ClientID:  cfg.MQTT.ClientID,
			Username:  cfg.MQTT.Username,
			Password:  cfg.MQTT.Password,
			BaseTopic: cfg.MQTT.BaseTopic,
		})
		if err != nil {
			logging.Log.WithError(err).Warn("MQTT bridge disabled")
		} else {
			b.mqtt = mqtt
			publisher = mqtt
		}
	}
	if cfg.Redis.Addr != "" {
		redis, err := bridge.NewRedisPresence(ctx, bridge.RedisConfig{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		}, cfg.Base.ActivityDiff.Std())
		if err != nil {
			logging.Log.WithError(err).Warn("Redis presence disabled")
		} else {
			b.presence = redis
			presence = redis
		}
	}
	if publisher != nil || presence != nil {
		b.bridge = bridge.New(publisher, presence, cfg.MQTT.BaseTopic)
	}
	return b
}
