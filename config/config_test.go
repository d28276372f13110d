package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "server.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
	assert.NoError(t, cfg.Validate())
	assert.Equal(t, 5*time.Second, cfg.Base.ActivityDiff.Std())
	assert.Equal(t, "255.255.255.255:3031", cfg.BroadcastAddr().String())
}

func TestLoadYAML(t *testing.T) {
	path := writeConfig(t, `
base:
  querySize: 32
  activityDiff: 10
  routine: 1m
  portScanner: 127.0.0.1:4031
mqtt:
  broker: tcp://mqtt:1883
logLevel: debug
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 32, cfg.Base.QuerySize)
	assert.Equal(t, 10*time.Second, cfg.Base.ActivityDiff.Std())
	assert.Equal(t, time.Minute, cfg.Base.Routine.Std())
	assert.Equal(t, "127.0.0.1:4031", cfg.ScannerAddr().String())
	assert.Equal(t, "0.0.0.0:3030", cfg.Base.PortWeb, "unset keys keep defaults")
	assert.Equal(t, "tcp://mqtt:1883", cfg.MQTT.Broker)
	assert.Equal(t, "evac", cfg.MQTT.BaseTopic)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, path, cfg.Path)
}

func TestLoadJSON(t *testing.T) {
	path := writeConfig(t, `{"base": {"querySize": 8, "adminPassword": "secret"}}`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 8, cfg.Base.QuerySize)
	assert.Equal(t, "secret", cfg.Base.AdminPassword)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("EVAC_SERVER_CONFIG", writeConfig(t, "base:\n  portWeb: 0.0.0.0:8080\n"))
	t.Setenv("EVAC_PORT_WEB", "127.0.0.1:9090")
	t.Setenv("TELEGRAM_BOT_TOKEN", "tg")
	t.Setenv("REDIS_DB", "2")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:9090", cfg.Base.PortWeb)
	assert.Equal(t, "tg", cfg.Telegram.Token)
	assert.Equal(t, 2, cfg.Redis.DB)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
	}{
		{name: "Zero query size", mutate: func(c *Config) { c.Base.QuerySize = 0 }},
		{name: "Zero activity window", mutate: func(c *Config) { c.Base.ActivityDiff = 0 }},
		{name: "Negative routine", mutate: func(c *Config) { c.Base.Routine = Duration(-time.Second) }},
		{name: "Bad scanner address", mutate: func(c *Config) { c.Base.PortScanner = "localhost" }},
		{name: "Unknown storage", mutate: func(c *Config) { c.Base.Storage = "sqlite" }},
		{name: "PocketBase without url", mutate: func(c *Config) { c.Base.Storage = "pocketbase" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestLoadInvalidYAML(t *testing.T) {
	_, err := Load(writeConfig(t, "base: [1, 2"))
	assert.Error(t, err)
}
