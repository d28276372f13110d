package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/netip"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/versatilecz/evac/internal/logging"
)

// DefaultPath is used when EVAC_SERVER_CONFIG is not set
const DefaultPath = "data/server.yaml"

// Duration reads plain numbers as seconds and strings like "1m30s"
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	if secs, err := strconv.ParseFloat(node.Value, 64); err == nil {
		*d = Duration(secs * float64(time.Second))
		return nil
	}
	parsed, err := time.ParseDuration(node.Value)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", node.Value, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the value as a time.Duration
func (d Duration) Std() time.Duration { return time.Duration(d) }

type Base struct {
	DataPath      string   `yaml:"dataPath"`
	FrontendPath  string   `yaml:"frontendPath"`
	QuerySize     int      `yaml:"querySize"`
	ActivityDiff  Duration `yaml:"activityDiff"`
	Routine       Duration `yaml:"routine"`
	PortWeb       string   `yaml:"portWeb"`
	PortScanner   string   `yaml:"portScanner"`
	PortBroadcast string   `yaml:"portBroadcast"`
	AdminPassword string   `yaml:"adminPassword"`
	// Storage is "json" or "pocketbase"
	Storage string `yaml:"storage"`
}

type Email struct {
	Server      string `yaml:"server"`
	Port        int    `yaml:"port"`
	TLS         bool   `yaml:"tls"`
	Username    string `yaml:"username"`
	Password    string `yaml:"password"`
	FromName    string `yaml:"fromName"`
	FromAddress string `yaml:"fromAddress"`
}

type Sms struct {
	URL     string `yaml:"url"`
	Token   string `yaml:"token"`
	Retries int    `yaml:"retries"`
}

type Telegram struct {
	Token  string `yaml:"token"`
	ChatID string `yaml:"chatId"`
}

type PocketBase struct {
	URL   string `yaml:"url"`   // PocketBase server URL (e.g., http://127.0.0.1:8090)
	Token string `yaml:"token"` // Auth token for API access
}

type Minio struct {
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"accessKey"`
	SecretKey string `yaml:"secretKey"`
	Bucket    string `yaml:"bucket"`
	UseSSL    bool   `yaml:"useSSL"`
}

type MQTT struct {
	Broker    string `yaml:"broker"`
	ClientID  string `yaml:"clientId"`
	Username  string `yaml:"username"`
	Password  string `yaml:"password"`
	BaseTopic string `yaml:"baseTopic"`
}

type Redis struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type Config struct {
	Base       Base       `yaml:"base"`
	Email      Email      `yaml:"email"`
	Sms        Sms        `yaml:"sms"`
	Telegram   Telegram   `yaml:"telegram"`
	PocketBase PocketBase `yaml:"pocketbase"`
	Minio      Minio      `yaml:"minio"`
	MQTT       MQTT       `yaml:"mqtt"`
	Redis      Redis      `yaml:"redis"`
	LogLevel   string     `yaml:"logLevel"`
	LogFormat  string     `yaml:"logFormat"`

	// Path is the file the config was read from, empty when none existed
	Path string `yaml:"-"`
}

// Default returns the built in configuration
func Default() *Config {
	return &Config{
		Base: Base{
			DataPath:      "data/data.json",
			FrontendPath:  "frontend/dist",
			QuerySize:     16,
			ActivityDiff:  Duration(5 * time.Second),
			Routine:       Duration(5 * time.Second),
			PortWeb:       "0.0.0.0:3030",
			PortScanner:   "0.0.0.0:3031",
			PortBroadcast: "255.255.255.255:3031",
			AdminPassword: "admin",
			Storage:       "json",
		},
		Email:     Email{Port: 587, TLS: false, FromName: "Evac"},
		Sms:       Sms{Retries: 3},
		Minio:     Minio{Bucket: "evac-backups"},
		MQTT:      MQTT{ClientID: "evac-server", BaseTopic: "evac"},
		LogLevel:  "info",
		LogFormat: "text",
	}
}

// LoadConfig reads .env, the config file and environment overrides
func LoadConfig() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		logging.Log.WithError(err).Warn("Failed to load .env")
	}

	path := os.Getenv("EVAC_SERVER_CONFIG")
	if path == "" {
		path = DefaultPath
	}
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}
	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Load reads path over the defaults. A missing file leaves the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	raw, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		logging.Log.WithField("path", path).Info("Config file not found, using defaults")
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(raw, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	cfg.Path = path
	return cfg, nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		} else {
			logging.Log.WithField("key", key).Warn("Ignoring non numeric environment value")
		}
	}
}

func (c *Config) applyEnv() {
	setString(&c.Base.DataPath, "EVAC_DATA_PATH")
	setString(&c.Base.FrontendPath, "EVAC_FRONTEND_PATH")
	setString(&c.Base.PortWeb, "EVAC_PORT_WEB")
	setString(&c.Base.PortScanner, "EVAC_PORT_SCANNER")
	setString(&c.Base.PortBroadcast, "EVAC_PORT_BROADCAST")
	setString(&c.Base.AdminPassword, "EVAC_ADMIN_PASSWORD")
	setString(&c.Base.Storage, "EVAC_STORAGE")

	setString(&c.Email.Server, "SMTP_SERVER")
	setInt(&c.Email.Port, "SMTP_PORT")
	setString(&c.Email.Username, "SMTP_USERNAME")
	setString(&c.Email.Password, "SMTP_PASSWORD")
	setString(&c.Email.FromAddress, "SMTP_FROM")

	setString(&c.Sms.URL, "SMS_URL")
	setString(&c.Sms.Token, "SMS_TOKEN")

	setString(&c.Telegram.Token, "TELEGRAM_BOT_TOKEN")
	setString(&c.Telegram.ChatID, "AUTHORIZED_CHAT_ID")

	setString(&c.PocketBase.URL, "POCKETBASE_URL")
	setString(&c.PocketBase.Token, "POCKETBASE_TOKEN")

	setString(&c.Minio.Endpoint, "MINIO_ENDPOINT")
	setString(&c.Minio.AccessKey, "MINIO_ACCESS_KEY")
	setString(&c.Minio.SecretKey, "MINIO_SECRET_KEY")
	setString(&c.Minio.Bucket, "MINIO_BUCKET")
	if v := os.Getenv("MINIO_USE_SSL"); v != "" {
		c.Minio.UseSSL = v == "true"
	}

	setString(&c.MQTT.Broker, "MQTT_BROKER")
	setString(&c.MQTT.Username, "MQTT_USERNAME")
	setString(&c.MQTT.Password, "MQTT_PASSWORD")

	setString(&c.Redis.Addr, "REDIS_ADDR")
	setString(&c.Redis.Password, "REDIS_PASSWORD")
	setInt(&c.Redis.DB, "REDIS_DB")

	setString(&c.LogLevel, "LOG_LEVEL")
	setString(&c.LogFormat, "LOG_FORMAT")
}

// Validate checks addresses and limits
func (c *Config) Validate() error {
	if c.Base.QuerySize < 1 {
		return fmt.Errorf("base.querySize must be positive, got %d", c.Base.QuerySize)
	}
	if c.Base.ActivityDiff <= 0 {
		return fmt.Errorf("base.activityDiff must be positive")
	}
	if c.Base.Routine <= 0 {
		return fmt.Errorf("base.routine must be positive")
	}
	for key, addr := range map[string]string{
		"base.portWeb":       c.Base.PortWeb,
		"base.portScanner":   c.Base.PortScanner,
		"base.portBroadcast": c.Base.PortBroadcast,
	} {
		if _, err := netip.ParseAddrPort(addr); err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
	}
	switch c.Base.Storage {
	case "json":
	case "pocketbase":
		if c.PocketBase.URL == "" {
			return fmt.Errorf("pocketbase storage needs pocketbase.url")
		}
	default:
		return fmt.Errorf("unknown storage %q", c.Base.Storage)
	}
	return nil
}

// ScannerAddr is the parsed scanner listen address
func (c *Config) ScannerAddr() netip.AddrPort { return netip.MustParseAddrPort(c.Base.PortScanner) }

// BroadcastAddr is the parsed discovery address
func (c *Config) BroadcastAddr() netip.AddrPort {
	return netip.MustParseAddrPort(c.Base.PortBroadcast)
}
