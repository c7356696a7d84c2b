package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

//Config holds all settings for the device fleet service
type Config struct {
	ServiceName string
	ServicePort string
	LogLevel    string

	Database  DatabaseConfig
	Firmware  FirmwareConfig
	Devices   DeviceConfig
	Owners    OwnerConfig
	Requests  RequestLogConfig
	Redis     RedisConfig
	Events    EventsConfig
	CORSAllow []string
}

//DatabaseConfig selects the gorm dialect and how to reach it
type DatabaseConfig struct {
	Driver   string
	Host     string
	User     string
	Name     string
	Password string
	SSLMode  string
	DSN      string
}

//FirmwareConfig controls where firmware images are stored
type FirmwareConfig struct {
	Directory      string
	MaxUploadBytes int64
}

//DeviceConfig holds device facing settings
type DeviceConfig struct {
	OnlineThreshold time.Duration
	PingEnabled     bool
}

//OwnerConfig describes how owner identities reach the management API
type OwnerConfig struct {
	Header string
	Admins []string
}

//RequestLogConfig sizes the device request log
type RequestLogConfig struct {
	Capacity int
}

//RedisConfig is optional. When Addr is empty the request log is kept in memory.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	Key      string
}

//EventsConfig toggles publishing of fleet events on the message bus
type EventsConfig struct {
	Enabled bool
}

//IsAdmin reports whether the given owner may manage the firmware catalog
func (c OwnerConfig) IsAdmin(ownerID string) bool {
	for _, a := range c.Admins {
		if a == ownerID {
			return true
		}
	}
	return false
}

func newViper() *viper.Viper {
	v := viper.New()

	v.SetDefault("service.name", "device-fleet")
	v.SetDefault("service.port", "8880")
	v.SetDefault("log.level", "info")

	v.SetDefault("db.driver", "postgres")
	v.SetDefault("db.sslmode", "require")

	v.SetDefault("firmware.dir", "uploads/firmware")
	v.SetDefault("firmware.max_upload_bytes", 16*1024*1024)

	v.SetDefault("devices.online_threshold", "10m")
	v.SetDefault("ping.enabled", false)

	v.SetDefault("owner.header", "X-Owner-ID")
	v.SetDefault("admin.owners", "")

	v.SetDefault("requestlog.capacity", 200)

	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.key", "device-fleet:requests")

	v.SetDefault("events.enabled", false)
	v.SetDefault("cors.origins", "*")

	v.SetConfigName("fleet")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	v.SetEnvPrefix("FLEET")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	// The port keeps the variable name shared by our other services
	_ = v.BindEnv("service.port", "SERVICE_PORT", "FLEET_SERVICE_PORT")

	return v
}

//Load reads configuration from an optional .env file, an optional fleet.yaml and the environment
func Load() (*Config, error) {
	if _, err := os.Stat(".env"); err == nil {
		if err := godotenv.Load(".env"); err != nil {
			return nil, fmt.Errorf("failed to load .env: %w", err)
		}
	}

	v := newViper()
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	return fromViper(v)
}

func fromViper(v *viper.Viper) (*Config, error) {
	cfg := &Config{
		ServiceName: v.GetString("service.name"),
		ServicePort: v.GetString("service.port"),
		LogLevel:    v.GetString("log.level"),
		Database: DatabaseConfig{
			Driver:   strings.ToLower(v.GetString("db.driver")),
			Host:     v.GetString("db.host"),
			User:     v.GetString("db.user"),
			Name:     v.GetString("db.name"),
			Password: v.GetString("db.password"),
			SSLMode:  v.GetString("db.sslmode"),
			DSN:      v.GetString("db.dsn"),
		},
		Firmware: FirmwareConfig{
			Directory:      v.GetString("firmware.dir"),
			MaxUploadBytes: v.GetInt64("firmware.max_upload_bytes"),
		},
		Devices: DeviceConfig{
			OnlineThreshold: v.GetDuration("devices.online_threshold"),
			PingEnabled:     v.GetBool("ping.enabled"),
		},
		Owners: OwnerConfig{
			Header: v.GetString("owner.header"),
			Admins: splitList(v.GetString("admin.owners")),
		},
		Requests: RequestLogConfig{
			Capacity: v.GetInt("requestlog.capacity"),
		},
		Redis: RedisConfig{
			Addr:     v.GetString("redis.addr"),
			Password: v.GetString("redis.password"),
			DB:       v.GetInt("redis.db"),
			Key:      v.GetString("redis.key"),
		},
		Events: EventsConfig{
			Enabled: v.GetBool("events.enabled"),
		},
		CORSAllow: splitList(v.GetString("cors.origins")),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

//Validate checks that the loaded settings can be used to start the service
func (cfg *Config) Validate() error {
	switch cfg.Database.Driver {
	case "postgres":
		if cfg.Database.DSN == "" && cfg.Database.Host == "" {
			return fmt.Errorf("FLEET_DB_HOST or FLEET_DB_DSN is required for the postgres driver")
		}
	case "mysql":
		if cfg.Database.DSN == "" {
			return fmt.Errorf("FLEET_DB_DSN is required for the mysql driver")
		}
	case "sqlite":
	default:
		return fmt.Errorf("unsupported database driver: %s", cfg.Database.Driver)
	}

	if cfg.Firmware.Directory == "" {
		return fmt.Errorf("firmware directory must not be empty")
	}
	if cfg.Firmware.MaxUploadBytes <= 0 {
		return fmt.Errorf("firmware max upload size must be positive")
	}
	if cfg.Devices.OnlineThreshold <= 0 {
		return fmt.Errorf("online threshold must be positive")
	}
	if cfg.Owners.Header == "" {
		return fmt.Errorf("owner header must not be empty")
	}
	if cfg.Requests.Capacity <= 0 {
		return fmt.Errorf("request log capacity must be positive")
	}

	return nil
}

func splitList(s string) []string {
	out := []string{}
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
