package config

import (
	"fmt"

	"github.com/spf13/viper"
)

type Config struct {
	Server    ServerConfig   `mapstructure:"server"`
	Database  DatabaseConfig `mapstructure:"database"`
	Webhook   WebhookConfig  `mapstructure:"webhook"`
	Monitor   MonitorConfig  `mapstructure:"monitor"`
	JWTSecret string         `mapstructure:"jwt_secret"`
}

type ServerConfig struct {
	Port int `mapstructure:"port"`
}

type DatabaseConfig struct {
	Driver   string `mapstructure:"driver"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Name     string `mapstructure:"name"`
	PoolSize int    `mapstructure:"pool_size"`
	Path     string `mapstructure:"path"` // directory for SQLite database files
}

// WebhookConfig tunes the outbound dispatcher.
type WebhookConfig struct {
	CacheTTLSeconds int `mapstructure:"cache_ttl_seconds"`
	TimeoutSeconds  int `mapstructure:"timeout_seconds"`
}

// MonitorConfig drives the change monitor: which feed to use, how often the
// polling feed sweeps, and the service identity the monitor runs as.
type MonitorConfig struct {
	Feed                string `mapstructure:"feed"` // "listen" (postgres) or "poll"
	PollIntervalSeconds int    `mapstructure:"poll_interval_seconds"`
	MaxSnapshots        int    `mapstructure:"max_snapshots"`
	ActorID             string `mapstructure:"actor_id"`
	ActorName           string `mapstructure:"actor_name"`
	ActorRole           string `mapstructure:"actor_role"`
}

// DSN returns the driver-specific data source name.
func (d DatabaseConfig) DSN() string {
	if d.Driver == "sqlite" {
		return d.Path + "/" + d.Name + ".db"
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable",
		d.User, d.Password, d.Host, d.Port, d.Name)
}

// IsSQLite returns true if the driver is sqlite.
func (d DatabaseConfig) IsSQLite() bool {
	return d.Driver == "sqlite"
}

func Load() (*Config, error) {
	viper.SetConfigName("app")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("../..")

	viper.SetDefault("server.port", 8080)
	viper.SetDefault("database.driver", "postgres")
	viper.SetDefault("database.host", "localhost")
	viper.SetDefault("database.port", 5432)
	viper.SetDefault("database.pool_size", 10)
	viper.SetDefault("database.path", "./data")
	viper.SetDefault("jwt_secret", "changeme-secret")
	viper.SetDefault("webhook.cache_ttl_seconds", 300)
	viper.SetDefault("webhook.timeout_seconds", 10)
	viper.SetDefault("monitor.feed", "listen")
	viper.SetDefault("monitor.poll_interval_seconds", 5)
	viper.SetDefault("monitor.max_snapshots", 10000)
	viper.SetDefault("monitor.actor_id", "system")
	viper.SetDefault("monitor.actor_name", "Change Monitor")
	viper.SetDefault("monitor.actor_role", "admin")

	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	return &cfg, nil
}
