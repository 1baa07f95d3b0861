// Package config loads service settings from defaults, lostfound.yaml,
// LOSTFOUND_* environment variables and command-line flags, in increasing
// order of precedence.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/spf13/viper"

	"github.com/erazemk/lostfound/internal/db"
)

// EnvPrefix is prepended to environment variable names, e.g.
// LOSTFOUND_SERVER_ADDR for server.addr.
const EnvPrefix = "LOSTFOUND"

// DefaultSQLitePath is used when the sqlite driver is selected without a DSN.
const DefaultSQLitePath = "lostfound.db"

// Config is the full service configuration. Peers maps a service name to
// the base URL of another portal instance.
type Config struct {
	Server   ServerConfig      `mapstructure:"server"`
	Database DatabaseConfig    `mapstructure:"database"`
	Auth     AuthConfig        `mapstructure:"auth"`
	CORS     CORSConfig        `mapstructure:"cors"`
	Uploads  UploadsConfig     `mapstructure:"uploads"`
	Peers    map[string]string `mapstructure:"peers"`
	Client   ClientConfig      `mapstructure:"client"`
	Monitor  MonitorConfig     `mapstructure:"monitor"`
	Redis    RedisConfig       `mapstructure:"redis"`
	Log      LogConfig         `mapstructure:"log"`
}

// ServerConfig names this instance and sets its listen address.
type ServerConfig struct {
	Name string `mapstructure:"name"`
	Addr string `mapstructure:"addr"`
}

// DatabaseConfig selects the driver. DSN overrides the MySQL fields.
type DatabaseConfig struct {
	Driver string      `mapstructure:"driver"`
	DSN    string      `mapstructure:"dsn"`
	MySQL  MySQLConfig `mapstructure:"mysql"`
}

// MySQLConfig holds the connection fields used to build a MySQL DSN.
type MySQLConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Name     string `mapstructure:"name"`
}

// AuthConfig controls token signing and the session cookie.
type AuthConfig struct {
	// JWTSecret overrides the secret generated and stored in the database.
	JWTSecret    string `mapstructure:"jwt_secret"`
	CookieSecure bool   `mapstructure:"cookie_secure"`
}

// CORSConfig lists the browser origins allowed to call the API.
type CORSConfig struct {
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// UploadsConfig limits image uploads.
type UploadsConfig struct {
	MaxBytes int64 `mapstructure:"max_bytes"`
}

// ClientConfig holds the retry client settings shared by all peers.
type ClientConfig struct {
	Timeout        time.Duration `mapstructure:"timeout"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
	MaxAttempts    int           `mapstructure:"max_attempts"`
	RetryDelay     time.Duration `mapstructure:"retry_delay"`
}

// MonitorConfig holds the cron schedules of the background jobs. An empty
// schedule disables its job.
type MonitorConfig struct {
	PeerSchedule  string `mapstructure:"peer_schedule"`
	PurgeSchedule string `mapstructure:"purge_schedule"`
}

// RedisConfig enables the Redis token revocation store when Addr is set.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// LogConfig sets the log level and an optional log file.
type LogConfig struct {
	Level string `mapstructure:"level"`
	File  string `mapstructure:"file"`
}

var defaults = map[string]any{
	"server.name":              "lostfound",
	"server.addr":              ":8080",
	"database.driver":          db.DriverSQLite,
	"database.dsn":             "",
	"database.mysql.host":      "127.0.0.1",
	"database.mysql.port":      3306,
	"database.mysql.user":      "lostfound",
	"database.mysql.password":  "",
	"database.mysql.name":      "lostfound",
	"auth.jwt_secret":          "",
	"auth.cookie_secure":       false,
	"cors.allowed_origins":     []string{},
	"uploads.max_bytes":        int64(5 << 20),
	"client.timeout":           "30s",
	"client.connect_timeout":   "10s",
	"client.max_attempts":      3,
	"client.retry_delay":       "1s",
	"monitor.peer_schedule":    "@every 1m",
	"monitor.purge_schedule":   "@hourly",
	"redis.addr":               "",
	"redis.password":           "",
	"redis.db":                 0,
	"log.level":                "info",
	"log.file":                 "",
}

// New returns a viper instance with defaults and environment binding set
// up. Callers bind their flags to it before calling Load.
func New() *viper.Viper {
	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// Load reads the config file (configFile, or lostfound.yaml in the working
// directory when empty) and returns the validated configuration. A missing
// default file is not an error.
func Load(v *viper.Viper, configFile string) (*Config, error) {
	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("lostfound")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configFile != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks values that would otherwise fail late, at first use.
func (c *Config) Validate() error {
	if c.Server.Addr == "" {
		return errors.New("server.addr must not be empty")
	}
	if c.Database.Driver != db.DriverSQLite && c.Database.Driver != db.DriverMySQL {
		return fmt.Errorf("database.driver must be %q or %q, got %q", db.DriverSQLite, db.DriverMySQL, c.Database.Driver)
	}
	if c.Uploads.MaxBytes <= 0 {
		return errors.New("uploads.max_bytes must be positive")
	}
	if c.Client.MaxAttempts < 1 {
		return errors.New("client.max_attempts must be at least 1")
	}
	if c.Client.Timeout <= 0 || c.Client.ConnectTimeout <= 0 {
		return errors.New("client timeouts must be positive")
	}
	if c.Client.RetryDelay < 0 {
		return errors.New("client.retry_delay must not be negative")
	}
	for name, raw := range c.Peers {
		u, err := url.Parse(raw)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("peer %q: invalid url %q", name, raw)
		}
	}
	for key, schedule := range map[string]string{
		"monitor.peer_schedule":  c.Monitor.PeerSchedule,
		"monitor.purge_schedule": c.Monitor.PurgeSchedule,
	} {
		if schedule == "" {
			continue
		}
		if _, err := cron.ParseStandard(schedule); err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
	}
	if _, err := c.LogLevel(); err != nil {
		return err
	}
	return nil
}

// DSN returns the data source name for the configured driver. An explicit
// database.dsn wins; otherwise MySQL is assembled from database.mysql.*.
func (c *Config) DSN() string {
	if c.Database.DSN != "" {
		return c.Database.DSN
	}
	if c.Database.Driver == db.DriverMySQL {
		m := c.Database.MySQL
		return db.MySQLDSN(m.Host, m.Port, m.User, m.Password, m.Name)
	}
	return DefaultSQLitePath
}

// LogLevel parses log.level ("debug", "info", "warn", "error").
func (c *Config) LogLevel() (slog.Level, error) {
	var level slog.Level
	if c.Log.Level == "" {
		return slog.LevelInfo, nil
	}
	if err := level.UnmarshalText([]byte(c.Log.Level)); err != nil {
		return 0, fmt.Errorf("log.level: %w", err)
	}
	return level, nil
}
