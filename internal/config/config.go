package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config captures the runtime configuration of the booking daemon.
type Config struct {
	HTTP       HTTPConfig       `yaml:"http"`
	SQLite     SQLiteConfig     `yaml:"sqlite"`
	Log        LogConfig        `yaml:"log"`
	Recurrence RecurrenceConfig `yaml:"recurrence"`
	Lock       LockConfig       `yaml:"lock"`
	Redis      RedisConfig      `yaml:"redis"`
	AMQP       AMQPConfig       `yaml:"amqp"`
	Jobs       JobsConfig       `yaml:"jobs"`
	Feed       FeedConfig       `yaml:"feed"`
	Policy     PolicyConfig     `yaml:"policy"`
}

// HTTPConfig configures the feed and health endpoints.
type HTTPConfig struct {
	Addr            string        `yaml:"addr"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	HealthTTL       time.Duration `yaml:"health_ttl"`
}

// SQLiteConfig configures the booking store.
type SQLiteConfig struct {
	DSN          string        `yaml:"dsn"`
	BusyTimeout  time.Duration `yaml:"busy_timeout"`
	MaxOpenConns int           `yaml:"max_open_conns"`
}

// LogConfig selects the slog handler.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// RecurrenceConfig bounds series expansion.
type RecurrenceConfig struct {
	HardCap  int    `yaml:"hard_cap"`
	Timezone string `yaml:"timezone"`
}

// LockConfig selects the per-resource lock implementation.
type LockConfig struct {
	// Backend is "local" or "redis".
	Backend     string        `yaml:"backend"`
	TTL         time.Duration `yaml:"ttl"`
	WaitTimeout time.Duration `yaml:"wait_timeout"`
}

// RedisConfig locates the Redis server used by the redis lock backend.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	TLS      bool   `yaml:"tls"`
}

// AMQPConfig configures the notification broker.
type AMQPConfig struct {
	Enabled  bool   `yaml:"enabled"`
	URL      string `yaml:"url"`
	Exchange string `yaml:"exchange"`
	Queue    string `yaml:"queue"`
}

// JobsConfig schedules background maintenance.
type JobsConfig struct {
	// CompletionSpec is a cron expression for the completion sweep.
	CompletionSpec string        `yaml:"completion_spec"`
	Timeout        time.Duration `yaml:"timeout"`
}

// FeedConfig configures calendar feeds.
type FeedConfig struct {
	Domain  string        `yaml:"domain"`
	Horizon time.Duration `yaml:"horizon"`
}

// PolicyConfig lists booking restrictions.
type PolicyConfig struct {
	SuspendedRequesters []string `yaml:"suspended_requesters"`
}

// Default returns the configuration used when nothing is overridden.
func Default() Config {
	return Config{
		HTTP: HTTPConfig{
			Addr:            ":8080",
			ShutdownTimeout: 10 * time.Second,
			HealthTTL:       5 * time.Second,
		},
		SQLite: SQLiteConfig{
			DSN:          "scheduler.db",
			BusyTimeout:  5 * time.Second,
			MaxOpenConns: 4,
		},
		Log:        LogConfig{Level: "info", Format: "json"},
		Recurrence: RecurrenceConfig{HardCap: 365, Timezone: "UTC"},
		Lock:       LockConfig{Backend: "local", TTL: 10 * time.Second, WaitTimeout: 5 * time.Second},
		Redis:      RedisConfig{Addr: "localhost:6379"},
		AMQP:       AMQPConfig{Exchange: "scheduler.events", Queue: "scheduler.notifications"},
		Jobs:       JobsConfig{CompletionSpec: "*/5 * * * *", Timeout: time.Minute},
		Feed:       FeedConfig{Domain: "resource-scheduler.local", Horizon: 90 * 24 * time.Hour},
	}
}

// Normalize fills zero values with defaults so partial files still work.
func (c *Config) Normalize() {
	def := Default()
	if c.HTTP.Addr == "" {
		c.HTTP.Addr = def.HTTP.Addr
	}
	if c.HTTP.ShutdownTimeout <= 0 {
		c.HTTP.ShutdownTimeout = def.HTTP.ShutdownTimeout
	}
	if c.HTTP.HealthTTL <= 0 {
		c.HTTP.HealthTTL = def.HTTP.HealthTTL
	}
	if c.SQLite.DSN == "" {
		c.SQLite.DSN = def.SQLite.DSN
	}
	if c.SQLite.BusyTimeout <= 0 {
		c.SQLite.BusyTimeout = def.SQLite.BusyTimeout
	}
	if c.SQLite.MaxOpenConns <= 0 {
		c.SQLite.MaxOpenConns = def.SQLite.MaxOpenConns
	}
	c.Log.Level = strings.ToLower(strings.TrimSpace(c.Log.Level))
	if c.Log.Level == "" {
		c.Log.Level = def.Log.Level
	}
	c.Log.Format = strings.ToLower(strings.TrimSpace(c.Log.Format))
	if c.Log.Format == "" {
		c.Log.Format = def.Log.Format
	}
	if c.Recurrence.HardCap <= 0 {
		c.Recurrence.HardCap = def.Recurrence.HardCap
	}
	if c.Recurrence.Timezone == "" {
		c.Recurrence.Timezone = def.Recurrence.Timezone
	}
	c.Lock.Backend = strings.ToLower(strings.TrimSpace(c.Lock.Backend))
	if c.Lock.Backend == "" {
		c.Lock.Backend = def.Lock.Backend
	}
	if c.Lock.TTL <= 0 {
		c.Lock.TTL = def.Lock.TTL
	}
	if c.Lock.WaitTimeout <= 0 {
		c.Lock.WaitTimeout = def.Lock.WaitTimeout
	}
	if c.Redis.Addr == "" {
		c.Redis.Addr = def.Redis.Addr
	}
	if c.AMQP.Exchange == "" {
		c.AMQP.Exchange = def.AMQP.Exchange
	}
	if c.AMQP.Queue == "" {
		c.AMQP.Queue = def.AMQP.Queue
	}
	if c.Jobs.CompletionSpec == "" {
		c.Jobs.CompletionSpec = def.Jobs.CompletionSpec
	}
	if c.Jobs.Timeout <= 0 {
		c.Jobs.Timeout = def.Jobs.Timeout
	}
	if c.Feed.Domain == "" {
		c.Feed.Domain = def.Feed.Domain
	}
	if c.Feed.Horizon < 0 {
		c.Feed.Horizon = 0
	}
}

// Location resolves the recurrence timezone.
func (c Config) Location() (*time.Location, error) {
	return time.LoadLocation(c.Recurrence.Timezone)
}

// Load builds the configuration from, in increasing precedence, defaults,
// the YAML file at path, the dotenv file at envFile and the process
// environment. Missing files are skipped; an empty path skips that source.
func Load(path, envFile string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, fs.ErrNotExist):
		case err != nil:
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		default:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return Config{}, fmt.Errorf("parse config %s: %w", path, err)
			}
		}
	}

	if envFile != "" {
		// Variables already present in the environment win over the file.
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return Config{}, fmt.Errorf("load env file %s: %w", envFile, err)
		}
	}

	if err := applyEnvironment(&cfg); err != nil {
		return Config{}, err
	}
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate reports settings that cannot be used.
func (c Config) Validate() error {
	var problems []string
	switch c.Log.Format {
	case "json", "text":
	default:
		problems = append(problems, fmt.Sprintf("log.format %q", c.Log.Format))
	}
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		problems = append(problems, fmt.Sprintf("log.level %q", c.Log.Level))
	}
	switch c.Lock.Backend {
	case "local", "redis":
	default:
		problems = append(problems, fmt.Sprintf("lock.backend %q", c.Lock.Backend))
	}
	if _, err := c.Location(); err != nil {
		problems = append(problems, fmt.Sprintf("recurrence.timezone %q", c.Recurrence.Timezone))
	}
	if c.AMQP.Enabled && c.AMQP.URL == "" {
		problems = append(problems, "amqp.url is required when amqp is enabled")
	}
	if len(problems) > 0 {
		return fmt.Errorf("設定値が不正です: %s", strings.Join(problems, ", "))
	}
	return nil
}
