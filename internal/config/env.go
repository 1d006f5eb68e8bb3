package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const envPrefix = "SCHEDULER_"

// applyEnvironment overrides cfg with SCHEDULER_* variables. Every invalid
// value is reported at once.
func applyEnvironment(cfg *Config) error {
	invalid := make([]string, 0, 2)

	str := func(key string, dst *string) {
		if value := strings.TrimSpace(os.Getenv(envPrefix + key)); value != "" {
			*dst = value
		}
	}
	integer := func(key string, min int, dst *int) {
		value := strings.TrimSpace(os.Getenv(envPrefix + key))
		if value == "" {
			return
		}
		parsed, err := strconv.Atoi(value)
		if err != nil || parsed < min {
			invalid = append(invalid, envPrefix+key)
			return
		}
		*dst = parsed
	}
	duration := func(key string, dst *time.Duration) {
		value := strings.TrimSpace(os.Getenv(envPrefix + key))
		if value == "" {
			return
		}
		parsed, err := time.ParseDuration(value)
		if err != nil || parsed <= 0 {
			invalid = append(invalid, envPrefix+key)
			return
		}
		*dst = parsed
	}
	boolean := func(key string, dst *bool) {
		value := strings.TrimSpace(os.Getenv(envPrefix + key))
		if value == "" {
			return
		}
		parsed, err := strconv.ParseBool(value)
		if err != nil {
			invalid = append(invalid, envPrefix+key)
			return
		}
		*dst = parsed
	}

	str("HTTP_ADDR", &cfg.HTTP.Addr)
	duration("SHUTDOWN_TIMEOUT", &cfg.HTTP.ShutdownTimeout)
	duration("HEALTH_TTL", &cfg.HTTP.HealthTTL)
	str("SQLITE_DSN", &cfg.SQLite.DSN)
	duration("SQLITE_BUSY_TIMEOUT", &cfg.SQLite.BusyTimeout)
	integer("SQLITE_MAX_OPEN_CONNS", 1, &cfg.SQLite.MaxOpenConns)
	str("LOG_LEVEL", &cfg.Log.Level)
	str("LOG_FORMAT", &cfg.Log.Format)
	integer("RECURRENCE_HARD_CAP", 1, &cfg.Recurrence.HardCap)
	str("TIMEZONE", &cfg.Recurrence.Timezone)
	str("LOCK_BACKEND", &cfg.Lock.Backend)
	duration("LOCK_TTL", &cfg.Lock.TTL)
	duration("LOCK_WAIT_TIMEOUT", &cfg.Lock.WaitTimeout)
	str("REDIS_ADDR", &cfg.Redis.Addr)
	str("REDIS_PASSWORD", &cfg.Redis.Password)
	integer("REDIS_DB", 0, &cfg.Redis.DB)
	boolean("REDIS_TLS", &cfg.Redis.TLS)
	boolean("AMQP_ENABLED", &cfg.AMQP.Enabled)
	str("AMQP_URL", &cfg.AMQP.URL)
	str("AMQP_EXCHANGE", &cfg.AMQP.Exchange)
	str("AMQP_QUEUE", &cfg.AMQP.Queue)
	str("COMPLETION_SPEC", &cfg.Jobs.CompletionSpec)
	duration("JOB_TIMEOUT", &cfg.Jobs.Timeout)
	str("FEED_DOMAIN", &cfg.Feed.Domain)
	duration("FEED_HORIZON", &cfg.Feed.Horizon)

	if value := strings.TrimSpace(os.Getenv(envPrefix + "SUSPENDED_REQUESTERS")); value != "" {
		cfg.Policy.SuspendedRequesters = splitList(value)
	}

	if len(invalid) > 0 {
		return fmt.Errorf("環境変数の値が不正です: %s", strings.Join(invalid, ", "))
	}
	return nil
}

func splitList(value string) []string {
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
