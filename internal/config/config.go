package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config contains all runtime settings for the safety service.
type Config struct {
	BindAddr         string
	ShutdownTimeout  time.Duration
	MetricsNamespace string
	AllowAnyOrigin   bool

	LogLevel  string
	LogFormat string

	PolicyFile      string
	DetectorTimeout time.Duration

	ConversationStore   string
	ConversationWindow  int
	ConversationShards  int
	ConversationIdleTTL time.Duration
	JanitorInterval     time.Duration
	RedisURL            string
	DatabaseURL         string

	NATSURL     string
	NATSSubject string
	NATSTimeout time.Duration

	EscalationMinMessages     int
	EscalationSlopeThreshold  float64
	EscalationSlopeSaturation float64
}

var defaults = map[string]string{
	"APP_BIND_ADDR":                 ":8080",
	"APP_SHUTDOWN_TIMEOUT":          "10s",
	"APP_METRICS_NAMESPACE":         "sentinel",
	"APP_ALLOW_ANY_ORIGIN":          "false",
	"APP_LOG_LEVEL":                 "info",
	"APP_LOG_FORMAT":                "json",
	"POLICY_FILE":                   "",
	"DETECTOR_TIMEOUT":              "2s",
	"CONVERSATION_STORE":            "memory",
	"CONVERSATION_WINDOW":           "5",
	"CONVERSATION_SHARDS":           "32",
	"CONVERSATION_IDLE_TTL":         "30m",
	"CONVERSATION_JANITOR_INTERVAL": "1m",
	"REDIS_URL":                     "",
	"DATABASE_URL":                  "",
	"NATS_URL":                      "",
	"NATS_SUBJECT":                  "safety.analyze",
	"NATS_TIMEOUT":                  "5s",
	"ESCALATION_MIN_MESSAGES":       "3",
	"ESCALATION_SLOPE_THRESHOLD":    "0.08",
	"ESCALATION_SLOPE_SATURATION":   "0.2",
}

// Load reads an optional .env file, an optional YAML file named by
// APP_CONFIG_FILE and the environment, in increasing precedence, then
// applies safe defaults and validates the result.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}

	v := viper.New()
	for key, val := range defaults {
		v.SetDefault(key, val)
	}
	v.AutomaticEnv()

	if path := strings.TrimSpace(os.Getenv("APP_CONFIG_FILE")); path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config file %s: %w", path, err)
		}
	}
	return fromViper(v)
}

func fromViper(v *viper.Viper) (Config, error) {
	r := reader{v: v}
	cfg := Config{
		BindAddr:          r.str("APP_BIND_ADDR"),
		MetricsNamespace:  r.str("APP_METRICS_NAMESPACE"),
		LogLevel:          strings.ToLower(r.str("APP_LOG_LEVEL")),
		LogFormat:         strings.ToLower(r.str("APP_LOG_FORMAT")),
		PolicyFile:        r.str("POLICY_FILE"),
		ConversationStore: strings.ToLower(r.str("CONVERSATION_STORE")),
		RedisURL:          r.str("REDIS_URL"),
		DatabaseURL:       r.str("DATABASE_URL"),
		NATSURL:           r.str("NATS_URL"),
		NATSSubject:       r.str("NATS_SUBJECT"),

		ShutdownTimeout:     r.duration("APP_SHUTDOWN_TIMEOUT"),
		DetectorTimeout:     r.duration("DETECTOR_TIMEOUT"),
		ConversationIdleTTL: r.duration("CONVERSATION_IDLE_TTL"),
		JanitorInterval:     r.duration("CONVERSATION_JANITOR_INTERVAL"),
		NATSTimeout:         r.duration("NATS_TIMEOUT"),

		AllowAnyOrigin: r.boolean("APP_ALLOW_ANY_ORIGIN"),

		ConversationWindow:    r.integer("CONVERSATION_WINDOW"),
		ConversationShards:    r.integer("CONVERSATION_SHARDS"),
		EscalationMinMessages: r.integer("ESCALATION_MIN_MESSAGES"),

		EscalationSlopeThreshold:  r.float("ESCALATION_SLOPE_THRESHOLD"),
		EscalationSlopeSaturation: r.float("ESCALATION_SLOPE_SATURATION"),
	}
	if r.err != nil {
		return Config{}, r.err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if c.ShutdownTimeout <= 0 {
		return fmt.Errorf("APP_SHUTDOWN_TIMEOUT must be positive")
	}
	if c.DetectorTimeout < time.Millisecond {
		return fmt.Errorf("DETECTOR_TIMEOUT must be at least 1ms")
	}
	switch c.LogFormat {
	case "json", "console":
	default:
		return fmt.Errorf("APP_LOG_FORMAT must be json or console")
	}
	switch c.ConversationStore {
	case "memory":
	case "redis":
		if c.RedisURL == "" {
			return fmt.Errorf("CONVERSATION_STORE=redis requires REDIS_URL")
		}
	case "postgres":
		if c.DatabaseURL == "" {
			return fmt.Errorf("CONVERSATION_STORE=postgres requires DATABASE_URL")
		}
	default:
		return fmt.Errorf("CONVERSATION_STORE must be memory, redis or postgres")
	}
	if c.ConversationShards <= 0 {
		return fmt.Errorf("CONVERSATION_SHARDS must be positive")
	}
	if c.ConversationIdleTTL < time.Second {
		return fmt.Errorf("CONVERSATION_IDLE_TTL must be at least 1s")
	}
	if c.JanitorInterval <= 0 {
		return fmt.Errorf("CONVERSATION_JANITOR_INTERVAL must be positive")
	}
	if c.EscalationMinMessages < 2 {
		return fmt.Errorf("ESCALATION_MIN_MESSAGES must be at least 2")
	}
	if c.ConversationWindow < c.EscalationMinMessages {
		return fmt.Errorf("CONVERSATION_WINDOW must be >= ESCALATION_MIN_MESSAGES")
	}
	if c.EscalationSlopeThreshold <= 0 || c.EscalationSlopeSaturation <= 0 {
		return fmt.Errorf("ESCALATION_SLOPE_THRESHOLD and ESCALATION_SLOPE_SATURATION must be positive")
	}
	if c.NATSURL != "" && c.NATSSubject == "" {
		return fmt.Errorf("NATS_SUBJECT is required when NATS_URL is set")
	}
	if c.NATSTimeout <= 0 {
		return fmt.Errorf("NATS_TIMEOUT must be positive")
	}
	return nil
}

// reader keeps the first parse error so Load can report it by key.
type reader struct {
	v   *viper.Viper
	err error
}

func (r *reader) str(key string) string {
	return strings.TrimSpace(r.v.GetString(key))
}

func (r *reader) fail(key string, err error) {
	if r.err == nil {
		r.err = fmt.Errorf("%s parse error: %w", key, err)
	}
}

func (r *reader) duration(key string) time.Duration {
	d, err := time.ParseDuration(r.str(key))
	if err != nil {
		r.fail(key, err)
	}
	return d
}

func (r *reader) integer(key string) int {
	n, err := strconv.Atoi(r.str(key))
	if err != nil {
		r.fail(key, err)
	}
	return n
}

func (r *reader) float(key string) float64 {
	f, err := strconv.ParseFloat(r.str(key), 64)
	if err != nil {
		r.fail(key, err)
	}
	return f
}

func (r *reader) boolean(key string) bool {
	switch strings.ToLower(r.str(key)) {
	case "1", "true", "t", "yes", "y", "on":
		return true
	case "0", "false", "f", "no", "n", "off":
		return false
	default:
		r.fail(key, errors.New("expected bool"))
		return false
	}
}
