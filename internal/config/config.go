package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	ServiceName string `yaml:"service_name"`
	InstanceID  string `yaml:"instance_id"`
	HTTPPort    string `yaml:"http_port"`
	ObsHTTPAddr string `yaml:"obs_http_addr"`
	GRPCAddr    string `yaml:"grpc_addr"`

	PresenceBackend string `yaml:"presence_backend"`
	RedisAddr       string `yaml:"redis_addr"`
	RedisPrefix     string `yaml:"redis_prefix"`

	KafkaBrokers       []string `yaml:"kafka_brokers"`
	KafkaPresenceTopic string   `yaml:"kafka_presence_topic"`
	KafkaMessageTopics []string `yaml:"kafka_message_topics"`
	NATSURL            string   `yaml:"nats_url"`

	JWTSecret   string `yaml:"jwt_secret"`
	JWTIssuer   string `yaml:"jwt_issuer"`
	JWTAudience string `yaml:"jwt_audience"`

	TracingEnabled bool   `yaml:"tracing_enabled"`
	JaegerURL      string `yaml:"jaeger_url"`

	RateLimitRequests int           `yaml:"rate_limit_requests"`
	RateLimitWindow   time.Duration `yaml:"rate_limit_window"`

	Presence  PresenceConfig  `yaml:"presence"`
	Reconnect ReconnectConfig `yaml:"reconnect"`
}

type PresenceConfig struct {
	AwayThreshold    time.Duration `yaml:"away_threshold"`
	OfflineThreshold time.Duration `yaml:"offline_threshold"`
	CleanupInterval  time.Duration `yaml:"cleanup_interval"`
	GCHorizon        time.Duration `yaml:"gc_horizon"`
	TypingTTL        time.Duration `yaml:"typing_ttl"`
}

type ReconnectConfig struct {
	MaxAttempts int           `yaml:"max_attempts"`
	BaseDelay   time.Duration `yaml:"base_delay"`
	MaxDelay    time.Duration `yaml:"max_delay"`
}

const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
)

func Default() *Config {
	return &Config{
		ServiceName:        "realtime-presence",
		HTTPPort:           ":8083",
		ObsHTTPAddr:        ":8093",
		GRPCAddr:           ":50056",
		PresenceBackend:    BackendMemory,
		RedisAddr:          "localhost:6379",
		RedisPrefix:        "presence",
		KafkaPresenceTopic: "presence-events",
		JaegerURL:          "http://localhost:14268/api/traces",
		RateLimitRequests:  100,
		RateLimitWindow:    time.Minute,
		Presence: PresenceConfig{
			AwayThreshold:    5 * time.Minute,
			OfflineThreshold: 15 * time.Minute,
			CleanupInterval:  2 * time.Minute,
			GCHorizon:        time.Hour,
			TypingTTL:        3 * time.Second,
		},
		Reconnect: ReconnectConfig{
			MaxAttempts: 5,
			BaseDelay:   time.Second,
			MaxDelay:    30 * time.Second,
		},
	}
}

// Load starts from Default, overlays the YAML file named by CONFIG_FILE if set,
// then applies environment variables, which always win.
func Load() (*Config, error) {
	cfg := Default()

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	cfg.HTTPPort = fixPort(cfg.HTTPPort)
	cfg.ObsHTTPAddr = fixPort(cfg.ObsHTTPAddr)
	cfg.GRPCAddr = fixPort(cfg.GRPCAddr)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	c.ServiceName = getEnv("SERVICE_NAME", c.ServiceName)
	c.InstanceID = getEnv("INSTANCE_ID", getEnv("HOSTNAME", c.InstanceID))
	c.HTTPPort = getEnv("HTTP_PORT", c.HTTPPort)
	c.ObsHTTPAddr = getEnv("HTTP_ADDR", c.ObsHTTPAddr)
	c.GRPCAddr = getEnv("GRPC_ADDR", c.GRPCAddr)
	c.PresenceBackend = strings.ToLower(getEnv("PRESENCE_BACKEND", c.PresenceBackend))
	c.RedisAddr = getEnv("REDIS_ADDR", c.RedisAddr)
	c.RedisPrefix = getEnv("REDIS_PREFIX", c.RedisPrefix)
	c.KafkaBrokers = getEnvList("KAFKA_BROKERS", c.KafkaBrokers)
	c.KafkaPresenceTopic = getEnv("KAFKA_PRESENCE_TOPIC", c.KafkaPresenceTopic)
	c.KafkaMessageTopics = getEnvList("KAFKA_MESSAGE_TOPICS", c.KafkaMessageTopics)
	c.NATSURL = getEnv("NATS_URL", c.NATSURL)
	c.JWTSecret = getEnv("JWT_SECRET", c.JWTSecret)
	c.JWTIssuer = getEnv("JWT_ISSUER", c.JWTIssuer)
	c.JWTAudience = getEnv("JWT_AUDIENCE", c.JWTAudience)
	c.TracingEnabled = getEnvBool("TRACING_ENABLED", c.TracingEnabled)
	c.JaegerURL = getEnv("JAEGER_URL", c.JaegerURL)

	var errs []error
	collect := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}

	var err error
	c.RateLimitRequests, err = getEnvInt("RATE_LIMIT_REQUESTS", c.RateLimitRequests)
	collect(err)
	c.RateLimitWindow, err = getEnvDuration("RATE_LIMIT_WINDOW", c.RateLimitWindow)
	collect(err)

	c.Presence.AwayThreshold, err = getEnvDuration("AWAY_THRESHOLD", c.Presence.AwayThreshold)
	collect(err)
	c.Presence.OfflineThreshold, err = getEnvDuration("OFFLINE_THRESHOLD", c.Presence.OfflineThreshold)
	collect(err)
	c.Presence.CleanupInterval, err = getEnvDuration("CLEANUP_INTERVAL", c.Presence.CleanupInterval)
	collect(err)
	c.Presence.GCHorizon, err = getEnvDuration("GC_HORIZON", c.Presence.GCHorizon)
	collect(err)
	c.Presence.TypingTTL, err = getEnvDuration("TYPING_TTL", c.Presence.TypingTTL)
	collect(err)

	c.Reconnect.MaxAttempts, err = getEnvInt("MAX_RECONNECT_ATTEMPTS", c.Reconnect.MaxAttempts)
	collect(err)
	c.Reconnect.BaseDelay, err = getEnvDuration("BASE_RECONNECT_DELAY", c.Reconnect.BaseDelay)
	collect(err)
	c.Reconnect.MaxDelay, err = getEnvDuration("MAX_RECONNECT_DELAY", c.Reconnect.MaxDelay)
	collect(err)

	return errors.Join(errs...)
}

func (c *Config) Validate() error {
	var errs []error
	p := c.Presence
	if p.AwayThreshold <= 0 || p.OfflineThreshold <= 0 || p.CleanupInterval <= 0 || p.GCHorizon <= 0 {
		errs = append(errs, errors.New("presence thresholds and intervals must be positive"))
	}
	if p.AwayThreshold >= p.OfflineThreshold {
		errs = append(errs, fmt.Errorf("away threshold %s must be below offline threshold %s", p.AwayThreshold, p.OfflineThreshold))
	}
	if p.GCHorizon < p.OfflineThreshold {
		errs = append(errs, fmt.Errorf("gc horizon %s must not be below offline threshold %s", p.GCHorizon, p.OfflineThreshold))
	}
	if c.Reconnect.MaxAttempts < 0 || c.Reconnect.BaseDelay <= 0 || c.Reconnect.MaxDelay < c.Reconnect.BaseDelay {
		errs = append(errs, errors.New("reconnect policy needs attempts >= 0 and 0 < base delay <= max delay"))
	}
	switch c.PresenceBackend {
	case BackendMemory, BackendRedis:
	default:
		errs = append(errs, fmt.Errorf("unknown presence backend %q", c.PresenceBackend))
	}
	return errors.Join(errs...)
}

func fixPort(port string) string {
	if port != "" && !strings.Contains(port, ":") {
		return ":" + port
	}
	return port
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v == "true"
}

func getEnvInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback, fmt.Errorf("%s: %w", key, err)
	}
	return n, nil
}

func getEnvList(key string, fallback []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// getEnvDuration reads KEY as a Go duration ("90s") or KEY_MS as integer milliseconds.
func getEnvDuration(key string, fallback time.Duration) (time.Duration, error) {
	if v := os.Getenv(key); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fallback, fmt.Errorf("%s: %w", key, err)
		}
		return d, nil
	}
	if v := os.Getenv(key + "_MS"); v != "" {
		ms, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fallback, fmt.Errorf("%s_MS: %w", key, err)
		}
		return time.Duration(ms) * time.Millisecond, nil
	}
	return fallback, nil
}
