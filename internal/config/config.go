// Package config provides environment configuration for the chat client.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Push transports.
const (
	TransportWebSocket = "ws"
	TransportNATS      = "nats"
	TransportLocal     = "local"
)

// Config holds all configuration for the application.
type Config struct {
	// Service settings
	APIBaseURL     string        `yaml:"api_base_url"`
	AuthToken      string        `yaml:"auth_token"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
	HistoryLimit   int           `yaml:"history_limit"`
	AssistantScope string        `yaml:"assistant_scope"`
	ParticipantTTL time.Duration `yaml:"participant_cache_ttl"`

	// Push settings
	PushTransport string `yaml:"push_transport"`
	PushURL       string `yaml:"push_url"`

	// NATS settings
	NATSURL           string `yaml:"nats_url"`
	NATSCAFile        string `yaml:"nats_ca_file"`
	NATSCertFile      string `yaml:"nats_cert_file"`
	NATSKeyFile       string `yaml:"nats_key_file"`
	NATSToken         string `yaml:"nats_token"`
	NATSSubjectPrefix string `yaml:"nats_subject_prefix"`

	// Presence settings
	TypingIdleWindow    time.Duration `yaml:"typing_idle_window"`
	TypingTTL           time.Duration `yaml:"typing_ttl"`
	TypingSweepInterval time.Duration `yaml:"typing_sweep_interval"`

	// Diagnostics
	DiagnosticsAddr           string        `yaml:"diagnostics_addr"`
	DiagnosticsToken          string        `yaml:"diagnostics_token"`
	DiagnosticsAllowedOrigins []string      `yaml:"diagnostics_allowed_origins"`
	DiagnosticsRateLimit      int           `yaml:"diagnostics_rate_limit"`
	DiagnosticsRateWindow     time.Duration `yaml:"diagnostics_rate_window"`

	// Logging
	LogLevel string `yaml:"log_level"`
	LogFile  string `yaml:"log_file"`

	// Tracing
	TracingEndpoint string `yaml:"tracing_endpoint"`
	TracingEnabled  bool   `yaml:"tracing_enabled"`
}

// Defaults returns the configuration used when nothing is set.
func Defaults() *Config {
	return &Config{
		APIBaseURL:            "http://localhost:8000",
		RequestTimeout:        30 * time.Second,
		HistoryLimit:          50,
		AssistantScope:        "all",
		ParticipantTTL:        time.Minute,
		PushTransport:         TransportWebSocket,
		PushURL:               "ws://localhost:8000/ws",
		NATSURL:               "nats://localhost:4222",
		NATSSubjectPrefix:     "chat",
		TypingIdleWindow:      2 * time.Second,
		TypingTTL:             6 * time.Second,
		TypingSweepInterval:   time.Second,
		DiagnosticsRateLimit:  60,
		DiagnosticsRateWindow: time.Minute,
		LogLevel:              "info",
		TracingEndpoint:       "localhost:4318",
	}
}

// Load reads configuration from the optional YAML file named by
// CHATSYNC_CONFIG, then applies environment variable overrides.
func Load() (*Config, error) {
	cfg := Defaults()

	if path := os.Getenv("CHATSYNC_CONFIG"); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}
	return nil
}

func (c *Config) applyEnv() {
	// Service
	c.APIBaseURL = getEnv("CHATSYNC_API_URL", c.APIBaseURL)
	c.AuthToken = getEnv("CHATSYNC_TOKEN", c.AuthToken)
	c.RequestTimeout = getDurationEnv("CHATSYNC_REQUEST_TIMEOUT", c.RequestTimeout)
	c.HistoryLimit = getIntEnv("CHATSYNC_HISTORY_LIMIT", c.HistoryLimit)
	c.AssistantScope = getEnv("CHATSYNC_ASSISTANT_SCOPE", c.AssistantScope)
	c.ParticipantTTL = getDurationEnv("CHATSYNC_PARTICIPANT_CACHE_TTL", c.ParticipantTTL)

	// Push
	c.PushTransport = getEnv("CHATSYNC_PUSH_TRANSPORT", c.PushTransport)
	c.PushURL = getEnv("CHATSYNC_PUSH_URL", c.PushURL)

	// NATS
	c.NATSURL = getEnv("NATS_URL", c.NATSURL)
	c.NATSCAFile = getEnv("NATS_CA_FILE", c.NATSCAFile)
	c.NATSCertFile = getEnv("NATS_CERT_FILE", c.NATSCertFile)
	c.NATSKeyFile = getEnv("NATS_KEY_FILE", c.NATSKeyFile)
	c.NATSToken = getEnv("NATS_TOKEN", c.NATSToken)
	c.NATSSubjectPrefix = getEnv("NATS_SUBJECT_PREFIX", c.NATSSubjectPrefix)

	// Presence
	c.TypingIdleWindow = getDurationEnv("CHATSYNC_TYPING_IDLE", c.TypingIdleWindow)
	c.TypingTTL = getDurationEnv("CHATSYNC_TYPING_TTL", c.TypingTTL)
	c.TypingSweepInterval = getDurationEnv("CHATSYNC_TYPING_SWEEP", c.TypingSweepInterval)

	// Diagnostics
	c.DiagnosticsAddr = getEnv("CHATSYNC_DIAGNOSTICS_ADDR", c.DiagnosticsAddr)
	c.DiagnosticsToken = getEnv("CHATSYNC_DIAGNOSTICS_TOKEN", c.DiagnosticsToken)
	c.DiagnosticsAllowedOrigins = getListEnv("CHATSYNC_DIAGNOSTICS_ORIGINS", c.DiagnosticsAllowedOrigins)
	c.DiagnosticsRateLimit = getIntEnv("CHATSYNC_DIAGNOSTICS_RATE_LIMIT", c.DiagnosticsRateLimit)
	c.DiagnosticsRateWindow = getDurationEnv("CHATSYNC_DIAGNOSTICS_RATE_WINDOW", c.DiagnosticsRateWindow)

	// Logging
	c.LogLevel = getEnv("LOG_LEVEL", c.LogLevel)
	c.LogFile = getEnv("CHATSYNC_LOG_FILE", c.LogFile)

	// Tracing
	c.TracingEndpoint = getEnv("TRACING_ENDPOINT", c.TracingEndpoint)
	c.TracingEnabled = getBoolEnv("TRACING_ENABLED", c.TracingEnabled)
}

// Validate checks values that would break the session at runtime.
func (c *Config) Validate() error {
	switch c.PushTransport {
	case TransportWebSocket, TransportNATS, TransportLocal:
	default:
		return fmt.Errorf("unknown push transport %q", c.PushTransport)
	}
	if c.HistoryLimit <= 0 || c.HistoryLimit > 100 {
		return fmt.Errorf("history limit must be between 1 and 100, got %d", c.HistoryLimit)
	}
	if c.TypingIdleWindow <= 0 {
		return fmt.Errorf("typing idle window must be positive")
	}
	if c.TypingTTL <= 0 || c.TypingSweepInterval <= 0 {
		return fmt.Errorf("typing ttl and sweep interval must be positive")
	}
	if c.DiagnosticsAddr != "" && (c.DiagnosticsRateLimit <= 0 || c.DiagnosticsRateWindow <= 0) {
		return fmt.Errorf("diagnostics rate limit and window must be positive")
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getListEnv(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
