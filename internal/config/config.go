// Package config provides application configuration.
//
// Configuration is loaded from environment variables with sensible defaults.
// All timeouts and operational parameters are configurable.
//
// Configuration categories:
//   - Retention: count/age pruning caps and sweeper cadence (§4.6)
//   - Cursors: staleness window consulted by safe-mode pruning (§4.3)
//   - Rate limits: per-action fixed-window caps (§4.10)
//   - Size caps: envelope and social event byte limits (§4.10)
//   - Presence: lease TTL bounds, watchlist caps, sweeper cadence (§4.9)
//   - Transport: heartbeat cadence and outbound queue capacity (§5)
//   - Session: bearer token TTL (§4.4)
//
// For the full environment variable contract, see SPEC_FULL.md §6.4.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// RetentionConfig controls the pruning sweeper (§4.6).
type RetentionConfig struct {
	MaxEventsPerConv int64 // 0 disables the count cap
	MaxAgeS          int64 // 0 disables the age cap
	SweepIntervalS   int64 // clamped to >= 1
	HardLimits       bool  // true skips the safe-mode active-cursor clamp
}

// CursorConfig controls cursor staleness used by safe-mode retention.
type CursorConfig struct {
	StaleAfterS int64
}

// RateLimitConfig holds every fixed-window cap named in §4.10/§6.4.
type RateLimitConfig struct {
	ConvSendsPerMin        int64
	SocialPublishesPerMin  int64
	DMCreatesPerMin        int64
	ConvRoleActionsPerMin  int64 // invite/remove/ban/unban/promote/demote per (conv_id, actor)
	PresenceWatchPerMin    int64
	PresenceRenewPerMin    int64
}

// SizeLimitConfig holds the byte caps named in §4.10/§6.4.
type SizeLimitConfig struct {
	MaxEnvB64Len        int64
	MaxSocialEventBytes int64
}

// PresenceConfig controls lease TTL bounds, watch caps and sweep cadence (§4.9).
type PresenceConfig struct {
	MinTTLS               int64
	MaxTTLS               int64
	SweeperIntervalS      int64
	MaxWatchlistSize      int
	MaxWatchersPerTarget  int
}

// TransportConfig controls the duplex heartbeat contract and
// per-connection back-pressure (§5, §6.2).
type TransportConfig struct {
	PingIntervalS     int64
	PingMissLimit     int
	OutboundQueueSize int
	RequestTimeout    time.Duration
}

// SessionConfig controls session token lifetime (§4.4).
type SessionConfig struct {
	TTL time.Duration
}

// Config holds all application configuration.
type Config struct {
	Port          string
	FrontendURL   string
	DBPath        string
	JWTSigningKey string // HMAC key used to verify inbound auth_token bearer credentials
	GatewayID     string
	GatewayDirPath string // static gateway directory file for /v1/gateways/resolve

	Retention RetentionConfig
	Cursor    CursorConfig
	RateLimit RateLimitConfig
	Size      SizeLimitConfig
	Presence  PresenceConfig
	Transport TransportConfig
	Session   SessionConfig
	Retry     RetryConfig
}

// RetryConfig holds retry-related configuration for SQLITE_BUSY handling.
type RetryConfig struct {
	DatabaseMaxRetries     int
	DatabaseRetryBaseDelay time.Duration
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		Port:           getEnv("PORT", "8080"),
		FrontendURL:    getEnv("FRONTEND_URL", ""),
		DBPath:         getEnv("DB_PATH", "./data/gateway.db"),
		JWTSigningKey:  getEnv("GATEWAY_JWT_SIGNING_KEY", ""),
		GatewayID:      getEnv("GATEWAY_ID", "gw-local"),
		GatewayDirPath: getEnv("GATEWAY_DIRECTORY_PATH", "./data/gateways.json"),

		Retention: RetentionConfig{
			MaxEventsPerConv: getEnvInt64("GATEWAY_RETENTION_MAX_EVENTS_PER_CONV", 10_000),
			MaxAgeS:          getEnvInt64("GATEWAY_RETENTION_MAX_AGE_S", 0),
			SweepIntervalS:   max64(getEnvInt64("GATEWAY_RETENTION_SWEEP_INTERVAL_S", 60), 1),
			HardLimits:       getEnvBool("GATEWAY_RETENTION_HARD_LIMITS", false),
		},
		Cursor: CursorConfig{
			StaleAfterS: getEnvInt64("GATEWAY_CURSOR_STALE_AFTER_S", 3600),
		},
		RateLimit: RateLimitConfig{
			ConvSendsPerMin:       getEnvInt64("GATEWAY_CONV_SENDS_PER_MIN", 120),
			SocialPublishesPerMin: getEnvInt64("GATEWAY_SOCIAL_PUBLISHES_PER_MIN", 30),
			DMCreatesPerMin:       getEnvInt64("GATEWAY_DMS_CREATES_PER_MIN", 20),
			ConvRoleActionsPerMin: getEnvInt64("GATEWAY_CONV_ROLE_ACTIONS_PER_MIN", 60),
			PresenceWatchPerMin:   getEnvInt64("GATEWAY_PRESENCE_WATCH_MUTATIONS_PER_MIN", 60),
			PresenceRenewPerMin:   getEnvInt64("GATEWAY_PRESENCE_LEASE_RENEWS_PER_MIN", 120),
		},
		Size: SizeLimitConfig{
			MaxEnvB64Len:        getEnvInt64("GATEWAY_MAX_ENV_B64_LEN", 262_144),
			MaxSocialEventBytes: getEnvInt64("GATEWAY_MAX_SOCIAL_EVENT_BYTES", 65_536),
		},
		Presence: PresenceConfig{
			MinTTLS:              getEnvInt64("GATEWAY_PRESENCE_MIN_TTL_S", 15),
			MaxTTLS:              getEnvInt64("GATEWAY_PRESENCE_MAX_TTL_S", 120),
			SweeperIntervalS:     max64(getEnvInt64("GATEWAY_PRESENCE_SWEEPER_INTERVAL_S", 10), 1),
			MaxWatchlistSize:     getEnvInt("GATEWAY_PRESENCE_MAX_WATCHLIST_SIZE", 2000),
			MaxWatchersPerTarget: getEnvInt("GATEWAY_PRESENCE_MAX_WATCHERS_PER_TARGET", 5000),
		},
		Transport: TransportConfig{
			PingIntervalS:     getEnvInt64("GATEWAY_PING_INTERVAL_S", 30),
			PingMissLimit:     getEnvInt("GATEWAY_PING_MISS_LIMIT", 2),
			OutboundQueueSize: getEnvInt("GATEWAY_OUTBOUND_QUEUE_SIZE", 1000),
			RequestTimeout:    getEnvDuration("GATEWAY_REQUEST_TIMEOUT", 5*time.Second),
		},
		Session: SessionConfig{
			TTL: getEnvDuration("GATEWAY_SESSION_TTL", 30*24*time.Hour),
		},
		Retry: RetryConfig{
			DatabaseMaxRetries:     getEnvInt("GATEWAY_DB_MAX_RETRIES", 3),
			DatabaseRetryBaseDelay: getEnvDuration("GATEWAY_DB_RETRY_BASE_DELAY", 50*time.Millisecond),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT cannot be empty")
	}
	if c.DBPath == "" {
		return fmt.Errorf("DB_PATH cannot be empty")
	}
	if c.Retention.SweepIntervalS < 1 {
		return fmt.Errorf("GATEWAY_RETENTION_SWEEP_INTERVAL_S must be >= 1")
	}
	if c.Presence.MinTTLS <= 0 || c.Presence.MaxTTLS < c.Presence.MinTTLS {
		return fmt.Errorf("presence TTL bounds are invalid")
	}
	if c.Transport.OutboundQueueSize <= 0 {
		return fmt.Errorf("GATEWAY_OUTBOUND_QUEUE_SIZE must be > 0")
	}
	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.FrontendURL == "" ||
		strings.Contains(c.FrontendURL, "localhost") ||
		strings.Contains(c.FrontendURL, "127.0.0.1")
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

func getEnvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}

func getEnvInt64(key string, fallback int64) int64 {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.ParseInt(strings.TrimSpace(value), 10, 64)
	if err != nil {
		return fallback
	}
	return n
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	d, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return d
}

func max64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}

// IsContainer returns true if running inside a container. Retained from
// the ambient stack's deployment-detection idiom; used only to decide
// log format defaults.
func IsContainer() bool {
	if os.Getenv("CONTAINER") == "true" {
		return true
	}
	if _, err := os.Stat("/.dockerenv"); err == nil {
		return true
	}
	return false
}
