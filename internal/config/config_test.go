package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Port != "8080" {
		t.Errorf("expected default port 8080, got %q", cfg.Port)
	}
	if cfg.GatewayID != "gw-local" {
		t.Errorf("expected default gateway id gw-local, got %q", cfg.GatewayID)
	}
	if cfg.Retention.MaxEventsPerConv != 10_000 {
		t.Errorf("expected default retention cap 10000, got %d", cfg.Retention.MaxEventsPerConv)
	}
	if cfg.Session.TTL != 30*24*time.Hour {
		t.Errorf("expected default session TTL of 30 days, got %v", cfg.Session.TTL)
	}
}

func TestLoadReadsOverridesFromEnv(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("GATEWAY_ID", "gw-test")
	t.Setenv("GATEWAY_CONV_SENDS_PER_MIN", "5")
	t.Setenv("GATEWAY_RETENTION_HARD_LIMITS", "true")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Port != "9090" {
		t.Errorf("expected overridden port, got %q", cfg.Port)
	}
	if cfg.GatewayID != "gw-test" {
		t.Errorf("expected overridden gateway id, got %q", cfg.GatewayID)
	}
	if cfg.RateLimit.ConvSendsPerMin != 5 {
		t.Errorf("expected overridden rate limit, got %d", cfg.RateLimit.ConvSendsPerMin)
	}
	if !cfg.Retention.HardLimits {
		t.Error("expected hard limits enabled")
	}
}

func TestValidateRejectsEmptyPort(t *testing.T) {
	cfg := &Config{
		Port:      "",
		DBPath:    "./x.db",
		Retention: RetentionConfig{SweepIntervalS: 1},
		Presence:  PresenceConfig{MinTTLS: 1, MaxTTLS: 2},
		Transport: TransportConfig{OutboundQueueSize: 1},
	}
	if err := cfg.Validate(); err == nil {
		t.Error("expected an error for empty port")
	}
}

func TestValidateRejectsInvalidPresenceBounds(t *testing.T) {
	cfg := &Config{
		Port:      "8080",
		DBPath:    "./x.db",
		Retention: RetentionConfig{SweepIntervalS: 1},
		Presence:  PresenceConfig{MinTTLS: 100, MaxTTLS: 10},
		Transport: TransportConfig{OutboundQueueSize: 1},
	}
	if err := cfg.Validate(); err == nil {
		t.Error("expected an error for inverted presence TTL bounds")
	}
}

func TestValidateRejectsNonPositiveOutboundQueue(t *testing.T) {
	cfg := &Config{
		Port:      "8080",
		DBPath:    "./x.db",
		Retention: RetentionConfig{SweepIntervalS: 1},
		Presence:  PresenceConfig{MinTTLS: 1, MaxTTLS: 2},
		Transport: TransportConfig{OutboundQueueSize: 0},
	}
	if err := cfg.Validate(); err == nil {
		t.Error("expected an error for a zero outbound queue size")
	}
}

func TestIsDevelopment(t *testing.T) {
	cases := []struct {
		frontendURL string
		want        bool
	}{
		{"", true},
		{"http://localhost:3000", true},
		{"http://127.0.0.1:3000", true},
		{"https://app.example.com", false},
	}
	for _, c := range cases {
		cfg := &Config{FrontendURL: c.frontendURL}
		if got := cfg.IsDevelopment(); got != c.want {
			t.Errorf("IsDevelopment() with FrontendURL=%q = %v, want %v", c.frontendURL, got, c.want)
		}
	}
}
