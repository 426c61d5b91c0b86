package config

import (
	"os"
	"testing"
	"time"
)

// clearEnv unsets every variable FromEnv reads so tests see a clean slate.
func clearEnv(t *testing.T) {
	t.Helper()
	keys := []string{
		"APP_NAME", "PORT", "WEBHOOK_URL", "LOG_LEVEL",
		"CHROME_PATH", "CHROME_HEADLESS", "CHROME_NO_SANDBOX",
		"POOL_SIZE", "ATTEMPT_TIMEOUT", "MAX_ATTEMPTS", "BACKOFF_SCHEDULE", "BACKOFF_JITTER_PCT",
		"INBOUND_WAIT", "DRAIN_GRACE",
		"FAIL_FIRST_N", "RESPONSE_DELAY_MS", "FAKE_DESTINATION_PORT",
		"FAKE_DESTINATION_READ_TIMEOUT", "FAKE_DESTINATION_WRITE_TIMEOUT", "FAKE_DESTINATION_IDLE_TIMEOUT",
	}
	for _, k := range keys {
		os.Unsetenv(k)
	}
}

func TestFromEnvDefaults(t *testing.T) {
	clearEnv(t)

	cfg := FromEnv()

	if cfg.AppName != "hookbridge" {
		t.Errorf("AppName = %q, want %q", cfg.AppName, "hookbridge")
	}
	if cfg.HTTPPort != ":3005" {
		t.Errorf("HTTPPort = %q, want %q", cfg.HTTPPort, ":3005")
	}
	if cfg.DestinationURL != "" {
		t.Errorf("DestinationURL = %q, want empty", cfg.DestinationURL)
	}
	if cfg.LogLevel != "info" {
		t.Errorf("LogLevel = %q, want %q", cfg.LogLevel, "info")
	}
	if !cfg.Browser.Headless {
		t.Error("Browser.Headless default should be true")
	}
	if cfg.Browser.NoSandbox {
		t.Error("Browser.NoSandbox default should be false")
	}
	if cfg.Agent.PoolSize != 1 {
		t.Errorf("Agent.PoolSize = %d, want 1", cfg.Agent.PoolSize)
	}
	if cfg.Agent.MaxAttempts != 3 {
		t.Errorf("Agent.MaxAttempts = %d, want 3", cfg.Agent.MaxAttempts)
	}
	if cfg.Agent.AttemptTimeout != 30*time.Second {
		t.Errorf("Agent.AttemptTimeout = %v, want 30s", cfg.Agent.AttemptTimeout)
	}
	wantSchedule := []time.Duration{500 * time.Millisecond, 2 * time.Second, 8 * time.Second}
	if len(cfg.Agent.BackoffSchedule) != len(wantSchedule) {
		t.Fatalf("BackoffSchedule length = %d, want %d", len(cfg.Agent.BackoffSchedule), len(wantSchedule))
	}
	for i, d := range wantSchedule {
		if cfg.Agent.BackoffSchedule[i] != d {
			t.Errorf("BackoffSchedule[%d] = %v, want %v", i, cfg.Agent.BackoffSchedule[i], d)
		}
	}
	if cfg.Relay.InboundWait != 60*time.Second {
		t.Errorf("Relay.InboundWait = %v, want 60s", cfg.Relay.InboundWait)
	}
	if cfg.Relay.DrainGrace != 30*time.Second {
		t.Errorf("Relay.DrainGrace = %v, want 30s", cfg.Relay.DrainGrace)
	}
}

func TestFromEnvOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("PORT", "9000")
	t.Setenv("WEBHOOK_URL", "https://example.com/hook")
	t.Setenv("LOG_LEVEL", "DEBUG")
	t.Setenv("POOL_SIZE", "4")
	t.Setenv("MAX_ATTEMPTS", "5")
	t.Setenv("ATTEMPT_TIMEOUT", "10s")
	t.Setenv("CHROME_HEADLESS", "false")
	t.Setenv("CHROME_NO_SANDBOX", "true")
	t.Setenv("CHROME_PATH", "/usr/bin/chromium")
	t.Setenv("INBOUND_WAIT", "5s")
	t.Setenv("BACKOFF_JITTER_PCT", "0.5")

	cfg := FromEnv()

	if cfg.HTTPPort != ":9000" {
		t.Errorf("HTTPPort = %q, want %q", cfg.HTTPPort, ":9000")
	}
	if cfg.DestinationURL != "https://example.com/hook" {
		t.Errorf("DestinationURL = %q, want %q", cfg.DestinationURL, "https://example.com/hook")
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("LogLevel = %q, want lowercased %q", cfg.LogLevel, "debug")
	}
	if cfg.Agent.PoolSize != 4 {
		t.Errorf("Agent.PoolSize = %d, want 4", cfg.Agent.PoolSize)
	}
	if cfg.Agent.MaxAttempts != 5 {
		t.Errorf("Agent.MaxAttempts = %d, want 5", cfg.Agent.MaxAttempts)
	}
	if cfg.Agent.AttemptTimeout != 10*time.Second {
		t.Errorf("Agent.AttemptTimeout = %v, want 10s", cfg.Agent.AttemptTimeout)
	}
	if cfg.Browser.Headless {
		t.Error("Browser.Headless should be false")
	}
	if !cfg.Browser.NoSandbox {
		t.Error("Browser.NoSandbox should be true")
	}
	if cfg.Browser.ExecPath != "/usr/bin/chromium" {
		t.Errorf("Browser.ExecPath = %q, want %q", cfg.Browser.ExecPath, "/usr/bin/chromium")
	}
	if cfg.Relay.InboundWait != 5*time.Second {
		t.Errorf("Relay.InboundWait = %v, want 5s", cfg.Relay.InboundWait)
	}
	if cfg.Agent.JitterPercent != 0.5 {
		t.Errorf("Agent.JitterPercent = %v, want 0.5", cfg.Agent.JitterPercent)
	}
}

func TestFromEnvPortAlreadyPrefixed(t *testing.T) {
	clearEnv(t)
	t.Setenv("PORT", ":8080")

	cfg := FromEnv()
	if cfg.HTTPPort != ":8080" {
		t.Errorf("HTTPPort = %q, want %q", cfg.HTTPPort, ":8080")
	}
}

func TestParseBackoffSchedule(t *testing.T) {
	tests := []struct {
		name     string
		schedule string
		want     []time.Duration
	}{
		{
			name:     "custom schedule",
			schedule: "1s,4s,16s",
			want:     []time.Duration{time.Second, 4 * time.Second, 16 * time.Second},
		},
		{
			name:     "schedule with spaces",
			schedule: " 1s , 2s ",
			want:     []time.Duration{time.Second, 2 * time.Second},
		},
		{
			name:     "invalid entries skipped",
			schedule: "1s,bogus,2s",
			want:     []time.Duration{time.Second, 2 * time.Second},
		},
		{
			name:     "empty falls back to default",
			schedule: "",
			want:     []time.Duration{500 * time.Millisecond, 2 * time.Second, 8 * time.Second},
		},
		{
			name:     "all invalid falls back to default",
			schedule: "nope,nah",
			want:     []time.Duration{500 * time.Millisecond, 2 * time.Second, 8 * time.Second},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := parseBackoffSchedule(tt.schedule)
			if len(got) != len(tt.want) {
				t.Fatalf("parseBackoffSchedule(%q) length = %d, want %d", tt.schedule, len(got), len(tt.want))
			}
			for i := range tt.want {
				if got[i] != tt.want[i] {
					t.Errorf("parseBackoffSchedule(%q)[%d] = %v, want %v", tt.schedule, i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestGetenvHelpers(t *testing.T) {
	clearEnv(t)

	t.Setenv("POOL_SIZE", "not-a-number")
	if got := getenvInt("POOL_SIZE", 7); got != 7 {
		t.Errorf("getenvInt with garbage = %d, want default 7", got)
	}

	t.Setenv("CHROME_HEADLESS", "maybe")
	if got := getenvBool("CHROME_HEADLESS", true); got != true {
		t.Errorf("getenvBool with garbage = %v, want default true", got)
	}

	t.Setenv("ATTEMPT_TIMEOUT", "eleven")
	if got := getenvDuration("ATTEMPT_TIMEOUT", time.Minute); got != time.Minute {
		t.Errorf("getenvDuration with garbage = %v, want default 1m", got)
	}

	t.Setenv("BACKOFF_JITTER_PCT", "nope")
	if got := getenvFloat("BACKOFF_JITTER_PCT", 0.25); got != 0.25 {
		t.Errorf("getenvFloat with garbage = %v, want default 0.25", got)
	}
}
