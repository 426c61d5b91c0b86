package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type Browser struct {
	ExecPath  string // optional explicit Chrome binary path
	Headless  bool   // run Chrome headless
	NoSandbox bool   // disable the Chrome sandbox (containers)
}

type Agent struct {
	PoolSize        int             // number of concurrent browser sessions
	AttemptTimeout  time.Duration   // per-attempt outbound budget
	MaxAttempts     int             // delivery attempts before giving up
	BackoffSchedule []time.Duration // retry backoff durations
	JitterPercent   float64         // backoff jitter percentage (0.0-1.0)
}

type Relay struct {
	InboundWait time.Duration // how long an inbound caller waits for the outcome
	DrainGrace  time.Duration // shutdown grace for in-flight deliveries
}

type FakeDestination struct {
	FailFirstN      int           // number of requests to fail initially
	ResponseDelayMS int           // simulated response delay in milliseconds
	Port            string        // server listen port
	ReadTimeout     time.Duration // HTTP read timeout
	WriteTimeout    time.Duration // HTTP write timeout
	IdleTimeout     time.Duration // HTTP idle timeout
}

type Config struct {
	AppName         string
	HTTPPort        string // :3005
	DestinationURL  string // where payloads are forwarded
	LogLevel        string
	Browser         Browser
	Agent           Agent
	Relay           Relay
	FakeDestination FakeDestination
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getenvFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getenvBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

func getenvDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func parseBackoffSchedule(schedule string) []time.Duration {
	def := []time.Duration{500 * time.Millisecond, 2 * time.Second, 8 * time.Second}
	if schedule == "" {
		return def
	}

	parts := strings.Split(schedule, ",")
	durations := make([]time.Duration, 0, len(parts))

	for _, part := range parts {
		part = strings.TrimSpace(part)
		if d, err := time.ParseDuration(part); err == nil {
			durations = append(durations, d)
		}
	}

	if len(durations) == 0 {
		// Fallback to default if parsing failed
		return def
	}

	return durations
}

func FromEnv() Config {
	port := getenv("PORT", "3005")
	if !strings.HasPrefix(port, ":") {
		port = ":" + port
	}
	return Config{
		AppName:        getenv("APP_NAME", "hookbridge"),
		HTTPPort:       port,
		DestinationURL: getenv("WEBHOOK_URL", ""),
		LogLevel:       strings.ToLower(getenv("LOG_LEVEL", "info")),
		Browser: Browser{
			ExecPath:  getenv("CHROME_PATH", ""),
			Headless:  getenvBool("CHROME_HEADLESS", true),
			NoSandbox: getenvBool("CHROME_NO_SANDBOX", false),
		},
		Agent: Agent{
			PoolSize:        getenvInt("POOL_SIZE", 1),
			AttemptTimeout:  getenvDuration("ATTEMPT_TIMEOUT", 30*time.Second),
			MaxAttempts:     getenvInt("MAX_ATTEMPTS", 3),
			BackoffSchedule: parseBackoffSchedule(getenv("BACKOFF_SCHEDULE", "")),
			JitterPercent:   getenvFloat("BACKOFF_JITTER_PCT", 0.25),
		},
		Relay: Relay{
			InboundWait: getenvDuration("INBOUND_WAIT", 60*time.Second),
			DrainGrace:  getenvDuration("DRAIN_GRACE", 30*time.Second),
		},
		FakeDestination: FakeDestination{
			FailFirstN:      getenvInt("FAIL_FIRST_N", 0),
			ResponseDelayMS: getenvInt("RESPONSE_DELAY_MS", 0),
			Port:            getenv("FAKE_DESTINATION_PORT", ":8081"),
			ReadTimeout:     getenvDuration("FAKE_DESTINATION_READ_TIMEOUT", 10*time.Second),
			WriteTimeout:    getenvDuration("FAKE_DESTINATION_WRITE_TIMEOUT", 10*time.Second),
			IdleTimeout:     getenvDuration("FAKE_DESTINATION_IDLE_TIMEOUT", 60*time.Second),
		},
	}
}
