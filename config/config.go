package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds all application configuration.
type Config struct {
	Server      ServerConfig
	Log         LogConfig
	Scrape      ScrapeConfig
	Fingerprint FingerprintConfig
	Browser     BrowserConfig
	Pools       PoolConfig
	Batch       BatchConfig
	Cleanup     CleanupConfig
	Webhook     WebhookConfig
	RateLimit   RateLimitConfig
}

// ServerConfig controls the HTTP server.
type ServerConfig struct {
	Host string // default: "0.0.0.0"
	Port int    // default: 8080

	// BasePath is prefixed to the /api/v1 route group.
	BasePath string

	// Mode is the gin mode: "debug", "release", "test"; default: "release".
	Mode string

	// CloseTimeout bounds graceful shutdown; the process exits non-zero
	// when in-flight work does not finish within it.
	CloseTimeout time.Duration // default: 10s
}

// LogConfig controls structured logging.
type LogConfig struct {
	Level  string // default: "info"
	Format string // "json" or "text"; default: "json"
}

// ScrapeConfig controls per-request scraping defaults.
type ScrapeConfig struct {
	// DefaultMode is used when a request omits mode: "static" or "browser".
	DefaultMode string // default: "static"

	// DefaultTaskTimeout is the per-request deadline when unset.
	DefaultTaskTimeout time.Duration // default: 30s

	// MaxTaskTimeout caps the client-supplied taskTimeoutSecs.
	MaxTaskTimeout time.Duration // default: 120s

	// MaxBodyBytes caps the fetched page body; larger pages fail with 413.
	MaxBodyBytes int // default: 10 MiB
}

// FingerprintConfig holds server-side fingerprint defaults.
type FingerprintConfig struct {
	UserAgent       string // default UA when generation is disabled
	Locale          string // default: "en-US"
	TimezoneID      string // default: "UTC"
	Generate        bool   // default: true
	RotateOnAntiBot bool   // default: true

	// BlockTrackers and BlockHeavyResources are browser-mode defaults.
	BlockTrackers       bool // default: true
	BlockHeavyResources bool // default: true
}

// BrowserConfig controls the Rod browser instance.
type BrowserConfig struct {
	Headless          bool          // default: true
	NavigationTimeout time.Duration // default: 15s
	MaxPages          int           // page pool capacity; default: 10
	NoSandbox         bool          // needed in Docker; default: false
	Bin               string        // Chromium binary override
}

// PoolConfig sizes the two admission pools.
type PoolConfig struct {
	MaxConcurrency        int // generic pool in-flight cap; default: 16
	MaxQueue              int // generic pool queue cap; default: 32
	MaxBrowserConcurrency int // browser pool in-flight cap; default: 4
	MaxBrowserQueue       int // browser pool queue cap; default: 8
}

// BatchConfig controls batch job execution.
type BatchConfig struct {
	// Concurrency is the number of items processed in parallel per job.
	Concurrency int // default: 2

	// MinDelayMs/MaxDelayMs are the pacing defaults between items.
	MinDelayMs int // default: 1000
	MaxDelayMs int // default: 3000
}

// CleanupConfig controls TTL expiry of finished jobs and cached pages.
type CleanupConfig struct {
	DataLifetime time.Duration // default: 60m
	Interval     time.Duration // default: 10m
}

// WebhookConfig holds webhook delivery defaults.
type WebhookConfig struct {
	Timeout     time.Duration // per-attempt timeout; default: 10s
	BackoffMs   int           // default backoff base; default: 1000
	MaxAttempts int           // default: 3
}

// RateLimitConfig controls per-client rate limiting.
type RateLimitConfig struct {
	RequestsPerSecond float64 // default: 5; <= 0 disables
	Burst             int     // default: 10
}

// Load reads configuration from environment variables with sane defaults.
func Load() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         envOr("LISTEN_HOST", "0.0.0.0"),
			Port:         envIntOr("LISTEN_PORT", 8080),
			BasePath:     envOr("BASE_PATH", ""),
			Mode:         envOr("GIN_MODE", "release"),
			CloseTimeout: envMillisOr("APP_CLOSE_TIMEOUT_MS", 10*time.Second),
		},
		Log: LogConfig{
			Level:  envOr("LOG_LEVEL", "info"),
			Format: envOr("LOG_FORMAT", "json"),
		},
		Scrape: ScrapeConfig{
			DefaultMode:        envOr("DEFAULT_MODE", "static"),
			DefaultTaskTimeout: envSecsOr("DEFAULT_TASK_TIMEOUT_SECS", 30*time.Second),
			MaxTaskTimeout:     envSecsOr("MAX_TASK_TIMEOUT_SECS", 120*time.Second),
			MaxBodyBytes:       envIntOr("MAX_BODY_BYTES", 10*1024*1024),
		},
		Fingerprint: FingerprintConfig{
			UserAgent:           envOr("DEFAULT_FINGERPRINT_USER_AGENT", ""),
			Locale:              envOr("DEFAULT_FINGERPRINT_LOCALE", "en-US"),
			TimezoneID:          envOr("DEFAULT_FINGERPRINT_TIMEZONE_ID", "UTC"),
			Generate:            envBoolOr("DEFAULT_FINGERPRINT_GENERATE", true),
			RotateOnAntiBot:     envBoolOr("DEFAULT_FINGERPRINT_ROTATE_ON_ANTI_BOT", true),
			BlockTrackers:       envBoolOr("DEFAULT_PLAYWRIGHT_BLOCK_TRACKERS", true),
			BlockHeavyResources: envBoolOr("DEFAULT_PLAYWRIGHT_BLOCK_HEAVY_RESOURCES", true),
		},
		Browser: BrowserConfig{
			Headless:          envBoolOr("PLAYWRIGHT_HEADLESS", true),
			NavigationTimeout: envSecsOr("PLAYWRIGHT_NAVIGATION_TIMEOUT_SECS", 15*time.Second),
			MaxPages:          envIntOr("BROWSER_MAX_PAGES", 10),
			NoSandbox:         envBoolOr("BROWSER_NO_SANDBOX", false),
			Bin:               os.Getenv("BROWSER_BIN"),
		},
		Pools: PoolConfig{
			MaxConcurrency:        envIntOr("MAX_CONCURRENCY", 16),
			MaxQueue:              envIntOr("MAX_QUEUE", 32),
			MaxBrowserConcurrency: envIntOr("MAX_BROWSER_CONCURRENCY", 4),
			MaxBrowserQueue:       envIntOr("MAX_BROWSER_QUEUE", 8),
		},
		Batch: BatchConfig{
			Concurrency: envIntOr("BATCH_CONCURRENCY", 2),
			MinDelayMs:  envIntOr("DEFAULT_BATCH_MIN_DELAY_MS", 1000),
			MaxDelayMs:  envIntOr("DEFAULT_BATCH_MAX_DELAY_MS", 3000),
		},
		Cleanup: CleanupConfig{
			DataLifetime: envMinsOr("DATA_LIFETIME_MINS", 60*time.Minute),
			Interval:     envMinsOr("CLEANUP_INTERVAL_MINS", 10*time.Minute),
		},
		Webhook: WebhookConfig{
			Timeout:     envMillisOr("WEBHOOK_TIMEOUT_MS", 10*time.Second),
			BackoffMs:   envIntOr("DEFAULT_WEBHOOK_BACKOFF_MS", 1000),
			MaxAttempts: envIntOr("DEFAULT_WEBHOOK_MAX_ATTEMPTS", 3),
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: envFloatOr("RATE_LIMIT_RPS", 5.0),
			Burst:             envIntOr("RATE_LIMIT_BURST", 10),
		},
	}
}

// Validate checks the loaded configuration and returns the list of
// violations. An empty slice means the configuration is usable.
func (c *Config) Validate() []string {
	var violations []string

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		violations = append(violations, fmt.Sprintf("LISTEN_PORT must be in [1,65535], got %d", c.Server.Port))
	}
	if c.Scrape.DefaultMode != "static" && c.Scrape.DefaultMode != "browser" {
		violations = append(violations, fmt.Sprintf("DEFAULT_MODE must be \"static\" or \"browser\", got %q", c.Scrape.DefaultMode))
	}
	if c.Scrape.DefaultTaskTimeout < time.Second {
		violations = append(violations, "DEFAULT_TASK_TIMEOUT_SECS must be >= 1")
	}
	if c.Scrape.MaxTaskTimeout < c.Scrape.DefaultTaskTimeout {
		violations = append(violations, "MAX_TASK_TIMEOUT_SECS must be >= DEFAULT_TASK_TIMEOUT_SECS")
	}
	if c.Scrape.MaxBodyBytes < 1 {
		violations = append(violations, "MAX_BODY_BYTES must be >= 1")
	}
	if c.Pools.MaxConcurrency < 1 || c.Pools.MaxBrowserConcurrency < 1 {
		violations = append(violations, "pool concurrency limits must be >= 1")
	}
	if c.Pools.MaxQueue < 0 || c.Pools.MaxBrowserQueue < 0 {
		violations = append(violations, "pool queue limits must be >= 0")
	}
	if c.Batch.Concurrency < 1 {
		violations = append(violations, "BATCH_CONCURRENCY must be >= 1")
	}
	if c.Batch.MinDelayMs < 0 || c.Batch.MaxDelayMs < c.Batch.MinDelayMs {
		violations = append(violations, "batch delays must satisfy 0 <= min <= max")
	}
	if c.Cleanup.DataLifetime <= 0 || c.Cleanup.Interval <= 0 {
		violations = append(violations, "cleanup lifetime and interval must be positive")
	}
	if c.Webhook.MaxAttempts < 1 {
		violations = append(violations, "DEFAULT_WEBHOOK_MAX_ATTEMPTS must be >= 1")
	}
	if c.Webhook.BackoffMs < 100 {
		violations = append(violations, "DEFAULT_WEBHOOK_BACKOFF_MS must be >= 100")
	}

	return violations
}

// --- helper functions ---

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envIntOr(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func envBoolOr(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func envFloatOr(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func envSecsOr(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return time.Duration(i) * time.Second
		}
	}
	return fallback
}

func envMillisOr(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return time.Duration(i) * time.Millisecond
		}
	}
	return fallback
}

func envMinsOr(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return time.Duration(i) * time.Minute
		}
	}
	return fallback
}
