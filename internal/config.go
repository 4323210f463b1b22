package internal

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// DeliveryMode selects how media bytes reach the HTTP client.
type DeliveryMode string

const (
	// DeliveryStreaming pipes extractor stdout straight into the response.
	DeliveryStreaming DeliveryMode = "streaming"
	// DeliveryBuffered downloads to a temp file, validates, then responds.
	DeliveryBuffered DeliveryMode = "buffered"
)

// Config holds application configuration
type Config struct {
	ListenAddr   string
	ExtractorBin string
	DownloadDir  string
	DeliveryMode DeliveryMode

	// Credential cache
	CookieSourceURL    string
	CookieTTL          time.Duration
	CookieFetchTimeout time.Duration

	// Proxies, raw list as configured (comma/semicolon/newline separated)
	ProxyList string

	// Rate limiting (requests per client IP per window)
	RateLimitCount  int
	RateLimitWindow time.Duration

	// Extractor timeouts
	OverallTimeout time.Duration
	ConnectTimeout time.Duration
	MaxRetries     int

	// Progress/notifier tuning
	PollInterval      time.Duration
	KeepAliveInterval time.Duration
	NotifyGracePeriod time.Duration
	NotifyMaxLifetime time.Duration

	// History
	HistoryLimit int
	PostgresDSN  string

	// Temp sweeping
	SweepInterval time.Duration
	SweepMaxAge   time.Duration

	// Logging configuration
	LogLevel    string
	EnableDebug bool
	QuietMode   bool
	LogFile     string
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		ListenAddr:   ":8080",
		ExtractorBin: "yt-dlp",
		DownloadDir:  os.TempDir(),
		DeliveryMode: DeliveryStreaming,

		CookieSourceURL:    "",
		CookieTTL:          60 * time.Second,
		CookieFetchTimeout: 8 * time.Second,

		ProxyList: "",

		RateLimitCount:  5,
		RateLimitWindow: time.Minute,

		OverallTimeout: 240 * time.Second,
		ConnectTimeout: 45 * time.Second,
		MaxRetries:     3,

		PollInterval:      500 * time.Millisecond,
		KeepAliveInterval: 10 * time.Second,
		NotifyGracePeriod: 5 * time.Second,
		NotifyMaxLifetime: 10 * time.Minute,

		HistoryLimit: 100,
		PostgresDSN:  "",

		SweepInterval: 10 * time.Minute,
		SweepMaxAge:   time.Hour,

		LogLevel:    "info",
		EnableDebug: false,
		QuietMode:   false,
		LogFile:     "",
	}
}

// LoadDotEnv loads optional .env files before reading the environment.
// Missing files are not an error.
func LoadDotEnv() error {
	if _, err := os.Stat(".env"); err == nil {
		if err := godotenv.Load(".env"); err != nil {
			return fmt.Errorf("failed to load .env: %w", err)
		}
	}
	if _, err := os.Stat(".env.local"); err == nil {
		if err := godotenv.Overload(".env.local"); err != nil {
			return fmt.Errorf("failed to load .env.local: %w", err)
		}
	}
	return nil
}

// LoadFromEnv loads configuration from environment variables
func (c *Config) LoadFromEnv() {
	setString(&c.ListenAddr, "FETCHTUBE_LISTEN_ADDR")
	setString(&c.ExtractorBin, "FETCHTUBE_EXTRACTOR_BIN")
	setString(&c.DownloadDir, "FETCHTUBE_DOWNLOAD_DIR")
	setString(&c.CookieSourceURL, "FETCHTUBE_COOKIE_SOURCE_URL")
	setString(&c.ProxyList, "FETCHTUBE_PROXY_LIST")
	setString(&c.PostgresDSN, "FETCHTUBE_POSTGRES_DSN")

	if mode := os.Getenv("FETCHTUBE_DELIVERY"); mode != "" {
		switch DeliveryMode(strings.ToLower(mode)) {
		case DeliveryStreaming, DeliveryBuffered:
			c.DeliveryMode = DeliveryMode(strings.ToLower(mode))
		}
	}

	setSeconds(&c.CookieTTL, "FETCHTUBE_COOKIE_TTL")
	setSeconds(&c.CookieFetchTimeout, "FETCHTUBE_COOKIE_FETCH_TIMEOUT")
	setSeconds(&c.OverallTimeout, "FETCHTUBE_OVERALL_TIMEOUT")
	setSeconds(&c.ConnectTimeout, "FETCHTUBE_CONNECT_TIMEOUT")
	setSeconds(&c.RateLimitWindow, "FETCHTUBE_RATE_LIMIT_WINDOW")

	setInt(&c.RateLimitCount, "FETCHTUBE_RATE_LIMIT_COUNT")
	setInt(&c.MaxRetries, "FETCHTUBE_MAX_RETRIES")
	setInt(&c.HistoryLimit, "FETCHTUBE_HISTORY_LIMIT")

	// Logging
	setString(&c.LogLevel, "FETCHTUBE_LOG_LEVEL")
	setString(&c.LogFile, "FETCHTUBE_LOG_FILE")

	if debug := os.Getenv("FETCHTUBE_DEBUG"); debug != "" {
		c.EnableDebug = debug == "true" || debug == "1"
	}
	if quiet := os.Getenv("FETCHTUBE_QUIET"); quiet != "" {
		c.QuietMode = quiet == "true" || quiet == "1"
	}
}

// ValidateConfig validates the configuration values
func (c *Config) ValidateConfig() error {
	if c.ListenAddr == "" {
		return fmt.Errorf("listen address cannot be empty")
	}

	if c.ExtractorBin == "" {
		return fmt.Errorf("extractor binary cannot be empty")
	}

	if c.MaxRetries < 1 || c.MaxRetries > 10 {
		return fmt.Errorf("invalid max retries: %d (must be 1-10)", c.MaxRetries)
	}

	if c.RateLimitCount < 1 {
		return fmt.Errorf("invalid rate limit count: %d (must be >= 1)", c.RateLimitCount)
	}

	if c.OverallTimeout <= c.ConnectTimeout {
		return fmt.Errorf("overall timeout (%v) must exceed connect timeout (%v)", c.OverallTimeout, c.ConnectTimeout)
	}

	if c.HistoryLimit < 1 {
		return fmt.Errorf("invalid history limit: %d (must be >= 1)", c.HistoryLimit)
	}

	switch c.DeliveryMode {
	case DeliveryStreaming, DeliveryBuffered:
	default:
		return fmt.Errorf("invalid delivery mode: %q", c.DeliveryMode)
	}

	return nil
}

// GetEnvWithDefault returns environment variable value or default
func GetEnvWithDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			*dst = n
		}
	}
}

func setSeconds(dst *time.Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			*dst = time.Duration(n) * time.Second
		}
	}
}
