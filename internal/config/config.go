package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

// Config holds all client configuration loaded from environment variables.
type Config struct {
	API       APIConfig
	Stream    StreamConfig
	Token     string
	DataDir   string
	ProjectID string
	Slack     SlackConfig
}

// APIConfig holds REST backend settings.
type APIConfig struct {
	URL       string
	Timeout   time.Duration
	RateRPS   float64
	RateBurst int
}

// StreamConfig holds WebSocket streaming settings.
type StreamConfig struct {
	URL string
}

// SlackConfig holds optional run-completion notification settings.
type SlackConfig struct {
	WebhookURL string
}

// Load reads configuration from environment variables.
// Defaults target a local backend; the token must be set explicitly for any
// deployment that enforces auth.
func Load() (*Config, error) {
	timeout, err := getEnvDuration("AIRACTL_HTTP_TIMEOUT", 10*time.Second)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	rateRPS, err := getEnvFloat("AIRACTL_RATE_RPS", 10)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	rateBurst, err := getEnvInt("AIRACTL_RATE_BURST", 20)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	dataDir := getEnv("AIRACTL_DATA_DIR", "")
	if dataDir == "" {
		cacheDir, cacheErr := os.UserCacheDir()
		if cacheErr != nil {
			return nil, fmt.Errorf("config.Load: resolve cache dir: %w", cacheErr)
		}
		dataDir = filepath.Join(cacheDir, "airactl")
	}

	apiURL := getEnv("AIRACTL_API_URL", "http://localhost:8080")

	streamURL := getEnv("AIRACTL_WS_URL", "")
	if streamURL == "" {
		streamURL, err = deriveStreamURL(apiURL)
		if err != nil {
			return nil, fmt.Errorf("config.Load: %w", err)
		}
	}

	cfg := &Config{
		API: APIConfig{
			URL:       apiURL,
			Timeout:   timeout,
			RateRPS:   rateRPS,
			RateBurst: rateBurst,
		},
		Stream: StreamConfig{
			URL: streamURL,
		},
		Token:     getEnv("AIRACTL_TOKEN", ""),
		DataDir:   dataDir,
		ProjectID: getEnv("AIRACTL_PROJECT", ""),
		Slack: SlackConfig{
			WebhookURL: getEnv("AIRACTL_SLACK_WEBHOOK_URL", ""),
		},
	}

	err = cfg.validate()
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	return cfg, nil
}

// validate checks required fields and value bounds.
func (c *Config) validate() error {
	u, err := url.Parse(c.API.URL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("AIRACTL_API_URL %q is not a valid URL", c.API.URL)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("AIRACTL_API_URL scheme must be http or https, got %q", u.Scheme)
	}

	su, err := url.Parse(c.Stream.URL)
	if err != nil || su.Scheme == "" || su.Host == "" {
		return fmt.Errorf("AIRACTL_WS_URL %q is not a valid URL", c.Stream.URL)
	}
	if su.Scheme != "ws" && su.Scheme != "wss" {
		return fmt.Errorf("AIRACTL_WS_URL scheme must be ws or wss, got %q", su.Scheme)
	}

	if c.API.Timeout <= 0 {
		return fmt.Errorf("AIRACTL_HTTP_TIMEOUT must be positive, got %s", c.API.Timeout)
	}
	if c.API.RateRPS < 1 {
		return fmt.Errorf("AIRACTL_RATE_RPS must be >= 1, got %g", c.API.RateRPS)
	}
	if c.API.RateBurst < 1 {
		return fmt.Errorf("AIRACTL_RATE_BURST must be >= 1, got %d", c.API.RateBurst)
	}
	if c.DataDir == "" {
		return errors.New("AIRACTL_DATA_DIR must not be empty")
	}

	return nil
}

// deriveStreamURL maps the REST base URL onto its WebSocket counterpart
// (http -> ws, https -> wss) with the fixed /stream path.
func deriveStreamURL(apiURL string) (string, error) {
	u, err := url.Parse(apiURL)
	if err != nil {
		return "", fmt.Errorf("deriving stream URL from %q: %w", apiURL, err)
	}

	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("deriving stream URL: unsupported scheme %q", u.Scheme)
	}

	u.Path = "/stream"
	u.RawQuery = ""
	return u.String(), nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("parsing %s=%q as int: %w", key, v, err)
	}
	return n, nil
}

func getEnvFloat(key string, fallback float64) (float64, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("parsing %s=%q as float: %w", key, v, err)
	}
	return f, nil
}

func getEnvDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("parsing %s=%q as duration: %w", key, v, err)
	}
	return d, nil
}
