package config

import (
	"errors"
	"os"
	"strconv"
	"time"
)

// ErrMissingDatabaseURL is returned when no database URL is configured.
var ErrMissingDatabaseURL = errors.New("DATABASE_URL is required")

// Config holds application configuration: database, optional Redis and
// embedding settings, and the reconciliation/serving knobs.
type Config struct {
	DatabaseURL string
	RedisURL    string
	ServerPort  string

	// Provider catalog fetching.
	UserAgent    string
	FetchTimeout time.Duration

	// Auto-match confidence threshold; mappings are never created below it.
	MatchThreshold float64

	// Failover serving time budgets.
	AttemptTimeout time.Duration
	StreamDeadline time.Duration
	UpgradeWindow  time.Duration

	// Optional VoyageAI embedding matcher.
	VoyageAPIKey string
	VoyageModel  string
}

// Defaults applied when the corresponding setting is absent.
const (
	defaultServerPort     = "8080"
	defaultUserAgent      = "StreamVault/1.0"
	defaultFetchTimeout   = 30 * time.Second
	defaultMatchThreshold = 0.85
	defaultAttemptTimeout = 1 * time.Second
	defaultStreamDeadline = 2 * time.Second
	defaultUpgradeWindow  = 60 * time.Second
)

// Load builds config from environment variables.
// If DATABASE_URL is not set, Load tries to load .env.local and .env from
// the current directory first. DATABASE_URL is required; everything else
// falls back to defaults.
func Load() (*Config, error) {
	if os.Getenv("DATABASE_URL") == "" {
		loadEnvFiles()
	}
	c := defaults()
	c.DatabaseURL = os.Getenv("DATABASE_URL")
	c.RedisURL = os.Getenv("REDIS_URL")
	if v := os.Getenv("SERVER_PORT"); v != "" {
		c.ServerPort = v
	}
	if v := os.Getenv("FETCHER_USER_AGENT"); v != "" {
		c.UserAgent = v
	}
	setDuration(&c.FetchTimeout, os.Getenv("FETCHER_TIMEOUT"))
	setDuration(&c.AttemptTimeout, os.Getenv("ATTEMPT_TIMEOUT"))
	setDuration(&c.StreamDeadline, os.Getenv("STREAM_DEADLINE"))
	setDuration(&c.UpgradeWindow, os.Getenv("UPGRADE_WINDOW"))
	if v := os.Getenv("MATCH_THRESHOLD"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil && f > 0 && f <= 1 {
			c.MatchThreshold = f
		}
	}
	c.VoyageAPIKey = os.Getenv("VOYAGE_API_KEY")
	c.VoyageModel = os.Getenv("VOYAGE_MODEL")

	if c.DatabaseURL == "" {
		return nil, ErrMissingDatabaseURL
	}
	return c, nil
}

func defaults() *Config {
	return &Config{
		ServerPort:     defaultServerPort,
		UserAgent:      defaultUserAgent,
		FetchTimeout:   defaultFetchTimeout,
		MatchThreshold: defaultMatchThreshold,
		AttemptTimeout: defaultAttemptTimeout,
		StreamDeadline: defaultStreamDeadline,
		UpgradeWindow:  defaultUpgradeWindow,
	}
}

func setDuration(dst *time.Duration, raw string) {
	if raw == "" {
		return
	}
	if d, err := time.ParseDuration(raw); err == nil && d > 0 {
		*dst = d
	}
}
