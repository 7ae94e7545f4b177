package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds all application configuration
type Config struct {
	Port string

	// Upstream service
	UpstreamBaseURL string
	APIKey          string
	MockMode        bool
	UpstreamTimeout time.Duration
	UpstreamRate    float64 // requests per second

	// Replica store
	DBPath string

	// Credentials for subscriber authentication
	AuthUser       string
	AuthPass       string
	AuthPassBcrypt string // bcrypt hash; takes precedence over AuthPass
	AuthHMACSecret string // enables signature-based auth when set

	// Adaptive polling
	PollTick         time.Duration
	PollBaseInterval time.Duration
	PollMaxInterval  time.Duration

	// Background discovery of sessions created elsewhere
	DiscoveryCron string
}

// Load loads configuration from environment variables with defaults
func Load() *Config {
	return &Config{
		Port: getEnv("PORT", "3000"),

		UpstreamBaseURL: getEnv("JULES_API_BASE", "https://jules.googleapis.com/v1alpha"),
		APIKey:          getEnv("JULES_API_KEY", ""),
		MockMode:        getBoolEnv("MOCK_MODE", false),
		UpstreamTimeout: getDurationEnv("UPSTREAM_TIMEOUT", 30*time.Second),
		UpstreamRate:    getFloatEnv("UPSTREAM_RATE", 10),

		DBPath: getEnv("DB_PATH", "./data/replica.db"),

		AuthUser:       getEnv("JULES_AUTH_USER", "admin"),
		AuthPass:       getEnv("JULES_AUTH_PASS", "password"),
		AuthPassBcrypt: getEnv("JULES_AUTH_PASS_BCRYPT", ""),
		AuthHMACSecret: getEnv("JULES_AUTH_HMAC_SECRET", ""),

		PollTick:         getDurationEnv("POLL_TICK", 1*time.Second),
		PollBaseInterval: getDurationEnv("POLL_BASE_INTERVAL", 5*time.Second),
		PollMaxInterval:  getDurationEnv("POLL_MAX_INTERVAL", 5*time.Minute),

		DiscoveryCron: getEnv("DISCOVERY_CRON", "*/5 * * * *"),
	}
}

// Mock reports whether the process should run without an upstream:
// explicitly requested, or no API key configured.
func (c *Config) Mock() bool {
	return c.MockMode || c.APIKey == ""
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		parsed, err := strconv.ParseBool(value)
		if err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getFloatEnv(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		parsed, err := strconv.ParseFloat(value, 64)
		if err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		parsed, err := time.ParseDuration(value)
		if err == nil {
			return parsed
		}
	}
	return defaultValue
}
