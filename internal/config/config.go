// Package config provides environment-driven configuration for milldeck.
package config

import (
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration values.
type Config struct {
	// Backend services
	BackendURL     string
	FeedURL        string
	RequestTimeout time.Duration
	PredictTimeout time.Duration

	// Optimization polling
	PollInterval time.Duration
	MaxPolls     int

	// Prediction debounce
	SliderDebounce time.Duration

	// Mill selection
	DefaultMill string
	MillsFile   string

	// Job history
	JobHistoryLimit int

	// Logging
	LogFile  string
	LogLevel slog.Level
}

// Load reads configuration from environment variables.
func Load() Config {
	return Config{
		// Backend
		BackendURL:     getEnv("MILLDECK_BACKEND_URL", "http://localhost:8500"),
		FeedURL:        getEnv("MILLDECK_FEED_URL", ""), // derived from BackendURL when empty
		RequestTimeout: getDuration("MILLDECK_REQUEST_TIMEOUT", 30*time.Second),
		PredictTimeout: getDuration("MILLDECK_PREDICT_TIMEOUT", 5*time.Second),

		// Polling
		PollInterval: getDuration("MILLDECK_POLL_INTERVAL", 2*time.Second),
		MaxPolls:     getInt("MILLDECK_MAX_POLLS", 300),

		// Debounce
		SliderDebounce: getDuration("MILLDECK_SLIDER_DEBOUNCE", 500*time.Millisecond),

		// Mill
		DefaultMill: getEnv("MILLDECK_DEFAULT_MILL", "Mill01"),
		MillsFile:   getEnv("MILLDECK_MILLS_FILE", ""),

		// History
		JobHistoryLimit: getInt("MILLDECK_JOB_HISTORY", 20),

		// Logging
		LogFile:  getEnv("MILLDECK_LOG_FILE", "/tmp/milldeck.log"),
		LogLevel: parseLogLevel(getEnv("MILLDECK_LOG_LEVEL", "INFO")),
	}
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getDuration(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil && d > 0 {
			return d
		}
	}
	return defaultVal
}

func getInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if n, err := strconv.Atoi(val); err == nil && n > 0 {
			return n
		}
	}
	return defaultVal
}

func parseLogLevel(s string) slog.Level {
	switch strings.ToUpper(s) {
	case "DEBUG":
		return slog.LevelDebug
	case "INFO":
		return slog.LevelInfo
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
