// Package config loads process-wide settings from the environment.
package config

import (
	"os"
	"strconv"
	"strings"
)

// Config holds process-wide settings. Per-task overrides (headful,
// use_custom_chrome) are merged over these at run time; Chrome paths are
// sourced from the environment only and cannot be overridden per task.
type Config struct {
	// Port the HTTP API listens on.
	Port int

	// DefaultProvider is used when a task does not name one.
	DefaultProvider string

	// Headful launches visible browsers when true.
	Headful bool

	// ChromePath is an optional custom Chrome executable.
	ChromePath string

	// ChromeUserData is an optional persistent Chrome profile directory.
	ChromeUserData string

	// MediaDir is the root directory for per-task capture artifacts.
	MediaDir string

	// LogLevel is the minimum level for console output.
	LogLevel string
}

// DefaultConfig returns configuration with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Port:            8000,
		DefaultProvider: "openai",
		MediaDir:        "media",
		LogLevel:        "INFO",
	}
}

// FromEnv builds a Config from environment variables, falling back to
// defaults for anything unset.
func FromEnv() Config {
	cfg := DefaultConfig()

	if v := os.Getenv("PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil && port > 0 {
			cfg.Port = port
		}
	}
	if v := os.Getenv("DEFAULT_AI_PROVIDER"); v != "" {
		cfg.DefaultProvider = v
	}
	cfg.Headful = strings.EqualFold(os.Getenv("BROWSER_USE_HEADFUL"), "true")
	cfg.ChromePath = os.Getenv("CHROME_PATH")
	cfg.ChromeUserData = os.Getenv("CHROME_USER_DATA")
	if v := os.Getenv("MEDIA_DIR"); v != "" {
		cfg.MediaDir = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}

	return cfg
}

// SensitiveData collects X_-prefixed environment variables. These are handed
// to the agent verbatim and must never be logged.
func SensitiveData() map[string]string {
	data := make(map[string]string)
	for _, kv := range os.Environ() {
		k, v, ok := strings.Cut(kv, "=")
		if !ok || v == "" {
			continue
		}
		if strings.HasPrefix(k, "X_") {
			data[k] = v
		}
	}
	return data
}
