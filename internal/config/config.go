// Package config provides configuration management functionality.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Config holds application configuration
type Config struct {
	DataDir               string // Base directory for the knowledge-base database (always absolute)
	LogLevel              string
	Profile               string // Default allocation profile key
	ProfilesFile          string // Optional YAML file overriding the built-in profiles
	KBHealthCheckSchedule string // Cron spec for the knowledge-base integrity check
	CORSOrigins           []string
	Port                  int
	LogPretty             bool
	DevMode               bool
	KBEnabled             bool
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	dataDir := getEnv("LAYERWISE_DATA_DIR", "./data")
	absDataDir, err := filepath.Abs(dataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve data directory path: %w", err)
	}
	if err := os.MkdirAll(absDataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	devMode := getEnvAsBool("DEV_MODE", false)
	cfg := &Config{
		DataDir:               absDataDir,
		Port:                  getEnvAsInt("LAYERWISE_PORT", 8001),
		LogLevel:              getEnv("LOG_LEVEL", "info"),
		LogPretty:             getEnvAsBool("LOG_PRETTY", devMode),
		DevMode:               devMode,
		Profile:               strings.ToUpper(getEnv("LAYERWISE_PROFILE", DefaultProfileKey)),
		ProfilesFile:          getEnv("LAYERWISE_PROFILES_FILE", ""),
		KBEnabled:             getEnvAsBool("KB_ENABLED", true),
		KBHealthCheckSchedule: getEnv("KB_HEALTHCHECK_SCHEDULE", "@every 6h"),
		CORSOrigins:           getEnvAsList("LAYERWISE_CORS_ORIGINS"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// DatabasePath is where the knowledge-base database lives.
func (c *Config) DatabasePath() string {
	return filepath.Join(c.DataDir, "knowledgebase.db")
}

// Validate checks if required configuration is present
func (c *Config) Validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Port)
	}
	switch strings.ToLower(c.LogLevel) {
	case "trace", "debug", "info", "warn", "error", "fatal", "panic", "disabled":
	default:
		return fmt.Errorf("invalid log level %q", c.LogLevel)
	}
	if c.KBEnabled && strings.TrimSpace(c.KBHealthCheckSchedule) == "" {
		return fmt.Errorf("KB_HEALTHCHECK_SCHEDULE is required when the knowledge base is enabled")
	}
	return nil
}

// Helper functions
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func getEnvAsList(key string) []string {
	var out []string
	for _, part := range strings.Split(os.Getenv(key), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
