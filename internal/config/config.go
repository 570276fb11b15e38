// package config loads application configuration from environment variables.
package config

import (
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// Config holds all application configuration.
type Config struct {
	// database
	DatabasePath string

	// nats (optional event bus, publishing disabled when empty)
	NatsURL string

	// telegram
	TGApiID   int
	TGApiHash string

	// directories
	IncomingDir    string
	TempDir        string
	CategoriesFile string

	// indexing
	IndexIntervalSec int

	// logging
	LogLevel string
	LogFile  string
}

// Load reads configuration from environment variables with sensible defaults.
// A .env file in the working directory is honored when present.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		DatabasePath:     getEnv("DATABASE_PATH", "./data/telegrab.db"),
		NatsURL:          getEnv("NATS_URL", ""),
		TGApiID:          getEnvInt("TG_API_ID", 0),
		TGApiHash:        getEnv("TG_API_HASH", ""),
		IncomingDir:      getEnv("INCOMING_DIR", "./data/incoming"),
		TempDir:          getEnv("TEMP_DIR", "./data/tmp"),
		CategoriesFile:   getEnv("CATEGORIES_FILE", ""),
		IndexIntervalSec: getEnvInt("INDEX_INTERVAL_SECONDS", 300),
		LogLevel:         getEnv("LOG_LEVEL", "info"),
		LogFile:          getEnv("LOG_FILE", "./logs/telegrab.log"),
	}

	return cfg, nil
}

// getEnv returns the value of an environment variable or a default value.
func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

// getEnvInt returns the integer value of an environment variable or a default.
func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}
