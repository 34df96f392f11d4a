package config

import (
	"os"
	"strconv"

	"github.com/go-playground/validator/v10"
)

type CKey string

type Config struct {
	Validator *validator.Validate
}

// AppConfig represents the application configuration
type AppConfig struct {
	Port                  string
	AppURL                string
	OpenSearchURL         string
	OpenSearchUser        string
	OpenSearchPass        string
	EnableLogging         bool
	LoggingLevel          string
	LogRetentionDays      int
	SessionDBPath         string
	SessionTTLHours       int
	KeysDir               string
	DeleteSessionOnReject bool
}

var (
	instance          *Config
	appConfigInstance *AppConfig
)

func App() *Config {
	if instance == nil {
		instance = &Config{
			Validator: validator.New(),
		}
	}
	return instance
}

// GetAppConfig returns the application configuration
func GetAppConfig() *AppConfig {
	if appConfigInstance == nil {
		appConfigInstance = &AppConfig{
			Port:                  GetEnv("APP_PORT", "9999"),
			AppURL:                GetEnv("APP_URL", "http://localhost:9999"),
			OpenSearchURL:         GetEnv("OPENSEARCH_URL", "http://localhost:9200"),
			OpenSearchUser:        GetEnv("OPENSEARCH_USER", ""),
			OpenSearchPass:        GetEnv("OPENSEARCH_PASSWORD", ""),
			EnableLogging:         GetBoolEnv("ENABLE_OPENSEARCH_LOGGING", true),
			LoggingLevel:          GetEnv("LOGGING_LEVEL", "info"),
			LogRetentionDays:      GetIntEnv("LOG_RETENTION_DAYS", 30),
			SessionDBPath:         GetEnv("SESSION_DB_PATH", "./data/sessions.db"),
			SessionTTLHours:       GetIntEnv("SESSION_TTL_HOURS", 24),
			KeysDir:               GetEnv("KEYS_DIR", "./keys"),
			DeleteSessionOnReject: GetBoolEnv("DELETE_SESSION_ON_REJECT", false),
		}
	}
	return appConfigInstance
}

// getEnv returns the value of an environment variable or a default value
func GetEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getBoolEnv returns the boolean value of an environment variable or a default value
func GetBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

// getIntEnv returns the integer value of an environment variable or a default value
func GetIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}
