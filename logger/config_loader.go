package logger

import (
	"os"
	"strings"
)

// EnvVarHelp describes one environment variable the logger understands.
type EnvVarHelp struct {
	Name        string
	Description string
}

// GetEnvVarsHelp returns usage information for the logger environment variables.
func GetEnvVarsHelp() []EnvVarHelp {
	return []EnvVarHelp{
		{"LOG_LEVEL", "Log level (debug, info, warn, error)"},
		{"LOG_WEBHOOK_URL", "Webhook URL for buffered log delivery"},
		{"APP_NAME", "Application name attached to webhook payloads"},
		{"ENV", "Environment (development, staging, production)"},
	}
}

// LoadConfig loads logger config from environment variables.
func LoadConfig() (*Config, error) {
	return &Config{
		Level:       ParseLevel(strings.ToLower(getEnv("LOG_LEVEL", "info"))),
		WebhookURL:  os.Getenv("LOG_WEBHOOK_URL"),
		AppName:     getEnv("APP_NAME", "jwxtdl"),
		Environment: getEnv("ENV", "development"),
		Output:      nil, // Set by caller if needed
	}, nil
}

func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}
