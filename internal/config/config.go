// Package config provides configuration for the chat client and the dev backend.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

// Config holds the chatlink configuration.
type Config struct {
	// Backend endpoints
	ChatWSURL  string `validate:"required,url"`
	APIBaseURL string `validate:"required,url"`

	// Reconnect settings
	ReconnectBaseDelay   time.Duration `validate:"gt=0"`
	ReconnectMaxDelay    time.Duration `validate:"gtefield=ReconnectBaseDelay"`
	ReconnectMaxAttempts int           `validate:"gte=0"` // 0 = unlimited

	// WebSocket settings
	DialTimeout    time.Duration `validate:"gt=0"`
	WriteTimeout   time.Duration `validate:"gt=0"`
	PingInterval   time.Duration `validate:"gte=0"` // 0 disables keepalive pings
	MaxMessageSize int64         `validate:"gt=0"`

	// Knowledge-base API
	HTTPTimeout time.Duration `validate:"gt=0"`

	// Session
	UserID string

	// Metrics endpoint for the chat command, empty disables it
	MetricsAddr string `validate:"omitempty,hostname_port"`

	// Dev backend
	DevserverPort int `validate:"gt=0,lte=65535"`

	// Logging
	LogLevel string `validate:"oneof=debug info warn error"`
	LogFile  string
	LogJSON  bool
}

// Load reads .env when present, then environment variables.
func Load() *Config {
	// A missing .env file is fine.
	_ = godotenv.Load()

	return &Config{
		ChatWSURL:            getEnv("CHAT_WS_URL", "ws://localhost:8000/ws/chat"),
		APIBaseURL:           getEnv("API_BASE_URL", "http://localhost:8000"),
		ReconnectBaseDelay:   time.Duration(getEnvInt("RECONNECT_BASE_DELAY_MS", 1000)) * time.Millisecond,
		ReconnectMaxDelay:    time.Duration(getEnvInt("RECONNECT_MAX_DELAY_MS", 10000)) * time.Millisecond,
		ReconnectMaxAttempts: getEnvInt("RECONNECT_MAX_ATTEMPTS", 0),
		DialTimeout:          time.Duration(getEnvInt("WS_DIAL_TIMEOUT_MS", 10000)) * time.Millisecond,
		WriteTimeout:         time.Duration(getEnvInt("WS_WRITE_TIMEOUT_MS", 10000)) * time.Millisecond,
		PingInterval:         time.Duration(getEnvInt("WS_PING_INTERVAL_MS", 30000)) * time.Millisecond,
		MaxMessageSize:       int64(getEnvInt("WS_MAX_MESSAGE_SIZE", 1<<20)),
		HTTPTimeout:          time.Duration(getEnvInt("HTTP_TIMEOUT_MS", 30000)) * time.Millisecond,
		UserID:               strings.TrimSpace(getEnv("USER_ID", "")),
		MetricsAddr:          getEnv("METRICS_ADDR", ""),
		DevserverPort:        getEnvInt("DEVSERVER_PORT", 8000),
		LogLevel:             strings.ToLower(getEnv("LOG_LEVEL", "info")),
		LogFile:              getEnv("LOG_FILE", ""),
		LogJSON:              getEnvBool("LOG_JSON", false),
	}
}

// Validate checks the configuration for invalid values.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if intVal, err := strconv.Atoi(val); err == nil {
			return intVal
		}
	}
	return defaultVal
}

func getEnvBool(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		if boolVal, err := strconv.ParseBool(val); err == nil {
			return boolVal
		}
	}
	return defaultVal
}
