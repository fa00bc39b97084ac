package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// ValidationPolicy controls what happens to an out-of-bounds numeric field.
type ValidationPolicy string

const (
	// PolicyDrop nulls the offending field and keeps the rest of the
	// reading, logging a warning. Default, since sensors are noisy.
	PolicyDrop ValidationPolicy = "drop"
	// PolicyReject fails the whole ingestion call with an OutOfRange error.
	PolicyReject ValidationPolicy = "reject"
)

// Config lists the tunable parameters for the vitalink server.
type Config struct {
	Port             string
	DatabaseURL      string
	JWTSecret        string
	MergeWindow      time.Duration
	ValidationPolicy ValidationPolicy
	MQTTBroker       string // empty disables the MQTT bridge
	MQTTClientID     string
	LogLevel         string
}

const (
	defaultPort         = "8080"
	defaultMergeWindow  = 10 * time.Second
	defaultMQTTClientID = "vitalink-server"
	defaultLogLevel     = "info"
)

// Load reads configuration from the environment, consulting a .env file if
// one is present. DATABASE_URL and JWT_SECRET are required.
func Load() (Config, error) {
	_ = godotenv.Load()

	cfg := Config{
		Port:             defaultPort,
		MergeWindow:      defaultMergeWindow,
		ValidationPolicy: PolicyDrop,
		MQTTClientID:     defaultMQTTClientID,
		LogLevel:         defaultLogLevel,
	}

	if v := os.Getenv("PORT"); v != "" {
		cfg.Port = v
	}

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" {
		return Config{}, fmt.Errorf("DATABASE_URL is required")
	}

	cfg.JWTSecret = os.Getenv("JWT_SECRET")
	if cfg.JWTSecret == "" {
		return Config{}, fmt.Errorf("JWT_SECRET is required")
	}

	if v := os.Getenv("VITALINK_MERGE_WINDOW_MS"); v != "" {
		ms, err := strconv.Atoi(v)
		if err != nil || ms <= 0 {
			return Config{}, fmt.Errorf("invalid VITALINK_MERGE_WINDOW_MS: %q", v)
		}
		cfg.MergeWindow = time.Duration(ms) * time.Millisecond
	}

	if v := os.Getenv("VITALINK_VALIDATION_POLICY"); v != "" {
		switch ValidationPolicy(v) {
		case PolicyDrop, PolicyReject:
			cfg.ValidationPolicy = ValidationPolicy(v)
		default:
			return Config{}, fmt.Errorf("invalid VITALINK_VALIDATION_POLICY: %q", v)
		}
	}

	if v := os.Getenv("VITALINK_MQTT_BROKER"); v != "" {
		cfg.MQTTBroker = v
	}
	if v := os.Getenv("VITALINK_MQTT_CLIENT_ID"); v != "" {
		cfg.MQTTClientID = v
	}
	if v := os.Getenv("VITALINK_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}

	return cfg, nil
}
