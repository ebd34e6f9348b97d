// Package config provides agent configuration loaded from environment variables.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/kelseyhightower/envconfig"
)

const logPrefix = "config:LoadConfig"

// Config holds fleet-agent configuration.
type Config struct {
	// COMMS: connect to standalone NATS at COMMSURL.
	COMMSURL  string `envconfig:"COMMS_URL" default:"nats://127.0.0.1:4222"`
	COMMSName string `envconfig:"SERVICE_NAME" default:"fleet-agent"`

	// Identity names this agent on the wire (empty = fall back to the hostname).
	Identity string `envconfig:"AGENT_IDENTITY"`

	// Request subject override (empty = derive from the identity)
	RequestSubject string `envconfig:"AGENT_REQUEST_SUBJECT"`

	// Modules
	ModulesDir       string `envconfig:"AGENT_MODULES_DIR" default:"modules"`
	ModulesConfigDir string `envconfig:"AGENT_MODULES_CONFIG_DIR"`

	// Timeouts
	SendTimeout     time.Duration `envconfig:"AGENT_SEND_TIMEOUT" default:"10s"`
	MetadataTimeout time.Duration `envconfig:"AGENT_METADATA_TIMEOUT" default:"10s"`

	// Events
	EventsEnabled bool   `envconfig:"AGENT_EVENTS_ENABLED" default:"true"`
	EventSubject  string `envconfig:"AGENT_EVENT_SUBJECT"`

	// HTTP health endpoint (AGENT_HTTP_ADDR preferred, e.g. "0.0.0.0:8081")
	HTTPAddr           string        `envconfig:"AGENT_HTTP_ADDR"`
	HTTPPort           int           `envconfig:"HTTP_PORT" default:"8081"`
	HealthCheckTimeout time.Duration `envconfig:"HEALTH_CHECK_TIMEOUT" default:"5s"`

	// Logging
	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`
}

// LoadConfig loads configuration from environment variables.
func LoadConfig() (*Config, error) {
	var c Config
	if err := envconfig.Process("", &c); err != nil {
		return nil, err
	}
	if c.Identity == "" {
		host, err := os.Hostname()
		if err != nil {
			return nil, fmt.Errorf("%s - AGENT_IDENTITY is not set and the hostname lookup failed: %w", logPrefix, err)
		}
		c.Identity = host
	}
	return &c, nil
}

// ValidateForServe checks required config when running the agent server.
func (c *Config) ValidateForServe() error {
	if c.Identity == "" {
		return fmt.Errorf("%s - AGENT_IDENTITY is required for serve", logPrefix)
	}
	if c.SendTimeout <= 0 {
		return fmt.Errorf("%s - AGENT_SEND_TIMEOUT must be positive", logPrefix)
	}
	if c.MetadataTimeout <= 0 {
		return fmt.Errorf("%s - AGENT_METADATA_TIMEOUT must be positive", logPrefix)
	}
	if c.HealthCheckTimeout <= 0 {
		return fmt.Errorf("%s - HEALTH_CHECK_TIMEOUT must be positive", logPrefix)
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("%s - LOG_LEVEL must be one of debug, info, warn, error (got %q)", logPrefix, c.LogLevel)
	}
	return nil
}
