// Package config provides bridge configuration loaded from environment variables.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

const logPrefix = "config:LoadConfig"

// Config holds command-bridge configuration.
type Config struct {
	// COMMS: connect to NATS at COMMSURL, or start an embedded server when
	// COMMSEmbedded is set (COMMSURL is then ignored).
	COMMSURL          string `envconfig:"COMMS_URL" default:"nats://127.0.0.1:4222"`
	COMMSName         string `envconfig:"SERVICE_NAME" default:"command-bridge"`
	COMMSEmbedded     bool   `envconfig:"COMMS_EMBEDDED" default:"false"`
	COMMSEmbeddedPort int    `envconfig:"COMMS_EMBEDDED_PORT" default:"4222"`
	// SubjectPrefix roots every bridge subject (<prefix>.invoke, <prefix>.events.>).
	SubjectPrefix string `envconfig:"COMMS_SUBJECT_PREFIX" default:"bridge"`

	// Timeouts
	RequestTimeout time.Duration `envconfig:"BRIDGE_REQUEST_TIMEOUT" default:"25s"`

	// Contract document (empty = config/contract.yaml, contract.yaml, built-in)
	ContractFile string `envconfig:"BRIDGE_CONTRACT_FILE"`

	// Database. Empty DatabaseURL keeps contract snapshots in memory.
	DatabaseURL   string `envconfig:"DATABASE_URL"`
	RunMigrations bool   `envconfig:"RUN_MIGRATIONS" default:"false"`
	MigrationPath string `envconfig:"MIGRATION_PATH" default:"migrations"`

	// HTTP health/metrics/contract endpoint (BRIDGE_HTTP_ADDR preferred, e.g. "0.0.0.0:8080")
	HTTPAddr           string        `envconfig:"BRIDGE_HTTP_ADDR"`
	HTTPPort           int           `envconfig:"HTTP_PORT" default:"8080"`
	HealthCheckTimeout time.Duration `envconfig:"HEALTH_CHECK_TIMEOUT" default:"5s"`

	// Sample feature: delay between rendered chunks of renderTemplate.
	RenderChunkDelay time.Duration `envconfig:"TEMPLATES_RENDER_CHUNK_DELAY" default:"0s"`

	// Logging
	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`
}

// LoadConfig loads configuration from environment variables.
func LoadConfig() (*Config, error) {
	var c Config
	if err := envconfig.Process("", &c); err != nil {
		return nil, err
	}
	return &c, nil
}

// ListenAddr returns the HTTP listen address.
func (c *Config) ListenAddr() string {
	if c.HTTPAddr != "" {
		return c.HTTPAddr
	}
	return fmt.Sprintf(":%d", c.HTTPPort)
}

// ValidateForServe checks required config when running the bridge server.
func (c *Config) ValidateForServe() error {
	if !c.COMMSEmbedded && c.COMMSURL == "" {
		return fmt.Errorf("%s - COMMS_URL is required unless COMMS_EMBEDDED is set", logPrefix)
	}
	if strings.ContainsAny(c.SubjectPrefix, " *>") {
		return fmt.Errorf("%s - COMMS_SUBJECT_PREFIX %q must not contain spaces or wildcards", logPrefix, c.SubjectPrefix)
	}
	if c.RequestTimeout <= 0 {
		return fmt.Errorf("%s - BRIDGE_REQUEST_TIMEOUT must be positive", logPrefix)
	}
	if c.HealthCheckTimeout <= 0 {
		return fmt.Errorf("%s - HEALTH_CHECK_TIMEOUT must be positive", logPrefix)
	}
	if c.RenderChunkDelay < 0 {
		return fmt.Errorf("%s - TEMPLATES_RENDER_CHUNK_DELAY must not be negative", logPrefix)
	}
	if c.RunMigrations && c.DatabaseURL == "" {
		return fmt.Errorf("%s - RUN_MIGRATIONS needs DATABASE_URL", logPrefix)
	}
	return nil
}

// ValidateForDB checks required config when running DB-dependent commands (migrate, clear, ensure-db).
func (c *Config) ValidateForDB() error {
	if c.DatabaseURL == "" {
		return fmt.Errorf("%s - DATABASE_URL is required", logPrefix)
	}
	return nil
}
