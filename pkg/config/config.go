// Package config loads application configuration. Defaults come first, then
// an optional YAML file, then AGENTSTORE_* environment variables; environment
// always wins.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/halcyonai/agentstore/pkg/observability"
)

// ConfigFileEnv names the environment variable pointing at the optional YAML
// configuration file.
const ConfigFileEnv = "AGENTSTORE_CONFIG_FILE"

// Config holds all application configuration
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Storage StorageConfig `yaml:"storage"`
	Tenancy TenancyConfig `yaml:"tenancy"`
	Quota   QuotaConfig   `yaml:"quota"`
	Usage   UsageConfig   `yaml:"usage"`

	Observability ObservabilityConfig `yaml:"observability"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string        `yaml:"host"`
	Port            string        `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// StorageConfig holds document store configuration
type StorageConfig struct {
	Root      string `yaml:"root"`
	CacheSize int    `yaml:"cache_size"`
}

// TenancyConfig holds resolver behavior
type TenancyConfig struct {
	DefaultOrganizationID string `yaml:"default_organization_id"`
	StrictIsolation       bool   `yaml:"strict_isolation"`
	// BootstrapDefaultOrg creates the default organization at startup so
	// migrated legacy keys have somewhere to resolve into.
	BootstrapDefaultOrg bool `yaml:"bootstrap_default_org"`
}

// QuotaConfig holds quota enforcement configuration
type QuotaConfig struct {
	SweepSchedule   string `yaml:"sweep_schedule"`
	AlertThresholds []int  `yaml:"alert_thresholds"`
}

// UsageConfig holds usage tracker configuration
type UsageConfig struct {
	BatchSize     int           `yaml:"batch_size"`
	FlushInterval time.Duration `yaml:"flush_interval"`
}

// ObservabilityConfig holds logging and metrics settings
type ObservabilityConfig struct {
	LogLevel       observability.LogLevel `yaml:"-"`
	LogLevelName   string                 `yaml:"log_level"`
	MetricsEnabled bool                   `yaml:"metrics_enabled"`
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            "8080",
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 30 * time.Second,
		},
		Storage: StorageConfig{
			Root:      "./data",
			CacheSize: 8192,
		},
		Tenancy: TenancyConfig{
			DefaultOrganizationID: "default",
			StrictIsolation:       false,
			BootstrapDefaultOrg:   true,
		},
		Quota: QuotaConfig{
			SweepSchedule:   "0 * * * *",
			AlertThresholds: []int{80, 90, 95},
		},
		Usage: UsageConfig{
			BatchSize:     50,
			FlushInterval: 30 * time.Second,
		},
		Observability: ObservabilityConfig{
			LogLevel:       observability.InfoLevel,
			LogLevelName:   "info",
			MetricsEnabled: true,
		},
	}
}

// LoadConfig loads configuration from defaults, an optional YAML file named
// by AGENTSTORE_CONFIG_FILE, and environment variables, in that order.
func LoadConfig() (*Config, error) {
	cfg := DefaultConfig()

	if path := os.Getenv(ConfigFileEnv); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}
	cfg.loadEnv()
	cfg.Observability.LogLevel = parseLogLevel(cfg.Observability.LogLevelName)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) loadEnv() {
	c.Server.Host = getEnv("AGENTSTORE_HOST", c.Server.Host)
	c.Server.Port = getEnv("AGENTSTORE_PORT", c.Server.Port)
	c.Server.ReadTimeout = getEnvDuration("AGENTSTORE_READ_TIMEOUT", c.Server.ReadTimeout)
	c.Server.WriteTimeout = getEnvDuration("AGENTSTORE_WRITE_TIMEOUT", c.Server.WriteTimeout)
	c.Server.IdleTimeout = getEnvDuration("AGENTSTORE_IDLE_TIMEOUT", c.Server.IdleTimeout)
	c.Server.ShutdownTimeout = getEnvDuration("AGENTSTORE_SHUTDOWN_TIMEOUT", c.Server.ShutdownTimeout)

	c.Storage.Root = getEnv("AGENTSTORE_STORAGE_ROOT", c.Storage.Root)
	c.Storage.CacheSize = getEnvInt("AGENTSTORE_CACHE_SIZE", c.Storage.CacheSize)

	c.Tenancy.DefaultOrganizationID = getEnv("AGENTSTORE_DEFAULT_ORG", c.Tenancy.DefaultOrganizationID)
	c.Tenancy.StrictIsolation = getEnvBool("AGENTSTORE_STRICT_ISOLATION", c.Tenancy.StrictIsolation)
	c.Tenancy.BootstrapDefaultOrg = getEnvBool("AGENTSTORE_BOOTSTRAP_DEFAULT_ORG", c.Tenancy.BootstrapDefaultOrg)

	c.Quota.SweepSchedule = getEnv("AGENTSTORE_QUOTA_SWEEP_SCHEDULE", c.Quota.SweepSchedule)
	if raw := getEnv("AGENTSTORE_QUOTA_ALERT_THRESHOLDS", ""); raw != "" {
		if thresholds := parseThresholds(raw); len(thresholds) > 0 {
			c.Quota.AlertThresholds = thresholds
		}
	}

	c.Usage.BatchSize = getEnvInt("AGENTSTORE_USAGE_BATCH_SIZE", c.Usage.BatchSize)
	c.Usage.FlushInterval = getEnvDuration("AGENTSTORE_USAGE_FLUSH_INTERVAL", c.Usage.FlushInterval)

	c.Observability.LogLevelName = getEnv("AGENTSTORE_LOG_LEVEL", c.Observability.LogLevelName)
	c.Observability.MetricsEnabled = getEnvBool("AGENTSTORE_METRICS_ENABLED", c.Observability.MetricsEnabled)
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}
	if c.Storage.Root == "" {
		return fmt.Errorf("storage root is required")
	}
	if c.Storage.CacheSize <= 0 {
		return fmt.Errorf("cache size must be positive")
	}
	if c.Tenancy.DefaultOrganizationID == "" {
		return fmt.Errorf("default organization id is required")
	}
	if strings.Contains(c.Tenancy.DefaultOrganizationID, "_") {
		return fmt.Errorf("default organization id cannot contain underscores")
	}
	if c.Usage.BatchSize <= 0 {
		return fmt.Errorf("usage batch size must be positive")
	}
	for _, threshold := range c.Quota.AlertThresholds {
		if threshold <= 0 || threshold > 100 {
			return fmt.Errorf("alert threshold %d out of range (1-100)", threshold)
		}
	}
	return nil
}

// parseThresholds parses a comma-separated percentage list like "80,90,95".
func parseThresholds(raw string) []int {
	var out []int
	for _, part := range strings.Split(raw, ",") {
		n, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil {
			return nil
		}
		out = append(out, n)
	}
	return out
}

// parseLogLevel parses a log level string
func parseLogLevel(level string) observability.LogLevel {
	switch strings.ToLower(level) {
	case "debug":
		return observability.DebugLevel
	case "info":
		return observability.InfoLevel
	case "warn", "warning":
		return observability.WarnLevel
	case "error":
		return observability.ErrorLevel
	default:
		return observability.InfoLevel
	}
}

// getEnv returns an environment variable value or a default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool returns a boolean environment variable or a default
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return strings.ToLower(value) == "true" || value == "1"
	}
	return defaultValue
}

// getEnvInt returns an integer environment variable or a default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

// getEnvDuration returns a duration environment variable or a default
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}
