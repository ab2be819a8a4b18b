// Package config provides configuration structures and loading logic for the
// decision service.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/arbiterhq/arbiter/pkg/logging"
	"github.com/arbiterhq/arbiter/pkg/risk"
)

// Config holds the global configuration for the decision service.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Sources   SourcesConfig   `yaml:"sources"`
	Risk      RiskConfig      `yaml:"risk"`
	Logging   logging.Config  `yaml:"logging"`
}

// Duration wraps time.Duration so YAML values like "15s" parse directly.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	parsed, err := time.ParseDuration(value.Value)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", value.Value, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// ServerConfig holds configuration for the HTTP server.
type ServerConfig struct {
	Address         string   `yaml:"address"`
	ReadTimeout     Duration `yaml:"read_timeout"`
	WriteTimeout    Duration `yaml:"write_timeout"`
	ShutdownTimeout Duration `yaml:"shutdown_timeout"`
}

// TelemetryConfig holds configuration for OpenTelemetry.
type TelemetryConfig struct {
	OTLPEndpoint string `yaml:"otlp_endpoint"`
	Insecure     bool   `yaml:"insecure"`
	Environment  string `yaml:"environment"`
}

// SourcesConfig points at the catalog and exception files the service loads
// and watches. An empty catalog path selects the builtin catalog.
type SourcesConfig struct {
	Catalog    string `yaml:"catalog"`
	Exceptions string `yaml:"exceptions"`
}

// RiskConfig holds the deployment-tunable scoring thresholds.
type RiskConfig struct {
	BulkRecordThreshold  int64 `yaml:"bulk_record_threshold"`
	PIIRecordThreshold   int64 `yaml:"pii_record_threshold"`
	QuasiIdentifierLimit int   `yaml:"quasi_identifier_limit"`
	BusinessHoursStart   int   `yaml:"business_hours_start"`
	BusinessHoursEnd     int   `yaml:"business_hours_end"`
}

// ToRisk converts the YAML-facing thresholds into the scorer's config.
func (r RiskConfig) ToRisk() risk.Config {
	return risk.Config{
		BulkRecordThreshold:  r.BulkRecordThreshold,
		PIIRecordThreshold:   r.PIIRecordThreshold,
		QuasiIdentifierLimit: r.QuasiIdentifierLimit,
		BusinessHoursStart:   r.BusinessHoursStart,
		BusinessHoursEnd:     r.BusinessHoursEnd,
	}
}

// Load reads configuration from a file and applies environment variable
// overrides. An empty path loads defaults plus the environment.
func Load(path string) (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Address:         ":8080",
			ReadTimeout:     Duration(10 * time.Second),
			WriteTimeout:    Duration(10 * time.Second),
			ShutdownTimeout: Duration(15 * time.Second),
		},
		Logging: logging.Config{
			Level: "info",
		},
	}

	if path != "" {
		//nolint:gosec // Config file path is controlled by admin/operator
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if val := os.Getenv("ARBITER_LISTEN_ADDR"); val != "" {
		cfg.Server.Address = val
	}

	if val := os.Getenv("ARBITER_OTLP_ENDPOINT"); val != "" {
		cfg.Telemetry.OTLPEndpoint = val
	}
	if val := os.Getenv("ARBITER_OTLP_INSECURE"); val == "true" {
		cfg.Telemetry.Insecure = true
	}
	if val := os.Getenv("ARBITER_ENVIRONMENT"); val != "" {
		cfg.Telemetry.Environment = val
	}

	if val := os.Getenv("ARBITER_CATALOG_FILE"); val != "" {
		cfg.Sources.Catalog = val
	}
	if val := os.Getenv("ARBITER_EXCEPTIONS_FILE"); val != "" {
		cfg.Sources.Exceptions = val
	}

	if val := os.Getenv("ARBITER_BULK_RECORD_THRESHOLD"); val != "" {
		if parsed, err := strconv.ParseInt(val, 10, 64); err == nil {
			cfg.Risk.BulkRecordThreshold = parsed
		}
	}
	if val := os.Getenv("ARBITER_PII_RECORD_THRESHOLD"); val != "" {
		if parsed, err := strconv.ParseInt(val, 10, 64); err == nil {
			cfg.Risk.PIIRecordThreshold = parsed
		}
	}

	if val := os.Getenv("ARBITER_LOG_LEVEL"); val != "" {
		cfg.Logging.Level = val
	}
	if val := os.Getenv("ARBITER_LOG_PRETTY"); val == "true" {
		cfg.Logging.Pretty = true
	}
}

// Validate checks configuration invariants that would otherwise surface as
// confusing runtime failures.
func (c *Config) Validate() error {
	if c.Server.Address == "" {
		return fmt.Errorf("server.address must not be empty")
	}
	if c.Server.ReadTimeout < 0 || c.Server.WriteTimeout < 0 || c.Server.ShutdownTimeout < 0 {
		return fmt.Errorf("server timeouts must not be negative")
	}
	if c.Risk.BulkRecordThreshold < 0 {
		return fmt.Errorf("risk.bulk_record_threshold must not be negative")
	}
	if c.Risk.PIIRecordThreshold < 0 {
		return fmt.Errorf("risk.pii_record_threshold must not be negative")
	}
	if c.Risk.QuasiIdentifierLimit < 0 {
		return fmt.Errorf("risk.quasi_identifier_limit must not be negative")
	}
	if c.Risk.BusinessHoursStart < 0 || c.Risk.BusinessHoursStart > 23 {
		return fmt.Errorf("risk.business_hours_start must be an hour between 0 and 23")
	}
	if c.Risk.BusinessHoursEnd < 0 || c.Risk.BusinessHoursEnd > 24 {
		return fmt.Errorf("risk.business_hours_end must be an hour between 0 and 24")
	}
	return nil
}
