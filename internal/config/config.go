// Package config provides environment-variable-first configuration
// loading with optional YAML file fallback for the server and agent.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// defaultMaxMessageSize is 25 MB in bytes.
const defaultMaxMessageSize = 26214400

// Config holds the complete application configuration.
type Config struct {
	SMTP     SMTPConfig     `yaml:"smtp"`
	Delivery DeliveryConfig `yaml:"delivery"`
	Metrics  MetricsConfig  `yaml:"metrics"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// SMTPConfig holds SMTP server configuration.
type SMTPConfig struct {
	Listen             string   `yaml:"listen"`
	Hostname           string   `yaml:"hostname"`
	LocalDomains       []string `yaml:"local_domains"`
	MaxMessageSize     int64    `yaml:"max_message_size"`
	ReadTimeoutSeconds int      `yaml:"read_timeout_seconds"`
}

// DeliveryConfig selects and configures the delivery backend.
type DeliveryConfig struct {
	// Backend is "forward" (per-domain forward files) or "stdout".
	Backend string `yaml:"backend"`

	// ForwardDir is the directory holding the forward files.
	ForwardDir string `yaml:"forward_dir"`
}

// MetricsConfig holds the Prometheus exposition configuration. An empty
// listen address disables the endpoint.
type MetricsConfig struct {
	Listen string `yaml:"listen"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// Load loads configuration from environment variables with sensible
// defaults. Environment variables always take precedence.
func Load() (*Config, error) {
	cfg := &Config{}
	cfg.applyDefaults()
	cfg.applyEnvVars()
	return cfg, nil
}

// LoadFromFile loads configuration from a YAML file as the base layer,
// then overrides with environment variables. Returns an error if the
// specified file path does not exist.
func LoadFromFile(path string) (*Config, error) {
	cfg := &Config{}
	cfg.applyDefaults()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	// Environment variables always override YAML values
	cfg.applyEnvVars()

	return cfg, nil
}

// applyDefaults sets sensible default values for all configuration fields.
func (c *Config) applyDefaults() {
	c.SMTP.Listen = ":2525"
	c.SMTP.MaxMessageSize = defaultMaxMessageSize
	c.SMTP.ReadTimeoutSeconds = 60
	c.Delivery.Backend = "forward"
	c.Delivery.ForwardDir = "forward"
	c.Logging.Level = "info"
}

// applyEnvVars overrides configuration with environment variable values.
// Only non-empty environment variables override existing values.
func (c *Config) applyEnvVars() {
	if v := os.Getenv("SMTP_LISTEN"); v != "" {
		c.SMTP.Listen = v
	}
	if v := os.Getenv("SMTP_HOSTNAME"); v != "" {
		c.SMTP.Hostname = v
	}
	if v := os.Getenv("SMTP_LOCAL_DOMAINS"); v != "" {
		c.SMTP.LocalDomains = splitList(v)
	}
	if v := os.Getenv("SMTP_MAX_MESSAGE_SIZE"); v != "" {
		if size, err := strconv.ParseInt(v, 10, 64); err == nil {
			c.SMTP.MaxMessageSize = size
		}
	}
	if v := os.Getenv("SMTP_READ_TIMEOUT_SECONDS"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil {
			c.SMTP.ReadTimeoutSeconds = secs
		}
	}

	if v := os.Getenv("DELIVERY_BACKEND"); v != "" {
		c.Delivery.Backend = v
	}
	if v := os.Getenv("FORWARD_DIR"); v != "" {
		c.Delivery.ForwardDir = v
	}

	if v := os.Getenv("METRICS_LISTEN"); v != "" {
		c.Metrics.Listen = v
	}

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.Logging.Level = strings.ToLower(v)
	}
}

// splitList parses a comma-separated list, trimming whitespace and
// dropping empty elements.
func splitList(v string) []string {
	var out []string
	for _, item := range strings.Split(v, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
