package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v2"

	"github.com/filterfs/filterfs/pkg/errors"
)

// EnvPrefix prefixes every environment variable read by LoadFromEnv.
const EnvPrefix = "FILTERFS_"

// Configuration represents the complete application configuration
type Configuration struct {
	Global     GlobalConfig     `yaml:"global"`
	Filter     FilterConfig     `yaml:"filter"`
	Cache      CacheConfig      `yaml:"cache"`
	Mount      MountConfig      `yaml:"mount"`
	Monitoring MonitoringConfig `yaml:"monitoring"`
}

// GlobalConfig represents global application settings
type GlobalConfig struct {
	LogLevel    string `yaml:"log_level"`
	LogFile     string `yaml:"log_file"`
	MetricsPort int    `yaml:"metrics_port"`
}

// FilterConfig describes the visibility predicate
type FilterConfig struct {
	// Command is the filter command template. Empty accepts everything.
	Command          string        `yaml:"command"`
	Placeholder      string        `yaml:"placeholder"`
	Shell            string        `yaml:"shell"`
	QuotePaths       bool          `yaml:"quote_paths"`
	Timeout          time.Duration `yaml:"timeout"`
	VerdictTTL       time.Duration `yaml:"verdict_ttl"`
	VerdictCacheSize int           `yaml:"verdict_cache_size"`
	MaxConcurrency   int           `yaml:"max_concurrency"`
}

// CacheConfig represents node cache configuration
type CacheConfig struct {
	// MaxNodes bounds resident nodes. Zero disables eviction.
	MaxNodes    int           `yaml:"max_nodes"`
	MetadataTTL time.Duration `yaml:"metadata_ttl"`
}

// MountConfig represents FUSE mount settings
type MountConfig struct {
	FSName          string        `yaml:"fsname"`
	AllowOther      bool          `yaml:"allow_other"`
	Debug           bool          `yaml:"debug"`
	AttrTimeout     time.Duration `yaml:"attr_timeout"`
	EntryTimeout    time.Duration `yaml:"entry_timeout"`
	NegativeTimeout time.Duration `yaml:"negative_timeout"`
	MaxReadAhead    int           `yaml:"max_readahead"`
}

// MonitoringConfig represents monitoring settings
type MonitoringConfig struct {
	Metrics MetricsConfig `yaml:"metrics"`
}

// MetricsConfig represents metrics settings
type MetricsConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Path      string `yaml:"path"`
	Namespace string `yaml:"namespace"`
}

// NewDefault returns a configuration with sensible defaults
func NewDefault() *Configuration {
	return &Configuration{
		Global: GlobalConfig{
			LogLevel:    "INFO",
			LogFile:     "",
			MetricsPort: 9464,
		},
		Filter: FilterConfig{
			Command:          "",
			Placeholder:      "{}",
			Shell:            "/bin/sh",
			QuotePaths:       false,
			Timeout:          0,
			VerdictTTL:       0,
			VerdictCacheSize: 4096,
			MaxConcurrency:   8,
		},
		Cache: CacheConfig{
			MaxNodes:    256,
			MetadataTTL: time.Second,
		},
		Mount: MountConfig{
			FSName:          "filterfs",
			AttrTimeout:     time.Second,
			EntryTimeout:    time.Second,
			NegativeTimeout: 0,
			MaxReadAhead:    128 * 1024,
		},
		Monitoring: MonitoringConfig{
			Metrics: MetricsConfig{
				Enabled:   false,
				Path:      "/metrics",
				Namespace: "filterfs",
			},
		},
	}
}

// LoadFromFile loads configuration from a YAML file
func (c *Configuration) LoadFromFile(filename string) error {
	data, err := os.ReadFile(filename)
	if err != nil {
		return errors.NewError(errors.ErrCodeConfigLoad, "failed to read config file").
			WithContext("file", filename).WithCause(err)
	}

	if err := yaml.UnmarshalStrict(data, c); err != nil {
		return errors.NewError(errors.ErrCodeConfigLoad, "failed to parse config file").
			WithContext("file", filename).WithCause(err)
	}

	return nil
}

// LoadFromEnv loads configuration from environment variables
func (c *Configuration) LoadFromEnv() error {
	// Global settings
	if val := os.Getenv(EnvPrefix + "LOG_LEVEL"); val != "" {
		c.Global.LogLevel = val
	}
	if val := os.Getenv(EnvPrefix + "LOG_FILE"); val != "" {
		c.Global.LogFile = val
	}
	if val := os.Getenv(EnvPrefix + "METRICS_PORT"); val != "" {
		port, err := strconv.Atoi(val)
		if err != nil {
			return envError("METRICS_PORT", val, err)
		}
		c.Global.MetricsPort = port
	}

	// Filter settings
	if val, ok := os.LookupEnv(EnvPrefix + "FILTER"); ok {
		c.Filter.Command = val
	}
	if val := os.Getenv(EnvPrefix + "FILTER_PLACEHOLDER"); val != "" {
		c.Filter.Placeholder = val
	}
	if val := os.Getenv(EnvPrefix + "FILTER_SHELL"); val != "" {
		c.Filter.Shell = val
	}
	if val := os.Getenv(EnvPrefix + "FILTER_QUOTE_PATHS"); val != "" {
		c.Filter.QuotePaths = strings.ToLower(val) == "true"
	}
	if val := os.Getenv(EnvPrefix + "FILTER_TIMEOUT"); val != "" {
		d, err := time.ParseDuration(val)
		if err != nil {
			return envError("FILTER_TIMEOUT", val, err)
		}
		c.Filter.Timeout = d
	}
	if val := os.Getenv(EnvPrefix + "FILTER_VERDICT_TTL"); val != "" {
		d, err := time.ParseDuration(val)
		if err != nil {
			return envError("FILTER_VERDICT_TTL", val, err)
		}
		c.Filter.VerdictTTL = d
	}
	if val := os.Getenv(EnvPrefix + "FILTER_MAX_CONCURRENCY"); val != "" {
		n, err := strconv.Atoi(val)
		if err != nil {
			return envError("FILTER_MAX_CONCURRENCY", val, err)
		}
		c.Filter.MaxConcurrency = n
	}

	// Cache settings
	if val := os.Getenv(EnvPrefix + "CACHE_SIZE"); val != "" {
		n, err := strconv.Atoi(val)
		if err != nil {
			return envError("CACHE_SIZE", val, err)
		}
		c.Cache.MaxNodes = n
	}
	if val := os.Getenv(EnvPrefix + "CACHE_METADATA_TTL"); val != "" {
		d, err := time.ParseDuration(val)
		if err != nil {
			return envError("CACHE_METADATA_TTL", val, err)
		}
		c.Cache.MetadataTTL = d
	}

	// Mount settings
	if val := os.Getenv(EnvPrefix + "ALLOW_OTHER"); val != "" {
		c.Mount.AllowOther = strings.ToLower(val) == "true"
	}
	if val := os.Getenv(EnvPrefix + "FUSE_DEBUG"); val != "" {
		c.Mount.Debug = strings.ToLower(val) == "true"
	}

	// Monitoring
	if val := os.Getenv(EnvPrefix + "METRICS_ENABLED"); val != "" {
		c.Monitoring.Metrics.Enabled = strings.ToLower(val) == "true"
	}

	return nil
}

func envError(name, value string, cause error) error {
	return errors.NewError(errors.ErrCodeInvalidConfig, "invalid environment value").
		WithContext("variable", EnvPrefix+name).
		WithContext("value", value).
		WithCause(cause)
}

// SaveToFile saves the configuration to a YAML file
func (c *Configuration) SaveToFile(filename string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(filename), 0750); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := os.WriteFile(filename, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Validate validates the configuration
func (c *Configuration) Validate() error {
	invalid := func(format string, args ...interface{}) error {
		return errors.Newf(errors.ErrCodeConfigValidation, format, args...)
	}

	if c.Cache.MaxNodes < 0 {
		return invalid("cache.max_nodes must not be negative (0 disables eviction)")
	}
	if c.Cache.MetadataTTL < 0 {
		return invalid("cache.metadata_ttl must not be negative")
	}

	if c.Filter.Command != "" {
		if c.Filter.Placeholder == "" {
			return invalid("filter.placeholder cannot be empty when a filter command is set")
		}
		if c.Filter.Shell == "" {
			return invalid("filter.shell cannot be empty when a filter command is set")
		}
	}
	if c.Filter.MaxConcurrency <= 0 {
		return invalid("filter.max_concurrency must be greater than 0")
	}
	if c.Filter.Timeout < 0 || c.Filter.VerdictTTL < 0 {
		return invalid("filter durations must not be negative")
	}
	if c.Filter.VerdictTTL > 0 && c.Filter.VerdictCacheSize <= 0 {
		return invalid("filter.verdict_cache_size must be greater than 0 when verdict_ttl is set")
	}

	if c.Monitoring.Metrics.Enabled {
		if c.Global.MetricsPort <= 0 || c.Global.MetricsPort > 65535 {
			return invalid("invalid metrics_port: %d", c.Global.MetricsPort)
		}
		if !strings.HasPrefix(c.Monitoring.Metrics.Path, "/") {
			return invalid("monitoring.metrics.path must start with /")
		}
	}

	validLogLevels := []string{"DEBUG", "INFO", "WARN", "ERROR"}
	logLevelValid := false
	for _, level := range validLogLevels {
		if strings.ToUpper(c.Global.LogLevel) == level {
			logLevelValid = true
			break
		}
	}
	if !logLevelValid {
		return invalid("invalid log_level: %s (must be one of: %s)",
			c.Global.LogLevel, strings.Join(validLogLevels, ", "))
	}

	return nil
}
