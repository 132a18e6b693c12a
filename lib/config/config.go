// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"
)

// EnvironmentVariable names the variable [Load] reads the config path
// from.
const EnvironmentVariable = "TRACEHOOK_CONFIG"

// Environment represents the deployment environment.
type Environment string

const (
	// Development is for local development machines.
	Development Environment = "development"
	// Production is for production deployments.
	Production Environment = "production"
)

// Transport kinds for CollectorConfig.Transport.
const (
	TransportSocket = "socket"
	TransportRedis  = "redis"
)

// Config is the master configuration for the agent.
type Config struct {
	// Environment identifies the deployment type (development, production).
	Environment Environment `yaml:"environment"`

	// AgentName identifies the monitored application to the collector.
	AgentName string `yaml:"agent_name"`

	Collector    CollectorConfig    `yaml:"collector"`
	Retry        RetryConfig        `yaml:"retry"`
	Registration RegistrationConfig `yaml:"registration"`
	Dispatch     DispatchConfig     `yaml:"dispatch"`
	CallTree     CallTreeConfig     `yaml:"call_tree"`
	Platform     PlatformConfig     `yaml:"platform"`

	// Per-environment overrides, applied after the base config is
	// loaded.
	Development *ConfigOverrides `yaml:"development,omitempty"`
	Production  *ConfigOverrides `yaml:"production,omitempty"`
}

// ConfigOverrides contains fields that can be overridden per environment.
type ConfigOverrides struct {
	Collector *CollectorConfig `yaml:"collector,omitempty"`
	Dispatch  *DispatchConfig  `yaml:"dispatch,omitempty"`
	CallTree  *CallTreeConfig  `yaml:"call_tree,omitempty"`
}

// CollectorConfig selects and configures the link to the collector.
type CollectorConfig struct {
	// Transport is "socket" or "redis".
	// Default: socket
	Transport string `yaml:"transport"`

	// Network is "unix" or "tcp" for the socket transport.
	// Default: unix
	Network string `yaml:"network"`

	// Address is the socket path or host:port of the collector.
	// Default: /run/tracehook/collector.sock
	Address string `yaml:"address"`

	// RedisURL is the redis:// URL for the redis transport.
	RedisURL string `yaml:"redis_url"`

	// RedisPrefix namespaces the redis keys.
	// Default: tracehook
	RedisPrefix string `yaml:"redis_prefix"`

	// AttemptTimeout bounds a single remote call attempt.
	// Default: 10s
	AttemptTimeout time.Duration `yaml:"attempt_timeout"`
}

// RetryConfig is the per-call retry policy.
type RetryConfig struct {
	// MaxAttempts bounds the attempts of one remote call.
	// Default: 3
	MaxAttempts int `yaml:"max_attempts"`

	// Increment is added to the wait after each failed attempt.
	// Default: 1s
	Increment time.Duration `yaml:"increment"`
}

// RegistrationConfig drives the id registration loop and keep-alive.
type RegistrationConfig struct {
	// Interval is the wait after a failed registration cycle.
	// Default: 10s
	Interval time.Duration `yaml:"interval"`

	// KeepAliveInterval is the period of keep-alive calls.
	// Default: 30s
	KeepAliveInterval time.Duration `yaml:"keep_alive_interval"`
}

// DispatchConfig configures batching of measurements.
type DispatchConfig struct {
	// FlushInterval is the period of the flush timer.
	// Default: 5s
	FlushInterval time.Duration `yaml:"flush_interval"`

	// FlushThreshold triggers an early flush once this many items are
	// buffered. Zero disables early flushes.
	// Default: 1000
	FlushThreshold int `yaml:"flush_threshold"`

	// MaxBuffered is the buffer ceiling; older items are dropped past it.
	// Default: 10000
	MaxBuffered int `yaml:"max_buffered"`

	// ShutdownTimeout bounds the final flush and unregister.
	// Default: 2s
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`

	// Compression is "none", "lz4", or "zstd".
	// Default: none (development), lz4 (production)
	Compression string `yaml:"compression"`
}

// CallTreeConfig configures call tree filtering.
type CallTreeConfig struct {
	// MinDuration discards trees whose root ran for less.
	// Default: 0 (development), 1ms (production)
	MinDuration time.Duration `yaml:"min_duration"`

	// MethodMinDurations overrides MinDuration for trees rooted at a
	// method, keyed by the method's rendered name
	// ("pkg/path.(*Type).Method", see ident.MethodDescriptor.QualifiedName).
	MethodMinDurations map[string]time.Duration `yaml:"method_min_durations,omitempty"`
}

// PlatformConfig configures the platform sensors.
type PlatformConfig struct {
	// RefreshInterval is the sampling period of platform sensors.
	// Default: 1s
	RefreshInterval time.Duration `yaml:"refresh_interval"`

	// ProcessSensor enables the /proc based process sensor.
	// Default: true
	ProcessSensor bool `yaml:"process_sensor"`

	// HostSensor enables the machine-wide CPU, memory and load sensor.
	// Default: true
	HostSensor bool `yaml:"host_sensor"`
}

// Default returns the default configuration.
// These defaults are used as a base before loading the config file.
func Default() *Config {
	return &Config{
		Environment: Development,
		AgentName:   "tracehook",
		Collector: CollectorConfig{
			Transport:      TransportSocket,
			Network:        "unix",
			Address:        "/run/tracehook/collector.sock",
			RedisPrefix:    "tracehook",
			AttemptTimeout: 10 * time.Second,
		},
		Retry: RetryConfig{
			MaxAttempts: 3,
			Increment:   time.Second,
		},
		Registration: RegistrationConfig{
			Interval:          10 * time.Second,
			KeepAliveInterval: 30 * time.Second,
		},
		Dispatch: DispatchConfig{
			FlushInterval:   5 * time.Second,
			FlushThreshold:  1000,
			MaxBuffered:     10000,
			ShutdownTimeout: 2 * time.Second,
			Compression:     "none",
		},
		Platform: PlatformConfig{
			RefreshInterval: time.Second,
			ProcessSensor:   true,
			HostSensor:      true,
		},
	}
}

// Load loads configuration from the TRACEHOOK_CONFIG environment
// variable. There is no fallback: if the variable is not set, Load
// fails.
func Load() (*Config, error) {
	configPath := os.Getenv(EnvironmentVariable)
	if configPath == "" {
		return nil, fmt.Errorf("%s environment variable not set; "+
			"set it to the path of your tracehook.yaml config file, or use --config flag", EnvironmentVariable)
	}

	return LoadFile(configPath)
}

// LoadFile loads configuration from a specific file path.
func LoadFile(path string) (*Config, error) {
	cfg := Default()

	if err := cfg.loadFile(path); err != nil {
		return nil, err
	}

	cfg.applyEnvironmentOverrides()
	cfg.expandVariables()

	return cfg, nil
}

// loadFile merges a single configuration file into the current config.
func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".json", ".jsonc":
		// JSON is a subset of YAML once comments and trailing commas
		// are gone.
		data = jsonc.ToJSON(data)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parsing %s: %w", path, err)
	}
	return nil
}

// applyEnvironmentOverrides applies the environment-specific overrides.
func (c *Config) applyEnvironmentOverrides() {
	var overrides *ConfigOverrides

	switch c.Environment {
	case Development:
		overrides = c.Development
	case Production:
		overrides = c.Production
		// Production defaults: compressed batches, no sub-millisecond trees.
		if overrides == nil {
			overrides = &ConfigOverrides{
				Dispatch: &DispatchConfig{Compression: "lz4"},
				CallTree: &CallTreeConfig{MinDuration: time.Millisecond},
			}
		}
	}

	if overrides == nil {
		return
	}

	if overrides.Collector != nil {
		if overrides.Collector.Transport != "" {
			c.Collector.Transport = overrides.Collector.Transport
		}
		if overrides.Collector.Network != "" {
			c.Collector.Network = overrides.Collector.Network
		}
		if overrides.Collector.Address != "" {
			c.Collector.Address = overrides.Collector.Address
		}
		if overrides.Collector.RedisURL != "" {
			c.Collector.RedisURL = overrides.Collector.RedisURL
		}
		if overrides.Collector.AttemptTimeout != 0 {
			c.Collector.AttemptTimeout = overrides.Collector.AttemptTimeout
		}
	}

	if overrides.Dispatch != nil {
		if overrides.Dispatch.FlushInterval != 0 {
			c.Dispatch.FlushInterval = overrides.Dispatch.FlushInterval
		}
		if overrides.Dispatch.FlushThreshold != 0 {
			c.Dispatch.FlushThreshold = overrides.Dispatch.FlushThreshold
		}
		if overrides.Dispatch.MaxBuffered != 0 {
			c.Dispatch.MaxBuffered = overrides.Dispatch.MaxBuffered
		}
		if overrides.Dispatch.Compression != "" {
			c.Dispatch.Compression = overrides.Dispatch.Compression
		}
	}

	if overrides.CallTree != nil {
		if overrides.CallTree.MinDuration != 0 {
			c.CallTree.MinDuration = overrides.CallTree.MinDuration
		}
		for method, minimum := range overrides.CallTree.MethodMinDurations {
			if c.CallTree.MethodMinDurations == nil {
				c.CallTree.MethodMinDurations = make(map[string]time.Duration)
			}
			c.CallTree.MethodMinDurations[method] = minimum
		}
	}
}

// expandVariables expands ${VAR} and ${VAR:-default} in endpoint fields.
func (c *Config) expandVariables() {
	c.AgentName = expandVars(c.AgentName)
	c.Collector.Address = expandVars(c.Collector.Address)
	c.Collector.RedisURL = expandVars(c.Collector.RedisURL)
	c.Collector.RedisPrefix = expandVars(c.Collector.RedisPrefix)
}

var varPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

// expandVars expands ${VAR} and ${VAR:-default} patterns from the
// environment.
func expandVars(s string) string {
	return varPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := varPattern.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}
		if value := os.Getenv(parts[1]); value != "" {
			return value
		}
		if len(parts) >= 3 {
			return parts[2]
		}
		return ""
	})
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []error

	if c.Environment != Development && c.Environment != Production {
		errs = append(errs, fmt.Errorf("invalid environment: %s", c.Environment))
	}
	if c.AgentName == "" {
		errs = append(errs, fmt.Errorf("agent_name is required"))
	}

	switch c.Collector.Transport {
	case TransportSocket:
		if c.Collector.Network != "unix" && c.Collector.Network != "tcp" {
			errs = append(errs, fmt.Errorf("collector.network must be unix or tcp, got %q", c.Collector.Network))
		}
		if c.Collector.Address == "" {
			errs = append(errs, fmt.Errorf("collector.address is required for the socket transport"))
		}
	case TransportRedis:
		if c.Collector.RedisURL == "" {
			errs = append(errs, fmt.Errorf("collector.redis_url is required for the redis transport"))
		}
	default:
		errs = append(errs, fmt.Errorf("collector.transport must be one of: %v", []string{TransportSocket, TransportRedis}))
	}
	if c.Collector.AttemptTimeout <= 0 {
		errs = append(errs, fmt.Errorf("collector.attempt_timeout must be positive"))
	}

	if c.Retry.MaxAttempts < 1 {
		errs = append(errs, fmt.Errorf("retry.max_attempts must be at least 1"))
	}
	if c.Retry.Increment < 0 {
		errs = append(errs, fmt.Errorf("retry.increment must not be negative"))
	}

	if c.Registration.Interval <= 0 {
		errs = append(errs, fmt.Errorf("registration.interval must be positive"))
	}
	if c.Registration.KeepAliveInterval <= 0 {
		errs = append(errs, fmt.Errorf("registration.keep_alive_interval must be positive"))
	}

	if c.Dispatch.FlushInterval <= 0 {
		errs = append(errs, fmt.Errorf("dispatch.flush_interval must be positive"))
	}
	if c.Dispatch.MaxBuffered < 1 {
		errs = append(errs, fmt.Errorf("dispatch.max_buffered must be at least 1"))
	}
	if c.Dispatch.FlushThreshold < 0 || c.Dispatch.FlushThreshold > c.Dispatch.MaxBuffered {
		errs = append(errs, fmt.Errorf("dispatch.flush_threshold must be between 0 and max_buffered"))
	}
	if c.Dispatch.ShutdownTimeout <= 0 {
		errs = append(errs, fmt.Errorf("dispatch.shutdown_timeout must be positive"))
	}
	compressions := []string{"none", "lz4", "zstd"}
	if !contains(compressions, c.Dispatch.Compression) {
		errs = append(errs, fmt.Errorf("dispatch.compression must be one of: %v", compressions))
	}

	if c.CallTree.MinDuration < 0 {
		errs = append(errs, fmt.Errorf("call_tree.min_duration must not be negative"))
	}
	for method, minimum := range c.CallTree.MethodMinDurations {
		if minimum < 0 {
			errs = append(errs, fmt.Errorf("call_tree.method_min_durations[%s] must not be negative", method))
		}
	}

	if c.Platform.RefreshInterval <= 0 {
		errs = append(errs, fmt.Errorf("platform.refresh_interval must be positive"))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

func contains(slice []string, s string) bool {
	for _, v := range slice {
		if v == s {
			return true
		}
	}
	return false
}
