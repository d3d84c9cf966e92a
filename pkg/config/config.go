// Package config provides the unified configuration for quarry runs.
//
// The configuration is organized into logical sections:
//   - Performance: parallelism, connection caps and batch sizes
//   - Timeouts: per-source connect and query timeouts
//   - Logging: zap logger settings
//   - Federated: rewriter bundle and planner service
//   - Observability: metrics endpoint and tracing
//
// Example usage:
//
//	cfg := config.Default()
//	cfg.Performance.Parallelism = 8
//
//	if err := cfg.Validate(); err != nil {
//	    log.Fatal(err)
//	}
package config

import (
	"time"

	"github.com/ajitpratap0/quarry/pkg/errors"
	"github.com/ajitpratap0/quarry/pkg/logger"
)

// DefaultRewriterPath is the rewriter bundle location used when neither an
// explicit path nor QUARRY_REWRITER_PATH is set.
const DefaultRewriterPath = "./rewriter/federated-rewriter.jar"

// Config is the root configuration.
type Config struct {
	// Performance settings control parallelism and resource usage
	Performance PerformanceConfig `yaml:"performance" json:"performance" mapstructure:"performance"`

	// Timeouts bound source connects and queries
	Timeouts TimeoutConfig `yaml:"timeouts" json:"timeouts" mapstructure:"timeouts"`

	// Logging configures the global zap logger
	Logging logger.Config `yaml:"logging" json:"logging" mapstructure:"logging"`

	// Federated configures the query rewriter
	Federated FederatedConfig `yaml:"federated" json:"federated" mapstructure:"federated"`

	// Observability settings for monitoring and debugging
	Observability ObservabilityConfig `yaml:"observability" json:"observability" mapstructure:"observability"`
}

// PerformanceConfig contains the dispatcher's resource settings.
type PerformanceConfig struct {
	// Parallelism is the worker count; 0 selects min(NumCPU, partitions)
	Parallelism int `yaml:"parallelism" json:"parallelism" mapstructure:"parallelism"`
	// ConcurrencyLimit caps the worker count
	ConcurrencyLimit int `yaml:"concurrency_limit" json:"concurrency_limit" mapstructure:"concurrency_limit"`
	// MaxConnections caps simultaneous source connections; 0 defers to the source
	MaxConnections int `yaml:"max_connections" json:"max_connections" mapstructure:"max_connections"`
	// BatchSize is the number of rows between cancellation checks
	BatchSize int `yaml:"batch_size" json:"batch_size" mapstructure:"batch_size"`
	// FederatedWorkers sizes the pool running remote federated plans
	FederatedWorkers int `yaml:"federated_workers" json:"federated_workers" mapstructure:"federated_workers"`
}

// TimeoutConfig contains timeouts applied by the sources.
type TimeoutConfig struct {
	// Connect bounds establishing one connection
	Connect time.Duration `yaml:"connect" json:"connect" mapstructure:"connect"`
	// Query bounds a single query, including reading its rows; 0 disables it
	Query time.Duration `yaml:"query" json:"query" mapstructure:"query"`
}

// FederatedConfig locates the query rewriter.
type FederatedConfig struct {
	// RewriterPath overrides the rewriter bundle location
	RewriterPath string `yaml:"rewriter_path" json:"rewriter_path" mapstructure:"rewriter_path"`
	// Java is the runtime used to launch the bundle
	Java string `yaml:"java" json:"java" mapstructure:"java"`
	// PlannerURL selects an HTTP planner service instead of a child process
	PlannerURL string `yaml:"planner_url" json:"planner_url" mapstructure:"planner_url"`
	// PlannerTimeout bounds one rewrite request
	PlannerTimeout time.Duration `yaml:"planner_timeout" json:"planner_timeout" mapstructure:"planner_timeout"`
}

// ObservabilityConfig contains monitoring settings.
type ObservabilityConfig struct {
	// MetricsAddress serves /metrics when non-empty, e.g. ":9090"
	MetricsAddress string `yaml:"metrics_address" json:"metrics_address" mapstructure:"metrics_address"`
	// EnableTracing installs the stdout trace exporter
	EnableTracing bool `yaml:"enable_tracing" json:"enable_tracing" mapstructure:"enable_tracing"`
	// ServiceName is reported on traces
	ServiceName string `yaml:"service_name" json:"service_name" mapstructure:"service_name"`
}

// Default returns a configuration with production defaults.
func Default() *Config {
	return &Config{
		Performance: PerformanceConfig{
			Parallelism:      0,
			ConcurrencyLimit: 64,
			MaxConnections:   0,
			BatchSize:        1024,
			FederatedWorkers: 4,
		},
		Timeouts: TimeoutConfig{
			Connect: 10 * time.Second,
			Query:   0,
		},
		Logging: logger.Config{
			Level:    "info",
			Encoding: "json",
		},
		Federated: FederatedConfig{
			Java:           "java",
			PlannerTimeout: 30 * time.Second,
		},
		Observability: ObservabilityConfig{
			ServiceName: "quarry",
		},
	}
}

// Validate checks that values are within acceptable ranges.
func (c *Config) Validate() error {
	switch {
	case c.Performance.Parallelism < 0:
		return errors.New(errors.ErrorTypeConfig, "performance.parallelism cannot be negative")
	case c.Performance.ConcurrencyLimit <= 0:
		return errors.New(errors.ErrorTypeConfig, "performance.concurrency_limit must be positive")
	case c.Performance.MaxConnections < 0:
		return errors.New(errors.ErrorTypeConfig, "performance.max_connections cannot be negative")
	case c.Performance.BatchSize <= 0:
		return errors.New(errors.ErrorTypeConfig, "performance.batch_size must be positive")
	case c.Performance.FederatedWorkers <= 0:
		return errors.New(errors.ErrorTypeConfig, "performance.federated_workers must be positive")
	case c.Timeouts.Connect < 0 || c.Timeouts.Query < 0:
		return errors.New(errors.ErrorTypeConfig, "timeouts cannot be negative")
	case c.Federated.PlannerTimeout < 0:
		return errors.New(errors.ErrorTypeConfig, "federated.planner_timeout cannot be negative")
	}
	return nil
}

// OrDefault returns c, or Default() when c is nil.
func OrDefault(c *Config) *Config {
	if c == nil {
		return Default()
	}
	return c
}
