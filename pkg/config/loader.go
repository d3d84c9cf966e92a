package config

import (
	"bytes"
	"os"
	"strings"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/ajitpratap0/quarry/pkg/errors"
)

// EnvPrefix prefixes every environment override, e.g.
// QUARRY_PERFORMANCE_BATCH_SIZE overrides performance.batch_size.
const EnvPrefix = "QUARRY"

// Load reads the YAML file at path, when non-empty, then applies
// QUARRY_* environment overrides on top of the defaults. ${VAR} references
// inside the file are expanded before parsing.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v, Default())

	if path != "" {
		data, err := os.ReadFile(path) //nolint:gosec // G304: path is supplied by the operator
		if err != nil {
			if os.IsNotExist(err) {
				return nil, errors.Wrap(err, errors.ErrorTypeFileNotFound, "config file not found")
			}
			return nil, errors.Wrap(err, errors.ErrorTypeConfig, "failed to read config file")
		}
		if err := v.ReadConfig(bytes.NewReader([]byte(substituteEnvVars(string(data))))); err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeConfig, "failed to parse YAML")
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "failed to unmarshal config")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes cfg to path as YAML.
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeConfig, "failed to marshal YAML")
	}
	if err := os.WriteFile(path, data, 0644); err != nil { //nolint:gosec
		return errors.Wrap(err, errors.ErrorTypeConfig, "failed to write config file")
	}
	return nil
}

// setDefaults registers every key so AutomaticEnv overrides reach Unmarshal.
func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("performance.parallelism", d.Performance.Parallelism)
	v.SetDefault("performance.concurrency_limit", d.Performance.ConcurrencyLimit)
	v.SetDefault("performance.max_connections", d.Performance.MaxConnections)
	v.SetDefault("performance.batch_size", d.Performance.BatchSize)
	v.SetDefault("performance.federated_workers", d.Performance.FederatedWorkers)
	v.SetDefault("timeouts.connect", d.Timeouts.Connect)
	v.SetDefault("timeouts.query", d.Timeouts.Query)
	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.development", d.Logging.Development)
	v.SetDefault("logging.encoding", d.Logging.Encoding)
	v.SetDefault("logging.output_paths", d.Logging.OutputPaths)
	v.SetDefault("federated.rewriter_path", d.Federated.RewriterPath)
	v.SetDefault("federated.java", d.Federated.Java)
	v.SetDefault("federated.planner_url", d.Federated.PlannerURL)
	v.SetDefault("federated.planner_timeout", d.Federated.PlannerTimeout)
	v.SetDefault("observability.metrics_address", d.Observability.MetricsAddress)
	v.SetDefault("observability.enable_tracing", d.Observability.EnableTracing)
	v.SetDefault("observability.service_name", d.Observability.ServiceName)
}

// substituteEnvVars replaces ${VAR_NAME} with environment variable values
func substituteEnvVars(content string) string {
	for {
		start := strings.Index(content, "${")
		if start == -1 {
			break
		}
		end := strings.Index(content[start:], "}")
		if end == -1 {
			break
		}
		end += start

		varName := content[start+2 : end]
		content = content[:start] + os.Getenv(varName) + content[end+1:]
	}
	return content
}
