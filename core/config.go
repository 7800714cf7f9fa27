package chainflow

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// ExecutorConfig holds the executor tunables as they appear in YAML
// configuration.
type ExecutorConfig struct {
	Workers            int  `json:"workers,omitempty" yaml:"workers,omitempty"`
	AdaptiveThreshold  int  `json:"adaptiveThreshold,omitempty" yaml:"adaptiveThreshold,omitempty"`
	NodeTimeoutSeconds int  `json:"nodeTimeoutSeconds,omitempty" yaml:"nodeTimeoutSeconds,omitempty"`
	FailFast           bool `json:"failFast,omitempty" yaml:"failFast,omitempty"`
}

// Options converts the configuration into run options, applying the named
// defaults for anything unset.
func (c ExecutorConfig) Options() ExecOptions {
	opts := ExecOptions{
		FailFast:          c.FailFast,
		Workers:           c.Workers,
		AdaptiveThreshold: c.AdaptiveThreshold,
	}
	if c.NodeTimeoutSeconds > 0 {
		opts.NodeTimeout = time.Duration(c.NodeTimeoutSeconds) * time.Second
	}
	return opts.withDefaults()
}

// Config is the declarative engine configuration: the plugin descriptor
// pool plus executor defaults. Implementations for declared plugins are
// attached separately by the hosting process.
type Config struct {
	Plugins  []PluginDescriptor `json:"plugins" yaml:"plugins"`
	Executor ExecutorConfig     `json:"executor,omitempty" yaml:"executor,omitempty"`
}

// LoadConfigFromYAML reads engine configuration from a YAML file.
func LoadConfigFromYAML(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return Config{}, fmt.Errorf("failed to parse config YAML: %w", err)
	}

	for _, desc := range config.Plugins {
		if err := desc.Validate(); err != nil {
			return Config{}, fmt.Errorf("invalid plugin in config: %w", err)
		}
	}
	return config, nil
}

// RegisterConfiguredPlugins registers every descriptor from the config into
// the registry, descriptor-only. Duplicate names abort with the registry's
// error.
func RegisterConfiguredPlugins(config Config, registry *PluginRegistry) error {
	for _, desc := range config.Plugins {
		if err := registry.Register(desc); err != nil {
			return err
		}
	}
	return nil
}
