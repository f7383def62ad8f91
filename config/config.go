// Package config loads forgemesh runtime configuration from YAML.
//
// Every field has a working default, so an empty file (or no file at all)
// yields a runnable configuration: template-only generation, default pool
// capacities, default retry policy. Validate catches the mistakes a hand
// edited file is likely to introduce before any component is built from it.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/forgemesh/forgemesh/core"
	"github.com/forgemesh/forgemesh/resource"
)

// Config is the root of the YAML document.
type Config struct {
	Resources ResourcesConfig `yaml:"resources"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Protocol  ProtocolConfig  `yaml:"protocol"`
	Model     ModelConfig     `yaml:"model"`
	Quality   QualityConfig   `yaml:"quality"`
	Memory    MemoryConfig    `yaml:"memory"`
}

// ResourcesConfig sets pool capacities for the allocator.
type ResourcesConfig struct {
	Compute float64 `yaml:"compute"`
	Memory  float64 `yaml:"memory"`
	Slots   float64 `yaml:"agent_slots"`
}

// SchedulerConfig sets retry and wait policy.
type SchedulerConfig struct {
	MaxRetries        int           `yaml:"max_retries"`
	InitialBackoff    time.Duration `yaml:"initial_backoff"`
	MaxBackoff        time.Duration `yaml:"max_backoff"`
	BackoffMultiplier float64       `yaml:"backoff_multiplier"`
	ResourceMaxWait   time.Duration `yaml:"resource_max_wait"`
}

// ProtocolConfig sets coordination defaults.
type ProtocolConfig struct {
	DefaultTimeout time.Duration `yaml:"default_timeout"`
}

// ModelConfig selects and tunes the generation backend.
type ModelConfig struct {
	// Provider is one of "anthropic", "openai", "mock" or "" (template
	// only, no backend).
	Provider    string  `yaml:"provider"`
	Name        string  `yaml:"name"`
	APIKey      string  `yaml:"api_key"`
	Temperature float64 `yaml:"temperature"`
	MaxTokens   int64   `yaml:"max_tokens"`
}

// QualityConfig tunes the completion gate.
type QualityConfig struct {
	Threshold float64 `yaml:"threshold"`
}

// MemoryConfig sets the event history queue.
type MemoryConfig struct {
	QueueSize int `yaml:"queue_size"`
}

// Default returns the configuration used when no file is provided.
func Default() Config {
	caps := resource.DefaultCapacities()
	return Config{
		Resources: ResourcesConfig{
			Compute: caps[core.ResourceCompute],
			Memory:  caps[core.ResourceMemory],
			Slots:   caps[core.ResourceSlots],
		},
		Scheduler: SchedulerConfig{
			MaxRetries:        3,
			InitialBackoff:    200 * time.Millisecond,
			MaxBackoff:        10 * time.Second,
			BackoffMultiplier: 2,
			ResourceMaxWait:   30 * time.Second,
		},
		Protocol: ProtocolConfig{
			DefaultTimeout: 5 * time.Minute,
		},
		Model: ModelConfig{
			Provider:    "",
			Temperature: 0.7,
			MaxTokens:   4096,
		},
		Quality: QualityConfig{
			Threshold: 0.6,
		},
		Memory: MemoryConfig{
			QueueSize: 256,
		},
	}
}

// Load reads the YAML file at path over the defaults. Fields absent from
// the file keep their default values. The result is validated.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("validate config %s: %w", path, err)
	}
	return cfg, nil
}

// Capacities converts the resource section into allocator capacities.
func (c Config) Capacities() map[core.ResourceKind]float64 {
	return map[core.ResourceKind]float64{
		core.ResourceCompute: c.Resources.Compute,
		core.ResourceMemory:  c.Resources.Memory,
		core.ResourceSlots:   c.Resources.Slots,
	}
}

// Validate rejects configurations no component could run with.
func (c Config) Validate() error {
	if c.Resources.Compute <= 0 || c.Resources.Memory <= 0 || c.Resources.Slots <= 0 {
		return fmt.Errorf("resources: all pool capacities must be positive")
	}
	if c.Scheduler.MaxRetries < 0 {
		return fmt.Errorf("scheduler: max_retries must not be negative")
	}
	if c.Scheduler.InitialBackoff <= 0 || c.Scheduler.MaxBackoff <= 0 {
		return fmt.Errorf("scheduler: backoff durations must be positive")
	}
	if c.Scheduler.InitialBackoff > c.Scheduler.MaxBackoff {
		return fmt.Errorf("scheduler: initial_backoff exceeds max_backoff")
	}
	if c.Scheduler.BackoffMultiplier < 1 {
		return fmt.Errorf("scheduler: backoff_multiplier must be at least 1")
	}
	if c.Scheduler.ResourceMaxWait <= 0 {
		return fmt.Errorf("scheduler: resource_max_wait must be positive")
	}
	if c.Protocol.DefaultTimeout <= 0 {
		return fmt.Errorf("protocol: default_timeout must be positive")
	}
	switch c.Model.Provider {
	case "", "mock", "anthropic", "openai":
	default:
		return fmt.Errorf("model: unknown provider %q", c.Model.Provider)
	}
	if c.Quality.Threshold <= 0 || c.Quality.Threshold > 1 {
		return fmt.Errorf("quality: threshold must be in (0, 1]")
	}
	if c.Memory.QueueSize <= 0 {
		return fmt.Errorf("memory: queue_size must be positive")
	}
	return nil
}
