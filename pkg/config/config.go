package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration is a time.Duration that unmarshals from YAML strings like "30s"
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}

	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}

	*d = Duration(parsed)
	return nil
}

// Std returns the standard library representation
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// LogConfig holds the log section of the config file. The run command does
// not apply it: controller and worker logging follow the --log-level and
// --log-json flags.
type LogConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// PoolConfig sizes the worker pools
type PoolConfig struct {
	// ContentWorkers caps the CPU-bound content generation pool
	ContentWorkers int `yaml:"content_workers"`

	// ConnectionWorkers caps each per-transport pool
	ConnectionWorkers int `yaml:"connection_workers"`
}

// BlobStoreConfig tunes the dynamic content rendezvous
type BlobStoreConfig struct {
	// WaitTimeout bounds how long the controller's blobstore waits on a
	// rendezvous; zero waits forever. Worker processes open their own store
	// without this bound, so their waits end only when the rendezvous is
	// released by the producer or removed by the sweeper.
	WaitTimeout Duration `yaml:"wait_timeout"`

	// SweepInterval is how often stale rendezvous objects are swept
	SweepInterval Duration `yaml:"sweep_interval"`

	// LockMaxAge is the age beyond which a rendezvous counts as stale
	LockMaxAge Duration `yaml:"lock_max_age"`
}

// Config is the engine configuration, loadable from a YAML file
type Config struct {
	Log       LogConfig       `yaml:"log"`
	Pools     PoolConfig      `yaml:"pools"`
	BlobStore BlobStoreConfig `yaml:"blobstore"`
}

// Default returns the built-in configuration
func Default() *Config {
	return &Config{
		Log: LogConfig{Level: "info"},
		Pools: PoolConfig{
			ContentWorkers:    10,
			ConnectionWorkers: 1,
		},
		BlobStore: BlobStoreConfig{
			WaitTimeout:   Duration(60 * time.Second),
			SweepInterval: Duration(30 * time.Second),
			LockMaxAge:    Duration(2 * time.Minute),
		},
	}
}

// Load reads a YAML config file over the defaults
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config %q: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %q: %w", path, err)
	}

	return cfg, nil
}
