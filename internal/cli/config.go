package cli

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Config is the sortd configuration file (~/.sortd.yaml or --config).
// Every field has a default; a missing file is not an error.
type Config struct {
	// Budget is the daily quota budget in cost units.
	Budget int `yaml:"budget" validate:"gt=0"`

	// ResetZone is the IANA timezone the daily budget resets in.
	ResetZone string `yaml:"reset_zone" validate:"required"`

	// Database is the path of the checkpoint/undo SQLite database.
	Database string `yaml:"database" validate:"required"`

	// Library is the path of the local library file the default adapter
	// operates on.
	Library string `yaml:"library"`

	// CacheTTLSeconds bounds how long a container listing is served from
	// cache.
	CacheTTLSeconds int `yaml:"cache_ttl_seconds" validate:"gt=0"`

	// CacheSnapshot, when set, persists the read cache between runs.
	CacheSnapshot string `yaml:"cache_snapshot"`

	// BatchSize is the default number of items per mutation call.
	BatchSize int `yaml:"batch_size" validate:"gt=0,lte=50"`

	Retry RetryConfig `yaml:"retry"`
}

// RetryConfig tunes the remote call retry policy.
type RetryConfig struct {
	MaxAttempts      int `yaml:"max_attempts" validate:"gt=0"`
	BaseDelaySeconds int `yaml:"base_delay_seconds" validate:"gt=0"`
	MaxDelaySeconds  int `yaml:"max_delay_seconds" validate:"gt=0"`
}

// DefaultConfig returns the built-in defaults: the service's standard
// 10000-unit daily budget resetting at Pacific midnight, one-hour listing
// cache, full batches.
func DefaultConfig() *Config {
	return &Config{
		Budget:          10000,
		ResetZone:       "America/Los_Angeles",
		Database:        "sortd.db",
		Library:         "library.yaml",
		CacheTTLSeconds: 3600,
		BatchSize:       50,
		Retry: RetryConfig{
			MaxAttempts:      5,
			BaseDelaySeconds: 2,
			MaxDelaySeconds:  60,
		},
	}
}

// LoadConfig reads the config file at path, or ~/.sortd.yaml when path is
// empty. A missing file yields the defaults; a present but invalid file is
// an error.
func LoadConfig(path string) (*Config, error) {
	explicit := path != ""
	if !explicit {
		home, err := os.UserHomeDir()
		if err != nil {
			return DefaultConfig(), nil
		}
		path = filepath.Join(home, ".sortd.yaml")
	}

	raw, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) && !explicit {
		return DefaultConfig(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(raw, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks field constraints and that ResetZone names a real
// timezone.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return err
	}
	if _, err := time.LoadLocation(c.ResetZone); err != nil {
		return fmt.Errorf("reset_zone: %w", err)
	}
	return nil
}

// Zone returns the parsed reset timezone.
func (c *Config) Zone() (*time.Location, error) {
	return time.LoadLocation(c.ResetZone)
}
