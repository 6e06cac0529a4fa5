package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"

	"github.com/notepid/levelbot/internal/db"
	"github.com/notepid/levelbot/internal/leveling"
	"github.com/notepid/levelbot/internal/user"
)

// Config holds the store configuration. Values come from the YAML file and
// are then overridden by LEVELBOT_* environment variables.
type Config struct {
	Database  DatabaseConfig  `yaml:"database"`
	Leveling  leveling.Config `yaml:"leveling"`
	Sacrifice SacrificeConfig `yaml:"sacrifice"`
	Server    ServerConfig    `yaml:"server"`
}

// DatabaseConfig holds the SQLite file location and its pragmas.
type DatabaseConfig struct {
	Path               string        `yaml:"path" env:"LEVELBOT_DB_PATH"`
	BusyTimeout        time.Duration `yaml:"busy_timeout" env:"LEVELBOT_DB_BUSY_TIMEOUT"`
	Synchronous        string        `yaml:"synchronous" env:"LEVELBOT_DB_SYNCHRONOUS"`
	CacheSizeKiB       int           `yaml:"cache_size_kib" env:"LEVELBOT_DB_CACHE_SIZE_KIB"`
	CheckpointInterval time.Duration `yaml:"checkpoint_interval" env:"LEVELBOT_DB_CHECKPOINT_INTERVAL"`
	MaxOpenConns       int           `yaml:"max_open_conns" env:"LEVELBOT_DB_MAX_OPEN_CONNS"`
}

// Options converts the section into connection options.
func (d DatabaseConfig) Options() db.Options {
	return db.Options{
		BusyTimeout:        d.BusyTimeout,
		Synchronous:        d.Synchronous,
		CacheSizeKiB:       d.CacheSizeKiB,
		CheckpointInterval: d.CheckpointInterval,
		MaxOpenConns:       d.MaxOpenConns,
	}
}

// SacrificeConfig holds the sacrifice confirmation window.
type SacrificeConfig struct {
	// PendingTTL bounds how long a request waits for confirmation. Zero or
	// negative keeps it pending until confirmed or reset.
	PendingTTL time.Duration `yaml:"pending_ttl" env:"LEVELBOT_SACRIFICE_TTL"`
}

// ServerConfig holds the service listener settings.
type ServerConfig struct {
	HealthPort int `yaml:"health_port" env:"LEVELBOT_HEALTH_PORT"`
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	opts := db.DefaultOptions()
	return &Config{
		Database: DatabaseConfig{
			Path:               "./data/levels.db",
			BusyTimeout:        opts.BusyTimeout,
			Synchronous:        opts.Synchronous,
			CacheSizeKiB:       opts.CacheSizeKiB,
			CheckpointInterval: opts.CheckpointInterval,
			MaxOpenConns:       opts.MaxOpenConns,
		},
		Leveling: leveling.DefaultConfig(),
		Sacrifice: SacrificeConfig{
			PendingTTL: user.DefaultSacrificeTTL,
		},
		Server: ServerConfig{
			HealthPort: 2223,
		},
	}
}

// Load reads and parses a YAML config file, applies environment overrides
// and validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return finish(cfg)
}

// LoadOrDefault is Load, except that a missing file yields the defaults
// (still subject to environment overrides).
func LoadOrDefault(path string) (*Config, error) {
	cfg, err := Load(path)
	if errors.Is(err, fs.ErrNotExist) {
		return finish(Default())
	}
	return cfg, err
}

func finish(cfg *Config) (*Config, error) {
	if err := ParseEnv(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ParseEnv overrides target fields from their env tags.
func ParseEnv(target any) error {
	if err := env.Parse(target); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

// Validate checks ranges the connection and leveling layers would otherwise
// reject or silently replace.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Database.Path) == "" {
		return fmt.Errorf("database.path is required")
	}
	if c.Database.BusyTimeout < 0 {
		return fmt.Errorf("database.busy_timeout must not be negative")
	}
	switch strings.ToUpper(c.Database.Synchronous) {
	case "", "OFF", "NORMAL", "FULL", "EXTRA":
	default:
		return fmt.Errorf("database.synchronous must be OFF, NORMAL, FULL or EXTRA, got %q", c.Database.Synchronous)
	}
	if c.Server.HealthPort < 0 || c.Server.HealthPort > 65535 {
		return fmt.Errorf("server.health_port out of range: %d", c.Server.HealthPort)
	}
	if _, err := leveling.New(c.Leveling); err != nil {
		return fmt.Errorf("leveling: %w", err)
	}
	return nil
}
