// Package config loads the em4go configuration file: which storage backend
// to open and how, the entity codec, logging and metrics.
//
// Config file locations (priority order):
//  1. $EM4GO_CONFIG
//  2. ./em4go.yaml
//  3. $XDG_CONFIG_HOME/em4go/config.yaml or ~/.config/em4go/config.yaml
package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/rieonke/em4go/pkg/codec"
	"github.com/rieonke/em4go/pkg/db"
	"github.com/rieonke/em4go/pkg/objectstore"
	"github.com/rieonke/em4go/pkg/redis"
	"github.com/rieonke/em4go/pkg/sqlstore"
)

// Driver selects the storage backend
type Driver string

const (
	DriverMemory   Driver = "memory"
	DriverSQLite   Driver = "sqlite"
	DriverPostgres Driver = "postgres"
	DriverMySQL    Driver = "mysql"
	DriverRedis    Driver = "redis"
	DriverS3       Driver = "s3"
)

// Drivers lists the supported drivers
func Drivers() []Driver {
	return []Driver{DriverMemory, DriverSQLite, DriverPostgres, DriverMySQL, DriverRedis, DriverS3}
}

// Config is the root of the configuration file
type Config struct {
	Backend BackendConfig `yaml:"backend"`
	Codec   string        `yaml:"codec"` // msgpack, json, yaml
	Logging LoggingConfig `yaml:"logging"`
	Metrics MetricsConfig `yaml:"metrics"`
}

// BackendConfig holds the driver and the settings of every backend; only
// the section of the selected driver is used.
type BackendConfig struct {
	Driver Driver             `yaml:"driver"`
	SQL    sqlstore.Config    `yaml:"sql"` // sqlite and postgres
	MySQL  db.Config          `yaml:"mysql"`
	Redis  redis.Config       `yaml:"redis"`
	S3     objectstore.Config `yaml:"s3"`
	Cache  CacheConfig        `yaml:"cache"`
}

// CacheConfig puts a Redis cache, configured by the redis section, in
// front of the selected backend.
type CacheConfig struct {
	Enabled bool `yaml:"enabled"`
}

// LoggingConfig configures the slog logger
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, text
}

// MetricsConfig enables Prometheus metrics of the entity manager
type MetricsConfig struct {
	Enabled bool              `yaml:"enabled"`
	Labels  map[string]string `yaml:"labels"`
}

// DefaultConfig returns an in-memory configuration
func DefaultConfig() *Config {
	return &Config{
		Backend: BackendConfig{
			Driver: DriverMemory,
			SQL:    *sqlstore.DefaultConfig(),
			MySQL:  *db.DefaultConfig(),
			Redis:  *redis.DefaultConfig(),
		},
		Codec:   codec.Default().Name(),
		Logging: LoggingConfig{Level: "info", Format: "text"},
	}
}

// Load finds and loads the config file, or returns defaults if none found
func Load() (*Config, string, error) {
	path := FindConfigPath()
	if path == "" {
		return DefaultConfig(), "", nil
	}
	return LoadFromPath(path)
}

// LoadFromPath loads config from a specific path. Values absent from the
// file keep their defaults.
func LoadFromPath(path string) (*Config, string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, path, fmt.Errorf("read config: %w", err)
	}

	cfg, err := Parse(data)
	if err != nil {
		return nil, path, err
	}
	return cfg, path, nil
}

// Parse decodes and validates a YAML document
func Parse(data []byte) (*Config, error) {
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// Save writes config to the specified path
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	return os.WriteFile(path, data, 0o600)
}

// applyDefaults fills in missing values with defaults
func (c *Config) applyDefaults() {
	if c.Backend.Driver == "" {
		c.Backend.Driver = DriverMemory
	}
	c.Backend.Driver = Driver(strings.ToLower(string(c.Backend.Driver)))
	if c.Codec == "" {
		c.Codec = codec.Default().Name()
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
	// the sql section follows the driver
	switch c.Backend.Driver {
	case DriverSQLite, DriverPostgres:
		c.Backend.SQL.Dialect = string(c.Backend.Driver)
	}
}

// Validate checks the driver, the codec, logging and the selected backend section
func (c *Config) Validate() error {
	if _, err := codec.ByName(c.Codec); err != nil {
		return err
	}
	if _, ok := parseLevel(c.Logging.Level); !ok {
		return fmt.Errorf("unknown log level %q", c.Logging.Level)
	}
	switch strings.ToLower(c.Logging.Format) {
	case "json", "text":
	default:
		return fmt.Errorf("unknown log format %q", c.Logging.Format)
	}

	var err error
	switch c.Backend.Driver {
	case DriverMemory:
	case DriverSQLite, DriverPostgres:
		err = c.Backend.SQL.Validate()
	case DriverMySQL:
		err = c.Backend.MySQL.Validate()
	case DriverRedis:
		err = c.Backend.Redis.Validate()
	case DriverS3:
		err = c.Backend.S3.Validate()
	default:
		return fmt.Errorf("unknown backend driver %q", c.Backend.Driver)
	}
	if err != nil {
		return fmt.Errorf("%s backend: %w", c.Backend.Driver, err)
	}

	if c.Backend.Cache.Enabled {
		if c.Backend.Driver == DriverRedis || c.Backend.Driver == DriverMemory {
			return fmt.Errorf("a redis cache cannot front the %s backend", c.Backend.Driver)
		}
		if err := c.Backend.Redis.Validate(); err != nil {
			return fmt.Errorf("redis cache: %w", err)
		}
	}
	return nil
}
