package redis

import (
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// Config configures the Redis entity store. Cluster mode is selected by
// listing seed addresses in Cluster; Host and Port are then ignored.
type Config struct {
	Host     string   `json:"host" yaml:"host"`
	Port     int      `json:"port" yaml:"port"`
	Username string   `json:"username" yaml:"username"`
	Password string   `json:"password" yaml:"password"`
	Database int      `json:"database" yaml:"database"` // ignored in cluster mode
	Cluster  []string `json:"cluster" yaml:"cluster"`

	KeyPrefix string        `json:"key_prefix" yaml:"key_prefix"`
	TTL       time.Duration `json:"ttl" yaml:"ttl"` // 0 keeps entities until removed

	Pool     PoolConfig    `json:"pool" yaml:"pool"`
	Timeouts TimeoutConfig `json:"timeouts" yaml:"timeouts"`

	EnableMetrics bool             `json:"enable_metrics" yaml:"enable_metrics"`
	Logging       LoggingConfig    `json:"logging" yaml:"logging"`
	LargeValue    LargeValueConfig `json:"large_value" yaml:"large_value"`
}

// PoolConfig sizes the connection pool
type PoolConfig struct {
	Size        int           `json:"size" yaml:"size"`
	MinIdle     int           `json:"min_idle" yaml:"min_idle"`
	MaxLifetime time.Duration `json:"max_lifetime" yaml:"max_lifetime"`
	MaxIdleTime time.Duration `json:"max_idle_time" yaml:"max_idle_time"`
	Wait        time.Duration `json:"wait" yaml:"wait"` // how long to wait for a free connection
}

// TimeoutConfig bounds single network operations
type TimeoutConfig struct {
	Dial  time.Duration `json:"dial" yaml:"dial"`
	Read  time.Duration `json:"read" yaml:"read"`
	Write time.Duration `json:"write" yaml:"write"`
}

// LoggingConfig turns on debug logs for reads
type LoggingConfig struct {
	LogHits   bool `json:"log_hits" yaml:"log_hits"`
	LogMisses bool `json:"log_misses" yaml:"log_misses"`
}

// LargeValueConfig controls how big encodings are stored. Encodings above
// CompressThreshold are gzipped when that makes them smaller; the result is
// split into ChunkSize keys when larger than ChunkSize.
type LargeValueConfig struct {
	MaxValueSize      int  `json:"max_value_size" yaml:"max_value_size"`
	ChunkSize         int  `json:"chunk_size" yaml:"chunk_size"`
	CompressThreshold int  `json:"compress_threshold" yaml:"compress_threshold"`
	EnableCompression bool `json:"enable_compression" yaml:"enable_compression"`
	EnableChunking    bool `json:"enable_chunking" yaml:"enable_chunking"`
}

const (
	defaultMaxValueSize      = 10 << 20
	defaultChunkSize         = 2 << 20
	defaultCompressThreshold = 100 << 10
)

// DefaultConfig returns a configuration for a local single-node server
func DefaultConfig() *Config {
	return &Config{
		Host: "localhost",
		Port: 6379,
		Pool: PoolConfig{
			Size:        10,
			MinIdle:     3,
			MaxLifetime: time.Hour,
			MaxIdleTime: 5 * time.Minute,
			Wait:        4 * time.Second,
		},
		Timeouts: TimeoutConfig{
			Dial:  5 * time.Second,
			Read:  3 * time.Second,
			Write: 3 * time.Second,
		},
		EnableMetrics: true,
		LargeValue: LargeValueConfig{
			MaxValueSize:      defaultMaxValueSize,
			ChunkSize:         defaultChunkSize,
			CompressThreshold: defaultCompressThreshold,
			EnableCompression: true,
			EnableChunking:    true,
		},
	}
}

// Validate checks the connection settings
func (c *Config) Validate() error {
	if !c.IsClusterMode() {
		if c.Host == "" {
			return fmt.Errorf("redis host is required")
		}
		if c.Port <= 0 || c.Port > 65535 {
			return fmt.Errorf("redis port must be between 1 and 65535, got %d", c.Port)
		}
	}
	switch {
	case c.TTL < 0:
		return fmt.Errorf("ttl cannot be negative")
	case c.Pool.Size < 1:
		return fmt.Errorf("pool size must be at least 1")
	case c.LargeValue.ChunkSize < 0 || c.LargeValue.MaxValueSize < 0:
		return fmt.Errorf("large value sizes cannot be negative")
	}
	return nil
}

// Addr returns host:port of a single-node server
func (c *Config) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// IsClusterMode reports whether cluster seed addresses are configured
func (c *Config) IsClusterMode() bool {
	return len(c.Cluster) > 0
}

// options maps the config onto go-redis options for either client kind
func (c *Config) options() *redis.UniversalOptions {
	addrs := c.Cluster
	if !c.IsClusterMode() {
		addrs = []string{c.Addr()}
	}
	return &redis.UniversalOptions{
		Addrs:           addrs,
		Username:        c.Username,
		Password:        c.Password,
		DB:              c.Database,
		PoolSize:        c.Pool.Size,
		MinIdleConns:    c.Pool.MinIdle,
		ConnMaxLifetime: c.Pool.MaxLifetime,
		ConnMaxIdleTime: c.Pool.MaxIdleTime,
		PoolTimeout:     c.Pool.Wait,
		DialTimeout:     c.Timeouts.Dial,
		ReadTimeout:     c.Timeouts.Read,
		WriteTimeout:    c.Timeouts.Write,
	}
}

// resolved fills unset sizes with the package defaults
func (l LargeValueConfig) resolved() LargeValueConfig {
	if l.MaxValueSize <= 0 {
		l.MaxValueSize = defaultMaxValueSize
	}
	if l.ChunkSize <= 0 {
		l.ChunkSize = defaultChunkSize
	}
	if l.CompressThreshold <= 0 {
		l.CompressThreshold = defaultCompressThreshold
	}
	return l
}
