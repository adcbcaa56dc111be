package db

import (
	"crypto/sha256"
	"crypto/tls"
	"crypto/x509"
	"encoding/hex"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/go-sql-driver/mysql"
)

// DefaultEntityTable is the table entities are stored in when Config.Table is empty
const DefaultEntityTable = "em4go_entities"

// DefaultConfig returns a MySQL configuration with sensible defaults.
// Host, database and credentials still have to be filled in.
func DefaultConfig() *Config {
	return &Config{
		Port:            3306,
		Table:           DefaultEntityTable,
		Charset:         "utf8mb4",
		Collation:       "utf8mb4_unicode_ci",
		TimeZone:        "UTC",
		MaxOpenConns:    25,
		MaxIdleConns:    5,
		ConnMaxLifetime: time.Hour,
		ConnMaxIdleTime: 30 * time.Minute,
		PrepareStmt:     true,
		QueryTimeout:    30 * time.Second,
		Logging: LoggingConfig{
			Level:              "error",
			SlowQueryThreshold: 200 * time.Millisecond,
		},
	}
}

// TableName returns the configured entity table or DefaultEntityTable
func (c *Config) TableName() string {
	if c.Table == "" {
		return DefaultEntityTable
	}
	return c.Table
}

// Validate checks if the database configuration is valid
func (c *Config) Validate() error {
	switch {
	case c.Host == "":
		return fmt.Errorf("database host is required")
	case c.Port < 1 || c.Port > 65535:
		return fmt.Errorf("database port must be between 1 and 65535, got %d", c.Port)
	case c.Database == "":
		return fmt.Errorf("database name is required")
	case c.Username == "":
		return fmt.Errorf("database username is required")
	case c.MaxOpenConns < 1:
		return fmt.Errorf("max_open_conns must be at least 1")
	case c.MaxIdleConns > c.MaxOpenConns:
		return fmt.Errorf("max_idle_conns cannot be greater than max_open_conns")
	case !IsIdentifier(c.TableName()):
		return fmt.Errorf("table %q is not a valid SQL identifier", c.Table)
	}

	if c.SSL.Enabled && !c.SSL.SkipVerify {
		if err := c.SSL.checkFiles(); err != nil {
			return fmt.Errorf("TLS configuration error: %w", err)
		}
	}
	return nil
}

// checkFiles verifies that the configured certificate files exist
func (s *SSLConfig) checkFiles() error {
	if s.CAFile != "" {
		if _, err := os.Stat(s.CAFile); err != nil {
			return fmt.Errorf("CA file not accessible: %w", err)
		}
	}
	if s.CertFile == "" && s.KeyFile == "" {
		return nil
	}
	if s.CertFile == "" || s.KeyFile == "" {
		return fmt.Errorf("cert_file and key_file must be provided together")
	}
	for _, f := range []string{s.CertFile, s.KeyFile} {
		if _, err := os.Stat(f); err != nil {
			return fmt.Errorf("client certificate not accessible: %w", err)
		}
	}
	return nil
}

// tlsConfig loads the CA pool and client certificate
func (s *SSLConfig) tlsConfig() (*tls.Config, error) {
	cfg := &tls.Config{ServerName: s.ServerName}

	if s.CAFile != "" {
		pem, err := os.ReadFile(s.CAFile)
		if err != nil {
			return nil, fmt.Errorf("read CA file: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("CA file %s holds no PEM certificate", s.CAFile)
		}
		cfg.RootCAs = pool
	}

	if s.CertFile != "" && s.KeyFile != "" {
		cert, err := tls.LoadX509KeyPair(s.CertFile, s.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("load client certificate: %w", err)
		}
		cfg.Certificates = []tls.Certificate{cert}
	}
	return cfg, nil
}

// registryName derives the name a TLS config is registered under with the
// MySQL driver; equal SSL settings share one registration.
func (s *SSLConfig) registryName() string {
	h := sha256.New()
	for _, part := range []string{s.CAFile, s.CertFile, s.KeyFile, s.ServerName} {
		h.Write([]byte(part))
		h.Write([]byte{0})
	}
	return "em4go_tls_" + hex.EncodeToString(h.Sum(nil))[:16]
}

// DSN builds the MySQL data source name with the driver's config builder.
// With SSL enabled and verification on, the TLS config is registered with
// the driver first.
func (c *Config) DSN() (string, error) {
	cfg := mysql.NewConfig()
	cfg.User = c.Username
	cfg.Passwd = c.Password
	cfg.Net = "tcp"
	cfg.Addr = c.Host + ":" + strconv.Itoa(c.Port)
	cfg.DBName = c.Database
	cfg.Collation = c.Collation
	cfg.Loc = parseLocation(c.TimeZone)
	cfg.ParseTime = true
	if c.Charset != "" {
		cfg.Params = map[string]string{"charset": c.Charset}
	}

	switch {
	case !c.SSL.Enabled:
	case c.SSL.SkipVerify:
		cfg.TLSConfig = "skip-verify"
	default:
		tlsCfg, err := c.SSL.tlsConfig()
		if err != nil {
			return "", err
		}
		name := c.SSL.registryName()
		if err := mysql.RegisterTLSConfig(name, tlsCfg); err != nil {
			return "", fmt.Errorf("register TLS config: %w", err)
		}
		cfg.TLSConfig = name
	}

	return cfg.FormatDSN(), nil
}

// parseLocation parses a timezone name, falling back to UTC
func parseLocation(tz string) *time.Location {
	if tz == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return time.UTC
	}
	return loc
}
