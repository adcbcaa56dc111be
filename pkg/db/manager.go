package db

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Manager owns the GORM handle of one MySQL database
type Manager struct {
	config *Config
	db     *gorm.DB
}

// NewManager validates config and opens the MySQL pool. GORM's statement
// log goes to log (slog.Default() if nil) at the level configured in
// config.Logging.
func NewManager(config *Config, log *slog.Logger) (*Manager, error) {
	if config == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	dsn, err := config.DSN()
	if err != nil {
		return nil, fmt.Errorf("build dsn: %w", err)
	}
	if log == nil {
		log = slog.Default()
	}
	return newManager(config, mysql.Open(dsn), gormConfig(config, log))
}

func newManager(config *Config, dialector gorm.Dialector, gormCfg *gorm.Config) (*Manager, error) {
	gdb, err := gorm.Open(dialector, gormCfg)
	if err != nil {
		return nil, fmt.Errorf("connect to mysql: %w", err)
	}

	pool, err := gdb.DB()
	if err != nil {
		return nil, fmt.Errorf("unwrap sql.DB: %w", err)
	}
	pool.SetMaxOpenConns(config.MaxOpenConns)
	pool.SetMaxIdleConns(config.MaxIdleConns)
	pool.SetConnMaxLifetime(config.ConnMaxLifetime)
	pool.SetConnMaxIdleTime(config.ConnMaxIdleTime)

	return &Manager{config: config, db: gdb}, nil
}

func gormConfig(config *Config, log *slog.Logger) *gorm.Config {
	return &gorm.Config{
		// every write is a single statement
		SkipDefaultTransaction: true,
		PrepareStmt:            config.PrepareStmt,
		Logger: logger.New(slogWriter{log.With("component", "gorm")}, logger.Config{
			SlowThreshold:             config.Logging.SlowQueryThreshold,
			LogLevel:                  getLogLevel(config.Logging.Level),
			IgnoreRecordNotFoundError: true,
		}),
	}
}

// slogWriter feeds GORM's printf-style logger into slog
type slogWriter struct {
	log *slog.Logger
}

func (w slogWriter) Printf(format string, args ...interface{}) {
	w.log.Info(strings.TrimSpace(fmt.Sprintf(format, args...)))
}

// DB returns the GORM handle
func (m *Manager) DB() *gorm.DB {
	return m.db
}

// Config returns the manager's configuration
func (m *Manager) Config() *Config {
	return m.config
}

// Ping checks the connection
func (m *Manager) Ping(ctx context.Context) error {
	pool, err := m.db.DB()
	if err != nil {
		return err
	}
	return pool.PingContext(ctx)
}

// Collector exports the pool statistics as go_sql_* metrics labelled with
// the database name.
func (m *Manager) Collector() (prometheus.Collector, error) {
	pool, err := m.db.DB()
	if err != nil {
		return nil, err
	}
	return collectors.NewDBStatsCollector(pool, m.config.Database), nil
}

// Close closes the pool
func (m *Manager) Close() error {
	if m.db == nil {
		return nil
	}
	pool, err := m.db.DB()
	if err != nil {
		return err
	}
	return pool.Close()
}

// withTimeout bounds ctx by the configured query timeout, if any
func (m *Manager) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if m.config.QueryTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, m.config.QueryTimeout)
}

func getLogLevel(level string) logger.LogLevel {
	switch strings.ToLower(level) {
	case "silent":
		return logger.Silent
	case "warn":
		return logger.Warn
	case "info":
		return logger.Info
	default:
		return logger.Error
	}
}
