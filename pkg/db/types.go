package db

import "time"

// Config configures the MySQL entity store. Zero durations disable the
// corresponding limit.
type Config struct {
	Host     string `json:"host" yaml:"host"`
	Port     int    `json:"port" yaml:"port"`
	Database string `json:"database" yaml:"database"`
	Username string `json:"username" yaml:"username"`
	Password string `json:"password" yaml:"password"`
	Table    string `json:"table" yaml:"table"` // migrated on Backend.Initialize

	Charset   string `json:"charset" yaml:"charset"`
	Collation string `json:"collation" yaml:"collation"`
	TimeZone  string `json:"timezone" yaml:"timezone"`

	MaxOpenConns    int           `json:"max_open_conns" yaml:"max_open_conns"`
	MaxIdleConns    int           `json:"max_idle_conns" yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `json:"conn_max_lifetime" yaml:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `json:"conn_max_idle_time" yaml:"conn_max_idle_time"`
	QueryTimeout    time.Duration `json:"query_timeout" yaml:"query_timeout"`
	PrepareStmt     bool          `json:"prepare_stmt" yaml:"prepare_stmt"`

	SSL     SSLConfig     `json:"ssl" yaml:"ssl"`
	Logging LoggingConfig `json:"logging" yaml:"logging"`
}

// SSLConfig selects TLS for the connection. SkipVerify disables
// certificate checks and ignores the file settings.
type SSLConfig struct {
	Enabled    bool   `json:"enabled" yaml:"enabled"`
	SkipVerify bool   `json:"skip_verify" yaml:"skip_verify"`
	CAFile     string `json:"ca_file" yaml:"ca_file"`
	CertFile   string `json:"cert_file" yaml:"cert_file"`
	KeyFile    string `json:"key_file" yaml:"key_file"`
	ServerName string `json:"server_name" yaml:"server_name"`
}

// LoggingConfig sets the level of GORM's statement log
type LoggingConfig struct {
	Level              string        `json:"level" yaml:"level"` // silent, error, warn, info
	SlowQueryThreshold time.Duration `json:"slow_query_threshold" yaml:"slow_query_threshold"`
}
