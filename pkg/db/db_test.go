package db

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/rieonke/em4go/pkg/metamodel"
	"github.com/rieonke/em4go/pkg/storage"
)

type invoice struct {
	Number string
	Total  int64
}

var invoiceType = metamodel.NewEntityType[invoice]("invoice",
	metamodel.ID("number", func(i *invoice) string { return i.Number }, func(i *invoice, v string) { i.Number = v }),
)

func testConfig() *Config {
	cfg := DefaultConfig()
	cfg.Host = "db.internal"
	cfg.Database = "app"
	cfg.Username = "em"
	cfg.Password = "secret"
	return cfg
}

// dryRunManager opens GORM without touching a server; statements are built, not executed
func dryRunManager(t *testing.T) *Manager {
	t.Helper()
	cfg := testConfig()
	dsn, err := cfg.DSN()
	require.NoError(t, err)
	dialector := mysql.New(mysql.Config{DSN: dsn, SkipInitializeWithVersion: true})
	m, err := newManager(cfg, dialector, &gorm.Config{
		DryRun:               true,
		DisableAutomaticPing: true,
		Logger:               logger.Discard,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Close() })
	return m
}

func TestConfigValidate(t *testing.T) {
	require.NoError(t, testConfig().Validate())

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"missing host", func(c *Config) { c.Host = "" }},
		{"port out of range", func(c *Config) { c.Port = 70000 }},
		{"missing database", func(c *Config) { c.Database = "" }},
		{"missing user", func(c *Config) { c.Username = "" }},
		{"no connections", func(c *Config) { c.MaxOpenConns = 0 }},
		{"idle above open", func(c *Config) { c.MaxIdleConns = 100 }},
		{"table injection", func(c *Config) { c.Table = "entities; DROP TABLE users" }},
		{"missing tls files", func(c *Config) {
			c.SSL = SSLConfig{Enabled: true, CAFile: "/nonexistent/ca.pem"}
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := testConfig()
			tt.mutate(c)
			assert.Error(t, c.Validate())
		})
	}
}

func TestConfigDSN(t *testing.T) {
	dsn, err := testConfig().DSN()
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(dsn, "em:secret@tcp(db.internal:3306)/app?"), dsn)
	assert.Contains(t, dsn, "parseTime=true")
	assert.Contains(t, dsn, "charset=utf8mb4")

	c := testConfig()
	c.SSL = SSLConfig{Enabled: true, SkipVerify: true}
	dsn, err = c.DSN()
	require.NoError(t, err)
	assert.Contains(t, dsn, "tls=skip-verify")

	// verified TLS needs a readable CA bundle
	c.SSL = SSLConfig{Enabled: true, CAFile: "/nonexistent/ca.pem"}
	_, err = c.DSN()
	assert.Error(t, err)

	ca := filepath.Join(t.TempDir(), "ca.pem")
	require.NoError(t, os.WriteFile(ca, []byte("not a certificate"), 0o600))
	c.SSL.CAFile = ca
	_, err = c.DSN()
	assert.ErrorContains(t, err, "no PEM certificate")
}

func TestTLSRegistryName(t *testing.T) {
	a := SSLConfig{CAFile: "/etc/ca.pem", ServerName: "db"}
	b := a
	assert.Equal(t, a.registryName(), b.registryName())
	b.ServerName = "db2"
	assert.NotEqual(t, a.registryName(), b.registryName())
	assert.True(t, strings.HasPrefix(a.registryName(), "em4go_tls_"))
}

func TestTableName(t *testing.T) {
	c := &Config{}
	assert.Equal(t, DefaultEntityTable, c.TableName())
	c.Table = "entities"
	assert.Equal(t, "entities", c.TableName())
}

func TestNewManagerRejectsInvalidConfig(t *testing.T) {
	_, err := NewManager(nil, nil)
	assert.Error(t, err)

	_, err = NewManager(&Config{}, nil)
	assert.Error(t, err)
}

func TestGetLogLevel(t *testing.T) {
	assert.Equal(t, logger.Info, getLogLevel("INFO"))
	assert.Equal(t, logger.Warn, getLogLevel("warn"))
	assert.Equal(t, logger.Silent, getLogLevel("silent"))
	assert.Equal(t, logger.Error, getLogLevel("unknown"))
}

func TestGormLogsThroughSlog(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(slog.NewJSONHandler(&buf, nil))
	cfg := testConfig()
	cfg.Logging.Level = "info"

	gl := gormConfig(cfg, log).Logger
	gl.Info(context.Background(), "migrated %s", "em4go_entities")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "gorm", entry["component"])
	assert.Contains(t, entry["msg"], "migrated em4go_entities")
}

func TestManagerCollector(t *testing.T) {
	c, err := dryRunManager(t).Collector()
	require.NoError(t, err)
	reg := prometheus.NewRegistry()
	require.NoError(t, reg.Register(c))
	n, err := testutil.GatherAndCount(reg, "go_sql_max_open_connections")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestBackendStatements(t *testing.T) {
	m := dryRunManager(t)
	b := NewBackend(m, nil)
	key, err := metamodel.NewKey(invoiceType, "INV-1")
	require.NoError(t, err)
	dry := m.DB().Session(&gorm.Session{DryRun: true})

	t.Run("lookup", func(t *testing.T) {
		stmt := b.lookup(dry, key).Take(&StoredEntity{}).Statement
		sql := stmt.SQL.String()
		assert.Contains(t, sql, "FROM `em4go_entities`")
		assert.Contains(t, sql, "entity_type = ? AND entity_key = ?")
		require.GreaterOrEqual(t, len(stmt.Vars), 2)
		assert.Equal(t, []interface{}{"invoice", "em4go:invoice:INV-1"}, stmt.Vars[:2])
	})

	t.Run("upsert", func(t *testing.T) {
		row := &StoredEntity{EntityType: "invoice", EntityKey: key.String(), Payload: []byte{1}, Digest: 7}
		sql := b.upsert(dry, row).Statement.SQL.String()
		assert.Contains(t, sql, "INSERT INTO `em4go_entities`")
		assert.Contains(t, sql, "ON DUPLICATE KEY UPDATE")
	})

	t.Run("delete", func(t *testing.T) {
		sql := b.lookup(dry, key).Delete(&StoredEntity{}).Statement.SQL.String()
		assert.Contains(t, sql, "DELETE FROM `em4go_entities`")
		assert.Contains(t, sql, "entity_key = ?")
	})
}

func TestBackendRequiresInitialize(t *testing.T) {
	b := NewBackend(dryRunManager(t), nil)
	key, err := metamodel.NewKey(invoiceType, "INV-2")
	require.NoError(t, err)

	_, err = b.Get(context.Background(), key)
	assert.ErrorIs(t, err, storage.ErrNotInitialized)
	assert.ErrorIs(t, b.Put(context.Background(), key, &invoice{Number: "INV-2"}), storage.ErrNotInitialized)
}
