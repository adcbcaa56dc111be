package sqlstore

import (
	"fmt"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib" // register pgx as a database/sql driver
	_ "modernc.org/sqlite"             // pure go sqlite driver

	"github.com/rieonke/em4go/pkg/db"
)

// Dialect captures what differs between the supported SQL databases
type Dialect struct {
	Name         string
	Driver       string // database/sql driver name
	Placeholders db.PlaceholderStyle
	BlobType     string
	TimeType     string
}

var (
	// SQLite uses the pure Go modernc.org/sqlite driver
	SQLite = Dialect{
		Name:         "sqlite",
		Driver:       "sqlite",
		Placeholders: db.Question,
		BlobType:     "BLOB",
		TimeType:     "TIMESTAMP",
	}

	// Postgres uses pgx through its database/sql adapter
	Postgres = Dialect{
		Name:         "postgres",
		Driver:       "pgx",
		Placeholders: db.Dollar,
		BlobType:     "BYTEA",
		TimeType:     "TIMESTAMPTZ",
	}
)

// DialectByName returns the dialect for "sqlite" or "postgres" (alias "postgresql", "pgx")
func DialectByName(name string) (Dialect, error) {
	switch strings.ToLower(name) {
	case "sqlite", "sqlite3":
		return SQLite, nil
	case "postgres", "postgresql", "pgx":
		return Postgres, nil
	default:
		return Dialect{}, fmt.Errorf("unsupported sql dialect %q", name)
	}
}

func (d Dialect) createTable(table string) string {
	return fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		entity_type TEXT NOT NULL,
		entity_key TEXT NOT NULL,
		payload %s NOT NULL,
		digest BIGINT NOT NULL,
		updated_at %s NOT NULL,
		PRIMARY KEY (entity_type, entity_key)
	)`, table, d.BlobType, d.TimeType)
}
