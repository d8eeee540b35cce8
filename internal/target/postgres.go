package target

import (
	"fmt"

	_ "github.com/jackc/pgx/v5/stdlib" // register pgx as a database/sql driver
)

const (
	postgresDriver = "pgx"
	// Default DSN targets a local registry database; overridden via config.
	defaultPostgresDSN = "postgres://localhost/registry?sslmode=disable"
)

var postgresDialect = dialect{
	name: "postgres",
	disableTriggers: func(table string) string {
		return fmt.Sprintf("ALTER TABLE %s DISABLE TRIGGER ALL;", table)
	},
	enableTriggers: func(table string) string {
		return fmt.Sprintf("ALTER TABLE %s ENABLE TRIGGER ALL;", table)
	},
}

// NewPostgres opens the Postgres destination store (falls back to the local
// default DSN).
func NewPostgres(dsn string) (*Store, error) {
	if dsn == "" {
		dsn = defaultPostgresDSN
	}
	return open(postgresDriver, dsn, postgresDialect)
}
