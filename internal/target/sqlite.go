package target

import (
	_ "modernc.org/sqlite" // pure go sqlite driver
)

const (
	sqliteDriver      = "sqlite"
	defaultSQLitePath = "registry-rehearsal.db"
)

// SQLite has no per-table trigger switch; deferring foreign-key enforcement
// to commit time serves the same purpose for self-referential inserts. The
// pragma resets itself when the transaction ends, so enable is a no-op read.
var sqliteDialect = dialect{
	name: "sqlite",
	disableTriggers: func(string) string {
		return "PRAGMA defer_foreign_keys = ON;"
	},
	enableTriggers: func(string) string {
		return "PRAGMA defer_foreign_keys;"
	},
}

// NewSQLite opens a file-backed rehearsal destination store, used to validate
// a run locally before pointing at Postgres.
func NewSQLite(path string) (*Store, error) {
	if path == "" {
		path = defaultSQLitePath
	}
	return open(sqliteDriver, path, sqliteDialect)
}
