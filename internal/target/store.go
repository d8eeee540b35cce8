// Package target implements the destination relational store clients on top
// of database/sql: Postgres for real runs and SQLite for local rehearsals.
// All mutating statements run inside one transaction per commit window; the
// orchestrator decides whether a window is ever committed.
package target

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"

	"registrymigrate/internal/migrate"
)

// Compile-time contract assertion against the orchestrator's interface.
var _ migrate.TargetStore = (*Store)(nil)

var (
	sqlOpen = sql.Open
	openMu  sync.Mutex
)

// dialect captures the per-backend statement differences.
type dialect struct {
	name            string
	disableTriggers func(table string) string
	enableTriggers  func(table string) string
}

// Store is a transactional destination store shared by both dialects.
type Store struct {
	dialect dialect
	db      *sql.DB
	tx      *sql.Tx
}

func open(driver, dsn string, d dialect) (*Store, error) {
	openMu.Lock()
	db, err := sqlOpen(driver, dsn)
	openMu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", d.name, err)
	}
	if err := db.PingContext(context.Background()); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping %s: %w", d.name, err)
	}
	return &Store{dialect: d, db: db}, nil
}

// Name identifies the backend in error and log output.
func (s *Store) Name() string { return s.dialect.name }

// begin lazily opens the current transaction window.
func (s *Store) begin(ctx context.Context) (*sql.Tx, error) {
	if s.tx != nil {
		return s.tx, nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	s.tx = tx
	return tx, nil
}

// DeleteAll removes every row from table and reports the count. The delete
// stays uncommitted until Commit; discarding the window undoes it.
func (s *Store) DeleteAll(ctx context.Context, table string) (int64, error) {
	tx, err := s.begin(ctx)
	if err != nil {
		return 0, err
	}
	res, err := tx.ExecContext(ctx, fmt.Sprintf("DELETE FROM %s;", table))
	if err != nil {
		return 0, fmt.Errorf("delete from %s: %w", table, err)
	}
	deleted, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("count deleted rows of %s: %w", table, err)
	}
	return deleted, nil
}

// DisableTriggers suspends integrity triggers on table within the current
// transaction so forward self-references can be inserted before their
// targets.
func (s *Store) DisableTriggers(ctx context.Context, table string) error {
	tx, err := s.begin(ctx)
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, s.dialect.disableTriggers(table)); err != nil {
		return fmt.Errorf("disable triggers on %s: %w", table, err)
	}
	return nil
}

// EnableTriggers re-enables what DisableTriggers suspended.
func (s *Store) EnableTriggers(ctx context.Context, table string) error {
	tx, err := s.begin(ctx)
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, s.dialect.enableTriggers(table)); err != nil {
		return fmt.Errorf("enable triggers on %s: %w", table, err)
	}
	return nil
}

// InsertBatch inserts rows into table through one prepared parameterized
// statement aligned with columns.
func (s *Store) InsertBatch(ctx context.Context, table string, columns []string, rows [][]any) error {
	tx, err := s.begin(ctx)
	if err != nil {
		return err
	}
	stmt, err := tx.PrepareContext(ctx, insertQuery(table, columns))
	if err != nil {
		return fmt.Errorf("prepare insert into %s: %w", table, err)
	}
	defer func() { _ = stmt.Close() }()
	for _, row := range rows {
		if _, err := stmt.ExecContext(ctx, row...); err != nil {
			return fmt.Errorf("insert into %s: %w", table, err)
		}
	}
	return nil
}

// Commit closes the current transaction window; the next mutating call opens
// a fresh one.
func (s *Store) Commit(ctx context.Context) error {
	if s.tx == nil {
		return nil
	}
	err := s.tx.Commit()
	s.tx = nil
	if err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// Close rolls back anything uncommitted and releases the connection.
func (s *Store) Close() error {
	if s.tx != nil {
		_ = s.tx.Rollback()
		s.tx = nil
	}
	return s.db.Close()
}

// insertQuery builds a parameterized insert statement. $N placeholders are
// understood by both pgx and SQLite.
func insertQuery(table string, columns []string) string {
	placeholders := make([]string, len(columns))
	for i := range columns {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
	}
	return fmt.Sprintf(
		"INSERT INTO %s (%s) VALUES (%s);",
		table,
		strings.Join(columns, ", "),
		strings.Join(placeholders, ", "),
	)
}

// OverrideSQLOpen swaps the sql.Open function for tests and returns a restore
// function.
func OverrideSQLOpen(fn func(driverName, dataSourceName string) (*sql.DB, error)) func() {
	openMu.Lock()
	defer openMu.Unlock()
	prev := sqlOpen
	sqlOpen = fn
	return func() {
		openMu.Lock()
		defer openMu.Unlock()
		sqlOpen = prev
	}
}
