package target

import (
	"context"
	"database/sql"
	"strings"
	"testing"

	"registrymigrate/internal/target/testutil"
)

func newStubStore(t *testing.T, d dialect) (*Store, *testutil.StubConn) {
	t.Helper()
	db, conn := testutil.NewStubDB()
	return &Store{dialect: d, db: db}, conn
}

func TestInsertQueryPlaceholders(t *testing.T) {
	got := insertQuery("action_key", []string{"uuid", "organization_id", "type"})
	want := "INSERT INTO action_key (uuid, organization_id, type) VALUES ($1, $2, $3);"
	if got != want {
		t.Fatalf("insert query mismatch:\n got %s\nwant %s", got, want)
	}
}

func TestDeleteAllReportsRowCount(t *testing.T) {
	store, conn := newStubStore(t, postgresDialect)
	conn.RowsAffected = 7

	deleted, err := store.DeleteAll(context.Background(), "audit")
	if err != nil {
		t.Fatalf("delete all: %v", err)
	}
	if deleted != 7 {
		t.Fatalf("expected 7 deleted rows, got %d", deleted)
	}
	if queries := conn.Queries(); len(queries) != 1 || queries[0] != "DELETE FROM audit;" {
		t.Fatalf("unexpected statements: %v", queries)
	}
}

func TestCommitClosesTransactionWindow(t *testing.T) {
	store, conn := newStubStore(t, postgresDialect)

	if _, err := store.DeleteAll(context.Background(), "audit"); err != nil {
		t.Fatalf("delete all: %v", err)
	}
	if err := store.Commit(context.Background()); err != nil {
		t.Fatalf("commit: %v", err)
	}
	if conn.Commits != 1 {
		t.Fatalf("expected 1 commit, got %d", conn.Commits)
	}
	// Committing without a new window is a no-op.
	if err := store.Commit(context.Background()); err != nil {
		t.Fatalf("idle commit: %v", err)
	}
	if conn.Commits != 1 {
		t.Fatalf("idle commit must not reach the backend, got %d commits", conn.Commits)
	}
}

func TestCloseRollsBackUncommittedWork(t *testing.T) {
	store, conn := newStubStore(t, postgresDialect)

	if _, err := store.DeleteAll(context.Background(), "package"); err != nil {
		t.Fatalf("delete all: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if conn.Rollbacks != 1 {
		t.Fatalf("expected rollback on close, got %d", conn.Rollbacks)
	}
	if conn.Commits != 0 {
		t.Fatalf("expected no commit, got %d", conn.Commits)
	}
}

func TestInsertBatchExecutesEveryRow(t *testing.T) {
	store, conn := newStubStore(t, postgresDialect)

	rows := [][]any{
		{"u1", "org1"},
		{"u2", "org1"},
	}
	if err := store.InsertBatch(context.Background(), "action_key", []string{"uuid", "organization_id"}, rows); err != nil {
		t.Fatalf("insert batch: %v", err)
	}
	var inserts int
	for _, exec := range conn.Execs {
		if strings.HasPrefix(exec.Query, "INSERT INTO action_key") {
			inserts++
			if len(exec.Args) != 2 {
				t.Fatalf("expected 2 args, got %v", exec.Args)
			}
		}
	}
	if inserts != 2 {
		t.Fatalf("expected 2 insert executions, got %d", inserts)
	}
}

func TestPostgresTriggerStatements(t *testing.T) {
	store, conn := newStubStore(t, postgresDialect)

	if err := store.DisableTriggers(context.Background(), "package"); err != nil {
		t.Fatalf("disable triggers: %v", err)
	}
	if err := store.EnableTriggers(context.Background(), "package"); err != nil {
		t.Fatalf("enable triggers: %v", err)
	}
	queries := conn.Queries()
	if queries[0] != "ALTER TABLE package DISABLE TRIGGER ALL;" {
		t.Fatalf("unexpected disable statement: %s", queries[0])
	}
	if queries[1] != "ALTER TABLE package ENABLE TRIGGER ALL;" {
		t.Fatalf("unexpected enable statement: %s", queries[1])
	}
}

func TestSQLiteTriggerStatementsDeferForeignKeys(t *testing.T) {
	store, conn := newStubStore(t, sqliteDialect)

	if err := store.DisableTriggers(context.Background(), "package"); err != nil {
		t.Fatalf("disable triggers: %v", err)
	}
	if got := conn.Queries()[0]; got != "PRAGMA defer_foreign_keys = ON;" {
		t.Fatalf("unexpected sqlite statement: %s", got)
	}
}

func TestNewPostgresUsesOverriddenOpen(t *testing.T) {
	db, conn := testutil.NewStubDB()
	restore := OverrideSQLOpen(func(driverName, dsn string) (*sql.DB, error) {
		if driverName != postgresDriver {
			t.Fatalf("unexpected driver %s", driverName)
		}
		if dsn != defaultPostgresDSN {
			t.Fatalf("unexpected dsn %s", dsn)
		}
		return db, nil
	})
	defer restore()

	store, err := NewPostgres("")
	if err != nil {
		t.Fatalf("new postgres: %v", err)
	}
	if store.Name() != "postgres" {
		t.Fatalf("unexpected backend name %s", store.Name())
	}
	_ = conn
}
