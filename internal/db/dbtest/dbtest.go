// Package dbtest opens throwaway databases for store tests.
package dbtest

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"testing"

	"testlms/internal/db"

	"github.com/google/uuid"
)

// SQLite returns a migrated in-memory database that lives until the test ends.
func SQLite(t testing.TB) *sql.DB {
	t.Helper()

	ctx := context.Background()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	conn, err := db.Open(ctx, db.Config{Driver: db.DriverSQLite, DSN: dsn})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })

	if err := db.Migrate(ctx, conn, db.DriverSQLite); err != nil {
		t.Fatalf("migrate sqlite: %v", err)
	}
	return conn
}

// Postgres returns a migrated connection to TESTLMS_TEST_DSN, skipping the test
// unless TESTLMS_INTEGRATION=1.
func Postgres(t testing.TB) *sql.DB {
	t.Helper()

	if os.Getenv("TESTLMS_INTEGRATION") != "1" {
		t.Skip("set TESTLMS_INTEGRATION=1 to run integration tests")
	}
	dsn := os.Getenv("TESTLMS_TEST_DSN")
	if dsn == "" {
		t.Skip("TESTLMS_TEST_DSN is empty")
	}

	ctx := context.Background()
	conn, err := db.OpenPostgres(ctx, dsn)
	if err != nil {
		t.Fatalf("open postgres: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })

	if err := db.Migrate(ctx, conn, db.DriverPostgres); err != nil {
		t.Fatalf("migrate postgres: %v", err)
	}
	return conn
}

// Seed inserts a topic, a group with one teacher and the given members, and
// returns their ids.
func Seed(t testing.TB, conn *sql.DB, members ...int64) (topicID, groupID int64) {
	t.Helper()

	ctx := context.Background()
	if err := conn.QueryRowContext(ctx, `INSERT INTO topics (name) VALUES ($1) RETURNING id`, "Biology").Scan(&topicID); err != nil {
		t.Fatalf("seed topic: %v", err)
	}
	if err := conn.QueryRowContext(ctx, `INSERT INTO groups (name, teacher_id) VALUES ($1, $2) RETURNING id`, "10A", 1).Scan(&groupID); err != nil {
		t.Fatalf("seed group: %v", err)
	}
	for _, userID := range members {
		if _, err := conn.ExecContext(ctx, `INSERT INTO group_members (group_id, user_id) VALUES ($1, $2)`, groupID, userID); err != nil {
			t.Fatalf("seed member: %v", err)
		}
	}
	return topicID, groupID
}
