package testutil

import (
	"os"
	"testing"

	"github.com/sethshoultes/flock-control/internal/db"
)

// userTables hold per-user data, children first. The achievement catalogue
// is not listed and survives a reset.
var userTables = []string{"user_achievements", "counts", "user_settings", "users"}

// SetupMySQLTestDB opens the MySQL database named by MYSQL_TEST_DSN and
// empties the user tables. The test is skipped when the variable is unset.
func SetupMySQLTestDB(t *testing.T) *db.DB {
	t.Helper()
	database := openExternal(t, "MYSQL_TEST_DSN")

	stmts := []string{"SET FOREIGN_KEY_CHECKS=0"}
	for _, table := range userTables {
		stmts = append(stmts, "TRUNCATE TABLE "+table)
	}
	stmts = append(stmts, "SET FOREIGN_KEY_CHECKS=1")
	reset(t, database, stmts)
	return database
}

// SetupPostgresTestDB is SetupMySQLTestDB for POSTGRES_TEST_DSN.
func SetupPostgresTestDB(t *testing.T) *db.DB {
	t.Helper()
	database := openExternal(t, "POSTGRES_TEST_DSN")

	stmt := "TRUNCATE TABLE "
	for i, table := range userTables {
		if i > 0 {
			stmt += ", "
		}
		stmt += table
	}
	reset(t, database, []string{stmt + " RESTART IDENTITY CASCADE"})
	return database
}

func openExternal(t *testing.T, envVar string) *db.DB {
	t.Helper()
	dsn := os.Getenv(envVar)
	if dsn == "" {
		t.Skipf("%s not set; skipping integration tests", envVar)
	}
	database, err := db.New(dsn)
	if err != nil {
		t.Fatalf("failed to open %s: %v", envVar, err)
	}
	t.Cleanup(func() {
		_ = database.Close()
	})
	return database
}

func reset(t *testing.T, database *db.DB, stmts []string) {
	t.Helper()
	for _, stmt := range stmts {
		if _, err := database.Exec(stmt); err != nil {
			t.Fatalf("reset failed on %q: %v", stmt, err)
		}
	}
}
