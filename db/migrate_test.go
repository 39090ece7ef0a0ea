package db

import (
	"context"
	"database/sql"
	"os"
	"testing"
)

var schemaTables = []string{"guilds", "announcement_channels", "watched_accounts", "announced_items", "credentials"}

func TestMigrateIdempotentSQLite(t *testing.T) {
	database, err := Connect(DriverSQLite, ":memory:")
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer database.Close()

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		if err := Migrate(ctx, database); err != nil {
			t.Fatalf("migrate run %d: %v", i+1, err)
		}
	}
	for _, table := range schemaTables {
		var name string
		err := database.QueryRowContext(ctx, `SELECT name FROM sqlite_master WHERE type='table' AND name=?`, table).Scan(&name)
		if err != nil {
			t.Errorf("table %s missing after migrate: %v", table, err)
		}
	}
}

func TestConnectRejectsUnknownDriver(t *testing.T) {
	if _, err := Connect("mysql", "dsn"); err == nil {
		t.Fatal("expected error for unsupported driver")
	}
}

// TestRunMigrations applies the versioned migrations to an empty postgres database.
func TestRunMigrations(t *testing.T) {
	dsn := os.Getenv("TEST_PG_DSN")
	if dsn == "" {
		t.Skip("TEST_PG_DSN not set; skipping migration test")
	}
	database, err := Connect(DriverPostgres, dsn)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer database.Close()

	ctx := context.Background()
	cleanDatabase(t, ctx, database)

	if err := RunMigrations(database); err != nil {
		t.Fatalf("RunMigrations() error = %v", err)
	}
	if err := RunMigrations(database); err != nil {
		t.Fatalf("second RunMigrations() error = %v", err)
	}
	for _, table := range schemaTables {
		var exists bool
		err := database.QueryRow(`SELECT EXISTS (
			SELECT FROM information_schema.tables WHERE table_name = $1
		)`, table).Scan(&exists)
		if err != nil {
			t.Fatalf("failed to check table %s: %v", table, err)
		}
		if !exists {
			t.Errorf("table %s does not exist after migration", table)
		}
	}

	version, dirty, err := GetMigrationVersion(database)
	if err != nil {
		t.Fatalf("GetMigrationVersion() error = %v", err)
	}
	if dirty || version < 1 {
		t.Errorf("version = %d dirty = %v, want >= 1 clean", version, dirty)
	}

	// The idempotent statements must accept a schema built by the versioned files.
	if err := Migrate(ctx, database); err != nil {
		t.Fatalf("Migrate() after RunMigrations: %v", err)
	}

	if err := MigrateDown(database); err != nil {
		t.Fatalf("MigrateDown() error = %v", err)
	}
}

// cleanDatabase drops all tables and the schema_migrations table to start fresh.
func cleanDatabase(t *testing.T, ctx context.Context, database *sql.DB) {
	t.Helper()
	for _, table := range append([]string{"schema_migrations"}, schemaTables...) {
		if _, err := database.ExecContext(ctx, `DROP TABLE IF EXISTS `+table+` CASCADE`); err != nil {
			t.Fatalf("drop %s: %v", table, err)
		}
	}
}
