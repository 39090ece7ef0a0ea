package testutil

import (
	"context"
	"database/sql"
	"os"
	"testing"

	"github.com/heraldbot/announcer/crypto"
	"github.com/heraldbot/announcer/db"
)

// SetupTestDB opens an in-memory sqlite database with the schema applied.
func SetupTestDB(t *testing.T) *sql.DB {
	t.Helper()
	database, err := db.Connect(db.DriverSQLite, ":memory:")
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	if err := db.Migrate(context.Background(), database); err != nil {
		database.Close()
		t.Fatalf("failed to run migrations: %v", err)
	}
	t.Cleanup(func() {
		database.Close()
	})
	return database
}

// SetupTestStore returns a Store over SetupTestDB. A nil sealer stores plaintext.
func SetupTestStore(t *testing.T, sealer crypto.Sealer) *db.Store {
	t.Helper()
	return db.NewStore(SetupTestDB(t), db.DriverSQLite, sealer)
}

// SetupPostgresDB connects to TEST_PG_DSN and applies the schema.
// It skips the test if TEST_PG_DSN environment variable is not set.
func SetupPostgresDB(t *testing.T) *sql.DB {
	t.Helper()
	dsn := os.Getenv("TEST_PG_DSN")
	if dsn == "" {
		t.Skip("TEST_PG_DSN not set")
	}
	database, err := db.Connect(db.DriverPostgres, dsn)
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	if err := db.Migrate(context.Background(), database); err != nil {
		database.Close()
		t.Fatalf("failed to run migrations: %v", err)
	}
	t.Cleanup(func() {
		database.Close()
	})
	return database
}
