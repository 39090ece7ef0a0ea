// Package db provides database connection helpers, schema migration, and the Store
// that backs guild configuration, watched accounts, announced items and credentials.
package db

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib" // pgx postgres driver registered as 'pgx'
	_ "modernc.org/sqlite"             // pure-go sqlite driver registered as 'sqlite'
)

const (
	DriverPostgres = "pgx"
	DriverSQLite   = "sqlite"
)

// Connect opens a database handle for driver ("pgx" or "sqlite").
func Connect(driver, dsn string) (*sql.DB, error) {
	switch driver {
	case "", DriverPostgres:
		driver = DriverPostgres
	case DriverSQLite:
	default:
		return nil, fmt.Errorf("unsupported db driver %q", driver)
	}
	database, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", driver, err)
	}
	if driver == DriverSQLite {
		// sqlite serialises writers; a single connection also keeps ":memory:" databases shared.
		database.SetMaxOpenConns(1)
	}
	return database, nil
}

// Migrate applies idempotent schema changes for all required tables and indices.
// Statements are portable across postgres and sqlite.
func Migrate(ctx context.Context, db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS guilds (
			guild_id TEXT PRIMARY KEY,
			prefix TEXT NOT NULL DEFAULT 'twitchannouncer',
			created_at TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS announcement_channels (
			guild_id TEXT NOT NULL,
			platform TEXT NOT NULL,
			channel_id TEXT NOT NULL,
			updated_at TEXT NOT NULL,
			PRIMARY KEY (guild_id, platform)
		)`,
		`CREATE TABLE IF NOT EXISTS watched_accounts (
			guild_id TEXT NOT NULL,
			platform TEXT NOT NULL,
			account TEXT NOT NULL,
			display_name TEXT NOT NULL DEFAULT '',
			profile_image_url TEXT NOT NULL DEFAULT '',
			account_created_at TEXT NOT NULL DEFAULT '',
			registered_at TEXT NOT NULL,
			PRIMARY KEY (guild_id, platform, account)
		)`,
		`CREATE TABLE IF NOT EXISTS announced_items (
			guild_id TEXT NOT NULL,
			item_id TEXT NOT NULL,
			announced_at TEXT NOT NULL,
			PRIMARY KEY (guild_id, item_id)
		)`,
		`CREATE TABLE IF NOT EXISTS credentials (
			platform TEXT PRIMARY KEY,
			client_id TEXT NOT NULL,
			client_secret TEXT NOT NULL,
			access_token TEXT NOT NULL,
			refresh_token TEXT NOT NULL,
			encryption_version INTEGER NOT NULL DEFAULT 0,
			updated_at TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_watched_accounts_platform ON watched_accounts(guild_id, platform)`,
		`CREATE INDEX IF NOT EXISTS idx_announcement_channels_platform ON announcement_channels(platform)`,
	}
	for i, s := range stmts {
		if _, err := db.ExecContext(ctx, s); err != nil {
			return fmt.Errorf("migrate step %d failed: %w", i, err)
		}
	}
	return nil
}

// rebind rewrites '?' placeholders to postgres-style '$n'. Queries in this
// package never carry a literal '?' inside quotes.
func rebind(query string) string {
	if !strings.Contains(query, "?") {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}
