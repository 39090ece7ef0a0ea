package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/heraldbot/announcer/announce"
	"github.com/heraldbot/announcer/crypto"
)

// DefaultPrefix is the command prefix given to a guild on first contact.
const DefaultPrefix = "twitchannouncer"

// Store is the durable state behind the announcer. It serves the sweep
// (announce.StateStore), the credential manager (oauth.CredentialStore) and
// the operator tooling that registers guild configuration.
type Store struct {
	db     *sql.DB
	driver string
	sealer crypto.Sealer
	now    func() time.Time
}

// NewStore wraps an open handle. A nil sealer stores secrets in plaintext.
func NewStore(database *sql.DB, driver string, sealer crypto.Sealer) *Store {
	if sealer == nil {
		sealer = crypto.Plain{}
	}
	if driver == "" {
		driver = DriverPostgres
	}
	return &Store{db: database, driver: driver, sealer: sealer, now: time.Now}
}

// DB exposes the underlying handle for health checks.
func (s *Store) DB() *sql.DB { return s.db }

func (s *Store) q(query string) string {
	if s.driver == DriverPostgres {
		return rebind(query)
	}
	return query
}

func (s *Store) stamp() string { return formatTime(s.now()) }

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(v string) time.Time {
	if v == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, v)
	if err != nil {
		return time.Time{}
	}
	return t
}

// ListAllGuilds returns every known guild id in a stable order.
func (s *Store) ListAllGuilds(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT guild_id FROM guilds ORDER BY guild_id`)
	if err != nil {
		return nil, fmt.Errorf("list guilds: %w", err)
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// EnsureGuild creates the guild row with the default prefix when missing.
func (s *Store) EnsureGuild(ctx context.Context, guildID string) error {
	_, err := s.db.ExecContext(ctx, s.q(`INSERT INTO guilds(guild_id, prefix, created_at) VALUES(?,?,?)
		ON CONFLICT(guild_id) DO NOTHING`), guildID, DefaultPrefix, s.stamp())
	if err != nil {
		return fmt.Errorf("ensure guild %s: %w", guildID, err)
	}
	return nil
}

// LoadPrefix returns the guild's command prefix, creating the guild lazily.
func (s *Store) LoadPrefix(ctx context.Context, guildID string) (string, error) {
	if err := s.EnsureGuild(ctx, guildID); err != nil {
		return "", err
	}
	var prefix string
	err := s.db.QueryRowContext(ctx, s.q(`SELECT prefix FROM guilds WHERE guild_id=?`), guildID).Scan(&prefix)
	if err != nil {
		return "", fmt.Errorf("load prefix %s: %w", guildID, err)
	}
	return prefix, nil
}

// SetPrefix changes the guild's command prefix.
func (s *Store) SetPrefix(ctx context.Context, guildID, prefix string) error {
	if prefix == "" {
		return errors.New("prefix must not be empty")
	}
	if err := s.EnsureGuild(ctx, guildID); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, s.q(`UPDATE guilds SET prefix=? WHERE guild_id=?`), prefix, guildID)
	return err
}

// GetDestination returns the announcement channel for a guild and platform, or "" when unset.
func (s *Store) GetDestination(ctx context.Context, guildID string, p announce.Platform) (string, error) {
	var channelID string
	err := s.db.QueryRowContext(ctx,
		s.q(`SELECT channel_id FROM announcement_channels WHERE guild_id=? AND platform=?`),
		guildID, string(p)).Scan(&channelID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("get destination %s/%s: %w", guildID, p, err)
	}
	return channelID, nil
}

// SetDestination points a platform's announcements at channelID.
func (s *Store) SetDestination(ctx context.Context, guildID string, p announce.Platform, channelID string) error {
	if channelID == "" {
		return errors.New("channel id must not be empty")
	}
	if err := s.EnsureGuild(ctx, guildID); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, s.q(`INSERT INTO announcement_channels(guild_id, platform, channel_id, updated_at)
		VALUES(?,?,?,?)
		ON CONFLICT(guild_id, platform) DO UPDATE SET channel_id=EXCLUDED.channel_id, updated_at=EXCLUDED.updated_at`),
		guildID, string(p), channelID, s.stamp())
	if err != nil {
		return fmt.Errorf("set destination %s/%s: %w", guildID, p, err)
	}
	return nil
}

// ClearDestination disables announcements for a platform in a guild.
func (s *Store) ClearDestination(ctx context.Context, guildID string, p announce.Platform) error {
	_, err := s.db.ExecContext(ctx, s.q(`DELETE FROM announcement_channels WHERE guild_id=? AND platform=?`), guildID, string(p))
	return err
}

// AddWatchedAccount registers an account. It reports false when the account was already watched.
func (s *Store) AddWatchedAccount(ctx context.Context, guildID string, a announce.WatchedAccount) (bool, error) {
	account := announce.NormalizeAccount(a.Platform, a.Account)
	if account == "" {
		return false, errors.New("account must not be empty")
	}
	if err := s.EnsureGuild(ctx, guildID); err != nil {
		return false, err
	}
	registered := a.RegisteredAt
	if registered.IsZero() {
		registered = s.now()
	}
	res, err := s.db.ExecContext(ctx, s.q(`INSERT INTO watched_accounts(guild_id, platform, account, display_name, profile_image_url, account_created_at, registered_at)
		VALUES(?,?,?,?,?,?,?)
		ON CONFLICT(guild_id, platform, account) DO NOTHING`),
		guildID, string(a.Platform), account, a.DisplayName, a.ProfileImageURL, formatTime(a.CreatedAt), formatTime(registered))
	if err != nil {
		return false, fmt.Errorf("add watched account %s/%s: %w", a.Platform, account, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// RemoveWatchedAccount unregisters an account. Announced history is left untouched.
func (s *Store) RemoveWatchedAccount(ctx context.Context, guildID string, p announce.Platform, account string) (bool, error) {
	res, err := s.db.ExecContext(ctx, s.q(`DELETE FROM watched_accounts WHERE guild_id=? AND platform=? AND account=?`),
		guildID, string(p), announce.NormalizeAccount(p, account))
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// GetWatchedAccounts returns a guild's accounts for one platform in registration order.
func (s *Store) GetWatchedAccounts(ctx context.Context, guildID string, p announce.Platform) ([]announce.WatchedAccount, error) {
	rows, err := s.db.QueryContext(ctx, s.q(`SELECT account, display_name, profile_image_url, account_created_at, registered_at
		FROM watched_accounts WHERE guild_id=? AND platform=? ORDER BY registered_at, account`), guildID, string(p))
	if err != nil {
		return nil, fmt.Errorf("get watched accounts %s/%s: %w", guildID, p, err)
	}
	defer rows.Close()
	var out []announce.WatchedAccount
	for rows.Next() {
		var a announce.WatchedAccount
		var created, registered string
		if err := rows.Scan(&a.Account, &a.DisplayName, &a.ProfileImageURL, &created, &registered); err != nil {
			return nil, err
		}
		a.Platform = p
		a.CreatedAt = parseTime(created)
		a.RegisteredAt = parseTime(registered)
		out = append(out, a)
	}
	return out, rows.Err()
}

// ListWatchedAccounts returns a guild's accounts across every platform.
func (s *Store) ListWatchedAccounts(ctx context.Context, guildID string) ([]announce.WatchedAccount, error) {
	var out []announce.WatchedAccount
	for _, p := range announce.Platforms {
		accounts, err := s.GetWatchedAccounts(ctx, guildID, p)
		if err != nil {
			return nil, err
		}
		out = append(out, accounts...)
	}
	return out, nil
}

// GetAnnouncedIDs returns the guild's announced item set. Unknown guilds yield an empty set.
func (s *Store) GetAnnouncedIDs(ctx context.Context, guildID string) (map[string]struct{}, error) {
	rows, err := s.db.QueryContext(ctx, s.q(`SELECT item_id FROM announced_items WHERE guild_id=?`), guildID)
	if err != nil {
		return nil, fmt.Errorf("get announced ids %s: %w", guildID, err)
	}
	defer rows.Close()
	out := make(map[string]struct{})
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out[id] = struct{}{}
	}
	return out, rows.Err()
}

// SaveAnnouncedIDs adds ids to the guild's announced set in one transaction.
// Ids already present are kept, so concurrent writers only ever grow the set.
func (s *Store) SaveAnnouncedIDs(ctx context.Context, guildID string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin save announced ids: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, s.q(`INSERT INTO announced_items(guild_id, item_id, announced_at) VALUES(?,?,?)
		ON CONFLICT(guild_id, item_id) DO NOTHING`))
	if err != nil {
		return fmt.Errorf("prepare save announced ids: %w", err)
	}
	defer stmt.Close()

	now := s.stamp()
	for _, id := range ids {
		if _, err := stmt.ExecContext(ctx, guildID, id, now); err != nil {
			return fmt.Errorf("save announced id %s/%s: %w", guildID, id, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit announced ids %s: %w", guildID, err)
	}
	return nil
}
