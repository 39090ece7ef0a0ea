package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/heraldbot/announcer/crypto"
	"github.com/heraldbot/announcer/oauth"
)

// ErrNoCredentialRow is returned by SaveTokens when the platform has never been seeded.
var ErrNoCredentialRow = errors.New("no credential row to update")

func (s *Store) encryptionVersion() int {
	if _, ok := s.sealer.(*crypto.AESSealer); ok {
		return 1
	}
	return 0
}

func (s *Store) sealAll(values ...*string) error {
	for _, v := range values {
		sealed, err := s.sealer.Seal(*v)
		if err != nil {
			return err
		}
		*v = sealed
	}
	return nil
}

// LoadCredentials returns the platform's credential record, or nil when absent.
// Sealed columns are opened transparently; plaintext rows still load.
func (s *Store) LoadCredentials(ctx context.Context, platform string) (*oauth.Credentials, error) {
	var c oauth.Credentials
	var updated string
	err := s.db.QueryRowContext(ctx, s.q(`SELECT client_id, client_secret, access_token, refresh_token, updated_at
		FROM credentials WHERE platform=?`), platform).
		Scan(&c.ClientID, &c.ClientSecret, &c.AccessToken, &c.RefreshToken, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load credentials %s: %w", platform, err)
	}
	for _, v := range []*string{&c.ClientSecret, &c.AccessToken, &c.RefreshToken} {
		plain, err := s.sealer.Open(*v)
		if err != nil {
			return nil, fmt.Errorf("open %s credentials: %w", platform, err)
		}
		*v = plain
	}
	c.Platform = platform
	c.UpdatedAt = parseTime(updated)
	return &c, nil
}

// SaveTokens replaces both tokens of an existing record in one statement.
func (s *Store) SaveTokens(ctx context.Context, platform, accessToken, refreshToken string) error {
	if err := s.sealAll(&accessToken, &refreshToken); err != nil {
		return fmt.Errorf("seal tokens: %w", err)
	}
	res, err := s.db.ExecContext(ctx, s.q(`UPDATE credentials SET access_token=?, refresh_token=?, encryption_version=?, updated_at=?
		WHERE platform=?`), accessToken, refreshToken, s.encryptionVersion(), s.stamp(), platform)
	if err != nil {
		return fmt.Errorf("save tokens %s: %w", platform, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("save tokens %s: %w", platform, ErrNoCredentialRow)
	}
	return nil
}

// SaveCredentials writes the full record, replacing any existing one.
func (s *Store) SaveCredentials(ctx context.Context, c oauth.Credentials) error {
	return s.writeCredentials(ctx, c, true)
}

// SeedCredentials writes the record only when the platform has none yet.
// It reports whether a row was written.
func (s *Store) SeedCredentials(ctx context.Context, c oauth.Credentials) (bool, error) {
	existing, err := s.LoadCredentials(ctx, c.Platform)
	if err != nil {
		return false, err
	}
	if existing != nil {
		return false, nil
	}
	if err := s.writeCredentials(ctx, c, false); err != nil {
		return false, err
	}
	slog.Info("seeded credentials", slog.String("platform", c.Platform), slog.String("component", "db_credentials"))
	return true, nil
}

func (s *Store) writeCredentials(ctx context.Context, c oauth.Credentials, overwrite bool) error {
	if c.Platform == "" || c.ClientID == "" {
		return errors.New("credentials require platform and client id")
	}
	if err := s.sealAll(&c.ClientSecret, &c.AccessToken, &c.RefreshToken); err != nil {
		return fmt.Errorf("seal credentials: %w", err)
	}
	conflict := `ON CONFLICT(platform) DO NOTHING`
	if overwrite {
		conflict = `ON CONFLICT(platform) DO UPDATE SET
			client_id=EXCLUDED.client_id,
			client_secret=EXCLUDED.client_secret,
			access_token=EXCLUDED.access_token,
			refresh_token=EXCLUDED.refresh_token,
			encryption_version=EXCLUDED.encryption_version,
			updated_at=EXCLUDED.updated_at`
	}
	_, err := s.db.ExecContext(ctx, s.q(`INSERT INTO credentials(platform, client_id, client_secret, access_token, refresh_token, encryption_version, updated_at)
		VALUES(?,?,?,?,?,?,?) `+conflict),
		c.Platform, c.ClientID, c.ClientSecret, c.AccessToken, c.RefreshToken, s.encryptionVersion(), s.stamp())
	if err != nil {
		return fmt.Errorf("write credentials %s: %w", c.Platform, err)
	}
	return nil
}

// ResealCredentials rewrites every plaintext credential row with the store's
// sealer and returns the affected platforms. With dryRun it only reports them.
func (s *Store) ResealCredentials(ctx context.Context, dryRun bool) ([]string, error) {
	if _, ok := s.sealer.(*crypto.AESSealer); !ok {
		return nil, crypto.ErrNoKey
	}
	rows, err := s.db.QueryContext(ctx, `SELECT platform FROM credentials WHERE encryption_version = 0 ORDER BY platform`)
	if err != nil {
		return nil, fmt.Errorf("list plaintext credentials: %w", err)
	}
	var platforms []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			rows.Close()
			return nil, err
		}
		platforms = append(platforms, p)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if dryRun {
		return platforms, nil
	}
	for _, p := range platforms {
		c, err := s.LoadCredentials(ctx, p)
		if err != nil {
			return nil, err
		}
		if c == nil {
			continue
		}
		if err := s.writeCredentials(ctx, *c, true); err != nil {
			return nil, err
		}
		slog.Info("sealed credentials", slog.String("platform", p), slog.String("component", "db_credentials"))
	}
	return platforms, nil
}
