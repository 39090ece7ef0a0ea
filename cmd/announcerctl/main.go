// Command announcerctl manages announcer state from the shell: per-guild
// announcement channels and watched accounts, the command prefix, stored
// platform credentials, and schema migrations.
//
// It reads the same environment (and CONFIG_FILE) as the daemon.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/heraldbot/announcer/announce"
	"github.com/heraldbot/announcer/config"
	"github.com/heraldbot/announcer/crypto"
	"github.com/heraldbot/announcer/db"
)

// app carries what every subcommand needs once the root has been set up.
type app struct {
	cfg   *config.Config
	store *db.Store
	guild string
}

func main() {
	_ = godotenv.Load()
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn})))
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:           "announcerctl",
		Short:         "Manage announcer guild configuration, credentials and schema",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.open(cmd.Context())
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			return a.close()
		},
	}
	root.PersistentFlags().StringVarP(&a.guild, "guild", "g", "", "Discord guild id")

	root.AddCommand(migrateCmd(a))
	root.AddCommand(channelCmd(a))
	root.AddCommand(watchCmd(a))
	root.AddCommand(prefixCmd(a))
	root.AddCommand(credentialsCmd(a))
	return root
}

func (a *app) open(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	sealer, err := crypto.NewSealer(cfg.EncryptionKey)
	if err != nil {
		return fmt.Errorf("encryption key: %w", err)
	}
	database, err := db.Connect(cfg.DBDriver, cfg.DBDsn)
	if err != nil {
		return err
	}
	if err := database.PingContext(ctx); err != nil {
		database.Close()
		return fmt.Errorf("ping database: %w", err)
	}
	a.cfg = cfg
	a.store = db.NewStore(database, cfg.DBDriver, sealer)
	return nil
}

func (a *app) close() error {
	if a.store == nil {
		return nil
	}
	return a.store.DB().Close()
}

func (a *app) requireGuild() (string, error) {
	g := strings.TrimSpace(a.guild)
	if g == "" {
		return "", fmt.Errorf("--guild is required")
	}
	return g, nil
}

func platformArg(s string) (announce.Platform, error) {
	return announce.ParsePlatform(s)
}
