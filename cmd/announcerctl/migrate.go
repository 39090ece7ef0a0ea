package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/heraldbot/announcer/db"
)

func migrateCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply or inspect schema migrations",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := db.Prepare(cmd.Context(), a.store.DB(), a.cfg.DBDriver); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "schema up to date")
			return nil
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "down",
		Short: "Roll back the most recent versioned migration (postgres only)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if a.cfg.DBDriver != db.DriverPostgres {
				return fmt.Errorf("migrate down requires DB_DRIVER=%s", db.DriverPostgres)
			}
			return db.MigrateDown(a.store.DB())
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the versioned migration state (postgres only)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if a.cfg.DBDriver != db.DriverPostgres {
				return fmt.Errorf("migrate version requires DB_DRIVER=%s", db.DriverPostgres)
			}
			v, dirty, err := db.GetMigrationVersion(a.store.DB())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "version=%d dirty=%t\n", v, dirty)
			return nil
		},
	})
	return cmd
}
