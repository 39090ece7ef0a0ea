package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func prefixCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "prefix [new-prefix]",
		Short: "Show or change a guild's command prefix",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			guild, err := a.requireGuild()
			if err != nil {
				return err
			}
			if len(args) == 1 {
				if err := a.store.SetPrefix(cmd.Context(), guild, args[0]); err != nil {
					return err
				}
			}
			prefix, err := a.store.LoadPrefix(cmd.Context(), guild)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), prefix)
			return nil
		},
	}
	return cmd
}
