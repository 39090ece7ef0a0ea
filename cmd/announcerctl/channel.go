package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/heraldbot/announcer/announce"
)

func channelCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "channel",
		Short: "Configure where a guild's announcements are posted",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "set <twitch|youtube> <channel-id>",
		Short: "Post a platform's announcements to a channel",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			guild, err := a.requireGuild()
			if err != nil {
				return err
			}
			p, err := platformArg(args[0])
			if err != nil {
				return err
			}
			if err := a.store.SetDestination(cmd.Context(), guild, p, args[1]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s announcements for guild %s go to channel %s\n", p, guild, args[1])
			return nil
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "clear <twitch|youtube>",
		Short: "Stop posting a platform's announcements",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			guild, err := a.requireGuild()
			if err != nil {
				return err
			}
			p, err := platformArg(args[0])
			if err != nil {
				return err
			}
			if err := a.store.ClearDestination(cmd.Context(), guild, p); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s announcements disabled for guild %s\n", p, guild)
			return nil
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the configured channels",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			guild, err := a.requireGuild()
			if err != nil {
				return err
			}
			for _, p := range announce.Platforms {
				ch, err := a.store.GetDestination(cmd.Context(), guild, p)
				if err != nil {
					return err
				}
				if ch == "" {
					ch = "-"
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", p, ch)
			}
			return nil
		},
	})
	return cmd
}
