package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/heraldbot/announcer/announce"
	"github.com/heraldbot/announcer/twitchapi"
	"github.com/heraldbot/announcer/youtubeapi"
)

func watchCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Manage the accounts a guild follows",
	}

	var skipLookup bool
	add := &cobra.Command{
		Use:   "add <twitch|youtube> <login-or-@handle>",
		Short: "Follow an account",
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
			acct := announce.WatchedAccount{Platform: p, Account: announce.NormalizeAccount(p, args[1])}
			if !skipLookup {
				if acct, err = a.lookup(cmd.Context(), acct); err != nil {
					return err
				}
			}
			added, err := a.store.AddWatchedAccount(cmd.Context(), guild, acct)
			if err != nil {
				return err
			}
			if !added {
				fmt.Fprintf(cmd.OutOrStdout(), "%s %s is already watched\n", p, acct.Account)
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "now watching %s %s\n", p, acct.Account)
			return nil
		},
	}
	add.Flags().BoolVar(&skipLookup, "skip-lookup", false, "register without checking the account upstream")
	cmd.AddCommand(add)

	cmd.AddCommand(&cobra.Command{
		Use:   "remove <twitch|youtube> <login-or-@handle>",
		Short: "Stop following an account",
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
			removed, err := a.store.RemoveWatchedAccount(cmd.Context(), guild, p, args[1])
			if err != nil {
				return err
			}
			if !removed {
				return fmt.Errorf("%s %s is not watched in guild %s", p, announce.NormalizeAccount(p, args[1]), guild)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "stopped watching %s %s\n", p, announce.NormalizeAccount(p, args[1]))
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List followed accounts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			guild, err := a.requireGuild()
			if err != nil {
				return err
			}
			accounts, err := a.store.ListWatchedAccounts(cmd.Context(), guild)
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "PLATFORM\tACCOUNT\tDISPLAY NAME\tREGISTERED")
			for _, acct := range accounts {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", acct.Platform, acct.Account, acct.DisplayName,
					acct.RegisteredAt.Format(time.DateOnly))
			}
			return tw.Flush()
		},
	})
	return cmd
}

// lookup fills display metadata from the upstream and rejects unknown
// accounts. Without credentials for the platform the account is kept as is.
func (a *app) lookup(ctx context.Context, acct announce.WatchedAccount) (announce.WatchedAccount, error) {
	switch acct.Platform {
	case announce.PlatformTwitch:
		creds, err := a.store.LoadCredentials(ctx, string(announce.PlatformTwitch))
		if err != nil {
			return acct, err
		}
		if creds == nil {
			warnNoLookup(acct, "no twitch credentials stored")
			return acct, nil
		}
		hc := twitchapi.NewHelixClient(creds.ClientID, creds.AccessToken, &http.Client{Timeout: a.cfg.HTTPTimeout})
		hc.APIBaseURL = a.cfg.TwitchAPIBaseURL
		user, err := hc.GetUser(ctx, acct.Account)
		if err != nil {
			return acct, fmt.Errorf("look up twitch user %s: %w", acct.Account, err)
		}
		if user == nil {
			return acct, fmt.Errorf("twitch user %s not found", acct.Account)
		}
		acct.DisplayName = user.DisplayName
		acct.ProfileImageURL = user.ProfileImageURL
		acct.CreatedAt = user.CreatedAt
	case announce.PlatformYouTube:
		if a.cfg.YouTubeAPIKey == "" {
			warnNoLookup(acct, "YOUTUBE_API_KEY not set")
			return acct, nil
		}
		yt, err := youtubeapi.NewWithAPIKey(ctx, a.cfg.YouTubeAPIKey, a.cfg.HTTPTimeout, a.cfg.YouTubeAPIEndpoint)
		if err != nil {
			return acct, err
		}
		ch, err := yt.ResolveHandle(ctx, acct.Account)
		if err != nil {
			return acct, fmt.Errorf("look up youtube handle %s: %w", acct.Account, err)
		}
		acct.DisplayName = ch.Title
	}
	return acct, nil
}

func warnNoLookup(acct announce.WatchedAccount, reason string) {
	slog.Warn("registering without upstream lookup",
		slog.String("platform", string(acct.Platform)),
		slog.String("account", acct.Account),
		slog.String("reason", reason))
}
