package main

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/heraldbot/announcer/announce"
	"github.com/heraldbot/announcer/oauth"
)

func credentialsCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "credentials",
		Short: "Manage stored platform credentials",
	}

	var c oauth.Credentials
	set := &cobra.Command{
		Use:   "set",
		Short: "Store the Twitch client and token pair, replacing any existing record",
		Long: "Store the Twitch client and token pair. Flags default to the TWITCH_* " +
			"environment values; all four must end up non-empty.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c.Platform = string(announce.PlatformTwitch)
			c.ClientID = firstSet(c.ClientID, a.cfg.TwitchClientID)
			c.ClientSecret = firstSet(c.ClientSecret, a.cfg.TwitchClientSecret)
			c.AccessToken = firstSet(c.AccessToken, a.cfg.TwitchAccessToken)
			c.RefreshToken = firstSet(c.RefreshToken, a.cfg.TwitchRefreshToken)
			var missing []string
			for name, v := range map[string]string{
				"client-id": c.ClientID, "client-secret": c.ClientSecret,
				"access-token": c.AccessToken, "refresh-token": c.RefreshToken,
			} {
				if v == "" {
					missing = append(missing, name)
				}
			}
			if len(missing) > 0 {
				sort.Strings(missing)
				return fmt.Errorf("missing %s", strings.Join(missing, ", "))
			}
			if err := a.store.SaveCredentials(cmd.Context(), c); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "twitch credentials stored")
			return nil
		},
	}
	set.Flags().StringVar(&c.ClientID, "client-id", "", "Twitch application client id")
	set.Flags().StringVar(&c.ClientSecret, "client-secret", "", "Twitch application client secret")
	set.Flags().StringVar(&c.AccessToken, "access-token", "", "user access token")
	set.Flags().StringVar(&c.RefreshToken, "refresh-token", "", "refresh token")
	cmd.AddCommand(set)

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print which credentials are stored, without secrets",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			stored, err := a.store.LoadCredentials(cmd.Context(), string(announce.PlatformTwitch))
			if err != nil {
				return err
			}
			if stored == nil {
				fmt.Fprintln(cmd.OutOrStdout(), "twitch: not stored")
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "twitch: client_id=%s updated_at=%s\n",
				stored.ClientID, stored.UpdatedAt.Format(time.RFC3339))
			return nil
		},
	})

	var dryRun bool
	seal := &cobra.Command{
		Use:   "seal",
		Short: "Encrypt plaintext credential rows with ENCRYPTION_KEY",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			platforms, err := a.store.ResealCredentials(cmd.Context(), dryRun)
			if err != nil {
				return err
			}
			verb := "sealed"
			if dryRun {
				verb = "would seal"
			}
			if len(platforms) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "no plaintext credentials")
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", verb, strings.Join(platforms, ", "))
			return nil
		},
	}
	seal.Flags().BoolVar(&dryRun, "dry-run", false, "list rows without changing them")
	cmd.AddCommand(seal)
	return cmd
}

func firstSet(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
