package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

func newLoginCmd(a *App) *cobra.Command {
	var username string

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Open a session and store its token",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()

			if username == "" {
				var err error
				username, err = GetSimpleText(a.in, "Username", a.out)
				if err != nil {
					return fmt.Errorf("read username: %w", err)
				}
			}

			pw, err := GetPassword(a.out)
			if err != nil {
				return fmt.Errorf("read password: %w", err)
			}
			defer wipe(pw)

			a.logger.Debug(ctx, "login", "server", a.cfg.ServerURL, "username", username)
			res, err := a.client.Login(ctx, username, string(pw))
			if err != nil {
				return err
			}

			a.cfg.Username = res.Principal.Username
			a.cfg.Token = res.Token
			if err := a.save(); err != nil {
				return err
			}

			fmt.Fprintf(a.out, "Logged in as %s (%s). Session expires %s.\n",
				res.Principal.Username, res.Principal.Role, res.ExpiresAt.Local().Format(time.RFC1123))
			return nil
		},
	}
	cmd.Flags().StringVarP(&username, "username", "u", "", "account name; prompted when empty")
	return cmd
}

func newLogoutCmd(a *App) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "End the current session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()

			if !a.cfg.LoggedIn() {
				fmt.Fprintln(a.out, "Not logged in.")
				return nil
			}

			ended, err := a.client.Logout(ctx)
			if err != nil {
				a.logger.Warn(ctx, "logout request failed", "error", err)
				fmt.Fprintln(a.errOut, "Warning: could not reach the server; the token is dropped locally only.")
			}

			a.cfg.ClearSession()
			if err := a.save(); err != nil {
				return err
			}

			if ended {
				fmt.Fprintln(a.out, "Session ended.")
			} else {
				fmt.Fprintln(a.out, "Logged out.")
			}
			return nil
		},
	}
}
