package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

func newInitCommand(o *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Create a new vault on the configured remote",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return o.withApp(cmd.Context(), func(ctx context.Context, a *App) error {
				pw, err := GetNewPassword(a.out)
				if err != nil {
					return err
				}
				defer wipe(pw)
				c, err := a.keys.Init(ctx, pw)
				if err != nil {
					return err
				}
				if err := a.start(ctx, c); err != nil {
					return err
				}
				fmt.Fprintln(a.out, "vault initialized")
				return nil
			})
		},
	}
}

func newPasswdCommand(o *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "passwd",
		Short: "Change the vault password",
		Long: `Rewraps the vault key with a new password. Runs in maintenance mode, so
it fails while moves, deletions or uploads are still pending.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return o.withApp(cmd.Context(), func(ctx context.Context, a *App) error {
				old, err := GetPassword(a.out, "Current password")
				if err != nil {
					return err
				}
				defer wipe(old)
				pw, err := GetNewPassword(a.out)
				if err != nil {
					return err
				}
				defer wipe(pw)
				if err := a.keys.ChangePassword(ctx, old, pw); err != nil {
					return err
				}
				fmt.Fprintln(a.out, "password changed")
				return nil
			})
		},
	}
}

func newForgetKeyCommand(o *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "forget-key",
		Short: "Drop the cached key file; offline unlock stops working",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return o.withApp(cmd.Context(), func(ctx context.Context, a *App) error {
				return a.keys.ClearOfflineData(ctx)
			})
		},
	}
}
