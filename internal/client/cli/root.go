package cli

import (
	"context"
	"io"

	"github.com/dmitrijs2005/gophvault/internal/client/config"
	"github.com/spf13/cobra"
)

// Version is set at build time.
var Version = "dev"

type rootOptions struct {
	loader *config.Loader
	config *config.Config
	out    io.Writer
}

// NewRootCommand builds the command tree writing human output to out.
func NewRootCommand(out io.Writer) *cobra.Command {
	o := &rootOptions{out: out}
	cmd := &cobra.Command{
		Use:   "gophvault",
		Short: "Offline-first encrypted vault synced to cloud storage",
		Long: `gophvault keeps an encrypted folder tree in a remote store (a local
directory or an S3 bucket) and mirrors it in a local cache. Changes made
while the remote is unreachable are queued and replayed later.`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := o.loader.Load()
			if err != nil {
				return err
			}
			o.config = cfg
			return nil
		},
	}
	cmd.SetOut(out)
	o.loader = config.BindFlags(cmd.PersistentFlags())

	cmd.AddCommand(
		newInitCommand(o),
		newPasswdCommand(o),
		newForgetKeyCommand(o),
		newLsCommand(o),
		newMkdirCommand(o),
		newPutCommand(o),
		newGetCommand(o),
		newMvCommand(o),
		newRmCommand(o),
		newFavCommand(o),
		newStatusCommand(o),
		newRetryCommand(o),
		newCacheCommand(o),
		newSyncCommand(o),
	)
	return cmd
}

// withApp opens the vault for one command run.
func (o *rootOptions) withApp(ctx context.Context, fn func(ctx context.Context, a *App) error) error {
	a, err := openApp(ctx, o.config, o.out)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a)
}

// withUnlocked is withApp plus the vault key.
func (o *rootOptions) withUnlocked(ctx context.Context, fn func(ctx context.Context, a *App) error) error {
	return o.withApp(ctx, func(ctx context.Context, a *App) error {
		if err := a.unlock(ctx); err != nil {
			return err
		}
		return fn(ctx, a)
	})
}
