package cli

import (
	"context"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/dmitrijs2005/gophvault/internal/client/models"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

func newStatusCommand(o *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show queued work and cache usage",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return o.withApp(cmd.Context(), func(ctx context.Context, a *App) error {
				r := a.vault.Read()
				pending, err := r.Uploads.Pending(ctx)
				if err != nil {
					return err
				}
				failed, err := r.Uploads.Failed(ctx)
				if err != nil {
					return err
				}
				moves, err := r.Reparents.All(ctx)
				if err != nil {
					return err
				}
				deletions, err := r.Deletions.All(ctx)
				if err != nil {
					return err
				}
				size, err := r.CachedFiles.CacheSize(ctx)
				if err != nil {
					return err
				}
				maintenance, err := a.maintenance.IsEnabled(ctx)
				if err != nil {
					return err
				}

				tw := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
				fmt.Fprintf(tw, "pending uploads\t%d\n", len(pending))
				fmt.Fprintf(tw, "failed uploads\t%d\n", len(failed))
				fmt.Fprintf(tw, "pending moves\t%d\n", len(moves))
				fmt.Fprintf(tw, "pending deletions\t%d\n", len(deletions))
				fmt.Fprintf(tw, "cache size\t%s\n", humanize.IBytes(uint64(size)))
				fmt.Fprintf(tw, "maintenance mode\t%t\n", maintenance)
				if err := tw.Flush(); err != nil {
					return err
				}

				if len(failed) == 0 {
					return nil
				}
				ids := make([]int64, len(failed))
				for i, u := range failed {
					ids[i] = u.ItemID
				}
				metas, err := r.Metadata.GetMany(ctx, ids)
				if err != nil {
					return err
				}
				fmt.Fprintln(a.out, "\nfailed uploads:")
				for _, m := range metas {
					fmt.Fprintf(a.out, "  %s\t%s\n", m.Path, failureOf(failed, m.ID))
				}
				return nil
			})
		},
	}
}

func failureOf(failed []models.UploadTaskRecord, id int64) string {
	for _, u := range failed {
		if u.ItemID == id && u.LastFailedAt != nil {
			return fmt.Sprintf("error %s/%d, %s", *u.ErrorDomain, *u.ErrorCode, humanize.Time(*u.LastFailedAt))
		}
	}
	return ""
}

func newRetryCommand(o *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "retry [vault-path]",
		Short: "Retry a failed upload, or every retryable piece of queued work",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return o.withUnlocked(cmd.Context(), func(ctx context.Context, a *App) error {
				if len(args) == 0 {
					ctx, cancel := context.WithTimeout(ctx, time.Minute)
					defer cancel()
					n, err := a.sync.RetrySweep(ctx)
					if err != nil {
						return err
					}
					fmt.Fprintf(a.out, "%d jobs scheduled\n", n)
					return waitIdle(ctx, a, o.config.RetryInterval)
				}
				item, err := a.resolve(ctx, args[0])
				if err != nil {
					return err
				}
				_, f, err := a.sync.RetryUpload(ctx, item.ID())
				if err != nil {
					return err
				}
				_, err = f.Await(ctx)
				return a.settle(ctx, "retry "+item.Metadata.Path, err)
			})
		},
	}
}

func newCacheCommand(o *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Manage local copies",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "clear",
		Short: "Remove local copies that have no pending upload",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return o.withUnlocked(cmd.Context(), func(ctx context.Context, a *App) error {
				freed, err := a.sync.ClearCache(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintf(a.out, "freed %s\n", humanize.IBytes(uint64(freed)))
				return nil
			})
		},
	})
	return cmd
}
