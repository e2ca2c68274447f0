package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/dmitrijs2005/gophvault/internal/client/watcher"
	"github.com/dmitrijs2005/gophvault/internal/client/workingset"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

func newSyncCommand(o *rootOptions) *cobra.Command {
	var (
		follow  bool
		timeout time.Duration
	)
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Replay queued work against the remote",
		Long: `Without --follow, sync replays queued uploads, moves and deletions and
returns when none is left or the timeout passes. With --follow it keeps
running: retrying failed work, tracking the working set, watching local
copies for edits (when watch is enabled) and serving metrics (when
metrics_addr is set).`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return o.withUnlocked(cmd.Context(), func(ctx context.Context, a *App) error {
				if follow {
					return daemon(ctx, a)
				}
				ctx, cancel := context.WithTimeout(ctx, timeout)
				defer cancel()
				if _, err := a.sync.RetrySweep(ctx); err != nil {
					return err
				}
				return waitIdle(ctx, a, o.config.RetryInterval)
			})
		},
	}
	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "keep running until interrupted")
	cmd.Flags().DurationVar(&timeout, "timeout", time.Minute, "give up waiting after this long")
	return cmd
}

// waitIdle returns once no active task is left. Queued work that is
// still waiting for the remote when ctx ends is reported, not failed.
func waitIdle(ctx context.Context, a *App, retryInterval time.Duration) error {
	poll := time.NewTicker(200 * time.Millisecond)
	defer poll.Stop()
	sweep := time.NewTicker(retryInterval)
	defer sweep.Stop()
	for {
		n, err := a.vault.Read().Maintenance.ActiveTaskCount(ctx)
		if ctx.Err() != nil {
			fmt.Fprintln(a.out, "tasks still queued")
			return nil
		}
		if err != nil {
			return err
		}
		if n == 0 {
			fmt.Fprintln(a.out, "everything is in sync")
			return nil
		}
		select {
		case <-ctx.Done():
			fmt.Fprintf(a.out, "%d tasks still queued\n", n)
			return nil
		case <-sweep.C:
			if _, err := a.sync.RetrySweep(ctx); err != nil && ctx.Err() == nil {
				return err
			}
		case <-poll.C:
		}
	}
}

func daemon(ctx context.Context, a *App) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error { return a.sync.Run(ctx) })

	projector := workingset.New(a.vault, a.notifier, a.logger)
	g.Go(func() error { return projector.Run(ctx) })

	if a.config.Watch {
		w, err := watcher.New(a.vault, a.sync, a.sync.CacheDir(), watcher.DefaultDebounce, a.logger)
		if err != nil {
			return err
		}
		g.Go(func() error { return w.Run(ctx) })
	}

	if a.config.MetricsAddr != "" {
		srv := &http.Server{Addr: a.config.MetricsAddr, Handler: a.metrics.Handler(), ReadHeaderTimeout: 5 * time.Second}
		g.Go(func() error {
			a.logger.Info(ctx, "serving metrics", "addr", a.config.MetricsAddr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	fmt.Fprintln(a.out, "syncing, press Ctrl-C to stop")
	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
