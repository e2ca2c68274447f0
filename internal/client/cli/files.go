package cli

import (
	"context"
	"fmt"
	"io"
	"path"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/dmitrijs2005/gophvault/internal/client/models"
	"github.com/dmitrijs2005/gophvault/internal/filex"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

func newLsCommand(o *rootOptions) *cobra.Command {
	var offline bool
	cmd := &cobra.Command{
		Use:   "ls [path]",
		Short: "List a vault folder",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p := models.RootPath
			if len(args) == 1 {
				p = args[0]
			}
			return o.withUnlocked(cmd.Context(), func(ctx context.Context, a *App) error {
				folder, err := a.resolve(ctx, p)
				if err != nil {
					return err
				}
				var items []models.Item
				if offline {
					items, err = a.sync.CachedChildren(ctx, folder.ID())
				} else {
					items, err = a.list(ctx, folder.ID())
				}
				if err != nil {
					return err
				}
				printItems(a.out, items)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&offline, "offline", false, "list from the local cache only")
	return cmd
}

func printItems(w io.Writer, items []models.Item) {
	sort.Slice(items, func(i, j int) bool { return items[i].Metadata.Name < items[j].Metadata.Name })
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tSIZE\tMODIFIED\tSTATUS\tLOCAL")
	for _, it := range items {
		m := it.Metadata
		name, size, mod := m.Name, "-", "-"
		if m.IsFolder() {
			name += "/"
		} else if m.Size != nil {
			size = humanize.IBytes(uint64(*m.Size))
		}
		if m.LastModified != nil {
			mod = humanize.Time(*m.LastModified)
		}
		status := string(m.Status)
		if it.LastError != nil {
			status += " (" + it.LastError.Error() + ")"
		}
		local := ""
		if it.NewestVersionLocallyCached {
			local = "yes"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", name, size, mod, status, local)
	}
	_ = tw.Flush()
}

func newMkdirCommand(o *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "mkdir <path>",
		Short: "Create a folder",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p := cleanPath(args[0])
			return o.withUnlocked(cmd.Context(), func(ctx context.Context, a *App) error {
				parent, err := a.resolve(ctx, models.ParentPath(p))
				if err != nil {
					return err
				}
				_, f, err := a.sync.CreateFolder(ctx, parent.ID(), path.Base(p))
				if err != nil {
					return err
				}
				_, err = f.Await(ctx)
				return a.settle(ctx, "mkdir "+p, err)
			})
		},
	}
}

func newPutCommand(o *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "put <local-file> <vault-path>",
		Short: "Upload a local file into the vault",
		Long: `Copies the file into the vault. When vault-path names an existing
folder, the file keeps its base name inside it.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			src, err := userPath(args[0])
			if err != nil {
				return err
			}
			dst := cleanPath(args[1])
			return o.withUnlocked(cmd.Context(), func(ctx context.Context, a *App) error {
				parentPath, name := models.ParentPath(dst), path.Base(dst)
				if target, err := a.resolve(ctx, dst); err == nil && target.Metadata.IsFolder() {
					parentPath, name = dst, path.Base(src)
				}
				parent, err := a.resolve(ctx, parentPath)
				if err != nil {
					return err
				}
				item, f, err := a.sync.ImportFile(ctx, parent.ID(), name, src)
				if err != nil {
					return err
				}
				done, err := f.Await(ctx)
				if err := a.settle(ctx, "put "+item.Metadata.Path, err); err != nil {
					return err
				}
				if err == nil && done.Metadata.Size != nil {
					fmt.Fprintf(a.out, "%s uploaded (%s)\n", done.Metadata.Path, humanize.IBytes(uint64(*done.Metadata.Size)))
				}
				return nil
			})
		},
	}
}

func newGetCommand(o *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "get <vault-path> [local-file]",
		Short: "Download a file, or print where its local copy is",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return o.withUnlocked(cmd.Context(), func(ctx context.Context, a *App) error {
				item, err := a.resolve(ctx, args[0])
				if err != nil {
					return err
				}
				local, err := a.sync.OpenFile(ctx, item.ID())
				if err != nil {
					return err
				}
				if len(args) == 1 {
					fmt.Fprintln(a.out, local)
					return nil
				}
				dst, err := userPath(args[1])
				if err != nil {
					return err
				}
				return filex.CopyFile(ctx, local, dst)
			})
		},
	}
}

func newMvCommand(o *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "mv <vault-path> <new-vault-path>",
		Short: "Move or rename an item",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			dst := cleanPath(args[1])
			return o.withUnlocked(cmd.Context(), func(ctx context.Context, a *App) error {
				item, err := a.resolve(ctx, args[0])
				if err != nil {
					return err
				}
				parentPath, name := models.ParentPath(dst), path.Base(dst)
				if target, err := a.resolve(ctx, dst); err == nil && target.Metadata.IsFolder() {
					parentPath, name = dst, item.Metadata.Name
				}
				parent, err := a.resolve(ctx, parentPath)
				if err != nil {
					return err
				}
				moved, f, err := a.sync.Move(ctx, item.ID(), parent.ID(), name)
				if err != nil {
					return err
				}
				_, err = f.Await(ctx)
				return a.settle(ctx, "mv "+moved.Metadata.Path, err)
			})
		},
	}
}

func newRmCommand(o *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "rm <vault-path>",
		Short: "Delete an item and everything under it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return o.withUnlocked(cmd.Context(), func(ctx context.Context, a *App) error {
				item, err := a.resolve(ctx, args[0])
				if err != nil {
					return err
				}
				f, err := a.sync.Delete(ctx, item.ID())
				if err != nil {
					return err
				}
				_, err = f.Await(ctx)
				return a.settle(ctx, "rm "+item.Metadata.Path, err)
			})
		},
	}
}

func newFavCommand(o *rootOptions) *cobra.Command {
	var clear, list bool
	cmd := &cobra.Command{
		Use:   "fav [vault-path]",
		Short: "Mark an item as favorite, or list favorites",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return o.withUnlocked(cmd.Context(), func(ctx context.Context, a *App) error {
				if list || len(args) == 0 {
					items, err := a.sync.EnumerateWorkingSet(ctx)
					if err != nil {
						return err
					}
					printItems(a.out, items)
					return nil
				}
				item, err := a.resolve(ctx, args[0])
				if err != nil {
					return err
				}
				var rank *int64
				if !clear {
					r := time.Now().Unix()
					rank = &r
				}
				_, err = a.sync.SetFavoriteRank(ctx, item.ID(), rank)
				return err
			})
		},
	}
	cmd.Flags().BoolVar(&clear, "clear", false, "remove the favorite mark")
	cmd.Flags().BoolVarP(&list, "list", "l", false, "list favorites")
	return cmd
}
