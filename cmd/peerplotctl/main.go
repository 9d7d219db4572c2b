package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/peerplot/peerplot/internal/config"
	"github.com/peerplot/peerplot/internal/docstore"
	"github.com/peerplot/peerplot/internal/storage"
	"github.com/peerplot/peerplot/internal/story"
	"github.com/peerplot/peerplot/pkg/logger"
	"github.com/spf13/cobra"
)

// backend is what a command needs: the story service over the configured
// store, and the archive exporter when object storage is configured.
type backend struct {
	svc      *story.Service
	exporter *storage.ArchiveExporter
	close    func()
}

type openFunc func(ctx context.Context) (*backend, error)

func openConfigured(ctx context.Context) (*backend, error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, err
	}
	logger.Init(cfg.Log.Level)
	store, err := docstore.Open(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("open %s store: %w", cfg.Store.Backend, err)
	}
	b := &backend{close: func() { _ = store.Close() }}
	var opts []story.Option
	if mcfg := storage.LoadMinIOConfig(); mcfg.Enabled() {
		objects, err := storage.NewMinIOStorage(ctx, mcfg)
		if err != nil {
			logger.Warnf("archive export disabled: %v", err)
		} else {
			b.exporter = storage.NewArchiveExporter(objects)
			opts = append(opts, story.WithExporter(b.exporter))
		}
	}
	b.svc = story.NewService(store, opts...)
	return b, nil
}

func main() {
	if err := newRootCmd(openConfigured).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd(open openFunc) *cobra.Command {
	var jsonOut bool
	root := &cobra.Command{
		Use:           "peerplotctl",
		Short:         "Inspect and administer a PeerPlot story store",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().BoolVar(&jsonOut, "json", false, "Print JSON instead of tables")

	// with opens the backend for the duration of one command.
	with := func(fn func(ctx context.Context, b *backend, out io.Writer) error) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			b, err := open(ctx)
			if err != nil {
				return err
			}
			defer b.close()
			return fn(ctx, b, cmd.OutOrStdout())
		}
	}

	storyCmd := &cobra.Command{Use: "story", Short: "Live story operations"}

	storyCmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the live story",
		Args:  cobra.NoArgs,
		RunE: with(func(ctx context.Context, b *backend, out io.Writer) error {
			entries, err := b.svc.LoadEntries(ctx)
			if err != nil {
				return err
			}
			if jsonOut {
				return writeJSON(out, entries)
			}
			return printEntries(out, entries)
		}),
	})

	var text, author string
	appendCmd := &cobra.Command{
		Use:   "append",
		Short: "Append an entry",
		Args:  cobra.NoArgs,
		RunE: with(func(ctx context.Context, b *backend, out io.Writer) error {
			e, err := b.svc.AppendEntry(ctx, text, author)
			if err != nil {
				return err
			}
			if jsonOut {
				return writeJSON(out, e)
			}
			_, err = fmt.Fprintf(out, "appended %s\n", e.ID)
			return err
		}),
	}
	appendCmd.Flags().StringVarP(&text, "text", "t", "", "Entry text (required)")
	appendCmd.Flags().StringVarP(&author, "author", "a", "", "Author name (required)")
	_ = appendCmd.MarkFlagRequired("text")
	_ = appendCmd.MarkFlagRequired("author")
	storyCmd.AddCommand(appendCmd)

	storyCmd.AddCommand(&cobra.Command{
		Use:   "reset",
		Short: "Discard the live story without archiving it",
		Args:  cobra.NoArgs,
		RunE: with(func(ctx context.Context, b *backend, out io.Writer) error {
			if err := b.svc.ResetLog(ctx); err != nil {
				return err
			}
			_, err := fmt.Fprintln(out, "story reset")
			return err
		}),
	})

	storyCmd.AddCommand(&cobra.Command{
		Use:   "twist",
		Short: "Suggest a plot twist",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := fmt.Fprintln(cmd.OutOrStdout(), story.Twist())
			return err
		},
	})

	archiveCmd := &cobra.Command{Use: "archive", Short: "Archive operations"}

	var title string
	createCmd := &cobra.Command{
		Use:   "create",
		Short: "Archive the live story under a title and start a new one",
		Args:  cobra.NoArgs,
		RunE: with(func(ctx context.Context, b *backend, out io.Writer) error {
			item, err := b.svc.ArchiveAndReset(ctx, title)
			if err != nil {
				return err
			}
			if jsonOut {
				return writeJSON(out, item)
			}
			_, err = fmt.Fprintf(out, "archived %d entries as %s\n", item.EntryCount, item.ID)
			return err
		}),
	}
	createCmd.Flags().StringVar(&title, "title", "", "Archive title (required)")
	_ = createCmd.MarkFlagRequired("title")
	archiveCmd.AddCommand(createCmd)

	archiveCmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List archives, newest first",
		Args:  cobra.NoArgs,
		RunE: with(func(ctx context.Context, b *backend, out io.Writer) error {
			items, err := b.svc.ListArchives(ctx)
			if err != nil {
				return err
			}
			if jsonOut {
				return writeJSON(out, items)
			}
			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tTITLE\tARCHIVED\tENTRIES")
			for _, it := range items {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%d\n", it.ID, it.Title, it.ArchivedAt.Format(time.RFC3339), it.EntryCount)
			}
			return tw.Flush()
		}),
	})

	archiveCmd.AddCommand(&cobra.Command{
		Use:   "show ARCHIVE_ID",
		Short: "Print the entries of an archive",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return with(func(ctx context.Context, b *backend, out io.Writer) error {
				entries, err := b.svc.LoadArchiveEntries(ctx, args[0])
				if err != nil {
					return err
				}
				if jsonOut {
					return writeJSON(out, entries)
				}
				return printEntries(out, entries)
			})(cmd, args)
		},
	})

	archiveCmd.AddCommand(&cobra.Command{
		Use:   "fetch ARCHIVE_ID",
		Short: "Print an archive as exported to object storage",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return with(func(ctx context.Context, b *backend, out io.Writer) error {
				if b.exporter == nil {
					return fmt.Errorf("object storage not configured (set MINIO_ENDPOINT)")
				}
				p, err := b.exporter.FetchArchive(ctx, args[0])
				if err != nil {
					return err
				}
				return writeJSON(out, p)
			})(cmd, args)
		},
	})

	var expires time.Duration
	urlCmd := &cobra.Command{
		Use:   "url ARCHIVE_ID",
		Short: "Print a temporary download link for an exported archive",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return with(func(ctx context.Context, b *backend, out io.Writer) error {
				if b.exporter == nil {
					return fmt.Errorf("object storage not configured (set MINIO_ENDPOINT)")
				}
				u, err := b.exporter.ArchiveURL(ctx, args[0], expires)
				if err != nil {
					return err
				}
				_, err = fmt.Fprintln(out, u)
				return err
			})(cmd, args)
		},
	}
	urlCmd.Flags().DurationVar(&expires, "expires", time.Hour, "Link lifetime")
	archiveCmd.AddCommand(urlCmd)

	root.AddCommand(storyCmd, archiveCmd)
	return root
}

func printEntries(out io.Writer, entries []story.Entry) error {
	if len(entries) == 0 {
		_, err := fmt.Fprintln(out, "(no entries)")
		return err
	}
	for _, e := range entries {
		if _, err := fmt.Fprintf(out, "[%s] %s: %s\n", e.Timestamp.Local().Format("2006-01-02 15:04"), e.Author, e.Text); err != nil {
			return err
		}
	}
	return nil
}

func writeJSON(out io.Writer, v interface{}) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
