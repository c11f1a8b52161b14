package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"livemarks/internal/daemon"
	"livemarks/internal/server"
	"livemarks/internal/store"
	"livemarks/internal/view"
)

func newServeCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the refresh daemon and its control API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			if err := cfg.EnsureDirectories(); err != nil {
				return err
			}

			runCtx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			d, err := daemon.New(cfg, ctx.logger, daemon.Options{})
			if err != nil {
				return err
			}
			return d.Run(runCtx)
		},
	}
}

func newAddCommand(ctx *commandContext) *cobra.Command {
	var title, site string
	var parent int64
	var index int
	var folderOnly bool

	cmd := &cobra.Command{
		Use:   "add <feed-uri>",
		Short: "Create a livemark for a feed",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := ctx.client()
			if err != nil {
				return err
			}

			req := server.CreateRequest{
				Title:      title,
				FeedURI:    args[0],
				SiteURI:    site,
				ParentID:   parent,
				FolderOnly: folderOnly,
			}
			if cmd.Flags().Changed("index") {
				req.Index = &index
			}

			id, err := c.Create(cmd.Context(), req)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Created livemark %d\n", id)
			return nil
		},
	}

	cmd.Flags().StringVarP(&title, "title", "t", "", "Folder title (defaults to the feed URI)")
	cmd.Flags().StringVar(&site, "site", "", "Site URI shown for the livemark")
	cmd.Flags().Int64Var(&parent, "parent", store.RootFolderID, "Parent folder id")
	cmd.Flags().IntVar(&index, "index", store.DefaultIndex, "Position in the parent folder")
	cmd.Flags().BoolVar(&folderOnly, "folder-only", false, "Create the folder without loading the feed")

	return cmd
}

func newListCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List livemarks and their refresh state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := ctx.client()
			if err != nil {
				return err
			}

			statuses, err := c.List(cmd.Context())
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if asJSON {
				return writeJSON(out, statuses)
			}
			if len(statuses) == 0 {
				fmt.Fprintln(out, "No livemarks")
				return nil
			}

			rows := view.BuildLivemarkRows(statuses, time.Now())
			cells := make([][]string, 0, len(rows))
			for _, row := range rows {
				cells = append(cells, row.Cells())
			}
			writeRows(out, view.LivemarkHeaders, cells, []columnAlignment{alignRight, alignLeft, alignLeft, alignLeft, alignLeft, alignRight, alignLeft})
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Print JSON")

	return cmd
}

func newShowCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show one livemark",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseFolderID(args[0])
			if err != nil {
				return err
			}
			c, err := ctx.client()
			if err != nil {
				return err
			}

			status, err := c.Get(cmd.Context(), id)
			if err != nil {
				return err
			}

			row := view.BuildLivemarkRow(status, time.Now())
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "ID:       %s\n", row.ID)
			fmt.Fprintf(out, "Title:    %s\n", row.Title)
			fmt.Fprintf(out, "Feed:     %s\n", row.FeedURI)
			fmt.Fprintf(out, "Site:     %s\n", row.SiteURI)
			fmt.Fprintf(out, "State:    %s\n", row.State)
			fmt.Fprintf(out, "Items:    %s\n", row.Children)
			if !status.ExpiresAt.IsZero() {
				fmt.Fprintf(out, "Expires:  %s (%s)\n", view.FormatTime(status.ExpiresAt), row.Expires)
			} else {
				fmt.Fprintf(out, "Expires:  %s\n", row.Expires)
			}
			return nil
		},
	}
}

func newChildrenCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "children <id>",
		Short: "List the bookmarks inside a livemark",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseFolderID(args[0])
			if err != nil {
				return err
			}
			c, err := ctx.client()
			if err != nil {
				return err
			}

			children, err := c.Children(cmd.Context(), id)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if len(children) == 0 {
				fmt.Fprintln(out, "No entries")
				return nil
			}

			rows := view.BuildChildRows(children)
			cells := make([][]string, 0, len(rows))
			for _, row := range rows {
				cells = append(cells, row.Cells())
			}
			writeRows(out, view.ChildHeaders, cells, []columnAlignment{alignRight})
			return nil
		},
	}
}

func newReloadCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "reload [id]",
		Short: "Force a reload of one or every livemark",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var id int64
			if len(args) == 1 {
				parsed, err := parseFolderID(args[0])
				if err != nil {
					return err
				}
				id = parsed
			}
			c, err := ctx.client()
			if err != nil {
				return err
			}

			started, err := c.Reload(cmd.Context(), id)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Started %d load(s)\n", started)
			return nil
		},
	}
}

func newRemoveCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:     "remove <id>",
		Aliases: []string{"rm"},
		Short:   "Delete a livemark folder",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseFolderID(args[0])
			if err != nil {
				return err
			}
			c, err := ctx.client()
			if err != nil {
				return err
			}

			if err := c.Remove(cmd.Context(), id); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Removed livemark %d\n", id)
			return nil
		},
	}
}

func newSetFeedCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "set-feed <id> <feed-uri>",
		Short: "Point a livemark at a different feed",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseFolderID(args[0])
			if err != nil {
				return err
			}
			c, err := ctx.client()
			if err != nil {
				return err
			}
			return c.SetFeed(cmd.Context(), id, args[1])
		},
	}
}

func newSetSiteCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "set-site <id> [site-uri]",
		Short: "Set or, without a URI, clear the site of a livemark",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseFolderID(args[0])
			if err != nil {
				return err
			}
			c, err := ctx.client()
			if err != nil {
				return err
			}

			site := ""
			if len(args) == 2 {
				site = args[1]
			}
			return c.SetSite(cmd.Context(), id, site)
		},
	}
}

func newImportCommand(ctx *commandContext) *cobra.Command {
	var parent int64

	cmd := &cobra.Command{
		Use:   "import <file.opml|->",
		Short: "Create folder-only livemarks from an OPML file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := ctx.client()
			if err != nil {
				return err
			}

			var src io.Reader = cmd.InOrStdin()
			if args[0] != "-" {
				file, err := os.Open(args[0])
				if err != nil {
					return fmt.Errorf("open opml: %w", err)
				}
				defer file.Close()
				src = file
			}

			result, err := c.ImportOPML(cmd.Context(), parent, src)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Imported %d livemark(s), skipped %d\n", len(result.Imported), result.Skipped)
			return nil
		},
	}

	cmd.Flags().Int64Var(&parent, "parent", store.RootFolderID, "Folder to import into")

	return cmd
}

func newExportCommand(ctx *commandContext) *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write every livemark as OPML",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := ctx.client()
			if err != nil {
				return err
			}

			if output == "" || output == "-" {
				return c.ExportOPML(cmd.Context(), cmd.OutOrStdout())
			}

			file, err := os.Create(output)
			if err != nil {
				return fmt.Errorf("create %s: %w", output, err)
			}
			if err := c.ExportOPML(cmd.Context(), file); err != nil {
				_ = file.Close()
				return err
			}
			return file.Close()
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "", "Output file (defaults to stdout)")

	return cmd
}

func parseFolderID(raw string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid livemark id %q", raw)
	}
	return id, nil
}

func writeJSON(w io.Writer, v any) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(v)
}
