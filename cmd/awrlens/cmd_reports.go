package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"awrlens/internal/awr"
	"awrlens/internal/format"
)

func newUploadCmd(a *app) *cobra.Command {
	var flags struct {
		wait bool
		key  string
	}
	cmd := &cobra.Command{
		Use:   "upload <report.html>...",
		Short: "Upload AWR HTML reports",
		Long: `Uploads each file after checking its extension and size locally.
Every upload carries an idempotency key, so a retried request returns the
original report instead of creating a second one.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if flags.key != "" && len(args) > 1 {
				return fmt.Errorf("--idempotency-key applies to a single file")
			}
			client, err := a.client()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, path := range args {
				var opts []awr.SubmitOption
				if flags.key != "" {
					opts = append(opts, awr.WithIdempotencyKey(flags.key))
				}
				handle, err := client.SubmitFile(cmd.Context(), path, opts...)
				if err != nil {
					return err
				}
				if !flags.wait {
					fmt.Fprintf(out, "Uploaded %s as report %d (%s)\n", handle.Filename, handle.ID, handle.Status)
					continue
				}
				if err := a.waitAndShow(cmd.Context(), client, out, cmd.ErrOrStderr(), handle.ID); err != nil {
					return err
				}
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&flags.wait, "wait", false, "wait until each report is parsed or failed")
	cmd.Flags().StringVar(&flags.key, "idempotency-key", "", "reuse a key from an earlier attempt")
	return cmd
}

// waitAndShow polls a report to a terminal status, printing status changes
// to progress, then renders it. A failed parse is returned as an error.
func (a *app) waitAndShow(ctx context.Context, client *awr.Client, out, progress io.Writer, id int64) error {
	var last awr.Status
	r, err := client.WaitForTerminal(ctx, id, func(r *awr.Report) {
		if r.Status != last {
			fmt.Fprintf(progress, "report %d: %s\n", r.ID, r.Status)
			last = r.Status
		}
	})
	if err != nil {
		return err
	}
	if err := a.render(out, r.Visible(), func(m format.Mode) string { return format.Report(*r, m) }); err != nil {
		return err
	}
	if r.Status == awr.StatusFailed {
		return fmt.Errorf("report %d failed to parse: %s", r.ID, r.ErrorText())
	}
	return nil
}

func newListCmd(a *app) *cobra.Command {
	var flags struct {
		page     int
		pageSize int
		status   string
		db       string
		from     string
		to       string
		all      bool
	}
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List reports, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var filters []awr.ListOption
			if flags.status != "" {
				st, err := awr.ParseStatus(flags.status)
				if err != nil {
					return err
				}
				filters = append(filters, awr.WithStatus(st))
			}
			if flags.db != "" {
				filters = append(filters, awr.WithDBName(flags.db))
			}
			from, err := parseDay("from", flags.from)
			if err != nil {
				return err
			}
			to, err := parseDay("to", flags.to)
			if err != nil {
				return err
			}
			filters = append(filters, awr.WithDateRange(from, to))

			client, err := a.client()
			if err != nil {
				return err
			}
			pageSize := flags.pageSize
			if pageSize <= 0 {
				pageSize = a.cfg.Client.PageSize
			}

			var page *awr.ReportPage
			if flags.all {
				items, err := client.ListAll(cmd.Context(), append(filters, awr.WithPageSize(pageSize))...)
				if err != nil {
					return err
				}
				page = &awr.ReportPage{Items: items, Total: len(items), Page: 1, PageSize: max(len(items), 1)}
			} else {
				view := awr.NewListView(client, pageSize, filters...)
				if err := view.GoTo(cmd.Context(), flags.page); err != nil {
					return err
				}
				page = view.Snapshot()
			}
			return a.render(cmd.OutOrStdout(), page, func(m format.Mode) string { return format.ReportList(page, m) })
		},
	}
	f := cmd.Flags()
	f.IntVar(&flags.page, "page", 1, "page number")
	f.IntVar(&flags.pageSize, "page-size", 0, "reports per page, 1 to 100")
	f.StringVar(&flags.status, "status", "", "pending, parsing, parsed or failed")
	f.StringVar(&flags.db, "db-name", "", "database name, case-insensitive substring")
	f.StringVar(&flags.from, "from", "", "earliest upload day, YYYY-MM-DD")
	f.StringVar(&flags.to, "to", "", "latest upload day, YYYY-MM-DD")
	f.BoolVar(&flags.all, "all", false, "fetch every page")
	return cmd
}

func parseDay(name, v string) (time.Time, error) {
	if v == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(awr.DateLayout, v)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid --%s %q, use YYYY-MM-DD", name, v)
	}
	return t, nil
}

func newShowCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show one report",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			client, err := a.client()
			if err != nil {
				return err
			}
			r, err := client.Get(cmd.Context(), id)
			if err != nil {
				return err
			}
			return a.render(cmd.OutOrStdout(), r.Visible(), func(m format.Mode) string { return format.Report(*r, m) })
		},
	}
}

func newWatchCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "watch <id>",
		Short: "Wait until a report is parsed or failed",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			client, err := a.client()
			if err != nil {
				return err
			}
			return a.waitAndShow(cmd.Context(), client, cmd.OutOrStdout(), cmd.ErrOrStderr(), id)
		},
	}
}

func newDeleteCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a report with its metrics and diagnostics",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			client, err := a.client()
			if err != nil {
				return err
			}
			if err := client.Delete(cmd.Context(), id); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Report %d deleted\n", id)
			return nil
		},
	}
}

func newReparseCmd(a *app) *cobra.Command {
	var wait bool
	cmd := &cobra.Command{
		Use:   "reparse <id>",
		Short: "Parse the stored file of a finished report again, as a new report",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			client, err := a.client()
			if err != nil {
				return err
			}
			handle, err := client.Reparse(cmd.Context(), id)
			if err != nil {
				return err
			}
			if !wait {
				fmt.Fprintf(cmd.OutOrStdout(), "Report %d queued as report %d\n", id, handle.ID)
				return nil
			}
			return a.waitAndShow(cmd.Context(), client, cmd.OutOrStdout(), cmd.ErrOrStderr(), handle.ID)
		},
	}
	cmd.Flags().BoolVar(&wait, "wait", false, "wait until the new report is parsed or failed")
	return cmd
}
