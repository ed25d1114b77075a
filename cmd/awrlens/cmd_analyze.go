package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"awrlens/internal/awr"
	"awrlens/internal/format"
)

func newMetricsCmd(a *app) *cobra.Command {
	var category string
	cmd := &cobra.Command{
		Use:   "metrics <id>",
		Short: "Show the performance metrics of a parsed report",
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
			metrics, err := client.Metrics(cmd.Context(), id, category)
			if err != nil {
				return err
			}
			return a.render(cmd.OutOrStdout(), metrics, func(m format.Mode) string { return format.Metrics(metrics, m) })
		},
	}
	cmd.Flags().StringVar(&category, "category", "", "only this category, e.g. load_profile or wait_events")
	return cmd
}

func newAnalyzeCmd(a *app) *cobra.Command {
	var wait bool
	cmd := &cobra.Command{
		Use:   "analyze <id>",
		Short: "Run the diagnostic rules against a parsed report",
		Long: `Triggers a diagnostic run. When the service analyzes synchronously the
findings are shown right away; otherwise --wait polls until this run's
findings are stored.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			client, err := a.client()
			if err != nil {
				return err
			}
			ack, err := client.TriggerAnalysis(cmd.Context(), id)
			if err != nil {
				return err
			}
			var summary *awr.DiagnosticSummary
			switch {
			case ack.Complete:
				s, found, err := client.Diagnostics(cmd.Context(), id)
				if err != nil {
					return err
				}
				if !found {
					return fmt.Errorf("run %d of report %d completed but its findings are gone", ack.RunID, id)
				}
				summary = s
			case wait:
				if summary, err = client.WaitForDiagnostics(cmd.Context(), id, ack.RunID); err != nil {
					return err
				}
			default:
				fmt.Fprintf(cmd.OutOrStdout(), "Analysis of report %d started as run %d\n", id, ack.RunID)
				return nil
			}
			return a.render(cmd.OutOrStdout(), summary, func(m format.Mode) string { return format.Diagnostics(*summary, m) })
		},
	}
	cmd.Flags().BoolVar(&wait, "wait", false, "wait for the findings of an asynchronous run")
	return cmd
}

func newDiagnosticsCmd(a *app) *cobra.Command {
	var minSeverity string
	cmd := &cobra.Command{
		Use:   "diagnostics <id>",
		Short: "Show the findings of the latest diagnostic run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			var floor awr.Severity
			if minSeverity != "" {
				if floor, err = awr.ParseSeverity(minSeverity); err != nil {
					return err
				}
			}
			client, err := a.client()
			if err != nil {
				return err
			}
			summary, found, err := client.Diagnostics(cmd.Context(), id)
			if err != nil {
				return err
			}
			if !found {
				fmt.Fprintf(cmd.OutOrStdout(), "No analysis has run for report %d yet.\n", id)
				return nil
			}
			if floor != "" {
				filtered := atLeast(*summary, floor)
				summary = &filtered
			}
			return a.render(cmd.OutOrStdout(), summary, func(m format.Mode) string { return format.Diagnostics(*summary, m) })
		},
	}
	cmd.Flags().StringVar(&minSeverity, "min-severity", "", "hide findings below this severity")
	return cmd
}

// atLeast keeps findings at floor or more severe, recounting the summary.
func atLeast(s awr.DiagnosticSummary, floor awr.Severity) awr.DiagnosticSummary {
	var kept []awr.DiagnosticResult
	for _, d := range s.Diagnostics {
		if d.Severity.Rank() <= floor.Rank() {
			kept = append(kept, d)
		}
	}
	return awr.Summarize(s.ReportID, s.RunID, kept)
}
