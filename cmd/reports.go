package main

import (
	"fmt"
	"io"
	"unicode/utf8"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/max-solo23/deeptrace/internal/confidence"
	"github.com/max-solo23/deeptrace/internal/model"
	"github.com/max-solo23/deeptrace/internal/store"
)

var (
	reportsLimit       int
	reportsShowSources bool
)

var reportsCmd = &cobra.Command{
	Use:   "reports",
	Short: "Browse saved research reports",
}

var reportsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recent reports",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(cmd, func(st store.Store) error {
			reports := st.GetAllReports(cmd.Context(), reportsLimit)
			if len(reports) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No reports found.")
				return nil
			}
			formatReportsList(cmd.OutOrStdout(), reports)
			return nil
		})
	},
}

var reportsShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Print a saved report as markdown",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(cmd, func(st store.Store) error {
			ctx := cmd.Context()
			r := st.GetReport(ctx, args[0])
			if r == nil {
				return eris.Errorf("report not found: %s", args[0])
			}
			sources := st.GetSourcesForReport(ctx, r.ID)
			w := cmd.OutOrStdout()
			fmt.Fprintln(w, reportMarkdown(r, sources))
			if reportsShowSources && len(sources) > 0 {
				fmt.Fprintln(w)
				formatSources(w, sources)
			}
			return nil
		})
	},
}

var reportsDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a report with its sources and logs",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(cmd, func(st store.Store) error {
			deleted, err := st.DeleteReport(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if !deleted {
				return eris.Errorf("report not found: %s", args[0])
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted report %s\n", args[0])
			return nil
		})
	},
}

var reportsLogsCmd = &cobra.Command{
	Use:   "logs <id>",
	Short: "Show the pipeline log of a report",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(cmd, func(st store.Store) error {
			logs := st.GetLogsForReport(cmd.Context(), args[0])
			if len(logs) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No logs found.")
				return nil
			}
			formatLogs(cmd.OutOrStdout(), logs)
			return nil
		})
	},
}

// withStore validates the config, opens the store and runs fn against it.
func withStore(cmd *cobra.Command, fn func(st store.Store) error) error {
	if err := cfg.Validate("reports"); err != nil {
		return err
	}
	st, err := openStore(cmd.Context())
	if err != nil {
		return err
	}
	defer st.Close() //nolint:errcheck
	return fn(st)
}

func formatReportsList(w io.Writer, reports []model.Report) {
	tw := table.NewWriter()
	tw.SetOutputMirror(w)
	tw.AppendHeader(table.Row{"ID", "CREATED", "MODE", "CONFIDENCE", "QUERY"})
	for _, r := range reports {
		tw.AppendRow(table.Row{
			r.ID,
			r.CreatedAt.UTC().Format("2006-01-02 15:04"),
			r.Mode,
			fmt.Sprintf("%s (%.2f)", confidence.LabelFor(r.ConfidenceScore), r.ConfidenceScore),
			truncate(r.Query, 60),
		})
	}
	tw.Render()
}

func formatSources(w io.Writer, sources []model.Source) {
	tw := table.NewWriter()
	tw.SetOutputMirror(w)
	tw.AppendHeader(table.Row{"#", "DOMAIN", "TYPE", "RELIABILITY", "URL"})
	for i, s := range sources {
		tw.AppendRow(table.Row{i + 1, s.Domain, s.SourceType, fmt.Sprintf("%.2f", s.Reliability), s.URL})
	}
	tw.Render()
}

func formatLogs(w io.Writer, logs []model.LogEntry) {
	tw := table.NewWriter()
	tw.SetOutputMirror(w)
	tw.AppendHeader(table.Row{"TIME", "STAGE", "STATUS", "MESSAGE"})
	for _, l := range logs {
		tw.AppendRow(table.Row{l.Timestamp.UTC().Format("15:04:05"), l.Stage, l.Status, l.Message})
	}
	tw.Render()
}

func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n-1]) + "…"
}

func init() {
	reportsListCmd.Flags().IntVar(&reportsLimit, "limit", store.DefaultListLimit, "maximum number of reports to show")
	reportsShowCmd.Flags().BoolVar(&reportsShowSources, "sources", false, "also print the source table")

	reportsCmd.AddCommand(reportsListCmd, reportsShowCmd, reportsDeleteCmd, reportsLogsCmd)
	rootCmd.AddCommand(reportsCmd)
}
