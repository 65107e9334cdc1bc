package cli

import (
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/everydev1618/mlflowbox/journal"
)

// NewRunsCmd creates the runs command
func NewRunsCmd(app *App) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "runs",
		Short: "List runs recorded in the local journal",
		RunE: func(cmd *cobra.Command, args []string) error {
			if app.journalPath == "" {
				return errors.New("journal is disabled")
			}
			store, err := app.openJournal(app.journalPath)
			if err != nil {
				return fmt.Errorf("open journal: %w", err)
			}
			defer store.Close()

			entries, err := store.List(limit)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if len(entries) == 0 {
				fmt.Fprintln(out, "No runs recorded.")
				return nil
			}
			printRuns(out, entries)
			return nil
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Maximum runs to show (0 for all)")
	return cmd
}

func printRuns(w io.Writer, entries []journal.Entry) {
	table := tablewriter.NewWriter(w)
	table.Header("Run ID", "Name", "Experiment", "Status", "Started", "Params", "Metrics")

	for _, e := range entries {
		experiment := e.ExperimentName
		if experiment == "" {
			experiment = e.ExperimentID
		}
		status := e.Status
		if e.Error != "" {
			status += " (" + e.Error + ")"
		}
		table.Append([]string{
			e.RunID,
			e.RunName,
			experiment,
			status,
			e.StartedAt.Local().Format("2006-01-02 15:04:05"),
			formatParams(e.Params),
			formatMetrics(e.Metrics),
		})
	}
	table.Render()
}

func formatParams(m map[string]string) string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+"="+m[k])
	}
	return strings.Join(parts, " ")
}

func formatMetrics(m map[string]float64) string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%.4g", k, m[k]))
	}
	return strings.Join(parts, " ")
}
