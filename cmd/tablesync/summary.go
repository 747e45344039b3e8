package main

import (
	"fmt"
	"io"
	"path/filepath"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"github.com/JonMunkholm/tablesync/internal/core"
)

// printSummary renders one row per table followed by run totals.
func printSummary(w io.Writer, report *core.RunReport) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	t.SetTitle(fmt.Sprintf("%s run %s (%s)", report.Mode, report.RunID, report.Trigger))
	t.AppendHeader(table.Row{"Table", "Outcome", "Rows", "Duration", "File / Error"})
	t.SetColumnConfigs([]table.ColumnConfig{
		{Number: 3, Align: text.AlignRight},
		{Number: 4, Align: text.AlignRight},
		{Number: 5, WidthMax: 60},
	})

	for _, r := range report.Results {
		detail := filepath.Base(r.Path)
		if r.Err != nil {
			detail = r.Err.Error()
		}
		t.AppendRow(table.Row{r.Table, r.Outcome, r.Rows, r.Duration.Round(time.Millisecond), detail})
	}

	skipped := report.Count(core.OutcomeSkippedEmpty) + report.Count(core.OutcomeSkippedMissingFile)
	t.AppendFooter(table.Row{
		"Total",
		fmt.Sprintf("%d ok, %d skipped, %d failed", report.Count(core.OutcomeSucceeded), skipped, report.Count(core.OutcomeFailed)),
		report.Rows(),
		report.Duration().Round(time.Millisecond),
		"",
	})
	t.Render()
}
