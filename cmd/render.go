package cmd

import (
	"fmt"
	"io"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/JakeFAU/placecrawler/internal/crawler"
	"github.com/JakeFAU/placecrawler/internal/orchestrator"
)

func newTable(w io.Writer) table.Writer {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	return t
}

// renderSummary prints one row per job of a run and the exported files.
func renderSummary(w io.Writer, summary orchestrator.Summary) {
	t := newTable(w)
	t.SetTitle("Run " + summary.RunID)
	t.AppendHeader(table.Row{"Query", "Phase", "Resumed", "Processed", "Succeeded", "Failed", "Results"})
	total := 0
	for _, res := range summary.Results {
		results := 0
		if res.State != nil {
			results = len(res.State.Results)
		}
		total += results
		t.AppendRow(table.Row{res.Job.Query, res.Phase, res.Resumed, res.Processed, res.Succeeded, res.Failed, results})
	}
	t.AppendFooter(table.Row{"Total", "", "", "", "", "", total})
	t.Render()

	for _, p := range summary.Exported {
		fmt.Fprintf(w, "exported %s\n", p)
	}
}

// renderStatuses prints stored checkpoint progress.
func renderStatuses(w io.Writer, rows []crawler.Progress) {
	t := newTable(w)
	t.AppendHeader(table.Row{"Slug", "Query", "State", "Progress", "Results", "Failed", "Last Checkpoint"})
	for _, row := range rows {
		t.AppendRow(table.Row{
			row.Slug,
			row.Query,
			progressState(row),
			fmt.Sprintf("%d/%d", row.Cursor, row.Backlog),
			row.Results,
			row.Failed,
			formatStamp(row.LastCheckpoint),
		})
	}
	t.Render()
}

func progressState(row crawler.Progress) string {
	switch {
	case row.Error != "":
		return "unreadable: " + row.Error
	case row.Completed:
		return "completed"
	case row.Backlog == 0:
		return "discovering"
	default:
		return "in progress"
	}
}

func formatStamp(ts time.Time) string {
	if ts.IsZero() {
		return "-"
	}
	return ts.Local().Format(time.DateTime)
}
