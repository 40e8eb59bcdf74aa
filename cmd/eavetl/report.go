package main

import (
	"fmt"
	"io"

	"github.com/fatih/color"
	"github.com/jedib0t/go-pretty/v6/table"

	"eavetl/internal/config"
	"eavetl/internal/eav"
)

// renderReport prints one row per loaded sheet plus a totals footer.
func renderReport(w io.Writer, rep eav.Report) {
	if len(rep.Sheets) == 0 {
		_, _ = fmt.Fprintln(w, "(0 sheets)")
		return
	}

	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"#", "Sheet", "Attributes", "Rows", "Facts", "Batches"})

	var attrs, rows, facts, batches int
	for i, s := range rep.Sheets {
		t.AppendRow(table.Row{i + 1, s.Name, s.Attributes, s.Rows, s.Facts, s.Batches})
		attrs += s.Attributes
		rows += s.Rows
		facts += s.Facts
		batches += s.Batches
	}
	t.AppendFooter(table.Row{"", "Total", attrs, rows, facts, batches})
	t.Render()
}

var (
	errorLabel   = color.New(color.FgRed, color.Bold).SprintFunc()
	warningLabel = color.New(color.FgYellow).SprintFunc()
)

// printIssues writes validation issues, one per line. Labels are colored
// unless color.NoColor is set (it is when stdout is not a terminal).
func printIssues(w io.Writer, issues []config.Issue) {
	for _, iss := range issues {
		label := warningLabel(string(iss.Severity))
		if iss.Severity == config.SeverityError {
			label = errorLabel(string(iss.Severity))
		}
		_, _ = fmt.Fprintf(w, "%s: %s: %s\n", label, iss.Path, iss.Message)
	}
}
