package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/example/baker/internal/bake"
	"github.com/fatih/color"
)

var (
	buildColor   = color.New(color.FgYellow)
	skipColor    = color.New(color.FgGreen)
	forcedColor  = color.New(color.FgCyan)
	failedColor  = color.New(color.FgRed, color.Bold)
	blockedColor = color.New(color.FgMagenta)
)

func writeReport(w io.Writer, report *bake.Report, format string) error {
	if format == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	}
	writeReportTable(w, report)
	return nil
}

func writeReportTable(w io.Writer, report *bake.Report) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "TARGET\tDECISION\tSTATE\tCHECKSUM\tTAG")
	for _, e := range report.Entries {
		checksum := e.ChecksumSelf
		if e.ChecksumDeps != "" {
			checksum += "-" + e.ChecksumDeps
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
			e.Target, decisionLabel(e), e.State, dash(checksum), dash(e.PrimaryTag()))
	}
	_ = tw.Flush()

	for _, e := range report.Entries {
		if e.Error != "" && (e.State == bake.StateFailed || e.State == bake.StateBlocked) {
			fmt.Fprintf(w, "%s: %s\n", e.Target, e.Error)
		}
	}
	fmt.Fprintln(w, summaryLine(report))
}

// decisionLabel colors the decision column. fatih/color drops the escapes
// when stdout is not a terminal.
func decisionLabel(e *bake.PlanEntry) string {
	switch e.State {
	case bake.StateFailed:
		return failedColor.Sprint("failed")
	case bake.StateBlocked:
		return blockedColor.Sprint("blocked")
	case bake.StatePending, bake.StateEvaluating:
		return "-"
	}
	label := string(e.Decision.Kind)
	if e.Decision.Push {
		label += "+push"
	}
	switch e.Decision.Kind {
	case bake.DecisionBuild:
		return buildColor.Sprint(label)
	case bake.DecisionSkipExisting:
		return skipColor.Sprint(label)
	case bake.DecisionSkipForced:
		return forcedColor.Sprint(label)
	}
	return label
}

func summaryLine(report *bake.Report) string {
	parts := []string{
		fmt.Sprintf("%d built", len(report.Succeeded)),
		fmt.Sprintf("%d skipped", len(report.Skipped)),
	}
	if report.DryRun {
		parts[0] = fmt.Sprintf("%d to build", len(report.Succeeded))
	}
	if n := len(report.Failed); n > 0 {
		parts = append(parts, fmt.Sprintf("%d failed", n))
	}
	if n := len(report.Blocked); n > 0 {
		parts = append(parts, fmt.Sprintf("%d blocked", n))
	}
	if n := len(report.NotStarted); n > 0 {
		parts = append(parts, fmt.Sprintf("%d not started", n))
	}
	return strings.Join(parts, ", ") + fmt.Sprintf(" (%s)", report.Duration.Round(time.Millisecond))
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
