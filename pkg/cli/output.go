package cli

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/olekukonko/tablewriter"

	"kpi-dashboard/pkg/calculator"
	"kpi-dashboard/pkg/models"
)

func formatValue(v models.Value) string {
	if v.Kind == models.KindInt {
		return humanize.Comma(v.Int)
	}
	return v.String()
}

func newTable(w io.Writer, header []string) *tablewriter.Table {
	t := tablewriter.NewWriter(w)
	t.SetHeader(header)
	t.SetAutoFormatHeaders(false)
	t.SetAutoWrapText(false)
	return t
}

// printResult renders one KPI as a table followed by its summary line.
func printResult(w io.Writer, res *models.KPIResult) {
	origin := "computed"
	if res.Cached {
		origin = "cached"
	}
	fmt.Fprintf(w, "%s [%s, %s %s]\n", res.Title, res.Strategy, origin, res.ComputedAt.UTC().Format(time.RFC3339))

	header := make([]string, len(res.Columns))
	for i, c := range res.Columns {
		header[i] = c.Name
	}
	t := newTable(w, header)
	aligns := make([]int, len(res.Columns))
	for i, c := range res.Columns {
		if c.Kind == models.KindText {
			aligns[i] = tablewriter.ALIGN_LEFT
		} else {
			aligns[i] = tablewriter.ALIGN_RIGHT
		}
	}
	t.SetColumnAlignment(aligns)
	for _, r := range res.Rows {
		cells := make([]string, len(r))
		for i, v := range r {
			cells[i] = formatValue(v)
		}
		t.Append(cells)
	}
	t.Render()

	parts := make([]string, 0, len(res.Summary))
	for _, s := range res.Summary {
		parts = append(parts, s.Name+"="+formatValue(s.Value))
	}
	fmt.Fprintf(w, "%s\n\n", strings.Join(parts, "  "))
}

func printReport(w io.Writer, rep models.LoadReport, size int64) {
	status := "loaded"
	if !rep.Success {
		status = "rejected"
	}
	fmt.Fprintf(w, "%s batch %s: %s (%s, mode %s)\n", rep.Entity, rep.BatchID, status, humanize.Bytes(uint64(size)), rep.Mode)
	fmt.Fprintf(w, "  read %s, loaded %s, duplicates removed %s, in %s\n",
		humanize.Comma(int64(rep.RecordsRead)), humanize.Comma(int64(rep.RecordsLoaded)),
		humanize.Comma(int64(rep.DuplicatesRemoved)), rep.Duration.Round(time.Millisecond))

	const maxShown = 20
	for i, e := range rep.Errors {
		if i == maxShown {
			fmt.Fprintf(w, "  ... and %d more\n", len(rep.Errors)-maxShown)
			break
		}
		fmt.Fprintf(w, "  - %s\n", e)
	}
}

func printVerifications(w io.Writer, vs []*calculator.Verification) {
	t := newTable(w, []string{"kpi", "rows", "match", "pushdown", "in_memory"})
	for _, v := range vs {
		match := "yes"
		if !v.Match {
			match = "NO"
		}
		t.Append([]string{
			string(v.KPI),
			humanize.Comma(int64(v.Rows)),
			match,
			v.PushdownElapsed.Round(time.Microsecond).String(),
			v.InMemoryElapsed.Round(time.Microsecond).String(),
		})
	}
	t.Render()
}
