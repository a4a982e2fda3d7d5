package calibration

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"

	"github.com/jedib0t/go-pretty/v6/table"
)

// Render writes the report as a set of tables.
func (r *Report) Render(w io.Writer) {
	summary := table.NewWriter()
	summary.SetOutputMirror(w)
	summary.SetTitle(fmt.Sprintf("Disclosure to fix offsets (score >= %d)", r.MinScore))
	summary.AppendHeader(table.Row{"Statistic", "Value"})
	n := len(r.Samples)
	summary.AppendRows([]table.Row{
		{"Samples", n},
		{"Before disclosure", fmt.Sprintf("%d (%.1f%%)", r.Before, share(r.Before, n))},
		{"After disclosure", fmt.Sprintf("%d (%.1f%%)", r.After, share(r.After, n))},
		{"Mean", days(r.Mean)},
		{"Median", days(r.Median)},
		{"Min", days(r.Min)},
		{"Max", days(r.Max)},
	})
	if r.HasStdDev {
		summary.AppendRow(table.Row{"Std dev", days(r.StdDev)})
	}
	if r.Unparsable > 0 {
		summary.AppendFooter(table.Row{"Skipped (unparsable)", r.Unparsable})
	}
	summary.SetStyle(table.StyleRounded)
	summary.Render()

	pct := table.NewWriter()
	pct.SetOutputMirror(w)
	pct.AppendHeader(table.Row{"Percentile", "Days"})
	for _, p := range r.Percentiles {
		pct.AppendRow(table.Row{fmt.Sprintf("p%d", p.P), days(p.Days)})
	}
	pct.SetStyle(table.StyleRounded)
	pct.Render()

	hist := table.NewWriter()
	hist.SetOutputMirror(w)
	hist.AppendHeader(table.Row{"Range", "Count", "Share"})
	for _, b := range r.Histogram {
		hist.AppendRow(table.Row{b.Label, b.Count, fmt.Sprintf("%.1f%%", b.Percent)})
	}
	hist.SetStyle(table.StyleRounded)
	hist.Render()

	rec := table.NewWriter()
	rec.SetOutputMirror(w)
	rec.SetTitle("Recommended half window")
	rec.AppendHeader(table.Row{"Goal", "Basis", "Days", "Months"})
	for _, x := range r.Recommendations {
		basis := "mean"
		if x.P > 0 {
			basis = fmt.Sprintf("p%d", x.P)
		}
		rec.AppendRow(table.Row{x.Label, basis, fmt.Sprintf("±%.0f", x.Days), fmt.Sprintf("%.1f", x.Months)})
	}
	rec.AppendFooter(table.Row{"Suggested months_before / months_after", "", "", r.SuggestedMonths})
	rec.SetStyle(table.StyleRounded)
	rec.Render()
}

func share(k, n int) float64 {
	if n == 0 {
		return 0
	}

	return float64(k) / float64(n) * 100
}

func days(d float64) string {
	return fmt.Sprintf("%.1f days", d)
}

// WriteOffsetsCSV writes one row per sample: index, identifier, commit and
// signed offset in days.
func (r *Report) WriteOffsetsCSV(w io.Writer) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"index", "cve_id", "hash", "score", "offset_days"}); err != nil {
		return err
	}
	for i, s := range r.Samples {
		row := []string{
			strconv.Itoa(i + 1),
			string(s.VulnID),
			s.SHA,
			strconv.Itoa(s.Score),
			strconv.FormatFloat(s.Days, 'f', 2, 64),
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()

	return cw.Error()
}
