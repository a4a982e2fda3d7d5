package report

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/google/osv/fixfinder/models"
	"github.com/google/osv/fixfinder/timestamps"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"golang.org/x/term"
)

const (
	maxMessageWidth = 60
	shortSHALength  = 12
)

// fitTerminal limits the row length to the terminal width when w is one.
func fitTerminal(t table.Writer, w io.Writer) {
	f, ok := w.(*os.File)
	if !ok {
		return
	}
	width, _, err := term.GetSize(int(f.Fd()))
	if err == nil {
		t.SetAllowedRowLength(width)
	}
}

// PrintCandidates renders the ranked candidates of a result.
func PrintCandidates(w io.Writer, r *models.Result) {
	outputTable := table.NewWriter()
	outputTable.SetOutputMirror(w)
	outputTable.SetTitle(fmt.Sprintf("%s  %s  [%s]", r.VulnID, r.RepoURL, r.Outcome))
	outputTable.AppendHeader(table.Row{"#", "Commit", "Score", "Date", "Author", "Message", "Signals"})

	for i, c := range r.Candidates {
		sha := c.SHA
		if len(sha) > shortSHALength {
			sha = sha[:shortSHALength]
		}
		mark := ""
		if c.MatchesTarget {
			mark = "*"
		}
		outputTable.AppendRow(table.Row{
			i + 1,
			sha + mark,
			c.Score,
			c.Date,
			c.Author,
			firstLine(c.Message),
			strings.Join(c.MatchedPatterns, "\n"),
		})
	}
	if r.TimeRange != nil {
		outputTable.AppendFooter(table.Row{"", "Window", "", r.TimeRange.Since + " .. " + r.TimeRange.Until})
	}

	outputTable.SetStyle(table.StyleRounded)
	outputTable.SetColumnConfigs([]table.ColumnConfig{
		{Number: 3, Align: text.AlignRight},
		{Number: 6, WidthMax: maxMessageWidth},
	})
	fitTerminal(outputTable, w)
	outputTable.Render()
}

func firstLine(s string) string {
	line, _, _ := strings.Cut(s, "\n")
	return line
}

// PrintStats renders the counters of a batch run.
func PrintStats(w io.Writer, s models.Stats) {
	outputTable := table.NewWriter()
	outputTable.SetOutputMirror(w)
	outputTable.SetTitle("Run statistics")
	outputTable.AppendHeader(table.Row{"Counter", "Value"})
	outputTable.AppendRows([]table.Row{
		{"Vulnerabilities", humanize.Comma(int64(s.Total))},
		{"Processed", humanize.Comma(int64(s.Processed))},
		{"Succeeded", humanize.Comma(int64(s.Succeeded))},
		{"Top candidate names the vulnerability", humanize.Comma(int64(s.TargetMatched))},
		{"No commits in window", humanize.Comma(int64(s.NoCommits))},
		{"Repository not found", humanize.Comma(int64(s.RepoNotFound))},
		{"Invalid repository", humanize.Comma(int64(s.InvalidRepo))},
		{"Skipped", humanize.Comma(int64(s.Skipped))},
		{"API errors", humanize.Comma(int64(s.APIErrors))},
		{"Commits fetched", humanize.Comma(int64(s.TotalCommits))},
		{"Average commits", fmt.Sprintf("%.1f", s.AvgCommits())},
		{"Duration", timestamps.FormatDuration(s.Duration)},
		{"Average time", timestamps.FormatDuration(s.AvgTime())},
	})
	outputTable.SetStyle(table.StyleRounded)
	fitTerminal(outputTable, w)
	outputTable.Render()
}

// Summary is a one line description of a finished run.
func Summary(s models.Stats, name string) string {
	return fmt.Sprintf("Processed %s of %s vulnerabilities, %s with a direct match, results in %s",
		humanize.Comma(int64(s.Processed)), humanize.Comma(int64(s.Total)),
		humanize.Comma(int64(s.TargetMatched)), name)
}
