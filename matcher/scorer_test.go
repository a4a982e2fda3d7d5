package matcher

import (
	"fmt"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/osv/fixfinder/models"
)

func TestScore(t *testing.T) {
	tests := []struct {
		name        string
		message     string
		target      string
		wantScore   int
		wantSignals []Signal
	}{
		{
			name:      "direct mention with fix keywords",
			message:   "Fix CVE-2020-1234: buffer overflow in auth module",
			target:    "CVE-2020-1234",
			wantScore: 120,
			wantSignals: []Signal{
				{DirectMention, "CVE-2020-1234"},
				{FixKeyword, "fix"},
				{FixKeyword, "buffer overflow"},
			},
		},
		{
			name:      "documentation only",
			message:   "Update documentation",
			target:    "CVE-2020-0001",
			wantScore: -10,
			wantSignals: []Signal{
				{NoiseKeyword, "doc"},
				{NoiseKeyword, "documentation"},
			},
		},
		{
			name:      "lower case target and message",
			message:   "security patch for cve-2020-5678 and CVE-2020-9012",
			target:    "cve-2020-5678",
			wantScore: 140,
			wantSignals: []Signal{
				{DirectMention, "CVE-2020-5678"},
				{FixKeyword, "patch"},
				{FixKeyword, "security"},
				{CollateralMention, "CVE-2020-9012"},
			},
		},
		{
			name:      "short message",
			message:   "wip",
			target:    "CVE-2020-1234",
			wantScore: -10,
			wantSignals: []Signal{
				{ShortMessage, "3 characters"},
			},
		},
		{
			name:      "unmerged counts as merge",
			message:   "Handle unmerged index entries gracefully",
			target:    "CVE-2020-1234",
			wantScore: -5,
			wantSignals: []Signal{
				{NoiseKeyword, "merge"},
			},
		},
		{
			name:      "collateral mentions are sorted",
			message:   "Backport changes for CVE-2021-0002 and CVE-2021-0001 to stable",
			target:    "CVE-2020-1234",
			wantScore: 20,
			wantSignals: []Signal{
				{CollateralMention, "CVE-2021-0001, CVE-2021-0002"},
			},
		},
		{
			name:        "neutral message",
			message:     "Release 2.4 with new icons for the toolbar",
			target:      "CVE-2020-1234",
			wantScore:   0,
			wantSignals: nil,
		},
		{
			name:      "empty message",
			message:   "",
			target:    "CVE-2020-1234",
			wantScore: -10,
			wantSignals: []Signal{
				{ShortMessage, "0 characters"},
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, signals := Default().Score(tt.message, tt.target)
			if got != tt.wantScore {
				t.Errorf("Score(%q) = %d, want %d", tt.message, got, tt.wantScore)
			}
			if diff := cmp.Diff(tt.wantSignals, signals); diff != "" {
				t.Errorf("Score(%q) signals mismatch (-want +got):\n%s", tt.message, diff)
			}
		})
	}
}

func TestFixKeywordCap(t *testing.T) {
	msg := "fixes security vulnerability: sql injection, xss and csrf leading to remote code execution"
	b := Default().Breakdown(msg, "CVE-2020-1234")
	if b.Fix != FixKeywordCap {
		t.Errorf("Breakdown().Fix = %d, want %d", b.Fix, FixKeywordCap)
	}
	fixSignals := 0
	for _, s := range b.Signals {
		if s.Rule == FixKeyword {
			fixSignals++
		}
	}
	if fixSignals <= FixKeywordCap/FixKeywordPoints {
		t.Errorf("got %d fix signals, want every matched keyword listed beyond the cap", fixSignals)
	}
}

func TestNoiseKeywordCap(t *testing.T) {
	msg := "Merge tests, docs, readme typos, comments and formatting cleanup refactor"
	b := Default().Breakdown(msg, "CVE-2020-1234")
	if b.Noise != -NoiseCap {
		t.Errorf("Breakdown().Noise = %d, want %d", b.Noise, -NoiseCap)
	}
}

func TestSignalsExplainNonZeroScores(t *testing.T) {
	messages := []string{
		"",
		"x",
		"Fix typo",
		"Refactor parser for CVE-2019-11111",
		"Release 1.2.3 with assorted improvements",
		"Prevent use after free in decoder (CVE-2020-1234, CVE-2020-99999)",
		"Address review comments on testing harness",
	}
	for _, m := range messages {
		score, signals := Default().Score(m, "CVE-2020-1234")
		if score != 0 && len(signals) == 0 {
			t.Errorf("Score(%q) = %d with no signals", m, score)
		}
	}
}

func TestAnalyzeCommit(t *testing.T) {
	c := models.RawCommit{
		SHA:        "0123456789abcdef",
		Message:    "Mention CVE-2020-1234 in changelog docs, tests, comments, style, typo",
		AuthorName: "",
		AuthorDate: "2020-02-01T10:00:00Z",
	}
	got := Default().AnalyzeCommit(c, "CVE-2020-1234")
	if !got.MatchesTarget {
		t.Errorf("AnalyzeCommit().MatchesTarget = false for a message naming the target")
	}
	if got.Author != "Unknown" {
		t.Errorf("AnalyzeCommit().Author = %q, want Unknown", got.Author)
	}
	if got.Date != c.AuthorDate || got.SHA != c.SHA || got.Message != c.Message {
		t.Errorf("AnalyzeCommit() did not copy commit fields: %+v", got)
	}

	other := Default().AnalyzeCommit(models.RawCommit{SHA: "1", Message: "Fix heap overflow reported as CVE-2020-4321"}, "CVE-2020-1234")
	if other.MatchesTarget {
		t.Errorf("AnalyzeCommit().MatchesTarget = true for a different identifier")
	}
	if other.Score <= 0 {
		t.Errorf("AnalyzeCommit().Score = %d, want positive", other.Score)
	}
}

func TestFlatten(t *testing.T) {
	m := Default().AnalyzeCommit(models.RawCommit{SHA: "abc", Message: "Fix CVE-2020-1234", AuthorName: "dev", AuthorDate: "2020-01-01"}, "CVE-2020-1234")
	want := models.Candidate{
		SHA:             "abc",
		Message:         "Fix CVE-2020-1234",
		Author:          "dev",
		Date:            "2020-01-01",
		Score:           100,
		MatchedPatterns: []string{"Mentions target: CVE-2020-1234", "Fix keyword: fix", "Short message: 17 characters"},
		MatchesTarget:   true,
	}
	if diff := cmp.Diff(want, m.Flatten()); diff != "" {
		t.Errorf("Flatten() mismatch (-want +got):\n%s", diff)
	}
}

func TestNewScorer(t *testing.T) {
	if _, err := NewScorer(Signals{IDPattern: "CVE-(", FixKeywords: []string{"fix"}}); err == nil {
		t.Errorf("NewScorer(bad pattern) returned no error")
	}
	if _, err := NewScorer(Signals{FixKeywords: []string{"fix", " "}}); err == nil {
		t.Errorf("NewScorer(blank keyword) returned no error")
	}

	s, err := NewScorer(Signals{
		IDPattern:     `GHSA-[a-z0-9]{4}-[a-z0-9]{4}-[a-z0-9]{4}`,
		FixKeywords:   []string{"Harden", "harden"},
		NoiseKeywords: []string{"chore"},
	})
	if err != nil {
		t.Fatalf("NewScorer() error: %v", err)
	}
	score, signals := s.Score("Harden parser against GHSA-abcd-efgh-ijkl", "ghsa-abcd-efgh-ijkl")
	if want := DirectMentionPoints + FixKeywordPoints; score != want {
		t.Errorf("Score() = %d (%v), want %d", score, signals, want)
	}
}

func TestExtractIDs(t *testing.T) {
	got := Default().ExtractIDs("cve-2020-1234, CVE-2020-1234 and CVE-2019-1234567 but not CVE-20-1")
	want := []string{"CVE-2020-1234", "CVE-2019-1234567"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("ExtractIDs() mismatch (-want +got):\n%s", diff)
	}
}

func ExampleScorer_Score() {
	score, signals := Default().Score("Fix CVE-2020-1234: buffer overflow in auth module", "CVE-2020-1234")
	fmt.Println(score)
	for _, s := range signals {
		fmt.Println(s)
	}
	// Output:
	// 120
	// Mentions target: CVE-2020-1234
	// Fix keyword: fix
	// Fix keyword: buffer overflow
}

func TestScorer_Concurrent(t *testing.T) {
	commits := []models.RawCommit{
		{SHA: "a", Message: "Fix CVE-2023-1234 heap overflow in parser"},
		{SHA: "b", Message: "Update README and docs"},
		{SHA: "c", Message: "Security fix for input validation, see CVE-2022-0001"},
		{SHA: "d", Message: "typo"},
	}
	s := Default()
	wantScore, wantSignals := s.Score(commits[0].Message, "CVE-2023-1234")
	wantRanked := s.Filter(commits, "CVE-2023-1234", 0)

	for i := range 8 {
		t.Run(fmt.Sprintf("worker %d", i), func(t *testing.T) {
			t.Parallel()
			for range 50 {
				score, signals := s.Score(commits[0].Message, "cve-2023-1234")
				if score != wantScore {
					t.Fatalf("Score() = %d, want %d", score, wantScore)
				}
				if diff := cmp.Diff(wantSignals, signals); diff != "" {
					t.Fatalf("Score() signals mismatch (-want +got):\n%s", diff)
				}
				if diff := cmp.Diff(wantRanked, s.Filter(commits, "CVE-2023-1234", 0)); diff != "" {
					t.Fatalf("Filter() mismatch (-want +got):\n%s", diff)
				}
			}
		})
	}
}
