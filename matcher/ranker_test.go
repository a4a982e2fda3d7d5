package matcher

import (
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/osv/fixfinder/models"
)

const target = "CVE-2020-1234"

var commits = []models.RawCommit{
	{SHA: "a1", Message: "Release 2.4 with new icons for the toolbar"},                 // 0
	{SHA: "b2", Message: "Fix CVE-2020-1234: buffer overflow in auth module"},          // 120
	{SHA: "c3", Message: "Update documentation"},                                       // -10
	{SHA: "d4", Message: "Release 1.2.3 with assorted improvements"},                   // 0
	{SHA: "e5", Message: "Fix heap overflow reported as CVE-2020-4321"},                // 30
	{SHA: "f6", Message: "Release 2.5 with new icons for the status bar and the menu"}, // 0
}

func shas(ms []MatchCandidate) []string {
	out := make([]string, len(ms))
	for i, m := range ms {
		out[i] = m.SHA
	}

	return out
}

func TestFilter(t *testing.T) {
	tests := []struct {
		name     string
		minScore int
		want     []string
	}{
		{"zero threshold keeps ties in input order", 0, []string{"b2", "e5", "a1", "d4", "f6"}},
		{"high threshold", 100, []string{"b2"}},
		{"negative threshold keeps everything", -100, []string{"b2", "e5", "a1", "d4", "f6", "c3"}},
		{"nothing passes", 500, []string{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Default().Filter(commits, target, tt.minScore)
			if diff := cmp.Diff(tt.want, shas(got)); diff != "" {
				t.Errorf("Filter(minScore=%d) mismatch (-want +got):\n%s", tt.minScore, diff)
			}
			for _, m := range got {
				if m.Score < tt.minScore {
					t.Errorf("Filter(minScore=%d) kept %s with score %d", tt.minScore, m.SHA, m.Score)
				}
			}
		})
	}
}

func TestFilterEmpty(t *testing.T) {
	got := Default().Filter(nil, target, 0)
	if got == nil || len(got) != 0 {
		t.Errorf("Filter(nil) = %#v, want empty non-nil slice", got)
	}
}

func TestTopN(t *testing.T) {
	all := shas(Default().Filter(commits, target, math.MinInt))
	for n := -1; n <= len(commits)+1; n++ {
		got := shas(Default().TopN(commits, target, n))
		wantLen := min(max(n, 0), len(commits))
		if len(got) != wantLen {
			t.Errorf("TopN(%d) returned %d candidates, want %d", n, len(got), wantLen)
			continue
		}
		if diff := cmp.Diff(all[:wantLen], got); diff != "" {
			t.Errorf("TopN(%d) is not a prefix of the full ranking (-want +got):\n%s", n, diff)
		}
	}
}

func TestRankDoesNotMutate(t *testing.T) {
	in := []MatchCandidate{
		{SHA: "x", Score: 1},
		{SHA: "y", Score: 5},
		{SHA: "z", Score: 1},
	}
	orig := append([]MatchCandidate{}, in...)
	got := Rank(in)
	if diff := cmp.Diff(orig, in); diff != "" {
		t.Errorf("Rank() mutated its input (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"y", "x", "z"}, shas(got)); diff != "" {
		t.Errorf("Rank() order mismatch (-want +got):\n%s", diff)
	}
}
