package models

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func TestOutcomeJSON(t *testing.T) {
	for o := OutcomeUnknown; o <= Failed; o++ {
		b, err := json.Marshal(o)
		if err != nil {
			t.Fatalf("Marshal(%v) error: %v", o, err)
		}
		var got Outcome
		if err := json.Unmarshal(b, &got); err != nil {
			t.Fatalf("Unmarshal(%s) error: %v", b, err)
		}
		if got != o {
			t.Errorf("Outcome round trip through %s = %v, want %v", b, got, o)
		}
	}

	var o Outcome
	if err := json.Unmarshal([]byte(`"exploded"`), &o); err == nil {
		t.Errorf("Unmarshal(unknown outcome) returned no error")
	}
	if got := Outcome(42).String(); got != "Outcome(42)" {
		t.Errorf("Outcome(42).String() = %q", got)
	}
}

func TestStatsRecord(t *testing.T) {
	results := []*Result{
		{Outcome: Success, Commits: make([]RawCommit, 4), Candidates: []Candidate{{SHA: "a", MatchesTarget: true}}},
		{Outcome: Success, Commits: make([]RawCommit, 2), Candidates: []Candidate{{SHA: "b"}}},
		{Outcome: NoCommits},
		{Outcome: RepoNotFound},
		{Outcome: InvalidRepo},
		{Outcome: Failed},
		{Outcome: Skipped},
	}
	var s Stats
	for _, r := range results {
		s.Record(r)
	}
	s.Duration = 14 * time.Second

	want := Stats{
		Processed:     7,
		Succeeded:     2,
		TotalCommits:  6,
		RepoNotFound:  1,
		NoCommits:     1,
		InvalidRepo:   1,
		Skipped:       1,
		APIErrors:     1,
		TargetMatched: 1,
		Duration:      14 * time.Second,
	}
	if diff := cmp.Diff(want, s); diff != "" {
		t.Errorf("Stats mismatch (-want +got):\n%s", diff)
	}
	if got := s.AvgCommits(); got != 6.0/7.0 {
		t.Errorf("AvgCommits() = %v", got)
	}
	if got := s.AvgTime(); got != 2*time.Second {
		t.Errorf("AvgTime() = %v, want 2s", got)
	}
	if got := (Stats{}).AvgTime(); got != 0 {
		t.Errorf("empty AvgTime() = %v, want 0", got)
	}
}

func TestResultHelpers(t *testing.T) {
	r := &Result{VulnID: "CVE-2020-1234"}
	if _, ok := r.Top(); ok {
		t.Errorf("Top() on empty result returned ok")
	}
	r.Fail(RepoNotFound, errors.New("repository example/missing not found"))
	if r.Outcome != RepoNotFound || r.Message != "repository example/missing not found" {
		t.Errorf("Fail() left result as %+v", r)
	}
	r.AddNote("fetched %d pages", 3)
	if diff := cmp.Diff([]string{"fetched 3 pages"}, r.Notes); diff != "" {
		t.Errorf("Notes mismatch (-want +got):\n%s", diff)
	}
}

func TestVulnIDNormalize(t *testing.T) {
	if got := VulnID(" cve-2021-44228 ").Normalize(); got != "CVE-2021-44228" {
		t.Errorf("Normalize() = %q", got)
	}
}
