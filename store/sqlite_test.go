package store

import (
	"database/sql"
	"errors"
	"iter"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/osv/fixfinder/models"
)

func newTestStore(t *testing.T) *SQLite {
	t.Helper()
	s, err := Open(t.Context(), ":memory:")
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { s.Close() })

	return s
}

func collect[T any](t *testing.T, seq iter.Seq2[T, error]) []T {
	t.Helper()
	var out []T
	for v, err := range seq {
		if err != nil {
			t.Fatalf("iteration error = %v", err)
		}
		out = append(out, v)
	}

	return out
}

func seedVulnerabilities(t *testing.T, s *SQLite) {
	t.Helper()
	records := []*models.VulnerabilityRecord{
		{ID: "cve-2021-0003", DisclosedAt: "2021-03-01 00:00", RepoURL: "https://github.com/c/c"},
		{ID: "CVE-2021-0001", DisclosedAt: "2021-01-01 00:00", RepoURL: "https://github.com/a/a"},
		{ID: "CVE-2021-0002", DisclosedAt: "2021-02-01 00:00", RepoURL: "https://github.com/b/b"},
		{ID: "CVE-2021-0004", DisclosedAt: "2021-04-01 00:00"},
		{ID: "CVE-2021-0005", RepoURL: "https://github.com/e/e"},
	}
	for _, r := range records {
		if err := s.Put(t.Context(), r); err != nil {
			t.Fatalf("Put(%s) error = %v", r.ID, err)
		}
	}
}

func TestAll(t *testing.T) {
	s := newTestStore(t)
	seedVulnerabilities(t, s)

	got := collect(t, s.All(t.Context(), 0, 0))
	want := []*models.VulnerabilityRecord{
		{ID: "CVE-2021-0001", DisclosedAt: "2021-01-01 00:00", RepoURL: "https://github.com/a/a"},
		{ID: "CVE-2021-0002", DisclosedAt: "2021-02-01 00:00", RepoURL: "https://github.com/b/b"},
		{ID: "CVE-2021-0003", DisclosedAt: "2021-03-01 00:00", RepoURL: "https://github.com/c/c"},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("All() mismatch (-want +got):\n%s", diff)
	}

	n, err := s.Count(t.Context())
	if err != nil {
		t.Fatalf("Count() error = %v", err)
	}
	if n != 3 {
		t.Errorf("Count() = %d, want 3", n)
	}
}

func TestAll_LimitOffset(t *testing.T) {
	s := newTestStore(t)
	seedVulnerabilities(t, s)

	tests := []struct {
		limit, offset int
		want          []models.VulnID
	}{
		{limit: 2, offset: 0, want: []models.VulnID{"CVE-2021-0001", "CVE-2021-0002"}},
		{limit: 2, offset: 2, want: []models.VulnID{"CVE-2021-0003"}},
		{limit: 0, offset: 1, want: []models.VulnID{"CVE-2021-0002", "CVE-2021-0003"}},
		{limit: 5, offset: 10, want: nil},
	}
	for _, tt := range tests {
		var ids []models.VulnID
		for _, v := range collect(t, s.All(t.Context(), tt.limit, tt.offset)) {
			ids = append(ids, v.ID)
		}
		if diff := cmp.Diff(tt.want, ids); diff != "" {
			t.Errorf("All(%d, %d) mismatch (-want +got):\n%s", tt.limit, tt.offset, diff)
		}
	}
}

func TestGet(t *testing.T) {
	s := newTestStore(t)
	seedVulnerabilities(t, s)

	got, err := s.Get(t.Context(), " cve-2021-0002 ")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	want := &models.VulnerabilityRecord{ID: "CVE-2021-0002", DisclosedAt: "2021-02-01 00:00", RepoURL: "https://github.com/b/b"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Get() mismatch (-want +got):\n%s", diff)
	}

	got, err = s.Get(t.Context(), "CVE-2021-0004")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.RepoURL != "" {
		t.Errorf("Get(no repo).RepoURL = %q, want empty", got.RepoURL)
	}

	if _, err := s.Get(t.Context(), "CVE-1999-0001"); !errors.Is(err, models.ErrNotFound) {
		t.Errorf("Get(missing) error = %v, want ErrNotFound", err)
	}
}

func TestPutKeepsDisclosureDate(t *testing.T) {
	s := newTestStore(t)
	ctx := t.Context()
	if err := s.Put(ctx, &models.VulnerabilityRecord{ID: "CVE-2022-1", DisclosedAt: "2022-01-01 00:00"}); err != nil {
		t.Fatal(err)
	}
	if err := s.Put(ctx, &models.VulnerabilityRecord{ID: "CVE-2022-1", RepoURL: "https://github.com/x/y"}); err != nil {
		t.Fatal(err)
	}

	got, err := s.Get(ctx, "CVE-2022-1")
	if err != nil {
		t.Fatal(err)
	}
	want := &models.VulnerabilityRecord{ID: "CVE-2022-1", DisclosedAt: "2022-01-01 00:00", RepoURL: "https://github.com/x/y"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Get() mismatch (-want +got):\n%s", diff)
	}
}

func TestPairs(t *testing.T) {
	s := newTestStore(t)
	ctx := t.Context()
	pairs := []*models.GroundTruthPair{
		{VulnID: "CVE-2020-0001", RepoURL: "https://github.com/a/a", SHA: "aaa", DisclosedAt: "2020-01-10 00:00", CommittedAt: "2020-01-05T00:00:00Z", Score: 80},
		{VulnID: "CVE-2020-0002", RepoURL: "https://github.com/b/b", SHA: "bbb", DisclosedAt: "2020-02-10 00:00", CommittedAt: "2020-03-01T00:00:00Z", Score: 65},
		{VulnID: "CVE-2020-0003", RepoURL: "https://github.com/c/c", SHA: "ccc", DisclosedAt: "2020-03-10 00:00", CommittedAt: "2020-03-11T00:00:00Z", Score: 40},
		{VulnID: "CVE-2020-0004", RepoURL: "https://github.com/d/d", SHA: "ddd", DisclosedAt: "2020-04-10 00:00", Score: 100},
	}
	for _, p := range pairs {
		if err := s.PutPair(ctx, p); err != nil {
			t.Fatalf("PutPair(%s) error = %v", p.VulnID, err)
		}
	}

	got := collect(t, s.Pairs(ctx, 65))
	want := []*models.GroundTruthPair{pairs[0], pairs[1]}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Pairs(65) mismatch (-want +got):\n%s", diff)
	}

	// Commit dates may arrive later from a fetch.
	err := s.PutCommits(ctx, "https://github.com/d/d", []models.RawCommit{{SHA: "ddd", CommitterDate: "2020-04-01T00:00:00Z"}})
	if err != nil {
		t.Fatalf("PutCommits() error = %v", err)
	}
	if got := collect(t, s.Pairs(ctx, 65)); len(got) != 3 {
		t.Errorf("Pairs(65) after PutCommits returned %d pairs, want 3", len(got))
	}
}

func TestKnownFixes(t *testing.T) {
	s := newTestStore(t)
	ctx := t.Context()
	for _, p := range []*models.GroundTruthPair{
		{VulnID: "CVE-2020-0001", RepoURL: "r", SHA: "low", Score: 10},
		{VulnID: "CVE-2020-0001", RepoURL: "r", SHA: "high", Score: 90},
	} {
		if err := s.PutPair(ctx, p); err != nil {
			t.Fatal(err)
		}
	}

	got, err := s.KnownFixes(ctx, "cve-2020-0001")
	if err != nil {
		t.Fatalf("KnownFixes() error = %v", err)
	}
	if diff := cmp.Diff([]string{"high", "low"}, got); diff != "" {
		t.Errorf("KnownFixes() mismatch (-want +got):\n%s", diff)
	}
}

func TestCandidates(t *testing.T) {
	s := newTestStore(t)
	ctx := t.Context()
	candidates := []models.Candidate{
		{SHA: "a", Message: "Fix CVE-2021-1", Author: "x", Date: "2021-01-01T00:00:00Z", Score: 110, MatchedPatterns: []string{"Mentions target: CVE-2021-1", "Fix keyword: fix"}, MatchesTarget: true},
		{SHA: "b", Message: "docs", Author: "y", Date: "2021-01-02T00:00:00Z", Score: -15, MatchedPatterns: []string{}},
	}
	if err := s.PutCandidates(ctx, "CVE-2021-1", "https://github.com/a/a", candidates); err != nil {
		t.Fatalf("PutCandidates() error = %v", err)
	}

	got, err := s.Candidates(ctx, "cve-2021-1", "https://github.com/a/a")
	if err != nil {
		t.Fatalf("Candidates() error = %v", err)
	}
	if diff := cmp.Diff(candidates, got); diff != "" {
		t.Errorf("Candidates() mismatch (-want +got):\n%s", diff)
	}

	// Replacing drops old rows.
	if err := s.PutCandidates(ctx, "CVE-2021-1", "https://github.com/a/a", candidates[1:]); err != nil {
		t.Fatal(err)
	}
	got, err = s.Candidates(ctx, "CVE-2021-1", "https://github.com/a/a")
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(candidates[1:], got); diff != "" {
		t.Errorf("Candidates() after replace mismatch (-want +got):\n%s", diff)
	}
}

func TestCandidates_PerRepository(t *testing.T) {
	s := newTestStore(t)
	ctx := t.Context()
	for _, repo := range []string{"https://github.com/a/a", "https://github.com/b/b"} {
		if err := s.Put(ctx, &models.VulnerabilityRecord{ID: "CVE-2021-1", DisclosedAt: "2021-01-01 00:00", RepoURL: repo}); err != nil {
			t.Fatal(err)
		}
	}
	want := map[string][]models.Candidate{
		"https://github.com/a/a": {{SHA: "aaa", Message: "Fix CVE-2021-1", Score: 110, MatchedPatterns: []string{"Mentions target: CVE-2021-1"}, MatchesTarget: true}},
		"https://github.com/b/b": {{SHA: "bbb", Message: "Fix overflow", Score: 10, MatchedPatterns: []string{"Fix keyword: fix"}}},
	}
	for _, repo := range []string{"https://github.com/a/a", "https://github.com/b/b"} {
		if err := s.PutCandidates(ctx, "CVE-2021-1", repo, want[repo]); err != nil {
			t.Fatalf("PutCandidates(%s) error = %v", repo, err)
		}
	}

	for repo, cands := range want {
		got, err := s.Candidates(ctx, "CVE-2021-1", repo)
		if err != nil {
			t.Fatalf("Candidates(%s) error = %v", repo, err)
		}
		if diff := cmp.Diff(cands, got); diff != "" {
			t.Errorf("Candidates(%s) mismatch (-want +got):\n%s", repo, diff)
		}
	}

	got, err := s.Candidates(ctx, "CVE-2021-1", "https://github.com/c/c")
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 0 {
		t.Errorf("Candidates(unlinked repository) = %v, want empty", got)
	}
}

func TestOpen_MigratesCandidates(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fixfinder.db")
	db, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatal(err)
	}
	legacy := `
		CREATE TABLE candidates (
			cve_id TEXT NOT NULL, rank INTEGER NOT NULL, repo_url TEXT NOT NULL, hash TEXT NOT NULL,
			message TEXT NOT NULL, author TEXT NOT NULL, date TEXT NOT NULL, score INTEGER NOT NULL,
			matched_patterns TEXT NOT NULL, matches_target INTEGER NOT NULL,
			PRIMARY KEY (cve_id, rank));
		CREATE TABLE schema_version (version INTEGER PRIMARY KEY);
		INSERT INTO schema_version (version) VALUES (1);
		INSERT INTO candidates VALUES ('CVE-2021-1', 0, 'https://github.com/a/a', 'old', '', '', '', 0, '[]', 0);`
	if _, err := db.ExecContext(t.Context(), legacy); err != nil {
		t.Fatal(err)
	}
	db.Close()

	s, err := Open(t.Context(), path)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer s.Close()
	got, err := s.Candidates(t.Context(), "CVE-2021-1", "https://github.com/a/a")
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 0 {
		t.Errorf("Candidates() after migration = %v, want empty", got)
	}

	// Two repositories may now share a rank.
	for _, repo := range []string{"https://github.com/a/a", "https://github.com/b/b"} {
		if err := s.PutCandidates(t.Context(), "CVE-2021-1", repo, []models.Candidate{{SHA: "x", MatchedPatterns: []string{}}}); err != nil {
			t.Errorf("PutCandidates(%s) error = %v", repo, err)
		}
	}
}

func TestOpen_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "fixfinder.db")
	s, err := Open(t.Context(), path)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if err := s.Put(t.Context(), &models.VulnerabilityRecord{ID: "CVE-2020-1", DisclosedAt: "2020-01-01 00:00", RepoURL: "u"}); err != nil {
		t.Fatal(err)
	}
	s.Close()

	s, err = Open(t.Context(), path)
	if err != nil {
		t.Fatalf("reopen error = %v", err)
	}
	defer s.Close()
	if n, err := s.Count(t.Context()); err != nil || n != 1 {
		t.Errorf("Count() after reopen = %d, %v, want 1", n, err)
	}
}
