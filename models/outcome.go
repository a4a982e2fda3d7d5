package models

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/osv/fixfinder/utility/logger"
)

// Outcome categorizes how processing a single vulnerability ended.
type Outcome int

const (
	OutcomeUnknown Outcome = iota // Shouldn't happen
	Success                       // Commits were fetched and ranked.
	NoCommits                     // The window held no commits.
	RepoNotFound                  // The forge does not know the repository.
	InvalidRepo                   // The repository URL could not be parsed.
	Skipped                       // Deny listed or already processed.
	Failed                        // Any other error.
)

var outcomeNames = [...]string{"unknown", "success", "no_commits", "repo_not_found", "invalid_repo", "skipped", "error"}

func (o Outcome) String() string {
	if o < 0 || int(o) >= len(outcomeNames) {
		return fmt.Sprintf("Outcome(%d)", int(o))
	}

	return outcomeNames[o]
}

func (o Outcome) MarshalJSON() ([]byte, error) {
	return json.Marshal(o.String())
}

func (o *Outcome) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	for i, name := range outcomeNames {
		if name == s {
			*o = Outcome(i)
			return nil
		}
	}

	return fmt.Errorf("unknown outcome %q", s)
}

// TimeRange is the search window recorded with a result.
type TimeRange struct {
	Since string `json:"since"`
	Until string `json:"until"`
}

// Candidate is the flattened form of a scored commit.
type Candidate struct {
	SHA             string   `json:"sha"`
	Message         string   `json:"message"`
	Author          string   `json:"author"`
	Date            string   `json:"date"`
	Score           int      `json:"score"`
	MatchedPatterns []string `json:"matched_patterns"`
	MatchesTarget   bool     `json:"matches_target"`
}

// Result holds everything gathered while processing one vulnerability.
type Result struct {
	VulnID      VulnID      `json:"cve_id"`
	DisclosedAt string      `json:"published_date"`
	RepoURL     string      `json:"repo_url"`
	Outcome     Outcome     `json:"status"`
	Message     string      `json:"message,omitempty"`
	TimeRange   *TimeRange  `json:"time_range,omitempty"`
	Commits     []RawCommit `json:"commits"`
	Candidates  []Candidate `json:"candidates"`
	Notes       []string    `json:"notes,omitempty"`
	Elapsed     string      `json:"elapsed,omitempty"`
}

// AddNote adds a formatted note to the result and logs it at debug level.
func (r *Result) AddNote(format string, a ...any) {
	r.Notes = append(r.Notes, fmt.Sprintf(format, a...))
	logger.Debug(fmt.Sprintf(format, a...), slog.String("cve", string(r.VulnID)), slog.String("repo", r.RepoURL))
}

// Fail marks the result with outcome and a message derived from err.
func (r *Result) Fail(outcome Outcome, err error) {
	r.Outcome = outcome
	r.Message = err.Error()
}

// Top returns the highest ranked candidate, if any.
func (r *Result) Top() (Candidate, bool) {
	if len(r.Candidates) == 0 {
		return Candidate{}, false
	}

	return r.Candidates[0], true
}

// Stats are the counters kept across a batch run.
type Stats struct {
	Total         int           `json:"total_cves"`
	Processed     int           `json:"processed_cves"`
	Succeeded     int           `json:"successful"`
	TotalCommits  int           `json:"total_commits"`
	RepoNotFound  int           `json:"repo_not_found"`
	NoCommits     int           `json:"no_commits"`
	InvalidRepo   int           `json:"invalid_repo"`
	Skipped       int           `json:"skipped"`
	APIErrors     int           `json:"api_errors"`
	TargetMatched int           `json:"target_matched"`
	Duration      time.Duration `json:"duration_ns"`
}

// Record folds one result into the counters.
func (s *Stats) Record(r *Result) {
	s.Processed++
	s.TotalCommits += len(r.Commits)
	switch r.Outcome {
	case Success:
		s.Succeeded++
	case NoCommits:
		s.NoCommits++
	case RepoNotFound:
		s.RepoNotFound++
	case InvalidRepo:
		s.InvalidRepo++
	case Skipped:
		s.Skipped++
	case Failed, OutcomeUnknown:
		s.APIErrors++
	}
	if top, ok := r.Top(); ok && top.MatchesTarget {
		s.TargetMatched++
	}
}

// AvgCommits is the mean number of commits fetched per processed record.
func (s Stats) AvgCommits() float64 {
	if s.Processed == 0 {
		return 0
	}

	return float64(s.TotalCommits) / float64(s.Processed)
}

// AvgTime is the mean processing time per record.
func (s Stats) AvgTime() time.Duration {
	if s.Processed == 0 {
		return 0
	}

	return s.Duration / time.Duration(s.Processed)
}
