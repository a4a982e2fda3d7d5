package matcher

import (
	"cmp"
	"math"
	"slices"

	"github.com/google/osv/fixfinder/models"
)

// Rank returns a copy of candidates sorted by descending score. Candidates
// with equal scores keep their relative order.
func Rank(candidates []MatchCandidate) []MatchCandidate {
	out := slices.Clone(candidates)
	if out == nil {
		out = []MatchCandidate{}
	}
	slices.SortStableFunc(out, func(a, b MatchCandidate) int {
		return cmp.Compare(b.Score, a.Score)
	})

	return out
}

// Filter scores every commit against target, keeps those scoring at least
// minScore and ranks them.
func (s *Scorer) Filter(commits []models.RawCommit, target string, minScore int) []MatchCandidate {
	kept := make([]MatchCandidate, 0, len(commits))
	for _, c := range commits {
		if m := s.AnalyzeCommit(c, target); m.Score >= minScore {
			kept = append(kept, m)
		}
	}

	return Rank(kept)
}

// TopN returns the n best candidates without any score threshold. A negative
// n is treated as zero.
func (s *Scorer) TopN(commits []models.RawCommit, target string, n int) []MatchCandidate {
	ranked := s.Filter(commits, target, math.MinInt)
	n = max(n, 0)
	if len(ranked) > n {
		ranked = ranked[:n]
	}

	return ranked
}

// Flatten converts ranked candidates to their serialized form.
func Flatten(candidates []MatchCandidate) []models.Candidate {
	out := make([]models.Candidate, len(candidates))
	for i, c := range candidates {
		out[i] = c.Flatten()
	}

	return out
}
