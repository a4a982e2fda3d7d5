package models

import (
	"context"
	"iter"
)

// VulnerabilityStore provides the vulnerabilities to process.
type VulnerabilityStore interface {
	// Get returns a single vulnerability, or ErrNotFound.
	Get(ctx context.Context, id VulnID) (*VulnerabilityRecord, error)
	// All returns vulnerabilities with a repository attached, ordered by ID.
	// A limit of 0 means no limit.
	All(ctx context.Context, limit, offset int) iter.Seq2[*VulnerabilityRecord, error]
	// Count returns the number of vulnerabilities with a repository attached.
	Count(ctx context.Context) (int, error)
	Put(ctx context.Context, v *VulnerabilityRecord) error
}

// GroundTruthStore provides known fixes.
type GroundTruthStore interface {
	// Pairs returns known fixes whose recorded score is at least minScore.
	Pairs(ctx context.Context, minScore int) iter.Seq2[*GroundTruthPair, error]
	PutPair(ctx context.Context, p *GroundTruthPair) error
}

// CandidateStore persists ranked candidates per vulnerability and
// repository. A vulnerability linked to several repositories keeps one
// candidate list for each.
type CandidateStore interface {
	PutCandidates(ctx context.Context, id VulnID, repoURL string, candidates []Candidate) error
	Candidates(ctx context.Context, id VulnID, repoURL string) ([]Candidate, error)
}
