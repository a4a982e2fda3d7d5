// Package models holds the records that flow between the forge clients, the
// matcher and the store.
package models

import (
	"errors"
	"strings"
)

// ErrNotFound indicates that a requested entity was not found.
var ErrNotFound = errors.New("not found")

// VulnID is a canonical vulnerability identifier such as "CVE-2020-1234".
type VulnID string

// Normalize upper-cases the identifier and strips surrounding whitespace.
func (id VulnID) Normalize() VulnID {
	return VulnID(strings.ToUpper(strings.TrimSpace(string(id))))
}

// VulnerabilityRecord is a disclosed vulnerability with the repository it is
// attributed to.
type VulnerabilityRecord struct {
	ID          VulnID `json:"id"`
	DisclosedAt string `json:"published_date"`
	RepoURL     string `json:"repo_url,omitempty"`
}

// RawCommit is a commit as returned by a forge. Missing fields are empty strings.
type RawCommit struct {
	SHA            string `json:"sha"`
	Message        string `json:"message"`
	AuthorName     string `json:"author"`
	AuthorEmail    string `json:"author_email,omitempty"`
	AuthorDate     string `json:"date"`
	CommitterName  string `json:"committer,omitempty"`
	CommitterEmail string `json:"committer_email,omitempty"`
	CommitterDate  string `json:"committer_date,omitempty"`
	HTMLURL        string `json:"html_url,omitempty"`
}

// GroundTruthPair is a known fix for a vulnerability together with the score
// the matcher gave it.
type GroundTruthPair struct {
	VulnID      VulnID `json:"cve_id"`
	RepoURL     string `json:"repo_url"`
	SHA         string `json:"hash"`
	DisclosedAt string `json:"published_date"`
	CommittedAt string `json:"committer_date"`
	Score       int    `json:"score"`
}
