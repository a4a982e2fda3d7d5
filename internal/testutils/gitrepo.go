package testutils

import (
	"testing"
	"time"

	"github.com/go-git/go-billy/v5/memfs"
	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/storage/memory"
)

// TestCommit describes one commit made by NewGitRepo.
type TestCommit struct {
	Message string
	Author  string
	Email   string
	When    time.Time
}

// NewGitRepo builds an in-memory repository with the given commits applied
// in order, and returns it with the commit hashes.
func NewGitRepo(t *testing.T, commits ...TestCommit) (*git.Repository, []string) {
	t.Helper()

	repo, err := git.Init(memory.NewStorage(), memfs.New())
	if err != nil {
		t.Fatalf("git.Init() error = %v", err)
	}
	wt, err := repo.Worktree()
	if err != nil {
		t.Fatalf("Worktree() error = %v", err)
	}

	hashes := make([]string, 0, len(commits))
	for _, c := range commits {
		sig := &object.Signature{Name: c.Author, Email: c.Email, When: c.When}
		if sig.Name == "" {
			sig.Name = "Test Author"
		}
		if sig.Email == "" {
			sig.Email = "author@example.com"
		}
		h, err := wt.Commit(c.Message, &git.CommitOptions{
			Author:            sig,
			Committer:         sig,
			AllowEmptyCommits: true,
		})
		if err != nil {
			t.Fatalf("Commit(%q) error = %v", c.Message, err)
		}
		hashes = append(hashes, h.String())
	}

	return repo, hashes
}
