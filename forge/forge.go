// Package forge fetches commit history for repositories from code hosting
// services.
package forge

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/osv/fixfinder/git"
	"github.com/google/osv/fixfinder/models"
)

var (
	// ErrRepoNotFound wraps models.ErrNotFound so callers can test for either.
	ErrRepoNotFound = fmt.Errorf("repository %w", models.ErrNotFound)
	// ErrRateLimited is returned when the API refuses requests and the
	// limit does not reset soon enough to wait for it.
	ErrRateLimited = errors.New("rate limited or access denied")
	// ErrUnexpectedResponse is returned for bodies that cannot be decoded.
	ErrUnexpectedResponse = errors.New("unexpected api response")
	// ErrNoQuota is returned by sources that do not track an API quota.
	ErrNoQuota = errors.New("source has no api quota")
)

// CommitSource lists the commits of a repository committed within a window.
// since and until are second-precision UTC strings as produced by
// window.CalculateRange.
type CommitSource interface {
	RepoExists(ctx context.Context, r git.Repo) (bool, error)
	Commits(ctx context.Context, r git.Repo, since, until string) ([]models.RawCommit, error)
}

var (
	_ CommitSource = (*GitHub)(nil)
	_ CommitSource = (*git.LocalSource)(nil)
	_ CommitSource = ByHost{}
)

// ByHost dispatches to a source by repository host, falling back to Default.
type ByHost struct {
	Hosts   map[string]CommitSource
	Default CommitSource
}

func (b ByHost) source(r git.Repo) (CommitSource, error) {
	if s, ok := b.Hosts[r.Host]; ok {
		return s, nil
	}
	if b.Default == nil {
		return nil, fmt.Errorf("%w: no commit source for host %q", git.ErrUnsupportedURL, r.Host)
	}

	return b.Default, nil
}

func (b ByHost) RepoExists(ctx context.Context, r git.Repo) (bool, error) {
	s, err := b.source(r)
	if err != nil {
		return false, err
	}

	return s.RepoExists(ctx, r)
}

func (b ByHost) Commits(ctx context.Context, r git.Repo, since, until string) ([]models.RawCommit, error) {
	s, err := b.source(r)
	if err != nil {
		return nil, err
	}

	return s.Commits(ctx, r, since, until)
}

// RateLimit reports the quota of the first host source that tracks one.
func (b ByHost) RateLimit(ctx context.Context) (RateLimit, error) {
	for _, s := range b.Hosts {
		if rl, ok := s.(interface {
			RateLimit(ctx context.Context) (RateLimit, error)
		}); ok {
			return rl.RateLimit(ctx)
		}
	}

	return RateLimit{}, ErrNoQuota
}
