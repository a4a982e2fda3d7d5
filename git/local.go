package git

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/plumbing/transport"
	"github.com/go-git/go-git/v5/storage/memory"
	"github.com/google/osv/fixfinder/models"
	"github.com/google/osv/fixfinder/timestamps"
	"github.com/google/osv/fixfinder/utility/logger"
)

// RemoteExists lists the remote's references to check that it can be cloned.
// An empty remote repository exists.
func RemoteExists(ctx context.Context, repo Repo) (bool, error) {
	remote := git.NewRemote(memory.NewStorage(), &config.RemoteConfig{
		Name: "source",
		URLs: []string{repo.CloneURL()},
	})
	_, err := remote.ListContext(ctx, &git.ListOptions{})
	switch {
	case err == nil, errors.Is(err, transport.ErrEmptyRemoteRepository):
		return true, nil
	case errors.Is(err, transport.ErrRepositoryNotFound), errors.Is(err, transport.ErrAuthenticationRequired):
		return false, nil
	default:
		return false, fmt.Errorf("listing %s: %w", repo, err)
	}
}

// LocalSource reads commit history from clones kept under a directory. Clones
// are created on first use and fetched on later runs.
type LocalSource struct {
	dir string

	// mu guards the maps only, never a clone or fetch.
	mu    sync.Mutex
	repos map[string]*git.Repository
	// syncing holds one lock per repository so concurrent callers clone it
	// once while other repositories proceed.
	syncing map[string]*sync.Mutex
}

// NewLocalSource keeps clones under dir.
func NewLocalSource(dir string) *LocalSource {
	return &LocalSource{
		dir:     dir,
		repos:   make(map[string]*git.Repository),
		syncing: make(map[string]*sync.Mutex),
	}
}

// Add registers an already opened repository, for example an in-memory one.
func (s *LocalSource) Add(r Repo, repo *git.Repository) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.repos[r.String()] = repo
}

// RepoExists reports whether the repository is registered, cloned, or
// reachable on its remote.
func (s *LocalSource) RepoExists(ctx context.Context, r Repo) (bool, error) {
	s.mu.Lock()
	_, ok := s.repos[r.String()]
	s.mu.Unlock()
	if ok {
		return true, nil
	}
	if s.dir != "" {
		if _, err := os.Stat(s.path(r)); err == nil {
			return true, nil
		}
	}

	return RemoteExists(ctx, r)
}

func (s *LocalSource) path(r Repo) string {
	return filepath.Join(s.dir, r.Host, r.Owner, r.Name)
}

// lookup returns the opened repository for key, or the lock that must be held
// while opening it.
func (s *LocalSource) lookup(key string) (*git.Repository, *sync.Mutex) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if repo, ok := s.repos[key]; ok {
		return repo, nil
	}
	l, ok := s.syncing[key]
	if !ok {
		l = &sync.Mutex{}
		s.syncing[key] = l
	}

	return nil, l
}

func (s *LocalSource) open(ctx context.Context, r Repo) (*git.Repository, error) {
	key := r.String()
	repo, l := s.lookup(key)
	if repo != nil {
		return repo, nil
	}
	if s.dir == "" {
		return nil, fmt.Errorf("%s: %w", r, models.ErrNotFound)
	}

	l.Lock()
	defer l.Unlock()
	// Another caller may have opened it while this one waited.
	if repo, _ := s.lookup(key); repo != nil {
		return repo, nil
	}
	repo, err := s.sync(ctx, r)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.repos[key] = repo
	s.mu.Unlock()

	return repo, nil
}

// sync fetches an existing clone of r or creates a bare one.
func (s *LocalSource) sync(ctx context.Context, r Repo) (*git.Repository, error) {
	path := s.path(r)
	repo, err := git.PlainOpen(path)
	switch {
	case err == nil:
		logger.DebugContext(ctx, "Fetching existing clone", slog.String("repo", r.String()), slog.String("path", path))
		err = repo.FetchContext(ctx, &git.FetchOptions{RemoteName: "origin", Tags: git.NoTags})
		if err != nil && !errors.Is(err, git.NoErrAlreadyUpToDate) {
			return nil, fmt.Errorf("fetching %s: %w", r, err)
		}
	case errors.Is(err, git.ErrRepositoryNotExists):
		logger.InfoContext(ctx, "Cloning repository", slog.String("repo", r.String()), slog.String("path", path))
		repo, err = git.PlainCloneContext(ctx, path, true, &git.CloneOptions{
			URL:  r.CloneURL(),
			Tags: git.NoTags,
		})
		if errors.Is(err, transport.ErrRepositoryNotFound) {
			return nil, fmt.Errorf("%s: %w", r, models.ErrNotFound)
		}
		if err != nil {
			return nil, fmt.Errorf("cloning %s: %w", r, err)
		}
	default:
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}

	return repo, nil
}

// Commits returns the commits reachable from HEAD whose committer date lies
// in [since, until], newest first.
func (s *LocalSource) Commits(ctx context.Context, r Repo, since, until string) ([]models.RawCommit, error) {
	from, err := timestamps.Parse(since, timestamps.Disclosure)
	if err != nil {
		return nil, err
	}
	to, err := timestamps.Parse(until, timestamps.Disclosure)
	if err != nil {
		return nil, err
	}
	repo, err := s.open(ctx, r)
	if err != nil {
		return nil, err
	}

	return Log(ctx, repo, r, from, to)
}

// Log walks the history of repo from HEAD and returns the commits committed
// within [from, to].
func Log(ctx context.Context, repo *git.Repository, r Repo, from, to time.Time) ([]models.RawCommit, error) {
	iter, err := repo.Log(&git.LogOptions{Since: &from, Until: &to})
	if errors.Is(err, plumbing.ErrReferenceNotFound) {
		// Empty repository.
		return []models.RawCommit{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading log of %s: %w", r, err)
	}
	defer iter.Close()

	commits := []models.RawCommit{}
	err = iter.ForEach(func(c *object.Commit) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		commits = append(commits, toRawCommit(r, c))

		return nil
	})
	if err != nil {
		return nil, err
	}

	return commits, nil
}

func toRawCommit(r Repo, c *object.Commit) models.RawCommit {
	sha := c.Hash.String()

	return models.RawCommit{
		SHA:            sha,
		Message:        strings.TrimRight(c.Message, "\n"),
		AuthorName:     c.Author.Name,
		AuthorEmail:    c.Author.Email,
		AuthorDate:     c.Author.When.UTC().Format(time.RFC3339),
		CommitterName:  c.Committer.Name,
		CommitterEmail: c.Committer.Email,
		CommitterDate:  c.Committer.When.UTC().Format(time.RFC3339),
		HTMLURL:        r.CommitURL(sha),
	}
}
