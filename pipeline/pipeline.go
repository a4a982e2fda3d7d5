// Package pipeline matches batches of vulnerabilities to their likely fix
// commits.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/google/osv/fixfinder/forge"
	"github.com/google/osv/fixfinder/git"
	"github.com/google/osv/fixfinder/matcher"
	"github.com/google/osv/fixfinder/models"
	"github.com/google/osv/fixfinder/report"
	"github.com/google/osv/fixfinder/timestamps"
	"github.com/google/osv/fixfinder/triage"
	"github.com/google/osv/fixfinder/utility/logger"
	"github.com/google/osv/fixfinder/window"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

type ctxKey string

const (
	vulnIDKey ctxKey = "vuln_id"
	runIDKey  ctxKey = "run_id"
)

func init() {
	logger.RegisterContextKey(vulnIDKey, "cve")
	logger.RegisterContextKey(runIDKey, "run_id")
}

var tracer = otel.Tracer("github.com/google/osv/fixfinder/pipeline")

// CommitRecorder stores fetched commits, for later ground-truth joins.
type CommitRecorder interface {
	PutCommits(ctx context.Context, repoURL string, commits []models.RawCommit) error
}

// KnownFixer returns the recorded fixes of a vulnerability.
type KnownFixer interface {
	KnownFixes(ctx context.Context, id models.VulnID) ([]string, error)
}

// Options configures a Pipeline. Source is required. A zero Window searches
// only the disclosure instant.
type Options struct {
	Source forge.CommitSource
	Window window.Calculator
	Scorer *matcher.Scorer

	// MinScore drops candidates scoring below it. TopN keeps the best n
	// candidates; 0 keeps all.
	MinScore int
	TopN     int

	Workers   int
	BatchSize int

	DenyList *triage.DenyList

	// Optional sinks.
	Candidates models.CandidateStore
	Commits    CommitRecorder
	KnownFixes KnownFixer
	Writer     *report.Writer
	ExportOSV  bool
}

// Pipeline processes vulnerabilities against a commit source.
type Pipeline struct {
	opts Options
	now  func() time.Time
}

// New validates opts and fills in defaults.
func New(opts Options) (*Pipeline, error) {
	if opts.Source == nil {
		return nil, errors.New("pipeline: no commit source")
	}
	if opts.Scorer == nil {
		opts.Scorer = matcher.Default()
	}
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 10
	}
	if opts.DenyList == nil {
		opts.DenyList = &triage.DenyList{}
	}

	return &Pipeline{opts: opts, now: time.Now}, nil
}

// Process matches one vulnerability. Failures are recorded in the result's
// outcome rather than returned.
func (p *Pipeline) Process(ctx context.Context, v *models.VulnerabilityRecord) *models.Result {
	start := p.now()
	id := v.ID.Normalize()
	ctx = context.WithValue(ctx, vulnIDKey, string(id))
	ctx, span := tracer.Start(ctx, "process", trace.WithAttributes(
		attribute.String("vuln_id", string(id)),
		attribute.String("repo_url", v.RepoURL),
	))
	defer span.End()

	r := &models.Result{
		VulnID:      id,
		DisclosedAt: v.DisclosedAt,
		RepoURL:     v.RepoURL,
		Commits:     []models.RawCommit{},
		Candidates:  []models.Candidate{},
	}
	p.process(ctx, r)
	r.Elapsed = timestamps.FormatDuration(p.now().Sub(start))

	span.SetAttributes(
		attribute.String("outcome", r.Outcome.String()),
		attribute.Int("commits", len(r.Commits)),
		attribute.Int("candidates", len(r.Candidates)),
	)
	if r.Outcome == models.Failed {
		span.SetStatus(codes.Error, r.Message)
	}

	return r
}

func (p *Pipeline) process(ctx context.Context, r *models.Result) {
	if p.opts.DenyList.CheckID(string(r.VulnID)) {
		r.Outcome = models.Skipped
		r.Message = "vulnerability is deny listed"

		return
	}

	repo, err := git.ParseRepoURL(r.RepoURL)
	if err != nil {
		r.Fail(models.InvalidRepo, err)
		return
	}
	if p.opts.DenyList.CheckRepo(repo.FullName()) {
		r.Outcome = models.Skipped
		r.Message = fmt.Sprintf("repository %s is deny listed", repo.FullName())

		return
	}

	since, until, err := p.opts.Window.Range(r.DisclosedAt)
	if err != nil {
		r.Fail(models.Failed, err)
		return
	}
	r.TimeRange = &models.TimeRange{Since: since, Until: until}

	exists, err := p.opts.Source.RepoExists(ctx, repo)
	if err != nil {
		logger.WarnContext(ctx, "Repository check failed", slog.String("repo", repo.String()), slog.Any("err", err))
		r.Fail(models.Failed, err)

		return
	}
	if !exists {
		r.Outcome = models.RepoNotFound
		r.Message = fmt.Sprintf("repository %s does not exist or is not accessible", repo)

		return
	}

	commits, err := p.opts.Source.Commits(ctx, repo, since, until)
	switch {
	case errors.Is(err, models.ErrNotFound):
		r.Fail(models.RepoNotFound, err)
		return
	case err != nil:
		logger.WarnContext(ctx, "Fetching commits failed", slog.String("repo", repo.String()), slog.Any("err", err))
		r.Fail(models.Failed, err)

		return
	}
	if len(commits) == 0 {
		r.Outcome = models.NoCommits
		r.Message = "no commits in the search window"

		return
	}
	r.Commits = commits

	ranked := p.opts.Scorer.Filter(commits, string(r.VulnID), p.opts.MinScore)
	if p.opts.TopN > 0 && len(ranked) > p.opts.TopN {
		ranked = ranked[:p.opts.TopN]
	}
	r.Candidates = matcher.Flatten(ranked)
	r.Outcome = models.Success
	r.Message = fmt.Sprintf("scored %d commits, kept %d candidates", len(commits), len(r.Candidates))
	if top, ok := r.Top(); ok && top.MatchesTarget {
		r.AddNote("Top candidate %s mentions %s", top.SHA, r.VulnID)
	}
	p.noteKnownFixes(ctx, r)
}

// noteKnownFixes records where recorded fixes landed in the ranking.
func (p *Pipeline) noteKnownFixes(ctx context.Context, r *models.Result) {
	if p.opts.KnownFixes == nil {
		return
	}
	fixes, err := p.opts.KnownFixes.KnownFixes(ctx, r.VulnID)
	if err != nil {
		logger.WarnContext(ctx, "Failed to read known fixes", slog.Any("err", err))
		return
	}
	for _, sha := range fixes {
		rank := slices.IndexFunc(r.Candidates, func(c models.Candidate) bool { return c.SHA == sha })
		if rank < 0 {
			r.AddNote("Known fix %s not among candidates", sha)
		} else {
			r.AddNote("Known fix %s ranked %d", sha, rank+1)
		}
	}
}

// persist stores a finished result in the configured sinks. Sink failures
// are logged and noted on the result.
func (p *Pipeline) persist(ctx context.Context, r *models.Result) {
	if p.opts.Commits != nil && len(r.Commits) > 0 {
		if err := p.opts.Commits.PutCommits(ctx, r.RepoURL, r.Commits); err != nil {
			logger.ErrorContext(ctx, "Failed to store commits", slog.Any("err", err))
		}
	}
	if p.opts.Candidates != nil && r.Outcome == models.Success {
		if err := p.opts.Candidates.PutCandidates(ctx, r.VulnID, r.RepoURL, r.Candidates); err != nil {
			logger.ErrorContext(ctx, "Failed to store candidates", slog.Any("err", err))
		}
	}
	if p.opts.Writer == nil {
		return
	}
	if _, err := p.opts.Writer.WriteResult(ctx, r); err != nil {
		logger.ErrorContext(ctx, "Failed to write result", slog.Any("err", err))
	}
	if !p.opts.ExportOSV {
		return
	}
	if top, ok := r.Top(); ok && top.MatchesTarget {
		if _, err := p.opts.Writer.WriteOSV(ctx, r); err != nil {
			logger.ErrorContext(ctx, "Failed to write OSV record", slog.Any("err", err))
		}
	}
}
