package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/osv/fixfinder/forge"
	"github.com/google/osv/fixfinder/models"
	"github.com/google/osv/fixfinder/report"
	"github.com/google/osv/fixfinder/utility/logger"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

// RateLimiter is implemented by sources that can report their API quota.
type RateLimiter interface {
	RateLimit(ctx context.Context) (forge.RateLimit, error)
}

// batch collects the results of one run.
type batch struct {
	p        *Pipeline
	start    time.Time
	metadata report.Metadata

	mu        sync.Mutex
	results   []*models.Result
	completed int
	stats     models.Stats
}

// Run processes up to limit vulnerabilities from store starting at offset,
// with at most Options.Workers in flight. Results keep the store's order. A
// checkpoint is written every Options.BatchSize results. When ctx is
// cancelled the partial run is written as a checkpoint and returned with
// ctx's error.
func (p *Pipeline) Run(ctx context.Context, store models.VulnerabilityStore, limit, offset int) (*report.Run, error) {
	runID := uuid.NewString()
	ctx = context.WithValue(ctx, runIDKey, runID)
	ctx, span := tracer.Start(ctx, "run", trace.WithAttributes(
		attribute.String("run_id", runID),
		attribute.Int("limit", limit),
		attribute.Int("offset", offset),
	))
	defer span.End()

	total, err := store.Count(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to count vulnerabilities: %w", err)
	}
	var records []*models.VulnerabilityRecord
	for v, err := range store.All(ctx, limit, offset) {
		if err != nil {
			return nil, fmt.Errorf("failed to list vulnerabilities: %w", err)
		}
		records = append(records, v)
	}
	logger.InfoContext(ctx, "Starting run",
		slog.Int("total", total),
		slog.Int("selected", len(records)),
		slog.Int("offset", offset),
		slog.Int("workers", p.opts.Workers))
	p.logRateLimit(ctx)

	b := &batch{
		p:     p,
		start: p.now(),
		metadata: report.Metadata{
			RunID:        runID,
			MonthsBefore: p.opts.Window.MonthsBefore,
			MonthsAfter:  p.opts.Window.MonthsAfter,
			MinScore:     p.opts.MinScore,
			TopN:         p.opts.TopN,
		},
		results: make([]*models.Result, len(records)),
		stats:   models.Stats{Total: total},
	}

	var g errgroup.Group
	g.SetLimit(p.opts.Workers)
	for i, v := range records {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if ctx.Err() != nil {
				return nil
			}
			r := p.Process(ctx, v)
			p.persist(ctx, r)
			b.complete(ctx, i, r)

			return nil
		})
	}
	_ = g.Wait()

	interrupted := ctx.Err()
	// The final write must happen even after cancellation.
	ctx = context.WithoutCancel(ctx)

	b.mu.Lock()
	run := b.snapshot(interrupted == nil)
	b.mu.Unlock()
	span.SetAttributes(attribute.Int("processed", run.Stats.Processed))
	if interrupted != nil {
		logger.WarnContext(ctx, "Run interrupted, writing checkpoint", slog.Int("processed", run.Stats.Processed))
	}
	if p.opts.Writer != nil {
		if _, err := p.opts.Writer.WriteRun(ctx, run); err != nil {
			return run, err
		}
	}

	return run, interrupted
}

func (p *Pipeline) logRateLimit(ctx context.Context) {
	rl, ok := p.opts.Source.(RateLimiter)
	if !ok {
		return
	}
	status, err := rl.RateLimit(ctx)
	if errors.Is(err, forge.ErrNoQuota) {
		return
	}
	if err != nil {
		logger.WarnContext(ctx, "Failed to read API rate limit", slog.Any("err", err))
		return
	}
	logger.InfoContext(ctx, "API rate limit",
		slog.Int("remaining", status.Remaining), slog.Int("limit", status.Limit), slog.Time("reset", status.Reset))
}

func (b *batch) complete(ctx context.Context, i int, r *models.Result) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.results[i] = r
	b.completed++
	b.stats.Record(r)
	logger.InfoContext(ctx, "Processed vulnerability",
		slog.String("progress", fmt.Sprintf("%d/%d", b.completed, len(b.results))),
		slog.String("outcome", r.Outcome.String()),
		slog.Int("commits", len(r.Commits)),
		slog.Int("candidates", len(r.Candidates)),
		slog.String("elapsed", r.Elapsed))

	if b.p.opts.Writer == nil || b.completed%b.p.opts.BatchSize != 0 || b.completed == len(b.results) {
		return
	}
	if _, err := b.p.opts.Writer.WriteRun(ctx, b.snapshot(false)); err != nil {
		logger.ErrorContext(ctx, "Failed to write checkpoint", slog.Any("err", err))
	}
}

// snapshot returns the completed results in input order. b.mu must be held.
func (b *batch) snapshot(final bool) *report.Run {
	run := &report.Run{
		Metadata: b.metadata,
		Stats:    b.stats,
		Results:  make([]*models.Result, 0, b.completed),
	}
	run.Metadata.Final = final
	run.Metadata.GeneratedAt = b.p.now().UTC()
	run.Stats.Duration = b.p.now().Sub(b.start)
	for _, r := range b.results {
		if r != nil {
			run.Results = append(run.Results, r)
		}
	}

	return run
}
