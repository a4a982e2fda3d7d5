package main

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"

	"cloud.google.com/go/storage"
	"github.com/google/osv/fixfinder/clients"
	"github.com/google/osv/fixfinder/config"
	"github.com/google/osv/fixfinder/forge"
	"github.com/google/osv/fixfinder/git"
	"github.com/google/osv/fixfinder/utility/logger"
	"google.golang.org/api/option"
)

// newSource builds the commit source. With a clone directory configured all
// history is read from local clones; otherwise GitHub repositories go through
// the REST API and other hosts are cloned into a temporary directory.
func newSource(ctx context.Context, cfg *config.Config) (forge.CommitSource, func(), error) {
	if cfg.GitHub.CloneDir != "" {
		return git.NewLocalSource(cfg.GitHub.CloneDir), func() {}, nil
	}

	token, err := cfg.ResolveToken(ctx)
	if err != nil {
		return nil, nil, err
	}
	gh, err := forge.NewGitHub(forge.GitHubOptions{
		BaseURL:        cfg.GitHub.APIBaseURL,
		Token:          token,
		Timeout:        cfg.GitHub.Timeout,
		PerPage:        cfg.GitHub.PerPage,
		MaxPages:       cfg.GitHub.MaxPages,
		RateLimitFloor: cfg.GitHub.RateLimitFloor,
		RetryTimes:     cfg.Batch.RetryTimes,
		RetryDelay:     cfg.Batch.RetryDelay,
	})
	if err != nil {
		return nil, nil, err
	}
	cloneDir := filepath.Join(os.TempDir(), "fixfinder-clones")
	logger.Debug("Cloning non-GitHub repositories", slog.String("dir", cloneDir))

	source := forge.ByHost{
		Hosts:   map[string]forge.CommitSource{"github.com": gh},
		Default: git.NewLocalSource(cloneDir),
	}

	return source, gh.Close, nil
}

// newStorage returns the report destination: a GCS bucket when one is
// configured, otherwise a local directory.
func newStorage(ctx context.Context, out config.Output) (clients.CloudStorage, error) {
	if out.Bucket == "" {
		dir, err := clients.NewDirClient(out.Dir)
		if err != nil {
			return nil, err
		}

		return dir, nil
	}
	client, err := storage.NewClient(ctx, option.WithTelemetryDisabled())
	if err != nil {
		return nil, err
	}
	logger.Info("Writing results to GCS", slog.String("bucket", out.Bucket))

	return clients.NewGCSClient(client, out.Bucket, ""), nil
}
