// Package report writes per-vulnerability results, run checkpoints and OSV
// records, and renders them as tables.
package report

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"time"

	"github.com/google/osv/fixfinder/clients"
	"github.com/google/osv/fixfinder/git"
	"github.com/google/osv/fixfinder/models"
	"github.com/google/osv/fixfinder/utility/logger"
	"github.com/klauspost/compress/zstd"
)

const (
	resultsFolder     = "results"
	checkpointsFolder = "checkpoints"
	osvFolder         = "osv"
)

// Metadata describes a batch run.
type Metadata struct {
	RunID        string    `json:"run_id"`
	GeneratedAt  time.Time `json:"timestamp"`
	Final        bool      `json:"final"`
	MonthsBefore int       `json:"months_before"`
	MonthsAfter  int       `json:"months_after"`
	MinScore     int       `json:"min_score"`
	TopN         int       `json:"top_n"`
}

// Run is the content of a checkpoint or final results file.
type Run struct {
	Metadata Metadata         `json:"metadata"`
	Stats    models.Stats     `json:"statistics"`
	Results  []*models.Result `json:"results"`
}

// Writer stores reports in a CloudStorage.
type Writer struct {
	storage clients.CloudStorage
}

// NewWriter writes to storage.
func NewWriter(storage clients.CloudStorage) *Writer {
	return &Writer{storage: storage}
}

func hashOf(data []byte) string {
	hash := sha256.Sum256(data)
	return hex.EncodeToString(hash[:])
}

// put writes data unless the stored object already has the same content
// hash. It reports whether a write happened.
func (w *Writer) put(ctx context.Context, name string, data []byte, contentType string) (bool, error) {
	return w.putHashed(ctx, name, data, hashOf(data), contentType)
}

// putHashed is put with the hash computed by the caller, for content that
// embeds volatile fields.
func (w *Writer) putHashed(ctx context.Context, name string, data []byte, hash, contentType string) (bool, error) {
	attrs, err := w.storage.ReadObjectAttrs(ctx, name)
	if err == nil {
		if attrs.Metadata[clients.HashMetadataKey] == hash {
			logger.DebugContext(ctx, "Skipping write, hash matches", slog.String("object", name))
			return false, nil
		}
	} else if !errors.Is(err, clients.ErrNotFound) {
		return false, fmt.Errorf("failed to get attributes of %s: %w", name, err)
	}

	err = w.storage.WriteObject(ctx, name, data, &clients.WriteOptions{
		ContentType: contentType,
		Metadata:    map[string]string{clients.HashMetadataKey: hash},
	})
	if err != nil {
		return false, fmt.Errorf("failed to write %s: %w", name, err)
	}

	return true, nil
}

// repoKey names a repository inside a vulnerability's folder, e.g.
// github.com_acme_widget.
func repoKey(repoURL string) string {
	if r, err := git.ParseRepoURL(repoURL); err == nil {
		return r.Host + "_" + r.Owner + "_" + r.Name
	}

	return "repo_" + hashOf([]byte(repoURL))[:12]
}

// ResultPath is the object name of the result for one vulnerability and
// repository pair: results/<id>/<host>_<owner>_<name>.json.
func ResultPath(id models.VulnID, repoURL string) string {
	return path.Join(resultsFolder, string(id), repoKey(repoURL)+".json")
}

// WriteResult stores one vulnerability's result as indented JSON.
func (w *Writer) WriteResult(ctx context.Context, r *models.Result) (bool, error) {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return false, err
	}

	return w.put(ctx, ResultPath(r.VulnID, r.RepoURL), data, "application/json")
}

// ReadResult loads the stored result of a vulnerability in one repository.
func (w *Writer) ReadResult(ctx context.Context, id models.VulnID, repoURL string) (*models.Result, error) {
	data, err := w.storage.ReadObject(ctx, ResultPath(id, repoURL))
	if err != nil {
		return nil, err
	}
	var r models.Result
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("failed to decode result for %s: %w", id, err)
	}

	return &r, nil
}

// RunPath is the object name of a run file. Final runs are plain JSON,
// checkpoints are zstd compressed.
func RunPath(m Metadata) string {
	stamp := m.GeneratedAt.UTC().Format("20060102_150405")
	if m.Final {
		return path.Join(resultsFolder, "results_"+stamp+".json")
	}

	return path.Join(checkpointsFolder, m.RunID, "checkpoint_"+stamp+".json.zst")
}

// WriteRun stores a checkpoint or final results file and returns its name.
func (w *Writer) WriteRun(ctx context.Context, run *Run) (string, error) {
	data, err := json.MarshalIndent(run, "", "  ")
	if err != nil {
		return "", err
	}
	name := RunPath(run.Metadata)
	contentType := "application/json"
	if !run.Metadata.Final {
		if data, err = compress(data); err != nil {
			return "", err
		}
		contentType = "application/zstd"
	}
	if _, err := w.put(ctx, name, data, contentType); err != nil {
		return "", err
	}
	logger.InfoContext(ctx, "Wrote run file",
		slog.String("object", name), slog.Int("results", len(run.Results)), slog.Bool("final", run.Metadata.Final))

	return name, nil
}

// ReadRun loads a run file written by WriteRun.
func (w *Writer) ReadRun(ctx context.Context, name string) (*Run, error) {
	data, err := w.storage.ReadObject(ctx, name)
	if err != nil {
		return nil, err
	}
	if path.Ext(name) == ".zst" {
		if data, err = decompress(data); err != nil {
			return nil, fmt.Errorf("failed to decompress %s: %w", name, err)
		}
	}
	var run Run
	if err := json.Unmarshal(data, &run); err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", name, err)
	}

	return &run, nil
}

// LatestCheckpoint returns the newest checkpoint name of a run, or
// clients.ErrNotFound.
func (w *Writer) LatestCheckpoint(ctx context.Context, runID string) (string, error) {
	var latest string
	for name, err := range w.storage.Objects(ctx, path.Join(checkpointsFolder, runID)+"/") {
		if err != nil {
			return "", err
		}
		// Names embed a sortable timestamp.
		if name > latest {
			latest = name
		}
	}
	if latest == "" {
		return "", clients.ErrNotFound
	}

	return latest, nil
}

func compress(data []byte) ([]byte, error) {
	enc, err := zstd.NewWriter(nil)
	if err != nil {
		return nil, err
	}
	defer enc.Close()

	return enc.EncodeAll(data, make([]byte, 0, len(data)/4)), nil
}

func decompress(data []byte) ([]byte, error) {
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, err
	}
	defer dec.Close()

	return dec.DecodeAll(data, nil)
}
