// Package store persists vulnerabilities, known fixes and ranked candidates
// in SQLite.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"os"
	"path/filepath"

	"github.com/google/osv/fixfinder/models"
	"github.com/google/osv/fixfinder/utility/logger"

	_ "modernc.org/sqlite"
)

const schemaVersion = 2

// Version 2 keys candidates by repository as well as vulnerability.
// Candidates are recomputed on every run, so older tables are dropped.
const candidatesMigration = "DROP TABLE IF EXISTS candidates"

const schema = `
	CREATE TABLE IF NOT EXISTS cve (
		cve_id TEXT PRIMARY KEY,
		published_date TEXT NOT NULL DEFAULT ''
	);

	CREATE TABLE IF NOT EXISTS cve_project (
		cve TEXT NOT NULL REFERENCES cve(cve_id),
		project_url TEXT NOT NULL,
		PRIMARY KEY (cve, project_url)
	);

	CREATE TABLE IF NOT EXISTS commits (
		hash TEXT NOT NULL,
		repo_url TEXT NOT NULL,
		author TEXT NOT NULL DEFAULT '',
		author_date TEXT NOT NULL DEFAULT '',
		committer_date TEXT NOT NULL DEFAULT '',
		msg TEXT NOT NULL DEFAULT '',
		PRIMARY KEY (hash, repo_url)
	);

	CREATE TABLE IF NOT EXISTS fixes (
		cve_id TEXT NOT NULL,
		hash TEXT NOT NULL,
		repo_url TEXT NOT NULL,
		rel_type TEXT NOT NULL DEFAULT '',
		score INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (cve_id, hash, repo_url)
	);
	CREATE INDEX IF NOT EXISTS idx_fixes_score ON fixes(score);

	CREATE TABLE IF NOT EXISTS candidates (
		cve_id TEXT NOT NULL,
		rank INTEGER NOT NULL,
		repo_url TEXT NOT NULL,
		hash TEXT NOT NULL,
		message TEXT NOT NULL,
		author TEXT NOT NULL,
		date TEXT NOT NULL,
		score INTEGER NOT NULL,
		matched_patterns TEXT NOT NULL,
		matches_target INTEGER NOT NULL,
		PRIMARY KEY (cve_id, repo_url, rank)
	);

	CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY
	);
`

var (
	_ models.VulnerabilityStore = (*SQLite)(nil)
	_ models.GroundTruthStore   = (*SQLite)(nil)
	_ models.CandidateStore     = (*SQLite)(nil)
)

// SQLite implements the models store interfaces on a single database file.
type SQLite struct {
	db *sql.DB
}

// Open opens or creates the database at path. ":memory:" opens a private
// in-memory database.
func Open(ctx context.Context, path string) (*SQLite, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// Each connection to :memory: is a separate database.
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to set pragma: %w", err)
		}
	}
	if err := migrate(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to migrate schema: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	if _, err := db.ExecContext(ctx, "INSERT OR REPLACE INTO schema_version (version) VALUES (?)", schemaVersion); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to record schema version: %w", err)
	}
	logger.Debug("Opened store", "path", path)

	return &SQLite{db: db}, nil
}

// migrate updates tables created by an older schema version. A fresh
// database has no schema_version table and needs nothing.
func migrate(ctx context.Context, db *sql.DB) error {
	var tables int
	if err := db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = 'schema_version'").Scan(&tables); err != nil {
		return err
	}
	if tables == 0 {
		return nil
	}
	var version int
	if err := db.QueryRowContext(ctx, "SELECT COALESCE(MAX(version), 0) FROM schema_version").Scan(&version); err != nil {
		return err
	}
	if version >= schemaVersion {
		return nil
	}
	logger.Info("Migrating store", "from", version, "to", schemaVersion)
	if version < 2 {
		if _, err := db.ExecContext(ctx, candidatesMigration); err != nil {
			return err
		}
	}

	return nil
}

// Close closes the database.
func (s *SQLite) Close() error {
	return s.db.Close()
}

const vulnerabilitiesQuery = `
	SELECT DISTINCT c.cve_id, c.published_date, cp.project_url
	FROM cve c
	INNER JOIN cve_project cp ON c.cve_id = cp.cve
	WHERE c.published_date != ''
	ORDER BY c.cve_id, cp.project_url
`

func (s *SQLite) Get(ctx context.Context, id models.VulnID) (*models.VulnerabilityRecord, error) {
	id = id.Normalize()
	row := s.db.QueryRowContext(ctx, `
		SELECT c.cve_id, c.published_date, COALESCE(MIN(cp.project_url), '')
		FROM cve c
		LEFT JOIN cve_project cp ON c.cve_id = cp.cve
		WHERE c.cve_id = ?
		GROUP BY c.cve_id`, string(id))

	var v models.VulnerabilityRecord
	if err := row.Scan(&v.ID, &v.DisclosedAt, &v.RepoURL); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%s: %w", id, models.ErrNotFound)
		}

		return nil, err
	}

	return &v, nil
}

func (s *SQLite) All(ctx context.Context, limit, offset int) iter.Seq2[*models.VulnerabilityRecord, error] {
	return func(yield func(*models.VulnerabilityRecord, error) bool) {
		query := vulnerabilitiesQuery
		args := []any{}
		if limit > 0 {
			query += " LIMIT ? OFFSET ?"
			args = append(args, limit, offset)
		} else if offset > 0 {
			query += " LIMIT -1 OFFSET ?"
			args = append(args, offset)
		}

		// Rows are read up front so callers may write to the store while
		// iterating over the single connection.
		rows, err := s.db.QueryContext(ctx, query, args...)
		if err != nil {
			yield(nil, err)
			return
		}
		var records []*models.VulnerabilityRecord
		for rows.Next() {
			var v models.VulnerabilityRecord
			if err := rows.Scan(&v.ID, &v.DisclosedAt, &v.RepoURL); err != nil {
				rows.Close()
				yield(nil, err)

				return
			}
			records = append(records, &v)
		}
		err = rows.Err()
		rows.Close()
		if err != nil {
			yield(nil, err)
			return
		}

		for _, v := range records {
			if !yield(v, nil) {
				return
			}
		}
	}
}

func (s *SQLite) Count(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM ("+vulnerabilitiesQuery+")").Scan(&n)

	return n, err
}

func (s *SQLite) Put(ctx context.Context, v *models.VulnerabilityRecord) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback() //nolint:errcheck

	id := string(v.ID.Normalize())
	if err := upsertCVE(ctx, tx, id, v.DisclosedAt); err != nil {
		return err
	}
	if v.RepoURL != "" {
		if _, err := tx.ExecContext(ctx,
			"INSERT OR IGNORE INTO cve_project (cve, project_url) VALUES (?, ?)", id, v.RepoURL); err != nil {
			return fmt.Errorf("failed to insert repository for %s: %w", id, err)
		}
	}

	return tx.Commit()
}

func upsertCVE(ctx context.Context, tx *sql.Tx, id, published string) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO cve (cve_id, published_date) VALUES (?, ?)
		ON CONFLICT(cve_id) DO UPDATE SET published_date = excluded.published_date
		WHERE excluded.published_date != ''`, id, published)
	if err != nil {
		return fmt.Errorf("failed to upsert %s: %w", id, err)
	}

	return nil
}

// PutCommits records fetched commits for later ground-truth joins.
func (s *SQLite) PutCommits(ctx context.Context, repoURL string, commits []models.RawCommit) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO commits (hash, repo_url, author, author_date, committer_date, msg)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(hash, repo_url) DO UPDATE SET
			author = excluded.author,
			author_date = excluded.author_date,
			committer_date = excluded.committer_date,
			msg = excluded.msg`)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for _, c := range commits {
		if _, err := stmt.ExecContext(ctx, c.SHA, repoURL, c.AuthorName, c.AuthorDate, c.CommitterDate, c.Message); err != nil {
			return fmt.Errorf("failed to insert commit %s: %w", c.SHA, err)
		}
	}

	return tx.Commit()
}

func (s *SQLite) Pairs(ctx context.Context, minScore int) iter.Seq2[*models.GroundTruthPair, error] {
	return func(yield func(*models.GroundTruthPair, error) bool) {
		rows, err := s.db.QueryContext(ctx, `
			SELECT f.cve_id, f.hash, f.repo_url, f.score, c.published_date, cm.committer_date
			FROM fixes f
			INNER JOIN cve c ON f.cve_id = c.cve_id
			INNER JOIN commits cm ON f.hash = cm.hash AND f.repo_url = cm.repo_url
			WHERE f.score >= ?
				AND c.published_date != ''
				AND cm.committer_date != ''
			ORDER BY f.cve_id, f.hash`, minScore)
		if err != nil {
			yield(nil, err)
			return
		}
		var pairs []*models.GroundTruthPair
		for rows.Next() {
			var p models.GroundTruthPair
			if err := rows.Scan(&p.VulnID, &p.SHA, &p.RepoURL, &p.Score, &p.DisclosedAt, &p.CommittedAt); err != nil {
				rows.Close()
				yield(nil, err)

				return
			}
			pairs = append(pairs, &p)
		}
		err = rows.Err()
		rows.Close()
		if err != nil {
			yield(nil, err)
			return
		}
		logger.Info("Loaded ground truth pairs", "count", len(pairs), "min_score", minScore)

		for _, p := range pairs {
			if !yield(p, nil) {
				return
			}
		}
	}
}

func (s *SQLite) PutPair(ctx context.Context, p *models.GroundTruthPair) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback() //nolint:errcheck

	id := string(p.VulnID.Normalize())
	if err := upsertCVE(ctx, tx, id, p.DisclosedAt); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO commits (hash, repo_url, committer_date) VALUES (?, ?, ?)
		ON CONFLICT(hash, repo_url) DO UPDATE SET committer_date = excluded.committer_date
		WHERE excluded.committer_date != ''`, p.SHA, p.RepoURL, p.CommittedAt); err != nil {
		return fmt.Errorf("failed to upsert commit %s: %w", p.SHA, err)
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO fixes (cve_id, hash, repo_url, score) VALUES (?, ?, ?, ?)
		ON CONFLICT(cve_id, hash, repo_url) DO UPDATE SET score = excluded.score`,
		id, p.SHA, p.RepoURL, p.Score); err != nil {
		return fmt.Errorf("failed to upsert fix %s/%s: %w", id, p.SHA, err)
	}

	return tx.Commit()
}

// KnownFixes returns the recorded fix commits of a vulnerability.
func (s *SQLite) KnownFixes(ctx context.Context, id models.VulnID) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT hash FROM fixes WHERE cve_id = ? ORDER BY score DESC, hash", string(id.Normalize()))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var hashes []string
	for rows.Next() {
		var h string
		if err := rows.Scan(&h); err != nil {
			return nil, err
		}
		hashes = append(hashes, h)
	}

	return hashes, rows.Err()
}

// PutCandidates replaces the stored candidates of a vulnerability in one
// repository. Rank is the position in candidates.
func (s *SQLite) PutCandidates(ctx context.Context, id models.VulnID, repoURL string, candidates []models.Candidate) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback() //nolint:errcheck

	key := string(id.Normalize())
	if _, err := tx.ExecContext(ctx, "DELETE FROM candidates WHERE cve_id = ? AND repo_url = ?", key, repoURL); err != nil {
		return err
	}
	for rank, c := range candidates {
		patterns, err := json.Marshal(c.MatchedPatterns)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO candidates (cve_id, rank, repo_url, hash, message, author, date, score, matched_patterns, matches_target)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			key, rank, repoURL, c.SHA, c.Message, c.Author, c.Date, c.Score, string(patterns), c.MatchesTarget); err != nil {
			return fmt.Errorf("failed to insert candidate %s for %s: %w", c.SHA, key, err)
		}
	}

	return tx.Commit()
}

func (s *SQLite) Candidates(ctx context.Context, id models.VulnID, repoURL string) ([]models.Candidate, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT hash, message, author, date, score, matched_patterns, matches_target
		FROM candidates WHERE cve_id = ? AND repo_url = ? ORDER BY rank`, string(id.Normalize()), repoURL)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	candidates := []models.Candidate{}
	for rows.Next() {
		var c models.Candidate
		var patterns string
		if err := rows.Scan(&c.SHA, &c.Message, &c.Author, &c.Date, &c.Score, &patterns, &c.MatchesTarget); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(patterns), &c.MatchedPatterns); err != nil {
			return nil, fmt.Errorf("corrupt matched_patterns for %s: %w", c.SHA, err)
		}
		candidates = append(candidates, c)
	}

	return candidates, rows.Err()
}
