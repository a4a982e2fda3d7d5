// Package config loads the fixfinder TOML configuration.
package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/google/osv/fixfinder/calibration"
	"github.com/google/osv/fixfinder/matcher"
	"github.com/google/osv/fixfinder/utility"
	"github.com/google/osv/fixfinder/window"
)

const (
	DefaultAPIBaseURL = "https://api.github.com"
	DefaultConfigName = "fixfinder.toml"
)

type Config struct {
	Window      Window      `toml:"window"`
	Matching    Matching    `toml:"matching"`
	Calibration Calibration `toml:"calibration"`
	GitHub      GitHub      `toml:"github"`
	Batch       Batch       `toml:"batch"`
	Output      Output      `toml:"output"`
	Store       Store       `toml:"store"`

	// DenyList is an optional YAML file of identifiers and repositories to skip.
	DenyList string `toml:"deny_list"`

	LoadPath string `toml:"-"`
}

type Window struct {
	MonthsBefore int `toml:"months_before"`
	MonthsAfter  int `toml:"months_after"`
}

type Matching struct {
	MinScore int `toml:"min_score"`
	TopN     int `toml:"top_n"`

	// Optional overrides of the built-in keyword tables.
	IDPattern     string   `toml:"id_pattern"`
	FixKeywords   []string `toml:"fix_keywords"`
	NoiseKeywords []string `toml:"noise_keywords"`
}

type Calibration struct {
	MinScore int `toml:"min_score"`
}

type GitHub struct {
	APIBaseURL string `toml:"api_base_url"`
	Token      string `toml:"token"`

	// TokenSecret names a Secret Manager version holding the token.
	TokenSecret string `toml:"token_secret"`

	Timeout  time.Duration `toml:"timeout"`
	PerPage  int           `toml:"per_page"`
	MaxPages int           `toml:"max_pages"`

	// RateLimitFloor is the remaining request count below which the client
	// waits for the rate limit window to reset.
	RateLimitFloor int `toml:"rate_limit_floor"`

	// CloneDir switches commit retrieval to local clones kept under it.
	CloneDir string `toml:"clone_dir"`
}

type Batch struct {
	Size       int           `toml:"size"`
	Workers    int           `toml:"workers"`
	RetryTimes int           `toml:"retry_times"`
	RetryDelay time.Duration `toml:"retry_delay"`
	Limit      int           `toml:"limit"`
	Offset     int           `toml:"offset"`
}

type Output struct {
	Dir    string `toml:"dir"`
	Bucket string `toml:"bucket"`

	// OSV writes an OSV record for every vulnerability whose top candidate
	// names it directly.
	OSV bool `toml:"osv"`
}

type Store struct {
	Path string `toml:"path"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		Window: Window{
			MonthsBefore: window.DefaultMonthsBefore,
			MonthsAfter:  window.DefaultMonthsAfter,
		},
		Matching: Matching{
			MinScore: 0,
			TopN:     10,
		},
		Calibration: Calibration{MinScore: calibration.DefaultMinScore},
		GitHub: GitHub{
			APIBaseURL:     DefaultAPIBaseURL,
			Timeout:        30 * time.Second,
			PerPage:        100,
			MaxPages:       10,
			RateLimitFloor: 10,
		},
		Batch: Batch{
			Size:       10,
			Workers:    4,
			RetryTimes: 3,
			RetryDelay: 5 * time.Second,
		},
		Output: Output{Dir: "results"},
		Store:  Store{Path: "fixfinder.db"},
	}
}

// Load reads the TOML file at path over the defaults and applies
// environment overrides. An empty path loads only defaults and environment.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		md, err := toml.DecodeFile(path, &cfg)
		if err != nil {
			return Config{}, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			return Config{}, fmt.Errorf("unknown keys in %s: %v", path, undecoded)
		}
		cfg.LoadPath = path
	}
	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// TryLoad loads DefaultConfigName from dir if it exists, otherwise defaults.
func TryLoad(dir string) (Config, error) {
	path := filepath.Join(dir, DefaultConfigName)
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Load("")
		}

		return Config{}, err
	}

	return Load(path)
}

func (c *Config) applyEnv() {
	if v := os.Getenv("GITHUB_TOKEN"); v != "" {
		c.GitHub.Token = v
	}
	if v := os.Getenv("FIXFINDER_DB"); v != "" {
		c.Store.Path = v
	}
	if v := os.Getenv("FIXFINDER_BUCKET"); v != "" {
		c.Output.Bucket = v
	}
}

// Validate rejects settings no component can honour.
func (c Config) Validate() error {
	var errs []error
	if c.Window.MonthsBefore < 0 || c.Window.MonthsAfter < 0 {
		errs = append(errs, fmt.Errorf("window months must be non-negative, got %d/%d", c.Window.MonthsBefore, c.Window.MonthsAfter))
	}
	if c.Matching.TopN < 0 {
		errs = append(errs, fmt.Errorf("matching.top_n must be non-negative, got %d", c.Matching.TopN))
	}
	if c.Batch.Size <= 0 {
		errs = append(errs, fmt.Errorf("batch.size must be positive, got %d", c.Batch.Size))
	}
	if c.Batch.Workers <= 0 {
		errs = append(errs, fmt.Errorf("batch.workers must be positive, got %d", c.Batch.Workers))
	}
	if c.GitHub.PerPage <= 0 || c.GitHub.PerPage > 100 {
		errs = append(errs, fmt.Errorf("github.per_page must be in 1..100, got %d", c.GitHub.PerPage))
	}

	return errors.Join(errs...)
}

// Signals returns the scorer tables, with any configured overrides.
func (c Config) Signals() matcher.Signals {
	s := matcher.DefaultSignals()
	if c.Matching.IDPattern != "" {
		s.IDPattern = c.Matching.IDPattern
	}
	if len(c.Matching.FixKeywords) > 0 {
		s.FixKeywords = c.Matching.FixKeywords
	}
	if len(c.Matching.NoiseKeywords) > 0 {
		s.NoiseKeywords = c.Matching.NoiseKeywords
	}

	return s
}

// Calculator returns the window calculator for the configured offsets.
func (c Config) Calculator() window.Calculator {
	return window.Calculator{MonthsBefore: c.Window.MonthsBefore, MonthsAfter: c.Window.MonthsAfter}
}

// ResolveToken returns the GitHub token, fetching it from Secret Manager when
// only a secret name is configured.
func (c *Config) ResolveToken(ctx context.Context) (string, error) {
	if c.GitHub.Token != "" || c.GitHub.TokenSecret == "" {
		return c.GitHub.Token, nil
	}
	token, err := utility.GetSecret(ctx, c.GitHub.TokenSecret)
	if err != nil {
		return "", fmt.Errorf("resolving github token: %w", err)
	}
	c.GitHub.Token = token

	return token, nil
}
