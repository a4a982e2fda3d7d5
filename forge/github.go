package forge

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/dgraph-io/ristretto/v2"
	"github.com/google/osv/fixfinder/git"
	"github.com/google/osv/fixfinder/models"
	"github.com/google/osv/fixfinder/utility/logger"
	"github.com/hashicorp/go-retryablehttp"
	"github.com/sethvargo/go-retry"
	"github.com/tidwall/gjson"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const (
	DefaultBaseURL = "https://api.github.com"
	userAgent      = "fixfinder"

	// resetSlack is added to the advertised reset time before resuming.
	resetSlack = 10 * time.Second
)

// GitHubOptions configures a GitHub client. Zero values take defaults.
type GitHubOptions struct {
	BaseURL string
	Token   string
	Timeout time.Duration

	PerPage  int
	MaxPages int

	// RateLimitFloor is the remaining request count below which the client
	// sleeps until the limit resets.
	RateLimitFloor int
	// MaxRateLimitWait bounds a single rate limit sleep. Longer waits fail
	// with ErrRateLimited.
	MaxRateLimitWait time.Duration

	RetryTimes int
	RetryDelay time.Duration
}

func (o *GitHubOptions) setDefaults() {
	if o.BaseURL == "" {
		o.BaseURL = DefaultBaseURL
	}
	if o.Timeout == 0 {
		o.Timeout = 30 * time.Second
	}
	if o.PerPage <= 0 || o.PerPage > 100 {
		o.PerPage = 100
	}
	if o.MaxPages <= 0 {
		o.MaxPages = 10
	}
	if o.MaxRateLimitWait == 0 {
		o.MaxRateLimitWait = time.Hour
	}
	if o.RetryTimes < 0 {
		o.RetryTimes = 0
	}
	if o.RetryDelay <= 0 {
		o.RetryDelay = 5 * time.Second
	}
}

// GitHub reads repository metadata and commit listings from the GitHub REST
// API.
type GitHub struct {
	opts GitHubOptions
	cl   *http.Client

	exists  *ristretto.Cache[string, bool]
	commits *ristretto.Cache[string, []models.RawCommit]

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// NewGitHub creates a client. Transport errors and 5xx responses are retried
// by the underlying retryablehttp client.
func NewGitHub(opts GitHubOptions) (*GitHub, error) {
	opts.setDefaults()

	httpClient := retryablehttp.NewClient()
	httpClient.RetryMax = opts.RetryTimes
	httpClient.RetryWaitMin = opts.RetryDelay
	httpClient.RetryWaitMax = 4 * opts.RetryDelay
	httpClient.HTTPClient.Timeout = opts.Timeout
	httpClient.Logger = retryableHTTPLeveledLogger{}
	// One client span per attempt, children of the caller's span.
	httpClient.HTTPClient.Transport = otelhttp.NewTransport(httpClient.HTTPClient.Transport)

	exists, err := ristretto.NewCache(&ristretto.Config[string, bool]{
		NumCounters: 1e5,
		MaxCost:     1e4,
		BufferItems: 64,
	})
	if err != nil {
		return nil, err
	}
	commits, err := ristretto.NewCache(&ristretto.Config[string, []models.RawCommit]{
		NumCounters: 1e4,
		MaxCost:     1e5,
		BufferItems: 64,
	})
	if err != nil {
		exists.Close()
		return nil, err
	}

	return &GitHub{
		opts:    opts,
		cl:      httpClient.StandardClient(),
		exists:  exists,
		commits: commits,
		now:     time.Now,
		sleep:   sleepContext,
	}, nil
}

// Close releases the caches.
func (c *GitHub) Close() {
	c.exists.Close()
	c.commits.Close()
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

type response struct {
	status int
	body   []byte
}

// get performs an authenticated GET, waiting out rate limits. 404 and 409
// responses are returned to the caller rather than treated as errors.
func (c *GitHub) get(ctx context.Context, path string, query url.Values) (response, error) {
	u := strings.TrimSuffix(c.opts.BaseURL, "/") + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var out response
	backoff := retry.WithMaxRetries(uint64(c.opts.RetryTimes), retry.NewConstant(c.opts.RetryDelay))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
		if err != nil {
			return err
		}
		req.Header.Set("Accept", "application/vnd.github.v3+json")
		req.Header.Set("User-Agent", userAgent)
		if c.opts.Token != "" {
			req.Header.Set("Authorization", "token "+c.opts.Token)
		}

		resp, err := c.cl.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		switch resp.StatusCode {
		case http.StatusOK, http.StatusNotFound, http.StatusConflict:
			body, err := io.ReadAll(resp.Body)
			if err != nil {
				return retry.RetryableError(err)
			}
			out = response{status: resp.StatusCode, body: body}

			return c.throttle(ctx, resp.Header)
		case http.StatusForbidden, http.StatusTooManyRequests:
			wait, ok := c.resetWait(resp.Header)
			if !ok || wait > c.opts.MaxRateLimitWait {
				return fmt.Errorf("GET %s: %w (status %d)", path, ErrRateLimited, resp.StatusCode)
			}
			logger.WarnContext(ctx, "GitHub rate limit exhausted, waiting for reset",
				slog.String("path", path), slog.Duration("wait", wait))
			if err := c.sleep(ctx, wait); err != nil {
				return err
			}

			return retry.RetryableError(fmt.Errorf("GET %s: %w", path, ErrRateLimited))
		default:
			return fmt.Errorf("GET %s: unexpected status %d", path, resp.StatusCode)
		}
	})

	return out, err
}

// resetWait reports how long until the rate limit resets, if the response
// says the limit is exhausted.
func (c *GitHub) resetWait(h http.Header) (time.Duration, bool) {
	if h.Get("X-RateLimit-Remaining") != "0" {
		return 0, false
	}
	reset, err := strconv.ParseInt(h.Get("X-RateLimit-Reset"), 10, 64)
	if err != nil {
		return 0, false
	}

	return max(time.Unix(reset, 0).Sub(c.now())+resetSlack, 0), true
}

// throttle sleeps until the reset when fewer than RateLimitFloor requests
// remain.
func (c *GitHub) throttle(ctx context.Context, h http.Header) error {
	remaining, err := strconv.Atoi(h.Get("X-RateLimit-Remaining"))
	if err != nil || remaining >= c.opts.RateLimitFloor {
		return nil
	}
	reset, err := strconv.ParseInt(h.Get("X-RateLimit-Reset"), 10, 64)
	if err != nil {
		return nil
	}
	wait := time.Unix(reset, 0).Sub(c.now()) + resetSlack
	if wait <= 0 {
		return nil
	}
	if wait > c.opts.MaxRateLimitWait {
		wait = c.opts.MaxRateLimitWait
	}
	logger.WarnContext(ctx, "GitHub rate limit low, waiting for reset",
		slog.Int("remaining", remaining), slog.Duration("wait", wait))

	return c.sleep(ctx, wait)
}

// RepoExists checks the repository endpoint. Results are cached.
func (c *GitHub) RepoExists(ctx context.Context, r git.Repo) (bool, error) {
	key := r.String()
	if ok, found := c.exists.Get(key); found {
		return ok, nil
	}

	resp, err := c.get(ctx, "/repos/"+r.FullName(), nil)
	if err != nil {
		return false, err
	}
	ok := resp.status == http.StatusOK
	c.exists.Set(key, ok, 1)
	c.exists.Wait()

	return ok, nil
}

// Commits lists the commits in [since, until], newest first, reading at most
// MaxPages pages. An empty repository yields no commits.
func (c *GitHub) Commits(ctx context.Context, r git.Repo, since, until string) ([]models.RawCommit, error) {
	key := r.String() + "|" + since + "|" + until
	if cached, found := c.commits.Get(key); found {
		return cached, nil
	}

	commits := []models.RawCommit{}
	path := "/repos/" + r.FullName() + "/commits"
	for page := 1; page <= c.opts.MaxPages; page++ {
		query := url.Values{}
		query.Set("since", since)
		query.Set("until", until)
		query.Set("per_page", strconv.Itoa(c.opts.PerPage))
		query.Set("page", strconv.Itoa(page))

		resp, err := c.get(ctx, path, query)
		if err != nil {
			return nil, err
		}
		switch resp.status {
		case http.StatusNotFound:
			return nil, fmt.Errorf("%s: %w", r, ErrRepoNotFound)
		case http.StatusConflict:
			logger.DebugContext(ctx, "Repository is empty", slog.String("repo", r.String()))
			return commits, nil
		}

		batch, err := decodeCommits(resp.body)
		if err != nil {
			return nil, fmt.Errorf("%s page %d: %w", r, page, err)
		}
		commits = append(commits, batch...)
		if len(batch) < c.opts.PerPage {
			break
		}
		if page == c.opts.MaxPages {
			logger.WarnContext(ctx, "Commit listing truncated at page limit",
				slog.String("repo", r.String()), slog.Int("max_pages", c.opts.MaxPages))
		}
	}

	c.commits.Set(key, commits, int64(max(len(commits), 1)))
	c.commits.Wait()

	return commits, nil
}

// Commit fetches a single commit by SHA.
func (c *GitHub) Commit(ctx context.Context, r git.Repo, sha string) (models.RawCommit, error) {
	resp, err := c.get(ctx, "/repos/"+r.FullName()+"/commits/"+url.PathEscape(sha), nil)
	if err != nil {
		return models.RawCommit{}, err
	}
	if resp.status != http.StatusOK {
		return models.RawCommit{}, fmt.Errorf("%s commit %s: %w", r, sha, models.ErrNotFound)
	}
	res := gjson.ParseBytes(resp.body)
	if !res.IsObject() {
		return models.RawCommit{}, fmt.Errorf("%w: commit is not an object", ErrUnexpectedResponse)
	}

	return decodeCommit(res), nil
}

// RateLimit is the core API quota.
type RateLimit struct {
	Limit     int
	Remaining int
	Reset     time.Time
}

// RateLimit reads the core quota from /rate_limit. It does not count against
// the quota.
func (c *GitHub) RateLimit(ctx context.Context) (RateLimit, error) {
	resp, err := c.get(ctx, "/rate_limit", nil)
	if err != nil {
		return RateLimit{}, err
	}
	if resp.status != http.StatusOK {
		return RateLimit{}, fmt.Errorf("%w: rate_limit status %d", ErrUnexpectedResponse, resp.status)
	}
	core := gjson.GetBytes(resp.body, "resources.core")
	if !core.Exists() {
		return RateLimit{}, fmt.Errorf("%w: missing resources.core", ErrUnexpectedResponse)
	}

	return RateLimit{
		Limit:     int(core.Get("limit").Int()),
		Remaining: int(core.Get("remaining").Int()),
		Reset:     time.Unix(core.Get("reset").Int(), 0).UTC(),
	}, nil
}

func decodeCommits(data []byte) ([]models.RawCommit, error) {
	result := gjson.ParseBytes(data)
	if !result.IsArray() {
		return nil, errors.Join(ErrUnexpectedResponse, errors.New("commit listing is not an array"))
	}
	var commits []models.RawCommit
	result.ForEach(func(_, c gjson.Result) bool {
		commits = append(commits, decodeCommit(c))
		return true
	})

	return commits, nil
}

func decodeCommit(c gjson.Result) models.RawCommit {
	return models.RawCommit{
		SHA:            c.Get("sha").String(),
		Message:        c.Get("commit.message").String(),
		AuthorName:     c.Get("commit.author.name").String(),
		AuthorEmail:    c.Get("commit.author.email").String(),
		AuthorDate:     c.Get("commit.author.date").String(),
		CommitterName:  c.Get("commit.committer.name").String(),
		CommitterEmail: c.Get("commit.committer.email").String(),
		CommitterDate:  c.Get("commit.committer.date").String(),
		HTMLURL:        c.Get("html_url").String(),
	}
}
