package gateways

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/ochairo/tally/internal/domain-adapters/workqueue"
	"github.com/ochairo/tally/internal/domain/entities"
	"github.com/ochairo/tally/internal/domain/interfaces"
	"github.com/ochairo/tally/internal/domain/interfaces/gateways"
)

const (
	// Max retries for transient errors
	maxRetries = 3
	// Initial backoff duration
	initialBackoff = 1 * time.Second
	// Max backoff duration
	maxBackoff = 32 * time.Second

	defaultAPIBaseURL = "https://api.github.com"
	defaultPerPage    = 100
)

// HTTPGitHubGateway implements GitHubGateway using standard HTTP client
type HTTPGitHubGateway struct {
	client    *http.Client
	token     string
	userAgent string
	baseURL   string
	perPage   int
	headers   map[string]string
	queue     *workqueue.Queue
	logger    interfaces.Logger
	sleep     func(ctx context.Context, d time.Duration) error
}

// GitHubOption configures an HTTPGitHubGateway
type GitHubOption func(*HTTPGitHubGateway)

// WithBaseURL points the gateway at another API root (GitHub Enterprise, tests)
func WithBaseURL(baseURL string) GitHubOption {
	return func(g *HTTPGitHubGateway) { g.baseURL = strings.TrimRight(baseURL, "/") }
}

// WithHTTPClient replaces the HTTP client
func WithHTTPClient(client *http.Client) GitHubOption {
	return func(g *HTTPGitHubGateway) { g.client = client }
}

// WithPerPage sets the page size of list requests
func WithPerPage(n int) GitHubOption {
	return func(g *HTTPGitHubGateway) {
		if n > 0 {
			g.perPage = n
		}
	}
}

// WithHeaders adds headers to every request. An empty, "null" or "undefined"
// value removes a default header.
func WithHeaders(headers map[string]string) GitHubOption {
	return func(g *HTTPGitHubGateway) { g.headers = headers }
}

// WithRequestQueue runs every request through q
func WithRequestQueue(q *workqueue.Queue) GitHubOption {
	return func(g *HTTPGitHubGateway) { g.queue = q }
}

// WithGitHubLogger sets the logger
func WithGitHubLogger(logger interfaces.Logger) GitHubOption {
	return func(g *HTTPGitHubGateway) { g.logger = logger }
}

// NewHTTPGitHubGateway creates a new GitHub gateway with HTTP client.
// A missing token is an AuthError before any request is made.
func NewHTTPGitHubGateway(token string, opts ...GitHubOption) (*HTTPGitHubGateway, error) {
	if strings.TrimSpace(token) == "" {
		return nil, &entities.AuthError{Cause: entities.ErrMissingCredential}
	}

	g := &HTTPGitHubGateway{
		client: &http.Client{
			Timeout: 10 * time.Minute, // archive bodies are streamed through the same client
		},
		token:     token,
		userAgent: "tally/1.0",
		baseURL:   defaultAPIBaseURL,
		perPage:   defaultPerPage,
		logger:    &interfaces.NoOpLogger{},
		sleep:     sleepContext,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g, nil
}

var _ gateways.GitHubGateway = (*HTTPGitHubGateway)(nil)

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// checkRateLimit checks GitHub API rate limit headers. A depleted quota is an
// error only on a rejected response; a served response is still returned.
func (g *HTTPGitHubGateway) checkRateLimit(resp *http.Response) error {
	remaining := resp.Header.Get("X-RateLimit-Remaining")
	if remaining == "" {
		return nil // No rate limit header, continue
	}

	remainingInt, err := strconv.Atoi(remaining)
	if err != nil {
		return nil // Invalid header, ignore
	}

	if remainingInt == 0 {
		resetAt := "unknown"
		if resetUnix, err := strconv.ParseInt(resp.Header.Get("X-RateLimit-Reset"), 10, 64); err == nil {
			resetAt = time.Unix(resetUnix, 0).Format(time.RFC3339)
		}
		if resp.StatusCode == http.StatusForbidden || resp.StatusCode == http.StatusTooManyRequests {
			return fmt.Errorf("GitHub API rate limit exceeded (0 remaining), resets at %s", resetAt)
		}
		g.logger.Warn("GitHub API rate limit exhausted", interfaces.F("resets_at", resetAt))
		return nil
	}

	if remainingInt <= 10 {
		g.logger.Warn("GitHub API rate limit low", interfaces.F("remaining", remainingInt))
	}

	return nil
}

// isRetryableError checks if an HTTP status code is retryable
func isRetryableError(statusCode int) bool {
	switch statusCode {
	case http.StatusForbidden, // 403 - secondary rate limit
		http.StatusTooManyRequests,     // 429
		http.StatusInternalServerError, // 500
		http.StatusBadGateway,          // 502
		http.StatusServiceUnavailable,  // 503
		http.StatusGatewayTimeout:      // 504
		return true
	default:
		return false
	}
}

// calculateBackoff returns the backoff duration for a retry attempt
func calculateBackoff(attempt int) time.Duration {
	backoff := float64(initialBackoff) * math.Pow(2, float64(attempt))
	if backoff > float64(maxBackoff) {
		backoff = float64(maxBackoff)
	}
	return time.Duration(backoff)
}

// send performs one HTTP attempt, through the request queue when there is one
func (g *HTTPGitHubGateway) send(req *http.Request) (*http.Response, error) {
	if g.queue == nil {
		return g.client.Do(req)
	}

	var resp *http.Response
	future := g.queue.Submit(req.Context(), workqueue.WorkItem{
		Label: req.Method + " " + req.URL.String(),
		Run: func(context.Context) error {
			var doErr error
			resp, doErr = g.client.Do(req)
			return doErr
		},
	})
	// The request shares its context with the item, so it ends promptly once that is done
	<-future.Done()
	if err := future.Err(); err != nil {
		if resp != nil {
			//nolint:errcheck,gosec // G104: Best effort close on abandoned response
			resp.Body.Close()
		}
		return nil, err
	}
	return resp, nil
}

// doWithRetry executes an HTTP request with exponential backoff retry.
// Every attempt is admitted by the request queue on its own; backoff waits hold no slot.
func (g *HTTPGitHubGateway) doWithRetry(req *http.Request) (*http.Response, error) {
	var resp *http.Response
	var err error

	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			backoff := calculateBackoff(attempt - 1)
			g.logger.Debug("Retrying request",
				interfaces.F("url", req.URL.String()),
				interfaces.F("attempt", attempt),
				interfaces.F("backoff", backoff))
			if sleepErr := g.sleep(req.Context(), backoff); sleepErr != nil {
				return nil, sleepErr
			}
		}

		resp, err = g.send(req)
		if err != nil {
			// Network errors are retryable unless the caller gave up
			if req.Context().Err() == nil && attempt < maxRetries {
				continue
			}
			return nil, err
		}

		if rateLimitErr := g.checkRateLimit(resp); rateLimitErr != nil {
			//nolint:errcheck,gosec // G104: Best effort close on rate limit error
			resp.Body.Close()
			return nil, rateLimitErr
		}

		// Success or non-retryable error
		if !isRetryableError(resp.StatusCode) {
			return resp, nil
		}

		if attempt < maxRetries {
			// Retryable error - close body and retry
			//nolint:errcheck,gosec // G104: Best effort close before retry
			resp.Body.Close()
			continue
		}

		// Max retries reached, caller reads the final status
		return resp, nil
	}

	return resp, err
}

// do builds the request with merged headers and runs it with retries
func (g *HTTPGitHubGateway) do(ctx context.Context, method, rawURL string, headers map[string]string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header = MergeHeaders(map[string]string{
		"Authorization": "token " + g.token,
		"Accept":        "application/vnd.github+json",
		"User-Agent":    g.userAgent,
	}, g.headers, headers)

	g.logger.Debug("Fetching", interfaces.F("url", rawURL))
	return g.doWithRetry(req)
}

// getJSON fetches rawURL and decodes a 200 response into out
func (g *HTTPGitHubGateway) getJSON(ctx context.Context, rawURL string, out interface{}) error {
	resp, err := g.do(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return err
	}
	//nolint:errcheck // Defer close on HTTP response body
	defer resp.Body.Close()

	if err := statusError(resp); err != nil {
		return err
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// statusError turns a non-200 response into an error. A rejected token is an AuthError.
func statusError(resp *http.Response) error {
	if resp.StatusCode == http.StatusOK {
		return nil
	}
	bodyBytes, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	err := fmt.Errorf("HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(bodyBytes)))
	if resp.StatusCode == http.StatusUnauthorized {
		return &entities.AuthError{Cause: err}
	}
	return err
}

// listPage is the envelope of GitHub search responses
type listPage[T any] struct {
	TotalCount int `json:"total_count"`
	Items      []T `json:"items"`
}

// fetchAll requests page after page of endpoint until the accumulated items
// reach the reported total. Any page failing aborts the whole fetch.
func fetchAll[T any](ctx context.Context, g *HTTPGitHubGateway, endpoint string, query url.Values) ([]T, error) {
	var all []T

	for page := 1; ; page++ {
		params := url.Values{}
		for k, v := range query {
			params[k] = v
		}
		params.Set("per_page", strconv.Itoa(g.perPage))
		params.Set("page", strconv.Itoa(page))
		pageURL := endpoint + "?" + params.Encode()

		var result listPage[T]
		if err := g.getJSON(ctx, pageURL, &result); err != nil {
			var authErr *entities.AuthError
			if errors.As(err, &authErr) {
				return nil, err
			}
			return nil, &entities.TransientFetchError{URL: endpoint, Page: page, Cause: err}
		}

		all = append(all, result.Items...)
		g.logger.Debug("Fetched page",
			interfaces.F("url", endpoint),
			interfaces.F("page", page),
			interfaces.F("items", len(all)),
			interfaces.F("total", result.TotalCount))

		if len(all) >= result.TotalCount {
			return all, nil
		}
		if len(result.Items) == 0 {
			return nil, &entities.TransientFetchError{
				URL:   endpoint,
				Page:  page,
				Cause: fmt.Errorf("empty page with %d of %d items retrieved", len(all), result.TotalCount),
			}
		}
	}
}

type codeSearchItem struct {
	Repository struct {
		FullName string `json:"full_name"`
	} `json:"repository"`
}

// SearchRepositories runs a code search and returns the repository of every hit
func (g *HTTPGitHubGateway) SearchRepositories(ctx context.Context, query string) ([]entities.RepositoryID, error) {
	items, err := fetchAll[codeSearchItem](ctx, g, g.baseURL+"/search/code", url.Values{"q": {query}})
	if err != nil {
		return nil, fmt.Errorf("failed to search code: %w", err)
	}

	repos := make([]entities.RepositoryID, 0, len(items))
	for _, item := range items {
		if item.Repository.FullName == "" {
			continue
		}
		repos = append(repos, entities.RepositoryID(item.Repository.FullName))
	}
	return repos, nil
}

type githubCommit struct {
	Commit struct {
		Committer struct {
			Date string `json:"date"`
		} `json:"committer"`
	} `json:"commit"`
}

// LatestCommit returns the committer date of the newest commit on the default branch
func (g *HTTPGitHubGateway) LatestCommit(ctx context.Context, repo entities.RepositoryID) (string, error) {
	commitsURL := fmt.Sprintf("%s/repos/%s/commits?per_page=1", g.baseURL, repo)

	var commits []githubCommit
	if err := g.getJSON(ctx, commitsURL, &commits); err != nil {
		return "", fmt.Errorf("failed to list commits of %s: %w", repo, err)
	}
	if len(commits) == 0 {
		return "", fmt.Errorf("repository %s has no commits", repo)
	}
	return commits[0].Commit.Committer.Date, nil
}

// ArchiveURL returns the zipball locator of the repository's default branch
func (g *HTTPGitHubGateway) ArchiveURL(repo entities.RepositoryID) string {
	return fmt.Sprintf("%s/repos/%s/zipball", g.baseURL, repo)
}

// OpenArchive starts an archive download. The caller must close the body.
func (g *HTTPGitHubGateway) OpenArchive(ctx context.Context, archiveURL string) (*gateways.ArchiveStream, error) {
	// Archive responses are binary, the JSON media type does not apply
	resp, err := g.do(ctx, http.MethodGet, archiveURL, map[string]string{"Accept": "null"})
	if err != nil {
		return nil, err
	}
	if err := statusError(resp); err != nil {
		//nolint:errcheck,gosec // G104: Best effort close on error response
		resp.Body.Close()
		return nil, err
	}
	return &gateways.ArchiveStream{Body: resp.Body, Header: resp.Header}, nil
}
