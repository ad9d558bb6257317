// Package gh provides a GitHub API client for searching and writing issues.
package gh

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/Rican7/retry"
	"github.com/Rican7/retry/backoff"
	"github.com/Rican7/retry/strategy"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
	"gopkg.in/yaml.v3"
)

const (
	apiBaseURL = "https://api.github.com"
	apiVersion = "2022-11-28"

	searchPageSize = 100

	retryAttempts  = 3
	retryBaseDelay = 250 * time.Millisecond
)

// Issue states accepted by SearchIssues.
const (
	StateOpen   = "open"
	StateClosed = "closed"
)

// Label represents a GitHub issue label.
type Label struct {
	Name  string `json:"name"`
	Color string `json:"color"`
}

// User represents a GitHub user.
type User struct {
	Login string `json:"login"`
}

// Issue is the slice of a GitHub issue this system cares about. It is
// fetched fresh every pass and never cached.
type Issue struct {
	Number    int       `json:"number"`
	Title     string    `json:"title"`
	Body      string    `json:"body"`
	State     string    `json:"state"`
	Labels    []Label   `json:"labels"`
	User      User      `json:"user"`
	Assignee  *User     `json:"assignee"`
	HTMLURL   string    `json:"html_url"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// Present on search results that are pull requests, which the
	// reconciler must never touch.
	PullRequest *struct{} `json:"pull_request,omitempty"`
}

// LabelNames returns the issue's label names.
func (i *Issue) LabelNames() []string {
	names := make([]string, len(i.Labels))
	for j, l := range i.Labels {
		names[j] = l.Name
	}
	return names
}

// Client is a GitHub API client. It is safe for concurrent use.
type Client struct {
	token      string
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
}

// New creates a GitHub API client with the given token. The built-in
// limiter stays inside the search API's documented budget.
func New(token string) *Client {
	return &Client{
		token:      token,
		baseURL:    apiBaseURL,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		limiter:    rate.NewLimiter(rate.Every(2*time.Second), 5),
	}
}

// NewWithBaseURL creates a client against a custom base URL, without
// rate limiting (for testing).
func NewWithBaseURL(token, baseURL string) *Client {
	return &Client{
		token:      token,
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		limiter:    rate.NewLimiter(rate.Inf, 0),
	}
}

// ghHostsConfig represents the structure of ~/.config/gh/hosts.yml
type ghHostsConfig map[string]ghHost

type ghHost struct {
	OAuthToken string `yaml:"oauth_token"`
	User       string `yaml:"user"`
}

// GetToken attempts to get a GitHub token from various sources:
// 1. GITHUB_TOKEN environment variable
// 2. Run `gh auth token` command (gh CLI with keyring storage)
// 3. Read from ~/.config/gh/hosts.yml (older gh CLI format)
func GetToken() (string, error) {
	if token := os.Getenv("GITHUB_TOKEN"); token != "" {
		return token, nil
	}

	if token, err := getTokenFromGhCLI(); err == nil && token != "" {
		return token, nil
	}

	if token, err := getTokenFromGhConfig(); err == nil && token != "" {
		return token, nil
	}

	return "", fmt.Errorf("no GitHub token found: set GITHUB_TOKEN, or install the gh CLI and run 'gh auth login'")
}

func getTokenFromGhCLI() (string, error) {
	output, err := exec.Command("gh", "auth", "token").Output()
	if err != nil {
		return "", fmt.Errorf("gh auth token failed: %w", err)
	}
	return strings.TrimSpace(string(output)), nil
}

func getTokenFromGhConfig() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}

	data, err := os.ReadFile(filepath.Join(homeDir, ".config", "gh", "hosts.yml"))
	if err != nil {
		return "", fmt.Errorf("failed to read gh config: %w", err)
	}

	var config ghHostsConfig
	if err := yaml.Unmarshal(data, &config); err != nil {
		return "", fmt.Errorf("failed to parse gh config: %w", err)
	}

	if host, ok := config["github.com"]; ok && host.OAuthToken != "" {
		return host.OAuthToken, nil
	}

	return "", fmt.Errorf("no oauth_token found in gh config")
}

// doRequest performs one authenticated HTTP request, honoring the
// client's rate limiter.
func (c *Client) doRequest(ctx context.Context, method, url string, body []byte) (*http.Response, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("X-GitHub-Api-Version", apiVersion)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}

	checkRateLimit(resp)
	return resp, nil
}

// getWithRetry performs a GET with bounded exponential backoff on rate
// limits, server errors and connection failures. Mutating calls are never
// retried here; the next reconciliation pass retries them naturally.
func (c *Client) getWithRetry(ctx context.Context, url string) ([]byte, error) {
	var payload []byte
	var lastErr error

	err := retry.Retry(func(attempt uint) error {
		if err := ctx.Err(); err != nil {
			lastErr = err
			return nil
		}
		if attempt > 0 {
			log.Debug().Uint("attempt", attempt).Str("url", url).Msg("retrying GitHub request")
		}

		resp, err := c.doRequest(ctx, http.MethodGet, url, nil)
		if err != nil {
			lastErr = err
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			lastErr = responseError(resp)
			if IsTransient(lastErr) {
				return lastErr
			}
			return nil
		}

		payload, err = io.ReadAll(resp.Body)
		lastErr = err
		return err
	}, strategy.Limit(retryAttempts), strategy.Backoff(backoff.Exponential(retryBaseDelay, 2)))

	if lastErr != nil {
		return nil, lastErr
	}
	if err != nil {
		return nil, err
	}
	return payload, nil
}

// responseError converts a non-2xx response into an *APIError, consuming
// the body for its message.
func responseError(resp *http.Response) error {
	body, _ := io.ReadAll(resp.Body)

	var ghErr struct {
		Message string `json:"message"`
	}
	message := strings.TrimSpace(string(body))
	if json.Unmarshal(body, &ghErr) == nil && ghErr.Message != "" {
		message = ghErr.Message
	}

	return &APIError{StatusCode: resp.StatusCode, Message: message}
}

// checkRateLimit logs when the API reports an exhausted quota.
func checkRateLimit(resp *http.Response) {
	if resp.Header.Get("X-RateLimit-Remaining") != "0" {
		return
	}
	if reset := resp.Header.Get("X-RateLimit-Reset"); reset != "" {
		if resetTime, err := strconv.ParseInt(reset, 10, 64); err == nil {
			log.Warn().Time("resets_at", time.Unix(resetTime, 0)).Msg("GitHub API rate limit exhausted")
		}
	}
}

type searchResponse struct {
	TotalCount        int     `json:"total_count"`
	IncompleteResults bool    `json:"incomplete_results"`
	Items             []Issue `json:"items"`
}

// SearchIssues returns every issue in owner/repo with the given state
// whose title is indexed for search. One unpaginated call: the system is
// scoped to repos whose issue count fits in a single search page, and a
// warning is logged whenever that assumption breaks.
func (c *Client) SearchIssues(ctx context.Context, owner, repo, state string) ([]Issue, error) {
	query := fmt.Sprintf("repo:%s/%s is:issue is:%s in:title", owner, repo, state)

	params := url.Values{}
	params.Set("q", query)
	params.Set("per_page", strconv.Itoa(searchPageSize))

	payload, err := c.getWithRetry(ctx, c.baseURL+"/search/issues?"+params.Encode())
	if err != nil {
		return nil, fmt.Errorf("search %q: %w", query, err)
	}

	var result searchResponse
	if err := json.Unmarshal(payload, &result); err != nil {
		return nil, fmt.Errorf("failed to decode search response: %w", err)
	}

	if result.IncompleteResults || result.TotalCount > len(result.Items) {
		log.Warn().
			Str("repo", owner+"/"+repo).
			Str("state", state).
			Int("total", result.TotalCount).
			Int("returned", len(result.Items)).
			Msg("issue search truncated; repo exceeds the single-page scale limit")
	}

	// The search index can return pull requests despite is:issue.
	issues := result.Items[:0]
	for _, item := range result.Items {
		if item.PullRequest == nil {
			issues = append(issues, item)
		}
	}

	return issues, nil
}

// GetIssue fetches a single issue by number.
func (c *Client) GetIssue(ctx context.Context, owner, repo string, number int) (*Issue, error) {
	url := fmt.Sprintf("%s/repos/%s/%s/issues/%d", c.baseURL, owner, repo, number)

	payload, err := c.getWithRetry(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("get issue #%d: %w", number, err)
	}

	var issue Issue
	if err := json.Unmarshal(payload, &issue); err != nil {
		return nil, fmt.Errorf("failed to decode issue: %w", err)
	}
	return &issue, nil
}

// CreateIssue opens a new issue.
func (c *Client) CreateIssue(ctx context.Context, owner, repo, title, body string, labels []string) (*Issue, error) {
	payload, err := json.Marshal(map[string]any{
		"title":  title,
		"body":   body,
		"labels": labels,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payload: %w", err)
	}

	url := fmt.Sprintf("%s/repos/%s/%s/issues", c.baseURL, owner, repo)
	resp, err := c.doRequest(ctx, http.MethodPost, url, payload)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		return nil, responseError(resp)
	}

	var issue Issue
	if err := json.NewDecoder(resp.Body).Decode(&issue); err != nil {
		return nil, fmt.Errorf("failed to decode created issue: %w", err)
	}
	return &issue, nil
}

// UpdateIssue patches an issue; nil fields are left untouched.
func (c *Client) UpdateIssue(ctx context.Context, owner, repo string, number int, title, body *string) (*Issue, error) {
	fields := make(map[string]any)
	if title != nil {
		fields["title"] = *title
	}
	if body != nil {
		fields["body"] = *body
	}

	payload, err := json.Marshal(fields)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payload: %w", err)
	}

	url := fmt.Sprintf("%s/repos/%s/%s/issues/%d", c.baseURL, owner, repo, number)
	resp, err := c.doRequest(ctx, http.MethodPatch, url, payload)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, responseError(resp)
	}

	var issue Issue
	if err := json.NewDecoder(resp.Body).Decode(&issue); err != nil {
		return nil, fmt.Errorf("failed to decode updated issue: %w", err)
	}
	return &issue, nil
}
