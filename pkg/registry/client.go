// Package registry is the client SDK for the prompt registry API.
//
// The client keeps a bounded in-memory cache of fetched prompts. Fresh cache
// hits are served without any network call; stale entries are revalidated
// with a conditional request using the server's ETag, and served as-is when
// the server is unreachable.
package registry

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"prompt-registry-api/internal/cache"
)

// Options configures a new Client.
type Options struct {
	// BaseURL is the registry server URL (required).
	BaseURL string

	// APIKey authenticates public API requests (required).
	// Format: pr_live_... or pr_test_...
	APIKey string

	// CacheMaxSize is the maximum number of cached prompts (default 100).
	CacheMaxSize int

	// CacheTTL is how long a cached prompt is considered fresh (default 60s).
	CacheTTL time.Duration

	// MaxRetries is the number of retry attempts on 429/5xx/network errors
	// (default 3).
	MaxRetries int

	// Timeout bounds each HTTP attempt (default 10s).
	Timeout time.Duration

	// StaleWhileRevalidate makes stale cache hits return immediately while a
	// background request refreshes the entry. When false (the default) stale
	// hits block until the server has been consulted.
	StaleWhileRevalidate bool

	// HTTPClient overrides the default HTTP client.
	HTTPClient *http.Client
}

// Client fetches prompts from a registry server. It is safe for concurrent use.
type Client struct {
	baseURL    string
	apiKey     string
	maxRetries int
	httpClient *http.Client
	fetcher    *cache.Fetcher[*Prompt]
}

// NewClient creates a Client. BaseURL and APIKey are required; everything
// else has a sensible default.
func NewClient(opts Options) (*Client, error) {
	if opts.BaseURL == "" {
		return nil, &APIError{Message: "BaseURL is required"}
	}
	if opts.APIKey == "" {
		return nil, &APIError{Message: "APIKey is required"}
	}
	if opts.CacheMaxSize <= 0 {
		opts.CacheMaxSize = 100
	}
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = 60 * time.Second
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = 3
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}

	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: opts.Timeout}
	}

	c := &Client{
		baseURL:    strings.TrimRight(opts.BaseURL, "/"),
		apiKey:     opts.APIKey,
		maxRetries: opts.MaxRetries,
		httpClient: httpClient,
	}
	c.fetcher = cache.NewFetcher(
		cache.New[*Prompt](opts.CacheMaxSize, opts.CacheTTL),
		c.fetchUpstream,
		cache.FetcherOptions{
			MaxRetries:           opts.MaxRetries - 1,
			BaseDelay:            500 * time.Millisecond,
			AttemptTimeout:       opts.Timeout,
			StaleWhileRevalidate: opts.StaleWhileRevalidate,
		},
	)
	return c, nil
}

// Get fetches a prompt by UUID.
func (c *Client) Get(ctx context.Context, promptID string) (*Prompt, error) {
	return c.fetch(ctx, "id:"+promptID)
}

// GetOption configures optional parameters for GetByName.
type GetOption func(*getOptions)

type getOptions struct {
	environment string
}

// WithEnvironment restricts GetByName to a specific environment.
func WithEnvironment(env string) GetOption {
	return func(o *getOptions) {
		o.environment = env
	}
}

// GetByName fetches a prompt by fully qualified name (org/app/name).
func (c *Client) GetByName(ctx context.Context, org, app, name string, opts ...GetOption) (*Prompt, error) {
	o := &getOptions{}
	for _, fn := range opts {
		fn(o)
	}
	env := o.environment
	if env == "" {
		env = "any"
	}
	return c.fetch(ctx, fmt.Sprintf("name:%s/%s/%s:%s", org, app, name, env))
}

func (c *Client) fetch(ctx context.Context, key string) (*Prompt, error) {
	p, err := c.fetcher.Fetch(ctx, key)
	if err != nil {
		if errors.Is(err, cache.ErrUnavailable) {
			return nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
		}
		return nil, err
	}
	return p, nil
}

// Render sends variables to the server for full template rendering.
// Render results are not cached.
func (c *Client) Render(ctx context.Context, promptID string, variables map[string]interface{}) (*RenderResult, error) {
	body, err := json.Marshal(map[string]interface{}{"variables": variables})
	if err != nil {
		return nil, &APIError{Message: "failed to marshal variables: " + err.Error()}
	}

	var result RenderResult
	if err := c.doJSON(ctx, http.MethodPost, "/api/v1/prompts/"+promptID+"/render", body, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// CacheStats returns client-side cache statistics.
func (c *Client) CacheStats() cache.Stats {
	return c.fetcher.Cache().Stats()
}

// CacheInvalidate removes a specific cache entry. Returns true if it existed.
func (c *Client) CacheInvalidate(key string) bool {
	return c.fetcher.Cache().Invalidate(key)
}

// CacheInvalidatePrompt removes every cached projection of a prompt, both the
// id: and name:-keyed entries. Returns the count removed.
func (c *Client) CacheInvalidatePrompt(idOrName string) int {
	count := c.fetcher.Cache().InvalidateByPrefix("id:" + idOrName)
	count += c.fetcher.Cache().InvalidateByPrefix("name:" + idOrName)
	return count
}

// CacheClear removes all cache entries.
func (c *Client) CacheClear() {
	c.fetcher.Cache().Clear()
}

// Close releases resources held by the client.
func (c *Client) Close() {
	c.httpClient.CloseIdleConnections()
}

// --- Internal methods ---

// pathForKey maps a cache key back to its request path. Keys encode the
// lookup dimension: "id:<uuid>" or "name:<org>/<app>/<name>:<env|any>".
func pathForKey(key string) (string, error) {
	switch {
	case strings.HasPrefix(key, "id:"):
		return "/api/v1/prompts/" + strings.TrimPrefix(key, "id:"), nil
	case strings.HasPrefix(key, "name:"):
		rest := strings.TrimPrefix(key, "name:")
		i := strings.LastIndex(rest, ":")
		if i < 0 {
			return "", &APIError{Message: "malformed cache key: " + key}
		}
		path := "/api/v1/prompts/by-name/" + rest[:i]
		if env := rest[i+1:]; env != "any" {
			path += "?environment=" + env
		}
		return path, nil
	default:
		return "", &APIError{Message: "malformed cache key: " + key}
	}
}

// fetchUpstream is the upstream collaborator wired into the cache fetcher.
// It issues a GET, conditional when a validator is available, and maps the
// response onto the fetcher's outcome contract.
func (c *Client) fetchUpstream(ctx context.Context, key, validator string) (cache.Outcome[*Prompt], error) {
	var zero cache.Outcome[*Prompt]

	path, err := pathForKey(key)
	if err != nil {
		return zero, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return zero, &APIError{Message: "failed to create request: " + err.Error()}
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	if validator != "" {
		req.Header.Set("If-None-Match", validator)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return zero, cache.Transient(err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotModified:
		return cache.Outcome[*Prompt]{NotModified: true}, nil

	case resp.StatusCode == http.StatusOK:
		var prompt Prompt
		if err := json.NewDecoder(resp.Body).Decode(&prompt); err != nil {
			return zero, &APIError{Message: "failed to decode prompt: " + err.Error()}
		}
		return cache.Outcome[*Prompt]{Payload: &prompt, Validator: resp.Header.Get("ETag")}, nil

	default:
		return zero, c.errorFromResponse(resp)
	}
}

// errorFromResponse classifies a non-2xx response. 429 and 5xx come back
// wrapped as transient so the fetcher retries them; 401/404 and everything
// else are definitive.
func (c *Client) errorFromResponse(resp *http.Response) error {
	var body struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	_ = json.NewDecoder(resp.Body).Decode(&body)

	message := body.Error.Message
	if message == "" {
		message = resp.Status
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return &APIError{StatusCode: 401, Message: message}
	case resp.StatusCode == http.StatusNotFound:
		return &APIError{StatusCode: 404, Message: message}
	case resp.StatusCode == http.StatusTooManyRequests:
		retryAfter := 0
		if ra := resp.Header.Get("Retry-After"); ra != "" {
			if parsed, err := strconv.Atoi(ra); err == nil {
				retryAfter = parsed
			}
		}
		return &cache.TransientError{
			Err:        &RateLimitError{APIError: APIError{StatusCode: 429, Message: "rate limit exceeded"}, RetryAfter: retryAfter},
			RetryAfter: time.Duration(retryAfter) * time.Second,
		}
	case resp.StatusCode >= 500:
		return cache.Transient(&APIError{StatusCode: resp.StatusCode, Message: message})
	default:
		return &APIError{StatusCode: resp.StatusCode, Message: message}
	}
}

// doJSON issues a request with the client's auth and retry policy and decodes
// the response into out. Used for the non-cached endpoints.
func (c *Client) doJSON(ctx context.Context, method, path string, body []byte, out interface{}) error {
	var lastErr error

	for attempt := 0; attempt < c.maxRetries; attempt++ {
		if attempt > 0 {
			delay := 500 * time.Millisecond << uint(attempt-1)
			var te *cache.TransientError
			if errors.As(lastErr, &te) && te.RetryAfter > delay {
				delay = te.RetryAfter
			}
			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return &APIError{Message: "request cancelled"}
			case <-timer.C:
			}
		}

		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(body))
		if err != nil {
			return &APIError{Message: "failed to create request: " + err.Error()}
		}
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			lastErr = cache.Transient(err)
			continue
		}

		if resp.StatusCode == http.StatusOK {
			err := json.NewDecoder(resp.Body).Decode(out)
			resp.Body.Close()
			if err != nil {
				return &APIError{Message: "failed to decode response: " + err.Error()}
			}
			return nil
		}

		apiErr := c.errorFromResponse(resp)
		resp.Body.Close()
		if !cache.IsTransient(apiErr) {
			return apiErr
		}
		lastErr = apiErr
	}

	return fmt.Errorf("%w: request failed after %d attempts: %v", ErrUnavailable, c.maxRetries, lastErr)
}
