// Package client implements the m.weibo.cn protocol adapter: container id
// resolution, paginated timeline fetches, and the shared retry policy.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/w1np9uci/weibo-crawler/internal/config"
	"github.com/w1np9uci/weibo-crawler/internal/metrics"
	"github.com/w1np9uci/weibo-crawler/internal/weibo"
)

// BaseURL is the mobile API root. Overridable for integration tests.
const BaseURL = "https://m.weibo.cn/api"

// Retry backoff shape shared by all request-issuing operations.
const (
	backoffCap       = 5 * time.Second
	backoffIncrement = 500 * time.Millisecond
	jitterCeiling    = 500 * time.Millisecond
)

// HTTPDoer abstracts the transport so tests can inject responses.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Client issues classified, retried requests against the mobile API.
// It is safe for concurrent use; all configuration is immutable.
type Client struct {
	http       HTTPDoer
	baseURL    string
	cookie     string
	userAgent  string
	maxRetries int
	logger     *zap.Logger
	sleep      func(time.Duration)
}

// Option customizes a Client, primarily for testing.
type Option func(*Client)

// WithDoer replaces the HTTP transport.
func WithDoer(d HTTPDoer) Option {
	return func(c *Client) { c.http = d }
}

// WithBaseURL points the client at a different API root.
func WithBaseURL(u string) Option {
	return func(c *Client) { c.baseURL = strings.TrimRight(u, "/") }
}

// WithSleep replaces the backoff sleep, letting tests run without waiting.
func WithSleep(fn func(time.Duration)) Option {
	return func(c *Client) { c.sleep = fn }
}

// New constructs a Client from immutable settings. When useProxy is set and a
// proxy URL is configured, requests are routed through it.
func New(cfg config.Config, useProxy bool, logger *zap.Logger, opts ...Option) (*Client, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	transport := http.DefaultTransport.(*http.Transport).Clone()
	if useProxy && cfg.Weibo.Proxy != "" {
		proxyURL, err := url.Parse(cfg.Weibo.Proxy)
		if err != nil {
			return nil, weibo.WrapError(weibo.ErrKindConfiguration, "invalid proxy url", err)
		}
		transport.Proxy = http.ProxyURL(proxyURL)
	}
	c := &Client{
		http: &http.Client{
			Timeout:   cfg.RequestTimeout(),
			Transport: transport,
		},
		baseURL:    BaseURL,
		cookie:     cfg.Weibo.Cookie,
		userAgent:  cfg.Weibo.UserAgent,
		maxRetries: cfg.HTTP.MaxRetries,
		logger:     logger,
		sleep:      time.Sleep,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// containerIndex is the getIndex payload used for container id resolution.
type containerIndex struct {
	OK   int `json:"ok"`
	Data struct {
		TabsInfo struct {
			Tabs []struct {
				TabType     string `json:"tab_type"`
				ContainerID string `json:"containerid"`
			} `json:"tabs"`
		} `json:"tabsInfo"`
	} `json:"data"`
}

// ResolveContainerID discovers the opaque container id for the user's weibo
// tab. The id may rotate, so it is rediscovered on every run and never cached.
func (c *Client) ResolveContainerID(ctx context.Context, uid string) (string, error) {
	params := url.Values{}
	params.Set("type", "uid")
	params.Set("value", uid)
	params.Set("uid", uid)

	var idx containerIndex
	err := c.requestJSON(ctx, "/container/getIndex", params, "https://m.weibo.cn/u/"+uid, &idx)
	if err != nil {
		return "", err
	}
	if idx.OK != 1 {
		return "", weibo.NewError(weibo.ErrKindResolution, "failed to resolve user containerid")
	}
	for _, tab := range idx.Data.TabsInfo.Tabs {
		if tab.TabType == "weibo" && tab.ContainerID != "" {
			return tab.ContainerID, nil
		}
	}
	return "", weibo.NewError(weibo.ErrKindResolution, "weibo tab containerid not found for user")
}

// FetchPage retrieves one timeline page. An empty sinceID requests the first
// page. The raw payload is returned unmodified; success checks belong to the
// crawl loop.
func (c *Client) FetchPage(ctx context.Context, containerID, sinceID string) (weibo.RawPage, error) {
	params := url.Values{}
	params.Set("containerid", containerID)
	if sinceID != "" {
		params.Set("since_id", sinceID)
	}
	referer := "https://m.weibo.cn/p/index?containerid=" + containerID

	var page weibo.RawPage
	if err := c.requestJSON(ctx, "/container/getIndex", params, referer, &page); err != nil {
		return weibo.RawPage{}, err
	}
	return page, nil
}

// requestJSON issues one GET with the shared retry policy. Anti-bot statuses
// (403, 418, 429), 5xx responses, network failures, and structurally empty
// bodies all consume the same retry budget; only the surfaced message differs.
func (c *Client) requestJSON(ctx context.Context, path string, params url.Values, referer string, target any) error {
	if c.cookie == "" {
		return weibo.NewError(weibo.ErrKindConfiguration,
			"weibo cookie is not set; supply a valid cookie from m.weibo.cn")
	}

	fullURL := c.baseURL + path
	if encoded := params.Encode(); encoded != "" {
		fullURL += "?" + encoded
	}

	var lastErr error
	for attempt := 1; attempt <= c.maxRetries; attempt++ {
		if attempt > 1 {
			delay := c.backoff(attempt - 1)
			c.logger.Warn("weibo request failed, backing off",
				zap.String("url", fullURL),
				zap.Int("attempt", attempt-1),
				zap.Int("max_retries", c.maxRetries),
				zap.Duration("sleep", delay),
				zap.Error(lastErr),
			)
			metrics.ObserveRetryDelay(delay)
			c.sleep(delay)
		}
		if err := c.doOnce(ctx, fullURL, referer, target); err != nil {
			lastErr = err
			if ctx.Err() != nil {
				break
			}
			continue
		}
		return nil
	}
	return weibo.WrapError(weibo.ErrKindTransport, "retry budget exhausted", lastErr)
}

func (c *Client) doOnce(ctx context.Context, fullURL, referer string, target any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "application/json, text/plain, */*")
	req.Header.Set("X-Requested-With", "XMLHttpRequest")
	req.Header.Set("Cookie", c.cookie)
	if referer != "" {
		req.Header.Set("Referer", referer)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("network error: %w", err)
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			c.logger.Debug("close response body", zap.Error(closeErr))
		}
	}()

	c.logger.Debug("weibo request completed",
		zap.String("url", fullURL),
		zap.Int("status", resp.StatusCode),
		zap.Duration("duration", time.Since(start)),
	)

	switch {
	case resp.StatusCode == http.StatusForbidden,
		resp.StatusCode == http.StatusTeapot,
		resp.StatusCode == http.StatusTooManyRequests:
		return fmt.Errorf("weibo API blocked the request with status %d; check cookie/proxy/UA", resp.StatusCode)
	case resp.StatusCode >= 500:
		return fmt.Errorf("server error %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response body: %w", err)
	}
	trimmed := strings.TrimSpace(string(body))
	if trimmed == "" || trimmed == "{}" || trimmed == "null" {
		return fmt.Errorf("empty response from weibo API")
	}
	if err := json.Unmarshal(body, target); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// backoff computes min(cap, increment × attempt) plus uniform jitter. Jitter
// affects only timing, never ordering or content.
func (c *Client) backoff(attempt int) time.Duration {
	base := backoffIncrement * time.Duration(attempt)
	if base > backoffCap {
		base = backoffCap
	}
	return base + time.Duration(rand.Int63n(int64(jitterCeiling)))
}
