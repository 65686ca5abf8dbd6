// Package crawl implements the per-run state machine: resolve the user's
// container id, walk the timeline cursor page by page, dedup against the
// durable seen set, and append only novel posts.
package crawl

import (
	"context"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/w1np9uci/weibo-crawler/internal/client"
	"github.com/w1np9uci/weibo-crawler/internal/weibo"
)

// PageFetcher is the protocol surface the engine needs from the API client.
type PageFetcher interface {
	ResolveContainerID(ctx context.Context, uid string) (string, error)
	FetchPage(ctx context.Context, containerID, sinceID string) (weibo.RawPage, error)
}

// PostStore is the persistence surface the engine needs: the per-user append
// log and seen index.
type PostStore interface {
	LoadSeen(uid string) (map[string]struct{}, error)
	PersistSeen(uid string, seen map[string]struct{}) error
	AppendPosts(uid string, posts []weibo.Post) (int, error)
	LogPath(uid string) string
	SeenPath(uid string) string
}

// FetcherFactory builds a PageFetcher for one run. Proxy routing is a
// per-request choice, so the transport cannot be shared across runs.
type FetcherFactory func(useProxy bool) (PageFetcher, error)

// Reporter receives a notification after each completed page. Implementations
// must not block; the engine calls it inline between pages.
type Reporter func(page, fetched, written int, dur time.Duration)

// Config carries the engine's run defaults and injectable collaborators.
type Config struct {
	// DefaultMaxPages bounds runs whose request leaves the cap unset.
	DefaultMaxPages int
	// DefaultDelay is the inter-page wait applied when the request gives none.
	DefaultDelay time.Duration
	// Logger is optional; a nop logger is substituted when nil.
	Logger *zap.Logger
	// Sleep replaces time.Sleep in tests.
	Sleep func(time.Duration)
	// Now replaces time.Now in tests.
	Now func() time.Time
}

// Crawler executes crawl runs. Safe for concurrent use; each Run builds its
// own fetcher and touches only the files of the requested user.
type Crawler struct {
	newFetcher FetcherFactory
	store      PostStore

	defaultMaxPages int
	defaultDelay    time.Duration
	logger          *zap.Logger
	sleep           func(time.Duration)
	now             func() time.Time
}

// New wires a Crawler from its collaborators.
func New(newFetcher FetcherFactory, store PostStore, cfg Config) *Crawler {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	sleep := cfg.Sleep
	if sleep == nil {
		sleep = time.Sleep
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Crawler{
		newFetcher:      newFetcher,
		store:           store,
		defaultMaxPages: cfg.DefaultMaxPages,
		defaultDelay:    cfg.DefaultDelay,
		logger:          logger,
		sleep:           sleep,
		now:             now,
	}
}

// MaxPages resolves the effective page cap for a request. A negative value is
// treated as zero.
func (c *Crawler) MaxPages(req weibo.CrawlRequest) int {
	pages := c.defaultMaxPages
	if req.MaxPages != nil {
		pages = *req.MaxPages
	}
	if pages < 0 {
		pages = 0
	}
	return pages
}

// delay resolves the effective inter-page wait. Negative values clamp to zero.
func (c *Crawler) delay(req weibo.CrawlRequest) time.Duration {
	if req.DelayS == 0 {
		return c.defaultDelay
	}
	d := time.Duration(req.DelayS * float64(time.Second))
	if d < 0 {
		return 0
	}
	return d
}

// Run executes one crawl: Resolving, Paging, Finalizing. On a mid-run page
// failure the seen set accumulated so far is still flushed, so a retried run
// resumes forward instead of re-appending pages it already wrote. The partial
// result is returned alongside the error. report may be nil.
func (c *Crawler) Run(ctx context.Context, req weibo.CrawlRequest, report Reporter) (weibo.CrawlResult, error) {
	if report == nil {
		report = func(int, int, int, time.Duration) {}
	}
	fetcher, err := c.newFetcher(req.UseProxy)
	if err != nil {
		return weibo.CrawlResult{}, err
	}

	containerID, err := fetcher.ResolveContainerID(ctx, req.UID)
	if err != nil {
		return weibo.CrawlResult{}, err
	}
	seen, err := c.store.LoadSeen(req.UID)
	if err != nil {
		return weibo.CrawlResult{}, err
	}

	result := weibo.CrawlResult{
		UID:         req.UID,
		ContainerID: containerID,
		OutputFile:  c.store.LogPath(req.UID),
		SeenFile:    c.store.SeenPath(req.UID),
	}
	maxPages := c.MaxPages(req)
	c.logger.Info("crawl run starting",
		zap.String("uid", req.UID),
		zap.String("containerid", containerID),
		zap.Int("max_pages", maxPages),
		zap.Int("seen", len(seen)),
	)
	if maxPages == 0 {
		// Resolve-only run: no fetches, no writes, zero stats.
		return result, nil
	}

	delay := c.delay(req)
	cursor := ""
	var runErr error

	for page := 1; page <= maxPages; page++ {
		if err := ctx.Err(); err != nil {
			runErr = err
			break
		}
		pageStart := c.now()
		raw, err := fetcher.FetchPage(ctx, containerID, cursor)
		if err != nil {
			runErr = err
			break
		}
		if raw.OK != 1 {
			// Upstream says no more data. Normal terminal condition.
			break
		}
		result.Stats.Pages++

		posts := client.NormalizeCards(raw.Data.Cards)
		result.Stats.Fetched += len(posts)

		// Marking ids seen during partitioning also collapses duplicates that
		// repeat within a single page.
		fresh := make([]weibo.Post, 0, len(posts))
		freshIDs := make([]string, 0, len(posts))
		for _, post := range posts {
			if post.ID == nil {
				continue
			}
			id := strconv.FormatInt(*post.ID, 10)
			if _, dup := seen[id]; dup {
				continue
			}
			seen[id] = struct{}{}
			fresh = append(fresh, post)
			freshIDs = append(freshIDs, id)
		}

		written, err := c.store.AppendPosts(req.UID, fresh)
		result.Stats.Written += written
		if err != nil {
			// Ids that never reached the log must not survive into the index.
			for _, id := range freshIDs[written:] {
				delete(seen, id)
			}
			runErr = err
			break
		}

		next := raw.NextCursor()
		if result.FirstSinceID == "" {
			result.FirstSinceID = next
		}
		result.LastSinceID = next

		report(page, len(posts), written, c.now().Sub(pageStart))
		c.logger.Debug("page complete",
			zap.String("uid", req.UID),
			zap.Int("page", page),
			zap.Int("fetched", len(posts)),
			zap.Int("written", written),
			zap.String("next_cursor", next),
		)

		if next == "" {
			break
		}
		cursor = next
		if page < maxPages && delay > 0 {
			c.sleep(delay)
		}
	}

	// Finalizing runs on the failure path too: whatever was appended must be
	// reflected in the index so the next run skips it.
	if err := c.store.PersistSeen(req.UID, seen); err != nil {
		if runErr == nil {
			runErr = err
		} else {
			c.logger.Warn("seen index flush failed after run error",
				zap.String("uid", req.UID),
				zap.Error(err),
			)
		}
	}

	if runErr != nil {
		return result, runErr
	}
	c.logger.Info("crawl run finished",
		zap.String("uid", req.UID),
		zap.Int("pages", result.Stats.Pages),
		zap.Int("fetched", result.Stats.Fetched),
		zap.Int("written", result.Stats.Written),
	)
	return result, nil
}
