// Package catalog caches the remote label -> category key mapping.
package catalog

import (
	"context"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/Brownie44l1/challenge-api/internal/challenge"
	"github.com/Brownie44l1/challenge-api/internal/remote"
)

const (
	DefaultTTL        = time.Hour
	DefaultRetryAfter = time.Minute
)

// Snapshot is one fetched catalog. It is never mutated after publication.
type Snapshot struct {
	Labels    map[string]challenge.Key
	FetchedAt time.Time
	// Stale is set when the snapshot outlived its TTL and the refresh failed.
	Stale bool

	expires time.Time
}

type Config struct {
	URL string
	TTL time.Duration
	// RetryAfter is how long a stale snapshot is served before the next
	// refresh attempt.
	RetryAfter time.Duration
	Fetcher    remote.Fetcher
	Logger  *zap.Logger
	// Now overrides the clock; tests only.
	Now func() time.Time
}

// Cache serves the catalog from memory and refetches it once the TTL has
// passed. Concurrent cold or expired lookups share one fetch. When a refresh
// fails and an older snapshot exists, the older snapshot is served marked
// Stale for RetryAfter before the next attempt; without one, callers get
// ErrUpstreamUnavailable.
type Cache struct {
	url        string
	ttl        time.Duration
	retryAfter time.Duration
	fetcher    remote.Fetcher
	logger     *zap.Logger
	now        func() time.Time

	current atomic.Pointer[Snapshot]
	group   singleflight.Group
}

func New(cfg Config) *Cache {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	retryAfter := cfg.RetryAfter
	if retryAfter <= 0 {
		retryAfter = DefaultRetryAfter
	}
	retryAfter = min(retryAfter, ttl)
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Cache{
		url:        cfg.URL,
		ttl:        ttl,
		retryAfter: retryAfter,
		fetcher:    cfg.Fetcher,
		logger:     logger,
		now:        now,
	}
}

// Catalog returns the current snapshot, fetching it if absent or expired.
func (c *Cache) Catalog(ctx context.Context) (*Snapshot, error) {
	if snap := c.current.Load(); snap != nil && c.fresh(snap) {
		return snap, nil
	}
	return c.refresh(ctx, false)
}

// Refresh fetches the catalog regardless of its age.
func (c *Cache) Refresh(ctx context.Context) error {
	_, err := c.refresh(ctx, true)
	return err
}

// Resolve maps a normalized label to its category key.
func (c *Cache) Resolve(ctx context.Context, label challenge.Key) (challenge.Key, error) {
	snap, err := c.Catalog(ctx)
	if err != nil {
		return "", err
	}
	key, ok := snap.Labels[string(label)]
	if !ok {
		return "", challenge.UnknownChallenge(string(label))
	}
	return key, nil
}

// Run refreshes the catalog every TTL until ctx is done.
func (c *Cache) Run(ctx context.Context) {
	ticker := time.NewTicker(c.ttl)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := c.Refresh(ctx); err != nil {
				c.logger.Warn("background catalog refresh failed", zap.Error(err))
			}
		}
	}
}

func (c *Cache) fresh(snap *Snapshot) bool {
	return c.now().Before(snap.expires)
}

func (c *Cache) refresh(ctx context.Context, force bool) (*Snapshot, error) {
	ch := c.group.DoChan("catalog", func() (any, error) {
		// A caller that queued behind a completed fetch finds it here.
		if snap := c.current.Load(); !force && snap != nil && c.fresh(snap) {
			return snap, nil
		}
		return c.fetch(context.WithoutCancel(ctx))
	})
	select {
	case <-ctx.Done():
		return nil, challenge.UpstreamUnavailable("catalog", ctx.Err())
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*Snapshot), nil
	}
}

func (c *Cache) fetch(ctx context.Context) (*Snapshot, error) {
	start := c.now()
	data, err := c.fetcher.Fetch(ctx, c.url)
	var labels map[string]challenge.Key
	if err == nil {
		labels, err = Parse(data)
	}
	if err != nil {
		old := c.current.Load()
		if old == nil {
			c.logger.Error("catalog fetch failed", zap.String("url", c.url), zap.Error(err))
			return nil, challenge.UpstreamUnavailable("catalog", err)
		}
		c.logger.Warn("catalog refresh failed, serving stale catalog",
			zap.String("url", c.url),
			zap.Time("fetchedAt", old.FetchedAt),
			zap.Duration("retryAfter", c.retryAfter),
			zap.Error(err))
		stale := *old
		stale.Stale = true
		stale.expires = c.now().Add(c.retryAfter)
		c.current.Store(&stale)
		return &stale, nil
	}

	fetchedAt := c.now()
	snap := &Snapshot{Labels: labels, FetchedAt: fetchedAt, expires: fetchedAt.Add(c.ttl)}
	c.current.Store(snap)
	c.logger.Info("catalog refreshed",
		zap.String("url", c.url),
		zap.Int("labels", len(labels)),
		zap.Duration("took", c.now().Sub(start)))
	return snap, nil
}
