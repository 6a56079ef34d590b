// Package artifact fetches and caches model weights per category key.
package artifact

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/Brownie44l1/challenge-api/internal/challenge"
	"github.com/Brownie44l1/challenge-api/internal/remote"
)

// Artifact is the raw weights of one model. Data must not be modified.
type Artifact struct {
	Key  challenge.Key
	Data []byte
}

// Resolver maps a normalized label to a category key.
type Resolver interface {
	Resolve(ctx context.Context, label challenge.Key) (challenge.Key, error)
}

// Store is an optional second-level cache shared between processes.
type Store interface {
	Get(ctx context.Context, key challenge.Key) ([]byte, bool, error)
	Put(ctx context.Context, key challenge.Key, data []byte) error
}

type Config struct {
	// URLTemplate contains a {key} placeholder, e.g.
	// https://host/model/{key}.onnx
	URLTemplate string
	Fetcher     remote.Fetcher
	Resolver    Resolver
	Store       Store
	Logger      *zap.Logger
}

// Cache keeps every fetched artifact for the life of the process.
// Concurrent misses for the same key share one fetch.
type Cache struct {
	cfg    Config
	logger *zap.Logger

	mu        sync.RWMutex
	artifacts map[challenge.Key]*Artifact
	group     singleflight.Group
}

func NewCache(cfg Config) *Cache {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Cache{
		cfg:       cfg,
		logger:    logger,
		artifacts: make(map[challenge.Key]*Artifact),
	}
}

// Lookup resolves label through the catalog and returns its artifact.
func (c *Cache) Lookup(ctx context.Context, label challenge.Key) (*Artifact, error) {
	key, err := c.cfg.Resolver.Resolve(ctx, label)
	if err != nil {
		return nil, err
	}
	return c.Get(ctx, key)
}

// Get returns the artifact for key, fetching it on first use.
func (c *Cache) Get(ctx context.Context, key challenge.Key) (*Artifact, error) {
	if a := c.cached(key); a != nil {
		return a, nil
	}
	ch := c.group.DoChan(string(key), func() (any, error) {
		if a := c.cached(key); a != nil {
			return a, nil
		}
		return c.load(context.WithoutCancel(ctx), key)
	})
	select {
	case <-ctx.Done():
		return nil, challenge.UpstreamUnavailable(string(key), ctx.Err())
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*Artifact), nil
	}
}

// Len reports how many artifacts are cached.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.artifacts)
}

func (c *Cache) cached(key challenge.Key) *Artifact {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.artifacts[key]
}

func (c *Cache) load(ctx context.Context, key challenge.Key) (*Artifact, error) {
	logger := c.logger.With(zap.String("key", string(key)))

	if c.cfg.Store != nil {
		data, found, err := c.cfg.Store.Get(ctx, key)
		switch {
		case err != nil:
			logger.Warn("artifact store lookup failed", zap.Error(err))
		case found && len(data) > 0:
			logger.Debug("artifact loaded from store", zap.Int("bytes", len(data)))
			return c.publish(key, data), nil
		}
	}

	url := remote.Expand(c.cfg.URLTemplate, "{key}", string(key))
	data, err := c.cfg.Fetcher.Fetch(ctx, url)
	if err != nil {
		if errors.Is(err, remote.ErrNotFound) {
			logger.Info("no model for challenge", zap.String("url", url))
			return nil, challenge.UnknownChallenge(string(key))
		}
		logger.Error("model fetch failed", zap.String("url", url), zap.Error(err))
		return nil, challenge.UpstreamUnavailable(string(key), err)
	}
	logger.Info("model fetched", zap.String("url", url), zap.Int("bytes", len(data)))

	if c.cfg.Store != nil {
		if err := c.cfg.Store.Put(ctx, key, data); err != nil {
			logger.Warn("artifact store write failed", zap.Error(err))
		}
	}
	return c.publish(key, data), nil
}

func (c *Cache) publish(key challenge.Key, data []byte) *Artifact {
	a := &Artifact{Key: key, Data: data}
	c.mu.Lock()
	c.artifacts[key] = a
	c.mu.Unlock()
	return a
}
