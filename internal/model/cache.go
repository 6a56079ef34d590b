package model

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/Brownie44l1/challenge-api/internal/artifact"
	"github.com/Brownie44l1/challenge-api/internal/challenge"
)

// Sessions caches one compiled Session per category key. The cache holds a
// reference to each session it stores; callers get their own reference from
// Acquire and must Release it.
type Sessions struct {
	runtime Runtime
	logger  *zap.Logger

	mu       sync.Mutex
	sessions map[challenge.Key]*Session
	live     map[*Session]struct{}
	closed   bool
	group    singleflight.Group
}

func NewSessions(runtime Runtime, logger *zap.Logger) *Sessions {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Sessions{
		runtime:  runtime,
		logger:   logger,
		sessions: make(map[challenge.Key]*Session),
		live:     make(map[*Session]struct{}),
	}
}

// Acquire returns the session for a, compiling it on first use.
func (c *Sessions) Acquire(ctx context.Context, a *artifact.Artifact) (*Session, error) {
	for {
		if s := c.lookup(a.Key); s != nil && s.Acquire() {
			return s, nil
		}
		ch := c.group.DoChan(string(a.Key), func() (any, error) {
			if s := c.lookup(a.Key); s != nil {
				return s, nil
			}
			return c.build(a)
		})
		var s *Session
		select {
		case <-ctx.Done():
			return nil, challenge.UpstreamUnavailable(string(a.Key), ctx.Err())
		case res := <-ch:
			if res.Err != nil {
				return nil, res.Err
			}
			s = res.Val.(*Session)
		}
		if s.Acquire() {
			return s, nil
		}
		// Evicted between build and acquire; try again.
	}
}

// Evict drops the cache's reference to key's session. In-flight users keep
// it alive until they release.
func (c *Sessions) Evict(key challenge.Key) {
	c.mu.Lock()
	s, ok := c.sessions[key]
	delete(c.sessions, key)
	c.mu.Unlock()
	if ok {
		s.Release()
	}
}

// Close evicts every session and refuses to build new ones. Sessions still
// held by callers stay open until released; use Wait to block on them.
func (c *Sessions) Close() {
	c.mu.Lock()
	sessions := c.sessions
	c.sessions = make(map[challenge.Key]*Session)
	c.closed = true
	c.mu.Unlock()
	for _, s := range sessions {
		s.Release()
	}
}

// Wait blocks until every session this cache built has been destroyed, or
// ctx is done.
func (c *Sessions) Wait(ctx context.Context) error {
	for {
		c.mu.Lock()
		var next *Session
		for s := range c.live {
			next = s
			break
		}
		c.mu.Unlock()
		if next == nil {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-next.Done():
			c.forget(next)
		}
	}
}

func (c *Sessions) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.sessions)
}

func (c *Sessions) lookup(key challenge.Key) *Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.sessions[key]
	if ok && s.Refs() == 0 {
		delete(c.sessions, key)
		return nil
	}
	return s
}

func (c *Sessions) build(a *artifact.Artifact) (*Session, error) {
	start := time.Now()
	s, err := Build(c.runtime, a)
	if err != nil {
		c.logger.Error("failed to build session", zap.String("key", string(a.Key)), zap.Error(err))
		return nil, err
	}
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		s.Release()
		return nil, challenge.InferenceFailure(ErrSessionsClosed)
	}
	c.sessions[a.Key] = s
	c.live[s] = struct{}{}
	c.mu.Unlock()
	go func() {
		<-s.Done()
		c.forget(s)
	}()
	c.logger.Info("session built",
		zap.String("key", string(a.Key)),
		zap.Int("bytes", len(a.Data)),
		zap.Duration("took", time.Since(start)))
	return s, nil
}

func (c *Sessions) forget(s *Session) {
	c.mu.Lock()
	delete(c.live, s)
	c.mu.Unlock()
}
