package cache

import (
	"context"
	"crypto/sha256"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/Adithya-Monish-Kumar-K/Scanned-Document-Viewer/pkg/metrics"
	pkgredis "github.com/Adithya-Monish-Kumar-K/Scanned-Document-Viewer/pkg/redis"
	"golang.org/x/sync/singleflight"
)

const (
	thumbnailKeyPrefix = "thumb:"
	thumbnailCacheName = "thumbnails"

	// computeTimeout bounds a shared computation once it no longer follows
	// any caller's context.
	computeTimeout = 2 * time.Minute
)

// Remote is the optional persistent tier behind the in-memory thumbnail LRU.
// *pkgredis.Client satisfies it.
type Remote interface {
	GetBytes(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	FlushByPattern(ctx context.Context, pattern string) (int64, error)
}

// ThumbnailStore holds encoded preview images. Lookups hit the memory LRU
// first and fall back to the remote tier, promoting remote hits into memory.
// Concurrent computations for the same document are coalesced.
type ThumbnailStore struct {
	mem     *LRU[string, []byte]
	remote  Remote
	ttl     time.Duration
	group   singleflight.Group
	metrics *metrics.Metrics
	logger  *slog.Logger
	hits    atomic.Int64
	misses  atomic.Int64
}

// NewThumbnailStore creates a store of at most capacity in-memory previews.
// remote may be nil.
func NewThumbnailStore(capacity int, remote Remote, ttl time.Duration, m *metrics.Metrics) *ThumbnailStore {
	return &ThumbnailStore{
		mem: NewLRU(capacity, WithEvictCallback(func(string, []byte) {
			m.CacheEvicted(thumbnailCacheName)
		})),
		remote:  remote,
		ttl:     ttl,
		metrics: m,
		logger:  slog.Default().With("component", "thumbnail-cache"),
	}
}

func (s *ThumbnailStore) Get(ctx context.Context, docKey string) ([]byte, bool) {
	if data, ok := s.mem.Get(docKey); ok {
		s.recordLookup(true)
		return data, true
	}
	if s.remote == nil {
		s.recordLookup(false)
		return nil, false
	}
	key := remoteKey(docKey)
	data, err := s.remote.GetBytes(ctx, key)
	if err != nil {
		if !pkgredis.IsNilError(err) {
			s.logger.Error("remote thumbnail get failed", "key", key, "error", err)
		}
		s.recordLookup(false)
		return nil, false
	}
	s.mem.Set(docKey, data)
	s.recordLookup(true)
	s.logger.Debug("remote thumbnail hit", "document", docKey)
	return data, true
}

func (s *ThumbnailStore) Set(ctx context.Context, docKey string, data []byte) {
	s.mem.Set(docKey, data)
	s.metrics.CacheSize(thumbnailCacheName, s.mem.Len())
	if s.remote == nil {
		return
	}
	if err := s.remote.Set(ctx, remoteKey(docKey), data, s.ttl); err != nil {
		s.logger.Error("remote thumbnail set failed", "document", docKey, "error", err)
	}
}

// GetOrCompute returns the cached preview for docKey or runs computeFn once for
// all concurrent callers. The boolean reports a cache hit. The shared
// computation outlives any single caller: a caller whose ctx ends returns
// ctx.Err() while the others keep waiting.
func (s *ThumbnailStore) GetOrCompute(
	ctx context.Context,
	docKey string,
	computeFn func(ctx context.Context) ([]byte, error),
) ([]byte, bool, error) {
	if data, ok := s.Get(ctx, docKey); ok {
		return data, true, nil
	}
	ch := s.group.DoChan(docKey, func() (interface{}, error) {
		if data, ok := s.mem.Peek(docKey); ok {
			return data, nil
		}
		cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), computeTimeout)
		defer cancel()
		data, err := computeFn(cctx)
		if err != nil {
			return nil, err
		}
		s.Set(cctx, docKey, data)
		return data, nil
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, false, res.Err
		}
		return res.Val.([]byte), false, nil
	case <-ctx.Done():
		return nil, false, ctx.Err()
	}
}

// Invalidate drops every preview from memory and the remote tier.
func (s *ThumbnailStore) Invalidate(ctx context.Context) error {
	s.mem.Clear()
	s.metrics.CacheSize(thumbnailCacheName, 0)
	if s.remote == nil {
		return nil
	}
	deleted, err := s.remote.FlushByPattern(ctx, thumbnailKeyPrefix+"*")
	if err != nil {
		return fmt.Errorf("invalidating thumbnails: %w", err)
	}
	s.logger.Info("thumbnail cache invalidated", "remote_keys_deleted", deleted)
	return nil
}

// ClearMemory drops the in-memory tier only (memory-pressure signal).
func (s *ThumbnailStore) ClearMemory() {
	s.mem.Clear()
	s.metrics.CacheSize(thumbnailCacheName, 0)
}

func (s *ThumbnailStore) Len() int {
	return s.mem.Len()
}

func (s *ThumbnailStore) Cap() int {
	return s.mem.Cap()
}

func (s *ThumbnailStore) Stats() (hits, misses int64) {
	return s.hits.Load(), s.misses.Load()
}

func (s *ThumbnailStore) recordLookup(hit bool) {
	if hit {
		s.hits.Add(1)
	} else {
		s.misses.Add(1)
	}
	s.metrics.CacheLookup(thumbnailCacheName, hit)
}

// remoteKey hashes the document key; keys are arbitrary paths and may be long.
func remoteKey(docKey string) string {
	sum := sha256.Sum256([]byte(docKey))
	return fmt.Sprintf("%s%x", thumbnailKeyPrefix, sum[:16])
}
