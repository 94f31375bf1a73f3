package embedder

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/knoguchi/learnpath/internal/repository/redis"
)

const cacheKeyPrefix = "learnpath:emb:"

// KVStore is the storage the embedding cache needs.
type KVStore interface {
	Get(ctx context.Context, key string) ([]byte, error)
	SetWithTTL(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

// CachedBackend caches embeddings of already-prefixed texts in a key-value store.
// Cache failures are logged and fall through to the inner backend.
type CachedBackend struct {
	inner      Backend
	store      KVStore
	ttl        time.Duration
	cacheTotal *prometheus.CounterVec
	logger     *slog.Logger
}

// NewCachedBackend creates a caching decorator.
// cacheTotal is a counter vec with label "result" ("hit"/"miss"); it may be nil.
func NewCachedBackend(inner Backend, store KVStore, ttl time.Duration, cacheTotal *prometheus.CounterVec, logger *slog.Logger) *CachedBackend {
	if logger == nil {
		logger = slog.Default()
	}
	return &CachedBackend{
		inner:      inner,
		store:      store,
		ttl:        ttl,
		cacheTotal: cacheTotal,
		logger:     logger,
	}
}

// EmbedBatch serves cached vectors and embeds only the misses.
func (c *CachedBackend) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	results := make([][]float32, len(texts))
	keys := make([]string, len(texts))

	var missIdx []int
	var missTexts []string
	for i, text := range texts {
		keys[i] = c.cacheKey(text)
		if vec, ok := c.getFromCache(ctx, keys[i]); ok {
			c.incCache("hit")
			results[i] = vec
			continue
		}
		c.incCache("miss")
		missIdx = append(missIdx, i)
		missTexts = append(missTexts, text)
	}

	if len(missTexts) == 0 {
		return results, nil
	}

	embedded, err := c.inner.EmbedBatch(ctx, missTexts)
	if err != nil {
		return nil, err
	}
	if len(embedded) != len(missTexts) {
		return nil, fmt.Errorf("backend returned %d vectors for %d texts", len(embedded), len(missTexts))
	}

	for j, i := range missIdx {
		results[i] = embedded[j]
		c.putToCache(ctx, keys[i], embedded[j])
	}
	return results, nil
}

// Unwrap returns the backend behind the cache.
func (c *CachedBackend) Unwrap() Backend {
	return c.inner
}

// ModelName returns the inner backend model name.
func (c *CachedBackend) ModelName() string {
	return c.inner.ModelName()
}

func (c *CachedBackend) incCache(result string) {
	if c.cacheTotal != nil {
		c.cacheTotal.WithLabelValues(result).Inc()
	}
}

func (c *CachedBackend) cacheKey(text string) string {
	h := sha256.New()
	h.Write([]byte(c.inner.ModelName()))
	h.Write([]byte{0})
	h.Write([]byte(text))
	return cacheKeyPrefix + hex.EncodeToString(h.Sum(nil))
}

func (c *CachedBackend) getFromCache(ctx context.Context, key string) ([]float32, bool) {
	data, err := c.store.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, redis.ErrKeyNotFound) {
			c.logger.Warn("failed to get cached embedding", "key", key, "error", err)
		}
		return nil, false
	}
	if len(data) == 0 {
		return nil, false
	}

	vec, err := bytesToVector(data)
	if err != nil {
		c.logger.Warn("failed to parse cached embedding", "key", key, "error", err)
		return nil, false
	}
	return vec, true
}

func (c *CachedBackend) putToCache(ctx context.Context, key string, vec []float32) {
	if err := c.store.SetWithTTL(ctx, key, vectorToBytes(vec), c.ttl); err != nil {
		c.logger.Warn("failed to cache embedding", "key", key, "error", err)
	}
}

func vectorToBytes(v []float32) []byte {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

func bytesToVector(data []byte) ([]float32, error) {
	if len(data)%4 != 0 {
		return nil, fmt.Errorf("invalid embedding cache data: len=%d (not multiple of 4)", len(data))
	}
	vec := make([]float32, len(data)/4)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[i*4:]))
	}
	return vec, nil
}

var _ Backend = (*CachedBackend)(nil)
