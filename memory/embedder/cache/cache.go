// Package cache memoizes embeddings by content hash.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"

	"github.com/dgraph-io/ristretto"
	"github.com/m-mizutani/goerr/v2"

	"github.com/becomeliminal/chat-gateway/memory"
)

// Embedder wraps another embedder with an in-process LRU-like cache keyed
// by the SHA-256 of the text. Failed embeddings are never cached.
type Embedder struct {
	inner memory.Embedder
	cache *ristretto.Cache
}

var _ memory.BatchEmbedder = (*Embedder)(nil)

// New caches up to maxEntries embeddings from inner.
func New(inner memory.Embedder, maxEntries int64) (*Embedder, error) {
	if maxEntries < 1 {
		maxEntries = 1
	}
	c, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: maxEntries * 10,
		MaxCost:     maxEntries,
		BufferItems: 64,
	})
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create embedding cache")
	}
	return &Embedder{inner: inner, cache: c}, nil
}

// ContentHash is the cache key for text.
func ContentHash(text string) string {
	h := sha256.Sum256([]byte(text))
	return hex.EncodeToString(h[:])
}

// Embed returns the cached embedding for text or computes it.
func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	key := ContentHash(text)
	if v, ok := e.cache.Get(key); ok {
		return v.([]float32), nil
	}

	vec, err := e.inner.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	e.cache.Set(key, vec, 1)
	return vec, nil
}

// EmbedBatch serves cached texts locally and embeds the rest, in one call
// when the inner embedder supports batching.
func (e *Embedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	var missing []int
	for i, text := range texts {
		if v, ok := e.cache.Get(ContentHash(text)); ok {
			out[i] = v.([]float32)
			continue
		}
		missing = append(missing, i)
	}
	if len(missing) == 0 {
		return out, nil
	}

	batch, ok := e.inner.(memory.BatchEmbedder)
	if !ok {
		for _, i := range missing {
			vec, err := e.Embed(ctx, texts[i])
			if err != nil {
				return nil, err
			}
			out[i] = vec
		}
		return out, nil
	}

	pending := make([]string, len(missing))
	for j, i := range missing {
		pending[j] = texts[i]
	}
	vecs, err := batch.EmbedBatch(ctx, pending)
	if err != nil {
		return nil, err
	}
	for j, i := range missing {
		out[i] = vecs[j]
		e.cache.Set(ContentHash(texts[i]), vecs[j], 1)
	}
	return out, nil
}

// Dimensions returns the wrapped embedder's dimension.
func (e *Embedder) Dimensions() int {
	return e.inner.Dimensions()
}

// Wait blocks until pending cache writes are visible.
func (e *Embedder) Wait() {
	e.cache.Wait()
}

// Close releases the cache.
func (e *Embedder) Close() {
	e.cache.Close()
}
