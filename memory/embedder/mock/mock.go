// Package mock provides a deterministic embedder for tests and offline runs.
package mock

import (
	"context"
	"hash/fnv"
	"math"

	"github.com/becomeliminal/chat-gateway/memory"
)

// DefaultDimensions matches all-MiniLM-L6-v2.
const DefaultDimensions = 384

// Embedder derives a unit vector from a hash of the text. Equal texts get
// equal vectors; different texts get unrelated ones.
type Embedder struct {
	dimensions int
}

var _ memory.BatchEmbedder = (*Embedder)(nil)

// Option configures the mock embedder.
type Option func(*Embedder)

// WithDimensions sets the vector size.
func WithDimensions(n int) Option {
	return func(e *Embedder) {
		if n > 0 {
			e.dimensions = n
		}
	}
}

// New creates a mock embedder.
func New(opts ...Option) *Embedder {
	e := &Embedder{dimensions: DefaultDimensions}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Embed creates a deterministic embedding from text.
func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	h := fnv.New64a()
	h.Write([]byte(text))
	seed := h.Sum64()

	embedding := make([]float32, e.dimensions)
	for i := range embedding {
		// LCG step, mapped to [-1, 1]
		seed = seed*6364136223846793005 + 1442695040888963407
		embedding[i] = float32(int64(seed)) / float32(math.MaxInt64)
	}

	return memory.Normalize(embedding), nil
}

// EmbedBatch embeds each text in order.
func (e *Embedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		v, err := e.Embed(ctx, text)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

// Dimensions returns the embedding size.
func (e *Embedder) Dimensions() int {
	return e.dimensions
}
