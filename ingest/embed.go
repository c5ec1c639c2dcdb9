package ingest

import (
	"context"
	"time"

	"github.com/becomeliminal/chat-gateway/logging"
	"github.com/becomeliminal/chat-gateway/memory"
)

// DefaultBatchSize is the number of chunks embedded per request.
const DefaultBatchSize = 32

// EmbedAll embeds texts in batches of batchSize. When a batch fails, its
// texts are embedded one at a time, and a text that still fails gets a zero
// vector. The result always has one vector per text.
func EmbedAll(ctx context.Context, embedder memory.Embedder, texts []string, batchSize int, timeout time.Duration) [][]float32 {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}

	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += batchSize {
		end := min(start+batchSize, len(texts))
		out = append(out, embedBatch(ctx, embedder, texts[start:end], start, timeout)...)
	}
	return out
}

func embedBatch(ctx context.Context, embedder memory.Embedder, batch []string, offset int, timeout time.Duration) [][]float32 {
	logger := logging.From(ctx)

	if be, ok := embedder.(memory.BatchEmbedder); ok {
		callCtx, cancel := withTimeout(ctx, timeout)
		vecs, err := be.EmbedBatch(callCtx, batch)
		cancel()
		if err == nil && len(vecs) == len(batch) {
			return vecs
		}
		logger.Warn("batch embedding failed, falling back to single chunks",
			"offset", offset, "size", len(batch), "error", err)
	}

	vecs := make([][]float32, len(batch))
	for i, text := range batch {
		callCtx, cancel := withTimeout(ctx, timeout)
		vec, err := embedder.Embed(callCtx, text)
		cancel()
		if err != nil {
			logger.Warn("failed to embed chunk, using zero vector", "chunk_index", offset+i, "error", err)
			vec = memory.ZeroVector(embedder.Dimensions())
		}
		vecs[i] = vec
	}
	return vecs
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, d)
}
