// Package gemini embeds text with the Gemini embedding API.
package gemini

import (
	"context"

	"github.com/m-mizutani/goerr/v2"
	"google.golang.org/genai"

	"github.com/becomeliminal/chat-gateway/core"
	"github.com/becomeliminal/chat-gateway/memory"
)

// DefaultModel is the embedding model used when none is configured.
const DefaultModel = "gemini-embedding-001"

// EmbedAPI is the subset of *genai.Models used by the embedder.
type EmbedAPI interface {
	EmbedContent(ctx context.Context, model string, contents []*genai.Content, config *genai.EmbedContentConfig) (*genai.EmbedContentResponse, error)
}

// Embedder requests embeddings truncated to a fixed dimension.
type Embedder struct {
	api        EmbedAPI
	model      string
	dimensions int
}

var _ memory.BatchEmbedder = (*Embedder)(nil)

// New creates an embedder. Pass client.Models as api.
func New(api EmbedAPI, model string, dimensions int) *Embedder {
	if model == "" {
		model = DefaultModel
	}
	return &Embedder{api: api, model: model, dimensions: dimensions}
}

// Embed returns the embedding for text.
func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch embeds texts in one request.
func (e *Embedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	contents := make([]*genai.Content, len(texts))
	for i, text := range texts {
		contents[i] = genai.NewContentFromText(text, genai.RoleUser)
	}

	dim := int32(e.dimensions)
	resp, err := e.api.EmbedContent(ctx, e.model, contents, &genai.EmbedContentConfig{
		OutputDimensionality: &dim,
	})
	if err != nil {
		return nil, goerr.Wrap(err, "failed to embed content", goerr.V("model", e.model), goerr.T(core.TagTransient))
	}
	if len(resp.Embeddings) != len(texts) {
		return nil, goerr.New("gemini returned wrong number of embeddings",
			goerr.V("want", len(texts)), goerr.V("got", len(resp.Embeddings)))
	}

	out := make([][]float32, len(texts))
	for i, emb := range resp.Embeddings {
		if emb == nil || len(emb.Values) != e.dimensions {
			return nil, goerr.New("gemini embedding has unexpected dimension", goerr.V("index", i))
		}
		// Truncated embeddings are not unit length.
		out[i] = memory.Normalize(emb.Values)
	}
	return out, nil
}

// Dimensions returns the configured output dimensionality.
func (e *Embedder) Dimensions() int {
	return e.dimensions
}
