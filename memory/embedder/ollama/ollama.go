// Package ollama embeds text through a local Ollama server.
package ollama

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/ollama/ollama/api"

	"github.com/becomeliminal/chat-gateway/core"
	"github.com/becomeliminal/chat-gateway/memory"
)

// Embedder calls Ollama's /api/embed endpoint.
type Embedder struct {
	client     *api.Client
	model      string
	dimensions int
}

var _ memory.BatchEmbedder = (*Embedder)(nil)

type embedderConfig struct {
	httpClient *http.Client
}

// Option configures the embedder.
type Option func(*embedderConfig)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(cfg *embedderConfig) {
		cfg.httpClient = c
	}
}

// New creates an embedder for model producing vectors of size dimensions.
func New(baseURL, model string, dimensions int, opts ...Option) (*Embedder, error) {
	cfg := &embedderConfig{httpClient: &http.Client{Timeout: 60 * time.Second}}
	for _, opt := range opts {
		opt(cfg)
	}

	base, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, goerr.Wrap(err, "invalid ollama base URL", goerr.V("url", baseURL), goerr.T(core.TagConfig))
	}

	return &Embedder{
		client:     api.NewClient(base, cfg.httpClient),
		model:      model,
		dimensions: dimensions,
	}, nil
}

// Embed returns the embedding for text.
func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch embeds texts in a single request.
func (e *Embedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	resp, err := e.client.Embed(ctx, &api.EmbedRequest{Model: e.model, Input: texts})
	if err != nil {
		opts := []goerr.Option{goerr.V("model", e.model), goerr.T(core.TagTransient)}
		var status api.StatusError
		if errors.As(err, &status) {
			opts = append(opts, goerr.V("status", status.StatusCode), goerr.V("message", status.ErrorMessage))
		}
		return nil, goerr.Wrap(err, "ollama embed request failed", opts...)
	}

	if len(resp.Embeddings) != len(texts) {
		return nil, goerr.New("ollama returned wrong number of embeddings",
			goerr.V("want", len(texts)), goerr.V("got", len(resp.Embeddings)))
	}
	for i, v := range resp.Embeddings {
		if len(v) != e.dimensions {
			return nil, goerr.New("ollama embedding has unexpected dimension",
				goerr.V("index", i), goerr.V("want", e.dimensions), goerr.V("got", len(v)))
		}
	}
	return resp.Embeddings, nil
}

// Dimensions returns the configured embedding size.
func (e *Embedder) Dimensions() int {
	return e.dimensions
}
