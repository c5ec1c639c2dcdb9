// Package ollama generates text with a local Ollama server.
package ollama

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"

	"github.com/m-mizutani/goerr/v2"
	"github.com/ollama/ollama/api"

	"github.com/becomeliminal/chat-gateway/core"
	"github.com/becomeliminal/chat-gateway/llm"
)

const (
	DefaultBaseURL = "http://localhost:11434"
	DefaultModel   = "llama3.2"

	defaultTemperature = 0.7
	defaultTopP        = 0.9
	defaultTopK        = 40
)

// Generator streams completions from /api/generate.
type Generator struct {
	client *api.Client
	model  string
}

var _ llm.Generator = (*Generator)(nil)

type generatorConfig struct {
	httpClient *http.Client
}

// Option configures the generator.
type Option func(*generatorConfig)

// WithHTTPClient replaces the default HTTP client. Generation is bounded by
// the request context, so the default client has no timeout.
func WithHTTPClient(c *http.Client) Option {
	return func(cfg *generatorConfig) {
		cfg.httpClient = c
	}
}

// New creates a generator for model on the server at baseURL.
func New(baseURL, model string, opts ...Option) (*Generator, error) {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if model == "" {
		model = DefaultModel
	}

	cfg := &generatorConfig{httpClient: &http.Client{}}
	for _, opt := range opts {
		opt(cfg)
	}

	base, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, goerr.Wrap(err, "invalid ollama base URL", goerr.V("url", baseURL), goerr.T(core.TagConfig))
	}

	return &Generator{
		client: api.NewClient(base, cfg.httpClient),
		model:  model,
	}, nil
}

// Stream sends req to Ollama and forwards each response fragment to cb.
func (g *Generator) Stream(ctx context.Context, req llm.Request, cb llm.StreamFunc) (string, error) {
	options := map[string]any{
		"temperature": defaultTemperature,
		"top_p":       defaultTopP,
		"top_k":       defaultTopK,
	}
	if req.Temperature != nil {
		options["temperature"] = *req.Temperature
	}
	if req.MaxTokens > 0 {
		options["num_predict"] = req.MaxTokens
	}

	stream := true
	var text strings.Builder
	err := g.client.Generate(ctx, &api.GenerateRequest{
		Model:   g.model,
		Prompt:  req.Prompt,
		System:  req.System,
		Stream:  &stream,
		Options: options,
	}, func(resp api.GenerateResponse) error {
		if resp.Response != "" {
			text.WriteString(resp.Response)
			llm.Emit(cb, resp.Response, false)
		}
		return nil
	})
	if err != nil {
		return text.String(), g.failure(ctx, err)
	}
	// A canceled read can end the stream without an error.
	if ctxErr := ctx.Err(); ctxErr != nil {
		return text.String(), goerr.Wrap(ctxErr, "ollama generate interrupted", goerr.V("model", g.model))
	}

	llm.Emit(cb, "", true)
	return text.String(), nil
}

func (g *Generator) failure(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return goerr.Wrap(ctxErr, "ollama generate interrupted", goerr.V("model", g.model))
	}

	opts := []goerr.Option{goerr.V("model", g.model), goerr.T(core.TagTransient)}
	var status api.StatusError
	if errors.As(err, &status) {
		opts = append(opts, goerr.V("status", status.StatusCode), goerr.V("message", status.ErrorMessage))
	}
	return goerr.Wrap(err, "ollama generate failed", opts...)
}
