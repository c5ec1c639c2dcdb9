// Package claude implements generation, chat and image text extraction on
// the Anthropic Messages API.
package claude

import (
	"context"
	"encoding/base64"
	"strings"
	"sync"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/m-mizutani/goerr/v2"

	"github.com/becomeliminal/chat-gateway/core"
	"github.com/becomeliminal/chat-gateway/ingest"
	"github.com/becomeliminal/chat-gateway/llm"
	"github.com/becomeliminal/chat-gateway/logging"
)

const (
	DefaultModel     = "claude-sonnet-4-20250514"
	DefaultMaxTokens = 4096
)

// ocrPrompt asks for a verbatim transcription of the image.
const ocrPrompt = `Extract all text visible in this image, including handwriting.
Return only the extracted text with line breaks preserved. If there is no text, return nothing.`

// Client talks to Claude.
type Client struct {
	client    *anthropic.Client
	model     string
	maxTokens int64
}

var (
	_ llm.Generator = (*Client)(nil)
	_ ingest.OCR    = (*Client)(nil)
)

// Option configures the client.
type Option func(*clientConfig)

type clientConfig struct {
	model     string
	maxTokens int64
	requestOp []option.RequestOption
}

// WithModel sets the model name.
func WithModel(model string) Option {
	return func(c *clientConfig) {
		if model != "" {
			c.model = model
		}
	}
}

// WithMaxTokens sets the response token limit.
func WithMaxTokens(n int) Option {
	return func(c *clientConfig) {
		if n > 0 {
			c.maxTokens = int64(n)
		}
	}
}

// WithRequestOptions passes options to the underlying SDK client.
func WithRequestOptions(opts ...option.RequestOption) Option {
	return func(c *clientConfig) {
		c.requestOp = append(c.requestOp, opts...)
	}
}

// New creates a client. An empty apiKey is a configuration error.
func New(apiKey string, opts ...Option) (*Client, error) {
	if apiKey == "" {
		return nil, goerr.New("anthropic API key is required", goerr.T(core.TagConfig))
	}

	cfg := &clientConfig{model: DefaultModel, maxTokens: DefaultMaxTokens}
	for _, opt := range opts {
		opt(cfg)
	}

	client := anthropic.NewClient(append([]option.RequestOption{option.WithAPIKey(apiKey)}, cfg.requestOp...)...)
	return &Client{
		client:    &client,
		model:     cfg.model,
		maxTokens: cfg.maxTokens,
	}, nil
}

// Stream generates a reply to req.Prompt.
func (c *Client) Stream(ctx context.Context, req llm.Request, cb llm.StreamFunc) (string, error) {
	params := c.params(req.System, req.MaxTokens, []anthropic.MessageParam{
		anthropic.NewUserMessage(anthropic.NewTextBlock(req.Prompt)),
	})
	if req.Temperature != nil {
		params.Temperature = anthropic.Float(*req.Temperature)
	}
	return c.stream(ctx, params, cb)
}

func (c *Client) params(system string, maxTokens int, messages []anthropic.MessageParam) anthropic.MessageNewParams {
	limit := c.maxTokens
	if maxTokens > 0 {
		limit = int64(maxTokens)
	}
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(c.model),
		MaxTokens: limit,
		Messages:  messages,
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}
	return params
}

// stream runs a streaming request, forwarding text deltas to cb.
func (c *Client) stream(ctx context.Context, params anthropic.MessageNewParams, cb llm.StreamFunc) (string, error) {
	stream := c.client.Messages.NewStreaming(ctx, params)
	defer stream.Close()

	var text strings.Builder
	for stream.Next() {
		event := stream.Current()

		switch evt := event.AsAny().(type) {
		case anthropic.ContentBlockDeltaEvent:
			switch delta := evt.Delta.AsAny().(type) {
			case anthropic.TextDelta:
				text.WriteString(delta.Text)
				llm.Emit(cb, delta.Text, false)
			}
		case anthropic.MessageStopEvent:
			// Stream complete
		}
	}

	if err := stream.Err(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return text.String(), goerr.Wrap(ctxErr, "claude stream interrupted", goerr.V("model", c.model))
		}
		return text.String(), goerr.Wrap(err, "claude API error", goerr.V("model", c.model), goerr.T(core.TagTransient))
	}

	llm.Emit(cb, "", true)
	return text.String(), nil
}

// ExtractText transcribes the text in an image.
func (c *Client) ExtractText(ctx context.Context, data []byte, mediaType string) (string, error) {
	switch mediaType {
	case "image/jpeg", "image/png", "image/gif", "image/webp":
	default:
		return "", goerr.New("image format not supported for text extraction",
			goerr.V("media_type", mediaType), goerr.T(core.TagUnsupported))
	}

	params := c.params("", 0, []anthropic.MessageParam{
		anthropic.NewUserMessage(
			anthropic.NewImageBlockBase64(mediaType, base64.StdEncoding.EncodeToString(data)),
			anthropic.NewTextBlock(ocrPrompt),
		),
	})

	resp, err := c.client.Messages.New(ctx, params)
	if err != nil {
		return "", goerr.Wrap(err, "failed to extract text from image", goerr.T(core.TagTransient))
	}

	var text strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	logging.From(ctx).Debug("extracted image text", "chars", text.Len())
	return strings.TrimSpace(text.String()), nil
}

// Conversation is a multi-turn chat whose history lives in memory.
type Conversation struct {
	client *Client
	system string

	mu      sync.Mutex
	history []anthropic.MessageParam
}

var _ llm.Conversation = (*Conversation)(nil)

// NewConversation opens a chat with an optional system prompt.
func (c *Client) NewConversation(system string) *Conversation {
	return &Conversation{client: c, system: system}
}

// Send streams a reply to message. The exchange is added to the history only
// when the reply completes.
func (cv *Conversation) Send(ctx context.Context, message string, cb llm.StreamFunc) (string, error) {
	cv.mu.Lock()
	defer cv.mu.Unlock()

	messages := append(append([]anthropic.MessageParam{}, cv.history...),
		anthropic.NewUserMessage(anthropic.NewTextBlock(message)))

	reply, err := cv.client.stream(ctx, cv.client.params(cv.system, 0, messages), cb)
	if err != nil {
		return reply, err
	}

	cv.history = append(messages, anthropic.NewAssistantMessage(anthropic.NewTextBlock(reply)))
	return reply, nil
}
