// Package gemini implements generation and stateful chat on the Gemini API.
package gemini

import (
	"context"
	"iter"
	"strings"
	"sync"

	"github.com/m-mizutani/goerr/v2"
	"google.golang.org/genai"

	"github.com/becomeliminal/chat-gateway/core"
	"github.com/becomeliminal/chat-gateway/llm"
)

const (
	DefaultModel          = "gemini-2.0-flash"
	DefaultEmbeddingModel = "gemini-embedding-001"
)

// Client wraps a genai client for one generative and one embedding model.
type Client struct {
	client          *genai.Client
	generativeModel string
	embeddingModel  string
}

// Option configures the client.
type Option func(*Client)

func WithGenerativeModel(model string) Option {
	return func(c *Client) {
		if model != "" {
			c.generativeModel = model
		}
	}
}

func WithEmbeddingModel(model string) Option {
	return func(c *Client) {
		if model != "" {
			c.embeddingModel = model
		}
	}
}

// NewClient connects to the Gemini API with apiKey.
func NewClient(ctx context.Context, apiKey string, opts ...Option) (*Client, error) {
	if apiKey == "" {
		return nil, goerr.New("gemini API key is required", goerr.T(core.TagConfig))
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create genai client", goerr.T(core.TagConfig))
	}

	c := &Client{
		client:          client,
		generativeModel: DefaultModel,
		embeddingModel:  DefaultEmbeddingModel,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Models exposes the model service, for the embedder.
func (c *Client) Models() *genai.Models {
	return c.client.Models
}

// EmbeddingModel returns the configured embedding model.
func (c *Client) EmbeddingModel() string {
	return c.embeddingModel
}

// Generator returns a single-prompt generator on the generative model.
func (c *Client) Generator() *Generator {
	return NewGenerator(c.client.Models, c.generativeModel)
}

// NewConversation opens a fresh chat on the generative model.
func (c *Client) NewConversation(ctx context.Context) (llm.Conversation, error) {
	chat, err := c.client.Chats.Create(ctx, c.generativeModel, nil, nil)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create new gemini chat", goerr.T(core.TagTransient))
	}
	return NewConversation(chat), nil
}

// StreamAPI is the subset of *genai.Models used by Generator.
type StreamAPI interface {
	GenerateContentStream(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) iter.Seq2[*genai.GenerateContentResponse, error]
}

// Generator answers single prompts.
type Generator struct {
	api   StreamAPI
	model string
}

var _ llm.Generator = (*Generator)(nil)

func NewGenerator(api StreamAPI, model string) *Generator {
	if model == "" {
		model = DefaultModel
	}
	return &Generator{api: api, model: model}
}

// Stream generates a reply to req.Prompt.
func (g *Generator) Stream(ctx context.Context, req llm.Request, cb llm.StreamFunc) (string, error) {
	config := &genai.GenerateContentConfig{}
	if req.System != "" {
		config.SystemInstruction = genai.NewContentFromText(req.System, "")
	}
	if req.Temperature != nil {
		t := float32(*req.Temperature)
		config.Temperature = &t
	}
	if req.MaxTokens > 0 {
		config.MaxOutputTokens = int32(req.MaxTokens)
	}

	contents := []*genai.Content{genai.NewContentFromText(req.Prompt, genai.RoleUser)}
	return collect(ctx, g.api.GenerateContentStream(ctx, g.model, contents, config), cb)
}

// ChatSession is the subset of *genai.Chat used by Conversation.
type ChatSession interface {
	SendMessageStream(ctx context.Context, parts ...genai.Part) iter.Seq2[*genai.GenerateContentResponse, error]
}

// Conversation is a Gemini chat. The chat keeps its own history.
type Conversation struct {
	mu   sync.Mutex
	chat ChatSession
}

var _ llm.Conversation = (*Conversation)(nil)

func NewConversation(chat ChatSession) *Conversation {
	return &Conversation{chat: chat}
}

// Send streams the reply to message. Turns on one conversation are
// serialized.
func (c *Conversation) Send(ctx context.Context, message string, cb llm.StreamFunc) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return collect(ctx, c.chat.SendMessageStream(ctx, genai.Part{Text: message}), cb)
}

func collect(ctx context.Context, seq iter.Seq2[*genai.GenerateContentResponse, error], cb llm.StreamFunc) (string, error) {
	var text strings.Builder
	for resp, err := range seq {
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return text.String(), goerr.Wrap(ctxErr, "gemini stream interrupted")
			}
			return text.String(), goerr.Wrap(err, "gemini API error", goerr.T(core.TagTransient))
		}
		if chunk := responseText(resp); chunk != "" {
			text.WriteString(chunk)
			llm.Emit(cb, chunk, false)
		}
	}
	if err := ctx.Err(); err != nil {
		return text.String(), goerr.Wrap(err, "gemini stream interrupted")
	}

	llm.Emit(cb, "", true)
	return text.String(), nil
}

// responseText joins the non-thought text parts of the first candidate.
func responseText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return ""
	}
	var b strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if part != nil && !part.Thought {
			b.WriteString(part.Text)
		}
	}
	return b.String()
}
