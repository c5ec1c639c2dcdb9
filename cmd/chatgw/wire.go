package main

import (
	"context"
	"os"

	"github.com/m-mizutani/goerr/v2"

	"github.com/becomeliminal/chat-gateway/config"
	"github.com/becomeliminal/chat-gateway/core"
	"github.com/becomeliminal/chat-gateway/engine"
	"github.com/becomeliminal/chat-gateway/ingest"
	"github.com/becomeliminal/chat-gateway/llm"
	"github.com/becomeliminal/chat-gateway/llm/claude"
	"github.com/becomeliminal/chat-gateway/llm/gemini"
	"github.com/becomeliminal/chat-gateway/llm/ollama"
	"github.com/becomeliminal/chat-gateway/logging"
	"github.com/becomeliminal/chat-gateway/memory"
	"github.com/becomeliminal/chat-gateway/memory/embedder/cache"
	geminiembed "github.com/becomeliminal/chat-gateway/memory/embedder/gemini"
	"github.com/becomeliminal/chat-gateway/memory/embedder/mock"
	ollamaembed "github.com/becomeliminal/chat-gateway/memory/embedder/ollama"
	"github.com/becomeliminal/chat-gateway/memory/store/chromem"
	"github.com/becomeliminal/chat-gateway/memory/store/sqlite"
)

// app holds the constructed components. Clients are built once here and
// injected everywhere else.
type app struct {
	cfg      *config.Config
	gateway  *engine.Gateway
	memory   *memory.ConversationManager
	messages *sqlite.Store
	vectors  *chromem.Store
	closers  []func()
}

func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

func build(ctx context.Context, cfg *config.Config) (*app, error) {
	logger := logging.From(ctx)
	a := &app{cfg: cfg}

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, goerr.Wrap(err, "failed to create data directory", goerr.V("path", cfg.DataDir), goerr.T(core.TagConfig))
	}

	var geminiClient *gemini.Client
	if cfg.Generator.GeminiAPIKey != "" {
		geminiOpts := []gemini.Option{gemini.WithGenerativeModel(cfg.Generator.GeminiModel)}
		if cfg.Embedder.Provider == "gemini" {
			geminiOpts = append(geminiOpts, gemini.WithEmbeddingModel(cfg.Embedder.Model))
		}
		c, err := gemini.NewClient(ctx, cfg.Generator.GeminiAPIKey, geminiOpts...)
		if err != nil {
			return nil, err
		}
		geminiClient = c
	}

	var claudeClient *claude.Client
	if cfg.Generator.AnthropicAPIKey != "" {
		c, err := claude.New(cfg.Generator.AnthropicAPIKey,
			claude.WithModel(cfg.Generator.ClaudeModel),
			claude.WithMaxTokens(int(cfg.Generator.MaxTokens)),
		)
		if err != nil {
			return nil, err
		}
		claudeClient = c
	}

	embedder, err := newEmbedder(cfg, geminiClient, a)
	if err != nil {
		a.Close()
		return nil, err
	}

	messages, err := sqlite.New(cfg.MessageDBPath())
	if err != nil {
		a.Close()
		return nil, err
	}
	a.messages = messages
	a.closers = append(a.closers, func() { messages.Close() })

	vectors, err := chromem.NewPersistent(cfg.VectorDBPath(), false)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.vectors = vectors
	a.closers = append(a.closers, func() { vectors.Close() })

	a.memory = memory.NewConversationManager(messages, embedder, &memory.Config{
		MaxMessages: cfg.Memory.ContextMessages,
		Retention:   cfg.Memory.Retention,
		CallTimeout: cfg.Memory.CallTimeout,
	})

	pipelineOpts := []ingest.Option{
		ingest.WithChunking(ingest.ChunkOptions{Size: cfg.Ingest.ChunkSize, Overlap: cfg.Ingest.ChunkOverlap}),
		ingest.WithBatchSize(cfg.Ingest.BatchSize),
		ingest.WithCallTimeout(cfg.Memory.CallTimeout),
	}
	if claudeClient != nil {
		pipelineOpts = append(pipelineOpts, ingest.WithOCR(claudeClient))
	} else {
		logger.Info("image uploads disabled, no ANTHROPIC_API_KEY")
	}
	pipeline := ingest.New(vectors, embedder, pipelineOpts...)

	var local llm.Generator
	switch cfg.Generator.Local {
	case "claude":
		if claudeClient == nil {
			a.Close()
			return nil, goerr.New("claude backend requires ANTHROPIC_API_KEY", goerr.T(core.TagConfig))
		}
		local = claudeClient
	case "ollama":
		gen, err := ollama.New(cfg.Generator.OllamaBaseURL, cfg.Generator.OllamaModel)
		if err != nil {
			a.Close()
			return nil, err
		}
		local = gen
	default:
		a.Close()
		return nil, goerr.New("unknown local backend", goerr.V("backend", cfg.Generator.Local), goerr.T(core.TagConfig))
	}

	opts := []engine.Option{
		engine.WithMemory(a.memory),
		engine.WithDocuments(pipeline),
		engine.WithLocalGenerator(local),
		engine.WithTurnTimeout(cfg.Sessions.TurnTimeout),
		engine.WithMaxIdle(cfg.Sessions.MaxIdle),
		engine.WithResults(cfg.Ingest.Results),
		engine.WithCollectionTTL(cfg.Ingest.CollectionTTL),
	}
	if geminiClient != nil {
		opts = append(opts,
			engine.WithConversations(geminiClient.NewConversation),
			engine.WithAnalysisGenerator(geminiClient.Generator()),
		)
	} else {
		logger.Info("text mode disabled, no GEMINI_API_KEY")
	}

	a.gateway = engine.New(opts...)
	logger.Info("gateway ready",
		"embedder", cfg.Embedder.Provider,
		"local_backend", cfg.Generator.Local,
		"data_dir", cfg.DataDir,
	)
	return a, nil
}

// newEmbedder builds the configured provider, wrapped in a cache when
// enabled. Resources that need closing are registered on a.
func newEmbedder(cfg *config.Config, geminiClient *gemini.Client, a *app) (memory.Embedder, error) {
	var inner memory.Embedder
	switch cfg.Embedder.Provider {
	case "mock":
		inner = mock.New(mock.WithDimensions(cfg.Embedder.Dimensions))
	case "ollama":
		e, err := ollamaembed.New(cfg.Generator.OllamaBaseURL, cfg.Embedder.Model, cfg.Embedder.Dimensions)
		if err != nil {
			return nil, err
		}
		inner = e
	case "gemini":
		if geminiClient == nil {
			return nil, goerr.New("gemini embedder requires GEMINI_API_KEY", goerr.T(core.TagConfig))
		}
		inner = geminiembed.New(geminiClient.Models(), geminiClient.EmbeddingModel(), cfg.Embedder.Dimensions)
	case "onnx":
		e, closeFn, err := newONNXEmbedder(cfg)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, closeFn)
		inner = e
	default:
		return nil, goerr.New("unknown embedder provider", goerr.V("provider", cfg.Embedder.Provider), goerr.T(core.TagConfig))
	}

	if cfg.Embedder.CacheSize <= 0 {
		return inner, nil
	}
	cached, err := cache.New(inner, cfg.Embedder.CacheSize)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, cached.Close)
	return cached, nil
}
