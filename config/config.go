// Package config loads gateway settings from an optional YAML file, a .env
// file and the process environment, in that order of increasing precedence.
package config

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/m-mizutani/goerr/v2"
	"gopkg.in/yaml.v3"

	"github.com/becomeliminal/chat-gateway/core"
)

type Config struct {
	LogLevel string `yaml:"log_level"`
	DataDir  string `yaml:"data_dir"`

	Embedder  EmbedderConfig  `yaml:"embedder"`
	Generator GeneratorConfig `yaml:"generator"`
	Memory    MemoryConfig    `yaml:"memory"`
	Sessions  SessionsConfig  `yaml:"sessions"`
	Ingest    IngestConfig    `yaml:"ingest"`
}

type EmbedderConfig struct {
	// Provider is one of "onnx", "ollama", "gemini" or "mock".
	Provider   string `yaml:"provider"`
	Model      string `yaml:"model"`
	Dimensions int    `yaml:"dimensions"`
	CacheSize  int64  `yaml:"cache_size"`

	ONNXModelPath     string `yaml:"onnx_model_path"`
	ONNXTokenizerPath string `yaml:"onnx_tokenizer_path"`
	ONNXLibraryPath   string `yaml:"onnx_library_path"`
}

type GeneratorConfig struct {
	// Local selects the backend for memory-backed chat: "ollama" or "claude".
	Local string `yaml:"local"`

	OllamaBaseURL string `yaml:"ollama_base_url"`
	OllamaModel   string `yaml:"ollama_model"`

	AnthropicAPIKey string `yaml:"-"`
	ClaudeModel     string `yaml:"claude_model"`
	MaxTokens       int64  `yaml:"max_tokens"`

	GeminiAPIKey string `yaml:"-"`
	GeminiModel  string `yaml:"gemini_model"`
}

type MemoryConfig struct {
	ContextMessages int           `yaml:"context_messages"`
	Retention       time.Duration `yaml:"retention"`
	CallTimeout     time.Duration `yaml:"call_timeout"`
}

type SessionsConfig struct {
	MaxIdle     time.Duration `yaml:"max_idle"`
	TurnTimeout time.Duration `yaml:"turn_timeout"`
}

type IngestConfig struct {
	ChunkSize     int           `yaml:"chunk_size"`
	ChunkOverlap  int           `yaml:"chunk_overlap"`
	BatchSize     int           `yaml:"batch_size"`
	Results       int           `yaml:"results"`
	CollectionTTL time.Duration `yaml:"collection_ttl"`
}

// Default returns the settings used when nothing is configured.
func Default() *Config {
	return &Config{
		LogLevel: "info",
		DataDir:  "./data",
		Embedder: EmbedderConfig{
			Provider:   "mock",
			Model:      "nomic-embed-text",
			Dimensions: 384,
			CacheSize:  10_000,
		},
		Generator: GeneratorConfig{
			Local:         "ollama",
			OllamaBaseURL: "http://localhost:11434",
			OllamaModel:   "llama3.2",
			ClaudeModel:   "claude-sonnet-4-20250514",
			MaxTokens:     4096,
			GeminiModel:   "gemini-2.0-flash",
		},
		Memory: MemoryConfig{
			ContextMessages: 5,
			Retention:       24 * time.Hour,
			CallTimeout:     30 * time.Second,
		},
		Sessions: SessionsConfig{
			MaxIdle:     time.Hour,
			TurnTimeout: 2 * time.Minute,
		},
		Ingest: IngestConfig{
			ChunkSize:     1000,
			ChunkOverlap:  200,
			BatchSize:     32,
			Results:       3,
			CollectionTTL: 30 * 24 * time.Hour,
		},
	}
}

// Load builds the configuration. path may be empty, in which case only the
// environment is consulted. A missing .env file is not an error.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, goerr.Wrap(err, "failed to read config file", goerr.V("path", path), goerr.T(core.TagConfig))
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, goerr.Wrap(err, "failed to parse config file", goerr.V("path", path), goerr.T(core.TagConfig))
		}
	}

	cfg.applyEnv()

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	c.LogLevel = envStr("CHATGW_LOG_LEVEL", c.LogLevel)
	c.DataDir = envStr("CHATGW_DATA_DIR", c.DataDir)

	c.Embedder.Provider = envStr("CHATGW_EMBEDDER", c.Embedder.Provider)
	c.Embedder.Model = envStr("CHATGW_EMBED_MODEL", c.Embedder.Model)
	c.Embedder.Dimensions = envInt("CHATGW_EMBED_DIM", c.Embedder.Dimensions)
	c.Embedder.ONNXModelPath = envStr("ONNX_MODEL_PATH", c.Embedder.ONNXModelPath)
	c.Embedder.ONNXTokenizerPath = envStr("ONNX_TOKENIZER_PATH", c.Embedder.ONNXTokenizerPath)
	c.Embedder.ONNXLibraryPath = envStr("ONNX_LIBRARY_PATH", c.Embedder.ONNXLibraryPath)

	c.Generator.Local = envStr("CHATGW_LOCAL_BACKEND", c.Generator.Local)
	c.Generator.OllamaBaseURL = envStr("OLLAMA_BASE_URL", c.Generator.OllamaBaseURL)
	c.Generator.OllamaModel = envStr("OLLAMA_MODEL", c.Generator.OllamaModel)
	c.Generator.AnthropicAPIKey = envStr("ANTHROPIC_API_KEY", c.Generator.AnthropicAPIKey)
	c.Generator.ClaudeModel = envStr("CLAUDE_MODEL", c.Generator.ClaudeModel)
	c.Generator.GeminiAPIKey = envStr("GEMINI_API_KEY", c.Generator.GeminiAPIKey)
	c.Generator.GeminiModel = envStr("GEMINI_MODEL", c.Generator.GeminiModel)

	c.Memory.ContextMessages = envInt("CHATGW_CONTEXT_MESSAGES", c.Memory.ContextMessages)
	c.Memory.Retention = envDuration("CHATGW_RETENTION", c.Memory.Retention)
	c.Memory.CallTimeout = envDuration("CHATGW_CALL_TIMEOUT", c.Memory.CallTimeout)
	c.Sessions.MaxIdle = envDuration("CHATGW_SESSION_MAX_IDLE", c.Sessions.MaxIdle)
	c.Sessions.TurnTimeout = envDuration("CHATGW_TURN_TIMEOUT", c.Sessions.TurnTimeout)
}

func (c *Config) validate() error {
	invalid := func(msg string, kv ...any) error {
		opts := []goerr.Option{goerr.T(core.TagConfig)}
		for i := 0; i+1 < len(kv); i += 2 {
			opts = append(opts, goerr.V(kv[i].(string), kv[i+1]))
		}
		return goerr.New(msg, opts...)
	}

	switch c.Embedder.Provider {
	case "mock", "onnx", "ollama", "gemini":
	default:
		return invalid("unknown embedder provider", "provider", c.Embedder.Provider)
	}
	if c.Embedder.Dimensions < 1 {
		return invalid("embedding dimensions must be positive", "dimensions", c.Embedder.Dimensions)
	}
	if c.Embedder.Provider == "onnx" && c.Embedder.ONNXModelPath == "" {
		return invalid("ONNX_MODEL_PATH is required for the onnx embedder")
	}
	if c.Embedder.Provider == "gemini" && c.Generator.GeminiAPIKey == "" {
		return invalid("GEMINI_API_KEY is required for the gemini embedder")
	}

	switch c.Generator.Local {
	case "ollama":
		if c.Generator.OllamaBaseURL == "" {
			return invalid("OLLAMA_BASE_URL must not be empty")
		}
	case "claude":
		if c.Generator.AnthropicAPIKey == "" {
			return invalid("ANTHROPIC_API_KEY is required for the claude backend")
		}
	default:
		return invalid("unknown local backend", "backend", c.Generator.Local)
	}

	if c.Memory.ContextMessages < 2 {
		return invalid("context_messages must be at least 2", "context_messages", c.Memory.ContextMessages)
	}
	if c.Memory.Retention <= 0 || c.Sessions.MaxIdle <= 0 {
		return invalid("retention and max_idle must be positive")
	}
	if c.Ingest.ChunkSize < 1 || c.Ingest.ChunkOverlap < 0 || c.Ingest.ChunkOverlap >= c.Ingest.ChunkSize {
		return invalid("chunk overlap must be smaller than chunk size",
			"chunk_size", c.Ingest.ChunkSize, "chunk_overlap", c.Ingest.ChunkOverlap)
	}
	if c.Ingest.BatchSize < 1 || c.Ingest.Results < 1 {
		return invalid("batch_size and results must be positive")
	}
	return nil
}

// MessageDBPath is the SQLite file holding the conversation log.
func (c *Config) MessageDBPath() string {
	return filepath.Join(c.DataDir, "conversations.db")
}

// VectorDBPath is the directory holding persisted document collections.
func (c *Config) VectorDBPath() string {
	return filepath.Join(c.DataDir, "vectors")
}

func envStr(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
