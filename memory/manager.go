package memory

import (
	"context"
	"time"

	"github.com/m-mizutani/goerr/v2"

	"github.com/becomeliminal/chat-gateway/core"
	"github.com/becomeliminal/chat-gateway/logging"
)

// ConversationManager is the Manager backed by a MessageStore.
//
// Features:
//   - Embeds every appended message, storing a zero vector when embedding fails
//   - Selects a bounded context window per query
//   - Purges records past the retention period
type ConversationManager struct {
	store    MessageStore
	embedder Embedder // Internal: the gateway never sees this
	selector *Selector
	config   *Config
	now      func() time.Time
}

// Config holds ConversationManager configuration.
type Config struct {
	// MaxMessages is the context window size. Default: 5.
	MaxMessages int

	// Retention is how long records are kept. Default: 24h.
	Retention time.Duration

	// CallTimeout bounds each embedding and storage call. Default: 30s.
	CallTimeout time.Duration
}

// DefaultConfig holds the defaults applied to zero-valued fields.
var DefaultConfig = &Config{
	MaxMessages: DefaultMaxMessages,
	Retention:   24 * time.Hour,
	CallTimeout: 30 * time.Second,
}

// Option configures a ConversationManager.
type Option func(*ConversationManager)

// WithClock replaces the time source used to stamp records and compute
// purge cutoffs.
func WithClock(now func() time.Time) Option {
	return func(m *ConversationManager) {
		m.now = now
	}
}

// NewConversationManager creates a ConversationManager.
func NewConversationManager(store MessageStore, embedder Embedder, config *Config, opts ...Option) *ConversationManager {
	cfg := *DefaultConfig
	if config != nil {
		if config.MaxMessages > 0 {
			cfg.MaxMessages = config.MaxMessages
		}
		if config.Retention > 0 {
			cfg.Retention = config.Retention
		}
		if config.CallTimeout > 0 {
			cfg.CallTimeout = config.CallTimeout
		}
	}

	m := &ConversationManager{
		store:    store,
		embedder: embedder,
		config:   &cfg,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.selector = NewSelector(store, embedder, WithCallTimeout(cfg.CallTimeout))
	return m
}

// Append embeds text and appends it to the session log.
func (m *ConversationManager) Append(ctx context.Context, sessionID string, role core.Role, text string) (*Record, error) {
	if !role.Valid() {
		return nil, goerr.New("invalid role", goerr.V("role", role))
	}

	rec := &Record{
		SessionID: sessionID,
		Role:      role,
		Text:      text,
		Embedding: m.embed(ctx, text),
		Timestamp: m.now(),
	}

	callCtx, cancel := context.WithTimeout(ctx, m.config.CallTimeout)
	defer cancel()

	id, err := m.store.Insert(callCtx, rec)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to store message", goerr.V("session_id", sessionID), goerr.V("role", role))
	}
	rec.ID = id
	return rec, nil
}

// embed returns the embedding for text, or a zero vector of the embedder's
// dimension when embedding fails.
func (m *ConversationManager) embed(ctx context.Context, text string) []float32 {
	callCtx, cancel := context.WithTimeout(ctx, m.config.CallTimeout)
	defer cancel()

	vec, err := m.embedder.Embed(callCtx, text)
	if err != nil {
		logging.From(ctx).Warn("failed to embed message, storing zero vector", "error", err)
		return ZeroVector(m.embedder.Dimensions())
	}
	return vec
}

// Recent returns up to limit records, newest first. Storage failures yield
// an empty result.
func (m *ConversationManager) Recent(ctx context.Context, sessionID string, limit int) []*Record {
	callCtx, cancel := context.WithTimeout(ctx, m.config.CallTimeout)
	defer cancel()

	records, err := m.store.Recent(callCtx, sessionID, limit)
	if err != nil {
		logging.From(ctx).Warn("failed to load recent messages", "session_id", sessionID, "error", err)
		return nil
	}
	return records
}

// Select returns the context window for query.
func (m *ConversationManager) Select(ctx context.Context, sessionID string, query string, maxMessages int) []core.Turn {
	return m.selector.Select(ctx, sessionID, query, maxMessages)
}

// Retrieve returns the formatted context window for query.
func (m *ConversationManager) Retrieve(ctx context.Context, sessionID string, query string) (string, error) {
	turns := m.selector.Select(ctx, sessionID, query, m.config.MaxMessages)

	logging.From(ctx).Debug("retrieved conversation context",
		"session_id", sessionID,
		"turns", len(turns),
		"query", logging.Truncate(query, 50),
	)
	if len(turns) == 0 {
		return "", nil
	}
	return Format(turns), nil
}

// RecordConversation appends the user message and, when non-empty, the
// assistant reply. Both appends are attempted even if the first fails.
func (m *ConversationManager) RecordConversation(ctx context.Context, sessionID string, userMessage string, assistantResponse string) error {
	var firstErr error

	if _, err := m.Append(ctx, sessionID, core.RoleUser, userMessage); err != nil {
		firstErr = err
	}
	if assistantResponse != "" {
		if _, err := m.Append(ctx, sessionID, core.RoleAssistant, assistantResponse); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Purge deletes records older than the configured retention.
func (m *ConversationManager) Purge(ctx context.Context) (int64, error) {
	return m.PurgeOlderThan(ctx, m.config.Retention)
}

// PurgeOlderThan deletes records whose timestamp is more than age ago.
func (m *ConversationManager) PurgeOlderThan(ctx context.Context, age time.Duration) (int64, error) {
	callCtx, cancel := context.WithTimeout(ctx, m.config.CallTimeout)
	defer cancel()

	n, err := m.store.DeleteBefore(callCtx, m.now().Add(-age))
	if err != nil {
		return 0, goerr.Wrap(err, "failed to purge messages", goerr.V("age", age))
	}
	if n > 0 {
		logging.From(ctx).Info("purged old messages", "count", n, "age", age)
	}
	return n, nil
}
