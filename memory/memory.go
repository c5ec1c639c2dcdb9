package memory

import (
	"context"
	"time"

	"github.com/becomeliminal/chat-gateway/core"
)

// Manager orchestrates memory around a chat turn.
// The gateway decides WHEN memory is used (retrieve before generation,
// record after it); the Manager decides HOW.
type Manager interface {
	// Retrieve returns the formatted context for query, or "" when the
	// session has no usable history.
	Retrieve(ctx context.Context, sessionID string, query string) (string, error)

	// RecordConversation appends a user message and the assistant reply.
	RecordConversation(ctx context.Context, sessionID string, userMessage string, assistantResponse string) error

	// Purge deletes records older than the configured retention.
	Purge(ctx context.Context) (int64, error)
}

// MessageStore is the persistent, append-only message log.
type MessageStore interface {
	// Insert appends rec and returns its assigned ID.
	Insert(ctx context.Context, rec *Record) (int64, error)

	// Recent returns up to limit records for the session, newest first.
	Recent(ctx context.Context, sessionID string, limit int) ([]*Record, error)

	// DeleteBefore removes every record with a timestamp before cutoff.
	DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error)

	Close() error
}

// VectorStore holds named collections of embedded documents.
type VectorStore interface {
	// EnsureCollection creates the collection if needed and merges metadata
	// into its descriptor.
	EnsureCollection(ctx context.Context, name string, metadata map[string]string) error

	// Upsert adds documents, replacing any with the same ID.
	Upsert(ctx context.Context, collection string, docs []VectorDocument) error

	// Get returns the document with id, or nil when it does not exist.
	Get(ctx context.Context, collection string, id string) (*VectorDocument, error)

	// DeleteWhere removes documents whose metadata matches every pair in where.
	DeleteWhere(ctx context.Context, collection string, where map[string]string) error

	// Query returns up to n documents ordered by similarity, highest first.
	Query(ctx context.Context, collection string, embedding []float32, n int) ([]VectorDocument, error)

	// Count returns the number of documents in the collection.
	Count(ctx context.Context, collection string) (int, error)

	ListCollections(ctx context.Context) ([]CollectionInfo, error)
	DeleteCollection(ctx context.Context, name string) error
	Close() error
}

// Embedder converts text to vector embeddings of a fixed dimension.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)

	// Dimensions returns the embedding vector size.
	Dimensions() int
}

// BatchEmbedder is implemented by embedders that can embed several texts in
// one call. The result has one vector per input, in order.
type BatchEmbedder interface {
	Embedder
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// Record is one stored message.
type Record struct {
	ID        int64
	SessionID string
	Role      core.Role
	Text      string
	Embedding []float32
	Timestamp time.Time
}

// Turn converts the record for prompt rendering.
func (r *Record) Turn() core.Turn {
	return core.Turn{Role: r.Role, Text: r.Text, Timestamp: r.Timestamp}
}

// VectorDocument is a document in a VectorStore collection.
type VectorDocument struct {
	ID         string
	Content    string
	Embedding  []float32
	Metadata   map[string]string
	Similarity float32
}

// CollectionInfo describes a collection and its metadata.
type CollectionInfo struct {
	Name     string
	Metadata map[string]string
}

// SessionDocument maps a session to its active document collection.
type SessionDocument struct {
	SessionID  string
	Collection string
	Filename   string
	UpdatedAt  time.Time
}
