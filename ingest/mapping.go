package ingest

import (
	"context"
	"time"

	"github.com/m-mizutani/goerr/v2"

	"github.com/becomeliminal/chat-gateway/memory"
)

// SessionCollection is the reserved collection holding one mapping document
// per session.
const SessionCollection = "session_metadata"

// SessionIndex records which document collection is active for a session.
// Each session has at most one mapping; Set replaces it.
type SessionIndex struct {
	store memory.VectorStore
	dim   int
}

// NewSessionIndex creates an index whose placeholder embeddings have
// dimension dim.
func NewSessionIndex(store memory.VectorStore, dim int) *SessionIndex {
	if dim < 1 {
		dim = 1
	}
	return &SessionIndex{store: store, dim: dim}
}

// Set upserts the mapping for doc.SessionID.
func (i *SessionIndex) Set(ctx context.Context, doc memory.SessionDocument) error {
	err := i.store.Upsert(ctx, SessionCollection, []memory.VectorDocument{{
		ID:        doc.SessionID,
		Content:   doc.Collection,
		Embedding: memory.ZeroVector(i.dim),
		Metadata: map[string]string{
			"filename":  doc.Filename,
			"timestamp": doc.UpdatedAt.UTC().Format(time.RFC3339Nano),
		},
	}})
	if err != nil {
		return goerr.Wrap(err, "failed to store session mapping", goerr.V("session_id", doc.SessionID))
	}
	return nil
}

// Get returns the mapping for sessionID, or nil if the session has none.
func (i *SessionIndex) Get(ctx context.Context, sessionID string) (*memory.SessionDocument, error) {
	doc, err := i.store.Get(ctx, SessionCollection, sessionID)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to load session mapping", goerr.V("session_id", sessionID))
	}
	if doc == nil || doc.Content == "" {
		return nil, nil
	}

	updated, _ := time.Parse(time.RFC3339Nano, doc.Metadata["timestamp"])
	return &memory.SessionDocument{
		SessionID:  sessionID,
		Collection: doc.Content,
		Filename:   doc.Metadata["filename"],
		UpdatedAt:  updated,
	}, nil
}
