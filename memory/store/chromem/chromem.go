// Package chromem implements memory.VectorStore on chromem-go, a pure Go
// embedded vector database.
package chromem

import (
	"context"
	"runtime"
	"sort"
	"strings"
	"sync"

	"github.com/m-mizutani/goerr/v2"
	chromem "github.com/philippgille/chromem-go"

	"github.com/becomeliminal/chat-gateway/logging"
	"github.com/becomeliminal/chat-gateway/memory"
)

const (
	// indexCollection holds one descriptor document per collection.
	indexCollection = "__collection_index"

	// zeroKey flags documents whose real embedding is the zero vector.
	// chromem normalizes every vector, so these are stored as a unit
	// placeholder and always score 0.
	zeroKey = "__zero_embedding"
)

// Store wraps a chromem DB.
type Store struct {
	db          *chromem.DB
	collections map[string]*chromem.Collection
	mu          sync.RWMutex
}

var _ memory.VectorStore = (*Store)(nil)

// New creates an in-memory store.
func New() (*Store, error) {
	return &Store{
		db:          chromem.NewDB(),
		collections: make(map[string]*chromem.Collection),
	}, nil
}

// NewPersistent opens or creates a store persisted under path.
func NewPersistent(path string, compress bool) (*Store, error) {
	db, err := chromem.NewPersistentDB(path, compress)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to open vector db", goerr.V("path", path))
	}
	return &Store{
		db:          db,
		collections: make(map[string]*chromem.Collection),
	}, nil
}

// getOrCreateCollection returns the named collection, creating it if needed.
func (s *Store) getOrCreateCollection(name string) (*chromem.Collection, error) {
	s.mu.RLock()
	col, exists := s.collections[name]
	s.mu.RUnlock()

	if exists {
		return col, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Double-check after acquiring write lock
	if col, exists := s.collections[name]; exists {
		return col, nil
	}

	// Embeddings are always supplied by the caller, so no embedding func.
	col, err := s.db.GetOrCreateCollection(name, nil, nil)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create collection", goerr.V("collection", name))
	}

	s.collections[name] = col
	return col, nil
}

// lookupCollection returns the named collection or nil without creating it.
func (s *Store) lookupCollection(name string) *chromem.Collection {
	s.mu.RLock()
	col, exists := s.collections[name]
	s.mu.RUnlock()
	if exists {
		return col
	}

	col = s.db.GetCollection(name, nil)
	if col == nil {
		return nil
	}

	s.mu.Lock()
	s.collections[name] = col
	s.mu.Unlock()
	return col
}

// EnsureCollection creates the collection and merges metadata into its
// descriptor.
func (s *Store) EnsureCollection(ctx context.Context, name string, metadata map[string]string) error {
	if _, err := s.getOrCreateCollection(name); err != nil {
		return err
	}

	idx, err := s.getOrCreateCollection(indexCollection)
	if err != nil {
		return err
	}

	merged := map[string]string{}
	if existing, err := idx.GetByID(ctx, name); err == nil {
		for k, v := range existing.Metadata {
			merged[k] = v
		}
	}
	for k, v := range metadata {
		merged[k] = v
	}

	err = idx.AddDocument(ctx, chromem.Document{
		ID:        name,
		Content:   name,
		Embedding: []float32{1},
		Metadata:  merged,
	})
	if err != nil {
		return goerr.Wrap(err, "failed to update collection descriptor", goerr.V("collection", name))
	}
	return nil
}

// Upsert adds documents, replacing any existing document with the same ID.
func (s *Store) Upsert(ctx context.Context, collection string, docs []memory.VectorDocument) error {
	if len(docs) == 0 {
		return nil
	}

	col, err := s.getOrCreateCollection(collection)
	if err != nil {
		return err
	}

	stored := make([]chromem.Document, len(docs))
	for i, doc := range docs {
		stored[i] = toChromem(doc)
	}

	logging.From(ctx).Debug("upserting documents", "collection", collection, "count", len(stored))

	if err := col.AddDocuments(ctx, stored, runtime.NumCPU()); err != nil {
		return goerr.Wrap(err, "failed to add documents", goerr.V("collection", collection))
	}
	return nil
}

// Get returns the document with id, or nil when absent.
func (s *Store) Get(ctx context.Context, collection string, id string) (*memory.VectorDocument, error) {
	col := s.lookupCollection(collection)
	if col == nil {
		return nil, nil
	}

	doc, err := col.GetByID(ctx, id)
	if err != nil {
		if isNotFoundError(err) {
			return nil, nil
		}
		return nil, goerr.Wrap(err, "failed to get document", goerr.V("collection", collection), goerr.V("id", id))
	}

	out := fromChromem(doc.ID, doc.Content, doc.Embedding, doc.Metadata, 0)
	return &out, nil
}

// DeleteWhere removes documents whose metadata matches where.
func (s *Store) DeleteWhere(ctx context.Context, collection string, where map[string]string) error {
	if len(where) == 0 {
		return goerr.New("delete requires a filter", goerr.V("collection", collection))
	}
	col := s.lookupCollection(collection)
	if col == nil {
		return nil
	}
	if err := col.Delete(ctx, where, nil); err != nil {
		return goerr.Wrap(err, "failed to delete documents", goerr.V("collection", collection))
	}
	return nil
}

// Query returns up to n documents by cosine similarity, highest first.
// Documents stored with a zero embedding score 0.
func (s *Store) Query(ctx context.Context, collection string, embedding []float32, n int) ([]memory.VectorDocument, error) {
	col := s.lookupCollection(collection)
	if col == nil || n <= 0 || memory.IsZero(embedding) {
		return nil, nil
	}

	// chromem requires nResults <= collection size
	limit := n
	if count := col.Count(); count < limit {
		limit = count
	}
	if limit == 0 {
		return nil, nil
	}

	embedded, err := col.QueryEmbedding(ctx, embedding, limit, map[string]string{zeroKey: "false"}, nil)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to query collection", goerr.V("collection", collection))
	}
	placeholders, err := col.QueryEmbedding(ctx, embedding, limit, map[string]string{zeroKey: "true"}, nil)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to query collection", goerr.V("collection", collection))
	}

	results := make([]memory.VectorDocument, 0, len(embedded)+len(placeholders))
	for _, r := range embedded {
		results = append(results, fromChromem(r.ID, r.Content, r.Embedding, r.Metadata, r.Similarity))
	}
	for _, r := range placeholders {
		results = append(results, fromChromem(r.ID, r.Content, r.Embedding, r.Metadata, 0))
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Similarity > results[j].Similarity
	})
	if len(results) > n {
		results = results[:n]
	}

	logging.From(ctx).Debug("queried collection", "collection", collection, "results", len(results))
	return results, nil
}

// Count returns the number of documents in the collection.
func (s *Store) Count(ctx context.Context, collection string) (int, error) {
	col := s.lookupCollection(collection)
	if col == nil {
		return 0, nil
	}
	return col.Count(), nil
}

// ListCollections returns every user collection with its descriptor metadata.
func (s *Store) ListCollections(ctx context.Context) ([]memory.CollectionInfo, error) {
	idx := s.lookupCollection(indexCollection)

	var infos []memory.CollectionInfo
	for name := range s.db.ListCollections() {
		if name == indexCollection {
			continue
		}
		info := memory.CollectionInfo{Name: name, Metadata: map[string]string{}}
		if idx != nil {
			if doc, err := idx.GetByID(ctx, name); err == nil {
				for k, v := range doc.Metadata {
					info.Metadata[k] = v
				}
			}
		}
		infos = append(infos, info)
	}

	sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })
	return infos, nil
}

// DeleteCollection removes a collection and its descriptor.
func (s *Store) DeleteCollection(ctx context.Context, name string) error {
	s.mu.Lock()
	delete(s.collections, name)
	s.mu.Unlock()

	if err := s.db.DeleteCollection(name); err != nil {
		return goerr.Wrap(err, "failed to delete collection", goerr.V("collection", name))
	}

	if idx := s.lookupCollection(indexCollection); idx != nil {
		if err := idx.Delete(ctx, nil, nil, name); err != nil {
			return goerr.Wrap(err, "failed to delete collection descriptor", goerr.V("collection", name))
		}
	}
	return nil
}

// Close releases resources. Persistent stores write through on every
// change, so there is nothing to flush.
func (s *Store) Close() error {
	return nil
}

func toChromem(doc memory.VectorDocument) chromem.Document {
	metadata := make(map[string]string, len(doc.Metadata)+1)
	for k, v := range doc.Metadata {
		metadata[k] = v
	}

	embedding := doc.Embedding
	if memory.IsZero(embedding) {
		dim := len(embedding)
		if dim == 0 {
			dim = 1
		}
		embedding = make([]float32, dim)
		embedding[0] = 1
		metadata[zeroKey] = "true"
	} else {
		metadata[zeroKey] = "false"
	}

	return chromem.Document{
		ID:        doc.ID,
		Content:   doc.Content,
		Embedding: embedding,
		Metadata:  metadata,
	}
}

func fromChromem(id, content string, embedding []float32, metadata map[string]string, similarity float32) memory.VectorDocument {
	out := memory.VectorDocument{
		ID:         id,
		Content:    content,
		Embedding:  embedding,
		Metadata:   make(map[string]string, len(metadata)),
		Similarity: similarity,
	}
	for k, v := range metadata {
		if k == zeroKey {
			continue
		}
		out.Metadata[k] = v
	}
	if metadata[zeroKey] == "true" {
		out.Embedding = memory.ZeroVector(len(embedding))
	}
	return out
}

// isNotFoundError checks if err reports a missing document.
func isNotFoundError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "not found")
}
