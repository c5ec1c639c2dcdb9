// Package ingest turns uploaded files into embedded, retrievable chunks.
//
// An upload is classified by the media type guessed from its filename.
// Tabular files are handed back to the caller, images go through OCR, and
// other documents go through a Reader. The extracted text is split into
// overlapping chunks, embedded in batches and stored in a collection named
// after the file, replacing any chunks from an earlier upload of the same
// file. The session is then pointed at that collection.
package ingest

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/m-mizutani/goerr/v2"

	"github.com/becomeliminal/chat-gateway/core"
	"github.com/becomeliminal/chat-gateway/logging"
	"github.com/becomeliminal/chat-gateway/memory"
)

const (
	// DefaultResults is how many chunks Retrieve returns by default.
	DefaultResults = 3

	// NoTextExtracted is returned when OCR finds nothing in an image.
	NoTextExtracted = "No text could be extracted from the image."
)

// Chunk is a stored piece of a document.
type Chunk struct {
	ID        string
	Source    string
	Index     int
	Text      string
	Embedding []float32
	Metadata  map[string]string
	Score     float32
}

// Pipeline ingests documents into a VectorStore.
type Pipeline struct {
	store       memory.VectorStore
	embedder    memory.Embedder
	index       *SessionIndex
	ocr         OCR
	readers     map[string]Reader
	chunking    ChunkOptions
	batchSize   int
	callTimeout time.Duration
	now         func() time.Time

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithOCR enables image uploads.
func WithOCR(ocr OCR) Option {
	return func(p *Pipeline) {
		p.ocr = ocr
	}
}

// WithReader registers r for mediaType, replacing any existing reader.
func WithReader(mediaType string, r Reader) Option {
	return func(p *Pipeline) {
		p.readers[mediaType] = r
	}
}

// WithChunking sets the chunk size and overlap.
func WithChunking(opts ChunkOptions) Option {
	return func(p *Pipeline) {
		p.chunking = opts
	}
}

// WithBatchSize sets how many chunks are embedded per request.
func WithBatchSize(n int) Option {
	return func(p *Pipeline) {
		if n > 0 {
			p.batchSize = n
		}
	}
}

// WithCallTimeout bounds each embedding request.
func WithCallTimeout(d time.Duration) Option {
	return func(p *Pipeline) {
		p.callTimeout = d
	}
}

// WithClock replaces the time source for metadata timestamps.
func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) {
		p.now = now
	}
}

// New creates a Pipeline storing chunks in store.
func New(store memory.VectorStore, embedder memory.Embedder, opts ...Option) *Pipeline {
	p := &Pipeline{
		store:       store,
		embedder:    embedder,
		index:       NewSessionIndex(store, embedder.Dimensions()),
		readers:     make(map[string]Reader),
		chunking:    DefaultChunkOptions(),
		batchSize:   DefaultBatchSize,
		callTimeout: 30 * time.Second,
		now:         time.Now,
		locks:       make(map[string]*sync.Mutex),
	}
	for _, mt := range textMediaTypes {
		p.readers[mt] = TextReader{}
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Ingest processes an upload for sessionID. Tabular uploads are not
// processed and yield core.StatusTabular so the caller can route them.
func (p *Pipeline) Ingest(ctx context.Context, data []byte, filename string, sessionID string) core.Outcome {
	logger := logging.From(ctx).With("session_id", sessionID, "filename", filename)

	mediaType, class := Classify(filename)
	logger.Info("ingesting upload", "media_type", mediaType, "class", class.String(), "bytes", len(data))

	var text string
	switch class {
	case ClassTabular:
		return core.Outcome{Status: core.StatusTabular, Message: "Tabular file detected"}

	case ClassImage:
		if p.ocr == nil {
			return core.Failed("Image uploads are not supported",
				goerr.New("no OCR configured", goerr.V("filename", filename), goerr.T(core.TagUnsupported)))
		}
		extracted, err := p.ocr.ExtractText(ctx, data, mediaType)
		if err != nil {
			logger.Error("failed to extract text from image", "error", err)
			return core.Failed("Failed to extract text from the image", err)
		}
		if strings.TrimSpace(extracted) == "" {
			return core.Succeeded(NoTextExtracted)
		}
		text = extracted

	case ClassDocument:
		reader, ok := p.readers[mediaType]
		if !ok {
			return core.Failed(fmt.Sprintf("Unsupported file type: %s", mediaType),
				goerr.New("no reader for media type", goerr.V("media_type", mediaType), goerr.T(core.TagUnsupported)))
		}
		doc, err := reader.Read(ctx, data, filename, mediaType)
		if err != nil {
			logger.Error("failed to read document", "error", err)
			return core.Failed("Failed to read the document", err)
		}
		text = doc.Text

	default:
		return core.Failed("Unsupported file type",
			goerr.New("unsupported file type", goerr.V("filename", filename), goerr.T(core.TagUnsupported)))
	}

	if strings.TrimSpace(text) == "" {
		return core.Failed("No content could be extracted from the document",
			goerr.New("empty document", goerr.V("filename", filename)))
	}

	n, err := p.persist(ctx, text, filename, mediaType, sessionID)
	if err != nil {
		logger.Error("failed to store document", "error", err)
		return core.Failed("Failed to process the document", err)
	}

	logger.Info("document ingested", "chunks", n)
	return core.Succeeded(fmt.Sprintf("Processed %s into %d chunks", filename, n))
}

// persist chunks, embeds and stores text, then points the session at the
// document's collection. It returns the number of chunks stored.
func (p *Pipeline) persist(ctx context.Context, text, filename, mediaType, sessionID string) (int, error) {
	pieces := Split(text, p.chunking)
	vecs := EmbedAll(ctx, p.embedder, pieces, p.batchSize, p.callTimeout)

	collection := CollectionName(filename)
	now := p.now().UTC()
	stamp := now.Format(time.RFC3339Nano)

	docs := make([]memory.VectorDocument, len(pieces))
	for i, piece := range pieces {
		docs[i] = memory.VectorDocument{
			ID:        uuid.NewString(),
			Content:   piece,
			Embedding: vecs[i],
			Metadata: map[string]string{
				"chunk_index":     strconv.Itoa(i),
				"source":          filename,
				"filename":        filename,
				"file_type":       mediaType,
				"parse_timestamp": stamp,
			},
		}
	}

	unlock := p.lockFor(collection)
	defer unlock()

	if err := p.store.EnsureCollection(ctx, collection, map[string]string{
		"filename":     filename,
		"last_updated": stamp,
	}); err != nil {
		return 0, err
	}
	if err := p.store.DeleteWhere(ctx, collection, map[string]string{"source": filename}); err != nil {
		return 0, goerr.Wrap(err, "failed to remove previous chunks", goerr.V("collection", collection))
	}
	if err := p.store.Upsert(ctx, collection, docs); err != nil {
		return 0, err
	}

	err := p.index.Set(ctx, memory.SessionDocument{
		SessionID:  sessionID,
		Collection: collection,
		Filename:   filename,
		UpdatedAt:  now,
	})
	if err != nil {
		return 0, err
	}
	return len(docs), nil
}

// lockFor serializes replacement of a collection's chunks.
func (p *Pipeline) lockFor(collection string) func() {
	p.mu.Lock()
	l, ok := p.locks[collection]
	if !ok {
		l = &sync.Mutex{}
		p.locks[collection] = l
	}
	p.mu.Unlock()

	l.Lock()
	return l.Unlock
}

// ActiveDocument returns the session's current document mapping, or nil.
func (p *Pipeline) ActiveDocument(ctx context.Context, sessionID string) (*memory.SessionDocument, error) {
	return p.index.Get(ctx, sessionID)
}

// Retrieve returns up to n chunks of the session's active document ranked by
// similarity to query. A session without a document, or any failure, yields
// no chunks.
func (p *Pipeline) Retrieve(ctx context.Context, sessionID string, query string, n int) []Chunk {
	logger := logging.From(ctx).With("session_id", sessionID)
	if n <= 0 {
		n = DefaultResults
	}

	active, err := p.index.Get(ctx, sessionID)
	if err != nil {
		logger.Warn("failed to look up session document", "error", err)
		return nil
	}
	if active == nil {
		return nil
	}

	callCtx, cancel := withTimeout(ctx, p.callTimeout)
	vec, err := p.embedder.Embed(callCtx, query)
	cancel()
	if err != nil {
		logger.Warn("failed to embed query", "error", err)
		return nil
	}

	docs, err := p.store.Query(ctx, active.Collection, vec, n)
	if err != nil {
		logger.Warn("failed to query document collection", "collection", active.Collection, "error", err)
		return nil
	}

	chunks := make([]Chunk, len(docs))
	for i, doc := range docs {
		idx, _ := strconv.Atoi(doc.Metadata["chunk_index"])
		chunks[i] = Chunk{
			ID:        doc.ID,
			Source:    doc.Metadata["source"],
			Index:     idx,
			Text:      doc.Content,
			Embedding: doc.Embedding,
			Metadata:  doc.Metadata,
			Score:     doc.Similarity,
		}
	}
	return chunks
}

// CleanupCollections deletes document collections last updated more than
// olderThan ago and returns how many were removed.
func (p *Pipeline) CleanupCollections(ctx context.Context, olderThan time.Duration) (int, error) {
	infos, err := p.store.ListCollections(ctx)
	if err != nil {
		return 0, goerr.Wrap(err, "failed to list collections")
	}

	cutoff := p.now().Add(-olderThan)
	removed := 0
	for _, info := range infos {
		if !strings.HasPrefix(info.Name, collectionPrefix) {
			continue
		}
		updated, err := time.Parse(time.RFC3339Nano, info.Metadata["last_updated"])
		if err != nil || !updated.Before(cutoff) {
			continue
		}
		if err := p.store.DeleteCollection(ctx, info.Name); err != nil {
			return removed, err
		}
		logging.From(ctx).Info("deleted stale collection", "collection", info.Name, "last_updated", updated)
		removed++
	}
	return removed, nil
}
