package memory

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/becomeliminal/chat-gateway/core"
	"github.com/becomeliminal/chat-gateway/logging"
)

const (
	// DefaultCandidates is how many recent records are considered per query.
	DefaultCandidates = 10
	// DefaultMaxMessages is the context window size when none is given.
	DefaultMaxMessages = 5

	// pinnedRecent records are always part of the window, regardless of score.
	pinnedRecent = 2
)

// Selector picks a bounded, relevance-ranked, chronologically ordered
// context window from a session's message log.
type Selector struct {
	store       MessageStore
	embedder    Embedder
	candidates  int
	callTimeout time.Duration
}

// SelectorOption configures a Selector.
type SelectorOption func(*Selector)

// WithCandidates sets how many recent records are ranked.
func WithCandidates(n int) SelectorOption {
	return func(s *Selector) {
		if n > 0 {
			s.candidates = n
		}
	}
}

// WithCallTimeout bounds each store and embedder call.
func WithCallTimeout(d time.Duration) SelectorOption {
	return func(s *Selector) {
		s.callTimeout = d
	}
}

// NewSelector creates a Selector over store using embedder for the query.
func NewSelector(store MessageStore, embedder Embedder, opts ...SelectorOption) *Selector {
	s := &Selector{
		store:      store,
		embedder:   embedder,
		candidates: DefaultCandidates,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type scored struct {
	rec   *Record
	score float64
}

// Select returns up to maxMessages turns for the session ordered oldest
// first. The two most recent records are always included; the remainder are
// the highest-scoring candidates by cosine similarity to query. Any failure
// yields an empty window.
func (s *Selector) Select(ctx context.Context, sessionID string, query string, maxMessages int) []core.Turn {
	logger := logging.From(ctx).With("session_id", sessionID)

	if maxMessages <= 0 {
		maxMessages = DefaultMaxMessages
	}
	if maxMessages < pinnedRecent {
		maxMessages = pinnedRecent
	}

	records, err := s.recent(ctx, sessionID)
	if err != nil {
		logger.Warn("failed to load recent messages, continuing without context", "error", err)
		return nil
	}
	if len(records) == 0 {
		return nil
	}

	if len(records) <= maxMessages {
		return chronological(records)
	}
	sort.SliceStable(records, func(i, j int) bool { return newer(records[i], records[j]) })

	queryVec, err := s.embed(ctx, query)
	if err != nil {
		logger.Warn("failed to embed query, continuing without context", "error", err)
		return nil
	}

	selected := make([]*Record, 0, maxMessages)
	selected = append(selected, records[:pinnedRecent]...)

	rest := make([]scored, 0, len(records)-pinnedRecent)
	for _, rec := range records[pinnedRecent:] {
		rest = append(rest, scored{rec: rec, score: CosineSimilarity(queryVec, rec.Embedding)})
	}
	sort.SliceStable(rest, func(i, j int) bool {
		if rest[i].score != rest[j].score {
			return rest[i].score > rest[j].score
		}
		return newer(rest[i].rec, rest[j].rec)
	})

	for _, c := range rest[:maxMessages-pinnedRecent] {
		selected = append(selected, c.rec)
	}

	logger.Debug("selected context window",
		"candidates", len(records),
		"selected", len(selected),
		"query", logging.Truncate(query, 50),
	)
	return chronological(selected)
}

// Format renders turns as "<Role>: <text>" lines.
func Format(turns []core.Turn) string {
	lines := make([]string, len(turns))
	for i, t := range turns {
		lines[i] = t.Line()
	}
	return strings.Join(lines, "\n")
}

func (s *Selector) recent(ctx context.Context, sessionID string) ([]*Record, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()
	return s.store.Recent(ctx, sessionID, s.candidates)
}

func (s *Selector) embed(ctx context.Context, text string) ([]float32, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()
	return s.embedder.Embed(ctx, text)
}

func (s *Selector) bound(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.callTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, s.callTimeout)
}

func newer(a, b *Record) bool {
	if !a.Timestamp.Equal(b.Timestamp) {
		return a.Timestamp.After(b.Timestamp)
	}
	return a.ID > b.ID
}

func chronological(records []*Record) []core.Turn {
	sorted := make([]*Record, len(records))
	copy(sorted, records)
	sort.SliceStable(sorted, func(i, j int) bool {
		return newer(sorted[j], sorted[i])
	})

	turns := make([]core.Turn, len(sorted))
	for i, rec := range sorted {
		turns[i] = rec.Turn()
	}
	return turns
}
