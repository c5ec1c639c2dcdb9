package chromem_test

import (
	"context"
	"testing"

	"github.com/m-mizutani/gt"

	"github.com/becomeliminal/chat-gateway/memory"
	"github.com/becomeliminal/chat-gateway/memory/store/chromem"
)

func newStore(t *testing.T) *chromem.Store {
	t.Helper()
	s, err := chromem.New()
	gt.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func doc(id string, vec []float32, meta map[string]string) memory.VectorDocument {
	return memory.VectorDocument{ID: id, Content: "content of " + id, Embedding: vec, Metadata: meta}
}

func TestUpsertAndQuery(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	gt.NoError(t, s.Upsert(ctx, "col", []memory.VectorDocument{
		doc("a", []float32{1, 0, 0}, map[string]string{"source": "a.txt"}),
		doc("b", []float32{0.7, 0.7, 0}, nil),
		doc("c", []float32{0, 0, 1}, nil),
	}))

	results, err := s.Query(ctx, "col", []float32{1, 0, 0}, 2)
	gt.NoError(t, err)
	gt.A(t, results).Length(2)
	gt.Equal(t, results[0].ID, "a")
	gt.Equal(t, results[1].ID, "b")
	gt.Equal(t, results[0].Metadata["source"], "a.txt")
	gt.Equal(t, results[0].Content, "content of a")

	// More results than documents is clamped.
	results, err = s.Query(ctx, "col", []float32{1, 0, 0}, 10)
	gt.NoError(t, err)
	gt.A(t, results).Length(3)

	n, err := s.Count(ctx, "col")
	gt.NoError(t, err)
	gt.Equal(t, n, 3)
}

func TestQueryMissingCollection(t *testing.T) {
	s := newStore(t)
	results, err := s.Query(context.Background(), "nope", []float32{1}, 3)
	gt.NoError(t, err)
	gt.A(t, results).Length(0)

	n, err := s.Count(context.Background(), "nope")
	gt.NoError(t, err)
	gt.Equal(t, n, 0)
}

func TestZeroEmbeddingScoresZero(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	gt.NoError(t, s.Upsert(ctx, "col", []memory.VectorDocument{
		doc("failed", []float32{0, 0, 0}, nil),
		doc("opposite", []float32{-1, 0, 0}, nil),
		doc("match", []float32{1, 0, 0}, nil),
	}))

	results, err := s.Query(ctx, "col", []float32{1, 0, 0}, 3)
	gt.NoError(t, err)
	gt.A(t, results).Length(3)
	gt.Equal(t, results[0].ID, "match")
	gt.Equal(t, results[1].ID, "failed")
	gt.Equal(t, results[1].Similarity, float32(0))
	gt.True(t, memory.IsZero(results[1].Embedding))
	gt.Equal(t, results[2].ID, "opposite")

	got, err := s.Get(ctx, "col", "failed")
	gt.NoError(t, err)
	gt.True(t, memory.IsZero(got.Embedding))
	_, hasFlag := got.Metadata["__zero_embedding"]
	gt.False(t, hasFlag)
}

func TestGetAndReplace(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	missing, err := s.Get(ctx, "col", "x")
	gt.NoError(t, err)
	gt.True(t, missing == nil)

	gt.NoError(t, s.Upsert(ctx, "col", []memory.VectorDocument{doc("x", []float32{1, 0}, map[string]string{"v": "1"})}))
	gt.NoError(t, s.Upsert(ctx, "col", []memory.VectorDocument{doc("x", []float32{0, 1}, map[string]string{"v": "2"})}))

	got, err := s.Get(ctx, "col", "x")
	gt.NoError(t, err)
	gt.Equal(t, got.Metadata["v"], "2")

	n, err := s.Count(ctx, "col")
	gt.NoError(t, err)
	gt.Equal(t, n, 1)

	missing, err = s.Get(ctx, "col", "y")
	gt.NoError(t, err)
	gt.True(t, missing == nil)
}

func TestDeleteWhere(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	gt.NoError(t, s.Upsert(ctx, "col", []memory.VectorDocument{
		doc("1", []float32{1, 0}, map[string]string{"source": "a.txt"}),
		doc("2", []float32{1, 0}, map[string]string{"source": "a.txt"}),
		doc("3", []float32{1, 0}, map[string]string{"source": "b.txt"}),
	}))

	gt.NoError(t, s.DeleteWhere(ctx, "col", map[string]string{"source": "a.txt"}))
	n, err := s.Count(ctx, "col")
	gt.NoError(t, err)
	gt.Equal(t, n, 1)

	gt.Error(t, s.DeleteWhere(ctx, "col", nil))
	gt.NoError(t, s.DeleteWhere(ctx, "absent", map[string]string{"source": "a.txt"}))
}

func TestCollectionsLifecycle(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	gt.NoError(t, s.EnsureCollection(ctx, "collection_a", map[string]string{"filename": "a.txt", "last_updated": "1"}))
	gt.NoError(t, s.EnsureCollection(ctx, "collection_a", map[string]string{"last_updated": "2"}))
	gt.NoError(t, s.EnsureCollection(ctx, "collection_b", nil))

	infos, err := s.ListCollections(ctx)
	gt.NoError(t, err)
	gt.A(t, infos).Length(2)
	gt.Equal(t, infos[0].Name, "collection_a")
	gt.Equal(t, infos[0].Metadata["filename"], "a.txt")
	gt.Equal(t, infos[0].Metadata["last_updated"], "2")

	gt.NoError(t, s.DeleteCollection(ctx, "collection_a"))
	infos, err = s.ListCollections(ctx)
	gt.NoError(t, err)
	gt.A(t, infos).Length(1)
	gt.Equal(t, infos[0].Name, "collection_b")
}

func TestPersistent(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	s, err := chromem.NewPersistent(dir, false)
	gt.NoError(t, err)
	gt.NoError(t, s.Upsert(ctx, "col", []memory.VectorDocument{doc("a", []float32{1, 0}, nil)}))

	reopened, err := chromem.NewPersistent(dir, false)
	gt.NoError(t, err)
	got, err := reopened.Get(ctx, "col", "a")
	gt.NoError(t, err)
	gt.Equal(t, got.Content, "content of a")
}
