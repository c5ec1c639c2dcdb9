package memory_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/m-mizutani/gt"

	"github.com/becomeliminal/chat-gateway/core"
	"github.com/becomeliminal/chat-gateway/memory"
	"github.com/becomeliminal/chat-gateway/memory/embedder/mock"
	"github.com/becomeliminal/chat-gateway/memory/store/sqlite"
)

// failingEmbedder fails for every text in fail.
type failingEmbedder struct {
	inner memory.Embedder
	fail  map[string]bool
}

func (e *failingEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if e.fail[text] {
		return nil, errors.New("embedding service unavailable")
	}
	return e.inner.Embed(ctx, text)
}

func (e *failingEmbedder) Dimensions() int { return e.inner.Dimensions() }

type clock struct{ now time.Time }

func (c *clock) Now() time.Time { return c.now }

func newManager(t *testing.T, emb memory.Embedder, c *clock) (*memory.ConversationManager, *sqlite.Store) {
	t.Helper()
	store, err := sqlite.New(filepath.Join(t.TempDir(), "conversations.db"))
	gt.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	return memory.NewConversationManager(store, emb, nil, memory.WithClock(c.Now)), store
}

func TestConversationManager_RecordAndRetrieve(t *testing.T) {
	ctx := context.Background()
	c := &clock{now: t0}
	m, _ := newManager(t, mock.New(), c)

	gt.NoError(t, m.RecordConversation(ctx, "s1", "what is Go?", "A programming language."))
	c.now = c.now.Add(time.Minute)
	gt.NoError(t, m.RecordConversation(ctx, "s1", "who made it?", "Google."))

	formatted, err := m.Retrieve(ctx, "s1", "tell me about Go")
	gt.NoError(t, err)
	gt.Equal(t, formatted, "User: what is Go?\nAssistant: A programming language.\nUser: who made it?\nAssistant: Google.")

	other, err := m.Retrieve(ctx, "s2", "tell me about Go")
	gt.NoError(t, err)
	gt.Equal(t, other, "")
}

func TestConversationManager_EmbeddingFailureStoresZeroVector(t *testing.T) {
	ctx := context.Background()
	emb := &failingEmbedder{inner: mock.New(), fail: map[string]bool{"unlucky": true}}
	m, _ := newManager(t, emb, &clock{now: t0})

	rec, err := m.Append(ctx, "s1", core.RoleUser, "unlucky")
	gt.NoError(t, err)
	gt.A(t, rec.Embedding).Length(384)
	gt.True(t, memory.IsZero(rec.Embedding))

	stored := m.Recent(ctx, "s1", 10)
	gt.A(t, stored).Length(1)
	gt.A(t, stored[0].Embedding).Length(384)
	gt.True(t, memory.IsZero(stored[0].Embedding))
}

func TestConversationManager_SkipsEmptyReply(t *testing.T) {
	ctx := context.Background()
	m, store := newManager(t, mock.New(), &clock{now: t0})

	gt.NoError(t, m.RecordConversation(ctx, "s1", "hello", ""))
	n, err := store.Count(ctx, "s1")
	gt.NoError(t, err)
	gt.Equal(t, n, 1)
}

func TestConversationManager_InvalidRole(t *testing.T) {
	m, _ := newManager(t, mock.New(), &clock{now: t0})
	_, err := m.Append(context.Background(), "s1", core.Role("system"), "x")
	gt.Error(t, err)
}

func TestConversationManager_Purge(t *testing.T) {
	ctx := context.Background()
	c := &clock{now: t0}
	m, _ := newManager(t, mock.New(), c)

	_, err := m.Append(ctx, "s1", core.RoleUser, "ancient")
	gt.NoError(t, err)
	c.now = t0.Add(24 * time.Hour)
	_, err = m.Append(ctx, "s1", core.RoleUser, "recent")
	gt.NoError(t, err)

	// Now the first record is 25h old and the second 1h old.
	c.now = t0.Add(25 * time.Hour)
	n, err := m.Purge(ctx)
	gt.NoError(t, err)
	gt.Equal(t, n, int64(1))

	left := m.Recent(ctx, "s1", 10)
	gt.A(t, left).Length(1)
	gt.Equal(t, left[0].Text, "recent")
}

func TestConversationManager_StoreFailure(t *testing.T) {
	ctx := context.Background()
	store := &fakeStore{err: errors.New("locked")}
	m := memory.NewConversationManager(store, mock.New(), nil)

	gt.Error(t, m.RecordConversation(ctx, "s1", "hi", "hello"))
	gt.A(t, m.Recent(ctx, "s1", 10)).Length(0)

	formatted, err := m.Retrieve(ctx, "s1", "hi")
	gt.NoError(t, err)
	gt.Equal(t, formatted, "")
}

func TestVectorCodec(t *testing.T) {
	v := []float32{0.25, -1.5, 3, 0}
	gt.Equal(t, memory.BytesToFloat32(memory.Float32ToBytes(v)), v)
	gt.A(t, memory.BytesToFloat32([]byte{1, 2, 3})).Length(0)

	gt.Equal(t, memory.CosineSimilarity([]float32{1, 0}, []float32{0, 0}), 0.0)
	gt.Equal(t, memory.CosineSimilarity([]float32{1, 0}, []float32{1}), 0.0)
	gt.Equal(t, memory.CosineSimilarity([]float32{2, 0}, []float32{5, 0}), 1.0)

	n := memory.Normalize([]float32{3, 4})
	gt.Equal(t, n, []float32{0.6, 0.8})
	gt.True(t, memory.IsZero(memory.ZeroVector(4)))
}
