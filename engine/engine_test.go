package engine_test

import (
	"context"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/m-mizutani/gt"

	"github.com/becomeliminal/chat-gateway/core"
	"github.com/becomeliminal/chat-gateway/engine"
	"github.com/becomeliminal/chat-gateway/ingest"
	"github.com/becomeliminal/chat-gateway/llm"
	"github.com/becomeliminal/chat-gateway/memory"
	"github.com/becomeliminal/chat-gateway/memory/embedder/mock"
	"github.com/becomeliminal/chat-gateway/memory/store/chromem"
	"github.com/becomeliminal/chat-gateway/memory/store/sqlite"
	"github.com/becomeliminal/chat-gateway/sessions"
)

// scriptedGenerator streams fixed fragments and records every prompt.
type scriptedGenerator struct {
	mu      sync.Mutex
	prompts []string
	parts   []string
	block   bool
}

func (g *scriptedGenerator) Stream(ctx context.Context, req llm.Request, cb llm.StreamFunc) (string, error) {
	g.mu.Lock()
	g.prompts = append(g.prompts, req.Prompt)
	g.mu.Unlock()

	if g.block {
		llm.Emit(cb, "partial", false)
		<-ctx.Done()
		return "partial", ctx.Err()
	}

	var text strings.Builder
	for _, p := range g.parts {
		text.WriteString(p)
		llm.Emit(cb, p, false)
	}
	llm.Emit(cb, "", true)
	return text.String(), nil
}

func (g *scriptedGenerator) lastPrompt() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	if len(g.prompts) == 0 {
		return ""
	}
	return g.prompts[len(g.prompts)-1]
}

// echoConversation replies with the number of messages it has seen.
type echoConversation struct {
	seen int
}

func (c *echoConversation) Send(ctx context.Context, message string, cb llm.StreamFunc) (string, error) {
	c.seen++
	reply := strings.Repeat("!", c.seen) + message
	llm.Emit(cb, reply, false)
	llm.Emit(cb, "", true)
	return reply, nil
}

type fixture struct {
	gw       *engine.Gateway
	gen      *scriptedGenerator
	messages *sqlite.Store
}

func newFixture(t *testing.T, opts ...engine.Option) *fixture {
	t.Helper()

	messages, err := sqlite.New(filepath.Join(t.TempDir(), "conversations.db"))
	gt.NoError(t, err)
	t.Cleanup(func() { messages.Close() })

	vectors, err := chromem.New()
	gt.NoError(t, err)

	embedder := mock.New(mock.WithDimensions(32))
	gen := &scriptedGenerator{parts: []string{"Hel", "lo.", " Bye"}}

	base := []engine.Option{
		engine.WithMemory(memory.NewConversationManager(messages, embedder, nil)),
		engine.WithDocuments(ingest.New(vectors, embedder)),
		engine.WithLocalGenerator(gen),
	}
	return &fixture{
		gw:       engine.New(append(base, opts...)...),
		gen:      gen,
		messages: messages,
	}
}

func collect(chunks *[]string, done *int) llm.StreamFunc {
	return func(chunk string, d bool) {
		if d {
			*done++
			return
		}
		*chunks = append(*chunks, chunk)
	}
}

func TestLocalTurnRecordsAndRecalls(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	var chunks []string
	var done int
	res := f.gw.HandleTurn(ctx, engine.TurnRequest{SessionID: "s1", Message: "my name is Ada", Mode: engine.ModeLocal}, collect(&chunks, &done))
	gt.Equal(t, res.Status, core.StatusOK)
	gt.Equal(t, res.Reply, "Hello. Bye")
	gt.Equal(t, chunks, []string{"Hello.", " Bye"})
	gt.Equal(t, done, 1)

	first := f.gen.lastPrompt()
	gt.True(t, strings.HasPrefix(first, engine.DefaultSystemPrompt))
	gt.S(t, first).NotContains("Previous conversation:")
	gt.True(t, strings.HasSuffix(first, "User: my name is Ada\nAssistant:"))

	n, err := f.messages.Count(ctx, "s1")
	gt.NoError(t, err)
	gt.Equal(t, n, 2)

	res = f.gw.HandleTurn(ctx, engine.TurnRequest{SessionID: "s1", Message: "what is my name?", Mode: engine.ModeLocal}, nil)
	gt.True(t, res.OK())

	second := f.gen.lastPrompt()
	gt.S(t, second).Contains("Previous conversation:\nUser: my name is Ada\nAssistant: Hello. Bye")
	gt.S(t, second).Contains("Important: Only use the above context")

	// Sessions do not share memory.
	f.gw.HandleTurn(ctx, engine.TurnRequest{SessionID: "s2", Message: "hi", Mode: engine.ModeLocal}, nil)
	gt.S(t, f.gen.lastPrompt()).NotContains("Ada")
}

func TestLocalTurnTimeout(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.gen.block = true

	var chunks []string
	var done int
	res := f.gw.HandleTurn(ctx, engine.TurnRequest{
		SessionID: "s1",
		Message:   "tell me a long story",
		Mode:      engine.ModeLocal,
		Timeout:   20 * time.Millisecond,
	}, collect(&chunks, &done))
	gt.Equal(t, res.Status, core.StatusTimeout)
	gt.Equal(t, res.Kind, core.KindTimeout)
	gt.Equal(t, res.Reply, "partial")

	// The unfinished sentence still reaches the stream, without completion.
	gt.Equal(t, chunks, []string{"partial"})
	gt.Equal(t, done, 0)

	// The user message is kept; the unfinished reply is not.
	n, err := f.messages.Count(ctx, "s1")
	gt.NoError(t, err)
	gt.Equal(t, n, 1)
}

func TestLocalTurnCanceled(t *testing.T) {
	f := newFixture(t)
	f.gen.block = true

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	res := f.gw.HandleTurn(ctx, engine.TurnRequest{SessionID: "s1", Message: "hello", Mode: engine.ModeLocal}, nil)
	gt.Equal(t, res.Status, core.StatusCanceled)

	n, err := f.messages.Count(context.Background(), "s1")
	gt.NoError(t, err)
	gt.Equal(t, n, 1)
}

func TestTextTurnKeepsConversation(t *testing.T) {
	ctx := context.Background()
	var opened int
	f := newFixture(t, engine.WithConversations(func(ctx context.Context) (llm.Conversation, error) {
		opened++
		return &echoConversation{}, nil
	}))

	res := f.gw.HandleTurn(ctx, engine.TurnRequest{SessionID: "s1", Message: "a", Mode: engine.ModeText}, nil)
	gt.Equal(t, res.Reply, "!a")
	res = f.gw.HandleTurn(ctx, engine.TurnRequest{SessionID: "s1", Message: "b", Mode: engine.ModeText}, nil)
	gt.Equal(t, res.Reply, "!!b")
	gt.Equal(t, opened, 1)

	res = f.gw.HandleTurn(ctx, engine.TurnRequest{SessionID: "s2", Message: "c", Mode: engine.ModeText}, nil)
	gt.Equal(t, res.Reply, "!c")
	gt.Equal(t, opened, 2)
}

func TestUnavailableModes(t *testing.T) {
	ctx := context.Background()
	gw := engine.New()

	res := gw.HandleTurn(ctx, engine.TurnRequest{SessionID: "s1", Message: "hi", Mode: engine.ModeText}, nil)
	gt.Equal(t, res.Status, core.StatusFailed)
	gt.Equal(t, res.Kind, core.KindConfig)

	res = gw.HandleTurn(ctx, engine.TurnRequest{SessionID: "s1", Message: "hi", Mode: engine.ModeLocal}, nil)
	gt.Equal(t, res.Kind, core.KindConfig)

	res = gw.HandleTurn(ctx, engine.TurnRequest{SessionID: "s1", Message: "hi", Mode: "video"}, nil)
	gt.Equal(t, res.Status, core.StatusUnsupported)

	res = gw.HandleTurn(ctx, engine.TurnRequest{SessionID: "s1", Message: "  ", Mode: engine.ModeLocal}, nil)
	gt.Equal(t, res.Status, core.StatusUnsupported)

	out := gw.IngestDocument(ctx, "s1", []byte("text"), "a.txt")
	gt.Equal(t, out.Kind, core.KindConfig)
}

func TestAnswerWithoutDocument(t *testing.T) {
	f := newFixture(t)
	res := f.gw.AnswerWithContext(context.Background(), "s1", "what does the report say?")
	gt.Equal(t, res.Status, core.StatusOK)
	gt.Equal(t, res.Reply, engine.NoDocumentReply)
	gt.A(t, f.gen.prompts).Length(0)
}

func TestAnswerFromDocument(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	out := f.gw.IngestDocument(ctx, "s1", []byte("The launch date is March 3rd."), "plan.md")
	gt.True(t, out.OK())

	res := f.gw.AnswerWithContext(ctx, "s1", "When is the launch?")
	gt.True(t, res.OK())
	gt.Equal(t, res.Reply, "Hello. Bye")

	prompt := f.gen.lastPrompt()
	gt.True(t, strings.HasPrefix(prompt, "Using ONLY the following context, answer the question."))
	gt.S(t, prompt).Contains("Context:\nThe launch date is March 3rd.\n\nQuestion: When is the launch?\n\nAnswer: ")

	// Another session has no document.
	res = f.gw.AnswerWithContext(ctx, "s2", "When is the launch?")
	gt.Equal(t, res.Reply, engine.NoDocumentReply)
}

func TestTabularUpload(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	out := f.gw.IngestDocument(ctx, "s1", []byte("city,population\nOslo,700000\nBergen,285000\n"), "cities.csv")
	gt.Equal(t, out.Status, core.StatusTabular)
	gt.S(t, out.Message).Contains("2 rows and 2 columns")

	res := f.gw.HandleTurn(ctx, engine.TurnRequest{SessionID: "s1", Message: "describe the data", Mode: engine.ModeRAG}, nil)
	gt.True(t, res.OK())
	gt.True(t, strings.HasPrefix(res.Reply, "This dataset has 2 rows and 2 columns."))

	res = f.gw.AnswerWithContext(ctx, "s1", "Which city is larger?")
	gt.True(t, res.OK())
	gt.S(t, f.gen.lastPrompt()).Contains("Which city is larger?")
	gt.S(t, f.gen.lastPrompt()).Contains("Dataset Shape: (2, 2)")

	bad := f.gw.IngestDocument(ctx, "s1", []byte(""), "empty.csv")
	gt.Equal(t, bad.Status, core.StatusUnsupported)
}

func TestEvictIdleSessions(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	var mu sync.Mutex
	clock := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return now
	}
	advance := func(d time.Duration) {
		mu.Lock()
		now = now.Add(d)
		mu.Unlock()
	}

	f := newFixture(t, engine.WithSessionOptions(sessions.WithClock[*engine.Session](clock)))

	f.gw.HandleTurn(ctx, engine.TurnRequest{SessionID: "A", Message: "hi", Mode: engine.ModeLocal}, nil)
	advance(50 * time.Minute)
	f.gw.HandleTurn(ctx, engine.TurnRequest{SessionID: "B", Message: "hi", Mode: engine.ModeLocal}, nil)
	advance(20 * time.Minute)

	gt.Equal(t, f.gw.EvictIdleSessions(time.Hour), 1)
	_, ok := f.gw.Sessions().Get("A")
	gt.False(t, ok)
	_, ok = f.gw.Sessions().Get("B")
	gt.True(t, ok)

	// Evicting a session does not erase its stored conversation.
	n, err := f.messages.Count(ctx, "A")
	gt.NoError(t, err)
	gt.Equal(t, n, 2)
}

func TestRequestsSweepIdleSessions(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	var mu sync.Mutex
	clock := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return now
	}
	advance := func(d time.Duration) {
		mu.Lock()
		now = now.Add(d)
		mu.Unlock()
	}

	f := newFixture(t,
		engine.WithMaxIdle(30*time.Minute),
		engine.WithSessionOptions(sessions.WithClock[*engine.Session](clock)),
	)

	f.gw.HandleTurn(ctx, engine.TurnRequest{SessionID: "A", Message: "hi", Mode: engine.ModeLocal}, nil)
	advance(2 * time.Hour)

	// A turn for another session evicts A before it runs.
	f.gw.HandleTurn(ctx, engine.TurnRequest{SessionID: "B", Message: "hi", Mode: engine.ModeLocal}, nil)
	_, ok := f.gw.Sessions().Get("A")
	gt.False(t, ok)
	gt.Equal(t, f.gw.Sessions().Len(), 1)

	// Within the bound nothing is evicted.
	advance(20 * time.Minute)
	f.gw.HandleTurn(ctx, engine.TurnRequest{SessionID: "C", Message: "hi", Mode: engine.ModeLocal}, nil)
	gt.Equal(t, f.gw.Sessions().Len(), 2)

	// Uploads sweep too.
	advance(45 * time.Minute)
	out := f.gw.IngestDocument(ctx, "D", []byte("Some notes."), "notes.txt")
	gt.True(t, out.OK())
	_, ok = f.gw.Sessions().Get("B")
	gt.False(t, ok)
	_, ok = f.gw.Sessions().Get("C")
	gt.False(t, ok)
}
