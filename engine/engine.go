// Package engine is the chat gateway. It routes each turn to a generation
// backend, wraps the turn with conversation memory or document retrieval,
// and keeps per-session state alive between turns.
package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/m-mizutani/goerr/v2"

	"github.com/becomeliminal/chat-gateway/core"
	"github.com/becomeliminal/chat-gateway/ingest"
	"github.com/becomeliminal/chat-gateway/llm"
	"github.com/becomeliminal/chat-gateway/logging"
	"github.com/becomeliminal/chat-gateway/memory"
	"github.com/becomeliminal/chat-gateway/sessions"
	"github.com/becomeliminal/chat-gateway/tabular"
)

// Mode selects how a turn is answered.
type Mode string

const (
	// ModeText sends the message to a stateful chat backend.
	ModeText Mode = "text"
	// ModeLocal answers with a generator and semantic conversation memory.
	ModeLocal Mode = "local"
	// ModeRAG answers from the session's uploaded dataset or document.
	ModeRAG Mode = "rag"
)

const DefaultTurnTimeout = 2 * time.Minute

// TurnRequest is one user message.
type TurnRequest struct {
	SessionID string
	Message   string
	Mode      Mode
	// Timeout bounds generation. Zero uses the gateway default.
	Timeout time.Duration
}

// TurnResult is the outcome of a turn and the full reply text.
type TurnResult struct {
	core.Outcome
	Reply string
}

// Session is the per-session state kept between turns.
type Session struct {
	mu      sync.Mutex
	chat    llm.Conversation
	analyst *tabular.Agent
}

// Analyst returns the session's tabular agent, or nil.
func (s *Session) Analyst() *tabular.Agent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.analyst
}

// Gateway serves chat turns and uploads.
type Gateway struct {
	sessions      *sessions.Manager[*Session]
	memory        memory.Manager
	documents     *ingest.Pipeline
	local         llm.Generator
	analysis      llm.Generator
	conversations llm.ConversationFactory

	systemPrompt   string
	turnTimeout    time.Duration
	analysisLimit  time.Duration
	maxIdle        time.Duration
	results        int
	collectionTTL  time.Duration
	sessionOptions []sessions.Option[*Session]
}

// Option configures the gateway.
type Option func(*Gateway)

// WithMemory enables conversation memory for ModeLocal.
func WithMemory(m memory.Manager) Option {
	return func(g *Gateway) {
		g.memory = m
	}
}

// WithDocuments enables uploads and document questions.
func WithDocuments(p *ingest.Pipeline) Option {
	return func(g *Gateway) {
		g.documents = p
	}
}

// WithLocalGenerator sets the backend for ModeLocal and document answers.
func WithLocalGenerator(gen llm.Generator) Option {
	return func(g *Gateway) {
		g.local = gen
	}
}

// WithAnalysisGenerator sets the backend for tabular questions. It defaults
// to the local generator.
func WithAnalysisGenerator(gen llm.Generator) Option {
	return func(g *Gateway) {
		g.analysis = gen
	}
}

// WithConversations enables ModeText.
func WithConversations(f llm.ConversationFactory) Option {
	return func(g *Gateway) {
		g.conversations = f
	}
}

// WithSystemPrompt replaces DefaultSystemPrompt.
func WithSystemPrompt(prompt string) Option {
	return func(g *Gateway) {
		g.systemPrompt = prompt
	}
}

// WithTurnTimeout sets the default generation bound.
func WithTurnTimeout(d time.Duration) Option {
	return func(g *Gateway) {
		if d > 0 {
			g.turnTimeout = d
		}
	}
}

// WithAnalysisTimeout bounds tabular analysis.
func WithAnalysisTimeout(d time.Duration) Option {
	return func(g *Gateway) {
		g.analysisLimit = d
	}
}

// WithMaxIdle sets how long a session may stay unused before the sweep
// that runs on each request removes it.
func WithMaxIdle(d time.Duration) Option {
	return func(g *Gateway) {
		if d > 0 {
			g.maxIdle = d
		}
	}
}

// WithResults sets how many document chunks ground an answer.
func WithResults(n int) Option {
	return func(g *Gateway) {
		if n > 0 {
			g.results = n
		}
	}
}

// WithCollectionTTL sets the age after which CleanupCollections drops a
// document collection.
func WithCollectionTTL(d time.Duration) Option {
	return func(g *Gateway) {
		if d > 0 {
			g.collectionTTL = d
		}
	}
}

// WithSessionOptions passes options to the session table.
func WithSessionOptions(opts ...sessions.Option[*Session]) Option {
	return func(g *Gateway) {
		g.sessionOptions = append(g.sessionOptions, opts...)
	}
}

// New creates a gateway. Backends not configured leave their modes
// unavailable; using them yields a config outcome.
func New(opts ...Option) *Gateway {
	g := &Gateway{
		systemPrompt:  DefaultSystemPrompt,
		turnTimeout:   DefaultTurnTimeout,
		analysisLimit: tabular.DefaultTimeout,
		maxIdle:       sessions.DefaultMaxIdle,
		results:       ingest.DefaultResults,
		collectionTTL: 30 * 24 * time.Hour,
	}
	for _, opt := range opts {
		opt(g)
	}
	if g.analysis == nil {
		g.analysis = g.local
	}
	g.sessions = sessions.NewManager(g.sessionOptions...)
	return g
}

// Sessions returns the session table.
func (g *Gateway) Sessions() *sessions.Manager[*Session] {
	return g.sessions
}

func (g *Gateway) newSession(ctx context.Context, sessionID string) (*Session, error) {
	s := &Session{}
	if g.conversations != nil {
		chat, err := g.conversations(ctx)
		if err != nil {
			return nil, err
		}
		s.chat = chat
	}
	return s, nil
}

// HandleTurn answers req, streaming fragments to cb. A completed reply ends
// with a callback that has done set. The returned result always carries an
// explicit status.
func (g *Gateway) HandleTurn(ctx context.Context, req TurnRequest, cb llm.StreamFunc) *TurnResult {
	logger := logging.From(ctx).With("session_id", req.SessionID, "mode", string(req.Mode))
	ctx = logging.With(ctx, logger)

	g.EvictIdleSessions(g.maxIdle)

	if strings.TrimSpace(req.Message) == "" {
		return failed(ctx, ctx, "Message is empty",
			goerr.New("empty message", goerr.T(core.TagUnsupported)), "")
	}

	handle, release, err := g.sessions.Acquire(ctx, req.SessionID, g.newSession)
	if err != nil {
		logger.Error("failed to open session", "error", err)
		return failed(ctx, ctx, "Failed to start the session", err, "")
	}
	defer release()

	timeout := req.Timeout
	if timeout <= 0 {
		timeout = g.turnTimeout
	}
	turnCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	logger.Info("handling turn", "message", logging.Truncate(req.Message, 50))

	switch req.Mode {
	case ModeText:
		return g.textTurn(ctx, turnCtx, handle.Agent, req.Message, cb)
	case ModeLocal, "":
		return g.localTurn(ctx, turnCtx, req.SessionID, req.Message, cb)
	case ModeRAG:
		return g.answer(ctx, turnCtx, handle.Agent, req.SessionID, req.Message, cb)
	default:
		return failed(ctx, turnCtx, fmt.Sprintf("Unknown mode: %s", req.Mode),
			goerr.New("unknown mode", goerr.V("mode", req.Mode), goerr.T(core.TagUnsupported)), "")
	}
}

func (g *Gateway) textTurn(ctx, turnCtx context.Context, s *Session, message string, cb llm.StreamFunc) *TurnResult {
	if s.chat == nil {
		return failed(ctx, turnCtx, "Text chat is not configured",
			goerr.New("no conversation backend", goerr.T(core.TagConfig)), "")
	}

	reply, err := s.chat.Send(turnCtx, message, cb)
	if err != nil {
		return failed(ctx, turnCtx, "Failed to generate a response", err, reply)
	}
	return &TurnResult{Outcome: core.Succeeded("ok"), Reply: reply}
}

// localTurn selects context, generates, then records the exchange. The user
// message is recorded even when generation fails; the reply only when it
// completes.
func (g *Gateway) localTurn(ctx, turnCtx context.Context, sessionID, message string, cb llm.StreamFunc) *TurnResult {
	logger := logging.From(ctx)
	if g.local == nil {
		return failed(ctx, turnCtx, "Local chat is not configured",
			goerr.New("no local generator", goerr.T(core.TagConfig)), "")
	}

	var history string
	if g.memory != nil {
		var err error
		history, err = g.memory.Retrieve(turnCtx, sessionID, message)
		if err != nil {
			logger.Warn("failed to retrieve conversation context", "error", err)
			history = ""
		}
	}

	buf := llm.NewSentenceBuffer(cb)
	reply, err := g.local.Stream(turnCtx, llm.Request{
		Prompt: buildChatPrompt(g.systemPrompt, history, message),
	}, func(chunk string, done bool) {
		if !done {
			buf.Write(chunk)
		}
	})
	if err == nil {
		buf.Close()
	} else {
		buf.Flush()
	}

	if g.memory != nil {
		// Memory writes outlive a canceled or timed out turn.
		writeCtx := context.WithoutCancel(ctx)
		stored := reply
		if err != nil {
			stored = ""
		}
		if recErr := g.memory.RecordConversation(writeCtx, sessionID, message, stored); recErr != nil {
			logger.Warn("failed to record conversation", "error", recErr)
		}
		if _, purgeErr := g.memory.Purge(writeCtx); purgeErr != nil {
			logger.Warn("failed to purge old messages", "error", purgeErr)
		}
	}

	if err != nil {
		return failed(ctx, turnCtx, "Failed to generate a response", err, reply)
	}
	return &TurnResult{Outcome: core.Succeeded("ok"), Reply: reply}
}

// AnswerWithContext answers question from the session's uploaded dataset or,
// failing that, its active document.
func (g *Gateway) AnswerWithContext(ctx context.Context, sessionID, question string) *TurnResult {
	return g.HandleTurn(ctx, TurnRequest{SessionID: sessionID, Message: question, Mode: ModeRAG}, nil)
}

func (g *Gateway) answer(ctx, turnCtx context.Context, s *Session, sessionID, question string, cb llm.StreamFunc) *TurnResult {
	if analyst := s.Analyst(); analyst != nil {
		reply, err := analyst.Analyze(turnCtx, question, cb)
		if err != nil {
			res := failed(ctx, turnCtx, "Failed to analyze the data", err, reply)
			if res.Status == core.StatusTimeout {
				res.Message = tabular.TimeoutMessage(g.analysisLimit)
			}
			return res
		}
		return &TurnResult{Outcome: core.Succeeded("ok"), Reply: reply}
	}

	if g.documents == nil || g.local == nil {
		return failed(ctx, turnCtx, "Document questions are not configured",
			goerr.New("no document pipeline or generator", goerr.T(core.TagConfig)), "")
	}

	chunks := g.documents.Retrieve(turnCtx, sessionID, question, g.results)
	if len(chunks) == 0 {
		llm.Emit(cb, NoDocumentReply, false)
		llm.Emit(cb, "", true)
		return &TurnResult{Outcome: core.Succeeded("no document"), Reply: NoDocumentReply}
	}

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}
	logging.From(ctx).Debug("answering from document", "chunks", len(chunks), "source", chunks[0].Source)

	reply, err := g.local.Stream(turnCtx, llm.Request{Prompt: buildDocumentPrompt(texts, question)}, cb)
	if err != nil {
		return failed(ctx, turnCtx, "Failed to generate a response", err, reply)
	}
	return &TurnResult{Outcome: core.Succeeded("ok"), Reply: reply}
}

// IngestDocument processes an upload for the session. CSV files are loaded
// into the session's tabular agent instead of the document store.
func (g *Gateway) IngestDocument(ctx context.Context, sessionID string, data []byte, filename string) core.Outcome {
	ctx = logging.With(ctx, logging.From(ctx).With("session_id", sessionID))

	g.EvictIdleSessions(g.maxIdle)

	if g.documents == nil {
		return core.Failed("Uploads are not configured", goerr.New("no document pipeline", goerr.T(core.TagConfig)))
	}

	out := g.documents.Ingest(ctx, data, filename, sessionID)
	if out.Status != core.StatusTabular {
		return out
	}

	if g.analysis == nil {
		return core.Failed("Tabular analysis is not configured",
			goerr.New("no analysis generator", goerr.T(core.TagConfig)))
	}

	handle, release, err := g.sessions.Acquire(ctx, sessionID, g.newSession)
	if err != nil {
		return core.Failed("Failed to start the session", err)
	}
	defer release()

	analyst := tabular.NewAgent(g.analysis, tabular.WithTimeout(g.analysisLimit))
	if err := analyst.Load(ctx, data, filename); err != nil {
		return core.Failed("Failed to load the CSV file", err)
	}

	s := handle.Agent
	s.mu.Lock()
	s.analyst = analyst
	s.mu.Unlock()

	rows, cols := analyst.Dataset().Shape()
	return core.Outcome{
		Status:  core.StatusTabular,
		Message: fmt.Sprintf("Loaded %s with %d rows and %d columns", filename, rows, cols),
	}
}

// EvictIdleSessions removes sessions idle for longer than maxIdle. Every
// turn and upload calls it with the configured bound before touching its own
// session.
func (g *Gateway) EvictIdleSessions(maxIdle time.Duration) int {
	n := g.sessions.Sweep(maxIdle)
	if n > 0 {
		logging.Default().Info("evicted idle sessions", "count", n, "remaining", g.sessions.Len())
	}
	return n
}

// CleanupCollections drops document collections older than the configured
// TTL.
func (g *Gateway) CleanupCollections(ctx context.Context) (int, error) {
	if g.documents == nil {
		return 0, nil
	}
	return g.documents.CleanupCollections(ctx, g.collectionTTL)
}

// failed builds a result for err, distinguishing a turn that ran out of time
// from one whose caller went away.
func failed(ctx, turnCtx context.Context, message string, err error, partial string) *TurnResult {
	out := core.Failed(message, err)
	switch {
	case ctx.Err() != nil && errors.Is(ctx.Err(), context.Canceled):
		out.Status = core.StatusCanceled
		out.Message = "Request canceled"
	case errors.Is(turnCtx.Err(), context.DeadlineExceeded), errors.Is(err, context.DeadlineExceeded):
		out.Status = core.StatusTimeout
		out.Kind = core.KindTimeout
		out.Message = "The response took too long and was stopped"
	}

	logging.From(ctx).Warn("turn failed", "status", string(out.Status), "kind", string(out.Kind), "error", err)
	return &TurnResult{Outcome: out, Reply: partial}
}
