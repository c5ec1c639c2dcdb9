// Package llm defines the generation backends used by the gateway.
//
// A Generator answers a single prompt. A Conversation keeps its own history
// across turns, which is how the text chat mode works. Both stream text
// through a callback of the form func(chunk string, done bool); the final
// call has done set and an empty chunk.
package llm

import (
	"context"
	"strings"
)

// StreamFunc receives generated text as it arrives.
type StreamFunc func(chunk string, done bool)

// Request is one generation call.
type Request struct {
	System      string
	Prompt      string
	Temperature *float64
	MaxTokens   int
}

// Temperature returns a pointer to t for use in Request.
func Temperature(t float64) *float64 {
	return &t
}

// Generator produces a completion for a prompt.
type Generator interface {
	// Stream generates a reply, passing fragments to cb, and returns the
	// full text. A nil cb is allowed.
	Stream(ctx context.Context, req Request, cb StreamFunc) (string, error)
}

// Conversation is a stateful chat that remembers earlier turns.
type Conversation interface {
	Send(ctx context.Context, message string, cb StreamFunc) (string, error)
}

// ConversationFactory opens a new Conversation.
type ConversationFactory func(ctx context.Context) (Conversation, error)

// Generate runs req without streaming.
func Generate(ctx context.Context, g Generator, req Request) (string, error) {
	return g.Stream(ctx, req, nil)
}

// Emit calls cb if it is set.
func Emit(cb StreamFunc, chunk string, done bool) {
	if cb != nil {
		cb(chunk, done)
	}
}

const boundaryChars = ".!?\n`"

// SentenceBuffer collects streamed text and releases it in sentence-sized
// pieces. Buffered text is released as soon as it contains a sentence end
// ('.', '!' or '?'), a newline or a backtick.
type SentenceBuffer struct {
	buf strings.Builder
	out StreamFunc
}

// NewSentenceBuffer creates a buffer that forwards complete pieces to out.
func NewSentenceBuffer(out StreamFunc) *SentenceBuffer {
	return &SentenceBuffer{out: out}
}

// Write appends chunk and flushes if it completes a piece.
func (b *SentenceBuffer) Write(chunk string) {
	b.buf.WriteString(chunk)
	if strings.ContainsAny(chunk, boundaryChars) {
		b.Flush()
	}
}

// Close flushes any remaining text and signals completion.
func (b *SentenceBuffer) Close() {
	b.Flush()
	Emit(b.out, "", true)
}

// Flush releases buffered text without signaling completion.
func (b *SentenceBuffer) Flush() {
	if b.buf.Len() == 0 {
		return
	}
	Emit(b.out, b.buf.String(), false)
	b.buf.Reset()
}
