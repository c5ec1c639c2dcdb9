package gemini_test

import (
	"context"
	"errors"
	"iter"
	"testing"

	"github.com/m-mizutani/gt"
	"google.golang.org/genai"

	"github.com/becomeliminal/chat-gateway/core"
	"github.com/becomeliminal/chat-gateway/llm"
	"github.com/becomeliminal/chat-gateway/llm/gemini"
)

func textResponse(text string) *genai.GenerateContentResponse {
	return &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{
			Content: &genai.Content{Role: genai.RoleModel, Parts: []*genai.Part{{Text: text}}},
		}},
	}
}

func sequence(parts []string, err error) iter.Seq2[*genai.GenerateContentResponse, error] {
	return func(yield func(*genai.GenerateContentResponse, error) bool) {
		for _, p := range parts {
			if !yield(textResponse(p), nil) {
				return
			}
		}
		if err != nil {
			yield(nil, err)
		}
	}
}

type fakeModels struct {
	model  string
	config *genai.GenerateContentConfig
	parts  []string
	err    error
}

func (f *fakeModels) GenerateContentStream(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) iter.Seq2[*genai.GenerateContentResponse, error] {
	f.model = model
	f.config = config
	return sequence(f.parts, f.err)
}

// fakeChat echoes how many messages it has seen.
type fakeChat struct {
	history []string
}

func (f *fakeChat) SendMessageStream(ctx context.Context, parts ...genai.Part) iter.Seq2[*genai.GenerateContentResponse, error] {
	f.history = append(f.history, parts[0].Text)
	return sequence([]string{"reply to ", parts[0].Text}, nil)
}

func TestGeneratorStream(t *testing.T) {
	api := &fakeModels{parts: []string{"Hello", " world"}}
	g := gemini.NewGenerator(api, "")

	var chunks []string
	text, err := g.Stream(context.Background(), llm.Request{
		System:      "sys",
		Prompt:      "hi",
		Temperature: llm.Temperature(0.1),
	}, func(c string, done bool) {
		if !done {
			chunks = append(chunks, c)
		}
	})
	gt.NoError(t, err)
	gt.Equal(t, text, "Hello world")
	gt.Equal(t, chunks, []string{"Hello", " world"})
	gt.Equal(t, api.model, gemini.DefaultModel)
	gt.Equal(t, *api.config.Temperature, float32(0.1))
	gt.Equal(t, api.config.SystemInstruction.Parts[0].Text, "sys")
}

func TestGeneratorError(t *testing.T) {
	api := &fakeModels{parts: []string{"partial"}, err: errors.New("quota exceeded")}
	text, err := gemini.NewGenerator(api, "m").Stream(context.Background(), llm.Request{Prompt: "x"}, nil)
	gt.Error(t, err)
	gt.Equal(t, core.KindOf(err), core.KindTransient)
	gt.Equal(t, text, "partial")
}

func TestConversation(t *testing.T) {
	chat := &fakeChat{}
	conv := gemini.NewConversation(chat)

	reply, err := conv.Send(context.Background(), "first", nil)
	gt.NoError(t, err)
	gt.Equal(t, reply, "reply to first")

	_, err = conv.Send(context.Background(), "second", nil)
	gt.NoError(t, err)
	gt.Equal(t, chat.history, []string{"first", "second"})
}

func TestConversationCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := gemini.NewConversation(&fakeChat{}).Send(ctx, "x", nil)
	gt.Error(t, err)
	gt.True(t, errors.Is(err, context.Canceled))
}

func TestNewClientRequiresKey(t *testing.T) {
	_, err := gemini.NewClient(context.Background(), "")
	gt.Error(t, err)
	gt.Equal(t, core.KindOf(err), core.KindConfig)
}
