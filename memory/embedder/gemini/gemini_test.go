package gemini_test

import (
	"context"
	"errors"
	"testing"

	"github.com/m-mizutani/gt"
	"google.golang.org/genai"

	"github.com/becomeliminal/chat-gateway/memory/embedder/gemini"
)

type fakeAPI struct {
	model  string
	dim    int32
	values [][]float32
	err    error
}

func (f *fakeAPI) EmbedContent(ctx context.Context, model string, contents []*genai.Content, config *genai.EmbedContentConfig) (*genai.EmbedContentResponse, error) {
	f.model = model
	f.dim = *config.OutputDimensionality
	if f.err != nil {
		return nil, f.err
	}
	resp := &genai.EmbedContentResponse{}
	for i := range contents {
		resp.Embeddings = append(resp.Embeddings, &genai.ContentEmbedding{Values: f.values[i]})
	}
	return resp, nil
}

func TestEmbedBatchNormalizes(t *testing.T) {
	api := &fakeAPI{values: [][]float32{{3, 4}, {0, 2}}}
	e := gemini.New(api, "", 2)

	vecs, err := e.EmbedBatch(context.Background(), []string{"a", "b"})
	gt.NoError(t, err)
	gt.Equal(t, vecs[0], []float32{0.6, 0.8})
	gt.Equal(t, vecs[1], []float32{0, 1})
	gt.Equal(t, api.model, gemini.DefaultModel)
	gt.Equal(t, api.dim, int32(2))
}

func TestEmbedErrors(t *testing.T) {
	_, err := gemini.New(&fakeAPI{err: errors.New("quota")}, "m", 2).Embed(context.Background(), "x")
	gt.Error(t, err)

	_, err = gemini.New(&fakeAPI{values: [][]float32{{1, 2, 3}}}, "m", 2).Embed(context.Background(), "x")
	gt.Error(t, err)
}
