package ollama_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/m-mizutani/gt"

	"github.com/becomeliminal/chat-gateway/core"
	"github.com/becomeliminal/chat-gateway/memory/embedder/ollama"
)

func newServer(t *testing.T, dim int) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gt.Equal(t, r.URL.Path, "/api/embed")
		var req struct {
			Model string   `json:"model"`
			Input []string `json:"input"`
		}
		gt.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		if req.Model == "broken" {
			w.WriteHeader(http.StatusNotFound)
			json.NewEncoder(w).Encode(map[string]string{"error": "model not found"})
			return
		}

		out := make([][]float32, len(req.Input))
		for i, text := range req.Input {
			out[i] = make([]float32, dim)
			out[i][0] = float32(len(text))
		}
		json.NewEncoder(w).Encode(map[string]any{"embeddings": out})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newEmbedder(t *testing.T, baseURL, model string, dim int) *ollama.Embedder {
	t.Helper()
	e, err := ollama.New(baseURL, model, dim)
	gt.NoError(t, err)
	return e
}

func TestEmbed(t *testing.T) {
	srv := newServer(t, 4)
	e := newEmbedder(t, srv.URL+"/", "nomic-embed-text", 4)

	v, err := e.Embed(context.Background(), "hello")
	gt.NoError(t, err)
	gt.Equal(t, v, []float32{5, 0, 0, 0})
	gt.Equal(t, e.Dimensions(), 4)
}

func TestEmbedBatch(t *testing.T) {
	srv := newServer(t, 4)
	e := newEmbedder(t, srv.URL, "nomic-embed-text", 4)

	vecs, err := e.EmbedBatch(context.Background(), []string{"a", "bb", "ccc"})
	gt.NoError(t, err)
	gt.A(t, vecs).Length(3)
	gt.Equal(t, vecs[2][0], float32(3))
}

func TestEmbedErrors(t *testing.T) {
	srv := newServer(t, 4)

	_, err := newEmbedder(t, srv.URL, "broken", 4).Embed(context.Background(), "x")
	gt.Error(t, err)
	gt.Equal(t, core.KindOf(err), core.KindTransient)

	// The server answers with 4 dimensions.
	_, err = newEmbedder(t, srv.URL, "nomic-embed-text", 8).Embed(context.Background(), "x")
	gt.Error(t, err)
}
