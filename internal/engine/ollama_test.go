package engine

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	_ Generator = (*OllamaEngine)(nil)
	_ Embedder  = (*OllamaEngine)(nil)
	_ Local     = (*OllamaEngine)(nil)
	_ Generator = (*OpenRouterGenerator)(nil)
)

func tagsJSON(names ...string) []byte {
	type entry struct {
		Name string `json:"name"`
	}
	type resp struct {
		Models []entry `json:"models"`
	}
	r := resp{}
	for _, n := range names {
		r.Models = append(r.Models, entry{Name: n})
	}
	b, _ := json.Marshal(r)
	return b
}

func TestOllamaEngine_Generate(t *testing.T) {
	var body map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/chat" {
			http.NotFound(w, r)
			return
		}
		json.NewDecoder(r.Body).Decode(&body)
		json.NewEncoder(w).Encode(map[string]any{
			"message": map[string]string{"role": "assistant", "content": "hello from ollama"},
		})
	}))
	defer srv.Close()

	e := NewOllamaEngine(srv.URL, "mistral-nemo", "nomic-embed-text")
	result, err := e.Generate(context.Background(), GenerateRequest{
		System:      "Tu es SorakaBot",
		User:        "What is glaucoma?",
		Temperature: 0.7,
	})
	require.NoError(t, err)
	assert.Equal(t, "hello from ollama", result)

	assert.Equal(t, "mistral-nemo", body["model"])
	msgs := body["messages"].([]any)
	require.Len(t, msgs, 2)
	assert.Equal(t, "system", msgs[0].(map[string]any)["role"])
	assert.Equal(t, "What is glaucoma?", msgs[1].(map[string]any)["content"])
	opts := body["options"].(map[string]any)
	assert.InDelta(t, 0.7, opts["temperature"].(float64), 1e-9)
}

func TestOllamaEngine_Embed(t *testing.T) {
	var model string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/embed" {
			http.NotFound(w, r)
			return
		}
		var req map[string]any
		json.NewDecoder(r.Body).Decode(&req)
		model, _ = req["model"].(string)
		json.NewEncoder(w).Encode(map[string]any{
			"embeddings": [][]float32{{0.1, 0.2, 0.3}},
		})
	}))
	defer srv.Close()

	e := NewOllamaEngine(srv.URL, "", "nomic-embed-text")
	vec, err := e.Embed(context.Background(), "hello")
	require.NoError(t, err)
	assert.Len(t, vec, 3)
	assert.Equal(t, "nomic-embed-text", model)
}

func TestOllamaEngine_IsRunning(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(tagsJSON("mistral-nemo:latest"))
	}))
	defer srv.Close()

	assert.True(t, NewOllamaEngine(srv.URL, "", "").IsRunning(context.Background()))

	down := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	down.Close()
	assert.False(t, NewOllamaEngine(down.URL, "", "").IsRunning(context.Background()))
}

func TestOllamaEngine_HasModel(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(tagsJSON("nomic-embed-text:latest", "mistral-nemo:latest"))
	}))
	defer srv.Close()

	e := NewOllamaEngine(srv.URL, "", "")
	assert.True(t, e.HasModel(context.Background(), "nomic-embed-text"))
	assert.False(t, e.HasModel(context.Background(), "llama3"))
}

func TestOllamaEngine_PullModel(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/pull" {
			http.NotFound(w, r)
			return
		}
		enc := json.NewEncoder(w)
		enc.Encode(map[string]any{"status": "downloading", "total": 1000, "completed": 500})
		enc.Encode(map[string]any{"status": "downloading", "total": 1000, "completed": 1000})
		enc.Encode(map[string]any{"status": "success"})
	}))
	defer srv.Close()

	var updates []PullProgress
	err := NewOllamaEngine(srv.URL, "", "").PullModel(context.Background(), "nomic-embed-text", func(p PullProgress) {
		updates = append(updates, p)
	})
	require.NoError(t, err)
	require.Len(t, updates, 3)
	assert.Equal(t, int64(500), updates[0].Completed)
	assert.Equal(t, "success", updates[2].Status)
}

func TestOpenRouterGenerator_Generate(t *testing.T) {
	var body map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&body)
		w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"Consultez un médecin."}}]}`))
	}))
	defer srv.Close()

	g := NewOpenRouterGenerator("key", srv.URL, "mistralai/mistral-nemo")
	out, err := g.Generate(context.Background(), GenerateRequest{System: "s", User: "u", Temperature: 0.3})
	require.NoError(t, err)
	assert.Equal(t, "Consultez un médecin.", out)
	assert.Equal(t, "mistralai/mistral-nemo", body["model"])
	assert.InDelta(t, 0.3, body["temperature"].(float64), 1e-9)
}
