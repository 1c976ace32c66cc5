package engine

import (
	"context"

	"github.com/sorakabot/soraka/internal/ollama"
)

// OllamaEngine adapts the internal/ollama.Client to the Generator, Embedder
// and Local interfaces. Either model may be empty when the engine is only
// used for one role.
type OllamaEngine struct {
	client     *ollama.Client
	chatModel  string
	embedModel string
}

// NewOllamaEngine creates an OllamaEngine backed by an Ollama server at baseURL.
func NewOllamaEngine(baseURL, chatModel, embedModel string) *OllamaEngine {
	return &OllamaEngine{
		client:     ollama.New(baseURL),
		chatModel:  chatModel,
		embedModel: embedModel,
	}
}

func (e *OllamaEngine) Generate(ctx context.Context, req GenerateRequest) (string, error) {
	temp := req.Temperature
	msgs := []ollama.Message{
		{Role: "system", Content: req.System},
		{Role: "user", Content: req.User},
	}
	return e.client.Chat(ctx, e.chatModel, msgs, &ollama.Options{Temperature: &temp})
}

func (e *OllamaEngine) Embed(ctx context.Context, text string) ([]float32, error) {
	return e.client.Embed(ctx, e.embedModel, text)
}

func (e *OllamaEngine) IsRunning(ctx context.Context) bool {
	return e.client.IsRunning(ctx)
}

func (e *OllamaEngine) HasModel(ctx context.Context, name string) bool {
	return e.client.HasModel(ctx, name)
}

func (e *OllamaEngine) PullModel(ctx context.Context, name string, onProgress func(PullProgress)) error {
	var cb func(ollama.PullProgress)
	if onProgress != nil {
		cb = func(p ollama.PullProgress) {
			onProgress(PullProgress{
				Status:    p.Status,
				Total:     p.Total,
				Completed: p.Completed,
			})
		}
	}
	return e.client.PullModel(ctx, name, cb)
}

func (e *OllamaEngine) Warm(ctx context.Context, model string) error {
	_, err := e.client.Chat(ctx, model, []ollama.Message{{Role: "user", Content: "ping"}}, nil)
	return err
}
