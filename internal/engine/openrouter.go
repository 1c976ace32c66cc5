package engine

import (
	"context"

	"github.com/sorakabot/soraka/internal/proxy"
)

// OpenRouterGenerator adapts the internal/proxy OpenRouter client to the
// Generator interface.
type OpenRouterGenerator struct {
	client *proxy.Client
	model  string
}

// NewOpenRouterGenerator creates a generator for the given model. An empty
// baseURL uses the public OpenRouter endpoint.
func NewOpenRouterGenerator(apiKey, baseURL, model string) *OpenRouterGenerator {
	c := proxy.NewClient(apiKey)
	if baseURL != "" {
		c = proxy.NewClientWithBaseURL(apiKey, baseURL)
	}
	return &OpenRouterGenerator{client: c, model: model}
}

func (g *OpenRouterGenerator) Generate(ctx context.Context, req GenerateRequest) (string, error) {
	temp := req.Temperature
	return g.client.Chat(ctx, proxy.ChatRequest{
		Model: g.model,
		Messages: []proxy.Message{
			{Role: "system", Content: req.System},
			{Role: "user", Content: req.User},
		},
		Temperature: &temp,
	})
}
