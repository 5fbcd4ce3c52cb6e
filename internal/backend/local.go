package backend

import (
	"context"

	"coursemate/internal/ollama"
)

// LocalBackend serves completions from a local Ollama model.
type LocalBackend struct {
	client *ollama.Client
	model  string
}

// NewLocal creates the local backend for the given client and model name.
func NewLocal(client *ollama.Client, model string) *LocalBackend {
	return &LocalBackend{client: client, model: model}
}

func (b *LocalBackend) Name() Name { return Local }

// Complete runs the prompt through the local model. The aggressive defaults
// (small context window, short outputs) keep latency low on modest hardware.
func (b *LocalBackend) Complete(ctx context.Context, prompt string, opts Options) (string, error) {
	return b.client.Generate(ctx, b.model, prompt, ollama.Options{
		Temperature:   opts.Temperature,
		NumPredict:    opts.MaxTokens,
		TopK:          opts.TopK,
		TopP:          opts.TopP,
		RepeatPenalty: 1.0,
		NumCtx:        512,
		Stop:          opts.Stop,
	})
}
